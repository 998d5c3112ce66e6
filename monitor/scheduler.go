package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fan-monitor/retry"
)

// EventDevicesUpdate is the event carrying a full, name-ordered snapshot list.
const EventDevicesUpdate = "devices_update"

// Gateway is the upstream account the device states are read from.
type Gateway interface {
	Authenticate(ctx context.Context) error
	FetchDevices(ctx context.Context) (StateTable, error)
}

// Broadcaster delivers snapshots to connected subscribers.
type Broadcaster interface {
	Broadcast(event string, devices []DeviceSnapshot) error
	SendTo(connID string, event string, devices []DeviceSnapshot) error
	HasSubscribers() bool
}

// Options tunes the scheduler. See DefaultOptions for the defaults.
type Options struct {
	MinInterval  time.Duration // refresh period right after a change
	MaxInterval  time.Duration // refresh period when idle; also the staleness limit on connect
	RampDuration time.Duration // time to climb from MinInterval to MaxInterval
	MaxStateAge  time.Duration // refresh even without subscribers once the table is this old
	DetectTick   time.Duration
	FetchTimeout time.Duration

	InitAttempts        int
	InitRetryDelay      time.Duration
	ReinitAfterFailures int // consecutive fetch failures before re-authenticating
}

func DefaultOptions() Options {
	return Options{
		MinInterval:         10 * time.Second,
		MaxInterval:         30 * time.Second,
		RampDuration:        120 * time.Second,
		MaxStateAge:         59 * time.Second,
		DetectTick:          1 * time.Second,
		FetchTimeout:        20 * time.Second,
		InitAttempts:        3,
		InitRetryDelay:      5 * time.Second,
		ReinitAfterFailures: 1,
	}
}

func (o Options) Validate() error {
	switch {
	case o.MinInterval <= 0:
		return fmt.Errorf("min interval must be positive: %v", o.MinInterval)
	case o.MaxInterval < o.MinInterval:
		return fmt.Errorf("max interval %v is below min interval %v", o.MaxInterval, o.MinInterval)
	case o.RampDuration <= 0:
		return fmt.Errorf("ramp duration must be positive: %v", o.RampDuration)
	case o.DetectTick <= 0:
		return fmt.Errorf("detect tick must be positive: %v", o.DetectTick)
	case o.InitAttempts < 1:
		return fmt.Errorf("init attempts must be at least 1: %d", o.InitAttempts)
	}
	return nil
}

// State is the lifecycle of the upstream session.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateReady
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// PollState is a consistent read of the scheduling variables.
type PollState struct {
	CurrentInterval time.Duration
	LastChange      time.Time
	LastRefresh     time.Time
}

// Status is the JSON view served on the status endpoint.
type Status struct {
	State               string     `json:"state"`
	IntervalSeconds     float64    `json:"interval_seconds"`
	LastRefresh         *time.Time `json:"last_refresh"`
	LastChange          time.Time  `json:"last_change"`
	Devices             int        `json:"devices"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
}

// Scheduler owns the State Store and the Interval Controller and runs the
// refresh loop and the detection loop against them.
type Scheduler struct {
	opts        Options
	gateway     Gateway
	broadcaster Broadcaster
	clock       TimeProvider

	store    *Store
	interval *IntervalController
	state    atomic.Int32

	// refreshMu serializes upstream access between the refresh loop and
	// refreshes triggered by connecting subscribers.
	refreshMu     sync.Mutex
	authenticated bool
	failures      int
	failureCount  atomic.Int32

	// baseline is the table most recently delivered to all subscribers.
	baselineMu sync.Mutex
	baseline   StateTable
}

func NewScheduler(gateway Gateway, broadcaster Broadcaster, opts Options, clock TimeProvider) *Scheduler {
	if clock == nil {
		clock = &RealTimeProvider{}
	}
	return &Scheduler{
		opts:        opts,
		gateway:     gateway,
		broadcaster: broadcaster,
		clock:       clock,
		store:       NewStore(clock),
		interval:    NewIntervalController(opts.MinInterval, opts.MaxInterval, opts.RampDuration, clock.Now()),
		baseline:    make(StateTable),
	}
}

func (s *Scheduler) Store() *Store { return s.store }

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) PollState() PollState {
	return PollState{
		CurrentInterval: s.interval.Current(),
		LastChange:      s.interval.LastChange(),
		LastRefresh:     s.store.LastRefresh(),
	}
}

func (s *Scheduler) Status() Status {
	ps := s.PollState()
	st := Status{
		State:               s.State().String(),
		IntervalSeconds:     ps.CurrentInterval.Seconds(),
		LastChange:          ps.LastChange,
		Devices:             s.store.Len(),
		ConsecutiveFailures: int(s.failureCount.Load()),
	}
	if !ps.LastRefresh.IsZero() {
		st.LastRefresh = &ps.LastRefresh
	}
	return st
}

// Snapshot returns the current table ordered by device name.
func (s *Scheduler) Snapshot() []DeviceSnapshot {
	return s.store.GetAll().Sorted()
}

func (s *Scheduler) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		slog.Info("Scheduler state changed", "from", prev.String(), "to", next.String())
	}
}

// Initialize authenticates with the upstream, retrying a bounded number of
// times, and loads the first table, which becomes the detection baseline.
// It returns an *AuthError when every attempt failed; the loops started by
// Run keep retrying afterwards.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if err := s.authenticateLocked(ctx); err != nil {
		return err
	}
	if err := s.refreshLocked(ctx, false); err != nil {
		return err
	}

	s.baselineMu.Lock()
	s.baseline = s.store.GetAll()
	s.baselineMu.Unlock()
	return nil
}

func (s *Scheduler) authenticateLocked(ctx context.Context) error {
	s.setState(StateConnecting)

	attempts := 0
	cfg := retry.Fixed(s.opts.InitAttempts, s.opts.InitRetryDelay)
	cfg.After = s.clock.After
	cfg.OnError = func(attempt int, err error) {
		attempts = attempt
		slog.Error("Upstream authentication attempt failed",
			"attempt", attempt, "max_attempts", s.opts.InitAttempts, "err", err)
	}

	err := retry.Do(ctx, cfg, func() error {
		err := s.callUpstream(ctx, "authenticate", s.gateway.Authenticate)
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// a slow attempt is retried like any other failure
			return fmt.Errorf("authentication timed out after %v", s.opts.FetchTimeout)
		}
		return err
	})
	if err != nil {
		s.authenticated = false
		s.setState(StateDegraded)
		return &AuthError{Attempts: attempts, Err: err}
	}

	s.authenticated = true
	s.setState(StateReady)
	return nil
}

// refreshLocked fetches all devices and stores the merged table.
// When allowAuth is false a missing session yields ErrNotReady instead
// of running the authentication retries.
func (s *Scheduler) refreshLocked(ctx context.Context, allowAuth bool) error {
	if !s.authenticated {
		if !allowAuth {
			return ErrNotReady
		}
		slog.Warn("Upstream session not initialized, attempting initialization")
		if err := s.authenticateLocked(ctx); err != nil {
			return err
		}
	}

	start := s.clock.Now()
	fetched, err := s.fetch(ctx)
	duration := s.clock.Now().Sub(start)
	if err != nil {
		s.failures++
		s.failureCount.Store(int32(s.failures))
		s.setState(StateDegraded)
		slog.Error("Upstream refresh failed",
			"err", err, "consecutive_failures", s.failures, "duration", duration)
		if s.opts.ReinitAfterFailures > 0 && s.failures >= s.opts.ReinitAfterFailures {
			s.authenticated = false
		}
		return err
	}

	s.failures = 0
	s.failureCount.Store(0)
	s.store.ReplaceAll(s.store.GetAll().Merge(fetched))
	s.setState(StateReady)
	slog.Debug("Upstream refresh completed", "duration", duration, "devices", len(fetched))
	return nil
}

func (s *Scheduler) fetch(ctx context.Context) (StateTable, error) {
	var table StateTable
	err := s.callUpstream(ctx, "fetch", func(ctx context.Context) error {
		t, err := s.gateway.FetchDevices(ctx)
		table = t
		return err
	})
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	return table, nil
}

// callUpstream runs fn on its own goroutine so that a gateway that ignores
// its context still cannot hold the caller, and refreshMu, past FetchTimeout.
func (s *Scheduler) callUpstream(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.FetchTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("gateway panic during %s: %v", op, r)
			}
		}()
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}

func (s *Scheduler) refreshDue() bool {
	age := s.clock.Now().Sub(s.store.LastRefresh())
	return age >= s.opts.MaxStateAge || s.broadcaster.HasSubscribers()
}

func (s *Scheduler) isStale() bool {
	return s.clock.Now().Sub(s.store.LastRefresh()) > s.opts.MaxInterval
}

// tick is one iteration of the refresh loop, without the sleep.
func (s *Scheduler) tick(ctx context.Context) {
	if !s.refreshDue() {
		slog.Debug("Skipping refresh, states are fresh and no subscribers are connected")
		return
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	// errors are logged by refreshLocked
	_ = s.refreshLocked(ctx, true)
}

// detectOnce compares the store with the last broadcast table, updates
// the interval and broadcasts on change. It reports whether anything changed.
func (s *Scheduler) detectOnce() bool {
	current := s.store.GetAll()
	if len(current) == 0 {
		return false
	}

	s.baselineMu.Lock()
	defer s.baselineMu.Unlock()

	changed, err := ChangedDevices(s.baseline, current)
	if err != nil {
		slog.Warn("Some devices were excluded from change detection", "err", err)
	}

	now := s.clock.Now()
	if len(changed) == 0 {
		s.interval.Update(false, now)
		return false
	}

	for _, name := range changed {
		slog.Debug("Change detected", "device", name)
	}
	interval := s.interval.Update(true, now)
	if err := s.broadcaster.Broadcast(EventDevicesUpdate, current.Sorted()); err != nil {
		slog.Error("Failed to broadcast device update", "err", err)
	}
	s.baseline = current
	slog.Debug("Changes broadcast", "changed", len(changed), "interval", interval)
	return true
}

// HandleSubscriberConnect delivers the current table to a new subscriber
// and refreshes first-hand when the table is empty or stale.
func (s *Scheduler) HandleSubscriberConnect(ctx context.Context, connID string) error {
	table := s.store.GetAll()
	if len(table) > 0 {
		slog.Debug("Sending existing states", "connID", connID, "devices", len(table))
		if err := s.broadcaster.SendTo(connID, EventDevicesUpdate, table.Sorted()); err != nil {
			return fmt.Errorf("sending existing states: %w", err)
		}
	} else {
		slog.Warn("No existing device states available", "connID", connID)
	}

	if len(table) > 0 && !s.isStale() {
		return nil
	}

	s.refreshMu.Lock()
	refreshed := false
	var err error
	// a loop refresh may have finished while we waited for the lock
	if s.store.Len() == 0 || s.isStale() {
		slog.Debug("Performing immediate refresh", "connID", connID)
		err = s.refreshLocked(ctx, false)
		refreshed = err == nil
	}
	s.refreshMu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotReady) {
			slog.Warn("Skipping immediate refresh", "connID", connID, "err", err)
		} else {
			slog.Error("Failed to refresh devices on connect", "connID", connID, "err", err)
		}
		return nil
	}

	fresh := s.store.GetAll()
	if len(fresh) == 0 {
		slog.Warn("No devices found after refresh", "connID", connID)
		return nil
	}
	if !refreshed {
		return s.broadcaster.SendTo(connID, EventDevicesUpdate, fresh.Sorted())
	}

	s.baselineMu.Lock()
	defer s.baselineMu.Unlock()
	s.baseline = fresh
	slog.Debug("Broadcasting fresh states", "devices", len(fresh))
	return s.broadcaster.Broadcast(EventDevicesUpdate, fresh.Sorted())
}

// Run starts the refresh loop and the detection loop and blocks until
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.refreshLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.detectLoop(ctx)
	}()
	wg.Wait()
}

func (s *Scheduler) refreshLoop(ctx context.Context) {
	slog.Debug("Refresh loop started")
	for {
		start := s.clock.Now()
		s.guard("refresh", func() { s.tick(ctx) })

		interval := s.interval.Current()
		sleep := interval - s.clock.Now().Sub(start)
		if sleep < 0 {
			sleep = 0
		}
		slog.Debug("Sleeping until next refresh", "sleep", sleep, "interval", interval)

		select {
		case <-ctx.Done():
			slog.Debug("Refresh loop stopped")
			return
		case <-s.clock.After(sleep):
		}
	}
}

func (s *Scheduler) detectLoop(ctx context.Context) {
	slog.Debug("Detection loop started")
	for {
		s.guard("detect", func() { s.detectOnce() })

		select {
		case <-ctx.Done():
			slog.Debug("Detection loop stopped")
			return
		case <-s.clock.After(s.opts.DetectTick):
		}
	}
}

// guard keeps a panic in one iteration from ending its loop.
func (s *Scheduler) guard(loop string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered from panic", "loop", loop, "panic", r)
		}
	}()
	fn()
}
