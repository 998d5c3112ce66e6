package monitor

import (
	"sync"
	"sync/atomic"
	"time"
)

// IntervalController tracks the refresh period. It drops to the floor
// whenever a change is observed and climbs linearly back to the ceiling
// over the ramp window while nothing changes.
type IntervalController struct {
	min  time.Duration
	max  time.Duration
	ramp time.Duration

	current atomic.Int64 // nanoseconds, read by the refresh loop

	mu         sync.Mutex
	lastChange time.Time
}

// NewIntervalController starts at the ceiling with the ramp measured from start.
func NewIntervalController(floor, ceiling, ramp time.Duration, start time.Time) *IntervalController {
	if ceiling < floor {
		ceiling = floor
	}
	c := &IntervalController{
		min:        floor,
		max:        ceiling,
		ramp:       ramp,
		lastChange: start,
	}
	c.current.Store(int64(ceiling))
	return c
}

// Current returns the interval to use for the next refresh tick.
func (c *IntervalController) Current() time.Duration {
	return time.Duration(c.current.Load())
}

// LastChange returns the time of the most recent observed change.
func (c *IntervalController) LastChange() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastChange
}

// Update applies the result of one detection cycle and returns the new interval.
func (c *IntervalController) Update(changed bool, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next time.Duration
	if changed {
		c.lastChange = now
		next = c.min
	} else {
		next = c.intervalAt(now.Sub(c.lastChange))
	}
	c.current.Store(int64(next))
	return next
}

func (c *IntervalController) intervalAt(elapsed time.Duration) time.Duration {
	if elapsed < 0 {
		elapsed = 0
	}
	if c.ramp <= 0 || elapsed >= c.ramp {
		return c.max
	}
	progress := float64(elapsed) / float64(c.ramp)
	return c.min + time.Duration(float64(c.max-c.min)*progress)
}
