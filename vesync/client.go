// Package vesync reads air purifier states from the VeSync cloud.
package vesync

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"fan-monitor/monitor"
	"fan-monitor/retry"
)

const (
	DefaultBaseURL  = "https://smartapi.vesync.com"
	DefaultTimeZone = "America/New_York"

	appVersion = "2.8.6"
	phoneBrand = "SM N9005"
	phoneOS    = "Android"
	userType   = "1"

	// device list type of the air purifier family
	purifierType = "wifi-air"
)

// ErrNotLoggedIn is returned by FetchDevices before a successful Authenticate.
var ErrNotLoggedIn = errors.New("vesync: not logged in")

// APIError is a non-zero result code in a response envelope.
type APIError struct {
	Method string
	Code   int
	Msg    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vesync %s failed: code %d: %s", e.Method, e.Code, e.Msg)
}

type Client struct {
	email        string
	passwordHash string
	timeZone     string
	baseURL      string
	httpClient   *http.Client
	retryConfig  retry.Config

	mu        sync.RWMutex
	token     string
	accountID string

	// last snapshot reported per device, reused when a detail call fails
	knownMu sync.Mutex
	known   map[string]monitor.DeviceSnapshot
}

func NewClient(email, password, timeZone string) *Client {
	return NewClientWithURL(email, password, timeZone, DefaultBaseURL)
}

func NewClientWithURL(email, password, timeZone, baseURL string) *Client {
	if timeZone == "" {
		timeZone = DefaultTimeZone
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	sum := md5.Sum([]byte(password))

	c := &Client{
		email:        email,
		passwordHash: hex.EncodeToString(sum[:]),
		timeZone:     timeZone,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		known:        make(map[string]monitor.DeviceSnapshot),
	}
	c.SetRetryConfig(retry.DefaultConfig())
	return c
}

func isRetryable(err error) bool {
	var apiErr *APIError
	return !errors.As(err, &apiErr)
}

// SetHTTPClient replaces the default HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// SetRetryConfig replaces the per-request retry policy. API errors are
// never retried unless cfg brings its own Retryable.
func (c *Client) SetRetryConfig(cfg retry.Config) {
	if cfg.Retryable == nil {
		cfg.Retryable = isRetryable
	}
	c.retryConfig = cfg
}

func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// Authenticate logs in and stores the session token. A failed login
// clears any previous session.
func (c *Client) Authenticate(ctx context.Context) error {
	body := c.baseBody("login")
	body["email"] = c.email
	body["password"] = c.passwordHash
	body["devToken"] = ""
	body["userType"] = userType

	var result struct {
		Token     string `json:"token"`
		AccountID string `json:"accountID"`
	}
	err := c.call(ctx, "/cloud/v1/user/login", "login", nil, body, &result)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.token, c.accountID = "", ""
		return err
	}
	if result.Token == "" {
		c.token, c.accountID = "", ""
		return errors.New("vesync login: response carried no token")
	}
	c.token = result.Token
	c.accountID = result.AccountID
	slog.Info("Logged in to VeSync", "accountID", c.accountID)
	return nil
}

type deviceInfo struct {
	DeviceName       string `json:"deviceName"`
	DeviceType       string `json:"deviceType"`
	Type             string `json:"type"`
	CID              string `json:"cid"`
	UUID             string `json:"uuid"`
	ConfigModule     string `json:"configModule"`
	DeviceStatus     string `json:"deviceStatus"`
	ConnectionStatus string `json:"connectionStatus"`
}

type purifierStatus struct {
	Enabled         bool   `json:"enabled"`
	FilterLife      *int   `json:"filter_life"`
	Mode            string `json:"mode"`
	Level           *int   `json:"level"`
	AirQuality      *int   `json:"air_quality"`
	AirQualityValue *int   `json:"air_quality_value"`
	Display         *bool  `json:"display"`
	ChildLock       *bool  `json:"child_lock"`
	NightLight      string `json:"night_light"`
}

// FetchDevices returns the current state of every air purifier on the
// account. A purifier whose detail call fails keeps the snapshot it was
// last reported with; one never seen before gets the basic fields from
// the device list.
func (c *Client) FetchDevices(ctx context.Context) (monitor.StateTable, error) {
	auth, err := c.session()
	if err != nil {
		return nil, err
	}

	body := c.authBody("devices", auth)
	body["pageNo"] = 1
	body["pageSize"] = 100

	var result struct {
		List []deviceInfo `json:"list"`
	}
	if err := c.call(ctx, "/cloud/v1/deviceManaged/devices", "devices", auth, body, &result); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}

	table := make(monitor.StateTable)
	for _, d := range result.List {
		if d.Type != purifierType {
			continue
		}
		snap := basicSnapshot(d)
		if d.ConnectionStatus == "online" {
			status, err := c.purifierStatus(ctx, auth, d)
			switch {
			case err == nil:
				snap = detailedSnapshot(d, status)
			case c.lastKnown(d.DeviceName, &snap):
				slog.Warn("Failed to read purifier details, keeping last known state",
					"device", d.DeviceName, "err", err)
			default:
				slog.Warn("Failed to read purifier details, using basic state",
					"device", d.DeviceName, "err", err)
			}
		}
		table[snap.Name] = snap
	}

	c.knownMu.Lock()
	for name, snap := range table {
		c.known[name] = snap
	}
	c.knownMu.Unlock()
	return table, nil
}

// lastKnown copies the last reported snapshot of name into snap.
func (c *Client) lastKnown(name string, snap *monitor.DeviceSnapshot) bool {
	c.knownMu.Lock()
	defer c.knownMu.Unlock()
	prev, ok := c.known[name]
	if ok {
		*snap = prev
	}
	return ok
}

func (c *Client) purifierStatus(ctx context.Context, auth *session, d deviceInfo) (*purifierStatus, error) {
	body := c.authBody("bypassV2", auth)
	body["cid"] = d.CID
	body["configModule"] = d.ConfigModule
	body["deviceRegion"] = "US"
	body["payload"] = map[string]any{
		"method": "getPurifierStatus",
		"source": "APP",
		"data":   map[string]any{},
	}

	// bypassV2 nests the device reply in a second envelope
	var inner struct {
		Code   int            `json:"code"`
		Msg    string         `json:"msg"`
		Result purifierStatus `json:"result"`
	}
	if err := c.call(ctx, "/cloud/v2/deviceManaged/bypassV2", "getPurifierStatus", auth, body, &inner); err != nil {
		return nil, err
	}
	if inner.Code != 0 {
		return nil, &APIError{Method: "getPurifierStatus", Code: inner.Code, Msg: inner.Msg}
	}
	return &inner.Result, nil
}

func basicSnapshot(d deviceInfo) monitor.DeviceSnapshot {
	power := monitor.PowerOff
	if d.DeviceStatus == "on" {
		power = monitor.PowerOn
	}
	return monitor.DeviceSnapshot{
		Name:       d.DeviceName,
		Model:      d.DeviceType,
		PowerState: power,
	}
}

func detailedSnapshot(d deviceInfo, s *purifierStatus) monitor.DeviceSnapshot {
	snap := basicSnapshot(d)
	snap.PowerState = monitor.PowerOff
	if s.Enabled {
		snap.PowerState = monitor.PowerOn
	}
	if s.Mode != "" {
		mode := s.Mode
		snap.Mode = &mode
	}
	snap.FanSpeed = s.Level
	snap.AirQuality = s.AirQuality
	snap.AirQualityValue = s.AirQualityValue
	snap.FilterLife = s.FilterLife

	extra := make(map[string]any)
	if s.Display != nil {
		extra["display"] = *s.Display
	}
	if s.ChildLock != nil {
		extra["child_lock"] = *s.ChildLock
	}
	if s.NightLight != "" {
		extra["night_light"] = s.NightLight
	}
	if len(extra) > 0 {
		snap.Extra = extra
	}
	return snap
}

type session struct {
	token     string
	accountID string
}

func (c *Client) session() (*session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" {
		return nil, ErrNotLoggedIn
	}
	return &session{token: c.token, accountID: c.accountID}, nil
}

func (c *Client) baseBody(method string) map[string]any {
	return map[string]any{
		"timeZone":       c.timeZone,
		"acceptLanguage": "en",
		"appVersion":     appVersion,
		"phoneBrand":     phoneBrand,
		"phoneOS":        phoneOS,
		"traceId":        strconv.FormatInt(time.Now().Unix(), 10),
		"method":         method,
	}
}

func (c *Client) authBody(method string, auth *session) map[string]any {
	body := c.baseBody(method)
	body["token"] = auth.token
	body["accountID"] = auth.accountID
	return body
}

// call posts body to path, checks the response envelope and decodes its
// result into out.
func (c *Client) call(ctx context.Context, path, method string, auth *session, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	respBody, err := c.doRequest(ctx, path, auth, payload)
	if err != nil {
		return fmt.Errorf("vesync %s: %w", method, err)
	}

	var envelope struct {
		Code   int             `json:"code"`
		Msg    string          `json:"msg"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("parsing %s response: %w", method, err)
	}
	if envelope.Code != 0 {
		return &APIError{Method: method, Code: envelope.Code, Msg: envelope.Msg}
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("parsing %s result: %w", method, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, path string, auth *session, payload []byte) ([]byte, error) {
	var respBody []byte
	err := retry.Do(ctx, c.retryConfig, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json; charset=UTF-8")
		req.Header.Set("User-Agent", "okhttp/3.12.1")
		req.Header.Set("appVersion", appVersion)
		if auth != nil {
			req.Header.Set("tk", auth.token)
			req.Header.Set("accountId", auth.accountID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}

		if retry.IsRetryableHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("API error %d (retryable): %s", resp.StatusCode, string(respBody))
		}
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: path, Code: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}
