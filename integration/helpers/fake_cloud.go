//go:build integration

package helpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
)

// FakeDevice は擬似クラウドが返す空気清浄機の状態
type FakeDevice struct {
	Name     string
	Model    string
	CID      string
	On       bool
	Mode     string
	Level    int
	Online   bool
	Filter   int
	AirValue int
}

// FakeCloud はVeSyncクラウドAPIの最小限の擬似実装
type FakeCloud struct {
	Server *httptest.Server

	mu      sync.Mutex
	devices map[string]*FakeDevice

	logins    atomic.Int32
	fetches   atomic.Int32
	failLogin atomic.Bool
	failFetch atomic.Bool
}

// NewFakeCloud は devices を持つ擬似クラウドを起動する
func NewFakeCloud(devices ...FakeDevice) *FakeCloud {
	fc := &FakeCloud{devices: make(map[string]*FakeDevice)}
	for i := range devices {
		d := devices[i]
		fc.devices[d.CID] = &d
	}
	fc.Server = httptest.NewServer(http.HandlerFunc(fc.serve))
	return fc
}

// Close は擬似クラウドを停止する
func (fc *FakeCloud) Close() {
	fc.Server.Close()
}

// SetPower はデバイスの電源状態を変更する
func (fc *FakeCloud) SetPower(cid string, on bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if d, ok := fc.devices[cid]; ok {
		d.On = on
	}
}

// RemoveDevice はデバイスをアカウントから外す
func (fc *FakeCloud) RemoveDevice(cid string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.devices, cid)
}

// FailLogin makes every login answer with an error code.
func (fc *FakeCloud) FailLogin(fail bool) { fc.failLogin.Store(fail) }

// FailFetch makes the device list answer with a server error.
func (fc *FakeCloud) FailFetch(fail bool) { fc.failFetch.Store(fail) }

// Logins は受け付けたログイン要求の数を返す
func (fc *FakeCloud) Logins() int { return int(fc.logins.Load()) }

// Fetches は受け付けたデバイス一覧要求の数を返す
func (fc *FakeCloud) Fetches() int { return int(fc.fetches.Load()) }

func (fc *FakeCloud) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch r.URL.Path {
	case "/cloud/v1/user/login":
		fc.logins.Add(1)
		if fc.failLogin.Load() {
			writeJSON(w, map[string]any{"code": -11201022, "msg": "password error"})
			return
		}
		writeJSON(w, map[string]any{
			"code":   0,
			"result": map[string]any{"token": "integration-token", "accountID": "integration-account"},
		})

	case "/cloud/v1/deviceManaged/devices":
		fc.fetches.Add(1)
		if fc.failFetch.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]any{"code": 0, "result": map[string]any{"list": fc.deviceList()}})

	case "/cloud/v2/deviceManaged/bypassV2":
		cid, _ := body["cid"].(string)
		fc.mu.Lock()
		d, ok := fc.devices[cid]
		var status map[string]any
		if ok {
			status = map[string]any{
				"enabled":           d.On,
				"mode":              d.Mode,
				"level":             d.Level,
				"filter_life":       d.Filter,
				"air_quality":       1,
				"air_quality_value": d.AirValue,
			}
		}
		fc.mu.Unlock()
		if !ok {
			writeJSON(w, map[string]any{"code": 0, "result": map[string]any{"code": -1, "msg": "device not found"}})
			return
		}
		writeJSON(w, map[string]any{"code": 0, "result": map[string]any{"code": 0, "result": status}})

	default:
		http.NotFound(w, r)
	}
}

func (fc *FakeCloud) deviceList() []map[string]any {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	list := make([]map[string]any, 0, len(fc.devices))
	for _, d := range fc.devices {
		status, connection := "off", "offline"
		if d.On {
			status = "on"
		}
		if d.Online {
			connection = "online"
		}
		list = append(list, map[string]any{
			"deviceName":       d.Name,
			"deviceType":       d.Model,
			"type":             "wifi-air",
			"cid":              d.CID,
			"deviceStatus":     status,
			"connectionStatus": connection,
			"configModule":     "WiFi_AirPurifier_" + d.Model,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i]["cid"].(string) < list[j]["cid"].(string) })
	return list
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
