package monitor

import (
	"encoding/json"
	"strings"

	"golang.org/x/exp/slices"
)

// PowerState is the on/off state reported by the upstream account.
type PowerState string

const (
	PowerOn  PowerState = "on"
	PowerOff PowerState = "off"
)

// DeviceSnapshot is the state of one device at one refresh.
// Optional fields are nil when the device model does not report them.
type DeviceSnapshot struct {
	Name            string     `json:"name"`
	Model           string     `json:"model"`
	PowerState      PowerState `json:"power_state"`
	Mode            *string    `json:"mode"`
	FanSpeed        *int       `json:"fan_speed"`
	AirQuality      *int       `json:"air_quality"`
	AirQualityValue *int       `json:"air_quality_value"`
	FilterLife      *int       `json:"filter_life"`

	// Extra holds model specific values (display, child lock, ...). They are
	// delivered to subscribers but do not take part in change detection.
	Extra map[string]any `json:"extra,omitempty"`
}

// IsOn reports whether the device is powered on.
func (d DeviceSnapshot) IsOn() bool {
	return d.PowerState == PowerOn
}

// MarshalJSON adds the legacy is_on flag next to power_state so that
// browser front ends written against the boolean keep working.
func (d DeviceSnapshot) MarshalJSON() ([]byte, error) {
	type plain DeviceSnapshot
	return json.Marshal(struct {
		plain
		IsOn bool `json:"is_on"`
	}{plain(d), d.IsOn()})
}

// fields returns the record as a flat key/value map. Fingerprints are
// computed over this map, so every field that matters for equality
// must appear here.
func (d DeviceSnapshot) fields() map[string]any {
	return map[string]any{
		"name":              d.Name,
		"model":             d.Model,
		"power_state":       string(d.PowerState),
		"mode":              d.Mode,
		"fan_speed":         d.FanSpeed,
		"air_quality":       d.AirQuality,
		"air_quality_value": d.AirQualityValue,
		"filter_life":       d.FilterLife,
	}
}

// StateTable maps a device name to its latest snapshot.
type StateTable map[string]DeviceSnapshot

// Clone returns a shallow copy of the table. Snapshots are values, but
// Extra maps are shared, so callers must treat them as read-only.
func (t StateTable) Clone() StateTable {
	c := make(StateTable, len(t))
	for name, snap := range t {
		c[name] = snap
	}
	return c
}

// Merge returns a new table holding every entry of t overwritten by the
// entries of newer. Devices missing from newer keep their last-known state.
func (t StateTable) Merge(newer StateTable) StateTable {
	merged := t.Clone()
	for name, snap := range newer {
		merged[name] = snap
	}
	return merged
}

// Sorted returns the snapshots ordered by device name.
func (t StateTable) Sorted() []DeviceSnapshot {
	list := make([]DeviceSnapshot, 0, len(t))
	for _, snap := range t {
		list = append(list, snap)
	}
	slices.SortFunc(list, func(a, b DeviceSnapshot) int {
		return strings.Compare(a.Name, b.Name)
	})
	return list
}

// TableFromList builds a table keyed by device name. Later entries win
// when two snapshots share a name.
func TableFromList(list []DeviceSnapshot) StateTable {
	t := make(StateTable, len(list))
	for _, snap := range list {
		t[snap.Name] = snap
	}
	return t
}
