package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fan-monitor/monitor"
)

func TestCreateMessage_DevicesUpdate(t *testing.T) {
	speed := 3
	devices := DevicesUpdatePayload{
		{Name: "Bedroom", Model: "Core300S", PowerState: monitor.PowerOn, FanSpeed: &speed},
	}

	data, err := CreateMessage(MessageTypeDevicesUpdate, devices, "")
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"type": "devices_update",
		"payload": [{
			"name": "Bedroom",
			"model": "Core300S",
			"power_state": "on",
			"is_on": true,
			"mode": null,
			"fan_speed": 3,
			"air_quality": null,
			"air_quality_value": null,
			"filter_life": null
		}]
	}`, string(data))
}

func TestParseMessage_GetDevices(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"get_devices","payload":{},"requestId":"req-7"}`))
	require.NoError(t, err)

	assert.Equal(t, MessageTypeGetDevices, msg.Type)
	assert.Equal(t, "req-7", msg.RequestID)
}

func TestParseMessage_Invalid(t *testing.T) {
	_, err := ParseMessage([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestParsePayload_DevicesUpdate(t *testing.T) {
	raw := []byte(`{"type":"devices_update","payload":[
		{"name":"Office","model":"Core400S","power_state":"off","is_on":false,
		 "mode":"sleep","fan_speed":1,"air_quality":2,"air_quality_value":15,"filter_life":40}
	]}`)
	msg, err := ParseMessage(raw)
	require.NoError(t, err)

	var devices DevicesUpdatePayload
	require.NoError(t, ParsePayload(msg, &devices))
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, "Office", d.Name)
	assert.Equal(t, monitor.PowerOff, d.PowerState)
	require.NotNil(t, d.Mode)
	assert.Equal(t, "sleep", *d.Mode)
	require.NotNil(t, d.AirQualityValue)
	assert.Equal(t, 15, *d.AirQualityValue)
}

func TestParsePayload_LogNotification(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := CreateMessage(MessageTypeLogNotification, LogNotificationPayload{
		Level:      "ERROR",
		Message:    "Upstream refresh failed",
		Time:       at,
		Attributes: map[string]any{"consecutive_failures": 2},
	}, "")
	require.NoError(t, err)

	msg, err := ParseMessage(data)
	require.NoError(t, err)
	var payload LogNotificationPayload
	require.NoError(t, ParsePayload(msg, &payload))

	assert.Equal(t, "ERROR", payload.Level)
	assert.True(t, at.Equal(payload.Time))
	assert.Equal(t, float64(2), payload.Attributes["consecutive_failures"])
}
