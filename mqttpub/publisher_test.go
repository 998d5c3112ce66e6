package mqttpub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fan-monitor/retry"
)

type fakeToken struct {
	err      error
	complete bool
}

func (t *fakeToken) Wait() bool { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Error() error { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.complete {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	connectErrs  []error
	connectCalls int
	publishToken *fakeToken
	messages     []published
	disconnected bool
}

func (c *fakeClient) Connect() MQTT.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	var err error
	if len(c.connectErrs) > 0 {
		err, c.connectErrs = c.connectErrs[0], c.connectErrs[1:]
	}
	return &fakeToken{err: err, complete: true}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	if c.publishToken != nil {
		return c.publishToken
	}
	return &fakeToken{complete: true}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func TestPublisher_Publish(t *testing.T) {
	client := &fakeClient{}
	p := New(client, "fan-monitor/")

	require.NoError(t, p.Publish("devices_update", []byte(`[{"name":"Bedroom"}]`)))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "fan-monitor/devices_update", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)
	assert.JSONEq(t, `[{"name":"Bedroom"}]`, string(msg.payload))
}

func TestPublisher_PublishErrors(t *testing.T) {
	client := &fakeClient{publishToken: &fakeToken{complete: true, err: errors.New("not connected")}}
	p := New(client, "fans")

	err := p.Publish("devices_update", []byte(`[]`))
	assert.ErrorContains(t, err, "fans/devices_update")
	assert.ErrorContains(t, err, "not connected")

	client.publishToken = &fakeToken{complete: false}
	assert.ErrorContains(t, p.Publish("devices_update", []byte(`[]`)), "timed out")
}

func TestPublisher_ConnectRetries(t *testing.T) {
	client := &fakeClient{connectErrs: []error{errors.New("refused"), errors.New("refused")}}
	p := New(client, "fans")

	require.NoError(t, p.Connect(context.Background(), retry.Fixed(3, time.Millisecond)))
	assert.Equal(t, 3, client.connectCalls)

	client.connectErrs = []error{errors.New("a"), errors.New("b")}
	client.connectCalls = 0
	err := p.Connect(context.Background(), retry.Fixed(2, time.Millisecond))
	assert.ErrorContains(t, err, "b")
	assert.Equal(t, 2, client.connectCalls)
}

func TestPublisher_Close(t *testing.T) {
	client := &fakeClient{}
	New(client, "fans").Close()
	assert.True(t, client.disconnected)
}

func TestNewClientOptions(t *testing.T) {
	opts := NewClientOptions("broker.local:1883", "fan-monitor-1")

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp", opts.Servers[0].Scheme)
	assert.Equal(t, "broker.local:1883", opts.Servers[0].Host)
	assert.Equal(t, "fan-monitor-1", opts.ClientID)

	tls := NewClientOptions("ssl://broker.local:8883", "x")
	assert.Equal(t, "ssl", tls.Servers[0].Scheme)
}

func TestMQTTClientSatisfiesInterface(t *testing.T) {
	var _ Client = MQTT.NewClient(NewClientOptions("localhost:1883", "x"))
}
