package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload map[string]interface{}
}

type fakeClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishErr   error
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return doneToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnected = true
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	var doc map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &doc)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, payload: doc})
	return doneToken{err: c.publishErr}
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func testConfig() config.MQTTConfig {
	cfg := config.DefaultConfig().ApplicationData.MQTT
	cfg.Enabled = true
	return cfg
}

func TestBrokerAddress(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "tcp://localhost:1883", brokerAddress(cfg))

	cfg.UseTLS = true
	cfg.Port = 8883
	assert.Equal(t, "ssl://localhost:8883", brokerAddress(cfg))
}

func TestNewMQTTHandlerRejectsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	_, err := NewMQTTHandler(cfg, events.NewEventBus(), "test")
	assert.Error(t, err)
}

func TestBuildTLSConfigErrors(t *testing.T) {
	cfg := testConfig()
	cfg.UseTLS = true
	cfg.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err := buildTLSConfig(cfg)
	assert.Error(t, err)

	cfg.CAFile = ""
	cfg.CertFile = filepath.Join(t.TempDir(), "client.crt")
	cfg.KeyFile = filepath.Join(t.TempDir(), "client.key")
	_, err = buildTLSConfig(cfg)
	assert.Error(t, err)

	cfg.CertFile, cfg.KeyFile = "", ""
	tlsConfig, err := buildTLSConfig(cfg)
	require.NoError(t, err)
	assert.Nil(t, tlsConfig.RootCAs)
}

func TestTopic(t *testing.T) {
	h := newHandler(testConfig(), events.NewEventBus(), &fakeClient{})
	assert.Equal(t, "moongate/session", h.Topic(TopicSession))

	cfg := testConfig()
	cfg.TopicPrefix = ""
	h = newHandler(cfg, events.NewEventBus(), &fakeClient{})
	assert.Equal(t, "status", h.Topic(TopicStatus))
}

func TestStartForwardsEventsAndAnnouncesShutdown(t *testing.T) {
	bus := events.NewEventBus()
	fc := &fakeClient{}
	h := newHandler(testConfig(), bus, fc)
	h.metadata["hostname"] = "shard-1"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	require.Eventually(t, fc.IsConnected, time.Second, 5*time.Millisecond)
	// Subscriptions happen right after Connect returns.
	require.Eventually(t, func() bool {
		bus.Emit(ctx, events.Event{
			Type:    events.EventConnectionOpened,
			Payload: events.ConnectionPayload{ConnID: "c1", RemoteAddr: "10.0.0.7:50123"},
		})
		return len(fc.sent()) > 0
	}, time.Second, 10*time.Millisecond)

	bus.Emit(ctx, events.Event{
		Type:    events.EventHeartbeat,
		Payload: events.HeartbeatPayload{Count: 1, Sessions: 3},
	})
	require.Eventually(t, func() bool {
		for _, m := range fc.sent() {
			if m.topic == "moongate/status" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Drain in-flight deliveries so the shutdown notice is the last message.
	bus.Stop()
	cancel()
	require.NoError(t, <-done)

	msgs := fc.sent()
	first := msgs[0]
	assert.Equal(t, "moongate/session", first.topic)
	assert.Equal(t, byte(1), first.qos)
	assert.Equal(t, "connection_opened", first.payload["event"])
	assert.Equal(t, "shard-1", first.payload["hostname"])
	assert.NotEmpty(t, first.payload["timestamp"])
	payload := first.payload["payload"].(map[string]interface{})
	assert.Equal(t, "c1", payload["conn_id"])

	last := msgs[len(msgs)-1]
	assert.Equal(t, "moongate/admin", last.topic)
	assert.Equal(t, "shutdown", last.payload["event"])

	fc.mu.Lock()
	assert.True(t, fc.disconnected)
	fc.mu.Unlock()
}

func TestStartReportsConnectFailure(t *testing.T) {
	fc := &fakeClient{connectErr: errors.New("connection refused")}
	h := newHandler(testConfig(), events.NewEventBus(), fc)

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublishSkipsWhenDisconnected(t *testing.T) {
	fc := &fakeClient{}
	h := newHandler(testConfig(), events.NewEventBus(), fc)

	require.NoError(t, h.onStateChanged(context.Background(), events.Event{Type: events.EventStateChanged}))
	h.pending.Wait()
	assert.Empty(t, fc.sent())
}

func TestPublishFailureIsNotFatal(t *testing.T) {
	fc := &fakeClient{connected: true, publishErr: errors.New("broker gone")}
	h := newHandler(testConfig(), events.NewEventBus(), fc)

	require.NoError(t, h.onConnectionClosed(context.Background(), events.Event{
		Type:    events.EventConnectionClosed,
		Payload: events.ConnectionPayload{ConnID: "c2", Reason: "idle_timeout"},
	}))
	h.pending.Wait()

	msgs := fc.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "connection_closed", msgs[0].payload["event"])
}
