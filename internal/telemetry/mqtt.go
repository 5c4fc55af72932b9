// Package telemetry publishes session and heartbeat events to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/util"
)

// Topic suffixes appended to the configured prefix.
const (
	TopicSession = "session"
	TopicStatus  = "status"
	TopicAdmin   = "admin"
)

const publishQoS = 1

// client is the subset of mqtt.Client the handler drives.
type client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTHandler forwards bus events to the broker as JSON documents.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}

	pending sync.WaitGroup
}

// NewMQTTHandler builds a handler with a paho client configured from cfg.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerAddress(cfg))
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("moongate-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if cfg.UseTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("component", "mqtt").Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Str("component", "mqtt").Err(err).Msg("MQTT connection lost")
	})

	h := newHandler(cfg, eventBus, mqtt.NewClient(opts))
	h.metadata = map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"platform":    sysInfo.OS,
		"cpu_model":   sysInfo.CPUModel,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": version,
	}
	return h, nil
}

func newHandler(cfg config.MQTTConfig, eventBus *events.EventBus, c client) *MQTTHandler {
	return &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		client:   c,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{},
	}
}

func brokerAddress(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)
}

func buildTLSConfig(cfg config.MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	// mTLS: load client certificate
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("MQTT CA file %s contains no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// Topic returns the full topic for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	if h.cfg.TopicPrefix == "" {
		return suffix
	}
	return h.cfg.TopicPrefix + "/" + suffix
}

// Start connects, forwards events until ctx is done, then publishes a
// shutdown notice and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()
	defer h.unsubscribeEvents()

	<-ctx.Done()

	h.PublishShutdown()
	h.pending.Wait()
	h.client.Disconnect(250)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventConnectionOpened, "mqtt.connectionOpened", h.onConnectionOpened)
	h.eventBus.Subscribe(events.EventConnectionClosed, "mqtt.connectionClosed", h.onConnectionClosed)
	h.eventBus.Subscribe(events.EventStateChanged, "mqtt.stateChanged", h.onStateChanged)
	h.eventBus.Subscribe(events.EventHeartbeat, "mqtt.heartbeat", h.onHeartbeat)
}

func (h *MQTTHandler) unsubscribeEvents() {
	h.eventBus.Unsubscribe(events.EventConnectionOpened, "mqtt.connectionOpened")
	h.eventBus.Unsubscribe(events.EventConnectionClosed, "mqtt.connectionClosed")
	h.eventBus.Unsubscribe(events.EventStateChanged, "mqtt.stateChanged")
	h.eventBus.Unsubscribe(events.EventHeartbeat, "mqtt.heartbeat")
}

// publish sends a JSON message; delivery failures are logged only.
func (h *MQTTHandler) publish(suffix, event string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}
	topic := h.Topic(suffix)

	data, err := json.Marshal(h.buildMessage(event, payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, publishQoS, false, data)
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

func (h *MQTTHandler) buildMessage(event string, payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+3)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["event"] = event
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

func (h *MQTTHandler) onConnectionOpened(_ context.Context, event events.Event) error {
	h.publish(TopicSession, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onConnectionClosed(_ context.Context, event events.Event) error {
	h.publish(TopicSession, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onStateChanged(_ context.Context, event events.Event) error {
	h.publish(TopicSession, string(event.Type), event.Payload)
	return nil
}

func (h *MQTTHandler) onHeartbeat(_ context.Context, event events.Event) error {
	h.publish(TopicStatus, string(event.Type), event.Payload)
	return nil
}

// PublishShutdown announces that the shard is going down.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, string(events.EventShutdown), map[string]interface{}{
		"reason": "shutdown",
	})
}
