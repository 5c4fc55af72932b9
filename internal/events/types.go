// Package events defines the observer notifications raised by the protocol
// engine and the bus that delivers them.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle
	EventConnectionOpened EventType = "connection_opened"
	EventConnectionClosed EventType = "connection_closed"
	EventStateChanged     EventType = "state_changed"

	// Traffic
	EventPacketReceived EventType = "packet_received"
	EventPacketSent     EventType = "packet_sent"
	EventHandlerFailed  EventType = "handler_failed"

	// System
	EventHeartbeat EventType = "heartbeat"
	EventShutdown  EventType = "shutdown"
)

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionPayload accompanies connection_opened and connection_closed.
type ConnectionPayload struct {
	ConnID      string        `json:"conn_id"`
	RemoteAddr  string        `json:"remote_addr"`
	Account     string        `json:"account,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	ConnectedAt time.Time     `json:"connected_at"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// StateChangedPayload accompanies state_changed.
type StateChangedPayload struct {
	ConnID  string `json:"conn_id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Trigger string `json:"trigger"`
}

// PacketPayload accompanies packet_received and packet_sent.
type PacketPayload struct {
	ConnID      string `json:"conn_id"`
	OpCode      byte   `json:"opcode"`
	Description string `json:"description"`
	Size        int    `json:"size"`
}

// HandlerFailedPayload accompanies handler_failed.
type HandlerFailedPayload struct {
	ConnID  string `json:"conn_id"`
	OpCode  byte   `json:"opcode"`
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

// HeartbeatPayload is emitted periodically by the health manager.
type HeartbeatPayload struct {
	Count         int64     `json:"count"`
	Sessions      int       `json:"sessions"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	ProcessRSSMB  uint64    `json:"process_rss_mb"`
	Goroutines    int       `json:"goroutines"`
	Uptime        string    `json:"uptime"`
	At            time.Time `json:"at"`
}
