// Package metrics holds the Prometheus collectors for the protocol engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "moongate"

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "connections_active",
		Help:      "Connections currently registered.",
	})

	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "connections_total",
		Help:      "Connections accepted since start.",
	})

	DisconnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "disconnects_total",
		Help:      "Connections closed, by reason.",
	}, []string{"reason"})

	BytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "bytes_received_total",
		Help:      "Bytes read from client sockets.",
	})

	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "network",
		Name:      "bytes_sent_total",
		Help:      "Bytes written to client sockets.",
	})

	FramesDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "frames_decoded_total",
		Help:      "Frames decoded, by opcode.",
	}, []string{"opcode"})

	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "frames_sent_total",
		Help:      "Frames written, by opcode.",
	}, []string{"opcode"})

	DesyncBytesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "desync_bytes_skipped_total",
		Help:      "Bytes dropped while resynchronising variable-length frames.",
	})

	DecodeStalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "decode_stalls_total",
		Help:      "Read cycles that stopped on bytes the decoder cannot consume.",
	}, []string{"reason"})

	HandshakeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "protocol",
		Name:      "handshake_failures_total",
		Help:      "Connections dropped because no login key matched.",
	})

	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "handler_errors_total",
		Help:      "Handler failures, by opcode.",
	}, []string{"opcode"})

	UnhandledPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatch",
		Name:      "unhandled_packets_total",
		Help:      "Decoded packets dropped for lack of a handler, by opcode.",
	}, []string{"opcode"})

	UnitsExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "units_executed_total",
		Help:      "Units of work run to completion.",
	})

	UnitsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "units_rejected_total",
		Help:      "Units of work refused because their lane was full or stopped.",
	})

	UnitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "unit_duration_seconds",
		Help:      "Time spent running a unit of work.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})
)
