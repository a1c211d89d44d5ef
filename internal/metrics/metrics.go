// Package metrics exposes the broker's activity as prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Broker aggregates the broker-side gauges and counters. A nil *Broker is
// valid and records nothing, so tests can run without a registry.
type Broker struct {
	ActiveConnections prometheus.Gauge
	PendingCodes      prometheus.Gauge
	ActiveRelays      prometheus.Gauge
	RelayedChunks     prometheus.Counter
	RelayedBytes      prometheus.Counter
	CompletedRelays   prometheus.Counter
	AbortedRelays     prometheus.Counter
	RejectedRequests  prometheus.Counter
}

// NewBroker registers the broker collectors with reg.
func NewBroker(reg prometheus.Registerer) *Broker {
	factory := promauto.With(reg)
	return &Broker{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pingpong_active_connections",
			Help: "Validated client connections currently held by the broker.",
		}),
		PendingCodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pingpong_pending_codes",
			Help: "Code phrases currently registered by senders, including those claimed by an active relay.",
		}),
		ActiveRelays: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pingpong_active_relays",
			Help: "Relay sessions currently transferring chunks.",
		}),
		RelayedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_relayed_chunks_total",
			Help: "Chunk messages forwarded sender to receiver.",
		}),
		RelayedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_relayed_bytes_total",
			Help: "Chunk payload bytes forwarded, hash trailers excluded.",
		}),
		CompletedRelays: factory.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_completed_relays_total",
			Help: "Relay sessions finished with a confirmed receive.",
		}),
		AbortedRelays: factory.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_aborted_relays_total",
			Help: "Relay sessions torn down before completion.",
		}),
		RejectedRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "pingpong_rejected_requests_total",
			Help: "Send or receive attempts rejected pre-session.",
		}),
	}
}

func (b *Broker) ConnOpened() {
	if b != nil {
		b.ActiveConnections.Inc()
	}
}

func (b *Broker) ConnClosed() {
	if b != nil {
		b.ActiveConnections.Dec()
	}
}

func (b *Broker) CodeRegistered() {
	if b != nil {
		b.PendingCodes.Inc()
	}
}

func (b *Broker) CodeDropped() {
	if b != nil {
		b.PendingCodes.Dec()
	}
}

func (b *Broker) RelayStarted() {
	if b != nil {
		b.ActiveRelays.Inc()
	}
}

func (b *Broker) RelayCompleted() {
	if b != nil {
		b.ActiveRelays.Dec()
		b.CompletedRelays.Inc()
	}
}

func (b *Broker) RelayAborted() {
	if b != nil {
		b.ActiveRelays.Dec()
		b.AbortedRelays.Inc()
	}
}

func (b *Broker) ChunkRelayed(payloadBytes int) {
	if b != nil {
		b.RelayedChunks.Inc()
		b.RelayedBytes.Add(float64(payloadBytes))
	}
}

func (b *Broker) RequestRejected() {
	if b != nil {
		b.RejectedRequests.Inc()
	}
}
