package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WaitingSessions        = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_waiting_sessions", Help: "Sessions with one peer parked waiting for its partner"})
	ActivePairs            = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_active_pairs", Help: "Paired sessions currently relaying"})
	PairedTotal            = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_paired_total", Help: "Sessions successfully paired"})
	PairingTimeoutTotal    = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_pairing_timeout_total", Help: "Waiters evicted by the pairing timeout"})
	ErrorsTotal            = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_errors_total", Help: "Errors by type"}, []string{"type"})
	RelayedBytesTotal      = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_relayed_bytes_total", Help: "Payload bytes copied between paired peers, both directions"})
	SessionDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_session_duration_seconds", Help: "Relay phase lifetime seconds", Buckets: prometheus.ExponentialBuckets(0.01, 2, 16)})
)
