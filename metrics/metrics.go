// Package metrics holds the Prometheus collectors shared by the host and guest
// endpoints. Collectors register with the default registry on first use.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for call counters.
const (
	OutcomeOK       = "ok"
	OutcomeNoMethod = "no_method"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeClosed   = "closed"
)

// Drop reasons. Scope mismatches are not counted: foreign traffic is normal on a
// shared transport.
const (
	DropSpoofed   = "spoofed"
	DropMalformed = "malformed"
	DropUnmatched = "unmatched_response"
)

var (
	registerOnce sync.Once

	hostCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "host",
			Name:      "calls_total",
			Help:      "Calls dispatched by the host, by outcome.",
		},
		[]string{"scope", "method", "outcome"},
	)
	hostCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "host",
			Name:      "call_duration_seconds",
			Help:      "Handler execution time in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scope", "method"},
	)
	hostBroadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "host",
			Name:      "broadcasts_total",
			Help:      "Broadcast messages sent to peers, by kind (event, capabilities).",
		},
		[]string{"scope", "kind"},
	)
	guestCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "guest",
			Name:      "calls_total",
			Help:      "Calls settled on the guest, by outcome.",
		},
		[]string{"scope", "outcome"},
	)
	droppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Name:      "dropped_messages_total",
			Help:      "Inbound messages dropped without reply.",
		},
		[]string{"role", "reason"},
	)
)

func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(hostCalls, hostCallDuration, hostBroadcasts, guestCalls, droppedMessages)
	})
}

func RecordHostCall(scope, method, outcome string, duration time.Duration) {
	Register()
	hostCalls.WithLabelValues(scope, method, outcome).Inc()
	hostCallDuration.WithLabelValues(scope, method).Observe(duration.Seconds())
}

func RecordBroadcast(scope, kind string, peers int) {
	Register()
	hostBroadcasts.WithLabelValues(scope, kind).Add(float64(peers))
}

func RecordGuestCall(scope, outcome string) {
	Register()
	guestCalls.WithLabelValues(scope, outcome).Inc()
}

func RecordDrop(role, reason string) {
	Register()
	droppedMessages.WithLabelValues(role, reason).Inc()
}
