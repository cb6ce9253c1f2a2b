// Package metrics exposes Prometheus collectors for avatar sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/normanking/avatarchat/internal/bus"
)

var (
	StatusEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_engine_status_events_total",
			Help: "Engine status callbacks by connection phase",
		},
		[]string{"phase"},
	)

	ChatEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_engine_chat_events_total",
			Help: "Engine chat callbacks by chat type",
		},
		[]string{"chat_type"},
	)

	InterruptDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_interrupt_decisions_total",
			Help: "stopSpeech requests by outcome",
		},
		[]string{"outcome"},
	)

	Commands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_commands_total",
			Help: "Engine commands issued by the session, by name and result",
		},
		[]string{"command", "result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatarchat_active_sessions",
			Help: "Number of active sessions",
		},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatarchat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "avatarchat_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)
)

// phases and chat types outside the known sets share one label value so a
// misbehaving engine cannot blow up label cardinality.
const otherLabel = "OTHER"

// Attach updates the collectors from session events.
func Attach(b *bus.EventBus) {
	b.SubscribeMultiple(bus.AllEventTypes, Observe)
}

// Observe records one session event.
func Observe(e bus.Event) {
	switch e.Type {
	case bus.EventSessionStarted:
		ActiveSessions.Inc()
	case bus.EventSessionEnded:
		ActiveSessions.Dec()
	case bus.EventEngineStatus:
		StatusEvents.WithLabelValues(phaseLabel(e.String("phase"))).Inc()
	case bus.EventEngineChat:
		ChatEvents.WithLabelValues(chatLabel(e.String("chat_type"))).Inc()
	case bus.EventInterruptRejected:
		InterruptDecisions.WithLabelValues("rejected").Inc()
	case bus.EventCommand:
		cmd := e.String("command")
		Commands.WithLabelValues(cmd, e.String("result")).Inc()
		if cmd == "stopSpeech" {
			InterruptDecisions.WithLabelValues("approved").Inc()
		}
	}
}
