package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/stagehand-dev/stagehand/pkg/telemetry"
)

var (
	metricTurnsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "turns_started_total",
		Help:      "Number of turns sent to the backend.",
	})
	metricTurnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "turns_completed_total",
		Help:      "Number of turns that finished and persisted normally.",
	})
	metricTurnsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "turns_failed_total",
		Help:      "Number of turns that ended on a stream or transport error.",
	})
	metricToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "tool_calls_total",
		Help:      "Tool calls observed on the stream, by execution side.",
	}, []string{"kind"})
	metricStreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "stream_events_total",
		Help:      "Stream events dispatched into the turn handler, by type.",
	}, []string{"type"})
)

// The turn lifecycle feeds both surfaces: the Prometheus collectors
// above for /metrics scrapes and the telemetry registry for the
// /status JSON snapshot.

func recordTurnStart() {
	metricTurnsStarted.Inc()
	telemetry.IncActiveTurns()
}

func recordTurnCompletion(elapsed time.Duration) {
	metricTurnsCompleted.Inc()
	telemetry.DecActiveTurns()
	telemetry.RecordTurn("completed")
	telemetry.RecordTurnDuration(elapsed)
}

func recordTurnFailure(elapsed time.Duration) {
	metricTurnsFailed.Inc()
	telemetry.DecActiveTurns()
	telemetry.RecordTurn("failed")
	telemetry.RecordTurnDuration(elapsed)
}

func recordToolCall(kind string) {
	metricToolCalls.WithLabelValues(kind).Inc()
}

func recordStreamEvent(eventType string) {
	metricStreamEvents.WithLabelValues(eventType).Inc()
}
