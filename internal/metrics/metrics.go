package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dispatch_invocations_total",
		Help: "Dispatch entry point invocations grouped by trigger kind",
	}, []string{"kind"})

	chunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dispatch_chunks_total",
		Help: "Streamed chunks grouped by delivery outcome",
	}, []string{"outcome"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dispatch_completions_total",
		Help: "Completion attempts grouped by outcome",
	}, []string{"outcome"})

	responseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agent_dispatch_response_duration_seconds",
		Help:    "Time from the start of processing to the completion attempt",
		Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"status"})

	queueRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dispatch_queue_records_total",
		Help: "Queue records processed grouped by source and status",
	}, []string{"source", "status"})

	offloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agent_dispatch_offload_total",
		Help: "send_message requests grouped by mode and status",
	}, []string{"mode", "status"})
)

// ObserveDispatch counts one dispatch entry point invocation.
func ObserveDispatch(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	dispatchTotal.WithLabelValues(kind).Inc()
}

// ObserveChunk records the outcome of one fragment: sent, failed or skipped.
func ObserveChunk(outcome string) {
	chunksTotal.WithLabelValues(outcome).Inc()
}

// ObserveCompletion records a completion attempt and how long the response took.
func ObserveCompletion(outcome, status string, duration time.Duration) {
	completionsTotal.WithLabelValues(outcome).Inc()
	if status == "" {
		status = "unknown"
	}
	responseDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ObserveQueueRecord records a processed queue record.
func ObserveQueueRecord(source string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	queueRecordsTotal.WithLabelValues(source, status).Inc()
}

// ObserveSendMessage records a gateway call by mode (queued|awaited).
func ObserveSendMessage(mode string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	offloadTotal.WithLabelValues(mode, status).Inc()
}
