package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	scriptQueueDepth    *prometheus.GaugeVec
	scriptEnqueueTotal  prometheus.Counter
	scriptOutcomeTotal  *prometheus.CounterVec
	scriptWaitDuration  prometheus.Histogram

	activeConversations   prometheus.Gauge
	conversationsTotal    *prometheus.CounterVec
	conversationDuration  *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	modelStreamTotal    *prometheus.CounterVec
	modelStreamDuration prometheus.Histogram
	modelTokensTotal    *prometheus.CounterVec
	turnsTotal          prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			scriptQueueDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "script_queue_depth",
					Help: "Pending script executions by target.",
				},
				[]string{"target"},
			),
			scriptEnqueueTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "script_enqueue_total",
					Help: "Total script executions enqueued.",
				},
			),
			scriptOutcomeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "script_outcome_total",
					Help: "Total script execution completions by outcome.",
				},
				[]string{"outcome"},
			),
			scriptWaitDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "script_wait_duration_seconds",
					Help:    "Enqueue-to-resolution duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_conversations",
					Help: "Current conversation count, terminal included until swept.",
				},
			),
			conversationsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conversations_finished_total",
					Help: "Total conversations reaching a terminal status.",
				},
				[]string{"status"},
			),
			conversationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "conversation_duration_seconds",
					Help:    "Start-to-terminal conversation duration in seconds.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
				},
				[]string{"status"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			modelStreamTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_stream_total",
					Help: "Total model streaming calls by status.",
				},
				[]string{"status"},
			),
			modelStreamDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "model_stream_duration_seconds",
					Help:    "Model streaming call duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			modelTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_tokens_total",
					Help: "Total model tokens by direction.",
				},
				[]string{"direction"},
			),
			turnsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conversation_turns_total",
					Help: "Total model turns across all conversations.",
				},
			),
		}

		prometheus.MustRegister(
			m.scriptQueueDepth,
			m.scriptEnqueueTotal,
			m.scriptOutcomeTotal,
			m.scriptWaitDuration,
			m.activeConversations,
			m.conversationsTotal,
			m.conversationDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.modelStreamTotal,
			m.modelStreamDuration,
			m.modelTokensTotal,
			m.turnsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordScriptEnqueue(target string, depth int) {
	m := getMetrics()
	m.scriptEnqueueTotal.Inc()
	m.scriptQueueDepth.WithLabelValues(target).Set(float64(depth))
}

func SetScriptQueueDepth(target string, depth int) {
	m := getMetrics()
	m.scriptQueueDepth.WithLabelValues(target).Set(float64(depth))
}

func RecordScriptOutcome(outcome string, duration time.Duration) {
	m := getMetrics()
	m.scriptOutcomeTotal.WithLabelValues(outcome).Inc()
	m.scriptWaitDuration.Observe(duration.Seconds())
}

func SetActiveConversations(count int) {
	m := getMetrics()
	m.activeConversations.Set(float64(count))
}

func RecordConversationFinished(status string, duration time.Duration) {
	m := getMetrics()
	m.conversationsTotal.WithLabelValues(status).Inc()
	m.conversationDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordModelStream(duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelStreamTotal.WithLabelValues(status).Inc()
	m.modelStreamDuration.Observe(duration.Seconds())
}

func AddModelTokens(input, output int) {
	m := getMetrics()
	if input > 0 {
		m.modelTokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		m.modelTokensTotal.WithLabelValues("output").Add(float64(output))
	}
}

func RecordTurn() {
	getMetrics().turnsTotal.Inc()
}
