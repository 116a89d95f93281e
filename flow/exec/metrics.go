package exec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the executor's Prometheus instrumentation. A nil *Metrics is a
// valid no-op receiver, so hosts that do not scrape can skip WithMetrics.
type Metrics struct {
	executions  *prometheus.CounterVec
	nodes       *prometheus.CounterVec
	nodeLatency prometheus.Histogram
	credits     prometheus.Counter
	toolCalls   prometheus.Counter
}

// NewMetrics registers the executor metric family on the given registerer.
// Pass prometheus.DefaultRegisterer for the process default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"status"}),
		nodes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "nodes_total",
			Help:      "Node executions by terminal status.",
		}, []string{"status"}),
		nodeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "nodeflow",
			Name:      "node_latency_ms",
			Help:      "Wall time of node execution in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		credits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "credits_spent_total",
			Help:      "Compute credits charged across all executions.",
		}),
		toolCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: "nodeflow",
			Name:      "tool_calls_total",
			Help:      "Tool invocations made by nodes.",
		}),
	}
}

func (m *Metrics) execution(status string) {
	if m != nil {
		m.executions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) node(status string, latencyMS float64) {
	if m != nil {
		m.nodes.WithLabelValues(status).Inc()
		m.nodeLatency.Observe(latencyMS)
	}
}

func (m *Metrics) spend(credits float64) {
	if m != nil && credits > 0 {
		m.credits.Add(credits)
	}
}

func (m *Metrics) toolCall() {
	if m != nil {
		m.toolCalls.Inc()
	}
}
