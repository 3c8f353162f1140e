package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the platform.
//
// Tracked concerns:
//   - message turns through the orchestrator, by tenant and outcome
//   - provider request latency, token usage, and failovers
//   - retrieval latency per mode
//   - ingestion documents, chunks, and embedding batches
//   - tool executions and rejections
//   - admission decisions
type Metrics struct {
	// MessageTurns counts orchestrated turns.
	// Labels: mode (sync|stream|regenerate), status (success|error)
	MessageTurns *prometheus.CounterVec

	// ProviderRequestDuration measures completion call latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderTokens tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokens *prometheus.CounterVec

	// ProviderFailovers counts failovers away from an unhealthy provider.
	// Labels: from, to
	ProviderFailovers *prometheus.CounterVec

	// RetrievalDuration measures retrieval latency in seconds.
	// Labels: mode (VECTOR|LEXICAL|HYBRID)
	RetrievalDuration *prometheus.HistogramVec

	// IngestedDocuments counts ingested documents.
	// Labels: status (success|failed)
	IngestedDocuments *prometheus.CounterVec

	// EmbeddingBatches counts embedding batches processed by the worker.
	// Labels: status (success|failed)
	EmbeddingBatches *prometheus.CounterVec

	// ToolExecutions counts tool runs.
	// Labels: tool, status (success|failed|timeout|rejected)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool run latency in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// AdmissionRejections counts admission failures.
	// Labels: reason (too_large|too_complex|rate_limited|unsafe)
	AdmissionRejections *prometheus.CounterVec

	// VectorIndexSize gauges live rows in the vector index.
	VectorIndexSize prometheus.Gauge
}

// NewMetrics creates and registers all platform metrics with reg.
// Pass prometheus.DefaultRegisterer in production; tests pass their own
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessageTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_message_turns_total",
				Help: "Orchestrated message turns by mode and status.",
			},
			[]string{"mode", "status"},
		),
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_provider_request_duration_seconds",
				Help:    "Completion provider call latency.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		ProviderTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_provider_tokens_total",
				Help: "Tokens consumed by provider calls.",
			},
			[]string{"provider", "model", "type"},
		),
		ProviderFailovers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_provider_failovers_total",
				Help: "Requests rerouted away from an unhealthy provider.",
			},
			[]string{"from", "to"},
		),
		RetrievalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_retrieval_duration_seconds",
				Help:    "Retrieval latency by mode.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"mode"},
		),
		IngestedDocuments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_ingested_documents_total",
				Help: "Documents processed by the ingestion pipeline.",
			},
			[]string{"status"},
		),
		EmbeddingBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_embedding_batches_total",
				Help: "Embedding batches processed by the background worker.",
			},
			[]string{"status"},
		),
		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_tool_executions_total",
				Help: "Tool executions by tool and status.",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_tool_execution_duration_seconds",
				Help:    "Tool execution latency.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		AdmissionRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_admission_rejections_total",
				Help: "Messages rejected by the admission controller.",
			},
			[]string{"reason"},
		),
		VectorIndexSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_vector_index_rows",
				Help: "Live rows in the vector index.",
			},
		),
	}
}
