package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcp_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	IntentClassifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_intent_classifications_total",
			Help: "Intent classifications by stage and intent",
		},
		[]string{"method", "intent"},
	)

	EmergenciesDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_emergencies_detected_total",
			Help: "Emergency keyword detections by severity",
		},
		[]string{"severity"},
	)

	LLMFallbackFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medcp_intent_llm_fallback_failures_total",
			Help: "LLM classification calls that failed and degraded to the NLU result",
		},
	)

	ConfidenceScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medcp_confidence_score",
			Help:    "Adjusted retrieval confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"level"},
	)

	RetrievedChunks = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "medcp_retrieved_chunks_count",
			Help:    "Number of chunks kept per query",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	RerankFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medcp_rerank_fallbacks_total",
			Help: "Rerank calls that failed and fell back to score ordering",
		},
	)

	EmbeddingBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_embedding_batches_total",
			Help: "Embedding batches sent to the backend",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medcp_documents_ingested_total",
			Help: "Total documents ingested",
		},
	)

	ChunksProduced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medcp_chunks_produced_total",
			Help: "Total chunks produced by ingestion",
		},
	)

	ToolExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medcp_tool_executions_total",
			Help: "Clinical tool executions",
		},
		[]string{"tool", "status"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(IntentClassifications)
	prometheus.MustRegister(EmergenciesDetected)
	prometheus.MustRegister(LLMFallbackFailures)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(RetrievedChunks)
	prometheus.MustRegister(RerankFallbacks)
	prometheus.MustRegister(EmbeddingBatches)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(ChunksProduced)
	prometheus.MustRegister(ToolExecutions)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
