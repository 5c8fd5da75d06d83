package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragscope_query_duration_seconds",
			Help:    "End-to-end query duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"app_id"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"app_id", "status"},
	)

	RetrievedChunks = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragscope_retrieved_chunks",
			Help:    "Number of chunks returned by the search service per query",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
		[]string{"backend"},
	)

	GuardrailDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragscope_guardrail_dropped_chunks_total",
			Help: "Chunks dropped by the context filter guardrail",
		},
	)

	GuardrailKept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragscope_guardrail_kept_chunks_total",
			Help: "Chunks kept by the context filter guardrail",
		},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_llm_calls_total",
			Help: "Completion calls by provider, model and outcome",
		},
		[]string{"provider", "model", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragscope_llm_call_duration_seconds",
			Help:    "Completion call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "model"},
	)

	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ragscope_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	FeedbackScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragscope_feedback_score",
			Help:    "Aggregated feedback scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1.0},
		},
		[]string{"app_id", "feedback"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_feedback_total",
			Help: "Feedback evaluations by outcome",
		},
		[]string{"feedback", "status"},
	)

	FeedbackQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ragscope_feedback_queue_depth",
			Help: "Records waiting for feedback evaluation",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_documents_indexed_total",
			Help: "Documents processed by the indexer",
		},
		[]string{"status"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragscope_events_published_total",
			Help: "Events written to the event stream",
		},
		[]string{"type", "status"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			RetrievedChunks,
			GuardrailDropped,
			GuardrailKept,
			LLMCalls,
			LLMDuration,
			BreakerState,
			FeedbackScore,
			FeedbackTotal,
			FeedbackQueueDepth,
			CacheHits,
			CacheMisses,
			DocumentsIndexed,
			EventsPublished,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
