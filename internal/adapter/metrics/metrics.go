// Package metrics exports pipeline counters and latencies to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nexqa/internal/domain"
)

// Recorder owns a registry with the nexqa collectors. It satisfies the
// observer interface of the query and ingest use cases.
type Recorder struct {
	registry *prometheus.Registry

	queries        *prometheus.CounterVec
	queryLatency   *prometheus.HistogramVec
	chunksIngested *prometheus.CounterVec
	rerankFallback prometheus.Counter
	genTimeouts    prometheus.Counter
}

// NewRecorder creates the collectors and registers them, together with the
// Go runtime and process collectors, on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexqa_queries_total",
			Help: "Queries by resolved type and outcome",
		}, []string{"type", "outcome"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nexqa_query_latency_ms",
			Help:    "End to end query latency in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000, 300000},
		}, []string{"type"}),
		chunksIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nexqa_chunks_ingested_total",
			Help: "Chunks written per embedding provider",
		}, []string{"provider"}),
		rerankFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexqa_rerank_fallback_total",
			Help: "Queries that kept similarity order after a requested rerank",
		}),
		genTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nexqa_generation_timeouts_total",
			Help: "Generation calls that hit their deadline",
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.queries, r.queryLatency, r.chunksIngested, r.rerankFallback, r.genTimeouts,
	)
	return r
}

// QueryFinished records one query. An empty kind counts as success.
func (r *Recorder) QueryFinished(queryType string, kind domain.Kind, latency time.Duration) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	r.queries.WithLabelValues(queryType, outcome).Inc()
	r.queryLatency.WithLabelValues(queryType).Observe(float64(latency.Milliseconds()))
	if kind == domain.KindGenerationTimeout {
		r.genTimeouts.Inc()
	}
}

func (r *Recorder) ChunksIngested(providerID string, n int) {
	r.chunksIngested.WithLabelValues(providerID).Add(float64(n))
}

func (r *Recorder) RerankFallback() {
	r.rerankFallback.Inc()
}

// Registry exposes the registry for tests and custom exporters.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
