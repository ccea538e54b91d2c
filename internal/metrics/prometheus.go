package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tempest"

// promMetrics mirrors the in-memory statistics into a Prometheus registry.
type promMetrics struct {
	registry  *prometheus.Registry
	duration  *prometheus.HistogramVec
	tokens    *prometheus.CounterVec
	cacheHits prometheus.Counter
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newPromMetrics() *promMetrics {
	p := &promMetrics{
		registry: prometheus.NewRegistry(),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of turns, inference, storage and synthesis operations",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"op"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_total",
				Help:      "Tokens consumed by LLM calls",
			},
			[]string{"op", "direction"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_hits_total",
			Help:      "Embeddings served from the cache",
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			},
			[]string{"route", "status"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	p.registry.MustRegister(
		p.duration, p.tokens, p.cacheHits, p.requests, p.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *promMetrics) observe(op string, d time.Duration) {
	p.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (p *promMetrics) addTokens(op string, in, out int64) {
	p.tokens.WithLabelValues(op, "input").Add(float64(in))
	p.tokens.WithLabelValues(op, "output").Add(float64(out))
}

// Registry returns the Prometheus registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.prom.registry
}

// RecordRequest records one served HTTP request.
func (c *Collector) RecordRequest(route string, status int, d time.Duration) {
	c.prom.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	c.prom.latency.WithLabelValues(route).Observe(d.Seconds())
}
