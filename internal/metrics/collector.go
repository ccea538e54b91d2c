// Package metrics provides runtime statistics for turns, inference and storage,
// kept in memory for /stats and mirrored into Prometheus for /metrics.
package metrics

import (
	"sync"
	"time"
)

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"totalInputTokens,omitempty"`
	TotalOutputTokens *int64   `json:"totalOutputTokens,omitempty"`
	AvgInputTokens    *float64 `json:"avgInputTokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avgOutputTokens,omitempty"`
	MinInputTokens    *int64   `json:"minInputTokens,omitempty"`
	MaxInputTokens    *int64   `json:"maxInputTokens,omitempty"`
	MinOutputTokens   *int64   `json:"minOutputTokens,omitempty"`
	MaxOutputTokens   *int64   `json:"maxOutputTokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptimeSeconds"`
	Embedding     *OperationSnapshot `json:"embedding,omitempty"`
	LLMGenerate   *OperationSnapshot `json:"llmGenerate,omitempty"`
	LLMStream     *OperationSnapshot `json:"llmStream,omitempty"`
	StoreQuery    *OperationSnapshot `json:"storeQuery,omitempty"`
	StoreSearch   *OperationSnapshot `json:"storeSearch,omitempty"`
	Gate          *OperationSnapshot `json:"gate,omitempty"`
	Turn          *OperationSnapshot `json:"turn,omitempty"`
	Synthesis     *OperationSnapshot `json:"synthesis,omitempty"`

	// EmbeddingCacheHits counts embeddings served without a model call.
	EmbeddingCacheHits int64 `json:"embeddingCacheHits"`
}

// Operation names for the collector.
const (
	OpEmbedding   = "embedding"
	OpLLMGenerate = "llm_generate"
	OpLLMStream   = "llm_stream"
	OpStoreQuery  = "store_query"
	OpStoreSearch = "store_search"
	OpGate        = "gate"
	OpTurn        = "turn"
	OpSynthesis   = "synthesis"
)

// stat aggregates one measured quantity across calls.
type stat struct {
	total, min, max int64
}

func (s *stat) add(v int64, first bool) {
	s.total += v
	if first || v < s.min {
		s.min = v
	}
	if v > s.max {
		s.max = v
	}
}

// opStats holds everything recorded for one operation.
type opStats struct {
	count     int64
	elapsed   stat // milliseconds
	hasTokens bool
	input     stat
	output    stat
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*opStats
	cacheHits int64
	prom      *promMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*opStats),
		prom:      newPromMetrics(),
	}
}

// record adds one call to op. Caller must hold the write lock.
func (c *Collector) record(op string, d time.Duration) *opStats {
	s, ok := c.ops[op]
	if !ok {
		s = &opStats{}
		c.ops[op] = s
	}
	s.elapsed.add(d.Milliseconds(), s.count == 0)
	s.count++
	return s
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.prom.observe(op, duration)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(op, duration)
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	c.prom.observe(op, duration)
	c.prom.addTokens(op, inputTokens, outputTokens)

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.record(op, duration)
	first := !s.hasTokens
	s.hasTokens = true
	s.input.add(inputTokens, first)
	s.output.add(outputTokens, first)
}

// RecordCacheHit counts one embedding served from cache.
func (c *Collector) RecordCacheHit() {
	c.prom.cacheHits.Inc()

	c.mu.Lock()
	c.cacheHits++
	c.mu.Unlock()
}

// snapshot computes the exported view, or nil when nothing was recorded.
func (s *opStats) snapshot() *OperationSnapshot {
	if s == nil || s.count == 0 {
		return nil
	}

	n := float64(s.count)
	snap := &OperationSnapshot{
		Count:       s.count,
		TotalTimeMs: s.elapsed.total,
		AvgTimeMs:   float64(s.elapsed.total) / n,
		MinTimeMs:   s.elapsed.min,
		MaxTimeMs:   s.elapsed.max,
	}
	if !s.hasTokens || s.input.total+s.output.total == 0 {
		return snap
	}

	in, out := s.input, s.output
	avgIn, avgOut := float64(in.total)/n, float64(out.total)/n
	snap.TotalInputTokens, snap.TotalOutputTokens = &in.total, &out.total
	snap.AvgInputTokens, snap.AvgOutputTokens = &avgIn, &avgOut
	snap.MinInputTokens, snap.MaxInputTokens = &in.min, &in.max
	snap.MinOutputTokens, snap.MaxOutputTokens = &out.min, &out.max
	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Embedding:     c.ops[OpEmbedding].snapshot(),
		LLMGenerate:   c.ops[OpLLMGenerate].snapshot(),
		LLMStream:     c.ops[OpLLMStream].snapshot(),
		StoreQuery:    c.ops[OpStoreQuery].snapshot(),
		StoreSearch:   c.ops[OpStoreSearch].snapshot(),
		Gate:          c.ops[OpGate].snapshot(),
		Turn:          c.ops[OpTurn].snapshot(),
		Synthesis:     c.ops[OpSynthesis].snapshot(),

		EmbeddingCacheHits: c.cacheHits,
	}
}
