// Package rag assembles grounded prompt context from a channel's summary, recent and relevant memories.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/prompt"
)

// Window sizes used by the gate and the turn orchestrator.
const (
	GateRecent     = 5
	GateRelevant   = 5
	TurnRecent     = 8
	TurnRelevant   = 4
	ConvoEndRecent = 5
)

// Context is the retrieved memory for one prompt.
type Context struct {
	// Summary is the channel's rolling summary, nil when none exists yet.
	Summary *models.Memory

	// Recent holds the latest chat history, oldest first.
	Recent []models.Memory

	// Relevant holds semantically close chat history not already in Recent. Not ordered by time.
	Relevant []models.Memory

	// Embedding is the prompt's embedding, nil when no relevant lookup ran.
	Embedding []float32
}

// Assembler builds Contexts from a memory store.
type Assembler struct {
	store    memory.Store
	embedder embedding.Embedder
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewAssembler creates an assembler. mc and logger may be nil.
func NewAssembler(store memory.Store, embedder embedding.Embedder, mc *metrics.Collector, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{store: store, embedder: embedder, metrics: mc, logger: logger}
}

// Assemble fetches the summary, the recentCount latest records and the relevantCount records nearest to text.
// A relevantCount of zero skips the embedding and the vector lookup.
func (a *Assembler) Assemble(ctx context.Context, c memory.Collection, text string, recentCount, relevantCount int) (Context, error) {
	start := time.Now()
	var out Context

	summary, err := memory.LatestSummary(ctx, a.store, c)
	if err != nil {
		return Context{}, fmt.Errorf("fetch summary: %w", err)
	}
	out.Summary = summary

	if recentCount > 0 {
		recent, err := a.store.FetchRecent(ctx, c, recentCount, models.KindChatHistory)
		if err != nil {
			return Context{}, fmt.Errorf("fetch recent: %w", err)
		}
		out.Recent = Chronological(recent)
	}

	if relevantCount > 0 && strings.TrimSpace(text) != "" {
		emb, err := a.embedder.Embed(ctx, text)
		if err != nil {
			return Context{}, fmt.Errorf("embed prompt: %w", err)
		}
		out.Embedding = emb

		nearest, err := a.store.QueryNearest(ctx, c, emb, relevantCount, models.KindChatHistory)
		if err != nil {
			return Context{}, fmt.Errorf("query relevant: %w", err)
		}
		out.Relevant = Dedupe(out.Recent, nearest)
	}

	if a.metrics != nil {
		a.metrics.RecordTiming(metrics.OpStoreSearch, time.Since(start))
	}
	a.logger.Debug("context assembled",
		"collection", c.Name,
		"summary", out.Summary != nil,
		"recent", len(out.Recent),
		"relevant", len(out.Relevant),
		"duration_ms", time.Since(start).Milliseconds())

	return out, nil
}

// Chronological reverses a newest-first slice into a new oldest-first slice.
func Chronological(newestFirst []models.Memory) []models.Memory {
	out := make([]models.Memory, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out
}

// Dedupe returns relevant without any record whose ID also appears in recent. Order is kept.
func Dedupe(recent, relevant []models.Memory) []models.Memory {
	seen := make(map[string]struct{}, len(recent))
	for _, m := range recent {
		seen[m.ID] = struct{}{}
	}

	out := make([]models.Memory, 0, len(relevant))
	for _, m := range relevant {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}

// RenderMemory renders one record with its four tags and quoted text.
func RenderMemory(m models.Memory) string {
	significance := m.Significance
	if significance == "" {
		significance = models.SignificanceNone
	}
	return prompt.Render(prompt.Memory, prompt.Bindings{
		"importance":   strconv.FormatFloat(m.Importance, 'f', -1, 64),
		"explicitness": strconv.FormatFloat(m.Explicitness, 'f', -1, 64),
		"significance": string(significance),
		"author":       m.Author,
		"text":         m.Text,
	})
}

// RenderMemories renders records separated by blank lines.
func RenderMemories(ms []models.Memory) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, RenderMemory(m))
	}
	return strings.Join(parts, "\n\n")
}

// Render lays out the summary, relevant and recent sections. Empty sections are omitted.
func (c Context) Render() string {
	var sections []string
	if c.Summary != nil && c.Summary.Text != "" {
		sections = append(sections, prompt.Render(prompt.SummaryHeader, prompt.Bindings{"summary": c.Summary.Text}))
	}
	if len(c.Relevant) > 0 {
		sections = append(sections, prompt.Render(prompt.RelevantHeader, prompt.Bindings{"memories": RenderMemories(c.Relevant)}))
	}
	if len(c.Recent) > 0 {
		sections = append(sections, prompt.Render(prompt.RecentHeader, prompt.Bindings{"memories": RenderMemories(c.Recent)}))
	}
	return strings.Join(sections, "\n\n\n")
}

// SystemPrompt renders the role-play system prompt for p grounded on c.
func (c Context) SystemPrompt(p models.Personality) string {
	narration := prompt.NarrationDisallowed
	if p.AllowActionNarration {
		narration = prompt.NarrationAllowed
	}
	return prompt.Render(prompt.System, prompt.PersonalityBindings(p).Merge(prompt.Bindings{
		"narration": narration,
		"context":   c.Render(),
	}))
}
