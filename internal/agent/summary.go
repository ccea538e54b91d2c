package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/parser"
	"github.com/raphaelgruber/tempest/internal/prompt"
)

// SummaryCompressThreshold is the summary length, in characters, above which the model is
// asked to compress the older half.
const SummaryCompressThreshold = 700

// ErrEmptySummary means the model produced nothing usable as a summary.
var ErrEmptySummary = errors.New("empty summary")

// SummarizeEvents asks the model for the channel's next summary given the latest exchange.
// It opens a summary when none exists and otherwise updates the current one.
func (a *Agent) SummarizeEvents(ctx context.Context, c memory.Collection, turn Turn, reply string) (string, error) {
	current, err := memory.LatestSummary(ctx, a.store, c)
	if err != nil {
		return "", fmt.Errorf("fetch summary: %w", err)
	}

	p := turn.Personality.WithDefaults()
	bindings := prompt.PersonalityBindings(p)
	exchange := prompt.Render(prompt.SummaryExchange, bindings.Merge(prompt.Bindings{
		"speaker": turn.Speaker,
		"prompt":  turn.Prompt,
		"reply":   parser.StripReasoning(reply),
	}))

	request := summaryRequest(current, exchange)
	system := prompt.Render(prompt.SummarySystem, bindings)

	out, err := a.model.Generate(ctx, request, system)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}

	summary := strings.TrimSpace(parser.StripReasoning(out))
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

func summaryRequest(current *models.Memory, exchange string) string {
	if current == nil || strings.TrimSpace(current.Text) == "" {
		return prompt.Render(prompt.SummaryOpening, prompt.Bindings{"exchange": exchange})
	}

	request := prompt.Render(prompt.SummaryUpdate, prompt.Bindings{
		"summary":  current.Text,
		"exchange": exchange,
	})
	if len(current.Text) > SummaryCompressThreshold {
		request += prompt.SummaryCompress
	}
	return request
}

// refreshSummary regenerates the summary and makes it the channel's only one.
func (a *Agent) refreshSummary(ctx context.Context, c memory.Collection, turn Turn, reply string) error {
	text, err := a.SummarizeEvents(ctx, c, turn, reply)
	if err != nil {
		return err
	}

	vec, err := a.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}
	if err := memory.ReplaceSummary(ctx, a.store, c, models.NewSummaryMemory(text), vec); err != nil {
		return err
	}

	a.logger.Debug("summary refreshed", "collection", c.Name, "summary_len", len(text))
	return nil
}
