// Package gate decides whether the agent should answer a message and whether a voice conversation is over.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/raphaelgruber/tempest/internal/llm"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/prompt"
	"github.com/raphaelgruber/tempest/internal/rag"
)

// verdictTail is how many trailing runes of a reply are searched for the verdict.
const verdictTail = 20

// Request is one message to judge.
type Request struct {
	Prompt      string
	Speaker     string
	Personality models.Personality
}

// Gate asks the inference service yes/no questions about the conversation.
type Gate struct {
	assembler *rag.Assembler
	model     llm.Inference
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a gate. mc and logger may be nil.
func New(assembler *rag.Assembler, model llm.Inference, mc *metrics.Collector, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{assembler: assembler, model: model, metrics: mc, logger: logger}
}

// ShouldRespond reports whether the agent should reply to req.
// Errors from the store or the model are returned; callers decide whether to treat them as "no".
func (g *Gate) ShouldRespond(ctx context.Context, c memory.Collection, req Request) (bool, error) {
	start := time.Now()

	grounding, err := g.assembler.Assemble(ctx, c, req.Prompt, rag.GateRecent, rag.GateRelevant)
	if err != nil {
		return false, fmt.Errorf("should respond: %w", err)
	}

	bindings := prompt.PersonalityBindings(req.Personality)
	system := prompt.Render(prompt.Gate, bindings.Merge(prompt.Bindings{"context": grounding.Render()}))
	question := prompt.Render(prompt.GateQuestion, bindings.Merge(prompt.Bindings{
		"speaker": req.Speaker,
		"prompt":  req.Prompt,
	}))

	reply, err := g.model.Generate(ctx, question, system)
	if err != nil {
		return false, fmt.Errorf("should respond: %w", err)
	}

	ok := AffirmativeVerdict(reply)
	g.record(start)
	g.logger.Debug("gate verdict", "collection", c.Name, "speaker", req.Speaker, "respond", ok, "tail", tail(reply))
	return ok, nil
}

// IsConvoEnd reports whether req closes the ongoing voice conversation.
func (g *Gate) IsConvoEnd(ctx context.Context, c memory.Collection, req Request) (bool, error) {
	start := time.Now()

	grounding, err := g.assembler.Assemble(ctx, c, req.Prompt, rag.ConvoEndRecent, 0)
	if err != nil {
		return false, fmt.Errorf("convo end: %w", err)
	}

	bindings := prompt.PersonalityBindings(req.Personality)
	system := prompt.Render(prompt.ConvoEnd, bindings.Merge(prompt.Bindings{"context": grounding.Render()}))
	question := prompt.Render(prompt.ConvoEndQuestion, bindings.Merge(prompt.Bindings{
		"speaker": req.Speaker,
		"prompt":  req.Prompt,
	}))

	reply, err := g.model.Generate(ctx, question, system)
	if err != nil {
		return false, fmt.Errorf("convo end: %w", err)
	}

	ended := AffirmativeVerdict(reply)
	g.record(start)
	g.logger.Debug("convo end verdict", "collection", c.Name, "speaker", req.Speaker, "ended", ended, "tail", tail(reply))
	return ended, nil
}

func (g *Gate) record(start time.Time) {
	if g.metrics != nil {
		g.metrics.RecordTiming(metrics.OpGate, time.Since(start))
	}
}

// AffirmativeVerdict reads a yes/no answer from the end of a free-form reply.
// Only the last 20 runes are inspected, so a reasoning preamble is ignored. Within them
// the last standalone "yes" or "no" wins: "yes, but actually no" is negative.
func AffirmativeVerdict(reply string) bool {
	ws := words(tail(reply))
	for i := len(ws) - 1; i >= 0; i-- {
		switch ws[i] {
		case "yes":
			return true
		case "no":
			return false
		}
	}
	return false
}

// tail returns the last verdictTail runes of the trimmed, lower-cased reply,
// dropping a word that the cut left partial.
func tail(reply string) string {
	r := []rune(strings.ToLower(strings.TrimSpace(reply)))
	if len(r) <= verdictTail {
		return string(r)
	}

	start := len(r) - verdictTail
	for start < len(r) && isWordRune(r[start-1]) && isWordRune(r[start]) {
		start++
	}
	return strings.TrimSpace(string(r[start:]))
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return !isWordRune(r) })
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
