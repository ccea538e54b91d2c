// Package agent drives conversational turns: grounding, streamed generation, memory persistence
// and rolling summary maintenance.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/raphaelgruber/tempest/internal/embedding"
	"github.com/raphaelgruber/tempest/internal/llm"
	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/parser"
	"github.com/raphaelgruber/tempest/internal/prompt"
	"github.com/raphaelgruber/tempest/internal/rag"
	"github.com/raphaelgruber/tempest/internal/tools"
)

// Turn is one prompt to answer.
type Turn struct {
	Prompt      string
	Speaker     string
	Personality models.Personality

	// ToolResults are shown to the model as actions already taken for this prompt.
	ToolResults []tools.Result
}

// Sink receives each completed sentence of a reply as soon as it is known.
type Sink func(sentence string) error

// Stage marks where a turn is when a ProgressEvent fires.
type Stage int

const (
	StageStarted Stage = iota
	StageFragment
	StageDone
)

// ProgressEvent reports generation progress for one channel.
type ProgressEvent struct {
	Channel  string
	Stage    Stage
	Fragment string
}

// ProgressFunc observes turn progress. It must not block.
type ProgressFunc func(ProgressEvent)

// Agent runs turns against one memory store. It holds no per-channel state; callers
// serialize turns per channel.
type Agent struct {
	store     memory.Store
	embedder  embedding.Embedder
	model     llm.Inference
	assembler *rag.Assembler
	tools     *tools.Registry
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu        sync.RWMutex
	observers map[int]ProgressFunc
	nextID    int
}

// New creates an agent. toolbox, mc and logger may be nil.
func New(store memory.Store, embedder embedding.Embedder, model llm.Inference, toolbox *tools.Registry, mc *metrics.Collector, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:     store,
		embedder:  embedder,
		model:     model,
		assembler: rag.NewAssembler(store, embedder, mc, logger),
		tools:     toolbox,
		metrics:   mc,
		logger:    logger,
		observers: make(map[int]ProgressFunc),
	}
}

// Assembler returns the context assembler the agent grounds turns with.
func (a *Agent) Assembler() *rag.Assembler {
	return a.assembler
}

// Subscribe registers fn for progress events of every channel. Call the returned func to unsubscribe.
func (a *Agent) Subscribe(fn ProgressFunc) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.observers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

func (a *Agent) notify(ev ProgressEvent) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, fn := range a.observers {
		fn(ev)
	}
}

// Collection returns the channel's memory collection, creating it on first use.
func (a *Agent) Collection(ctx context.Context, channel string) (memory.Collection, error) {
	c, err := a.store.EnsureCollection(ctx, channel)
	if err != nil {
		return memory.Collection{}, fmt.Errorf("ensure collection: %w", err)
	}
	return c, nil
}

// SaveIncomingPrompt stores a user's message in the channel's history.
func (a *Agent) SaveIncomingPrompt(ctx context.Context, c memory.Collection, text, speaker string) error {
	return a.remember(ctx, c, models.NewChatMemory(speaker, text))
}

func (a *Agent) remember(ctx context.Context, c memory.Collection, m models.Memory) error {
	vec, err := a.embedder.Embed(ctx, m.Text)
	if err != nil {
		return fmt.Errorf("embed memory: %w", err)
	}
	if err := a.store.Insert(ctx, c, m, vec); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// RunTurn generates the reply to turn, streaming each sentence to sink (which may be nil).
// The raw reply, reasoning markers included, is persisted and returned. Sentences already
// handed to sink stay delivered if the turn later fails. A failed summary refresh is logged
// and does not fail the turn.
func (a *Agent) RunTurn(ctx context.Context, c memory.Collection, turn Turn, sink Sink) (string, error) {
	start := time.Now()
	turn.Personality = turn.Personality.WithDefaults()

	grounding, err := a.assembler.Assemble(ctx, c, turn.Prompt, rag.TurnRecent, rag.TurnRelevant)
	if err != nil {
		return "", fmt.Errorf("assemble context: %w", err)
	}
	messages := a.buildMessages(grounding, turn)

	a.notify(ProgressEvent{Channel: c.Channel, Stage: StageStarted})
	defer a.notify(ProgressEvent{Channel: c.Channel, Stage: StageDone})

	var chunker *parser.SentenceChunker
	if sink != nil {
		chunker = parser.NewSentenceChunker(sink)
	}

	reply, err := a.model.ChatStream(ctx, messages, func(fragment string) error {
		a.notify(ProgressEvent{Channel: c.Channel, Stage: StageFragment, Fragment: fragment})
		if chunker == nil {
			return nil
		}
		return chunker.Feed(fragment)
	})
	if err != nil {
		return "", fmt.Errorf("stream reply: %w", err)
	}
	if chunker != nil {
		if err := chunker.Flush(); err != nil {
			return "", fmt.Errorf("flush reply: %w", err)
		}
	}

	if strings.TrimSpace(reply) == "" {
		a.logger.Warn("model returned an empty reply", "collection", c.Name, "speaker", turn.Speaker)
		return reply, nil
	}

	if err := a.remember(ctx, c, models.NewChatMemory(models.SelfAuthor, reply)); err != nil {
		return reply, fmt.Errorf("persist reply: %w", err)
	}

	if err := a.refreshSummary(ctx, c, turn, reply); err != nil {
		a.logger.Warn("summary refresh failed", "collection", c.Name, "error", err)
	}

	if a.metrics != nil {
		a.metrics.RecordTiming(metrics.OpTurn, time.Since(start))
	}
	a.logger.Info("turn complete",
		"collection", c.Name,
		"speaker", turn.Speaker,
		"reply_len", len(reply),
		"duration_ms", time.Since(start).Milliseconds())

	return reply, nil
}

// buildMessages lays out the system prompt followed by the recent history as chat turns.
// Recent history travels as messages, so the system prompt carries only summary and relevant memories.
func (a *Agent) buildMessages(grounding rag.Context, turn Turn) []llm.Message {
	systemCtx := grounding
	systemCtx.Recent = nil
	system := systemCtx.SystemPrompt(turn.Personality)
	if len(turn.ToolResults) > 0 {
		system += "\n\n" + prompt.Render(prompt.ToolResults, prompt.Bindings{"results": tools.Summarize(turn.ToolResults)})
	}

	messages := make([]llm.Message, 0, len(grounding.Recent)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, m := range grounding.Recent {
		messages = append(messages, toMessage(m))
	}

	if !endsWithPrompt(grounding.Recent, turn) {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Speaker + ": " + turn.Prompt})
	}
	return messages
}

func toMessage(m models.Memory) llm.Message {
	if m.IsSelf() {
		return llm.Message{Role: llm.RoleAssistant, Content: m.Text}
	}
	return llm.Message{Role: llm.RoleUser, Content: m.Author + ": " + m.Text}
}

// endsWithPrompt reports whether the prompt was already saved as the latest record.
func endsWithPrompt(recent []models.Memory, turn Turn) bool {
	if len(recent) == 0 {
		return false
	}
	last := recent[len(recent)-1]
	return last.Author == turn.Speaker && last.Text == turn.Prompt
}

// GetHistory returns the channel's latest chat history, oldest first.
// Channels that never stored anything yield memory.ErrCollectionNotFound.
func (a *Agent) GetHistory(ctx context.Context, channel string, limit int) ([]models.Memory, error) {
	c, err := a.existing(ctx, channel)
	if err != nil {
		return nil, err
	}

	recent, err := a.store.FetchRecent(ctx, c, limit, models.KindChatHistory)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return rag.Chronological(recent), nil
}

// DeleteConversation drops the channel's whole memory collection.
func (a *Agent) DeleteConversation(ctx context.Context, channel string) error {
	c, err := a.existing(ctx, channel)
	if err != nil {
		return err
	}
	if err := a.store.DeleteCollection(ctx, c); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	a.logger.Info("conversation deleted", "collection", c.Name)
	return nil
}

func (a *Agent) existing(ctx context.Context, channel string) (memory.Collection, error) {
	ok, err := a.store.CollectionExists(ctx, channel)
	if err != nil {
		return memory.Collection{}, fmt.Errorf("check collection: %w", err)
	}
	if !ok {
		return memory.Collection{}, fmt.Errorf("%w: %s", memory.ErrCollectionNotFound, channel)
	}
	return memory.Collection{Channel: channel, Name: models.CollectionName(channel)}, nil
}

// UseTools lets the model pick tools for text and runs them. The no-op default tool is
// not reported. Without a registry it does nothing.
func (a *Agent) UseTools(ctx context.Context, text string, p models.Personality) ([]tools.Result, error) {
	if a.tools == nil || a.tools.Len() == 0 {
		return nil, nil
	}

	system := prompt.Render(prompt.ToolSelection, prompt.PersonalityBindings(p))
	res, err := a.model.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: text},
	}, a.tools.Definitions())
	if err != nil {
		return nil, fmt.Errorf("select tools: %w", err)
	}

	var results []tools.Result
	for _, call := range res.ToolCalls {
		r := a.tools.Invoke(ctx, call)
		if r.Err != nil {
			a.logger.Warn("tool call failed", "tool", call.Name, "error", r.Err)
		} else {
			a.logger.Info("tool called", "tool", call.Name, "output", r.Output)
		}
		if call.Name == tools.DefaultName && r.Err == nil {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}
