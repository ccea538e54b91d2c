// Package service is the interface front ends talk to: text turns, voice turns and
// conversation history, with validation and status mapping.
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/raphaelgruber/tempest/internal/agent"
	"github.com/raphaelgruber/tempest/internal/gate"
	"github.com/raphaelgruber/tempest/internal/models"
	"github.com/raphaelgruber/tempest/internal/session"
	"github.com/raphaelgruber/tempest/internal/speech"
	"github.com/raphaelgruber/tempest/internal/tools"
)

// Request is one prompt from a front end. Personality fields are optional overrides.
type Request struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
	models.Personality
}

// Chunk is one streamed piece of a reply. Final marks the closing line of a stream,
// which repeats the whole reply.
type Chunk struct {
	RespondingTo string `json:"respondingTo"`
	Response     string `json:"response"`
	Audio        string `json:"audio,omitempty"`
	Final        bool   `json:"final,omitempty"`
}

// Response is a finished reply. Audio is base64 WAV when synthesis is enabled.
type Response = Chunk

// ChunkFunc receives streamed chunks. Returning an error aborts the turn.
type ChunkFunc func(Chunk) error

// Options configures optional collaborators.
type Options struct {
	// Speech synthesizes audio for replies; nil disables audio.
	Speech *speech.Pipeline

	// Sessions holds voice sessions; nil creates a registry with the default debounce.
	Sessions *session.Registry

	// Catalog resolves personality names; nil uses the built-in default.
	Catalog *models.Catalog

	// MergeToolResults shows tool outcomes to the model when it writes the reply.
	MergeToolResults bool
}

// Service answers front-end requests.
type Service struct {
	agent    *agent.Agent
	gate     *gate.Gate
	speech   *speech.Pipeline
	sessions *session.Registry
	catalog  *models.Catalog
	merge    bool
	turns    channelLocks
	logger   *slog.Logger
}

// New creates a service. logger may be nil.
func New(a *agent.Agent, g *gate.Gate, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewRegistry(session.DefaultDebounce, logger)
	}
	if opts.Catalog == nil {
		opts.Catalog = models.NewCatalog()
	}
	return &Service{
		agent:    a,
		gate:     g,
		speech:   opts.Speech,
		sessions: opts.Sessions,
		catalog:  opts.Catalog,
		merge:    opts.MergeToolResults,
		logger:   logger,
	}
}

// Sessions returns the voice session registry.
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

// Agent returns the underlying turn orchestrator.
func (s *Service) Agent() *agent.Agent {
	return s.agent
}

// Close cancels pending voice utterances.
func (s *Service) Close() {
	s.sessions.Close()
}

// channelLocks serializes turns per channel; the agent holds no per-channel state.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock blocks until channel is free and returns the unlock func.
func (l *channelLocks) lock(channel string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[channel]
	if !ok {
		m = &sync.Mutex{}
		l.locks[channel] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// aliases remap test identities to the memory they should share.
var aliases = map[string]string{
	"moon1945": "moon",
	"moon":     "viyi",
}

// ResolveIdentity returns the channel a user id's memory lives in. Aliases apply once.
func ResolveIdentity(userID string) string {
	userID = strings.TrimSpace(userID)
	if alias, ok := aliases[userID]; ok {
		return alias
	}
	return userID
}

// useTools runs the tool side channel. Failures are logged; tools never block a reply.
func (s *Service) useTools(ctx context.Context, text string, p models.Personality) []tools.Result {
	results, err := s.agent.UseTools(ctx, text, p)
	if err != nil {
		s.logger.Warn("tool pass failed", "error", err)
		return nil
	}
	if !s.merge {
		return nil
	}
	return results
}

func validate(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" || strings.TrimSpace(req.UserID) == "" {
		return badRequest("prompt and userId are required")
	}
	return nil
}
