// Package session tracks continuous voice conversations: debouncing partial utterances
// and holding listening mode between turns.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is where a session is in the voice turn cycle.
type State int

const (
	Idle State = iota
	Debouncing
	Processing
	Listening
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Debouncing:
		return "debouncing"
	case Processing:
		return "processing"
	case Listening:
		return "listening"
	default:
		return "unknown"
	}
}

// Outcome is how one submitted utterance was resolved.
type Outcome int

const (
	// Responded means the utterance produced a reply.
	Responded Outcome = iota
	// Declined means the gate decided not to reply.
	Declined
	// Superseded means a later utterance restarted the debounce window.
	Superseded
	// Remembered means a turn was already running; the utterance was only saved.
	Remembered
	// Cancelled means the pending debounce was cancelled or the session evicted.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Responded:
		return "responded"
	case Declined:
		return "declined"
	case Superseded:
		return "superseded"
	case Remembered:
		return "remembered"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrEvicted is returned when submitting to a session that was evicted from its registry.
var ErrEvicted = errors.New("session evicted")

// Handler performs the steps of a voice turn for one utterance.
type Handler interface {
	// Prepare runs first for every debounced utterance, listening or not.
	Prepare(ctx context.Context, text string) error
	// ShouldRespond runs the gate. It is skipped while listening.
	ShouldRespond(ctx context.Context, text string) (bool, error)
	// Respond runs the turn.
	Respond(ctx context.Context, text string) error
	// IsConvoEnd decides whether the exchange just answered closes the conversation.
	IsConvoEnd(ctx context.Context, text string) (bool, error)
	// Remember saves an utterance that arrived while a turn was running.
	Remember(ctx context.Context, text string) error
}

type pending struct {
	ctx     context.Context
	text    string
	handler Handler
	done    chan result
}

type result struct {
	outcome Outcome
	err     error
}

// Session is the voice state of one channel. Turns within a session never overlap.
type Session struct {
	channel  string
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	listening bool
	timer     *time.Timer
	waiting   *pending
	evicted   bool
	// resetDuringTurn records a Reset that arrived while Processing.
	resetDuringTurn bool
}

func newSession(channel string, debounce time.Duration, logger *slog.Logger) *Session {
	return &Session{channel: channel, debounce: debounce, logger: logger}
}

// Channel returns the channel the session belongs to.
func (s *Session) Channel() string {
	return s.channel
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listening reports whether replies currently bypass the gate.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Submit hands one utterance to the session and blocks until it is resolved.
// A later Submit within the debounce window supersedes an earlier one, whose call
// returns Superseded. While a turn runs, new utterances are remembered, not answered.
func (s *Session) Submit(ctx context.Context, text string, h Handler) (Outcome, error) {
	s.mu.Lock()
	if s.evicted {
		s.mu.Unlock()
		return Cancelled, ErrEvicted
	}

	if s.state == Processing {
		s.mu.Unlock()
		s.logger.Debug("utterance during turn", "channel", s.channel)
		if err := h.Remember(ctx, text); err != nil {
			return Remembered, err
		}
		return Remembered, nil
	}

	p := &pending{ctx: ctx, text: text, handler: h, done: make(chan result, 1)}
	if s.waiting != nil {
		s.stopTimer()
		s.waiting.done <- result{outcome: Superseded}
		s.logger.Debug("debounce restarted", "channel", s.channel)
	}
	s.waiting = p
	s.state = Debouncing
	s.timer = time.AfterFunc(s.debounce, func() { s.fire(p) })
	s.mu.Unlock()

	select {
	case r := <-p.done:
		return r.outcome, r.err
	case <-ctx.Done():
		s.mu.Lock()
		if s.waiting == p {
			s.stopTimer()
			s.waiting = nil
			s.state = s.restingState()
		}
		s.mu.Unlock()
		return Cancelled, ctx.Err()
	}
}

// Reset cancels any pending utterance and leaves listening mode. A turn already running
// finishes, but the session does not return to listening afterwards.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.listening = false
	if s.state == Processing {
		s.resetDuringTurn = true
		return
	}
	s.state = Idle
}

func (s *Session) cancelLocked() {
	if s.waiting == nil {
		return
	}
	s.stopTimer()
	s.waiting.done <- result{outcome: Cancelled}
	s.waiting = nil
	s.state = s.restingState()
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) restingState() State {
	if s.listening {
		return Listening
	}
	return Idle
}

func (s *Session) fire(p *pending) {
	s.mu.Lock()
	if s.waiting != p {
		s.mu.Unlock()
		return
	}
	s.waiting = nil
	s.timer = nil
	s.state = Processing
	listening := s.listening
	s.mu.Unlock()

	outcome, listenAfter, err := s.process(p, listening)

	s.mu.Lock()
	if s.resetDuringTurn {
		listenAfter = false
		s.resetDuringTurn = false
	}
	s.listening = listenAfter
	s.state = s.restingState()
	s.mu.Unlock()

	p.done <- result{outcome: outcome, err: err}
}

// process runs one debounced utterance and returns the listening mode to continue in.
func (s *Session) process(p *pending, listening bool) (Outcome, bool, error) {
	if err := p.handler.Prepare(p.ctx, p.text); err != nil {
		return Declined, listening, err
	}

	if !listening {
		ok, err := p.handler.ShouldRespond(p.ctx, p.text)
		if err != nil {
			return Declined, listening, err
		}
		if !ok {
			s.logger.Debug("gate declined", "channel", s.channel)
			return Declined, false, nil
		}
	}

	if err := p.handler.Respond(p.ctx, p.text); err != nil {
		return Responded, listening, err
	}

	ended, err := p.handler.IsConvoEnd(p.ctx, p.text)
	if err != nil {
		s.logger.Warn("convo end check failed", "channel", s.channel, "error", err)
		return Responded, true, nil
	}
	if ended {
		s.logger.Info("conversation ended", "channel", s.channel)
	}
	return Responded, !ended, nil
}

func (s *Session) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.evicted = true
}
