package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is how long a voice session waits for the speaker to pause.
const DefaultDebounce = 2 * time.Second

// Registry holds one Session per channel. Sessions are created on first use and live
// until evicted.
type Registry struct {
	debounce time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a registry. A non-positive debounce uses DefaultDebounce.
func NewRegistry(debounce time.Duration, logger *slog.Logger) *Registry {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		debounce: debounce,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the channel's session, creating it if needed.
func (r *Registry) Get(channel string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[channel]
	if !ok {
		s = newSession(channel, r.debounce, r.logger)
		r.sessions[channel] = s
		r.logger.Debug("session created", "channel", channel)
	}
	return s
}

// Lookup returns the channel's session without creating one.
func (r *Registry) Lookup(channel string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[channel]
	return s, ok
}

// Evict removes the channel's session and cancels its pending utterance. A turn already
// running finishes; later submits to the evicted session fail with ErrEvicted.
func (r *Registry) Evict(channel string) bool {
	r.mu.Lock()
	s, ok := r.sessions[channel]
	delete(r.sessions, channel)
	r.mu.Unlock()

	if ok {
		s.evict()
		r.logger.Debug("session evicted", "channel", channel)
	}
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close cancels every pending utterance and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.evict()
	}
}
