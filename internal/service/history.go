package service

import (
	"context"
	"strings"

	"github.com/raphaelgruber/tempest/internal/models"
)

// GetHistory returns a user's latest chat records, oldest first. The user's voice session
// is evicted so a half-finished utterance does not outlive the inspection.
func (s *Service) GetHistory(ctx context.Context, userID string, limit int) ([]models.Memory, error) {
	if strings.TrimSpace(userID) == "" || limit <= 0 {
		return nil, badRequest("limit and userId are required")
	}

	channel := ResolveIdentity(userID)
	s.sessions.Evict(channel)
	return s.agent.GetHistory(ctx, channel, limit)
}

// DeleteHistory forgets a user's whole conversation and evicts the voice session.
func (s *Service) DeleteHistory(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return badRequest("userId is required")
	}

	channel := ResolveIdentity(userID)
	s.sessions.Evict(channel)
	if err := s.agent.DeleteConversation(ctx, channel); err != nil {
		return err
	}
	s.logger.Info("history deleted", "channel", channel)
	return nil
}

// ResetVoice takes a user's voice session out of listening mode and drops any utterance
// still waiting out the debounce. The conversation itself is kept.
func (s *Service) ResetVoice(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return badRequest("userId is required")
	}

	channel := ResolveIdentity(userID)
	if sess, ok := s.sessions.Lookup(channel); ok {
		sess.Reset()
		s.logger.Info("voice session reset", "channel", channel)
	}
	return nil
}
