package session

import (
	"context"
	"fmt"

	"github.com/askwhyharsh/sonar/pkg/logger"
)

type Manager struct {
	service SessionService
	logger  logger.Logger
}

func NewManager(service SessionService, log logger.Logger) *Manager {
	return &Manager{
		service: service,
		logger:  log,
	}
}

// ValidateSession checks that a session exists and refreshes its TTL.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("missing session id: %w", errSessionRequired)
	}

	session, err := m.service.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Update last seen
	if err := m.service.UpdateLastSeen(ctx, sessionID); err != nil {
		m.logger.Error("Failed to update last seen", "session_id", sessionID, "error", err)
	}

	return session, nil
}
