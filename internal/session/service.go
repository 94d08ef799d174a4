package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/askwhyharsh/sonar/internal/storage"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type SessionService interface {
	Create(ctx context.Context, ipAddress string) (*Session, error)
	Get(ctx context.Context, sessionID string) (*Session, error)
	UpdateUsername(ctx context.Context, sessionID, newUsername string) (*Session, error)
	UpdateLastSeen(ctx context.Context, sessionID string) error
	Delete(ctx context.Context, sessionID string) error
	Exists(ctx context.Context, sessionID string) (bool, error)
}

// ProfileSink receives display names so the radar can show them.
type ProfileSink interface {
	UpsertUser(ctx context.Context, userID, displayName string) error
}

type Service struct {
	redis      storage.RedisClient
	profiles   ProfileSink
	ttl        time.Duration
	maxChanges int
	now        func() time.Time
}

type Session struct {
	ID                  string    `json:"id"`
	Username            string    `json:"username"`
	UsernameChangeCount int       `json:"username_change_count"`
	MaxUsernameChanges  int       `json:"max_username_changes"`
	CreatedAt           time.Time `json:"created_at"`
	LastSeen            time.Time `json:"last_seen"`
	IPAddress           string    `json:"-"`
}

// RemainingChanges is how many more times the username may change.
func (s *Session) RemainingChanges() int {
	return max(s.MaxUsernameChanges-s.UsernameChangeCount, 0)
}

func NewService(redisClient storage.RedisClient, profiles ProfileSink, ttl time.Duration, maxChanges int) *Service {
	return &Service{
		redis:      redisClient,
		profiles:   profiles,
		ttl:        ttl,
		maxChanges: maxChanges,
		now:        time.Now,
	}
}

var _ SessionService = (*Service)(nil)

func (s *Service) Create(ctx context.Context, ipAddress string) (*Session, error) {
	now := s.now()
	session := &Session{
		ID:                 uuid.New().String(),
		Username:           generateRandomUsername(),
		MaxUsernameChanges: s.maxChanges,
		CreatedAt:          now,
		LastSeen:           now,
		IPAddress:          ipAddress,
	}

	if err := s.save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.publishProfile(ctx, session); err != nil {
		return nil, err
	}

	return session, nil
}

func (s *Service) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.sessionKey(sessionID))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (s *Service) UpdateUsername(ctx context.Context, sessionID, newUsername string) (*Session, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.UsernameChangeCount >= session.MaxUsernameChanges {
		return nil, apperrors.ErrMaxUsernameChanges
	}

	session.Username = newUsername
	session.UsernameChangeCount++
	session.LastSeen = s.now()

	if err := s.save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.publishProfile(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) UpdateLastSeen(ctx context.Context, sessionID string) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	session.LastSeen = s.now()
	return s.save(ctx, session)
}

func (s *Service) Delete(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, s.sessionKey(sessionID))
}

func (s *Service) Exists(ctx context.Context, sessionID string) (bool, error) {
	count, err := s.redis.Exists(ctx, s.sessionKey(sessionID))
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) save(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return s.redis.Set(ctx, s.sessionKey(session.ID), data, s.ttl)
}

func (s *Service) publishProfile(ctx context.Context, session *Session) error {
	if s.profiles == nil {
		return nil
	}
	if err := s.profiles.UpsertUser(ctx, session.ID, session.Username); err != nil {
		return fmt.Errorf("failed to register profile: %w", err)
	}
	return nil
}

func (s *Service) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}
