// Package proximity finds the users that share a matching bucket with a
// given coordinate.
package proximity

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

// TrackedUser is one entry of the nearby list.
type TrackedUser struct {
	UserID          string          `json:"user_id"`
	DisplayName     string          `json:"display_name"`
	Coordinate      *geo.Coordinate `json:"-"`
	DistanceKm      *float64        `json:"distance_km"`
	HasRealLocation bool            `json:"has_real_location"`
}

// Matcher is the interface the orchestrator consumes.
type Matcher interface {
	FindNearby(ctx context.Context, selfID string, c geo.Coordinate, limit int) ([]TrackedUser, error)
	FindAll(ctx context.Context, selfID string, limit int) ([]TrackedUser, error)
}

type BucketMatcher struct {
	store     RecordStore
	precision int
	timeout   time.Duration
	logger    logger.Logger
}

const DefaultQueryTimeout = 5 * time.Second

func NewBucketMatcher(store RecordStore, precision int, timeout time.Duration, log logger.Logger) *BucketMatcher {
	if precision <= 0 {
		precision = geo.UserBucketPrecision
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &BucketMatcher{
		store:     store,
		precision: precision,
		timeout:   timeout,
		logger:    log,
	}
}

// FindNearby returns the users whose last bucket equals the bucket of c.
// Co-bucketed users are reported at distance 0 so two strangers never learn
// more than "same bucket" about each other.
func (m *BucketMatcher) FindNearby(ctx context.Context, selfID string, c geo.Coordinate, limit int) ([]TrackedUser, error) {
	if selfID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	bucket := geo.BucketOf(c, m.precision)
	// limit is applied after sorting, the store only bounds the scan
	records, err := m.store.QueryUsersByBucket(ctx, bucket, selfID, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryFailed, err)
	}

	users := make([]TrackedUser, 0, len(records))
	for _, r := range records {
		if r.ID == selfID || r.Bucket == nil || *r.Bucket != bucket {
			continue
		}
		center := r.Bucket.Center()
		zero := 0.0
		users = append(users, TrackedUser{
			UserID:          r.ID,
			DisplayName:     r.DisplayName,
			Coordinate:      &center,
			DistanceKm:      &zero,
			HasRealLocation: true,
		})
	}

	SortByDisplayName(users)
	users = truncate(users, limit)

	m.logger.Debug("Nearby users matched", "bucket", bucket.Key(), "count", len(users))
	return users, nil
}

// FindAll is the degraded path: every known user, unordered, no distance.
func (m *BucketMatcher) FindAll(ctx context.Context, selfID string, limit int) ([]TrackedUser, error) {
	if selfID == "" {
		return nil, apperrors.ErrUnauthenticated
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	records, err := m.store.QueryAllUsers(ctx, selfID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryFailed, err)
	}

	users := make([]TrackedUser, 0, len(records))
	for _, r := range records {
		if r.ID == selfID {
			continue
		}
		users = append(users, TrackedUser{
			UserID:          r.ID,
			DisplayName:     r.DisplayName,
			HasRealLocation: false,
		})
	}
	return truncate(users, limit), nil
}

// SortByDisplayName orders by display name, case-insensitively, then by id.
func SortByDisplayName(users []TrackedUser) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := strings.ToLower(users[i].DisplayName), strings.ToLower(users[j].DisplayName)
		if a != b {
			return a < b
		}
		return users[i].UserID < users[j].UserID
	})
}

func truncate(users []TrackedUser, limit int) []TrackedUser {
	if limit > 0 && len(users) > limit {
		return users[:limit]
	}
	return users
}
