package proximity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/sonar/internal/geo"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

type stubStore struct {
	records   []UserRecord
	queryErr  error
	lastLimit int
}

func (s *stubStore) UpdateUserLocation(context.Context, string, geo.Bucket) error { return nil }
func (s *stubStore) UpsertUser(context.Context, string, string) error             { return nil }

func (s *stubStore) GetUserLocation(_ context.Context, userID string) (*geo.Bucket, error) {
	for _, r := range s.records {
		if r.ID == userID {
			return r.Bucket, nil
		}
	}
	return nil, nil
}

func (s *stubStore) QueryUsersByBucket(_ context.Context, bucket geo.Bucket, exclude string, limit int) ([]UserRecord, error) {
	s.lastLimit = limit
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []UserRecord
	for _, r := range s.records {
		if r.ID != exclude && r.Bucket != nil && *r.Bucket == bucket {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubStore) QueryAllUsers(_ context.Context, exclude string, limit int) ([]UserRecord, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var out []UserRecord
	for _, r := range s.records {
		if r.ID != exclude {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func record(id, name string, lat, lon float64) UserRecord {
	b := geo.UserBucket(geo.MustCoordinate(lat, lon))
	return UserRecord{ID: id, DisplayName: name, Bucket: &b, UpdatedAt: time.Now()}
}

func TestFindNearbyScenarioA(t *testing.T) {
	store := &stubStore{records: []UserRecord{
		record("me", "Me", 12.9716, 77.5946),
		record("u2", "Bright Otter", 12.97161, 77.59459),
		record("far", "Far Away", 12.99, 77.59),
	}}
	m := NewBucketMatcher(store, geo.UserBucketPrecision, time.Second, logger.NewNop())

	self := geo.MustCoordinate(12.9716, 77.5946)
	users, err := m.FindNearby(context.Background(), "me", self, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)

	u := users[0]
	assert.Equal(t, "u2", u.UserID)
	require.NotNil(t, u.DistanceKm)
	assert.Equal(t, 0.0, *u.DistanceKm)
	assert.True(t, u.HasRealLocation)
	require.NotNil(t, u.Coordinate)
	assert.Equal(t, 12.972, u.Coordinate.Latitude)
}

func TestFindNearbySortsAndTruncates(t *testing.T) {
	store := &stubStore{records: []UserRecord{
		record("c", "charlie", 1.0001, 1.0001),
		record("a2", "Alpha", 1.0001, 1.0001),
		record("b", "Bravo", 1.0001, 1.0001),
		record("a1", "alpha", 1.0001, 1.0001),
	}}
	m := NewBucketMatcher(store, 0, 0, logger.NewNop())

	users, err := m.FindNearby(context.Background(), "me", geo.MustCoordinate(1, 1), 0)
	require.NoError(t, err)
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.UserID)
	}
	assert.Equal(t, []string{"a1", "a2", "b", "c"}, ids)
	assert.Equal(t, 0, store.lastLimit, "store must not truncate before sorting")

	users, err = m.FindNearby(context.Background(), "me", geo.MustCoordinate(1, 1), 2)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, "a1", users[0].UserID)
}

func TestFindNearbyNeverReturnsSelf(t *testing.T) {
	store := &stubStore{records: []UserRecord{record("me", "Me", 5, 5)}}
	m := NewBucketMatcher(store, 0, 0, logger.NewNop())

	users, err := m.FindNearby(context.Background(), "me", geo.MustCoordinate(5, 5), 10)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestFindNearbyErrors(t *testing.T) {
	store := &stubStore{queryErr: errors.New("connection refused")}
	m := NewBucketMatcher(store, 0, 0, logger.NewNop())

	_, err := m.FindNearby(context.Background(), "me", geo.MustCoordinate(5, 5), 10)
	assert.ErrorIs(t, err, apperrors.ErrQueryFailed)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = m.FindAll(context.Background(), "me", 10)
	assert.ErrorIs(t, err, apperrors.ErrQueryFailed)

	_, err = m.FindNearby(context.Background(), "", geo.MustCoordinate(5, 5), 10)
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestFindAllHasNoLocation(t *testing.T) {
	store := &stubStore{records: []UserRecord{
		record("me", "Me", 5, 5),
		record("x", "X", 1, 1),
		{ID: "y", DisplayName: "Y"},
	}}
	m := NewBucketMatcher(store, 0, 0, logger.NewNop())

	users, err := m.FindAll(context.Background(), "me", 10)
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.False(t, u.HasRealLocation)
		assert.Nil(t, u.DistanceKm)
		assert.NotEqual(t, "me", u.UserID)
	}
}

func TestCoarsePrecisionMatchesWiderArea(t *testing.T) {
	store := &stubStore{records: []UserRecord{
		{ID: "near", DisplayName: "Near", Bucket: ptr(geo.BucketOf(geo.MustCoordinate(12.971, 77.591), 2))},
	}}
	m := NewBucketMatcher(store, 2, 0, logger.NewNop())

	users, err := m.FindNearby(context.Background(), "me", geo.MustCoordinate(12.974, 77.588), 10)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func ptr[T any](v T) *T {
	return &v
}
