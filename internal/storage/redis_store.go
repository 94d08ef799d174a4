package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// CellChannelPrefix prefixes the pub/sub channel of a geohash cell.
const CellChannelPrefix = "radar:cell:"

// CellChannel is the channel movement notices for cell are published on.
func CellChannel(cell string) string {
	return CellChannelPrefix + cell
}

// CellNotice is published when a user's bucket changes.
type CellNotice struct {
	UserID string `json:"user_id"`
	Bucket string `json:"bucket"`
}

const (
	fieldName      = "name"
	fieldBucket    = "bucket"
	fieldUpdatedAt = "updated_at"

	recentUsersKey = "users:recent"
)

// RedisRecordStore keeps one hash per user, one set per bucket and a
// recency index for the all-users listing.
type RedisRecordStore struct {
	redis     RedisClient
	cellChars uint
	logger    logger.Logger
	now       func() time.Time
}

func NewRedisRecordStore(client RedisClient, cellChars uint, log logger.Logger) *RedisRecordStore {
	return &RedisRecordStore{
		redis:     client,
		cellChars: cellChars,
		logger:    log,
		now:       time.Now,
	}
}

var _ proximity.RecordStore = (*RedisRecordStore)(nil)

func (s *RedisRecordStore) UpsertUser(ctx context.Context, userID, displayName string) error {
	if err := s.redis.HSet(ctx, userKey(userID), fieldName, displayName); err != nil {
		return fmt.Errorf("failed to save user %s: %w", userID, err)
	}
	return s.touch(ctx, userID)
}

func (s *RedisRecordStore) UpdateUserLocation(ctx context.Context, userID string, bucket geo.Bucket) error {
	key := bucket.Key()

	prev, err := s.redis.HGet(ctx, userKey(userID), fieldBucket)
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to read previous bucket: %w", err)
	}

	if prev != "" && prev != key {
		if err := s.redis.SRem(ctx, bucketKey(prev), userID); err != nil {
			return fmt.Errorf("failed to leave bucket %s: %w", prev, err)
		}
	}
	if err := s.redis.SAdd(ctx, bucketKey(key), userID); err != nil {
		return fmt.Errorf("failed to join bucket %s: %w", key, err)
	}

	now := s.now()
	if err := s.redis.HSet(ctx, userKey(userID),
		fieldBucket, key,
		fieldUpdatedAt, strconv.FormatInt(now.UnixMilli(), 10),
	); err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	if err := s.touch(ctx, userID); err != nil {
		return err
	}

	if prev != key {
		s.publishMove(ctx, userID, bucket)
	}
	return nil
}

func (s *RedisRecordStore) QueryUsersByBucket(ctx context.Context, bucket geo.Bucket, excludeUserID string, limit int) ([]proximity.UserRecord, error) {
	key := bucket.Key()
	ids, err := s.redis.SMembers(ctx, bucketKey(key))
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", key, err)
	}

	records := make([]proximity.UserRecord, 0, len(ids))
	for _, id := range ids {
		if id == excludeUserID {
			continue
		}
		rec, ok, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		// set membership can lag behind a concurrent move
		if !ok || rec.Bucket == nil || rec.Bucket.Key() != key {
			continue
		}
		records = append(records, rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (s *RedisRecordStore) QueryAllUsers(ctx context.Context, excludeUserID string, limit int) ([]proximity.UserRecord, error) {
	ids, err := s.redis.ZRevRange(ctx, recentUsersKey, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	records := make([]proximity.UserRecord, 0, len(ids))
	for _, id := range ids {
		if id == excludeUserID {
			continue
		}
		rec, ok, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		records = append(records, rec)
		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (s *RedisRecordStore) GetUserLocation(ctx context.Context, userID string) (*geo.Bucket, error) {
	key, err := s.redis.HGet(ctx, userKey(userID), fieldBucket)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read location of %s: %w", userID, err)
	}
	b, err := geo.ParseBucket(key)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *RedisRecordStore) load(ctx context.Context, userID string) (proximity.UserRecord, bool, error) {
	fields, err := s.redis.HGetAll(ctx, userKey(userID))
	if err != nil {
		return proximity.UserRecord{}, false, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return proximity.UserRecord{}, false, nil
	}

	rec := proximity.UserRecord{ID: userID, DisplayName: fields[fieldName]}
	if key := fields[fieldBucket]; key != "" {
		b, err := geo.ParseBucket(key)
		if err != nil {
			s.logger.Warn("Skipping malformed bucket", "user_id", userID, "bucket", key, "error", err)
		} else {
			rec.Bucket = &b
		}
	}
	if ms, err := strconv.ParseInt(fields[fieldUpdatedAt], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(ms)
	}
	return rec, true, nil
}

func (s *RedisRecordStore) touch(ctx context.Context, userID string) error {
	if err := s.redis.ZAdd(ctx, recentUsersKey, &redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: userID,
	}); err != nil {
		return fmt.Errorf("failed to index user %s: %w", userID, err)
	}
	return nil
}

func (s *RedisRecordStore) publishMove(ctx context.Context, userID string, bucket geo.Bucket) {
	payload, err := json.Marshal(CellNotice{UserID: userID, Bucket: bucket.Key()})
	if err != nil {
		return
	}
	channel := CellChannel(geo.Cell(bucket, s.cellChars))
	if err := s.redis.Publish(ctx, channel, payload); err != nil {
		s.logger.Warn("Failed to publish cell notice", "channel", channel, "error", err)
	}
}

func userKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

func bucketKey(key string) string {
	return fmt.Sprintf("bucket:%s", key)
}
