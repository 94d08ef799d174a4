package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func bucketAt(lat, lon float64) geo.Bucket {
	return geo.UserBucket(geo.MustCoordinate(lat, lon))
}

func ids(records []proximity.UserRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// storeContract runs the behavior every record store must share.
func storeContract(t *testing.T, newStore func(t *testing.T) proximity.RecordStore) {
	ctx := context.Background()
	here := bucketAt(12.9716, 77.5946)
	there := bucketAt(12.98, 77.60)

	t.Run("query by bucket excludes self and other buckets", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpsertUser(ctx, "u1", "Asha"))
		require.NoError(t, s.UpsertUser(ctx, "u2", "Ben"))
		require.NoError(t, s.UpsertUser(ctx, "u3", "Chen"))
		require.NoError(t, s.UpdateUserLocation(ctx, "u1", here))
		require.NoError(t, s.UpdateUserLocation(ctx, "u2", here))
		require.NoError(t, s.UpdateUserLocation(ctx, "u3", there))

		got, err := s.QueryUsersByBucket(ctx, here, "u1", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "u2", got[0].ID)
		assert.Equal(t, "Ben", got[0].DisplayName)
		require.NotNil(t, got[0].Bucket)
		assert.Equal(t, here, *got[0].Bucket)
	})

	t.Run("moving leaves the old bucket", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.UpdateUserLocation(ctx, "u2", here))
		require.NoError(t, s.UpdateUserLocation(ctx, "u2", there))

		got, err := s.QueryUsersByBucket(ctx, here, "u1", 0)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = s.QueryUsersByBucket(ctx, there, "u1", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"u2"}, ids(got))
	})

	t.Run("neighbouring bucket is not matched", func(t *testing.T) {
		s := newStore(t)
		neighbour := geo.NewBucket(here.Latitude()+0.001, here.Longitude(), geo.UserBucketPrecision)
		require.NoError(t, s.UpdateUserLocation(ctx, "u2", neighbour))

		got, err := s.QueryUsersByBucket(ctx, here, "u1", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("query all honours exclude and limit", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"u1", "u2", "u3", "u4"} {
			require.NoError(t, s.UpsertUser(ctx, id, "name-"+id))
		}

		got, err := s.QueryAllUsers(ctx, "u1", 0)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"u2", "u3", "u4"}, ids(got))

		got, err = s.QueryAllUsers(ctx, "u1", 2)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.NotContains(t, ids(got), "u1")
	})

	t.Run("get user location", func(t *testing.T) {
		s := newStore(t)
		b, err := s.GetUserLocation(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, b)

		require.NoError(t, s.UpdateUserLocation(ctx, "u1", here))
		b, err = s.GetUserLocation(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, here.Key(), b.Key())
	})
}

func TestMemoryRecordStore(t *testing.T) {
	storeContract(t, func(t *testing.T) proximity.RecordStore {
		return NewMemoryRecordStore()
	})
}

func TestRedisRecordStore(t *testing.T) {
	storeContract(t, func(t *testing.T) proximity.RecordStore {
		_, client := newTestRedis(t)
		return NewRedisRecordStore(WrapRedisClient(client), geo.DefaultCellChars, logger.NewNop())
	})
}

func TestMemoryRecordStoreReindexesOnMove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	require.NoError(t, s.UpdateUserLocation(ctx, "u1", bucketAt(1, 1)))
	require.NoError(t, s.UpdateUserLocation(ctx, "u1", bucketAt(2, 2)))
	require.NoError(t, s.UpdateUserLocation(ctx, "u2", bucketAt(2, 2)))

	assert.Equal(t, 2, s.Size())
}

func TestMemoryRecordStoreCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryRecordStore()
	_, err := s.QueryUsersByBucket(ctx, bucketAt(1, 1), "u1", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisRecordStorePublishesCellNotice(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, client := newTestRedis(t)
	store := NewRedisRecordStore(WrapRedisClient(client), geo.DefaultCellChars, logger.NewNop())

	b := bucketAt(12.9716, 77.5946)
	sub := client.Subscribe(ctx, CellChannel(geo.Cell(b, geo.DefaultCellChars)))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, store.UpdateUserLocation(ctx, "u2", b))

	select {
	case msg := <-sub.Channel():
		var notice CellNotice
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
		assert.Equal(t, "u2", notice.UserID)
		assert.Equal(t, b.Key(), notice.Bucket)
	case <-ctx.Done():
		t.Fatal("no cell notice received")
	}
}

func TestRedisRecordStoreSkipsExpiredUsers(t *testing.T) {
	ctx := context.Background()
	mr, client := newTestRedis(t)
	store := NewRedisRecordStore(WrapRedisClient(client), geo.DefaultCellChars, logger.NewNop())

	b := bucketAt(12.9716, 77.5946)
	require.NoError(t, store.UpdateUserLocation(ctx, "u2", b))
	require.NoError(t, store.UpdateUserLocation(ctx, "u3", b))
	mr.Del(userKey("u3"))

	got, err := store.QueryUsersByBucket(ctx, b, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(got))

	all, err := store.QueryAllUsers(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(all))
}

func TestRedisRecordStoreUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisRecordStore(WrapRedisClient(client), geo.DefaultCellChars, logger.NewNop())
	mr.Close()

	_, err := store.QueryUsersByBucket(context.Background(), bucketAt(1, 1), "u1", 0)
	assert.Error(t, err)
}
