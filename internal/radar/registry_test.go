package radar

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/storage"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

type fixtureFactory struct {
	mu        sync.Mutex
	fixtures  map[string]*fixture
	t         *testing.T
	failFirst bool
}

func newFixtureFactory(t *testing.T) *fixtureFactory {
	return &fixtureFactory{t: t, fixtures: make(map[string]*fixture)}
}

func (ff *fixtureFactory) build(sessionID string) (*Orchestrator, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.failFirst {
		ff.failFirst = false
		return nil, errors.New("no device")
	}
	f := newFixture()
	f.identity = staticIdentity(sessionID)
	ff.fixtures[sessionID] = f
	return f.start(ff.t), nil
}

func (ff *fixtureFactory) fixture(sessionID string) *fixture {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.fixtures[sessionID]
}

func TestRegistryOpenGetClose(t *testing.T) {
	ff := newFixtureFactory(t)
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())

	o, err := r.Open("s1")
	require.NoError(t, err)

	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, o, got)
	assert.Equal(t, 1, r.Len())

	require.NoError(t, o.StartTracking(context.Background(), "s1"))
	require.Equal(t, 1, ff.fixture("s1").platform.active())

	r.Close("s1", o)
	_, ok = r.Get("s1")
	assert.False(t, ok)
	assert.Zero(t, ff.fixture("s1").platform.active())
	assert.ErrorIs(t, o.Teardown(), apperrors.ErrClosed)
}

func TestRegistryOpenReplacesPrevious(t *testing.T) {
	ff := newFixtureFactory(t)
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())

	first, err := r.Open("s1")
	require.NoError(t, err)
	second, err := r.Open("s1")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.ErrorIs(t, first.Teardown(), apperrors.ErrClosed)

	// a stale close from the first connection leaves the second alone
	r.Close("s1", first)
	got, ok := r.Get("s1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistryOpenFactoryError(t *testing.T) {
	ff := newFixtureFactory(t)
	ff.failFirst = true
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())

	_, err := r.Open("s1")
	assert.Error(t, err)
	assert.Zero(t, r.Len())
}

func TestRegistryCleanupIdle(t *testing.T) {
	ff := newFixtureFactory(t)
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())
	now := time.Now()
	r.now = func() time.Time { return now }

	idle, err := r.Open("idle")
	require.NoError(t, err)

	now = now.Add(50 * time.Second)
	_, err = r.Open("busy")
	require.NoError(t, err)

	now = now.Add(20 * time.Second)
	assert.Equal(t, 1, r.cleanupIdle())

	_, ok := r.Get("idle")
	assert.False(t, ok)
	_, ok = r.Get("busy")
	assert.True(t, ok)
	assert.ErrorIs(t, idle.Teardown(), apperrors.ErrClosed)
}

func TestRegistryStartShutsDownOnCancel(t *testing.T) {
	ff := newFixtureFactory(t)
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())
	o, err := r.Open("s1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(waitTimeout):
		t.Fatal("registry did not stop")
	}
	assert.Zero(t, r.Len())
	assert.ErrorIs(t, o.Teardown(), apperrors.ErrClosed)
}

func noticePayload(t *testing.T, userID string, b geo.Bucket) string {
	t.Helper()
	data, err := json.Marshal(storage.CellNotice{UserID: userID, Bucket: b.Key()})
	require.NoError(t, err)
	return string(data)
}

func TestNotifierDispatch(t *testing.T) {
	ff := newFixtureFactory(t)
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())
	n := NewNotifier(nil, r, geo.DefaultCellChars, logger.NewNop())
	ctx := context.Background()

	o, err := r.Open("u1")
	require.NoError(t, err)
	_, err = r.Open("u3")
	require.NoError(t, err)
	require.NoError(t, o.RefreshNow(ctx))

	b, ok := o.LastBucket()
	require.True(t, ok)
	channel := storage.CellChannel(geo.Cell(b, geo.DefaultCellChars))

	updates, cancel := o.Subscribe()
	defer cancel()

	// the session without a location and the mover itself are skipped
	assert.Equal(t, 1, n.dispatch(channel, noticePayload(t, "u2", b)))
	next(t, updates, UpdateNearby)

	assert.Zero(t, n.dispatch(channel, noticePayload(t, "u1", b)))
	assert.Zero(t, n.dispatch(storage.CellChannel("zzzzzz"), noticePayload(t, "u2", b)))
	assert.Zero(t, n.dispatch(channel, "not json"))
}

func TestNotifierRunReceivesStoreNotices(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc := storage.WrapRedisClient(client)

	ff := newFixtureFactory(t)
	r := NewRegistry(ff.build, time.Minute, logger.NewNop())
	n := NewNotifier(rc, r, geo.DefaultCellChars, logger.NewNop())

	o, err := r.Open("u1")
	require.NoError(t, err)
	require.NoError(t, o.RefreshNow(context.Background()))
	b, _ := o.LastBucket()

	updates, cancel := o.Subscribe()
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- n.Run(ctx) }()
	require.Eventually(t, func() bool { return mr.PubSubNumPat() == 1 }, waitTimeout, 5*time.Millisecond)

	store := storage.NewRedisRecordStore(rc, geo.DefaultCellChars, logger.NewNop())
	require.NoError(t, store.UpdateUserLocation(context.Background(), "u2", b))

	next(t, updates, UpdateNearby)

	stop()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("notifier did not stop")
	}
}
