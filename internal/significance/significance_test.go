package significance

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/sonar/internal/geo"
)

func TestAcceptFirstReading(t *testing.T) {
	assert.True(t, Accept(nil, geo.MustCoordinate(1, 1), DefaultThresholdKm))
	assert.True(t, Accept(nil, geo.MustCoordinate(1, 1), 1e9))
}

func TestAcceptAgainstThreshold(t *testing.T) {
	origin := geo.MustCoordinate(12.972, 77.595)
	candidates := []geo.Coordinate{
		origin,
		geo.MustCoordinate(12.972, 77.596),
		geo.MustCoordinate(12.973, 77.595),
		geo.MustCoordinate(12.974, 77.595),
		geo.MustCoordinate(12.98, 77.6),
		geo.MustCoordinate(13.5, 78),
	}

	for _, threshold := range []float64{0.05, DefaultThresholdKm, 0.2, 1} {
		for _, c := range candidates {
			want := geo.DistanceKm(origin, c) >= threshold
			assert.Equal(t, want, Accept(&origin, c, threshold), "threshold %.2f candidate %s", threshold, c)
		}
	}

	// ~111m north is significant at the default, ~108m east at this latitude too
	assert.True(t, Accept(&origin, geo.MustCoordinate(12.973, 77.595), DefaultThresholdKm))
	assert.False(t, Accept(&origin, geo.MustCoordinate(12.9725, 77.595), DefaultThresholdKm))
}

func TestFilterTracksLastAccepted(t *testing.T) {
	f := NewFilter(0)
	assert.Nil(t, f.Last())

	a := geo.MustCoordinate(10, 10)
	require.True(t, f.Offer(a))
	assert.False(t, f.Offer(geo.MustCoordinate(10.0001, 10)))
	assert.Equal(t, a, *f.Last())

	b := geo.MustCoordinate(10.01, 10)
	assert.True(t, f.Offer(b))
	assert.Equal(t, b, *f.Last())

	f.Force(a)
	assert.Equal(t, a, *f.Last())

	f.Reset()
	assert.Nil(t, f.Last())
	assert.True(t, f.Offer(a))
}

type collector[T any] struct {
	mu    sync.Mutex
	calls []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, v)
}

func (c *collector[T]) snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]T(nil), c.calls...)
}

func TestDebounceTrailingEdgeLatestValue(t *testing.T) {
	var got collector[int]
	d := NewDebouncer(60*time.Millisecond, got.add)

	d.Trigger(1)
	time.Sleep(10 * time.Millisecond)
	d.Trigger(2)
	time.Sleep(10 * time.Millisecond)
	d.Trigger(3)
	assert.True(t, d.Pending())

	assert.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []int{3}, got.snapshot())
	assert.False(t, d.Pending())
}

func TestDebounceRestartsWindow(t *testing.T) {
	var got collector[int]
	d := NewDebouncer(80*time.Millisecond, got.add)

	start := time.Now()
	d.Trigger(1)
	time.Sleep(50 * time.Millisecond)
	d.Trigger(2)

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	// 50ms + a full fresh window
	assert.GreaterOrEqual(t, time.Since(start), 130*time.Millisecond)
	assert.Equal(t, []int{2}, got.snapshot())
}

func TestDebounceCancel(t *testing.T) {
	var got collector[string]
	d := NewDebouncer(30*time.Millisecond, got.add)

	d.Trigger("a")
	d.Cancel()
	d.Cancel()
	time.Sleep(80 * time.Millisecond)
	assert.Empty(t, got.snapshot())

	d.Trigger("b")
	assert.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"b"}, got.snapshot())
}
