package permission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/location"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

type stubQuerier struct {
	status location.PermissionStatus
	err    error
}

func (q *stubQuerier) QueryPermission(context.Context) (location.PermissionStatus, error) {
	return q.status, q.err
}

type stubAcquirer struct {
	err    error
	calls  int
	maxAge time.Duration
}

func (a *stubAcquirer) GetCurrentCoordinate(_ context.Context, _ time.Duration, maxAge time.Duration) (geo.Coordinate, error) {
	a.calls++
	a.maxAge = maxAge
	if a.err != nil {
		return geo.Coordinate{}, a.err
	}
	return geo.MustCoordinate(1, 1), nil
}

func TestCheckWithoutQueryAPIStaysPending(t *testing.T) {
	m := NewMachine(&stubQuerier{err: location.ErrPermissionQueryUnsupported}, &stubAcquirer{}, 0, 0, logger.NewNop())
	assert.Equal(t, Pending, m.Check(context.Background()))

	m = NewMachine(nil, &stubAcquirer{}, 0, 0, logger.NewNop())
	assert.Equal(t, Pending, m.Check(context.Background()))
}

func TestCheckAppliesPlatformReports(t *testing.T) {
	q := &stubQuerier{status: location.PermissionGranted}
	m := NewMachine(q, &stubAcquirer{}, 0, 0, logger.NewNop())

	var seen [][2]State
	m.OnChange(func(from, to State) { seen = append(seen, [2]State{from, to}) })

	assert.Equal(t, Granted, m.Check(context.Background()))

	q.status = location.PermissionDenied // revocation
	assert.Equal(t, Denied, m.Check(context.Background()))

	q.status = location.PermissionGranted // re-enabled in settings
	assert.Equal(t, Granted, m.Check(context.Background()))

	assert.Equal(t, [][2]State{
		{Pending, Granted},
		{Granted, Denied},
		{Denied, Pending},
		{Pending, Granted},
	}, seen)
}

func TestCheckQueryFailureKeepsState(t *testing.T) {
	q := &stubQuerier{status: location.PermissionDenied}
	m := NewMachine(q, &stubAcquirer{}, 0, 0, logger.NewNop())
	require.Equal(t, Denied, m.Check(context.Background()))

	q.err = errors.New("bridge crashed")
	assert.Equal(t, Denied, m.Check(context.Background()))
}

func TestRequestAndTransition(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    State
		wantErr error
	}{
		{name: "acquisition succeeds", want: Granted},
		{name: "user denies", err: &location.Error{Kind: location.KindPermissionDenied}, want: Denied, wantErr: apperrors.ErrPermissionDenied},
		{name: "hardware unavailable", err: &location.Error{Kind: location.KindUnavailable}, want: Pending, wantErr: apperrors.ErrLocationUnavailable},
		{name: "timeout", err: &location.Error{Kind: location.KindTimeout}, want: Pending, wantErr: apperrors.ErrLocationTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acq := &stubAcquirer{err: tt.err}
			m := NewMachine(&stubQuerier{err: location.ErrPermissionQueryUnsupported}, acq, time.Second, 0, logger.NewNop())

			state, err := m.RequestAndTransition(context.Background())
			assert.Equal(t, tt.want, state)
			assert.Equal(t, 1, acq.calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAcquireReturnsCoordinate(t *testing.T) {
	acq := &stubAcquirer{}
	m := NewMachine(nil, acq, time.Second, time.Minute, logger.NewNop())

	c, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.Latitude)
	assert.Equal(t, Granted, m.State())
	assert.Equal(t, time.Minute, acq.maxAge)
}

func TestAcquireSkipsCacheWhenDenied(t *testing.T) {
	acq := &stubAcquirer{}
	m := NewMachine(nil, acq, time.Second, time.Minute, logger.NewNop())
	m.ObserveError(&location.Error{Kind: location.KindPermissionDenied})

	_, err := m.Acquire(context.Background())
	require.NoError(t, err)
	assert.Zero(t, acq.maxAge)
	assert.Equal(t, Granted, m.State())
}

func TestObservedOutcomesForceState(t *testing.T) {
	m := NewMachine(nil, &stubAcquirer{}, 0, 0, logger.NewNop())

	m.ObserveError(&location.Error{Kind: location.KindPermissionDenied})
	assert.Equal(t, Denied, m.State())

	m.ObserveError(errors.New("other"))
	assert.Equal(t, Denied, m.State())

	m.ObserveSuccess()
	assert.Equal(t, Granted, m.State())
}

func TestStateText(t *testing.T) {
	b, err := Denied.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "denied", string(b))
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "granted", Granted.String())
}
