// Package location wraps the device geolocation API behind a provider that
// offers one-shot and continuous acquisition, rounds every coordinate for
// privacy and reduces platform failures to a small error taxonomy.
package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

const (
	DefaultTimeout = 10 * time.Second
	DefaultMaxAge  = 60 * time.Second
)

type Provider struct {
	platform  Platform
	precision int
	logger    logger.Logger
	now       func() time.Time

	mu     sync.Mutex
	cached *geo.Coordinate
}

type Option func(*Provider)

// WithPrecision overrides the rounding applied to every coordinate.
func WithPrecision(decimals int) Option {
	return func(p *Provider) {
		p.precision = decimals
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

func NewProvider(platform Platform, log logger.Logger, opts ...Option) *Provider {
	p := &Provider{
		platform:  platform,
		precision: geo.UserBucketPrecision,
		logger:    log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetCurrentCoordinate returns a cached coordinate no older than maxAge, or
// acquires a fresh one within timeout. A platform that never answers yields
// a Timeout error once timeout elapses.
func (p *Provider) GetCurrentCoordinate(ctx context.Context, timeout, maxAge time.Duration) (geo.Coordinate, error) {
	if err := p.ready(); err != nil {
		return geo.Coordinate{}, err
	}

	if c, ok := p.cachedWithin(maxAge); ok {
		return c, nil
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		reading Reading
		err     error
	}
	// buffered so a late platform answer never blocks its goroutine
	results := make(chan result, 1)
	go func() {
		r, err := p.platform.CurrentPosition(ctx)
		results <- result{reading: r, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			return geo.Coordinate{}, classify(res.err)
		}
		c, err := p.normalize(res.reading)
		if err != nil {
			return geo.Coordinate{}, err
		}
		p.remember(c)
		return c, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return geo.Coordinate{}, newError(KindTimeout)
		}
		return geo.Coordinate{}, unknownError("acquisition canceled")
	}
}

// Watch subscribes to continuous readings. Every valid reading reaches
// onUpdate; filtering is left to the caller. The handle must be released
// with StopWatch.
func (p *Provider) Watch(onUpdate func(geo.Coordinate), onError func(error)) (*WatchHandle, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	h := &WatchHandle{platform: p.platform}

	id, err := p.platform.WatchPosition(
		func(r Reading) {
			if h.stopped.Load() {
				return
			}
			c, err := p.normalize(r)
			if err != nil {
				p.logger.Warn("Dropping invalid reading", "error", err)
				return
			}
			p.remember(c)
			onUpdate(c)
		},
		func(err error) {
			if h.stopped.Load() {
				return
			}
			onError(classify(err))
		},
	)
	if err != nil {
		return nil, classify(err)
	}

	h.id = id
	p.logger.Debug("Location watch started", "watch_id", id)
	return h, nil
}

// StopWatch releases h. Nil and already stopped handles are ignored.
func (p *Provider) StopWatch(h *WatchHandle) {
	if h == nil {
		return
	}
	if h.Stop() {
		p.logger.Debug("Location watch stopped", "watch_id", h.id)
	}
}

// QueryPermission forwards to the platform permissions API.
func (p *Provider) QueryPermission(ctx context.Context) (PermissionStatus, error) {
	return p.platform.QueryPermission(ctx)
}

func (p *Provider) ready() error {
	if !p.platform.Supported() {
		return newError(KindUnsupported)
	}
	if !p.platform.SecureContext() {
		return newError(KindInsecureContext)
	}
	return nil
}

func (p *Provider) normalize(r Reading) (geo.Coordinate, error) {
	captured := r.Timestamp
	if captured.IsZero() {
		captured = p.now()
	}
	c, err := geo.NewCoordinate(r.Latitude, r.Longitude, r.Accuracy, captured)
	if err != nil {
		return geo.Coordinate{}, unknownError(err.Error())
	}
	return c.Rounded(p.precision), nil
}

func (p *Provider) remember(c geo.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = &c
}

func (p *Provider) cachedWithin(maxAge time.Duration) (geo.Coordinate, bool) {
	if maxAge <= 0 {
		return geo.Coordinate{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached == nil {
		return geo.Coordinate{}, false
	}
	if p.now().Sub(p.cached.CapturedAt()) > maxAge {
		return geo.Coordinate{}, false
	}
	return *p.cached, true
}

// WatchHandle owns one platform watch.
type WatchHandle struct {
	id       WatchID
	platform Platform
	stopped  atomic.Bool
	once     sync.Once
}

// ID returns the platform watch id.
func (h *WatchHandle) ID() WatchID {
	return h.id
}

// Active reports whether the handle still holds its subscription.
func (h *WatchHandle) Active() bool {
	return !h.stopped.Load()
}

// Stop releases the platform subscription once and reports whether this
// call did the release.
func (h *WatchHandle) Stop() bool {
	released := false
	h.once.Do(func() {
		h.stopped.Store(true)
		h.platform.ClearWatch(h.id)
		released = true
	})
	return released
}
