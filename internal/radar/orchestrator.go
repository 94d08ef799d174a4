// Package radar ties location, permission and matching together for one
// app session. All session state is owned by a single event loop goroutine;
// platform callbacks, timers and background results reach it as events.
package radar

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/location"
	"github.com/askwhyharsh/sonar/internal/permission"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/internal/significance"
	"github.com/askwhyharsh/sonar/internal/telemetry"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

// IdentityProvider tells the orchestrator who is signed in.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, bool)
}

// Locator is the part of location.Provider the orchestrator drives.
type Locator interface {
	GetCurrentCoordinate(ctx context.Context, timeout, maxAge time.Duration) (geo.Coordinate, error)
	Watch(onUpdate func(geo.Coordinate), onError func(error)) (*location.WatchHandle, error)
	StopWatch(h *location.WatchHandle)
}

// LocationWriter persists the user's own bucket and reads it back.
type LocationWriter interface {
	UpdateUserLocation(ctx context.Context, userID string, bucket geo.Bucket) error
	GetUserLocation(ctx context.Context, userID string) (*geo.Bucket, error)
}

type Config struct {
	Precision        int
	ThresholdKm      float64
	Debounce         time.Duration
	AcquireTimeout   time.Duration
	MaxAge           time.Duration
	NearbyLimit      int
	SubscriberBuffer int
	PersistAttempts  int
	PersistBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Precision:        geo.UserBucketPrecision,
		ThresholdKm:      significance.DefaultThresholdKm,
		Debounce:         significance.DefaultDebounce,
		AcquireTimeout:   location.DefaultTimeout,
		MaxAge:           location.DefaultMaxAge,
		NearbyLimit:      50,
		SubscriberBuffer: 16,
		PersistAttempts:  3,
		PersistBackoff:   200 * time.Millisecond,
	}
}

type Deps struct {
	Locator    Locator
	Permission *permission.Machine
	Matcher    proximity.Matcher
	Store      LocationWriter
	Identity   IdentityProvider
	Metrics    *telemetry.RadarMetrics
	Logger     logger.Logger
}

// view is the lock-free snapshot other goroutines may read.
type view struct {
	userID string
	bucket *geo.Bucket
}

type Orchestrator struct {
	cfg        Config
	locator    Locator
	permission *permission.Machine
	matcher    proximity.Matcher
	store      LocationWriter
	identity   IdentityProvider
	metrics    *telemetry.RadarMetrics
	logger     logger.Logger

	events    chan event
	quit      chan struct{}
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	debouncer *significance.Debouncer[debounceEvent]
	persister *persister
	subs      *broadcaster
	view      atomic.Pointer[view]

	closing atomic.Bool
}

const eventBuffer = 64

// New starts the orchestrator's event loop. Teardown must be called to
// release it.
func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultConfig()
	if cfg.Precision <= 0 {
		cfg.Precision = def.Precision
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = def.AcquireTimeout
	}
	if cfg.NearbyLimit <= 0 {
		cfg.NearbyLimit = def.NearbyLimit
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = def.PersistAttempts
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = def.PersistBackoff
	}
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		locator:    deps.Locator,
		permission: deps.Permission,
		matcher:    deps.Matcher,
		store:      deps.Store,
		identity:   deps.Identity,
		metrics:    deps.Metrics,
		logger:     log,
		events:     make(chan event, eventBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
		subs:       newBroadcaster(cfg.SubscriberBuffer, log),
	}
	o.view.Store(&view{})
	o.debouncer = significance.NewDebouncer(cfg.Debounce, func(ev debounceEvent) {
		o.post(ev)
	})
	o.persister = newPersister(ctx, deps.Store, cfg.PersistAttempts, cfg.PersistBackoff, o.onPersistFailed, log)

	o.permission.OnChange(func(_, to permission.State) {
		o.subs.publish(Update{Kind: UpdatePermission, Permission: to})
	})

	s := &session{filter: significance.NewFilter(cfg.ThresholdKm)}
	go o.loop(s)
	return o
}

// Initialize prepares the first list. With permission granted and a stored
// location the list is matched against it and tracking starts; otherwise the
// list shows all users without distance and tracking stays off.
func (o *Orchestrator) Initialize(ctx context.Context, userID string) error {
	userID, err := o.resolveUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := o.do(func(s *session) error {
		o.setUser(s, userID)
		return nil
	}); err != nil {
		return err
	}

	var last *geo.Bucket
	if o.permission.Check(ctx) == permission.Granted {
		last, err = o.store.GetUserLocation(ctx, userID)
		if err != nil {
			o.logger.Warn("Failed to load last known location", "user_id", userID, "error", err)
			last = nil
		}
	}

	if last == nil {
		return o.matchNow(ctx, userID, nil, acceptNone)
	}

	c := last.Center()
	if err := o.matchNow(ctx, userID, &c, acceptStored); err != nil {
		o.logger.Warn("Initial match failed", "user_id", userID, "error", err)
	}
	return o.StartTracking(ctx, userID)
}

// StartTracking installs the location watch. Calling it while a watch is
// active does nothing. When permission has to be requested first, the fix
// that proves it becomes the watch's first reading.
func (o *Orchestrator) StartTracking(ctx context.Context, userID string) error {
	userID, err := o.resolveUser(ctx, userID)
	if err != nil {
		return err
	}

	var first *geo.Coordinate
	if o.permission.State() != permission.Granted {
		c, err := o.permission.Acquire(ctx)
		if err != nil {
			o.subs.publish(Update{Kind: UpdateLocationError, Err: err})
			return err
		}
		first = &c
	}

	return o.do(func(s *session) error {
		o.setUser(s, userID)
		fresh := s.watch == nil || !s.watch.Active()
		if err := o.startWatch(s); err != nil {
			return err
		}
		if fresh && first != nil {
			o.onReading(s, readingEvent{epoch: s.epoch, coord: *first})
		}
		return nil
	})
}

// StopTracking releases the watch and drops the pending debounce and any
// in-flight results. Repeated calls are no-ops.
func (o *Orchestrator) StopTracking() error {
	if o.closing.Load() {
		return apperrors.ErrClosed
	}
	return o.do(func(s *session) error {
		o.stopWatch(s)
		return nil
	})
}

// RefreshNow acquires a coordinate and matches it immediately. A fix no
// older than MaxAge is reused. When acquisition fails the list falls back to
// all users and the location error is returned.
func (o *Orchestrator) RefreshNow(ctx context.Context) error {
	userID, err := o.resolveUser(ctx, o.currentView().userID)
	if err != nil {
		return err
	}

	c, acqErr := o.locator.GetCurrentCoordinate(ctx, o.cfg.AcquireTimeout, o.cfg.MaxAge)
	if acqErr != nil {
		o.permission.ObserveError(acqErr)
		o.subs.publish(Update{Kind: UpdateLocationError, Err: acqErr})
		if err := o.matchNow(ctx, userID, nil, acceptNone); err != nil {
			o.logger.Warn("Fallback match failed", "user_id", userID, "error", err)
		}
		return acqErr
	}
	o.permission.ObserveSuccess()

	return o.matchNow(ctx, userID, &c, acceptFresh)
}

// RefreshCached re-runs matching with the last accepted coordinate without
// touching the hardware. Without one it does nothing.
func (o *Orchestrator) RefreshCached() error {
	if o.closing.Load() {
		return apperrors.ErrClosed
	}
	return o.do(func(s *session) error {
		if s.last == nil || s.userID == "" || s.cachedInFlight {
			return nil
		}
		s.cachedInFlight = true
		o.startMatch(s, s.acceptedSeq, s.last, originCached)
		return nil
	})
}

// Subscribe returns a channel of updates and a function that unsubscribes
// and closes it. After Teardown the channel is returned closed.
func (o *Orchestrator) Subscribe() (<-chan Update, func()) {
	return o.subs.subscribe()
}

// Permission returns the current permission state without querying.
func (o *Orchestrator) Permission() permission.State {
	return o.permission.State()
}

// CheckPermission asks the platform for the current permission state.
func (o *Orchestrator) CheckPermission(ctx context.Context) (permission.State, error) {
	if o.closing.Load() {
		return permission.Pending, apperrors.ErrClosed
	}
	return o.permission.Check(ctx), nil
}

// Nearby returns a copy of the last published list.
func (o *Orchestrator) Nearby() (users []proximity.TrackedUser, hasRealLocation bool, err error) {
	err = o.do(func(s *session) error {
		users = append([]proximity.TrackedUser(nil), s.nearby...)
		hasRealLocation = s.hasReal
		return nil
	})
	return users, hasRealLocation, err
}

// Tracking reports whether a watch is held.
func (o *Orchestrator) Tracking() (tracking bool, err error) {
	err = o.do(func(s *session) error {
		tracking = s.watch != nil
		return nil
	})
	return tracking, err
}

// UserID returns the user the session belongs to, if known.
func (o *Orchestrator) UserID() string {
	return o.currentView().userID
}

// LastBucket returns the bucket of the last accepted coordinate.
func (o *Orchestrator) LastBucket() (geo.Bucket, bool) {
	v := o.currentView()
	if v.bucket == nil {
		return geo.Bucket{}, false
	}
	return *v.bucket, true
}

// Teardown releases the hardware watch and stops the loop. The first call
// returns nil, later calls and every other method return ErrClosed.
func (o *Orchestrator) Teardown() error {
	if !o.closing.CompareAndSwap(false, true) {
		return apperrors.ErrClosed
	}

	if err := o.do(func(s *session) error {
		o.stopWatch(s)
		return nil
	}); err != nil {
		o.logger.Warn("Teardown could not reach the event loop", "error", err)
	}

	close(o.quit)
	<-o.done
	o.debouncer.Cancel()
	o.cancel()
	o.persister.wait()
	o.subs.close()

	o.logger.Debug("Radar torn down", "user_id", o.currentView().userID)
	return nil
}

func (o *Orchestrator) resolveUser(ctx context.Context, claimed string) (string, error) {
	if o.closing.Load() {
		return "", apperrors.ErrClosed
	}
	if o.identity == nil {
		if claimed == "" {
			return "", apperrors.ErrUnauthenticated
		}
		return claimed, nil
	}

	id, ok := o.identity.CurrentUserID(ctx)
	if !ok || id == "" {
		return "", apperrors.ErrUnauthenticated
	}
	if claimed != "" && claimed != id {
		return "", apperrors.ErrUnauthenticated
	}
	return id, nil
}

func (o *Orchestrator) currentView() *view {
	return o.view.Load()
}

func (o *Orchestrator) onPersistFailed(err error) {
	o.metrics.RecordPersistFailure(o.ctx)
	o.subs.publish(Update{Kind: UpdatePersistError, Err: err})
}
