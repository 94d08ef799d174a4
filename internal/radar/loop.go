package radar

import (
	"context"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/location"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/internal/significance"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
)

// session is the state owned by the loop goroutine.
type session struct {
	userID string
	watch  *location.WatchHandle
	// epoch changes whenever a watch starts or stops
	epoch  uint64
	filter *significance.Filter

	// acceptedSeq numbers accepted coordinates; results for older ones are
	// never applied
	acceptedSeq uint64
	last        *geo.Coordinate

	nearby         []proximity.TrackedUser
	hasReal        bool
	cachedInFlight bool
}

type origin int

const (
	originForeground origin = iota
	originTracking
	originCached
)

type acceptance int

const (
	acceptNone acceptance = iota
	// acceptStored takes a coordinate that is already in the store
	acceptStored
	// acceptFresh takes a new fix and persists it
	acceptFresh
)

type event any

type readingEvent struct {
	epoch uint64
	coord geo.Coordinate
}

type watchErrorEvent struct {
	epoch uint64
	err   error
}

type debounceEvent struct {
	epoch uint64
	seq   uint64
	coord geo.Coordinate
}

type matchDoneEvent struct {
	epoch  uint64
	seq    uint64
	origin origin
	result matchResult
}

type command struct {
	fn    func(s *session) error
	reply chan error
}

type matchResult struct {
	coord    *geo.Coordinate
	users    []proximity.TrackedUser
	err      error
	fallback bool
}

func (o *Orchestrator) loop(s *session) {
	defer close(o.done)

	for {
		select {
		case ev := <-o.events:
			o.handle(s, ev)
		case <-o.quit:
			return
		}
	}
}

func (o *Orchestrator) handle(s *session, ev event) {
	switch ev := ev.(type) {
	case command:
		ev.reply <- ev.fn(s)
	case readingEvent:
		o.onReading(s, ev)
	case watchErrorEvent:
		o.onWatchError(s, ev)
	case debounceEvent:
		o.onDebounce(s, ev)
	case matchDoneEvent:
		if ev.origin == originCached {
			s.cachedInFlight = false
		}
		_ = o.apply(s, ev.seq, ev.epoch, ev.origin, ev.result)
	default:
		o.logger.Warn("Unknown radar event", "event", ev)
	}
}

// do runs fn on the loop goroutine and waits for it.
func (o *Orchestrator) do(fn func(s *session) error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case o.events <- cmd:
	case <-o.done:
		return apperrors.ErrClosed
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-o.done:
		return apperrors.ErrClosed
	}
}

// post hands an event to the loop. Events posted after the loop exited are
// discarded.
func (o *Orchestrator) post(ev event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

func (o *Orchestrator) onReading(s *session, ev readingEvent) {
	if ev.epoch != s.epoch || s.watch == nil {
		return
	}

	o.permission.ObserveSuccess()

	accepted := s.filter.Offer(ev.coord)
	o.metrics.RecordReading(o.ctx, accepted)
	if !accepted {
		return
	}

	seq := o.accept(s, ev.coord, true)
	o.debouncer.Trigger(debounceEvent{epoch: s.epoch, seq: seq, coord: ev.coord})
}

func (o *Orchestrator) onWatchError(s *session, ev watchErrorEvent) {
	if ev.epoch != s.epoch || s.watch == nil {
		return
	}

	o.logger.Warn("Location watch failed", "user_id", s.userID, "error", ev.err)
	o.permission.ObserveError(ev.err)
	o.stopWatch(s)
	o.subs.publish(Update{Kind: UpdateLocationError, Err: ev.err})
}

func (o *Orchestrator) onDebounce(s *session, ev debounceEvent) {
	if ev.epoch != s.epoch || s.watch == nil {
		return
	}
	// a newer coordinate owns the next pass
	if ev.seq < s.acceptedSeq {
		return
	}
	o.startMatch(s, ev.seq, &ev.coord, originTracking)
}

// accept records c as the last accepted coordinate and returns its sequence.
func (o *Orchestrator) accept(s *session, c geo.Coordinate, persist bool) uint64 {
	s.acceptedSeq++
	s.last = &c

	b := geo.BucketOf(c, o.cfg.Precision)
	o.view.Store(&view{userID: s.userID, bucket: &b})

	if persist {
		o.persister.enqueue(s.userID, b)
	}
	return s.acceptedSeq
}

func (o *Orchestrator) setUser(s *session, userID string) {
	if s.userID == userID {
		return
	}
	s.userID = userID
	prev := o.currentView()
	o.view.Store(&view{userID: userID, bucket: prev.bucket})
}

func (o *Orchestrator) startWatch(s *session) error {
	if s.watch != nil && s.watch.Active() {
		return nil
	}
	if s.watch != nil {
		o.releaseWatch(s)
	}

	s.epoch++
	epoch := s.epoch
	// every tracking session matches its first fix
	s.filter.Reset()

	h, err := o.locator.Watch(
		func(c geo.Coordinate) { o.post(readingEvent{epoch: epoch, coord: c}) },
		func(err error) { o.post(watchErrorEvent{epoch: epoch, err: err}) },
	)
	if err != nil {
		o.permission.ObserveError(err)
		o.subs.publish(Update{Kind: UpdateLocationError, Err: err})
		return err
	}

	s.watch = h
	o.metrics.WatchStarted(o.ctx)
	o.subs.publish(Update{Kind: UpdateTracking, Tracking: true})
	o.logger.Info("Tracking started", "user_id", s.userID)
	return nil
}

func (o *Orchestrator) stopWatch(s *session) {
	o.debouncer.Cancel()
	s.epoch++

	if s.watch == nil {
		return
	}
	o.releaseWatch(s)
	o.subs.publish(Update{Kind: UpdateTracking, Tracking: false})
	o.logger.Info("Tracking stopped", "user_id", s.userID)
}

func (o *Orchestrator) releaseWatch(s *session) {
	o.locator.StopWatch(s.watch)
	s.watch = nil
	o.metrics.WatchStopped(o.ctx)
}

// startMatch runs a match in the background and posts the result back.
func (o *Orchestrator) startMatch(s *session, seq uint64, coord *geo.Coordinate, from origin) {
	userID := s.userID
	epoch := s.epoch
	fallback := len(s.nearby) == 0

	var c *geo.Coordinate
	if coord != nil {
		cc := *coord
		c = &cc
	}

	go func() {
		res := o.runMatch(o.ctx, userID, c, fallback)
		o.post(matchDoneEvent{epoch: epoch, seq: seq, origin: from, result: res})
	}()
}

// matchNow matches in the caller's goroutine and applies the result through
// the loop.
func (o *Orchestrator) matchNow(ctx context.Context, userID string, coord *geo.Coordinate, how acceptance) error {
	var (
		seq      uint64
		fallback bool
	)
	if err := o.do(func(s *session) error {
		o.setUser(s, userID)
		if coord != nil && how != acceptNone {
			s.filter.Force(*coord)
			seq = o.accept(s, *coord, how == acceptFresh)
		} else {
			seq = s.acceptedSeq
		}
		fallback = len(s.nearby) == 0
		return nil
	}); err != nil {
		return err
	}

	res := o.runMatch(ctx, userID, coord, fallback)

	return o.do(func(s *session) error {
		return o.apply(s, seq, 0, originForeground, res)
	})
}

// runMatch queries the matcher. With fallback set, a failed nearby query is
// replaced by the all-users list so the screen is never empty for lack of
// location.
func (o *Orchestrator) runMatch(ctx context.Context, userID string, coord *geo.Coordinate, fallback bool) matchResult {
	res := matchResult{coord: coord}
	start := time.Now()

	if coord == nil {
		res.users, res.err = o.matcher.FindAll(ctx, userID, o.cfg.NearbyLimit)
		o.metrics.RecordMatch(ctx, "all", time.Since(start), res.err)
		return res
	}

	res.users, res.err = o.matcher.FindNearby(ctx, userID, *coord, o.cfg.NearbyLimit)
	o.metrics.RecordMatch(ctx, "nearby", time.Since(start), res.err)
	if res.err == nil || !fallback {
		return res
	}

	users, err := o.matcher.FindAll(ctx, userID, o.cfg.NearbyLimit)
	if err != nil {
		o.logger.Warn("Fallback listing failed", "user_id", userID, "error", err)
		return res
	}
	res.users = users
	res.fallback = true
	return res
}

// apply publishes res unless a newer coordinate was accepted since it was
// requested or, for background results, tracking started or stopped while
// the query ran.
func (o *Orchestrator) apply(s *session, seq, epoch uint64, from origin, res matchResult) error {
	stale := seq < s.acceptedSeq
	switch from {
	case originTracking:
		stale = stale || epoch != s.epoch || s.watch == nil
	case originCached:
		stale = stale || epoch != s.epoch
	}
	if stale {
		o.metrics.RecordStaleDrop(o.ctx)
		o.logger.Debug("Dropping stale match result", "seq", seq, "accepted_seq", s.acceptedSeq)
		return nil
	}

	if res.err != nil {
		if !res.fallback {
			o.logger.Warn("Match failed, keeping previous list", "user_id", s.userID, "error", res.err)
			return res.err
		}
		o.logger.Warn("Nearby query failed, showing all users", "user_id", s.userID, "error", res.err)
	}

	s.nearby = res.users
	s.hasReal = res.coord != nil && !res.fallback

	o.subs.publish(Update{
		Kind:            UpdateNearby,
		Users:           append([]proximity.TrackedUser(nil), res.users...),
		HasRealLocation: s.hasReal,
		Coordinate:      res.coord,
	})
	return nil
}
