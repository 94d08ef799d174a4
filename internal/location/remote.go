package location

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// DeviceLink carries commands to the device that owns the GPS hardware.
type DeviceLink interface {
	StartWatch(id WatchID) error
	StopWatch(id WatchID) error
	RequestPosition(requestID string) error
}

type watchCallbacks struct {
	onReading func(Reading)
	onError   func(error)
}

// RemotePlatform is a Platform fed by a connected mobile client. The client
// pushes fixes and errors through Deliver and DeliverError; the platform
// asks for them through the DeviceLink.
type RemotePlatform struct {
	link   DeviceLink
	secure bool

	nextWatch   atomic.Int64
	nextRequest atomic.Int64

	mu         sync.Mutex
	supported  bool
	permission PermissionStatus
	watches    map[WatchID]watchCallbacks
	pending    map[string]chan oneShot
}

type oneShot struct {
	reading Reading
	err     error
}

// NewRemotePlatform creates a platform for one device connection. secure
// reflects whether that connection arrived over TLS or from localhost.
func NewRemotePlatform(link DeviceLink, secure bool) *RemotePlatform {
	return &RemotePlatform{
		link:      link,
		secure:    secure,
		supported: true,
		watches:   make(map[WatchID]watchCallbacks),
		pending:   make(map[string]chan oneShot),
	}
}

func (r *RemotePlatform) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.supported
}

func (r *RemotePlatform) SecureContext() bool {
	return r.secure
}

func (r *RemotePlatform) CurrentPosition(ctx context.Context) (Reading, error) {
	requestID := fmt.Sprintf("req-%d", r.nextRequest.Add(1))
	ch := make(chan oneShot, 1)

	r.mu.Lock()
	r.pending[requestID] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, requestID)
		r.mu.Unlock()
	}()

	if err := r.link.RequestPosition(requestID); err != nil {
		return Reading{}, &PositionError{Code: CodePositionUnavailable, Message: err.Error()}
	}

	select {
	case res := <-ch:
		return res.reading, res.err
	case <-ctx.Done():
		return Reading{}, ctx.Err()
	}
}

func (r *RemotePlatform) WatchPosition(onReading func(Reading), onError func(error)) (WatchID, error) {
	id := WatchID(r.nextWatch.Add(1))

	r.mu.Lock()
	r.watches[id] = watchCallbacks{onReading: onReading, onError: onError}
	r.mu.Unlock()

	if err := r.link.StartWatch(id); err != nil {
		r.mu.Lock()
		delete(r.watches, id)
		r.mu.Unlock()
		return 0, &PositionError{Code: CodePositionUnavailable, Message: err.Error()}
	}
	return id, nil
}

func (r *RemotePlatform) ClearWatch(id WatchID) {
	r.mu.Lock()
	_, ok := r.watches[id]
	delete(r.watches, id)
	r.mu.Unlock()

	if ok {
		// the device may already be gone; nothing left to release then
		_ = r.link.StopWatch(id)
	}
}

func (r *RemotePlatform) QueryPermission(_ context.Context) (PermissionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.permission == "" {
		return "", ErrPermissionQueryUnsupported
	}
	return r.permission, nil
}

// Deliver hands a fix from the device to every waiter and watch. It must be
// called from a single goroutine per device.
func (r *RemotePlatform) Deliver(reading Reading) {
	waiters, watches := r.takeListeners()
	for _, ch := range waiters {
		ch <- oneShot{reading: reading}
	}
	for _, w := range watches {
		w.onReading(reading)
	}
}

// DeliverError hands a device failure to every waiter and watch.
func (r *RemotePlatform) DeliverError(err *PositionError) {
	waiters, watches := r.takeListeners()
	for _, ch := range waiters {
		ch <- oneShot{err: err}
	}
	for _, w := range watches {
		w.onError(err)
	}
}

// SetCapabilities records what the device reported about its hardware.
func (r *RemotePlatform) SetCapabilities(supported bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.supported = supported
}

// SetPermission records a permissions API answer from the device. An empty
// status means the device has no permissions API.
func (r *RemotePlatform) SetPermission(status PermissionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.permission = status
}

// ActiveWatches returns the number of subscriptions still held.
func (r *RemotePlatform) ActiveWatches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.watches)
}

// takeListeners drains one-shot waiters and snapshots the watches so
// callbacks run without the lock held.
func (r *RemotePlatform) takeListeners() ([]chan oneShot, []watchCallbacks) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiters := make([]chan oneShot, 0, len(r.pending))
	for id, ch := range r.pending {
		waiters = append(waiters, ch)
		delete(r.pending, id)
	}

	watches := make([]watchCallbacks, 0, len(r.watches))
	for _, w := range r.watches {
		watches = append(watches, w)
	}
	return waiters, watches
}
