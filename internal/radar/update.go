package radar

import (
	"sync"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/permission"
	"github.com/askwhyharsh/sonar/internal/proximity"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

type UpdateKind int

const (
	// UpdateNearby carries a new nearby-user list.
	UpdateNearby UpdateKind = iota
	// UpdateLocationError carries a watch or one-shot acquisition failure.
	UpdateLocationError
	// UpdatePersistError reports that the user's own location was not saved.
	UpdatePersistError
	// UpdatePermission carries a permission state change.
	UpdatePermission
	// UpdateTracking reports the watch being started or stopped.
	UpdateTracking
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateNearby:
		return "nearby"
	case UpdateLocationError:
		return "location_error"
	case UpdatePersistError:
		return "persist_error"
	case UpdatePermission:
		return "permission"
	case UpdateTracking:
		return "tracking"
	default:
		return "unknown"
	}
}

// Update is what subscribers receive. Only the fields of its Kind are set.
type Update struct {
	Kind UpdateKind

	Users           []proximity.TrackedUser
	HasRealLocation bool
	Coordinate      *geo.Coordinate

	Err error

	Permission permission.State
	Tracking   bool
}

// broadcaster fans updates out to subscribers without ever blocking the
// publisher. A subscriber that falls behind loses updates.
type broadcaster struct {
	buffer int
	logger logger.Logger

	mu     sync.Mutex
	next   int
	subs   map[int]chan Update
	closed bool
}

func newBroadcaster(buffer int, log logger.Logger) *broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &broadcaster{
		buffer: buffer,
		logger: log,
		subs:   make(map[int]chan Update),
	}
}

func (b *broadcaster) subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Update, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- u:
		default:
			b.logger.Warn("Subscriber too slow, dropping update", "subscriber", id, "kind", u.Kind.String())
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
