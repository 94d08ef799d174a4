package radar

import (
	"context"
	"sync"
	"time"

	"github.com/askwhyharsh/sonar/pkg/logger"
)

// Factory builds the orchestrator for a session.
type Factory func(sessionID string) (*Orchestrator, error)

type registryEntry struct {
	orch     *Orchestrator
	lastUsed time.Time
}

// Registry owns one orchestrator per connected session and tears down the
// ones nobody has used for a while.
type Registry struct {
	factory Factory
	idle    time.Duration
	logger  logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
}

func NewRegistry(factory Factory, idle time.Duration, log logger.Logger) *Registry {
	return &Registry{
		factory: factory,
		idle:    idle,
		logger:  log,
		now:     time.Now,
		entries: make(map[string]*registryEntry),
	}
}

// Open creates the orchestrator for sessionID, replacing and tearing down
// any previous one.
func (r *Registry) Open(sessionID string) (*Orchestrator, error) {
	orch, err := r.factory(sessionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	prev := r.entries[sessionID]
	r.entries[sessionID] = &registryEntry{orch: orch, lastUsed: r.now()}
	r.mu.Unlock()

	if prev != nil {
		_ = prev.orch.Teardown()
		r.logger.Debug("Replaced radar session", "session_id", sessionID)
	}
	return orch, nil
}

// Get returns the orchestrator for sessionID and marks it used.
func (r *Registry) Get(sessionID string) (*Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[sessionID]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.now()
	return e.orch, true
}

// Close tears down the orchestrator for sessionID if orch is still the one
// registered. A nil orch closes whatever is registered.
func (r *Registry) Close(sessionID string, orch *Orchestrator) {
	r.mu.Lock()
	e, ok := r.entries[sessionID]
	if !ok || (orch != nil && e.orch != orch) {
		r.mu.Unlock()
		return
	}
	delete(r.entries, sessionID)
	r.mu.Unlock()

	_ = e.orch.Teardown()
	r.logger.Debug("Radar session closed", "session_id", sessionID)
}

// Each calls fn for every registered orchestrator outside the lock.
func (r *Registry) Each(fn func(sessionID string, o *Orchestrator)) {
	r.mu.Lock()
	snapshot := make(map[string]*Orchestrator, len(r.entries))
	for id, e := range r.entries {
		snapshot[id] = e.orch
	}
	r.mu.Unlock()

	for id, o := range snapshot {
		fn(id, o)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Start runs idle cleanup until ctx is done, then tears everything down.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Radar registry started")

	for {
		select {
		case <-ticker.C:
			if n := r.cleanupIdle(); n > 0 {
				r.logger.Info("Closed idle radar sessions", "count", n)
			}
		case <-ctx.Done():
			r.Shutdown()
			r.logger.Info("Radar registry stopped")
			return
		}
	}
}

// Shutdown tears down every orchestrator.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.orch.Teardown()
	}
}

func (r *Registry) cleanupIdle() int {
	if r.idle <= 0 {
		return 0
	}

	cutoff := r.now().Add(-r.idle)

	r.mu.Lock()
	var expired []*registryEntry
	for id, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			expired = append(expired, e)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		_ = e.orch.Teardown()
	}
	return len(expired)
}
