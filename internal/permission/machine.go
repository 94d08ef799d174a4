// Package permission tracks whether the session may use location, learning
// the real answer from platform queries and acquisition outcomes only.
package permission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/askwhyharsh/sonar/internal/geo"
	"github.com/askwhyharsh/sonar/internal/location"
	apperrors "github.com/askwhyharsh/sonar/pkg/errors"
	"github.com/askwhyharsh/sonar/pkg/logger"
)

type State int

const (
	Pending State = iota
	Granted
	Denied
)

func (s State) String() string {
	switch s {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "pending"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Querier is the platform permissions API.
type Querier interface {
	QueryPermission(ctx context.Context) (location.PermissionStatus, error)
}

// Acquirer performs the acquisition used to learn the real state.
type Acquirer interface {
	GetCurrentCoordinate(ctx context.Context, timeout, maxAge time.Duration) (geo.Coordinate, error)
}

// transitions lists the moves a platform report may make directly.
var transitions = map[State][]State{
	Pending: {Granted, Denied},
	Denied:  {Pending},
	Granted: {Denied, Pending},
}

type Machine struct {
	querier  Querier
	acquirer Acquirer
	timeout  time.Duration
	maxAge   time.Duration
	logger   logger.Logger

	mu        sync.Mutex
	state     State
	listeners []func(from, to State)
}

// NewMachine returns a machine in Pending. Acquisitions accept a cached fix
// up to maxAge old; zero always asks the platform.
func NewMachine(querier Querier, acquirer Acquirer, timeout, maxAge time.Duration, log logger.Logger) *Machine {
	if timeout <= 0 {
		timeout = location.DefaultTimeout
	}
	return &Machine{
		querier:  querier,
		acquirer: acquirer,
		timeout:  timeout,
		maxAge:   maxAge,
		logger:   log,
		state:    Pending,
	}
}

// State returns the current state without querying anything.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnChange registers fn to run after every transition.
func (m *Machine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Check asks the platform. Without a permissions API the current state is
// returned unchanged; it is never upgraded to Granted by assumption.
func (m *Machine) Check(ctx context.Context) State {
	if m.querier == nil {
		return m.State()
	}

	status, err := m.querier.QueryPermission(ctx)
	if err != nil {
		if !errors.Is(err, location.ErrPermissionQueryUnsupported) {
			m.logger.Warn("Permission query failed", "error", err)
		}
		return m.State()
	}

	switch status {
	case location.PermissionGranted:
		m.report(Granted)
	case location.PermissionDenied:
		m.report(Denied)
	case location.PermissionPrompt:
		m.report(Pending)
	default:
		m.logger.Warn("Unknown permission status", "status", status)
	}
	return m.State()
}

// RequestAndTransition triggers the platform prompt by acquiring a position.
// Success forces Granted, a PermissionDenied failure forces Denied, anything
// else leaves the state alone. The acquisition error is returned as-is.
func (m *Machine) RequestAndTransition(ctx context.Context) (State, error) {
	_, err := m.Acquire(ctx)
	return m.State(), err
}

// Acquire is RequestAndTransition returning the coordinate it obtained.
func (m *Machine) Acquire(ctx context.Context) (geo.Coordinate, error) {
	maxAge := m.maxAge
	// a fix cached before a denial proves nothing
	if m.State() == Denied {
		maxAge = 0
	}

	c, err := m.acquirer.GetCurrentCoordinate(ctx, m.timeout, maxAge)
	if err != nil {
		m.ObserveError(err)
		return geo.Coordinate{}, err
	}
	m.ObserveSuccess()
	return c, nil
}

// ObserveSuccess records that an acquisition worked.
func (m *Machine) ObserveSuccess() {
	m.force(Granted)
}

// ObserveError records a failed acquisition; only PermissionDenied changes
// the state.
func (m *Machine) ObserveError(err error) {
	if errors.Is(err, apperrors.ErrPermissionDenied) {
		m.force(Denied)
	}
}

// report applies a platform report, passing through Pending when a direct
// move is not allowed.
func (m *Machine) report(to State) {
	from := m.State()
	if from == to {
		return
	}
	if !allowed(from, to) {
		m.force(Pending)
	}
	m.force(to)
}

func (m *Machine) force(to State) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	listeners := append([]func(from, to State){}, m.listeners...)
	m.mu.Unlock()

	m.logger.Info("Location permission changed", "from", from.String(), "to", to.String())
	for _, fn := range listeners {
		fn(from, to)
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
