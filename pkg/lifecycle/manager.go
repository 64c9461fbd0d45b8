package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrTerminated is returned when a callback is registered after teardown
// has begun.
var ErrTerminated = errors.New("lifecycle already torn down")

// State is the lifecycle state of the study.
type State int

const (
	StateUninitialized State = iota
	StateRunning
	StateCleaningUp
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateCleaningUp:
		return "cleaning-up"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Callback releases one resource.
type Callback func(ctx context.Context) error

type entry struct {
	name string
	fn   Callback
}

// Manager keeps a stack of cleanup callbacks and runs them once, most
// recently registered first.
type Manager struct {
	mu     sync.Mutex
	state  State
	stack  []entry
	reset  Callback
	reason string
	done   chan struct{}
}

// NewManager creates a manager in the uninitialized state.
func NewManager() *Manager {
	return &Manager{done: make(chan struct{})}
}

// SetResetHook sets the callback that runs after every cleanup callback.
// It is used to wipe persisted study state.
func (m *Manager) SetResetHook(fn Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset = fn
}

// Start moves the manager to running.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateUninitialized:
		m.state = StateRunning
		return nil
	case StateRunning:
		return fmt.Errorf("lifecycle already running")
	default:
		return ErrTerminated
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Reason returns the reason given to Teardown, if it ran.
func (m *Manager) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// Done is closed once teardown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Len returns the number of pending callbacks.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// Register pushes a callback. After teardown has begun nothing is
// registered and ErrTerminated is returned.
func (m *Manager) Register(name string, fn func(ctx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("cleanup callback %q is nil", name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state >= StateCleaningUp {
		logrus.Debugf("cleanup %q registered after teardown, ignoring", name)
		return ErrTerminated
	}

	m.stack = append(m.stack, entry{name: name, fn: fn})
	return nil
}

// Teardown runs every registered callback once in reverse registration
// order, then the reset hook. Only the first call does anything. Failures
// are logged and joined into the returned error; they never stop the
// remaining callbacks.
func (m *Manager) Teardown(ctx context.Context, reason string) error {
	m.mu.Lock()
	if m.state >= StateCleaningUp {
		m.mu.Unlock()
		return nil
	}
	m.state = StateCleaningUp
	m.reason = reason
	stack := m.stack
	m.stack = nil
	reset := m.reset
	m.mu.Unlock()

	logrus.Infof("tearing down study (%s): %d cleanup callbacks", reason, len(stack))

	var errs []error
	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]
		if err := run(ctx, e.name, e.fn); err != nil {
			logrus.Errorf("cleanup %q failed: %v", e.name, err)
			errs = append(errs, err)
		} else {
			logrus.Debugf("cleanup %q done", e.name)
		}
	}

	if reset != nil {
		if err := run(ctx, "reset preferences", reset); err != nil {
			logrus.Errorf("preference reset failed: %v", err)
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.state = StateTerminated
	m.mu.Unlock()
	close(m.done)

	logrus.Infof("study teardown complete")
	return errors.Join(errs...)
}

func run(ctx context.Context, name string, fn Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cleanup %q panicked: %v", name, r)
		}
	}()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("cleanup %q: %w", name, err)
	}
	return nil
}
