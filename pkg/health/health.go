// Package health tracks the health of the components below the mount and
// derives an overall state from them.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/levelfs/levelfs/pkg/errors"
)

// State is the health of a component or of the whole filesystem.
type State int

const (
	// StateHealthy means every operation is expected to succeed.
	StateHealthy State = iota

	// StateDegraded means operations are failing intermittently.
	StateDegraded

	// StateReadOnly means reads succeed but the store refuses writes.
	StateReadOnly

	// StateUnavailable means the component is not answering.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateReadOnly:
		return "read-only"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Component is a point-in-time view of one tracked component.
type Component struct {
	Name              string    `json:"name"`
	State             State     `json:"state"`
	LastStateChange   time.Time `json:"last_state_change"`
	LastCheck         time.Time `json:"last_check"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastError         string    `json:"last_error,omitempty"`
}

// Config sets the thresholds of a Tracker.
type Config struct {
	// ErrorThreshold is the number of consecutive failures that degrade a
	// component.
	ErrorThreshold int `yaml:"error_threshold" validate:"gte=1"`

	// UnavailableThreshold is the number of consecutive failures that mark a
	// component unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold" validate:"gtefield=ErrorThreshold"`

	// CheckInterval is the period of StartChecks. Zero disables checks.
	CheckInterval time.Duration `yaml:"check_interval" validate:"gte=0"`
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		CheckInterval:        30 * time.Second,
	}
}

// ChangeFunc is called after a component changes state.
type ChangeFunc func(component string, from, to State, err error)

// Tracker holds the health of named components.
type Tracker struct {
	mu         sync.RWMutex
	config     Config
	components map[string]*Component
	onChange   []ChangeFunc
	logger     *slog.Logger
}

// NewTracker creates a tracker with no components.
func NewTracker(config Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		config:     config,
		components: make(map[string]*Component),
		logger:     logger.With("component", "health"),
	}
}

// Register starts tracking a component as healthy. Registering twice is a
// no-op.
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.components[name]; ok {
		return
	}
	now := time.Now()
	t.components[name] = &Component{
		Name:            name,
		State:           StateHealthy,
		LastStateChange: now,
		LastCheck:       now,
	}
}

// OnChange registers fn for every later state change.
func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// RecordSuccess notes a successful check. One success restores a component
// to healthy.
func (t *Tracker) RecordSuccess(name string) {
	t.record(name, nil)
}

// RecordError notes a failed check.
func (t *Tracker) RecordError(name string, err error) {
	t.record(name, err)
}

func (t *Tracker) record(name string, err error) {
	t.mu.Lock()
	c, ok := t.components[name]
	if !ok {
		t.mu.Unlock()
		return
	}

	from := c.State
	c.LastCheck = time.Now()
	if err == nil {
		c.ConsecutiveErrors = 0
		c.LastError = ""
	} else {
		c.ConsecutiveErrors++
		c.LastError = err.Error()
	}

	to := t.stateFor(c.ConsecutiveErrors, err, from)
	var callbacks []ChangeFunc
	if to != from {
		c.State = to
		c.LastStateChange = c.LastCheck
		callbacks = append(callbacks, t.onChange...)
	}
	t.mu.Unlock()

	if to == from {
		return
	}
	if to == StateHealthy {
		t.logger.Info("component recovered", "name", name, "from", from.String())
	} else {
		t.logger.Warn("component health changed", "name", name, "from", from.String(), "to", to.String(), "error", err)
	}
	for _, fn := range callbacks {
		fn(name, from, to, err)
	}
}

// stateFor must be called with the lock held.
func (t *Tracker) stateFor(failures int, err error, current State) State {
	switch {
	case err == nil:
		return StateHealthy
	case failures >= t.config.UnavailableThreshold:
		return StateUnavailable
	case failures >= t.config.ErrorThreshold:
		if isWriteRefusal(err) {
			return StateReadOnly
		}
		return StateDegraded
	default:
		return current
	}
}

// isWriteRefusal reports errors after which reads are still expected to
// work.
func isWriteRefusal(err error) bool {
	switch errors.CodeOf(err) {
	case errors.ErrCodeStoreWrite, errors.ErrCodeReadOnly:
		return true
	}
	return false
}

// State returns the state of a component. Unknown components are
// unavailable.
func (t *Tracker) State(name string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if c, ok := t.components[name]; ok {
		return c.State
	}
	return StateUnavailable
}

// Overall returns the worst state of all components.
func (t *Tracker) Overall() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, c := range t.components {
		if c.State > overall {
			overall = c.State
		}
	}
	return overall
}

// Components returns copies of every component sorted by name.
func (t *Tracker) Components() []Component {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Component, 0, len(t.components))
	for _, c := range t.components {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CheckFunc probes one component.
type CheckFunc func(ctx context.Context) error

// Check runs fn once and records the outcome for name.
func (t *Tracker) Check(ctx context.Context, name string, fn CheckFunc) {
	if err := fn(ctx); err != nil {
		t.RecordError(name, err)
		return
	}
	t.RecordSuccess(name)
}

// StartChecks probes name every CheckInterval until ctx is done.
func (t *Tracker) StartChecks(ctx context.Context, name string, fn CheckFunc) {
	if t.config.CheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(t.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Check(ctx, name, fn)
		}
	}
}
