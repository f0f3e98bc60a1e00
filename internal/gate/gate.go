package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/simgate/internal/health"
)

// State is the readiness gate's own state. Pending may loop on itself while
// the retry budget lasts; Ready and Exhausted are terminal.
type State string

const (
	StatePending   State = "pending"
	StateReady     State = "ready"
	StateExhausted State = "exhausted"
)

func (s State) String() string { return string(s) }

// Policy bounds the health polling loop. Immutable once the Gate is built.
type Policy struct {
	MaxAttempts int           `json:"max_attempts"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"` // per attempt
}

// Default polling policy: 30 attempts, 500ms apart, 2s per attempt.
const (
	DefaultMaxAttempts = 30
	DefaultInterval    = 500 * time.Millisecond
	DefaultTimeout     = 2 * time.Second
)

// WithDefaults fills zero fields with the documented defaults.
func (p Policy) WithDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	return p
}

// Diagnostic is the payload handed to Notifier.BackendFailed. It must carry
// enough for the shell to render a meaningful message.
type Diagnostic struct {
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

// Notifier receives the gate's single-shot outcome. Exactly one of the two
// methods is invoked, at most once, per supervised launch.
type Notifier interface {
	BackendReady()
	BackendFailed(d Diagnostic)
}

// Clock abstracts timer scheduling so tests run without real sleeps.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Snapshot is an externally consumable view of the gate.
type Snapshot struct {
	State     State  `json:"state"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
}

// Gate polls the backend's liveness endpoint on a single logical timer until
// it answers, the retry budget runs out, the process exits, or the context is
// canceled. At most one probe is in flight at a time.
type Gate struct {
	policy   Policy
	probe    health.Probe
	notifier Notifier
	clock    Clock
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	lastErr  error
	notified bool

	exitOnce sync.Once
	exitCh   chan error
	done     chan struct{}
}

// Option configures optional Gate collaborators.
type Option func(*Gate)

// WithClock injects a clock for deterministic tests.
func WithClock(c Clock) Option { return func(g *Gate) { g.clock = c } }

// WithLogger sets the gate's logger.
func WithLogger(l *slog.Logger) Option { return func(g *Gate) { g.logger = l } }

// New builds a Pending gate. Run must be called exactly once.
func New(policy Policy, probe health.Probe, notifier Notifier, opts ...Option) *Gate {
	g := &Gate{
		policy:   policy.WithDefaults(),
		probe:    probe,
		notifier: notifier,
		clock:    realClock{},
		logger:   slog.Default(),
		state:    StatePending,
		exitCh:   make(chan error, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// NotifyExit tells the gate the backend process terminated. While Pending,
// this short-circuits the gate to Exhausted without consuming the remaining
// retry budget; a dead process will never become healthy. Subsequent calls
// are ignored.
func (g *Gate) NotifyExit(err error) {
	g.exitOnce.Do(func() { g.exitCh <- err })
}

// Snapshot returns the current gate view.
func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{State: g.state, Attempts: g.attempts}
	if g.lastErr != nil {
		s.LastError = g.lastErr.Error()
	}
	return s
}

// Done is closed when the polling loop has returned.
func (g *Gate) Done() <-chan struct{} { return g.done }

// Run drives the polling loop until a terminal state or cancellation.
// Cancellation abandons polling with no notification: an intentional stop is
// neither success nor failure.
func (g *Gate) Run(ctx context.Context) {
	defer close(g.done)
	for {
		// Process exit and cancellation take priority over a new attempt.
		select {
		case <-ctx.Done():
			g.logger.Debug("readiness polling abandoned", "reason", ctx.Err())
			return
		case exitErr := <-g.exitCh:
			g.exhaust(exitError(exitErr))
			return
		default:
		}

		g.mu.Lock()
		g.attempts++
		attempt := g.attempts
		g.mu.Unlock()

		cctx, cancel := context.WithTimeout(ctx, g.policy.Timeout)
		err := g.probe.Check(cctx)
		cancel()

		// A process exit overrides any in-flight result, success included.
		select {
		case exitErr := <-g.exitCh:
			g.exhaust(exitError(exitErr))
			return
		default:
		}
		if ctx.Err() != nil {
			g.logger.Debug("readiness polling abandoned mid-attempt", "attempt", attempt)
			return
		}

		if err == nil {
			g.ready(attempt)
			return
		}

		g.mu.Lock()
		g.lastErr = err
		g.mu.Unlock()
		g.logger.Debug("health check failed", "attempt", attempt, "max", g.policy.MaxAttempts, "error", err)

		if attempt >= g.policy.MaxAttempts {
			g.exhaust(fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt, err))
			return
		}

		select {
		case <-g.clock.After(g.policy.Interval):
		case <-ctx.Done():
			g.logger.Debug("readiness polling abandoned", "reason", ctx.Err())
			return
		case exitErr := <-g.exitCh:
			g.exhaust(exitError(exitErr))
			return
		}
	}
}

func (g *Gate) ready(attempts int) {
	g.mu.Lock()
	if g.state != StatePending || g.notified {
		g.mu.Unlock()
		return
	}
	g.state = StateReady
	g.notified = true
	g.mu.Unlock()
	g.logger.Info("backend ready", "attempts", attempts, "probe", g.probe.Describe())
	g.notifier.BackendReady()
}

func (g *Gate) exhaust(reason error) {
	g.mu.Lock()
	if g.state != StatePending || g.notified {
		g.mu.Unlock()
		return
	}
	g.state = StateExhausted
	g.notified = true
	if reason != nil {
		g.lastErr = reason
	}
	d := Diagnostic{Attempts: g.attempts}
	if g.lastErr != nil {
		d.LastError = g.lastErr.Error()
	}
	g.mu.Unlock()
	g.logger.Error("backend failed to become ready", "attempts", d.Attempts, "last_error", d.LastError)
	g.notifier.BackendFailed(d)
}

func exitError(err error) error {
	if err != nil {
		return fmt.Errorf("backend process exited before becoming ready: %w", err)
	}
	return fmt.Errorf("backend process exited before becoming ready")
}
