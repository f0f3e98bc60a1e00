package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/health"
	"github.com/loykin/simgate/internal/history"
	"github.com/loykin/simgate/internal/metrics"
	"github.com/loykin/simgate/internal/process"
	"github.com/loykin/simgate/internal/store"
)

// Config assembles one Supervisor. Spec, Policy and Probe are required;
// everything else is optional.
type Config struct {
	Spec     process.Spec
	Policy   gate.Policy
	Probe    health.Probe
	Notifier gate.Notifier // shell callbacks; nil means log-only
	Logger   *slog.Logger
	Store    store.Store    // local launch history, optional
	Sinks    []history.Sink // external event sinks, optional
	Clock    gate.Clock     // injectable for tests, optional
}

// Status is a combined snapshot of the backend process and the readiness gate.
type Status struct {
	Process process.Status `json:"process"`
	Gate    gate.Snapshot  `json:"gate"`
}

// Supervisor owns the lifecycle of one external backend process per launch:
// spawn, health-gated readiness, and termination. It performs no automatic
// respawn; a failed launch is terminal and restarting is the caller's call.
// One Supervisor is owned per application run; there are no package globals.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	proc      *process.Process
	g         *gate.Gate
	cancel    context.CancelFunc
	launchID  int64
	spawnedAt time.Time
	finished  bool
}

// New builds a Supervisor. It validates the spec eagerly so configuration
// mistakes surface before any spawn is attempted.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.Spec.Validate(); err != nil {
		return nil, err
	}
	if cfg.Probe == nil {
		return nil, errors.New("supervisor: health probe required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Policy = cfg.Policy.WithDefaults()
	return &Supervisor{cfg: cfg, logger: cfg.Logger}, nil
}

// Start spawns the backend and begins health polling. Calling Start while a
// launch is live returns process.ErrAlreadyRunning and changes nothing.
// A spawn failure is fatal immediately: it is surfaced through the failed
// notification without consuming any retry budget, and returned to the caller.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil && !s.proc.State().Terminal() && s.proc.State() != process.StateNotStarted {
		s.mu.Unlock()
		return process.ErrAlreadyRunning
	}

	proc := process.New(s.cfg.Spec)
	notifier := &onceNotifier{s: s, inner: s.cfg.Notifier}
	opts := []gate.Option{gate.WithLogger(s.logger)}
	if s.cfg.Clock != nil {
		opts = append(opts, gate.WithClock(s.cfg.Clock))
	}
	g := gate.New(s.cfg.Policy, countingProbe{s.cfg.Probe}, notifier, opts...)

	s.proc = proc
	s.g = g
	s.launchID = 0
	s.finished = false
	s.mu.Unlock()

	proc.OnExit(func(exitErr error) {
		s.onProcessExit(g, exitErr)
	})

	if err := proc.Start(); err != nil {
		metrics.IncSpawn("error")
		s.logger.Error("backend spawn failed", "path", s.cfg.Spec.Path, "error", err)
		s.finishLaunch(store.OutcomeFailed, 0, err.Error(), time.Now())
		s.emit(history.EventFailed, 0, err.Error())
		notifier.BackendFailed(gate.Diagnostic{Attempts: 0, LastError: err.Error()})
		return err
	}

	snap := proc.Snapshot()
	metrics.IncSpawn("ok")
	s.logger.Info("backend spawned", "path", s.cfg.Spec.Path, "pid", snap.PID)

	s.mu.Lock()
	s.spawnedAt = snap.StartedAt
	s.mu.Unlock()
	s.beginLaunch(snap)
	s.emit(history.EventSpawned, 0, "")

	gctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go g.Run(gctx)
	return nil
}

// Stop tears the launch down: the gate is canceled first so it abandons
// polling instead of racing a dying backend, then the process is terminated
// with the configured grace period. Stop is idempotent and must be called on
// every application exit path so no orphaned backend survives.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	proc := s.proc
	g := s.g
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		if g != nil {
			// Let the polling loop observe cancellation before the process dies.
			<-g.Done()
		}
	}
	if proc == nil {
		return
	}
	_ = proc.Stop(0)

	if g != nil && cancel != nil {
		if snap := g.Snapshot(); snap.State == gate.StatePending {
			s.finishLaunch(store.OutcomeStopped, snap.Attempts, snap.LastError, time.Now())
			s.emit(history.EventStopped, snap.Attempts, snap.LastError)
		}
	}
	s.logger.Info("backend stopped")
}

// Status returns the combined process and gate snapshot.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	proc := s.proc
	g := s.g
	s.mu.Unlock()
	st := Status{Process: process.Status{State: process.StateNotStarted}, Gate: gate.Snapshot{State: gate.StatePending}}
	if proc != nil {
		st.Process = proc.Snapshot()
	}
	if g != nil {
		st.Gate = g.Snapshot()
	}
	return st
}

// onProcessExit relays the exit to the gate (which short-circuits to
// Exhausted while Pending) and closes out the launch record when the gate
// had already reported Ready.
func (s *Supervisor) onProcessExit(g *gate.Gate, exitErr error) {
	snap := g.Snapshot()
	outcome := "ok"
	if exitErr != nil {
		outcome = "error"
	}
	s.logger.Info("backend process exited", "outcome", outcome, "error", exitErr)
	metrics.RecordStateTransition(string(process.StateRunning), string(s.procState()))
	g.NotifyExit(exitErr)

	if snap.State == gate.StateReady {
		msg := ""
		if exitErr != nil {
			msg = exitErr.Error()
		}
		s.finishLaunch(store.OutcomeReady, snap.Attempts, msg, time.Now())
		s.emit(history.EventStopped, snap.Attempts, msg)
	}
}

func (s *Supervisor) procState() process.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return process.StateNotStarted
	}
	return s.proc.State()
}

func (s *Supervisor) beginLaunch(snap process.Status) {
	st := s.cfg.Store
	if st == nil {
		return
	}
	id, err := st.BeginLaunch(context.Background(), store.Launch{
		Name:      snap.Name,
		PID:       snap.PID,
		SpawnedAt: snap.StartedAt,
	})
	if err != nil {
		s.logger.Warn("failed to record launch", "error", err)
		return
	}
	s.mu.Lock()
	s.launchID = id
	s.mu.Unlock()
}

func (s *Supervisor) markReady(attempts int) {
	s.mu.Lock()
	id := s.launchID
	s.mu.Unlock()
	if s.cfg.Store == nil || id == 0 {
		return
	}
	if err := s.cfg.Store.MarkReady(context.Background(), id, attempts, time.Now()); err != nil {
		s.logger.Warn("failed to record readiness", "error", err)
	}
}

// finishLaunch closes the local history row exactly once per launch.
func (s *Supervisor) finishLaunch(outcome store.Outcome, attempts int, lastErr string, at time.Time) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	id := s.launchID
	s.mu.Unlock()
	if s.cfg.Store == nil || id == 0 {
		return
	}
	if err := s.cfg.Store.FinishLaunch(context.Background(), id, outcome, attempts, lastErr, at); err != nil {
		s.logger.Warn("failed to finalize launch record", "error", err)
	}
}

func (s *Supervisor) emit(t history.EventType, attempts int, lastErr string) {
	sinks := s.cfg.Sinks
	if len(sinks) == 0 {
		return
	}
	s.mu.Lock()
	snapPID := 0
	if s.proc != nil {
		snapPID = s.proc.Snapshot().PID
	}
	name := s.cfg.Spec.Name
	s.mu.Unlock()
	evt := history.Event{
		Type:       t,
		OccurredAt: time.Now().UTC(),
		Name:       name,
		PID:        snapPID,
		Attempts:   attempts,
		LastError:  lastErr,
	}
	for _, sink := range sinks {
		_ = sink.Send(context.Background(), evt)
	}
}

// onceNotifier enforces the exactly-once, mutually-exclusive notification
// contract across both the spawn-failure path and the gate's own outcome.
type onceNotifier struct {
	s     *Supervisor
	inner gate.Notifier
	once  sync.Once
}

func (n *onceNotifier) BackendReady() {
	n.once.Do(func() {
		s := n.s
		snap := gate.Snapshot{}
		s.mu.Lock()
		g := s.g
		spawned := s.spawnedAt
		s.mu.Unlock()
		if g != nil {
			snap = g.Snapshot()
		}
		metrics.IncGateOutcome("ready")
		if !spawned.IsZero() {
			metrics.ObserveTimeToReady(time.Since(spawned).Seconds())
		}
		s.markReady(snap.Attempts)
		s.emit(history.EventReady, snap.Attempts, "")
		if n.inner != nil {
			n.inner.BackendReady()
		}
	})
}

func (n *onceNotifier) BackendFailed(d gate.Diagnostic) {
	n.once.Do(func() {
		s := n.s
		metrics.IncGateOutcome("exhausted")
		s.finishLaunch(store.OutcomeFailed, d.Attempts, d.LastError, time.Now())
		s.emit(history.EventFailed, d.Attempts, d.LastError)
		if n.inner != nil {
			n.inner.BackendFailed(d)
		}
	})
}

// countingProbe records per-attempt metrics around the real probe.
type countingProbe struct {
	health.Probe
}

func (p countingProbe) Check(ctx context.Context) error {
	err := p.Probe.Check(ctx)
	if err != nil {
		metrics.IncHealthCheck("error")
	} else {
		metrics.IncHealthCheck("ok")
	}
	return err
}
