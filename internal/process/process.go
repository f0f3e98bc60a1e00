package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ErrAlreadyRunning is returned by Start when a live backend process exists.
var ErrAlreadyRunning = errors.New("backend process already running")

// ExitFunc is invoked exactly once per launch when the backend process
// terminates for any reason. err is the exit error from cmd.Wait (nil on
// clean exit).
type ExitFunc func(err error)

// Status is a point-in-time snapshot of the process handle.
type Status struct {
	Name      string    `json:"name"`
	State     State     `json:"state"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	StoppedAt time.Time `json:"stopped_at"`
	ExitErr   error     `json:"-"`
}

// Process owns at most one live OS process for the backend executable.
// It is created per supervised launch; Start may be called again only after
// the previous launch reached a terminal state.
type Process struct {
	spec Spec

	mu        sync.Mutex
	cmd       *exec.Cmd
	state     State
	pid       int
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	done      chan struct{} // closed by the watcher when cmd.Wait returns
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	onExit    ExitFunc
}

func New(spec Spec) *Process {
	return &Process{spec: spec, state: StateNotStarted}
}

// OnExit registers the exit listener. It must be set before Start.
func (p *Process) OnExit(fn ExitFunc) {
	p.mu.Lock()
	p.onExit = fn
	p.mu.Unlock()
}

// Spec returns a copy of the launch spec.
func (p *Process) Spec() Spec { return p.spec }

// Start spawns the backend process. It transitions Starting -> Running on a
// successful spawn, or Starting -> Failed when the spawn itself fails
// (missing executable, permission denied). Starting while a live process
// exists returns ErrAlreadyRunning and changes nothing.
func (p *Process) Start() error {
	p.mu.Lock()
	switch p.state {
	case StateStarting, StateRunning, StateStopping:
		p.mu.Unlock()
		return ErrAlreadyRunning
	case StateStopped, StateFailed:
		// A fresh launch on a finished handle: reset per-launch fields.
		p.state = StateNotStarted
		p.cmd = nil
		p.pid = 0
		p.exitErr = nil
		p.done = nil
	}
	p.setStateLocked(StateStarting)
	spec := p.spec
	p.mu.Unlock()

	cmd := spec.BuildCommand()
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setSysProcAttr(cmd)
	p.configureOutput(cmd, spec)

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		serr := fmt.Errorf("spawn %s: %w", spec.Path, err)
		p.mu.Lock()
		p.setStateLocked(StateFailed)
		p.exitErr = serr
		p.stoppedAt = time.Now()
		p.mu.Unlock()
		return serr
	}

	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = time.Now()
	p.done = make(chan struct{})
	p.setStateLocked(StateRunning)
	p.mu.Unlock()

	go p.watch(cmd)
	return nil
}

// watch reaps the process and finalizes state. It is the only caller of
// cmd.Wait for a launch.
func (p *Process) watch(cmd *exec.Cmd) {
	err := cmd.Wait()

	p.mu.Lock()
	p.stoppedAt = time.Now()
	p.exitErr = err
	if p.state == StateStopping || err == nil {
		// Requested termination or clean exit.
		p.setStateLocked(StateStopped)
	} else {
		p.setStateLocked(StateFailed)
	}
	done := p.done
	fn := p.onExit
	p.mu.Unlock()

	p.closeWriters()
	if done != nil {
		close(done)
	}
	if fn != nil {
		fn(err)
	}
}

// Stop requests graceful termination and escalates to SIGKILL after the grace
// period. It is idempotent: with no live process it is a no-op. wait <= 0
// uses the spec's stop grace (default 3s). Stop never leaves the handle in
// Stopping: the watcher finalizes to Stopped once the process is reaped.
func (p *Process) Stop(wait time.Duration) error {
	if wait <= 0 {
		wait = p.spec.stopGrace()
	}
	p.mu.Lock()
	switch p.state {
	case StateNotStarted, StateStopped, StateFailed:
		p.mu.Unlock()
		return nil
	}
	if p.state != StateStopping {
		p.setStateLocked(StateStopping)
	}
	pid := p.pid
	done := p.done
	p.mu.Unlock()

	terminate(pid)
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(wait):
	}
	kill(pid)
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		// best-effort; the watcher will still finalize state
	}
	return nil
}

// Done returns a channel closed when the current launch has been reaped.
// It returns nil before a successful Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Snapshot returns the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:      p.spec.name(),
		State:     p.state,
		PID:       p.pid,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
		ExitErr:   p.exitErr,
	}
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// setStateLocked applies a transition; invalid edges are programming errors
// and are dropped rather than corrupting the machine.
func (p *Process) setStateLocked(to State) {
	if p.state == to {
		return
	}
	if !validTransition(p.state, to) {
		return
	}
	p.state = to
}

func (p *Process) configureOutput(cmd *exec.Cmd, spec Spec) {
	if spec.Log.Dir == "" && spec.Log.StdoutPath == "" && spec.Log.StderrPath == "" {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
		return
	}
	if spec.Log.Dir != "" {
		_ = os.MkdirAll(spec.Log.Dir, 0o750)
	}
	outW, errW, _ := spec.Log.Writers(spec.name())
	p.mu.Lock()
	p.outCloser = outW
	p.errCloser = errW
	p.mu.Unlock()
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	out, errw := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errw != nil {
		_ = errw.Close()
	}
}
