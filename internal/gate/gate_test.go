package gate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// instantClock fires every timer immediately so loops run without real sleeps.
type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// blockClock never fires; the loop can only leave the wait via exit or cancel.
type blockClock struct{}

func (blockClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }

// scriptProbe returns the scripted errors in order, repeating the last entry.
type scriptProbe struct {
	mu      sync.Mutex
	script  []error
	calls   int
	inUse   int32
	overlap int32
}

func (p *scriptProbe) Check(ctx context.Context) error {
	if atomic.AddInt32(&p.inUse, 1) > 1 {
		atomic.StoreInt32(&p.overlap, 1)
	}
	defer atomic.AddInt32(&p.inUse, -1)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	i := p.calls - 1
	if i >= len(p.script) {
		i = len(p.script) - 1
	}
	return p.script[i]
}

func (p *scriptProbe) Describe() string { return "script" }

func (p *scriptProbe) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// recordNotifier counts callbacks and captures the failure diagnostic.
type recordNotifier struct {
	mu     sync.Mutex
	ready  int
	failed int
	diag   Diagnostic
}

func (n *recordNotifier) BackendReady() {
	n.mu.Lock()
	n.ready++
	n.mu.Unlock()
}

func (n *recordNotifier) BackendFailed(d Diagnostic) {
	n.mu.Lock()
	n.failed++
	n.diag = d
	n.mu.Unlock()
}

func (n *recordNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ready, n.failed
}

func runGate(t *testing.T, g *Gate, ctx context.Context) {
	t.Helper()
	go g.Run(ctx)
	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("gate did not finish in time")
	}
}

var errRefused = errors.New("connection refused")

func TestReadyAfterRetries(t *testing.T) {
	probe := &scriptProbe{script: []error{errRefused, nil}}
	n := &recordNotifier{}
	g := New(Policy{MaxAttempts: 30}, probe, n, WithClock(instantClock{}))

	runGate(t, g, context.Background())

	if probe.count() != 2 {
		t.Fatalf("probe called %d times, want 2", probe.count())
	}
	ready, failed := n.counts()
	if ready != 1 || failed != 0 {
		t.Fatalf("notifications ready=%d failed=%d, want 1/0", ready, failed)
	}
	snap := g.Snapshot()
	if snap.State != StateReady || snap.Attempts != 2 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestExhaustsRetryBudgetExactly(t *testing.T) {
	probe := &scriptProbe{script: []error{errRefused}}
	n := &recordNotifier{}
	g := New(Policy{MaxAttempts: 5}, probe, n, WithClock(instantClock{}))

	runGate(t, g, context.Background())

	if probe.count() != 5 {
		t.Fatalf("probe called %d times, want exactly 5", probe.count())
	}
	ready, failed := n.counts()
	if ready != 0 || failed != 1 {
		t.Fatalf("notifications ready=%d failed=%d, want 0/1", ready, failed)
	}
	if n.diag.Attempts != 5 {
		t.Fatalf("diagnostic attempts = %d, want 5", n.diag.Attempts)
	}
	if !strings.Contains(n.diag.LastError, "retry budget exhausted after 5 attempts") {
		t.Fatalf("diagnostic does not carry the budget error: %q", n.diag.LastError)
	}
	if !strings.Contains(n.diag.LastError, "connection refused") {
		t.Fatalf("diagnostic lost the underlying error: %q", n.diag.LastError)
	}
	if g.Snapshot().State != StateExhausted {
		t.Fatalf("state = %v, want exhausted", g.Snapshot().State)
	}
}

func TestProcessExitShortCircuitsWait(t *testing.T) {
	probe := &scriptProbe{script: []error{errRefused}}
	n := &recordNotifier{}
	// The clock never fires: the only way out of the wait is the exit signal.
	g := New(Policy{MaxAttempts: 30}, probe, n, WithClock(blockClock{}))

	go g.Run(context.Background())
	waitForCalls(t, probe, 1)
	g.NotifyExit(errors.New("exit status 134"))

	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("gate did not short-circuit on process exit")
	}

	if probe.count() != 1 {
		t.Fatalf("probe called %d times after exit, want 1", probe.count())
	}
	ready, failed := n.counts()
	if ready != 0 || failed != 1 {
		t.Fatalf("notifications ready=%d failed=%d, want 0/1", ready, failed)
	}
	if !strings.Contains(n.diag.LastError, "exited before becoming ready") {
		t.Fatalf("diagnostic = %q", n.diag.LastError)
	}
	if !strings.Contains(n.diag.LastError, "exit status 134") {
		t.Fatalf("diagnostic lost the exit error: %q", n.diag.LastError)
	}
}

func TestProcessExitBeforeFirstAttempt(t *testing.T) {
	probe := &scriptProbe{script: []error{nil}}
	n := &recordNotifier{}
	g := New(Policy{MaxAttempts: 30}, probe, n, WithClock(instantClock{}))

	g.NotifyExit(nil)
	runGate(t, g, context.Background())

	if probe.count() != 0 {
		t.Fatalf("probe called %d times, want 0", probe.count())
	}
	ready, failed := n.counts()
	if ready != 0 || failed != 1 {
		t.Fatalf("notifications ready=%d failed=%d, want 0/1", ready, failed)
	}
}

// exitingProbe reports success but signals a process exit first, as when the
// backend answers one last request while dying.
type exitingProbe struct {
	g     *Gate
	calls int32
}

func (p *exitingProbe) Check(ctx context.Context) error {
	atomic.AddInt32(&p.calls, 1)
	p.g.NotifyExit(errors.New("exit status 1"))
	return nil
}

func (p *exitingProbe) Describe() string { return "exiting" }

func TestProcessExitOverridesInFlightSuccess(t *testing.T) {
	n := &recordNotifier{}
	probe := &exitingProbe{}
	g := New(Policy{MaxAttempts: 30}, probe, n, WithClock(instantClock{}))
	probe.g = g

	runGate(t, g, context.Background())

	ready, failed := n.counts()
	if ready != 0 || failed != 1 {
		t.Fatalf("notifications ready=%d failed=%d, want 0/1", ready, failed)
	}
	if g.Snapshot().State != StateExhausted {
		t.Fatalf("state = %v, want exhausted", g.Snapshot().State)
	}
}

func TestNotifyExitAfterReadyIsIgnored(t *testing.T) {
	probe := &scriptProbe{script: []error{nil}}
	n := &recordNotifier{}
	g := New(Policy{MaxAttempts: 30}, probe, n, WithClock(instantClock{}))

	runGate(t, g, context.Background())
	g.NotifyExit(errors.New("exit status 1"))

	ready, failed := n.counts()
	if ready != 1 || failed != 0 {
		t.Fatalf("notifications ready=%d failed=%d, want 1/0", ready, failed)
	}
	if g.Snapshot().State != StateReady {
		t.Fatalf("state flipped after ready: %v", g.Snapshot().State)
	}
}

func TestCancellationAbandonsWithoutNotification(t *testing.T) {
	probe := &scriptProbe{script: []error{errRefused}}
	n := &recordNotifier{}
	g := New(Policy{MaxAttempts: 30}, probe, n, WithClock(blockClock{}))

	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	waitForCalls(t, probe, 1)
	cancel()

	select {
	case <-g.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("gate did not observe cancellation")
	}

	ready, failed := n.counts()
	if ready != 0 || failed != 0 {
		t.Fatalf("cancellation produced notifications: ready=%d failed=%d", ready, failed)
	}
	if g.Snapshot().State != StatePending {
		t.Fatalf("state = %v, want pending after abandon", g.Snapshot().State)
	}
}

func TestNoConcurrentProbes(t *testing.T) {
	probe := &scriptProbe{script: []error{errRefused}}
	n := &recordNotifier{}
	g := New(Policy{MaxAttempts: 20}, probe, n, WithClock(instantClock{}))

	runGate(t, g, context.Background())

	if atomic.LoadInt32(&probe.overlap) != 0 {
		t.Fatalf("observed overlapping probe calls")
	}
	if probe.count() != 20 {
		t.Fatalf("probe called %d times, want 20", probe.count())
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.WithDefaults()
	if p.MaxAttempts != DefaultMaxAttempts || p.Interval != DefaultInterval || p.Timeout != DefaultTimeout {
		t.Fatalf("defaults not applied: %+v", p)
	}
	q := Policy{MaxAttempts: 3, Interval: time.Second, Timeout: 5 * time.Second}.WithDefaults()
	if q.MaxAttempts != 3 || q.Interval != time.Second || q.Timeout != 5*time.Second {
		t.Fatalf("explicit values overridden: %+v", q)
	}
}

func waitForCalls(t *testing.T, p *scriptProbe, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("probe reached %d calls, want %d", p.count(), want)
}
