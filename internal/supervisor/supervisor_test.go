package supervisor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/simgate/internal/gate"
	"github.com/loykin/simgate/internal/health"
	"github.com/loykin/simgate/internal/process"
	"github.com/loykin/simgate/internal/store"
	"github.com/loykin/simgate/internal/store/sqlite"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// instantClock removes polling delays so tests run fast.
type instantClock struct{}

func (instantClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// chanNotifier reports the single outcome on channels.
type chanNotifier struct {
	ready  chan struct{}
	failed chan gate.Diagnostic
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{ready: make(chan struct{}, 2), failed: make(chan gate.Diagnostic, 2)}
}

func (n *chanNotifier) BackendReady()                   { n.ready <- struct{}{} }
func (n *chanNotifier) BackendFailed(d gate.Diagnostic) { n.failed <- d }

func healthyBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sleepSpec() process.Spec {
	return process.Spec{Name: "backend", Path: "/bin/sh", Args: []string{"-c", "sleep 10"}}
}

func TestSpawnFailureNotifiesFailedAndReturnsError(t *testing.T) {
	n := newChanNotifier()
	s, err := New(Config{
		Spec:     process.Spec{Path: filepath.Join(t.TempDir(), "no-such-backend")},
		Probe:    health.NewHTTPProbe("http://127.0.0.1:1", ""),
		Notifier: n,
		Clock:    instantClock{},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = s.Start(context.Background())
	if err == nil {
		t.Fatalf("expected spawn error")
	}
	if !strings.Contains(err.Error(), "spawn") {
		t.Fatalf("error does not describe the spawn failure: %v", err)
	}

	select {
	case d := <-n.failed:
		if d.Attempts != 0 {
			t.Fatalf("spawn failure consumed retry budget: attempts=%d", d.Attempts)
		}
		if d.LastError == "" {
			t.Fatalf("diagnostic carries no error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("failed notification not delivered")
	}
	select {
	case <-n.ready:
		t.Fatalf("ready notified after spawn failure")
	default:
	}

	// Stop on a failed launch is a no-op, not a hang.
	s.Stop()
}

func TestBackendBecomesReady(t *testing.T) {
	requireUnix(t)
	srv := healthyBackend(t)
	n := newChanNotifier()
	s, err := New(Config{
		Spec:     sleepSpec(),
		Policy:   gate.Policy{MaxAttempts: 10},
		Probe:    health.NewHTTPProbe(srv.URL, "/api/health"),
		Notifier: n,
		Clock:    instantClock{},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case <-n.ready:
	case d := <-n.failed:
		t.Fatalf("unexpected failure: %+v", d)
	case <-time.After(5 * time.Second):
		t.Fatalf("ready notification not delivered")
	}

	st := s.Status()
	if st.Gate.State != gate.StateReady {
		t.Fatalf("gate state = %v, want ready", st.Gate.State)
	}
	if st.Process.State != process.StateRunning {
		t.Fatalf("process state = %v, want running", st.Process.State)
	}
}

func TestStartWhileRunningRejected(t *testing.T) {
	requireUnix(t)
	srv := healthyBackend(t)
	n := newChanNotifier()
	s, err := New(Config{
		Spec:     sleepSpec(),
		Probe:    health.NewHTTPProbe(srv.URL, ""),
		Notifier: n,
		Clock:    instantClock{},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); !errors.Is(err, process.ErrAlreadyRunning) {
		t.Fatalf("second start = %v, want ErrAlreadyRunning", err)
	}
}

func TestProcessExitDuringPendingFails(t *testing.T) {
	requireUnix(t)
	// Backend that dies immediately; the probe target never answers.
	n := newChanNotifier()
	s, err := New(Config{
		Spec:     process.Spec{Path: "/bin/sh", Args: []string{"-c", "exit 3"}},
		Policy:   gate.Policy{MaxAttempts: 1000, Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
		Probe:    health.NewHTTPProbe("http://127.0.0.1:1", ""),
		Notifier: n,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	select {
	case d := <-n.failed:
		if !strings.Contains(d.LastError, "exited before becoming ready") {
			t.Fatalf("diagnostic = %q", d.LastError)
		}
		if d.Attempts >= 1000 {
			t.Fatalf("exit did not short-circuit the budget: attempts=%d", d.Attempts)
		}
	case <-n.ready:
		t.Fatalf("dead backend reported ready")
	case <-time.After(5 * time.Second):
		t.Fatalf("failed notification not delivered")
	}
}

func TestStopDuringPendingIsSilent(t *testing.T) {
	requireUnix(t)
	// Unreachable probe target: the gate stays Pending until Stop.
	n := newChanNotifier()
	s, err := New(Config{
		Spec:     sleepSpec(),
		Policy:   gate.Policy{MaxAttempts: 10000, Interval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
		Probe:    health.NewHTTPProbe("http://127.0.0.1:1", ""),
		Notifier: n,
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	s.Stop()
	s.Stop() // idempotent

	select {
	case <-n.ready:
		t.Fatalf("ready notified for a stopped launch")
	case d := <-n.failed:
		t.Fatalf("failed notified for an intentional stop: %+v", d)
	case <-time.After(200 * time.Millisecond):
	}

	if st := s.Status(); st.Process.State != process.StateStopped {
		t.Fatalf("process state = %v, want stopped", st.Process.State)
	}
}

func TestLaunchHistoryRecorded(t *testing.T) {
	requireUnix(t)
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}

	srv := healthyBackend(t)
	n := newChanNotifier()
	s, err := New(Config{
		Spec:     sleepSpec(),
		Probe:    health.NewHTTPProbe(srv.URL, ""),
		Notifier: n,
		Store:    db,
		Clock:    instantClock{},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case <-n.ready:
	case <-time.After(5 * time.Second):
		t.Fatalf("ready notification not delivered")
	}
	s.Stop()

	// The exit observer finalizes the row moments after Stop returns.
	var l store.Launch
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		launches, err := db.Recent(context.Background(), 5)
		if err != nil {
			t.Fatalf("recent: %v", err)
		}
		if len(launches) == 1 && !launches[0].EndedAt.IsZero() {
			l = launches[0]
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if l.EndedAt.IsZero() {
		t.Fatalf("launch row never finalized")
	}
	if l.Outcome != store.OutcomeReady {
		t.Fatalf("outcome = %q, want ready", l.Outcome)
	}
	if l.PID <= 0 || l.SpawnedAt.IsZero() {
		t.Fatalf("launch row incomplete: %+v", l)
	}
}
