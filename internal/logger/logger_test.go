package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWritersFromDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW, err := c.Writers("backend")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW == nil || errW == nil {
		t.Fatalf("writers missing: out=%v err=%v", outW, errW)
	}
	if _, err := outW.Write([]byte("stdout line\n")); err != nil {
		t.Fatalf("write stdout: %v", err)
	}
	if _, err := errW.Write([]byte("stderr line\n")); err != nil {
		t.Fatalf("write stderr: %v", err)
	}
	_ = outW.Close()
	_ = errW.Close()

	b, err := os.ReadFile(filepath.Join(dir, "backend.stdout.log"))
	if err != nil || !strings.Contains(string(b), "stdout line") {
		t.Fatalf("stdout log not written: %v %q", err, string(b))
	}
	b, err = os.ReadFile(filepath.Join(dir, "backend.stderr.log"))
	if err != nil || !strings.Contains(string(b), "stderr line") {
		t.Fatalf("stderr log not written: %v %q", err, string(b))
	}
}

func TestWritersExplicitPaths(t *testing.T) {
	dir := t.TempDir()
	c := Config{StdoutPath: filepath.Join(dir, "out.log")}
	outW, errW, err := c.Writers("backend")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW == nil {
		t.Fatalf("stdout writer missing")
	}
	if errW != nil {
		t.Fatalf("stderr writer created without a destination")
	}
	_, _ = outW.Write([]byte("x"))
	_ = outW.Close()
	if _, err := os.Stat(filepath.Join(dir, "out.log")); err != nil {
		t.Fatalf("explicit path not used: %v", err)
	}
}

func TestWritersEmptyConfig(t *testing.T) {
	outW, errW, err := Config{}.Writers("backend")
	if err != nil {
		t.Fatalf("writers: %v", err)
	}
	if outW != nil || errW != nil {
		t.Fatalf("writers created with no destinations")
	}
}

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "WARNING", "", "bogus"} {
		if l := New(level, false); l == nil {
			t.Fatalf("nil logger for level %q", level)
		}
		if l := New(level, true); l == nil {
			t.Fatalf("nil color logger for level %q", level)
		}
	}
}
