package process

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/simgate/internal/logger"
)

// DefaultStopGrace is how long Stop waits for a graceful exit before killing.
const DefaultStopGrace = 3 * time.Second

// Spec describes the backend executable to be supervised.
// The launch command (Path + Args) is immutable once the Process is created.
type Spec struct {
	Name      string        `json:"name"`       // logical name, used for log file naming
	Path      string        `json:"path"`       // executable path
	Args      []string      `json:"args"`       // argument list, e.g. --headless --port=8080
	WorkDir   string        `json:"work_dir"`   // optional working dir
	Env       []string      `json:"env"`        // optional extra env (KEY=VALUE)
	StopGrace time.Duration `json:"stop_grace"` // wait before SIGKILL escalation
	Log       logger.Config `json:"log"`        // backend stdout/stderr destinations
}

// Validate checks the spec for obvious construction errors.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return errors.New("spec: executable path required")
	}
	for i, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("spec: env[%d] %q must be KEY=VALUE", i, kv)
		}
	}
	if s.StopGrace < 0 {
		return errors.New("spec: stop_grace cannot be negative")
	}
	return nil
}

// BuildCommand constructs the *exec.Cmd for this spec. The backend is an
// executable plus a fixed argument list; no shell is ever involved.
func (s *Spec) BuildCommand() *exec.Cmd {
	// #nosec G204 -- the launch command comes from trusted configuration
	cmd := exec.Command(s.Path, s.Args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	return cmd
}

// name returns the logical name, defaulting when unset.
func (s *Spec) name() string {
	if s.Name != "" {
		return s.Name
	}
	return "backend"
}

func (s *Spec) stopGrace() time.Duration {
	if s.StopGrace > 0 {
		return s.StopGrace
	}
	return DefaultStopGrace
}
