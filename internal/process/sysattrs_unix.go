//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setSysProcAttr places the backend in its own process group so that
// termination signals reach any children it forks.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
