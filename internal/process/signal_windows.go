//go:build windows

package process

import "os"

// terminate on Windows has no SIGTERM equivalent for an arbitrary process;
// fall through to Kill.
func terminate(pid int) {
	kill(pid)
}

func kill(pid int) {
	if pid <= 0 {
		return
	}
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Kill()
	}
}
