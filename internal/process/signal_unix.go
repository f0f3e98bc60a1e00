//go:build !windows

package process

import "syscall"

// terminate sends SIGTERM to the backend's process group.
func terminate(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGTERM)
}

// kill sends SIGKILL to the backend's process group.
func kill(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}
