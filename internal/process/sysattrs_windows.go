//go:build windows

package process

import "os/exec"

func setSysProcAttr(_ *exec.Cmd) {}
