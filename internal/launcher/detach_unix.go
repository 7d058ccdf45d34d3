//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// detach starts the worker in a new session.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
