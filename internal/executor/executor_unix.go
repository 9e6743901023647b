//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts ffmpeg in its own process group so a timeout kill
// can take down any child processes it spawns, not just the ffmpeg PID
// itself.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the whole process group started by
// setProcessGroup.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
