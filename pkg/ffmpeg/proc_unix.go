//go:build unix

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own group so cancellation also kills
// anything it forked.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
