//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcGroupAttr puts the child in its own process group so the whole
// tree can be signalled at once
func setProcGroupAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killGroup sends SIGKILL to the process group led by pid
func killGroup(cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return cmd.Process.Kill()
}
