//go:build windows

package process

import "os/exec"

func setProcGroupAttr(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
