//go:build windows

package executor

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

func signalProcess(cmd *exec.Cmd, _ bool) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
