//go:build !windows

package terminal

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child a process-group leader so signals can
// target the whole tree.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to every process in pid's group.
func signalGroup(pid int, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		s = syscall.SIGINT
	}
	return syscall.Kill(-pid, s)
}

// exitSignal names the signal that terminated the process, or "".
func exitSignal(ps *os.ProcessState) string {
	status, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return ""
	}
	return status.Signal().String()
}

// forceKill is the last-resort fallback after the kill signal itself. POSIX
// relies on SIGKILL delivery, so there is nothing further to do here.
func forceKill(pid int) {}
