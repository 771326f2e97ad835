//go:build windows

package terminal

import (
	"os"
	"os/exec"
	"strconv"
)

// Stream forwarding is rejected at session creation on Windows, so the
// group-signal path is unreachable; the stubs keep the package portable.

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(pid int, sig os.Signal) error {
	return ErrInvalidArgument
}

func exitSignal(ps *os.ProcessState) string {
	return ""
}

// forceKill reaps a process that survived the kill signal. taskkill
// terminates the whole tree by pid.
func forceKill(pid int) {
	_ = exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}
