package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// autoCloseGrace is how long an auto-closing session stays up after a
// non-clean forward exit, so the user can read the classification line.
const autoCloseGrace = 2 * time.Second

// ForwardConfig is the immutable sidecar configuration captured at session
// creation.
type ForwardConfig struct {
	Enable      bool
	CommandLine string
	AutoClose   bool
}

// ForwardSupervisor owns one session's optional sidecar program: it spawns
// the parsed command line, relays its merged output into the session, writes
// a synthetic classification line when it exits, and can restart it.
type ForwardSupervisor struct {
	commandLine string
	workingDir  string
	autoClose   bool

	relay        func(data []byte)         // session output path (ring + live)
	closeSession func(delay time.Duration) // schedules closing the whole session

	mu     sync.Mutex
	handle *Handle
}

func newForwardSupervisor(cfg ForwardConfig, workingDir string, relay func([]byte), closeSession func(time.Duration)) *ForwardSupervisor {
	return &ForwardSupervisor{
		commandLine:  cfg.CommandLine,
		workingDir:   workingDir,
		autoClose:    cfg.AutoClose,
		relay:        relay,
		closeSession: closeSession,
	}
}

// Start spawns the forwarded program. Spawn failures are classified and
// surfaced as output text; the session itself stays intact.
func (f *ForwardSupervisor) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startLocked()
}

func (f *ForwardSupervisor) startLocked() error {
	path, args, err := ParseCommandLine(f.commandLine)
	if err != nil {
		f.emit(fmt.Sprintf("[cannot start program: %v]", err))
		return err
	}

	handle, err := StartProgram(path, args, f.workingDir, f.relay, nil)
	if err != nil {
		f.emit(fmt.Sprintf("[%s: %s]", classifySpawnError(err), path))
		return err
	}

	f.handle = handle
	go f.watch(handle)
	f.emit(fmt.Sprintf("[program started: %s (pid %d)]", path, handle.Pid()))
	return nil
}

// watch waits for the process to exit and classifies the outcome. Exits of
// superseded handles (deliberate stop or restart) are ignored.
func (f *ForwardSupervisor) watch(h *Handle) {
	<-h.Done()
	code, signal := h.ExitStatus()

	f.mu.Lock()
	current := f.handle == h
	if current {
		f.handle = nil
	}
	f.mu.Unlock()

	if !current {
		return
	}

	f.emit(exitMessage(code, signal))

	if f.autoClose && !(signal == "" && code == 0) {
		f.closeSession(autoCloseGrace)
		return
	}
	f.emit("[type .restart to start the program again]")
}

// Restart is idempotent: a live program is escalation-terminated before a
// fresh one is spawned, and the lock held across both steps guarantees at
// most one live forward process per session.
func (f *ForwardSupervisor) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if h := f.handle; h != nil && h.Alive() {
		f.handle = nil
		Terminate(h)
	}
	return f.startLocked()
}

// Stop escalation-terminates the program without emitting a classification
// line. Used when the whole session is going down.
func (f *ForwardSupervisor) Stop() {
	f.mu.Lock()
	h := f.handle
	f.handle = nil
	f.mu.Unlock()

	if h != nil && h.Alive() {
		Terminate(h)
	}
}

// Interrupt delivers an interrupt signal to the program's whole process
// tree. Reports whether a live program received it.
func (f *ForwardSupervisor) Interrupt() bool {
	f.mu.Lock()
	h := f.handle
	f.mu.Unlock()

	if h == nil || !h.Alive() {
		return false
	}
	_ = h.SignalGroup(syscall.SIGINT)
	return true
}

// Running reports whether a forward process is currently live, and its pid.
func (f *ForwardSupervisor) Running() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle == nil || !f.handle.Alive() {
		return false, 0
	}
	return true, f.handle.Pid()
}

func (f *ForwardSupervisor) emit(line string) {
	f.relay([]byte("\r\n" + line + "\r\n"))
}

// exitMessage distinguishes terminated-by-signal, abnormal-exit-no-code,
// clean-exit-zero and error-exit-nonzero.
func exitMessage(code int, signal string) string {
	switch {
	case signal != "":
		return fmt.Sprintf("[program terminated by signal: %s]", signal)
	case code < 0:
		return "[program exited abnormally]"
	case code == 0:
		return "[program exited cleanly]"
	default:
		return fmt.Sprintf("[program exited with code %d]", code)
	}
}

// classifySpawnError maps a spawn failure to a user-readable cause.
func classifySpawnError(err error) string {
	switch {
	case errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound):
		return "program not found"
	case errors.Is(err, os.ErrPermission):
		return "permission denied"
	case errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE):
		return "system resources exhausted"
	default:
		return "failed to start program"
	}
}
