package terminal

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
)

const readChunkSize = 32 * 1024

// Handle wraps one OS child process: its merged output stream, stdin, pid,
// exit status and kill primitive. The shell runs under a PTY; a forwarded
// program runs on plain pipes with its own process group.
type Handle struct {
	cmd    *exec.Cmd
	ptmx   *os.File       // PTY master; nil for piped processes
	stdin  io.WriteCloser // pipe stdin; nil for PTY processes
	output io.ReadCloser  // merged stdout+stderr for piped processes
	pid    int

	done chan struct{}

	stdinOnce sync.Once

	exitMu     sync.Mutex
	exitCode   int
	exitSignal string
}

// StartShell spawns an interactive shell under a pseudo-terminal sized to
// cols x rows. Output chunks are delivered to onData in emission order from
// a single reader goroutine; onExit fires once, after the last chunk.
func StartShell(shell, workingDir string, cols, rows uint16, onData func([]byte), onExit func(code int, signal string)) (*Handle, error) {
	if shell == "" {
		shell = os.Getenv("SHELL")
		if shell == "" {
			shell = "/bin/bash"
		}
	}

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	h := &Handle{
		cmd:  cmd,
		ptmx: ptmx,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	h.run(ptmx, onData, onExit)
	return h, nil
}

// StartProgram spawns a forwarded program with piped stdio, stdout and
// stderr merged into one stream. On POSIX platforms the child becomes its
// own process-group leader so interrupt signals can target the whole tree.
func StartProgram(path string, args []string, workingDir string, onData func([]byte), onExit func(code int, signal string)) (*Handle, error) {
	cmd := exec.Command(path, args...)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		outR.Close()
		outW.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	outW.Close()

	h := &Handle{
		cmd:    cmd,
		stdin:  stdin,
		output: outR,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}
	h.run(outR, onData, onExit)
	return h, nil
}

// run starts the reader and exit-monitor goroutines. The monitor waits for
// the reader to drain so onExit never races ahead of buffered output.
func (h *Handle) run(r io.Reader, onData func([]byte), onExit func(code int, signal string)) {
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 && onData != nil {
				onData(buf[:n])
			}
			if err != nil {
				// PTY masters report EIO once the child is gone.
				return
			}
		}
	}()

	go func() {
		_ = h.cmd.Wait()
		<-readerDone

		code := -1
		signal := ""
		if ps := h.cmd.ProcessState; ps != nil {
			code = ps.ExitCode()
			signal = exitSignal(ps)
		}

		h.exitMu.Lock()
		h.exitCode = code
		h.exitSignal = signal
		h.exitMu.Unlock()

		if h.ptmx != nil {
			h.ptmx.Close()
		}
		if h.output != nil {
			h.output.Close()
		}

		close(h.done)
		if onExit != nil {
			onExit(code, signal)
		}
	}()
}

// Write sends raw bytes to the process's stdin. The OS pipe may apply
// backpressure; that blocks only the calling goroutine.
func (h *Handle) Write(p []byte) (int, error) {
	if h.ptmx != nil {
		return h.ptmx.Write(p)
	}
	return h.stdin.Write(p)
}

// Resize delivers a window-change notification to a PTY process. It is a
// pure ioctl and injects no bytes into the output stream. Piped processes
// have no geometry; the call is a no-op for them.
func (h *Handle) Resize(cols, rows uint16) error {
	if h.ptmx == nil {
		return nil
	}
	return pty.Setsize(h.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// Signal sends sig to the process itself.
func (h *Handle) Signal(sig os.Signal) error {
	if h.cmd.Process == nil {
		return ErrSessionClosed
	}
	return h.cmd.Process.Signal(sig)
}

// SignalGroup sends sig to the process's whole group (POSIX only; requires
// the process to have been started via StartProgram).
func (h *Handle) SignalGroup(sig os.Signal) error {
	return signalGroup(h.pid, sig)
}

// Kill force-terminates the process.
func (h *Handle) Kill() error {
	if h.cmd.Process == nil {
		return ErrSessionClosed
	}
	return h.cmd.Process.Kill()
}

// CloseStdin ends the child's input stream so it observes EOF. Piped stdin
// is closed outright. The PTY master carries output too and cannot be
// closed; writing EOT makes the line discipline deliver end-of-input to
// the child instead.
func (h *Handle) CloseStdin() {
	h.stdinOnce.Do(func() {
		if h.ptmx != nil {
			_, _ = h.ptmx.Write([]byte{0x04})
			return
		}
		h.stdin.Close()
	})
}

// Pid returns the child's process id.
func (h *Handle) Pid() int {
	return h.pid
}

// Done is closed once the process exit has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Alive reports whether the process has not yet been reaped.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitStatus returns the recorded exit code and signal name. Valid only
// after Done is closed.
func (h *Handle) ExitStatus() (int, string) {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	return h.exitCode, h.exitSignal
}
