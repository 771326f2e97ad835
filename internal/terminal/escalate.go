package terminal

import (
	"os"
	"syscall"
	"time"
)

// escalationWait is the pause between escalation steps.
var escalationWait = 2 * time.Second

// process is the minimal surface the escalator drives. *Handle satisfies it;
// tests substitute fakes.
type process interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	CloseStdin()
	Done() <-chan struct{}
}

// Terminate guarantees eventual process death: interrupt, wait, terminate,
// wait, kill, then the platform fallback. Stdin is closed before the first
// signal so the child observes EOF. Any observed exit skips the remaining
// steps. Safe to call concurrently and repeatedly for the same process;
// blocks until the exit is confirmed.
func Terminate(p process) {
	terminate(p, escalationWait)
}

func terminate(p process, wait time.Duration) {
	select {
	case <-p.Done():
		return
	default:
	}

	p.CloseStdin()

	for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
		_ = p.Signal(sig)
		select {
		case <-p.Done():
			return
		case <-time.After(wait):
		}
	}

	_ = p.Kill()
	select {
	case <-p.Done():
		return
	case <-time.After(wait):
	}

	forceKill(p.Pid())
	<-p.Done()
}
