//go:build !windows

package terminal

import (
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// outputSink collects everything a supervisor relays.
type outputSink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (o *outputSink) relay(data []byte) {
	o.mu.Lock()
	o.buf.Write(data)
	o.mu.Unlock()
}

func (o *outputSink) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buf.String()
}

func (o *outputSink) waitFor(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(o.String(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("output never contained %q, got:\n%s", substr, o.String())
}

type closeRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (c *closeRecorder) schedule(d time.Duration) {
	c.mu.Lock()
	c.calls = append(c.calls, d)
	c.mu.Unlock()
}

func (c *closeRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestSupervisor(cfg ForwardConfig) (*ForwardSupervisor, *outputSink, *closeRecorder) {
	sink := &outputSink{}
	closer := &closeRecorder{}
	sup := newForwardSupervisor(cfg, "/tmp", sink.relay, closer.schedule)
	return sup, sink, closer
}

func TestForwardCleanExit(t *testing.T) {
	sup, sink, closer := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/true",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program started: /bin/true")
	sink.waitFor(t, "[program exited cleanly]")
	sink.waitFor(t, "[type .restart to start the program again]")
	assert.Zero(t, closer.count(), "clean exit without auto-close must not close the session")
}

func TestForwardNonZeroExit(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/false",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program exited with code 1]")
}

func TestForwardRelaysOutput(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/echo hello forward",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "hello forward")
	sink.waitFor(t, "[program exited cleanly]")
}

func TestForwardSignalClassification(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/sleep 30",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program started: /bin/sleep")

	running, pid := sup.Running()
	require.True(t, running)
	require.NoError(t, syscall.Kill(pid, syscall.SIGKILL))

	sink.waitFor(t, "[program terminated by signal: killed]")
}

func TestForwardSpawnNotFound(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/no/such/binary/anywhere",
	})

	assert.Error(t, sup.Start())
	sink.waitFor(t, "[program not found: /no/such/binary/anywhere]")

	running, _ := sup.Running()
	assert.False(t, running)
}

func TestForwardBadCommandLine(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "relative/path arg",
	})

	assert.Error(t, sup.Start())
	sink.waitFor(t, "[cannot start program:")
}

func TestForwardAutoClose(t *testing.T) {
	sup, sink, closer := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/false",
		AutoClose:   true,
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program exited with code 1]")

	deadline := time.Now().Add(2 * time.Second)
	for closer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 1, closer.count(), "non-clean exit with auto-close should schedule a close")
	assert.NotContains(t, sink.String(), ".restart", "auto-closing sessions do not advertise restart")
}

func TestForwardAutoCloseSkipsCleanExit(t *testing.T) {
	sup, sink, closer := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/true",
		AutoClose:   true,
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program exited cleanly]")

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, closer.count(), "clean exits never auto-close")
}

func TestForwardRestartReplacesProcess(t *testing.T) {
	restoreEscalationWait(t)

	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/sleep 30",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program started:")
	_, firstPid := sup.Running()

	require.NoError(t, sup.Restart())

	running, secondPid := sup.Running()
	require.True(t, running, "restart should leave a live process")
	assert.NotEqual(t, firstPid, secondPid)

	// The old process's exit must not produce a classification line.
	time.Sleep(200 * time.Millisecond)
	assert.NotContains(t, sink.String(), "terminated by signal")

	sup.Stop()
}

func TestForwardRestartAfterExit(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/true",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[type .restart to start the program again]")

	require.NoError(t, sup.Restart())
	deadline := time.Now().Add(5 * time.Second)
	for strings.Count(sink.String(), "[program exited cleanly]") < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 2, strings.Count(sink.String(), "[program exited cleanly]"))
	assert.Equal(t, 2, strings.Count(sink.String(), "[program started:"))
}

func TestForwardStopSilences(t *testing.T) {
	restoreEscalationWait(t)

	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/sleep 30",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program started:")

	sup.Stop()
	time.Sleep(200 * time.Millisecond)

	assert.NotContains(t, sink.String(), "terminated by signal",
		"deliberate stop must not emit an exit classification")
	running, _ := sup.Running()
	assert.False(t, running)
}

func TestForwardInterrupt(t *testing.T) {
	sup, sink, _ := newTestSupervisor(ForwardConfig{
		Enable:      true,
		CommandLine: "/bin/sleep 30",
	})

	require.NoError(t, sup.Start())
	sink.waitFor(t, "[program started:")

	assert.True(t, sup.Interrupt())
	sink.waitFor(t, "[program terminated by signal: interrupt]")

	assert.False(t, sup.Interrupt(), "interrupt with no live program reports false")
}

// restoreEscalationWait shortens the escalation pause for tests that
// terminate live processes, restoring it on cleanup.
func restoreEscalationWait(t *testing.T) {
	t.Helper()
	prev := escalationWait
	escalationWait = 50 * time.Millisecond
	t.Cleanup(func() { escalationWait = prev })
}
