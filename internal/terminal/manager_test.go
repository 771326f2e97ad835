//go:build !windows

package terminal

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every event the registry sends to it.
type fakeTransport struct {
	mu     sync.Mutex
	events []Event
}

func (f *fakeTransport) Send(ev Event) error {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) all() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeTransport) ofType(typ EventType) []Event {
	var out []Event
	for _, ev := range f.all() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeTransport) output() string {
	var b strings.Builder
	for _, ev := range f.ofType(EventOutput) {
		b.WriteString(ev.Data)
	}
	return b.String()
}

func (f *fakeTransport) waitForOutput(t *testing.T, substr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(f.output(), substr) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transport never received %q, got:\n%s", substr, f.output())
}

func (f *fakeTransport) waitForEvent(t *testing.T, typ EventType) Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evs := f.ofType(typ); len(evs) > 0 {
			return evs[0]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transport never received a %q event", typ)
	return Event{}
}

// fakeDirectory maps transport ids to fake transports.
type fakeDirectory struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{transports: make(map[string]*fakeTransport)}
}

func (d *fakeDirectory) add(id string) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	ft := &fakeTransport{}
	d.transports[id] = ft
	return ft
}

func (d *fakeDirectory) Lookup(id string) (Transport, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ft, ok := d.transports[id]
	return ft, ok
}

func newTestManager(t *testing.T, opts Options) (*Manager, *fakeDirectory) {
	t.Helper()
	restoreEscalationWait(t)

	dir := newFakeDirectory()
	opts.Transports = dir
	if opts.Shell == "" {
		opts.Shell = "/bin/sh"
	}
	m := NewManager(opts)
	t.Cleanup(m.Shutdown)
	return m, dir
}

func TestCreateSessionRejectsEmptyID(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.CreateSession(CreateParams{})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, m.ListActive(), "rejected request must leave no session behind")
}

func TestCreateSessionRejectsForwardWithoutCommand(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.CreateSession(CreateParams{
		ID:                  "s1",
		EnableStreamForward: true,
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, m.ListActive())
}

func TestCreateSessionRejectsRelativeForwardPath(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.CreateSession(CreateParams{
		ID:                  "s1",
		EnableStreamForward: true,
		ProgramCommandLine:  "bin/tool --flag",
	})
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, m.ListActive())
}

func TestCreateSessionDefaults(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	dir.add("t1")

	info, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, "session-s1", info.Name)
	assert.Equal(t, uint16(80), info.Cols)
	assert.Equal(t, uint16(24), info.Rows)
	assert.Greater(t, info.Pid, 0)
	assert.False(t, info.ForwardEnabled)
}

func TestSessionEchoRoundTrip(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)

	created := ft.waitForEvent(t, EventSessionCreated)
	assert.Equal(t, "s1", created.SessionID)

	require.NoError(t, m.HandleInput("s1", []byte("echo round-trip\n"), "t1"))
	ft.waitForOutput(t, "round-trip")

	require.NoError(t, m.CloseSession("s1"))

	exit := ft.waitForEvent(t, EventExit)
	require.NotNil(t, exit.Code)
	ft.waitForEvent(t, EventClosed)
	assert.Empty(t, m.ListActive())
}

func TestInputToUnknownSession(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	err := m.HandleInput("missing", []byte("x"), "t1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDisconnectKeepsSessionAlive(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)
	ft.waitForEvent(t, EventSessionCreated)

	m.DetachTransport("t1")

	infos := m.ListActive()
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Disconnected)

	// Input arriving on a new transport implicitly resumes the session.
	dir.add("t2")
	require.NoError(t, m.HandleInput("s1", []byte("echo back\n"), "t2"))

	infos = m.ListActive()
	require.Len(t, infos, 1)
	assert.False(t, infos[0].Disconnected)
}

func TestReconnectReplaysHistoryOnce(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft1 := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)

	require.NoError(t, m.HandleInput("s1", []byte("echo before-detach\n"), "t1"))
	ft1.waitForOutput(t, "before-detach")

	m.DetachTransport("t1")

	require.False(t, m.Reconnect("missing", "t2"))

	ft2 := dir.add("t2")
	require.True(t, m.Reconnect("s1", "t2"))

	historical := ft2.ofType(EventOutput)
	require.NotEmpty(t, historical, "reconnect must replay buffered output")
	assert.True(t, historical[0].Historical, "the first chunk after reconnect is the historical batch")
	assert.Contains(t, historical[0].Data, "before-detach")

	histCount := 0
	for _, ev := range ft2.ofType(EventOutput) {
		if ev.Historical {
			histCount++
		}
	}
	assert.Equal(t, 1, histCount, "history is replayed as exactly one batch")

	// Live output after reconnect is never flagged historical.
	require.NoError(t, m.HandleInput("s1", []byte("echo after-reconnect\n"), "t2"))
	ft2.waitForOutput(t, "after-reconnect")
	for _, ev := range ft2.ofType(EventOutput)[1:] {
		assert.False(t, ev.Historical)
	}
}

func TestCreateSessionReplacesDuplicateID(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	first, err := m.CreateSession(CreateParams{ID: "dup", TransportID: "t1"})
	require.NoError(t, err)

	second, err := m.CreateSession(CreateParams{ID: "dup", TransportID: "t1"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Pid, second.Pid, "replacement spawns a fresh shell")
	require.Len(t, m.ListActive(), 1)

	// The first shell's teardown produced exit and closed events.
	ft.waitForEvent(t, EventExit)
	ft.waitForEvent(t, EventClosed)

	// The replacement session is live and usable.
	require.NoError(t, m.HandleInput("dup", []byte("echo survivor\n"), "t1"))
	ft.waitForOutput(t, "survivor")
}

func TestStatusCommand(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", Name: "mine", TransportID: "t1"})
	require.NoError(t, err)

	require.NoError(t, m.HandleInput("s1", []byte(".status\n"), "t1"))
	ft.waitForOutput(t, "--- session status ---")
	assert.Contains(t, ft.output(), "mine")
	assert.Contains(t, ft.output(), "active")
}

func TestRestartWithoutForward(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)

	require.NoError(t, m.HandleInput("s1", []byte(".restart\r\n"), "t1"))
	ft.waitForOutput(t, "[no forwarded program configured]")
}

func TestForwardSessionLifecycle(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	info, err := m.CreateSession(CreateParams{
		ID:                  "fwd",
		TransportID:         "t1",
		EnableStreamForward: true,
		ProgramCommandLine:  "/bin/sleep 30",
	})
	require.NoError(t, err)
	assert.True(t, info.ForwardEnabled)

	ft.waitForOutput(t, "[program started: /bin/sleep")

	// A lone interrupt byte reaches the forwarded process, not the shell.
	require.NoError(t, m.HandleInput("fwd", []byte{0x03}, "t1"))
	ft.waitForOutput(t, "[program terminated by signal: interrupt]")
	ft.waitForOutput(t, "[type .restart to start the program again]")

	require.NoError(t, m.HandleInput("fwd", []byte(".restart\n"), "t1"))
	deadline := time.Now().Add(5 * time.Second)
	for strings.Count(ft.output(), "[program started:") < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, 2, strings.Count(ft.output(), "[program started:"))

	require.NoError(t, m.CloseSession("fwd"))
	assert.Empty(t, m.ListActive())
}

func TestForwardSpawnFailureKeepsSession(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{
		ID:                  "fwd",
		TransportID:         "t1",
		EnableStreamForward: true,
		ProgramCommandLine:  "/no/such/program",
	})
	require.NoError(t, err, "forward spawn failure must not fail session creation")

	ft.waitForOutput(t, "[program not found: /no/such/program]")

	// The shell underneath is intact.
	require.NoError(t, m.HandleInput("fwd", []byte("echo still-here\n"), "t1"))
	ft.waitForOutput(t, "still-here")
}

func TestListActiveDuringForwardRestart(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	// A program that traps interrupt and terminate forces the restart to
	// hold the supervisor lock through the whole escalation.
	script := filepath.Join(t.TempDir(), "stubborn.sh")
	require.NoError(t, os.WriteFile(script,
		[]byte("#!/bin/sh\ntrap '' INT TERM\nwhile :; do :; done\n"), 0o755))

	_, err := m.CreateSession(CreateParams{
		ID:                  "fwd",
		TransportID:         "t1",
		EnableStreamForward: true,
		ProgramCommandLine:  script,
	})
	require.NoError(t, err)
	ft.waitForOutput(t, "[program started:")

	require.NoError(t, m.HandleInput("fwd", []byte(".restart\n"), "t1"))
	time.Sleep(20 * time.Millisecond)

	// Session snapshots must not block behind the supervisor lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			m.ListActive()
			_ = m.HandleInput("fwd", []byte(".status\n"), "t1")
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session listing blocked while a forward restart was escalating")
	}

	require.NoError(t, m.CloseSession("fwd"))
}

func TestReconnectEmptyHistorySendsNoReplay(t *testing.T) {
	// cat under a PTY emits nothing until it is fed input.
	m, dir := newTestManager(t, Options{Shell: "/bin/cat"})
	dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "quiet", TransportID: "t1"})
	require.NoError(t, err)

	m.DetachTransport("t1")

	ft2 := dir.add("t2")
	require.True(t, m.Reconnect("quiet", "t2"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ft2.ofType(EventOutput), "an empty history must not produce a replay batch")
}

func TestResize(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)

	require.ErrorIs(t, m.Resize("s1", 0, 24), ErrInvalidArgument)
	require.ErrorIs(t, m.Resize("missing", 100, 40), ErrSessionNotFound)

	require.NoError(t, m.Resize("s1", 120, 40))
	ev := ft.waitForEvent(t, EventResized)
	assert.Equal(t, uint16(120), ev.Cols)
	assert.Equal(t, uint16(40), ev.Rows)

	infos := m.ListActive()
	require.Len(t, infos, 1)
	assert.Equal(t, uint16(120), infos[0].Cols)
}

func TestRename(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.CreateSession(CreateParams{ID: "s1"})
	require.NoError(t, err)

	require.ErrorIs(t, m.Rename("s1", ""), ErrInvalidArgument)
	require.ErrorIs(t, m.Rename("missing", "x"), ErrSessionNotFound)

	require.NoError(t, m.Rename("s1", "renamed"))
	infos := m.ListActive()
	require.Len(t, infos, 1)
	assert.Equal(t, "renamed", infos[0].Name)
}

func TestCloseSessionNotFound(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	assert.ErrorIs(t, m.CloseSession("missing"), ErrSessionNotFound)
}

func TestCloseSessionIdempotent(t *testing.T) {
	m, _ := newTestManager(t, Options{})

	_, err := m.CreateSession(CreateParams{ID: "s1"})
	require.NoError(t, err)

	require.NoError(t, m.CloseSession("s1"))
	assert.ErrorIs(t, m.CloseSession("s1"), ErrSessionNotFound)
	assert.ErrorIs(t, m.HandleInput("s1", []byte("x"), "t1"), ErrSessionNotFound)
}

func TestReaperClosesStaleDisconnected(t *testing.T) {
	m, dir := newTestManager(t, Options{
		ReaperInterval: 50 * time.Millisecond,
		DisconnectTTL:  50 * time.Millisecond,
	})
	dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "stale", TransportID: "t1"})
	require.NoError(t, err)

	m.DetachTransport("t1")

	deadline := time.Now().Add(5 * time.Second)
	for len(m.ListActive()) > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	assert.Empty(t, m.ListActive(), "reaper should close sessions disconnected past the TTL")
}

func TestReaperIgnoresFreshSessions(t *testing.T) {
	m, dir := newTestManager(t, Options{
		ReaperInterval: 50 * time.Millisecond,
		DisconnectTTL:  time.Hour,
		IdleTTL:        time.Hour,
	})
	dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "fresh", TransportID: "t1"})
	require.NoError(t, err)

	time.Sleep(300 * time.Millisecond)
	assert.Len(t, m.ListActive(), 1)
}

func TestShellExitDestroysSession(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	ft := dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", TransportID: "t1"})
	require.NoError(t, err)

	require.NoError(t, m.HandleInput("s1", []byte("exit\n"), "t1"))

	ft.waitForEvent(t, EventExit)
	ft.waitForEvent(t, EventClosed)

	deadline := time.Now().Add(5 * time.Second)
	for len(m.ListActive()) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Empty(t, m.ListActive())
}

func TestShutdownClosesEverything(t *testing.T) {
	m, dir := newTestManager(t, Options{})
	dir.add("t1")

	for _, id := range []string{"a", "b", "c"} {
		_, err := m.CreateSession(CreateParams{ID: id, TransportID: "t1"})
		require.NoError(t, err)
	}
	require.Len(t, m.ListActive(), 3)

	m.Shutdown()
	assert.Empty(t, m.ListActive())
}

func TestManagerPersistsRecords(t *testing.T) {
	rec := &memoryStore{records: make(map[string]PersistedRecord)}
	m, dir := newTestManager(t, Options{Store: rec})
	dir.add("t1")

	_, err := m.CreateSession(CreateParams{ID: "s1", Name: "kept", TransportID: "t1"})
	require.NoError(t, err)

	records, err := m.ListPersisted()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "kept", records[0].Name)
	assert.True(t, records[0].IsActive)

	require.NoError(t, m.CloseSession("s1"))
	records, err = m.ListPersisted()
	require.NoError(t, err)
	assert.Empty(t, records, "closing a session deletes its record")
}

type memoryStore struct {
	mu      sync.Mutex
	records map[string]PersistedRecord
}

func (s *memoryStore) Upsert(r PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	return nil
}

func (s *memoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *memoryStore) List() ([]PersistedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PersistedRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out, nil
}
