package terminal

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reaper and interception defaults.
const (
	defaultReaperInterval = 5 * time.Minute
	defaultDisconnectTTL  = 5 * time.Minute
	defaultIdleTTL        = 30 * time.Minute

	statusCommand  = ".status"
	restartCommand = ".restart"
	interruptByte  = 0x03
)

// Options configures a Manager. Zero values fall back to defaults; Store and
// Metrics may be left nil.
type Options struct {
	Logger     *zap.Logger
	Store      RecordStore
	Transports TransportDirectory
	Metrics    Metrics

	Shell          string // primary shell; defaults to $SHELL then /bin/bash
	ReaperInterval time.Duration
	DisconnectTTL  time.Duration
	IdleTTL        time.Duration
}

// CreateParams are the arguments of a create-session request.
type CreateParams struct {
	ID          string
	Name        string
	Cols        uint16
	Rows        uint16
	WorkingDir  string
	TransportID string

	EnableStreamForward    bool
	ProgramCommandLine     string
	AutoCloseOnForwardExit bool
}

// Manager is the session registry: it owns the map of live sessions, routes
// transport events to the right session and runs the stale-session reaper.
// It is an instance type with an explicit Shutdown, never a process global.
type Manager struct {
	log        *zap.Logger
	store      RecordStore
	transports TransportDirectory
	metrics    Metrics

	shell          string
	disconnectTTL  time.Duration
	idleTTL        time.Duration
	reaperInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a registry and starts its reaper.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Store == nil {
		opts.Store = noopStore{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.ReaperInterval <= 0 {
		opts.ReaperInterval = defaultReaperInterval
	}
	if opts.DisconnectTTL <= 0 {
		opts.DisconnectTTL = defaultDisconnectTTL
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}

	m := &Manager{
		log:            opts.Logger,
		store:          opts.Store,
		transports:     opts.Transports,
		metrics:        opts.Metrics,
		shell:          opts.Shell,
		disconnectTTL:  opts.DisconnectTTL,
		idleTTL:        opts.IdleTTL,
		reaperInterval: opts.ReaperInterval,
		sessions:       make(map[string]*Session),
		stop:           make(chan struct{}),
	}

	m.wg.Add(1)
	go m.reap()

	return m
}

// CreateSession validates the request, replaces any live session with the
// same id, spawns the shell and optionally the forwarded program, registers
// and persists the session, and announces it to the bound transport.
//
// All InvalidArgument rejections happen before anything is spawned, leaving
// no partial state behind.
func (m *Manager) CreateSession(p CreateParams) (*SessionInfo, error) {
	if p.ID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidArgument)
	}
	if p.Cols == 0 {
		p.Cols = 80
	}
	if p.Rows == 0 {
		p.Rows = 24
	}
	if p.Name == "" {
		p.Name = "session-" + p.ID
	}

	if p.EnableStreamForward {
		if runtime.GOOS == "windows" {
			return nil, fmt.Errorf("%w: stream forwarding is not supported on this platform", ErrInvalidArgument)
		}
		if strings.TrimSpace(p.ProgramCommandLine) == "" {
			return nil, fmt.Errorf("%w: stream forwarding requires a program command line", ErrInvalidArgument)
		}
		if _, _, err := ParseCommandLine(p.ProgramCommandLine); err != nil {
			return nil, err
		}
	}

	// Idempotent replace: a live session with the same id is closed first.
	if existing := m.lookup(p.ID); existing != nil {
		m.log.Info("replacing existing session", zap.String("session_id", p.ID))
		_ = m.CloseSession(p.ID)
	}

	now := time.Now()
	s := &Session{
		id:         p.ID,
		workingDir: p.WorkingDir,
		createdAt:  now,
		forwardCfg: ForwardConfig{
			Enable:      p.EnableStreamForward,
			CommandLine: p.ProgramCommandLine,
			AutoClose:   p.AutoCloseOnForwardExit,
		},
		m:            m,
		name:         p.Name,
		state:        StateActive,
		lastActivity: now,
		transportID:  p.TransportID,
		cols:         p.Cols,
		rows:         p.Rows,
		ring:         NewRing(),
	}

	primary, err := StartShell(m.shell, p.WorkingDir, p.Cols, p.Rows, s.deliverOutput, func(code int, signal string) {
		m.handlePrimaryExit(s, code, signal)
	})
	if err != nil {
		m.log.Error("shell spawn failed", zap.String("session_id", p.ID), zap.Error(err))
		s.sendTo(p.TransportID, Event{Type: EventError, SessionID: p.ID, Message: err.Error()})
		return nil, err
	}
	s.primary = primary

	if p.EnableStreamForward {
		s.forward = newForwardSupervisor(s.forwardCfg, p.WorkingDir, s.deliverOutput, s.scheduleClose)
	}

	m.mu.Lock()
	m.sessions[p.ID] = s
	m.mu.Unlock()

	if err := m.store.Upsert(s.record()); err != nil {
		m.log.Warn("failed to persist session record", zap.String("session_id", p.ID), zap.Error(err))
	}
	m.metrics.SessionOpened()

	m.log.Info("session created",
		zap.String("session_id", p.ID),
		zap.String("working_dir", p.WorkingDir),
		zap.Int("shell_pid", primary.Pid()),
		zap.Bool("forward", p.EnableStreamForward))

	s.sendTo(p.TransportID, Event{
		Type:       EventSessionCreated,
		SessionID:  p.ID,
		WorkingDir: p.WorkingDir,
	})

	// A forward spawn failure is surfaced as output text; the session with
	// its shell stays intact.
	if s.forward != nil {
		if err := s.forward.Start(); err != nil {
			m.log.Warn("forward program spawn failed", zap.String("session_id", p.ID), zap.Error(err))
		}
	}

	info := s.info()
	return &info, nil
}

// HandleInput routes raw input bytes to a session's shell. Input to a
// disconnected session implicitly resumes it, rebinding the session to the
// transport the input arrived on. The .status and .restart line commands and
// the lone interrupt byte are intercepted instead of being forwarded.
func (m *Manager) HandleInput(id string, data []byte, transportID string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, id)
	}
	s.lastActivity = time.Now()
	resumed := false
	if s.state == StateDisconnected {
		s.state = StateActive
		s.disconnectedAt = time.Time{}
		if transportID != "" {
			s.transportID = transportID
		}
		resumed = true
	}
	primary := s.primary
	forward := s.forward
	s.mu.Unlock()

	if resumed {
		m.log.Info("session resumed by input", zap.String("session_id", id))
		if err := m.store.Upsert(s.record()); err != nil {
			m.log.Warn("failed to persist session record", zap.String("session_id", id), zap.Error(err))
		}
	}

	switch trimmed := strings.TrimRight(string(data), "\r\n"); trimmed {
	case statusCommand:
		s.emitText(s.statusText())
		return nil
	case restartCommand:
		if forward == nil {
			s.emitText("\r\n[no forwarded program configured]\r\n")
			return nil
		}
		m.metrics.ForwardRestarted()
		m.log.Info("restarting forwarded program", zap.String("session_id", id))
		go func() {
			if err := forward.Restart(); err != nil {
				m.log.Warn("forward restart failed", zap.String("session_id", id), zap.Error(err))
			}
		}()
		return nil
	}

	// A lone interrupt goes to the forwarded process tree when one is live;
	// otherwise it reaches the shell verbatim.
	if len(data) == 1 && data[0] == interruptByte && forward != nil {
		if forward.Interrupt() {
			return nil
		}
	}

	_, err := primary.Write(data)
	return err
}

// Resize notifies the shell of a geometry change and confirms it outbound.
func (m *Manager) Resize(id string, cols, rows uint16) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if cols == 0 || rows == 0 {
		return fmt.Errorf("%w: cols and rows must be positive", ErrInvalidArgument)
	}

	s.mu.Lock()
	s.cols = cols
	s.rows = rows
	s.lastActivity = time.Now()
	primary := s.primary
	s.mu.Unlock()

	if err := primary.Resize(cols, rows); err != nil {
		return err
	}

	s.send(Event{Type: EventResized, SessionID: id, Cols: cols, Rows: rows})
	return nil
}

// CloseSession tears down the forwarded program (if any) and then the shell
// via the termination escalator, removes the session from the registry and
// the persistence store, and emits exit and closed events. It blocks until
// both processes are confirmed gone.
func (m *Manager) CloseSession(id string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	forward := s.forward
	primary := s.primary
	s.mu.Unlock()

	if forward != nil {
		forward.Stop()
	}
	Terminate(primary)

	code, signal := primary.ExitStatus()
	m.finalize(s, code, signal)
	return nil
}

// handlePrimaryExit runs when the shell exits on its own. The session is
// always destroyed; a still-live forward supervisor goes down first.
func (m *Manager) handlePrimaryExit(s *Session, code int, signal string) {
	s.mu.Lock()
	if s.state == StateClosed {
		// CloseSession owns the teardown.
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.closeTimer != nil {
		s.closeTimer.Stop()
		s.closeTimer = nil
	}
	forward := s.forward
	s.mu.Unlock()

	if forward != nil {
		forward.Stop()
	}

	m.log.Info("shell exited",
		zap.String("session_id", s.id),
		zap.Int("code", code),
		zap.String("signal", signal))
	m.finalize(s, code, signal)
}

// finalize removes the session from the registry and persistence and
// reports the exit to the bound transport. Safe to reach from both the
// close path and the spontaneous-exit path; the registry delete keys on the
// session pointer so an id reused by a replacement session is untouched.
func (m *Manager) finalize(s *Session, code int, signal string) {
	m.mu.Lock()
	removed := false
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
		removed = true
	}
	m.mu.Unlock()

	if !removed {
		return
	}

	if err := m.store.Delete(s.id); err != nil {
		m.log.Warn("failed to delete session record", zap.String("session_id", s.id), zap.Error(err))
	}
	m.metrics.SessionClosed()

	s.send(Event{Type: EventExit, SessionID: s.id, Code: &code, Signal: signal})
	s.send(Event{Type: EventClosed, SessionID: s.id})
}

// DetachTransport flags every session bound to the transport as
// disconnected. Processes keep running; output keeps accumulating in the
// ring buffer for later replay.
func (m *Manager) DetachTransport(transportID string) {
	for _, s := range m.snapshot() {
		s.mu.Lock()
		if s.state == StateActive && s.transportID == transportID {
			s.state = StateDisconnected
			s.disconnectedAt = time.Now()
			s.mu.Unlock()
			m.log.Info("transport detached", zap.String("session_id", s.id), zap.String("transport_id", transportID))
			if err := m.store.Upsert(s.record()); err != nil {
				m.log.Warn("failed to persist session record", zap.String("session_id", s.id), zap.Error(err))
			}
			continue
		}
		s.mu.Unlock()
	}
}

// Reconnect rebinds a session to a new transport and replays the entire
// ring buffer as one historical batch, strictly before any live chunk.
// Returns false if no such session exists.
func (m *Manager) Reconnect(id, transportID string) bool {
	s := m.lookup(id)
	if s == nil {
		return false
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.state = StateActive
	s.disconnectedAt = time.Time{}
	s.transportID = transportID
	s.lastActivity = time.Now()

	// Replay under the session mutex: deliverOutput also takes it, so no
	// live chunk can interleave ahead of the historical batch. An empty
	// history produces no batch.
	if s.ring.Len() > 0 {
		if t, ok := m.transports.Lookup(transportID); ok {
			_ = t.Send(Event{
				Type:       EventOutput,
				SessionID:  id,
				Data:       string(s.ring.Snapshot()),
				Historical: true,
			})
		}
	}
	s.mu.Unlock()

	m.log.Info("session reconnected", zap.String("session_id", id), zap.String("transport_id", transportID))
	if err := m.store.Upsert(s.record()); err != nil {
		m.log.Warn("failed to persist session record", zap.String("session_id", id), zap.Error(err))
	}
	return true
}

// Rename updates a session's human label.
func (m *Manager) Rename(id, newName string) error {
	s := m.lookup(id)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if newName == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	s.name = newName
	s.lastActivity = time.Now()
	s.mu.Unlock()

	return m.store.Upsert(s.record())
}

// ListActive returns snapshots of all live sessions.
func (m *Manager) ListActive() []SessionInfo {
	sessions := m.snapshot()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	return infos
}

// ListPersisted returns the durable session records, including entries left
// over from a previous run.
func (m *Manager) ListPersisted() ([]PersistedRecord, error) {
	return m.store.List()
}

// Shutdown stops the reaper and closes every live session.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.wg.Wait()

	for _, s := range m.snapshot() {
		_ = m.CloseSession(s.id)
	}
}

// reap periodically closes sessions disconnected past the disconnect TTL or
// idle past the idle TTL while still connected.
func (m *Manager) reap() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		now := time.Now()
		for _, s := range m.snapshot() {
			s.mu.Lock()
			state := s.state
			disconnectedAt := s.disconnectedAt
			lastActivity := s.lastActivity
			s.mu.Unlock()

			var reason string
			switch {
			case state == StateDisconnected && now.Sub(disconnectedAt) > m.disconnectTTL:
				reason = "disconnected"
			case state == StateActive && now.Sub(lastActivity) > m.idleTTL:
				reason = "idle"
			default:
				continue
			}

			m.log.Info("reaping stale session",
				zap.String("session_id", s.id),
				zap.String("reason", reason))
			_ = m.CloseSession(s.id)
		}
	}
}

func (m *Manager) lookup(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
