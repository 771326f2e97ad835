package terminal

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// State is a session's lifecycle phase.
type State int

const (
	StateActive State = iota
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session pairs one primary shell process with its output history, transport
// binding and optional forward supervisor. All mutable fields are guarded by
// mu; sessions are fully independent of each other.
type Session struct {
	id         string
	workingDir string
	createdAt  time.Time
	forwardCfg ForwardConfig

	m *Manager

	mu             sync.Mutex
	name           string
	state          State
	lastActivity   time.Time
	disconnectedAt time.Time
	transportID    string
	cols, rows     uint16
	ring           *Ring
	primary        *Handle
	forward        *ForwardSupervisor
	closeTimer     *time.Timer
}

// SessionInfo is the public snapshot of a session.
type SessionInfo struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	WorkingDir     string    `json:"working_dir"`
	Cols           uint16    `json:"cols"`
	Rows           uint16    `json:"rows"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	Disconnected   bool      `json:"disconnected"`
	Pid            int       `json:"pid"`
	ForwardEnabled bool      `json:"forward_enabled"`
	ForwardRunning bool      `json:"forward_running"`
	ForwardPid     int       `json:"forward_pid,omitempty"`
}

// deliverOutput appends a chunk to the ring buffer and forwards it live to
// the bound transport. Disconnected sessions keep buffering but are not
// written to. Holding mu across append and send is what makes a reconnect
// replay atomic with respect to live output.
func (s *Session) deliverOutput(data []byte) {
	s.m.metrics.OutputBytes(len(data))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	s.ring.Append(data)
	s.lastActivity = time.Now()

	if s.state != StateActive || s.transportID == "" {
		return
	}
	if t, ok := s.m.transports.Lookup(s.transportID); ok {
		_ = t.Send(Event{
			Type:      EventOutput,
			SessionID: s.id,
			Data:      string(data),
		})
	}
}

// emitText writes a synthetic informational chunk through the normal output
// path, so it is buffered and replayed like process output.
func (s *Session) emitText(text string) {
	s.deliverOutput([]byte(text))
}

// send delivers a control event (exit, resized, error) to the bound
// transport without touching the ring buffer.
func (s *Session) send(ev Event) {
	s.mu.Lock()
	tid := s.transportID
	s.mu.Unlock()
	s.sendTo(tid, ev)
}

func (s *Session) sendTo(transportID string, ev Event) {
	if transportID == "" {
		return
	}
	if t, ok := s.m.transports.Lookup(transportID); ok {
		_ = t.Send(ev)
	}
}

// scheduleClose arms the auto-close grace timer. Closing the session first
// makes the timer a no-op, so the delay is implicitly cancellable.
func (s *Session) scheduleClose(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed || s.closeTimer != nil {
		return
	}
	s.closeTimer = time.AfterFunc(delay, func() {
		_ = s.m.CloseSession(s.id)
	})
}

// statusText renders the .status snapshot.
//
// Lock order: the forward supervisor takes its own lock and then delivers
// output under mu, so Running must never be queried while mu is held.
func (s *Session) statusText() string {
	s.mu.Lock()
	name := s.name
	state := s.state
	lastActivity := s.lastActivity
	cols, rows := s.cols, s.rows
	forward := s.forward
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("\r\n--- session status ---\r\n")
	fmt.Fprintf(&b, "id:             %s\r\n", s.id)
	fmt.Fprintf(&b, "name:           %s\r\n", name)
	fmt.Fprintf(&b, "state:          %s\r\n", state)
	fmt.Fprintf(&b, "working dir:    %s\r\n", s.workingDir)
	fmt.Fprintf(&b, "created:        %s\r\n", s.createdAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "last activity:  %s\r\n", lastActivity.Format(time.RFC3339))
	fmt.Fprintf(&b, "shell pid:      %d\r\n", s.primary.Pid())
	fmt.Fprintf(&b, "size:           %dx%d\r\n", cols, rows)
	if forward != nil {
		running, pid := forward.Running()
		if running {
			fmt.Fprintf(&b, "program:        running (pid %d)\r\n", pid)
		} else {
			b.WriteString("program:        stopped\r\n")
		}
	}
	b.WriteString("----------------------\r\n")
	return b.String()
}

// info snapshots the session for listings. Same lock order as statusText:
// the forward supervisor is queried after mu is released.
func (s *Session) info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		ID:             s.id,
		Name:           s.name,
		WorkingDir:     s.workingDir,
		Cols:           s.cols,
		Rows:           s.rows,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		Disconnected:   s.state == StateDisconnected,
		Pid:            s.primary.Pid(),
		ForwardEnabled: s.forwardCfg.Enable,
	}
	forward := s.forward
	s.mu.Unlock()

	if forward != nil {
		info.ForwardRunning, info.ForwardPid = forward.Running()
	}
	return info
}

// record builds the persisted view of the session.
func (s *Session) record() PersistedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return PersistedRecord{
		ID:           s.id,
		Name:         s.name,
		WorkingDir:   s.workingDir,
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		IsActive:     s.state == StateActive,
	}
}
