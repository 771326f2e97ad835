package terminal

// EventType identifies an outbound transport event.
type EventType string

const (
	EventSessionCreated EventType = "session-created"
	EventOutput         EventType = "output"
	EventExit           EventType = "exit"
	EventError          EventType = "error"
	EventResized        EventType = "resized"
	EventClosed         EventType = "closed"
)

// Event is one outbound message to the transport bound to a session.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"id"`
	Data       string    `json:"data,omitempty"`
	Historical bool      `json:"historical,omitempty"`
	Code       *int      `json:"code,omitempty"`
	Signal     string    `json:"signal,omitempty"`
	Message    string    `json:"message,omitempty"`
	Cols       uint16    `json:"cols,omitempty"`
	Rows       uint16    `json:"rows,omitempty"`
	WorkingDir string    `json:"workingDirectory,omitempty"`
}

// Transport delivers events to one connected client. Implementations must be
// safe for concurrent use; Send must not call back into the registry.
type Transport interface {
	Send(ev Event) error
}

// TransportDirectory resolves a transport identifier to a live transport.
// Sessions hold only the identifier, never the transport itself.
type TransportDirectory interface {
	Lookup(id string) (Transport, bool)
}

// Metrics receives lifecycle counters from the registry. A nil-safe no-op
// implementation is used when monitoring is not wired.
type Metrics interface {
	SessionOpened()
	SessionClosed()
	OutputBytes(n int)
	ForwardRestarted()
}

type noopMetrics struct{}

func (noopMetrics) SessionOpened()    {}
func (noopMetrics) SessionClosed()    {}
func (noopMetrics) OutputBytes(int)   {}
func (noopMetrics) ForwardRestarted() {}
