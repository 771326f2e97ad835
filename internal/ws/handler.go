package ws

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gamedeck/panel/backend/internal/shared/id"
	"github.com/gamedeck/panel/backend/internal/terminal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-host panel UI; auth happens upstream
	},
}

// Input messages per second tolerated per connection before throttling.
// Interactive typing is far below this; it guards against runaway clients.
const (
	inputRateLimit = 200
	inputRateBurst = 400
)

// Metrics receives connection-level counters. Nil is valid.
type Metrics interface {
	WSConnected()
	WSDisconnected()
	WSMessage(msgType string)
}

// Message is one inbound transport event.
type Message struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`

	WorkingDirectory       string `json:"workingDirectory,omitempty"`
	EnableStreamForward    bool   `json:"enableStreamForward,omitempty"`
	ProgramCommandLine     string `json:"programCommandLine,omitempty"`
	AutoCloseOnForwardExit bool   `json:"autoCloseOnForwardExit,omitempty"`
}

// Handler upgrades HTTP requests and routes transport events to the session
// registry.
type Handler struct {
	manager *terminal.Manager
	dir     *Directory
	log     *zap.Logger
	metrics Metrics
	gen     *id.Generator
}

// NewHandler creates a WebSocket handler bound to the registry and the
// transport directory.
func NewHandler(manager *terminal.Manager, dir *Directory, log *zap.Logger, metrics Metrics) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		dir:     dir,
		log:     log,
		metrics: metrics,
		gen:     id.NewGenerator(),
	}
}

// HandleConnection upgrades the request and runs the read loop until the
// client goes away. Disconnect without an explicit close only detaches: the
// sessions' processes keep running for a later reconnect.
func (h *Handler) HandleConnection(c *gin.Context) {
	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := NewConn(h.gen.ConnectionID(), sock)
	h.dir.Register(conn)
	if h.metrics != nil {
		h.metrics.WSConnected()
	}
	h.log.Info("transport connected", zap.String("transport_id", conn.ID))

	defer func() {
		h.dir.Unregister(conn.ID)
		h.manager.DetachTransport(conn.ID)
		conn.Close()
		if h.metrics != nil {
			h.metrics.WSDisconnected()
		}
		h.log.Info("transport disconnected", zap.String("transport_id", conn.ID))
	}()

	limiter := rate.NewLimiter(rate.Limit(inputRateLimit), inputRateBurst)

	for {
		var msg Message
		if err := sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("websocket read error", zap.String("transport_id", conn.ID), zap.Error(err))
			}
			return
		}
		if h.metrics != nil {
			h.metrics.WSMessage(msg.Type)
		}
		h.dispatch(conn, limiter, msg)
	}
}

func (h *Handler) dispatch(conn *Conn, limiter *rate.Limiter, msg Message) {
	switch msg.Type {
	case "create-session":
		// Clients normally supply their own id; generate one otherwise.
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		info, err := h.manager.CreateSession(terminal.CreateParams{
			ID:                     msg.ID,
			Name:                   msg.Name,
			Cols:                   msg.Cols,
			Rows:                   msg.Rows,
			WorkingDir:             msg.WorkingDirectory,
			TransportID:            conn.ID,
			EnableStreamForward:    msg.EnableStreamForward,
			ProgramCommandLine:     msg.ProgramCommandLine,
			AutoCloseOnForwardExit: msg.AutoCloseOnForwardExit,
		})
		if err != nil {
			h.sendError(conn, msg.ID, err)
			return
		}
		h.log.Debug("session created over transport",
			zap.String("transport_id", conn.ID),
			zap.String("session_id", info.ID))

	case "input":
		if !limiter.Allow() {
			h.sendError(conn, msg.ID, errors.New("input rate limit exceeded"))
			return
		}
		if err := h.manager.HandleInput(msg.ID, []byte(msg.Data), conn.ID); err != nil {
			h.sendError(conn, msg.ID, err)
		}

	case "resize":
		if err := h.manager.Resize(msg.ID, msg.Cols, msg.Rows); err != nil {
			h.sendError(conn, msg.ID, err)
		}

	case "close":
		if err := h.manager.CloseSession(msg.ID); err != nil {
			h.sendError(conn, msg.ID, err)
		}

	case "reconnect":
		if !h.manager.Reconnect(msg.ID, conn.ID) {
			h.sendError(conn, msg.ID, terminal.ErrSessionNotFound)
		}

	case "rename":
		if err := h.manager.Rename(msg.ID, msg.Name); err != nil {
			h.sendError(conn, msg.ID, err)
		}

	case "ping":
		_ = conn.sendRaw(map[string]interface{}{"type": "pong"})

	default:
		h.sendError(conn, msg.ID, errors.New("unknown message type: "+msg.Type))
	}
}

func (h *Handler) sendError(conn *Conn, sessionID string, err error) {
	_ = conn.Send(terminal.Event{
		Type:      terminal.EventError,
		SessionID: sessionID,
		Message:   err.Error(),
	})
}
