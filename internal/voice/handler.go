// Package voice serves the voice agent websocket. Each connection becomes the
// registry's narration session until it disconnects or is replaced.
package voice

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/riskwatch/internal/logger"
	"github.com/rewired-gh/riskwatch/internal/narration"
)

// Client-to-server message types.
const (
	MsgStart     = "start"
	MsgMessage   = "message"
	MsgInterrupt = "interrupt"
	MsgStop      = "stop"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// clientMessage is one frame received from the client.
type clientMessage struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

// SessionObserver is notified as sessions come and go.
type SessionObserver interface {
	SessionOpened()
	SessionClosed()
}

// threadForgetter is implemented by agents that keep per-thread memory.
type threadForgetter interface {
	Forget(threadID string)
}

// Handler upgrades voice connections and drives their sessions.
type Handler struct {
	registry *narration.Registry
	synth    narration.Synthesizer
	agent    narration.Agent
	observer SessionObserver
	upgrader websocket.Upgrader
}

// NewHandler creates a Handler. synth, agent and observer may be nil.
// allowedOrigins empty accepts any origin.
func NewHandler(registry *narration.Registry, synth narration.Synthesizer, agent narration.Agent,
	observer SessionObserver, allowedOrigins []string) *Handler {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Handler{
		registry: registry,
		synth:    synth,
		agent:    agent,
		observer: observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[r.Header.Get("Origin")]
				return ok
			},
		},
	}
}

// conn serializes writes to one websocket; gorilla allows a single
// concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Send implements narration.Transport.
func (c *conn) Send(msg narration.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Voice websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	c := &conn{ws: ws}

	var first clientMessage
	if err := ws.ReadJSON(&first); err != nil {
		logger.Debug("Voice client left before start: %v", err)
		return
	}
	if first.Type != MsgStart {
		_ = c.Send(narration.Message{Type: narration.MsgError, Error: "first message must be 'start' with thread_id"})
		return
	}

	session := narration.NewSession(c, h.synth, h.agent)
	session.SetThreadID(first.ThreadID)
	h.registry.Register(session)
	if h.observer != nil {
		h.observer.SessionOpened()
	}
	defer func() {
		h.registry.Unregister(session)
		session.Close()
		if f, ok := h.agent.(threadForgetter); ok {
			f.Forget(session.ThreadID())
		}
		if h.observer != nil {
			h.observer.SessionClosed()
		}
		logger.Info("Voice session %s closed", session.ID())
	}()

	if err := session.Send(narration.Message{Type: narration.MsgReady, ThreadID: session.ThreadID()}); err != nil {
		return
	}
	logger.Info("Voice session %s ready (thread %s)", session.ID(), session.ThreadID())

	go h.keepAlive(c, session)

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Voice session %s read failed: %v", session.ID(), err)
			}
			return
		}
		if !h.handle(session, msg) {
			return
		}
	}
}

// handle processes one client message and reports whether to keep reading.
func (h *Handler) handle(session *narration.Session, msg clientMessage) bool {
	switch msg.Type {
	case MsgMessage:
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return true
		}
		// Replies run off the read loop so a later interrupt is still received.
		go func() {
			err := session.HandleUserInput(session.Context(), text)
			if err != nil && !errors.Is(err, narration.ErrSessionClosed) {
				logger.Warn("Voice session %s failed to answer: %v", session.ID(), err)
			}
		}()
	case MsgInterrupt:
		session.Interrupt()
	case MsgStart:
		session.SetThreadID(msg.ThreadID)
		_ = session.Send(narration.Message{Type: narration.MsgReady, ThreadID: session.ThreadID()})
	case MsgStop:
		logger.Info("Voice session %s requested disconnect", session.ID())
		return false
	default:
		logger.Warn("Voice session %s sent unknown message type %q", session.ID(), msg.Type)
		_ = session.Send(narration.Message{Type: narration.MsgError, Error: "unknown message type: " + msg.Type})
	}
	return true
}

func (h *Handler) keepAlive(c *conn, session *narration.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-session.Context().Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
