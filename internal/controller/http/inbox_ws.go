package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BasedOctavian/LayoverApp-sub004/internal/domain/inbox/view"
)

const (
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
	pongWait     = 2 * pingPeriod
	commandLimit = 4096
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame types
const (
	FrameInbox = "inbox"
	FrameError = "error"
)

// StreamFrame is a server to client websocket message
type StreamFrame struct {
	Type  string         `json:"type"`
	Inbox *InboxResponse `json:"inbox,omitempty"`
	Error string         `json:"error,omitempty"`
}

// StreamCommand is a client to server websocket message. Results are not
// answered directly; they arrive as the next inbox frame.
type StreamCommand struct {
	Type           string `json:"type"` // filter, search, pin, accept, refresh
	Filter         string `json:"filter,omitempty"`
	Search         string `json:"search,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Stream handles GET /inbox/ws, pushing every recomputed inbox to the client
func (h *InboxHandler) Stream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")

		results, unsubscribe, err := h.policy.Subscribe(userID)
		if err != nil {
			handleInboxError(w, err)
			return
		}
		defer unsubscribe()

		ws, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already wrote the error response
			return
		}

		conn := newStreamConn(userID, ws)
		go conn.readLoop(r.Context(), h.policy)
		conn.writeLoop(results)
	}
}

// streamConn serializes writes to one websocket
type streamConn struct {
	id     string
	userID string

	ws     *websocket.Conn
	mu     sync.Mutex
	once   sync.Once
	closed chan struct{}
}

func newStreamConn(userID string, ws *websocket.Conn) *streamConn {
	return &streamConn{
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		closed: make(chan struct{}),
	}
}

func (c *streamConn) writeLoop(results <-chan view.Result) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.close(websocket.CloseNormalClosure, "")

	for {
		select {
		case <-c.closed:
			return
		case res, ok := <-results:
			if !ok {
				c.close(websocket.CloseGoingAway, "session closed")
				return
			}
			inbox := toResponse(res)
			if err := c.writeJSON(StreamFrame{Type: FrameInbox, Inbox: &inbox}); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *streamConn) readLoop(ctx context.Context, policy InboxPolicy) {
	defer c.close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(commandLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd StreamCommand
		if err := c.ws.ReadJSON(&cmd); err != nil {
			return
		}
		if err := c.dispatch(ctx, policy, cmd); err != nil {
			if werr := c.writeJSON(StreamFrame{Type: FrameError, Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}

func (c *streamConn) dispatch(ctx context.Context, policy InboxPolicy, cmd StreamCommand) error {
	var err error
	switch cmd.Type {
	case "filter":
		_, err = policy.SetFilter(c.userID, cmd.Filter)
	case "search":
		_, err = policy.SetSearch(c.userID, cmd.Search)
	case "pin":
		_, err = policy.Pin(ctx, c.userID, cmd.ConversationID)
	case "accept":
		_, err = policy.Accept(ctx, c.userID, cmd.ConversationID)
	case "refresh":
		_, err = policy.Refresh(ctx, c.userID)
	default:
		err = errUnknownCommand
	}
	return err
}

var errUnknownCommand = errors.New("unknown command")

func (c *streamConn) writeJSON(frame StreamFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, body)
}

func (c *streamConn) write(messageType int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, payload)
}

func (c *streamConn) close(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		c.mu.Unlock()
		_ = c.ws.Close()
	})
}
