package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"focusattend/internal/auth"
	"focusattend/internal/challenge"
	"focusattend/internal/participant"
	"focusattend/internal/rtstore"
	"focusattend/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is one message on the watch stream.
type wsEvent struct {
	Type         string                    `json:"type"`
	Exists       *bool                     `json:"exists,omitempty"`
	Session      *sessionView              `json:"session,omitempty"`
	Participants []participant.Participant `json:"participants,omitempty"`
	Count        int                       `json:"count,omitempty"`
	Challenge    *challenge.Snapshot       `json:"challenge,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// wsClient serializes writes from the store callbacks onto one connection.
type wsClient struct {
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newWSClient() *wsClient {
	return &wsClient{send: make(chan []byte, 32)}
}

// push encodes and queues an event. A slow consumer that fills the buffer
// is dropped rather than allowed to block store notifications.
func (w *wsClient) push(evt wsEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.send <- data:
	default:
		w.closeLocked()
	}
}

func (w *wsClient) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeLocked()
}

func (w *wsClient) closeLocked() {
	if !w.closed {
		w.closed = true
		close(w.send)
	}
}

// watchSession streams the session document, its roster, join notifications
// for the owner and challenge updates for a participant over one WebSocket.
// The session-deleted event is the client's session-ended exit path.
func (h *Handler) watchSession(c *gin.Context) {
	claims, _ := auth.FromContext(c)
	sessionID := c.Param("id")

	if _, err := h.sessions.Get(c.Request.Context(), sessionID); err != nil {
		abortWithError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient()
	ctx := c.Request.Context()

	docSub, err := h.store.WatchDoc(ctx, session.Path(sessionID), func(snap rtstore.Snapshot) {
		exists := snap.Exists
		evt := wsEvent{Type: "session", Exists: &exists}
		if snap.Exists {
			if s, decErr := session.FromDoc(sessionID, snap.Data); decErr == nil {
				view := sessionToView(s, claims.Subject)
				evt.Session = &view
			}
		}
		client.push(evt)
		if !snap.Exists {
			client.close()
		}
	})
	if err != nil {
		client.push(wsEvent{Type: "error", Error: "watch failed"})
		client.close()
	}

	rosterSub, err := h.tracker.Subscribe(ctx, sessionID, claims.Subject, func(roster []participant.Participant) {
		client.push(wsEvent{Type: "participants", Participants: roster})
	}, func(subErr error) {
		client.push(wsEvent{Type: "error", Error: subErr.Error()})
	})
	if err != nil {
		client.push(wsEvent{Type: "error", Error: "roster watch failed"})
	}

	var counts *participant.CountSignal
	if claims.Role == auth.RoleOwner {
		counts, err = participant.NewCountSignal(ctx, h.store, sessionID, func(n int) {
			client.push(wsEvent{Type: "joined", Count: n})
		})
		if err != nil {
			h.log.Warn("count signal failed", zap.Error(err))
		}
	}

	if claims.Role == auth.RoleParticipant {
		if ch, ok := h.registry.Get(sessionID, claims.Subject); ok {
			ch.SetObserver(func(snap challenge.Snapshot) {
				s := snap
				client.push(wsEvent{Type: "challenge", Challenge: &s})
			})
		}
	}

	teardown := func() {
		if docSub != nil {
			docSub.Unsubscribe()
		}
		if rosterSub != nil {
			rosterSub.Unsubscribe()
		}
		if counts != nil {
			counts.Stop()
		}
		if claims.Role == auth.RoleParticipant {
			if ch, ok := h.registry.Get(sessionID, claims.Subject); ok {
				ch.SetObserver(nil)
			}
		}
		client.close()
		_ = conn.Close()
	}

	// Writer: drain the send queue onto the socket.
	go func() {
		defer teardown()
		for data := range client.send {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
	}()

	// Reader: we accept no client messages, but reading surfaces the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	teardown()
}
