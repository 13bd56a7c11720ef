package app

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"geiger/api/internal/collab"
)

const (
	wsWriteTimeout  = 10 * time.Second
	wsPongTimeout   = 60 * time.Second
	wsPingInterval  = 30 * time.Second
	wsMaxMessage    = 1 << 20
	wsOutboundDepth = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin policy is enforced by the CORS configuration, not here.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsInbound is the client-to-server frame. Type selects the operation, the
// remaining fields carry its arguments.
type wsInbound struct {
	Type       string             `json:"type"`
	Changes    json.RawMessage    `json:"changes,omitempty"`
	Connection *collab.Connection `json:"connection,omitempty"`
	NodeID     string             `json:"nodeId,omitempty"`
	EdgeID     string             `json:"edgeId,omitempty"`
	UserID     string             `json:"userId,omitempty"`
}

// wsState is the server-to-client frame: the full local state after any
// change, whatever its origin.
type wsState struct {
	Type string `json:"type"`
	collab.StateUpdate
}

// handleCollabWS attaches one websocket connection to one collaboration
// session. State updates flow out through a bounded queue; when the client
// cannot keep up the connection is dropped rather than the server buffering
// without limit, and the client reconnects with a fresh load.
func (s *HTTPServer) handleCollabWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	identity := s.optionalIdentity(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Printf("ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	outbound := make(chan collab.StateUpdate, wsOutboundDepth)
	overflow := make(chan struct{}, 1)
	sess, err := s.service.OpenSession(r.Context(), identity, sessionID, func(update collab.StateUpdate) {
		select {
		case outbound <- update:
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		status, code, message, _ := mapError(err)
		payload, _ := json.Marshal(map[string]any{"type": "error", "code": code, "error": message, "status": status})
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		return
	}
	defer sess.Close()

	done := make(chan struct{})
	go s.writeLoop(conn, outbound, overflow, done)

	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	for {
		var frame wsInbound
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws session %s: read: %v", sessionID, err)
			}
			break
		}
		s.dispatchWS(r, sess, frame)
	}
	close(done)
}

func (s *HTTPServer) dispatchWS(r *http.Request, sess *collab.Session, frame wsInbound) {
	ctx := r.Context()
	switch frame.Type {
	case "nodeChanges":
		var changes []collab.NodeChange
		if err := json.Unmarshal(frame.Changes, &changes); err != nil {
			log.Printf("ws: decode node changes: %v", err)
			return
		}
		sess.ApplyNodeChanges(ctx, changes)
	case "edgeChanges":
		var changes []collab.EdgeChange
		if err := json.Unmarshal(frame.Changes, &changes); err != nil {
			log.Printf("ws: decode edge changes: %v", err)
			return
		}
		sess.ApplyEdgeChanges(ctx, changes)
	case "connect":
		if frame.Connection == nil {
			return
		}
		sess.Connect(ctx, *frame.Connection)
	case "nodeDragStop":
		sess.NodeDragStop(ctx, frame.NodeID)
	case "reconnect":
		if frame.Connection == nil {
			return
		}
		sess.ReconnectEdge(ctx, frame.EdgeID, *frame.Connection)
	case "reconnectEnd":
		sess.ReconnectEnd(ctx)
	case "requestAccess":
		sess.RequestAccess(ctx)
	case "acceptRequest":
		sess.AcceptRequest(ctx, frame.UserID)
	default:
		log.Printf("ws: unknown frame type %q", frame.Type)
	}
}

func (s *HTTPServer) writeLoop(conn *websocket.Conn, outbound <-chan collab.StateUpdate, overflow <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case update := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsState{Type: "state", StateUpdate: update}); err != nil {
				return
			}
		case <-overflow:
			// The client fell behind; close so it reconnects cleanly.
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "client too slow"))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
