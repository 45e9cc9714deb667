package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roostlabs/roost/pkg/agent"
)

var upgrader = websocket.Upgrader{
	// The API binds to loopback; browser origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClientMessage struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type wsServerMessage struct {
	Type           string       `json:"type"` // "event", "reply", "error"
	ConversationID string       `json:"conversation_id,omitempty"`
	Event          *agent.Event `json:"event,omitempty"`
	Reply          string       `json:"reply,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// handleChatStream runs a chat conversation over a websocket, streaming loop
// events (state changes, tool calls, tool results) as they happen.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Gorilla allows one concurrent writer; events arrive from the loop
	// goroutine while errors may be written from this one.
	var writeMu sync.Mutex
	send := func(msg wsServerMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("Websocket write failed", "error", err)
		}
	}

	for {
		var in wsClientMessage
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Websocket closed unexpectedly", "error", err)
			}
			return
		}
		if in.Message == "" {
			send(wsServerMessage{Type: "error", Error: "message is required"})
			continue
		}
		if in.ConversationID == "" {
			in.ConversationID = uuid.NewString()[:8]
		}

		reply, err := s.agent.HandleMessage(r.Context(), in.ConversationID, in.Message, func(e agent.Event) {
			send(wsServerMessage{Type: "event", ConversationID: in.ConversationID, Event: &e})
		})
		if err != nil {
			send(wsServerMessage{Type: "error", ConversationID: in.ConversationID, Error: err.Error()})
			continue
		}
		send(wsServerMessage{Type: "reply", ConversationID: in.ConversationID, Reply: reply})
	}
}
