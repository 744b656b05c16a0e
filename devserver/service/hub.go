package service

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"telehealth_chat/common/log"
	"telehealth_chat/devserver/domain"
)

type wsEnvelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Payload        any    `json:"payload,omitempty"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

const hubWriteTimeout = 5 * time.Second

type wsConn struct {
	conn *websocket.Conn

	mu         sync.Mutex
	userID     string
	subscribed map[string]struct{}
}

func (c *wsConn) write(env wsEnvelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	if err := c.conn.WriteJSON(env); err != nil {
		log.Debugf("event=hub_write status=failed error=%v", err)
	}
}

func (c *wsConn) authedUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *wsConn) isSubscribed(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscribed[conversationID]
	return ok
}

// Hub owns the push side of the dev server. Authenticated connections get
// message events for every conversation they participate in; typing and read
// events go only to connections subscribed to the conversation's room.
type Hub struct {
	store *Store

	mu           sync.Mutex
	conns        map[*wsConn]struct{}
	failAuthLeft int
}

func NewHub(store *Store) *Hub {
	return &Hub{store: store, conns: map[*wsConn]struct{}{}}
}

// FailNextHandshakes makes the next n authenticate requests fail with a 401
// ack regardless of the user. Used to exercise the client's retry bound.
func (h *Hub) FailNextHandshakes(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failAuthLeft = n
}

func (h *Hub) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	state := &wsConn{conn: conn, subscribed: map[string]struct{}{}}

	h.mu.Lock()
	h.conns[state] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, state)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		var env wsEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case "authenticate":
			h.handleAuthenticate(state, env)
		case "subscribe":
			h.handleSubscribe(state, env)
		case "unsubscribe":
			state.mu.Lock()
			delete(state.subscribed, env.ConversationID)
			state.mu.Unlock()
		case "typing":
			h.handleTyping(state, env)
		}
	}
}

func (h *Hub) handleAuthenticate(state *wsConn, env wsEnvelope) {
	userID := strings.TrimSpace(env.UserID)

	h.mu.Lock()
	forcedFailure := h.failAuthLeft > 0
	if forcedFailure {
		h.failAuthLeft--
	}
	h.mu.Unlock()

	if forcedFailure || userID == "" {
		state.write(wsEnvelope{Type: "auth-error", Payload: map[string]any{"status": http.StatusUnauthorized, "error": "unauthorized"}})
		return
	}
	if _, err := h.store.GetUser(userID); err != nil {
		state.write(wsEnvelope{Type: "auth-error", Payload: map[string]any{"status": http.StatusUnauthorized, "error": "unknown user"}})
		return
	}

	state.mu.Lock()
	state.userID = userID
	state.mu.Unlock()
	state.write(wsEnvelope{Type: "auth-ok", UserID: userID})
	log.Infof("event=hub_auth status=ok user_id=%s", userID)
}

func (h *Hub) handleSubscribe(state *wsConn, env wsEnvelope) {
	userID := state.authedUserID()
	if userID == "" || env.ConversationID == "" {
		return
	}
	member, err := h.store.IsParticipant(env.ConversationID, userID)
	if err != nil || !member {
		return
	}
	state.mu.Lock()
	state.subscribed[env.ConversationID] = struct{}{}
	state.mu.Unlock()
}

func (h *Hub) handleTyping(state *wsConn, env wsEnvelope) {
	userID := state.authedUserID()
	if userID == "" || env.ConversationID == "" {
		return
	}
	out := wsEnvelope{Type: "typing", ConversationID: env.ConversationID, UserID: userID, Payload: env.Payload}
	h.fanOut(out, func(c *wsConn) bool {
		return c != state && c.isSubscribed(env.ConversationID)
	})
}

// EmitMessage pushes a created message to every participant's connection
// except the sender's own.
func (h *Hub) EmitMessage(msg domain.Message) {
	participants, err := h.store.ParticipantIDs(msg.ConversationID)
	if err != nil {
		log.Warnf("event=hub_emit status=failed conversation_id=%s error=%v", msg.ConversationID, err)
		return
	}
	allowed := map[string]struct{}{}
	for _, id := range participants {
		allowed[id] = struct{}{}
	}
	env := wsEnvelope{Type: "message", ConversationID: msg.ConversationID, UserID: msg.SenderID, Payload: msg}
	h.fanOut(env, func(c *wsConn) bool {
		userID := c.authedUserID()
		if userID == "" || userID == msg.SenderID {
			return false
		}
		_, ok := allowed[userID]
		return ok
	})
}

// EmitRead pushes a read receipt to the conversation's subscribers except the
// reader.
func (h *Hub) EmitRead(conversationID, readerID, messageID string) {
	env := wsEnvelope{
		Type:           "read",
		ConversationID: conversationID,
		UserID:         readerID,
		Payload:        map[string]any{"message_id": messageID},
	}
	h.fanOut(env, func(c *wsConn) bool {
		return c.isSubscribed(conversationID) && c.authedUserID() != readerID
	})
}

// EmitMessageDeleted pushes a tombstone event to the conversation's
// subscribers.
func (h *Hub) EmitMessageDeleted(conversationID, messageID string) {
	env := wsEnvelope{
		Type:           "message-deleted",
		ConversationID: conversationID,
		Payload:        map[string]any{"message_id": messageID},
	}
	h.fanOut(env, func(c *wsConn) bool {
		return c.isSubscribed(conversationID)
	})
}

// EmitParticipant pushes participant-added/participant-removed to the
// conversation's subscribers.
func (h *Hub) EmitParticipant(event, conversationID string, user domain.User) {
	env := wsEnvelope{Type: event, ConversationID: conversationID, UserID: user.ID, Payload: user}
	h.fanOut(env, func(c *wsConn) bool {
		return c.isSubscribed(conversationID)
	})
}

func (h *Hub) fanOut(env wsEnvelope, include func(*wsConn) bool) {
	h.mu.Lock()
	targets := make([]*wsConn, 0, len(h.conns))
	for c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if include(c) {
			c.write(env)
		}
	}
}
