package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telehealth_chat/client/chat/domain"
	cmnenv "telehealth_chat/common/env"
	"telehealth_chat/common/log"
)

// Canonical push event names. Older backends emit the alias forms; both are
// accepted and handlers always observe the canonical name.
const (
	EventMessage            = "message"
	EventTyping             = "typing"
	EventRead               = "read"
	EventParticipantAdded   = "participant-added"
	EventParticipantRemoved = "participant-removed"
	EventMessageDeleted     = "message-deleted"
	EventPresence           = "presence"

	eventAuthOK    = "auth-ok"
	eventAuthError = "auth-error"

	requestAuthenticate = "authenticate"
	requestSubscribe    = "subscribe"
	requestUnsubscribe  = "unsubscribe"
)

var eventAliases = map[string]string{
	"new-message":    EventMessage,
	"message-read":   EventRead,
	"user-added":     EventParticipantAdded,
	"user-removed":   EventParticipantRemoved,
	"delete-message": EventMessageDeleted,
}

const (
	defaultMaxAuthRetries = 3
	defaultAuthTimeout    = 5 * time.Second
	writeTimeout          = 5 * time.Second
)

type Event struct {
	Name           string
	ConversationID string
	UserID         string
	Payload        domain.RawRecord
}

type Handler func(Event)

type envelope struct {
	Type           string         `json:"type"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

type authResult struct {
	ok  bool
	err error
}

type authAttempt struct {
	done chan struct{}
	authResult
}

// Push wraps the event half of the chat API over a websocket. A connection is
// dialed lazily; authentication is connection-scoped, so a dropped socket
// drops the authenticated state with it and the owner re-runs the handshake.
type Push struct {
	url            string
	token          string
	dialer         *websocket.Dialer
	maxAuthRetries int
	authTimeout    time.Duration

	mu           sync.Mutex
	conn         *websocket.Conn
	writeMu      sync.Mutex
	handlers     map[string]map[int]Handler
	nextHandler  int
	subscribed   map[string]struct{}
	authedUserID string
	exhaustedFor string
	inflight     map[string]*authAttempt
	authWaiter   chan envelope
	closed       bool
}

func NewPush(socketURL, token string) *Push {
	return &Push{
		url:            strings.TrimSpace(socketURL),
		token:          strings.TrimSpace(token),
		dialer:         websocket.DefaultDialer,
		maxAuthRetries: cmnenv.Int("CHAT_PUSH_AUTH_RETRIES", defaultMaxAuthRetries),
		authTimeout:    cmnenv.DurationMillis("CHAT_PUSH_AUTH_TIMEOUT_MS", defaultAuthTimeout),
		handlers:       map[string]map[int]Handler{},
		subscribed:     map[string]struct{}{},
		inflight:       map[string]*authAttempt{},
	}
}

// Authenticate runs the handshake for userID. It is idempotent per user id,
// concurrent calls for the same id share one in-flight attempt, and a
// 401-equivalent rejection is retried up to the retry budget with a forced
// reconnect before each retry. Once the budget is spent, further calls fail
// immediately with an AuthError until the target id changes or ResetAuth is
// called.
func (p *Push) Authenticate(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, errors.New("user id is required")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false, errors.New("push channel is closed")
	}
	if p.authedUserID == userID {
		p.mu.Unlock()
		return true, nil
	}
	if p.exhaustedFor != "" && p.exhaustedFor != userID {
		// Target changed; the previous exhaustion no longer applies.
		p.exhaustedFor = ""
	}
	if p.exhaustedFor == userID {
		p.mu.Unlock()
		return false, &AuthError{UserID: userID, Attempts: p.maxAuthRetries + 1}
	}
	if attempt, ok := p.inflight[userID]; ok {
		p.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.ok, attempt.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	attempt := &authAttempt{done: make(chan struct{})}
	p.inflight[userID] = attempt
	p.mu.Unlock()

	ok, err := p.runHandshake(ctx, userID)

	p.mu.Lock()
	delete(p.inflight, userID)
	if ok {
		p.authedUserID = userID
		p.exhaustedFor = ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		p.exhaustedFor = userID
	}
	p.mu.Unlock()

	attempt.ok, attempt.err = ok, err
	close(attempt.done)
	return ok, err
}

func (p *Push) runHandshake(ctx context.Context, userID string) (bool, error) {
	attempts := p.maxAuthRetries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Warnf("event=push_auth action=retry attempt=%d user_id=%s", i, userID)
			p.dropConnection()
		}
		if err := p.ensureConnected(); err != nil {
			return false, fmt.Errorf("connect push channel: %w", err)
		}

		waiter := make(chan envelope, 1)
		p.setAuthWaiter(waiter)
		if err := p.writeEnvelope(envelope{Type: requestAuthenticate, UserID: userID}); err != nil {
			p.setAuthWaiter(nil)
			return false, fmt.Errorf("send handshake: %w", err)
		}

		timer := time.NewTimer(p.authTimeout)
		select {
		case env := <-waiter:
			timer.Stop()
			p.setAuthWaiter(nil)
			if env.Type == eventAuthOK {
				log.Infof("event=push_auth status=ok user_id=%s", userID)
				return true, nil
			}
			if authStatus(env) == http.StatusUnauthorized {
				continue
			}
			return false, fmt.Errorf("push handshake rejected: %s", authReason(env))
		case <-ctx.Done():
			timer.Stop()
			p.setAuthWaiter(nil)
			return false, ctx.Err()
		case <-timer.C:
			p.setAuthWaiter(nil)
			return false, errors.New("push handshake timed out")
		}
	}
	log.Errorf("event=push_auth status=exhausted user_id=%s attempts=%d", userID, attempts)
	return false, &AuthError{UserID: userID, Attempts: attempts}
}

// AuthenticatedUserID returns the user id the current connection has completed
// a handshake for, or "" when none.
func (p *Push) AuthenticatedUserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authedUserID
}

// ResetAuth clears the retry-exhaustion latch so the next Authenticate call
// runs the full handshake again.
func (p *Push) ResetAuth() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exhaustedFor = ""
}

func (p *Push) Subscribe(conversationID string) error {
	if err := p.ensureConnected(); err != nil {
		return err
	}
	if err := p.writeEnvelope(envelope{Type: requestSubscribe, ConversationID: conversationID}); err != nil {
		return err
	}
	p.mu.Lock()
	p.subscribed[conversationID] = struct{}{}
	p.mu.Unlock()
	return nil
}

func (p *Push) Unsubscribe(conversationID string) error {
	p.mu.Lock()
	delete(p.subscribed, conversationID)
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return p.writeEnvelope(envelope{Type: requestUnsubscribe, ConversationID: conversationID})
}

// SendTyping broadcasts the typing state for a conversation. Frames for
// conversations that are no longer subscribed are dropped, which covers the
// debounced auto-false firing after the active conversation changed.
func (p *Push) SendTyping(conversationID string, isTyping bool) error {
	p.mu.Lock()
	_, subscribed := p.subscribed[conversationID]
	userID := p.authedUserID
	p.mu.Unlock()
	if !subscribed {
		return nil
	}
	return p.writeEnvelope(envelope{
		Type:           EventTyping,
		ConversationID: conversationID,
		UserID:         userID,
		Payload:        map[string]any{"is_typing": isTyping},
	})
}

// On registers a handler for an event name (canonical or alias) and returns
// its unsubscribe func.
func (p *Push) On(event string, handler Handler) func() {
	canonical := canonicalEvent(event)
	p.mu.Lock()
	if p.handlers[canonical] == nil {
		p.handlers[canonical] = map[int]Handler{}
	}
	id := p.nextHandler
	p.nextHandler++
	p.handlers[canonical][id] = handler
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.handlers[canonical], id)
	}
}

func (p *Push) Close() error {
	p.mu.Lock()
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.authedUserID = ""
	p.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (p *Push) ensureConnected() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New("push channel is closed")
	}
	if p.conn != nil {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	header := http.Header{}
	if p.token != "" {
		header.Set("Authorization", "Bearer "+p.token)
	}
	conn, resp, err := p.dialer.Dial(p.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return err
	}

	p.mu.Lock()
	if p.closed || p.conn != nil {
		p.mu.Unlock()
		conn.Close()
		return nil
	}
	p.conn = conn
	p.mu.Unlock()

	go p.readLoop(conn)
	return nil
}

func (p *Push) dropConnection() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.authedUserID = ""
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (p *Push) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			p.mu.Lock()
			if p.conn == conn {
				p.conn = nil
				p.authedUserID = ""
				if !p.closed {
					log.Warnf("event=push_read status=disconnected error=%v", err)
				}
			}
			p.mu.Unlock()
			conn.Close()
			return
		}
		p.dispatch(env)
	}
}

func (p *Push) dispatch(env envelope) {
	name := canonicalEvent(env.Type)
	if name == eventAuthOK || name == eventAuthError {
		p.mu.Lock()
		waiter := p.authWaiter
		p.mu.Unlock()
		if waiter != nil {
			select {
			case waiter <- env:
			default:
			}
		}
		return
	}

	p.mu.Lock()
	registered := p.handlers[name]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	event := Event{
		Name:           name,
		ConversationID: env.ConversationID,
		UserID:         env.UserID,
		Payload:        env.Payload,
	}
	for _, h := range handlers {
		h(event)
	}
}

func (p *Push) setAuthWaiter(waiter chan envelope) {
	p.mu.Lock()
	p.authWaiter = waiter
	p.mu.Unlock()
}

func (p *Push) writeEnvelope(env envelope) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return errors.New("push channel is not connected")
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(env)
}

func canonicalEvent(name string) string {
	name = strings.TrimSpace(name)
	if canonical, ok := eventAliases[name]; ok {
		return canonical
	}
	return name
}

func authStatus(env envelope) int {
	if env.Payload == nil {
		return 0
	}
	switch v := env.Payload["status"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func authReason(env envelope) string {
	if env.Payload == nil {
		return "unknown"
	}
	if reason, ok := env.Payload["error"].(string); ok && reason != "" {
		return reason
	}
	return "unknown"
}
