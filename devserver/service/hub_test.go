package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telehealth_chat/client/chat/transport"
	"telehealth_chat/devserver/domain"
)

type hubFixture struct {
	hub  *Hub
	conv domain.Conversation
	url  string
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := NewStore(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, u := range []domain.User{
		{ID: "1", Name: "Pat", UserType: "p"},
		{ID: "2", Name: "Nina", UserType: "n"},
	} {
		_, err := store.CreateUser(u)
		require.NoError(t, err)
	}
	conv, err := store.CreateConversation("direct", "", []string{"1", "2"})
	require.NoError(t, err)

	hub := NewHub(store)
	router := gin.New()
	router.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &hubFixture{hub: hub, conv: conv, url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"}
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func authenticate(t *testing.T, conn *websocket.Conn, userID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(wsEnvelope{Type: "authenticate", UserID: userID}))
	env := readEnvelope(t, conn)
	require.Equal(t, "auth-ok", env.Type)
	require.Equal(t, userID, env.UserID)
}

func subscribe(t *testing.T, conn *websocket.Conn, conversationID string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(wsEnvelope{Type: "subscribe", ConversationID: conversationID}))
	// Subscribe has no ack; give the hub a moment to register it.
	time.Sleep(50 * time.Millisecond)
}

func TestHandshakeUnknownUser(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t)

	require.NoError(t, conn.WriteJSON(wsEnvelope{Type: "authenticate", UserID: "missing"}))
	env := readEnvelope(t, conn)
	assert.Equal(t, "auth-error", env.Type)
	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, http.StatusUnauthorized, payload["status"])
}

func TestFailNextHandshakes(t *testing.T) {
	f := newHubFixture(t)
	f.hub.FailNextHandshakes(2)
	conn := f.dial(t)

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(wsEnvelope{Type: "authenticate", UserID: "1"}))
		env := readEnvelope(t, conn)
		assert.Equal(t, "auth-error", env.Type)
	}

	// Budget spent: the same user now authenticates fine.
	authenticate(t, conn, "1")
}

// The client push channel against the real hub: a transient run of handshake
// failures is absorbed by the retry budget, a longer run exhausts it.
func TestClientHandshakeAgainstHub(t *testing.T) {
	f := newHubFixture(t)

	f.hub.FailNextHandshakes(2)
	push := transport.NewPush(f.url, "")
	defer push.Close()
	ok, err := push.Authenticate(context.Background(), "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", push.AuthenticatedUserID())

	f.hub.FailNextHandshakes(10)
	fresh := transport.NewPush(f.url, "")
	defer fresh.Close()
	_, err = fresh.Authenticate(context.Background(), "2")
	var authErr *transport.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "2", authErr.UserID)
}

func TestEmitMessageReachesParticipantsNotSender(t *testing.T) {
	f := newHubFixture(t)
	sender := f.dial(t)
	receiver := f.dial(t)
	authenticate(t, sender, "1")
	authenticate(t, receiver, "2")

	f.hub.EmitMessage(domain.Message{ID: "m1", ConversationID: f.conv.ID, SenderID: "1", Text: "hi"})

	env := readEnvelope(t, receiver)
	assert.Equal(t, "message", env.Type)
	assert.Equal(t, f.conv.ID, env.ConversationID)
	assert.Equal(t, "1", env.UserID)

	// The sender's own connection stays quiet.
	sender.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray wsEnvelope
	assert.Error(t, sender.ReadJSON(&stray))
}

func TestTypingFansOutToSubscribersOnly(t *testing.T) {
	f := newHubFixture(t)
	typist := f.dial(t)
	subscriberConn := f.dial(t)
	bystander := f.dial(t)
	authenticate(t, typist, "1")
	authenticate(t, subscriberConn, "2")
	authenticate(t, bystander, "2")

	subscribe(t, typist, f.conv.ID)
	subscribe(t, subscriberConn, f.conv.ID)

	require.NoError(t, typist.WriteJSON(wsEnvelope{
		Type:           "typing",
		ConversationID: f.conv.ID,
		Payload:        map[string]any{"is_typing": true},
	}))

	env := readEnvelope(t, subscriberConn)
	assert.Equal(t, "typing", env.Type)
	assert.Equal(t, "1", env.UserID)
	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, payload["is_typing"])

	// Not subscribed, not notified.
	bystander.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray wsEnvelope
	assert.Error(t, bystander.ReadJSON(&stray))
}

func TestSubscribeRequiresMembership(t *testing.T) {
	f := newHubFixture(t)
	store := f.hub.store
	_, err := store.CreateUser(domain.User{ID: "9", Name: "Outsider", UserType: "p"})
	require.NoError(t, err)

	outsider := f.dial(t)
	member := f.dial(t)
	authenticate(t, outsider, "9")
	authenticate(t, member, "2")
	subscribe(t, outsider, f.conv.ID)

	f.hub.EmitRead(f.conv.ID, "1", "m1")

	// The non-member's subscribe request was ignored.
	outsider.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray wsEnvelope
	assert.Error(t, outsider.ReadJSON(&stray))
}

func TestEmitReadSkipsReader(t *testing.T) {
	f := newHubFixture(t)
	reader := f.dial(t)
	other := f.dial(t)
	authenticate(t, reader, "1")
	authenticate(t, other, "2")
	subscribe(t, reader, f.conv.ID)
	subscribe(t, other, f.conv.ID)

	f.hub.EmitRead(f.conv.ID, "1", "m7")

	env := readEnvelope(t, other)
	assert.Equal(t, "read", env.Type)
	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "m7", payload["message_id"])

	reader.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray wsEnvelope
	assert.Error(t, reader.ReadJSON(&stray))
}
