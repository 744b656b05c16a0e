package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"c1","unreadCount":2},{"id":"c2"}]`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	raws, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "c1", raws[0]["id"])
	assert.Equal(t, float64(2), raws[0]["unreadCount"])
}

func TestTransportErrorFromBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"conversation store unavailable"}`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	_, err := client.ListConversations(context.Background())
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusInternalServerError, terr.Status)
	assert.Equal(t, "conversation store unavailable", terr.Message)
	assert.False(t, IsNotFound(err))
}

func TestTransportErrorFallsBackToStatusText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "")
	_, err := client.ListConversations(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusText(http.StatusBadGateway), terr.Message)
}

func TestIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"no conversations"}`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	_, err := client.ListConversations(context.Background())
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestListMessagesCursorParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		assert.Equal(t, "m40", r.URL.Query().Get("before_id"))
		assert.Empty(t, r.URL.Query().Get("after_id"))
		w.Write([]byte(`[{"id":"m39"},{"id":"m38"}]`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	raws, err := client.ListMessages(context.Background(), "c1", PageQuery{Limit: 25, BeforeID: "m40"})
	require.NoError(t, err)
	assert.Len(t, raws, 2)
}

func TestSendMessagePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/conversations/c1/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, decodeJSON(r, &body))
		assert.Equal(t, "hello", body["text"])
		assert.Equal(t, "m12", body["reply_to_id"])
		w.Write([]byte(`{"id":"m13","text":"hello","senderId":"1"}`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	raw, err := client.SendMessage(context.Background(), "c1", "hello", "m12")
	require.NoError(t, err)
	assert.Equal(t, "m13", raw["id"])
}

func TestUploadFileMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations/c1/messages/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "scan.pdf", header.Filename)
		assert.Equal(t, "lab results", r.FormValue("caption"))
		w.Write([]byte(`{"id":"m14","fileUrl":"/files/c1/scan.pdf"}`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	raw, err := client.UploadFile(context.Background(), "c1", "scan.pdf", strings.NewReader("%PDF-1.4"), "lab results")
	require.NoError(t, err)
	assert.Equal(t, "m14", raw["id"])
}

func TestMarkReadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/conversations/c1/read", r.URL.Path)
		var body map[string]any
		require.NoError(t, decodeJSON(r, &body))
		assert.Equal(t, "m9", body["message_id"])
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	require.NoError(t, client.MarkRead(context.Background(), "c1", "m9"))
}

func TestSearchUsersQueryEscaping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/search", r.URL.Path)
		assert.Equal(t, "nina r", r.URL.Query().Get("q"))
		w.Write([]byte(`[{"id":"2","name":"Nina Reyes"}]`))
	}))
	defer srv.Close()

	client := NewREST(srv.URL, "token-1")
	raws, err := client.SearchUsers(context.Background(), "nina r")
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "Nina Reyes", raws[0]["name"])
}

func decodeJSON(r *http.Request, out any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(out)
}
