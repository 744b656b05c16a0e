package service

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telehealth_chat/devserver/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for _, u := range []domain.User{
		{ID: "1", Name: "Pat Morgan", UserType: "p"},
		{ID: "2", Name: "Nina Reyes", Email: "nina@example.com", UserType: "n"},
		{ID: "3", Name: "Dr. Sofia Alvarez", UserType: "s"},
	} {
		_, err := store.CreateUser(u)
		require.NoError(t, err)
	}
	return store
}

func seedConversation(t *testing.T, store *Store, participantIDs ...string) domain.Conversation {
	t.Helper()
	conv, err := store.CreateConversation("direct", "", participantIDs)
	require.NoError(t, err)
	return conv
}

func seedMessage(t *testing.T, store *Store, conversationID, senderID, text string) domain.Message {
	t.Helper()
	msg, err := store.CreateMessage(domain.Message{ConversationID: conversationID, SenderID: senderID, Text: text})
	require.NoError(t, err)
	return msg
}

func TestUserCRUD(t *testing.T) {
	store := newTestStore(t)

	u, err := store.GetUser("2")
	require.NoError(t, err)
	assert.Equal(t, "Nina Reyes", u.Name)
	assert.Equal(t, "n", u.UserType)

	_, err = store.GetUser("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// CreateUser upserts on id.
	_, err = store.CreateUser(domain.User{ID: "2", Name: "Nina R.", UserType: "n"})
	require.NoError(t, err)
	u, err = store.GetUser("2")
	require.NoError(t, err)
	assert.Equal(t, "Nina R.", u.Name)

	// Blank id gets a generated one.
	created, err := store.CreateUser(domain.User{Name: "Extra", UserType: "p"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestSearchUsers(t *testing.T) {
	store := newTestStore(t)

	users, err := store.SearchUsers("nina")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "2", users[0].ID)

	// Email matches too.
	users, err = store.SearchUsers("example.com")
	require.NoError(t, err)
	assert.Len(t, users, 1)

	users, err = store.SearchUsers("nobody")
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestConversationParticipants(t *testing.T) {
	store := newTestStore(t)
	conv := seedConversation(t, store, "1", "2")

	require.Len(t, conv.Participants, 2)

	ok, err := store.IsParticipant(conv.ID, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = store.IsParticipant(conv.ID, "3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.AddParticipant(conv.ID, "3"))
	// Adding twice is harmless.
	require.NoError(t, store.AddParticipant(conv.ID, "3"))
	ids, err := store.ParticipantIDs(conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2", "3"}, ids)

	require.NoError(t, store.RemoveParticipant(conv.ID, "3"))
	ids, err = store.ParticipantIDs(conv.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
}

func TestGetConversationNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetConversation("missing", "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsDecoration(t *testing.T) {
	store := newTestStore(t)
	first := seedConversation(t, store, "1", "2")
	second := seedConversation(t, store, "1", "3")

	seedMessage(t, store, first.ID, "2", "hello")
	seedMessage(t, store, second.ID, "3", "checkup at 9")
	seedMessage(t, store, second.ID, "3", "bring your meds list")

	list, err := store.ListConversationsForUser("1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	// Newest activity first.
	assert.Equal(t, second.ID, list[0].ID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "bring your meds list", list[0].LastMessage.Text)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, 1, list[1].UnreadCount)

	// User 3 only sees their own conversation, with no unread own messages.
	list, err = store.ListConversationsForUser("3")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Zero(t, list[0].UnreadCount)
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	store := newTestStore(t)
	conv := seedConversation(t, store, "1", "2")

	m1 := seedMessage(t, store, conv.ID, "2", "one")
	seedMessage(t, store, conv.ID, "2", "two")

	got, err := store.GetConversation(conv.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.UnreadCount)

	// Read up to the first message only.
	require.NoError(t, store.MarkRead(conv.ID, "1", m1.ID))
	got, err = store.GetConversation(conv.ID, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UnreadCount)

	// Empty message id reads everything so far.
	require.NoError(t, store.MarkRead(conv.ID, "1", ""))
	got, err = store.GetConversation(conv.ID, "1")
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)

	// The cursor never moves backward.
	require.NoError(t, store.MarkRead(conv.ID, "1", m1.ID))
	got, err = store.GetConversation(conv.ID, "1")
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
}

func TestListMessagesPaging(t *testing.T) {
	store := newTestStore(t)
	conv := seedConversation(t, store, "1", "2")

	ids := make([]string, 0, 5)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, seedMessage(t, store, conv.ID, "2", text).ID)
	}

	// Default page: the newest N, oldest-first.
	page, err := store.ListMessages(conv.ID, 2, "", "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)
	assert.Equal(t, ids[4], page[1].ID)

	// Backward from the oldest loaded id.
	page, err = store.ListMessages(conv.ID, 2, ids[3], "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[1], page[0].ID)
	assert.Equal(t, ids[2], page[1].ID)

	// Forward after a given id.
	page, err = store.ListMessages(conv.ID, 10, "", ids[2])
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[3], page[0].ID)

	// Unknown cursor yields an empty page, not an error.
	page, err = store.ListMessages(conv.ID, 2, "missing", "")
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestSoftDeleteMessage(t *testing.T) {
	store := newTestStore(t)
	conv := seedConversation(t, store, "1", "2")
	msg := seedMessage(t, store, conv.ID, "2", "oops")

	// Only the sender may delete.
	err := store.SoftDeleteMessage(conv.ID, msg.ID, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SoftDeleteMessage(conv.ID, msg.ID, "2"))

	page, err := store.ListMessages(conv.ID, 10, "", "")
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.True(t, page[0].IsDeleted)
	assert.Empty(t, page[0].Text)

	// Deleted messages do not count as unread.
	got, err := store.GetConversation(conv.ID, "1")
	require.NoError(t, err)
	assert.Zero(t, got.UnreadCount)
}
