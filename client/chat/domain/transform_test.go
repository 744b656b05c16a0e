package domain

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToConversationIdempotent(t *testing.T) {
	raw := RawRecord{
		"id":   "c1",
		"type": "group",
		"name": "Care Team",
		"participants": []any{
			map[string]any{"id": float64(1), "name": "Pat", "type": "patient"},
			map[string]any{"id": float64(2), "name": "Nina", "type": "nurse"},
		},
		"lastMessage":    map[string]any{"text": "see you at 3"},
		"unreadCount":    float64(2),
		"lastActivityAt": "2026-08-27T10:00:00Z",
	}

	first := ToConversation(raw, "1")
	second := ToConversation(raw, "1")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("ToConversation is not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestToConversationFieldAliases(t *testing.T) {
	tests := []struct {
		name string
		raw  RawRecord
	}{
		{
			name: "camel case",
			raw: RawRecord{
				"conversationId": "c9",
				"participants":   []any{map[string]any{"userId": "2", "fullName": "Nina", "userType": "nurse"}},
			},
		},
		{
			name: "snake case",
			raw: RawRecord{
				"conversation_id": "c9",
				"members":         []any{map[string]any{"user_id": "2", "full_name": "Nina", "user_type": "n"}},
			},
		},
		{
			name: "legacy keys",
			raw: RawRecord{
				"_id":   "c9",
				"users": []any{map[string]any{"_id": "2", "username": "Nina", "role": "nurse"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := ToConversation(tt.raw, "1")
			assert.Equal(t, "c9", conv.ID)
			assert.Equal(t, "Nina", conv.DisplayName)
			assert.Len(t, conv.Participants, 1)
			assert.Equal(t, UserTypeNurse, conv.Participants[0].Type)
		})
	}
}

func TestToConversationDefaults(t *testing.T) {
	conv := ToConversation(RawRecord{}, "1")
	assert.Equal(t, UnknownUserName, conv.DisplayName)
	assert.Equal(t, NoMessagesPreview, conv.LastMessagePreview)
	assert.Equal(t, ConversationDirect, conv.Kind)
	assert.Zero(t, conv.UnreadCount)

	conv = ToConversation(nil, "1")
	assert.Equal(t, UnknownUserName, conv.DisplayName)
}

func TestToConversationGroupTitleWins(t *testing.T) {
	raw := RawRecord{
		"id":    "c2",
		"type":  "group",
		"title": "Post-op follow-up",
		"participants": []any{
			map[string]any{"id": "2", "name": "Nina"},
		},
	}
	conv := ToConversation(raw, "1")
	assert.Equal(t, ConversationGroup, conv.Kind)
	assert.Equal(t, "Post-op follow-up", conv.DisplayName)
}

func TestToConversationNegativeUnreadClamped(t *testing.T) {
	conv := ToConversation(RawRecord{"id": "c3", "unread": float64(-4)}, "1")
	assert.Zero(t, conv.UnreadCount)
}

func TestNormalizeUserType(t *testing.T) {
	tests := []struct {
		in   string
		want UserType
	}{
		{"nurse", UserTypeNurse},
		{"Nurse Practitioner", UserTypeNurse},
		{"n", UserTypeNurse},
		{"specialist", UserTypeSpecialist},
		{"spec", UserTypeSpecialist},
		{"s", UserTypeSpecialist},
		{"patient", UserTypePatient},
		{"p", UserTypePatient},
		{"admin", UserTypeAdmin},
		{"a", UserTypeAdmin},
		{"system", UserTypeSystem},
		{"", UserTypePatient},
		{"gibberish", UserTypePatient},
	}
	for _, tt := range tests {
		if got := NormalizeUserType(tt.in); got != tt.want {
			t.Errorf("NormalizeUserType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameID(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{"7", float64(7), true},
		{float64(7), 7, true},
		{"7", "7", true},
		{"007", "7", true},
		{"u-7", "u-7", true},
		{"u-7", "u-8", false},
		{"", "", false},
		{nil, "7", false},
		{"7", "8", false},
	}
	for _, tt := range tests {
		if got := SameID(tt.a, tt.b); got != tt.want {
			t.Errorf("SameID(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestToMessageSentFlagCoercesIDs(t *testing.T) {
	raw := RawRecord{"id": "m1", "senderId": float64(7), "text": "hi"}
	msg := ToMessage(raw, "7", "p")
	assert.True(t, msg.IsSent)
	assert.Equal(t, "7", msg.SenderID)

	msg = ToMessage(raw, "8", "p")
	assert.False(t, msg.IsSent)
}

func TestToMessageSenderTypeFallsBackToSession(t *testing.T) {
	raw := RawRecord{"id": "m1", "senderId": "7", "text": "hi"}
	msg := ToMessage(raw, "7", "nurse")
	assert.Equal(t, UserTypeNurse, msg.SenderType)

	// Not self-authored: no session fallback, defaults to patient.
	msg = ToMessage(raw, "8", "nurse")
	assert.Equal(t, UserTypePatient, msg.SenderType)
}

func TestToMessageDeletedTombstone(t *testing.T) {
	raw := RawRecord{"id": "m2", "senderId": "2", "text": "secret", "is_deleted": true}
	msg := ToMessage(raw, "1", "p")
	assert.True(t, msg.IsDeleted)
	assert.Equal(t, DeletedMessageText, msg.Text)

	raw = RawRecord{"id": "m3", "senderId": "2", "text": "secret", "deletedAt": "2026-08-27T10:00:00Z"}
	msg = ToMessage(raw, "1", "p")
	assert.True(t, msg.IsDeleted)
	assert.Equal(t, DeletedMessageText, msg.Text)
}

func TestToMessageKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  RawRecord
		want MessageKind
	}{
		{"explicit text", RawRecord{"type": "text"}, MessageText},
		{"explicit image", RawRecord{"messageType": "image"}, MessageImage},
		{"attachment alias", RawRecord{"kind": "attachment"}, MessageFile},
		{"system", RawRecord{"type": "system"}, MessageSystem},
		{"inferred from file url", RawRecord{"fileUrl": "/files/x.pdf"}, MessageFile},
		{"default", RawRecord{}, MessageText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMessage(tt.raw, "1", "p").Kind)
		})
	}
}

func TestToMessageDefaults(t *testing.T) {
	msg := ToMessage(RawRecord{}, "1", "p")
	assert.Equal(t, UnknownUserName, msg.SenderName)
	assert.Empty(t, msg.ID)
	assert.False(t, msg.IsSent)
	assert.Empty(t, msg.DisplayTime)
}

func TestToMessageTimestamps(t *testing.T) {
	want := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		raw  RawRecord
	}{
		{"rfc3339", RawRecord{"createdAt": "2026-08-27T10:00:00Z"}},
		{"sql style", RawRecord{"created_at": "2026-08-27 10:00:00"}},
		{"unix seconds", RawRecord{"timestamp": float64(want.Unix())}},
		{"unix millis", RawRecord{"sentAt": float64(want.UnixMilli())}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ToMessage(tt.raw, "1", "p")
			assert.True(t, msg.CreatedAt.Equal(want), "got %v, want %v", msg.CreatedAt, want)
		})
	}
}

func TestToUser(t *testing.T) {
	u := ToUser(RawRecord{"user_id": "9", "email": "nina@example.com", "role": "nurse"})
	assert.Equal(t, "9", u.ID)
	assert.Equal(t, "nina@example.com", u.Name) // falls back to email
	assert.Equal(t, UserTypeNurse, u.Type)

	u = ToUser(RawRecord{})
	assert.Equal(t, UnknownUserName, u.Name)
}

func TestTypingFlagAndEventHelpers(t *testing.T) {
	assert.True(t, TypingFlag(RawRecord{"isTyping": true}))
	assert.True(t, TypingFlag(RawRecord{"is_typing": true}))
	assert.False(t, TypingFlag(RawRecord{"isTyping": false}))
	assert.False(t, TypingFlag(RawRecord{}))

	assert.Equal(t, "m7", ReadMessageID(RawRecord{"message_id": "m7"}))
	assert.Equal(t, "m7", MessageIDOf(RawRecord{"messageId": "m7"}))
	assert.Equal(t, "4", SenderIDOf(RawRecord{"sender_id": float64(4)}))
}
