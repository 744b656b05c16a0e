package domain

import "time"

type UserType string

const (
	UserTypePatient    UserType = "p"
	UserTypeNurse      UserType = "n"
	UserTypeSpecialist UserType = "s"
	UserTypeAdmin      UserType = "a"
	UserTypeSystem     UserType = "system"
)

type ConversationKind string

const (
	ConversationDirect ConversationKind = "direct"
	ConversationGroup  ConversationKind = "group"
)

type MessageKind string

const (
	MessageText   MessageKind = "text"
	MessageFile   MessageKind = "file"
	MessageImage  MessageKind = "image"
	MessageSystem MessageKind = "system"
)

const (
	UnknownUserName    = "Unknown User"
	NoMessagesPreview  = "No messages yet"
	DeletedMessageText = "This message was deleted"
)

// RawRecord is a server record as decoded from the wire. Several historical
// backends feed this client, each with its own field naming, so records stay
// untyped until they pass through a transformer.
type RawRecord = map[string]any

type Participant struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   UserType `json:"type"`
	Avatar string   `json:"avatar"`
}

type Conversation struct {
	ID                 string           `json:"id"`
	DisplayName        string           `json:"display_name"`
	Kind               ConversationKind `json:"kind"`
	Participants       []Participant    `json:"participants"`
	LastMessagePreview string           `json:"last_message_preview"`
	LastActivityAt     time.Time        `json:"last_activity_at"`
	UnreadCount        int              `json:"unread_count"`
	IsOnline           bool             `json:"is_online"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	SenderType     UserType    `json:"sender_type"`
	SenderName     string      `json:"sender_name"`
	SenderAvatar   string      `json:"sender_avatar"`
	IsSent         bool        `json:"is_sent"`
	IsRead         bool        `json:"is_read"`
	Kind           MessageKind `json:"kind"`
	Text           string      `json:"text"`
	FileURL        string      `json:"file_url"`
	FileName       string      `json:"file_name"`
	FileSize       int64       `json:"file_size"`
	CreatedAt      time.Time   `json:"created_at"`
	DisplayTime    string      `json:"display_time"`
	IsDeleted      bool        `json:"is_deleted"`
}

type User struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Email  string   `json:"email"`
	Type   UserType `json:"type"`
	Avatar string   `json:"avatar"`
	Online bool     `json:"online"`
}
