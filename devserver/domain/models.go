package domain

import "time"

type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	UserType string `json:"user_type"`
	Avatar   string `json:"avatar,omitempty"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderType     string    `json:"sender_type,omitempty"`
	Kind           string    `json:"type"`
	Text           string    `json:"text"`
	FileURL        string    `json:"file_url,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	ReplyToID      string    `json:"reply_to_id,omitempty"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
}

type Conversation struct {
	ID             string    `json:"id"`
	Title          string    `json:"title,omitempty"`
	Kind           string    `json:"type"`
	Participants   []User    `json:"participants"`
	LastMessage    *Message  `json:"last_message,omitempty"`
	UnreadCount    int       `json:"unread_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}
