package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Transformers map heterogeneous server records onto the canonical model.
// Four generations of backend field naming are still live in production
// payloads, so every logical field is resolved through an alias list. The
// functions are total: missing or malformed fields degrade to defaults and
// never panic.

var (
	conversationIDKeys   = []string{"id", "_id", "conversationId", "conversation_id"}
	conversationTypeKeys = []string{"type", "kind", "conversationType", "conversation_type"}
	titleKeys            = []string{"title", "name", "groupName", "group_name"}
	participantsKeys     = []string{"participants", "members", "users", "participantList"}
	lastMessageKeys      = []string{"lastMessage", "last_message", "latestMessage", "latest_message"}
	lastActivityKeys     = []string{"lastActivityAt", "last_activity_at", "updatedAt", "updated_at", "lastMessageAt", "last_message_at", "createdAt", "created_at"}
	unreadKeys           = []string{"unreadCount", "unread_count", "unread", "unreadMessages"}
	onlineKeys           = []string{"isOnline", "is_online", "online", "presence"}

	userIDKeys     = []string{"id", "userId", "user_id", "_id"}
	userNameKeys   = []string{"name", "fullName", "full_name", "username"}
	userEmailKeys  = []string{"email", "emailAddress", "email_address", "mail"}
	userTypeKeys   = []string{"type", "userType", "user_type", "role"}
	userAvatarKeys = []string{"avatar", "avatarUrl", "avatar_url", "profileImage"}

	messageIDKeys     = []string{"id", "_id", "messageId", "message_id"}
	messageConvKeys   = []string{"conversationId", "conversation_id", "chatId", "chat_id"}
	senderIDKeys      = []string{"senderId", "sender_id", "from", "userId", "user_id"}
	senderNameKeys    = []string{"senderName", "sender_name", "fromName", "username"}
	senderTypeKeys    = []string{"senderType", "sender_type", "fromType", "role"}
	senderAvatarKeys  = []string{"senderAvatar", "sender_avatar", "avatar", "profileImage"}
	messageTextKeys   = []string{"text", "content", "body", "message"}
	messageKindKeys   = []string{"type", "kind", "messageType", "message_type"}
	fileURLKeys       = []string{"fileUrl", "file_url", "attachmentUrl", "url"}
	fileNameKeys      = []string{"fileName", "file_name", "attachmentName", "filename"}
	fileSizeKeys      = []string{"fileSize", "file_size", "size", "attachmentSize"}
	messageTimeKeys   = []string{"createdAt", "created_at", "timestamp", "sentAt", "sent_at"}
	deletedFlagKeys   = []string{"isDeleted", "is_deleted", "deleted"}
	deletedAtKeys     = []string{"deletedAt", "deleted_at"}
	typingFlagKeys    = []string{"isTyping", "is_typing", "typing"}
	readMessageIDKeys = []string{"messageId", "message_id", "lastReadMessageId", "last_read_message_id"}
)

func ToConversation(raw RawRecord, currentUserID string) Conversation {
	conv := Conversation{
		ID:                 rawID(raw, conversationIDKeys),
		Kind:               normalizeConversationKind(raw),
		LastMessagePreview: NoMessagesPreview,
		LastActivityAt:     rawTime(raw, lastActivityKeys),
		UnreadCount:        rawInt(raw, unreadKeys),
		IsOnline:           rawBool(raw, onlineKeys),
	}
	if conv.UnreadCount < 0 {
		conv.UnreadCount = 0
	}

	if list, ok := rawAny(raw, participantsKeys).([]any); ok {
		conv.Participants = make([]Participant, 0, len(list))
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			conv.Participants = append(conv.Participants, toParticipant(entry))
		}
	}

	conv.DisplayName = resolveDisplayName(raw, conv, currentUserID)

	if preview := resolvePreview(raw); preview != "" {
		conv.LastMessagePreview = preview
	}
	return conv
}

func ToMessage(raw RawRecord, currentUserID, currentUserType string) Message {
	senderID := rawID(raw, senderIDKeys)
	isSent := SameID(rawAny(raw, senderIDKeys), currentUserID)

	senderType := rawString(raw, senderTypeKeys)
	if senderType == "" && isSent {
		senderType = currentUserType
	}

	msg := Message{
		ID:             rawID(raw, messageIDKeys),
		ConversationID: rawID(raw, messageConvKeys),
		SenderID:       senderID,
		SenderType:     NormalizeUserType(senderType),
		SenderName:     rawString(raw, senderNameKeys),
		SenderAvatar:   rawString(raw, senderAvatarKeys),
		IsSent:         isSent,
		Text:           rawString(raw, messageTextKeys),
		FileURL:        rawString(raw, fileURLKeys),
		FileName:       rawString(raw, fileNameKeys),
		FileSize:       rawInt64(raw, fileSizeKeys),
		CreatedAt:      rawTime(raw, messageTimeKeys),
		IsDeleted:      rawBool(raw, deletedFlagKeys) || rawString(raw, deletedAtKeys) != "",
	}
	if msg.SenderName == "" {
		msg.SenderName = UnknownUserName
	}
	msg.Kind = normalizeMessageKind(rawString(raw, messageKindKeys), msg.FileURL)
	if msg.Kind == MessageSystem {
		msg.SenderType = UserTypeSystem
	}
	if msg.IsDeleted {
		msg.Text = DeletedMessageText
	}
	if !msg.CreatedAt.IsZero() {
		msg.DisplayTime = BubbleTime(msg.CreatedAt)
	}
	return msg
}

func ToUser(raw RawRecord) User {
	u := User{
		ID:     rawID(raw, userIDKeys),
		Name:   rawString(raw, userNameKeys),
		Email:  rawString(raw, userEmailKeys),
		Type:   NormalizeUserType(rawString(raw, userTypeKeys)),
		Avatar: rawString(raw, userAvatarKeys),
		Online: rawBool(raw, onlineKeys),
	}
	if u.Name == "" {
		if u.Email != "" {
			u.Name = u.Email
		} else {
			u.Name = UnknownUserName
		}
	}
	return u
}

// TypingFlag reads the typing state out of a typing event payload.
func TypingFlag(raw RawRecord) bool {
	return rawBool(raw, typingFlagKeys)
}

// PresenceFlag reads the online state out of a presence event payload.
func PresenceFlag(raw RawRecord) bool {
	return rawBool(raw, onlineKeys)
}

// ReadMessageID reads the acknowledged message id out of a read event payload.
func ReadMessageID(raw RawRecord) string {
	return rawID(raw, readMessageIDKeys)
}

// MessageIDOf resolves the message id of a message-shaped payload.
func MessageIDOf(raw RawRecord) string {
	return rawID(raw, messageIDKeys)
}

// SenderIDOf resolves the sender id of a message-shaped payload.
func SenderIDOf(raw RawRecord) string {
	return rawID(raw, senderIDKeys)
}

// NormalizeUserType folds the historical role encodings down to the canonical
// single-letter codes. Full role names match by prefix; unknown input is
// treated as a patient.
func NormalizeUserType(v string) UserType {
	t := strings.ToLower(strings.TrimSpace(v))
	switch {
	case t == "p" || strings.HasPrefix(t, "patient"):
		return UserTypePatient
	case t == "n" || strings.HasPrefix(t, "nurse"):
		return UserTypeNurse
	case t == "s" || strings.HasPrefix(t, "spec"):
		return UserTypeSpecialist
	case t == "a" || strings.HasPrefix(t, "admin"):
		return UserTypeAdmin
	case strings.HasPrefix(t, "sys"):
		return UserTypeSystem
	default:
		return UserTypePatient
	}
}

// SameID compares two ids that may arrive as strings or numbers. "7" and 7.0
// are the same id; empty values never match anything.
func SameID(a, b any) bool {
	sa := idString(a)
	sb := idString(b)
	if sa == "" || sb == "" {
		return false
	}
	fa, errA := strconv.ParseFloat(sa, 64)
	fb, errB := strconv.ParseFloat(sb, 64)
	if errA == nil && errB == nil {
		return fa == fb
	}
	return sa == sb
}

func toParticipant(raw RawRecord) Participant {
	p := Participant{
		ID:     rawID(raw, userIDKeys),
		Name:   rawString(raw, userNameKeys),
		Type:   NormalizeUserType(rawString(raw, userTypeKeys)),
		Avatar: rawString(raw, userAvatarKeys),
	}
	if p.Name == "" {
		p.Name = rawString(raw, userEmailKeys)
	}
	if p.Name == "" {
		p.Name = UnknownUserName
	}
	return p
}

func normalizeConversationKind(raw RawRecord) ConversationKind {
	t := strings.ToLower(rawString(raw, conversationTypeKeys))
	if strings.Contains(t, "group") || rawBool(raw, []string{"isGroup", "is_group"}) {
		return ConversationGroup
	}
	return ConversationDirect
}

func normalizeMessageKind(v, fileURL string) MessageKind {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "image", "img", "photo":
		return MessageImage
	case "file", "attachment", "document":
		return MessageFile
	case "system", "notice":
		return MessageSystem
	case "text", "message", "msg":
		return MessageText
	}
	if fileURL != "" {
		return MessageFile
	}
	return MessageText
}

func resolveDisplayName(raw RawRecord, conv Conversation, currentUserID string) string {
	title := rawString(raw, titleKeys)
	if conv.Kind == ConversationGroup && title != "" {
		return title
	}
	for _, p := range conv.Participants {
		if !SameID(p.ID, currentUserID) && p.Name != UnknownUserName {
			return p.Name
		}
	}
	if title != "" {
		return title
	}
	return UnknownUserName
}

func resolvePreview(raw RawRecord) string {
	v := rawAny(raw, lastMessageKeys)
	switch last := v.(type) {
	case string:
		return strings.TrimSpace(last)
	case map[string]any:
		if rawBool(last, deletedFlagKeys) {
			return DeletedMessageText
		}
		if text := rawString(last, messageTextKeys); text != "" {
			return text
		}
		if name := rawString(last, fileNameKeys); name != "" {
			return name
		}
	}
	return strings.TrimSpace(rawString(raw, []string{"lastMessageText", "last_message_text", "preview", "snippet"}))
}

func rawAny(raw RawRecord, keys []string) any {
	if raw == nil {
		return nil
	}
	for _, key := range keys {
		if v, ok := raw[key]; ok && v != nil {
			return v
		}
	}
	return nil
}

func rawString(raw RawRecord, keys []string) string {
	switch v := rawAny(raw, keys).(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return ""
	}
}

// rawID stringifies ids that may be numbers on the wire.
func rawID(raw RawRecord, keys []string) string {
	return idString(rawAny(raw, keys))
}

func idString(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		return id.String()
	default:
		return strings.TrimSpace(fmt.Sprint(id))
	}
}

func rawInt(raw RawRecord, keys []string) int {
	return int(rawInt64(raw, keys))
}

func rawInt64(raw RawRecord, keys []string) int64 {
	switch v := rawAny(raw, keys).(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func rawBool(raw RawRecord, keys []string) bool {
	switch v := rawAny(raw, keys).(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		return err == nil && b
	case float64:
		return v != 0
	default:
		return false
	}
}

func rawTime(raw RawRecord, keys []string) time.Time {
	switch v := rawAny(raw, keys).(type) {
	case string:
		return parseTimeString(strings.TrimSpace(v))
	case float64:
		return timeFromUnix(int64(v))
	case int64:
		return timeFromUnix(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return timeFromUnix(n)
		}
		return time.Time{}
	case time.Time:
		return v
	default:
		return time.Time{}
	}
}

func parseTimeString(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return timeFromUnix(n)
	}
	return time.Time{}
}

// timeFromUnix accepts either seconds or milliseconds since the epoch.
func timeFromUnix(n int64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1_000_000_000_000 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
