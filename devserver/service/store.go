package service

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"telehealth_chat/devserver/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the dev server's embedded persistence: users, conversations,
// participants, messages (soft-deleted, never removed) and per-user read
// state.
type Store struct {
	db *sql.DB
}

func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}
	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			user_type TEXT NOT NULL DEFAULT 'p',
			avatar TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'direct',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			joined_at TIMESTAMP NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			body TEXT NOT NULL DEFAULT '',
			file_url TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			reply_to_id TEXT NOT NULL DEFAULT '',
			is_deleted INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id)`,
		`CREATE TABLE IF NOT EXISTS message_reads (
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			last_read_rowid INTEGER NOT NULL DEFAULT 0,
			read_at TIMESTAMP NOT NULL,
			PRIMARY KEY (conversation_id, user_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateUser(u domain.User) (domain.User, error) {
	if strings.TrimSpace(u.ID) == "" {
		u.ID = uuid.NewString()
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, name, email, user_type, avatar) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, user_type=excluded.user_type, avatar=excluded.avatar`,
		u.ID, u.Name, u.Email, u.UserType, u.Avatar,
	)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(id string) (domain.User, error) {
	row := s.db.QueryRow(`SELECT id, name, email, user_type, avatar FROM users WHERE id = ?`, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.UserType, &u.Avatar); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, ErrNotFound
		}
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers() ([]domain.User, error) {
	return s.queryUsers(`SELECT id, name, email, user_type, avatar FROM users ORDER BY name`)
}

func (s *Store) SearchUsers(query string) ([]domain.User, error) {
	pattern := "%" + strings.TrimSpace(query) + "%"
	return s.queryUsers(
		`SELECT id, name, email, user_type, avatar FROM users WHERE name LIKE ? OR email LIKE ? ORDER BY name`,
		pattern, pattern,
	)
}

func (s *Store) queryUsers(query string, args ...any) ([]domain.User, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []domain.User{}
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.UserType, &u.Avatar); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) CreateConversation(kind, title string, participantIDs []string) (domain.Conversation, error) {
	if kind != "group" {
		kind = "direct"
	}
	now := time.Now().UTC()
	conv := domain.Conversation{ID: uuid.NewString(), Title: title, Kind: kind, CreatedAt: now, LastActivityAt: now}

	tx, err := s.db.Begin()
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("begin create conversation: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO conversations (id, title, kind, created_at) VALUES (?, ?, ?, ?)`, conv.ID, conv.Title, conv.Kind, now); err != nil {
		return domain.Conversation{}, fmt.Errorf("insert conversation: %w", err)
	}
	for _, userID := range participantIDs {
		if strings.TrimSpace(userID) == "" {
			continue
		}
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
			conv.ID, userID, now,
		); err != nil {
			return domain.Conversation{}, fmt.Errorf("insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Conversation{}, fmt.Errorf("commit create conversation: %w", err)
	}

	conv.Participants, err = s.listParticipants(conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	return conv, nil
}

func (s *Store) AddParticipant(conversationID, userID string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
		conversationID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	return nil
}

func (s *Store) RemoveParticipant(conversationID, userID string) error {
	_, err := s.db.Exec(`DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *Store) IsParticipant(conversationID, userID string) (bool, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*) FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return count > 0, nil
}

func (s *Store) ParticipantIDs(conversationID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT user_id FROM conversation_participants WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query participant ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) listParticipants(conversationID string) ([]domain.User, error) {
	return s.queryUsers(
		`SELECT u.id, u.name, u.email, u.user_type, u.avatar
		 FROM users u JOIN conversation_participants p ON p.user_id = u.id
		 WHERE p.conversation_id = ? ORDER BY u.name`,
		conversationID,
	)
}

func (s *Store) GetConversation(conversationID, forUserID string) (domain.Conversation, error) {
	row := s.db.QueryRow(`SELECT id, title, kind, created_at FROM conversations WHERE id = ?`, conversationID)
	var conv domain.Conversation
	if err := row.Scan(&conv.ID, &conv.Title, &conv.Kind, &conv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return s.decorateConversation(conv, forUserID)
}

// ListConversationsForUser returns the user's conversations newest-activity
// first, each decorated with participants, last message and unread count.
func (s *Store) ListConversationsForUser(userID string) ([]domain.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT c.id, c.title, c.kind, c.created_at
		 FROM conversations c JOIN conversation_participants p ON p.conversation_id = c.id
		 WHERE p.user_id = ?`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	list := []domain.Conversation{}
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Kind, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		list = append(list, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range list {
		decorated, err := s.decorateConversation(list[i], userID)
		if err != nil {
			return nil, err
		}
		list[i] = decorated
	}
	sortConversationsByActivity(list)
	return list, nil
}

func (s *Store) decorateConversation(conv domain.Conversation, forUserID string) (domain.Conversation, error) {
	participants, err := s.listParticipants(conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv.Participants = participants
	conv.LastActivityAt = conv.CreatedAt

	last, err := s.lastMessage(conv.ID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if last != nil {
		conv.LastMessage = last
		conv.LastActivityAt = last.CreatedAt
	}

	if forUserID != "" {
		unread, err := s.unreadCount(conv.ID, forUserID)
		if err != nil {
			return domain.Conversation{}, err
		}
		conv.UnreadCount = unread
	}
	return conv, nil
}

func (s *Store) lastMessage(conversationID string) (*domain.Message, error) {
	rows, err := s.queryMessages(
		`SELECT `+messageColumns+` FROM messages m JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = ? ORDER BY m.rowid DESC LIMIT 1`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (s *Store) unreadCount(conversationID, userID string) (int, error) {
	row := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages m
		 WHERE m.conversation_id = ? AND m.sender_id <> ? AND m.is_deleted = 0
		   AND m.rowid > COALESCE((SELECT last_read_rowid FROM message_reads WHERE conversation_id = ? AND user_id = ?), 0)`,
		conversationID, userID, conversationID, userID,
	)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, u.name, u.user_type, m.kind, m.body, m.file_url, m.file_name, m.file_size, m.reply_to_id, m.is_deleted, m.created_at`

// ListMessages pages by message id and always returns oldest-first.
func (s *Store) ListMessages(conversationID string, limit int, beforeID, afterID string) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	base := `SELECT ` + messageColumns + ` FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.conversation_id = ?`

	switch {
	case beforeID != "":
		rows, err := s.queryMessages(
			base+` AND m.rowid < COALESCE((SELECT rowid FROM messages WHERE id = ?), 0) ORDER BY m.rowid DESC LIMIT ?`,
			conversationID, beforeID, limit,
		)
		if err != nil {
			return nil, err
		}
		reverseMessages(rows)
		return rows, nil
	case afterID != "":
		return s.queryMessages(
			base+` AND m.rowid > COALESCE((SELECT rowid FROM messages WHERE id = ?), 0) ORDER BY m.rowid ASC LIMIT ?`,
			conversationID, afterID, limit,
		)
	default:
		rows, err := s.queryMessages(base+` ORDER BY m.rowid DESC LIMIT ?`, conversationID, limit)
		if err != nil {
			return nil, err
		}
		reverseMessages(rows)
		return rows, nil
	}
}

func (s *Store) queryMessages(query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var deleted int
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderType,
			&m.Kind, &m.Text, &m.FileURL, &m.FileName, &m.FileSize, &m.ReplyToID, &deleted, &m.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsDeleted = deleted != 0
		if m.IsDeleted {
			m.Text = ""
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (s *Store) CreateMessage(m domain.Message) (domain.Message, error) {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
	if m.Kind == "" {
		m.Kind = "text"
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, sender_id, kind, body, file_url, file_name, file_size, reply_to_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.Kind, m.Text, m.FileURL, m.FileName, m.FileSize, m.ReplyToID, m.CreatedAt,
	)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}

	sender, err := s.GetUser(m.SenderID)
	if err == nil {
		m.SenderName = sender.Name
		m.SenderType = sender.UserType
	}
	return m, nil
}

// SoftDeleteMessage flags a message as deleted; the row stays.
func (s *Store) SoftDeleteMessage(conversationID, messageID, requesterID string) error {
	res, err := s.db.Exec(
		`UPDATE messages SET is_deleted = 1 WHERE id = ? AND conversation_id = ? AND sender_id = ?`,
		messageID, conversationID, requesterID,
	)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkRead advances the user's read cursor; an empty messageID means
// "everything so far".
func (s *Store) MarkRead(conversationID, userID, messageID string) error {
	var target sql.NullInt64
	var err error
	if messageID != "" {
		err = s.db.QueryRow(`SELECT rowid FROM messages WHERE id = ? AND conversation_id = ?`, messageID, conversationID).Scan(&target.Int64)
	} else {
		err = s.db.QueryRow(`SELECT COALESCE(MAX(rowid), 0) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&target.Int64)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("resolve read cursor: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO message_reads (conversation_id, user_id, last_read_rowid, read_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(conversation_id, user_id) DO UPDATE SET
		   last_read_rowid = MAX(last_read_rowid, excluded.last_read_rowid),
		   read_at = excluded.read_at`,
		conversationID, userID, target.Int64, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func sortConversationsByActivity(list []domain.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastActivityAt.After(list[j].LastActivityAt)
	})
}

func reverseMessages(messages []domain.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}
