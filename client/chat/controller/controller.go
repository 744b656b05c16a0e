package controller

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"telehealth_chat/client/chat/domain"
	"telehealth_chat/client/chat/transport"
	cmnenv "telehealth_chat/common/env"
	"telehealth_chat/common/log"
)

// RESTClient is the request/response surface the controller drives.
type RESTClient interface {
	ListConversations(ctx context.Context) ([]domain.RawRecord, error)
	ListMessages(ctx context.Context, conversationID string, q transport.PageQuery) ([]domain.RawRecord, error)
	SendMessage(ctx context.Context, conversationID, text, replyToID string) (domain.RawRecord, error)
	UploadFile(ctx context.Context, conversationID, fileName string, file io.Reader, caption string) (domain.RawRecord, error)
	MarkRead(ctx context.Context, conversationID, messageID string) error
	CreateConversation(ctx context.Context, req transport.CreateConversationRequest) (domain.RawRecord, error)
	SearchUsers(ctx context.Context, query string) ([]domain.RawRecord, error)
	ListAllUsers(ctx context.Context) ([]domain.RawRecord, error)
}

// PushChannel is the event surface the controller drives.
type PushChannel interface {
	Authenticate(ctx context.Context, userID string) (bool, error)
	AuthenticatedUserID() string
	ResetAuth()
	Subscribe(conversationID string) error
	Unsubscribe(conversationID string) error
	SendTyping(conversationID string, isTyping bool) error
	On(event string, handler transport.Handler) func()
}

type Config struct {
	PageSize              int
	TypingExpiry          time.Duration
	TypingDebounce        time.Duration
	AuthPollInterval      time.Duration
	AuthReattemptInterval time.Duration
}

func LoadConfig() Config {
	return Config{
		PageSize:              cmnenv.Int("CHAT_PAGE_SIZE", 50),
		TypingExpiry:          cmnenv.DurationMillis("CHAT_TYPING_EXPIRY_MS", 3*time.Second),
		TypingDebounce:        cmnenv.DurationMillis("CHAT_TYPING_DEBOUNCE_MS", 2*time.Second),
		AuthPollInterval:      cmnenv.DurationMillis("CHAT_AUTH_POLL_MS", time.Second),
		AuthReattemptInterval: cmnenv.DurationMillis("CHAT_AUTH_REATTEMPT_MS", 30*time.Second),
	}
}

// Controller owns the chat state for one user session: the conversation list,
// the single open conversation with its message buffer and typing set, and the
// push-channel readiness. Presentation layers read snapshots and invoke
// operations; they never touch the state directly. Callbacks arrive from the
// socket read goroutine and from timers, so all state lives behind one mutex.
type Controller struct {
	rest RESTClient
	push PushChannel
	cfg  Config

	mu            sync.Mutex
	userID        string
	userType      domain.UserType
	conversations []domain.Conversation
	active        *domain.Conversation
	messages      []domain.Message
	messageIDs    map[string]struct{}
	typing        map[string]*time.Timer
	loading       bool
	loadingMore   bool
	hasMore       bool
	socketReady   bool
	errMsg        string

	// openSeq is bumped on every open/close; handlers and timers capture the
	// value current at install time and become inert once it moves on.
	openSeq         int
	scopedOffs      []func()
	globalOff       func()
	typingOffTimer  *time.Timer
	pollCancel      context.CancelFunc
	lastAuthFailure time.Time
}

func New(rest RESTClient, push PushChannel, cfg Config) *Controller {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Controller{
		rest:       rest,
		push:       push,
		cfg:        cfg,
		messageIDs: map[string]struct{}{},
		typing:     map[string]*time.Timer{},
	}
}

// Snapshot is a read-only copy of the controller state for rendering.
type Snapshot struct {
	Conversations []domain.Conversation
	Active        *domain.Conversation
	Messages      []domain.Message
	TypingUsers   []string
	Loading       bool
	LoadingMore   bool
	HasMore       bool
	SocketReady   bool
	Err           string
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Conversations: append([]domain.Conversation(nil), c.conversations...),
		Messages:      append([]domain.Message(nil), c.messages...),
		Loading:       c.loading,
		LoadingMore:   c.loadingMore,
		HasMore:       c.hasMore,
		SocketReady:   c.socketReady,
		Err:           c.errMsg,
	}
	if c.active != nil {
		active := *c.active
		snap.Active = &active
	}
	for userID := range c.typing {
		snap.TypingUsers = append(snap.TypingUsers, userID)
	}
	sort.Strings(snap.TypingUsers)
	return snap
}

// Initialize records the session identity and starts polling push-channel
// readiness. The socket may connect well after the controller starts; the
// global message listener is (re)installed on every false-to-true readiness
// transition and never installed twice.
func (c *Controller) Initialize(ctx context.Context, userID, userType string) {
	c.mu.Lock()
	if c.pollCancel != nil {
		c.pollCancel()
	}
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.userID = strings.TrimSpace(userID)
	c.userType = domain.NormalizeUserType(userType)
	c.socketReady = false
	c.lastAuthFailure = time.Time{}
	c.mu.Unlock()

	go c.authLoop(pollCtx, c.userID)
}

func (c *Controller) authLoop(ctx context.Context, userID string) {
	ticker := time.NewTicker(c.cfg.AuthPollInterval)
	defer ticker.Stop()
	for {
		c.pollAuthOnce(ctx, userID)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) pollAuthOnce(ctx context.Context, userID string) {
	c.mu.Lock()
	if c.userID != userID {
		c.mu.Unlock()
		return
	}
	lastFailure := c.lastAuthFailure
	c.mu.Unlock()

	authed := c.push.AuthenticatedUserID() == userID
	if !authed {
		if !lastFailure.IsZero() {
			// Degraded mode: the handshake budget was spent. Re-attempt the
			// full flow only after the re-attempt interval.
			if time.Since(lastFailure) < c.cfg.AuthReattemptInterval {
				c.setSocketReady(false)
				return
			}
			c.push.ResetAuth()
		}

		ok, err := c.push.Authenticate(ctx, userID)
		var authErr *transport.AuthError
		switch {
		case errors.As(err, &authErr):
			c.mu.Lock()
			c.lastAuthFailure = time.Now()
			c.mu.Unlock()
		case err != nil:
			log.Warnf("event=chat_auth_poll status=failed user_id=%s error=%v", userID, err)
		case ok:
			c.mu.Lock()
			c.lastAuthFailure = time.Time{}
			c.mu.Unlock()
		}
		authed = ok
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID != userID {
		return
	}
	if authed && !c.socketReady {
		c.socketReady = true
		if c.globalOff != nil {
			c.globalOff()
		}
		c.globalOff = c.push.On(transport.EventMessage, c.onGlobalMessage)
		log.Infof("event=chat_socket status=ready user_id=%s", userID)
	} else if !authed && c.socketReady {
		c.socketReady = false
	}
}

func (c *Controller) setSocketReady(ready bool) {
	c.mu.Lock()
	c.socketReady = ready
	c.mu.Unlock()
}

// onGlobalMessage handles pushed messages for conversations that are not
// open: self echoes are dropped, the open conversation defers to its scoped
// handler, anything else bumps that conversation's unread count and preview.
func (c *Controller) onGlobalMessage(ev transport.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := domain.ToMessage(ev.Payload, c.userID, string(c.userType))
	if msg.IsSent || (ev.UserID != "" && domain.SameID(ev.UserID, c.userID)) {
		return
	}
	conversationID := msg.ConversationID
	if conversationID == "" {
		conversationID = ev.ConversationID
	}
	if conversationID == "" {
		return
	}
	if c.active != nil && c.active.ID == conversationID {
		return
	}
	for i := range c.conversations {
		if c.conversations[i].ID != conversationID {
			continue
		}
		c.conversations[i].UnreadCount++
		c.conversations[i].LastMessagePreview = previewText(msg)
		if !msg.CreatedAt.IsZero() {
			c.conversations[i].LastActivityAt = msg.CreatedAt
		} else {
			c.conversations[i].LastActivityAt = time.Now()
		}
		return
	}
}

// LoadConversations fetches and replaces the conversation list. A 404 means
// the user simply has no conversations yet and is not an error.
func (c *Controller) LoadConversations(ctx context.Context) error {
	c.mu.Lock()
	c.loading = true
	c.mu.Unlock()

	raws, err := c.rest.ListConversations(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
	if err != nil {
		if transport.IsNotFound(err) {
			c.conversations = []domain.Conversation{}
			c.errMsg = ""
			return nil
		}
		c.errMsg = err.Error()
		return err
	}

	list := make([]domain.Conversation, 0, len(raws))
	for _, raw := range raws {
		list = append(list, domain.ToConversation(raw, c.userID))
	}
	c.conversations = list
	c.errMsg = ""
	return nil
}

// OpenConversation makes conv the single open conversation: the previous one
// is fully torn down first, the buffer is reset, the first page is fetched,
// conversation-scoped listeners are installed, then the conversation is marked
// read and subscribed (both best-effort).
func (c *Controller) OpenConversation(ctx context.Context, conv domain.Conversation) error {
	c.mu.Lock()
	previousID := c.teardownActiveLocked()
	seq := c.openSeq
	active := conv
	active.UnreadCount = 0
	c.active = &active
	c.messages = nil
	c.messageIDs = map[string]struct{}{}
	c.hasMore = true
	c.loadingMore = false
	c.zeroUnreadLocked(conv.ID)
	c.mu.Unlock()

	if previousID != "" && previousID != conv.ID {
		if err := c.push.Unsubscribe(previousID); err != nil {
			log.Warnf("event=chat_unsubscribe status=failed conversation_id=%s error=%v", previousID, err)
		}
	}

	raws, err := c.rest.ListMessages(ctx, conv.ID, transport.PageQuery{Limit: c.cfg.PageSize})

	c.mu.Lock()
	if c.openSeq != seq || c.active == nil {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		c.errMsg = err.Error()
		c.mu.Unlock()
		return err
	}
	lastID := ""
	for _, raw := range raws {
		msg := domain.ToMessage(raw, c.userID, string(c.userType))
		if msg.ID == "" {
			continue
		}
		if _, dup := c.messageIDs[msg.ID]; dup {
			continue
		}
		c.messageIDs[msg.ID] = struct{}{}
		c.messages = append(c.messages, msg)
		lastID = msg.ID
	}
	c.hasMore = len(raws) >= c.cfg.PageSize
	c.errMsg = ""
	// Scoped listeners must be live before the subscribe request goes out:
	// an event arriving together with the subscribe ack already has a
	// handler, and the handlers are gated on conversation id and seq anyway.
	c.installScopedListenersLocked(conv.ID, seq)
	c.mu.Unlock()

	if err := c.rest.MarkRead(ctx, conv.ID, lastID); err != nil {
		log.Warnf("event=chat_mark_read status=failed conversation_id=%s error=%v", conv.ID, err)
	}
	if err := c.push.Subscribe(conv.ID); err != nil {
		log.Warnf("event=chat_subscribe status=failed conversation_id=%s error=%v", conv.ID, err)
	}
	return nil
}

// CloseConversation tears down the open conversation. Calling it with nothing
// open is a no-op.
func (c *Controller) CloseConversation() {
	c.mu.Lock()
	previousID := c.teardownActiveLocked()
	c.mu.Unlock()

	if previousID != "" {
		if err := c.push.Unsubscribe(previousID); err != nil {
			log.Warnf("event=chat_unsubscribe status=failed conversation_id=%s error=%v", previousID, err)
		}
	}
}

// teardownActiveLocked removes the scoped listeners, cancels every typing and
// debounce timer, clears the per-conversation state and bumps the epoch so
// in-flight callbacks become inert. Returns the previously open conversation
// id for the caller to unsubscribe outside the lock.
func (c *Controller) teardownActiveLocked() string {
	c.openSeq++
	for _, off := range c.scopedOffs {
		off()
	}
	c.scopedOffs = nil
	for userID, timer := range c.typing {
		timer.Stop()
		delete(c.typing, userID)
	}
	if c.typingOffTimer != nil {
		c.typingOffTimer.Stop()
		c.typingOffTimer = nil
	}

	previousID := ""
	if c.active != nil {
		previousID = c.active.ID
	}
	c.active = nil
	c.messages = nil
	c.messageIDs = map[string]struct{}{}
	c.hasMore = false
	c.loadingMore = false
	return previousID
}

func (c *Controller) installScopedListenersLocked(conversationID string, seq int) {
	c.scopedOffs = []func(){
		c.push.On(transport.EventMessage, func(ev transport.Event) {
			c.onScopedMessage(conversationID, seq, ev)
		}),
		c.push.On(transport.EventTyping, func(ev transport.Event) {
			c.onTyping(conversationID, seq, ev)
		}),
		c.push.On(transport.EventRead, func(ev transport.Event) {
			c.onRead(conversationID, seq, ev)
		}),
		c.push.On(transport.EventMessageDeleted, func(ev transport.Event) {
			c.onMessageDeleted(conversationID, seq, ev)
		}),
		c.push.On(transport.EventParticipantAdded, func(ev transport.Event) {
			c.onParticipantAdded(conversationID, seq, ev)
		}),
		c.push.On(transport.EventParticipantRemoved, func(ev transport.Event) {
			c.onParticipantRemoved(conversationID, seq, ev)
		}),
		c.push.On(transport.EventPresence, func(ev transport.Event) {
			c.onPresence(seq, ev)
		}),
	}
}

func (c *Controller) onScopedMessage(conversationID string, seq int, ev transport.Event) {
	c.mu.Lock()
	if c.openSeq != seq || c.active == nil {
		c.mu.Unlock()
		return
	}
	msg := domain.ToMessage(ev.Payload, c.userID, string(c.userType))
	if msg.SenderID == "" {
		msg.SenderID = ev.UserID
	}
	if msg.ConversationID == "" {
		msg.ConversationID = ev.ConversationID
	}
	if msg.ConversationID != conversationID {
		c.mu.Unlock()
		return
	}
	if msg.IsSent || domain.SameID(msg.SenderID, c.userID) {
		c.mu.Unlock()
		return
	}
	if msg.ID == "" {
		c.mu.Unlock()
		return
	}
	if _, dup := c.messageIDs[msg.ID]; dup {
		c.mu.Unlock()
		return
	}
	c.messageIDs[msg.ID] = struct{}{}
	c.messages = append(c.messages, msg)
	c.updatePreviewLocked(conversationID, msg)
	c.mu.Unlock()

	if err := c.rest.MarkRead(context.Background(), conversationID, msg.ID); err != nil {
		log.Warnf("event=chat_read_receipt status=failed conversation_id=%s message_id=%s error=%v", conversationID, msg.ID, err)
	}
}

func (c *Controller) onTyping(conversationID string, seq int, ev transport.Event) {
	if ev.ConversationID != "" && ev.ConversationID != conversationID {
		return
	}
	userID := ev.UserID
	if userID == "" {
		userID = domain.SenderIDOf(ev.Payload)
	}
	if userID == "" || domain.SameID(userID, c.currentUserID()) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq || c.active == nil {
		return
	}
	if existing, ok := c.typing[userID]; ok {
		existing.Stop()
		delete(c.typing, userID)
	}
	if !domain.TypingFlag(ev.Payload) {
		return
	}
	c.typing[userID] = time.AfterFunc(c.cfg.TypingExpiry, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.openSeq != seq {
			return
		}
		delete(c.typing, userID)
	})
}

func (c *Controller) onRead(conversationID string, seq int, ev transport.Event) {
	if ev.ConversationID != "" && ev.ConversationID != conversationID {
		return
	}
	if domain.SameID(ev.UserID, c.currentUserID()) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq || c.active == nil {
		return
	}
	upTo := domain.ReadMessageID(ev.Payload)
	for i := range c.messages {
		if c.messages[i].IsSent {
			c.messages[i].IsRead = true
		}
		if upTo != "" && c.messages[i].ID == upTo {
			break
		}
	}
}

func (c *Controller) onMessageDeleted(conversationID string, seq int, ev transport.Event) {
	if ev.ConversationID != "" && ev.ConversationID != conversationID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq || c.active == nil {
		return
	}
	messageID := domain.MessageIDOf(ev.Payload)
	if messageID == "" {
		return
	}
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			c.messages[i].IsDeleted = true
			c.messages[i].Text = domain.DeletedMessageText
			return
		}
	}
}

func (c *Controller) onParticipantAdded(conversationID string, seq int, ev transport.Event) {
	if ev.ConversationID != "" && ev.ConversationID != conversationID {
		return
	}
	user := domain.ToUser(ev.Payload)
	if user.ID == "" {
		user.ID = ev.UserID
	}
	if user.ID == "" {
		return
	}
	joined := domain.Participant{ID: user.ID, Name: user.Name, Type: user.Type, Avatar: user.Avatar}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq || c.active == nil {
		return
	}
	if hasParticipant(c.active.Participants, joined.ID) {
		return
	}
	c.active.Participants = append(c.active.Participants, joined)
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].Participants = append(c.conversations[i].Participants, joined)
			return
		}
	}
}

func (c *Controller) onParticipantRemoved(conversationID string, seq int, ev transport.Event) {
	if ev.ConversationID != "" && ev.ConversationID != conversationID {
		return
	}
	userID := ev.UserID
	if userID == "" {
		userID = domain.ToUser(ev.Payload).ID
	}
	if userID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq || c.active == nil {
		return
	}
	c.active.Participants = withoutParticipant(c.active.Participants, userID)
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].Participants = withoutParticipant(c.conversations[i].Participants, userID)
			return
		}
	}
}

// onPresence flips the online flag on every conversation shared with the
// user, the open one included.
func (c *Controller) onPresence(seq int, ev transport.Event) {
	userID := ev.UserID
	if userID == "" {
		userID = domain.SenderIDOf(ev.Payload)
	}
	if userID == "" || domain.SameID(userID, c.currentUserID()) {
		return
	}
	online := domain.PresenceFlag(ev.Payload)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq {
		return
	}
	if c.active != nil && hasParticipant(c.active.Participants, userID) {
		c.active.IsOnline = online
	}
	for i := range c.conversations {
		if hasParticipant(c.conversations[i].Participants, userID) {
			c.conversations[i].IsOnline = online
		}
	}
}

func hasParticipant(participants []domain.Participant, userID string) bool {
	for _, p := range participants {
		if domain.SameID(p.ID, userID) {
			return true
		}
	}
	return false
}

func withoutParticipant(participants []domain.Participant, userID string) []domain.Participant {
	kept := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		if !domain.SameID(p.ID, userID) {
			kept = append(kept, p)
		}
	}
	return kept
}

// SendMessage sends trimmed text to the open conversation and appends the
// server's echo to the buffer. With no open conversation or blank text it does
// nothing at all.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	c.mu.Lock()
	if c.active == nil || text == "" {
		c.mu.Unlock()
		return nil
	}
	conversationID := c.active.ID
	seq := c.openSeq
	c.mu.Unlock()

	raw, err := c.rest.SendMessage(ctx, conversationID, text, "")
	if err != nil {
		c.setError(err)
		return err
	}
	c.appendOwnMessage(conversationID, seq, raw)
	return nil
}

// UploadFile sends a file to the open conversation; same contract shape as
// SendMessage.
func (c *Controller) UploadFile(ctx context.Context, fileName string, file io.Reader, caption string) error {
	c.mu.Lock()
	if c.active == nil || fileName == "" || file == nil {
		c.mu.Unlock()
		return nil
	}
	conversationID := c.active.ID
	seq := c.openSeq
	c.mu.Unlock()

	raw, err := c.rest.UploadFile(ctx, conversationID, fileName, file, caption)
	if err != nil {
		c.setError(err)
		return err
	}
	c.appendOwnMessage(conversationID, seq, raw)
	return nil
}

func (c *Controller) appendOwnMessage(conversationID string, seq int, raw domain.RawRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := domain.ToMessage(raw, c.userID, string(c.userType))
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	if c.openSeq == seq && c.active != nil && msg.ID != "" {
		if _, dup := c.messageIDs[msg.ID]; !dup {
			c.messageIDs[msg.ID] = struct{}{}
			c.messages = append(c.messages, msg)
		}
	}
	c.updatePreviewLocked(conversationID, msg)
	c.errMsg = ""
}

// HandleTyping broadcasts the typing state for the open conversation. A true
// broadcast schedules an automatic false after the debounce delay; every
// further true pushes the deadline out. The conversation id is captured now,
// so the delayed false goes to the conversation that was active at call time.
func (c *Controller) HandleTyping(isTyping bool) {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return
	}
	conversationID := c.active.ID
	if c.typingOffTimer != nil {
		c.typingOffTimer.Stop()
		c.typingOffTimer = nil
	}
	if isTyping {
		c.typingOffTimer = time.AfterFunc(c.cfg.TypingDebounce, func() {
			c.mu.Lock()
			c.typingOffTimer = nil
			c.mu.Unlock()
			if err := c.push.SendTyping(conversationID, false); err != nil {
				log.Warnf("event=chat_typing status=failed conversation_id=%s error=%v", conversationID, err)
			}
		})
	}
	c.mu.Unlock()

	if err := c.push.SendTyping(conversationID, isTyping); err != nil {
		log.Warnf("event=chat_typing status=failed conversation_id=%s error=%v", conversationID, err)
	}
}

// LoadMoreMessages pages backward from the oldest loaded message id and
// prepends the results. It is a no-op while a page is already loading, when
// the last page was short, or with nothing open.
func (c *Controller) LoadMoreMessages(ctx context.Context) error {
	c.mu.Lock()
	if c.active == nil || !c.hasMore || c.loadingMore {
		c.mu.Unlock()
		return nil
	}
	conversationID := c.active.ID
	seq := c.openSeq
	beforeID := ""
	if len(c.messages) > 0 {
		beforeID = c.messages[0].ID
	}
	c.loadingMore = true
	c.mu.Unlock()

	raws, err := c.rest.ListMessages(ctx, conversationID, transport.PageQuery{Limit: c.cfg.PageSize, BeforeID: beforeID})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openSeq != seq || c.active == nil {
		return nil
	}
	c.loadingMore = false
	if err != nil {
		c.errMsg = err.Error()
		return err
	}

	page := make([]domain.Message, 0, len(raws))
	for _, raw := range raws {
		msg := domain.ToMessage(raw, c.userID, string(c.userType))
		if msg.ID == "" {
			continue
		}
		if _, dup := c.messageIDs[msg.ID]; dup {
			continue
		}
		c.messageIDs[msg.ID] = struct{}{}
		page = append(page, msg)
	}
	c.messages = append(page, c.messages...)
	c.hasMore = len(raws) >= c.cfg.PageSize
	return nil
}

// StartConversation creates a conversation, prepends it to the list and opens
// it with the full OpenConversation contract.
func (c *Controller) StartConversation(ctx context.Context, kind string, participantIDs []string, title string) error {
	req := transport.CreateConversationRequest{Kind: kind, Title: title}
	if len(participantIDs) == 1 {
		req.ParticipantID = participantIDs[0]
	} else {
		req.ParticipantIDs = participantIDs
	}

	raw, err := c.rest.CreateConversation(ctx, req)
	if err != nil {
		c.setError(err)
		return err
	}

	c.mu.Lock()
	conv := domain.ToConversation(raw, c.userID)
	kept := make([]domain.Conversation, 0, len(c.conversations)+1)
	kept = append(kept, conv)
	for _, existing := range c.conversations {
		if existing.ID != conv.ID {
			kept = append(kept, existing)
		}
	}
	c.conversations = kept
	c.errMsg = ""
	c.mu.Unlock()

	return c.OpenConversation(ctx, conv)
}

// SearchUsers never fails the caller: transport errors are logged and an
// empty list is returned.
func (c *Controller) SearchUsers(ctx context.Context, query string) []domain.User {
	raws, err := c.rest.SearchUsers(ctx, query)
	if err != nil {
		log.Warnf("event=chat_user_search status=failed query=%q error=%v", query, err)
		return []domain.User{}
	}
	return toUsers(raws)
}

// ListAllUsers has the same empty-list fallback as SearchUsers.
func (c *Controller) ListAllUsers(ctx context.Context) []domain.User {
	raws, err := c.rest.ListAllUsers(ctx)
	if err != nil {
		log.Warnf("event=chat_user_list status=failed error=%v", err)
		return []domain.User{}
	}
	return toUsers(raws)
}

// Teardown stops the auth polling, removes every listener and cancels every
// timer. The controller must mutate nothing after Teardown returns.
func (c *Controller) Teardown() {
	c.mu.Lock()
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
	if c.globalOff != nil {
		c.globalOff()
		c.globalOff = nil
	}
	c.socketReady = false
	// Clearing the session id makes any poll still in flight a no-op.
	c.userID = ""
	previousID := c.teardownActiveLocked()
	c.mu.Unlock()

	if previousID != "" {
		if err := c.push.Unsubscribe(previousID); err != nil {
			log.Warnf("event=chat_unsubscribe status=failed conversation_id=%s error=%v", previousID, err)
		}
	}
}

func (c *Controller) currentUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.errMsg = err.Error()
	c.mu.Unlock()
}

func (c *Controller) zeroUnreadLocked(conversationID string) {
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].UnreadCount = 0
			return
		}
	}
}

func (c *Controller) updatePreviewLocked(conversationID string, msg domain.Message) {
	preview := previewText(msg)
	if c.active != nil && c.active.ID == conversationID {
		c.active.LastMessagePreview = preview
		c.active.LastActivityAt = activityTime(msg)
	}
	for i := range c.conversations {
		if c.conversations[i].ID == conversationID {
			c.conversations[i].LastMessagePreview = preview
			c.conversations[i].LastActivityAt = activityTime(msg)
			return
		}
	}
}

func previewText(msg domain.Message) string {
	switch {
	case msg.IsDeleted:
		return domain.DeletedMessageText
	case msg.Text != "":
		return msg.Text
	case msg.FileName != "":
		return msg.FileName
	case msg.Kind == domain.MessageFile || msg.Kind == domain.MessageImage:
		return "Attachment"
	default:
		return msg.Text
	}
}

func activityTime(msg domain.Message) time.Time {
	if !msg.CreatedAt.IsZero() {
		return msg.CreatedAt
	}
	return time.Now()
}

func toUsers(raws []domain.RawRecord) []domain.User {
	users := make([]domain.User, 0, len(raws))
	for _, raw := range raws {
		users = append(users, domain.ToUser(raw))
	}
	return users
}
