package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	commonauth "telehealth_chat/common/auth"
	"telehealth_chat/common/middleware"
	"telehealth_chat/devserver/domain"
	"telehealth_chat/devserver/service"
)

type Handler struct {
	store *service.Store
	hub   *service.Hub
	files *service.FileService
	auth  *commonauth.Service
}

func NewHandler(store *service.Store, hub *service.Hub, files *service.FileService, jwtSecret string, jwtTTLMinutes int) *Handler {
	return &Handler{
		store: store,
		hub:   hub,
		files: files,
		auth:  commonauth.NewService(jwtSecret, jwtTTLMinutes),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, uploadDir string) {
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, NewHealthResponse("ok")) })
	r.GET("/ws", h.hub.HandleWS)
	r.Static("/files", uploadDir)

	r.POST("/api/v1/users", h.createUser)
	r.POST("/api/v1/auth/token", h.mintToken)

	authed := r.Group("/api/v1")
	authed.Use(middleware.AuthRequired(h.auth))
	{
		authed.POST("/auth/logout", h.logout)

		authed.GET("/conversations", h.listConversations)
		authed.POST("/conversations", h.createConversation)
		authed.GET("/conversations/:id", h.getConversation)
		authed.POST("/conversations/:id/participants", h.addParticipant)
		authed.DELETE("/conversations/:id/participants/:pid", h.removeParticipant)
		authed.POST("/conversations/:id/leave", h.leaveConversation)

		authed.GET("/conversations/:id/messages", h.listMessages)
		authed.POST("/conversations/:id/messages", h.createMessage)
		authed.POST("/conversations/:id/messages/upload", h.uploadMessage)
		authed.DELETE("/conversations/:id/messages/:mid", h.deleteMessage)
		authed.PUT("/conversations/:id/read", h.markRead)

		authed.GET("/users", h.listUsers)
		authed.GET("/users/search", h.searchUsers)
	}
}

func currentUserID(c *gin.Context) string {
	if raw, ok := c.Get("auth_user_id"); ok {
		if userID, ok := raw.(string); ok {
			return userID
		}
	}
	return ""
}

func (h *Handler) createUser(c *gin.Context) {
	var req struct {
		ID       string `json:"id"`
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email"`
		UserType string `json:"user_type"`
		Avatar   string `json:"avatar"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if req.UserType == "" {
		req.UserType = "p"
	}
	user, err := h.store.CreateUser(domain.User{ID: req.ID, Name: req.Name, Email: req.Email, UserType: req.UserType, Avatar: req.Avatar})
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) mintToken(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	user, err := h.store.GetUser(req.UserID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse("unknown user"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	token, err := h.auth.GenerateToken(user.ID, user.UserType, user.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, NewTokenResponse(token, user.ID, user.UserType, user.Name))
}

func (h *Handler) logout(c *gin.Context) {
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) listConversations(c *gin.Context) {
	list, err := h.store.ListConversationsForUser(currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) createConversation(c *gin.Context) {
	var req struct {
		Kind           string   `json:"kind"`
		ParticipantID  string   `json:"participant_id"`
		ParticipantIDs []string `json:"participant_ids"`
		Title          string   `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}

	userID := currentUserID(c)
	seen := map[string]struct{}{userID: {}}
	participants := []string{userID}
	for _, id := range append([]string{req.ParticipantID}, req.ParticipantIDs...) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		participants = append(participants, id)
	}
	if len(participants) < 2 {
		c.JSON(http.StatusBadRequest, NewErrorResponse("at least one other participant is required"))
		return
	}

	conv, err := h.store.CreateConversation(req.Kind, req.Title, participants)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) getConversation(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, userID) {
		return
	}
	conv, err := h.store.GetConversation(conversationID, userID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse("conversation not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *Handler) addParticipant(c *gin.Context) {
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, currentUserID(c)) {
		return
	}
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	user, err := h.store.GetUser(req.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, NewErrorResponse("unknown user"))
		return
	}
	if err := h.store.AddParticipant(conversationID, req.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	h.hub.EmitParticipant("participant-added", conversationID, user)
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) removeParticipant(c *gin.Context) {
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, currentUserID(c)) {
		return
	}
	removedID := c.Param("pid")
	user, _ := h.store.GetUser(removedID)
	if err := h.store.RemoveParticipant(conversationID, removedID); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	if user.ID == "" {
		user.ID = removedID
	}
	h.hub.EmitParticipant("participant-removed", conversationID, user)
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) leaveConversation(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, userID) {
		return
	}
	user, _ := h.store.GetUser(userID)
	if err := h.store.RemoveParticipant(conversationID, userID); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	h.hub.EmitParticipant("participant-removed", conversationID, user)
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) listMessages(c *gin.Context) {
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, currentUserID(c)) {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	messages, err := h.store.ListMessages(conversationID, limit, c.Query("before_id"), c.Query("after_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *Handler) createMessage(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, userID) {
		return
	}
	var req struct {
		Text      string `json:"text" binding:"required"`
		ReplyToID string `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	msg, err := h.store.CreateMessage(domain.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		Kind:           "text",
		Text:           strings.TrimSpace(req.Text),
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	h.hub.EmitMessage(msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) uploadMessage(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, userID) {
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("file is required"))
		return
	}
	stored, err := h.files.Save(conversationID, header)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}

	kind := "file"
	if stored.IsImage {
		kind = "image"
	}
	msg, err := h.store.CreateMessage(domain.Message{
		ConversationID: conversationID,
		SenderID:       userID,
		Kind:           kind,
		Text:           strings.TrimSpace(c.PostForm("caption")),
		FileURL:        stored.URL,
		FileName:       stored.Name,
		FileSize:       stored.Size,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	h.hub.EmitMessage(msg)
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) deleteMessage(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, userID) {
		return
	}
	messageID := c.Param("mid")
	if err := h.store.SoftDeleteMessage(conversationID, messageID, userID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse("message not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	h.hub.EmitMessageDeleted(conversationID, messageID)
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) markRead(c *gin.Context) {
	userID := currentUserID(c)
	conversationID := c.Param("id")
	if !h.requireParticipant(c, conversationID, userID) {
		return
	}
	var req struct {
		MessageID string `json:"message_id"`
	}
	// Body is optional; an empty read request means "everything so far".
	_ = c.ShouldBindJSON(&req)
	if err := h.store.MarkRead(conversationID, userID, req.MessageID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, NewErrorResponse("message not found"))
			return
		}
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	h.hub.EmitRead(conversationID, userID, req.MessageID)
	c.JSON(http.StatusOK, NewOKResponse())
}

func (h *Handler) listUsers(c *gin.Context) {
	users, err := h.store.ListUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) searchUsers(c *gin.Context) {
	users, err := h.store.SearchUsers(c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) requireParticipant(c *gin.Context, conversationID, userID string) bool {
	if strings.TrimSpace(conversationID) == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(ErrConversationID))
		return false
	}
	member, err := h.store.IsParticipant(conversationID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
		return false
	}
	if !member {
		c.JSON(http.StatusForbidden, NewErrorResponse(ErrNotParticipant))
		return false
	}
	return true
}
