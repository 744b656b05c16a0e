package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"telehealth_chat/client/chat/domain"
	cmnenv "telehealth_chat/common/env"
)

const defaultHTTPTimeout = 10 * time.Second

// REST wraps the request/response half of the chat API. Responses come back
// as raw records; the domain transformers own the field mapping.
type REST struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewREST(baseURL, token string) *REST {
	return &REST{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: cmnenv.DurationMillis("CHAT_HTTP_TIMEOUT_MS", defaultHTTPTimeout)},
	}
}

// SetToken replaces the bearer token used for subsequent requests.
func (c *REST) SetToken(token string) {
	c.token = strings.TrimSpace(token)
}

type PageQuery struct {
	Limit    int
	BeforeID string
	AfterID  string
}

type CreateConversationRequest struct {
	Kind           string   `json:"kind"`
	ParticipantID  string   `json:"participant_id,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`
	Title          string   `json:"title,omitempty"`
}

func (c *REST) ListConversations(ctx context.Context) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) GetConversation(ctx context.Context, conversationID string) (domain.RawRecord, error) {
	var out domain.RawRecord
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) CreateConversation(ctx context.Context, req CreateConversationRequest) (domain.RawRecord, error) {
	var out domain.RawRecord
	if err := c.do(ctx, http.MethodPost, "/conversations", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) AddParticipant(ctx context.Context, conversationID, userID string) error {
	payload := map[string]any{"user_id": userID}
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/participants", payload, nil)
}

func (c *REST) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/participants/" + url.PathEscape(userID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *REST) LeaveConversation(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/leave", nil, nil)
}

// ListMessages pages by message id, newest-last within each page.
func (c *REST) ListMessages(ctx context.Context, conversationID string, q PageQuery) ([]domain.RawRecord, error) {
	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", q.Limit))
	}
	if q.BeforeID != "" {
		query.Set("before_id", q.BeforeID)
	}
	if q.AfterID != "" {
		query.Set("after_id", q.AfterID)
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []domain.RawRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) SendMessage(ctx context.Context, conversationID, text, replyToID string) (domain.RawRecord, error) {
	payload := map[string]any{"text": text}
	if replyToID != "" {
		payload["reply_to_id"] = replyToID
	}
	var out domain.RawRecord
	if err := c.do(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/messages", payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) UploadFile(ctx context.Context, conversationID, fileName string, file io.Reader, caption string) (domain.RawRecord, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return nil, err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	var out domain.RawRecord
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *REST) MarkRead(ctx context.Context, conversationID, messageID string) error {
	payload := map[string]any{}
	if messageID != "" {
		payload["message_id"] = messageID
	}
	return c.do(ctx, http.MethodPut, "/conversations/"+url.PathEscape(conversationID)+"/read", payload, nil)
}

func (c *REST) SearchUsers(ctx context.Context, query string) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	if err := c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) ListAllUsers(ctx context.Context) ([]domain.RawRecord, error) {
	var out []domain.RawRecord
	if err := c.do(ctx, http.MethodGet, "/users", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *REST) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

func (c *REST) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *REST) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Status: resp.StatusCode, Message: errorMessage(resp.Body, resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func errorMessage(body io.Reader, status int) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err == nil {
		var parsed struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
			return parsed.Error
		}
		if trimmed := strings.TrimSpace(string(raw)); trimmed != "" {
			return trimmed
		}
	}
	return http.StatusText(status)
}
