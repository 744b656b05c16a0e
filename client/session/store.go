package session

import (
	"context"
	"strings"
	"sync"

	"telehealth_chat/client/chat/domain"
	"telehealth_chat/common/auth"
	"telehealth_chat/common/log"
)

// Identity is the current user as decoded from the stored access token.
type Identity struct {
	UserID   string
	UserType domain.UserType
	Name     string
}

type logoutClient interface {
	Logout(ctx context.Context) error
}

// Store holds the session's access token and the identity decoded from it.
// It stands in for the browser storage the web client kept its login in.
type Store struct {
	auth *auth.Service

	mu       sync.Mutex
	token    string
	identity Identity
	valid    bool
}

func NewStore(authService *auth.Service) *Store {
	return &Store{auth: authService}
}

// SetToken stores the token and decodes the identity from it. An unparseable
// token clears the session and returns the parse error.
func (s *Store) SetToken(token string) error {
	token = strings.TrimSpace(token)
	claims, err := s.auth.ParseToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.token = ""
		s.identity = Identity{}
		s.valid = false
		return err
	}
	s.token = token
	s.identity = Identity{
		UserID:   claims.UserID,
		UserType: domain.NormalizeUserType(claims.UserType),
		Name:     claims.Name,
	}
	s.valid = true
	return nil
}

// Current returns the decoded identity, if any.
func (s *Store) Current() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.valid
}

func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.identity = Identity{}
	s.valid = false
}

// Logout tells the backend best-effort, then clears the local session either
// way.
func (s *Store) Logout(ctx context.Context, client logoutClient) {
	if client != nil {
		if err := client.Logout(ctx); err != nil {
			log.Warnf("event=session_logout status=failed error=%v", err)
		}
	}
	s.Clear()
}
