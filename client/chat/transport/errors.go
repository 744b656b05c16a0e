package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError is returned for any non-2xx response from the API.
type TransportError struct {
	Status  int
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport status %d: %s", e.Status, e.Message)
}

// IsNotFound reports whether err is a 404-class transport failure.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Status == http.StatusNotFound
}

// AuthError is returned once the push-channel handshake has exhausted its
// retry budget for a user id. Authentication is not attempted again for that
// id until the target changes or the auth state is reset.
type AuthError struct {
	UserID   string
	Attempts int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("push authentication failed for user %s after %d attempts", e.UserID, e.Attempts)
}
