package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ErrMissingBearerToken = "bearer token is required"
	ErrInvalidToken       = "invalid token"
)

type tokenAuth interface {
	ParseAuthContext(token string) (userID, userType, name string, err error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func AuthRequired(auth tokenAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: ErrMissingBearerToken})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		userID, userType, name, err := auth.ParseAuthContext(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: ErrInvalidToken})
			return
		}
		c.Set("auth_access_token", token)
		c.Set("auth_user_id", userID)
		c.Set("auth_user_type", userType)
		c.Set("auth_name", name)
		c.Next()
	}
}
