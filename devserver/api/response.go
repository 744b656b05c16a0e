package api

const (
	ErrNotParticipant = "not a conversation participant"
	ErrConversationID = "conversation id is required"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	UserType    string `json:"user_type"`
	Name        string `json:"name"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewOKResponse() OKResponse {
	return OKResponse{OK: true}
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}

func NewTokenResponse(accessToken, userID, userType, name string) TokenResponse {
	return TokenResponse{AccessToken: accessToken, UserID: userID, UserType: userType, Name: name}
}
