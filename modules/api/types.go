package api

import domain "github.com/example/agent-chat/domain/chat"

// TicketResponse is the response for POST /auth/ticket.
type TicketResponse struct {
	Ticket string `json:"ticket"`
}

// TokenRequest is the request for the dev-only POST /auth/token.
type TokenRequest struct {
	UserID string `json:"user_id"`
}

// TokenResponse is the response for POST /auth/token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// FileListResponse is the response for GET /files.
type FileListResponse struct {
	Files []domain.FileRef `json:"files"`
}

// ErrorResponse is the API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the API health check response.
type HealthResponse struct {
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}
