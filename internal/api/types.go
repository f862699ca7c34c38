package api

import (
	"time"

	"github.com/hsapsbch-blip/betapdoc/domain/entities"
)

// ReaderAuthRequest represents the request payload for reader authentication
type ReaderAuthRequest struct {
	AccessCode string `json:"access_code"`
}

// ReaderAuthResponse represents the response payload for reader authentication
type ReaderAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ReaderID  string    `json:"reader_id"`
}

// AttemptsResponse lists a reader's recent practice attempts
type AttemptsResponse struct {
	Attempts []*entities.PracticeAttempt `json:"attempts"`
	Count    int                         `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
