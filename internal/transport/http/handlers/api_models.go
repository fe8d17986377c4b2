package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/transport/http/middleware"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response carrying the request's trace ID.
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: middleware.GetTraceID(c),
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// IdentitySummary is the minimal account view returned by the API.
type IdentitySummary struct {
	ID            string      `json:"id"`
	Email         string      `json:"email"`
	Tier          domain.Tier `json:"tier"`
	EmailVerified bool        `json:"email_verified"`
}

func summarize(identity domain.Identity) IdentitySummary {
	return IdentitySummary{
		ID:            identity.ID,
		Email:         identity.Email,
		Tier:          identity.Tier,
		EmailVerified: identity.EmailVerified,
	}
}

// RegisterRequest is the payload for account creation.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginRequest is the payload for credential login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse carries an issued access/refresh pair.
type TokenResponse struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	Identity     IdentitySummary `json:"identity"`
}

func newTokenResponse(pair domain.TokenPair, identity domain.Identity, now time.Time) TokenResponse {
	return TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresAt.Sub(now).Seconds()),
		Identity:     summarize(identity),
	}
}

// RefreshRequest is the payload for token rotation and logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshResponse carries a rotated pair without the identity block.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// EmailRequest is the payload for forgot-password and resend-verification.
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResetPasswordRequest redeems a reset token.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// VerifyEmailRequest redeems a verification token.
type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// UploadResponse describes a stored image.
type UploadResponse struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	Mime      string    `json:"mime"`
	CreatedAt time.Time `json:"created_at"`
}

func newUploadResponse(upload domain.Upload) UploadResponse {
	return UploadResponse{
		ID:        upload.ID,
		Filename:  upload.Filename,
		SizeBytes: upload.SizeBytes,
		Mime:      string(upload.Mime),
		CreatedAt: upload.CreatedAt,
	}
}
