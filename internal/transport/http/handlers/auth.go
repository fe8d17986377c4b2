package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/framehost/authcore/internal/core/domain"
	"github.com/framehost/authcore/internal/transport/http/middleware"
	"github.com/framehost/authcore/internal/usecase"
)

// AuthHandler exposes the credential endpoints: registration, login, token
// rotation, logout, and the mail-driven verification and reset flows.
type AuthHandler struct {
	gateway      *usecase.AuthorizationGateway
	auth         *usecase.AuthService
	registration *usecase.RegistrationService
	reset        *usecase.PasswordResetService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(gateway *usecase.AuthorizationGateway, auth *usecase.AuthService, registration *usecase.RegistrationService, reset *usecase.PasswordResetService) *AuthHandler {
	return &AuthHandler{
		gateway:      gateway,
		auth:         auth,
		registration: registration,
		reset:        reset,
	}
}

// RegisterRoutes binds the authentication routes.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.POST("/refresh", h.refresh)
	r.POST("/logout", h.logout)
	r.POST("/forgot-password", h.forgotPassword)
	r.POST("/reset-password", h.resetPassword)
	r.POST("/verify-email", h.verifyEmail)
	r.POST("/resend-verification", h.resendVerification)
}

func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	email := strings.TrimSpace(req.Email)
	if !h.checkCredential(c, email, domain.AttemptRegister) {
		return
	}

	identity, pair, err := h.registration.Register(c.Request.Context(), email, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
			{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
		}, http.StatusInternalServerError, "registration failed")
		return
	}

	c.JSON(http.StatusCreated, newTokenResponse(pair, identity, time.Now().UTC()))
}

func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	email := strings.TrimSpace(req.Email)
	if !h.checkCredential(c, email, domain.AttemptLogin) {
		return
	}

	pair, identity, status, err := h.auth.Login(c.Request.Context(), email, req.Password)
	if err != nil {
		switch {
		case status.Locked:
			middleware.RespondLocked(c, status)
		case errors.Is(err, usecase.ErrAccountSuspended):
			c.JSON(http.StatusForbidden, NewErrorResponse(c, "account suspended"))
		case errors.Is(err, usecase.ErrInvalidCredentials):
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":            "invalid credentials",
				"requires_captcha": status.RequiresCaptcha,
				"trace_id":         middleware.GetTraceID(c),
			})
		default:
			c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "login failed"))
		}
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(pair, *identity, time.Now().UTC()))
}

func (h *AuthHandler) refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh token is required"))
		return
	}

	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusUnauthorized, Message: "invalid refresh token"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token expired"},
			{Err: usecase.ErrRevokedRefreshToken, Status: http.StatusUnauthorized, Message: "refresh token revoked"},
			{Err: usecase.ErrAccountSuspended, Status: http.StatusForbidden, Message: "account suspended"},
		}, http.StatusInternalServerError, "token refresh failed")
		return
	}

	now := time.Now().UTC()
	c.JSON(http.StatusOK, RefreshResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(pair.ExpiresAt.Sub(now).Seconds()),
	})
}

func (h *AuthHandler) logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "refresh token is required"))
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "logout failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

// forgotPassword always answers 200 so the endpoint cannot be used to probe
// which emails hold accounts.
func (h *AuthHandler) forgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	if err := h.reset.Request(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "request failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "if the email exists, a reset link has been sent"})
}

func (h *AuthHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token and new password are required"))
		return
	}

	if err := h.reset.Reset(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrResetTokenInvalid, Status: http.StatusBadRequest, Message: "reset token invalid or expired"},
			{Err: usecase.ErrPasswordPolicyViolation, Status: http.StatusBadRequest, Message: "password does not meet requirements"},
		}, http.StatusInternalServerError, "password reset failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}

func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req VerifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	if err := h.registration.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: usecase.ErrInvalidRefreshToken, Status: http.StatusBadRequest, Message: "verification token invalid"},
			{Err: usecase.ErrExpiredRefreshToken, Status: http.StatusBadRequest, Message: "verification token expired"},
		}, http.StatusInternalServerError, "verification failed")
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email verified"})
}

// resendVerification always answers 200, same as forgotPassword.
func (h *AuthHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "email is required"))
		return
	}

	if err := h.registration.ResendVerification(c.Request.Context(), req.Email); err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "request failed"))
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "if the email exists, a verification link has been sent"})
}

// checkCredential runs the post-binding lockout check and writes the 429 on
// denial. Reports whether the request may proceed.
func (h *AuthHandler) checkCredential(c *gin.Context, identifier string, attemptType domain.AttemptType) bool {
	verdict, err := h.gateway.CheckCredential(c.Request.Context(), identifier, attemptType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "authorization failed"))
		return false
	}
	if !verdict.Allowed {
		middleware.RespondLocked(c, verdict.Lockout)
		return false
	}
	return true
}
