package handlers

import (
	"errors"
	"net/http"

	"github.com/geocoder89/connecthub/internal/http/middlewares"
	"github.com/geocoder89/connecthub/internal/service"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondUnAuthorized(ctx *gin.Context, message string) {
	ctx.Header("WWW-Authenticate", "Bearer")
	RespondError(ctx, http.StatusUnauthorized, "unauthorized", message, nil)
}

func RespondForbidden(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusForbidden, "forbidden", message, nil)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

// RespondServiceError maps service error classes onto HTTP statuses.
// Internal failures never expose their text.
func RespondServiceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		RespondUnAuthorized(ctx, "Could not validate credentials")
	case errors.Is(err, service.ErrForbidden):
		RespondForbidden(ctx, "Not enough permissions")
	case errors.Is(err, service.ErrConflict):
		RespondError(ctx, http.StatusBadRequest, "conflict", publicMessage(err, "Conflict"), nil)
	case errors.Is(err, service.ErrInvalidInput):
		RespondBadRequest(ctx, publicMessage(err, "Invalid input"), nil)
	case errors.Is(err, service.ErrNotFound):
		RespondNotFound(ctx, publicMessage(err, "Not found"))
	default:
		RespondInternal(ctx, "Internal server error")
	}
}

var publicMessages = []struct {
	err error
	msg string
}{
	{service.ErrDuplicateUser, "Username or email already registered"},
	{service.ErrSelfDelete, "Cannot delete your own account"},
	{service.ErrInvalidPassword, "Incorrect password"},
	{service.ErrUserNotFound, "User not found"},
}

func publicMessage(err error, fallback string) string {
	for _, m := range publicMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return fallback
}
