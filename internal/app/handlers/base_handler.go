package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

type BaseHandler struct {
	Logger *zap.Logger
}

func NewBaseHandler(logger *zap.Logger) *BaseHandler {
	return &BaseHandler{Logger: logger}
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// StatusFor maps domain errors onto HTTP statuses.
func StatusFor(err error) int {
	var httpErr *models.HTTPError
	switch {
	case errors.Is(err, models.ErrNoSession),
		errors.Is(err, models.ErrSessionExpired),
		errors.Is(err, models.ErrAuthenticationFailure),
		errors.Is(err, models.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInvalidField):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownResource):
		return http.StatusNotFound
	case errors.Is(err, models.ErrMissingIdentifier):
		return http.StatusBadGateway
	case errors.As(err, &httpErr):
		return httpErr.Status
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err as JSON. Backend bodies are never forwarded, only
// their extracted message.
func (h *BaseHandler) RespondError(c *gin.Context, err error) {
	status := StatusFor(err)
	msg := err.Error()

	var httpErr *models.HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		msg = httpErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
		if httpErr == nil {
			msg = http.StatusText(status)
		}
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Status: status})
}
