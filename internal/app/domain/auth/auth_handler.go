package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/handlers"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

// LoginResponse is returned after a successful login.
type LoginResponse struct {
	Identity    models.Identity `json:"identity"`
	Permissions string          `json:"permissions"`
}

type AuthHandlers struct {
	*handlers.BaseHandler
	guard SessionGuard
}

func NewAuthHandlers(guard SessionGuard, logger *zap.Logger) *AuthHandlers {
	return &AuthHandlers{
		BaseHandler: handlers.NewBaseHandler(logger),
		guard:       guard,
	}
}

func (h *AuthHandlers) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Logger.Warn("Invalid login payload", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadRequest, handlers.ErrorResponse{
			Error:  "email and password are required",
			Status: http.StatusBadRequest,
		})
		return
	}

	sess, err := h.guard.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Identity:    models.Identity{ID: sess.UserID, FullName: sess.UserName},
		Permissions: sess.Role,
	})
}

func (h *AuthHandlers) Logout(c *gin.Context) {
	h.guard.Logout(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *AuthHandlers) Identity(c *gin.Context) {
	identity, err := h.guard.Identity(c.Request.Context())
	if err != nil {
		h.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (h *AuthHandlers) Permissions(c *gin.Context) {
	role, err := h.guard.Permissions(c.Request.Context())
	if err != nil {
		h.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": role})
}

// RequireSession rejects requests when no usable admin session exists.
func (h *AuthHandlers) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := h.guard.CheckSession(c.Request.Context()); err != nil {
			h.RespondError(c, err)
			return
		}
		c.Next()
	}
}
