package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

type MockSessionGuard struct {
	mock.Mock
}

func (m *MockSessionGuard) Login(ctx context.Context, identifier, secret string) (*models.Session, error) {
	args := m.Called(ctx, identifier, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionGuard) Logout(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockSessionGuard) CheckAuthorization(ctx context.Context, err error) Verdict {
	args := m.Called(ctx, err)
	return args.Get(0).(Verdict)
}

func (m *MockSessionGuard) CheckSession(ctx context.Context) (*models.Session, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockSessionGuard) Refresh(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *MockSessionGuard) RefreshFrom(ctx context.Context, staleToken string) bool {
	return m.Called(ctx, staleToken).Bool(0)
}

func (m *MockSessionGuard) AccessToken(ctx context.Context) (string, bool) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1)
}

func (m *MockSessionGuard) Permissions(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSessionGuard) Identity(ctx context.Context) (*models.Identity, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Identity), args.Error(1)
}

func newAuthRouter(guard SessionGuard) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewAuthHandlers(guard, zap.NewNop())
	r := gin.New()
	r.POST("/api/auth/login", h.Login)
	r.POST("/api/auth/logout", h.Logout)
	r.GET("/api/auth/identity", h.Identity)
	r.GET("/api/auth/permissions", h.Permissions)
	r.GET("/api/protected", h.RequireSession(), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestLoginHandler(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		guard := new(MockSessionGuard)
		guard.On("Login", mock.Anything, "alice@clinic.test", "pw").
			Return(&models.Session{UserName: "Alice", Role: "Admin", UserID: 42}, nil).Once()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"alice@clinic.test","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json")
		newAuthRouter(guard).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"identity":{"id":42,"fullName":"Alice"},"permissions":"Admin"}`, w.Body.String())
		guard.AssertExpectations(t)
	})

	t.Run("MissingFields", func(t *testing.T) {
		guard := new(MockSessionGuard)

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":""}`))
		req.Header.Set("Content-Type", "application/json")
		newAuthRouter(guard).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		guard.AssertNotCalled(t, "Login", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("NonAdmin", func(t *testing.T) {
		guard := new(MockSessionGuard)
		guard.On("Login", mock.Anything, "bob@clinic.test", "pw").Return(nil, models.ErrUnauthorized).Once()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"bob@clinic.test","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json")
		newAuthRouter(guard).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("BadCredentials", func(t *testing.T) {
		guard := new(MockSessionGuard)
		guard.On("Login", mock.Anything, "x@clinic.test", "pw").Return(nil, models.ErrAuthenticationFailure).Once()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"x@clinic.test","password":"pw"}`))
		req.Header.Set("Content-Type", "application/json")
		newAuthRouter(guard).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	guard := new(MockSessionGuard)
	guard.On("Logout", mock.Anything).Once()

	w := httptest.NewRecorder()
	newAuthRouter(guard).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	guard.AssertExpectations(t)
}

func TestIdentityAndPermissionsHandlers(t *testing.T) {
	guard := new(MockSessionGuard)
	guard.On("Identity", mock.Anything).Return(&models.Identity{ID: 1, FullName: "Root"}, nil).Once()
	guard.On("Permissions", mock.Anything).Return("", models.ErrNoSession).Once()
	r := newAuthRouter(guard)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/identity", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":1,"fullName":"Root"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/permissions", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireSession(t *testing.T) {
	t.Run("Allows", func(t *testing.T) {
		guard := new(MockSessionGuard)
		guard.On("CheckSession", mock.Anything).Return(&models.Session{Role: "Admin"}, nil).Once()

		w := httptest.NewRecorder()
		newAuthRouter(guard).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/protected", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Expired", func(t *testing.T) {
		guard := new(MockSessionGuard)
		guard.On("CheckSession", mock.Anything).Return(nil, models.ErrSessionExpired).Once()

		w := httptest.NewRecorder()
		newAuthRouter(guard).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/protected", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
