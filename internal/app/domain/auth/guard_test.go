package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/session"
	"github.com/FACorreiaa/clinic-admin/internal/app/domain/transport"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

// fakeBackend serves the two auth endpoints.
type fakeBackend struct {
	t            *testing.T
	loginStatus  int
	loginBody    any
	refreshCalls int32
	refreshDelay time.Duration
	refreshBody  func(n int32) (int, any)
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/auth/login":
		var body models.LoginRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		status := f.loginStatus
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(f.loginBody)
	case "/api/auth/refresh-token":
		n := atomic.AddInt32(&f.refreshCalls, 1)
		if f.refreshDelay > 0 {
			time.Sleep(f.refreshDelay)
		}
		status, body := f.refreshBody(n)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestGuard(t *testing.T, backend *fakeBackend) (*Guard, *session.Store) {
	t.Helper()
	backend.t = t
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	kv, err := session.NewCacheKV(zap.NewNop())
	require.NoError(t, err)
	store := session.NewStore(kv, "auth", zap.NewNop())

	doer := transport.NewHTTPDoer(srv.URL+"/api", 2*time.Second, zap.NewNop())
	return NewGuard(store, doer, "Admin", zap.NewNop()), store
}

func adminToken(t *testing.T, exp time.Time) string {
	return signToken(t, jwt.MapClaims{msRoleClaim: "Admin", msNameIDClaim: "42", "exp": exp.Unix()})
}

func TestGuardLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		access := adminToken(t, time.Now().Add(time.Hour))
		guard, store := newTestGuard(t, &fakeBackend{loginBody: models.AuthEnvelope{
			Success: true, UserName: "Alice", AccessToken: access, RefreshToken: "r1",
		}})

		sess, err := guard.Login(ctx, "alice@clinic.test", "pw")
		require.NoError(t, err)
		assert.Equal(t, &models.Session{AccessToken: access, RefreshToken: "r1", UserName: "Alice", Role: "Admin", UserID: 42}, sess)

		stored, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, sess, stored)

		identity, err := guard.Identity(ctx)
		require.NoError(t, err)
		assert.Equal(t, &models.Identity{ID: 42, FullName: "Alice"}, identity)

		role, err := guard.Permissions(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Admin", role)
	})

	t.Run("NonAdminIsRejectedAndNothingStored", func(t *testing.T) {
		access := signToken(t, jwt.MapClaims{"role": "Doctor", "sub": "3"})
		guard, store := newTestGuard(t, &fakeBackend{loginBody: models.AuthEnvelope{
			Success: true, UserName: "Bob", AccessToken: access, RefreshToken: "r",
		}})

		_, err := guard.Login(ctx, "bob@clinic.test", "pw")
		assert.ErrorIs(t, err, models.ErrUnauthorized)

		_, err = store.Load(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("BackendSaysNo", func(t *testing.T) {
		guard, _ := newTestGuard(t, &fakeBackend{loginBody: models.AuthEnvelope{
			Success: false, Errors: []string{"Invalid email or password"},
		}})

		_, err := guard.Login(ctx, "x@clinic.test", "bad")
		assert.ErrorIs(t, err, models.ErrAuthenticationFailure)
		assert.Contains(t, err.Error(), "Invalid email or password")
	})

	t.Run("NonSuccessStatus", func(t *testing.T) {
		guard, _ := newTestGuard(t, &fakeBackend{
			loginStatus: http.StatusBadRequest,
			loginBody:   models.AuthEnvelope{Errors: []string{"Account locked"}},
		})

		_, err := guard.Login(ctx, "x@clinic.test", "pw")
		assert.ErrorIs(t, err, models.ErrAuthenticationFailure)
		assert.Contains(t, err.Error(), "Account locked")
	})

	t.Run("UndecodableToken", func(t *testing.T) {
		guard, _ := newTestGuard(t, &fakeBackend{loginBody: models.AuthEnvelope{
			Success: true, AccessToken: "opaque", RefreshToken: "r",
		}})

		_, err := guard.Login(ctx, "x@clinic.test", "pw")
		assert.ErrorIs(t, err, models.ErrInvalidToken)
	})
}

func TestGuardLogout(t *testing.T) {
	ctx := context.Background()
	guard, store := newTestGuard(t, &fakeBackend{})
	require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "a", Role: "Admin"}))

	guard.Logout(ctx)
	guard.Logout(ctx)

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrNoSession)
}

func TestGuardRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessStoresNewClaims", func(t *testing.T) {
		fresh := signToken(t, jwt.MapClaims{"role": "Admin", "sub": "7", "exp": time.Now().Add(time.Hour).Unix()})
		guard, store := newTestGuard(t, &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusOK, models.AuthEnvelope{Success: true, AccessToken: fresh, RefreshToken: "r2"}
		}})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "old", RefreshToken: "r1", UserName: "Alice", Role: "Admin", UserID: 42}))

		assert.True(t, guard.Refresh(ctx))

		sess, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, fresh, sess.AccessToken)
		assert.Equal(t, "r2", sess.RefreshToken)
		assert.Equal(t, int64(7), sess.UserID)
		assert.Equal(t, "Alice", sess.UserName)
	})

	t.Run("FailureClears", func(t *testing.T) {
		guard, store := newTestGuard(t, &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusUnauthorized, map[string]any{"message": "refresh token revoked"}
		}})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "old", RefreshToken: "r1", Role: "Admin"}))

		assert.False(t, guard.Refresh(ctx))
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("WithoutSession", func(t *testing.T) {
		backend := &fakeBackend{refreshBody: func(int32) (int, any) { return http.StatusOK, nil }}
		guard, _ := newTestGuard(t, backend)

		assert.False(t, guard.Refresh(ctx))
		assert.Equal(t, int32(0), atomic.LoadInt32(&backend.refreshCalls))
	})

	t.Run("ConcurrentCallersShareOneRequest", func(t *testing.T) {
		fresh := adminToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{
			refreshDelay: 50 * time.Millisecond,
			refreshBody: func(int32) (int, any) {
				return http.StatusOK, models.AuthEnvelope{Success: true, AccessToken: fresh, RefreshToken: "r2"}
			},
		}
		guard, store := newTestGuard(t, backend)
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "stale", RefreshToken: "r1", Role: "Admin"}))

		var wg sync.WaitGroup
		results := make([]bool, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = guard.RefreshFrom(ctx, "stale")
			}(i)
		}
		wg.Wait()

		for _, ok := range results {
			assert.True(t, ok)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	})

	t.Run("AlreadyRefreshedSkipsNetwork", func(t *testing.T) {
		backend := &fakeBackend{refreshBody: func(int32) (int, any) { return http.StatusOK, nil }}
		guard, store := newTestGuard(t, backend)
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "newer", RefreshToken: "r", Role: "Admin"}))

		assert.True(t, guard.RefreshFrom(ctx, "older"))
		assert.Equal(t, int32(0), atomic.LoadInt32(&backend.refreshCalls))
	})
}

func TestGuardCheckAuthorization(t *testing.T) {
	ctx := context.Background()
	unauthorized := &models.HTTPError{Status: http.StatusUnauthorized}
	forbidden := &models.HTTPError{Status: http.StatusForbidden}

	t.Run("401WithWorkingRefresh", func(t *testing.T) {
		fresh := adminToken(t, time.Now().Add(time.Hour))
		guard, store := newTestGuard(t, &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusOK, models.AuthEnvelope{Success: true, AccessToken: fresh, RefreshToken: "r2"}
		}})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "a", RefreshToken: "r", Role: "Admin"}))

		assert.Equal(t, VerdictRetry, guard.CheckAuthorization(ctx, unauthorized))
	})

	t.Run("401WithFailingRefresh", func(t *testing.T) {
		guard, store := newTestGuard(t, &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusBadRequest, nil
		}})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "a", RefreshToken: "r", Role: "Admin"}))

		assert.Equal(t, VerdictReauthenticate, guard.CheckAuthorization(ctx, unauthorized))
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("401AfterSpentRefreshDoesNotRefreshAgain", func(t *testing.T) {
		backend := &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusOK, models.AuthEnvelope{Success: true, AccessToken: adminToken(t, time.Now().Add(time.Hour))}
		}}
		guard, store := newTestGuard(t, backend)
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "a", RefreshToken: "r", Role: "Admin"}))

		spent := fmt.Errorf("%w: %w", models.ErrRefreshFailure, unauthorized)
		assert.Equal(t, VerdictReauthenticate, guard.CheckAuthorization(ctx, spent))
		assert.Equal(t, int32(0), atomic.LoadInt32(&backend.refreshCalls))
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("403Clears", func(t *testing.T) {
		guard, store := newTestGuard(t, &fakeBackend{})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "a", Role: "Admin"}))

		assert.Equal(t, VerdictReauthenticate, guard.CheckAuthorization(ctx, forbidden))
		_, err := store.Load(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("OtherErrorsIgnored", func(t *testing.T) {
		guard, store := newTestGuard(t, &fakeBackend{})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: "a", Role: "Admin"}))

		assert.Equal(t, VerdictIgnore, guard.CheckAuthorization(ctx, &models.HTTPError{Status: http.StatusInternalServerError}))
		assert.Equal(t, VerdictIgnore, guard.CheckAuthorization(ctx, errors.New("dial tcp: refused")))
		_, err := store.Load(ctx)
		assert.NoError(t, err)
	})
}

func TestGuardCheckSession(t *testing.T) {
	ctx := context.Background()

	t.Run("NoSession", func(t *testing.T) {
		guard, _ := newTestGuard(t, &fakeBackend{})
		_, err := guard.CheckSession(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("RoleMismatchClears", func(t *testing.T) {
		guard, store := newTestGuard(t, &fakeBackend{})
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: adminToken(t, time.Now().Add(time.Hour)), Role: "Doctor"}))

		_, err := guard.CheckSession(ctx)
		assert.ErrorIs(t, err, models.ErrUnauthorized)
		_, err = store.Load(ctx)
		assert.ErrorIs(t, err, models.ErrNoSession)
	})

	t.Run("ValidTokenNoNetwork", func(t *testing.T) {
		backend := &fakeBackend{refreshBody: func(int32) (int, any) { return http.StatusOK, nil }}
		guard, store := newTestGuard(t, backend)
		token := adminToken(t, time.Now().Add(time.Hour))
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: token, Role: "Admin"}))

		sess, err := guard.CheckSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, token, sess.AccessToken)
		assert.Equal(t, int32(0), atomic.LoadInt32(&backend.refreshCalls))
	})

	t.Run("ExpiredTokenRefreshesOnce", func(t *testing.T) {
		fresh := adminToken(t, time.Now().Add(time.Hour))
		backend := &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusOK, models.AuthEnvelope{Success: true, AccessToken: fresh, RefreshToken: "r2"}
		}}
		guard, store := newTestGuard(t, backend)
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: adminToken(t, time.Now().Add(-time.Hour)), RefreshToken: "r1", Role: "Admin"}))

		sess, err := guard.CheckSession(ctx)
		require.NoError(t, err)
		assert.Equal(t, fresh, sess.AccessToken)
		assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	})

	t.Run("ExpiredTokenRefreshFails", func(t *testing.T) {
		backend := &fakeBackend{refreshBody: func(int32) (int, any) {
			return http.StatusOK, models.AuthEnvelope{Success: false}
		}}
		guard, store := newTestGuard(t, backend)
		require.NoError(t, store.Save(ctx, &models.Session{AccessToken: adminToken(t, time.Now().Add(-time.Hour)), RefreshToken: "r1", Role: "Admin"}))

		_, err := guard.CheckSession(ctx)
		assert.ErrorIs(t, err, models.ErrSessionExpired)
		assert.ErrorIs(t, err, models.ErrRefreshFailure)
		assert.Equal(t, int32(1), atomic.LoadInt32(&backend.refreshCalls))
	})
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "ignore", VerdictIgnore.String())
	assert.Equal(t, "retry", VerdictRetry.String())
	assert.Equal(t, "reauthenticate", VerdictReauthenticate.String())
}
