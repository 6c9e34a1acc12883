package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/FACorreiaa/clinic-admin/internal/app/domain/session"
	"github.com/FACorreiaa/clinic-admin/internal/app/domain/transport"
	"github.com/FACorreiaa/clinic-admin/internal/app/models"
	"github.com/FACorreiaa/clinic-admin/internal/app/observability/metrics"
)

const (
	loginPath   = "auth/login"
	refreshPath = "auth/refresh-token"
)

// Verdict tells the caller what to do after a backend error.
type Verdict int

const (
	VerdictIgnore Verdict = iota
	VerdictRetry
	VerdictReauthenticate
)

func (v Verdict) String() string {
	switch v {
	case VerdictRetry:
		return "retry"
	case VerdictReauthenticate:
		return "reauthenticate"
	default:
		return "ignore"
	}
}

// SessionGuard owns the admin session lifecycle.
type SessionGuard interface {
	Login(ctx context.Context, identifier, secret string) (*models.Session, error)
	Logout(ctx context.Context)
	CheckAuthorization(ctx context.Context, err error) Verdict
	CheckSession(ctx context.Context) (*models.Session, error)
	Refresh(ctx context.Context) bool
	RefreshFrom(ctx context.Context, staleToken string) bool
	AccessToken(ctx context.Context) (string, bool)
	Permissions(ctx context.Context) (string, error)
	Identity(ctx context.Context) (*models.Identity, error)
}

var (
	_ SessionGuard          = (*Guard)(nil)
	_ transport.TokenSource = (*Guard)(nil)
	_ transport.Refresher   = (*Guard)(nil)
)

type Guard struct {
	logger  *zap.Logger
	store   *session.Store
	codec   *TokenCodec
	backend transport.Doer
	role    string
	now     func() time.Time
	flight  singleflight.Group
}

// NewGuard talks to backend without bearer decoration; the auth endpoints are anonymous.
func NewGuard(store *session.Store, backend transport.Doer, privilegedRole string, logger *zap.Logger) *Guard {
	return &Guard{
		logger:  logger,
		store:   store,
		codec:   NewTokenCodec(),
		backend: backend,
		role:    privilegedRole,
		now:     time.Now,
	}
}

// Login exchanges credentials for a session. Only the privileged role is let in.
func (g *Guard) Login(ctx context.Context, identifier, secret string) (*models.Session, error) {
	l := g.logger.With(zap.String("method", "Login"), zap.String("email", identifier))
	l.Debug("Attempting login")

	ctx, span := otel.Tracer("clinic-admin").Start(ctx, "Guard.Login", trace.WithAttributes(
		attribute.String("email", identifier),
	))
	defer span.End()

	env, err := g.post(ctx, loginPath, models.LoginRequest{Email: identifier, Password: secret})
	if err != nil {
		l.Warn("Login request rejected", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "login rejected")
		g.countAuth(ctx, "rejected")
		return nil, fmt.Errorf("%w: %s", models.ErrAuthenticationFailure, failureMessage(err))
	}
	if !env.Success {
		msg := "login failed"
		if len(env.Errors) > 0 && env.Errors[0] != "" {
			msg = env.Errors[0]
		}
		l.Warn("Login unsuccessful", zap.String("reason", msg))
		span.SetStatus(codes.Error, "login unsuccessful")
		g.countAuth(ctx, "rejected")
		return nil, fmt.Errorf("%w: %s", models.ErrAuthenticationFailure, msg)
	}

	claims := g.codec.Decode(env.AccessToken)
	if claims == nil {
		l.Warn("Backend issued an unreadable access token")
		span.SetStatus(codes.Error, "invalid token")
		g.countAuth(ctx, "invalid_token")
		return nil, fmt.Errorf("login: %w", models.ErrInvalidToken)
	}
	if !claims.HasRole(g.role) {
		l.Warn("Login denied for non-privileged role", zap.String("role", claims.Role))
		span.SetStatus(codes.Error, "unauthorized role")
		g.countAuth(ctx, "unauthorized")
		return nil, fmt.Errorf("role %q: %w", claims.Role, models.ErrUnauthorized)
	}

	sess := &models.Session{
		AccessToken:  env.AccessToken,
		RefreshToken: env.RefreshToken,
		UserName:     env.UserName,
		Role:         g.role,
		UserID:       claims.SubjectID,
	}
	if err := g.store.Save(ctx, sess); err != nil {
		l.Error("Failed to persist session", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist session failed")
		g.countStoreError(ctx)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	l.Info("Login successful", zap.Int64("userID", sess.UserID))
	span.SetStatus(codes.Ok, "logged in")
	g.countAuth(ctx, "success")
	return sess, nil
}

// Logout never fails from the caller's point of view.
func (g *Guard) Logout(ctx context.Context) {
	if err := g.store.Clear(ctx); err != nil {
		g.countStoreError(ctx)
		g.logger.Error("Failed to clear session on logout", zap.Error(err))
		return
	}
	g.logger.Info("Logged out")
}

// CheckAuthorization reacts to a failed backend call. A 401 that already went
// through a refresh (wrapped in models.ErrRefreshFailure) is not refreshed again.
func (g *Guard) CheckAuthorization(ctx context.Context, err error) Verdict {
	switch models.StatusOf(err) {
	case http.StatusUnauthorized:
		if errors.Is(err, models.ErrRefreshFailure) {
			g.clear(ctx)
			return VerdictReauthenticate
		}
		if g.Refresh(ctx) {
			return VerdictRetry
		}
		g.clear(ctx)
		return VerdictReauthenticate
	case http.StatusForbidden:
		g.clear(ctx)
		return VerdictReauthenticate
	default:
		return VerdictIgnore
	}
}

// CheckSession returns the session if it is usable, refreshing an expired
// access token exactly once.
func (g *Guard) CheckSession(ctx context.Context) (*models.Session, error) {
	l := g.logger.With(zap.String("method", "CheckSession"))

	sess, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrNoSession) {
			g.countStoreError(ctx)
			l.Error("Failed to load session", zap.Error(err))
		}
		return nil, models.ErrNoSession
	}
	if sess.Role != g.role {
		l.Warn("Stored session has a non-privileged role", zap.String("role", sess.Role))
		g.clear(ctx)
		return nil, fmt.Errorf("role %q: %w", sess.Role, models.ErrUnauthorized)
	}
	if !g.codec.IsExpired(sess.AccessToken, g.now()) {
		return sess, nil
	}

	l.Debug("Access token expired, refreshing")
	if !g.RefreshFrom(ctx, sess.AccessToken) {
		return nil, fmt.Errorf("%w: %w", models.ErrSessionExpired, models.ErrRefreshFailure)
	}
	sess, err = g.store.Load(ctx)
	if err != nil {
		return nil, models.ErrSessionExpired
	}
	return sess, nil
}

func (g *Guard) Refresh(ctx context.Context) bool {
	return g.RefreshFrom(ctx, "")
}

// RefreshFrom coalesces concurrent refreshes of the same token. If staleToken
// is set and the stored token already differs, no request is made.
func (g *Guard) RefreshFrom(ctx context.Context, staleToken string) bool {
	sess, err := g.store.Load(ctx)
	if err != nil {
		return false
	}
	if staleToken != "" && sess.AccessToken != staleToken {
		return true
	}

	v, _, _ := g.flight.Do(sess.AccessToken, func() (any, error) {
		return g.refresh(context.WithoutCancel(ctx), sess), nil
	})
	return v.(bool)
}

func (g *Guard) refresh(ctx context.Context, current *models.Session) bool {
	l := g.logger.With(zap.String("method", "Refresh"))

	ctx, span := otel.Tracer("clinic-admin").Start(ctx, "Guard.Refresh")
	defer span.End()

	fail := func(reason string, cause error) bool {
		err := fmt.Errorf("%w: %s", models.ErrRefreshFailure, reason)
		if cause != nil {
			err = fmt.Errorf("%w: %w", err, cause)
		}
		l.Info("Refresh failed, clearing session", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		g.countRefresh(ctx, "failure")
		if _, clearErr := g.store.Replace(ctx, current.AccessToken, nil); clearErr != nil {
			g.countStoreError(ctx)
			l.Error("Failed to clear session after refresh failure", zap.Error(clearErr))
		}
		return false
	}

	if current.RefreshToken == "" {
		return fail("no refresh token", nil)
	}

	env, err := g.post(ctx, refreshPath, models.RefreshRequest{RefreshToken: current.RefreshToken})
	if err != nil {
		return fail("refresh rejected", err)
	}
	if !env.Success {
		return fail("refresh unsuccessful", nil)
	}
	claims := g.codec.Decode(env.AccessToken)
	if claims == nil {
		return fail("refreshed token unreadable", nil)
	}

	next := &models.Session{
		AccessToken:  env.AccessToken,
		RefreshToken: env.RefreshToken,
		UserName:     env.UserName,
		Role:         claims.Role,
		UserID:       claims.SubjectID,
	}
	if claims.HasRole(g.role) {
		next.Role = g.role
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.UserName == "" {
		next.UserName = current.UserName
	}

	swapped, err := g.store.Replace(ctx, current.AccessToken, next)
	if err != nil {
		g.countStoreError(ctx)
		return fail("persist refreshed session", err)
	}
	if !swapped {
		// signed out or replaced while the request was in flight
		l.Info("Session changed during refresh, discarding result")
		g.countRefresh(ctx, "discarded")
		return false
	}

	l.Debug("Access token refreshed")
	span.SetStatus(codes.Ok, "refreshed")
	g.countRefresh(ctx, "success")
	return true
}

func (g *Guard) AccessToken(ctx context.Context) (string, bool) {
	sess, err := g.store.Load(ctx)
	if err != nil {
		return "", false
	}
	return sess.AccessToken, true
}

// Permissions returns the stored role when it is the privileged one.
func (g *Guard) Permissions(ctx context.Context) (string, error) {
	sess, err := g.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if sess.Role != g.role {
		return "", fmt.Errorf("role %q: %w", sess.Role, models.ErrUnauthorized)
	}
	return sess.Role, nil
}

func (g *Guard) Identity(ctx context.Context) (*models.Identity, error) {
	sess, err := g.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &models.Identity{ID: sess.UserID, FullName: sess.UserName}, nil
}

func (g *Guard) post(ctx context.Context, path string, body any) (*models.AuthEnvelope, error) {
	req, err := transport.NewJSONRequest(http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := g.backend.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var env models.AuthEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	return &env, nil
}

func (g *Guard) clear(ctx context.Context) {
	if err := g.store.Clear(ctx); err != nil {
		g.countStoreError(ctx)
		g.logger.Error("Failed to clear session", zap.Error(err))
	}
}

func (g *Guard) countAuth(ctx context.Context, outcome string) {
	metrics.Get().AuthRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (g *Guard) countRefresh(ctx context.Context, outcome string) {
	metrics.Get().TokenRefreshesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (g *Guard) countStoreError(ctx context.Context) {
	metrics.Get().SessionStoreErrors.Add(ctx, 1)
}

// failureMessage prefers the backend's own wording for a rejected login.
func failureMessage(err error) string {
	var httpErr *models.HTTPError
	if errors.As(err, &httpErr) {
		var env models.AuthEnvelope
		if json.Unmarshal(httpErr.Body, &env) == nil && len(env.Errors) > 0 && env.Errors[0] != "" {
			return env.Errors[0]
		}
		if httpErr.Message != "" {
			return httpErr.Message
		}
		return http.StatusText(httpErr.Status)
	}
	return "backend unreachable"
}
