package transport

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

// TokenSource yields the current access token, if a session exists.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, bool)
}

// Refresher renews the session that was using staleToken. It returns true
// when a usable token is stored afterwards, including when another caller
// already replaced staleToken.
type Refresher interface {
	RefreshFrom(ctx context.Context, staleToken string) bool
}

// BearerAuth attaches the current access token. Without a session the request
// goes out unauthenticated.
func BearerAuth(next Doer, tokens TokenSource) Doer {
	return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		out := req.Clone()
		if token, ok := tokens.AccessToken(ctx); ok {
			out.Header.Set("Authorization", "Bearer "+token)
		} else {
			out.Header.Del("Authorization")
		}
		return next.Do(ctx, out)
	})
}

// RetryUnauthorized refreshes once on 401 and resends the request. When the
// refresh fails, or the resent request is rejected again, the 401 comes back
// wrapped in models.ErrRefreshFailure so no caller refreshes a second time.
func RetryUnauthorized(next Doer, tokens TokenSource, refresher Refresher, logger *zap.Logger) Doer {
	return DoerFunc(func(ctx context.Context, req *Request) (*Response, error) {
		stale, _ := tokens.AccessToken(ctx)

		resp, err := next.Do(ctx, req)
		if models.StatusOf(err) != http.StatusUnauthorized {
			return resp, err
		}

		l := logger.With(zap.String("method", req.Method), zap.String("path", req.Path))
		if !refresher.RefreshFrom(ctx, stale) {
			l.Info("Refresh after 401 failed, giving up")
			return resp, fmt.Errorf("%w: %w", models.ErrRefreshFailure, err)
		}

		l.Debug("Retrying request with refreshed token")
		resp, err = next.Do(ctx, req)
		if models.StatusOf(err) == http.StatusUnauthorized {
			l.Info("Refreshed token rejected, giving up")
			return resp, fmt.Errorf("%w: %w", models.ErrRefreshFailure, err)
		}
		return resp, err
	})
}

// NewAuthorizedClient wires the decorators in the order requests need them.
func NewAuthorizedClient(base Doer, tokens TokenSource, refresher Refresher, logger *zap.Logger) Doer {
	return RetryUnauthorized(BearerAuth(base, tokens), tokens, refresher, logger)
}
