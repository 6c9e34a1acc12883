package auth

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FACorreiaa/clinic-admin/internal/app/models"
)

const (
	msRoleClaim     = "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"
	msNameIDClaim   = "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier"
	shortRoleClaim  = "role"
	shortSubjectKey = "sub"
)

// TokenCodec reads claims out of backend-issued access tokens. It never
// verifies signatures; the backend does that on every call.
type TokenCodec struct {
	parser *jwt.Parser
}

func NewTokenCodec() *TokenCodec {
	return &TokenCodec{parser: jwt.NewParser(jwt.WithJSONNumber())}
}

// Decode returns nil for anything that is not a readable JWT.
func (c *TokenCodec) Decode(token string) *models.Claims {
	if token == "" {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := c.parser.ParseUnverified(token, claims); err != nil {
		return nil
	}

	out := &models.Claims{Roles: roles(claims[msRoleClaim])}
	if len(out.Roles) == 0 {
		out.Roles = roles(claims[shortRoleClaim])
	}
	if len(out.Roles) > 0 {
		out.Role = out.Roles[0]
	}

	subject := claims[msNameIDClaim]
	if subject == nil {
		subject = claims[shortSubjectKey]
	}
	out.SubjectID = toInt64(subject)
	out.ExpiresAt = toInt64(claims["exp"])

	return out
}

// IsExpired treats undecodable tokens as expired. Tokens without exp never expire.
func (c *TokenCodec) IsExpired(token string, now time.Time) bool {
	claims := c.Decode(token)
	if claims == nil {
		return true
	}
	if claims.ExpiresAt == 0 {
		return false
	}
	return claims.ExpiresAt < now.Unix()
}

// roles handles role claims issued as either a string or an array.
func roles(v any) []string {
	switch val := v.(type) {
	case string:
		if val != "" {
			return []string{val}
		}
	case []any:
		var out []string
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return int64(f)
		}
	case float64:
		return int64(val)
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return 0
}
