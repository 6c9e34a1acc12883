package models

// Session is the persisted admin principal.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserName     string `json:"userName"`
	Role         string `json:"role"`
	UserID       int64  `json:"userId"`
}

// Claims is the subset of the access token payload the dashboard reads.
type Claims struct {
	Role      string
	Roles     []string
	SubjectID int64
	ExpiresAt int64
}

// HasRole reports whether role was granted, either as the primary role or in
// a multi-valued role claim.
func (c *Claims) HasRole(role string) bool {
	if c == nil {
		return false
	}
	if c.Role == role {
		return true
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Identity is what the dashboard shows for the signed-in user.
type Identity struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
}

// LoginRequest is the backend login body.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is the backend refresh body.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AuthEnvelope is returned by both /auth/login and /auth/refresh-token.
type AuthEnvelope struct {
	Success      bool     `json:"success"`
	UserName     string   `json:"userName"`
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	Errors       []string `json:"errors,omitempty"`
}
