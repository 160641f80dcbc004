package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload issued at login.
type Claims struct {
	jwt.RegisteredClaims
	TenantID  string `json:"tenant_id"`
	Role      Role   `json:"role"`
	Username  string `json:"username"`
	Name      string `json:"name,omitempty"`
	DoctorID  string `json:"doctor_id,omitempty"`
	SessionID string `json:"sid,omitempty"`
}

// TokenIssuer signs and validates HS256 access tokens. Tokens bound to a
// session stop validating once that session is revoked.
type TokenIssuer struct {
	key     []byte
	issuer  string
	ttl     time.Duration
	now     func() time.Time
	revoked *RevocationList
}

// NewTokenIssuer creates a TokenIssuer.
func NewTokenIssuer(signingKey []byte, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: signingKey, issuer: issuer, ttl: ttl, now: time.Now, revoked: NewRevocationList()}
}

// Revoke invalidates every token issued for sessionID.
func (t *TokenIssuer) Revoke(sessionID string) {
	t.revoked.Revoke(sessionID, t.now().Add(t.ttl))
}

// Issue signs a token for id and returns it with its expiry.
func (t *TokenIssuer) Issue(id Identity) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		TenantID:  id.TenantID,
		Role:      id.Role,
		Username:  id.Username,
		Name:      id.Name,
		DoctorID:  id.DoctorID,
		SessionID: id.SessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates a token and returns the identity it carries.
func (t *TokenIssuer) Parse(token string) (Identity, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if claims.TenantID == "" || !claims.Role.Valid() {
		return Identity{}, fmt.Errorf("invalid token: missing tenant or role")
	}
	if t.revoked.IsRevoked(claims.SessionID) {
		return Identity{}, fmt.Errorf("invalid token: session ended")
	}
	return Identity{
		SubjectID: claims.Subject,
		TenantID:  claims.TenantID,
		Role:      claims.Role,
		Username:  claims.Username,
		Name:      claims.Name,
		DoctorID:  claims.DoctorID,
		SessionID: claims.SessionID,
	}, nil
}
