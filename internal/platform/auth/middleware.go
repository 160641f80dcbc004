package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// SessionHeader carries an opaque session id as an alternative to a bearer token.
const SessionHeader = "X-Session-ID"

// SessionLookup resolves a session id to the identity it was created for.
type SessionLookup interface {
	Lookup(ctx context.Context, sessionID string) (Identity, error)
}

// MiddlewareConfig configures Middleware. Sessions may be nil to accept
// bearer tokens only; when set, a token carrying a session id is accepted
// only while that session is live.
type MiddlewareConfig struct {
	Tokens   *TokenIssuer
	Sessions SessionLookup
}

// Middleware authenticates the request from "Authorization: Bearer <jwt>" or
// the X-Session-ID header and stores the resulting Identity in the request
// context. Tenant scope is taken from the identity only, never from other
// headers or the query string.
func Middleware(cfg MiddlewareConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			var (
				id  Identity
				err error
			)

			authHeader := c.Request().Header.Get("Authorization")
			sessionID := c.Request().Header.Get(SessionHeader)
			switch {
			case authHeader != "":
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
				}
				id, err = cfg.Tokens.Parse(strings.TrimSpace(parts[1]))
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				if id.SessionID != "" && cfg.Sessions != nil {
					live, err := cfg.Sessions.Lookup(ctx, id.SessionID)
					if err != nil || live.TenantID != id.TenantID || live.SubjectID != id.SubjectID {
						return echo.NewHTTPError(http.StatusUnauthorized, "session ended")
					}
				}
			case sessionID != "" && cfg.Sessions != nil:
				id, err = cfg.Sessions.Lookup(ctx, sessionID)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired session")
				}
				id.SessionID = sessionID
			default:
				return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
			}

			// Rate limiting keys on the tenant.
			c.Set("tenant_id", id.TenantID)
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, id)))
			return next(c)
		}
	}
}
