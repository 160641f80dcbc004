package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

// LoginResult is returned by every successful login.
type LoginResult struct {
	Identity  auth.Identity
	Patient   *PatientMatch
	Token     string
	SessionID string
	ExpiresAt time.Time
}

type Service struct {
	resolver *Resolver
	sessions *SessionService
	tokens   *auth.TokenIssuer
	logger   zerolog.Logger
}

func NewService(resolver *Resolver, sessions *SessionService, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{resolver: resolver, sessions: sessions, tokens: tokens, logger: logger}
}

func (s *Service) StaffLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	acct, tenantID, err := s.resolver.ResolveStaffLogin(ctx, username, password)
	if err != nil {
		s.loginFailed("staff", NormalizeUsername(username), err)
		return nil, err
	}
	return s.issue(ctx, IssueIdentity(acct, tenantID))
}

func (s *Service) PatientLogin(ctx context.Context, identifier, password string) (*LoginResult, error) {
	m, err := s.resolver.ResolvePatientLogin(ctx, identifier, password)
	if err != nil {
		s.loginFailed("patient", NormalizeUsername(identifier), err)
		return nil, err
	}
	res, err := s.issue(ctx, PatientIdentity(m))
	if err != nil {
		return nil, err
	}
	res.Patient = m
	return res, nil
}

func (s *Service) OwnerLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	o, tenantID, err := s.resolver.ResolveOwnerLogin(ctx, email, password)
	if err != nil {
		s.loginFailed("owner", NormalizeUsername(email), err)
		return nil, err
	}
	return s.issue(ctx, OwnerIdentity(o, tenantID))
}

// Logout ends the session bound to id, if any, and with it every bearer
// token issued for that session.
func (s *Service) Logout(ctx context.Context, id auth.Identity) error {
	s.tokens.Revoke(id.SessionID)
	return s.sessions.Delete(ctx, id.SessionID)
}

func (s *Service) issue(ctx context.Context, id auth.Identity) (*LoginResult, error) {
	sessionID, err := s.sessions.Create(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", id.TenantID).Msg("session creation failed")
		return nil, err
	}
	id.SessionID = sessionID
	token, exp, err := s.tokens.Issue(id)
	if err != nil {
		s.logger.Error().Err(err).Str("tenant_id", id.TenantID).Msg("token issue failed")
		return nil, fmt.Errorf("issue token: %w", err)
	}
	s.logger.Info().
		Str("tenant_id", id.TenantID).
		Str("role", string(id.Role)).
		Str("subject", id.SubjectID).
		Msg("login succeeded")
	return &LoginResult{Identity: id, Token: token, SessionID: sessionID, ExpiresAt: exp}, nil
}

func (s *Service) loginFailed(kind, who string, err error) {
	if errors.Is(err, errs.ErrStoreUnavailable) {
		return
	}
	s.logger.Warn().Str("kind", kind).Str("identifier", who).Str("reason", err.Error()).Msg("login failed")
}
