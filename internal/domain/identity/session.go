package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/docstore"
)

// SessionRepository persists sessions. Get returns errs.ErrNotFound for an
// unknown id; Delete of an unknown id is not an error.
type SessionRepository interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

func SessionPath(id string) string { return docstore.Join("sessions", docstore.EscapeKey(id)) }

// DocstoreSessionRepo keeps sessions at sessions/{id} in the document store.
type DocstoreSessionRepo struct {
	store docstore.Store
}

func NewDocstoreSessionRepo(store docstore.Store) *DocstoreSessionRepo {
	return &DocstoreSessionRepo{store: store}
}

func (r *DocstoreSessionRepo) Save(ctx context.Context, s *Session) error {
	return r.store.Set(ctx, SessionPath(s.ID), s)
}

func (r *DocstoreSessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	s := &Session{}
	if err := docstore.GetInto(ctx, r.store, SessionPath(id), s); err != nil {
		return nil, err
	}
	s.ID = id
	return s, nil
}

func (r *DocstoreSessionRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return r.store.Update(ctx, SessionPath(id), map[string]any{"lastActivity": at})
}

func (r *DocstoreSessionRepo) Delete(ctx context.Context, id string) error {
	return r.store.Remove(ctx, SessionPath(id))
}

// AccountCheck reports whether the account a session belongs to may still
// use it.
type AccountCheck func(ctx context.Context, id auth.Identity) (bool, error)

// SessionService creates and validates server-side sessions. A session
// expires at a fixed time; activity only refreshes lastActivity.
type SessionService struct {
	repo   SessionRepository
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
	check  AccountCheck
}

func NewSessionService(repo SessionRepository, ttl time.Duration, logger zerolog.Logger) *SessionService {
	return &SessionService{repo: repo, ttl: ttl, now: time.Now, logger: logger}
}

// SetAccountCheck makes Lookup end sessions whose account fails check, such
// as a deactivated login.
func (s *SessionService) SetAccountCheck(check AccountCheck) {
	s.check = check
}

// Create stores a new session for id and returns its opaque session id.
func (s *SessionService) Create(ctx context.Context, id auth.Identity) (string, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		SubjectID:    id.SubjectID,
		TenantID:     id.TenantID,
		Role:         id.Role,
		Username:     id.Username,
		Name:         id.Name,
		DoctorID:     id.DoctorID,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		LastActivity: now,
	}
	if err := s.repo.Save(ctx, sess); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return sess.ID, nil
}

// Get returns a live session. Expired sessions are deleted and reported as
// not found.
func (s *SessionService) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: %w", errs.ErrNotFound)
	}
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if now.After(sess.ExpiresAt) {
		if err := s.repo.Delete(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Msg("failed to delete expired session")
		}
		return nil, fmt.Errorf("session expired: %w", errs.ErrNotFound)
	}
	if err := s.repo.Touch(ctx, id, now); err != nil {
		s.logger.Warn().Err(err).Str("session_id", id).Msg("failed to refresh session activity")
	} else {
		sess.LastActivity = now
	}
	return sess, nil
}

// Delete removes a session. Unknown ids are ignored.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return s.repo.Delete(ctx, id)
}

// Lookup implements auth.SessionLookup. With an account check set, the
// session of a disabled or removed account is deleted and not found.
func (s *SessionService) Lookup(ctx context.Context, id string) (auth.Identity, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return auth.Identity{}, err
	}
	ident := sess.Identity()
	if s.check == nil {
		return ident, nil
	}
	ok, err := s.check(ctx, ident)
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", id).Msg("account check failed")
		return auth.Identity{}, fmt.Errorf("account check: %w", errs.ErrStoreUnavailable)
	}
	if !ok {
		if err := s.repo.Delete(ctx, id); err != nil {
			s.logger.Error().Err(err).Str("session_id", id).Msg("failed to delete session of disabled account")
		}
		s.logger.Warn().Str("tenant_id", ident.TenantID).Str("username", ident.Username).Msg("session ended for disabled account")
		return auth.Identity{}, fmt.Errorf("account disabled: %w", errs.ErrNotFound)
	}
	return ident, nil
}
