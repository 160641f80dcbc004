// Package tenant provisions clinics and their accounts: tenant registration
// with the owner and fixed staff logins, doctors, patients, portal patients,
// and password administration.
package tenant

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/domain/identity"
	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/notification"
	"github.com/mediclo/mediclo/internal/platform/passhash"
)

const maxPrefixAttempts = 50

type Service struct {
	repo     *identity.Repository
	hasher   identity.PasswordHasher
	events   notification.Publisher
	logger   zerolog.Logger
	now      func() time.Time
	password func(n int) (string, error)
}

func NewService(repo *identity.Repository, hasher identity.PasswordHasher, events notification.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		hasher:   hasher,
		events:   events,
		logger:   logger.With().Str("component", "tenant").Logger(),
		now:      time.Now,
		password: passhash.RandomPassword,
	}
}

// Register creates a tenant, its owner and the receptionist, lab and
// pharmacy accounts. The generated staff passwords are returned once.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	name := strings.TrimSpace(req.Name)
	email := identity.NormalizeUsername(req.OwnerEmail)
	if name == "" {
		return nil, fmt.Errorf("clinic name is required: %w", errs.ErrInvalidInput)
	}
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("a valid owner email is required: %w", errs.ErrInvalidInput)
	}
	if err := checkPassword(req.OwnerPassword); err != nil {
		return nil, err
	}

	if _, err := s.repo.LookupOwner(ctx, email); err == nil {
		return nil, fmt.Errorf("owner email already registered: %w", errs.ErrConflict)
	} else if !isNotFound(err) {
		return nil, s.storeFailure(err, "owner index")
	}

	prefix, err := s.uniquePrefix(ctx, identity.DerivePrefix(name))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	t := &identity.Tenant{
		ID:         uuid.NewString(),
		Name:       name,
		Prefix:     prefix,
		OwnerEmail: email,
		CreatedAt:  now,
		IsActive:   true,
	}
	ownerHash, err := s.hasher.Hash(req.OwnerPassword)
	if err != nil {
		return nil, err
	}
	ownerName := strings.TrimSpace(req.OwnerName)
	if ownerName == "" {
		ownerName = name
	}

	if err := s.repo.SaveTenant(ctx, t); err != nil {
		return nil, s.storeFailure(err, "save tenant")
	}
	if err := s.repo.SaveOwner(ctx, t.ID, &identity.Owner{Email: email, PasswordHash: ownerHash, Name: ownerName, IsActive: true}); err != nil {
		return nil, s.storeFailure(err, "save owner")
	}
	if err := s.repo.IndexOwner(ctx, email, t.ID); err != nil {
		return nil, s.storeFailure(err, "index owner")
	}
	if err := s.repo.IndexPrefix(ctx, prefix, t.ID); err != nil {
		return nil, s.storeFailure(err, "index prefix")
	}

	reg := &Registration{TenantID: t.ID, Name: name, Prefix: prefix, OwnerEmail: email}
	for _, role := range auth.StaffRoles {
		cred, err := s.createStaff(ctx, t.ID, prefix, role, now)
		if err != nil {
			return nil, err
		}
		reg.Credentials = append(reg.Credentials, *cred)
	}

	s.logger.Info().Str("tenant_id", t.ID).Str("prefix", prefix).Msg("tenant registered")
	notification.Emit(ctx, s.events, s.logger, notification.Event{
		Type:     notification.TenantRegistered,
		TenantID: t.ID,
		Subject:  email,
		Data:     map[string]any{"name": name, "prefix": prefix},
	})
	return reg, nil
}

// uniquePrefix appends a random two digit suffix to base until no tenant has
// claimed the result in the prefix index.
func (s *Service) uniquePrefix(ctx context.Context, base string) (string, error) {
	candidate := base
	for i := 0; i < maxPrefixAttempts; i++ {
		_, err := s.repo.LookupPrefix(ctx, candidate)
		if isNotFound(err) {
			return candidate, nil
		}
		if err != nil {
			return "", s.storeFailure(err, "prefix index")
		}
		n, err := rand.Int(rand.Reader, big.NewInt(100))
		if err != nil {
			return "", fmt.Errorf("prefix suffix: %w", err)
		}
		candidate = fmt.Sprintf("%s%02d", base, n.Int64())
	}
	return "", fmt.Errorf("no free prefix for %q: %w", base, errs.ErrConflict)
}

func (s *Service) createStaff(ctx context.Context, tenantID, prefix string, role auth.Role, now time.Time) (*Credential, error) {
	username := prefix + "@" + string(role)
	pw, err := s.password(generatedPasswordLen)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}
	acct := &identity.Account{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Name:         strings.ToUpper(string(role[:1])) + string(role[1:]),
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := s.repo.SaveAccount(ctx, tenantID, acct); err != nil {
		return nil, s.storeFailure(err, "save account")
	}
	if err := s.repo.IndexUsername(ctx, username, identity.UsernameIndex{TenantID: tenantID, Role: role}); err != nil {
		return nil, s.storeFailure(err, "index username")
	}
	return &Credential{Username: username, Role: role, Password: pw}, nil
}

// tenantPrefix reconstructs the prefix used for new usernames of a tenant.
func (s *Service) tenantPrefix(ctx context.Context, tenantID string) (string, error) {
	t, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("tenant %s: %w", tenantID, errs.ErrNotFound)
		}
		return "", s.storeFailure(err, "load tenant")
	}
	staff, err := s.repo.StaffUsernames(ctx, tenantID)
	if err != nil {
		return "", s.storeFailure(err, "load staff")
	}
	return identity.TenantPrefix(t, staff), nil
}

// AddDoctor creates a doctor profile and its "<prefix>@dr<slug>" login.
func (s *Service) AddDoctor(ctx context.Context, caller auth.Identity, req DoctorRequest) (*Credential, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("doctor name is required: %w", errs.ErrInvalidInput)
	}
	prefix, err := s.tenantPrefix(ctx, caller.TenantID)
	if err != nil {
		return nil, err
	}
	seq, err := s.repo.NextSequence(ctx, caller.TenantID, "doctors")
	if err != nil {
		return nil, s.storeFailure(err, "doctor counter")
	}
	doctorID := fmt.Sprintf("D%04d", seq)

	username, err := s.freeDoctorUsername(ctx, caller.TenantID, prefix, doctorSlug(name, doctorID))
	if err != nil {
		return nil, err
	}
	pw, err := s.password(generatedPasswordLen)
	if err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	profile := &Doctor{Name: name, Specialization: strings.TrimSpace(req.Specialization), Fee: req.Fee, Username: username, CreatedAt: now}
	if err := s.repo.SaveDoctorProfile(ctx, caller.TenantID, doctorID, profile); err != nil {
		return nil, s.storeFailure(err, "save doctor")
	}
	acct := &identity.Account{
		Username:     username,
		PasswordHash: hash,
		Role:         auth.RoleDoctor,
		Name:         name,
		IsActive:     true,
		DoctorID:     doctorID,
		CreatedAt:    now,
	}
	if err := s.repo.SaveAccount(ctx, caller.TenantID, acct); err != nil {
		return nil, s.storeFailure(err, "save doctor account")
	}
	if err := s.repo.IndexUsername(ctx, username, identity.UsernameIndex{TenantID: caller.TenantID, Role: auth.RoleDoctor, DoctorID: doctorID}); err != nil {
		return nil, s.storeFailure(err, "index username")
	}
	return &Credential{Username: username, Role: auth.RoleDoctor, Password: pw, DoctorID: doctorID}, nil
}

// doctorSlug turns "Dr. Anita Rao" into "anitarao".
func doctorSlug(name, fallback string) string {
	words := strings.Fields(name)
	if len(words) > 1 {
		if w := identity.Slug(words[0]); w == "dr" || w == "doctor" {
			words = words[1:]
		}
	}
	slug := identity.Slug(strings.Join(words, ""))
	if len(slug) > 12 {
		slug = slug[:12]
	}
	if slug == "" {
		slug = strings.ToLower(fallback)
	}
	return slug
}

// freeDoctorUsername appends a counter to the slug while the username is
// taken by another doctor of the tenant or claimed in the global index.
func (s *Service) freeDoctorUsername(ctx context.Context, tenantID, prefix, slug string) (string, error) {
	doctors, err := s.repo.DoctorAccounts(ctx, tenantID)
	if err != nil {
		return "", s.storeFailure(err, "load doctors")
	}
	taken := make(map[string]bool, len(doctors))
	for _, d := range doctors {
		taken[identity.NormalizeUsername(d.Username)] = true
	}
	for n := 1; ; n++ {
		candidate := prefix + "@dr" + slug
		if n > 1 {
			candidate += strconv.Itoa(n)
		}
		if taken[candidate] {
			continue
		}
		_, err := s.repo.LookupUsername(ctx, candidate)
		if isNotFound(err) {
			return candidate, nil
		}
		if err != nil {
			return "", s.storeFailure(err, "username index")
		}
	}
}

// AddPatient registers a patient with id P%05d and username "<prefix>@p<n>".
// The initial password is the patient's mobile number.
func (s *Service) AddPatient(ctx context.Context, caller auth.Identity, req PatientRequest) (*Credential, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("patient name is required: %w", errs.ErrInvalidInput)
	}
	mobile, err := identity.NormalizeMobile(req.Mobile)
	if err != nil {
		return nil, err
	}
	prefix, err := s.tenantPrefix(ctx, caller.TenantID)
	if err != nil {
		return nil, err
	}
	seq, err := s.repo.NextSequence(ctx, caller.TenantID, "patients")
	if err != nil {
		return nil, s.storeFailure(err, "patient counter")
	}
	hash, err := s.hasher.Hash(mobile)
	if err != nil {
		return nil, err
	}

	p := &identity.Patient{
		ID:      fmt.Sprintf("P%05d", seq),
		Name:    name,
		Mobile:  identity.Mobile(mobile),
		Age:     req.Age,
		Gender:  strings.TrimSpace(req.Gender),
		Address: strings.TrimSpace(req.Address),
		Credentials: identity.PatientCredentials{
			Username:     fmt.Sprintf("%s@p%d", prefix, seq),
			PasswordHash: hash,
		},
		IsActive:  true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.SavePatient(ctx, caller.TenantID, p); err != nil {
		return nil, s.storeFailure(err, "save patient")
	}
	ix := identity.UsernameIndex{TenantID: caller.TenantID, Role: auth.RolePatient, PatientID: p.ID}
	if err := s.repo.IndexUsername(ctx, p.Credentials.Username, ix); err != nil {
		return nil, s.storeFailure(err, "index username")
	}
	if err := s.repo.IndexMobile(ctx, mobile, caller.TenantID, p.ID); err != nil {
		return nil, s.storeFailure(err, "index mobile")
	}
	return &Credential{Username: p.Credentials.Username, Role: auth.RolePatient, Password: mobile, PatientID: p.ID}, nil
}

// RegisterPortalPatient self-registers a patient keyed by mobile number.
func (s *Service) RegisterPortalPatient(ctx context.Context, req PortalRequest) error {
	mobile, err := identity.NormalizeMobile(req.Mobile)
	if err != nil {
		return err
	}
	if err := checkPassword(req.Password); err != nil {
		return err
	}
	if _, err := s.repo.GetPortalPatient(ctx, mobile); err == nil {
		return fmt.Errorf("mobile already registered: %w", errs.ErrConflict)
	} else if !isNotFound(err) {
		return s.storeFailure(err, "portal patient")
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return err
	}
	p := &identity.PortalPatient{Mobile: mobile, Name: strings.TrimSpace(req.Name), PasswordHash: hash, CreatedAt: s.now().UTC()}
	if err := s.repo.SavePortalPatient(ctx, p); err != nil {
		return s.storeFailure(err, "save portal patient")
	}
	return nil
}

// ResetPassword sets a new password. Owners may reset any account of their
// tenant; everyone else only their own.
func (s *Service) ResetPassword(ctx context.Context, caller auth.Identity, username, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	username = identity.NormalizeUsername(username)
	if username == "" {
		username = identity.NormalizeUsername(caller.Username)
	}
	if caller.Role != auth.RoleOwner && username != identity.NormalizeUsername(caller.Username) {
		return fmt.Errorf("only the owner can reset other accounts: %w", errs.ErrForbidden)
	}
	loc, err := s.locate(ctx, caller.TenantID, username)
	if err != nil {
		return err
	}
	if err := s.setPassword(ctx, loc, newPassword); err != nil {
		return err
	}
	s.logger.Info().Str("tenant_id", caller.TenantID).Str("username", username).Str("by", caller.Username).Msg("password reset")
	notification.Emit(ctx, s.events, s.logger, notification.Event{
		Type:     notification.PasswordReset,
		TenantID: caller.TenantID,
		Subject:  username,
	})
	return nil
}

// RecoverPassword rotates the password of an account to a new random one
// and returns it. Stored hashes cannot be reversed, so recovery always
// issues a fresh password. Owner only.
func (s *Service) RecoverPassword(ctx context.Context, caller auth.Identity, username string) (string, error) {
	if caller.Role != auth.RoleOwner {
		return "", fmt.Errorf("only the owner can recover passwords: %w", errs.ErrForbidden)
	}
	username = identity.NormalizeUsername(username)
	if username == "" {
		return "", fmt.Errorf("username is required: %w", errs.ErrInvalidInput)
	}
	loc, err := s.locate(ctx, caller.TenantID, username)
	if err != nil {
		return "", err
	}
	pw, err := s.password(generatedPasswordLen)
	if err != nil {
		return "", err
	}
	if err := s.setPassword(ctx, loc, pw); err != nil {
		return "", err
	}
	s.logger.Info().Str("tenant_id", caller.TenantID).Str("username", username).Msg("password recovered")
	notification.Emit(ctx, s.events, s.logger, notification.Event{
		Type:     notification.PasswordReset,
		TenantID: caller.TenantID,
		Subject:  username,
		Data:     map[string]any{"recovered": true},
	})
	return pw, nil
}

// SetAccountActive enables or disables a staff, doctor or patient login of
// the owner's tenant.
func (s *Service) SetAccountActive(ctx context.Context, caller auth.Identity, username string, active bool) error {
	if caller.Role != auth.RoleOwner {
		return fmt.Errorf("only the owner can change account status: %w", errs.ErrForbidden)
	}
	loc, err := s.locate(ctx, caller.TenantID, identity.NormalizeUsername(username))
	if err != nil {
		return err
	}
	if loc.kind == kindOwner {
		return fmt.Errorf("the owner account cannot be deactivated: %w", errs.ErrInvalidInput)
	}
	if err := s.update(ctx, loc, map[string]any{"isActive": active}); err != nil {
		return s.storeFailure(err, "update account")
	}
	s.logger.Info().Str("tenant_id", caller.TenantID).Str("username", loc.username).Bool("active", active).Msg("account status changed")
	return nil
}

func (s *Service) setPassword(ctx context.Context, loc *located, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if loc.kind == kindPatient {
		err = s.repo.UpdatePatientCredentials(ctx, loc.tenantID, loc.patientID, hash)
	} else {
		err = s.update(ctx, loc, map[string]any{"passwordHash": hash})
	}
	if err != nil {
		return s.storeFailure(err, "update password")
	}
	return nil
}

// update writes fields onto the located account record.
func (s *Service) update(ctx context.Context, loc *located, fields map[string]any) error {
	switch loc.kind {
	case kindOwner:
		return s.repo.UpdateOwner(ctx, loc.tenantID, fields)
	case kindPatient:
		return s.repo.UpdatePatient(ctx, loc.tenantID, loc.patientID, fields)
	default:
		return s.repo.UpdateAccount(ctx, loc.tenantID, loc.staff, fields)
	}
}

// locate finds the account with username inside one tenant.
func (s *Service) locate(ctx context.Context, tenantID, username string) (*located, error) {
	notFound := fmt.Errorf("account %q: %w", username, errs.ErrNotFound)

	if o, err := s.repo.GetOwner(ctx, tenantID); err == nil && identity.NormalizeUsername(o.Email) == username {
		return &located{kind: kindOwner, tenantID: tenantID, username: username, role: auth.RoleOwner}, nil
	} else if err != nil && !isNotFound(err) {
		return nil, s.storeFailure(err, "load owner")
	}

	if _, role, err := identity.ParseStaffUsername(username); err == nil {
		var accounts []*identity.Account
		if role == auth.RoleDoctor {
			accounts, err = s.repo.DoctorAccounts(ctx, tenantID)
		} else {
			var a *identity.Account
			a, err = s.repo.GetStaffAccount(ctx, tenantID, role)
			if a != nil {
				a.Role = role
				accounts = append(accounts, a)
			}
		}
		if err != nil && !isNotFound(err) {
			return nil, s.storeFailure(err, "load account")
		}
		for _, a := range accounts {
			if identity.NormalizeUsername(a.Username) == username {
				a.Role = role
				return &located{kind: kindStaff, tenantID: tenantID, username: username, role: role, staff: a}, nil
			}
		}
		return nil, notFound
	}

	patients, err := s.repo.PatientsWhere(ctx, tenantID, "credentials/username", username)
	if err != nil {
		return nil, s.storeFailure(err, "query patients")
	}
	if len(patients) == 0 {
		all, err := s.repo.Patients(ctx, tenantID)
		if err != nil {
			return nil, s.storeFailure(err, "scan patients")
		}
		for _, p := range all {
			if identity.NormalizeUsername(p.Credentials.Username) == username {
				patients = append(patients, p)
			}
		}
	}
	if len(patients) == 0 {
		return nil, notFound
	}
	p := patients[0]
	return &located{
		kind:      kindPatient,
		tenantID:  tenantID,
		username:  username,
		role:      auth.RolePatient,
		patientID: p.ID,
	}, nil
}

func (s *Service) storeFailure(err error, op string) error {
	s.logger.Error().Err(err).Str("op", op).Msg("tenant store operation failed")
	return err
}

// checkPassword enforces the length bounds of a chosen password. bcrypt
// only accepts up to MaxPasswordLen bytes.
func checkPassword(pw string) error {
	switch {
	case len(pw) < MinPasswordLen:
		return fmt.Errorf("password must be at least %d characters: %w", MinPasswordLen, errs.ErrInvalidInput)
	case len(pw) > MaxPasswordLen:
		return fmt.Errorf("password must be at most %d bytes: %w", MaxPasswordLen, errs.ErrInvalidInput)
	}
	return nil
}

func isNotFound(err error) bool { return errors.Is(err, errs.ErrNotFound) }
