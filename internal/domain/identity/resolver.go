package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

// Resolver maps login identifiers to verified accounts across all tenants.
// Lookups go through the secondary indexes first and fall back to scanning
// tenants by reconstructed prefix, which also covers records created before
// the indexes existed.
type Resolver struct {
	repo   *Repository
	hasher PasswordHasher
	logger zerolog.Logger
}

func NewResolver(repo *Repository, hasher PasswordHasher, logger zerolog.Logger) *Resolver {
	return &Resolver{repo: repo, hasher: hasher, logger: logger.With().Str("component", "resolver").Logger()}
}

func invalidCredentials(stage string) error {
	return fmt.Errorf("%s: %w", stage, errs.ErrInvalidCredentials)
}

func (r *Resolver) storeFailure(err error, op string) error {
	r.logger.Error().Err(err).Str("op", op).Msg("credential lookup failed")
	return err
}

// ResolveStaffLogin finds the staff or doctor account for a username and
// verifies its password. It returns the account and its tenant id.
func (r *Resolver) ResolveStaffLogin(ctx context.Context, usernameRaw, passwordRaw string) (*Account, string, error) {
	username := NormalizeUsername(usernameRaw)
	if username == "" || passwordRaw == "" {
		return nil, "", fmt.Errorf("username and password are required: %w", errs.ErrInvalidInput)
	}
	prefix, role, err := ParseStaffUsername(username)
	if err != nil {
		return nil, "", err
	}

	acct, tenantID, decided, err := r.staffFromIndex(ctx, username, role, passwordRaw)
	if err != nil {
		return nil, "", err
	}
	if decided {
		if acct == nil {
			return nil, "", invalidCredentials("index")
		}
		return acct, tenantID, nil
	}

	tenants, err := r.tenantsByPrefix(ctx, prefix)
	if err != nil {
		return nil, "", r.storeFailure(err, "scan tenants")
	}
	for _, t := range tenants {
		candidates, err := r.staffCandidates(ctx, t, role)
		if err != nil {
			return nil, "", r.storeFailure(err, "load accounts")
		}
		for _, a := range candidates {
			if r.staffMatches(a, username, role, passwordRaw) {
				return a, t, nil
			}
		}
	}
	return nil, "", invalidCredentials("scan")
}

// staffFromIndex consults the username index. decided is false when the index
// has no usable entry and the caller must scan.
func (r *Resolver) staffFromIndex(ctx context.Context, username string, role auth.Role, password string) (*Account, string, bool, error) {
	ix, err := r.repo.LookupUsername(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return nil, "", false, nil
		}
		return nil, "", false, r.storeFailure(err, "username index")
	}
	if ix.Role != role {
		return nil, "", false, nil
	}

	var acct *Account
	if role == auth.RoleDoctor {
		acct, err = r.repo.GetDoctorAccount(ctx, ix.TenantID, ix.DoctorID)
	} else {
		acct, err = r.repo.GetStaffAccount(ctx, ix.TenantID, role)
	}
	if err != nil {
		if isNotFound(err) {
			return nil, "", false, nil
		}
		return nil, "", false, r.storeFailure(err, "load account")
	}
	if NormalizeUsername(acct.Username) != username {
		// Stale entry; the account was renamed or replaced.
		return nil, "", false, nil
	}
	if !r.staffMatches(acct, username, role, password) {
		return nil, "", true, nil
	}
	return acct, ix.TenantID, true, nil
}

func (r *Resolver) staffMatches(a *Account, username string, role auth.Role, password string) bool {
	if a == nil || !a.IsActive {
		return false
	}
	if NormalizeUsername(a.Username) != username {
		return false
	}
	if a.Role != "" && a.Role != role {
		return false
	}
	return r.hasher.Verify(a.PasswordHash, password)
}

func (r *Resolver) staffCandidates(ctx context.Context, tenantID string, role auth.Role) ([]*Account, error) {
	if role == auth.RoleDoctor {
		return r.repo.DoctorAccounts(ctx, tenantID)
	}
	a, err := r.repo.GetStaffAccount(ctx, tenantID, role)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if a.Role == "" {
		a.Role = role
	}
	return []*Account{a}, nil
}

// tenantsByPrefix returns, in id order, every active tenant whose
// reconstructed prefix equals prefix. More than one match is a collision:
// the first tenant wins and the event is logged.
func (r *Resolver) tenantsByPrefix(ctx context.Context, prefix string) ([]string, error) {
	ids, err := r.repo.TenantIDs(ctx)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, id := range ids {
		t, err := r.repo.GetTenant(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if !t.IsActive {
			continue
		}
		staff, err := r.repo.StaffUsernames(ctx, id)
		if err != nil {
			return nil, err
		}
		if TenantPrefix(t, staff) == prefix {
			matched = append(matched, id)
		}
	}
	if len(matched) > 1 {
		r.logger.Warn().Str("prefix", prefix).Strs("tenants", matched).Msg("prefix collision")
	}
	return matched, nil
}

// ResolvePatientLogin accepts either a patient username ("<prefix>@p<n>") or
// a mobile number. Mobile logins also cover self-registered portal patients.
func (r *Resolver) ResolvePatientLogin(ctx context.Context, identifier, passwordRaw string) (*PatientMatch, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || passwordRaw == "" {
		return nil, fmt.Errorf("identifier and password are required: %w", errs.ErrInvalidInput)
	}
	if strings.Contains(identifier, "@") {
		return r.patientByUsername(ctx, NormalizeUsername(identifier), passwordRaw)
	}
	mobile, err := NormalizeMobile(identifier)
	if err != nil {
		return nil, err
	}
	m, err := r.patientByMobile(ctx, mobile, passwordRaw)
	if err != nil || m != nil {
		return m, err
	}
	return r.portalPatient(ctx, mobile, passwordRaw)
}

func (r *Resolver) patientAccepted(p *Patient, password string) bool {
	if !p.IsActive {
		return false
	}
	return PatientPasswordAccepted(r.hasher, p.Credentials.PasswordHash, string(p.Mobile), password)
}

func matchFor(tenantID string, p *Patient) *PatientMatch {
	mobile, _ := NormalizeMobile(string(p.Mobile))
	return &PatientMatch{
		TenantID:  tenantID,
		PatientID: p.ID,
		Name:      p.Name,
		Mobile:    mobile,
		Username:  p.Credentials.Username,
	}
}

func (r *Resolver) patientByUsername(ctx context.Context, username, password string) (*PatientMatch, error) {
	prefix, _, ok := SplitUsername(username)
	if !ok {
		return nil, fmt.Errorf("username %q: %w", username, errs.ErrInvalidFormat)
	}

	if ix, err := r.repo.LookupUsername(ctx, username); err == nil && ix.Role == auth.RolePatient && ix.PatientID != "" {
		p, err := r.repo.GetPatient(ctx, ix.TenantID, ix.PatientID)
		switch {
		case err == nil && NormalizeUsername(p.Credentials.Username) == username:
			if !r.patientAccepted(p, password) {
				return nil, invalidCredentials("index")
			}
			return matchFor(ix.TenantID, p), nil
		case err != nil && !isNotFound(err):
			return nil, r.storeFailure(err, "load patient")
		}
	} else if err != nil && !isNotFound(err) {
		return nil, r.storeFailure(err, "username index")
	}

	tenants, err := r.patientTenants(ctx, prefix)
	if err != nil {
		return nil, r.storeFailure(err, "scan tenants")
	}
	for _, t := range tenants {
		candidates, err := r.repo.PatientsWhere(ctx, t, "credentials/username", username)
		if err != nil {
			return nil, r.storeFailure(err, "query patients")
		}
		if len(candidates) == 0 {
			all, err := r.repo.Patients(ctx, t)
			if err != nil {
				return nil, r.storeFailure(err, "scan patients")
			}
			for _, p := range all {
				if NormalizeUsername(p.Credentials.Username) == username {
					candidates = append(candidates, p)
				}
			}
		}
		for _, p := range candidates {
			if r.patientAccepted(p, password) {
				return matchFor(t, p), nil
			}
		}
	}
	return nil, invalidCredentials("patient username")
}

// patientTenants puts the tenant registered for prefix first, followed by
// every other tenant whose reconstructed prefix matches.
func (r *Resolver) patientTenants(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	indexed, err := r.repo.LookupPrefix(ctx, prefix)
	switch {
	case err == nil:
		out = append(out, indexed)
	case !isNotFound(err):
		return nil, err
	}
	scanned, err := r.tenantsByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	for _, t := range scanned {
		if t != indexed {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *Resolver) patientByMobile(ctx context.Context, mobile, password string) (*PatientMatch, error) {
	tried := map[string]bool{}

	indexed, err := r.repo.LookupMobile(ctx, mobile)
	if err != nil {
		return nil, r.storeFailure(err, "mobile index")
	}
	for _, t := range sortedStringKeys(indexed) {
		p, err := r.repo.GetPatient(ctx, t, indexed[t])
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, r.storeFailure(err, "load patient")
		}
		tried[t] = true
		if m, _ := NormalizeMobile(string(p.Mobile)); m == mobile && r.patientAccepted(p, password) {
			return matchFor(t, p), nil
		}
	}

	ids, err := r.repo.TenantIDs(ctx)
	if err != nil {
		return nil, r.storeFailure(err, "scan tenants")
	}
	for _, t := range ids {
		if tried[t] {
			continue
		}
		candidates, err := r.patientsWithMobile(ctx, t, mobile)
		if err != nil {
			return nil, r.storeFailure(err, "scan patients")
		}
		for _, p := range candidates {
			if r.patientAccepted(p, password) {
				return matchFor(t, p), nil
			}
		}
	}
	return nil, nil
}

// patientsWithMobile tries the mobile field as a string, then as a number,
// and finally compares normalized digits over the whole collection.
func (r *Resolver) patientsWithMobile(ctx context.Context, tenantID, mobile string) ([]*Patient, error) {
	found, err := r.repo.PatientsWhere(ctx, tenantID, "mobile", mobile)
	if err != nil || len(found) > 0 {
		return found, err
	}
	if n, ok := numericMobile(mobile); ok {
		found, err = r.repo.PatientsWhere(ctx, tenantID, "mobile", n)
		if err != nil || len(found) > 0 {
			return found, err
		}
	}
	all, err := r.repo.Patients(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, p := range all {
		if m, err := NormalizeMobile(string(p.Mobile)); err == nil && m == mobile {
			found = append(found, p)
		}
	}
	return found, nil
}

func (r *Resolver) portalPatient(ctx context.Context, mobile, password string) (*PatientMatch, error) {
	p, err := r.repo.GetPortalPatient(ctx, mobile)
	if err != nil {
		if isNotFound(err) {
			return nil, invalidCredentials("portal")
		}
		return nil, r.storeFailure(err, "portal patient")
	}
	if !PatientPasswordAccepted(r.hasher, p.PasswordHash, p.Mobile, password) {
		return nil, invalidCredentials("portal")
	}
	return &PatientMatch{
		TenantID:  PortalTenant,
		PatientID: mobile,
		Name:      p.Name,
		Mobile:    mobile,
		Portal:    true,
	}, nil
}

// ResolveOwnerLogin verifies a tenant owner by email. The owner's tenant id
// is returned alongside the record.
func (r *Resolver) ResolveOwnerLogin(ctx context.Context, emailRaw, passwordRaw string) (*Owner, string, error) {
	email := NormalizeUsername(emailRaw)
	if email == "" || passwordRaw == "" {
		return nil, "", fmt.Errorf("email and password are required: %w", errs.ErrInvalidInput)
	}

	tenantID, err := r.repo.LookupOwner(ctx, email)
	switch {
	case err == nil:
		o, err := r.repo.GetOwner(ctx, tenantID)
		if err == nil && NormalizeUsername(o.Email) == email {
			if !o.IsActive || !r.hasher.Verify(o.PasswordHash, passwordRaw) {
				return nil, "", invalidCredentials("owner index")
			}
			return o, tenantID, nil
		}
		if err != nil && !isNotFound(err) {
			return nil, "", r.storeFailure(err, "load owner")
		}
	case !isNotFound(err):
		return nil, "", r.storeFailure(err, "owner index")
	}

	ids, err := r.repo.OwnerTenantIDs(ctx)
	if err != nil {
		return nil, "", r.storeFailure(err, "scan owners")
	}
	for _, t := range ids {
		o, err := r.repo.GetOwner(ctx, t)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, "", r.storeFailure(err, "load owner")
		}
		if NormalizeUsername(o.Email) == email && o.IsActive && r.hasher.Verify(o.PasswordHash, passwordRaw) {
			return o, t, nil
		}
	}
	return nil, "", invalidCredentials("owner scan")
}

// IssueIdentity builds the request identity of a staff or doctor account.
// Staff subjects are their role; doctors are identified by doctor id.
func IssueIdentity(a *Account, tenantID string) auth.Identity {
	subject := string(a.Role)
	if a.Role == auth.RoleDoctor {
		subject = a.DoctorID
	}
	return auth.Identity{
		SubjectID: subject,
		TenantID:  tenantID,
		Role:      a.Role,
		Username:  a.Username,
		Name:      a.Name,
		DoctorID:  a.DoctorID,
	}
}

// PatientIdentity builds the request identity of a patient login.
func PatientIdentity(m *PatientMatch) auth.Identity {
	return auth.Identity{
		SubjectID: m.PatientID,
		TenantID:  m.TenantID,
		Role:      auth.RolePatient,
		Username:  m.Username,
		Name:      m.Name,
	}
}

// OwnerIdentity builds the identity of a tenant owner, whose subject is the
// tenant itself.
func OwnerIdentity(o *Owner, tenantID string) auth.Identity {
	return auth.Identity{
		SubjectID: tenantID,
		TenantID:  tenantID,
		Role:      auth.RoleOwner,
		Username:  NormalizeUsername(o.Email),
		Name:      o.Name,
	}
}
