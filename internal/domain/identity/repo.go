package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/docstore"
)

// Store paths. Every tenant scoped path starts with the collection name
// followed by the tenant id.
const (
	tenantsRoot   = "tenants"
	ownersRoot    = "owners"
	portalRoot    = "patient_portal"
	usernameIndex = "indexes/usernames"
	prefixIndex   = "indexes/prefixes"
	ownerIndex    = "indexes/owners"
	mobileIndex   = "indexes/mobiles"
)

func TenantPath(tenantID string) string { return docstore.Join(tenantsRoot, tenantID) }
func OwnerPath(tenantID string) string  { return docstore.Join(ownersRoot, tenantID) }

// StaffAccountPath is the account record of a fixed staff role.
func StaffAccountPath(tenantID string, role auth.Role) string {
	return docstore.Join("users", tenantID, "auth", string(role))
}

func DoctorAccountsPath(tenantID string) string {
	return docstore.Join("users", tenantID, "auth", "doctors")
}

func DoctorAccountPath(tenantID, doctorID string) string {
	return docstore.Join(DoctorAccountsPath(tenantID), doctorID)
}

func DoctorProfilePath(tenantID, doctorID string) string {
	return docstore.Join("doctors", tenantID, doctorID)
}

func PatientsPath(tenantID string) string { return docstore.Join("patients", tenantID) }

func PatientPath(tenantID, patientID string) string {
	return docstore.Join(PatientsPath(tenantID), patientID)
}

func PortalPatientPath(mobile string) string {
	return docstore.Join(portalRoot, docstore.EscapeKey(mobile))
}

func UsernameIndexPath(username string) string {
	return docstore.Join(usernameIndex, docstore.EscapeKey(username))
}

func PrefixIndexPath(prefix string) string {
	return docstore.Join(prefixIndex, docstore.EscapeKey(prefix))
}

func OwnerIndexPath(email string) string {
	return docstore.Join(ownerIndex, docstore.EscapeKey(email))
}

func MobileIndexPath(mobile string) string {
	return docstore.Join(mobileIndex, docstore.EscapeKey(mobile))
}

// CounterPath addresses an integer counter of a tenant.
func CounterPath(tenantID string, name ...string) string {
	return docstore.Join(append([]string{"counters", tenantID}, name...)...)
}

// Repository reads and writes identity records in the document store.
type Repository struct {
	store docstore.Store
}

func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// TenantIDs returns all tenant ids in ascending order.
func (r *Repository) TenantIDs(ctx context.Context) ([]string, error) {
	m, err := docstore.Children(ctx, r.store, tenantsRoot)
	if err != nil {
		return nil, err
	}
	return sortedKeys(m), nil
}

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	t := &Tenant{IsActive: true}
	if err := docstore.GetInto(ctx, r.store, TenantPath(tenantID), t); err != nil {
		return nil, err
	}
	t.ID = tenantID
	return t, nil
}

func (r *Repository) SaveTenant(ctx context.Context, t *Tenant) error {
	return r.store.Set(ctx, TenantPath(t.ID), t)
}

func (r *Repository) GetOwner(ctx context.Context, tenantID string) (*Owner, error) {
	o := &Owner{IsActive: true}
	if err := docstore.GetInto(ctx, r.store, OwnerPath(tenantID), o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *Repository) SaveOwner(ctx context.Context, tenantID string, o *Owner) error {
	return r.store.Set(ctx, OwnerPath(tenantID), o)
}

// OwnerTenantIDs returns the ids of every tenant that has an owner record.
func (r *Repository) OwnerTenantIDs(ctx context.Context) ([]string, error) {
	m, err := docstore.Children(ctx, r.store, ownersRoot)
	if err != nil {
		return nil, err
	}
	return sortedKeys(m), nil
}

// StaffUsernames returns the usernames already assigned to the fixed staff
// roles of a tenant, keyed by role. Roles without an account are absent.
func (r *Repository) StaffUsernames(ctx context.Context, tenantID string) (map[auth.Role]string, error) {
	m, err := docstore.Children(ctx, r.store, docstore.Join("users", tenantID, "auth"))
	if err != nil {
		return nil, err
	}
	out := make(map[auth.Role]string, len(auth.StaffRoles))
	for _, role := range auth.StaffRoles {
		rec, ok := m[string(role)].(map[string]any)
		if !ok {
			continue
		}
		if u, ok := rec["username"].(string); ok && u != "" {
			out[role] = u
		}
	}
	return out, nil
}

func (r *Repository) GetStaffAccount(ctx context.Context, tenantID string, role auth.Role) (*Account, error) {
	return r.getAccount(ctx, StaffAccountPath(tenantID, role))
}

func (r *Repository) GetDoctorAccount(ctx context.Context, tenantID, doctorID string) (*Account, error) {
	a, err := r.getAccount(ctx, DoctorAccountPath(tenantID, doctorID))
	if err != nil {
		return nil, err
	}
	if a.DoctorID == "" {
		a.DoctorID = doctorID
	}
	return a, nil
}

// DoctorAccounts returns every doctor account of a tenant ordered by doctor id.
// Records that fail to decode are skipped.
func (r *Repository) DoctorAccounts(ctx context.Context, tenantID string) ([]*Account, error) {
	m, err := docstore.Children(ctx, r.store, DoctorAccountsPath(tenantID))
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(m))
	for _, id := range sortedKeys(m) {
		a := &Account{IsActive: true}
		if err := docstore.Decode(m[id], a); err != nil {
			continue
		}
		if a.DoctorID == "" {
			a.DoctorID = id
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Repository) getAccount(ctx context.Context, path string) (*Account, error) {
	a := &Account{IsActive: true}
	if err := docstore.GetInto(ctx, r.store, path, a); err != nil {
		return nil, err
	}
	return a, nil
}

// AccountPath returns where an account of role lives inside a tenant.
func AccountPath(tenantID string, a *Account) string {
	if a.Role == auth.RoleDoctor {
		return DoctorAccountPath(tenantID, a.DoctorID)
	}
	return StaffAccountPath(tenantID, a.Role)
}

func (r *Repository) SaveAccount(ctx context.Context, tenantID string, a *Account) error {
	return r.store.Set(ctx, AccountPath(tenantID, a), a)
}

func (r *Repository) GetPatient(ctx context.Context, tenantID, patientID string) (*Patient, error) {
	p := &Patient{IsActive: true}
	if err := docstore.GetInto(ctx, r.store, PatientPath(tenantID, patientID), p); err != nil {
		return nil, err
	}
	p.ID = patientID
	return p, nil
}

func (r *Repository) SavePatient(ctx context.Context, tenantID string, p *Patient) error {
	return r.store.Set(ctx, PatientPath(tenantID, p.ID), p)
}

// Patients returns every patient of a tenant ordered by id.
func (r *Repository) Patients(ctx context.Context, tenantID string) ([]*Patient, error) {
	m, err := docstore.Children(ctx, r.store, PatientsPath(tenantID))
	if err != nil {
		return nil, err
	}
	return decodePatients(m), nil
}

// PatientsWhere runs an indexed equality query on a patient field.
func (r *Repository) PatientsWhere(ctx context.Context, tenantID, child string, value any) ([]*Patient, error) {
	m, err := r.store.QueryEqual(ctx, PatientsPath(tenantID), child, value)
	if err != nil {
		return nil, err
	}
	return decodePatients(m), nil
}

func decodePatients(m map[string]any) []*Patient {
	out := make([]*Patient, 0, len(m))
	for _, id := range sortedKeys(m) {
		p := &Patient{IsActive: true}
		if err := docstore.Decode(m[id], p); err != nil {
			continue
		}
		p.ID = id
		out = append(out, p)
	}
	return out
}

func (r *Repository) GetPortalPatient(ctx context.Context, mobile string) (*PortalPatient, error) {
	p := &PortalPatient{}
	if err := docstore.GetInto(ctx, r.store, PortalPatientPath(mobile), p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Repository) SavePortalPatient(ctx context.Context, p *PortalPatient) error {
	return r.store.Set(ctx, PortalPatientPath(p.Mobile), p)
}

// LookupUsername reads the username index. A missing entry is ErrNotFound.
func (r *Repository) LookupUsername(ctx context.Context, username string) (*UsernameIndex, error) {
	ix := &UsernameIndex{}
	if err := docstore.GetInto(ctx, r.store, UsernameIndexPath(username), ix); err != nil {
		return nil, err
	}
	if ix.TenantID == "" {
		return nil, fmt.Errorf("username index %q: %w", username, errs.ErrNotFound)
	}
	return ix, nil
}

func (r *Repository) IndexUsername(ctx context.Context, username string, ix UsernameIndex) error {
	return r.store.Set(ctx, UsernameIndexPath(username), ix)
}

func (r *Repository) UnindexUsername(ctx context.Context, username string) error {
	return r.store.Remove(ctx, UsernameIndexPath(username))
}

// lookupString reads a scalar index entry such as a prefix or owner email.
func (r *Repository) lookupString(ctx context.Context, path string) (string, error) {
	v, err := r.store.Get(ctx, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("index %q: %w", path, errs.ErrNotFound)
	}
	return s, nil
}

func (r *Repository) LookupPrefix(ctx context.Context, prefix string) (string, error) {
	return r.lookupString(ctx, PrefixIndexPath(prefix))
}

func (r *Repository) IndexPrefix(ctx context.Context, prefix, tenantID string) error {
	return r.store.Set(ctx, PrefixIndexPath(prefix), tenantID)
}

func (r *Repository) LookupOwner(ctx context.Context, email string) (string, error) {
	return r.lookupString(ctx, OwnerIndexPath(email))
}

func (r *Repository) IndexOwner(ctx context.Context, email, tenantID string) error {
	return r.store.Set(ctx, OwnerIndexPath(email), tenantID)
}

// LookupMobile returns tenantId -> patientId for every indexed patient with
// the given normalized mobile number.
func (r *Repository) LookupMobile(ctx context.Context, mobile string) (map[string]string, error) {
	m, err := docstore.Children(ctx, r.store, MobileIndexPath(mobile))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for t, v := range m {
		if id, ok := v.(string); ok && id != "" {
			out[t] = id
		}
	}
	return out, nil
}

func (r *Repository) IndexMobile(ctx context.Context, mobile, tenantID, patientID string) error {
	return r.store.Set(ctx, docstore.Join(MobileIndexPath(mobile), tenantID), patientID)
}

// NextSequence increments a tenant counter and returns the new value.
func (r *Repository) NextSequence(ctx context.Context, tenantID string, name ...string) (int64, error) {
	return r.store.Increment(ctx, CounterPath(tenantID, name...), 1)
}

// UpdateAccount applies field updates to an account record.
func (r *Repository) UpdateAccount(ctx context.Context, tenantID string, a *Account, fields map[string]any) error {
	return r.store.Update(ctx, AccountPath(tenantID, a), fields)
}

func (r *Repository) UpdateOwner(ctx context.Context, tenantID string, fields map[string]any) error {
	return r.store.Update(ctx, OwnerPath(tenantID), fields)
}

func (r *Repository) UpdatePatient(ctx context.Context, tenantID, patientID string, fields map[string]any) error {
	return r.store.Update(ctx, PatientPath(tenantID, patientID), fields)
}

// UpdatePatientCredentials replaces the stored password hash of a patient.
func (r *Repository) UpdatePatientCredentials(ctx context.Context, tenantID, patientID, hash string) error {
	return r.UpdatePatient(ctx, tenantID, patientID, map[string]any{"credentials/passwordHash": hash})
}

// SaveDoctorProfile writes the public profile of a doctor.
func (r *Repository) SaveDoctorProfile(ctx context.Context, tenantID, doctorID string, profile any) error {
	return r.store.Set(ctx, DoctorProfilePath(tenantID, doctorID), profile)
}

// AccountActive reports whether the account behind id still exists and is
// enabled.
func (r *Repository) AccountActive(ctx context.Context, id auth.Identity) (bool, error) {
	var (
		active bool
		err    error
	)
	switch {
	case id.Role == auth.RoleOwner:
		var o *Owner
		if o, err = r.GetOwner(ctx, id.TenantID); err == nil {
			active = o.IsActive
		}
	case id.Role == auth.RolePatient && id.TenantID == PortalTenant:
		_, err = r.GetPortalPatient(ctx, id.SubjectID)
		active = err == nil
	case id.Role == auth.RolePatient:
		var p *Patient
		if p, err = r.GetPatient(ctx, id.TenantID, id.SubjectID); err == nil {
			active = p.IsActive
		}
	case id.Role == auth.RoleDoctor:
		var a *Account
		if a, err = r.GetDoctorAccount(ctx, id.TenantID, id.DoctorID); err == nil {
			active = a.IsActive
		}
	default:
		var a *Account
		if a, err = r.GetStaffAccount(ctx, id.TenantID, id.Role); err == nil {
			active = a.IsActive && NormalizeUsername(a.Username) == NormalizeUsername(id.Username)
		}
	}
	if isNotFound(err) {
		return false, nil
	}
	return active, err
}

func isNotFound(err error) bool { return errors.Is(err, errs.ErrNotFound) }

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func numericMobile(mobile string) (int64, bool) {
	n, err := strconv.ParseInt(mobile, 10, 64)
	return n, err == nil
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
