package auth

import "context"

// Role names an account kind. Every request acts as exactly one role.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleReceptionist Role = "receptionist"
	RoleLab          Role = "lab"
	RolePharmacy     Role = "pharmacy"
	RoleDoctor       Role = "doctor"
	RolePatient      Role = "patient"
)

// StaffRoles are the fixed per-tenant staff accounts created at registration.
var StaffRoles = []Role{RoleReceptionist, RoleLab, RolePharmacy}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleReceptionist, RoleLab, RolePharmacy, RoleDoctor, RolePatient:
		return true
	}
	return false
}

// Identity is the authenticated principal of a request. It is built once by
// the auth middleware and never mutated afterwards. TenantID is the scope of
// every data access; for owners it equals SubjectID.
type Identity struct {
	SubjectID string `json:"subjectId"`
	TenantID  string `json:"tenantId"`
	Role      Role   `json:"role"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	DoctorID  string `json:"doctorId,omitempty"`
	SessionID string `json:"-"`
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the request identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
