package identity

import (
	"fmt"
	"strings"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

// PasswordHasher hashes and verifies passwords. *passhash.Hasher implements it.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// DefaultPrefix is used when a tenant name has no usable characters.
const DefaultPrefix = "clinic"

const prefixLen = 6

// NormalizeUsername lowercases and trims a login username.
func NormalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// SplitUsername splits "<prefix>@<suffix>". Both parts must be non-empty.
func SplitUsername(username string) (prefix, suffix string, ok bool) {
	i := strings.LastIndexByte(username, '@')
	if i <= 0 || i == len(username)-1 {
		return "", "", false
	}
	return username[:i], username[i+1:], true
}

// ParseStaffUsername derives the tenant prefix and role from a normalized
// staff username. Doctor usernames carry a "dr<slug>" suffix.
func ParseStaffUsername(username string) (prefix string, role auth.Role, err error) {
	prefix, suffix, ok := SplitUsername(username)
	if !ok {
		return "", "", fmt.Errorf("username %q: %w", username, errs.ErrInvalidFormat)
	}
	switch auth.Role(suffix) {
	case auth.RoleReceptionist, auth.RoleLab, auth.RolePharmacy:
		return prefix, auth.Role(suffix), nil
	}
	if strings.HasPrefix(suffix, "dr") && len(suffix) > len("dr") {
		return prefix, auth.RoleDoctor, nil
	}
	return "", "", fmt.Errorf("username %q: %w", username, errs.ErrInvalidFormat)
}

// DerivePrefix builds the deterministic username prefix of a tenant from its
// display name: the first six lowercase letters or digits.
func DerivePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == prefixLen {
				break
			}
		}
	}
	if b.Len() == 0 {
		return DefaultPrefix
	}
	return b.String()
}

// Slug lowercases s and keeps only letters and digits.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TenantPrefix reconstructs the prefix of a tenant: from an assigned staff
// username when one exists, then the stored prefix, then the display name.
func TenantPrefix(t *Tenant, staff map[auth.Role]string) string {
	for _, role := range auth.StaffRoles {
		if p, _, ok := SplitUsername(NormalizeUsername(staff[role])); ok {
			return p
		}
	}
	if t.Prefix != "" {
		return t.Prefix
	}
	return DerivePrefix(t.Name)
}

// NormalizeMobile keeps the digits of raw and returns the last ten.
func NormalizeMobile(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) < 10 {
		return "", fmt.Errorf("mobile number must have at least 10 digits: %w", errs.ErrInvalidInput)
	}
	return d[len(d)-10:], nil
}

// PatientPasswordAccepted reports whether supplied unlocks a patient record.
// Patients may sign in with their password or with their own mobile number.
func PatientPasswordAccepted(h PasswordHasher, storedHash, mobile, supplied string) bool {
	if h.Verify(storedHash, supplied) {
		return true
	}
	m, err := NormalizeMobile(mobile)
	if err != nil {
		return false
	}
	return strings.TrimSpace(supplied) == m
}
