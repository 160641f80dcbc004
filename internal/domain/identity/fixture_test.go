package identity

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/docstore"
	"github.com/mediclo/mediclo/internal/platform/passhash"
)

type fixture struct {
	store    *docstore.MemoryStore
	repo     *Repository
	hasher   *passhash.Hasher
	logs     *bytes.Buffer
	logger   zerolog.Logger
	resolver *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  docstore.NewMemoryStore(),
		hasher: passhash.New(bcrypt.MinCost),
		logs:   &bytes.Buffer{},
	}
	f.logger = zerolog.New(f.logs)
	f.repo = NewRepository(f.store)
	f.resolver = NewResolver(f.repo, f.hasher, f.logger)
	return f
}

func (f *fixture) hash(t *testing.T, password string) string {
	t.Helper()
	h, err := f.hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func (f *fixture) set(t *testing.T, path string, v any) {
	t.Helper()
	if err := f.store.Set(context.Background(), path, v); err != nil {
		t.Fatalf("set %s: %v", path, err)
	}
}

// seedTenant writes a tenant with an owner and the three staff accounts. Staff
// passwords are "<role>pass"; the owner's is "ownerpass".
func (f *fixture) seedTenant(t *testing.T, id, name, prefix string) {
	t.Helper()
	ctx := context.Background()
	f.set(t, TenantPath(id), &Tenant{Name: name, Prefix: prefix, OwnerEmail: "owner@" + prefix + ".test", IsActive: true, CreatedAt: time.Now().UTC()})
	f.set(t, OwnerPath(id), &Owner{Email: "owner@" + prefix + ".test", PasswordHash: f.hash(t, "ownerpass"), Name: name + " Owner", IsActive: true})
	if err := f.repo.IndexOwner(ctx, "owner@"+prefix+".test", id); err != nil {
		t.Fatal(err)
	}
	for _, role := range auth.StaffRoles {
		username := prefix + "@" + string(role)
		f.set(t, StaffAccountPath(id, role), &Account{
			Username:     username,
			PasswordHash: f.hash(t, string(role)+"pass"),
			Role:         role,
			Name:         string(role),
			IsActive:     true,
		})
		if err := f.repo.IndexUsername(ctx, username, UsernameIndex{TenantID: id, Role: role}); err != nil {
			t.Fatal(err)
		}
	}
}

func (f *fixture) seedDoctor(t *testing.T, tenantID, doctorID, username, password string) {
	t.Helper()
	f.set(t, DoctorAccountPath(tenantID, doctorID), &Account{
		Username:     username,
		PasswordHash: f.hash(t, password),
		Role:         auth.RoleDoctor,
		Name:         "Dr. " + doctorID,
		IsActive:     true,
		DoctorID:     doctorID,
	})
}

// seedPatient writes a raw patient record so mobile may be a string or a number.
func (f *fixture) seedPatient(t *testing.T, tenantID, patientID string, mobile any, username, password string) {
	t.Helper()
	f.set(t, PatientPath(tenantID, patientID), map[string]any{
		"name":   "Patient " + patientID,
		"mobile": mobile,
		"credentials": map[string]any{
			"username":     username,
			"passwordHash": f.hash(t, password),
		},
	})
}

// failingStore reports every read as a store outage.
type failingStore struct {
	docstore.Store
	err error
}

func (s failingStore) Get(ctx context.Context, path string) (any, error) { return nil, s.err }

func (s failingStore) QueryEqual(ctx context.Context, path, child string, value any) (map[string]any, error) {
	return nil, s.err
}
