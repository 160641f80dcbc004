package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

func TestResolveStaffLogin_ViaIndex(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")

	acct, tenantID, err := f.resolver.ResolveStaffLogin(context.Background(), "spotla@lab", "labpass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenantID != "t1" {
		t.Errorf("expected tenant t1, got %s", tenantID)
	}
	if acct.Role != auth.RoleLab {
		t.Errorf("expected role lab, got %s", acct.Role)
	}
}

func TestResolveStaffLogin_NormalizesUsername(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot", "spot")

	for _, u := range []string{"spot@lab", "  Spot@Lab  ", "SPOT@LAB"} {
		acct, tenantID, err := f.resolver.ResolveStaffLogin(context.Background(), u, "labpass")
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", u, err)
		}
		if tenantID != "t1" || acct.Username != "spot@lab" {
			t.Errorf("%q resolved to %s/%s", u, tenantID, acct.Username)
		}
	}
}

func TestResolveStaffLogin_ScanFallback(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedTenant(t, "t2", "Other Clinic", "otherc")
	ctx := context.Background()

	if err := f.repo.UnindexUsername(ctx, "otherc@pharmacy"); err != nil {
		t.Fatal(err)
	}
	acct, tenantID, err := f.resolver.ResolveStaffLogin(ctx, "otherc@pharmacy", "pharmacypass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenantID != "t2" || acct.Role != auth.RolePharmacy {
		t.Errorf("got %s/%s", tenantID, acct.Role)
	}
}

func TestResolveStaffLogin_StaleIndexFallsThrough(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedTenant(t, "t2", "Other Clinic", "otherc")
	ctx := context.Background()

	// Index points at the wrong tenant.
	if err := f.repo.IndexUsername(ctx, "otherc@lab", UsernameIndex{TenantID: "t1", Role: auth.RoleLab}); err != nil {
		t.Fatal(err)
	}
	_, tenantID, err := f.resolver.ResolveStaffLogin(ctx, "otherc@lab", "labpass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenantID != "t2" {
		t.Errorf("expected t2, got %s", tenantID)
	}
}

func TestResolveStaffLogin_PrefixFromStaffUsernames(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Completely Different Name", "spot42")
	ctx := context.Background()

	// Without a stored prefix the assigned staff usernames still route the login.
	if err := f.store.Update(ctx, TenantPath("t1"), map[string]any{"prefix": nil}); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.UnindexUsername(ctx, "spot42@receptionist"); err != nil {
		t.Fatal(err)
	}
	_, tenantID, err := f.resolver.ResolveStaffLogin(ctx, "spot42@receptionist", "receptionistpass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenantID != "t1" {
		t.Errorf("expected t1, got %s", tenantID)
	}
}

func TestResolveStaffLogin_Doctor(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedDoctor(t, "t1", "d1", "spotla@drmehta", "docpass")
	f.seedDoctor(t, "t1", "d2", "spotla@drrao", "raopass")

	acct, tenantID, err := f.resolver.ResolveStaffLogin(context.Background(), "spotla@drrao", "raopass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenantID != "t1" || acct.DoctorID != "d2" || acct.Role != auth.RoleDoctor {
		t.Errorf("got %s/%+v", tenantID, acct)
	}
	id := IssueIdentity(acct, tenantID)
	if id.SubjectID != "d2" || id.TenantID != "t1" {
		t.Errorf("doctor identity = %+v", id)
	}
}

func TestResolveStaffLogin_InvalidCredentialsAreGeneric(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	ctx := context.Background()

	cases := []struct{ user, pass string }{
		{"spotla@lab", "wrong"},
		{"nobody@lab", "labpass"},
		{"spotla@drghost", "x"},
	}
	for _, tc := range cases {
		_, _, err := f.resolver.ResolveStaffLogin(ctx, tc.user, tc.pass)
		if !errors.Is(err, errs.ErrInvalidCredentials) {
			t.Errorf("%s: expected ErrInvalidCredentials, got %v", tc.user, err)
		}
		if errs.PublicMessage(err) != "invalid credentials" {
			t.Errorf("%s: public message leaks stage: %q", tc.user, errs.PublicMessage(err))
		}
	}
}

func TestResolveStaffLogin_Deactivated(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	ctx := context.Background()

	if err := f.store.Update(ctx, StaffAccountPath("t1", auth.RoleLab), map[string]any{"isActive": false}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.resolver.ResolveStaffLogin(ctx, "spotla@lab", "labpass"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials via index, got %v", err)
	}
	if err := f.repo.UnindexUsername(ctx, "spotla@lab"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.resolver.ResolveStaffLogin(ctx, "spotla@lab", "labpass"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials via scan, got %v", err)
	}
}

func TestResolveStaffLogin_InputErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, _, err := f.resolver.ResolveStaffLogin(ctx, "  ", "x"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty username: got %v", err)
	}
	if _, _, err := f.resolver.ResolveStaffLogin(ctx, "spot@lab", ""); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("empty password: got %v", err)
	}
	for _, u := range []string{"spot@admin", "spotlab", "@lab", "spot@dr"} {
		if _, _, err := f.resolver.ResolveStaffLogin(ctx, u, "x"); !errors.Is(err, errs.ErrInvalidFormat) {
			t.Errorf("%q: expected ErrInvalidFormat, got %v", u, err)
		}
	}
}

func TestResolveStaffLogin_PrefixCollision(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot", "spot")
	f.seedTenant(t, "t2", "Spot", "spot")
	ctx := context.Background()

	h := f.hash(t, "second")
	if err := f.store.Update(ctx, StaffAccountPath("t2", auth.RoleLab), map[string]any{"passwordHash": h}); err != nil {
		t.Fatal(err)
	}
	if err := f.repo.UnindexUsername(ctx, "spot@lab"); err != nil {
		t.Fatal(err)
	}

	_, tenantID, err := f.resolver.ResolveStaffLogin(ctx, "spot@lab", "labpass")
	if err != nil || tenantID != "t1" {
		t.Fatalf("first match should win: %s, %v", tenantID, err)
	}
	_, tenantID, err = f.resolver.ResolveStaffLogin(ctx, "spot@lab", "second")
	if err != nil || tenantID != "t2" {
		t.Fatalf("second tenant should match its own password: %s, %v", tenantID, err)
	}
	if !strings.Contains(f.logs.String(), "prefix collision") {
		t.Errorf("expected a prefix collision warning, logs: %s", f.logs.String())
	}
}

func TestResolveStaffLogin_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	outage := fmt.Errorf("dial tcp: connection refused: %w", errs.ErrStoreUnavailable)
	r := NewResolver(NewRepository(failingStore{Store: f.store, err: outage}), f.hasher, f.logger)

	_, _, err := r.ResolveStaffLogin(context.Background(), "spot@lab", "labpass")
	if !errors.Is(err, errs.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if !strings.Contains(f.logs.String(), "credential lookup failed") {
		t.Error("expected the outage to be logged")
	}
}

func TestResolvePatientLogin_UsernameDualAcceptance(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedPatient(t, "t1", "P00001", "9876543210", "spotla@p1", "9876543210")
	f.seedPatient(t, "t1", "P00002", "9123456780", "spotla@p2", "secret")
	ctx := context.Background()

	for _, pw := range []string{"9876543210"} {
		m, err := f.resolver.ResolvePatientLogin(ctx, "spotla@p1", pw)
		if err != nil {
			t.Fatalf("password %q: %v", pw, err)
		}
		if m.PatientID != "P00001" || m.TenantID != "t1" {
			t.Errorf("got %+v", m)
		}
	}
	for _, pw := range []string{"secret", "9123456780"} {
		m, err := f.resolver.ResolvePatientLogin(ctx, "SpotLa@P2", pw)
		if err != nil {
			t.Fatalf("password %q: %v", pw, err)
		}
		if m.PatientID != "P00002" {
			t.Errorf("got %+v", m)
		}
	}
	if _, err := f.resolver.ResolvePatientLogin(ctx, "spotla@p2", "nope"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestResolvePatientLogin_UsernameViaIndex(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedPatient(t, "t1", "P00007", "9876543210", "spotla@p7", "secret")
	ctx := context.Background()
	if err := f.repo.IndexUsername(ctx, "spotla@p7", UsernameIndex{TenantID: "t1", Role: auth.RolePatient, PatientID: "P00007"}); err != nil {
		t.Fatal(err)
	}

	m, err := f.resolver.ResolvePatientLogin(ctx, "spotla@p7", "secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := PatientIdentity(m)
	if id.SubjectID != "P00007" || id.TenantID != "t1" || id.Role != auth.RolePatient {
		t.Errorf("identity = %+v", id)
	}
}

func TestResolvePatientLogin_MobileForms(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedTenant(t, "t2", "Other Clinic", "otherc")
	f.seedPatient(t, "t2", "P00003", 9988776655, "otherc@p3", "secret")
	f.seedPatient(t, "t1", "P00004", "+91 91234-56789", "spotla@p4", "pw4")
	ctx := context.Background()

	m, err := f.resolver.ResolvePatientLogin(ctx, "9988776655", "secret")
	if err != nil {
		t.Fatalf("numeric mobile: %v", err)
	}
	if m.TenantID != "t2" || m.PatientID != "P00003" || m.Mobile != "9988776655" {
		t.Errorf("numeric mobile match = %+v", m)
	}

	m, err = f.resolver.ResolvePatientLogin(ctx, "(912) 345-6789", "9123456789")
	if err != nil {
		t.Fatalf("formatted mobile: %v", err)
	}
	if m.PatientID != "P00004" {
		t.Errorf("formatted mobile match = %+v", m)
	}

	if _, err := f.resolver.ResolvePatientLogin(ctx, "12345", "x"); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("short mobile: expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.resolver.ResolvePatientLogin(ctx, "9988776655", "wrong"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestResolvePatientLogin_MobileIndex(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedTenant(t, "t2", "Other Clinic", "otherc")
	f.seedPatient(t, "t1", "P00001", "9876543210", "spotla@p1", "one")
	f.seedPatient(t, "t2", "P00001", "9876543210", "otherc@p1", "two")
	ctx := context.Background()
	if err := f.repo.IndexMobile(ctx, "9876543210", "t2", "P00001"); err != nil {
		t.Fatal(err)
	}

	m, err := f.resolver.ResolvePatientLogin(ctx, "9876543210", "two")
	if err != nil || m.TenantID != "t2" {
		t.Fatalf("indexed tenant should match: %+v, %v", m, err)
	}
	m, err = f.resolver.ResolvePatientLogin(ctx, "9876543210", "one")
	if err != nil || m.TenantID != "t1" {
		t.Fatalf("unindexed tenant should still match by scan: %+v, %v", m, err)
	}
}

func TestResolvePatientLogin_Portal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.repo.SavePortalPatient(ctx, &PortalPatient{Mobile: "9000000001", Name: "Walk In", PasswordHash: f.hash(t, "portalpw")}); err != nil {
		t.Fatal(err)
	}

	for _, pw := range []string{"portalpw", "9000000001"} {
		m, err := f.resolver.ResolvePatientLogin(ctx, "9000000001", pw)
		if err != nil {
			t.Fatalf("password %q: %v", pw, err)
		}
		if !m.Portal || m.TenantID != PortalTenant || m.Name != "Walk In" {
			t.Errorf("portal match = %+v", m)
		}
	}
	if _, err := f.resolver.ResolvePatientLogin(ctx, "9000000002", "portalpw"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Errorf("unknown mobile: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestResolveOwnerLogin(t *testing.T) {
	f := newFixture(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedTenant(t, "t2", "Other Clinic", "otherc")
	ctx := context.Background()

	o, tenantID, err := f.resolver.ResolveOwnerLogin(ctx, " Owner@SpotLa.test ", "ownerpass")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := OwnerIdentity(o, tenantID)
	if id.SubjectID != "t1" || id.TenantID != "t1" || id.Role != auth.RoleOwner {
		t.Errorf("owner identity = %+v", id)
	}

	if err := f.store.Remove(ctx, OwnerIndexPath("owner@otherc.test")); err != nil {
		t.Fatal(err)
	}
	if _, tenantID, err = f.resolver.ResolveOwnerLogin(ctx, "owner@otherc.test", "ownerpass"); err != nil || tenantID != "t2" {
		t.Errorf("scan fallback: %s, %v", tenantID, err)
	}
	if _, _, err = f.resolver.ResolveOwnerLogin(ctx, "owner@spotla.test", "bad"); !errors.Is(err, errs.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}
