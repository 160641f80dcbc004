package identity

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/internal/platform/passhash"
)

func TestParseStaffUsername(t *testing.T) {
	tests := []struct {
		in         string
		wantPrefix string
		wantRole   auth.Role
		wantErr    bool
	}{
		{"spot@receptionist", "spot", auth.RoleReceptionist, false},
		{"spot@lab", "spot", auth.RoleLab, false},
		{"spot@pharmacy", "spot", auth.RolePharmacy, false},
		{"spot@drmehta", "spot", auth.RoleDoctor, false},
		{"spot@dr", "", "", true},
		{"spot@nurse", "", "", true},
		{"spot", "", "", true},
		{"@lab", "", "", true},
	}
	for _, tt := range tests {
		prefix, role, err := ParseStaffUsername(tt.in)
		if tt.wantErr {
			if !errors.Is(err, errs.ErrInvalidFormat) {
				t.Errorf("%q: expected ErrInvalidFormat, got %v", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
			continue
		}
		if prefix != tt.wantPrefix || role != tt.wantRole {
			t.Errorf("%q = %s, %s; want %s, %s", tt.in, prefix, role, tt.wantPrefix, tt.wantRole)
		}
	}
}

func TestDerivePrefix(t *testing.T) {
	tests := map[string]string{
		"Spot Diagnostics":  "spotdi",
		"A1 Lab":            "a1lab",
		"  ":                DefaultPrefix,
		"Dr. K's":           "drks",
		"Ñandú Clinic 24x7": "andcli",
	}
	for in, want := range tests {
		if got := DerivePrefix(in); got != want {
			t.Errorf("DerivePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTenantPrefix(t *testing.T) {
	tenant := &Tenant{Name: "Spot Diagnostics"}
	if got := TenantPrefix(tenant, nil); got != "spotdi" {
		t.Errorf("derived = %q", got)
	}
	tenant.Prefix = "spot42"
	if got := TenantPrefix(tenant, nil); got != "spot42" {
		t.Errorf("stored = %q", got)
	}
	staff := map[auth.Role]string{auth.RoleLab: "Spot77@Lab"}
	if got := TenantPrefix(tenant, staff); got != "spot77" {
		t.Errorf("from staff = %q", got)
	}
}

func TestNormalizeMobile(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"9876543210", "9876543210", false},
		{"+91 98765-43210", "9876543210", false},
		{"(987) 654 3210", "9876543210", false},
		{"98765", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeMobile(tt.in)
		if tt.wantErr {
			if !errors.Is(err, errs.ErrInvalidInput) {
				t.Errorf("%q: expected ErrInvalidInput, got %v", tt.in, err)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeMobile(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPatientPasswordAccepted(t *testing.T) {
	h := passhash.New(bcrypt.MinCost)
	hash, _ := h.Hash("9876543210")

	if !PatientPasswordAccepted(h, hash, "9876543210", "9876543210") {
		t.Error("stored password should be accepted")
	}
	other, _ := h.Hash("secret")
	if !PatientPasswordAccepted(h, other, "+91 9876543210", "9876543210") {
		t.Error("own mobile number should be accepted")
	}
	if !PatientPasswordAccepted(h, other, "9876543210", "secret") {
		t.Error("stored password should be accepted")
	}
	if PatientPasswordAccepted(h, other, "9876543210", "1234567890") {
		t.Error("another number must be rejected")
	}
	if PatientPasswordAccepted(h, "", "", "") {
		t.Error("empty record must be rejected")
	}
}

func TestMobile_UnmarshalNumberOrString(t *testing.T) {
	var m Mobile
	if err := m.UnmarshalJSON([]byte(`9876543210`)); err != nil || m != "9876543210" {
		t.Errorf("number: %q, %v", m, err)
	}
	if err := m.UnmarshalJSON([]byte(`"98765 43210"`)); err != nil || m != "98765 43210" {
		t.Errorf("string: %q, %v", m, err)
	}
	if err := m.UnmarshalJSON([]byte(`null`)); err != nil || m != "" {
		t.Errorf("null: %q, %v", m, err)
	}
}
