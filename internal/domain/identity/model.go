package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mediclo/mediclo/internal/platform/auth"
)

// PortalTenant is the tenant scope given to self-registered portal patients,
// who do not belong to any clinic.
const PortalTenant = "portal"

// Tenant is a clinic or lab. Every other record is namespaced by its id.
type Tenant struct {
	ID         string    `json:"-"`
	Name       string    `json:"name"`
	Prefix     string    `json:"prefix,omitempty"`
	OwnerEmail string    `json:"ownerEmail"`
	CreatedAt  time.Time `json:"createdAt"`
	IsActive   bool      `json:"isActive"`
}

// Owner is the tenant owner's login record, stored at owners/{tenantId}.
type Owner struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
	Name         string `json:"name"`
	IsActive     bool   `json:"isActive"`
}

// Account is a staff or doctor credential record.
type Account struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	Role         auth.Role `json:"role"`
	Name         string    `json:"name"`
	IsActive     bool      `json:"isActive"`
	DoctorID     string    `json:"doctorId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Mobile is a phone number as stored on a patient record. Older records hold
// it as a JSON number, so both encodings are accepted on read.
type Mobile string

func (m *Mobile) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = Mobile(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("mobile: %w", err)
	}
	*m = Mobile(n.String())
	return nil
}

// PatientCredentials is the login sub-record of a patient.
type PatientCredentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

// Patient is a clinic patient record at patients/{tenantId}/{patientId}.
type Patient struct {
	ID          string             `json:"-"`
	Name        string             `json:"name"`
	Mobile      Mobile             `json:"mobile"`
	Age         int                `json:"age,omitempty"`
	Gender      string             `json:"gender,omitempty"`
	Address     string             `json:"address,omitempty"`
	Credentials PatientCredentials `json:"credentials"`
	IsActive    bool               `json:"isActive"`
	CreatedAt   time.Time          `json:"createdAt"`
}

// PortalPatient is a self-registered patient keyed by mobile number.
type PortalPatient struct {
	Mobile       string    `json:"mobile"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UsernameIndex maps a username to the tenant and record that own it.
type UsernameIndex struct {
	TenantID  string    `json:"tenantId"`
	Role      auth.Role `json:"role"`
	DoctorID  string    `json:"doctorId,omitempty"`
	PatientID string    `json:"patientId,omitempty"`
}

// PatientMatch is the outcome of a successful patient login.
type PatientMatch struct {
	TenantID  string `json:"tenantId"`
	PatientID string `json:"patientId"`
	Name      string `json:"name"`
	Mobile    string `json:"mobile"`
	Username  string `json:"username,omitempty"`
	Portal    bool   `json:"portal,omitempty"`
}

// Session is a server-side login session.
type Session struct {
	ID           string    `json:"sessionId"`
	SubjectID    string    `json:"subjectId"`
	TenantID     string    `json:"tenantId"`
	Role         auth.Role `json:"role"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	DoctorID     string    `json:"doctorId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Identity returns the request identity the session was created for.
func (s *Session) Identity() auth.Identity {
	return auth.Identity{
		SubjectID: s.SubjectID,
		TenantID:  s.TenantID,
		Role:      s.Role,
		Username:  s.Username,
		Name:      s.Name,
		DoctorID:  s.DoctorID,
		SessionID: s.ID,
	}
}
