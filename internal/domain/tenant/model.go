package tenant

import (
	"time"

	"github.com/mediclo/mediclo/internal/domain/identity"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

// Bounds of a password chosen on reset or registration.
const (
	MinPasswordLen = 6
	MaxPasswordLen = 72
)

// generatedPasswordLen is the length of initial and recovered passwords.
const generatedPasswordLen = 10

// RegisterRequest creates a tenant with its owner.
type RegisterRequest struct {
	Name          string `json:"name"`
	OwnerEmail    string `json:"email"`
	OwnerPassword string `json:"password"`
	OwnerName     string `json:"ownerName"`
}

// Credential is a freshly issued login. Password is only ever returned once.
type Credential struct {
	Username  string    `json:"username"`
	Role      auth.Role `json:"role"`
	Password  string    `json:"password"`
	DoctorID  string    `json:"doctorId,omitempty"`
	PatientID string    `json:"patientId,omitempty"`
}

// Registration is the result of Register.
type Registration struct {
	TenantID    string       `json:"tenantId"`
	Name        string       `json:"name"`
	Prefix      string       `json:"prefix"`
	OwnerEmail  string       `json:"ownerEmail"`
	Credentials []Credential `json:"credentials"`
}

// DoctorRequest adds a doctor to the caller's tenant.
type DoctorRequest struct {
	Name           string  `json:"name"`
	Specialization string  `json:"specialization"`
	Fee            float64 `json:"fee,omitempty"`
}

// Doctor is the doctor profile stored at doctors/{tenantId}/{doctorId}.
type Doctor struct {
	ID             string    `json:"-"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization,omitempty"`
	Fee            float64   `json:"fee,omitempty"`
	Username       string    `json:"username"`
	CreatedAt      time.Time `json:"createdAt"`
}

// PatientRequest adds a patient to the caller's tenant.
type PatientRequest struct {
	Name    string `json:"name"`
	Mobile  string `json:"mobile"`
	Age     int    `json:"age,omitempty"`
	Gender  string `json:"gender,omitempty"`
	Address string `json:"address,omitempty"`
}

// PortalRequest self-registers a patient on the portal.
type PortalRequest struct {
	Mobile   string `json:"mobile"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// accountKind tells where a located account lives.
type accountKind int

const (
	kindStaff accountKind = iota
	kindOwner
	kindPatient
)

// located is an account found by username inside one tenant.
type located struct {
	kind      accountKind
	tenantID  string
	username  string
	role      auth.Role
	staff     *identity.Account // kindStaff only
	patientID string            // kindPatient only
}
