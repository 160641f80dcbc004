package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mediclo/mediclo/internal/platform/auth"
)

func newTestHandler(t *testing.T) (*Handler, *fixture, *SessionService, *echo.Echo) {
	t.Helper()
	f := newFixture(t)
	sessions := NewSessionService(NewDocstoreSessionRepo(f.store), time.Hour, f.logger)
	tokens := auth.NewTokenIssuer([]byte("test-signing-key-test-signing-key"), "mediclo", time.Hour)
	svc := NewService(f.resolver, sessions, tokens, f.logger)
	return NewHandler(svc), f, sessions, echo.New()
}

func postJSON(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_StaffLogin(t *testing.T) {
	h, f, sessions, e := newTestHandler(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")

	c, rec := postJSON(e, `{"username":"  SpotLa@Pharmacy ","password":"pharmacypass"}`)
	if err := h.StaffLogin(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Success   bool   `json:"success"`
		Token     string `json:"token"`
		SessionID string `json:"sessionId"`
		User      struct {
			TenantID string `json:"tenantId"`
			Role     string `json:"role"`
			IsActive bool   `json:"isActive"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Token == "" || resp.SessionID == "" {
		t.Errorf("incomplete response: %s", rec.Body.String())
	}
	if resp.User.TenantID != "t1" || resp.User.Role != "pharmacy" || !resp.User.IsActive {
		t.Errorf("user = %+v", resp.User)
	}
	if _, err := sessions.Get(context.Background(), resp.SessionID); err != nil {
		t.Errorf("session not stored: %v", err)
	}
	if strings.Contains(rec.Body.String(), "passwordHash") {
		t.Error("response leaks password hash")
	}
}

func TestHandler_StaffLogin_InvalidCredentials(t *testing.T) {
	h, f, _, e := newTestHandler(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")

	c, _ := postJSON(e, `{"username":"spotla@lab","password":"nope"}`)
	err := h.StaffLogin(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Code != http.StatusUnauthorized || he.Message != "invalid credentials" {
		t.Errorf("got %d %v", he.Code, he.Message)
	}
	if !strings.Contains(f.logs.String(), "login failed") {
		t.Error("failed login should be logged")
	}
	if strings.Contains(f.logs.String(), "nope") {
		t.Error("password must never be logged")
	}
}

func TestHandler_StaffLogin_BadRequest(t *testing.T) {
	h, _, _, e := newTestHandler(t)

	c, _ := postJSON(e, `{"username":`)
	err := h.StaffLogin(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}

	c, _ = postJSON(e, `{"username":"spotla@admin","password":"x"}`)
	err = h.StaffLogin(c)
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role suffix, got %v", err)
	}
}

func TestHandler_PatientLogin(t *testing.T) {
	h, f, _, e := newTestHandler(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")
	f.seedPatient(t, "t1", "P00001", "9876543210", "spotla@p1", "secret")

	c, rec := postJSON(e, `{"mobile":"98765 43210","password":"9876543210"}`)
	if err := h.PatientLogin(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Success bool         `json:"success"`
		Patient PatientMatch `json:"patient"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Success || resp.Patient.PatientID != "P00001" || resp.Patient.TenantID != "t1" {
		t.Errorf("response = %s", rec.Body.String())
	}
}

func TestHandler_OwnerLogin(t *testing.T) {
	h, f, _, e := newTestHandler(t)
	f.seedTenant(t, "t1", "Spot Labs", "spotla")

	c, rec := postJSON(e, `{"email":"owner@spotla.test","password":"ownerpass"}`)
	if err := h.OwnerLogin(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"role":"owner"`) {
		t.Errorf("response = %s", rec.Body.String())
	}
}

func TestHandler_MeAndLogout(t *testing.T) {
	h, _, sessions, e := newTestHandler(t)
	ctx := context.Background()

	sid, _ := sessions.Create(ctx, labIdentity)
	id := labIdentity
	id.SessionID = sid

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	rec := httptest.NewRecorder()
	if err := h.Me(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Me: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"tenantId":"t1"`) {
		t.Errorf("Me = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), id))
	rec = httptest.NewRecorder()
	if err := h.Logout(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := sessions.Get(ctx, sid); err == nil {
		t.Error("session should be gone after logout")
	}
}

func TestHandler_Me_Unauthenticated(t *testing.T) {
	h, _, _, e := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	err := h.Me(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
