package identity

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the login endpoints on public and the session
// endpoints on api, which must already run auth.Middleware.
func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.POST("/auth/staff/login", h.StaffLogin)
	public.POST("/auth/patient/login", h.PatientLogin)
	public.POST("/auth/owner/login", h.OwnerLogin)

	api.POST("/auth/logout", h.Logout)
	api.GET("/auth/me", h.Me)
}

type staffLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type patientLoginRequest struct {
	Identifier string `json:"identifier"`
	Mobile     string `json:"mobile"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (r patientLoginRequest) id() string {
	switch {
	case r.Identifier != "":
		return r.Identifier
	case r.Mobile != "":
		return r.Mobile
	}
	return r.Username
}

type ownerLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userView struct {
	auth.Identity
	IsActive bool `json:"isActive"`
}

type loginResponse struct {
	Success   bool          `json:"success"`
	User      *userView     `json:"user,omitempty"`
	Patient   *PatientMatch `json:"patient,omitempty"`
	Token     string        `json:"token"`
	SessionID string        `json:"sessionId"`
	ExpiresAt time.Time     `json:"expiresAt"`
}

func newLoginResponse(res *LoginResult) loginResponse {
	out := loginResponse{
		Success:   true,
		Token:     res.Token,
		SessionID: res.SessionID,
		ExpiresAt: res.ExpiresAt,
	}
	if res.Patient != nil {
		out.Patient = res.Patient
	} else {
		out.User = &userView{Identity: res.Identity, IsActive: true}
	}
	return out
}

func (h *Handler) StaffLogin(c echo.Context) error {
	var req staffLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.StaffLogin(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, newLoginResponse(res))
}

func (h *Handler) PatientLogin(c echo.Context) error {
	var req patientLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.PatientLogin(c.Request().Context(), req.id(), req.Password)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, newLoginResponse(res))
}

func (h *Handler) OwnerLogin(c echo.Context) error {
	var req ownerLoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := h.svc.OwnerLogin(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, newLoginResponse(res))
}

func (h *Handler) Logout(c echo.Context) error {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	if err := h.svc.Logout(c.Request().Context(), id); err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(c echo.Context) error {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "user": id})
}
