package tenant

import (
	"net/http"

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

// RegisterRoutes mounts registration on public and account administration
// on api, which must already run auth.Middleware.
func (h *Handler) RegisterRoutes(public *echo.Group, api *echo.Group) {
	public.POST("/tenants", h.Register)
	public.POST("/portal/register", h.RegisterPortal)

	front := api.Group("", auth.RequireRole(auth.RoleOwner, auth.RoleReceptionist))
	front.POST("/doctors", h.AddDoctor)
	front.POST("/patients", h.AddPatient)

	api.POST("/auth/reset-password", h.ResetPassword)

	owner := api.Group("", auth.RequireRole(auth.RoleOwner))
	owner.POST("/auth/get-password", h.RecoverPassword)
	owner.POST("/accounts/active", h.SetAccountActive)
}

func callerOf(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	return id, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	reg, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "tenant": reg})
}

func (h *Handler) RegisterPortal(c echo.Context) error {
	var req PortalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.RegisterPortalPatient(c.Request().Context(), req); err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]bool{"success": true})
}

func (h *Handler) AddDoctor(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req DoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cred, err := h.svc.AddDoctor(c.Request().Context(), caller, req)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "credential": cred})
}

func (h *Handler) AddPatient(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req PatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cred, err := h.svc.AddPatient(c.Request().Context(), caller, req)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "credential": cred})
}

type resetPasswordRequest struct {
	Username    string `json:"username"`
	NewPassword string `json:"newPassword"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.ResetPassword(c.Request().Context(), caller, req.Username, req.NewPassword); err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

type usernameRequest struct {
	Username string `json:"username"`
	Active   *bool  `json:"active,omitempty"`
}

func (h *Handler) RecoverPassword(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req usernameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	pw, err := h.svc.RecoverPassword(c.Request().Context(), caller, req.Username)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "username": req.Username, "password": pw})
}

func (h *Handler) SetAccountActive(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req usernameRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	if err := h.svc.SetAccountActive(c.Request().Context(), caller, req.Username, *req.Active); err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
