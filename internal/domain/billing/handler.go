package billing

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
	"github.com/mediclo/mediclo/pkg/pagination"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole(auth.RoleOwner, auth.RoleReceptionist, auth.RolePharmacy, auth.RoleLab))
	g.POST("/billing/preview", h.Preview)
	g.POST("/invoices", h.CreateInvoice)
	g.GET("/invoices", h.ListInvoices)
	g.GET("/invoices/export", h.ExportInvoices)
	g.GET("/invoices/:id", h.GetInvoice)
}

func callerOf(c echo.Context) (auth.Identity, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return auth.Identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	return id, nil
}

func (h *Handler) Preview(c echo.Context) error {
	var req InvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inv, violations := h.svc.Preview(req)
	if violations == nil {
		violations = []Violation{}
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "invoice": inv, "violations": violations})
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	var req InvoiceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	inv, err := h.svc.CreateInvoice(c.Request().Context(), caller, req)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":      "invoice failed validation",
				"violations": verr.Violations,
			})
		}
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "invoice": inv})
}

func (h *Handler) GetInvoice(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), caller, c.Param("id"))
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	all, err := h.svc.ListInvoices(c.Request().Context(), caller)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Slice(all, pg), len(all), pg.Limit, pg.Offset))
}

func (h *Handler) ExportInvoices(c echo.Context) error {
	caller, err := callerOf(c)
	if err != nil {
		return err
	}
	data, err := h.svc.ExportInvoices(c.Request().Context(), caller)
	if err != nil {
		return errs.HTTPError(err)
	}
	name := fmt.Sprintf("invoices-%s.xlsx", h.svc.now().UTC().Format("2006-01-02"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, xlsxMIME, data)
}
