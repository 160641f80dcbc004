package backup

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mediclo/mediclo/internal/errs"
	"github.com/mediclo/mediclo/internal/platform/auth"
)

type Handler struct {
	engine        *Engine
	retentionDays int
}

func NewHandler(engine *Engine, retentionDays int) *Handler {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Handler{engine: engine, retentionDays: retentionDays}
}

// RegisterRoutes mounts the owner-only backup administration endpoints.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/admin/backups", auth.RequireRole(auth.RoleOwner))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.POST("/restore", h.Restore)
	g.POST("/sweep", h.Sweep)
}

func tenantOf(c echo.Context) (string, error) {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing credentials")
	}
	return id.TenantID, nil
}

type createRequest struct {
	Kind string `json:"kind"`
}

func (h *Handler) Create(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	kind := KindManual
	if req.Kind != "" {
		if kind, err = ParseKind(req.Kind); err != nil {
			return errs.HTTPError(err)
		}
	}
	entry, err := h.engine.Run(c.Request().Context(), tenantID, kind)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), "backup failed").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"success": true, "backup": entry})
}

func (h *Handler) List(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var kind Kind
	if q := c.QueryParam("kind"); q != "" {
		if kind, err = ParseKind(q); err != nil {
			return errs.HTTPError(err)
		}
	}
	entries, err := h.engine.List(c.Request().Context(), tenantID, kind)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "backups": entries})
}

type restoreRequest struct {
	URL     string `json:"url"`
	Path    string `json:"path"`
	Confirm bool   `json:"confirm"`
}

// Restore overwrites the tenant's categories from one of its own stored
// backups, named either by download URL or object path. A manual safety
// backup is taken first. Failures carry the underlying message.
func (h *Handler) Restore(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req restoreRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.Confirm {
		return echo.NewHTTPError(http.StatusBadRequest, "restore overwrites current data; set confirm to true")
	}

	ctx := c.Request().Context()
	var snap *Snapshot
	switch {
	case strings.TrimSpace(req.Path) != "":
		snap, err = h.engine.Load(ctx, tenantID, strings.TrimSpace(req.Path))
	case strings.TrimSpace(req.URL) != "":
		snap, err = h.engine.Download(ctx, tenantID, strings.TrimSpace(req.URL))
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "url or path is required")
	}
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error()).SetInternal(err)
	}

	safety, err := h.engine.SafeRestore(ctx, tenantID, snap)
	if err != nil {
		return echo.NewHTTPError(errs.HTTPStatus(err), err.Error()).SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "restoredFrom": snap.Timestamp, "safetyBackup": safety})
}

type sweepRequest struct {
	RetentionDays int `json:"retentionDays"`
}

func (h *Handler) Sweep(c echo.Context) error {
	tenantID, err := tenantOf(c)
	if err != nil {
		return err
	}
	var req sweepRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	days := req.RetentionDays
	if days == 0 {
		days = h.retentionDays
	}
	deleted, err := h.engine.DeleteOld(c.Request().Context(), tenantID, days)
	if err != nil {
		return errs.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "deleted": deleted, "retentionDays": days})
}
