package objectstore

import (
	"errors"
	"net/http"
	"net/url"
	"path"

	"github.com/labstack/echo/v4"
)

// Handler serves objects of a Store over HTTP so that URLs issued by
// MemoryStore are retrievable.
type Handler struct {
	store Store
}

// NewHandler creates a new Handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes mounts GET /objects/* on the supplied Echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/objects/*", h.handleDownload)
}

func (h *Handler) handleDownload(c echo.Context) error {
	key, err := url.PathUnescape(c.Param("*"))
	if err != nil || key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid object key"})
	}

	obj, err := h.store.Get(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "object not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}

	ct := obj.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Response().Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	return c.Blob(http.StatusOK, ct, obj.Data)
}
