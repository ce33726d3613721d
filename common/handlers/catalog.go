package handlers

import (
	"encoding/base64"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/noetl/noetl/common/catalog"
	"github.com/noetl/noetl/common/logger"
	"github.com/noetl/noetl/common/playbook"
)

// CatalogHandler serves the Catalog component's HTTP surface (spec.md §6):
// register, list and changelog.
type CatalogHandler struct {
	catalog catalog.Client
	log     *logger.Logger
}

// NewCatalogHandler wires a CatalogHandler to its Catalog client.
func NewCatalogHandler(client catalog.Client, log *logger.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: client, log: log}
}

type registerRequest struct {
	Content        string `json:"content"`
	ContentBase64  string `json:"content_base64"`
	ResourceType   string `json:"resource_type"`
}

// Register handles POST /api/catalog/register.
func (h *CatalogHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	content := req.Content
	if content == "" && req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid content_base64")
		}
		content = string(decoded)
	}
	if content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content or content_base64 is required")
	}

	pb, err := playbook.Parse([]byte(content))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid playbook: "+err.Error())
	}

	entry, err := h.catalog.Register(c.Request().Context(), pb.Name, pb.Version, content)
	if err != nil {
		if err == catalog.ErrAlreadyRegistered {
			return echo.NewHTTPError(http.StatusConflict, "version already registered")
		}
		h.log.Error("catalog register failed", "path", pb.Name, "version", pb.Version, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to register playbook")
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"resource_path":    entry.ResourcePath,
		"resource_version": entry.ResourceVersion,
	})
}

// List handles GET /api/catalog/list?resource_type=.
func (h *CatalogHandler) List(c echo.Context) error {
	path := c.QueryParam("path")
	entries, err := h.catalog.List(c.Request().Context(), path)
	if err != nil {
		h.log.Error("catalog list failed", "path", path, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list catalog entries")
	}

	resourceType := c.QueryParam("resource_type")
	if resourceType != "" {
		filtered := entries[:0]
		for _, e := range entries {
			if e.ResourceType == resourceType {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return c.JSON(http.StatusOK, map[string]any{"entries": entries})
}

// Changelog handles GET /api/catalog/changelog?path=&from=&to=, a
// supplemented endpoint (original_source exposes a version diff the
// distilled spec prose omits; the Catalog component already computes it).
func (h *CatalogHandler) Changelog(c echo.Context) error {
	path := c.QueryParam("path")
	from := c.QueryParam("from")
	to := c.QueryParam("to")
	if path == "" || to == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "path and to are required")
	}

	patch, err := h.catalog.Changelog(c.Request().Context(), path, from, to)
	if err != nil {
		if err == catalog.ErrNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "version not found")
		}
		h.log.Error("catalog changelog failed", "path", path, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to compute changelog")
	}

	return c.JSONBlob(http.StatusOK, patch)
}
