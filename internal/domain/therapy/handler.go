package therapy

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cancervariants/therapy-term-normalization/pkg/pagination"
)

// Handler provides REST endpoints over the query service.
type Handler struct {
	svc *Service
}

// NewHandler creates a new therapy handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers therapy routes on the API group.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/therapy")
	g.GET("/search", h.Search)
	g.GET("/concepts/:conceptID", h.GetConcept)
	g.GET("/sources/:name", h.GetSourceMeta)
}

// Search handles GET /api/v1/therapy/search?q=...
func (h *Handler) Search(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter 'q' is required")
	}
	result, err := h.svc.Search(c.Request().Context(), query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	params := pagination.FromContext(c)
	if len(result.Matches) > params.Limit {
		result.Matches = result.Matches[:params.Limit]
	}
	if len(result.Records) > params.Limit {
		result.Records = result.Records[:params.Limit]
	}
	return c.JSON(http.StatusOK, result)
}

// GetConcept handles GET /api/v1/therapy/concepts/:conceptID
func (h *Handler) GetConcept(c echo.Context) error {
	rec, err := h.svc.GetConcept(c.Request().Context(), c.Param("conceptID"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// GetSourceMeta handles GET /api/v1/therapy/sources/:name
func (h *Handler) GetSourceMeta(c echo.Context) error {
	meta, err := h.svc.SourceMeta(c.Request().Context(), SourceName(c.Param("name")))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, meta)
}
