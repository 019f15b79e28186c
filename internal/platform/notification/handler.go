package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/codeDulan/Dispensary-Management-System/internal/platform/auth"
)

// Handler exposes notification counters over HTTP.
type Handler struct {
	notifier *Notifier
}

// NewHandler creates a Handler for n.
func NewHandler(n *Notifier) *Handler {
	return &Handler{notifier: n}
}

// RegisterRoutes mounts the admin-only stats route.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleAdmin))
	g.GET("/stats", h.HandleStats)
}

// HandleStats returns the notifier counters.
func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.notifier.Stats())
}
