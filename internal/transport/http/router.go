package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter sets up all Echo routes and middleware.
func NewRouter(h *Handler, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Content-Type"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
	}))

	e.GET("/health", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// REST endpoints
	e.GET("/notifications", h.ListNotifications)
	e.POST("/notifications/refresh", h.Refresh)
	e.PATCH("/notifications/:id/read", h.MarkRead)
	e.POST("/notifications/read-all", h.MarkAllRead)
	e.DELETE("/notifications/:id", h.Delete)
	e.GET("/settings", h.GetSettings)
	e.PATCH("/settings", h.UpdateSettings)

	// SSE endpoint
	e.GET("/notifications/stream", h.Stream)

	return e
}
