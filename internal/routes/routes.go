package routes

import (
	"github.com/kurosaki/mentions/internal/handlers"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func New(h *handlers.Handler) *echo.Echo {
	router := echo.New()
	router.HideBanner = true
	router.Use(middleware.Logger())
	router.Use(middleware.Recover())

	api := router.Group("/api")
	api.POST("/jobs", h.AddJob)
	api.GET("/jobs", h.ListJobs)
	api.GET("/jobs/:id", h.GetJob)
	api.PATCH("/jobs/:id", h.RenameJob)
	api.POST("/jobs/:id/cancel", h.CancelJob)
	api.POST("/jobs/:id/recollect", h.RecollectJob)
	api.GET("/jobs/:id/results", h.Results)
	api.GET("/jobs/:id/download", h.Download)
	api.GET("/youtube/video", h.Video)
	// kept for clients of the crawler's original endpoint
	api.POST("/addJob", h.AddJob)
	return router
}
