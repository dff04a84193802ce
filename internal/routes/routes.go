package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/marminbh/eventsync-svc/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, healthHandler *handlers.HealthHandler, syncHandler *handlers.SyncHandler) {
	app.Get("/health", healthHandler.HealthCheck)

	api := app.Group("/api/v1")
	{
		api.Get("/", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{
				"message": "Event Sync Service API v1",
				"status":  "running",
			})
		})

		sync := api.Group("/sync")
		sync.Get("/health", syncHandler.GetHealth)
		sync.Get("/entries", syncHandler.GetEntries)
		sync.Get("/entries/:id", syncHandler.GetEntry)
		sync.Post("/retry", syncHandler.PostRetry)
		sync.Post("/events", syncHandler.PostEvent)
	}
}
