package handlers

import (
	"dice-duel/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupRatingRoutes(app *fiber.App, ratingService *services.RatingService) {
	app.Get("/ratings/:id", ratingService.GetRatingHandler)
	app.Get("/ratings/:id/history", ratingService.HistoryHandler)
	app.Get("/leaderboard", ratingService.LeaderboardHandler)
}

// SetupHealthRoutes registers GET /healthz, which pings the database.
func SetupHealthRoutes(app *fiber.App, db *gorm.DB) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
