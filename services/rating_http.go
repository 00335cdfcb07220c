package services

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// GetRatingHandler handles GET /ratings/:id.
func (s *RatingService) GetRatingHandler(c *fiber.Ctx) error {
	r, err := s.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"rating":    r,
		"tier_name": r.Tier.String(),
		"win_rate":  r.WinRate(),
	})
}

// HistoryHandler handles GET /ratings/:id/history?limit=N.
func (s *RatingService) HistoryHandler(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	results, err := s.History(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"matches": results})
}

// LeaderboardHandler handles GET /leaderboard?limit=N.
func (s *RatingService) LeaderboardHandler(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	top, err := s.Leaderboard(c.UserContext(), limit)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"leaderboard": top})
}
