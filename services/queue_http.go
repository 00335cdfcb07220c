package services

import (
	"github.com/gofiber/fiber/v2"
)

type leaveRequest struct {
	PlayerID string `json:"player"`
	Mode     string `json:"mode"`
}

// JoinHandler handles POST /queue/join.
func (q *QueueService) JoinHandler(c *fiber.Ctx) error {
	var req JoinRequest
	if err := parseBody(c, &req); err != nil {
		return RespondError(c, err)
	}
	player, err := actingPlayer(c, req.PlayerID)
	if err != nil {
		return RespondError(c, err)
	}
	req.PlayerID = player

	entry, err := q.Join(c.UserContext(), req)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"queued": entry})
}

// LeaveHandler handles POST /queue/leave.
func (q *QueueService) LeaveHandler(c *fiber.Ctx) error {
	var req leaveRequest
	if err := parseBody(c, &req); err != nil {
		return RespondError(c, err)
	}
	player, err := actingPlayer(c, req.PlayerID)
	if err != nil {
		return RespondError(c, err)
	}
	removed, err := q.Leave(c.UserContext(), player, req.Mode)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "removed": removed})
}

// EntriesHandler handles GET /queue/:player.
func (q *QueueService) EntriesHandler(c *fiber.Ctx) error {
	entries, err := q.Entries(c.UserContext(), c.Params("player"))
	if err != nil {
		return RespondError(c, err)
	}
	if len(entries) == 0 {
		return RespondError(c, newError(KindQueueEntryNotFound, "player %s is not queued", c.Params("player")))
	}
	return c.JSON(fiber.Map{"entries": entries})
}
