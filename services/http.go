package services

import (
	"github.com/gofiber/fiber/v2"

	"dice-duel/models"
)

// actingPlayer resolves who performs a request. The gateway-provided X-User-ID wins and
// must agree with the player named in the body.
func actingPlayer(c *fiber.Ctx, bodyPlayer string) (string, error) {
	userID, _ := c.Locals("user_id").(string)
	switch {
	case userID != "" && bodyPlayer != "" && userID != bodyPlayer:
		return "", newError(KindNotParticipant, "body player does not match caller")
	case userID != "":
		return userID, nil
	case bodyPlayer != "":
		return bodyPlayer, nil
	}
	return "", newError(KindValidation, "player is required")
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return wrapError(KindValidation, "invalid JSON", err)
	}
	return nil
}

func viewRecord(sess *models.MatchSession, viewer string) models.SessionRecord {
	return sess.ToRecord().Redacted(viewer)
}
