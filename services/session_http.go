package services

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

type readyRequest struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"player"`
	Accept    bool   `json:"accept"`
}

type actionRequest struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"player"`
	ActionID  string `json:"actionId"`
}

type heartbeatRequest struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"player"`
	// client clock, informational only
	TS int64 `json:"ts"`
}

type rejoinRequest struct {
	ContinuityToken string `json:"continuityToken"`
	PlayerID        string `json:"player"`
}

func (s *SessionService) parseAction(c *fiber.Ctx) (actionRequest, error) {
	var req actionRequest
	if err := parseBody(c, &req); err != nil {
		return req, err
	}
	if req.SessionID == "" {
		return req, newError(KindValidation, "sessionId is required")
	}
	player, err := actingPlayer(c, req.PlayerID)
	if err != nil {
		return req, err
	}
	req.PlayerID = player
	return req, nil
}

// RespondReadyHandler handles POST /session/readyCheck/respond.
func (s *SessionService) RespondReadyHandler(c *fiber.Ctx) error {
	var req readyRequest
	if err := parseBody(c, &req); err != nil {
		return RespondError(c, err)
	}
	player, err := actingPlayer(c, req.PlayerID)
	if err != nil {
		return RespondError(c, err)
	}
	sess, err := s.RespondReadyCheck(c.UserContext(), req.SessionID, player, req.Accept)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"session": viewRecord(sess, player)})
}

// RollHandler handles POST /session/action/roll.
func (s *SessionService) RollHandler(c *fiber.Ctx) error {
	req, err := s.parseAction(c)
	if err != nil {
		return RespondError(c, err)
	}
	res, err := s.Roll(c.UserContext(), req.SessionID, req.PlayerID, req.ActionID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"session":  viewRecord(res.Session, req.PlayerID),
		"roll":     res.Roll,
		"replayed": res.Replayed,
	})
}

// BankHandler handles POST /session/action/bank.
func (s *SessionService) BankHandler(c *fiber.Ctx) error {
	return s.commitHandler(c, s.Bank)
}

// AttackHandler handles POST /session/action/attack.
func (s *SessionService) AttackHandler(c *fiber.Ctx) error {
	return s.commitHandler(c, s.Attack)
}

type commitFunc func(ctx context.Context, sessionID, playerID, actionID string) (*ActionResult, error)

func (s *SessionService) commitHandler(c *fiber.Ctx, commit commitFunc) error {
	req, err := s.parseAction(c)
	if err != nil {
		return RespondError(c, err)
	}
	res, err := commit(c.UserContext(), req.SessionID, req.PlayerID, req.ActionID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"session":  viewRecord(res.Session, req.PlayerID),
		"bank":     res.Bank,
		"replayed": res.Replayed,
	})
}

// ForfeitHandler handles POST /session/action/forfeit.
func (s *SessionService) ForfeitHandler(c *fiber.Ctx) error {
	req, err := s.parseAction(c)
	if err != nil {
		return RespondError(c, err)
	}
	sess, err := s.Forfeit(c.UserContext(), req.SessionID, req.PlayerID)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{"session": viewRecord(sess, req.PlayerID)})
}

// HeartbeatHandler handles POST /session/heartbeat.
func (s *SessionService) HeartbeatHandler(c *fiber.Ctx) error {
	var req heartbeatRequest
	if err := parseBody(c, &req); err != nil {
		return RespondError(c, err)
	}
	player, err := actingPlayer(c, req.PlayerID)
	if err != nil {
		return RespondError(c, err)
	}
	sess, err := s.Heartbeat(c.UserContext(), req.SessionID, player)
	if err != nil {
		return RespondError(c, err)
	}
	return c.JSON(fiber.Map{
		"ok":         true,
		"phase":      sess.Phase,
		"version":    sess.Version,
		"serverTime": s.now(),
	})
}

// RejoinHandler handles POST /session/rejoin.
func (s *SessionService) RejoinHandler(c *fiber.Ctx) error {
	var req rejoinRequest
	if err := parseBody(c, &req); err != nil {
		return RespondError(c, err)
	}
	userID, _ := c.Locals("user_id").(string)
	if userID == "" {
		userID = req.PlayerID
	}
	sess, err := s.Rejoin(c.UserContext(), req.ContinuityToken, userID)
	if err != nil {
		return RespondError(c, err)
	}
	viewer := sess.Slot(sess.SlotOfToken(req.ContinuityToken)).PlayerID
	return c.JSON(fiber.Map{"session": viewRecord(sess, viewer)})
}

// GetSessionHandler handles GET /session/:id.
func (s *SessionService) GetSessionHandler(c *fiber.Ctx) error {
	sess, err := s.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return RespondError(c, err)
	}
	viewer, _ := c.Locals("user_id").(string)
	return c.JSON(viewRecord(sess, viewer))
}

// PlayerSessionHandler handles GET /players/:id/session.
func (s *SessionService) PlayerSessionHandler(c *fiber.Ctx) error {
	player := c.Params("id")
	sess, err := s.CurrentFor(c.UserContext(), player)
	if err != nil {
		return RespondError(c, err)
	}
	viewer, _ := c.Locals("user_id").(string)
	return c.JSON(viewRecord(sess, viewer))
}
