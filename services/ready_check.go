package services

import (
	"context"
	"errors"
	"time"

	"dice-duel/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResolveReadyCheck computes the ready-check outcome from the latest response of each
// slot. It returns PhaseReadyCheck while the outcome is still open.
func ResolveReadyCheck(a, b models.ReadyResponse, expired bool) models.Phase {
	switch {
	case a == models.ReadyDeclined || b == models.ReadyDeclined:
		return models.PhaseCancelled
	case a == models.ReadyAccepted && b == models.ReadyAccepted:
		return models.PhaseActive
	case expired:
		return models.PhaseCancelled
	}
	return models.PhaseReadyCheck
}

// RespondReadyCheck records one player's accept or decline. Responses that arrive after
// the check resolved are ignored.
func (s *SessionService) RespondReadyCheck(ctx context.Context, sessionID, playerID string, accept bool) (*models.MatchSession, error) {
	var fx effects
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		slot, err := participant(sess, playerID)
		if err != nil {
			return err
		}
		if sess.Phase != models.PhaseReadyCheck || sess.ReadyResolved {
			return errNoop
		}
		now := s.now()
		if now.After(sess.ReadyDeadline) {
			return s.resolveReadyLocked(tx, sess, true, now, &fx)
		}

		p := sess.Slot(slot)
		response := models.ReadyDeclined
		if accept {
			response = models.ReadyAccepted
		}
		if p.Ready == response {
			return errNoop
		}
		p.Ready = response
		s.touch(p, now)
		return s.resolveReadyLocked(tx, sess, false, now, &fx)
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

// ExpireReadyCheck fires at the ready-check deadline. The phase is re-read, so a
// deadline that races a resolution does nothing.
func (s *SessionService) ExpireReadyCheck(ctx context.Context, sessionID string) (*models.MatchSession, error) {
	var fx effects
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		now := s.now()
		if sess.Phase != models.PhaseReadyCheck || sess.ReadyResolved || now.Before(sess.ReadyDeadline) {
			return errNoop
		}
		return s.resolveReadyLocked(tx, sess, true, now, &fx)
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

func (s *SessionService) resolveReadyLocked(tx *gorm.DB, sess *models.MatchSession, expired bool, now time.Time, fx *effects) error {
	switch ResolveReadyCheck(sess.Player0.Ready, sess.Player1.Ready, expired) {
	case models.PhaseActive:
		s.activateLocked(sess, now, fx)
		return nil
	case models.PhaseCancelled:
		reason := models.EndDeclined
		if expired && sess.Player0.Ready != models.ReadyDeclined && sess.Player1.Ready != models.ReadyDeclined {
			reason = models.EndReadyTimeout
		}
		return s.cancelLocked(tx, sess, reason, now, fx)
	}
	return nil
}

func (s *SessionService) activateLocked(sess *models.MatchSession, now time.Time, fx *effects) {
	sess.Phase = models.PhaseActive
	sess.ReadyResolved = true
	// liveness starts counting when play starts
	for i := 0; i < 2; i++ {
		p := sess.Slot(i)
		p.LastHeartbeatAt = now
		p.TurnActive = i == sess.TurnOwner
	}
	fx.cancel = append(fx.cancel, readyKey(sess.ID))
	fx.emit(EventReadyCheckResolved, ReadyResolvedPayload{Outcome: models.PhaseActive})
	zap.L().Info("[ReadyCheck] session active", zap.String("session", sess.ID))
}

// cancelLocked ends a ready check without play. Players who had accepted go back to the
// queue once the cancellation commits.
func (s *SessionService) cancelLocked(tx *gorm.DB, sess *models.MatchSession, reason string, now time.Time, fx *effects) error {
	sess.Phase = models.PhaseCancelled
	sess.ReadyResolved = true
	sess.EndReason = reason
	sess.CompletedAt = &now
	if err := releasePlayers(tx, sess.ID); err != nil {
		return err
	}
	fx.cancel = append(fx.cancel, readyKey(sess.ID))
	fx.emit(EventReadyCheckResolved, ReadyResolvedPayload{Outcome: models.PhaseCancelled, Reason: reason})
	fx.archive = true

	if s.Timing.RequeueOnCancel {
		for i := 0; i < 2; i++ {
			p := sess.Slot(i)
			if p.IsBot || p.Ready != models.ReadyAccepted {
				continue
			}
			fx.requeue = append(fx.requeue, requeueRequest{
				seat:        Seat{PlayerID: p.PlayerID, Rating: p.RatingSnapshot, Premium: p.Premium},
				mode:        sess.GameMode,
				sessionType: sess.SessionType,
				region:      sess.Region,
			})
		}
	}
	zap.L().Info("[ReadyCheck] session cancelled", zap.String("session", sess.ID), zap.String("reason", reason))
	return nil
}

// readyDeadlineTask is the timer body scheduled at creation.
func (s *SessionService) readyDeadlineTask(id string) func() {
	return func() {
		ctx, cancel := background()
		defer cancel()
		if _, err := s.ExpireReadyCheck(ctx, id); err != nil && !errors.Is(err, ErrConcurrencyConflict) {
			zap.L().Warn("[ReadyCheck] deadline task failed", zap.String("session", id), zap.Error(err))
		}
	}
}
