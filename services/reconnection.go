package services

import (
	"context"
	"errors"
	"time"

	"dice-duel/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StaleSlots returns the human slots whose last heartbeat is older than staleAfter.
func StaleSlots(sess *models.MatchSession, now time.Time, staleAfter time.Duration) []int {
	var stale []int
	for i := 0; i < 2; i++ {
		p := sess.Slot(i)
		if p.IsBot {
			continue
		}
		if now.Sub(p.LastHeartbeatAt) > staleAfter {
			stale = append(stale, i)
		}
	}
	return stale
}

// disconnectedSlots returns slots the pause marked as gone.
func disconnectedSlots(sess *models.MatchSession) []int {
	var out []int
	for i := 0; i < 2; i++ {
		if sess.Slot(i).Connection == models.Disconnected {
			out = append(out, i)
		}
	}
	return out
}

// Heartbeat records liveness for a player. The server clock is authoritative. A paused
// session resumes once no slot is marked disconnected.
func (s *SessionService) Heartbeat(ctx context.Context, sessionID, playerID string) (*models.MatchSession, error) {
	var fx effects
	sess, err := retryIdempotent(ctx, func() (*models.MatchSession, error) {
		return s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
			fx = effects{}
			slot, err := participant(sess, playerID)
			if err != nil {
				return err
			}
			if sess.Phase.Terminal() {
				return errNoop
			}
			now := s.now()
			s.touch(sess.Slot(slot), now)
			s.resumeIfReconnected(sess, &fx)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

// Rejoin reattaches a client after a full disconnect using its continuity token. When
// playerID is set it must own the token.
func (s *SessionService) Rejoin(ctx context.Context, token, playerID string) (*models.MatchSession, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	found, err := s.Store.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	var fx effects
	sess, err := s.Store.Mutate(ctx, found.ID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		slot := sess.SlotOfToken(token)
		if slot == models.NoSlot {
			return ErrInvalidToken
		}
		p := sess.Slot(slot)
		if playerID != "" && playerID != p.PlayerID {
			return newError(KindNotParticipant, "token does not belong to %s", playerID)
		}
		now := s.now()
		if sess.Phase.Terminal() {
			return newError(KindTokenExpired, "session %s has ended, queue again", sess.ID)
		}
		if now.After(p.TokenExpiresAt) {
			return newError(KindTokenExpired, "continuity token expired, queue again")
		}
		s.touch(p, now)
		s.resumeIfReconnected(sess, &fx)
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("[Reconnect] player rejoined", zap.String("session", sess.ID), zap.String("phase", string(sess.Phase)))
	s.apply(ctx, sess, &fx)
	return sess, nil
}

func (s *SessionService) resumeIfReconnected(sess *models.MatchSession, fx *effects) {
	if sess.Phase != models.PhasePaused || len(disconnectedSlots(sess)) > 0 {
		return
	}
	sess.Phase = models.PhaseActive
	clearPause(sess)
	fx.cancel = append(fx.cancel, pauseKey(sess.ID))
	fx.emit(EventSessionResumed, nil)
	zap.L().Info("[Reconnect] session resumed", zap.String("session", sess.ID))
}

// ScanLiveness pauses every active session with a stale human heartbeat.
func (s *SessionService) ScanLiveness(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.Timing.HeartbeatStaleAfter)
	candidates, err := s.Store.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	paused := 0
	for _, c := range candidates {
		sess, err := s.PauseIfStale(ctx, c.ID)
		if err != nil {
			if !errors.Is(err, ErrConcurrencyConflict) {
				zap.L().Warn("[Liveness] pause failed", zap.String("session", c.ID), zap.Error(err))
			}
			continue
		}
		if sess.Phase == models.PhasePaused {
			paused++
		}
	}
	return paused, nil
}

// PauseIfStale pauses an active session when a human heartbeat went stale.
func (s *SessionService) PauseIfStale(ctx context.Context, sessionID string) (*models.MatchSession, error) {
	var fx effects
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		if sess.Phase != models.PhaseActive {
			return errNoop
		}
		now := s.now()
		stale := StaleSlots(sess, now, s.Timing.HeartbeatStaleAfter)
		if len(stale) == 0 {
			return errNoop
		}
		deadline := now.Add(s.Timing.PauseGrace)
		ids := make([]string, 0, len(stale))
		for _, i := range stale {
			sess.Slot(i).Connection = models.Disconnected
			ids = append(ids, sess.Slot(i).PlayerID)
		}
		sess.Phase = models.PhasePaused
		sess.PauseReason = models.PauseHeartbeat
		sess.PausedAt = &now
		sess.PauseDeadline = &deadline

		id := sess.ID
		fx.schedule = append(fx.schedule, scheduledTask{key: pauseKey(id), at: deadline, task: func() {
			ctx, cancel := background()
			defer cancel()
			if _, err := s.ExpirePause(ctx, id); err != nil && !errors.Is(err, ErrConcurrencyConflict) {
				zap.L().Warn("[Reconnect] pause deadline task failed", zap.String("session", id), zap.Error(err))
			}
		}})
		fx.emit(EventSessionPaused, PausedPayload{Reason: models.PauseHeartbeat, Deadline: deadline, Stale: ids})
		zap.L().Info("[Liveness] session paused", zap.String("session", id), zap.Strings("stale", ids))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

// ExpirePause resolves a pause whose grace deadline passed: the remaining connected
// player wins, or the session expires when nobody is left.
func (s *SessionService) ExpirePause(ctx context.Context, sessionID string) (*models.MatchSession, error) {
	var fx effects
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		if sess.Phase != models.PhasePaused || sess.PauseDeadline == nil {
			return errNoop
		}
		now := s.now()
		if now.Before(*sess.PauseDeadline) {
			return errNoop
		}

		gone := map[int]bool{}
		for _, i := range disconnectedSlots(sess) {
			gone[i] = true
		}
		for _, i := range StaleSlots(sess, now, s.Timing.HeartbeatStaleAfter) {
			gone[i] = true
		}

		switch len(gone) {
		case 0:
			sess.Phase = models.PhaseActive
			clearPause(sess)
			fx.emit(EventSessionResumed, nil)
			return nil
		case 1:
			loser := 0
			if gone[1] {
				loser = 1
			}
			sess.Slot(loser).Connection = models.Forfeited
			return s.completeLocked(tx, sess, models.Opponent(loser), models.EndAbandoned, true, now, &fx)
		default:
			return s.expireLocked(tx, sess, models.EndBothStale, now, &fx)
		}
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

// ResolveToken maps a live continuity token to its session and player. Tokens of ended
// sessions are expired, as for Rejoin.
func (s *SessionService) ResolveToken(ctx context.Context, token string) (string, string, error) {
	if token == "" {
		return "", "", ErrInvalidToken
	}
	sess, err := s.Store.FindByToken(ctx, token)
	if err != nil {
		return "", "", err
	}
	if sess.Phase.Terminal() {
		return "", "", newError(KindTokenExpired, "session %s has ended", sess.ID)
	}
	p := sess.Slot(sess.SlotOfToken(token))
	if s.now().After(p.TokenExpiresAt) {
		return "", "", ErrTokenExpired
	}
	return sess.ID, p.PlayerID, nil
}
