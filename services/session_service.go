package services

import (
	"context"
	"errors"
	"time"

	"dice-duel/config"
	"dice-duel/engine"
	"dice-duel/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const archiveTimeout = 10 * time.Second

// SessionService owns the session state machine. Every transition is a single guarded
// read-modify-write through the store; side effects (events, timers, archive, requeue)
// run only after the write commits.
type SessionService struct {
	Store   *SessionStore
	Ratings *RatingService
	Queue   *QueueService
	Timers  TimeoutScheduler
	Events  Publisher
	Archive Archiver
	Roller  engine.Roller
	Clock   clockwork.Clock
	Timing  config.Timing
}

func NewSessionService(store *SessionStore, ratings *RatingService, queue *QueueService, timers TimeoutScheduler,
	events Publisher, archive Archiver, roller engine.Roller, clock clockwork.Clock, timing config.Timing) *SessionService {
	if archive == nil {
		archive = noopArchiver{}
	}
	if events == nil {
		events = MultiPublisher{}
	}
	return &SessionService{
		Store:   store,
		Ratings: ratings,
		Queue:   queue,
		Timers:  timers,
		Events:  events,
		Archive: archive,
		Roller:  roller,
		Clock:   clock,
		Timing:  timing,
	}
}

func (s *SessionService) now() time.Time {
	return s.Clock.Now().UTC()
}

// Seat is one side of a session about to be created.
type Seat struct {
	PlayerID string
	IsBot    bool
	Rating   int
	Premium  bool
}

// CreateRequest describes a pairing handed over by the matchmaker.
type CreateRequest struct {
	Seats       [2]Seat
	GameMode    string
	SessionType models.SessionType
	Region      string
	// Queue entries consumed by this session; all must still exist.
	EntryIDs []string
}

// ActionResult is the outcome of a gameplay action.
type ActionResult struct {
	Session  *models.MatchSession
	Roll     *engine.RollResult
	Bank     *engine.BankResult
	Replayed bool
}

type pendingEvent struct {
	typ     EventType
	payload any
}

type scheduledTask struct {
	key  string
	at   time.Time
	task func()
}

type requeueRequest struct {
	seat        Seat
	mode        string
	sessionType models.SessionType
	region      string
}

// effects collects what a transition must do once it has committed.
type effects struct {
	events   []pendingEvent
	cancel   []string
	schedule []scheduledTask
	requeue  []requeueRequest
	archive  bool
}

func (fx *effects) emit(typ EventType, payload any) {
	fx.events = append(fx.events, pendingEvent{typ: typ, payload: payload})
}

func (s *SessionService) apply(ctx context.Context, sess *models.MatchSession, fx *effects) {
	for _, key := range fx.cancel {
		s.Timers.Cancel(key)
	}
	for _, t := range fx.schedule {
		s.Timers.Schedule(t.key, t.at, t.task)
	}
	at := s.now()
	for _, ev := range fx.events {
		s.Events.Publish(ctx, sessionEvent(ev.typ, sess, at, ev.payload))
	}
	if fx.archive {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		if err := s.Archive.Archive(actx, sess.ToRecord()); err != nil {
			zap.L().Error("[Sessions] archive failed", zap.String("session", sess.ID), zap.Error(err))
		}
		cancel()
	}
	for _, rq := range fx.requeue {
		if s.Queue == nil {
			break
		}
		_, err := s.Queue.Join(ctx, JoinRequest{
			PlayerID:    rq.seat.PlayerID,
			Mode:        rq.mode,
			SessionType: rq.sessionType,
			Region:      rq.region,
			Rating:      rq.seat.Rating,
			Premium:     rq.seat.Premium,
		})
		if err != nil {
			zap.L().Warn("[Sessions] requeue failed", zap.String("player", rq.seat.PlayerID), zap.Error(err))
		}
	}
}

// background returns a detached context for timer callbacks.
func background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Create persists a new session in ready_check, consuming the queue entries of both
// players and claiming their one-active-session references in the same transaction.
func (s *SessionService) Create(ctx context.Context, req CreateRequest) (*models.MatchSession, error) {
	policy, err := engine.LookupMode(req.GameMode)
	if err != nil {
		return nil, wrapError(KindValidation, "unknown game mode", err)
	}
	a, b := req.Seats[0], req.Seats[1]
	if a.PlayerID == "" || b.PlayerID == "" || a.PlayerID == b.PlayerID {
		return nil, newError(KindValidation, "a session needs two distinct players")
	}
	if !req.SessionType.Valid() {
		return nil, newError(KindValidation, "unknown session type %q", req.SessionType)
	}

	now := s.now()
	sess := &models.MatchSession{
		ID:            uuid.NewString(),
		Phase:         models.PhaseReadyCheck,
		GameMode:      policy.Name,
		SessionType:   req.SessionType,
		Region:        models.NormalizeRegion(req.Region),
		TurnOwner:     0,
		LastRollBy:    models.NoSlot,
		ReadyDeadline: now.Add(s.Timing.ReadyCheckTimeout),
		ExpiresAt:     now.Add(s.Timing.MaxSessionDuration),
		Version:       1,
		Timestamps:    models.Timestamps{CreatedAt: now, UpdatedAt: now},
	}
	for i, seat := range req.Seats {
		p := sess.Slot(i)
		p.PlayerID = seat.PlayerID
		p.IsBot = seat.IsBot
		p.Premium = seat.Premium
		p.Score = policy.StartingScore()
		p.LastHeartbeatAt = now
		p.Connection = models.Connected
		p.RatingSnapshot = ClampRating(seat.Rating)
		p.Token = uuid.NewString()
		p.TokenExpiresAt = now.Add(s.Timing.TokenValidity)
		if seat.IsBot {
			p.Ready = models.ReadyAccepted
		}
	}

	err = s.Store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := claimPlayers(tx, sess.ID, a.PlayerID, b.PlayerID); err != nil {
			return err
		}
		if len(req.EntryIDs) > 0 {
			res := tx.Where("id IN ?", req.EntryIDs).Delete(&models.QueueEntry{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != int64(len(req.EntryIDs)) {
				return wrapError(KindConcurrencyConflict, "queue entries consumed concurrently", nil)
			}
		}
		if err := tx.Where("player_id IN ?", []string{a.PlayerID, b.PlayerID}).Delete(&models.QueueEntry{}).Error; err != nil {
			return err
		}
		return tx.Create(sess).Error
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Sessions] session created",
		zap.String("session", sess.ID),
		zap.String("player0", a.PlayerID),
		zap.String("player1", b.PlayerID),
		zap.String("mode", sess.GameMode),
		zap.Bool("bot", a.IsBot || b.IsBot))

	fx := &effects{}
	fx.emit(EventSessionCreated, CreatedPayload{
		Players:       sess.PlayerIDs(),
		Bots:          [2]bool{a.IsBot, b.IsBot},
		GameMode:      sess.GameMode,
		SessionType:   sess.SessionType,
		ReadyDeadline: sess.ReadyDeadline,
	})
	fx.schedule = append(fx.schedule, scheduledTask{
		key:  readyKey(sess.ID),
		at:   sess.ReadyDeadline,
		task: s.readyDeadlineTask(sess.ID),
	})
	s.apply(ctx, sess, fx)
	return sess, nil
}

// Get returns a session by id.
func (s *SessionService) Get(ctx context.Context, id string) (*models.MatchSession, error) {
	return s.Store.Get(ctx, id)
}

// CurrentFor returns the non-terminal session of a player.
func (s *SessionService) CurrentFor(ctx context.Context, playerID string) (*models.MatchSession, error) {
	sess, err := s.Store.CurrentFor(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, newError(KindSessionNotFound, "player %s has no active session", playerID)
	}
	return sess, nil
}

func participant(sess *models.MatchSession, playerID string) (int, error) {
	slot := sess.SlotOf(playerID)
	if slot == models.NoSlot {
		return slot, newError(KindNotParticipant, "player %s is not in session %s", playerID, sess.ID)
	}
	return slot, nil
}

// touch refreshes liveness and the continuity token of a slot.
func (s *SessionService) touch(p *models.PlayerState, now time.Time) {
	p.LastHeartbeatAt = now
	p.TokenExpiresAt = now.Add(s.Timing.TokenValidity)
	if p.Connection == models.Disconnected {
		p.Connection = models.Connected
	}
}

func requireTurn(sess *models.MatchSession, slot int) error {
	switch sess.Phase {
	case models.PhaseActive:
	case models.PhasePaused:
		return newError(KindInvalidTransition, "session %s is paused", sess.ID)
	default:
		return newError(KindInvalidTransition, "session %s is %s", sess.ID, sess.Phase)
	}
	if sess.TurnOwner != slot {
		return newError(KindNotTurnOwner, "it is not %s's turn", sess.Slot(slot).PlayerID)
	}
	return nil
}

func endTurn(sess *models.MatchSession) {
	sess.Slot(sess.TurnOwner).TurnActive = false
	sess.TurnScore = 0
	sess.MultiplierActive = false
	sess.TurnOwner = models.Opponent(sess.TurnOwner)
	sess.Slot(sess.TurnOwner).TurnActive = true
}

func turnPayload(sess *models.MatchSession, slot int, action string) TurnPayload {
	return TurnPayload{
		Player:    sess.Slot(slot).PlayerID,
		Action:    action,
		TurnScore: sess.TurnScore,
		TurnOwner: sess.Slot(sess.TurnOwner).PlayerID,
		Scores: map[string]int{
			sess.Player0.PlayerID: sess.Player0.Score,
			sess.Player1.PlayerID: sess.Player1.Score,
		},
	}
}

// Roll throws the dice for the turn owner.
func (s *SessionService) Roll(ctx context.Context, sessionID, playerID, actionID string) (*ActionResult, error) {
	var (
		fx     effects
		result ActionResult
	)
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx, result = effects{}, ActionResult{}
		slot, err := participant(sess, playerID)
		if err != nil {
			return err
		}
		p := sess.Slot(slot)
		if actionID != "" && p.LastActionID == actionID {
			result.Replayed = true
			if sess.LastRollBy == slot {
				result.Roll = &engine.RollResult{Die1: sess.LastDie1, Die2: sess.LastDie2, Outcome: engine.Outcome(sess.LastOutcome)}
			}
			return errNoop
		}
		if err := requireTurn(sess, slot); err != nil {
			return err
		}
		policy, err := engine.LookupMode(sess.GameMode)
		if err != nil {
			return wrapError(KindInternal, "session has unknown mode", err)
		}

		d1, d2 := s.Roller.Roll()
		roll, err := engine.ApplyRoll(d1, d2, sess.TurnScore, sess.MultiplierActive)
		if err != nil {
			return wrapError(KindInternal, "roller produced invalid dice", err)
		}
		p.Score = roll.PlayerScoreAfter(policy, p.Score)
		sess.TurnScore = roll.TurnScore
		sess.MultiplierActive = roll.Multiplier
		sess.LastDie1, sess.LastDie2 = d1, d2
		sess.LastOutcome = string(roll.Outcome)
		sess.LastRollBy = slot
		if roll.TurnEnds {
			endTurn(sess)
		}
		p.LastActionID = actionID
		s.touch(p, s.now())

		payload := turnPayload(sess, slot, "roll")
		payload.Die1, payload.Die2, payload.Outcome = d1, d2, string(roll.Outcome)
		fx.emit(EventSessionTurn, payload)
		result.Roll = &roll
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	result.Session = sess
	return &result, nil
}

// Bank commits the turn score in modes that allow banking.
func (s *SessionService) Bank(ctx context.Context, sessionID, playerID, actionID string) (*ActionResult, error) {
	return s.commit(ctx, sessionID, playerID, actionID, engine.VerbBank)
}

// Attack commits the turn score in attack-only modes.
func (s *SessionService) Attack(ctx context.Context, sessionID, playerID, actionID string) (*ActionResult, error) {
	return s.commit(ctx, sessionID, playerID, actionID, engine.VerbAttack)
}

func (s *SessionService) commit(ctx context.Context, sessionID, playerID, actionID string, verb engine.Verb) (*ActionResult, error) {
	var (
		fx     effects
		result ActionResult
	)
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx, result = effects{}, ActionResult{}
		slot, err := participant(sess, playerID)
		if err != nil {
			return err
		}
		p := sess.Slot(slot)
		if actionID != "" && p.LastActionID == actionID {
			result.Replayed = true
			return errNoop
		}
		policy, err := engine.LookupMode(sess.GameMode)
		if err != nil {
			return wrapError(KindInternal, "session has unknown mode", err)
		}
		if policy.CommitVerb() != verb {
			return newError(KindActionNotAllowed, "%s is not allowed in %s mode", verb, policy.Name)
		}
		if sess.Phase.Terminal() {
			return errNoop
		}
		if sess.Phase == models.PhaseActive && sess.TurnScore <= 0 {
			// nothing to commit, so a repeated bank is a no-op
			bank := engine.Bank(p.Score, 0, policy)
			result.Bank = &bank
			return errNoop
		}
		if err := requireTurn(sess, slot); err != nil {
			return err
		}

		bank := engine.Bank(p.Score, sess.TurnScore, policy)
		result.Bank = &bank
		if !bank.Applied {
			return errNoop
		}
		now := s.now()
		p.Score = bank.PlayerScore
		p.LastActionID = actionID
		s.touch(p, now)
		endTurn(sess)
		fx.emit(EventSessionTurn, turnPayload(sess, slot, string(verb)))

		if bank.Won {
			return s.completeLocked(tx, sess, slot, models.EndObjective, false, now, &fx)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	result.Session = sess
	return &result, nil
}

// Forfeit concedes an active or paused session to the opponent.
func (s *SessionService) Forfeit(ctx context.Context, sessionID, playerID string) (*models.MatchSession, error) {
	var fx effects
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		slot, err := participant(sess, playerID)
		if err != nil {
			return err
		}
		switch sess.Phase {
		case models.PhaseActive, models.PhasePaused:
		case models.PhaseCompleted, models.PhaseCancelled, models.PhaseExpired:
			return errNoop
		default:
			return newError(KindInvalidTransition, "cannot forfeit during %s, decline the ready check instead", sess.Phase)
		}
		sess.Slot(slot).Connection = models.Forfeited
		return s.completeLocked(tx, sess, models.Opponent(slot), models.EndForfeit, true, s.now(), &fx)
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

// completeLocked finishes the session inside the transition's transaction: ratings are
// applied and player references released before the write commits.
func (s *SessionService) completeLocked(tx *gorm.DB, sess *models.MatchSession, winner int, reason string, forfeit bool, now time.Time, fx *effects) error {
	sess.Phase = models.PhaseCompleted
	sess.WinnerID = sess.Slot(winner).PlayerID
	sess.EndReason = reason
	sess.CompletedAt = &now
	sess.Player0.TurnActive = false
	sess.Player1.TurnActive = false
	clearPause(sess)

	changes, err := s.Ratings.ApplyMatchResult(tx, MatchOutcome{
		SessionID:  sess.ID,
		GameMode:   sess.GameMode,
		Players:    sess.PlayerIDs(),
		Bots:       [2]bool{sess.Player0.IsBot, sess.Player1.IsBot},
		Scores:     [2]int{sess.Player0.Score, sess.Player1.Score},
		Snapshots:  [2]int{sess.Player0.RatingSnapshot, sess.Player1.RatingSnapshot},
		WinnerSlot: winner,
		Forfeit:    forfeit,
		Duration:   now.Sub(sess.CreatedAt),
	})
	if err != nil {
		return err
	}
	if err := releasePlayers(tx, sess.ID); err != nil {
		return err
	}

	delta := make(map[string]int, 2)
	for _, c := range changes {
		if c.PlayerID != "" {
			delta[c.PlayerID] = c.Delta
		}
	}
	fx.emit(EventSessionCompleted, CompletedPayload{Winner: sess.WinnerID, Reason: reason, RatingDelta: delta})
	fx.cancel = append(fx.cancel, readyKey(sess.ID), pauseKey(sess.ID))
	fx.archive = true

	zap.L().Info("[Sessions] session completed",
		zap.String("session", sess.ID), zap.String("winner", sess.WinnerID), zap.String("reason", reason))
	return nil
}

// expireLocked ends the session without a winner or rating change.
func (s *SessionService) expireLocked(tx *gorm.DB, sess *models.MatchSession, reason string, now time.Time, fx *effects) error {
	sess.Phase = models.PhaseExpired
	sess.WinnerID = models.NoWinner
	sess.EndReason = reason
	sess.CompletedAt = &now
	sess.Player0.TurnActive = false
	sess.Player1.TurnActive = false
	clearPause(sess)
	if err := releasePlayers(tx, sess.ID); err != nil {
		return err
	}
	fx.emit(EventSessionExpired, ExpiredPayload{Reason: reason})
	fx.cancel = append(fx.cancel, readyKey(sess.ID), pauseKey(sess.ID))
	fx.archive = true

	zap.L().Info("[Sessions] session expired", zap.String("session", sess.ID), zap.String("reason", reason))
	return nil
}

func clearPause(sess *models.MatchSession) {
	sess.PauseReason = ""
	sess.PausedAt = nil
	sess.PauseDeadline = nil
}

// ExpireSession ends a session that outlived the maximum session duration.
func (s *SessionService) ExpireSession(ctx context.Context, sessionID string) (*models.MatchSession, error) {
	var fx effects
	sess, err := s.Store.Mutate(ctx, sessionID, func(tx *gorm.DB, sess *models.MatchSession) error {
		fx = effects{}
		now := s.now()
		if sess.Phase.Terminal() || now.Before(sess.ExpiresAt) {
			return errNoop
		}
		if sess.Phase == models.PhaseReadyCheck {
			return s.cancelLocked(tx, sess, models.EndReadyTimeout, now, &fx)
		}
		return s.expireLocked(tx, sess, models.EndMaxDuration, now, &fx)
	})
	if err != nil {
		return nil, err
	}
	s.apply(ctx, sess, &fx)
	return sess, nil
}

// SweepDeadlines resolves every overdue session. It covers timer tasks lost on restart.
func (s *SessionService) SweepDeadlines(ctx context.Context) (int, error) {
	now := s.now()
	overdue, err := s.Store.ListOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, o := range overdue {
		var err error
		switch {
		case !now.Before(o.ExpiresAt):
			_, err = s.ExpireSession(ctx, o.ID)
		case o.Phase == models.PhaseReadyCheck:
			_, err = s.ExpireReadyCheck(ctx, o.ID)
		case o.Phase == models.PhasePaused:
			_, err = s.ExpirePause(ctx, o.ID)
		default:
			continue
		}
		if err != nil {
			if !errors.Is(err, ErrConcurrencyConflict) {
				zap.L().Warn("[Sweep] failed to resolve session", zap.String("session", o.ID), zap.Error(err))
			}
			continue
		}
		resolved++
	}
	if resolved > 0 {
		zap.L().Info("[Sweep] overdue sessions resolved", zap.Int("count", resolved))
	}
	return resolved, nil
}

// PlayBotTurns advances every session where a bot owns the turn by one action.
func (s *SessionService) PlayBotTurns(ctx context.Context) (int, error) {
	sessions, err := s.Store.ListBotTurns(ctx)
	if err != nil {
		return 0, err
	}
	acted := 0
	for i := range sessions {
		sess := &sessions[i]
		policy, err := engine.LookupMode(sess.GameMode)
		if err != nil {
			continue
		}
		bot := sess.Slot(sess.TurnOwner).PlayerID
		actionID := uuid.NewString()
		if BotShouldCommit(sess, policy) {
			_, err = s.commit(ctx, sess.ID, bot, actionID, policy.CommitVerb())
		} else {
			_, err = s.Roll(ctx, sess.ID, bot, actionID)
		}
		if err != nil {
			// the session moved on since it was listed
			if !errors.Is(err, ErrConcurrencyConflict) && !errors.Is(err, ErrNotTurnOwner) && !errors.Is(err, ErrInvalidTransition) {
				zap.L().Warn("[Bots] bot action failed", zap.String("session", sess.ID), zap.String("bot", bot), zap.Error(err))
			}
			continue
		}
		acted++
	}
	return acted, nil
}
