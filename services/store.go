package services

import (
	"context"
	"errors"
	"time"

	"dice-duel/models"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// slot identity columns are never rewritten after creation
var immutableSessionColumns = []string{
	"created_at",
	"p0_player_id", "p0_is_bot",
	"p1_player_id", "p1_is_bot",
}

// SessionStore owns persistence of sessions and the player→session references.
type SessionStore struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewSessionStore(db *gorm.DB, clock clockwork.Clock) *SessionStore {
	return &SessionStore{DB: db, Clock: clock}
}

// Migrate creates every table the service needs.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.QueueEntry{},
		&models.MatchSession{},
		&models.PlayerSession{},
		&models.SkillRating{},
		&models.MatchResult{},
	)
}

func sessionNotFound(id string) error {
	return newError(KindSessionNotFound, "session %s not found", id)
}

// Get loads a session outside any transaction.
func (st *SessionStore) Get(ctx context.Context, id string) (*models.MatchSession, error) {
	return retryIdempotent(ctx, func() (*models.MatchSession, error) {
		var sess models.MatchSession
		if err := st.DB.WithContext(ctx).First(&sess, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, sessionNotFound(id)
			}
			return nil, err
		}
		return &sess, nil
	})
}

// Mutate runs fn against the locked row and writes the result guarded by the version it
// read. fn must not touch the database outside tx. Returning errNoop from fn leaves the
// row untouched and yields the unchanged session with a nil error.
func (st *SessionStore) Mutate(ctx context.Context, id string, fn func(tx *gorm.DB, s *models.MatchSession) error) (*models.MatchSession, error) {
	var out *models.MatchSession
	err := st.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess models.MatchSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sess, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return sessionNotFound(id)
			}
			return err
		}
		orig := sess
		before := sess.Version

		if err := fn(tx, &sess); err != nil {
			if errors.Is(err, errNoop) {
				out = &orig
			}
			return err
		}

		sess.Version = before + 1
		res := tx.Model(&sess).
			Where("version = ?", before).
			Select("*").
			Omit(immutableSessionColumns...).
			Updates(&sess)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return wrapError(KindConcurrencyConflict, "session "+id+" changed concurrently", nil)
		}
		out = &sess
		return nil
	})
	if errors.Is(err, errNoop) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CurrentFor returns the non-terminal session a player is in, or nil.
func (st *SessionStore) CurrentFor(ctx context.Context, playerID string) (*models.MatchSession, error) {
	return retryIdempotent(ctx, func() (*models.MatchSession, error) {
		return currentSessionTx(st.DB.WithContext(ctx), playerID)
	})
}

func currentSessionTx(tx *gorm.DB, playerID string) (*models.MatchSession, error) {
	var ref models.PlayerSession
	if err := tx.First(&ref, "player_id = ?", playerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var sess models.MatchSession
	if err := tx.First(&sess, "id = ?", ref.SessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if sess.Phase.Terminal() {
		return nil, nil
	}
	return &sess, nil
}

// FindByToken returns the session holding a continuity token.
func (st *SessionStore) FindByToken(ctx context.Context, token string) (*models.MatchSession, error) {
	var sess models.MatchSession
	err := st.DB.WithContext(ctx).
		Where("p0_token = ? OR p1_token = ?", token, token).
		Order("created_at DESC").
		First(&sess).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return &sess, nil
}

// ListStale returns active sessions with a human heartbeat older than cutoff.
func (st *SessionStore) ListStale(ctx context.Context, cutoff time.Time) ([]models.MatchSession, error) {
	var out []models.MatchSession
	err := st.DB.WithContext(ctx).
		Where("phase = ?", models.PhaseActive).
		Where("(p0_is_bot = ? AND p0_last_heartbeat_at < ?) OR (p1_is_bot = ? AND p1_last_heartbeat_at < ?)",
			false, cutoff, false, cutoff).
		Find(&out).Error
	return out, err
}

// ListOverdue returns sessions whose ready-check, pause or lifetime deadline has passed.
func (st *SessionStore) ListOverdue(ctx context.Context, now time.Time) ([]models.MatchSession, error) {
	var out []models.MatchSession
	err := st.DB.WithContext(ctx).
		Where("(phase = ? AND ready_deadline < ?) OR (phase = ? AND pause_deadline < ?) OR (phase IN ? AND expires_at < ?)",
			models.PhaseReadyCheck, now,
			models.PhasePaused, now,
			models.NonTerminalPhases, now).
		Find(&out).Error
	return out, err
}

// ListBotTurns returns active sessions where a bot owns the turn.
func (st *SessionStore) ListBotTurns(ctx context.Context) ([]models.MatchSession, error) {
	var out []models.MatchSession
	err := st.DB.WithContext(ctx).
		Where("phase = ?", models.PhaseActive).
		Where("(turn_owner = 0 AND p0_is_bot = ?) OR (turn_owner = 1 AND p1_is_bot = ?)", true, true).
		Find(&out).Error
	return out, err
}

// claimPlayers inserts the player→session references for a new session. A reference
// pointing at a missing or terminal session is stale and gets replaced.
func claimPlayers(tx *gorm.DB, sessionID string, players ...string) error {
	for _, playerID := range players {
		var ref models.PlayerSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ref, "player_id = ?", playerID).Error
		switch {
		case err == nil:
			var held models.MatchSession
			herr := tx.Select("id", "phase").First(&held, "id = ?", ref.SessionID).Error
			if herr != nil && !errors.Is(herr, gorm.ErrRecordNotFound) {
				return herr
			}
			if herr == nil && !held.Phase.Terminal() {
				return newError(KindPlayerBusy, "player %s is in session %s", playerID, held.ID)
			}
			if err := tx.Delete(&models.PlayerSession{}, "player_id = ? AND session_id = ?", playerID, ref.SessionID).Error; err != nil {
				return err
			}
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.PlayerSession{PlayerID: playerID, SessionID: sessionID})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return wrapError(KindConcurrencyConflict, "player "+playerID+" claimed concurrently", nil)
		}
	}
	return nil
}

func releasePlayers(tx *gorm.DB, sessionID string) error {
	return tx.Where("session_id = ?", sessionID).Delete(&models.PlayerSession{}).Error
}

// retryIdempotent retries transient store failures. Domain errors are returned as is.
func retryIdempotent[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil {
			var de *Error
			if errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return v, backoff.Permanent(err)
			}
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(3))
}
