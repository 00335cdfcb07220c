package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dice-duel/config"
	"dice-duel/engine"
	"dice-duel/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	basePriority = 100
	maxWaitBonus = 300
	premiumBonus = 15
)

// QueueService manages queue entries.
type QueueService struct {
	DB      *gorm.DB
	Ratings *RatingService
	Clock   clockwork.Clock
	Timing  config.Timing
}

func NewQueueService(db *gorm.DB, ratings *RatingService, clock clockwork.Clock, timing config.Timing) *QueueService {
	return &QueueService{DB: db, Ratings: ratings, Clock: clock, Timing: timing}
}

// JoinRequest is a player asking to be matched.
type JoinRequest struct {
	PlayerID    string             `json:"player"`
	Mode        string             `json:"mode"`
	SessionType models.SessionType `json:"sessionType"`
	Region      string             `json:"region"`
	Rating      int                `json:"rating"`
	Premium     bool               `json:"premium"`
}

// PoolKey groups entries that may be paired with each other.
type PoolKey struct {
	Mode        string
	SessionType models.SessionType
	Region      string
}

func (k PoolKey) String() string {
	return k.Mode + "/" + string(k.SessionType) + "/" + k.Region
}

// Priority = 100 + min(wait seconds, 300) + session type weight + premium bonus.
func Priority(e models.QueueEntry, now time.Time) float64 {
	wait := now.Sub(e.EnqueuedAt).Seconds()
	if wait < 0 {
		wait = 0
	}
	if wait > maxWaitBonus {
		wait = maxWaitBonus
	}
	p := basePriority + wait + e.SessionType.Weight()
	if e.Premium {
		p += premiumBonus
	}
	return p
}

// SortByPriority orders entries by descending priority, earliest enqueue first on ties.
func SortByPriority(entries []models.QueueEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.ID < b.ID
	})
}

// Join creates or replaces the player's entry for the mode. A replaced entry keeps its
// original enqueue time. The stored rating is used when one exists.
func (q *QueueService) Join(ctx context.Context, req JoinRequest) (*models.QueueEntry, error) {
	if req.PlayerID == "" {
		return nil, newError(KindValidation, "player is required")
	}
	mode := models.NormalizeKey(req.Mode)
	if _, err := engine.LookupMode(mode); err != nil {
		return nil, wrapError(KindValidation,
			fmt.Sprintf("unknown game mode, want one of %s", strings.Join(engine.ModeNames(), ", ")), err)
	}
	sessionType := models.SessionType(models.NormalizeKey(string(req.SessionType)))
	if sessionType == "" {
		sessionType = models.SessionQuick
	}
	if !sessionType.Valid() {
		return nil, newError(KindValidation, "unknown session type %q", req.SessionType)
	}
	region := models.NormalizeRegion(req.Region)

	var entry models.QueueEntry
	err := q.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := currentSessionTx(tx, req.PlayerID)
		if err != nil {
			return err
		}
		if current != nil {
			return newError(KindPlayerBusy, "player %s is in session %s", req.PlayerID, current.ID)
		}
		rating, err := q.Ratings.EnsureRating(tx, req.PlayerID, req.Rating)
		if err != nil {
			return err
		}
		if rating.IsBot {
			return newError(KindValidation, "bots cannot queue")
		}

		now := q.Clock.Now().UTC()
		entry = models.QueueEntry{
			ID:          uuid.NewString(),
			PlayerID:    req.PlayerID,
			GameMode:    mode,
			SessionType: sessionType,
			Region:      region,
			Rating:      rating.Rating,
			Premium:     req.Premium,
			EnqueuedAt:  now,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "game_mode"}},
			DoUpdates: clause.AssignmentColumns([]string{"session_type", "region", "rating", "premium", "updated_at"}),
		}).Create(&entry).Error
		if err != nil {
			return err
		}
		// a replaced row keeps its own id, so read it back by the conflict key
		var stored models.QueueEntry
		if err := tx.Where("player_id = ? AND game_mode = ?", req.PlayerID, mode).First(&stored).Error; err != nil {
			return err
		}
		entry = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	entry.Priority = Priority(entry, q.Clock.Now())
	zap.L().Info("[Queue] player queued",
		zap.String("player", entry.PlayerID),
		zap.String("pool", PoolKey{entry.GameMode, entry.SessionType, entry.Region}.String()),
		zap.Int("rating", entry.Rating))
	return &entry, nil
}

// Leave removes the player's entries, all of them when mode is empty. It is idempotent.
func (q *QueueService) Leave(ctx context.Context, playerID, mode string) (int64, error) {
	if playerID == "" {
		return 0, newError(KindValidation, "player is required")
	}
	return retryIdempotent(ctx, func() (int64, error) {
		tx := q.DB.WithContext(ctx).Where("player_id = ?", playerID)
		if mode != "" {
			tx = tx.Where("game_mode = ?", models.NormalizeKey(mode))
		}
		res := tx.Delete(&models.QueueEntry{})
		return res.RowsAffected, res.Error
	})
}

// Entries lists a player's live entries.
func (q *QueueService) Entries(ctx context.Context, playerID string) ([]models.QueueEntry, error) {
	var out []models.QueueEntry
	err := q.DB.WithContext(ctx).Where("player_id = ?", playerID).Order("enqueued_at").Find(&out).Error
	now := q.Clock.Now()
	for i := range out {
		out[i].Priority = Priority(out[i], now)
	}
	return out, err
}

// Expire drops entries older than the queue TTL.
func (q *QueueService) Expire(ctx context.Context) (int64, error) {
	cutoff := q.Clock.Now().UTC().Add(-q.Timing.QueueEntryTTL)
	res := q.DB.WithContext(ctx).Where("enqueued_at < ?", cutoff).Delete(&models.QueueEntry{})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		zap.L().Info("[Queue] expired stale entries", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// Snapshot groups live entries by pool key, each group sorted by priority.
func (q *QueueService) Snapshot(ctx context.Context) (map[PoolKey][]models.QueueEntry, error) {
	var entries []models.QueueEntry
	if err := q.DB.WithContext(ctx).Find(&entries).Error; err != nil {
		return nil, err
	}
	now := q.Clock.Now()
	groups := make(map[PoolKey][]models.QueueEntry)
	for _, e := range entries {
		e.Priority = Priority(e, now)
		key := PoolKey{Mode: e.GameMode, SessionType: e.SessionType, Region: e.Region}
		groups[key] = append(groups[key], e)
	}
	for k := range groups {
		SortByPriority(groups[k])
	}
	return groups, nil
}

// Tick expires stale entries and snapshots the rest for a matching pass.
func (q *QueueService) Tick(ctx context.Context) (map[PoolKey][]models.QueueEntry, error) {
	if _, err := q.Expire(ctx); err != nil {
		return nil, err
	}
	return q.Snapshot(ctx)
}
