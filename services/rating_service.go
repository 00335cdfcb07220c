package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"dice-duel/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EloK is the update factor of a single match.
const EloK = 32

// TierThreshold is the minimum (rating, win-rate, games) for a tier.
type TierThreshold struct {
	Tier       models.Tier
	MinRating  int
	MinWinRate float64
	MinGames   int
}

// TierThresholds are checked coarsest first.
var TierThresholds = []TierThreshold{
	{Tier: models.TierDiamond, MinRating: 1800, MinWinRate: 0.60, MinGames: 50},
	{Tier: models.TierPlatinum, MinRating: 1600, MinWinRate: 0.55, MinGames: 30},
	{Tier: models.TierGold, MinRating: 1400, MinWinRate: 0.50, MinGames: 20},
	{Tier: models.TierSilver, MinRating: 1200, MinWinRate: 0.45, MinGames: 10},
}

func DetermineTier(rating int, winRate float64, games int) models.Tier {
	for _, t := range TierThresholds {
		if rating >= t.MinRating && winRate >= t.MinWinRate && games >= t.MinGames {
			return t.Tier
		}
	}
	return models.TierBronze
}

// MatchTier places a rating on the tier ladder ignoring win rate and games played.
// Bot compatibility is judged on it.
func MatchTier(rating int) models.Tier {
	for _, t := range TierThresholds {
		if rating >= t.MinRating {
			return t.Tier
		}
	}
	return models.TierBronze
}

// tierOf is the tier stored on a rating row. Bots have no game record to qualify with.
func tierOf(r *models.SkillRating) models.Tier {
	if r.IsBot {
		return MatchTier(r.Rating)
	}
	return DetermineTier(r.Rating, r.WinRate(), r.GamesPlayed)
}

// ClampRating bounds a rating to the legal range. Out-of-range values are never an error.
func ClampRating(r int) int {
	switch {
	case r < models.RatingFloor:
		return models.RatingFloor
	case r > models.RatingCeiling:
		return models.RatingCeiling
	}
	return r
}

// ExpectedScore is the logistic win expectation of rating against opp.
func ExpectedScore(rating, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-rating)/400))
}

// UpdateAfterMatch returns both new ratings after A and B play.
func UpdateAfterMatch(ratingA, ratingB int, winnerIsA bool) (int, int) {
	actualA, actualB := 0.0, 1.0
	if winnerIsA {
		actualA, actualB = 1.0, 0.0
	}
	newA := float64(ratingA) + EloK*(actualA-ExpectedScore(ratingA, ratingB))
	newB := float64(ratingB) + EloK*(actualB-ExpectedScore(ratingB, ratingA))
	return ClampRating(int(math.Round(newA))), ClampRating(int(math.Round(newB)))
}

// SelectCompatibleBot picks uniformly among bots whose rating tier is within one of the
// player's, falling back to any bot when none is close enough.
func SelectCompatibleBot(pool []models.SkillRating, tier models.Tier, rng *rand.Rand) (models.SkillRating, bool) {
	if len(pool) == 0 {
		return models.SkillRating{}, false
	}
	var eligible []models.SkillRating
	for _, b := range pool {
		d := int(MatchTier(b.Rating)) - int(tier)
		if d >= -1 && d <= 1 {
			eligible = append(eligible, b)
		}
	}
	if len(eligible) == 0 {
		eligible = pool
	}
	return eligible[rng.IntN(len(eligible))], true
}

// MatchOutcome is what the orchestrator hands over when a session completes.
type MatchOutcome struct {
	SessionID  string
	GameMode   string
	Players    [2]string
	Bots       [2]bool
	Scores     [2]int
	Snapshots  [2]int
	WinnerSlot int  // -1 when nobody won
	Forfeit    bool // loser forfeited or abandoned
	Duration   time.Duration
}

// RatingChange is one player's side of an applied result.
type RatingChange struct {
	PlayerID string `json:"player_id"`
	Before   int    `json:"before"`
	After    int    `json:"after"`
	Delta    int    `json:"delta"`
}

type RatingService struct {
	DB    *gorm.DB
	Clock clockwork.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRatingService(db *gorm.DB, clock clockwork.Clock, seed uint64) *RatingService {
	return &RatingService{
		DB:    db,
		Clock: clock,
		rng:   rand.New(rand.NewPCG(seed, seed>>1|1)),
	}
}

// Get returns the stored rating of a player.
func (s *RatingService) Get(ctx context.Context, playerID string) (*models.SkillRating, error) {
	return retryIdempotent(ctx, func() (*models.SkillRating, error) {
		var r models.SkillRating
		if err := s.DB.WithContext(ctx).First(&r, "player_id = ?", playerID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, newError(KindRatingNotFound, "no rating for player %s", playerID)
			}
			return nil, err
		}
		return &r, nil
	})
}

// EnsureRating returns the stored rating, seeding one from the client value when the
// player has none. The stored value always wins.
func (s *RatingService) EnsureRating(tx *gorm.DB, playerID string, clientRating int) (*models.SkillRating, error) {
	var r models.SkillRating
	err := tx.First(&r, "player_id = ?", playerID).Error
	if err == nil {
		return &r, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if clientRating == 0 {
		clientRating = models.RatingDefault
	}
	rating := ClampRating(clientRating)
	r = models.SkillRating{
		PlayerID: playerID,
		Rating:   rating,
	}
	r.Tier = tierOf(&r)
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&r).Error; err != nil {
		return nil, err
	}
	// lost an insert race; read the winner
	if err := tx.First(&r, "player_id = ?", playerID).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// IdleBots lists bots not currently referenced by a session.
func (s *RatingService) IdleBots(ctx context.Context) ([]models.SkillRating, error) {
	var bots []models.SkillRating
	err := s.DB.WithContext(ctx).
		Where("is_bot = ?", true).
		Where("player_id NOT IN (?)", s.DB.Model(&models.PlayerSession{}).Select("player_id")).
		Order("player_id").
		Find(&bots).Error
	return bots, err
}

// PickBot selects an idle bot compatible with tier.
func (s *RatingService) PickBot(ctx context.Context, tier models.Tier, exclude map[string]bool) (*models.SkillRating, error) {
	bots, err := s.IdleBots(ctx)
	if err != nil {
		return nil, err
	}
	pool := bots[:0]
	for _, b := range bots {
		if !exclude[b.PlayerID] {
			pool = append(pool, b)
		}
	}
	s.mu.Lock()
	bot, ok := SelectCompatibleBot(pool, tier, s.rng)
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return &bot, nil
}

// SeedBots upserts the roster. Ratings of existing bots are left alone.
func (s *RatingService) SeedBots(ctx context.Context, roster []BotIdentity) error {
	for _, b := range roster {
		rating := ClampRating(b.Rating)
		row := models.SkillRating{
			PlayerID:    b.ID,
			DisplayName: b.DisplayName,
			IsBot:       true,
			Rating:      rating,
			Tier:        MatchTier(rating),
		}
		err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "is_bot"}),
		}).Create(&row).Error
		if err != nil {
			return fmt.Errorf("seed bot %s: %w", b.ID, err)
		}
	}
	zap.L().Info("[Ratings] bot roster seeded", zap.Int("bots", len(roster)))
	return nil
}

// ApplyMatchResult applies the Elo update for a completed session inside the completing
// transaction. Both rows are locked in id order. A session is rated at most once.
func (s *RatingService) ApplyMatchResult(tx *gorm.DB, out MatchOutcome) ([2]RatingChange, error) {
	var changes [2]RatingChange
	if out.WinnerSlot < 0 || out.WinnerSlot > 1 {
		return changes, nil
	}

	rows := make(map[string]*models.SkillRating, 2)
	var locked []models.SkillRating
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("player_id IN ?", out.Players[:]).
		Order("player_id").
		Find(&locked).Error; err != nil {
		return changes, err
	}
	for i := range locked {
		rows[locked[i].PlayerID] = &locked[i]
	}

	for i, id := range out.Players {
		if _, ok := rows[id]; ok {
			continue
		}
		rating := out.Snapshots[i]
		if rating == 0 {
			rating = models.RatingDefault
		}
		rating = ClampRating(rating)
		r := &models.SkillRating{PlayerID: id, IsBot: out.Bots[i], Rating: rating}
		r.Tier = tierOf(r)
		if err := tx.Create(r).Error; err != nil {
			return changes, err
		}
		rows[id] = r
	}

	a, b := rows[out.Players[0]], rows[out.Players[1]]
	if a.LastRatedSession == out.SessionID || b.LastRatedSession == out.SessionID {
		return s.storedChanges(tx, out)
	}

	newA, newB := UpdateAfterMatch(a.Rating, b.Rating, out.WinnerSlot == 0)
	now := s.Clock.Now().UTC()
	after := [2]int{newA, newB}

	for i, r := range []*models.SkillRating{a, b} {
		won := i == out.WinnerSlot
		changes[i] = RatingChange{PlayerID: r.PlayerID, Before: r.Rating, After: after[i], Delta: after[i] - r.Rating}

		r.Rating = after[i]
		r.GamesPlayed++
		if won {
			r.Wins++
			if r.CurrentStreak < 0 {
				r.CurrentStreak = 0
			}
			r.CurrentStreak++
			if r.CurrentStreak > r.BestStreak {
				r.BestStreak = r.CurrentStreak
			}
		} else {
			r.Losses++
			if r.CurrentStreak > 0 {
				r.CurrentStreak = 0
			}
			r.CurrentStreak--
		}
		r.Tier = tierOf(r)
		r.LastRatedSession = out.SessionID
		r.LastRatedAt = &now
		if err := tx.Save(r).Error; err != nil {
			return changes, err
		}

		result := models.ResultLoss
		switch {
		case won:
			result = models.ResultWin
		case out.Forfeit:
			result = models.ResultForfeit
		}
		row := models.MatchResult{
			ID:           uuid.NewString(),
			SessionID:    out.SessionID,
			PlayerID:     r.PlayerID,
			OpponentID:   out.Players[models.Opponent(i)],
			GameMode:     out.GameMode,
			IsBot:        out.Bots[i],
			Score:        out.Scores[i],
			Result:       result,
			DurationSec:  int(out.Duration.Seconds()),
			RatingBefore: changes[i].Before,
			RatingAfter:  changes[i].After,
			RatingDelta:  changes[i].Delta,
		}
		if err := tx.Create(&row).Error; err != nil {
			return changes, err
		}
	}

	zap.L().Info("[Ratings] match rated",
		zap.String("session", out.SessionID),
		zap.String("winner", out.Players[out.WinnerSlot]),
		zap.Int("delta_a", changes[0].Delta),
		zap.Int("delta_b", changes[1].Delta))
	return changes, nil
}

func (s *RatingService) storedChanges(tx *gorm.DB, out MatchOutcome) ([2]RatingChange, error) {
	var changes [2]RatingChange
	var results []models.MatchResult
	if err := tx.Where("session_id = ?", out.SessionID).Find(&results).Error; err != nil {
		return changes, err
	}
	for _, r := range results {
		for i, id := range out.Players {
			if r.PlayerID == id {
				changes[i] = RatingChange{PlayerID: id, Before: r.RatingBefore, After: r.RatingAfter, Delta: r.RatingDelta}
			}
		}
	}
	return changes, nil
}

// History returns the latest match results of a player, newest first.
func (s *RatingService) History(ctx context.Context, playerID string, limit int) ([]models.MatchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.MatchResult
	err := s.DB.WithContext(ctx).
		Where("player_id = ?", playerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Leaderboard returns the top human ratings.
func (s *RatingService) Leaderboard(ctx context.Context, limit int) ([]models.SkillRating, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.SkillRating
	err := s.DB.WithContext(ctx).
		Where("is_bot = ?", false).
		Order("rating DESC").
		Order("player_id").
		Limit(limit).
		Find(&out).Error
	return out, err
}
