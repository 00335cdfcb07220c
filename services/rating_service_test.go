package services

import (
	"math/rand/v2"
	"testing"

	"dice-duel/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestExpectedScore(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1500, 1500), 1e-9)
	assert.InDelta(t, 0.2403, ExpectedScore(1200, 1400), 1e-4)
	assert.InDelta(t, 1.0, ExpectedScore(1200, 1400)+ExpectedScore(1400, 1200), 1e-9)
}

func TestUpdateAfterMatch(t *testing.T) {
	a, b := UpdateAfterMatch(1200, 1400, true)
	assert.Equal(t, 1224, a)
	assert.Equal(t, 1376, b)

	a, b = UpdateAfterMatch(1200, 1400, false)
	assert.Equal(t, 1192, a)
	assert.Equal(t, 1408, b)

	a, b = UpdateAfterMatch(2199, 1800, true)
	assert.Equal(t, models.RatingCeiling, a)
	assert.Equal(t, 1797, b)

	a, _ = UpdateAfterMatch(801, 1000, false)
	assert.Equal(t, models.RatingFloor, a)
}

func TestClampRating(t *testing.T) {
	assert.Equal(t, 800, ClampRating(-5))
	assert.Equal(t, 1234, ClampRating(1234))
	assert.Equal(t, 2200, ClampRating(9000))
}

func TestDetermineTier(t *testing.T) {
	tests := []struct {
		rating  int
		winRate float64
		games   int
		want    models.Tier
	}{
		{1900, 0.65, 60, models.TierDiamond},
		{1900, 0.50, 60, models.TierGold},
		{1650, 0.56, 35, models.TierPlatinum},
		{1450, 0.52, 25, models.TierGold},
		{1250, 0.47, 12, models.TierSilver},
		{1250, 0.47, 5, models.TierBronze},
		{2000, 1.00, 0, models.TierBronze},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetermineTier(tt.rating, tt.winRate, tt.games), "rating %d", tt.rating)
	}
}

func TestMatchTier(t *testing.T) {
	tests := []struct {
		rating int
		want   models.Tier
	}{
		{800, models.TierBronze},
		{1199, models.TierBronze},
		{1200, models.TierSilver},
		{1400, models.TierGold},
		{1620, models.TierPlatinum},
		{1800, models.TierDiamond},
		{2200, models.TierDiamond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchTier(tt.rating), "rating %d", tt.rating)
	}
}

func TestSelectCompatibleBot(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	// stored tiers are stale on purpose; selection goes by rating
	pool := []models.SkillRating{
		{PlayerID: "bot-low", Rating: 850, Tier: models.TierBronze},
		{PlayerID: "bot-high", Rating: 2080, Tier: models.TierBronze},
	}
	for i := 0; i < 20; i++ {
		bot, ok := SelectCompatibleBot(pool, models.TierSilver, rng)
		require.True(t, ok)
		assert.Equal(t, "bot-low", bot.PlayerID)
	}
	for i := 0; i < 20; i++ {
		bot, ok := SelectCompatibleBot(pool, models.TierDiamond, rng)
		require.True(t, ok)
		assert.Equal(t, "bot-high", bot.PlayerID)
	}

	// nobody within a tier: any bot will do
	bot, ok := SelectCompatibleBot(pool[1:], models.TierBronze, rng)
	require.True(t, ok)
	assert.Equal(t, "bot-high", bot.PlayerID)

	_, ok = SelectCompatibleBot(nil, models.TierGold, rng)
	assert.False(t, ok)
}

func TestPickBotHonoursRatingTier(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ratings.SeedBots(h.ctx(), []BotIdentity{
		{ID: "bot-low", Rating: 850},
		{ID: "bot-high", Rating: 2080},
	}))
	idle, err := h.ratings.IdleBots(h.ctx())
	require.NoError(t, err)
	tiers := map[string]models.Tier{}
	for _, b := range idle {
		tiers[b.PlayerID] = b.Tier
	}
	assert.Equal(t, models.TierBronze, tiers["bot-low"])
	assert.Equal(t, models.TierDiamond, tiers["bot-high"])

	picks := map[string]int{}
	for i := 0; i < 200; i++ {
		bot, err := h.ratings.PickBot(h.ctx(), models.TierBronze, nil)
		require.NoError(t, err)
		require.NotNil(t, bot)
		picks[bot.PlayerID]++
	}
	assert.Equal(t, map[string]int{"bot-low": 200}, picks)
}

func TestEnsureRatingPrefersStoredValue(t *testing.T) {
	h := newHarness(t)
	h.seedRating(t, "alice", 1500, false)

	r, err := h.ratings.EnsureRating(h.db, "alice", 900)
	require.NoError(t, err)
	assert.Equal(t, 1500, r.Rating)

	r, err = h.ratings.EnsureRating(h.db, "newbie", 0)
	require.NoError(t, err)
	assert.Equal(t, models.RatingDefault, r.Rating)

	r, err = h.ratings.EnsureRating(h.db, "smurf", 5000)
	require.NoError(t, err)
	assert.Equal(t, models.RatingCeiling, r.Rating)
}

func TestApplyMatchResultIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.seedRating(t, "alice", 1200, false)
	h.seedRating(t, "bob", 1400, false)
	out := MatchOutcome{
		SessionID:  "s-1",
		GameMode:   "classic",
		Players:    [2]string{"alice", "bob"},
		Scores:     [2]int{101, 40},
		WinnerSlot: 0,
	}

	var first, second [2]RatingChange
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = h.ratings.ApplyMatchResult(tx, out)
		return err
	}))
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = h.ratings.ApplyMatchResult(tx, out)
		return err
	}))

	assert.Equal(t, 24, first[0].Delta)
	assert.Equal(t, -24, first[1].Delta)
	assert.Equal(t, first, second)

	alice, err := h.ratings.Get(h.ctx(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1224, alice.Rating)
	assert.Equal(t, 1, alice.GamesPlayed)
	assert.Equal(t, 1, alice.CurrentStreak)

	bob, err := h.ratings.Get(h.ctx(), "bob")
	require.NoError(t, err)
	assert.Equal(t, -1, bob.CurrentStreak)

	history, err := h.ratings.History(h.ctx(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.ResultWin, history[0].Result)
	assert.Equal(t, "bob", history[0].OpponentID)
}

func TestApplyMatchResultWithoutWinner(t *testing.T) {
	h := newHarness(t)
	changes, err := h.ratings.ApplyMatchResult(h.db, MatchOutcome{
		SessionID:  "s-2",
		Players:    [2]string{"alice", "bob"},
		WinnerSlot: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, [2]RatingChange{}, changes)

	_, err = h.ratings.Get(h.ctx(), "alice")
	assert.ErrorIs(t, err, ErrRatingNotFound)
}

func TestBotsAndLeaderboard(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ratings.SeedBots(h.ctx(), []BotIdentity{
		{ID: "bot-pebble", DisplayName: "Pebble", Rating: 850},
		{ID: "bot-ember", DisplayName: "Ember", Rating: 1120},
	}))
	h.seedRating(t, "alice", 1300, false)
	h.seedRating(t, "bob", 1500, false)

	idle, err := h.ratings.IdleBots(h.ctx())
	require.NoError(t, err)
	assert.Len(t, idle, 2)

	h.create(t, "classic", Seat{PlayerID: "alice"}, Seat{PlayerID: "bot-ember", IsBot: true})
	idle, err = h.ratings.IdleBots(h.ctx())
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, "bot-pebble", idle[0].PlayerID)

	bot, err := h.ratings.PickBot(h.ctx(), models.TierBronze, map[string]bool{"bot-pebble": true})
	require.NoError(t, err)
	assert.Nil(t, bot)

	board, err := h.ratings.Leaderboard(h.ctx(), 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "bob", board[0].PlayerID)

	// reseeding keeps ratings that moved
	require.NoError(t, h.db.Model(&models.SkillRating{}).Where("player_id = ?", "bot-pebble").Update("rating", 900).Error)
	require.NoError(t, h.ratings.SeedBots(h.ctx(), []BotIdentity{{ID: "bot-pebble", DisplayName: "Pebble II", Rating: 850}}))
	pebble, err := h.ratings.Get(h.ctx(), "bot-pebble")
	require.NoError(t, err)
	assert.Equal(t, 900, pebble.Rating)
	assert.Equal(t, "Pebble II", pebble.DisplayName)
	assert.True(t, pebble.IsBot)
}

func TestBotTarget(t *testing.T) {
	assert.Equal(t, 20, BotTarget(800))
	assert.Equal(t, 24, BotTarget(1120))
	assert.Equal(t, 40, BotTarget(2200))
	assert.Equal(t, 20, BotTarget(100))
}
