package services

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"dice-duel/config"
	"dice-duel/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	SkillBands     = 5
	skillBandWidth = (models.RatingCeiling - models.RatingFloor) / SkillBands
	maxPoolWorkers = 8
)

// SkillBand maps a rating to one of the fixed bands. The ceiling belongs to the top band.
func SkillBand(rating int) int {
	band := (ClampRating(rating) - models.RatingFloor) / skillBandWidth
	if band >= SkillBands {
		band = SkillBands - 1
	}
	return band
}

// Pool is the ephemeral matching unit of one pass.
type Pool struct {
	Key     PoolKey
	Band    int
	Entries []models.QueueEntry
}

// BuildPools splits each priority-sorted group by skill band and caps pools at maxSize.
func BuildPools(groups map[PoolKey][]models.QueueEntry, maxSize int) []Pool {
	keys := make([]PoolKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	var pools []Pool
	for _, k := range keys {
		var bands [SkillBands][]models.QueueEntry
		for _, e := range groups[k] {
			b := SkillBand(e.Rating)
			bands[b] = append(bands[b], e)
		}
		for b, entries := range bands {
			for len(entries) > 0 {
				n := min(maxSize, len(entries))
				pools = append(pools, Pool{Key: k, Band: b, Entries: entries[:n:n]})
				entries = entries[n:]
			}
		}
	}
	return pools
}

// MatchQuality scores a candidate pairing in [0, 100].
func MatchQuality(a, b models.QueueEntry, now time.Time) float64 {
	q := 100 - 0.1*math.Abs(float64(a.Rating-b.Rating))
	if a.Region == b.Region {
		q += 20
	}
	avgWaitMs := float64(now.Sub(a.EnqueuedAt).Milliseconds()+now.Sub(b.EnqueuedAt).Milliseconds()) / 2
	q += math.Min(avgWaitMs/10000, 30)
	return math.Max(0, math.Min(100, q))
}

// PairPool pairs greedily: the highest-priority unmatched entry takes the best-quality
// partner among the rest, ties going to the earlier entry.
func PairPool(entries []models.QueueEntry, now time.Time) ([][2]models.QueueEntry, []models.QueueEntry) {
	remaining := append([]models.QueueEntry(nil), entries...)
	var pairs [][2]models.QueueEntry
	for len(remaining) >= 2 {
		head := remaining[0]
		best, bestQ := 1, -1.0
		for i := 1; i < len(remaining); i++ {
			if q := MatchQuality(head, remaining[i], now); q > bestQ {
				best, bestQ = i, q
			}
		}
		pairs = append(pairs, [2]models.QueueEntry{head, remaining[best]})
		remaining = append(remaining[1:best], remaining[best+1:]...)
	}
	return pairs, remaining
}

// PassReport summarizes one matching pass.
type PassReport struct {
	Pools      int `json:"pools"`
	Entries    int `json:"entries"`
	Pairs      int `json:"pairs"`
	BotMatches int `json:"bot_matches"`
	Conflicts  int `json:"conflicts"`
	Failures   int `json:"failures"`
}

// Matchmaker turns queue snapshots into sessions.
type Matchmaker struct {
	Queue    *QueueService
	Sessions *SessionService
	Ratings  *RatingService
	Clock    clockwork.Clock
	Timing   config.Timing

	running sync.Mutex
}

func NewMatchmaker(queue *QueueService, sessions *SessionService, ratings *RatingService, clock clockwork.Clock, timing config.Timing) *Matchmaker {
	return &Matchmaker{Queue: queue, Sessions: sessions, Ratings: ratings, Clock: clock, Timing: timing}
}

func isRace(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrPlayerBusy)
}

// RunPass runs one matching pass. Pools are paired in parallel; a pair that loses a race
// is dropped and its players are reconsidered on the next pass.
func (m *Matchmaker) RunPass(ctx context.Context) (PassReport, error) {
	m.running.Lock()
	defer m.running.Unlock()

	var report PassReport
	groups, err := m.Queue.Tick(ctx)
	if err != nil {
		return report, err
	}
	pools := BuildPools(groups, m.Timing.PoolMaxSize)
	report.Pools = len(pools)

	var (
		mu       sync.Mutex
		leftover []models.QueueEntry
	)
	now := m.Clock.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPoolWorkers)
	for _, pool := range pools {
		g.Go(func() error {
			pairs, rest := PairPool(pool.Entries, now)
			var paired, conflicts, failures int
			for _, pr := range pairs {
				_, err := m.Sessions.Create(gctx, CreateRequest{
					Seats: [2]Seat{
						{PlayerID: pr[0].PlayerID, Rating: pr[0].Rating, Premium: pr[0].Premium},
						{PlayerID: pr[1].PlayerID, Rating: pr[1].Rating, Premium: pr[1].Premium},
					},
					GameMode:    pool.Key.Mode,
					SessionType: pool.Key.SessionType,
					Region:      pool.Key.Region,
					EntryIDs:    []string{pr[0].ID, pr[1].ID},
				})
				switch {
				case err == nil:
					paired++
				case isRace(err):
					conflicts++
				default:
					failures++
					zap.L().Error("[Matchmaker] create session failed",
						zap.String("pool", pool.Key.String()), zap.Error(err))
				}
			}
			mu.Lock()
			report.Entries += len(pool.Entries)
			report.Pairs += paired
			report.Conflicts += conflicts
			report.Failures += failures
			leftover = append(leftover, rest...)
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	m.backfill(ctx, leftover, now, &report)
	if report.Pairs > 0 || report.BotMatches > 0 {
		zap.L().Info("[Matchmaker] pass complete",
			zap.Int("pools", report.Pools),
			zap.Int("pairs", report.Pairs),
			zap.Int("bots", report.BotMatches),
			zap.Int("conflicts", report.Conflicts))
	}
	return report, nil
}

// backfill offers bots to entries that waited past the backfill threshold, highest
// priority first. Tournament entries never get bots.
func (m *Matchmaker) backfill(ctx context.Context, leftover []models.QueueEntry, now time.Time, report *PassReport) {
	SortByPriority(leftover)
	used := map[string]bool{}
	for _, e := range leftover {
		if e.SessionType == models.SessionTournament || now.Sub(e.EnqueuedAt) < m.Timing.BotBackfillAfter {
			continue
		}
		bot, err := m.Ratings.PickBot(ctx, MatchTier(e.Rating), used)
		if err != nil {
			zap.L().Error("[Matchmaker] bot lookup failed", zap.Error(err))
			return
		}
		if bot == nil {
			return
		}
		used[bot.PlayerID] = true
		_, err = m.Sessions.Create(ctx, CreateRequest{
			Seats: [2]Seat{
				{PlayerID: e.PlayerID, Rating: e.Rating, Premium: e.Premium},
				{PlayerID: bot.PlayerID, IsBot: true, Rating: bot.Rating},
			},
			GameMode:    e.GameMode,
			SessionType: e.SessionType,
			Region:      e.Region,
			EntryIDs:    []string{e.ID},
		})
		switch {
		case err == nil:
			report.BotMatches++
		case isRace(err):
			report.Conflicts++
		default:
			report.Failures++
			zap.L().Error("[Matchmaker] bot session failed", zap.String("player", e.PlayerID), zap.Error(err))
		}
	}
}
