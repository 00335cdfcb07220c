package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dice-duel/config"
	"dice-duel/engine"
	"dice-duel/models"
	"dice-duel/utils"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeTimers struct {
	mu    sync.Mutex
	tasks map[string]scheduledTask
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{tasks: map[string]scheduledTask{}}
}

func (f *fakeTimers) Schedule(key string, at time.Time, task func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[key] = scheduledTask{key: key, at: at, task: task}
}

func (f *fakeTimers) Cancel(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, key)
}

func (f *fakeTimers) Get(key string) (scheduledTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[key]
	return t, ok
}

// Fire runs a pending task as the scheduler would.
func (f *fakeTimers) Fire(t *testing.T, key string) {
	t.Helper()
	task, ok := f.Get(key)
	require.True(t, ok, "no task scheduled for %s", key)
	f.Cancel(key)
	task.task()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) Types(sessionID string) []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, ev := range r.events {
		if ev.SessionID == sessionID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (r *recordingPublisher) Last(typ EventType) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == typ {
			return r.events[i], true
		}
	}
	return Event{}, false
}

type memArchiver struct {
	mu   sync.Mutex
	recs []models.SessionRecord
}

func (m *memArchiver) Archive(_ context.Context, rec models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func (m *memArchiver) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recs)
}

type harness struct {
	db       *gorm.DB
	clock    *clockwork.FakeClock
	timers   *fakeTimers
	events   *recordingPublisher
	archive  *memArchiver
	roller   *engine.FixedRoller
	timing   config.Timing
	store    *SessionStore
	ratings  *RatingService
	queue    *QueueService
	sessions *SessionService
	mm       *Matchmaker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := utils.OpenSQLite(filepath.Join(t.TempDir(), "duel.db"), nil)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	h := &harness{
		db:      db,
		clock:   clockwork.NewFakeClockAt(epoch),
		timers:  newFakeTimers(),
		events:  &recordingPublisher{},
		archive: &memArchiver{},
		roller:  engine.NewFixedRoller(),
		timing:  config.DefaultTiming(),
	}
	h.store = NewSessionStore(db, h.clock)
	h.ratings = NewRatingService(db, h.clock, 7)
	h.queue = NewQueueService(db, h.ratings, h.clock, h.timing)
	h.sessions = NewSessionService(h.store, h.ratings, h.queue, h.timers, h.events, h.archive, h.roller, h.clock, h.timing)
	h.mm = NewMatchmaker(h.queue, h.sessions, h.ratings, h.clock, h.timing)
	return h
}

func (h *harness) ctx() context.Context {
	return context.Background()
}

func (h *harness) seedRating(t *testing.T, playerID string, rating int, bot bool) {
	t.Helper()
	row := models.SkillRating{PlayerID: playerID, Rating: rating, IsBot: bot}
	row.Tier = tierOf(&row)
	require.NoError(t, h.db.Create(&row).Error)
}

func (h *harness) create(t *testing.T, mode string, a, b Seat) *models.MatchSession {
	t.Helper()
	sess, err := h.sessions.Create(h.ctx(), CreateRequest{
		Seats:       [2]Seat{a, b},
		GameMode:    mode,
		SessionType: models.SessionRanked,
		Region:      "eu-west",
	})
	require.NoError(t, err)
	return sess
}

// activePair creates alice vs bob in mode and accepts the ready check for both.
func (h *harness) activePair(t *testing.T, mode string) *models.MatchSession {
	t.Helper()
	sess := h.create(t, mode, Seat{PlayerID: "alice", Rating: 1200}, Seat{PlayerID: "bob", Rating: 1400})
	_, err := h.sessions.RespondReadyCheck(h.ctx(), sess.ID, "alice", true)
	require.NoError(t, err)
	sess, err = h.sessions.RespondReadyCheck(h.ctx(), sess.ID, "bob", true)
	require.NoError(t, err)
	require.Equal(t, models.PhaseActive, sess.Phase)
	return sess
}

// setScores writes player totals directly.
func (h *harness) setScores(t *testing.T, id string, p0, p1 int) {
	t.Helper()
	_, err := h.store.Mutate(h.ctx(), id, func(tx *gorm.DB, s *models.MatchSession) error {
		s.Player0.Score = p0
		s.Player1.Score = p1
		return nil
	})
	require.NoError(t, err)
}
