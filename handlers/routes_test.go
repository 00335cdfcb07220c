package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dice-duel/config"
	"dice-duel/engine"
	"dice-duel/middleware"
	"dice-duel/models"
	"dice-duel/services"
	"dice-duel/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gatewayToken = "test-gateway-token"

type noTimers struct{}

func (noTimers) Schedule(string, time.Time, func()) {}
func (noTimers) Cancel(string)                      {}

type testApp struct {
	app      *fiber.App
	sessions *services.SessionService
	roller   *engine.FixedRoller
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := utils.OpenSQLite(filepath.Join(t.TempDir(), "duel.db"), nil)
	require.NoError(t, err)
	require.NoError(t, services.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	timing := config.DefaultTiming()
	roller := engine.NewFixedRoller()
	ratings := services.NewRatingService(db, clock, 1)
	queue := services.NewQueueService(db, ratings, clock, timing)
	sessions := services.NewSessionService(services.NewSessionStore(db, clock), ratings, queue, noTimers{},
		nil, nil, roller, clock, timing)

	app := fiber.New(fiber.Config{ErrorHandler: services.RespondError})
	app.Use(middleware.GatewayAuthMiddleware(gatewayToken, "/healthz"))
	SetupHealthRoutes(app, db)
	SetupQueueRoutes(app, queue)
	SetupSessionRoutes(app, sessions, services.NewBroadcaster(8))
	SetupRatingRoutes(app, ratings)

	return &testApp{app: app, sessions: sessions, roller: roller}
}

func (ta *testApp) do(t *testing.T, method, path, user string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func (ta *testApp) activeSession(t *testing.T) *models.MatchSession {
	t.Helper()
	sess, err := ta.sessions.Create(context.Background(), services.CreateRequest{
		Seats:       [2]services.Seat{{PlayerID: "alice", Rating: 1200}, {PlayerID: "bob", Rating: 1400}},
		GameMode:    "classic",
		SessionType: models.SessionQuick,
	})
	require.NoError(t, err)
	for _, p := range []string{"alice", "bob"} {
		status, _ := ta.do(t, http.MethodPost, "/session/readyCheck/respond", p,
			map[string]any{"sessionId": sess.ID, "accept": true})
		require.Equal(t, http.StatusOK, status)
	}
	return sess
}

func TestGatewayAuth(t *testing.T) {
	ta := newTestApp(t)

	resp, err := ta.app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = ta.app.Test(httptest.NewRequest(http.MethodGet, "/leaderboard", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/leaderboard", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = ta.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestQueueEndpoints(t *testing.T) {
	ta := newTestApp(t)

	status, body := ta.do(t, http.MethodPost, "/queue/join", "alice",
		map[string]any{"mode": "classic", "sessionType": "ranked", "rating": 1300})
	require.Equal(t, http.StatusOK, status)
	queued := body["queued"].(map[string]any)
	assert.Equal(t, "alice", queued["player_id"])
	assert.Equal(t, "ranked", queued["session_type"])

	status, body = ta.do(t, http.MethodGet, "/queue/alice", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"], 1)

	// joining the same mode again replaces the entry in place
	status, body = ta.do(t, http.MethodPost, "/queue/join", "alice",
		map[string]any{"mode": "classic", "sessionType": "quick", "region": "EU West"})
	require.Equal(t, http.StatusOK, status)
	requeued := body["queued"].(map[string]any)
	assert.Equal(t, queued["id"], requeued["id"])
	assert.Equal(t, "quick", requeued["session_type"])
	assert.Equal(t, "eu-west", requeued["region"])
	status, body = ta.do(t, http.MethodGet, "/queue/alice", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["entries"], 1)

	status, body = ta.do(t, http.MethodPost, "/queue/join", "alice",
		map[string]any{"player": "bob", "mode": "classic"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NotParticipant", body["kind"])

	status, body = ta.do(t, http.MethodPost, "/queue/join", "", map[string]any{"player": "carol", "mode": "poker"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation", body["kind"])
	assert.Contains(t, body["error"], "classic, countdown, siege")

	status, body = ta.do(t, http.MethodPost, "/queue/leave", "alice", map[string]any{"mode": "classic"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["removed"])

	status, body = ta.do(t, http.MethodGet, "/queue/alice", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "QueueEntryNotFound", body["kind"])
}

func TestGameplayEndpoints(t *testing.T) {
	ta := newTestApp(t)
	sess := ta.activeSession(t)
	ta.roller.Push([2]int{2, 3})

	status, body := ta.do(t, http.MethodPost, "/session/action/roll", "alice",
		map[string]any{"sessionId": sess.ID, "actionId": "a-1"})
	require.Equal(t, http.StatusOK, status)
	roll := body["roll"].(map[string]any)
	assert.Equal(t, float64(2), roll["die1"])
	assert.Equal(t, "normal", roll["outcome"])

	status, body = ta.do(t, http.MethodPost, "/session/action/roll", "alice",
		map[string]any{"sessionId": sess.ID, "actionId": "a-1"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["replayed"])

	status, body = ta.do(t, http.MethodPost, "/session/action/roll", "bob", map[string]any{"sessionId": sess.ID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "NotTurnOwner", body["kind"])

	status, body = ta.do(t, http.MethodPost, "/session/action/attack", "alice", map[string]any{"sessionId": sess.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "ActionNotAllowed", body["kind"])

	status, body = ta.do(t, http.MethodPost, "/session/action/bank", "alice", map[string]any{"sessionId": sess.ID})
	require.Equal(t, http.StatusOK, status)
	record := body["session"].(map[string]any)
	assert.Equal(t, float64(5), record["scores"].(map[string]any)["alice"])
	assert.Equal(t, float64(1), record["turnOwner"])

	status, body = ta.do(t, http.MethodPost, "/session/heartbeat", "bob", map[string]any{"sessionId": sess.ID, "ts": 1})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["phase"])

	status, body = ta.do(t, http.MethodGet, "/session/"+sess.ID, "alice", nil)
	require.Equal(t, http.StatusOK, status)
	tokens := body["continuityTokens"].(map[string]any)
	assert.Contains(t, tokens, "alice")
	assert.NotContains(t, tokens, "bob")

	status, body = ta.do(t, http.MethodGet, "/players/bob/session", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, sess.ID, body["id"])

	status, body = ta.do(t, http.MethodGet, "/session/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "SessionNotFound", body["kind"])
}

func TestForfeitRatingsAndRejoin(t *testing.T) {
	ta := newTestApp(t)
	sess := ta.activeSession(t)

	status, body := ta.do(t, http.MethodPost, "/session/rejoin", "", map[string]any{"continuityToken": "nope"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "InvalidToken", body["kind"])

	status, body = ta.do(t, http.MethodPost, "/session/rejoin", "",
		map[string]any{"continuityToken": sess.Player1.Token, "player": "bob"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["session"].(map[string]any)["phase"])

	status, body = ta.do(t, http.MethodPost, "/session/action/forfeit", "bob", map[string]any{"sessionId": sess.ID})
	require.Equal(t, http.StatusOK, status)

	status, body = ta.do(t, http.MethodPost, "/session/rejoin", "",
		map[string]any{"continuityToken": sess.Player1.Token, "player": "bob"})
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "TokenExpired", body["kind"])

	status, body = ta.do(t, http.MethodGet, "/ratings/alice", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1224), body["rating"].(map[string]any)["rating"])
	assert.Equal(t, float64(1), body["win_rate"])

	status, body = ta.do(t, http.MethodGet, "/ratings/bob/history", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["matches"], 1)

	status, body = ta.do(t, http.MethodGet, "/leaderboard?limit=5", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["leaderboard"], 2)

	status, body = ta.do(t, http.MethodGet, "/ratings/nobody", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RatingNotFound", body["kind"])
}

func TestSessionEventStreamAuth(t *testing.T) {
	ta := newTestApp(t)
	sess := ta.activeSession(t)
	other := ta.pendingSession(t, "carol", "dave")

	status, _ := ta.do(t, http.MethodGet, "/session/"+sess.ID+"/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = ta.do(t, http.MethodGet, "/session/"+sess.ID+"/events?token="+other.Player0.Token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body := ta.do(t, http.MethodGet, "/session/"+sess.ID+"/events", "carol", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "NotParticipant", body["kind"])

	_, err := ta.sessions.Forfeit(context.Background(), sess.ID, "bob")
	require.NoError(t, err)

	// continuity tokens die with the session
	status, _ = ta.do(t, http.MethodGet, "/session/"+sess.ID+"/events?token="+sess.Player0.Token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// an ended session streams its snapshot and closes
	req := httptest.NewRequest(http.MethodGet, "/session/"+sess.ID+"/events", nil)
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	req.Header.Set("X-User-ID", "alice")
	resp, err := ta.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "event: snapshot\n"))
	assert.Contains(t, string(raw), `"phase":"completed"`)
}

func (ta *testApp) pendingSession(t *testing.T, a, b string) *models.MatchSession {
	t.Helper()
	sess, err := ta.sessions.Create(context.Background(), services.CreateRequest{
		Seats:       [2]services.Seat{{PlayerID: a}, {PlayerID: b}},
		GameMode:    "classic",
		SessionType: models.SessionQuick,
	})
	require.NoError(t, err)
	return sess
}
