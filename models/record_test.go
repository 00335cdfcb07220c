package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSession(phase Phase) *MatchSession {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &MatchSession{
		ID: "5f0c3c57-4a8e-4d8a-9d1f-3f7d7a4bb001",
		Player0: PlayerState{
			PlayerID: "alice", Score: 70, LastHeartbeatAt: now, Connection: Connected,
			Ready: ReadyAccepted, Token: "tok-a", TokenExpiresAt: now.Add(10 * time.Minute),
			LastActionID: "a-7", RatingSnapshot: 1200, Premium: true,
		},
		Player1: PlayerState{
			PlayerID: "bot-ember", IsBot: true, Score: 44, LastHeartbeatAt: now, Connection: Connected,
			Ready: ReadyAccepted, Token: "tok-b", TokenExpiresAt: now.Add(10 * time.Minute),
			RatingSnapshot: 1350,
		},
		Phase:            phase,
		GameMode:         "classic",
		SessionType:      SessionRanked,
		Region:           "eu-west",
		TurnOwner:        0,
		TurnScore:        26,
		MultiplierActive: true,
		LastDie1:         2, LastDie2: 5, LastOutcome: "normal", LastRollBy: 0,
		ReadyDeadline: now.Add(-time.Minute),
		ReadyResolved: true,
		ExpiresAt:     now.Add(time.Hour),
		Version:       9,
		Timestamps:    Timestamps{CreatedAt: now.Add(-2 * time.Minute), UpdatedAt: now},
	}
	if phase == PhaseActive || phase == PhasePaused {
		s.Player0.TurnActive = true
	}
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	for _, phase := range []Phase{PhaseReadyCheck, PhaseActive, PhasePaused, PhaseCompleted} {
		t.Run(string(phase), func(t *testing.T) {
			s := sampleSession(phase)
			if phase == PhasePaused {
				at := s.UpdatedAt
				deadline := at.Add(time.Minute)
				s.PauseReason = PauseHeartbeat
				s.PausedAt = &at
				s.PauseDeadline = &deadline
				s.Player1.Connection = Disconnected
			}
			if phase == PhaseCompleted {
				s.WinnerID = "alice"
				s.EndReason = EndObjective
			}

			raw, err := json.Marshal(s.ToRecord())
			require.NoError(t, err)

			var rec SessionRecord
			require.NoError(t, json.Unmarshal(raw, &rec))
			back, err := FromRecord(rec)
			require.NoError(t, err)

			assert.Equal(t, s.Phase, back.Phase)
			assert.Equal(t, s.Player0.Score, back.Player0.Score)
			assert.Equal(t, s.Player1.Score, back.Player1.Score)
			assert.Equal(t, s.Player0.Token, back.Player0.Token)
			assert.True(t, s.Player0.TokenExpiresAt.Equal(back.Player0.TokenExpiresAt))
			assert.Equal(t, s.Player1.Connection, back.Player1.Connection)
			assert.Equal(t, s.WinnerID, back.WinnerID)
			assert.True(t, back.Player0.Premium)
			assert.False(t, back.Player1.Premium)
			assert.Equal(t, s.ToRecord(), back.ToRecord())
		})
	}
}

func TestRecordShape(t *testing.T) {
	raw, err := json.Marshal(sampleSession(PhaseActive).ToRecord())
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	for _, key := range []string{"id", "players", "phase", "gameMode", "sessionType", "region", "turnOwner",
		"scores", "turnScore", "multiplierActive", "readyCheck", "pause", "continuityTokens",
		"ratingSnapshot", "connection", "lastHeartbeat", "winner", "createdAt", "updatedAt", "expiresAt", "version"} {
		assert.Contains(t, generic, key)
	}
	assert.Nil(t, generic["pause"])
}

func TestRedactedKeepsOnlyViewerToken(t *testing.T) {
	rec := sampleSession(PhaseActive).ToRecord().Redacted("alice")
	assert.Len(t, rec.ContinuityTokens, 1)
	assert.Equal(t, "tok-a", rec.ContinuityTokens["alice"].Token)

	assert.Empty(t, sampleSession(PhaseActive).ToRecord().Redacted("mallory").ContinuityTokens)
}

func TestFromRecordRejectsMalformed(t *testing.T) {
	rec := sampleSession(PhaseActive).ToRecord()
	rec.Players[1] = rec.Players[0]
	_, err := FromRecord(rec)
	assert.ErrorIs(t, err, ErrMalformedRecord)
}

func TestSlotLookup(t *testing.T) {
	s := sampleSession(PhaseActive)
	assert.Equal(t, 0, s.SlotOf("alice"))
	assert.Equal(t, 1, s.SlotOf("bot-ember"))
	assert.Equal(t, NoSlot, s.SlotOf("mallory"))
	assert.Equal(t, 1, s.SlotOfToken("tok-b"))
	assert.Equal(t, NoSlot, s.SlotOfToken(""))
	assert.Equal(t, 1, Opponent(0))
}

func TestNormalizeKeys(t *testing.T) {
	assert.Equal(t, "eu-west", NormalizeRegion("EU West"))
	assert.Equal(t, DefaultRegion, NormalizeRegion("  "))
	assert.Equal(t, "classic", NormalizeKey("Classic"))
	assert.Equal(t, 50.0, SessionTournament.Weight())
	assert.False(t, SessionType("casual").Valid())
}
