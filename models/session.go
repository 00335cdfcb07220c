package models

import (
	"time"
)

// Phase of a match session.
type Phase string

const (
	PhaseQueued     Phase = "queued"
	PhaseReadyCheck Phase = "ready_check"
	PhaseActive     Phase = "active"
	PhasePaused     Phase = "paused"
	PhaseCompleted  Phase = "completed"
	PhaseCancelled  Phase = "cancelled"
	PhaseExpired    Phase = "expired"
)

// Terminal phases never transition again.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseExpired
}

// NonTerminalPhases is used by store queries.
var NonTerminalPhases = []Phase{PhaseQueued, PhaseReadyCheck, PhaseActive, PhasePaused}

type ConnectionStatus string

const (
	Connected    ConnectionStatus = "connected"
	Disconnected ConnectionStatus = "disconnected"
	Forfeited    ConnectionStatus = "forfeited"
)

type ReadyResponse string

const (
	ReadyPending  ReadyResponse = ""
	ReadyAccepted ReadyResponse = "accepted"
	ReadyDeclined ReadyResponse = "declined"
)

// End reasons recorded on terminal sessions
const (
	EndObjective    = "objective"
	EndForfeit      = "forfeit"
	EndAbandoned    = "abandoned"
	EndDeclined     = "declined"
	EndReadyTimeout = "ready_timeout"
	EndBothStale    = "both_stale"
	EndMaxDuration  = "max_duration"
)

const (
	PauseHeartbeat = "heartbeat_timeout"
	NoWinner       = ""
	NoSlot         = -1
)

// PlayerState is one slot of a session. PlayerID and IsBot are write-once.
type PlayerState struct {
	PlayerID        string           `json:"player_id" gorm:"type:varchar(64);not null;index"`
	IsBot           bool             `json:"is_bot"`
	Premium         bool             `json:"premium"`
	Score           int              `json:"score"`
	TurnActive      bool             `json:"turn_active"`
	LastHeartbeatAt time.Time        `json:"last_heartbeat_at"`
	Connection      ConnectionStatus `json:"connection" gorm:"type:varchar(16)"`
	Ready           ReadyResponse    `json:"ready" gorm:"type:varchar(16)"`
	Token           string           `json:"-" gorm:"type:varchar(36);index"`
	TokenExpiresAt  time.Time        `json:"-"`
	LastActionID    string           `json:"-" gorm:"type:varchar(64)"`
	RatingSnapshot  int              `json:"rating_snapshot"`
}

// MatchSession is the canonical, server-held state of one duel.
type MatchSession struct {
	ID      string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Player0 PlayerState `json:"player0" gorm:"embedded;embeddedPrefix:p0_"`
	Player1 PlayerState `json:"player1" gorm:"embedded;embeddedPrefix:p1_"`

	Phase       Phase       `json:"phase" gorm:"type:varchar(16);not null;index"`
	GameMode    string      `json:"game_mode" gorm:"type:varchar(32);not null"`
	SessionType SessionType `json:"session_type" gorm:"type:varchar(16);not null"`
	Region      string      `json:"region" gorm:"type:varchar(32)"`

	// Turn
	TurnOwner        int    `json:"turn_owner"`
	TurnScore        int    `json:"turn_score"`
	MultiplierActive bool   `json:"multiplier_active"`
	LastDie1         int    `json:"last_die1"`
	LastDie2         int    `json:"last_die2"`
	LastOutcome      string `json:"last_outcome" gorm:"type:varchar(16)"`
	LastRollBy       int    `json:"last_roll_by" gorm:"default:-1"`

	// Ready check
	ReadyDeadline time.Time `json:"ready_deadline"`
	ReadyResolved bool      `json:"ready_resolved"`

	// Pause
	PauseReason   string     `json:"pause_reason,omitempty" gorm:"type:varchar(32)"`
	PausedAt      *time.Time `json:"paused_at,omitempty"`
	PauseDeadline *time.Time `json:"pause_deadline,omitempty" gorm:"index"`

	WinnerID    string     `json:"winner_id,omitempty" gorm:"type:varchar(64)"`
	EndReason   string     `json:"end_reason,omitempty" gorm:"type:varchar(32)"`
	ExpiresAt   time.Time  `json:"expires_at" gorm:"index"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Version int64 `json:"version" gorm:"not null;default:1"`

	Timestamps
}

// Slot returns a pointer to slot i (0 or 1).
func (s *MatchSession) Slot(i int) *PlayerState {
	if i == 1 {
		return &s.Player1
	}
	return &s.Player0
}

// SlotOf returns the slot index of a player, or -1.
func (s *MatchSession) SlotOf(playerID string) int {
	switch playerID {
	case s.Player0.PlayerID:
		return 0
	case s.Player1.PlayerID:
		return 1
	}
	return NoSlot
}

// SlotOfToken returns the slot holding a continuity token, or -1.
func (s *MatchSession) SlotOfToken(token string) int {
	if token == "" {
		return NoSlot
	}
	switch token {
	case s.Player0.Token:
		return 0
	case s.Player1.Token:
		return 1
	}
	return NoSlot
}

// PlayerIDs returns both slot ids in slot order.
func (s *MatchSession) PlayerIDs() [2]string {
	return [2]string{s.Player0.PlayerID, s.Player1.PlayerID}
}

// Opponent of slot i.
func Opponent(i int) int {
	return 1 - i
}
