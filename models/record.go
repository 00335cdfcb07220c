package models

import (
	"errors"
	"time"
)

// SessionRecord is the external JSON shape of a session.
type SessionRecord struct {
	ID               string                      `json:"id"`
	Players          [2]string                   `json:"players"`
	Bots             [2]bool                     `json:"bots"`
	Phase            Phase                       `json:"phase"`
	GameMode         string                      `json:"gameMode"`
	SessionType      SessionType                 `json:"sessionType"`
	Region           string                      `json:"region"`
	TurnOwner        int                         `json:"turnOwner"`
	Scores           map[string]int              `json:"scores"`
	TurnScore        int                         `json:"turnScore"`
	MultiplierActive bool                        `json:"multiplierActive"`
	ReadyCheck       ReadyCheckRecord            `json:"readyCheck"`
	Pause            *PauseRecord                `json:"pause"`
	ContinuityTokens map[string]TokenRecord      `json:"continuityTokens"`
	RatingSnapshot   map[string]int              `json:"ratingSnapshot"`
	Premium          map[string]bool             `json:"premium,omitempty"`
	Connection       map[string]ConnectionStatus `json:"connection"`
	LastHeartbeat    map[string]time.Time        `json:"lastHeartbeat"`
	LastActions      map[string]string           `json:"lastActions,omitempty"`
	LastRoll         *RollRecord                 `json:"lastRoll,omitempty"`
	Winner           string                      `json:"winner"`
	EndReason        string                      `json:"endReason,omitempty"`
	CreatedAt        time.Time                   `json:"createdAt"`
	UpdatedAt        time.Time                   `json:"updatedAt"`
	ExpiresAt        time.Time                   `json:"expiresAt"`
	CompletedAt      *time.Time                  `json:"completedAt,omitempty"`
	Version          int64                       `json:"version"`
}

type ReadyCheckRecord struct {
	Deadline time.Time `json:"deadline"`
	Accepted [2]bool   `json:"accepted"`
	Declined [2]bool   `json:"declined"`
	Resolved bool      `json:"resolved"`
}

type PauseRecord struct {
	Reason   string    `json:"reason"`
	PausedAt time.Time `json:"pausedAt"`
	Deadline time.Time `json:"deadline"`
}

type TokenRecord struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RollRecord struct {
	Slot    int    `json:"slot"`
	Die1    int    `json:"die1"`
	Die2    int    `json:"die2"`
	Outcome string `json:"outcome"`
}

var ErrMalformedRecord = errors.New("malformed session record")

// ToRecord renders the session, continuity tokens included.
func (s *MatchSession) ToRecord() SessionRecord {
	rec := SessionRecord{
		ID:               s.ID,
		Players:          s.PlayerIDs(),
		Bots:             [2]bool{s.Player0.IsBot, s.Player1.IsBot},
		Phase:            s.Phase,
		GameMode:         s.GameMode,
		SessionType:      s.SessionType,
		Region:           s.Region,
		TurnOwner:        s.TurnOwner,
		Scores:           map[string]int{},
		TurnScore:        s.TurnScore,
		MultiplierActive: s.MultiplierActive,
		ReadyCheck: ReadyCheckRecord{
			Deadline: s.ReadyDeadline,
			Resolved: s.ReadyResolved,
		},
		ContinuityTokens: map[string]TokenRecord{},
		RatingSnapshot:   map[string]int{},
		Premium:          map[string]bool{},
		Connection:       map[string]ConnectionStatus{},
		LastHeartbeat:    map[string]time.Time{},
		LastActions:      map[string]string{},
		Winner:           s.WinnerID,
		EndReason:        s.EndReason,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		ExpiresAt:        s.ExpiresAt,
		CompletedAt:      s.CompletedAt,
		Version:          s.Version,
	}
	for i := 0; i < 2; i++ {
		p := s.Slot(i)
		rec.Scores[p.PlayerID] = p.Score
		rec.ReadyCheck.Accepted[i] = p.Ready == ReadyAccepted
		rec.ReadyCheck.Declined[i] = p.Ready == ReadyDeclined
		if p.Token != "" {
			rec.ContinuityTokens[p.PlayerID] = TokenRecord{Token: p.Token, ExpiresAt: p.TokenExpiresAt}
		}
		rec.RatingSnapshot[p.PlayerID] = p.RatingSnapshot
		if p.Premium {
			rec.Premium[p.PlayerID] = true
		}
		rec.Connection[p.PlayerID] = p.Connection
		rec.LastHeartbeat[p.PlayerID] = p.LastHeartbeatAt
		if p.LastActionID != "" {
			rec.LastActions[p.PlayerID] = p.LastActionID
		}
	}
	if s.PauseReason != "" && s.PausedAt != nil && s.PauseDeadline != nil {
		rec.Pause = &PauseRecord{Reason: s.PauseReason, PausedAt: *s.PausedAt, Deadline: *s.PauseDeadline}
	}
	if s.LastOutcome != "" {
		rec.LastRoll = &RollRecord{Slot: s.LastRollBy, Die1: s.LastDie1, Die2: s.LastDie2, Outcome: s.LastOutcome}
	}
	return rec
}

// Redacted drops every continuity token except the viewer's.
func (r SessionRecord) Redacted(viewer string) SessionRecord {
	out := r
	out.ContinuityTokens = map[string]TokenRecord{}
	out.LastActions = nil
	if tok, ok := r.ContinuityTokens[viewer]; ok {
		out.ContinuityTokens[viewer] = tok
	}
	return out
}

// FromRecord rebuilds a session from its record.
func FromRecord(rec SessionRecord) (*MatchSession, error) {
	if rec.ID == "" || rec.Players[0] == "" || rec.Players[1] == "" || rec.Players[0] == rec.Players[1] {
		return nil, ErrMalformedRecord
	}
	s := &MatchSession{
		ID:               rec.ID,
		Phase:            rec.Phase,
		GameMode:         rec.GameMode,
		SessionType:      rec.SessionType,
		Region:           rec.Region,
		TurnOwner:        rec.TurnOwner,
		TurnScore:        rec.TurnScore,
		MultiplierActive: rec.MultiplierActive,
		ReadyDeadline:    rec.ReadyCheck.Deadline,
		ReadyResolved:    rec.ReadyCheck.Resolved,
		WinnerID:         rec.Winner,
		EndReason:        rec.EndReason,
		ExpiresAt:        rec.ExpiresAt,
		CompletedAt:      rec.CompletedAt,
		LastRollBy:       NoSlot,
		Version:          rec.Version,
		Timestamps:       Timestamps{CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt},
	}
	for i := 0; i < 2; i++ {
		id := rec.Players[i]
		p := s.Slot(i)
		p.PlayerID = id
		p.IsBot = rec.Bots[i]
		p.Score = rec.Scores[id]
		p.TurnActive = i == rec.TurnOwner && (rec.Phase == PhaseActive || rec.Phase == PhasePaused)
		p.Connection = rec.Connection[id]
		p.LastHeartbeatAt = rec.LastHeartbeat[id]
		p.RatingSnapshot = rec.RatingSnapshot[id]
		p.Premium = rec.Premium[id]
		p.LastActionID = rec.LastActions[id]
		switch {
		case rec.ReadyCheck.Declined[i]:
			p.Ready = ReadyDeclined
		case rec.ReadyCheck.Accepted[i]:
			p.Ready = ReadyAccepted
		}
		if tok, ok := rec.ContinuityTokens[id]; ok {
			p.Token = tok.Token
			p.TokenExpiresAt = tok.ExpiresAt
		}
	}
	if rec.Pause != nil {
		pausedAt, deadline := rec.Pause.PausedAt, rec.Pause.Deadline
		s.PauseReason = rec.Pause.Reason
		s.PausedAt = &pausedAt
		s.PauseDeadline = &deadline
	}
	if rec.LastRoll != nil {
		s.LastRollBy = rec.LastRoll.Slot
		s.LastDie1 = rec.LastRoll.Die1
		s.LastDie2 = rec.LastRoll.Die2
		s.LastOutcome = rec.LastRoll.Outcome
	}
	return s, nil
}
