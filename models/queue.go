package models

import (
	"time"

	"github.com/gosimple/slug"
)

// SessionType drives queue priority.
type SessionType string

const (
	SessionQuick      SessionType = "quick"
	SessionRanked     SessionType = "ranked"
	SessionTournament SessionType = "tournament"
)

// DefaultRegion is used when a client does not send one.
const DefaultRegion = "global"

// Weight is the priority bonus of a session type.
func (t SessionType) Weight() float64 {
	switch t {
	case SessionRanked:
		return 25
	case SessionTournament:
		return 50
	default:
		return 0
	}
}

func (t SessionType) Valid() bool {
	switch t {
	case SessionQuick, SessionRanked, SessionTournament:
		return true
	}
	return false
}

// NormalizeKey folds mode and region names into their stored slug form.
func NormalizeKey(s string) string {
	return slug.Make(s)
}

// NormalizeRegion is NormalizeKey with the global fallback.
func NormalizeRegion(s string) string {
	if r := slug.Make(s); r != "" {
		return r
	}
	return DefaultRegion
}

// QueueEntry is a player waiting for an opponent in one mode.
type QueueEntry struct {
	ID          string      `json:"id" gorm:"primaryKey;type:varchar(36)"`
	PlayerID    string      `json:"player_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_queue_player_mode"`
	GameMode    string      `json:"game_mode" gorm:"type:varchar(32);not null;uniqueIndex:idx_queue_player_mode;index:idx_queue_pool"`
	SessionType SessionType `json:"session_type" gorm:"type:varchar(16);not null;index:idx_queue_pool"`
	Region      string      `json:"region" gorm:"type:varchar(32);not null;index:idx_queue_pool"`
	Rating      int         `json:"rating" gorm:"not null"`
	Premium     bool        `json:"premium" gorm:"default:false"`
	EnqueuedAt  time.Time   `json:"enqueued_at" gorm:"index;not null"`

	// Computed at snapshot time
	Priority float64 `json:"priority" gorm:"-"`

	Timestamps
}

// PlayerSession is the one-active-session-per-player reference.
type PlayerSession struct {
	PlayerID  string    `json:"player_id" gorm:"primaryKey;type:varchar(64)"`
	SessionID string    `json:"session_id" gorm:"type:varchar(36);not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
