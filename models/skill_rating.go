package models

import (
	"time"
)

// Tier is the derived rank: Bronze(1)→Silver(2)→Gold(3)→Platinum(4)→Diamond(5)
type Tier int

const (
	TierBronze Tier = iota + 1
	TierSilver
	TierGold
	TierPlatinum
	TierDiamond
)

const (
	RatingFloor   = 800
	RatingCeiling = 2200
	RatingDefault = 1200
)

func (t Tier) String() string {
	switch t {
	case TierSilver:
		return "Silver"
	case TierGold:
		return "Gold"
	case TierPlatinum:
		return "Platinum"
	case TierDiamond:
		return "Diamond"
	default:
		return "Bronze"
	}
}

// SkillRating is the long-lived skill record of a player or bot.
type SkillRating struct {
	PlayerID    string `json:"player_id" gorm:"primaryKey;type:varchar(64)"`
	DisplayName string `json:"display_name,omitempty" gorm:"type:varchar(64)"`
	IsBot       bool   `json:"is_bot" gorm:"index;default:false"`

	Rating        int  `json:"rating" gorm:"not null;default:1200"`
	Tier          Tier `json:"tier" gorm:"not null;default:1"`
	GamesPlayed   int  `json:"games_played" gorm:"default:0"`
	Wins          int  `json:"wins" gorm:"default:0"`
	Losses        int  `json:"losses" gorm:"default:0"`
	CurrentStreak int  `json:"current_streak" gorm:"default:0"` // >0 wins in a row, <0 losses in a row
	BestStreak    int  `json:"best_streak" gorm:"default:0"`

	// Guards against rating the same session twice
	LastRatedSession string     `json:"last_rated_session,omitempty" gorm:"type:varchar(36)"`
	LastRatedAt      *time.Time `json:"last_rated_at,omitempty"`

	Timestamps
}

// WinRate is wins over games played, 0 before the first game.
func (r SkillRating) WinRate() float64 {
	if r.GamesPlayed == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.GamesPlayed)
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
