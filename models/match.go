package models

const (
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultForfeit = "forfeit"
)

// MatchResult records one participant's side of a completed session
type MatchResult struct {
	ID         string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID  string `gorm:"type:varchar(36);not null;uniqueIndex:idx_result_session_player" json:"session_id"`
	PlayerID   string `gorm:"type:varchar(64);not null;uniqueIndex:idx_result_session_player;index" json:"player_id"`
	OpponentID string `gorm:"type:varchar(64)" json:"opponent_id"`
	GameMode   string `gorm:"type:varchar(32)" json:"game_mode"`
	IsBot      bool   `json:"is_bot"`

	// Game outcome
	Score       int    `json:"score"`
	Result      string `json:"result" gorm:"type:varchar(16);check:result IN ('win','loss','forfeit')"`
	DurationSec int    `json:"duration_sec" gorm:"default:0"`

	RatingBefore int `json:"rating_before"`
	RatingAfter  int `json:"rating_after"`
	RatingDelta  int `json:"rating_delta"`

	Timestamps
}
