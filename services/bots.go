package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"dice-duel/engine"
	"dice-duel/models"
)

// BotIdentity is one entry of the bot roster file.
type BotIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Rating      int    `json:"rating"`
}

// BotRoster loads the roster file once.
type BotRoster struct {
	path string

	once       sync.Once
	identities []BotIdentity
	loadErr    error
}

func NewBotRoster(path string) *BotRoster {
	return &BotRoster{path: path}
}

// Load reads the roster. Later calls return the first result.
func (r *BotRoster) Load() ([]BotIdentity, error) {
	r.once.Do(func() {
		data, err := os.ReadFile(r.path)
		if err != nil {
			r.loadErr = fmt.Errorf("failed to read bot roster: %w", err)
			return
		}
		var ids []BotIdentity
		if err := json.Unmarshal(data, &ids); err != nil {
			r.loadErr = fmt.Errorf("failed to unmarshal bot roster: %w", err)
			return
		}
		for _, id := range ids {
			if id.ID == "" {
				continue
			}
			r.identities = append(r.identities, id)
		}
	})
	return r.identities, r.loadErr
}

// BotTarget is the turn score a bot of the given rating stops rolling at.
func BotTarget(rating int) int {
	return 20 + (ClampRating(rating)-models.RatingFloor)/70
}

// BotShouldCommit decides whether a bot ends its turn now.
func BotShouldCommit(sess *models.MatchSession, policy engine.ModePolicy) bool {
	if sess.TurnScore <= 0 {
		return false
	}
	me := sess.Slot(sess.TurnOwner)
	if policy.Wins(policy.Commit(me.Score, sess.TurnScore)) {
		return true
	}
	return sess.TurnScore >= BotTarget(me.RatingSnapshot)
}
