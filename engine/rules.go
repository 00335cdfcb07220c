// Package engine implements the dice rules of a duel turn.
//
// Everything here is pure: callers pass the current turn state in and get the next
// state back. Persistence, turn ownership and phase checks live in the session service.
package engine

import "errors"

// Outcome classifies a roll.
type Outcome string

const (
	OutcomeSingleOne   Outcome = "single-one"
	OutcomeSnakeEyes   Outcome = "snake-eyes"
	OutcomeBustReset   Outcome = "bust-reset"
	OutcomeDoubleBonus Outcome = "double-bonus"
	OutcomeNormal      Outcome = "normal"
)

// ErrInvalidDie indicates a die face outside 1..6.
var ErrInvalidDie = errors.New("dice must be between 1 and 6")

// RollResult is the state after a single roll.
type RollResult struct {
	Die1       int     `json:"die1"`
	Die2       int     `json:"die2"`
	Outcome    Outcome `json:"outcome"`
	TurnScore  int     `json:"turn_score"`
	Multiplier bool    `json:"multiplier_active"`
	TurnEnds   bool    `json:"turn_ends"`
	// ResetsTotal is set on a double six: the roller's banked total goes back to the
	// mode's starting score.
	ResetsTotal bool `json:"resets_total"`
}

// PlayerScoreAfter returns the roller's banked total once the roll is applied.
func (r RollResult) PlayerScoreAfter(policy ModePolicy, playerScore int) int {
	if r.ResetsTotal {
		return policy.BustScore()
	}
	return playerScore
}

// ApplyRoll evaluates one roll of two dice against the current turn. The rules are the
// same in every mode; PlayerScoreAfter applies a reset to the mode's starting score.
//
// Rules, first match wins:
//
//   - exactly one die is 1: turn score and multiplier clear, turn ends
//   - both dice are 1: turn score +20, multiplier untouched, turn continues
//   - both dice are 6: banked total and turn score reset, turn ends
//   - any other double v: turn score +2*(v+v), multiplier on, turn continues
//   - otherwise: turn score +(d1+d2), doubled while the multiplier is on
func ApplyRoll(die1, die2, turnScore int, multiplierActive bool) (RollResult, error) {
	if die1 < 1 || die1 > 6 || die2 < 1 || die2 > 6 {
		return RollResult{}, ErrInvalidDie
	}
	res := RollResult{Die1: die1, Die2: die2}
	switch {
	case (die1 == 1) != (die2 == 1):
		res.Outcome = OutcomeSingleOne
		res.TurnEnds = true

	case die1 == 1 && die2 == 1:
		res.Outcome = OutcomeSnakeEyes
		res.TurnScore = turnScore + SnakeEyesBonus
		res.Multiplier = multiplierActive

	case die1 == 6 && die2 == 6:
		res.Outcome = OutcomeBustReset
		res.TurnEnds = true
		res.ResetsTotal = true

	case die1 == die2:
		res.Outcome = OutcomeDoubleBonus
		res.TurnScore = turnScore + 2*(die1+die2)
		res.Multiplier = true

	default:
		factor := 1
		if multiplierActive {
			factor = 2
		}
		res.Outcome = OutcomeNormal
		res.TurnScore = turnScore + (die1+die2)*factor
		res.Multiplier = multiplierActive
	}
	return res, nil
}

// BankResult is the state after committing a turn score.
type BankResult struct {
	PlayerScore int  `json:"player_score"`
	TurnScore   int  `json:"turn_score"`
	Multiplier  bool `json:"multiplier_active"`
	TurnEnds    bool `json:"turn_ends"`
	Won         bool `json:"won"`
	// Applied is false when there was nothing to commit.
	Applied bool `json:"applied"`
}

// Bank commits the turn score into the player's total. A zero turn score is a no-op so
// that a repeated bank request cannot end the turn twice.
func Bank(playerScore, turnScore int, policy ModePolicy) BankResult {
	if turnScore <= 0 {
		return BankResult{PlayerScore: playerScore}
	}
	score := policy.Commit(playerScore, turnScore)
	return BankResult{
		PlayerScore: score,
		TurnEnds:    true,
		Won:         policy.Wins(score),
		Applied:     true,
	}
}
