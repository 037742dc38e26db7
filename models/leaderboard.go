package models

// ScoreType selects what a leaderboard ranks users by.
type ScoreType string

const (
	ScoreTokens   ScoreType = "tokens"   // confirmed soulbound tokens
	ScorePayments ScoreType = "payments" // number of PAYMENT events
	ScoreAmount   ScoreType = "amount"   // sum of amounts over every type
	ScoreStreak   ScoreType = "streak"   // best current streak over every type
)

func (s ScoreType) Valid() bool {
	switch s {
	case ScoreTokens, ScorePayments, ScoreAmount, ScoreStreak:
		return true
	}
	return false
}

// RankedEntry is one row of a leaderboard response.
type RankedEntry struct {
	Rank   int     `json:"rank"`
	UserID string  `json:"user_id"`
	Score  float64 `json:"score"`
}
