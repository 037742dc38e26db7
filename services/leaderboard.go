package services

import (
	"context"
	"fmt"
	"sort"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"

	"gorm.io/gorm"
)

const (
	DefaultLeaderboardLimit = 10
	MaxLeaderboardLimit     = 100
)

// LeaderboardCache holds recently computed rankings. Implementations may drop entries
// at any time; a miss only costs a recompute.
type LeaderboardCache interface {
	Get(ctx context.Context, scoreType models.ScoreType, limit int) ([]models.RankedEntry, bool, error)
	Set(ctx context.Context, scoreType models.ScoreType, limit int, entries []models.RankedEntry) error
}

// UserScore is one user's score before ranking.
type UserScore struct {
	UserID string
	Score  float64
}

// Score computes a user's leaderboard score. tokens is the user's confirmed token count.
func Score(scoreType models.ScoreType, prog *models.UserProgress, tokens int64) float64 {
	switch scoreType {
	case models.ScoreTokens:
		return float64(tokens)
	case models.ScorePayments:
		return float64(prog.StatsFor(models.ActivityPayment).Count)
	case models.ScoreAmount:
		var sum float64
		for _, t := range models.ActivityTypes {
			sum += prog.StatsFor(t).AmountSum
		}
		return sum
	case models.ScoreStreak:
		best := 0
		for _, t := range models.ActivityTypes {
			if s := prog.StatsFor(t).CurrentStreak; s > best {
				best = s
			}
		}
		return float64(best)
	}
	return 0
}

// RankEntries orders scores descending with user id as the tiebreaker, assigns dense
// ranks (equal scores share a rank, the next distinct score gets the next rank) and
// returns at most limit entries.
func RankEntries(scores []UserScore, limit int) []models.RankedEntry {
	sorted := make([]UserScore, len(scores))
	copy(sorted, scores)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	if limit >= 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	entries := make([]models.RankedEntry, 0, len(sorted))
	rank := 0
	for i, s := range sorted {
		if i == 0 || s.Score != sorted[i-1].Score {
			rank++
		}
		entries = append(entries, models.RankedEntry{Rank: rank, UserID: s.UserID, Score: s.Score})
	}
	return entries
}

// LeaderboardService ranks users from the progress cache and the token mirror.
// It is read-only and reflects the last recompute of each user.
type LeaderboardService struct {
	DB    *gorm.DB
	cache LeaderboardCache
	log   *logger.Logger
}

// NewLeaderboardService builds the service. cache may be nil.
func NewLeaderboardService(db *gorm.DB, cache LeaderboardCache, baseLog *logger.Logger) *LeaderboardService {
	return &LeaderboardService{
		DB:    db,
		cache: cache,
		log:   baseLog.With("service", "LeaderboardService"),
	}
}

func (s *LeaderboardService) Rank(ctx context.Context, scoreType models.ScoreType, limit int) ([]models.RankedEntry, error) {
	if !scoreType.Valid() {
		return nil, &ValidationError{Fields: []FieldError{{"score", fmt.Sprintf("unknown score type %q", scoreType)}}}
	}
	if limit < 1 || limit > MaxLeaderboardLimit {
		return nil, &ValidationError{Fields: []FieldError{{"limit", fmt.Sprintf("must be between 1 and %d", MaxLeaderboardLimit)}}}
	}

	if s.cache != nil {
		entries, ok, err := s.cache.Get(ctx, scoreType, limit)
		if err != nil {
			s.log.Warn("Leaderboard cache read failed", "score", scoreType, "error", err)
		} else if ok {
			return entries, nil
		}
	}

	scores, err := s.collect(ctx, scoreType)
	if err != nil {
		return nil, err
	}
	entries := RankEntries(scores, limit)

	if s.cache != nil {
		if err := s.cache.Set(ctx, scoreType, limit, entries); err != nil {
			s.log.Warn("Leaderboard cache write failed", "score", scoreType, "error", err)
		}
	}
	return entries, nil
}

func (s *LeaderboardService) collect(ctx context.Context, scoreType models.ScoreType) ([]UserScore, error) {
	var progress []models.UserProgress
	if err := s.DB.WithContext(ctx).Find(&progress).Error; err != nil {
		return nil, storageErr("load progress", err)
	}

	tokens := map[string]int64{}
	if scoreType == models.ScoreTokens {
		var rows []struct {
			UserID string
			Tokens int64
		}
		err := s.DB.WithContext(ctx).
			Model(&models.SoulboundToken{}).
			Select("user_id, COUNT(*) AS tokens").
			Group("user_id").
			Scan(&rows).Error
		if err != nil {
			return nil, storageErr("count tokens", err)
		}
		for _, r := range rows {
			tokens[r.UserID] = r.Tokens
		}
	}

	scores := make([]UserScore, 0, len(progress))
	seen := make(map[string]struct{}, len(progress))
	for i := range progress {
		p := &progress[i]
		seen[p.UserID] = struct{}{}
		scores = append(scores, UserScore{UserID: p.UserID, Score: Score(scoreType, p, tokens[p.UserID])})
	}
	// Token holders without a progress row still rank by tokens.
	for userID, n := range tokens {
		if _, ok := seen[userID]; !ok {
			scores = append(scores, UserScore{UserID: userID, Score: float64(n)})
		}
	}
	return scores, nil
}
