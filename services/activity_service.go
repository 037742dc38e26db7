package services

import (
	"context"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"
)

// ActivityInput is what an upstream collaborator reports.
type ActivityInput struct {
	UserID         string              `json:"user_id"`
	Type           models.ActivityType `json:"type"`
	Amount         *float64            `json:"amount,omitempty"`
	Timestamp      *time.Time          `json:"timestamp,omitempty"` // defaults to now
	IdempotencyKey *string             `json:"idempotency_key,omitempty"`
}

type ActivityResult struct {
	Event    *models.ActivityEvent `json:"event"`
	Progress *models.UserProgress  `json:"progress"`
	Unlocked []string              `json:"unlocked"`
}

// ActivityService runs the ingestion pipeline: append, recompute, evaluate, enqueue.
// Minting itself happens on the worker pool, never on this path.
type ActivityService struct {
	Ledger    *ActivityLedger
	Progress  *ProgressionService
	Evaluator *AchievementEvaluator
	log       *logger.Logger
}

func NewActivityService(ledger *ActivityLedger, progress *ProgressionService, evaluator *AchievementEvaluator, baseLog *logger.Logger) *ActivityService {
	return &ActivityService{
		Ledger:    ledger,
		Progress:  progress,
		Evaluator: evaluator,
		log:       baseLog.With("service", "ActivityService"),
	}
}

// RecordActivity appends the event and brings the user's progress and mint queue up
// to date. When anything after the append fails the error is returned; retrying with
// the same idempotency key re-runs the pipeline without duplicating the event.
func (s *ActivityService) RecordActivity(ctx context.Context, in ActivityInput) (*ActivityResult, error) {
	ev := models.ActivityEvent{
		UserID:         in.UserID,
		Type:           in.Type,
		Amount:         in.Amount,
		IdempotencyKey: in.IdempotencyKey,
	}
	if in.Timestamp != nil {
		ev.Timestamp = *in.Timestamp
	} else {
		ev.Timestamp = s.Ledger.now()
	}

	stored, err := s.Ledger.Append(ctx, ev)
	if err != nil {
		return nil, err
	}

	prog, unlocked, err := s.Refresh(ctx, stored.UserID)
	if err != nil {
		s.log.Error("Progress refresh failed after append", "user_id", stored.UserID, "event_id", stored.ID, "error", err)
		return nil, err
	}
	return &ActivityResult{Event: stored, Progress: prog, Unlocked: unlocked}, nil
}

// Refresh recomputes a user's progress and enqueues every newly qualified achievement.
// Concurrent calls for one user are safe: the mint record index admits one winner
// per achievement and the cache only accepts snapshots at least as fresh as its own.
func (s *ActivityService) Refresh(ctx context.Context, userID string) (*models.UserProgress, []string, error) {
	prog, err := s.Progress.RecomputeUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	created, err := s.Evaluator.EvaluateAndEnqueue(ctx, prog)
	if err != nil {
		return nil, nil, err
	}
	if len(created) == 0 {
		return prog, []string{}, nil
	}
	// Fold the new unlocks into the cached progress.
	if prog, err = s.Progress.RecomputeUser(ctx, userID); err != nil {
		return nil, nil, err
	}
	return prog, created, nil
}
