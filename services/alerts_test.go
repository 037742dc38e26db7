package services

import (
	"context"
	"errors"
	"testing"

	"activity-rewards-system/models"
	"activity-rewards-system/testutil"
)

func TestAlertsListAndAcknowledge(t *testing.T) {
	svc := NewAlertService(testutil.DB(t), testutil.Logger(t))
	ctx := context.Background()

	recID := "rec-1"
	svc.Raise(ctx, models.AlertDeadLetter, &recID, "u1", "first_login", "gave up")
	svc.Raise(ctx, models.AlertConsistency, nil, "u2", "week_warrior", "mirror healed")

	open, err := svc.List(ctx, false, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open alerts = %d, want 2", len(open))
	}

	var target models.MintAlert
	for _, a := range open {
		if a.Kind == models.AlertDeadLetter {
			target = a
		}
	}
	if target.MintRecordID == nil || *target.MintRecordID != recID {
		t.Fatalf("dead letter alert = %+v", target)
	}

	if err := svc.Acknowledge(ctx, target.ID); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	open, _ = svc.List(ctx, false, 0)
	if len(open) != 1 || open[0].Kind != models.AlertConsistency {
		t.Fatalf("open alerts after ack = %+v", open)
	}
	all, _ := svc.List(ctx, true, 0)
	if len(all) != 2 {
		t.Fatalf("all alerts = %d, want 2", len(all))
	}

	if err := svc.Acknowledge(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Acknowledge(missing) = %v, want ErrNotFound", err)
	}
}
