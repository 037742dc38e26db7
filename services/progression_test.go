package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"activity-rewards-system/models"
	"activity-rewards-system/testutil"

	"gorm.io/datatypes"
)

func event(userID string, typ models.ActivityType, ts time.Time, amount *float64) models.ActivityEvent {
	return models.ActivityEvent{
		ID:        fmt.Sprintf("%s-%s-%d", userID, typ, ts.UnixNano()),
		UserID:    userID,
		Type:      typ,
		Amount:    amount,
		Timestamp: ts.UTC(),
		DayBucket: DayBucket(ts, time.UTC),
	}
}

func dailyEvents(userID string, typ models.ActivityType, last time.Time, days int) []models.ActivityEvent {
	events := make([]models.ActivityEvent, 0, days)
	for i := days - 1; i >= 0; i-- {
		events = append(events, event(userID, typ, last.AddDate(0, 0, -i), nil))
	}
	return events
}

func TestRecomputeIsDeterministic(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	events := dailyEvents("u1", models.ActivityLogin, base, 5)
	events = append(events,
		event("u1", models.ActivityPayment, base.Add(time.Hour), testutil.Float(12.5)),
		event("u1", models.ActivityPayment, base.Add(2*time.Hour), testutil.Float(7.5)),
		event("u1", models.ActivityTaskCompletion, base.Add(-48*time.Hour), nil),
	)

	want, err := json.Marshal(Recompute("u1", events, []string{"first_login", "first_payment"}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		shuffled := append([]models.ActivityEvent(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := json.Marshal(Recompute("u1", shuffled, []string{"first_payment", "first_login", "first_login"}))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(got) != string(want) {
			t.Fatalf("recompute differs for shuffled input:\n got %s\nwant %s", got, want)
		}
	}
}

func TestRecomputePaymentMilestone(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prog := Recompute("u1", []models.ActivityEvent{
		event("u1", models.ActivityPayment, ts, testutil.Float(1)),
	}, nil)

	pay := prog.StatsFor(models.ActivityPayment)
	if pay.Count != 1 || pay.AmountSum != 1 {
		t.Fatalf("payment stats = %+v, want count 1 amount 1", pay)
	}
	if pay.CurrentStreak != 1 || pay.LastActivityDate != "2024-03-01" {
		t.Fatalf("payment streak = %+v", pay)
	}
	if prog.EventCount != 1 || prog.LastEventAt == nil || !prog.LastEventAt.Equal(ts) {
		t.Fatalf("snapshot markers = %d / %v", prog.EventCount, prog.LastEventAt)
	}
	if login := prog.StatsFor(models.ActivityLogin); login.Count != 0 || login.CurrentStreak != 0 {
		t.Fatalf("login stats should be zero, got %+v", login)
	}
}

func TestRecomputeSevenDayLoginStreak(t *testing.T) {
	last := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	prog := Recompute("u1", dailyEvents("u1", models.ActivityLogin, last, 7), nil)

	login := prog.StatsFor(models.ActivityLogin)
	if login.CurrentStreak != 7 || login.LongestStreak != 7 || login.Count != 7 {
		t.Fatalf("login stats = %+v, want streak 7 count 7", login)
	}

	catalog := mustCatalog(t)
	got := Evaluate(catalog, &prog)
	if !contains(got, "week_warrior") || !contains(got, "first_login") {
		t.Fatalf("Evaluate = %v, want first_login and week_warrior", got)
	}
}

func TestRecomputeBrokenStreak(t *testing.T) {
	last := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	events := dailyEvents("u1", models.ActivityLogin, last.AddDate(0, 0, -4), 6)
	events = append(events, dailyEvents("u1", models.ActivityLogin, last, 3)...)

	prog := Recompute("u1", events, nil)
	login := prog.StatsFor(models.ActivityLogin)
	if login.CurrentStreak != 3 || login.LongestStreak != 6 {
		t.Fatalf("login stats = %+v, want current 3 longest 6", login)
	}
	if contains(Evaluate(mustCatalog(t), &prog), "week_warrior") {
		t.Fatal("week_warrior must not unlock on a broken streak")
	}
}

func TestRecomputeIgnoresOtherUsers(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	prog := Recompute("u1", []models.ActivityEvent{
		event("u1", models.ActivityPayment, ts, testutil.Float(5)),
		event("u2", models.ActivityPayment, ts, testutil.Float(500)),
	}, nil)
	if pay := prog.StatsFor(models.ActivityPayment); pay.Count != 1 || pay.AmountSum != 5 {
		t.Fatalf("payment stats = %+v", pay)
	}
}

func TestRecomputeUserPersistsProgress(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	ts := p.clock.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := p.ledger.Append(ctx, models.ActivityEvent{
			UserID:    "u1",
			Type:      models.ActivityPayment,
			Amount:    testutil.Float(10),
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	testutil.SeedMintRecord(t, p.db, models.MintRecord{UserID: "u1", AchievementID: "first_payment"})

	if _, err := p.progress.RecomputeUser(ctx, "u1"); err != nil {
		t.Fatalf("RecomputeUser: %v", err)
	}

	var stored models.UserProgress
	if err := p.db.Where("user_id = ?", "u1").First(&stored).Error; err != nil {
		t.Fatalf("load progress: %v", err)
	}
	if stored.EventCount != 3 {
		t.Fatalf("event_count = %d, want 3", stored.EventCount)
	}
	if pay := stored.StatsFor(models.ActivityPayment); pay.Count != 3 || pay.AmountSum != 30 {
		t.Fatalf("payment stats = %+v", pay)
	}
	if !stored.HasUnlocked("first_payment") {
		t.Fatalf("unlocked = %v, want first_payment", stored.UnlockedAchievements.Data())
	}
}

func TestProgressSaveDropsStaleSnapshot(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	fresh := models.UserProgress{
		UserID:               "u1",
		Stats:                datatypes.NewJSONType(map[models.ActivityType]models.TypeProgress{models.ActivityLogin: {Count: 5}}),
		UnlockedAchievements: datatypes.NewJSONType([]string{"first_login"}),
		EventCount:           5,
		UnlockedCount:        1,
	}
	if err := p.progress.save(ctx, &fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	stale := models.UserProgress{
		UserID:               "u1",
		Stats:                datatypes.NewJSONType(map[models.ActivityType]models.TypeProgress{models.ActivityLogin: {Count: 3}}),
		UnlockedAchievements: datatypes.NewJSONType([]string{}),
		EventCount:           3,
	}
	if err := p.progress.save(ctx, &stale); err != nil {
		t.Fatalf("save stale: %v", err)
	}

	got, err := p.progress.GetProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if got.EventCount != 5 || got.StatsFor(models.ActivityLogin).Count != 5 {
		t.Fatalf("stale snapshot overwrote cache: %+v", got)
	}
}

func TestGetProgressComputesOnMiss(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if _, err := p.ledger.Append(ctx, models.ActivityEvent{
		UserID:    "u1",
		Type:      models.ActivityLogin,
		Timestamp: p.clock.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := p.progress.GetProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("GetProgress: %v", err)
	}
	if got.StatsFor(models.ActivityLogin).Count != 1 {
		t.Fatalf("login count = %d, want 1", got.StatsFor(models.ActivityLogin).Count)
	}

	empty, err := p.progress.GetProgress(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetProgress(nobody): %v", err)
	}
	if empty.EventCount != 0 {
		t.Fatalf("nobody event_count = %d", empty.EventCount)
	}
}

func mustCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(models.DefaultCatalog)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
