package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"activity-rewards-system/middleware"
	"activity-rewards-system/models"
	"activity-rewards-system/services"
	"activity-rewards-system/testutil"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const gatewayToken = "gw-token"

type stubMinter struct{}

func (stubMinter) Mint(ctx context.Context, owner, uri, achievementID string) (string, error) {
	return "tx-" + achievementID, nil
}

func (stubMinter) AwaitConfirmation(ctx context.Context, tx string) (*services.MintConfirmation, error) {
	return &services.MintConfirmation{TokenID: "token-" + tx, Confirmed: true}, nil
}

func (stubMinter) FindToken(ctx context.Context, owner, achievementID string) (*services.ExternalToken, error) {
	return nil, nil
}

type stubMetadata struct{}

func (stubMetadata) UploadMetadata(ctx context.Context, meta *models.AchievementMetadata) (string, error) {
	return "https://cdn.test/" + meta.AchievementID + ".json", nil
}

type stubValidator struct{}

func (stubValidator) ValidateToken(ctx context.Context, token, deviceID string) (*services.ValidateResponse, error) {
	if token != "user-token" {
		return nil, errors.New("invalid")
	}
	return &services.ValidateResponse{UserID: "u1", DeviceID: deviceID}, nil
}

type testServer struct {
	app  *fiber.App
	db   *gorm.DB
	deps Deps
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	catalog, err := services.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	ledger := services.NewActivityLedger(db, log, time.UTC, 5*time.Minute)
	progression := services.NewProgressionService(db, ledger, log)
	evaluator := services.NewAchievementEvaluator(db, catalog, log)
	alerts := services.NewAlertService(db, log)
	deps := Deps{
		Activity:    services.NewActivityService(ledger, progression, evaluator, log),
		Progress:    progression,
		Leaderboard: services.NewLeaderboardService(db, nil, log),
		Coordinator: services.NewMintCoordinator(db, catalog, stubMetadata{}, stubMinter{}, alerts, services.DefaultCoordinatorConfig(), log),
		Alerts:      alerts,
		Stream:      services.NewTokenStream(db, log),
		Auth:        stubValidator{},
		Log:         log,
	}

	app := fiber.New()
	app.Use(middleware.GatewayAuthMiddleware(gatewayToken, log, AchievementStreamPath))
	SetupStreamRoutes(app, deps)
	SetupActivityRoutes(app, deps)
	SetupAdminRoutes(app, deps)
	return &testServer{app: app, db: db, deps: deps}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func TestGatewayTokenRequired(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/leaderboard", nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	status, _ := s.do(t, http.MethodGet, "/leaderboard", nil, map[string]string{"Authorization": "Bearer wrong"})
	if status != fiber.StatusUnauthorized {
		t.Fatalf("wrong token status = %d, want 401", status)
	}
}

func TestPostActivity(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/activity", map[string]interface{}{
		"user_id": "u1",
		"type":    "PAYMENT",
		"amount":  25,
	}, nil)
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var res struct {
		Event    models.ActivityEvent `json:"event"`
		Progress models.UserProgress  `json:"progress"`
		Unlocked []string             `json:"unlocked"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if res.Event.ID == "" || res.Event.Type != models.ActivityPayment {
		t.Fatalf("event = %+v", res.Event)
	}
	if len(res.Unlocked) != 1 || res.Unlocked[0] != "first_payment" {
		t.Fatalf("unlocked = %v", res.Unlocked)
	}
	if res.Progress.StatsFor(models.ActivityPayment).AmountSum != 25 {
		t.Fatalf("progress = %+v", res.Progress)
	}
}

func TestPostActivityValidation(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/activity", map[string]interface{}{
		"user_id": "u1",
		"type":    "TELEPORT",
	}, nil)
	if status != fiber.StatusBadRequest {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var res struct {
		Fields []services.FieldError `json:"fields"`
	}
	_ = json.Unmarshal(body, &res)
	if len(res.Fields) != 1 || res.Fields[0].Field != "type" {
		t.Fatalf("fields = %+v", res.Fields)
	}

	req := httptest.NewRequest(http.MethodPost, "/activity", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gatewayToken)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("malformed body: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}
}

func TestGetProgress(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/activity", map[string]interface{}{"user_id": "u1", "type": "LOGIN"}, nil)

	status, body := s.do(t, http.MethodGet, "/progress/u1", nil, nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var prog models.UserProgress
	if err := json.Unmarshal(body, &prog); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if prog.StatsFor(models.ActivityLogin).Count != 1 || !prog.HasUnlocked("first_login") {
		t.Fatalf("progress = %s", body)
	}
}

func TestLeaderboardRoute(t *testing.T) {
	s := newTestServer(t)
	for user, n := range map[string]int{"u5": 5, "u3": 3, "u8": 8} {
		for i := 0; i < n; i++ {
			testutil.SeedToken(t, s.db, user, "ach-"+string(rune('a'+i)), user+"-"+string(rune('a'+i)))
		}
	}

	status, body := s.do(t, http.MethodGet, "/leaderboard?score=tokens&limit=3", nil, nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var res struct {
		Entries []models.RankedEntry `json:"entries"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"u8", "u5", "u3"}
	if len(res.Entries) != 3 {
		t.Fatalf("entries = %+v", res.Entries)
	}
	for i, e := range res.Entries {
		if e.UserID != want[i] || e.Rank != i+1 {
			t.Fatalf("entry %d = %+v, want %s rank %d", i, e, want[i], i+1)
		}
	}

	for _, path := range []string{"/leaderboard?limit=abc", "/leaderboard?limit=0", "/leaderboard?score=karma"} {
		if status, _ := s.do(t, http.MethodGet, path, nil, nil); status != fiber.StatusBadRequest {
			t.Fatalf("%s status = %d, want 400", path, status)
		}
	}
}

func TestUserAchievements(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	testutil.SeedWallet(t, s.db, "u1", "0xu1")
	s.do(t, http.MethodPost, "/activity", map[string]interface{}{"user_id": "u1", "type": "LOGIN"}, nil)
	if _, err := s.deps.Coordinator.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	status, _ := s.do(t, http.MethodGet, "/user/achievements", nil, nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("without user status = %d, want 401", status)
	}

	status, body := s.do(t, http.MethodGet, "/user/achievements", nil, map[string]string{"X-User-ID": "u1"})
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(body, &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 1 || items[0]["achievement_id"] != "first_login" || items[0]["status"] != "CONFIRMED" {
		t.Fatalf("items = %v", items)
	}
	if items[0]["name"] != "Welcome Aboard!" || items[0]["token_id"] != "token-tx-first_login" {
		t.Fatalf("item = %v", items[0])
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t)

	if status, _ := s.do(t, http.MethodGet, "/s/admin/mints", nil, nil); status != fiber.StatusUnauthorized {
		t.Fatalf("no user status = %d, want 401", status)
	}
	status, _ := s.do(t, http.MethodGet, "/s/admin/mints", nil, map[string]string{"X-User-ID": "op", "X-User-Roles": "player"})
	if status != fiber.StatusForbidden {
		t.Fatalf("non-admin status = %d, want 403", status)
	}
}

func TestAdminMintOperations(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-User-ID": "op", "X-User-Roles": "player, admin"}
	dead := testutil.SeedMintRecord(t, s.db, models.MintRecord{
		UserID:        "u1",
		AchievementID: "first_payment",
		Status:        models.MintDead,
		Attempts:      5,
	})
	testutil.SeedMintRecord(t, s.db, models.MintRecord{UserID: "u2", AchievementID: "first_login"})

	status, body := s.do(t, http.MethodGet, "/s/admin/mints?status=dead", nil, admin)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var records []models.MintRecord
	if err := json.Unmarshal(body, &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].ID != dead.ID {
		t.Fatalf("dead records = %+v", records)
	}

	if status, body := s.do(t, http.MethodPost, "/s/admin/mints/"+dead.ID+"/requeue", nil, admin); status != fiber.StatusOK {
		t.Fatalf("requeue status = %d body=%s", status, body)
	}
	if status, _ := s.do(t, http.MethodPost, "/s/admin/mints/"+dead.ID+"/requeue", nil, admin); status != fiber.StatusNotFound {
		t.Fatalf("second requeue status = %d, want 404", status)
	}

	if status, _ := s.do(t, http.MethodPost, "/s/admin/users/u9/reconcile", nil, admin); status != fiber.StatusConflict {
		t.Fatalf("reconcile without wallet status = %d, want 409", status)
	}
	if status, body := s.do(t, http.MethodPost, "/s/admin/reconcile", nil, admin); status != fiber.StatusOK {
		t.Fatalf("reconcile status = %d body=%s", status, body)
	}
}

func TestAdminAlerts(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-User-ID": "op", "X-User-Roles": "admin"}
	s.deps.Alerts.Raise(context.Background(), models.AlertConsistency, nil, "u1", "first_login", "mirror healed")

	status, body := s.do(t, http.MethodGet, "/s/admin/alerts", nil, admin)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var alerts []models.MintAlert
	if err := json.Unmarshal(body, &alerts); err != nil || len(alerts) != 1 {
		t.Fatalf("alerts = %s (%v)", body, err)
	}

	if status, _ := s.do(t, http.MethodPost, "/s/admin/alerts/"+alerts[0].ID+"/ack", nil, admin); status != fiber.StatusOK {
		t.Fatalf("ack status = %d", status)
	}
	_, body = s.do(t, http.MethodGet, "/s/admin/alerts", nil, admin)
	_ = json.Unmarshal(body, &alerts)
	if len(alerts) != 0 {
		t.Fatalf("open alerts after ack = %+v", alerts)
	}
	if status, _ := s.do(t, http.MethodPost, "/s/admin/alerts/nope/ack", nil, admin); status != fiber.StatusNotFound {
		t.Fatalf("ack missing status = %d, want 404", status)
	}
}

func TestAdminRecompute(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-User-ID": "op", "X-User-Roles": "admin"}
	s.do(t, http.MethodPost, "/activity", map[string]interface{}{"user_id": "u1", "type": "LOGIN"}, nil)
	s.db.Exec("DELETE FROM user_progress")

	status, body := s.do(t, http.MethodPost, "/s/admin/progress/u1/recompute", nil, admin)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d body=%s", status, body)
	}
	var res struct {
		Progress models.UserProgress `json:"progress"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Progress.StatsFor(models.ActivityLogin).Count != 1 {
		t.Fatalf("progress = %s", body)
	}
}

func TestStreamRouteSkipsGatewayButNeedsUserToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, AchievementStreamPath, nil)
	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("missing token status = %d, want 400", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, AchievementStreamPath+"?token=bad&device_id=d1", nil)
	resp, err = s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("bad token status = %d, want 401", resp.StatusCode)
	}
}
