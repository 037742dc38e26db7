package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"activity-rewards-system/logger"
	"activity-rewards-system/models"
	"activity-rewards-system/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletListener is told which users received new or changed wallets.
type WalletListener interface {
	WalletsChanged(ctx context.Context, userIDs []string) error
}

// WalletSyncClient mirrors wallets from the sync service into wallet_mirrors.
type WalletSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
	Listener   WalletListener
	log        *logger.Logger
}

func NewWalletSyncClient(db *gorm.DB, baseURL, token string, listener WalletListener, baseLog *logger.Logger) *WalletSyncClient {
	return &WalletSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		Listener:   listener,
		HTTPClient: utils.NewHTTPClient(30 * time.Second),
		log:        baseLog.With("component", "WalletSync"),
	}
}

func (c *WalletSyncClient) GetChangedWallets(ctx context.Context, since time.Time) ([]models.WalletMirror, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/wallets", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Wallets []models.WalletMirror `json:"wallets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Wallets, nil
}

// SyncOnce fetches wallets changed since the given time and upserts them.
func (c *WalletSyncClient) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	wallets, err := c.GetChangedWallets(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(wallets) == 0 {
		return 0, nil
	}

	if err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "address"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"chain",
			"is_treasury",
			"is_active",
			"last_balance_check_at",
			"updated_at",
		}),
	}).Create(&wallets).Error; err != nil {
		return 0, fmt.Errorf("upsert %d wallet(s): %w", len(wallets), err)
	}

	if c.Listener != nil {
		seen := map[string]struct{}{}
		var users []string
		for _, w := range wallets {
			if _, ok := seen[w.UserID]; ok || !w.Eligible() {
				continue
			}
			seen[w.UserID] = struct{}{}
			users = append(users, w.UserID)
		}
		if len(users) > 0 {
			if err := c.Listener.WalletsChanged(ctx, users); err != nil {
				c.log.Warn("Wallet listener failed", "users", len(users), "error", err)
			}
		}
	}
	return len(wallets), nil
}

// PollWallets keeps wallet_mirrors in step with the sync service until ctx ends.
func PollWallets(ctx context.Context, client *WalletSyncClient, pollInterval time.Duration) {
	client.log.Info("Starting wallet polling", "interval", pollInterval)
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			client.log.Info("Wallet polling stopped")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()
			count, err := client.SyncOnce(ctx, lastSyncTime)
			if err != nil {
				// lastSyncTime is kept so the same window is retried next tick.
				client.log.Warn("Wallet poll failed", "since", lastSyncTime, "error", err)
				continue
			}
			lastSyncTime = tickTime
			if count > 0 {
				client.log.Info("Wallets upserted", "count", count)
			}
		}
	}
}
