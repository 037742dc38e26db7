package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime knob of the rewards service.
type Config struct {
	Port           string
	LogMode        string
	DatabaseURL    string
	GatewayToken   string
	AllowedOrigins []string

	AuthServiceURL  string
	SyncServiceURL  string
	SyncToken       string
	WalletPollEvery time.Duration

	MintServiceURL   string
	MintServiceToken string

	R2AccountID    string
	R2AccessKey    string
	R2AccessSecret string
	R2Bucket       string
	CDNBaseURL     string

	RedisURL       string
	LeaderboardTTL time.Duration

	CatalogPath string
	DayTimezone string
	ClockSkew   time.Duration

	WorkerConcurrency int
	WorkerPollEvery   time.Duration
	MaxMintAttempts   int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ConfirmTimeout    time.Duration
	ReconcileGrace    time.Duration
	ReconcileEvery    time.Duration
}

// Load reads .env (when present) and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	return Config{
		Port:           getString("PORT", "5300"),
		LogMode:        getString("LOG_MODE", "dev"),
		DatabaseURL:    getString("DATABASE_URL", ""),
		GatewayToken:   getString("REWARDS_SERVICE_TOKEN", ""),
		AllowedOrigins: getCSV("ALLOWED_ORIGINS", "http://localhost:3000"),

		AuthServiceURL:  getString("AUTH_SERVICE_URL", ""),
		SyncServiceURL:  getString("SYNC_SERVICE_URL", ""),
		SyncToken:       getString("SYNC_SERVICE_TOKEN", ""),
		WalletPollEvery: getDuration("WALLET_POLL_INTERVAL", 10*time.Second),

		MintServiceURL:   getString("MINT_SERVICE_URL", ""),
		MintServiceToken: getString("MINT_SERVICE_TOKEN", ""),

		R2AccountID:    getString("CLOUDFLARE_ACCOUNT_ID", ""),
		R2AccessKey:    getString("R2_ACCESS_KEY_ID", ""),
		R2AccessSecret: getString("R2_ACCESS_KEY_SECRET", ""),
		R2Bucket:       getString("R2_BUCKET_NAME", ""),
		CDNBaseURL:     getString("CDN_BASE_URL", ""),

		RedisURL:       getString("REDIS_URL", ""),
		LeaderboardTTL: getDuration("LEADERBOARD_CACHE_TTL", 30*time.Second),

		CatalogPath: getString("ACHIEVEMENT_CATALOG_PATH", ""),
		DayTimezone: getString("DAY_BUCKET_TZ", "UTC"),
		ClockSkew:   getDuration("CLOCK_SKEW", 5*time.Minute),

		WorkerConcurrency: getInt("MINT_WORKER_CONCURRENCY", 4),
		WorkerPollEvery:   getDuration("MINT_WORKER_POLL_INTERVAL", time.Second),
		MaxMintAttempts:   getInt("MINT_MAX_ATTEMPTS", 5),
		BackoffBase:       getDuration("MINT_BACKOFF_BASE", 10*time.Second),
		BackoffMax:        getDuration("MINT_BACKOFF_MAX", 10*time.Minute),
		ConfirmTimeout:    getDuration("MINT_CONFIRM_TIMEOUT", 45*time.Second),
		ReconcileGrace:    getDuration("MINT_RECONCILE_GRACE", 3*time.Minute),
		ReconcileEvery:    getDuration("MINT_RECONCILE_INTERVAL", time.Minute),
	}
}

// DayLocation resolves the reference timezone used for day buckets.
func (c Config) DayLocation() (*time.Location, error) {
	return time.LoadLocation(c.DayTimezone)
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// getDuration accepts Go duration strings ("45s", "3m").
func getDuration(key string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getCSV(key, def string) []string {
	raw := getString(key, def)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
