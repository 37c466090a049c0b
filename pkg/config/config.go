package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bridge.
type Config struct {
	// HTTP API
	Port      string
	JWTSecret string // empty disables auth on /command

	// Transports
	EnableFileTransport bool
	FileInboxDir        string
	FileOutboxDir       string
	FilePollInterval    time.Duration
	EnableTCPTransport  bool
	TCPAddr             string

	// Terminal backend
	DefaultAccount string
	DryRun         bool
	SimStartPrice  float64
	SimTickStep    float64
	SimNativeDelay time.Duration // delay before the sim assigns native ids

	// Identifier resolution
	ResolveTimeout time.Duration
	ResolvePoll    time.Duration

	// Monitoring loop
	MonitorInterval time.Duration

	// Registry housekeeping
	PruneAfter    time.Duration
	PruneInterval time.Duration

	// Breakeven profile presets
	ProfilePath string

	// Order journal
	EnableJournal bool
	JournalPath   string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the bridge still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                getEnv("PORT", "8422"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		EnableFileTransport: getEnv("ENABLE_FILE_TRANSPORT", "true") == "true",
		FileInboxDir:        getEnv("FILE_INBOX_DIR", "./data/incoming"),
		FileOutboxDir:       getEnv("FILE_OUTBOX_DIR", "./data/outgoing"),
		FilePollInterval:    getEnvDuration("FILE_POLL_INTERVAL_MS", 25*time.Millisecond),
		EnableTCPTransport:  getEnv("ENABLE_TCP_TRANSPORT", "false") == "true",
		TCPAddr:             getEnv("TCP_ADDR", ":8423"),
		DefaultAccount:      getEnv("DEFAULT_ACCOUNT", "Sim101"),
		DryRun:              getEnv("DRY_RUN", "true") == "true",
		SimStartPrice:       getEnvFloat("SIM_START_PRICE", 100.0),
		SimTickStep:         getEnvFloat("SIM_TICK_STEP", 0.25),
		SimNativeDelay:      getEnvDuration("SIM_NATIVE_DELAY_MS", 150*time.Millisecond),
		ResolveTimeout:      getEnvDuration("RESOLVE_TIMEOUT_MS", 3000*time.Millisecond),
		ResolvePoll:         getEnvDuration("RESOLVE_POLL_MS", 25*time.Millisecond),
		MonitorInterval:     getEnvDuration("MONITOR_INTERVAL_MS", 100*time.Millisecond),
		PruneAfter:          getEnvDuration("PRUNE_AFTER_MS", 30*time.Minute),
		PruneInterval:       getEnvDuration("PRUNE_INTERVAL_MS", time.Minute),
		ProfilePath:         getEnv("BREAKEVEN_PROFILES", ""),
		EnableJournal:       getEnv("ENABLE_ORDER_JOURNAL", "false") == "true",
		JournalPath:         getEnv("ORDER_JOURNAL_PATH", "./data/bridge.db"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
