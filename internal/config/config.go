package config

import (
	"strings"
	"time"
)

// Config holds the full Slotfeed service configuration, sourced from the
// environment. Tuning values mirror the constants the pipeline was calibrated
// with in production; override them per-deployment rather than editing code.
type Config struct {
	Port string

	// Backends
	RedisURL      string
	PostgresURL   string
	ClickHouse    ClickHouseConfig
	KafkaBrokers  []string // empty disables the alert producer
	KafkaClientID string

	// Discovery
	DiscoveryBaseURL   string
	DiscoveryTargets   []string
	DiscoveryInterval  time.Duration
	DiscoveryCallDelay time.Duration

	// Job production
	JobInterval time.Duration
	JobLeaseTTL time.Duration

	// Workers
	OCREngineURL      string
	WorkerCount       int
	DequeueTimeout    time.Duration
	HeartbeatInterval time.Duration
	DropRatioFloor    float64
	LatestTTL         time.Duration

	// Balance processing
	ConfidenceThreshold float64
	OutlierStdThreshold float64
	HistoryWindow       int

	// Result publishing
	FlushInterval     time.Duration
	BigWinMultiplier  float64
	DepositRatio      float64
	RecentEventsLimit int

	// Queue hygiene
	StaleActiveBound int
}

// ClickHouseConfig holds the event sink connection settings.
type ClickHouseConfig struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// Load builds the service configuration from the environment.
func Load() Config {
	return Config{
		Port: GetEnv("PORT", "18030"),

		RedisURL:    GetEnv("REDIS_URL", "redis://localhost:6379/0"),
		PostgresURL: GetEnv("DATABASE_URL", ""),
		ClickHouse: ClickHouseConfig{
			Addr:     strings.Split(GetEnv("CLICKHOUSE_ADDR", "127.0.0.1:9000"), ","),
			Database: GetEnv("CLICKHOUSE_DATABASE", "slotfeed"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		KafkaBrokers:  splitNonEmpty(GetEnv("KAFKA_BROKERS", "")),
		KafkaClientID: GetEnv("KAFKA_CLIENT_ID", "slotfeed"),

		DiscoveryBaseURL:   GetEnv("DISCOVERY_URL", ""),
		DiscoveryTargets:   splitNonEmpty(GetEnv("DISCOVERY_TARGETS", "")),
		DiscoveryInterval:  GetEnvDuration("DISCOVERY_INTERVAL", 30*time.Second),
		DiscoveryCallDelay: GetEnvDuration("DISCOVERY_CALL_DELAY", 500*time.Millisecond),

		JobInterval: GetEnvDuration("JOB_INTERVAL", 5*time.Second),
		JobLeaseTTL: GetEnvDuration("JOB_LEASE_TTL", 90*time.Second),

		OCREngineURL:      GetEnv("OCR_ENGINE_URL", ""),
		WorkerCount:       GetEnvInt("WORKER_COUNT", 4),
		DequeueTimeout:    GetEnvDuration("DEQUEUE_TIMEOUT", 5*time.Second),
		HeartbeatInterval: GetEnvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		DropRatioFloor:    GetEnvFloat("DROP_RATIO_FLOOR", 0.05),
		LatestTTL:         GetEnvDuration("LATEST_READING_TTL", 300*time.Second),

		ConfidenceThreshold: GetEnvFloat("CONFIDENCE_THRESHOLD", 0.85),
		OutlierStdThreshold: GetEnvFloat("OUTLIER_STD_THRESHOLD", 3.0),
		HistoryWindow:       GetEnvInt("HISTORY_WINDOW", 20),

		FlushInterval:     GetEnvDuration("FLUSH_INTERVAL", 2*time.Second),
		BigWinMultiplier:  GetEnvFloat("BIG_WIN_MULTIPLIER", 100),
		DepositRatio:      GetEnvFloat("DEPOSIT_RATIO", 2.0),
		RecentEventsLimit: GetEnvInt("RECENT_EVENTS_LIMIT", 100),

		StaleActiveBound: GetEnvInt("STALE_ACTIVE_BOUND", 20),
	}
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
