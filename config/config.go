package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange
	ExchangeBaseURL string
	ExchangeWSURL   string
	QuotePrefix     string

	// Batch collector
	RatePerSec      int
	CandleCount     int
	Granularity     string
	CollectInterval time.Duration // 0 = single batch, then exit

	// Storage
	DBDriver       string // "sqlite" or "postgres"
	SQLitePath     string
	DBSettingsFile string // YAML file with Postgres connection settings

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MetricsAddr   string

	// Streamer
	StreamTicket   string
	ReconnectDelay time.Duration
	BucketWidth    time.Duration
	BucketTTL      time.Duration

	// Alerting (all optional)
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ExchangeBaseURL: getEnv("EXCHANGE_BASE_URL", "https://api.upbit.com"),
		ExchangeWSURL:   getEnv("EXCHANGE_WS_URL", "wss://api.upbit.com/websocket/v1"),
		QuotePrefix:     getEnv("QUOTE_PREFIX", "KRW-"),

		RatePerSec:      getEnvInt("RATE_PER_SEC", 8),
		CandleCount:     getEnvInt("CANDLE_COUNT", 800),
		Granularity:     getEnv("GRANULARITY", "1h"),
		CollectInterval: getEnvDuration("COLLECT_INTERVAL", 0),

		DBDriver:       getEnv("DB_DRIVER", "sqlite"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/coinwatch.db"),
		DBSettingsFile: getEnv("DB_SETTINGS_FILE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		StreamTicket:   getEnv("STREAM_TICKET", "coinwatch"),
		ReconnectDelay: getEnvDuration("RECONNECT_DELAY", 5*time.Second),
		BucketWidth:    getEnvDuration("BUCKET_WIDTH", time.Minute),
		BucketTTL:      getEnvDuration("BUCKET_TTL", 3*time.Minute),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// DBSettings holds Postgres connection settings, loaded from a YAML file so
// credentials stay out of the environment.
type DBSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// LoadDBSettings reads and parses the YAML settings file.
func LoadDBSettings(path string) (*DBSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var s DBSettings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if s.Port == 0 {
		s.Port = 5432
	}
	if s.SSLMode == "" {
		s.SSLMode = "disable"
	}
	return &s, nil
}

// DSN builds the lib/pq connection string.
func (s *DBSettings) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DBName, s.SSLMode)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
