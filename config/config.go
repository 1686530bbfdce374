package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"kcu-companion/internal/indicator"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	HTTPAddr      string
	MetricsAddr   string
	LogLevel      string
	LogFile       string // optional rotated JSON log file

	// Charts
	Symbols     string // comma-separated, e.g. "SPY,QQQ"
	TF          int    // bar size in seconds
	Indicators  string // INDICATOR_CONFIGS format: "EMA:8,EMA:21,VWAP"
	VisibleBars int
	HistoryDays int

	// Levels
	LevelMode       string // "diff" or "remap"
	RegularSlots    int
	GammaSlots      int
	LevelStylesPath string

	// History retention
	RetentionDays int
	RetentionCron string

	// Alerts
	WebhookURL       string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads an optional .env file, then configuration from environment
// variables with sensible defaults. Variables already set in the environment
// win over the file.
func Load(envFiles ...string) *Config {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/companion.db"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),

		Symbols:     getEnv("SYMBOLS", "SPY,QQQ"),
		TF:          getEnvInt("CHART_TF", 60),
		Indicators:  getEnv("INDICATOR_CONFIGS", "EMA:8,EMA:21,VWAP"),
		VisibleBars: getEnvInt("VISIBLE_BARS", 150),
		HistoryDays: getEnvInt("HISTORY_DAYS", 5),

		LevelMode:       getEnv("LEVEL_MODE", "diff"),
		RegularSlots:    getEnvInt("LEVEL_SLOTS", 20),
		GammaSlots:      getEnvInt("GAMMA_SLOTS", 5),
		LevelStylesPath: getEnv("LEVEL_STYLES_PATH", ""),

		RetentionDays: getEnvInt("RETENTION_DAYS", 30),
		RetentionCron: getEnv("RETENTION_CRON", "0 15 3 * * *"),

		WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

// ParseSymbols splits Symbols into upper-cased, de-duplicated symbols.
func (c *Config) ParseSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range strings.Split(c.Symbols, ",") {
		s := strings.ToUpper(strings.TrimSpace(p))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// ParseIndicators parses Indicators into specs (defaults on empty input).
func (c *Config) ParseIndicators() []indicator.Spec {
	return indicator.ParseSpecs(c.Indicators)
}

// Validate checks the values a service cannot start without.
func (c *Config) Validate() error {
	if len(c.ParseSymbols()) == 0 {
		return errors.New("SYMBOLS is empty")
	}
	if c.TF <= 0 {
		return fmt.Errorf("CHART_TF must be positive, got %d", c.TF)
	}
	if c.LevelMode != "diff" && c.LevelMode != "remap" {
		return fmt.Errorf("LEVEL_MODE must be diff or remap, got %q", c.LevelMode)
	}
	if c.RegularSlots < 1 || c.GammaSlots < 1 {
		return fmt.Errorf("level slots must be positive (regular=%d gamma=%d)", c.RegularSlots, c.GammaSlots)
	}
	if err := indicator.ValidateSpecs(c.ParseIndicators()); err != nil {
		return fmt.Errorf("INDICATOR_CONFIGS: %w", err)
	}
	return nil
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
