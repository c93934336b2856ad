package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	DefaultEngine string

	AnalysisTimeout time.Duration
	MaxUploadBytes  int64

	// MaxSessions caps open HTTP upload sessions; sessions with no state
	// change for SessionIdleTTL are dropped.
	MaxSessions    int
	SessionIdleTTL time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string

	// DatabaseURL is empty when no database is configured; demo data is served then.
	DatabaseURL string
	PatientID   string

	TelegramBotToken string
	WebhookURL       string

	LogLevel  string
	LogFormat string
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvSlice(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() (*Config, error) {
	cfg := &Config{
		Port: getEnv("PORT", "8000"),

		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		DefaultEngine: getEnv("DEFAULT_ENGINE", "gemini"),

		AnalysisTimeout: getEnvDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		MaxUploadBytes:  int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		MaxSessions:    getEnvInt("MAX_SESSIONS", 1000),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 2),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),
		CORSOrigins:    getEnvSlice("CORS_ORIGINS", []string{"*"}),

		DatabaseURL: resolveDSN(),
		PatientID:   getEnv("PATIENT_ID", "MS-8293-XP"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookURL:       os.Getenv("WEBHOOK_URL"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.GeminiAPIKey == "" && cfg.OpenAIAPIKey == "" {
		errs = append(errs, "GEMINI_API_KEY or OPENAI_API_KEY is required")
	}
	switch cfg.DefaultEngine {
	case "gemini", "gpt", "openai":
	default:
		errs = append(errs, fmt.Sprintf("DEFAULT_ENGINE %q is not gemini or gpt", cfg.DefaultEngine))
	}
	if cfg.AnalysisTimeout <= 0 {
		errs = append(errs, "ANALYSIS_TIMEOUT must be positive")
	}
	if cfg.MaxUploadBytes <= 0 {
		errs = append(errs, "MAX_UPLOAD_BYTES must be positive")
	}
	if cfg.MaxSessions < 0 {
		errs = append(errs, "MAX_SESSIONS must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

var ErrNoTelegramToken = errors.New("missing required env TELEGRAM_BOT_TOKEN")

// RequireTelegram checks what the bot binary needs on top of Load.
func (c *Config) RequireTelegram() error {
	if strings.TrimSpace(c.TelegramBotToken) == "" {
		return ErrNoTelegramToken
	}
	return nil
}

// resolveDSN prefers DATABASE_URL and otherwise builds a URL from POSTGRES_*
// and PG* vars. It returns "" when none of them is set.
func resolveDSN() string {
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" {
		return v
	}
	if os.Getenv("POSTGRES_DB") == "" && os.Getenv("PGHOST") == "" {
		return ""
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("POSTGRES_USER", "medist"), os.Getenv("POSTGRES_PASSWORD")),
		Host:     net.JoinHostPort(getEnv("PGHOST", "db"), getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("POSTGRES_DB", "medist"),
		RawQuery: "sslmode=" + getEnv("PGSSLMODE", "disable"),
	}
	return u.String()
}

// SafeDSN drops the password for logging.
func SafeDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	host, port := u.Host, ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, u.User.Username())
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, u.User.Username())
}
