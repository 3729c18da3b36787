package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime setting, loaded once from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	MetricsNamespace string

	HTTPListenAddr string
	PublicBaseURL  string
	PublicBasePath string

	// Postgres takes precedence; SQLitePath is the fallback store.
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAIMaxTokens   int
	OpenAITemperature float64
	OpenAITimeout     time.Duration
	PromptsDir        string
	PromptVersion     string

	EvolutionBaseURL    string
	EvolutionAPIKey     string
	EvolutionInstanceID string
	EvolutionTimeout    time.Duration
	WebhookSecret       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	EligibleRegions []string
	InterestRegions []string

	RateLimitPerPhone int
	RateLimitWindow   time.Duration

	FollowUpDelay time.Duration
	HistoryLimit  int

	WhatsAppEnabled   bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string
}

// Load reads configuration from environment variables, applying defaults
// and validating the values the service cannot run without.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "agentenaval"),

		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:  os.Getenv("PUBLIC_BASE_URL"),
		PublicBasePath: os.Getenv("PUBLIC_BASE_PATH"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: os.Getenv("DATABASE_SCHEMA"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/agentenaval.db"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		PromptsDir:    getEnv("PROMPTS_DIR", "prompts"),
		PromptVersion: getEnv("PROMPT_VERSION", "v1.0"),

		EvolutionBaseURL:    os.Getenv("EVOLUTION_API_URL"),
		EvolutionAPIKey:     os.Getenv("EVOLUTION_API_KEY"),
		EvolutionInstanceID: os.Getenv("EVOLUTION_INSTANCE_ID"),
		WebhookSecret:       os.Getenv("WEBHOOK_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),
	}

	var err error
	if cfg.OpenAIMaxTokens, err = getInt("OPENAI_MAX_TOKENS", 500); err != nil {
		return nil, err
	}
	if cfg.OpenAITemperature, err = getFloat("OPENAI_TEMPERATURE", 0.7); err != nil {
		return nil, err
	}
	if cfg.OpenAITimeout, err = getDuration("OPENAI_TIMEOUT", 3*time.Second); err != nil {
		return nil, err
	}
	if cfg.EvolutionTimeout, err = getDuration("EVOLUTION_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.RateLimitPerPhone, err = getInt("RATE_LIMIT_PER_PHONE", 30); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getDuration("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.FollowUpDelay, err = getDuration("FOLLOW_UP_DELAY", 2*time.Hour); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", 10); err != nil {
		return nil, err
	}
	if cfg.WhatsAppEnabled, err = getBool("WHATSAPP_ENABLED", false); err != nil {
		return nil, err
	}

	cfg.EligibleRegions = splitCSV(getEnv("ELIGIBLE_REGIONS", "RS,SC,PR,SP,RJ,MG,ES,GO,MT,MS,DF"))
	cfg.InterestRegions = splitCSV(getEnv("INTEREST_REGIONS", "BA,PE,CE,RN,PB,AL,SE,PI,MA,AP,AM,RR,AC,TO"))

	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.EvolutionBaseURL != "" && cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required when the evolution webhook is enabled")
	}
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return nil, fmt.Errorf("either DATABASE_URL or SQLITE_PATH must be set")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
