package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the avatar kiosk service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	HeyGenAPIKey     string
	HeyGenBaseURL    string
	HeyGenAvatarID   string
	HeyGenVoiceID    string
	HeyGenAvatarName string
	ProviderTimeout  time.Duration

	WarmupDuration time.Duration
	WarmupTick     time.Duration

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	OpenAITemperature  float64
	OpenAIMaxTokens    int
	OpenAISystemPrompt string

	CatalogPath        string
	ViewerTemplatePath string

	DatabaseURL       string
	LedgerRecentLimit int
}

// Load reads environment variables and applies safe defaults. HEYGEN_API_KEY
// is the only required setting.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "kiosk"),
		AllowAnyOrigin:     false,
		HeyGenAPIKey:       stringsTrimSpace("HEYGEN_API_KEY"),
		HeyGenBaseURL:      envOrDefault("HEYGEN_BASE_URL", "https://api.heygen.com/v1"),
		HeyGenAvatarID:     envOrDefault("HEYGEN_AVATAR_ID", "June_HR_public"),
		HeyGenVoiceID:      envOrDefault("HEYGEN_VOICE_ID", "68dedac41a9f46a6a4271a95c733823c"),
		HeyGenAvatarName:   envOrDefault("HEYGEN_AVATAR_NAME", "June HR"),
		OpenAIAPIKey:       stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:      stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIModel:        envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAISystemPrompt: envOrDefault("OPENAI_SYSTEM_PROMPT", "You are a clear, concise assistant."),
		CatalogPath:        stringsTrimSpace("CATALOG_PATH"),
		ViewerTemplatePath: stringsTrimSpace("VIEWER_TEMPLATE_PATH"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		ProviderTimeout:    60 * time.Second,
		WarmupDuration:     5 * time.Second,
		WarmupTick:         250 * time.Millisecond,
		OpenAITemperature:  0.6,
		OpenAIMaxTokens:    300,
		LedgerRecentLimit:  50,
	}
	if cfg.HeyGenAPIKey == "" {
		return Config{}, errors.New("HEYGEN_API_KEY is required")
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ProviderTimeout, err = durationFromEnv("PROVIDER_TIMEOUT", cfg.ProviderTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WarmupDuration, err = durationFromEnv("WARMUP_DURATION", cfg.WarmupDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.WarmupTick, err = durationFromEnv("WARMUP_TICK", cfg.WarmupTick)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAITemperature, err = floatFromEnv("OPENAI_TEMPERATURE", cfg.OpenAITemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenAIMaxTokens, err = intFromEnv("OPENAI_MAX_TOKENS", cfg.OpenAIMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LedgerRecentLimit, err = intFromEnv("LEDGER_RECENT_LIMIT", cfg.LedgerRecentLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.ProviderTimeout <= 0 {
		return Config{}, fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	if cfg.WarmupDuration <= 0 {
		return Config{}, fmt.Errorf("WARMUP_DURATION must be positive")
	}
	if cfg.WarmupTick <= 0 || cfg.WarmupTick >= time.Second {
		return Config{}, fmt.Errorf("WARMUP_TICK must be between 0 and 1s")
	}
	if cfg.OpenAITemperature < 0 || cfg.OpenAITemperature > 2 {
		return Config{}, fmt.Errorf("OPENAI_TEMPERATURE must be within [0, 2]")
	}
	if cfg.OpenAIMaxTokens <= 0 {
		return Config{}, fmt.Errorf("OPENAI_MAX_TOKENS must be positive")
	}
	if cfg.LedgerRecentLimit <= 0 {
		return Config{}, fmt.Errorf("LEDGER_RECENT_LIMIT must be positive")
	}

	return cfg, nil
}

// GenerationEnabled reports whether an OpenAI key is configured.
func (c Config) GenerationEnabled() bool {
	return c.OpenAIAPIKey != ""
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
