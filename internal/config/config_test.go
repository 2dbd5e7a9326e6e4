package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadRequiresHeyGenKey(t *testing.T) {
	setCoreEnvEmpty(t)

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "HEYGEN_API_KEY") {
		t.Fatalf("Load() error = %v, want missing HEYGEN_API_KEY", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("HEYGEN_API_KEY", " hk-test ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HeyGenAPIKey != "hk-test" {
		t.Fatalf("HeyGenAPIKey = %q, want trimmed", cfg.HeyGenAPIKey)
	}
	if cfg.HeyGenAvatarID != "June_HR_public" || cfg.HeyGenVoiceID != "68dedac41a9f46a6a4271a95c733823c" {
		t.Fatalf("avatar defaults = %q / %q", cfg.HeyGenAvatarID, cfg.HeyGenVoiceID)
	}
	if cfg.ProviderTimeout != 60*time.Second || cfg.WarmupDuration != 5*time.Second || cfg.WarmupTick != 250*time.Millisecond {
		t.Fatalf("timing defaults = %v %v %v", cfg.ProviderTimeout, cfg.WarmupDuration, cfg.WarmupTick)
	}
	if cfg.OpenAITemperature != 0.6 || cfg.OpenAIMaxTokens != 300 || cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("openai defaults = %v %v %q", cfg.OpenAITemperature, cfg.OpenAIMaxTokens, cfg.OpenAIModel)
	}
	if cfg.GenerationEnabled() {
		t.Fatalf("GenerationEnabled() = true without OPENAI_API_KEY")
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("HEYGEN_API_KEY", "hk-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_TEMPERATURE", "0.2")
	t.Setenv("WARMUP_DURATION", "3s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.GenerationEnabled() || cfg.OpenAITemperature != 0.2 {
		t.Fatalf("openai overrides not applied: %+v", cfg)
	}
	if cfg.WarmupDuration != 3*time.Second || !cfg.AllowAnyOrigin {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"WARMUP_TICK":          "1s",
		"PROVIDER_TIMEOUT":     "soon",
		"OPENAI_TEMPERATURE":   "hot",
		"OPENAI_MAX_TOKENS":    "0",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("HEYGEN_API_KEY", "hk-test")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q: error = nil", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"HEYGEN_API_KEY",
		"HEYGEN_BASE_URL",
		"HEYGEN_AVATAR_ID",
		"HEYGEN_VOICE_ID",
		"HEYGEN_AVATAR_NAME",
		"PROVIDER_TIMEOUT",
		"WARMUP_DURATION",
		"WARMUP_TICK",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"OPENAI_TEMPERATURE",
		"OPENAI_MAX_TOKENS",
		"OPENAI_SYSTEM_PROMPT",
		"CATALOG_PATH",
		"VIEWER_TEMPLATE_PATH",
		"DATABASE_URL",
		"LEDGER_RECENT_LIMIT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
