package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("CREDENTIAL_REFRESH_WINDOW", "")
	t.Setenv("CREDENTIAL_FULL_SWEEP_INTERVAL", "")
	t.Setenv("TOOL_TIMEOUT", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.CredentialRefreshWindow != 2*time.Hour {
		t.Fatalf("expected 2h refresh window, got %s", cfg.CredentialRefreshWindow)
	}
	if cfg.CredentialFullSweepInterval != 23*time.Hour {
		t.Fatalf("expected 23h full sweep, got %s", cfg.CredentialFullSweepInterval)
	}
	if cfg.ToolTimeout != 15*time.Second {
		t.Fatalf("expected 15s tool timeout, got %s", cfg.ToolTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("PUBLIC_BASE_URL", "https://voice.example.com/")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("PMS_TIMEOUT", "20s")
	t.Setenv("CREDENTIAL_SWEEP_INTERVAL", "5m")
	t.Setenv("VOICE_WEBHOOK_SECRET", "shh")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.PublicBaseURL != "https://voice.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.PublicBaseURL)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.PMSTimeout != 20*time.Second {
		t.Fatalf("expected pms timeout override, got %s", cfg.PMSTimeout)
	}
	if cfg.CredentialSweepInterval != 5*time.Minute {
		t.Fatalf("expected sweep interval override, got %s", cfg.CredentialSweepInterval)
	}
	if cfg.VoiceWebhookSecret != "shh" {
		t.Fatalf("expected webhook secret override, got %s", cfg.VoiceWebhookSecret)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("TOOL_TIMEOUT", "soon")
	cfg := Load()
	if cfg.ToolTimeout != 15*time.Second {
		t.Fatalf("expected fallback tool timeout, got %s", cfg.ToolTimeout)
	}
}

func TestLoadEmailProviderLowercased(t *testing.T) {
	t.Setenv("EMAIL_PROVIDER", "SES")
	cfg := Load()
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected ses provider, got %s", cfg.EmailProvider)
	}
}

func TestLoadListsAndInts(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://admin.example.com, ,https://ops.example.com")
	t.Setenv("WEBHOOK_RATE_LIMIT", "5")
	t.Setenv("WEBHOOK_RATE_BURST", "many")
	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://ops.example.com" {
		t.Fatalf("unexpected origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.WebhookRateLimit != 5 {
		t.Fatalf("expected rate limit 5, got %d", cfg.WebhookRateLimit)
	}
	if cfg.WebhookRateBurst != 40 {
		t.Fatalf("expected default burst, got %d", cfg.WebhookRateBurst)
	}
}
