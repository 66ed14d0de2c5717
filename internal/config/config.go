package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Voice-AI session platform
	VoiceWebhookSecret    string
	CarrierWebhookSecret  string
	ServiceAPIKey         string
	VoiceSessionSIPDomain string
	ActiveCallWindow      time.Duration

	// Tool dispatch
	ToolTimeout time.Duration

	// Practice-management gateway
	PMSBaseURL string
	PMSTimeout time.Duration

	// Calendar fallback
	CalendarClientID     string
	CalendarClientSecret string
	CalendarTimeout      time.Duration

	// Credential lifecycle
	CredentialRefreshWindow     time.Duration
	CredentialSweepInterval     time.Duration
	CredentialFullSweepInterval time.Duration
	CredentialLockTTL           time.Duration

	// Staff alerts
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxAlertFromNumber    string
	EmailProvider            string // sendgrid or ses
	SendGridAPIKey           string
	SendGridFromEmail        string
	SendGridFromName         string
	SESFromEmail             string
	SESFromName              string
	// Operators emailed when a PHI audit row cannot be written.
	OpsAlertEmails []string

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Per-client request budget for the public webhook routes.
	WebhookRateLimit int
	WebhookRateBurst int

	// AWS (call event forwarding)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	CallEventsQueueURL  string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		VoiceWebhookSecret:    getEnv("VOICE_WEBHOOK_SECRET", ""),
		CarrierWebhookSecret:  getEnv("CARRIER_WEBHOOK_SECRET", ""),
		ServiceAPIKey:         getEnv("SERVICE_API_KEY", ""),
		VoiceSessionSIPDomain: getEnv("VOICE_SESSION_SIP_DOMAIN", "sip.vapi.ai"),
		ActiveCallWindow:      getEnvAsDuration("ACTIVE_CALL_WINDOW", 2*time.Hour),

		ToolTimeout: getEnvAsDuration("TOOL_TIMEOUT", 15*time.Second),

		PMSBaseURL: getEnv("PMS_BASE_URL", ""),
		PMSTimeout: getEnvAsDuration("PMS_TIMEOUT", 15*time.Second),

		CalendarClientID:     getEnv("CALENDAR_CLIENT_ID", ""),
		CalendarClientSecret: getEnv("CALENDAR_CLIENT_SECRET", ""),
		CalendarTimeout:      getEnvAsDuration("CALENDAR_TIMEOUT", 15*time.Second),

		CredentialRefreshWindow:     getEnvAsDuration("CREDENTIAL_REFRESH_WINDOW", 2*time.Hour),
		CredentialSweepInterval:     getEnvAsDuration("CREDENTIAL_SWEEP_INTERVAL", 15*time.Minute),
		CredentialFullSweepInterval: getEnvAsDuration("CREDENTIAL_FULL_SWEEP_INTERVAL", 23*time.Hour),
		CredentialLockTTL:           getEnvAsDuration("CREDENTIAL_LOCK_TTL", 45*time.Second),

		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxAlertFromNumber:    getEnv("TELNYX_ALERT_FROM_NUMBER", ""),
		EmailProvider:            strings.ToLower(getEnv("EMAIL_PROVIDER", "sendgrid")),
		SendGridAPIKey:           getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:        getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:         getEnv("SENDGRID_FROM_NAME", "Clinic Voice"),
		SESFromEmail:             getEnv("SES_FROM_EMAIL", ""),
		SESFromName:              getEnv("SES_FROM_NAME", "Clinic Voice"),
		OpsAlertEmails:           getEnvAsList("OPS_ALERT_EMAILS"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		WebhookRateLimit: getEnvAsInt("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst: getEnvAsInt("WEBHOOK_RATE_BURST", 40),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		CallEventsQueueURL:  getEnv("CALL_EVENTS_QUEUE_URL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
