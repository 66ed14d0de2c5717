package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-voice-platform/internal/http/middleware"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

const carrierSignatureSkew = 5 * time.Minute

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Voice          *handlers.VoiceHandler
	Tools          *handlers.ToolsHandler
	VoiceSession   *handlers.VoiceSessionHandler
	ClinicBindings *clinic.Handler
	Integrations   *handlers.IntegrationAdminHandler
	Health         http.Handler
	MetricsHandler http.Handler

	AdminAuthSecret      string
	CarrierWebhookSecret string
	CORSAllowedOrigins   []string

	// Per-IP budget for unauthenticated webhook surfaces. Zero disables.
	WebhookRateLimit int
	WebhookRateBurst int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json"))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	webhookLimit := httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookRateBurst, httpmiddleware.KeyByIP)

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		health := cfg.Health
		if health == nil {
			health = handlers.NewHealthHandler(nil)
		}
		public.Method(http.MethodGet, "/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}

		if cfg.Voice != nil {
			public.Route("/voice", func(voice chi.Router) {
				voice.Use(webhookLimit)
				voice.Use(httpmiddleware.CarrierSignature(cfg.CarrierWebhookSecret, carrierSignatureSkew, cfg.Logger))
				voice.Mount("/", cfg.Voice.Routes())
			})
		}
		if cfg.Tools != nil {
			public.With(webhookLimit).Post("/tools/{toolName}", cfg.Tools.HandleTool)
		}
		if cfg.VoiceSession != nil {
			public.With(webhookLimit).Post("/voice-session/webhook", cfg.VoiceSession.HandleWebhook)
		}
	})

	// Admin routes (protected by JWT)
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))

			if cfg.ClinicBindings != nil {
				admin.Route("/clinics/{orgID}", func(clinicRoutes chi.Router) {
					clinicRoutes.Use(scopeToTokenOrg)
					clinicRoutes.Get("/binding", cfg.ClinicBindings.GetBinding)
					clinicRoutes.Put("/binding", cfg.ClinicBindings.UpdateBinding)
					clinicRoutes.Post("/binding", cfg.ClinicBindings.UpdateBinding)
				})
			}
			if cfg.Integrations != nil {
				admin.Route("/integrations", func(integrations chi.Router) {
					integrations.Use(httpmiddleware.RequireScope(httpmiddleware.ScopeIntegrationsWrite))
					integrations.Use(scopeToTokenOrg)
					integrations.Mount("/", cfg.Integrations.Routes())
				})
			}
		})
	}

	return r
}
