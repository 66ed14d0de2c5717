package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-voice-platform/internal/admission"
	"github.com/wolfman30/clinic-voice-platform/internal/api/router"
	"github.com/wolfman30/clinic-voice-platform/internal/calendar"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/compliance"
	appconfig "github.com/wolfman30/clinic-voice-platform/internal/config"
	"github.com/wolfman30/clinic-voice-platform/internal/credentials"
	"github.com/wolfman30/clinic-voice-platform/internal/dispatch"
	"github.com/wolfman30/clinic-voice-platform/internal/http/handlers"
	"github.com/wolfman30/clinic-voice-platform/internal/pms"
	"github.com/wolfman30/clinic-voice-platform/internal/voicesession"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// Deps are the connections the API process opens before wiring.
type Deps struct {
	Redis *redis.Client
	// Pool backs PMS integrations and calendar connections. Nil disables both
	// backend tiers and the credential worker.
	Pool *pgxpool.Pool
	// AuditDB receives PHI access rows. Required.
	AuditDB *sql.DB
	// AWS enables SQS call events and SES email when set.
	AWS *aws.Config
}

// App is the assembled API process.
type App struct {
	Handler http.Handler
	Engine  *dispatch.Engine
	// Worker is nil when no integration store is configured.
	Worker *credentials.Worker
}

// Build wires every component behind the HTTP router.
func Build(ctx context.Context, cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if deps.Redis == nil {
		return nil, errors.New("bootstrap: redis is required for clinic bindings")
	}
	if deps.AuditDB == nil {
		return nil, errors.New("bootstrap: audit database is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	metricsHandler, voiceMetrics := BuildMetrics()
	bindings := clinic.NewStore(deps.Redis)
	activeCalls := voicesession.NewActiveCalls(deps.Redis, cfg.ActiveCallWindow)

	var (
		integrationStore credentials.Store
		manager          *credentials.Manager
		worker           *credentials.Worker
		connections      *calendar.ConnectionStore
	)
	if deps.Pool != nil {
		integrationStore = credentials.NewCachedStore(credentials.NewPostgresStore(deps.Pool), deps.Redis, 0, logger)
		manager = credentials.NewManager(
			integrationStore,
			credentials.NewHTTPGrantClient(cfg.PMSBaseURL, cfg.PMSTimeout, logger),
			logger,
			credentials.WithLocker(credentials.NewRedisLocker(deps.Redis, cfg.CredentialLockTTL)),
			credentials.WithGrantTimeout(credentials.GrantBudget(cfg.CredentialLockTTL, cfg.PMSTimeout)),
			credentials.WithMetrics(voiceMetrics),
		)
		worker = credentials.NewWorker(manager, logger).
			WithIntervals(cfg.CredentialSweepInterval, cfg.CredentialFullSweepInterval).
			WithRefreshWindow(cfg.CredentialRefreshWindow)
		connections = calendar.NewConnectionStore(deps.Pool)
	} else {
		logger.Warn("postgres pool not configured; practice-management and calendar backends disabled")
	}

	selector, err := buildSelector(cfg, integrationStore, connections, logger)
	if err != nil {
		return nil, err
	}

	alerter := BuildAlerter(cfg, deps.AWS, voiceMetrics, logger)
	engineCfg := dispatch.Config{
		Auth:           dispatch.NewAuthenticator(cfg.VoiceWebhookSecret, cfg.ServiceAPIKey),
		Bindings:       bindings,
		Selector:       selector,
		Audit:          compliance.NewAuditService(deps.AuditDB),
		Alerts:         alerter,
		Metrics:        voiceMetrics,
		Logger:         logger,
		Timeout:        cfg.ToolTimeout,
		OnAuditFailure: AuditFailureHook(alerter, cfg.OpsAlertEmails, logger),
	}
	if manager != nil {
		engineCfg.Credentials = manager
	}
	engine := dispatch.NewEngine(engineCfg)

	admitter, err := admission.NewRouter(admission.Config{
		Bindings:      bindings,
		ActiveCalls:   activeCalls,
		SIPDomain:     cfg.VoiceSessionSIPDomain,
		PublicBaseURL: cfg.PublicBaseURL,
		Metrics:       voiceMetrics,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: admission router: %w", err)
	}

	publisher, err := buildCallEventPublisher(cfg, deps.AWS, logger)
	if err != nil {
		return nil, err
	}
	sessions := voicesession.NewService(bindings, activeCalls, publisher, voiceMetrics, logger).
		WithProcessedStore(voicesession.NewProcessedStore(deps.Redis, 0))

	checks := map[string]handlers.HealthCheck{
		"redis": func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() },
		"audit": deps.AuditDB.PingContext,
	}

	routerCfg := &router.Config{
		Logger:               logger,
		Voice:                handlers.NewVoiceHandler(admitter, sessions, logger),
		Tools:                handlers.NewToolsHandler(engine, logger),
		VoiceSession:         handlers.NewVoiceSessionHandler(sessions, engineCfg.Auth, logger),
		ClinicBindings:       clinic.NewHandler(bindings, logger),
		Health:               handlers.NewHealthHandler(checks),
		MetricsHandler:       metricsHandler,
		AdminAuthSecret:      cfg.AdminJWTSecret,
		CarrierWebhookSecret: cfg.CarrierWebhookSecret,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		WebhookRateLimit:     cfg.WebhookRateLimit,
		WebhookRateBurst:     cfg.WebhookRateBurst,
	}
	if manager != nil {
		routerCfg.Integrations = handlers.NewIntegrationAdminHandler(manager, integrationStore, logger)
	}

	return &App{
		Handler: router.New(routerCfg),
		Engine:  engine,
		Worker:  worker,
	}, nil
}

func buildSelector(cfg *appconfig.Config, integrations credentials.Store, connections *calendar.ConnectionStore, logger *logging.Logger) (*dispatch.DefaultSelector, error) {
	var (
		integrationReader dispatch.IntegrationReader
		pmsAdapters       dispatch.PMSAdapters
		connectionReader  dispatch.ConnectionReader
		calendarAdapters  dispatch.CalendarAdapters
	)
	if integrations != nil && cfg.PMSBaseURL != "" {
		client, err := pms.NewClient(pms.Config{BaseURL: cfg.PMSBaseURL, Timeout: cfg.PMSTimeout}, logger)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: pms client: %w", err)
		}
		integrationReader = integrations
		pmsAdapters = client
	}
	if connections != nil && cfg.CalendarClientID != "" {
		connectionReader = connections
		calendarAdapters = calendar.NewFactory(calendar.FactoryConfig{
			ClientID:     cfg.CalendarClientID,
			ClientSecret: cfg.CalendarClientSecret,
			Timeout:      cfg.CalendarTimeout,
		}, logger)
	}
	return dispatch.NewDefaultSelector(integrationReader, pmsAdapters, connectionReader, calendarAdapters, logger), nil
}

func buildCallEventPublisher(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*voicesession.Publisher, error) {
	if cfg.CallEventsQueueURL == "" || awsCfg == nil {
		logger.Info("call event queue not configured; end-of-call reports will not be forwarded")
		return nil, nil
	}
	queue, err := voicesession.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.CallEventsQueueURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: call event queue: %w", err)
	}
	return voicesession.NewPublisher(queue, logger), nil
}
