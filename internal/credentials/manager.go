package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-voice-platform/internal/observability/metrics"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

var tracer = otel.Tracer("clinicvoice.internal.credentials")

const (
	defaultGrantTimeout   = 10 * time.Second
	defaultPersistTimeout = 5 * time.Second
)

// SweepReport summarizes one batch refresh.
type SweepReport struct {
	Scanned   int      `json:"scanned"`
	Refreshed int      `json:"refreshed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// Manager owns the SETUP_REQUIRED -> ACTIVE <-> ERROR transitions.
type Manager struct {
	store Store
	// source is read before a refresh. It bypasses any cache so the grant
	// always sees the latest refresh key.
	source         Store
	grants         GrantClient
	locker         Locker
	grantTimeout   time.Duration
	persistTimeout time.Duration
	metrics        *metrics.VoiceMetrics
	logger         *logging.Logger
	now            func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLocker serializes refreshes across replicas.
func WithLocker(l Locker) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.locker = l
		}
	}
}

// WithGrantTimeout bounds each grant exchange. Two grants plus persistence
// must fit inside the refresh lock TTL.
func WithGrantTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.grantTimeout = d
		}
	}
}

// WithMetrics records refresh outcomes.
func WithMetrics(vm *metrics.VoiceMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = vm }
}

// NewManager creates a credential manager.
func NewManager(store Store, grants GrantClient, logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.Default()
	}
	m := &Manager{
		store:          store,
		source:         store,
		grants:         grants,
		locker:         noopLocker{},
		grantTimeout:   defaultGrantTimeout,
		persistTimeout: defaultPersistTimeout,
		logger:         logger,
		now:            time.Now,
	}
	if cached, ok := store.(interface{ Source() Store }); ok {
		m.source = cached.Source()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh renews one integration's session keys. It tries the refresh grant
// first, then the initial grant. It returns false without an error when both
// grants fail and the integration was moved to ERROR; an error means the store
// or lock could not be used.
func (m *Manager) Refresh(ctx context.Context, integrationID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "credentials.refresh")
	defer span.End()
	span.SetAttributes(attribute.String("clinicvoice.integration_id", integrationID))

	var ok bool
	err := m.locker.WithLock(ctx, integrationID, func(ctx context.Context) error {
		var err error
		ok, err = m.refreshLocked(ctx, integrationID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRefreshInProgress) {
			m.metrics.ObserveRefresh("skipped")
		} else {
			m.metrics.ObserveRefresh("error")
		}
		span.RecordError(err)
		return false, err
	}
	span.SetAttributes(attribute.Bool("clinicvoice.refreshed", ok))
	return ok, nil
}

func (m *Manager) refreshLocked(ctx context.Context, integrationID string) (bool, error) {
	integ, err := m.source.Get(ctx, integrationID)
	if err != nil {
		return false, fmt.Errorf("credentials: load integration: %w", err)
	}

	var refreshErr error
	if integ.RefreshKey != "" {
		grantCtx, cancel := context.WithTimeout(ctx, m.grantTimeout)
		tokens, err := m.grants.RefreshGrant(grantCtx, integ.RefreshKey)
		cancel()
		if err == nil {
			return m.persist(ctx, integ, tokens, "refresh")
		}
		refreshErr = err
		m.logger.Warn("pms refresh grant failed, trying initial grant",
			"integration_id", integ.ID,
			"org_id", integ.OrgID,
			"error", err,
		)
	} else {
		refreshErr = errors.New("no refresh key")
	}

	var initialErr error
	if integ.OfficeID != "" && integ.SecretKey != "" {
		grantCtx, cancel := context.WithTimeout(ctx, m.grantTimeout)
		tokens, err := m.grants.InitialGrant(grantCtx, integ.OfficeID, integ.SecretKey)
		cancel()
		if err == nil {
			return m.persist(ctx, integ, tokens, "initial")
		}
		initialErr = err
	} else {
		initialErr = errors.New("office credentials missing")
	}

	reason := fmt.Sprintf("refresh grant: %v; initial grant: %v", refreshErr, initialErr)
	persistCtx, cancel := m.persistContext(ctx)
	defer cancel()
	if err := m.store.MarkError(persistCtx, integ.ID, reason); err != nil {
		return false, fmt.Errorf("credentials: record failure: %w", err)
	}
	m.metrics.ObserveRefresh("failed")
	m.logger.Error("pms credentials could not be renewed",
		"integration_id", integ.ID,
		"org_id", integ.OrgID,
		"reason", reason,
	)
	return false, nil
}

func (m *Manager) persist(ctx context.Context, integ *Integration, tokens *TokenSet, grant string) (bool, error) {
	if tokens.RefreshKey == "" {
		tokens.RefreshKey = integ.RefreshKey
	}
	persistCtx, cancel := m.persistContext(ctx)
	defer cancel()
	if err := m.store.SaveTokens(persistCtx, integ.ID, *tokens); err != nil {
		return false, fmt.Errorf("credentials: persist tokens: %w", err)
	}
	m.metrics.ObserveRefresh("refreshed")
	m.logger.Info("pms credentials renewed",
		"integration_id", integ.ID,
		"org_id", integ.OrgID,
		"grant", grant,
		"expires_at", tokens.ExpiresAt,
	)
	return true, nil
}

// persistContext outlives the lock deadline so a grant outcome is always
// recorded, even when the grants used up the lock window.
func (m *Manager) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), m.persistTimeout)
}

// RefreshExpiring renews every ACTIVE integration whose token expires within
// window. One integration's failure does not stop the sweep.
func (m *Manager) RefreshExpiring(ctx context.Context, window time.Duration) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "credentials.refresh_expiring")
	defer span.End()

	integrations, err := m.store.ListExpiring(ctx, m.now().Add(window))
	if err != nil {
		span.RecordError(err)
		return SweepReport{}, err
	}
	report := m.sweep(ctx, integrations)
	m.logger.Info("expiring credential sweep complete",
		"window", window.String(),
		"scanned", report.Scanned,
		"refreshed", report.Refreshed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

// RefreshAll renews every ACTIVE or SETUP_REQUIRED integration.
func (m *Manager) RefreshAll(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "credentials.refresh_all")
	defer span.End()

	integrations, err := m.store.ListByStatus(ctx, StatusActive, StatusSetupRequired)
	if err != nil {
		span.RecordError(err)
		return SweepReport{}, err
	}
	report := m.sweep(ctx, integrations)
	m.logger.Info("full credential sweep complete",
		"scanned", report.Scanned,
		"refreshed", report.Refreshed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

func (m *Manager) sweep(ctx context.Context, integrations []Integration) SweepReport {
	report := SweepReport{Scanned: len(integrations)}
	for i, integ := range integrations {
		if ctx.Err() != nil {
			report.Skipped += len(integrations) - i
			break
		}
		ok, err := m.Refresh(ctx, integ.ID)
		switch {
		case errors.Is(err, ErrRefreshInProgress):
			report.Skipped++
		case err != nil:
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, integ.ID)
			m.logger.Error("credential refresh errored", "integration_id", integ.ID, "error", err)
		case ok:
			report.Refreshed++
		default:
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, integ.ID)
		}
	}
	return report
}

// MarkUnauthorized records a hard credential rejection seen by dispatch.
func (m *Manager) MarkUnauthorized(ctx context.Context, integrationID, reason string) error {
	if err := m.store.MarkError(ctx, integrationID, reason); err != nil {
		return err
	}
	m.logger.Warn("pms integration marked ERROR after gateway rejection",
		"integration_id", integrationID,
		"reason", reason,
	)
	return nil
}
