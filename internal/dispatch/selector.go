package dispatch

import (
	"context"
	"errors"

	"github.com/wolfman30/clinic-voice-platform/internal/backend"
	"github.com/wolfman30/clinic-voice-platform/internal/calendar"
	"github.com/wolfman30/clinic-voice-platform/internal/clinic"
	"github.com/wolfman30/clinic-voice-platform/internal/credentials"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// ErrNoBackend is returned when a clinic has neither an active integration
// nor a calendar connection.
var ErrNoBackend = errors.New("dispatch: no backend configured")

// Selection is the backend chosen for one tool call.
type Selection struct {
	Adapter backend.Adapter
	// Integration is set when Adapter talks to the practice-management gateway.
	Integration *credentials.Integration
}

// Selector picks the backend for a clinic.
type Selector interface {
	Select(ctx context.Context, b *clinic.Binding) (Selection, error)
}

// IntegrationReader loads persisted integrations.
type IntegrationReader interface {
	Get(ctx context.Context, id string) (*credentials.Integration, error)
}

// ConnectionReader loads calendar connections.
type ConnectionReader interface {
	Get(ctx context.Context, orgID string) (*calendar.Connection, error)
}

// PMSAdapters builds a gateway adapter for an integration.
type PMSAdapters interface {
	ForIntegration(integration *credentials.Integration) backend.Adapter
}

// CalendarAdapters builds a calendar adapter for a connection.
type CalendarAdapters interface {
	ForConnection(ctx context.Context, conn *calendar.Connection) (backend.Adapter, error)
}

// DefaultSelector prefers an ACTIVE practice-management integration and falls
// back to the clinic's calendar. It reads the integration on every call so a
// status change takes effect immediately.
type DefaultSelector struct {
	integrations IntegrationReader
	connections  ConnectionReader
	pms          PMSAdapters
	calendars    CalendarAdapters
	logger       *logging.Logger
}

// NewDefaultSelector creates a selector. Any dependency may be nil, which
// disables that tier.
func NewDefaultSelector(integrations IntegrationReader, pms PMSAdapters, connections ConnectionReader, calendars CalendarAdapters, logger *logging.Logger) *DefaultSelector {
	if logger == nil {
		logger = logging.Default()
	}
	return &DefaultSelector{
		integrations: integrations,
		connections:  connections,
		pms:          pms,
		calendars:    calendars,
		logger:       logger,
	}
}

var _ Selector = (*DefaultSelector)(nil)

// Select returns the backend for b.
func (s *DefaultSelector) Select(ctx context.Context, b *clinic.Binding) (Selection, error) {
	if b == nil {
		return Selection{}, ErrNoBackend
	}

	if b.IntegrationID != "" && s.integrations != nil && s.pms != nil {
		integ, err := s.integrations.Get(ctx, b.IntegrationID)
		switch {
		case err == nil && integ.IsActive():
			return Selection{Adapter: s.pms.ForIntegration(integ), Integration: integ}, nil
		case err == nil:
			s.logger.Info("pms integration not active, trying calendar",
				"org_id", b.OrgID, "integration_id", b.IntegrationID, "status", integ.Status)
		case errors.Is(err, credentials.ErrIntegrationNotFound):
			s.logger.Warn("binding references missing integration",
				"org_id", b.OrgID, "integration_id", b.IntegrationID)
		default:
			s.logger.Warn("failed to load pms integration, trying calendar",
				"org_id", b.OrgID, "integration_id", b.IntegrationID, "error", err)
		}
	}

	if s.connections == nil || s.calendars == nil {
		return Selection{}, ErrNoBackend
	}
	conn, err := s.connections.Get(ctx, b.OrgID)
	if errors.Is(err, calendar.ErrNotConnected) {
		return Selection{}, ErrNoBackend
	}
	if err != nil {
		return Selection{}, err
	}
	adapter, err := s.calendars.ForConnection(ctx, conn)
	if errors.Is(err, calendar.ErrNotConnected) {
		return Selection{}, ErrNoBackend
	}
	if err != nil {
		return Selection{}, err
	}
	return Selection{Adapter: adapter}, nil
}
