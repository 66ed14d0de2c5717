package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/clinic-voice-platform/internal/credentials"
	"github.com/wolfman30/clinic-voice-platform/internal/tenancy"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// CredentialRefresher is the slice of the credential manager operators drive.
type CredentialRefresher interface {
	Refresh(ctx context.Context, integrationID string) (bool, error)
	RefreshAll(ctx context.Context) (credentials.SweepReport, error)
}

// IntegrationReader loads an integration for status reporting.
type IntegrationReader interface {
	Get(ctx context.Context, id string) (*credentials.Integration, error)
}

// IntegrationStatus is the operator view of an integration. Keys are never
// returned.
type IntegrationStatus struct {
	ID          string             `json:"id"`
	OrgID       string             `json:"org_id"`
	Provider    string             `json:"provider"`
	Status      credentials.Status `json:"status"`
	TokenExpiry *time.Time         `json:"token_expiry,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// RefreshResponse reports a manual refresh.
type RefreshResponse struct {
	Refreshed   bool               `json:"refreshed"`
	Integration *IntegrationStatus `json:"integration,omitempty"`
}

// IntegrationAdminHandler lets operators inspect and renew PMS credentials.
type IntegrationAdminHandler struct {
	refresher CredentialRefresher
	store     IntegrationReader
	logger    *logging.Logger
}

// NewIntegrationAdminHandler creates the handler.
func NewIntegrationAdminHandler(refresher CredentialRefresher, store IntegrationReader, logger *logging.Logger) *IntegrationAdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &IntegrationAdminHandler{refresher: refresher, store: store, logger: logger}
}

// Routes returns a chi router with integration admin routes.
func (h *IntegrationAdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{integrationID}", h.GetIntegration)
	r.Post("/{integrationID}/refresh", h.RefreshIntegration)
	r.Post("/sweep", h.Sweep)
	return r
}

// GetIntegration returns the integration's status.
// GET /admin/integrations/{integrationID}
func (h *IntegrationAdminHandler) GetIntegration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "integrationID")
	integ, ok := h.load(w, r, id)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusOf(integ))
}

// load fetches an integration visible to the caller. Integrations outside a
// clinic-scoped caller's org are reported as missing.
func (h *IntegrationAdminHandler) load(w http.ResponseWriter, r *http.Request, id string) (*credentials.Integration, bool) {
	integ, err := h.store.Get(r.Context(), id)
	if err == nil && !tenancy.CanAccess(r.Context(), integ.OrgID) {
		err = credentials.ErrIntegrationNotFound
	}
	if errors.Is(err, credentials.ErrIntegrationNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "integration not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load integration", "integration_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal server error"})
		return nil, false
	}
	return integ, true
}

// RefreshIntegration forces a credential renewal.
// POST /admin/integrations/{integrationID}/refresh
func (h *IntegrationAdminHandler) RefreshIntegration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "integrationID")
	if _, scoped := tenancy.OrgIDFromContext(r.Context()); scoped {
		if _, visible := h.load(w, r, id); !visible {
			return
		}
	}
	ok, err := h.refresher.Refresh(r.Context(), id)
	switch {
	case errors.Is(err, credentials.ErrIntegrationNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "integration not found"})
		return
	case errors.Is(err, credentials.ErrRefreshInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "refresh_in_progress", Message: "a refresh is already running for this integration"})
		return
	case err != nil:
		h.logger.Error("manual credential refresh failed", "integration_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "refresh could not be completed"})
		return
	}

	h.logger.Info("manual credential refresh", "integration_id", id, "refreshed", ok)
	resp := RefreshResponse{Refreshed: ok}
	if h.store != nil {
		if integ, err := h.store.Get(r.Context(), id); err == nil {
			resp.Integration = statusOf(integ)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Sweep renews every integration now.
// POST /admin/integrations/sweep
func (h *IntegrationAdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	if _, scoped := tenancy.OrgIDFromContext(r.Context()); scoped {
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "sweeps require an operator token"})
		return
	}
	report, err := h.refresher.RefreshAll(r.Context())
	if err != nil {
		h.logger.Error("manual credential sweep failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "sweep could not be completed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func statusOf(integ *credentials.Integration) *IntegrationStatus {
	return &IntegrationStatus{
		ID:          integ.ID,
		OrgID:       integ.OrgID,
		Provider:    integ.Provider,
		Status:      integ.Status,
		TokenExpiry: integ.TokenExpiry,
		LastError:   integ.LastError,
		UpdatedAt:   integ.UpdatedAt,
	}
}
