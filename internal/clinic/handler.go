package clinic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/wolfman30/clinic-voice-platform/pkg/logging"
)

// BindingStore is the persistence the admin handler needs.
type BindingStore interface {
	Get(ctx context.Context, orgID string) (*Binding, error)
	Set(ctx context.Context, b *Binding) error
}

// Handler provides HTTP endpoints for phone binding management.
type Handler struct {
	store  BindingStore
	logger *logging.Logger
}

// NewHandler creates a new binding admin handler.
func NewHandler(store BindingStore, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

// Routes returns a chi router with binding admin routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{orgID}/binding", h.GetBinding)
	r.Put("/{orgID}/binding", h.UpdateBinding)
	r.Post("/{orgID}/binding", h.UpdateBinding)
	return r
}

// GetBinding returns the phone binding for an org.
// GET /admin/clinics/{orgID}/binding
func (h *Handler) GetBinding(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, `{"error": "org_id required"}`, http.StatusBadRequest)
		return
	}

	b, err := h.store.Get(r.Context(), orgID)
	if errors.Is(err, ErrBindingNotFound) {
		http.Error(w, `{"error": "binding not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get clinic binding", "org_id", orgID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b); err != nil {
		h.logger.Error("failed to encode clinic binding", "org_id", orgID, "error", err)
	}
}

// UpdateBindingRequest is the request body for updating a binding. Nil fields
// are left unchanged.
type UpdateBindingRequest struct {
	ClinicName           *string             `json:"clinic_name,omitempty"`
	DialedNumber         *string             `json:"dialed_number,omitempty"`
	SIPIdentity          *string             `json:"sip_identity,omitempty"`
	PhoneNumberID        *string             `json:"phone_number_id,omitempty"`
	AssistantID          *string             `json:"assistant_id,omitempty"`
	Timezone             *string             `json:"timezone,omitempty"`
	Availability         *AvailabilityPolicy `json:"availability,omitempty"`
	Fallback             *FallbackPolicy     `json:"fallback,omitempty"`
	IntegrationID        *string             `json:"integration_id,omitempty"`
	Transfer             *TransferSettings   `json:"transfer,omitempty"`
	AlertSMSRecipients   []string            `json:"alert_sms_recipients,omitempty"`
	AlertEmailRecipients []string            `json:"alert_email_recipients,omitempty"`
	Active               *bool               `json:"active,omitempty"`
}

// UpdateBinding creates or updates the phone binding for an org.
// PUT /admin/clinics/{orgID}/binding
func (h *Handler) UpdateBinding(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	if orgID == "" {
		http.Error(w, `{"error": "org_id required"}`, http.StatusBadRequest)
		return
	}

	var req UpdateBindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}

	b, err := h.store.Get(r.Context(), orgID)
	if errors.Is(err, ErrBindingNotFound) {
		b = &Binding{
			OrgID:        orgID,
			Active:       true,
			Availability: AvailabilityPolicy{Mode: AvailabilityAlways},
			Fallback:     FallbackPolicy{Mode: FallbackVoicemail},
		}
	} else if err != nil {
		h.logger.Error("failed to get clinic binding", "org_id", orgID, "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	applyBindingUpdate(b, req)

	if msg := validateBinding(b); msg != "" {
		http.Error(w, `{"error": "`+msg+`"}`, http.StatusBadRequest)
		return
	}

	if err := h.store.Set(r.Context(), b); err != nil {
		if errors.Is(err, ErrIdentityInUse) {
			h.logger.Warn("clinic binding identity conflict", "org_id", orgID, "error", err)
			http.Error(w, `{"error": "number or sip identity already bound to another clinic"}`, http.StatusConflict)
			return
		}
		h.logger.Error("failed to save clinic binding", "org_id", orgID, "error", err)
		http.Error(w, `{"error": "failed to save binding"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("clinic binding updated", "org_id", orgID, "dialed_number", logging.MaskPhone(b.DialedNumber), "active", b.Active)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(b); err != nil {
		h.logger.Error("failed to encode clinic binding", "org_id", orgID, "error", err)
	}
}

func applyBindingUpdate(b *Binding, req UpdateBindingRequest) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	setString(&b.ClinicName, req.ClinicName)
	setString(&b.DialedNumber, req.DialedNumber)
	setString(&b.SIPIdentity, req.SIPIdentity)
	setString(&b.PhoneNumberID, req.PhoneNumberID)
	setString(&b.AssistantID, req.AssistantID)
	setString(&b.Timezone, req.Timezone)
	setString(&b.IntegrationID, req.IntegrationID)
	if req.Availability != nil {
		b.Availability = *req.Availability
	}
	if req.Fallback != nil {
		b.Fallback = *req.Fallback
	}
	if req.Transfer != nil {
		b.Transfer = *req.Transfer
	}
	if req.AlertSMSRecipients != nil {
		b.AlertSMSRecipients = req.AlertSMSRecipients
	}
	if req.AlertEmailRecipients != nil {
		b.AlertEmailRecipients = req.AlertEmailRecipients
	}
	if req.Active != nil {
		b.Active = *req.Active
	}
}

func validateBinding(b *Binding) string {
	if b.DialedNumber == "" && b.SIPIdentity == "" && b.PhoneNumberID == "" {
		return "dialed_number, sip_identity or phone_number_id required"
	}
	switch b.Availability.Mode {
	case AvailabilityAlways, AvailabilityDisabled:
	case AvailabilityAfterHoursOnly:
		if !b.Availability.BusinessHours.HasSchedule() {
			return "business_hours with at least one day required for after_hours_only"
		}
	case AvailabilityOverflowOnly:
		if b.Availability.Threshold < 1 {
			return "threshold must be at least 1 for overflow_only"
		}
	default:
		return "unknown availability mode"
	}
	switch b.Fallback.Mode {
	case FallbackVoicemail, FallbackBusySignal:
	case FallbackForward:
		if NormalizeE164(b.Fallback.ForwardNumber) == "" {
			return "forward_number required for forward fallback"
		}
	default:
		return "unknown fallback mode"
	}
	return ""
}
