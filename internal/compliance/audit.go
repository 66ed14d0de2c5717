// Package compliance provides healthcare regulatory compliance features.
package compliance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrInvalidEntry is returned when an entry is missing required fields.
var ErrInvalidEntry = errors.New("compliance: invalid audit entry")

// PHIAccessEntry is an immutable record of one backend operation that touched
// protected health information.
type PHIAccessEntry struct {
	ID             string    `json:"id"`
	IntegrationID  string    `json:"integration_id,omitempty"`
	OrgID          string    `json:"org_id"`
	Backend        string    `json:"backend"`
	Action         string    `json:"action"`
	Endpoint       string    `json:"endpoint,omitempty"`
	Method         string    `json:"method,omitempty"`
	CallID         string    `json:"call_id,omitempty"`
	ResponseStatus int       `json:"response_status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	PHIAccessed    bool      `json:"phi_accessed"`
	PHIFields      []string  `json:"phi_fields,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditLogger is the sink dispatch writes to.
type AuditLogger interface {
	LogPHIAccess(ctx context.Context, entry PHIAccessEntry) error
}

// AuditService writes PHI access rows. There is deliberately no update or
// delete path: rows are compliance records.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

var _ AuditLogger = (*AuditService)(nil)

// LogPHIAccess records a PHI access audit entry.
func (s *AuditService) LogPHIAccess(ctx context.Context, entry PHIAccessEntry) error {
	if s == nil || s.db == nil {
		return errors.New("compliance: audit database not configured")
	}
	if entry.OrgID == "" || entry.Action == "" {
		return ErrInvalidEntry
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PHIFields == nil {
		entry.PHIFields = []string{}
	}

	query := `
		INSERT INTO phi_audit_log (
			id, integration_id, org_id, backend, action, endpoint, method, call_id,
			response_status, response_time_ms, phi_accessed, phi_fields, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.IntegrationID),
		entry.OrgID,
		entry.Backend,
		entry.Action,
		nullString(entry.Endpoint),
		nullString(entry.Method),
		nullString(entry.CallID),
		entry.ResponseStatus,
		entry.ResponseTimeMs,
		entry.PHIAccessed,
		pq.Array(entry.PHIFields),
		nullString(entry.ErrorMessage),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log phi access: %w", err)
	}

	return nil
}

// QueryPHIAccess retrieves audit entries with filters, newest first.
func (s *AuditService) QueryPHIAccess(ctx context.Context, filter AuditFilter) ([]PHIAccessEntry, error) {
	query := `
		SELECT id, integration_id, org_id, backend, action, endpoint, method, call_id,
			   response_status, response_time_ms, phi_accessed, phi_fields, error_message, created_at
		FROM phi_audit_log
		WHERE org_id = $1
	`
	args := []interface{}{filter.OrgID}
	argIdx := 2

	if filter.CallID != "" {
		query += fmt.Sprintf(" AND call_id = $%d", argIdx)
		args = append(args, filter.CallID)
		argIdx++
	}
	if filter.IntegrationID != "" {
		query += fmt.Sprintf(" AND integration_id = $%d", argIdx)
		args = append(args, filter.IntegrationID)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query phi access: %w", err)
	}
	defer rows.Close()

	var entries []PHIAccessEntry
	for rows.Next() {
		var e PHIAccessEntry
		var integrationID, endpoint, method, callID, errMsg sql.NullString
		var fields pq.StringArray
		err := rows.Scan(
			&e.ID, &integrationID, &e.OrgID, &e.Backend, &e.Action, &endpoint, &method, &callID,
			&e.ResponseStatus, &e.ResponseTimeMs, &e.PHIAccessed, &fields, &errMsg, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan phi access: %w", err)
		}
		e.IntegrationID = integrationID.String
		e.Endpoint = endpoint.String
		e.Method = method.String
		e.CallID = callID.String
		e.ErrorMessage = errMsg.String
		e.PHIFields = []string(fields)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: iterate phi access: %w", err)
	}

	return entries, nil
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	OrgID         string
	CallID        string
	IntegrationID string
	StartTime     time.Time
	EndTime       time.Time
	Limit         int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
