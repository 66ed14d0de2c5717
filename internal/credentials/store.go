package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists integrations.
type Store interface {
	Get(ctx context.Context, id string) (*Integration, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]Integration, error)
	ListExpiring(ctx context.Context, before time.Time) ([]Integration, error)
	SaveTokens(ctx context.Context, id string, tokens TokenSet) error
	MarkError(ctx context.Context, id, reason string) error
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore reads and writes the pms_integrations table.
type PostgresStore struct {
	pool rowQuerier
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("credentials: pgx pool required")
	}
	return &PostgresStore{pool: pool}
}

func newPostgresStoreWithExec(exec rowQuerier) *PostgresStore {
	if exec == nil {
		panic("credentials: exec required")
	}
	return &PostgresStore{pool: exec}
}

var _ Store = (*PostgresStore)(nil)

const integrationColumns = `
	id, org_id, provider, COALESCE(config, '{}'::jsonb), status,
	COALESCE(office_id, ''), COALESCE(secret_key, ''),
	COALESCE(request_key, ''), COALESCE(refresh_key, ''), token_expiry,
	COALESCE(last_error, ''), updated_at
`

func scanIntegration(row pgx.Row) (*Integration, error) {
	var integ Integration
	var config []byte
	var status string
	err := row.Scan(
		&integ.ID, &integ.OrgID, &integ.Provider, &config, &status,
		&integ.OfficeID, &integ.SecretKey,
		&integ.RequestKey, &integ.RefreshKey, &integ.TokenExpiry,
		&integ.LastError, &integ.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	integ.Config = config
	integ.Status = Status(status)
	return &integ, nil
}

// Get loads one integration.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM pms_integrations WHERE id = $1`
	integ, err := scanIntegration(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrIntegrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credentials: get integration: %w", err)
	}
	return integ, nil
}

// ListByStatus returns integrations in any of the given states.
func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]Integration, error) {
	values := make([]string, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, string(st))
	}
	query := `SELECT ` + integrationColumns + ` FROM pms_integrations WHERE status = ANY($1) ORDER BY updated_at ASC`
	return s.list(ctx, query, values)
}

// ListExpiring returns ACTIVE integrations whose token expires before the
// given instant, or that have no expiry recorded.
func (s *PostgresStore) ListExpiring(ctx context.Context, before time.Time) ([]Integration, error) {
	query := `SELECT ` + integrationColumns + `
		FROM pms_integrations
		WHERE status = $1 AND (token_expiry IS NULL OR token_expiry < $2)
		ORDER BY token_expiry ASC NULLS FIRST`
	return s.list(ctx, query, string(StatusActive), before)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]Integration, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("credentials: list integrations: %w", err)
	}
	defer rows.Close()

	var out []Integration
	for rows.Next() {
		integ, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("credentials: scan integration: %w", err)
		}
		out = append(out, *integ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: iterate integrations: %w", err)
	}
	return out, nil
}

// SaveTokens stores a fresh key set and marks the integration ACTIVE.
func (s *PostgresStore) SaveTokens(ctx context.Context, id string, tokens TokenSet) error {
	query := `
		UPDATE pms_integrations
		SET request_key = $2,
			refresh_key = $3,
			token_expiry = $4,
			status = 'ACTIVE',
			last_error = NULL,
			updated_at = NOW()
		WHERE id = $1
	`
	ct, err := s.pool.Exec(ctx, query, id, tokens.RequestKey, tokens.RefreshKey, tokens.ExpiresAt)
	if err != nil {
		return fmt.Errorf("credentials: save tokens: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}

// MarkError moves the integration to ERROR. Existing keys are kept.
func (s *PostgresStore) MarkError(ctx context.Context, id, reason string) error {
	query := `
		UPDATE pms_integrations
		SET status = 'ERROR',
			last_error = $2,
			updated_at = NOW()
		WHERE id = $1
	`
	ct, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("credentials: mark error: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrIntegrationNotFound
	}
	return nil
}
