// Package calendar serves scheduling tools from a clinic's Google Calendar
// when no practice-management integration is active.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotConnected is returned when a clinic has no calendar connection.
var ErrNotConnected = errors.New("calendar: clinic has no calendar connection")

const defaultDurationMins = 30

// Connection is a clinic's authorized calendar.
type Connection struct {
	OrgID               string
	CalendarID          string
	RefreshToken        string
	Timezone            string
	DefaultDurationMins int
	// WorkdayStart and WorkdayEnd bound generated availability ("15:04").
	WorkdayStart string
	WorkdayEnd   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Duration returns the appointment length to use when the caller gives none.
func (c *Connection) Duration(requested int) time.Duration {
	if requested > 0 {
		return time.Duration(requested) * time.Minute
	}
	if c.DefaultDurationMins > 0 {
		return time.Duration(c.DefaultDurationMins) * time.Minute
	}
	return defaultDurationMins * time.Minute
}

// Location returns the connection timezone, UTC when unknown.
func (c *Connection) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ConnectionStore reads and writes calendar_connections.
type ConnectionStore struct {
	pool rowQuerier
}

func NewConnectionStore(pool *pgxpool.Pool) *ConnectionStore {
	if pool == nil {
		panic("calendar: pgx pool required")
	}
	return &ConnectionStore{pool: pool}
}

func newConnectionStoreWithExec(exec rowQuerier) *ConnectionStore {
	if exec == nil {
		panic("calendar: exec required")
	}
	return &ConnectionStore{pool: exec}
}

// Get returns the clinic's connection or ErrNotConnected.
func (s *ConnectionStore) Get(ctx context.Context, orgID string) (*Connection, error) {
	query := `
		SELECT org_id, calendar_id, refresh_token, COALESCE(timezone, ''),
		       COALESCE(default_duration_mins, 0), COALESCE(workday_start, ''), COALESCE(workday_end, ''),
		       created_at, updated_at
		FROM calendar_connections
		WHERE org_id = $1
	`
	var c Connection
	err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&c.OrgID, &c.CalendarID, &c.RefreshToken, &c.Timezone,
		&c.DefaultDurationMins, &c.WorkdayStart, &c.WorkdayEnd,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("calendar: get connection: %w", err)
	}
	return &c, nil
}

// Save upserts the clinic's connection.
func (s *ConnectionStore) Save(ctx context.Context, c Connection) error {
	query := `
		INSERT INTO calendar_connections (
			org_id, calendar_id, refresh_token, timezone, default_duration_mins, workday_start, workday_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (org_id) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			refresh_token = EXCLUDED.refresh_token,
			timezone = EXCLUDED.timezone,
			default_duration_mins = EXCLUDED.default_duration_mins,
			workday_start = EXCLUDED.workday_start,
			workday_end = EXCLUDED.workday_end,
			updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query,
		c.OrgID, c.CalendarID, c.RefreshToken, c.Timezone,
		c.DefaultDurationMins, c.WorkdayStart, c.WorkdayEnd,
	)
	if err != nil {
		return fmt.Errorf("calendar: save connection: %w", err)
	}
	return nil
}
