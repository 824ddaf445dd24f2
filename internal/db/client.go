package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/saviobatista/flight-registrar/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// SaveFlight inserts or updates the journal row of a flight session
func (c *Client) SaveFlight(ctx context.Context, s *types.FlightSession) error {
	if s.SessionID == "" {
		return fmt.Errorf("flight session has no session id")
	}

	query := `
		INSERT INTO flights (
			session_id, flight_id, takeoff_latitude, takeoff_longitude,
			buffer_meters, max_altitude_meters, public, notify, aircraft_id,
			starts_at, ends_at, active, created_at, ended_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		ON CONFLICT (session_id) DO UPDATE SET
			flight_id = EXCLUDED.flight_id,
			takeoff_latitude = EXCLUDED.takeoff_latitude,
			takeoff_longitude = EXCLUDED.takeoff_longitude,
			aircraft_id = EXCLUDED.aircraft_id,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			active = EXCLUDED.active,
			ended_at = EXCLUDED.ended_at,
			updated_at = NOW()
	`
	_, err := c.db.ExecContext(ctx, query,
		s.SessionID, s.FlightID, s.Takeoff.Latitude, s.Takeoff.Longitude,
		s.BufferMeters, s.MaxAltitudeMeters, s.Public, s.Notify, s.AircraftID,
		nullTime(s.StartsAt), nullTime(s.EndsAt), s.Active, s.CreatedAt, nullTime(s.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save flight: %w", err)
	}
	return nil
}

// GetOpenFlight returns the most recent registered flight that was never
// ended, or nil when there is none
func (c *Client) GetOpenFlight(ctx context.Context) (*types.FlightSession, error) {
	query := `
		SELECT session_id, flight_id, takeoff_latitude, takeoff_longitude,
			buffer_meters, max_altitude_meters, public, notify, aircraft_id,
			starts_at, ends_at, active, created_at
		FROM flights
		WHERE active AND flight_id <> ''
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		s                types.FlightSession
		startsAt, endsAt sql.NullTime
	)
	err := c.db.QueryRowContext(ctx, query).Scan(
		&s.SessionID, &s.FlightID, &s.Takeoff.Latitude, &s.Takeoff.Longitude,
		&s.BufferMeters, &s.MaxAltitudeMeters, &s.Public, &s.Notify, &s.AircraftID,
		&startsAt, &endsAt, &s.Active, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open flight: %w", err)
	}
	s.StartsAt = startsAt.Time
	s.EndsAt = endsAt.Time
	return &s, nil
}

// StoreSystemStats stores system statistics
func (c *Client) StoreSystemStats(stats map[string]interface{}) error {
	query := `
		INSERT INTO system_stats (
			time, takeoffs, landings, logins, failed_logins,
			created_flights, failed_creations, ended_flights, failed_terminations,
			telemetry_sent, telemetry_failed, buffered_positions, dropped_samples,
			uptime_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	uptime, ok := stats["uptime"].(time.Duration)
	if !ok {
		return fmt.Errorf("stats snapshot has no uptime")
	}

	_, err := c.db.Exec(query,
		time.Now(),
		stats["takeoffs"],
		stats["landings"],
		stats["logins"],
		stats["failed_logins"],
		stats["created_flights"],
		stats["failed_creations"],
		stats["ended_flights"],
		stats["failed_terminations"],
		stats["telemetry_sent"],
		stats["telemetry_failed"],
		stats["buffered_positions"],
		stats["dropped_samples"],
		int64(uptime.Seconds()),
	)
	if err != nil {
		return fmt.Errorf("failed to store system stats: %w", err)
	}
	return nil
}
