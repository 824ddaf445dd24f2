package migrations

// InitialSchema creates the flight journal and statistics tables
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		-- One row per local flight session, updated on every transition
		CREATE TABLE IF NOT EXISTS flights (
			session_id TEXT PRIMARY KEY,
			flight_id TEXT NOT NULL DEFAULT '',
			takeoff_latitude DOUBLE PRECISION NOT NULL,
			takeoff_longitude DOUBLE PRECISION NOT NULL,
			buffer_meters DOUBLE PRECISION NOT NULL,
			max_altitude_meters DOUBLE PRECISION NOT NULL,
			public BOOLEAN NOT NULL,
			notify BOOLEAN NOT NULL,
			aircraft_id TEXT NOT NULL DEFAULT '',
			starts_at TIMESTAMPTZ,
			ends_at TIMESTAMPTZ,
			active BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_flights_flight_id ON flights (flight_id);
		CREATE INDEX IF NOT EXISTS idx_flights_open ON flights (created_at DESC) WHERE active;

		CREATE TABLE IF NOT EXISTS system_stats (
			time TIMESTAMPTZ NOT NULL,
			takeoffs BIGINT NOT NULL,
			landings BIGINT NOT NULL,
			logins BIGINT NOT NULL,
			failed_logins BIGINT NOT NULL,
			created_flights BIGINT NOT NULL,
			failed_creations BIGINT NOT NULL,
			ended_flights BIGINT NOT NULL,
			failed_terminations BIGINT NOT NULL,
			telemetry_sent BIGINT NOT NULL,
			telemetry_failed BIGINT NOT NULL,
			buffered_positions BIGINT NOT NULL,
			dropped_samples BIGINT NOT NULL,
			uptime_seconds BIGINT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_system_stats_time ON system_stats (time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS system_stats;
		DROP TABLE IF EXISTS flights;
	`,
}
