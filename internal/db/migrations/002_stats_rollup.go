package migrations

// StatsRollup adds daily views over statistics and flights. Counters in
// system_stats are cumulative per process, so a day reports its maximum.
var StatsRollup = &Migration{
	ID:   "002_stats_rollup",
	Name: "002_stats_rollup",
	UpSQL: `
	CREATE OR REPLACE VIEW system_stats_daily AS
	SELECT
		date_trunc('day', time) AS day,
		MAX(takeoffs) AS takeoffs,
		MAX(landings) AS landings,
		MAX(created_flights) AS created_flights,
		MAX(failed_creations) AS failed_creations,
		MAX(ended_flights) AS ended_flights,
		MAX(telemetry_sent) AS telemetry_sent,
		MAX(telemetry_failed) AS telemetry_failed
	FROM system_stats
	GROUP BY day;

	CREATE OR REPLACE VIEW flights_daily AS
	SELECT
		date_trunc('day', created_at) AS day,
		COUNT(*) AS sessions,
		COUNT(*) FILTER (WHERE flight_id <> '') AS registered,
		COUNT(*) FILTER (WHERE ended_at IS NOT NULL) AS ended
	FROM flights
	GROUP BY day;
	`,
	DownSQL: `
	DROP VIEW IF EXISTS flights_daily;
	DROP VIEW IF EXISTS system_stats_daily;
	`,
}
