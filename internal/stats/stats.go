package stats

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Store persists statistics snapshots
type Store interface {
	StoreSystemStats(stats map[string]interface{}) error
}

// Stats tracks controller and telemetry statistics
type Stats struct {
	// Flight-controller events
	Takeoffs uint64
	Landings uint64

	// Registration outcomes
	Logins             uint64
	FailedLogins       uint64
	CreatedFlights     uint64
	FailedCreations    uint64
	EndedFlights       uint64
	FailedTerminations uint64

	// Telemetry
	TelemetrySent     uint64
	TelemetryFailed   uint64
	BufferedPositions uint64
	DroppedSamples    uint64

	// Timing
	StartTime     time.Time
	LastEventTime time.Time

	// Store for persistence
	store Store

	mu sync.RWMutex
}

// New creates a new Stats instance
func New() *Stats {
	now := time.Now()
	return &Stats{
		StartTime:     now,
		LastEventTime: now,
	}
}

// SetStore sets the store used by Persist
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// Persist stores the current statistics
func (s *Stats) Persist() error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("stats store not set")
	}

	return store.StoreSystemStats(s.GetStats())
}

// IncrementTakeoffs counts a takeoff event and marks event activity
func (s *Stats) IncrementTakeoffs() {
	atomic.AddUint64(&s.Takeoffs, 1)
	s.UpdateLastEventTime()
}

// IncrementLandings counts a landing event and marks event activity
func (s *Stats) IncrementLandings() {
	atomic.AddUint64(&s.Landings, 1)
	s.UpdateLastEventTime()
}

func (s *Stats) IncrementLogins()             { atomic.AddUint64(&s.Logins, 1) }
func (s *Stats) IncrementFailedLogins()       { atomic.AddUint64(&s.FailedLogins, 1) }
func (s *Stats) IncrementCreatedFlights()     { atomic.AddUint64(&s.CreatedFlights, 1) }
func (s *Stats) IncrementFailedCreations()    { atomic.AddUint64(&s.FailedCreations, 1) }
func (s *Stats) IncrementEndedFlights()       { atomic.AddUint64(&s.EndedFlights, 1) }
func (s *Stats) IncrementFailedTerminations() { atomic.AddUint64(&s.FailedTerminations, 1) }
func (s *Stats) IncrementTelemetrySent()      { atomic.AddUint64(&s.TelemetrySent, 1) }
func (s *Stats) IncrementTelemetryFailed()    { atomic.AddUint64(&s.TelemetryFailed, 1) }
func (s *Stats) IncrementBufferedPositions()  { atomic.AddUint64(&s.BufferedPositions, 1) }
func (s *Stats) IncrementDroppedSamples()     { atomic.AddUint64(&s.DroppedSamples, 1) }

// UpdateLastEventTime updates the last event time
func (s *Stats) UpdateLastEventTime() {
	s.mu.Lock()
	s.LastEventTime = time.Now()
	s.mu.Unlock()
}

// GetStats returns a copy of the current statistics
func (s *Stats) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"takeoffs":            atomic.LoadUint64(&s.Takeoffs),
		"landings":            atomic.LoadUint64(&s.Landings),
		"logins":              atomic.LoadUint64(&s.Logins),
		"failed_logins":       atomic.LoadUint64(&s.FailedLogins),
		"created_flights":     atomic.LoadUint64(&s.CreatedFlights),
		"failed_creations":    atomic.LoadUint64(&s.FailedCreations),
		"ended_flights":       atomic.LoadUint64(&s.EndedFlights),
		"failed_terminations": atomic.LoadUint64(&s.FailedTerminations),
		"telemetry_sent":      atomic.LoadUint64(&s.TelemetrySent),
		"telemetry_failed":    atomic.LoadUint64(&s.TelemetryFailed),
		"buffered_positions":  atomic.LoadUint64(&s.BufferedPositions),
		"dropped_samples":     atomic.LoadUint64(&s.DroppedSamples),
		"last_event_time":     s.LastEventTime,
		"uptime":              time.Since(s.StartTime),
	}
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	stats := s.GetStats()
	return fmt.Sprintf(
		"Takeoffs: %d\n"+
			"Landings: %d\n"+
			"Logins: %d (failed %d)\n"+
			"Created Flights: %d (failed %d)\n"+
			"Ended Flights: %d (failed %d)\n"+
			"Telemetry Sent: %d (failed %d)\n"+
			"Buffered Positions: %d\n"+
			"Dropped Samples: %d\n"+
			"Last Event Time: %s\n"+
			"Uptime: %s",
		stats["takeoffs"],
		stats["landings"],
		stats["logins"], stats["failed_logins"],
		stats["created_flights"], stats["failed_creations"],
		stats["ended_flights"], stats["failed_terminations"],
		stats["telemetry_sent"], stats["telemetry_failed"],
		stats["buffered_positions"],
		stats["dropped_samples"],
		stats["last_event_time"],
		stats["uptime"],
	)
}

// StartPersistence starts periodic persistence of statistics
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				log.Printf("Failed to persist final statistics: %v", err)
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				log.Printf("Failed to persist statistics: %v", err)
			}
		}
	}
}
