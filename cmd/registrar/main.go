package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saviobatista/flight-registrar/internal/config"
	"github.com/saviobatista/flight-registrar/internal/db"
	"github.com/saviobatista/flight-registrar/internal/logging"
	"github.com/saviobatista/flight-registrar/internal/nats"
	"github.com/saviobatista/flight-registrar/internal/redis"
	"github.com/saviobatista/flight-registrar/internal/registry"
	"github.com/saviobatista/flight-registrar/internal/session"
	"github.com/saviobatista/flight-registrar/internal/stats"
	"github.com/saviobatista/flight-registrar/internal/types"
)

const (
	statsLogInterval     = time.Minute
	statsPersistInterval = 5 * time.Minute
)

// FlightStore interface for testability
type FlightStore interface {
	SaveFlight(ctx context.Context, s *types.FlightSession) error
	GetOpenFlight(ctx context.Context) (*types.FlightSession, error)
}

// SessionCache interface for testability
type SessionCache interface {
	GetSession(ctx context.Context) (*types.FlightSession, error)
	StoreSession(ctx context.Context, s *types.FlightSession) error
	DeleteSession(ctx context.Context) error
}

// EventSource interface for testability
type EventSource interface {
	SubscribeEvents(handler func(*types.ControllerEvent)) error
}

// EventHandler is the part of the controller driven by the event bus
type EventHandler interface {
	HandleEvent(ev *types.ControllerEvent) error
}

// sessionJournal writes every session transition to Postgres and keeps
// the current session in Redis while it is in progress
type sessionJournal struct {
	flights FlightStore
	cache   SessionCache
}

// RecordSession implements session.Journal
func (j *sessionJournal) RecordSession(ctx context.Context, s *types.FlightSession) error {
	if s.Active {
		if err := j.cache.StoreSession(ctx, s); err != nil {
			log.Printf("Warning: Failed to cache flight session in Redis: %v", err)
		}
	} else if err := j.cache.DeleteSession(ctx); err != nil {
		log.Printf("Warning: Failed to delete flight session from Redis: %v", err)
	}

	if err := j.flights.SaveFlight(ctx, s); err != nil {
		return fmt.Errorf("failed to journal flight session: %w", err)
	}
	return nil
}

// restoreSession finds a flight left registered by a previous run. Redis
// is consulted first and the open Postgres row is the fallback.
func restoreSession(ctx context.Context, cache SessionCache, flights FlightStore) *types.FlightSession {
	s, err := cache.GetSession(ctx)
	if err != nil {
		log.Printf("Warning: Failed to get flight session from Redis: %v", err)
	}
	if s != nil && s.Active && s.HasID() {
		return s
	}

	s, err = flights.GetOpenFlight(ctx)
	if err != nil {
		log.Printf("Warning: Failed to load open flight: %v", err)
		return nil
	}
	if s == nil {
		return nil
	}
	if err := cache.StoreSession(ctx, s); err != nil {
		log.Printf("Warning: Failed to cache flight session in Redis: %v", err)
	}
	return s
}

// sessionOptions maps the configuration onto the controller's flight parameters
func sessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		ManufacturerID:    cfg.ManufacturerID,
		BufferMeters:      cfg.BufferMeters,
		MaxAltitudeMeters: cfg.MaxAltitudeMeters,
		StartDelay:        cfg.StartDelay,
		FlightDuration:    cfg.FlightDuration,
	}
}

// dispatch adapts the controller to the event bus callback
func dispatch(handler EventHandler) func(*types.ControllerEvent) {
	return func(ev *types.ControllerEvent) {
		if err := handler.HandleEvent(ev); err != nil {
			log.Printf("Failed to handle event from %s: %v", ev.Source, err)
		}
	}
}

// setupEventSubscription subscribes the controller to flight-controller events
func setupEventSubscription(events EventSource, handler EventHandler) error {
	if err := events.SubscribeEvents(dispatch(handler)); err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	return nil
}

// logStats periodically logs statistics
func logStats(ctx context.Context, st *stats.Stats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Statistics:\n%s", st)
		}
	}
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config) (*nats.Client, *db.Client, *redis.Client, error) {
	natsClient, err := nats.New(cfg.NATSURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			log.Printf("Warning: Failed to close database client: %v", closeErr)
		}
		return nil, nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return natsClient, dbClient, redisClient, nil
}

// newController wires the controller to the registry and the shared infrastructure
func newController(cfg *config.Config, reg session.Registry, notifier session.Notifier,
	flights FlightStore, cache SessionCache, aircraft session.AircraftCache, st *stats.Stats) *session.Controller {
	return session.New(reg, sessionOptions(cfg),
		session.WithNotifier(notifier),
		session.WithJournal(&sessionJournal{flights: flights, cache: cache}),
		session.WithAircraftCache(aircraft),
		session.WithStats(st),
	)
}

// start restores any open flight, begins the aircraft lookup and runs the
// controller until ctx is cancelled. The returned channel closes when the
// controller has stopped.
func start(ctx context.Context, controller *session.Controller, events EventSource,
	cache SessionCache, flights FlightStore, aircraftName string) (<-chan struct{}, error) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := controller.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("Controller stopped: %v", err)
		}
	}()

	if s := restoreSession(ctx, cache, flights); s != nil {
		log.Printf("Resuming flight %s registered by a previous run", s.FlightID)
		controller.Restore(s)
	}
	controller.LookupAircraft(aircraftName)

	if err := setupEventSubscription(events, controller); err != nil {
		return done, err
	}
	return done, nil
}

func closeClients(natsClient *nats.Client, dbClient *db.Client, redisClient *redis.Client) {
	natsClient.Close()
	if err := dbClient.Close(); err != nil {
		log.Printf("Warning: Failed to close database client: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("Warning: Failed to close Redis client: %v", err)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logFile := logging.Setup("registrar", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxAgeDays)
	defer logFile.Close()

	natsClient, dbClient, redisClient, err := createClients(cfg)
	if err != nil {
		log.Printf("Failed to create clients: %v", err)
		os.Exit(1)
	}

	st := stats.New()
	st.SetStore(dbClient)

	reg := registry.New(cfg.RegistryURL, cfg.RegistryAPIKey, redisClient, natsClient)
	controller := newController(cfg, reg, natsClient, dbClient, redisClient, redisClient, st)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := start(ctx, controller, natsClient, redisClient, dbClient, cfg.AircraftName)
	if err != nil {
		log.Printf("Failed to start controller: %v", err)
		cancel()
		<-done
		closeClients(natsClient, dbClient, redisClient)
		os.Exit(1)
	}

	go logStats(ctx, st, statsLogInterval)
	persisted := make(chan struct{})
	go func() {
		defer close(persisted)
		st.StartPersistence(ctx, statsPersistInterval)
	}()

	log.Printf("Flight registrar started against %s", cfg.RegistryURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	cancel()
	<-done
	<-persisted
	log.Printf("Statistics:\n%s", st)
	closeClients(natsClient, dbClient, redisClient)
}
