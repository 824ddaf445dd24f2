// Package session mediates between flight-controller events and the
// flight-registration service. A Controller holds at most one flight
// session and forwards telemetry for it once the service has assigned
// an identifier.
//
// All session state is owned by the goroutine running Controller.Run.
// Event methods only post work to its mailbox, and remote calls run on
// their own goroutines and post their results back, so no event method
// ever waits on the network.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saviobatista/flight-registrar/internal/stats"
	"github.com/saviobatista/flight-registrar/internal/types"
)

const (
	mailboxSize   = 1024
	telemetrySize = 256
	journalSize   = 64

	journalDrainTimeout = 5 * time.Second
)

var (
	ErrAuthentication    = errors.New("authentication failure")
	ErrFlightCreation    = errors.New("flight creation failure")
	ErrFlightTermination = errors.New("flight termination failure")
	ErrStopped           = errors.New("controller stopped")
)

// Registry is the flight-registration service as seen by the controller
type Registry interface {
	IsAuthenticated(ctx context.Context) bool
	PerformAnonymousLogin(ctx context.Context, pilotID string) error
	ListAircraftModels(ctx context.Context, manufacturerID string) ([]types.AircraftModel, error)
	CreateAircraft(ctx context.Context, aircraft *types.Aircraft) (*types.Aircraft, error)
	CreateFlight(ctx context.Context, req *types.FlightRequest) (*types.FlightRecord, error)
	EndFlight(ctx context.Context, flightID string) (*types.FlightRecord, error)
	SendPosition(ctx context.Context, flightID string, lat, lng, altitude, groundAltitude, heading float64) error
	SendSpeed(ctx context.Context, flightID string, vx, vy, vz float64) error
	SendAttitude(ctx context.Context, flightID string, yaw, pitch, roll float64) error
}

// Notifier delivers user-visible notices
type Notifier interface {
	PublishNotice(n *types.Notice) error
}

// Journal records every session transition
type Journal interface {
	RecordSession(ctx context.Context, s *types.FlightSession) error
}

// AircraftCache keeps the looked-up aircraft across restarts
type AircraftCache interface {
	GetAircraft(ctx context.Context, name string) (*types.Aircraft, error)
	StoreAircraft(ctx context.Context, aircraft *types.Aircraft) error
}

// Options are the fixed parameters of every flight request
type Options struct {
	ManufacturerID    string
	BufferMeters      float64
	MaxAltitudeMeters float64
	StartDelay        time.Duration
	FlightDuration    time.Duration
}

// DefaultOptions returns the parameters used when none are configured
func DefaultOptions() Options {
	return Options{
		ManufacturerID:    "6f25a640-60d9-4b98-8602-67094b7a8914",
		BufferMeters:      100,
		MaxAltitudeMeters: 100,
		StartDelay:        time.Minute,
		FlightDuration:    4 * time.Hour,
	}
}

// Option configures a Controller
type Option func(*Controller)

func WithNotifier(n Notifier) Option           { return func(c *Controller) { c.notifier = n } }
func WithJournal(j Journal) Option             { return func(c *Controller) { c.journal = j } }
func WithAircraftCache(a AircraftCache) Option { return func(c *Controller) { c.aircraftCache = a } }
func WithStats(s *stats.Stats) Option          { return func(c *Controller) { c.stats = s } }
func WithClock(now func() time.Time) Option    { return func(c *Controller) { c.now = now } }

// WithPilotID overrides how anonymous pilot identifiers are generated
func WithPilotID(f func() string) Option { return func(c *Controller) { c.newPilotID = f } }

// Controller is the flight session state holder
type Controller struct {
	registry      Registry
	opts          Options
	notifier      Notifier
	journal       Journal
	aircraftCache AircraftCache
	stats         *stats.Stats
	now           func() time.Time
	newPilotID    func() string

	mailbox   chan func()
	telemetry chan func(context.Context) error
	journaled chan *types.FlightSession
	done      chan struct{}
	stopOnce  sync.Once
	inflight  sync.WaitGroup

	// owned by the Run goroutine
	ctx            context.Context
	session        *types.FlightSession
	pending        *types.Position
	aircraft       *types.Aircraft
	aircraftLookup bool
	creating       bool
	ending         bool
	landRequested  bool
	lastErr        error
}

// New creates a controller; call Run to start processing events
func New(registry Registry, opts Options, options ...Option) *Controller {
	c := &Controller{
		registry:   registry,
		opts:       opts,
		notifier:   LogNotifier{},
		stats:      stats.New(),
		now:        time.Now,
		newPilotID: func() string { return uuid.New().String() },
		mailbox:    make(chan func(), mailboxSize),
		telemetry:  make(chan func(context.Context) error, telemetrySize),
		journaled:  make(chan *types.FlightSession, journalSize),
		done:       make(chan struct{}),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Stats returns the statistics the controller updates
func (c *Controller) Stats() *stats.Stats {
	return c.stats
}

// Run processes events until ctx is cancelled
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		c.telemetryWorker(ctx)
	}()
	go func() {
		defer workers.Done()
		c.journalWorker(ctx)
	}()

	defer func() {
		c.stopOnce.Do(func() { close(c.done) })
		c.inflight.Wait()
		workers.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-c.mailbox:
			fn()
		}
	}
}

// post queues fn for the Run goroutine; it reports false once the controller stopped
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.mailbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// async runs op off the event loop and applies its result on the loop
func (c *Controller) async(op func(ctx context.Context) func()) {
	ctx := c.ctx
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		apply := op(ctx)
		c.post(apply)
	}()
}

// OnStartingTakeoff starts a flight at the last known position
func (c *Controller) OnStartingTakeoff() {
	c.post(func() { c.takeoff(nil) })
}

// OnStartingTakeoffAt starts a flight at an explicit takeoff coordinate
func (c *Controller) OnStartingTakeoffAt(lat, lng float64) {
	coord := types.Coordinate{Latitude: lat, Longitude: lng}
	c.post(func() { c.takeoff(&coord) })
}

// OnLanding ends the active flight
func (c *Controller) OnLanding() {
	c.post(c.landing)
}

// OnPositionChanged forwards or buffers a position sample
func (c *Controller) OnPositionChanged(lat, lng, altitude float64) {
	c.post(func() { c.position(lat, lng, altitude) })
}

// OnSpeedUpdate forwards a velocity sample when a flight is active
func (c *Controller) OnSpeedUpdate(vx, vy, vz float64) {
	c.post(func() {
		id, ok := c.activeFlightID()
		if !ok {
			c.stats.IncrementDroppedSamples()
			return
		}
		c.sendTelemetry(func(ctx context.Context) error {
			return c.registry.SendSpeed(ctx, id, vx, vy, vz)
		})
	})
}

// OnAttitudeUpdate forwards an attitude sample when a flight is active
func (c *Controller) OnAttitudeUpdate(yaw, pitch, roll float64) {
	c.post(func() {
		id, ok := c.activeFlightID()
		if !ok {
			c.stats.IncrementDroppedSamples()
			return
		}
		c.sendTelemetry(func(ctx context.Context) error {
			return c.registry.SendAttitude(ctx, id, yaw, pitch, roll)
		})
	})
}

// HandleEvent dispatches a flight-controller event
func (c *Controller) HandleEvent(ev *types.ControllerEvent) error {
	switch ev.Kind {
	case types.EventTakeoff:
		if ev.Latitude != 0 || ev.Longitude != 0 {
			c.OnStartingTakeoffAt(ev.Latitude, ev.Longitude)
		} else {
			c.OnStartingTakeoff()
		}
	case types.EventLanding:
		c.OnLanding()
	case types.EventPosition:
		c.OnPositionChanged(ev.Latitude, ev.Longitude, ev.Altitude)
	case types.EventSpeed:
		c.OnSpeedUpdate(ev.VX, ev.VY, ev.VZ)
	case types.EventAttitude:
		c.OnAttitudeUpdate(ev.Yaw, ev.Pitch, ev.Roll)
	default:
		return fmt.Errorf("unknown event kind: %q", ev.Kind)
	}
	return nil
}

// Restore adopts a session recovered after a restart. It is ignored when
// a session already exists or the recovered one is not active.
func (c *Controller) Restore(s *types.FlightSession) {
	if s == nil || !s.Active {
		return
	}
	restored := *s
	c.post(func() {
		if c.session != nil {
			return
		}
		c.session = &restored
		if c.expired() {
			log.Printf("Restored flight %s was due to end at %s; closing it locally", restored.FlightID, restored.EndsAt)
			c.closeExpired()
			return
		}
		log.Printf("Restored flight session %s", restored.FlightID)
	})
}

// LookupAircraft resolves the aircraft attached to future flights. The
// model registry is queried at most once per controller.
func (c *Controller) LookupAircraft(name string) {
	if name == "" {
		return
	}
	c.post(func() {
		if c.aircraftLookup || c.aircraft != nil {
			return
		}
		c.aircraftLookup = true
		c.async(func(ctx context.Context) func() {
			aircraft, err := c.resolveAircraft(ctx, name)
			return func() {
				if err != nil {
					c.aircraftLookup = false
					log.Printf("Failed to look up aircraft %q: %v", name, err)
					return
				}
				if aircraft == nil {
					log.Printf("No aircraft model named %q; flights will be submitted without an aircraft", name)
					return
				}
				c.aircraft = aircraft
				log.Printf("Using aircraft model %s (%s)", aircraft.Model.Name, aircraft.Model.ID)
			}
		})
	})
}

func (c *Controller) resolveAircraft(ctx context.Context, name string) (*types.Aircraft, error) {
	if c.aircraftCache != nil {
		cached, err := c.aircraftCache.GetAircraft(ctx, name)
		if err != nil {
			log.Printf("Warning: Failed to read cached aircraft: %v", err)
		} else if cached != nil {
			return cached, nil
		}
	}

	models, err := c.registry.ListAircraftModels(ctx, c.opts.ManufacturerID)
	if err != nil {
		return nil, err
	}
	aircraft := MatchAircraft(models, name)
	if aircraft != nil && c.aircraftCache != nil {
		if err := c.aircraftCache.StoreAircraft(ctx, aircraft); err != nil {
			log.Printf("Warning: Failed to cache aircraft: %v", err)
		}
	}
	return aircraft, nil
}

// MatchAircraft picks the first model whose name equals name, ignoring case
func MatchAircraft(models []types.AircraftModel, name string) *types.Aircraft {
	for _, model := range models {
		if strings.EqualFold(model.Name, name) {
			return &types.Aircraft{Nickname: name, Model: model}
		}
	}
	return nil
}

func (c *Controller) takeoff(coord *types.Coordinate) {
	c.stats.IncrementTakeoffs()

	if c.creating {
		log.Printf("Flight creation already in progress; ignoring takeoff")
		return
	}
	if c.session != nil && c.session.Active && c.session.HasID() {
		if c.ending || !c.expired() {
			log.Printf("Flight %s already active; ignoring takeoff", c.session.FlightID)
			return
		}
		log.Printf("Flight %s passed its end time %s; closing it locally", c.session.FlightID, c.session.EndsAt)
		c.closeExpired()
	}

	if coord != nil && !coord.Valid() {
		log.Printf("Warning: Ignoring invalid takeoff coordinate %g,%g", coord.Latitude, coord.Longitude)
		coord = nil
	}

	var at types.Coordinate
	switch {
	case coord != nil && !coord.IsZero():
		at = *coord
	case c.pending != nil && !c.pending.IsZero():
		at = c.pending.Coordinate
	case c.session != nil && c.session.Active && !c.session.Takeoff.IsZero():
		at = c.session.Takeoff
	default:
		log.Printf("No position known yet; skipping flight creation")
		return
	}

	// a pending session whose creation failed is retried in place
	if c.session == nil || !c.session.Active {
		c.session = &types.FlightSession{
			SessionID:         uuid.New().String(),
			BufferMeters:      c.opts.BufferMeters,
			MaxAltitudeMeters: c.opts.MaxAltitudeMeters,
			Public:            true,
			Notify:            true,
			Active:            true,
			CreatedAt:         c.now().UTC(),
		}
	}
	c.session.Takeoff = at
	c.creating = true
	c.lastErr = nil
	c.record()

	aircraft := c.aircraft
	c.async(func(ctx context.Context) func() {
		req, rec, err := c.createFlight(ctx, at, aircraft)
		return func() { c.finishCreate(req, rec, err) }
	})
}

// createFlight runs off the event loop and must not touch session state
func (c *Controller) createFlight(ctx context.Context, at types.Coordinate, aircraft *types.Aircraft) (*types.FlightRequest, *types.FlightRecord, error) {
	for attempt := 0; !c.registry.IsAuthenticated(ctx); attempt++ {
		if attempt > 0 {
			c.stats.IncrementFailedLogins()
			return nil, nil, fmt.Errorf("%w: not authenticated after login", ErrAuthentication)
		}
		c.stats.IncrementLogins()
		if err := c.registry.PerformAnonymousLogin(ctx, c.newPilotID()); err != nil {
			c.stats.IncrementFailedLogins()
			return nil, nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
	}

	req := c.buildRequest(at)
	if aircraft != nil {
		created, err := c.registry.CreateAircraft(ctx, aircraft)
		switch {
		case err != nil:
			log.Printf("Warning: Failed to create aircraft, submitting flight without it: %v", err)
		case created != nil && created.ID != "":
			req.AircraftID = created.ID
		}
	}

	rec, err := c.registry.CreateFlight(ctx, req)
	if err != nil {
		return req, nil, fmt.Errorf("%w: %w", ErrFlightCreation, err)
	}
	if rec == nil || rec.ID == "" {
		return req, nil, fmt.Errorf("%w: response carried no flight id", ErrFlightCreation)
	}
	return req, rec, nil
}

func (c *Controller) buildRequest(at types.Coordinate) *types.FlightRequest {
	start := c.now().UTC().Add(c.opts.StartDelay)
	return &types.FlightRequest{
		Coordinate:        at,
		BufferMeters:      c.opts.BufferMeters,
		MaxAltitudeMeters: c.opts.MaxAltitudeMeters,
		Public:            true,
		Notify:            true,
		StartsAt:          start,
		EndsAt:            start.Add(c.opts.FlightDuration),
	}
}

func (c *Controller) finishCreate(req *types.FlightRequest, rec *types.FlightRecord, err error) {
	c.creating = false
	if req != nil {
		c.session.StartsAt = req.StartsAt
		c.session.EndsAt = req.EndsAt
		c.session.AircraftID = req.AircraftID
	}

	if err != nil {
		c.lastErr = err
		c.landRequested = false
		if errors.Is(err, ErrAuthentication) {
			c.notify("error", "Failed to authenticate with flight registry")
		} else {
			c.stats.IncrementFailedCreations()
			c.notify("error", "Failed to create flight")
		}
		log.Printf("Submitting flight failure: %v", err)
		c.record()
		return
	}

	c.session.Apply(rec)
	c.pending = nil
	c.stats.IncrementCreatedFlights()
	log.Printf("Submitting flight success: %s", rec.ID)
	c.notify("info", "Flight submitted to registry")
	c.record()

	if c.landRequested {
		c.landRequested = false
		c.beginEnd()
	}
}

func (c *Controller) landing() {
	c.stats.IncrementLandings()

	if c.session == nil || !c.session.Active {
		return
	}
	if c.creating {
		log.Printf("Landing before flight creation completed; ending once created")
		c.landRequested = true
		return
	}
	if !c.session.HasID() || c.ending {
		return
	}
	c.beginEnd()
}

func (c *Controller) beginEnd() {
	c.ending = true
	id := c.session.FlightID
	c.async(func(ctx context.Context) func() {
		rec, err := c.registry.EndFlight(ctx, id)
		return func() { c.finishEnd(id, rec, err) }
	})
}

func (c *Controller) finishEnd(id string, rec *types.FlightRecord, err error) {
	c.ending = false

	if err != nil {
		c.lastErr = fmt.Errorf("%w: %w", ErrFlightTermination, err)
		c.stats.IncrementFailedTerminations()
		c.notify("error", "Failed to end flight")
		log.Printf("Ending flight %s failure: %v", id, err)
		return
	}

	if c.session == nil || c.session.FlightID != id {
		return
	}
	if rec != nil && !rec.EndsAt.IsZero() {
		c.session.EndsAt = rec.EndsAt
	}
	c.session.Active = false
	c.session.EndedAt = c.now().UTC()
	c.stats.IncrementEndedFlights()
	log.Printf("Ended flight %s", id)
	c.notify("info", "Flight ended on registry")
	c.record()
}

func (c *Controller) position(lat, lng, altitude float64) {
	if !(types.Coordinate{Latitude: lat, Longitude: lng}).Valid() || math.IsNaN(altitude) || math.IsInf(altitude, 0) {
		log.Printf("Warning: Ignoring invalid position %g,%g,%g", lat, lng, altitude)
		c.stats.IncrementDroppedSamples()
		return
	}
	id, ok := c.activeFlightID()
	if !ok {
		c.pending = &types.Position{
			Coordinate: types.Coordinate{Latitude: lat, Longitude: lng},
			Altitude:   altitude,
		}
		c.stats.IncrementBufferedPositions()
		return
	}
	c.sendTelemetry(func(ctx context.Context) error {
		return c.registry.SendPosition(ctx, id, lat, lng, altitude, altitude, 0)
	})
}

func (c *Controller) activeFlightID() (string, bool) {
	if c.session == nil || !c.session.Active || !c.session.HasID() {
		return "", false
	}
	return c.session.FlightID, true
}

// sendTelemetry queues a sample in arrival order; when the queue is full the sample is dropped
func (c *Controller) sendTelemetry(send func(ctx context.Context) error) {
	select {
	case c.telemetry <- send:
	default:
		c.stats.IncrementDroppedSamples()
	}
}

func (c *Controller) telemetryWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case send := <-c.telemetry:
			if err := send(ctx); err != nil {
				c.stats.IncrementTelemetryFailed()
				log.Printf("Failed to send telemetry: %v", err)
				continue
			}
			c.stats.IncrementTelemetrySent()
		}
	}
}

// expired reports whether the current flight is past its registered end time
func (c *Controller) expired() bool {
	return c.session != nil && !c.session.EndsAt.IsZero() && !c.session.EndsAt.After(c.now())
}

// closeExpired ends the current session without contacting the registry,
// which already considers the flight over
func (c *Controller) closeExpired() {
	c.session.Active = false
	c.session.EndedAt = c.now().UTC()
	c.landRequested = false
	c.record()
}

// record queues a copy of the session for the journal
func (c *Controller) record() {
	if c.journal == nil || c.session == nil {
		return
	}
	snapshot := *c.session
	select {
	case c.journaled <- &snapshot:
	default:
		log.Printf("Warning: Journal queue full; dropping session snapshot")
	}
}

// journalWorker writes snapshots until the event loop has stopped, then
// flushes whatever is still queued. Writes are detached from ctx so the
// last transition before shutdown is not lost.
func (c *Controller) journalWorker(ctx context.Context) {
	for {
		select {
		case <-c.done:
			c.drainJournal(ctx)
			return
		case s := <-c.journaled:
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalDrainTimeout)
			c.writeJournal(wctx, s)
			cancel()
		}
	}
}

func (c *Controller) drainJournal(ctx context.Context) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalDrainTimeout)
	defer cancel()
	for dctx.Err() == nil {
		select {
		case s := <-c.journaled:
			c.writeJournal(dctx, s)
		default:
			return
		}
	}
	log.Printf("Warning: Gave up flushing %d journal snapshots", len(c.journaled))
}

func (c *Controller) writeJournal(ctx context.Context, s *types.FlightSession) {
	if err := c.journal.RecordSession(ctx, s); err != nil {
		log.Printf("Warning: Failed to journal flight session: %v", err)
	}
}

func (c *Controller) notify(level, message string) {
	n := &types.Notice{
		Message:   message,
		Level:     level,
		Timestamp: c.now().UTC(),
	}
	if c.session != nil {
		n.FlightID = c.session.FlightID
	}
	if err := c.notifier.PublishNotice(n); err != nil {
		log.Printf("Warning: Failed to publish notice: %v", err)
	}
}

// LogNotifier writes notices to the standard logger
type LogNotifier struct{}

// PublishNotice logs the notice
func (LogNotifier) PublishNotice(n *types.Notice) error {
	log.Printf("[%s] %s", n.Level, n.Message)
	return nil
}
