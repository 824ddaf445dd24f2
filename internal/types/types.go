package types

import (
	"math"
	"time"
)

// EventKind identifies a flight-controller event
type EventKind string

const (
	EventTakeoff  EventKind = "takeoff"
	EventLanding  EventKind = "landing"
	EventPosition EventKind = "position"
	EventSpeed    EventKind = "speed"
	EventAttitude EventKind = "attitude"
)

// TelemetryKind identifies a telemetry sample sent for a flight
type TelemetryKind string

const (
	TelemetryPosition TelemetryKind = "position"
	TelemetrySpeed    TelemetryKind = "speed"
	TelemetryAttitude TelemetryKind = "attitude"
)

// Coordinate is a WGS84 latitude/longitude pair in degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsZero reports whether the coordinate was never set
func (c Coordinate) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// Valid reports whether both values are finite and within WGS84 bounds
func (c Coordinate) Valid() bool {
	for _, v := range []float64{c.Latitude, c.Longitude} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Position is the last known aircraft position
type Position struct {
	Coordinate
	Altitude float64 `json:"altitude"`
}

// ControllerEvent is a single flight-controller lifecycle or sensor event
type ControllerEvent struct {
	Kind      EventKind `json:"kind"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Altitude  float64   `json:"altitude,omitempty"`
	VX        float64   `json:"vx,omitempty"`
	VY        float64   `json:"vy,omitempty"`
	VZ        float64   `json:"vz,omitempty"`
	Yaw       float64   `json:"yaw,omitempty"`
	Pitch     float64   `json:"pitch,omitempty"`
	Roll      float64   `json:"roll,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// AircraftModel is an entry of the remote model registry
type AircraftModel struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ManufacturerID string `json:"manufacturer_id,omitempty"`
}

// Aircraft describes the aircraft attached to flights
type Aircraft struct {
	ID       string        `json:"id,omitempty"`
	Nickname string        `json:"nickname"`
	Model    AircraftModel `json:"model"`
}

// FlightRequest is the payload submitted to create a flight
type FlightRequest struct {
	Coordinate
	BufferMeters      float64   `json:"buffer"`
	MaxAltitudeMeters float64   `json:"max_altitude"`
	Public            bool      `json:"public"`
	Notify            bool      `json:"notify"`
	StartsAt          time.Time `json:"start_time"`
	EndsAt            time.Time `json:"end_time"`
	AircraftID        string    `json:"aircraft_id,omitempty"`
}

// FlightRecord is a flight as confirmed by the registration service
type FlightRecord struct {
	ID         string    `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Buffer     float64   `json:"buffer"`
	MaxAlt     float64   `json:"max_altitude"`
	Public     *bool     `json:"public,omitempty"`
	Notify     *bool     `json:"notify,omitempty"`
	StartsAt   time.Time `json:"start_time"`
	EndsAt     time.Time `json:"end_time"`
	AircraftID string    `json:"aircraft_id,omitempty"`
}

// FlightSession represents the local view of a registered flight
type FlightSession struct {
	SessionID         string     `json:"session_id"`
	FlightID          string     `json:"flight_id,omitempty"`
	StartsAt          time.Time  `json:"starts_at"`
	EndsAt            time.Time  `json:"ends_at"`
	Takeoff           Coordinate `json:"takeoff"`
	BufferMeters      float64    `json:"buffer_meters"`
	MaxAltitudeMeters float64    `json:"max_altitude_meters"`
	Public            bool       `json:"public"`
	Notify            bool       `json:"notify"`
	AircraftID        string     `json:"aircraft_id,omitempty"`
	Active            bool       `json:"active"`
	CreatedAt         time.Time  `json:"created_at"`
	EndedAt           time.Time  `json:"ended_at,omitempty"`
}

// HasID reports whether the registration service assigned an identifier
func (s *FlightSession) HasID() bool {
	return s != nil && s.FlightID != ""
}

// Apply replaces the locally requested values with the confirmed record
func (s *FlightSession) Apply(rec *FlightRecord) {
	s.FlightID = rec.ID
	if !rec.StartsAt.IsZero() {
		s.StartsAt = rec.StartsAt
	}
	if !rec.EndsAt.IsZero() {
		s.EndsAt = rec.EndsAt
	}
	if rec.Latitude != 0 || rec.Longitude != 0 {
		s.Takeoff = Coordinate{Latitude: rec.Latitude, Longitude: rec.Longitude}
	}
	if rec.Buffer != 0 {
		s.BufferMeters = rec.Buffer
	}
	if rec.MaxAlt != 0 {
		s.MaxAltitudeMeters = rec.MaxAlt
	}
	if rec.AircraftID != "" {
		s.AircraftID = rec.AircraftID
	}
	if rec.Public != nil {
		s.Public = *rec.Public
	}
	if rec.Notify != nil {
		s.Notify = *rec.Notify
	}
}

// Telemetry is a single sample tied to a flight
type Telemetry struct {
	FlightID       string        `json:"flight_id"`
	Kind           TelemetryKind `json:"kind"`
	Latitude       float64       `json:"latitude,omitempty"`
	Longitude      float64       `json:"longitude,omitempty"`
	Altitude       float64       `json:"altitude,omitempty"`
	GroundAltitude float64       `json:"ground_altitude,omitempty"`
	Heading        float64       `json:"heading,omitempty"`
	VX             float64       `json:"vx,omitempty"`
	VY             float64       `json:"vy,omitempty"`
	VZ             float64       `json:"vz,omitempty"`
	Yaw            float64       `json:"yaw,omitempty"`
	Pitch          float64       `json:"pitch,omitempty"`
	Roll           float64       `json:"roll,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Notice is a user-visible message about the flight
type Notice struct {
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	FlightID  string    `json:"flight_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
