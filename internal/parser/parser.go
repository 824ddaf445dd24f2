package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/saviobatista/flight-registrar/internal/types"
)

// Keywords of the flight-controller line protocol
const (
	KeywordTakeoff  = "TAKEOFF"
	KeywordLanding  = "LANDING"
	KeywordPosition = "POS"
	KeywordSpeed    = "SPD"
	KeywordAttitude = "ATT"
)

// ParseEvent parses a raw feed line into a controller event. Blank lines
// and lines starting with '#' carry no event and yield nil without error.
func ParseEvent(raw string, timestamp time.Time, source string) (*types.ControllerEvent, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}

	fields := strings.Split(line, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	event := &types.ControllerEvent{
		Timestamp: timestamp,
		Source:    source,
	}

	keyword := strings.ToUpper(fields[0])
	args := fields[1:]

	switch keyword {
	case KeywordTakeoff:
		event.Kind = types.EventTakeoff
		switch len(args) {
		case 0:
		case 2:
			values, err := parseFloats(args)
			if err != nil {
				return nil, fmt.Errorf("invalid takeoff coordinate: %w", err)
			}
			event.Latitude, event.Longitude = values[0], values[1]
			if err := checkCoordinate(event.Latitude, event.Longitude); err != nil {
				return nil, fmt.Errorf("invalid takeoff coordinate: %w", err)
			}
		default:
			return nil, fmt.Errorf("invalid takeoff message: expected 0 or 2 fields, got %d", len(args))
		}

	case KeywordLanding:
		if len(args) != 0 {
			return nil, fmt.Errorf("invalid landing message: expected no fields, got %d", len(args))
		}
		event.Kind = types.EventLanding

	case KeywordPosition:
		values, err := expectFloats(keyword, args, 3)
		if err != nil {
			return nil, err
		}
		event.Kind = types.EventPosition
		event.Latitude, event.Longitude, event.Altitude = values[0], values[1], values[2]
		if err := checkCoordinate(event.Latitude, event.Longitude); err != nil {
			return nil, fmt.Errorf("invalid position: %w", err)
		}

	case KeywordSpeed:
		values, err := expectFloats(keyword, args, 3)
		if err != nil {
			return nil, err
		}
		event.Kind = types.EventSpeed
		event.VX, event.VY, event.VZ = values[0], values[1], values[2]

	case KeywordAttitude:
		values, err := expectFloats(keyword, args, 3)
		if err != nil {
			return nil, err
		}
		event.Kind = types.EventAttitude
		event.Yaw, event.Pitch, event.Roll = values[0], values[1], values[2]

	default:
		return nil, fmt.Errorf("unknown message keyword: %q", fields[0])
	}

	return event, nil
}

func expectFloats(keyword string, args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, fmt.Errorf("invalid %s message: expected %d fields, got %d", keyword, n, len(args))
	}
	values, err := parseFloats(args)
	if err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", keyword, err)
	}
	return values, nil
}

func checkCoordinate(lat, lng float64) error {
	if !(types.Coordinate{Latitude: lat, Longitude: lng}).Valid() {
		return fmt.Errorf("coordinate out of range: %g,%g", lat, lng)
	}
	return nil
}

// parseFloats rejects NaN and infinities, which ParseFloat accepts
func parseFloats(args []string) ([]float64, error) {
	values := make([]float64, len(args))
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("non-finite value %q", arg)
		}
		values[i] = v
	}
	return values, nil
}
