package testutils

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/saviobatista/flight-registrar/internal/types"
)

// MockEventLine builds a raw flight-controller feed line for testing
func MockEventLine(kind string, values ...float64) string {
	fields := []string{kind}
	for _, v := range values {
		fields = append(fields, fmt.Sprintf("%g", v))
	}
	return strings.Join(fields, ",")
}

// MockPositionEvent creates a position event for testing
func MockPositionEvent(lat, lng, alt float64) *types.ControllerEvent {
	return &types.ControllerEvent{
		Kind:      types.EventPosition,
		Latitude:  lat,
		Longitude: lng,
		Altitude:  alt,
		Timestamp: time.Now().UTC(),
		Source:    "test-source",
	}
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	if condition() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
