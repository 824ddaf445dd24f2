package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	natscontainer "github.com/testcontainers/testcontainers-go/modules/nats"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/saviobatista/flight-registrar/internal/nats"
	"github.com/saviobatista/flight-registrar/internal/storage"
	"github.com/saviobatista/flight-registrar/internal/testutils"
	"github.com/saviobatista/flight-registrar/internal/types"
)

// UNIT TESTS WITH MOCKS (Fast)

type mockWriter struct {
	mu      sync.Mutex
	records []interface{}
	err     error
}

func (m *mockWriter) WriteRecord(v interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, v)
	return nil
}

type mockSource struct {
	telemetry    func(*types.Telemetry)
	notices      func(*types.Notice)
	telemetryErr error
	noticesErr   error
}

func (m *mockSource) SubscribeTelemetry(handler func(*types.Telemetry)) error {
	if m.telemetryErr != nil {
		return m.telemetryErr
	}
	m.telemetry = handler
	return nil
}

func (m *mockSource) SubscribeNotices(handler func(*types.Notice)) error {
	if m.noticesErr != nil {
		return m.noticesErr
	}
	m.notices = handler
	return nil
}

func TestSubscribe(t *testing.T) {
	source := &mockSource{}
	telemetry := &mockWriter{}
	notices := &mockWriter{}

	if err := subscribe(source, telemetry, notices); err != nil {
		t.Fatalf("subscribe() failed: %v", err)
	}

	source.telemetry(&types.Telemetry{FlightID: "flight|A", Kind: types.TelemetryPosition, Latitude: 34.02})
	source.telemetry(&types.Telemetry{FlightID: "flight|A", Kind: types.TelemetrySpeed, VX: 1})
	source.notices(&types.Notice{Level: "info", Message: "Flight submitted to registry"})

	if len(telemetry.records) != 2 {
		t.Errorf("Expected 2 telemetry records, got %d", len(telemetry.records))
	}
	if len(notices.records) != 1 {
		t.Errorf("Expected 1 notice record, got %d", len(notices.records))
	}
}

func TestSubscribe_WriteErrors(t *testing.T) {
	source := &mockSource{}
	failing := &mockWriter{err: errors.New("disk full")}

	if err := subscribe(source, failing, failing); err != nil {
		t.Fatalf("subscribe() failed: %v", err)
	}

	// write failures are logged, not fatal
	source.telemetry(&types.Telemetry{FlightID: "flight|A", Kind: types.TelemetryAttitude})
	source.notices(&types.Notice{Level: "error", Message: "Failed to end flight"})
}

func TestSubscribe_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source *mockSource
	}{
		{name: "telemetry", source: &mockSource{telemetryErr: errors.New("stream not found")}},
		{name: "notices", source: &mockSource{noticesErr: errors.New("connection closed")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := subscribe(tt.source, &mockWriter{}, &mockWriter{}); err == nil {
				t.Error("Expected error, got none")
			}
		})
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open %s: %v", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestSubscribe_ToStorage(t *testing.T) {
	dir := t.TempDir()
	telemetry := storage.New(dir, "telemetry")
	if err := telemetry.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	notices := storage.New(dir, "notices")
	if err := notices.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	source := &mockSource{}
	if err := subscribe(source, telemetry, notices); err != nil {
		t.Fatalf("subscribe() failed: %v", err)
	}
	source.telemetry(&types.Telemetry{FlightID: "flight|A", Kind: types.TelemetryPosition, Latitude: 34.0195, Longitude: -118.4912})
	source.notices(&types.Notice{Level: "info", Message: "Flight ended on registry", FlightID: "flight|A"})

	if err := telemetry.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := notices.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	lines := readLines(t, telemetry.FileName(time.Now()))
	if len(lines) != 1 {
		t.Fatalf("Expected 1 telemetry line, got %d", len(lines))
	}
	var sample types.Telemetry
	if err := json.Unmarshal([]byte(lines[0]), &sample); err != nil {
		t.Fatalf("Invalid telemetry line %q: %v", lines[0], err)
	}
	if sample.FlightID != "flight|A" || sample.Latitude != 34.0195 {
		t.Errorf("Unexpected sample %+v", sample)
	}

	lines = readLines(t, notices.FileName(time.Now()))
	if len(lines) != 1 {
		t.Fatalf("Expected 1 notice line, got %d", len(lines))
	}
}

// INTEGRATION TESTS WITH TESTCONTAINERS

func TestRecorder_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := natscontainer.Run(ctx, "nats:2.10-alpine",
		testcontainers.WithWaitStrategy(wait.ForLog("Server is ready")),
	)
	if err != nil {
		t.Fatalf("Failed to start NATS container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate NATS container: %v", err)
		}
	}()

	natsURL, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get NATS connection string: %v", err)
	}
	client, err := nats.New(natsURL)
	if err != nil {
		t.Fatalf("Failed to create NATS client: %v", err)
	}
	defer client.Close()

	telemetry := &mockWriter{}
	notices := &mockWriter{}
	if err := subscribe(client, telemetry, notices); err != nil {
		t.Fatalf("subscribe() failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := client.PublishTelemetry(&types.Telemetry{FlightID: "flight|A", Kind: types.TelemetryPosition}); err != nil {
		t.Fatalf("PublishTelemetry() failed: %v", err)
	}
	if err := client.PublishNotice(&types.Notice{Level: "info", Message: "Flight submitted to registry"}); err != nil {
		t.Fatalf("PublishNotice() failed: %v", err)
	}

	count := func(w *mockWriter) int {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.records)
	}
	if err := testutils.WaitForCondition(func() bool {
		return count(telemetry) == 1 && count(notices) == 1
	}, 5*time.Second); err != nil {
		t.Errorf("Expected 1 telemetry and 1 notice record, got %d/%d", count(telemetry), count(notices))
	}
}
