package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/saviobatista/flight-registrar/internal/config"
	"github.com/saviobatista/flight-registrar/internal/logging"
	"github.com/saviobatista/flight-registrar/internal/nats"
	"github.com/saviobatista/flight-registrar/internal/storage"
	"github.com/saviobatista/flight-registrar/internal/types"
)

// RecordWriter interface for testability
type RecordWriter interface {
	WriteRecord(v interface{}) error
}

// RecordSource interface for testability
type RecordSource interface {
	SubscribeTelemetry(handler func(*types.Telemetry)) error
	SubscribeNotices(handler func(*types.Notice)) error
}

// subscribe archives telemetry and notices as JSON lines
func subscribe(source RecordSource, telemetry, notices RecordWriter) error {
	if err := source.SubscribeTelemetry(func(sample *types.Telemetry) {
		if err := telemetry.WriteRecord(sample); err != nil {
			log.Printf("Failed to write telemetry for flight %s: %v", sample.FlightID, err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}

	if err := source.SubscribeNotices(func(n *types.Notice) {
		log.Printf("[%s] %s", n.Level, n.Message)
		if err := notices.WriteRecord(n); err != nil {
			log.Printf("Failed to write notice: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to notices: %w", err)
	}
	return nil
}

func main() {
	if err := runRecorder(); err != nil {
		log.Printf("Recorder failed: %v", err)
		os.Exit(1)
	}
}

// runRecorder contains the main application logic
func runRecorder() error {
	natsURL, outputDir := config.LoadRecorder()
	logFile, maxSizeMB, maxAgeDays, err := config.LoadLogging()
	if err != nil {
		return fmt.Errorf("failed to load logging configuration: %w", err)
	}
	closer := logging.Setup("recorder", logFile, maxSizeMB, maxAgeDays)
	defer closer.Close()

	telemetry := storage.New(outputDir, "telemetry")
	if err := telemetry.Start(); err != nil {
		return fmt.Errorf("failed to start telemetry storage: %w", err)
	}
	defer stopStorage(telemetry)

	notices := storage.New(outputDir, "notices")
	if err := notices.Start(); err != nil {
		return fmt.Errorf("failed to start notice storage: %w", err)
	}
	defer stopStorage(notices)

	client, err := nats.New(natsURL)
	if err != nil {
		return fmt.Errorf("failed to create NATS client: %w", err)
	}
	// closed before the storages so no handler writes to a stopped file
	defer client.Close()

	if err := subscribe(client, telemetry, notices); err != nil {
		return err
	}

	log.Printf("Recording telemetry to %s", outputDir)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	return nil
}

func stopStorage(s *storage.Storage) {
	if err := s.Stop(); err != nil {
		log.Printf("Warning: Failed to close storage: %v", err)
	}
}
