package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/saviobatista/flight-registrar/internal/capture"
	"github.com/saviobatista/flight-registrar/internal/config"
	"github.com/saviobatista/flight-registrar/internal/logging"
	"github.com/saviobatista/flight-registrar/internal/nats"
	"github.com/saviobatista/flight-registrar/internal/parser"
	"github.com/saviobatista/flight-registrar/internal/types"
)

// EventPublisher interface for testability
type EventPublisher interface {
	PublishEvent(event *types.ControllerEvent) error
}

// counters summarises what a bridge run forwarded
type counters struct {
	Published int
	Ignored   int
	Rejected  int
	Failed    int
}

// forward parses every captured line and publishes the resulting events
// until the message channel is closed
func forward(msgs <-chan capture.Message, publisher EventPublisher) counters {
	var c counters
	for msg := range msgs {
		event, err := parser.ParseEvent(string(msg.Data), msg.Timestamp, msg.Source)
		if err != nil {
			c.Rejected++
			log.Printf("Warning: Rejected line from %s: %v", msg.Source, err)
			continue
		}
		if event == nil {
			c.Ignored++
			continue
		}
		if err := publisher.PublishEvent(event); err != nil {
			c.Failed++
			log.Printf("Failed to publish %s event: %v", event.Kind, err)
			continue
		}
		c.Published++
	}
	return c
}

func main() {
	sources, natsURL, err := config.LoadSources()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	logFile, maxSizeMB, maxAgeDays, err := config.LoadLogging()
	if err != nil {
		log.Printf("Failed to load logging configuration: %v", err)
		os.Exit(1)
	}
	closer := logging.Setup("bridge", logFile, maxSizeMB, maxAgeDays)
	defer closer.Close()

	client, err := nats.New(natsURL)
	if err != nil {
		log.Printf("Failed to create NATS client: %v", err)
		os.Exit(1)
	}
	defer client.Close()

	feeds := capture.New(sources)
	if err := feeds.Start(); err != nil {
		log.Printf("Failed to start capture: %v", err)
		os.Exit(1)
	}

	done := make(chan counters, 1)
	go func() {
		done <- forward(feeds.Messages(), client)
	}()

	log.Printf("Bridging %d feed(s) to %s", len(sources), natsURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	feeds.Stop()
	c := <-done
	log.Printf("Published %d events (%d ignored, %d rejected, %d failed)", c.Published, c.Ignored, c.Rejected, c.Failed)
}
