package nats

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/saviobatista/flight-registrar/internal/types"
)

const (
	SubjectEvents          = "flightctl.events"
	SubjectTelemetryPrefix = "telemetry."
	SubjectTelemetryAll    = "telemetry.>"
	SubjectNotices         = "registrar.notices"

	StreamEvents    = "FLIGHTCTL"
	StreamTelemetry = "TELEMETRY"

	// ConsumerRecorder keeps the recorder's position in the telemetry
	// stream across restarts
	ConsumerRecorder = "recorder"
)

// Client represents a NATS client
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to NATS and makes sure the event and telemetry streams exist
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	streams := []*nats.StreamConfig{
		{
			Name:     StreamEvents,
			Subjects: []string{SubjectEvents},
			Storage:  nats.FileStorage,
			MaxAge:   24 * time.Hour,
		},
		{
			Name:     StreamTelemetry,
			Subjects: []string{SubjectTelemetryAll},
			Storage:  nats.FileStorage,
			MaxAge:   7 * 24 * time.Hour,
		},
	}
	for _, cfg := range streams {
		if err := ensureStream(js, cfg); err != nil {
			nc.Close()
			return nil, err
		}
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

func ensureStream(js nats.JetStreamContext, cfg *nats.StreamConfig) error {
	_, err := js.AddStream(cfg)
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	return nil
}

// TelemetrySubject returns the subject a telemetry sample of the given kind is published on
func TelemetrySubject(kind types.TelemetryKind) string {
	return SubjectTelemetryPrefix + string(kind)
}

// PublishEvent publishes a flight-controller event
func (c *Client) PublishEvent(event *types.ControllerEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := c.js.Publish(SubjectEvents, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SubscribeEvents delivers flight-controller events published from now on.
// Stored events are not replayed so a restart cannot repeat a takeoff.
func (c *Client) SubscribeEvents(handler func(*types.ControllerEvent)) error {
	_, err := c.js.Subscribe(SubjectEvents, func(msg *nats.Msg) {
		var event types.ControllerEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("Error unmarshaling event: %v", err)
			return
		}
		handler(&event)
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to events: %w", err)
	}
	return nil
}

// PublishTelemetry publishes a telemetry sample for an active flight
func (c *Client) PublishTelemetry(sample *types.Telemetry) error {
	if sample.Kind == "" {
		return fmt.Errorf("telemetry sample has no kind")
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal telemetry: %w", err)
	}

	if _, err := c.js.Publish(TelemetrySubject(sample.Kind), data); err != nil {
		return fmt.Errorf("failed to publish telemetry: %w", err)
	}
	return nil
}

// SubscribeTelemetry delivers every telemetry sample kind. It binds the
// durable recorder consumer, so a restarted subscriber resumes after the
// last acknowledged sample instead of replaying the stream.
func (c *Client) SubscribeTelemetry(handler func(*types.Telemetry)) error {
	_, err := c.js.Subscribe(SubjectTelemetryAll, func(msg *nats.Msg) {
		var sample types.Telemetry
		if err := json.Unmarshal(msg.Data, &sample); err != nil {
			log.Printf("Error unmarshaling telemetry: %v", err)
			return
		}
		handler(&sample)
	}, telemetrySubOpts()...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to telemetry: %w", err)
	}
	return nil
}

func telemetrySubOpts() []nats.SubOpt {
	return []nats.SubOpt{
		nats.Durable(ConsumerRecorder),
		nats.DeliverAll(),
		nats.AckExplicit(),
	}
}

// PublishNotice broadcasts a user-visible notice; notices are not persisted
func (c *Client) PublishNotice(notice *types.Notice) error {
	data, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	if err := c.conn.Publish(SubjectNotices, data); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	return nil
}

// SubscribeNotices delivers notices published while subscribed
func (c *Client) SubscribeNotices(handler func(*types.Notice)) error {
	_, err := c.conn.Subscribe(SubjectNotices, func(msg *nats.Msg) {
		var notice types.Notice
		if err := json.Unmarshal(msg.Data, &notice); err != nil {
			log.Printf("Error unmarshaling notice: %v", err)
			return
		}
		handler(&notice)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to notices: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}
