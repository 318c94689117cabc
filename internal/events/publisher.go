package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	TypeDeviceStatus      = "device.status"
	TypeFirmwareAdded     = "firmware.added"
	TypeAlertAcknowledged = "alert.acknowledged"
	TypeDeploymentPrefix  = "deployment."

	source = "iot-shield/server"
)

// Event is a fleet state change. Type doubles as the subject suffix.
type Event struct {
	Type string
	Data any
}

// Envelope is the CloudEvents-style wire form of an Event.
type Envelope struct {
	SpecVersion     string    `json:"specversion"`
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	Type            string    `json:"type"`
	Subject         string    `json:"subject"`
	Time            time.Time `json:"time"`
	DataContentType string    `json:"datacontenttype"`
	Data            any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Emit publishes event and logs instead of failing: losing a
// notification must never undo a fleet mutation.
func Emit(ctx context.Context, p Publisher, eventType string, data any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, Event{Type: eventType, Data: data}); err != nil {
		slog.Warn("Failed to publish fleet event", "type", eventType, "error", err)
	}
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// natsConn is the subset of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	conn   natsConn
	prefix string
	now    func() time.Time
	close  func()
}

func NewNATSPublisher(conn natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "iotshield"
	}
	return &NATSPublisher{
		conn:   conn,
		prefix: prefix,
		now:    time.Now,
		close:  func() {},
	}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("iot-shield-server"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	slog.Info("Connected to NATS", "url", nc.ConnectedUrl(), "subject_prefix", prefix)

	p := NewNATSPublisher(nc, prefix)
	p.close = func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("Failed to drain NATS connection", "error", err)
		}
	}
	return p, nil
}

func (p *NATSPublisher) Subject(eventType string) string {
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := p.Subject(event.Type)
	envelope := Envelope{
		SpecVersion:     "1.0",
		ID:              uuid.NewString(),
		Source:          source,
		Type:            "io.iotshield." + event.Type,
		Subject:         subject,
		Time:            p.now().UTC(),
		DataContentType: "application/json",
		Data:            event.Data,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.Type, err)
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	slog.Debug("Published fleet event", "subject", subject, "id", envelope.ID)
	return nil
}

func (p *NATSPublisher) Close() {
	p.close()
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types lists the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
