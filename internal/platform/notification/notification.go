// Package notification publishes domain events (invoice created, backup
// restored, ...) to an MQTT broker or to the structured log. Publishing is
// best effort: failures are logged and never fail the originating operation.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType names a domain event.
type EventType string

const (
	TenantRegistered EventType = "tenant.registered"
	PasswordReset    EventType = "password.reset"
	InvoiceCreated   EventType = "invoice.created"
	BackupCreated    EventType = "backup.created"
	BackupRestored   EventType = "backup.restored"
	BackupsSwept     EventType = "backup.swept"
)

// Event is one published domain event.
type Event struct {
	Type       EventType      `json:"type"`
	TenantID   string         `json:"tenantId"`
	Subject    string         `json:"subject,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Emit stamps evt and publishes it, logging instead of returning failures.
func Emit(ctx context.Context, pub Publisher, logger zerolog.Logger, evt Event) {
	if pub == nil {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).
			Str("event", string(evt.Type)).
			Str("tenant_id", evt.TenantID).
			Msg("publish event failed")
	}
}

// ---------------------------------------------------------------------------
// Nop / Log publishers
// ---------------------------------------------------------------------------

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "events").Logger()}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event", string(evt.Type)).
		Str("tenant_id", evt.TenantID).
		Str("subject", evt.Subject).
		Interface("data", evt.Data).
		Time("occurred_at", evt.OccurredAt).
		Msg("domain event")
	return nil
}

// ---------------------------------------------------------------------------
// MQTT publisher
// ---------------------------------------------------------------------------

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

// mqttClient is the subset of mqtt.Client used for publishing.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes events as JSON to mediclo/{tenantId}/{type} at QoS 1.
type MQTTPublisher struct {
	client  mqttClient
	timeout time.Duration
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", token.Error())
	}
	return &MQTTPublisher{client: client, timeout: 5 * time.Second}, nil
}

// Topic returns the topic an event is published on.
func Topic(evt Event) string {
	return fmt.Sprintf("mediclo/%s/%s", evt.TenantID, evt.Type)
}

func (p *MQTTPublisher) Publish(_ context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	token := p.client.Publish(Topic(evt), 1, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timed out", evt.Type)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// ---------------------------------------------------------------------------
// Recorder (test double)
// ---------------------------------------------------------------------------

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.Err
}

// Events returns a copy of recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
