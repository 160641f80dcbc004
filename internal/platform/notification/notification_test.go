package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// fake MQTT client
// ---------------------------------------------------------------------------

type fakeToken struct {
	err      error
	complete bool
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Done() <-chan struct{}          { ch := make(chan struct{}); close(ch); return ch }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	mu    sync.Mutex
	msgs  []published
	token *fakeToken
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) Disconnect(uint) {}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestMQTTPublisher_Publish(t *testing.T) {
	client := &fakeClient{token: &fakeToken{complete: true}}
	p := &MQTTPublisher{client: client, timeout: time.Second}

	evt := Event{
		Type:       InvoiceCreated,
		TenantID:   "t1",
		Subject:    "INV-2512-0001",
		Data:       map[string]any{"total": 1062.0},
		OccurredAt: time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(client.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(client.msgs))
	}
	msg := client.msgs[0]
	if msg.topic != "mediclo/t1/invoice.created" {
		t.Errorf("topic = %s", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}
	var got Event
	if err := json.Unmarshal(msg.payload, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got.Subject != "INV-2512-0001" || got.TenantID != "t1" {
		t.Errorf("payload = %+v", got)
	}
}

func TestMQTTPublisher_Failures(t *testing.T) {
	timeout := &MQTTPublisher{client: &fakeClient{token: &fakeToken{complete: false}}, timeout: time.Millisecond}
	if err := timeout.Publish(context.Background(), Event{Type: BackupCreated, TenantID: "t1"}); err == nil {
		t.Error("expected timeout error")
	}

	broken := &MQTTPublisher{client: &fakeClient{token: &fakeToken{complete: true, err: errors.New("not connected")}}, timeout: time.Second}
	if err := broken.Publish(context.Background(), Event{Type: BackupCreated, TenantID: "t1"}); err == nil {
		t.Error("expected broker error")
	}
}

func TestLogPublisher_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	_ = p.Publish(context.Background(), Event{Type: BackupRestored, TenantID: "t1"})

	out := buf.String()
	if !strings.Contains(out, `"event":"backup.restored"`) || !strings.Contains(out, `"tenant_id":"t1"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestEmit_LogsFailureAndStampsTime(t *testing.T) {
	var buf bytes.Buffer
	rec := &Recorder{Err: errors.New("broker down")}

	Emit(context.Background(), rec, zerolog.New(&buf), Event{Type: TenantRegistered, TenantID: "t1"})

	events := rec.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 recorded event, got %d", len(events))
	}
	if events[0].OccurredAt.IsZero() {
		t.Error("expected OccurredAt to be stamped")
	}
	if !strings.Contains(buf.String(), "publish event failed") {
		t.Errorf("expected failure to be logged, got %s", buf.String())
	}
}

func TestEmit_NilPublisher(t *testing.T) {
	Emit(context.Background(), nil, zerolog.Nop(), Event{Type: TenantRegistered})
}

func TestRecorder_OfType(t *testing.T) {
	rec := &Recorder{}
	_ = rec.Publish(context.Background(), Event{Type: BackupCreated})
	_ = rec.Publish(context.Background(), Event{Type: InvoiceCreated})
	_ = rec.Publish(context.Background(), Event{Type: BackupCreated})

	if got := len(rec.OfType(BackupCreated)); got != 2 {
		t.Errorf("OfType(BackupCreated) = %d, want 2", got)
	}
}
