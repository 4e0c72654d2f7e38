package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/storekeeper/storekeeper/internal/config"
)

func TestNewPublisher(t *testing.T) {
	if _, ok := NewPublisher(config.EventsConfig{}).(Nop); !ok {
		t.Error("disabled events should use the no-op publisher")
	}

	p := NewPublisher(config.EventsConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "t"})
	defer p.Close()
	if _, ok := p.(*KafkaPublisher); !ok {
		t.Errorf("enabled events should use kafka, got %T", p)
	}
}

func TestKafkaPublisher_DoesNotWaitForBroker(t *testing.T) {
	p := NewKafkaPublisher([]string{"127.0.0.1:1"}, "storekeeper.events", "storekeeper-test")

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := p.Publish(context.Background(), New(RequisitionCreated, "req-1", "u-1", nil)); err != nil {
			t.Fatalf("publish to unreachable broker should be queued, got %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publish blocked for %s", elapsed)
	}

	first := p.Close()
	if elapsed := time.Since(start); elapsed > 3*writeTimeout {
		t.Errorf("close took %s", elapsed)
	}

	if err := p.Publish(context.Background(), New(RequisitionCreated, "req-2", "u-1", nil)); err == nil {
		t.Error("expected publish after close to fail")
	}
	if err := p.Close(); err != first {
		t.Errorf("second close should repeat the first result, got %v", err)
	}
}

func TestMessage(t *testing.T) {
	event := New(RequisitionApproved, "req-1", "u-2", map[string]any{"comments": "ok"})

	msg, err := Message(event)
	if err != nil {
		t.Fatalf("failed to build message: %v", err)
	}

	if string(msg.Key) != "req-1" {
		t.Errorf("expected key req-1, got %s", msg.Key)
	}
	if len(msg.Headers) != 2 || string(msg.Headers[0].Value) != RequisitionApproved {
		t.Errorf("unexpected headers %v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("message value is not JSON: %v", err)
	}
	if decoded.ID != event.ID || decoded.Data["comments"] != "ok" {
		t.Errorf("unexpected payload %+v", decoded)
	}
}

func TestNotify(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rec := NewRecorder()
	Notify(ctx, logger, rec, New(RequisitionCreated, "req-1", "u-1", nil))
	Notify(ctx, logger, rec, New(RequisitionReady, "req-1", "u-3", nil))

	if got := rec.Types(); len(got) != 2 || got[0] != RequisitionCreated || got[1] != RequisitionReady {
		t.Errorf("unexpected recorded types %v", got)
	}

	t.Run("Failure is logged", func(t *testing.T) {
		rec.Reset()
		rec.FailWith(errors.New("broker down"))

		Notify(ctx, logger, rec, New(RequisitionCollected, "req-1", "u-3", nil))

		if len(rec.Events()) != 0 {
			t.Error("failed publish should not be recorded")
		}
		if !strings.Contains(buf.String(), "broker down") {
			t.Errorf("expected failure in log, got %q", buf.String())
		}
	})

	t.Run("Nil publisher", func(t *testing.T) {
		Notify(ctx, logger, nil, New(RequisitionCreated, "req-2", "u-1", nil))
	})
}
