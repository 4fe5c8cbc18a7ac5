package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherKeysByTenant(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	e := New(TypeTenantActivated, "t-1", "sess-1", map[string]string{"subdomain": "acme"})
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "t-1" {
		t.Fatalf("key = %q, want t-1", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != string(TypeTenantActivated) {
		t.Fatalf("headers = %+v", msg.Headers)
	}

	var decoded Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != e.ID || decoded.Data["subdomain"] != "acme" {
		t.Fatalf("decoded = %+v", decoded)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("Close = %v, closed=%v", err, w.closed)
	}
}

func TestKafkaPublisherFallsBackToSessionKey(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)
	if err := p.Publish(context.Background(), New(TypeSignupBillingFailed, "", "sess-9", nil)); err != nil {
		t.Fatal(err)
	}
	if string(w.msgs[0].Key) != "sess-9" {
		t.Fatalf("key = %q, want sess-9", w.msgs[0].Key)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := NewKafkaPublisherWithWriter(&fakeWriter{err: boom})
	err := p.Publish(context.Background(), New(TypeTenantCreated, "t-1", "", nil))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped broker error", err)
	}
}

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	if len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Fatalf("ParseBrokers = %v", got)
	}
	if ParseBrokers("") != nil {
		t.Fatal("empty input should yield nil")
	}
}
