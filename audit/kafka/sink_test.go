package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	goGate "github.com/MrEthical07/goGate"
	kafkago "github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
	ctxErr error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctxErr = ctx.Err()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestSinkWritesJSONKeyedBySubject(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSinkWithWriter(w, time.Second, nil)

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sink.Emit(context.Background(), goGate.AuditEvent{
		Timestamp: at,
		EventType: "login_success",
		Subject:   "u-1",
		TokenID:   "jti-1",
		Success:   true,
	})

	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "u-1" {
		t.Fatalf("expected subject key, got %q", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Fatalf("expected message time %v, got %v", at, msg.Time)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "login_success" {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	var decoded goGate.AuditEvent
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.EventType != "login_success" || decoded.TokenID != "jti-1" || !decoded.Success {
		t.Fatalf("unexpected payload %+v", decoded)
	}
}

func TestSinkLogsWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	w := &fakeWriter{err: errors.New("broker down")}
	sink := NewSinkWithWriter(w, time.Second, logger)

	sink.Emit(context.Background(), goGate.AuditEvent{EventType: "logout"})

	if !strings.Contains(buf.String(), "broker down") {
		t.Fatalf("expected write failure to be logged, got %q", buf.String())
	}
}

func TestSinkIgnoresCallerCancellation(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSinkWithWriter(w, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, goGate.AuditEvent{EventType: "logout"})

	if w.ctxErr != nil {
		t.Fatalf("expected write context to survive caller cancellation, got %v", w.ctxErr)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
}

func TestSinkSatisfiesAuditSink(t *testing.T) {
	w := &fakeWriter{}
	var sink goGate.AuditSink = NewSinkWithWriter(w, time.Second, nil)
	sink.Emit(context.Background(), goGate.AuditEvent{EventType: "session_evicted", Subject: "u-2"})
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "u-2" {
		t.Fatalf("unexpected messages %+v", w.msgs)
	}
}

func TestNewSinkRequiresBrokers(t *testing.T) {
	if _, err := NewSink(Config{}, nil); !errors.Is(err, ErrNoBrokers) {
		t.Fatalf("expected ErrNoBrokers, got %v", err)
	}
	sink, err := NewSink(Config{Brokers: []string{"127.0.0.1:9092"}}, nil)
	if err != nil {
		t.Fatalf("NewSink failed: %v", err)
	}
	kw, ok := sink.writer.(*kafkago.Writer)
	if !ok {
		t.Fatalf("expected *kafka.Writer, got %T", sink.writer)
	}
	if kw.Topic != DefaultTopic {
		t.Fatalf("expected default topic, got %q", kw.Topic)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCloseClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	sink := NewSinkWithWriter(w, 0, nil)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !w.closed {
		t.Fatal("expected writer to be closed")
	}

	var nilSink *Sink
	if err := nilSink.Close(); err != nil {
		t.Fatalf("nil Close failed: %v", err)
	}
}
