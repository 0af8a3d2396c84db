// Package kafka publishes goGate audit events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goGate "github.com/MrEthical07/goGate"
	kafkago "github.com/segmentio/kafka-go"
)

// DefaultTopic is used when Config.Topic is empty.
const DefaultTopic = "gogate-audit"

const defaultWriteTimeout = 5 * time.Second

var ErrNoBrokers = errors.New("kafka audit sink: no brokers")

// MessageWriter is the part of *kafkago.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config selects the cluster and topic.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	BatchTimeout time.Duration
}

// Sink implements goGate.AuditSink. Each event becomes one JSON message keyed
// by subject, so events of one subject land on one partition in order.
type Sink struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewSink dials nothing; kafka-go connects lazily on the first write.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 50 * time.Millisecond
	}
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		BatchTimeout:           batch,
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return NewSinkWithWriter(w, cfg.WriteTimeout, logger), nil
}

// NewSinkWithWriter wraps an existing writer.
func NewSinkWithWriter(w MessageWriter, timeout time.Duration, logger *slog.Logger) *Sink {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{writer: w, timeout: timeout, logger: logger}
}

// Emit serializes event and writes it. Failures are logged and dropped; the
// dispatcher never retries.
func (s *Sink) Emit(ctx context.Context, event goGate.AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("goGate: audit encode failed", "event", event.EventType, "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	msg := kafkago.Message{
		Key:   []byte(event.Subject),
		Value: payload,
		Time:  event.Timestamp,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	if err := s.writer.WriteMessages(writeCtx, msg); err != nil {
		s.logger.Warn("goGate: kafka audit write failed", "event", event.EventType, "error", err)
	}
}

// Close flushes pending batches. Safe on a nil sink.
func (s *Sink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
