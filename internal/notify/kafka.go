package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"faceguard/internal/config"
	"faceguard/internal/model"
)

// MessageWriter is the part of kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes alerts to a topic for downstream email/SMS
// delivery, keyed by session so one session's alerts stay ordered.
type KafkaNotifier struct {
	w        MessageWriter
	channels []string
}

func NewKafkaNotifier(cfg config.KafkaNotify) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaNotifierWithWriter(w, cfg.Channels)
}

func NewKafkaNotifierWithWriter(w MessageWriter, channels []string) *KafkaNotifier {
	return &KafkaNotifier{w: w, channels: append([]string(nil), channels...)}
}

func (n *KafkaNotifier) Name() string { return "kafka" }

func (n *KafkaNotifier) Channels() []string { return n.channels }

func (n *KafkaNotifier) Notify(ctx context.Context, a model.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return n.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(a.Severity)},
			{Key: "alert_type", Value: []byte(a.Type)},
		},
	})
}

func (n *KafkaNotifier) Close() error {
	return n.w.Close()
}
