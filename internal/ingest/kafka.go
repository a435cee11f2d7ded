package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"faceguard/internal/config"
	"faceguard/internal/metrics"
	"faceguard/internal/model"
)

// MessageReader is the part of kafka.Reader the source needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaSource reads frame messages from a topic and submits them to the
// frame pool. Bad messages are logged and skipped.
type KafkaSource struct {
	open   func() MessageReader
	submit Submitter
	logger *slog.Logger
}

func NewKafkaSource(cfg config.KafkaConfig, submit Submitter, logger *slog.Logger) *KafkaSource {
	open := func() MessageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 1e3,
			MaxBytes: 10e6,
		})
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	return NewKafkaSourceWithReader(open, submit, logger)
}

func NewKafkaSourceWithReader(open func() MessageReader, submit Submitter, logger *slog.Logger) *KafkaSource {
	return &KafkaSource{open: open, submit: submit, logger: logger}
}

func (k *KafkaSource) String() string {
	return "kafka-ingest"
}

// Serve reads until ctx is done.
func (k *KafkaSource) Serve(ctx context.Context) error {
	reader := k.open()
	defer reader.Close()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.IngestMessagesTotal.WithLabelValues("read_error").Inc()
			if k.logger != nil {
				k.logger.Warn("kafka read error", "err", err)
			}
			if !BackoffSleep(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}
		in, err := DecodeFrame(m.Value)
		if err != nil {
			metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
			if k.logger != nil {
				k.logger.Warn("kafka frame decode error", "partition", m.Partition, "offset", m.Offset, "err", err)
			}
			continue
		}
		if err := k.submit.Submit(ctx, in, k.report(in)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.IngestMessagesTotal.WithLabelValues("dropped").Inc()
			if k.logger != nil {
				k.logger.Warn("kafka frame submit failed", "session_id", in.SessionID, "err", err)
			}
			continue
		}
		metrics.IngestMessagesTotal.WithLabelValues("accepted").Inc()
	}
}

func (k *KafkaSource) report(in model.FrameInput) func(model.FrameResult, error) {
	return func(_ model.FrameResult, err error) {
		if err != nil && k.logger != nil {
			k.logger.Warn("kafka frame rejected", "session_id", in.SessionID, "seq", in.Seq, "err", err)
		}
	}
}
