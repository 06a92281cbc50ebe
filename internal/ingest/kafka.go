package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"rescuefusion/internal/config"
	"rescuefusion/internal/model"
)

// StartKafka reads vision frames from the configured topic and queues them for the
// orchestrator workers.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.VisionFrame, dropped DropCounter, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			f, err := DecodeKafkaFrame(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka frame decode error", "partition", m.Partition, "offset", m.Offset, "error", err)
				}
				continue
			}
			f.ReceivedAt = time.Now().UTC()
			SendNonBlocking(ctx, out, f, dropped, logger)
		}
	}()
}
