package broadcast

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"rescuefusion/internal/config"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka writes every event to one topic keyed by event topic, so events of one
// survivor stay on one partition.
type Kafka struct {
	writer messageWriter
}

func NewKafka(cfg config.KafkaBroadcastConfig) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (k *Kafka) Publish(ctx context.Context, ev Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.Topic),
		Value: data,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return eris.Wrapf(err, "kafka publish %s", ev.Topic)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
