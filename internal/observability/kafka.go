package observability

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes analytics events to a topic. The writer runs in async
// mode so Record never waits on the brokers.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(_ []kafka.Message, err error) {
				if err != nil {
					log.Warn().Err(err).Msg("analytics publish failed")
				}
			},
		},
	}, nil
}

func (k *KafkaSink) Record(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	// keyed by service so one service's events stay ordered
	msg := kafka.Message{Key: []byte(e.Dimensions.ServiceID), Value: payload, Time: e.Time}
	if err := k.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		log.Warn().Err(err).Str("action", e.Action).Msg("analytics enqueue failed")
	}
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
