package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jhoicas/stock-ledger/internal/application/outbox"
)

// KafkaConfig destino del relay.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// KafkaBus publica en un tópico particionando por clave de agregado; espera el ack de todas las réplicas.
type KafkaBus struct {
	writer *kafka.Writer
}

var _ outbox.MessageBus = (*KafkaBus)(nil)

func NewKafkaBus(cfg KafkaConfig) *KafkaBus {
	return &KafkaBus{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Transport:    &kafka.Transport{ClientID: cfg.ClientID},
	}}
}

// Publish escribe de forma síncrona; retorna error si el broker no confirmó.
func (b *KafkaBus) Publish(ctx context.Context, msgs ...outbox.Message) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km := kafka.Message{Key: []byte(m.Key), Value: m.Value}
		for k, v := range m.Headers {
			km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}
		out = append(out, km)
	}
	if err := b.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}
