package messaging

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/application/outbox"
)

// LogBus bus sin broker: registra cada mensaje y lo conserva en memoria.
// Se usa cuando no hay KAFKA_BROKERS configurados y en pruebas.
type LogBus struct {
	log zerolog.Logger

	mu   sync.Mutex
	sent []outbox.Message
	fail error
}

var _ outbox.MessageBus = (*LogBus)(nil)

func NewLogBus(log zerolog.Logger) *LogBus {
	return &LogBus{log: log}
}

func (b *LogBus) Publish(_ context.Context, msgs ...outbox.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail != nil {
		return b.fail
	}
	for _, m := range msgs {
		b.log.Info().
			Str("key", m.Key).
			Str("event_id", m.Headers[outbox.HeaderEventID]).
			Str("event_type", m.Headers[outbox.HeaderEventType]).
			RawJSON("payload", m.Value).
			Msg("evento publicado")
		b.sent = append(b.sent, m)
	}
	return nil
}

// SetFail hace fallar cada Publish con err (nil restablece).
func (b *LogBus) SetFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

// Sent copia de los mensajes publicados.
func (b *LogBus) Sent() []outbox.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]outbox.Message(nil), b.sent...)
}

func (b *LogBus) Close() error { return nil }
