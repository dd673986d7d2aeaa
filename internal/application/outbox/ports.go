package outbox

import "context"

// Message evento listo para el bus. Key agrupa por agregado para conservar el orden por clave.
type Message struct {
	Key     string
	Value   []byte
	Headers map[string]string
}

// MessageBus publica mensajes y retorna solo tras la confirmación del broker.
type MessageBus interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}
