package entity

import "time"

// OutboxStatus estado de entrega de un evento.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxPublished OutboxStatus = "published"
	OutboxFailed    OutboxStatus = "failed"
)

// Tipos de evento publicados al bus.
const (
	EventStockIncreased           = "stock.increased"
	EventStockDecreased           = "stock.decreased"
	EventStockLowThresholdCrossed = "stock.low_threshold_crossed"
	EventStockReserved            = "stock.reserved"
	EventStockReservationReleased = "stock.reservation_released"

	AggregateTypeInventoryLevel = "inventory_level"
)

// OutboxEvent fila de la bandeja de salida, escrita en la misma transacción que su causa.
// Los cambios de estado son la única mutación permitida.
type OutboxEvent struct {
	ID            string
	TenantID      string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// MarkPublished registra la confirmación del bus.
func (e *OutboxEvent) MarkPublished(at time.Time) {
	e.Status = OutboxPublished
	e.PublishedAt = &at
	e.LastError = ""
}

// MarkAttemptFailed registra un intento fallido. Programa el reintento con backoff
// exponencial o pasa a failed al agotar maxAttempts. Devuelve true si quedó en failed.
func (e *OutboxEvent) MarkAttemptFailed(errMsg string, maxAttempts int, baseBackoff time.Duration, now time.Time) bool {
	e.Attempts++
	e.LastError = errMsg
	if e.Attempts >= maxAttempts {
		e.Status = OutboxFailed
		return true
	}
	e.Status = OutboxPending
	e.NextAttemptAt = now.Add(baseBackoff * time.Duration(1<<(e.Attempts-1)))
	return false
}

// Requeue devuelve un evento fallido a pending (acción de operador desde la vista dead-letter).
func (e *OutboxEvent) Requeue(now time.Time) bool {
	if e.Status != OutboxFailed {
		return false
	}
	e.Status = OutboxPending
	e.Attempts = 0
	e.NextAttemptAt = now
	return true
}

// Clone copia profunda.
func (e *OutboxEvent) Clone() *OutboxEvent {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.PublishedAt != nil {
		t := *e.PublishedAt
		c.PublishedAt = &t
	}
	return &c
}
