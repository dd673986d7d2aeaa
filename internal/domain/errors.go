package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrDuplicate    = errors.New("recurso duplicado")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// Taxonomía del ledger de stock.
	ErrInsufficientStock       = errors.New("stock insuficiente")
	ErrInsufficientLayers      = errors.New("capas de valoración insuficientes")
	ErrLockTimeout             = errors.New("tiempo de espera del bloqueo agotado")
	ErrConcurrentModification  = errors.New("modificación concurrente detectada")
	ErrInvalidTransition       = errors.New("transición de estado inválida")
	ErrValuationMethodMismatch = errors.New("método de valoración inconsistente")
	ErrIdempotencyKeyRequired  = errors.New("idempotency key requerida")
	ErrIdempotencyKeyReused    = errors.New("idempotency key reutilizada con otro contenido")
)

// Kind es el código estable de la taxonomía que ven los clientes.
type Kind string

const (
	KindNotFound                Kind = "NOT_FOUND"
	KindValidation              Kind = "VALIDATION"
	KindDuplicate               Kind = "DUPLICATE"
	KindUnauthorized            Kind = "UNAUTHORIZED"
	KindForbidden               Kind = "FORBIDDEN"
	KindConflict                Kind = "CONFLICT"
	KindInsufficientStock       Kind = "INSUFFICIENT_STOCK"
	KindInsufficientLayers      Kind = "INSUFFICIENT_LAYERS"
	KindLockTimeout             Kind = "LOCK_TIMEOUT"
	KindConcurrentModification  Kind = "CONCURRENT_MODIFICATION"
	KindInvalidTransition       Kind = "INVALID_TRANSITION"
	KindValuationMethodMismatch Kind = "VALUATION_METHOD_MISMATCH"
	KindIdempotencyKeyRequired  Kind = "IDEMPOTENCY_KEY_REQUIRED"
	KindIdempotencyKeyReused    Kind = "IDEMPOTENCY_KEY_REUSED"
	KindInternal                Kind = "INTERNAL"
)

var kindBySentinel = map[error]Kind{
	ErrNotFound:                KindNotFound,
	ErrInvalidInput:            KindValidation,
	ErrDuplicate:               KindDuplicate,
	ErrUnauthorized:            KindUnauthorized,
	ErrForbidden:               KindForbidden,
	ErrConflict:                KindConflict,
	ErrInsufficientStock:       KindInsufficientStock,
	ErrInsufficientLayers:      KindInsufficientLayers,
	ErrLockTimeout:             KindLockTimeout,
	ErrConcurrentModification:  KindConcurrentModification,
	ErrInvalidTransition:       KindInvalidTransition,
	ErrValuationMethodMismatch: KindValuationMethodMismatch,
	ErrIdempotencyKeyRequired:  KindIdempotencyKeyRequired,
	ErrIdempotencyKeyReused:    KindIdempotencyKeyReused,
}

// Error es el error estructurado del ledger: tipo de la taxonomía más la clave afectada
// (normalmente tenant/bodega/producto o el id del movimiento).
type Error struct {
	Kind   Kind
	Key    string
	Detail string
	Err    error
}

// NewError envuelve un sentinel con la clave afectada y un detalle legible.
func NewError(sentinel error, key, detail string) *Error {
	kind, ok := kindBySentinel[sentinel]
	if !ok {
		kind = KindInternal
	}
	return &Error{Kind: kind, Key: key, Detail: detail, Err: sentinel}
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Key)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf devuelve el tipo de la taxonomía de cualquier error de la cadena.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for sentinel, kind := range kindBySentinel {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindInternal
}

// KeyOf devuelve la clave afectada si el error es estructurado.
func KeyOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Key
	}
	return ""
}

// IsRetryable indica errores transitorios que el llamador puede reintentar con backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrConcurrentModification)
}

// IsIntegrity indica errores de integridad: abortan la transacción y nunca se corrigen en silencio.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrInsufficientLayers) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrValuationMethodMismatch)
}
