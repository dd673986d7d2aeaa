package entity

import "time"

// IdempotencyRecord resultado almacenado de una operación para (tenant, key).
// Garantiza a lo sumo un efecto lógico por key.
type IdempotencyRecord struct {
	TenantID     string
	Key          string
	Operation    string
	RequestHash  string
	Result       []byte
	ResultDigest string
	MoveIDs      []string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired indica si el registro venció respecto a now.
func (r *IdempotencyRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
