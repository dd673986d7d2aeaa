// Package memory implementa los repositorios del ledger en memoria con transacciones
// optimistas. Se usa con APP_STORAGE=memory y en las pruebas.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/stock-ledger/internal/application/inventory"
	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

var _ inventory.TxRunner = (*Store)(nil)

// Store estado confirmado. Las transacciones leen con read-committed y validan versiones al confirmar.
type Store struct {
	mu sync.RWMutex

	moves      map[string]*entity.StockMove
	movesByKey map[entity.StockKey][]string

	levels map[entity.StockKey]*entity.InventoryLevel
	states map[entity.StockKey]*entity.ValuationState

	layers      map[string]*entity.ValuationLayer
	layersByKey map[entity.StockKey][]string
	variances   []*entity.VarianceEntry

	idempotency map[string]*entity.IdempotencyRecord

	outbox      map[string]*entity.OutboxEvent
	outboxOrder []string
	archived    map[string]*entity.OutboxEvent

	now func() time.Time
}

// NewStore crea un almacén vacío.
func NewStore() *Store {
	return &Store{
		moves:       make(map[string]*entity.StockMove),
		movesByKey:  make(map[entity.StockKey][]string),
		levels:      make(map[entity.StockKey]*entity.InventoryLevel),
		states:      make(map[entity.StockKey]*entity.ValuationState),
		layers:      make(map[string]*entity.ValuationLayer),
		layersByKey: make(map[entity.StockKey][]string),
		idempotency: make(map[string]*entity.IdempotencyRecord),
		outbox:      make(map[string]*entity.OutboxEvent),
		archived:    make(map[string]*entity.OutboxEvent),
		now:         time.Now,
	}
}

// WithClock fija el reloj usado para vencimientos (pruebas).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Run ejecuta fn en una transacción; confirma solo si fn no falla y las versiones leídas siguen vigentes.
func (s *Store) Run(ctx context.Context, fn func(ctx context.Context, repos inventory.Repositories) error) error {
	t := newTxn(s, false)
	if err := fn(ctx, t.repositories()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

// Repositories repositorios sin transacción explícita: cada escritura se confirma sola.
func (s *Store) Repositories() inventory.Repositories {
	return newTxn(s, true).repositories()
}

func idemKey(tenantID, key string) string { return tenantID + "\x00" + key }

// txn overlay de escrituras pendientes sobre el Store.
type txn struct {
	s    *Store
	auto bool

	moves        map[string]*entity.StockMove
	newMoves     []string
	statusExpect map[string]entity.MoveStatus

	levels      map[entity.StockKey]*entity.InventoryLevel
	levelExpect map[entity.StockKey]int64
	states      map[entity.StockKey]*entity.ValuationState
	stateExpect map[entity.StockKey]int64

	layers    map[string]*entity.ValuationLayer
	newLayers []string
	variances []*entity.VarianceEntry

	idempotency map[string]*entity.IdempotencyRecord

	outbox    map[string]*entity.OutboxEvent
	newOutbox []string
}

func newTxn(s *Store, auto bool) *txn {
	t := &txn{s: s, auto: auto}
	t.reset()
	return t
}

func (t *txn) reset() {
	t.moves = make(map[string]*entity.StockMove)
	t.newMoves = nil
	t.statusExpect = make(map[string]entity.MoveStatus)
	t.levels = make(map[entity.StockKey]*entity.InventoryLevel)
	t.levelExpect = make(map[entity.StockKey]int64)
	t.states = make(map[entity.StockKey]*entity.ValuationState)
	t.stateExpect = make(map[entity.StockKey]int64)
	t.layers = make(map[string]*entity.ValuationLayer)
	t.newLayers = nil
	t.variances = nil
	t.idempotency = make(map[string]*entity.IdempotencyRecord)
	t.outbox = make(map[string]*entity.OutboxEvent)
	t.newOutbox = nil
}

func (t *txn) repositories() inventory.Repositories {
	return inventory.Repositories{
		Moves:       &moveRepo{t: t},
		Levels:      &levelRepo{t: t},
		Valuation:   &valuationRepo{t: t},
		Idempotency: &idempotencyRepo{t: t},
		Outbox:      &outboxRepo{t: t},
	}
}

// flush confirma de inmediato en modo autocommit.
func (t *txn) flush() error {
	if !t.auto {
		return nil
	}
	return t.commit()
}

func (t *txn) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.validateLocked(); err != nil {
		t.reset()
		return err
	}

	for _, id := range t.newMoves {
		m := t.moves[id]
		s.movesByKey[m.Key()] = append(s.movesByKey[m.Key()], id)
	}
	for id, m := range t.moves {
		c := *m
		s.moves[id] = &c
	}
	for k, l := range t.levels {
		s.levels[k] = l.Clone()
	}
	for k, st := range t.states {
		s.states[k] = st.Clone()
	}
	for _, id := range t.newLayers {
		l := t.layers[id]
		k := entity.StockKey{TenantID: l.TenantID, WarehouseID: l.WarehouseID, ProductID: l.ProductID}
		s.layersByKey[k] = append(s.layersByKey[k], id)
	}
	for id, l := range t.layers {
		s.layers[id] = l.Clone()
	}
	s.variances = append(s.variances, t.variances...)
	for k, r := range t.idempotency {
		c := *r
		s.idempotency[k] = &c
	}
	s.outboxOrder = append(s.outboxOrder, t.newOutbox...)
	for id, e := range t.outbox {
		s.outbox[id] = e.Clone()
	}
	t.reset()
	return nil
}

func (t *txn) validateLocked() error {
	s := t.s
	for k, expected := range t.levelExpect {
		var current int64
		if l, ok := s.levels[k]; ok {
			current = l.Version
		}
		if current != expected {
			return domain.NewError(domain.ErrConcurrentModification, k.String(), "inventory level version changed")
		}
	}
	for k, expected := range t.stateExpect {
		var current int64
		if st, ok := s.states[k]; ok {
			current = st.Version
		}
		if current != expected {
			return domain.NewError(domain.ErrConcurrentModification, k.String(), "valuation state version changed")
		}
	}
	for _, id := range t.newMoves {
		if _, ok := s.moves[id]; ok {
			return domain.NewError(domain.ErrDuplicate, id, "move already exists")
		}
	}
	for id, from := range t.statusExpect {
		m, ok := s.moves[id]
		if !ok || m.Status != from {
			return domain.NewError(domain.ErrConcurrentModification, id, "move status changed")
		}
	}
	// Secuencias: cada append debe continuar el último done confirmado de su clave.
	firstSeq := make(map[entity.StockKey]int64)
	for _, m := range t.moves {
		if !m.IsDone() {
			continue
		}
		if prev, ok := s.moves[m.ID]; ok && prev.IsDone() {
			continue
		}
		if cur, ok := firstSeq[m.Key()]; !ok || m.Sequence < cur {
			firstSeq[m.Key()] = m.Sequence
		}
	}
	for k, seq := range firstSeq {
		if last := s.lastDoneLocked(k); last != nil && last.Sequence >= seq {
			return domain.NewError(domain.ErrConcurrentModification, k.String(), "ledger sequence already taken")
		}
	}
	now := s.now()
	for k := range t.idempotency {
		if r, ok := s.idempotency[k]; ok && !r.Expired(now) {
			return domain.NewError(domain.ErrDuplicate, r.Key, "idempotency key already recorded")
		}
	}
	return nil
}

func (s *Store) lastDoneLocked(k entity.StockKey) *entity.StockMove {
	var last *entity.StockMove
	for _, id := range s.movesByKey[k] {
		m := s.moves[id]
		if m.IsDone() && (last == nil || m.Sequence > last.Sequence) {
			last = m
		}
	}
	return last
}

// mergedMoves movimientos de la clave vistos por la tx, en orden de inserción.
func (t *txn) mergedMoves(k entity.StockKey) []*entity.StockMove {
	t.s.mu.RLock()
	ids := append([]string(nil), t.s.movesByKey[k]...)
	base := make(map[string]entity.StockMove, len(ids))
	for _, id := range ids {
		base[id] = *t.s.moves[id]
	}
	t.s.mu.RUnlock()

	for _, id := range t.newMoves {
		if t.moves[id].Key() == k {
			ids = append(ids, id)
		}
	}
	out := make([]*entity.StockMove, 0, len(ids))
	for _, id := range ids {
		if m, ok := t.moves[id]; ok {
			c := *m
			out = append(out, &c)
			continue
		}
		c := base[id]
		out = append(out, &c)
	}
	return out
}

func (t *txn) getMove(id string) *entity.StockMove {
	if m, ok := t.moves[id]; ok {
		c := *m
		return &c
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if m, ok := t.s.moves[id]; ok {
		c := *m
		return &c
	}
	return nil
}

func (t *txn) getLevel(k entity.StockKey) *entity.InventoryLevel {
	if l, ok := t.levels[k]; ok {
		return l.Clone()
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if l, ok := t.s.levels[k]; ok {
		return l.Clone()
	}
	return nil
}

func (t *txn) getState(k entity.StockKey) *entity.ValuationState {
	if st, ok := t.states[k]; ok {
		return st.Clone()
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if st, ok := t.s.states[k]; ok {
		return st.Clone()
	}
	return nil
}

func (t *txn) mergedLayers(k entity.StockKey) []*entity.ValuationLayer {
	t.s.mu.RLock()
	ids := append([]string(nil), t.s.layersByKey[k]...)
	base := make(map[string]*entity.ValuationLayer, len(ids))
	for _, id := range ids {
		base[id] = t.s.layers[id].Clone()
	}
	t.s.mu.RUnlock()

	for _, id := range t.newLayers {
		l := t.layers[id]
		if l.TenantID == k.TenantID && l.WarehouseID == k.WarehouseID && l.ProductID == k.ProductID {
			ids = append(ids, id)
		}
	}
	out := make([]*entity.ValuationLayer, 0, len(ids))
	for _, id := range ids {
		if l, ok := t.layers[id]; ok {
			out = append(out, l.Clone())
			continue
		}
		out = append(out, base[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LayerDate.Before(out[j].LayerDate) })
	return out
}

func (t *txn) getOutbox(id string) *entity.OutboxEvent {
	if e, ok := t.outbox[id]; ok {
		return e.Clone()
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if e, ok := t.s.outbox[id]; ok {
		return e.Clone()
	}
	return nil
}
