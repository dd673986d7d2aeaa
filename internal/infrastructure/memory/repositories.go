package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jhoicas/stock-ledger/internal/domain"
	"github.com/jhoicas/stock-ledger/internal/domain/entity"
	"github.com/jhoicas/stock-ledger/internal/domain/repository"
)

var (
	_ repository.StockMoveRepository      = (*moveRepo)(nil)
	_ repository.InventoryLevelRepository = (*levelRepo)(nil)
	_ repository.ValuationRepository      = (*valuationRepo)(nil)
	_ repository.IdempotencyRepository    = (*idempotencyRepo)(nil)
	_ repository.OutboxRepository         = (*outboxRepo)(nil)
)

type moveRepo struct{ t *txn }

func (r *moveRepo) Insert(_ context.Context, m *entity.StockMove) error {
	if r.t.getMove(m.ID) != nil {
		return domain.NewError(domain.ErrDuplicate, m.ID, "move already exists")
	}
	c := *m
	r.t.moves[m.ID] = &c
	r.t.newMoves = append(r.t.newMoves, m.ID)
	return r.t.flush()
}

func (r *moveRepo) Finalize(_ context.Context, m *entity.StockMove) error {
	cur := r.t.getMove(m.ID)
	if cur == nil {
		return domain.ErrNotFound
	}
	if cur.Status != entity.MoveStatusDraft && cur.Status != entity.MoveStatusConfirmed {
		return domain.NewError(domain.ErrInvalidTransition, m.ID, "move is "+string(cur.Status))
	}
	r.expectStatus(m.ID, cur.Status)
	c := *m
	r.t.moves[m.ID] = &c
	return r.t.flush()
}

func (r *moveRepo) UpdateStatus(_ context.Context, tenantID, moveID string, from, to entity.MoveStatus) error {
	cur := r.t.getMove(moveID)
	if cur == nil || cur.TenantID != tenantID {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return domain.NewError(domain.ErrInvalidTransition, moveID, "move is "+string(cur.Status))
	}
	r.expectStatus(moveID, from)
	cur.Status = to
	r.t.moves[moveID] = cur
	return r.t.flush()
}

func (r *moveRepo) expectStatus(id string, from entity.MoveStatus) {
	if _, isNew := r.isNew(id); isNew {
		return
	}
	if _, ok := r.t.statusExpect[id]; !ok {
		r.t.statusExpect[id] = from
	}
}

func (r *moveRepo) isNew(id string) (int, bool) {
	for i, n := range r.t.newMoves {
		if n == id {
			return i, true
		}
	}
	return -1, false
}

func (r *moveRepo) GetByID(_ context.Context, tenantID, moveID string) (*entity.StockMove, error) {
	m := r.t.getMove(moveID)
	if m == nil || m.TenantID != tenantID {
		return nil, nil
	}
	return m, nil
}

func (r *moveRepo) LastDone(_ context.Context, key entity.StockKey) (*entity.StockMove, error) {
	var last *entity.StockMove
	for _, m := range r.t.mergedMoves(key) {
		if m.IsDone() && (last == nil || m.Sequence > last.Sequence) {
			last = m
		}
	}
	return last, nil
}

func (r *moveRepo) done(key entity.StockKey, f repository.LedgerFilter) []*entity.StockMove {
	var out []*entity.StockMove
	for _, m := range r.t.mergedMoves(key) {
		if !m.IsDone() {
			continue
		}
		if f.From != nil && m.MoveDate.Before(*f.From) {
			continue
		}
		if f.To != nil && m.MoveDate.After(*f.To) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (r *moveRepo) ListDone(_ context.Context, key entity.StockKey, f repository.LedgerFilter) ([]*entity.StockMove, error) {
	out := r.done(key, f)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *moveRepo) CountDone(_ context.Context, key entity.StockKey, f repository.LedgerFilter) (int, error) {
	return len(r.done(key, f)), nil
}

func (r *moveRepo) ListOpen(_ context.Context, key entity.StockKey) ([]*entity.StockMove, error) {
	var out []*entity.StockMove
	for _, m := range r.t.mergedMoves(key) {
		if m.Status == entity.MoveStatusDraft || m.Status == entity.MoveStatusConfirmed {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *moveRepo) FindByLinked(_ context.Context, tenantID, moveID string) ([]*entity.StockMove, error) {
	s := r.t.s
	s.mu.RLock()
	var out []*entity.StockMove
	for _, m := range s.moves {
		if _, pending := r.t.moves[m.ID]; pending {
			continue
		}
		if m.TenantID == tenantID && m.LinkedMoveID == moveID {
			c := *m
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()
	for _, m := range r.t.moves {
		if m.TenantID == tenantID && m.LinkedMoveID == moveID {
			c := *m
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type levelRepo struct{ t *txn }

func (r *levelRepo) Get(_ context.Context, key entity.StockKey) (*entity.InventoryLevel, error) {
	return r.t.getLevel(key), nil
}

// GetForUpdate en memoria equivale a Get: la exclusión la da el lock de la clave y la validación al confirmar.
func (r *levelRepo) GetForUpdate(ctx context.Context, key entity.StockKey) (*entity.InventoryLevel, error) {
	return r.Get(ctx, key)
}

func (r *levelRepo) Save(_ context.Context, level *entity.InventoryLevel, expectedVersion int64) error {
	key := level.Key()
	var current int64
	if cur := r.t.getLevel(key); cur != nil {
		current = cur.Version
	}
	if current != expectedVersion {
		return domain.NewError(domain.ErrConcurrentModification, key.String(), "inventory level version changed")
	}
	if _, ok := r.t.levelExpect[key]; !ok {
		r.t.levelExpect[key] = expectedVersion
	}
	level.Version = expectedVersion + 1
	r.t.levels[key] = level.Clone()
	return r.t.flush()
}

func (r *levelRepo) ListByWarehouse(_ context.Context, tenantID, warehouseID string, limit, offset int) ([]*entity.InventoryLevel, error) {
	s := r.t.s
	s.mu.RLock()
	var out []*entity.InventoryLevel
	for k, l := range s.levels {
		if k.TenantID == tenantID && k.WarehouseID == warehouseID {
			out = append(out, l.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type valuationRepo struct{ t *txn }

func (r *valuationRepo) GetState(_ context.Context, key entity.StockKey) (*entity.ValuationState, error) {
	return r.t.getState(key), nil
}

func (r *valuationRepo) SaveState(_ context.Context, st *entity.ValuationState, expectedVersion int64) error {
	key := st.Key()
	var current int64
	if cur := r.t.getState(key); cur != nil {
		current = cur.Version
	}
	if current != expectedVersion {
		return domain.NewError(domain.ErrConcurrentModification, key.String(), "valuation state version changed")
	}
	if _, ok := r.t.stateExpect[key]; !ok {
		r.t.stateExpect[key] = expectedVersion
	}
	st.Version = expectedVersion + 1
	r.t.states[key] = st.Clone()
	return r.t.flush()
}

func (r *valuationRepo) CreateLayer(_ context.Context, l *entity.ValuationLayer) error {
	r.t.layers[l.ID] = l.Clone()
	r.t.newLayers = append(r.t.newLayers, l.ID)
	return r.t.flush()
}

func (r *valuationRepo) UpdateLayer(_ context.Context, l *entity.ValuationLayer) error {
	r.t.layers[l.ID] = l.Clone()
	return r.t.flush()
}

func (r *valuationRepo) OpenLayers(_ context.Context, key entity.StockKey) ([]*entity.ValuationLayer, error) {
	var out []*entity.ValuationLayer
	for _, l := range r.t.mergedLayers(key) {
		if !l.IsExhausted() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *valuationRepo) CreateVariance(_ context.Context, v *entity.VarianceEntry) error {
	c := *v
	r.t.variances = append(r.t.variances, &c)
	return r.t.flush()
}

func (r *valuationRepo) ListVariances(_ context.Context, key entity.StockKey, limit int) ([]*entity.VarianceEntry, error) {
	match := func(v *entity.VarianceEntry) bool {
		return v.TenantID == key.TenantID && v.WarehouseID == key.WarehouseID && v.ProductID == key.ProductID
	}
	var out []*entity.VarianceEntry
	r.t.s.mu.RLock()
	for _, v := range r.t.s.variances {
		if match(v) {
			c := *v
			out = append(out, &c)
		}
	}
	r.t.s.mu.RUnlock()
	for _, v := range r.t.variances {
		if match(v) {
			c := *v
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type idempotencyRepo struct{ t *txn }

func (r *idempotencyRepo) Get(_ context.Context, tenantID, key string) (*entity.IdempotencyRecord, error) {
	k := idemKey(tenantID, key)
	if rec, ok := r.t.idempotency[k]; ok {
		c := *rec
		return &c, nil
	}
	s := r.t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.idempotency[k]
	if !ok || rec.Expired(s.now()) {
		return nil, nil
	}
	c := *rec
	return &c, nil
}

func (r *idempotencyRepo) Create(ctx context.Context, rec *entity.IdempotencyRecord) error {
	existing, err := r.Get(ctx, rec.TenantID, rec.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		return domain.NewError(domain.ErrDuplicate, rec.Key, "idempotency key already recorded")
	}
	c := *rec
	r.t.idempotency[idemKey(rec.TenantID, rec.Key)] = &c
	return r.t.flush()
}

func (r *idempotencyRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, rec := range s.idempotency {
		if rec.Expired(now) {
			delete(s.idempotency, k)
			n++
		}
	}
	return n, nil
}

type outboxRepo struct{ t *txn }

func (r *outboxRepo) Save(_ context.Context, events ...*entity.OutboxEvent) error {
	for _, e := range events {
		r.t.outbox[e.ID] = e.Clone()
		r.t.newOutbox = append(r.t.newOutbox, e.ID)
	}
	return r.t.flush()
}

func (r *outboxRepo) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.OutboxEvent, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.OutboxEvent
	// Agregados con un evento pendiente sin vencer: los posteriores esperan.
	held := make(map[string]bool)
	for _, id := range s.outboxOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		e, ok := s.outbox[id]
		if !ok || e.Status != entity.OutboxPending {
			continue
		}
		if e.NextAttemptAt.After(now) {
			held[e.AggregateID] = true
			continue
		}
		if held[e.AggregateID] {
			continue
		}
		e.NextAttemptAt = now.Add(lease)
		out = append(out, e.Clone())
	}
	return out, nil
}

func (r *outboxRepo) Update(_ context.Context, e *entity.OutboxEvent) error {
	if r.t.getOutbox(e.ID) == nil {
		return domain.ErrNotFound
	}
	r.t.outbox[e.ID] = e.Clone()
	return r.t.flush()
}

func (r *outboxRepo) GetByID(_ context.Context, id string) (*entity.OutboxEvent, error) {
	return r.t.getOutbox(id), nil
}

func (r *outboxRepo) ListFailed(_ context.Context, limit, offset int) ([]*entity.OutboxEvent, int, error) {
	s := r.t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*entity.OutboxEvent
	for _, id := range s.outboxOrder {
		if e, ok := s.outbox[id]; ok && e.Status == entity.OutboxFailed {
			all = append(all, e.Clone())
		}
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (r *outboxRepo) ListByAggregate(_ context.Context, aggregateID string) ([]*entity.OutboxEvent, error) {
	s := r.t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*entity.OutboxEvent
	for _, id := range s.outboxOrder {
		if e, ok := s.outbox[id]; ok && e.AggregateID == aggregateID {
			out = append(out, e.Clone())
		}
	}
	return out, nil
}

func (r *outboxRepo) ArchivePublished(_ context.Context, before time.Time) (int64, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	kept := s.outboxOrder[:0]
	for _, id := range s.outboxOrder {
		e := s.outbox[id]
		if e.Status == entity.OutboxPublished && e.PublishedAt != nil && e.PublishedAt.Before(before) {
			s.archived[id] = e
			delete(s.outbox, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	s.outboxOrder = kept
	return n, nil
}

func (r *outboxRepo) CountByStatus(_ context.Context) (map[entity.OutboxStatus]int64, error) {
	s := r.t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[entity.OutboxStatus]int64{}
	for _, e := range s.outbox {
		out[e.Status]++
	}
	return out, nil
}
