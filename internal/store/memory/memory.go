// Package memory provides a mutex-guarded Store implementation with staged
// transactions. It backs service tests, including the concurrency and
// atomicity properties of the checkout engine, and local development without
// a database.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lojaops/backend-loja/internal/domain"
	"github.com/lojaops/backend-loja/internal/store"
)

type Store struct {
	mu        sync.Mutex
	products  map[uuid.UUID]domain.Product
	sales     map[uuid.UUID]domain.Sale
	saleLines map[uuid.UUID][]domain.SaleLine
	movements map[uuid.UUID][]domain.Movement
	rfmScores map[uuid.UUID]domain.RFMScore
	lastStamp time.Time
}

func New() *Store {
	return &Store{
		products:  make(map[uuid.UUID]domain.Product),
		sales:     make(map[uuid.UUID]domain.Sale),
		saleLines: make(map[uuid.UUID][]domain.SaleLine),
		movements: make(map[uuid.UUID][]domain.Movement),
		rfmScores: make(map[uuid.UUID]domain.RFMScore),
	}
}

// stamp returns a strictly increasing timestamp so movement replay order is
// total even when calls land within the same clock tick.
func (s *Store) stamp() time.Time {
	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

// memTx stages every write and applies nothing until the callback returns
// without error, mirroring the all-or-nothing semantics of a database
// transaction.
type memTx struct {
	s        *Store
	products map[uuid.UUID]domain.Product
	sales    []domain.Sale
	lines    []domain.SaleLine
	moves    []domain.Movement
	canceled map[uuid.UUID]time.Time
}

func (s *Store) WithinTx(_ context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{
		s:        s,
		products: make(map[uuid.UUID]domain.Product),
		canceled: make(map[uuid.UUID]time.Time),
	}
	if err := fn(tx); err != nil {
		return err
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	for _, sale := range tx.sales {
		s.sales[sale.ID] = sale
	}
	for _, line := range tx.lines {
		s.saleLines[line.SaleID] = append(s.saleLines[line.SaleID], line)
	}
	for _, mv := range tx.moves {
		s.movements[mv.ProductID] = append(s.movements[mv.ProductID], mv)
	}
	for id, at := range tx.canceled {
		sale := s.sales[id]
		when := at
		sale.Status = domain.SaleStatusCanceled
		sale.CanceledAt = &when
		s.sales[id] = sale
	}
	return nil
}

func (tx *memTx) product(id uuid.UUID) (domain.Product, bool) {
	if p, ok := tx.products[id]; ok {
		return p, true
	}
	p, ok := tx.s.products[id]
	return p, ok
}

func (tx *memTx) LockProducts(_ context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	sorted := append([]uuid.UUID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	out := make([]domain.Product, 0, len(sorted))
	for _, id := range sorted {
		if p, ok := tx.product(id); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memTx) UpdateProductStock(_ context.Context, id uuid.UUID, quantity, weightedAvgCost decimal.Decimal) error {
	p, ok := tx.product(id)
	if !ok {
		return store.ErrNotFound
	}
	p.Quantity = quantity
	p.WeightedAvgCost = weightedAvgCost
	p.UpdatedAt = tx.s.stamp()
	tx.products[id] = p
	return nil
}

func (tx *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if _, exists := tx.s.sales[sale.ID]; exists {
		return store.ErrDuplicate
	}
	tx.sales = append(tx.sales, sale)
	return nil
}

func (tx *memTx) InsertSaleLine(_ context.Context, line domain.SaleLine) error {
	tx.lines = append(tx.lines, line)
	return nil
}

func (tx *memTx) InsertMovement(_ context.Context, mv domain.Movement) (domain.Movement, error) {
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = tx.s.stamp()
	}
	tx.moves = append(tx.moves, mv)
	return mv, nil
}

func (tx *memTx) GetSaleForUpdate(_ context.Context, id uuid.UUID) (domain.Sale, error) {
	sale, ok := tx.s.sales[id]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	return sale, nil
}

func (tx *memTx) SaleLines(_ context.Context, saleID uuid.UUID) ([]domain.SaleLine, error) {
	return append([]domain.SaleLine(nil), tx.s.saleLines[saleID]...), nil
}

func (tx *memTx) MarkSaleCanceled(_ context.Context, id uuid.UUID, at time.Time) error {
	if _, ok := tx.s.sales[id]; !ok {
		return store.ErrNotFound
	}
	tx.canceled[id] = at
	return nil
}

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Barcode == barcode {
			return p, nil
		}
	}
	return domain.Product{}, store.ErrNotFound
}

func (s *Store) ListProducts(_ context.Context, limit, offset int) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return paginate(all, limit, offset), nil
}

func (s *Store) CreateProduct(_ context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	for _, existing := range s.products {
		if existing.Barcode != "" && existing.Barcode == p.Barcode {
			return domain.Product{}, store.ErrDuplicate
		}
	}
	now := s.stamp()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.products[p.ID] = p
	return p, nil
}

func (s *Store) UpdateProduct(_ context.Context, p domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	// catalog edits never touch ledger state
	p.Quantity = current.Quantity
	p.WeightedAvgCost = current.WeightedAvgCost
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.stamp()
	s.products[p.ID] = p
	return nil
}

func (s *Store) DeactivateProduct(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Active = false
	p.UpdatedAt = s.stamp()
	s.products[id] = p
	return nil
}

func (s *Store) LowStockProducts(_ context.Context, ids []uuid.UUID) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]domain.Product, 0)
	if len(ids) == 0 {
		for _, p := range s.products {
			candidates = append(candidates, p)
		}
	} else {
		for _, id := range ids {
			if p, ok := s.products[id]; ok {
				candidates = append(candidates, p)
			}
		}
	}
	low := make([]domain.Product, 0)
	for _, p := range candidates {
		if p.Active && p.MinStock.Sign() > 0 && p.Quantity.LessThan(p.MinStock) {
			low = append(low, p)
		}
	}
	sort.Slice(low, func(i, j int) bool { return low[i].Name < low[j].Name })
	return low, nil
}

func (s *Store) GetSale(_ context.Context, id uuid.UUID) (domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sale, ok := s.sales[id]
	if !ok {
		return domain.Sale{}, store.ErrNotFound
	}
	return sale, nil
}

func (s *Store) ListSales(_ context.Context, limit, offset int) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		all = append(all, sale)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return paginate(all, limit, offset), nil
}

func (s *Store) ListSaleLines(_ context.Context, saleID uuid.UUID) ([]domain.SaleLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.SaleLine(nil), s.saleLines[saleID]...), nil
}

func (s *Store) ListMovements(_ context.Context, productID uuid.UUID, limit, offset int) ([]domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	asc := s.movements[productID]
	desc := make([]domain.Movement, len(asc))
	for i, mv := range asc {
		desc[len(asc)-1-i] = mv
	}
	return paginate(desc, limit, offset), nil
}

func (s *Store) MovementsAsc(_ context.Context, productID uuid.UUID) ([]domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Movement(nil), s.movements[productID]...), nil
}

func (s *Store) ProductIDs(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids, nil
}

func (s *Store) CustomerAggregates(_ context.Context, since time.Time) ([]domain.CustomerAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type acc struct {
		last      time.Time
		frequency int64
		monetary  decimal.Decimal
	}
	byCustomer := make(map[uuid.UUID]*acc)
	for _, sale := range s.sales {
		if sale.Status != domain.SaleStatusFinalized || sale.CustomerID == nil {
			continue
		}
		if sale.CreatedAt.Before(since) {
			continue
		}
		a, ok := byCustomer[*sale.CustomerID]
		if !ok {
			a = &acc{monetary: decimal.Zero}
			byCustomer[*sale.CustomerID] = a
		}
		a.frequency++
		a.monetary = a.monetary.Add(sale.Total)
		if sale.CreatedAt.After(a.last) {
			a.last = sale.CreatedAt
		}
	}
	now := time.Now().UTC()
	out := make([]domain.CustomerAggregate, 0, len(byCustomer))
	for id, a := range byCustomer {
		out = append(out, domain.CustomerAggregate{
			CustomerID:  id,
			RecencyDays: int(now.Sub(a.last).Hours() / 24),
			Frequency:   a.frequency,
			Monetary:    a.monetary,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].CustomerID[:], out[j].CustomerID[:]) < 0
	})
	return out, nil
}

func (s *Store) UpsertRFMScore(_ context.Context, score domain.RFMScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rfmScores[score.CustomerID] = score
	return nil
}

func (s *Store) GetRFMScore(_ context.Context, customerID uuid.UUID) (domain.RFMScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	score, ok := s.rfmScores[customerID]
	if !ok {
		return domain.RFMScore{}, store.ErrNotFound
	}
	return score, nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), items[offset:end]...)
}
