package order

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

// Store keeps every order ever created, indexed by id. Orders are never
// removed; terminal orders stay queryable. Returned orders are copies.
type Store struct {
	mu     sync.RWMutex
	orders []*Order // orders[i].ID == BaseID+i
}

func NewStore() *Store { return &Store{} }

// NextID is the id the next created order will receive.
func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BaseID + uint64(len(s.orders))
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *Store) get(id uint64) (*Order, bool) {
	if id < BaseID || id-BaseID >= uint64(len(s.orders)) {
		return nil, false
	}
	return s.orders[id-BaseID].Clone(), true
}

func (s *Store) Get(id uint64) (*Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

// Put stores o. Its id must either exist (update) or be NextID (append).
func (s *Store) Put(o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := BaseID + uint64(len(s.orders))
	switch {
	case o.ID == next:
		s.orders = append(s.orders, o.Clone())
	case o.ID >= BaseID && o.ID < next:
		s.orders[o.ID-BaseID] = o.Clone()
	default:
		return fmt.Errorf("put order %d: next id is %d", o.ID, next)
	}
	return nil
}

// List returns PageSize slots; slot i holds order offset+i or nil.
func (s *Store) List(offset uint64) []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.Window(offset, s.get)
}

// ListByIDs returns one slot per requested id, nil where the id is unknown.
func (s *Store) ListByIDs(ids []uint64) ([]*Order, error) {
	if len(ids) > core.PageSize {
		return nil, fmt.Errorf("%d ids requested, max %d: %w", len(ids), core.PageSize, core.ErrInvalidAmount)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Order, len(ids))
	for i, id := range ids {
		if o, ok := s.get(id); ok {
			out[i] = o
		}
	}
	return out, nil
}

// All returns every order in id order.
func (s *Store) All() []*Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Order, len(s.orders))
	for i, o := range s.orders {
		out[i] = o.Clone()
	}
	return out
}
