// Package trade is the append-only record of settlements.
package trade

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

const BaseID uint64 = 1

// Trade records the settlement of one order. AmountIn is the part of the
// order's escrow delivered to the taker side (fee excluded); AmountOut is
// what the maker received. CounterOrderID is zero for a direct fulfillment.
type Trade struct {
	ID             uint64         `json:"id"`
	OrderID        uint64         `json:"orderId"`
	CounterOrderID uint64         `json:"counterOrderId,omitempty"`
	Maker          common.Address `json:"maker"`
	Taker          common.Address `json:"taker"`
	Matcher        common.Address `json:"matcher"`
	AssetIn        core.AssetID   `json:"assetIn"`
	AmountIn       uint64         `json:"amountIn"`
	AssetOut       core.AssetID   `json:"assetOut"`
	AmountOut      uint64         `json:"amountOut"`
	MatcherFee     uint64         `json:"matcherFee"`
	Height         int64          `json:"height"`
	Timestamp      int64          `json:"timestamp"`
}

func (t *Trade) Clone() *Trade {
	cp := *t
	return &cp
}

type Store struct {
	mu     sync.RWMutex
	trades []*Trade
}

func NewStore() *Store { return &Store{} }

func (s *Store) NextID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return BaseID + uint64(len(s.trades))
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

// Append adds t, whose id must be NextID.
func (s *Store) Append(t *Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next := BaseID + uint64(len(s.trades)); t.ID != next {
		return fmt.Errorf("append trade %d: next id is %d", t.ID, next)
	}
	s.trades = append(s.trades, t.Clone())
	return nil
}

func (s *Store) get(id uint64) (*Trade, bool) {
	if id < BaseID || id-BaseID >= uint64(len(s.trades)) {
		return nil, false
	}
	return s.trades[id-BaseID].Clone(), true
}

func (s *Store) Get(id uint64) (*Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

// List returns PageSize slots; slot i holds trade offset+i or nil.
func (s *Store) List(offset uint64) []*Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.Window(offset, s.get)
}

// ListByIDs returns one slot per requested id, nil where the id is unknown.
func (s *Store) ListByIDs(ids []uint64) ([]*Trade, error) {
	if len(ids) > core.PageSize {
		return nil, fmt.Errorf("%d ids requested, max %d: %w", len(ids), core.PageSize, core.ErrInvalidAmount)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Trade, len(ids))
	for i, id := range ids {
		if t, ok := s.get(id); ok {
			out[i] = t
		}
	}
	return out, nil
}

func (s *Store) All() []*Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Trade, len(s.trades))
	for i, t := range s.trades {
		out[i] = t.Clone()
	}
	return out
}
