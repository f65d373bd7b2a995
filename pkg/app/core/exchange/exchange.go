// Package exchange implements the order lifecycle and the matching engine on
// top of the asset ledger and the order and trade stores.
//
// Every mutating call runs inside one txn. The txn stages ledger, order and
// trade writes, checks the escrow invariant for every order it touched, hands
// the resulting ChangeSet to the Persister, and only then applies it in
// memory. Any error leaves both memory and storage untouched.
package exchange

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/ledger"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
)

// Payment is value attached to a call.
type Payment struct {
	Asset  core.AssetID `json:"asset"`
	Amount uint64       `json:"amount"`
}

// Call carries the execution context of one entry point invocation.
type Call struct {
	Caller  common.Address
	Payment *Payment
	Height  int64
	Time    int64 // unix ms

	// FromBalance funds Payment by debiting the caller's free balance instead
	// of bringing new value in from the host wallet.
	FromBalance bool
}

type TransferKind string

const (
	TransferPayment    TransferKind = "payment"
	TransferProceeds   TransferKind = "proceeds"
	TransferFee        TransferKind = "fee"
	TransferRefund     TransferKind = "refund"
	TransferWithdrawal TransferKind = "withdrawal"
)

// Transfer is an outbound movement of value produced by a call. Legs with the
// same recipient and asset are merged; Kind and OrderID come from the first.
type Transfer struct {
	To      common.Address `json:"to"`
	Asset   core.AssetID   `json:"asset"`
	Amount  uint64         `json:"amount"`
	Kind    TransferKind   `json:"kind"`
	OrderID uint64         `json:"orderId,omitempty"`
}

// Result describes the committed effects of a call. For MatchOrders Trades
// holds (tradeA, tradeB) in argument order.
type Result struct {
	OrderID   uint64         `json:"orderId,omitempty"`
	Orders    []*order.Order `json:"orders,omitempty"`
	Trades    []*trade.Trade `json:"trades,omitempty"`
	Transfers []Transfer     `json:"transfers,omitempty"`
}

// ChangeSet is everything a committed call writes.
type ChangeSet struct {
	Ledger ledger.Changes
	Orders []*order.Order
	Trades []*trade.Trade
}

// Persister durably stores a ChangeSet. A returned error aborts the call.
type Persister interface {
	Persist(cs *ChangeSet) error
}

// Snapshot is the complete exchange state.
type Snapshot struct {
	Balances []ledger.Balance
	Escrows  []ledger.Escrow
	Totals   []ledger.Totals
	Orders   []*order.Order
	Trades   []*trade.Trade
}

type Stats struct {
	Orders       int `json:"orders"`
	ActiveOrders int `json:"activeOrders"`
	Trades       int `json:"trades"`
}

type Exchange struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	orders    *order.Store
	trades    *trade.Store
	persister Persister
	logger    *zap.SugaredLogger
}

// New creates an empty exchange. persister may be nil for a memory-only
// exchange.
func New(logger *zap.SugaredLogger, persister Persister) *Exchange {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Exchange{
		ledger:    ledger.New(),
		orders:    order.NewStore(),
		trades:    trade.NewStore(),
		persister: persister,
		logger:    logger,
	}
}

// Restore loads persisted state into an empty exchange and verifies it.
func (e *Exchange) Restore(snap *Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.orders.Len() > 0 || e.trades.Len() > 0 {
		return fmt.Errorf("restore into non-empty exchange")
	}
	e.ledger.Restore(snap.Balances, snap.Escrows, snap.Totals)
	for _, o := range snap.Orders {
		if err := e.orders.Put(o); err != nil {
			return fmt.Errorf("restore orders: %w", err)
		}
	}
	for _, t := range snap.Trades {
		if err := e.trades.Append(t); err != nil {
			return fmt.Errorf("restore trades: %w", err)
		}
	}
	if err := e.checkInvariants(); err != nil {
		return fmt.Errorf("restored state is inconsistent: %w", err)
	}
	e.logger.Infow("exchange_restored",
		"orders", e.orders.Len(),
		"trades", e.trades.Len(),
		"balances", len(snap.Balances))
	return nil
}

// Snapshot copies the full state in deterministic order.
func (e *Exchange) Snapshot() *Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	assets := e.ledger.Assets()
	totals := make([]ledger.Totals, len(assets))
	for i, a := range assets {
		totals[i] = e.ledger.Totals(a)
	}
	return &Snapshot{
		Balances: e.ledger.Balances(),
		Escrows:  e.ledger.Escrows(),
		Totals:   totals,
		Orders:   e.orders.All(),
		Trades:   e.trades.All(),
	}
}

// ---- queries ----

// OrderByID returns the order or ErrNotFound.
func (e *Exchange) OrderByID(id uint64) (*order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders.Get(id)
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, core.ErrNotFound)
	}
	return o, nil
}

// Orders returns the PageSize window of orders starting at offset.
func (e *Exchange) Orders(offset uint64) []*order.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.List(offset)
}

// OrdersByID resolves up to PageSize ids positionally.
func (e *Exchange) OrdersByID(ids []uint64) ([]*order.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orders.ListByIDs(ids)
}

func (e *Exchange) Trades(offset uint64) []*trade.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trades.List(offset)
}

// TradesByID resolves up to PageSize trade ids positionally.
func (e *Exchange) TradesByID(ids []uint64) ([]*trade.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.trades.ListByIDs(ids)
}

func (e *Exchange) TradeByID(id uint64) (*trade.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trades.Get(id)
	if !ok {
		return nil, fmt.Errorf("trade %d: %w", id, core.ErrNotFound)
	}
	return t, nil
}

func (e *Exchange) Balance(owner common.Address, asset core.AssetID) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance(owner, asset)
}

func (e *Exchange) Escrow(orderID uint64) (ledger.Escrow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Escrow(orderID)
}

func (e *Exchange) Totals(asset core.AssetID) ledger.Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Totals(asset)
}

func (e *Exchange) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := Stats{Orders: e.orders.Len(), Trades: e.trades.Len()}
	for _, o := range e.orders.All() {
		if o.IsActive() {
			s.ActiveOrders++
		}
	}
	return s
}

// CheckInvariants verifies asset conservation and that escrow exists exactly
// for active orders, holding their full AmountIn.
func (e *Exchange) CheckInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkInvariants()
}

func (e *Exchange) checkInvariants() error {
	if err := e.ledger.CheckConservation(); err != nil {
		return err
	}
	active := 0
	for _, o := range e.orders.All() {
		if err := checkEscrow(o, e.ledger.Escrow); err != nil {
			return err
		}
		if o.IsActive() {
			active++
		}
	}
	if n := len(e.ledger.Escrows()); n != active {
		return fmt.Errorf("%d escrow entries for %d active orders", n, active)
	}
	return nil
}

func checkEscrow(o *order.Order, lookup func(uint64) (ledger.Escrow, bool)) error {
	esc, ok := lookup(o.ID)
	if o.IsActive() {
		if !ok || esc.Asset != o.AssetIn || esc.Amount != o.AmountIn {
			return fmt.Errorf("order %d: escrow %+v does not hold amount in %d", o.ID, esc, o.AmountIn)
		}
		return nil
	}
	if ok {
		return fmt.Errorf("order %d is %s but still holds escrow %d", o.ID, o.Status, esc.Amount)
	}
	return nil
}
