package exchange

import (
	"errors"
	"fmt"
	"sort"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/ledger"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
)

// ErrPersist marks a call that was valid but could not be written to storage.
// Memory is left unchanged; the caller should stop producing blocks.
var ErrPersist = errors.New("persist failed")

type txn struct {
	call   Call
	ledger *ledger.Tx
	orders *order.Store
	trades *trade.Store

	staged    map[uint64]*order.Order
	nextOrder uint64
	created   uint64
	newTrades []*trade.Trade
	nextTrade uint64
	attached  uint64 // unsettled part of call.Payment
	transfers []Transfer
}

func (e *Exchange) begin(call Call) *txn {
	return &txn{
		call:      call,
		ledger:    e.ledger.Begin(),
		orders:    e.orders,
		trades:    e.trades,
		staged:    make(map[uint64]*order.Order),
		nextOrder: e.orders.NextID(),
		nextTrade: e.trades.NextID(),
	}
}

// execute runs fn inside a fresh txn and commits it. The exchange lock is
// held for the whole call.
func (e *Exchange) execute(op string, call Call, fn func(t *txn) error) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.begin(call)
	if err := fn(t); err != nil {
		t.ledger.Discard()
		e.logger.Debugw("call_rejected", "op", op, "caller", call.Caller.Hex(), "kind", core.ErrorKind(err), "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	res, err := e.commit(t)
	if err != nil {
		t.ledger.Discard()
		e.logger.Errorw("commit_failed", "op", op, "caller", call.Caller.Hex(), "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func (e *Exchange) commit(t *txn) (*Result, error) {
	if t.attached != 0 {
		return nil, fmt.Errorf("%d of attached payment left unsettled", t.attached)
	}
	lc, err := t.ledger.Changes()
	if err != nil {
		return nil, err
	}

	orders := make([]*order.Order, 0, len(t.staged))
	for _, o := range t.staged {
		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	for _, o := range orders {
		if err := checkEscrow(o, t.ledger.Escrow); err != nil {
			return nil, err
		}
	}

	if e.persister != nil {
		cs := &ChangeSet{Ledger: lc, Orders: orders, Trades: t.newTrades}
		if err := e.persister.Persist(cs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersist, err)
		}
	}

	if err := t.ledger.Commit(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := e.orders.Put(o); err != nil {
			return nil, err
		}
	}
	for _, tr := range t.newTrades {
		if err := e.trades.Append(tr); err != nil {
			return nil, err
		}
	}

	return &Result{
		OrderID:   t.created,
		Orders:    orders,
		Trades:    t.newTrades,
		Transfers: t.transfers,
	}, nil
}

// order returns the staged copy of an order, loading it on first use.
func (t *txn) order(id uint64) (*order.Order, error) {
	if o, ok := t.staged[id]; ok {
		return o, nil
	}
	o, ok := t.orders.Get(id)
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, core.ErrNotFound)
	}
	t.staged[id] = o
	return o, nil
}

func (t *txn) activeOrder(id uint64) (*order.Order, error) {
	o, err := t.order(id)
	if err != nil {
		return nil, err
	}
	if !o.IsActive() {
		return nil, fmt.Errorf("order %d is %s: %w", id, o.Status, core.ErrInvalidState)
	}
	return o, nil
}

func (t *txn) createOrder(o *order.Order) {
	o.ID = t.nextOrder
	t.nextOrder++
	t.staged[o.ID] = o
	t.created = o.ID
}

func (t *txn) finish(o *order.Order, status order.Status) {
	o.Status = status
	o.UpdatedAt = t.call.Time
}

func (t *txn) appendTrade(tr *trade.Trade) *trade.Trade {
	tr.ID = t.nextTrade
	tr.Height = t.call.Height
	tr.Timestamp = t.call.Time
	t.nextTrade++
	t.newTrades = append(t.newTrades, tr)
	return tr
}

// fund brings the call's attached payment in flight.
func (t *txn) fund() error {
	p := t.call.Payment
	if p == nil || p.Amount == 0 {
		return nil
	}
	var err error
	if t.call.FromBalance {
		err = t.ledger.Debit(t.call.Caller, p.Asset, p.Amount)
	} else {
		err = t.ledger.Receive(p.Asset, p.Amount)
	}
	if err != nil {
		return fmt.Errorf("fund payment: %w", err)
	}
	t.attached = p.Amount
	return nil
}

func (t *txn) rejectPayment() error {
	if p := t.call.Payment; p != nil && p.Amount > 0 {
		return fmt.Errorf("call takes no attached payment: %w", core.ErrInvalidAmount)
	}
	return nil
}
