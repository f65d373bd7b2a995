// Package ledger tracks custody of every asset the exchange holds: free
// account balances, per-order escrow, and the running totals of value that
// entered (inflow) and left (outflow) the exchange.
//
// All mutation happens through a Tx. A Tx reads through to the committed
// state, stages its writes, and is either committed as a whole or dropped.
// Inside a Tx, value moves through an in-flight pool: Receive, Debit and
// Release put value in flight; Credit, Lock and Send take it out. A Tx whose
// pool is not empty cannot commit, so every committed change is balanced.
//
// Ledger is not safe for concurrent use; the exchange serializes access.
package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

type balanceKey struct {
	owner common.Address
	asset core.AssetID
}

// Balance is a free (unescrowed) account balance.
type Balance struct {
	Owner  common.Address `json:"owner"`
	Asset  core.AssetID   `json:"asset"`
	Amount uint64         `json:"amount"`
}

// Escrow is value held against an active order.
type Escrow struct {
	OrderID uint64       `json:"orderId"`
	Asset   core.AssetID `json:"asset"`
	Amount  uint64       `json:"amount"`
}

// Totals is the cumulative value that entered and left the exchange for one asset.
type Totals struct {
	Asset   core.AssetID `json:"asset"`
	Inflow  uint64       `json:"inflow"`
	Outflow uint64       `json:"outflow"`
}

type Ledger struct {
	balances map[balanceKey]uint64
	escrow   map[uint64]Escrow
	totals   map[core.AssetID]Totals
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[balanceKey]uint64),
		escrow:   make(map[uint64]Escrow),
		totals:   make(map[core.AssetID]Totals),
	}
}

// Balance returns the committed free balance; absent entries read as zero.
func (l *Ledger) Balance(owner common.Address, asset core.AssetID) uint64 {
	return l.balances[balanceKey{owner, asset}]
}

// Escrow returns the committed escrow held for an order.
func (l *Ledger) Escrow(orderID uint64) (Escrow, bool) {
	e, ok := l.escrow[orderID]
	return e, ok
}

func (l *Ledger) Totals(asset core.AssetID) Totals {
	t, ok := l.totals[asset]
	if !ok {
		t.Asset = asset
	}
	return t
}

// Assets lists every asset that has ever entered the ledger, sorted by id.
func (l *Ledger) Assets() []core.AssetID {
	out := make([]core.AssetID, 0, len(l.totals))
	for a := range l.totals {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Balances returns every non-zero balance ordered by (owner, asset).
func (l *Ledger) Balances() []Balance {
	out := make([]Balance, 0, len(l.balances))
	for k, v := range l.balances {
		out = append(out, Balance{Owner: k.owner, Asset: k.asset, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Owner[:], out[j].Owner[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Asset[:], out[j].Asset[:]) < 0
	})
	return out
}

// Escrows returns every escrow entry ordered by order id.
func (l *Ledger) Escrows() []Escrow {
	out := make([]Escrow, 0, len(l.escrow))
	for _, e := range l.escrow {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// EscrowTotal sums escrow held in asset across all orders.
func (l *Ledger) EscrowTotal(asset core.AssetID) uint64 {
	var sum uint64
	for _, e := range l.escrow {
		if e.Asset == asset {
			sum += e.Amount
		}
	}
	return sum
}

// BalanceTotal sums free balances of asset across all owners.
func (l *Ledger) BalanceTotal(asset core.AssetID) uint64 {
	var sum uint64
	for k, v := range l.balances {
		if k.asset == asset {
			sum += v
		}
	}
	return sum
}

// CheckConservation verifies, per asset, that balances plus escrow equal
// inflow minus outflow.
func (l *Ledger) CheckConservation() error {
	for _, asset := range l.Assets() {
		t := l.totals[asset]
		if t.Outflow > t.Inflow {
			return fmt.Errorf("asset %s: outflow %d exceeds inflow %d", asset.Hex(), t.Outflow, t.Inflow)
		}
		held := l.BalanceTotal(asset) + l.EscrowTotal(asset)
		if net := t.Inflow - t.Outflow; held != net {
			return fmt.Errorf("asset %s: held %d, want %d", asset.Hex(), held, net)
		}
	}
	return nil
}

// Restore replaces the committed state with persisted entries.
func (l *Ledger) Restore(balances []Balance, escrows []Escrow, totals []Totals) {
	l.balances = make(map[balanceKey]uint64, len(balances))
	l.escrow = make(map[uint64]Escrow, len(escrows))
	l.totals = make(map[core.AssetID]Totals, len(totals))
	for _, b := range balances {
		if b.Amount > 0 {
			l.balances[balanceKey{b.Owner, b.Asset}] = b.Amount
		}
	}
	for _, e := range escrows {
		if e.Amount > 0 {
			l.escrow[e.OrderID] = e
		}
	}
	for _, t := range totals {
		l.totals[t.Asset] = t
	}
}

// Begin opens a transaction over the committed state.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		base:     l,
		balances: make(map[balanceKey]uint64),
		escrow:   make(map[uint64]Escrow),
		totals:   make(map[core.AssetID]Totals),
		inFlight: make(map[core.AssetID]uint64),
	}
}

func add(a, b uint64) (uint64, error) {
	sum, overflow := math.SafeAdd(a, b)
	if overflow {
		return 0, core.ErrOverflow
	}
	return sum, nil
}
