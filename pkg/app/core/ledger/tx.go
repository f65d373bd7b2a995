package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

// Tx stages ledger writes. See the package doc for the in-flight rules.
type Tx struct {
	base     *Ledger
	balances map[balanceKey]uint64
	escrow   map[uint64]Escrow // Amount 0 marks a released entry
	totals   map[core.AssetID]Totals
	inFlight map[core.AssetID]uint64
	done     bool
}

// Changes is the absolute post-commit value of every entry a Tx touched.
// A zero Amount means the entry no longer exists.
type Changes struct {
	Balances []Balance
	Escrows  []Escrow
	Totals   []Totals
}

func (tx *Tx) Balance(owner common.Address, asset core.AssetID) uint64 {
	if v, ok := tx.balances[balanceKey{owner, asset}]; ok {
		return v
	}
	return tx.base.Balance(owner, asset)
}

func (tx *Tx) Escrow(orderID uint64) (Escrow, bool) {
	if e, ok := tx.escrow[orderID]; ok {
		return e, e.Amount > 0
	}
	return tx.base.Escrow(orderID)
}

func (tx *Tx) totalsFor(asset core.AssetID) Totals {
	if t, ok := tx.totals[asset]; ok {
		return t
	}
	return tx.base.Totals(asset)
}

// Receive records value attached to a call as inflow and puts it in flight.
func (tx *Tx) Receive(asset core.AssetID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("receive: %w", core.ErrInvalidAmount)
	}
	t := tx.totalsFor(asset)
	inflow, err := add(t.Inflow, amount)
	if err != nil {
		return fmt.Errorf("receive %s: %w", asset.Hex(), err)
	}
	pending, err := add(tx.inFlight[asset], amount)
	if err != nil {
		return fmt.Errorf("receive %s: %w", asset.Hex(), err)
	}
	t.Inflow = inflow
	tx.totals[asset] = t
	tx.inFlight[asset] = pending
	return nil
}

// Send releases in-flight value out of the exchange and records outflow.
func (tx *Tx) Send(asset core.AssetID, amount uint64) error {
	if err := tx.take(asset, amount); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	t := tx.totalsFor(asset)
	outflow, err := add(t.Outflow, amount)
	if err != nil {
		return fmt.Errorf("send %s: %w", asset.Hex(), err)
	}
	t.Outflow = outflow
	tx.totals[asset] = t
	return nil
}

// Debit removes amount from a free balance and puts it in flight.
func (tx *Tx) Debit(owner common.Address, asset core.AssetID, amount uint64) error {
	bal := tx.Balance(owner, asset)
	if bal < amount {
		return fmt.Errorf("debit %s: balance %d < %d: %w", owner.Hex(), bal, amount, core.ErrInsufficientFunds)
	}
	pending, err := add(tx.inFlight[asset], amount)
	if err != nil {
		return fmt.Errorf("debit %s: %w", owner.Hex(), err)
	}
	tx.balances[balanceKey{owner, asset}] = bal - amount
	tx.inFlight[asset] = pending
	return nil
}

// Credit moves in-flight value into a free balance.
func (tx *Tx) Credit(owner common.Address, asset core.AssetID, amount uint64) error {
	bal, err := add(tx.Balance(owner, asset), amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", owner.Hex(), err)
	}
	if err := tx.take(asset, amount); err != nil {
		return fmt.Errorf("credit %s: %w", owner.Hex(), err)
	}
	tx.balances[balanceKey{owner, asset}] = bal
	return nil
}

// Deposit receives attached value straight into the owner's balance.
func (tx *Tx) Deposit(owner common.Address, asset core.AssetID, amount uint64) error {
	if err := tx.Receive(asset, amount); err != nil {
		return err
	}
	return tx.Credit(owner, asset, amount)
}

// Withdraw pays amount from the owner's balance out of the exchange.
func (tx *Tx) Withdraw(owner common.Address, asset core.AssetID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("withdraw: %w", core.ErrInvalidAmount)
	}
	if err := tx.Debit(owner, asset, amount); err != nil {
		return err
	}
	return tx.Send(asset, amount)
}

// Lock escrows in-flight value against a new order id.
func (tx *Tx) Lock(orderID uint64, asset core.AssetID, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("lock order %d: %w", orderID, core.ErrInvalidAmount)
	}
	if _, ok := tx.Escrow(orderID); ok {
		return fmt.Errorf("lock order %d: escrow exists: %w", orderID, core.ErrInvalidState)
	}
	if err := tx.take(asset, amount); err != nil {
		return fmt.Errorf("lock order %d: %w", orderID, err)
	}
	tx.escrow[orderID] = Escrow{OrderID: orderID, Asset: asset, Amount: amount}
	return nil
}

// Release puts amount of an order's escrow in flight. The entry disappears
// once fully released.
func (tx *Tx) Release(orderID uint64, amount uint64) (core.AssetID, error) {
	e, ok := tx.Escrow(orderID)
	if !ok {
		return core.AssetID{}, fmt.Errorf("release order %d: no escrow: %w", orderID, core.ErrNotFound)
	}
	if e.Amount < amount {
		return core.AssetID{}, fmt.Errorf("release order %d: escrow %d < %d: %w", orderID, e.Amount, amount, core.ErrInsufficientFunds)
	}
	pending, err := add(tx.inFlight[e.Asset], amount)
	if err != nil {
		return core.AssetID{}, fmt.Errorf("release order %d: %w", orderID, err)
	}
	e.Amount -= amount
	tx.escrow[orderID] = e
	tx.inFlight[e.Asset] = pending
	return e.Asset, nil
}

func (tx *Tx) take(asset core.AssetID, amount uint64) error {
	pending := tx.inFlight[asset]
	if pending < amount {
		return fmt.Errorf("in-flight %s %d < %d: %w", asset.Hex(), pending, amount, core.ErrInsufficientFunds)
	}
	tx.inFlight[asset] = pending - amount
	return nil
}

// Changes validates that nothing is left in flight and returns the entries
// the Tx would write, in deterministic order.
func (tx *Tx) Changes() (Changes, error) {
	if tx.done {
		return Changes{}, fmt.Errorf("ledger tx already finished")
	}
	for asset, v := range tx.inFlight {
		if v != 0 {
			return Changes{}, fmt.Errorf("unsettled %d of asset %s", v, asset.Hex())
		}
	}

	var c Changes
	for k, v := range tx.balances {
		c.Balances = append(c.Balances, Balance{Owner: k.owner, Asset: k.asset, Amount: v})
	}
	sort.Slice(c.Balances, func(i, j int) bool {
		if cmp := bytes.Compare(c.Balances[i].Owner[:], c.Balances[j].Owner[:]); cmp != 0 {
			return cmp < 0
		}
		return bytes.Compare(c.Balances[i].Asset[:], c.Balances[j].Asset[:]) < 0
	})
	for _, e := range tx.escrow {
		c.Escrows = append(c.Escrows, e)
	}
	sort.Slice(c.Escrows, func(i, j int) bool { return c.Escrows[i].OrderID < c.Escrows[j].OrderID })
	for _, t := range tx.totals {
		c.Totals = append(c.Totals, t)
	}
	sort.Slice(c.Totals, func(i, j int) bool { return bytes.Compare(c.Totals[i].Asset[:], c.Totals[j].Asset[:]) < 0 })
	return c, nil
}

// Commit applies the staged writes to the ledger.
func (tx *Tx) Commit() error {
	c, err := tx.Changes()
	if err != nil {
		return err
	}
	l := tx.base
	for _, b := range c.Balances {
		k := balanceKey{b.Owner, b.Asset}
		if b.Amount == 0 {
			delete(l.balances, k)
		} else {
			l.balances[k] = b.Amount
		}
	}
	for _, e := range c.Escrows {
		if e.Amount == 0 {
			delete(l.escrow, e.OrderID)
		} else {
			l.escrow[e.OrderID] = e
		}
	}
	for _, t := range c.Totals {
		l.totals[t.Asset] = t
	}
	tx.done = true
	return nil
}

// Discard drops the staged writes.
func (tx *Tx) Discard() { tx.done = true }
