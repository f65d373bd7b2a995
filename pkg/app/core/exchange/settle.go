package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

type sourceKind uint8

const (
	fromAttachment sourceKind = iota
	fromEscrow
)

// Source is where an instruction draws value from.
type Source struct {
	kind    sourceKind
	orderID uint64
}

// Attachment draws from the call's attached payment.
func Attachment() Source { return Source{kind: fromAttachment} }

// EscrowOf draws from the escrow of an order.
func EscrowOf(orderID uint64) Source { return Source{kind: fromEscrow, orderID: orderID} }

// Instruction moves Amount of Asset from a source into To's balance.
type Instruction struct {
	From    Source
	To      common.Address
	Asset   core.AssetID
	Amount  uint64
	Kind    TransferKind
	OrderID uint64
}

// settle applies instructions in order. Zero amounts are skipped. Any failure
// fails the whole txn.
func (t *txn) settle(instrs ...Instruction) error {
	for _, in := range instrs {
		if in.Amount == 0 {
			continue
		}
		if err := t.draw(in); err != nil {
			return err
		}
		if err := t.ledger.Credit(in.To, in.Asset, in.Amount); err != nil {
			return fmt.Errorf("settle %s to %s: %w", in.Kind, in.To.Hex(), err)
		}
		t.record(in)
	}
	return nil
}

func (t *txn) draw(in Instruction) error {
	switch in.From.kind {
	case fromEscrow:
		asset, err := t.ledger.Release(in.From.orderID, in.Amount)
		if err != nil {
			return fmt.Errorf("settle %s: %w", in.Kind, err)
		}
		if asset != in.Asset {
			return fmt.Errorf("settle %s: escrow of order %d holds %s, not %s", in.Kind, in.From.orderID, asset.Hex(), in.Asset.Hex())
		}
	case fromAttachment:
		p := t.call.Payment
		if p == nil || p.Asset != in.Asset || t.attached < in.Amount {
			return fmt.Errorf("settle %s: attachment does not cover %d of %s: %w", in.Kind, in.Amount, in.Asset.Hex(), core.ErrAmountMismatch)
		}
		t.attached -= in.Amount
	default:
		return fmt.Errorf("settle %s: unknown source", in.Kind)
	}
	return nil
}

// lockAttachment moves the whole attached payment into escrow for orderID.
func (t *txn) lockAttachment(orderID uint64) error {
	p := t.call.Payment
	if err := t.ledger.Lock(orderID, p.Asset, t.attached); err != nil {
		return err
	}
	t.attached = 0
	return nil
}

func (t *txn) record(in Instruction) {
	for i := range t.transfers {
		tr := &t.transfers[i]
		if tr.To == in.To && tr.Asset == in.Asset {
			tr.Amount += in.Amount
			return
		}
	}
	t.transfers = append(t.transfers, Transfer{
		To:      in.To,
		Asset:   in.Asset,
		Amount:  in.Amount,
		Kind:    in.Kind,
		OrderID: in.OrderID,
	})
}
