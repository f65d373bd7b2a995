package exchange

import (
	"fmt"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
)

// FulfillOrder settles an active order directly against the caller. The
// attached payment must be exactly (AssetOut, AmountOut); it goes to the
// owner, and the caller receives the escrow: AmountIn minus the fee as
// proceeds plus the fee itself.
func (e *Exchange) FulfillOrder(call Call, id uint64) (*Result, error) {
	res, err := e.execute("fulfill_order", call, func(t *txn) error {
		o, err := t.activeOrder(id)
		if err != nil {
			return err
		}
		p := call.Payment
		if p == nil || p.Asset != o.AssetOut || p.Amount != o.AmountOut {
			return fmt.Errorf("order %d requires exactly %d of %s: %w", id, o.AmountOut, o.AssetOut.Hex(), core.ErrAmountMismatch)
		}
		if err := t.fund(); err != nil {
			return err
		}
		if err := t.settle(
			Instruction{From: Attachment(), To: o.Owner, Asset: o.AssetOut, Amount: o.AmountOut, Kind: TransferPayment, OrderID: id},
			Instruction{From: EscrowOf(id), To: call.Caller, Asset: o.AssetIn, Amount: o.AmountIn - o.MatcherFee, Kind: TransferProceeds, OrderID: id},
			Instruction{From: EscrowOf(id), To: call.Caller, Asset: o.AssetIn, Amount: o.MatcherFee, Kind: TransferFee, OrderID: id},
		); err != nil {
			return err
		}
		t.finish(o, order.Fulfilled)
		t.appendTrade(&trade.Trade{
			OrderID:    id,
			Maker:      o.Owner,
			Taker:      call.Caller,
			Matcher:    call.Caller,
			AssetIn:    o.AssetIn,
			AmountIn:   o.AmountIn - o.MatcherFee,
			AssetOut:   o.AssetOut,
			AmountOut:  o.AmountOut,
			MatcherFee: o.MatcherFee,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	tr := res.Trades[0]
	e.logger.Infow("order_fulfilled",
		"id", id,
		"trade_id", tr.ID,
		"maker", tr.Maker.Hex(),
		"taker", tr.Taker.Hex(),
		"amount_in", tr.AmountIn,
		"amount_out", tr.AmountOut,
		"matcher_fee", tr.MatcherFee)
	return res, nil
}

// MatchOrders crosses two complementary active orders. Each owner receives
// exactly what their order asked for out of the other order's escrow, the
// caller collects both matcher fees, and any escrow left over is refunded to
// its owner. Result.Trades is (tradeA, tradeB).
func (e *Exchange) MatchOrders(call Call, idA, idB uint64) (*Result, error) {
	res, err := e.execute("match_orders", call, func(t *txn) error {
		if err := t.rejectPayment(); err != nil {
			return err
		}
		a, err := t.activeOrder(idA)
		if err != nil {
			return err
		}
		if idA == idB {
			return fmt.Errorf("order %d matched with itself: %w", idA, core.ErrInvalidState)
		}
		b, err := t.activeOrder(idB)
		if err != nil {
			return err
		}
		if err := compatible(a, b); err != nil {
			return err
		}

		// compatible guarantees both residuals are non-negative.
		residualA := a.AmountIn - b.AmountOut - a.MatcherFee
		residualB := b.AmountIn - a.AmountOut - b.MatcherFee
		if err := t.settle(
			Instruction{From: EscrowOf(b.ID), To: a.Owner, Asset: b.AssetIn, Amount: a.AmountOut, Kind: TransferPayment, OrderID: a.ID},
			Instruction{From: EscrowOf(a.ID), To: b.Owner, Asset: a.AssetIn, Amount: b.AmountOut, Kind: TransferPayment, OrderID: b.ID},
			Instruction{From: EscrowOf(a.ID), To: call.Caller, Asset: a.AssetIn, Amount: a.MatcherFee, Kind: TransferFee, OrderID: a.ID},
			Instruction{From: EscrowOf(b.ID), To: call.Caller, Asset: b.AssetIn, Amount: b.MatcherFee, Kind: TransferFee, OrderID: b.ID},
			Instruction{From: EscrowOf(a.ID), To: a.Owner, Asset: a.AssetIn, Amount: residualA, Kind: TransferRefund, OrderID: a.ID},
			Instruction{From: EscrowOf(b.ID), To: b.Owner, Asset: b.AssetIn, Amount: residualB, Kind: TransferRefund, OrderID: b.ID},
		); err != nil {
			return err
		}
		t.finish(a, order.Fulfilled)
		t.finish(b, order.Fulfilled)
		t.appendTrade(matchTrade(a, b, call))
		t.appendTrade(matchTrade(b, a, call))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("orders_matched",
		"order_a", idA,
		"order_b", idB,
		"trade_a", res.Trades[0].ID,
		"trade_b", res.Trades[1].ID,
		"matcher", call.Caller.Hex())
	return res, nil
}

// compatible reports whether a and b cross: each offers the asset the other
// asks for, in at least the amount asked plus the fee it owes the matcher.
func compatible(a, b *order.Order) error {
	if a.AssetOut != b.AssetIn || b.AssetOut != a.AssetIn {
		return fmt.Errorf("orders %d and %d trade different assets: %w", a.ID, b.ID, core.ErrIncompatible)
	}
	if a.AmountOut > b.AmountIn || b.AmountOut > a.AmountIn {
		return fmt.Errorf("orders %d and %d do not cross: %w", a.ID, b.ID, core.ErrIncompatible)
	}
	if b.AmountIn-a.AmountOut < b.MatcherFee || a.AmountIn-b.AmountOut < a.MatcherFee {
		return fmt.Errorf("orders %d and %d cannot cover matcher fees: %w", a.ID, b.ID, core.ErrIncompatible)
	}
	return nil
}

// matchTrade records the settlement of maker's order against counter.
func matchTrade(maker, counter *order.Order, call Call) *trade.Trade {
	return &trade.Trade{
		OrderID:        maker.ID,
		CounterOrderID: counter.ID,
		Maker:          maker.Owner,
		Taker:          counter.Owner,
		Matcher:        call.Caller,
		AssetIn:        maker.AssetIn,
		AmountIn:       counter.AmountOut,
		AssetOut:       maker.AssetOut,
		AmountOut:      maker.AmountOut,
		MatcherFee:     maker.MatcherFee,
	}
}
