package exchange

import (
	"fmt"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
)

// Deposit credits the attached payment to the caller's free balance.
func (e *Exchange) Deposit(call Call) (*Result, error) {
	res, err := e.execute("deposit", call, func(t *txn) error {
		p := call.Payment
		if p == nil || p.Amount == 0 {
			return fmt.Errorf("nothing attached: %w", core.ErrInvalidAmount)
		}
		if call.FromBalance {
			return fmt.Errorf("deposit cannot be funded from balance: %w", core.ErrInvalidAmount)
		}
		return t.ledger.Deposit(call.Caller, p.Asset, p.Amount)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("deposit",
		"owner", call.Caller.Hex(),
		"asset", call.Payment.Asset.Hex(),
		"amount", call.Payment.Amount)
	return res, nil
}

// Withdraw pays amount of asset from the caller's free balance back to the
// caller's host wallet.
func (e *Exchange) Withdraw(call Call, asset core.AssetID, amount uint64) (*Result, error) {
	res, err := e.execute("withdraw", call, func(t *txn) error {
		if err := t.rejectPayment(); err != nil {
			return err
		}
		if err := t.ledger.Withdraw(call.Caller, asset, amount); err != nil {
			return err
		}
		t.transfers = append(t.transfers, Transfer{
			To:     call.Caller,
			Asset:  asset,
			Amount: amount,
			Kind:   TransferWithdrawal,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debugw("withdraw", "owner", call.Caller.Hex(), "asset", asset.Hex(), "amount", amount)
	return res, nil
}

// CreateOrder escrows the attached payment as the order's (AssetIn, AmountIn)
// and records an Active order asking for amountOut of assetOut. matcherFee is
// denominated in AssetIn. Result.OrderID carries the new id.
func (e *Exchange) CreateOrder(call Call, assetOut core.AssetID, amountOut, matcherFee uint64) (*Result, error) {
	res, err := e.execute("create_order", call, func(t *txn) error {
		p := call.Payment
		if p == nil || p.Amount == 0 {
			return fmt.Errorf("amount in is zero: %w", core.ErrInvalidAmount)
		}
		if amountOut == 0 {
			return fmt.Errorf("amount out is zero: %w", core.ErrInvalidAmount)
		}
		if matcherFee > p.Amount {
			return fmt.Errorf("fee %d exceeds amount in %d: %w", matcherFee, p.Amount, core.ErrInvalidFee)
		}
		if err := t.fund(); err != nil {
			return err
		}
		o := &order.Order{
			Owner:      call.Caller,
			AssetIn:    p.Asset,
			AmountIn:   p.Amount,
			AssetOut:   assetOut,
			AmountOut:  amountOut,
			MatcherFee: matcherFee,
			Status:     order.Active,
			Height:     call.Height,
			CreatedAt:  call.Time,
			UpdatedAt:  call.Time,
		}
		t.createOrder(o)
		return t.lockAttachment(o.ID)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("order_created",
		"id", res.OrderID,
		"owner", call.Caller.Hex(),
		"asset_in", call.Payment.Asset.Hex(),
		"amount_in", call.Payment.Amount,
		"asset_out", assetOut.Hex(),
		"amount_out", amountOut,
		"matcher_fee", matcherFee)
	return res, nil
}

// CancelOrder refunds the full escrow of an active order to its owner. Only
// the owner may cancel.
func (e *Exchange) CancelOrder(call Call, id uint64) (*Result, error) {
	res, err := e.execute("cancel_order", call, func(t *txn) error {
		if err := t.rejectPayment(); err != nil {
			return err
		}
		o, err := t.order(id)
		if err != nil {
			return err
		}
		if o.Owner != call.Caller {
			return fmt.Errorf("order %d owned by %s: %w", id, o.Owner.Hex(), core.ErrUnauthorized)
		}
		if !o.IsActive() {
			return fmt.Errorf("order %d is %s: %w", id, o.Status, core.ErrInvalidState)
		}
		if err := t.settle(Instruction{
			From:    EscrowOf(id),
			To:      o.Owner,
			Asset:   o.AssetIn,
			Amount:  o.AmountIn,
			Kind:    TransferRefund,
			OrderID: id,
		}); err != nil {
			return err
		}
		t.finish(o, order.Cancelled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Infow("order_cancelled", "id", id, "owner", call.Caller.Hex())
	return res, nil
}
