package limit

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/exchange"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/crypto"
)

// applyTx executes one raw tx. Every tx yields a receipt; the error return is
// reserved for failures that must abort the block.
func (a *App) applyTx(raw []byte, height, ts int64, index int, touched map[common.Address]uint64) (*transaction.Receipt, *exchange.Result, error) {
	r := &transaction.Receipt{Hash: transaction.Hash(raw), Height: height, Index: index}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return a.reject(r, err), nil, nil
	}
	r.Type = tx.Type

	call, err := a.verifier.Verify(tx)
	if err != nil {
		return a.reject(r, err), nil, nil
	}
	r.Caller, r.Nonce = call.Caller, call.Nonce

	// Nonces are strictly increasing per caller. A verified tx consumes its
	// nonce even when the exchange rejects the call.
	if last := a.nonces[call.Caller]; call.Nonce <= last {
		return a.reject(r, fmt.Errorf("nonce %d not above %d: %w", call.Nonce, last, transaction.ErrBadNonce)), nil, nil
	}
	a.nonces[call.Caller] = call.Nonce
	touched[call.Caller] = call.Nonce

	res, err := a.dispatch(tx.Type, call, height, ts)
	if err != nil {
		if isFatal(err) {
			return nil, nil, err
		}
		return a.reject(r, err), nil, nil
	}
	r.Fill(res)
	a.metrics.TxsApplied.WithLabelValues(string(r.Type)).Inc()
	a.metrics.TradesTotal.Add(float64(len(res.Trades)))
	return r, res, nil
}

func (a *App) reject(r *transaction.Receipt, err error) *transaction.Receipt {
	r.Fail(err)
	typ := string(r.Type)
	if typ == "" {
		typ = "unknown"
	}
	a.metrics.TxsRejected.WithLabelValues(typ, r.ErrorKind).Inc()
	a.logger.Infow("tx_rejected",
		"hash", r.Hash.Hex(),
		"type", typ,
		"caller", r.Caller.Hex(),
		"kind", r.ErrorKind,
		"err", err)
	return r
}

// dispatch maps a verified call onto the exchange entry point it names.
func (a *App) dispatch(typ transaction.TxType, call *crypto.CallEIP712, height, ts int64) (*exchange.Result, error) {
	c := exchange.Call{Caller: call.Caller, Height: height, Time: ts}
	if call.Amount > 0 && typ != transaction.TxTypeWithdraw {
		c.Payment = &exchange.Payment{Asset: core.AssetID(call.Asset), Amount: call.Amount}
		c.FromBalance = call.FromBalance
	}

	switch typ {
	case transaction.TxTypeDeposit:
		return a.ex.Deposit(c)
	case transaction.TxTypeWithdraw:
		return a.ex.Withdraw(c, core.AssetID(call.Asset), call.Amount)
	case transaction.TxTypeCreateOrder:
		return a.ex.CreateOrder(c, core.AssetID(call.AssetOut), call.AmountOut, call.MatcherFee)
	case transaction.TxTypeCancelOrder:
		return a.ex.CancelOrder(c, call.OrderID)
	case transaction.TxTypeFulfillOrder:
		return a.ex.FulfillOrder(c, call.OrderID)
	case transaction.TxTypeMatchOrders:
		return a.ex.MatchOrders(c, call.OrderID, call.CounterOrderID)
	default:
		return nil, fmt.Errorf("%w: unknown type %s", transaction.ErrMalformed, typ)
	}
}
