package transaction

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/exchange"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Receipt records the outcome of one transaction in a block
type Receipt struct {
	Hash      common.Hash         `json:"hash"`
	Type      TxType              `json:"type"`
	Caller    common.Address      `json:"caller"`
	Nonce     uint64              `json:"nonce"`
	Status    Status              `json:"status"`
	ErrorKind string              `json:"errorKind,omitempty"`
	Error     string              `json:"error,omitempty"`
	OrderID   uint64              `json:"orderId,omitempty"`
	TradeIDs  []uint64            `json:"tradeIds,omitempty"`
	Transfers []exchange.Transfer `json:"transfers,omitempty"`
	Height    int64               `json:"height"`
	Index     int                 `json:"index"`
}

// ErrorKind extends core.ErrorKind with envelope failures
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformed):
		return "Malformed"
	case errors.Is(err, ErrBadSignature):
		return "BadSignature"
	case errors.Is(err, ErrBadNonce):
		return "BadNonce"
	}
	return core.ErrorKind(err)
}

// Fill copies the committed effects of res into the receipt
func (r *Receipt) Fill(res *exchange.Result) {
	r.Status = StatusSuccess
	r.OrderID = res.OrderID
	for _, t := range res.Trades {
		r.TradeIDs = append(r.TradeIDs, t.ID)
	}
	r.Transfers = res.Transfers
}

// Fail marks the receipt failed with err's kind
func (r *Receipt) Fail(err error) {
	r.Status = StatusFailed
	r.ErrorKind = ErrorKind(err)
	r.Error = err.Error()
}
