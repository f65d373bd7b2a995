package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

// BaseID is the id assigned to the first order.
const BaseID uint64 = 1

type Status uint8

const (
	Active Status = iota
	Fulfilled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Fulfilled:
		return "fulfilled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	switch string(b) {
	case "active":
		*s = Active
	case "fulfilled":
		*s = Fulfilled
	case "cancelled":
		*s = Cancelled
	default:
		return fmt.Errorf("unknown order status %q", b)
	}
	return nil
}

// Order offers AmountIn of AssetIn (held in escrow while Active) in exchange
// for AmountOut of AssetOut. MatcherFee is paid out of AmountIn to whoever
// settles the order.
type Order struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	AssetIn    core.AssetID   `json:"assetIn"`
	AmountIn   uint64         `json:"amountIn"`
	AssetOut   core.AssetID   `json:"assetOut"`
	AmountOut  uint64         `json:"amountOut"`
	MatcherFee uint64         `json:"matcherFee"`
	Status     Status         `json:"status"`
	Height     int64          `json:"height"`
	CreatedAt  int64          `json:"createdAt"` // unix ms
	UpdatedAt  int64          `json:"updatedAt"` // unix ms
}

func (o *Order) IsActive() bool { return o.Status == Active }

func (o *Order) Clone() *Order {
	cp := *o
	return &cp
}
