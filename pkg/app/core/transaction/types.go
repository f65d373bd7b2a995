package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/crypto"
)

// TxType names the exchange entry point a transaction invokes
type TxType string

const (
	TxTypeDeposit      TxType = "deposit"
	TxTypeWithdraw     TxType = "withdraw"
	TxTypeCreateOrder  TxType = "create_order"
	TxTypeCancelOrder  TxType = "cancel_order"
	TxTypeFulfillOrder TxType = "fulfill_order"
	TxTypeMatchOrders  TxType = "match_orders"
)

func (t TxType) Valid() bool {
	switch t {
	case TxTypeDeposit, TxTypeWithdraw, TxTypeCreateOrder,
		TxTypeCancelOrder, TxTypeFulfillOrder, TxTypeMatchOrders:
		return true
	}
	return false
}

var (
	ErrMalformed    = errors.New("malformed transaction")
	ErrBadSignature = errors.New("bad signature")
	ErrBadNonce     = errors.New("bad nonce")
)

// SignedTransaction is the wire envelope submitted to the node
type SignedTransaction struct {
	Type      TxType       `json:"type"`
	Call      *CallPayload `json:"call"`
	Signature string       `json:"signature"` // Hex-encoded signature (0x...)
}

// CallPayload carries the signed call fields as strings. Integers accept
// decimal or 0x-hex; assets accept a 0x-prefixed 32-byte id or a ticker.
type CallPayload struct {
	Caller         string `json:"caller"`
	Nonce          string `json:"nonce"`
	Asset          string `json:"asset,omitempty"`
	Amount         string `json:"amount,omitempty"`
	FromBalance    bool   `json:"fromBalance,omitempty"`
	AssetOut       string `json:"assetOut,omitempty"`
	AmountOut      string `json:"amountOut,omitempty"`
	MatcherFee     string `json:"matcherFee,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	CounterOrderID string `json:"counterOrderId,omitempty"`
}

// ParseAsset resolves an asset field. Empty means the zero asset.
func ParseAsset(s string) (core.AssetID, error) {
	switch {
	case s == "":
		return core.AssetID{}, nil
	case strings.HasPrefix(s, "0x"):
		if len(s) != 66 {
			return core.AssetID{}, fmt.Errorf("asset %q is not 32 bytes", s)
		}
		var a core.AssetID
		if err := a.UnmarshalText([]byte(s)); err != nil {
			return core.AssetID{}, fmt.Errorf("asset %q: %w", s, err)
		}
		return a, nil
	default:
		return core.AssetFromSymbol(s), nil
	}
}

func parseUint(field, s string) (uint64, error) {
	v, ok := math.ParseUint64(s)
	if !ok {
		return 0, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

// ToEIP712 converts the payload to the typed call that was signed
func (p *CallPayload) ToEIP712(method TxType) (*crypto.CallEIP712, error) {
	if !common.IsHexAddress(p.Caller) {
		return nil, fmt.Errorf("invalid caller: %q", p.Caller)
	}
	c := &crypto.CallEIP712{
		Method:      string(method),
		Caller:      common.HexToAddress(p.Caller),
		FromBalance: p.FromBalance,
	}
	asset, err := ParseAsset(p.Asset)
	if err != nil {
		return nil, err
	}
	assetOut, err := ParseAsset(p.AssetOut)
	if err != nil {
		return nil, err
	}
	c.Asset, c.AssetOut = common.Hash(asset), common.Hash(assetOut)

	for _, f := range []struct {
		name string
		in   string
		out  *uint64
	}{
		{"nonce", p.Nonce, &c.Nonce},
		{"amount", p.Amount, &c.Amount},
		{"amountOut", p.AmountOut, &c.AmountOut},
		{"matcherFee", p.MatcherFee, &c.MatcherFee},
		{"orderId", p.OrderID, &c.OrderID},
		{"counterOrderId", p.CounterOrderID, &c.CounterOrderID},
	} {
		if *f.out, err = parseUint(f.name, f.in); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FromEIP712Call renders a typed call as a wire payload
func FromEIP712Call(c *crypto.CallEIP712) *CallPayload {
	p := &CallPayload{
		Caller:      c.Caller.Hex(),
		Nonce:       fmt.Sprintf("%d", c.Nonce),
		FromBalance: c.FromBalance,
	}
	if c.Asset != (common.Hash{}) {
		p.Asset = c.Asset.Hex()
	}
	if c.AssetOut != (common.Hash{}) {
		p.AssetOut = c.AssetOut.Hex()
	}
	set := func(dst *string, v uint64) {
		if v != 0 {
			*dst = fmt.Sprintf("%d", v)
		}
	}
	set(&p.Amount, c.Amount)
	set(&p.AmountOut, c.AmountOut)
	set(&p.MatcherFee, c.MatcherFee)
	set(&p.OrderID, c.OrderID)
	set(&p.CounterOrderID, c.CounterOrderID)
	return p
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs structural checks only; amounts and ids are checked by
// the exchange.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	if tx.Call == nil {
		return fmt.Errorf("%s requires call payload", tx.Type)
	}
	if !common.IsHexAddress(tx.Call.Caller) {
		return fmt.Errorf("invalid caller: %q", tx.Call.Caller)
	}
	if tx.Call.Nonce == "" {
		return fmt.Errorf("missing nonce")
	}
	return nil
}

// ParseTransaction decodes and validates a raw JSON transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return tx, nil
}

// Hash is the transaction id: keccak256 of the raw bytes as submitted
func Hash(raw []byte) common.Hash {
	return ethcrypto.Keccak256Hash(raw)
}

// Example:
//   {
//     "type": "create_order",
//     "call": {
//       "caller": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
//       "nonce": "1",
//       "asset": "USDC",
//       "amount": "100",
//       "assetOut": "WETH",
//       "amountOut": "50",
//       "matcherFee": "5"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
