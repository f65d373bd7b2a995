// Package core holds the primitives shared by the ledger, stores and exchange.
package core

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// PageSize is the fixed window length returned by listing queries.
const PageSize = 10

// AssetID identifies a fungible asset held by the exchange.
type AssetID common.Hash

// HexToAsset parses a 0x-prefixed 32-byte asset id.
func HexToAsset(s string) AssetID { return AssetID(common.HexToHash(s)) }

// AssetFromSymbol derives a deterministic asset id from a ticker (devnet convenience).
func AssetFromSymbol(symbol string) AssetID {
	return AssetID(crypto.Keccak256Hash([]byte(symbol)))
}

func (a AssetID) Hex() string    { return common.Hash(a).Hex() }
func (a AssetID) String() string { return a.Hex() }
func (a AssetID) Bytes() []byte  { return common.Hash(a).Bytes() }

func (a AssetID) MarshalText() ([]byte, error) {
	return hexutil.Bytes(a[:]).MarshalText()
}

func (a *AssetID) UnmarshalText(input []byte) error {
	var h common.Hash
	if err := h.UnmarshalText(input); err != nil {
		return err
	}
	*a = AssetID(h)
	return nil
}

// Error kinds surfaced by exchange calls. Call sites wrap them with context;
// callers match with errors.Is.
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverflow          = errors.New("arithmetic overflow")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrIncompatible      = errors.New("incompatible orders")
	ErrInvalidFee        = errors.New("invalid matcher fee")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrOverflow, "Overflow"},
	{ErrNotFound, "NotFound"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidState, "InvalidState"},
	{ErrAmountMismatch, "AmountMismatch"},
	{ErrIncompatible, "Incompatible"},
	{ErrInvalidFee, "InvalidFee"},
}

// ErrorKind names the error kind wrapped by err, "Internal" for anything else
// and "" for nil.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// Window fills a PageSize slice with the records at ids offset, offset+1, ...
// Missing slots keep the zero value. Ids past the uint64 range are never read.
func Window[T any](offset uint64, get func(id uint64) (T, bool)) []T {
	out := make([]T, PageSize)
	for i := range out {
		id := offset + uint64(i)
		if id < offset {
			break
		}
		if v, ok := get(id); ok {
			out[i] = v
		}
	}
	return out
}
