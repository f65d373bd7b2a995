package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
)

// Key schema:
//
//   bal:<address>:<asset>  -> ledger.Balance (JSON)
//   esc:<orderID>          -> ledger.Escrow (JSON)
//   tot:<asset>            -> ledger.Totals (JSON)
//   ord:<orderID>          -> order.Order (JSON)
//   trade:<tradeID>        -> trade.Trade (JSON)
//   nonce:<address>        -> uint64 (8 bytes big-endian)
//   rcpt:<txHash>          -> transaction.Receipt (JSON)
//   meta:head              -> BlockMeta (gob)
//
// Numeric ids are zero-padded to 20 digits so iteration follows id order.

const (
	prefixBalance = "bal:"
	prefixEscrow  = "esc:"
	prefixTotals  = "tot:"
	prefixOrder   = "ord:"
	prefixTrade   = "trade:"
	prefixNonce   = "nonce:"
	prefixReceipt = "rcpt:"
	keyHead       = "meta:head"
)

func balanceKey(owner common.Address, asset core.AssetID) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, owner.Hex(), asset.Hex()))
}

func escrowKey(orderID uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEscrow, orderID))
}

func totalsKey(asset core.AssetID) []byte {
	return []byte(prefixTotals + asset.Hex())
}

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func tradeKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixTrade, id))
}

func nonceKey(addr common.Address) []byte {
	return []byte(prefixNonce + addr.Hex())
}

func receiptKey(h common.Hash) []byte {
	return []byte(prefixReceipt + h.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
