package api

import (
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// SubmitTxResponse is returned by POST /api/v1/txs. The tx is only admitted;
// its outcome is in the receipt once a block includes it.
type SubmitTxResponse struct {
	Status string `json:"status"` // "pending"
	Hash   string `json:"hash"`
}

// BalanceInfo is the free balance of one account in one asset
type BalanceInfo struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance uint64 `json:"balance"`
}

// OrderPage is a fixed-length listing window. Missing slots hold zero records.
type OrderPage struct {
	Offset uint64         `json:"offset"`
	Orders []*order.Order `json:"orders"`
}

type TradePage struct {
	Offset uint64         `json:"offset"`
	Trades []*trade.Trade `json:"trades"`
}

// ChainStatus represents the state of the local block producer
type ChainStatus struct {
	Height       int64  `json:"height"`
	Time         int64  `json:"time"` // Unix ms of the last block
	AppHash      string `json:"appHash"`
	MempoolSize  int    `json:"mempoolSize"`
	Orders       int    `json:"orders"`
	ActiveOrders int    `json:"activeOrders"`
	Trades       int    `json:"trades"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"` // exchange error kind, e.g. "NotFound"
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope for every pushed message
type WSMessage struct {
	Type    string      `json:"type"` // "trade", "order", "receipt", "subscribed", "unsubscribed", "error"
	Channel string      `json:"channel"`
	Height  int64       `json:"height"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["trades", "orders", "account:0x..."]
}
