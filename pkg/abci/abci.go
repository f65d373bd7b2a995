// Package abci is the boundary between the block producer and the exchange
// application, shaped after the ABCI++ proposal/finalize calls.
package abci

import "github.com/ethereum/go-ethereum/common"

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix ms
	Txs       [][]byte
}

// TxResult is the per-transaction outcome, in block order.
type TxResult struct {
	Hash      common.Hash
	OK        bool
	ErrorKind string
}

type ResponseFinalizeBlock struct {
	TxResults []TxResult
	AppHash   common.Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	// FinalizeBlock executes txs in order. Rejected txs are reported in
	// TxResults; an error means state could not be committed.
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
