package mempool

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
)

// Bucket is the proposal priority class of a transaction.
type Bucket int

const (
	BucketFunding Bucket = iota // deposit, withdraw
	BucketCancel
	BucketTrade // create, fulfill, match
)

var (
	ErrFull      = errors.New("mempool full")
	ErrDuplicate = errors.New("transaction already pending")
)

// ClassifyRaw reads only the envelope type. Anything unparseable lands in
// BucketTrade and is rejected at execution with a receipt.
func ClassifyRaw(b []byte) Bucket {
	if len(b) == 0 || b[0] != '{' {
		return BucketTrade
	}

	var envelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return BucketTrade
	}

	switch envelope.Type {
	case transaction.TxTypeDeposit, transaction.TxTypeWithdraw:
		return BucketFunding
	case transaction.TxTypeCancelOrder:
		return BucketCancel
	default:
		return BucketTrade
	}
}

// Mempool keeps three FIFO queues drained in order funding -> cancel ->
// trade, so a block sees fresh collateral and cancellations before any order
// can be matched against them.
type Mempool struct {
	mu      sync.Mutex
	queues  [3][][]byte
	pending map[common.Hash]struct{}
	maxTxs  int
}

// NewMempool creates a mempool holding at most maxTxs transactions
// (0 = unbounded).
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{pending: make(map[common.Hash]struct{}), maxTxs: maxTxs}
}

// PushRaw classifies and enqueues a tx and returns its hash.
func (m *Mempool) PushRaw(b []byte) (common.Hash, error) {
	cp := append([]byte(nil), b...)
	h := transaction.Hash(cp)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[h]; ok {
		return h, ErrDuplicate
	}
	if m.maxTxs > 0 && len(m.pending) >= m.maxTxs {
		return h, ErrFull
	}
	bucket := ClassifyRaw(cp)
	m.queues[bucket] = append(m.queues[bucket], cp)
	m.pending[h] = struct{}{}
	return h, nil
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing them from the mempool. A bucket stops at the first tx that does
// not fit so FIFO order within it is preserved. A head tx larger than
// maxBytes can never be proposed; it is removed and its hash reported in
// dropped.
func (m *Mempool) SelectForProposal(maxBytes int64) (txs [][]byte, dropped []common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var used int64
	for i := range m.queues {
		q := &m.queues[i]
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && n > maxBytes {
				h := transaction.Hash(tx)
				*q = (*q)[1:]
				delete(m.pending, h)
				dropped = append(dropped, h)
				continue
			}
			if maxBytes > 0 && used+n > maxBytes {
				break
			}
			txs = append(txs, tx)
			used += n
			*q = (*q)[1:]
			delete(m.pending, transaction.Hash(tx))
		}
	}
	return txs, dropped
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
