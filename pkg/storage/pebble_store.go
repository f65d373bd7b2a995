package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core/exchange"
	"github.com/uhyunpark/limitorders/pkg/app/core/ledger"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
)

// BlockMeta is the head of the committed chain.
type BlockMeta struct {
	Height  int64
	Time    int64 // unix ms
	AppHash common.Hash
	TxCount int
}

// PebbleStore persists exchange state, receipts, nonces and the chain head.
//
// Outside a block every Persist is its own synced batch. Between BeginBlock
// and CommitBlock all writes share one batch, so a block is durable either
// completely or not at all.
type PebbleStore struct {
	db *pebble.DB

	mu    sync.Mutex
	block *pebble.Batch
}

var _ exchange.Persister = (*PebbleStore)(nil)

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,                  // 32MB memtable
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		LBaseMaxBytes:            64 << 20,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	s.AbortBlock()
	return s.db.Close()
}

// BeginBlock opens the batch that Persist and CommitBlock write into.
func (s *PebbleStore) BeginBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.block != nil {
		s.block.Close()
	}
	s.block = s.db.NewBatch()
}

// AbortBlock drops everything written since BeginBlock.
func (s *PebbleStore) AbortBlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.block != nil {
		s.block.Close()
		s.block = nil
	}
}

// Persist writes a committed ChangeSet. Zero balances and released escrows
// are deleted.
func (s *PebbleStore) Persist(cs *exchange.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.block != nil {
		return writeChangeSet(s.block, cs)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := writeChangeSet(b, cs); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

func writeChangeSet(b *pebble.Batch, cs *exchange.ChangeSet) error {
	for _, bal := range cs.Ledger.Balances {
		key := balanceKey(bal.Owner, bal.Asset)
		if bal.Amount == 0 {
			if err := b.Delete(key, nil); err != nil {
				return fmt.Errorf("failed to delete balance: %w", err)
			}
			continue
		}
		if err := setJSON(b, key, bal); err != nil {
			return fmt.Errorf("failed to save balance: %w", err)
		}
	}
	for _, esc := range cs.Ledger.Escrows {
		key := escrowKey(esc.OrderID)
		if esc.Amount == 0 {
			if err := b.Delete(key, nil); err != nil {
				return fmt.Errorf("failed to delete escrow: %w", err)
			}
			continue
		}
		if err := setJSON(b, key, esc); err != nil {
			return fmt.Errorf("failed to save escrow: %w", err)
		}
	}
	for _, tot := range cs.Ledger.Totals {
		if err := setJSON(b, totalsKey(tot.Asset), tot); err != nil {
			return fmt.Errorf("failed to save totals: %w", err)
		}
	}
	for _, o := range cs.Orders {
		if err := setJSON(b, orderKey(o.ID), o); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
	}
	for _, t := range cs.Trades {
		if err := setJSON(b, tradeKey(t.ID), t); err != nil {
			return fmt.Errorf("failed to save trade: %w", err)
		}
	}
	return nil
}

// LoadSnapshot reads the full exchange state for exchange.Restore.
func (s *PebbleStore) LoadSnapshot() (*exchange.Snapshot, error) {
	balances, err := scanJSON[ledger.Balance](s.db, prefixBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to load balances: %w", err)
	}
	escrows, err := scanJSON[ledger.Escrow](s.db, prefixEscrow)
	if err != nil {
		return nil, fmt.Errorf("failed to load escrows: %w", err)
	}
	totals, err := scanJSON[ledger.Totals](s.db, prefixTotals)
	if err != nil {
		return nil, fmt.Errorf("failed to load totals: %w", err)
	}
	orders, err := scanJSON[*order.Order](s.db, prefixOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	trades, err := scanJSON[*trade.Trade](s.db, prefixTrade)
	if err != nil {
		return nil, fmt.Errorf("failed to load trades: %w", err)
	}
	return &exchange.Snapshot{
		Balances: balances,
		Escrows:  escrows,
		Totals:   totals,
		Orders:   orders,
		Trades:   trades,
	}, nil
}

// CommitBlock records the block's receipts, the callers' latest nonces and
// the new head together with every ChangeSet persisted since BeginBlock.
// Without an open block it commits a batch of its own.
func (s *PebbleStore) CommitBlock(meta BlockMeta, receipts []*transaction.Receipt, nonces map[common.Address]uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.block
	s.block = nil
	if b == nil {
		b = s.db.NewBatch()
	}
	defer b.Close()

	for _, r := range receipts {
		if err := setJSON(b, receiptKey(r.Hash), r); err != nil {
			return fmt.Errorf("failed to save receipt: %w", err)
		}
	}
	for addr, n := range nonces {
		if err := b.Set(nonceKey(addr), encodeUint64(n), nil); err != nil {
			return fmt.Errorf("failed to save nonce: %w", err)
		}
	}
	head, err := encodeGob(meta)
	if err != nil {
		return fmt.Errorf("encode block meta: %w", err)
	}
	if err := b.Set([]byte(keyHead), head, nil); err != nil {
		return fmt.Errorf("failed to save head: %w", err)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", meta.Height, err)
	}
	return nil
}

// LastBlock returns the committed head, false on a fresh database.
func (s *PebbleStore) LastBlock() (BlockMeta, bool, error) {
	val, closer, err := s.db.Get([]byte(keyHead))
	if err == pebble.ErrNotFound {
		return BlockMeta{}, false, nil
	}
	if err != nil {
		return BlockMeta{}, false, fmt.Errorf("failed to get head: %w", err)
	}
	defer closer.Close()

	var meta BlockMeta
	if err := decodeGob(val, &meta); err != nil {
		return BlockMeta{}, false, fmt.Errorf("decode head: %w", err)
	}
	return meta, true, nil
}

// Receipt loads a receipt by tx hash
// Returns nil if the transaction is unknown
func (s *PebbleStore) Receipt(h common.Hash) (*transaction.Receipt, error) {
	data, closer, err := s.db.Get(receiptKey(h))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	defer closer.Close()

	var r transaction.Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &r, nil
}

// LoadNonces returns the last accepted nonce of every caller.
func (s *PebbleStore) LoadNonces() (map[common.Address]uint64, error) {
	prefix := []byte(prefixNonce)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	nonces := make(map[common.Address]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		addr := string(iter.Key()[len(prefix):])
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("bad nonce key %q", iter.Key())
		}
		n, err := decodeUint64(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("nonce of %s: %w", addr, err)
		}
		nonces[common.HexToAddress(addr)] = n
	}
	return nonces, iter.Error()
}

func scanJSON[T any](db *pebble.DB, prefix string) ([]T, error) {
	p := []byte(prefix)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: p,
		UpperBound: keyUpperBound(p),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", iter.Key(), err)
		}
		out = append(out, v)
	}
	return out, iter.Error()
}
