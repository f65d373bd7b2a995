// Package limit is the limit-order exchange application: it admits signed
// transactions into the mempool, executes finalized blocks against the
// exchange, and records receipts, nonces and the app hash.
package limit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitorders/pkg/abci"
	"github.com/uhyunpark/limitorders/pkg/app/core/exchange"
	"github.com/uhyunpark/limitorders/pkg/app/core/mempool"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/crypto"
	"github.com/uhyunpark/limitorders/pkg/events"
	"github.com/uhyunpark/limitorders/pkg/metrics"
	"github.com/uhyunpark/limitorders/pkg/storage"
)

// Options wires the app's collaborators. Only ChainID is required; nil
// collaborators fall back to in-memory or no-op versions.
type Options struct {
	ChainID       int64
	MaxMempoolTxs int
	Store         *storage.PebbleStore
	Logger        *zap.SugaredLogger
	Metrics       *metrics.Metrics
	Publisher     events.Publisher
}

// BlockEvents is everything a finalized block changed, for subscribers.
type BlockEvents struct {
	Height   int64
	Time     int64
	Receipts []*transaction.Receipt
	Orders   []*order.Order
	Trades   []*trade.Trade
}

type App struct {
	mu       sync.Mutex
	ex       *exchange.Exchange
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	store    *storage.PebbleStore
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*transaction.Receipt // memory mode only
	head     storage.BlockMeta

	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	publisher events.Publisher
	onBlock   []func(*BlockEvents)
}

var _ abci.Application = (*App)(nil)

// NewApp builds the app and, when a store is given, restores the last
// committed state from it.
func NewApp(opts Options) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}

	a := &App{
		mempool:   mempool.NewMempool(opts.MaxMempoolTxs),
		verifier:  transaction.NewVerifier(crypto.DomainForChain(opts.ChainID)),
		store:     opts.Store,
		nonces:    make(map[common.Address]uint64),
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		publisher: opts.Publisher,
	}

	if opts.Store == nil {
		a.ex = exchange.New(opts.Logger, nil)
		a.receipts = make(map[common.Hash]*transaction.Receipt)
		return a, nil
	}

	a.ex = exchange.New(opts.Logger, opts.Store)
	snap, err := opts.Store.LoadSnapshot()
	if err != nil {
		return nil, err
	}
	if err := a.ex.Restore(snap); err != nil {
		return nil, err
	}
	if a.nonces, err = opts.Store.LoadNonces(); err != nil {
		return nil, err
	}
	head, ok, err := opts.Store.LastBlock()
	if err != nil {
		return nil, err
	}
	if ok {
		a.head = head
	}
	a.refreshGauges()
	a.logger.Infow("app_restored", "height", a.head.Height, "apphash", a.head.AppHash.Hex(), "accounts", len(a.nonces))
	return a, nil
}

// Exchange exposes the exchange for read-only queries.
func (a *App) Exchange() *exchange.Exchange { return a.ex }

// OnBlock registers fn to run after every committed block.
func (a *App) OnBlock(fn func(*BlockEvents)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onBlock = append(a.onBlock, fn)
}

// PushTx admits a raw transaction into the mempool after a structural check.
// Signatures, nonces and exchange rules are checked at execution.
func (a *App) PushTx(raw []byte) (common.Hash, error) {
	if _, err := transaction.ParseTransaction(raw); err != nil {
		return transaction.Hash(raw), err
	}
	h, err := a.mempool.PushRaw(raw)
	a.metrics.MempoolSize.Set(float64(a.mempool.Len()))
	return h, err
}

func (a *App) MempoolLen() int { return a.mempool.Len() }

// Head returns the last committed block.
func (a *App) Head() storage.BlockMeta {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.head
}

// Nonce returns the last accepted nonce of addr.
func (a *App) Nonce(addr common.Address) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonces[addr]
}

// Receipt returns the receipt of a finalized tx, nil if unknown.
func (a *App) Receipt(h common.Hash) (*transaction.Receipt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store != nil {
		return a.store.Receipt(h)
	}
	return a.receipts[h], nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs, dropped := a.mempool.SelectForProposal(req.MaxTxBytes)
	for _, h := range dropped {
		a.logger.Warnw("tx_dropped_oversize", "hash", h.Hex(), "max_block_bytes", req.MaxTxBytes)
	}
	a.metrics.MempoolSize.Set(float64(a.mempool.Len()))
	return abci.ResponsePrepareProposal{Txs: txs}
}

// ProcessProposal accepts any proposal at the next height. Individual bad
// transactions fail with a receipt instead of rejecting the block.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return abci.ResponseProcessProposal{Accept: req.Height == a.head.Height+1}
}

// FinalizeBlock executes req.Txs in order and commits the block. A returned
// error means storage failed and the node must stop: memory may be ahead of
// disk until restart.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	start := time.Now()
	a.mu.Lock()

	if req.Height != a.head.Height+1 {
		a.mu.Unlock()
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("finalize height %d after %d", req.Height, a.head.Height)
	}
	if a.store != nil {
		a.store.BeginBlock()
	}

	blk := &BlockEvents{Height: req.Height, Time: req.Timestamp}
	touched := make(map[common.Address]uint64)
	results := make([]abci.TxResult, 0, len(req.Txs))
	for i, raw := range req.Txs {
		r, res, err := a.applyTx(raw, req.Height, req.Timestamp, i, touched)
		if err != nil {
			if a.store != nil {
				a.store.AbortBlock()
			}
			a.mu.Unlock()
			a.logger.Errorw("block_aborted", "height", req.Height, "index", i, "err", err)
			return abci.ResponseFinalizeBlock{}, err
		}
		blk.Receipts = append(blk.Receipts, r)
		if res != nil {
			blk.Orders = append(blk.Orders, res.Orders...)
			blk.Trades = append(blk.Trades, res.Trades...)
		}
		results = append(results, abci.TxResult{Hash: r.Hash, OK: r.Status == transaction.StatusSuccess, ErrorKind: r.ErrorKind})
	}

	meta := storage.BlockMeta{
		Height:  req.Height,
		Time:    req.Timestamp,
		AppHash: a.computeStateHash(req.Height, req.Timestamp),
		TxCount: len(req.Txs),
	}
	if a.store != nil {
		if err := a.store.CommitBlock(meta, blk.Receipts, touched); err != nil {
			a.mu.Unlock()
			a.logger.Errorw("block_commit_failed", "height", req.Height, "err", err)
			return abci.ResponseFinalizeBlock{}, err
		}
	} else {
		for _, r := range blk.Receipts {
			a.receipts[r.Hash] = r
		}
	}
	a.head = meta
	hooks := append([]func(*BlockEvents){}, a.onBlock...)
	a.mu.Unlock()

	a.metrics.BlockHeight.Set(float64(req.Height))
	a.metrics.BlockTxs.Observe(float64(len(req.Txs)))
	a.metrics.FinalizeDuration.Observe(time.Since(start).Seconds())
	a.refreshGauges()

	if len(req.Txs) > 0 {
		a.logger.Infow("finalize_block",
			"height", req.Height,
			"txs", len(req.Txs),
			"trades", len(blk.Trades),
			"apphash", meta.AppHash.Hex())
	}

	a.publish(blk)
	for _, fn := range hooks {
		fn(blk)
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: meta.AppHash}, nil
}

func (a *App) refreshGauges() {
	a.metrics.ActiveOrders.Set(float64(a.ex.Stats().ActiveOrders))
}

func (a *App) publish(blk *BlockEvents) {
	var evs []events.Event
	for _, r := range blk.Receipts {
		evs = append(evs, events.Event{Kind: events.KindReceipt, Height: blk.Height, Key: r.Hash.Hex(), Payload: r})
	}
	for _, o := range blk.Orders {
		evs = append(evs, events.Event{Kind: events.KindOrder, Height: blk.Height, Key: fmt.Sprintf("%d", o.ID), Payload: o})
	}
	for _, t := range blk.Trades {
		evs = append(evs, events.Event{Kind: events.KindTrade, Height: blk.Height, Key: fmt.Sprintf("%d", t.ID), Payload: t})
	}
	if len(evs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status := "ok"
	if err := a.publisher.Publish(ctx, evs...); err != nil {
		status = "error"
		a.logger.Warnw("publish_failed", "height", blk.Height, "events", len(evs), "err", err)
	}
	a.metrics.EventsPublished.WithLabelValues("block", status).Add(float64(len(evs)))
}

// isFatal reports whether err must abort the block rather than fail one tx.
func isFatal(err error) bool {
	return errors.Is(err, exchange.ErrPersist)
}
