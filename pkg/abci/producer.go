package abci

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/limitorders/pkg/storage"
	"github.com/uhyunpark/limitorders/pkg/util"
)

// Producer drives a single-node chain: every MinBlockTime it asks the app for
// a proposal, checks it, and finalizes it as the next height.
type Producer struct {
	App          Application
	Clock        util.Clock
	MinBlockTime time.Duration
	MaxTxBytes   int64
	// SkipEmpty leaves the height unchanged when the mempool is empty.
	SkipEmpty bool

	Logger *zap.SugaredLogger
	WAL    storage.WAL

	// OnCommit runs after each finalized block.
	OnCommit func(height int64, resp ResponseFinalizeBlock)

	height int64
}

// NewProducer starts producing after lastHeight.
func NewProducer(app Application, lastHeight int64) *Producer {
	return &Producer{
		App:          app,
		Clock:        util.RealClock{},
		MinBlockTime: 200 * time.Millisecond,
		MaxTxBytes:   1 << 24,
		SkipEmpty:    true,
		Logger:       zap.NewNop().Sugar(),
		WAL:          storage.NewNopWAL(),
		height:       lastHeight,
	}
}

// Height returns the last finalized height.
func (p *Producer) Height() int64 { return p.height }

// Run produces blocks until ctx is cancelled or a block fails to commit.
func (p *Producer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.Clock.After(p.MinBlockTime):
		}
		if _, err := p.Step(); err != nil {
			return err
		}
	}
}

// Step produces at most one block and reports whether it did.
func (p *Producer) Step() (bool, error) {
	next := p.height + 1
	prop := p.App.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: p.MaxTxBytes})
	if len(prop.Txs) == 0 && p.SkipEmpty {
		return false, nil
	}

	if !p.App.ProcessProposal(RequestProcessProposal{Height: next, Txs: prop.Txs}).Accept {
		p.Logger.Warnw("proposal_rejected", "height", next, "txs", len(prop.Txs))
		return false, nil
	}

	ts := p.Clock.Now().UnixMilli()
	resp, err := p.App.FinalizeBlock(RequestFinalizeBlock{
		Height:    next,
		Timestamp: ts,
		Txs:       prop.Txs,
	})
	if err != nil {
		p.Logger.Errorw("finalize_failed", "height", next, "err", err)
		return false, fmt.Errorf("finalize block %d: %w", next, err)
	}
	p.height = next

	entry := storage.CommitEntry{Height: next, Time: ts, Txs: len(prop.Txs), AppHash: resp.AppHash}
	if err := p.WAL.Append(entry); err != nil {
		p.Logger.Warnw("wal_append_failed", "height", next, "err", err)
	}
	p.Logger.Debugw("commit", "height", next, "txs", len(prop.Txs), "apphash", resp.AppHash.Hex())
	if p.OnCommit != nil {
		p.OnCommit(next, resp)
	}
	return true, nil
}
