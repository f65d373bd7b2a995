package abci

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/storage"
	"github.com/uhyunpark/limitorders/pkg/util"
)

type fakeApp struct {
	mu        sync.Mutex
	pending   [][]byte
	reject    bool
	failAt    int64
	finalized []RequestFinalizeBlock
}

func (a *fakeApp) PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal {
	a.mu.Lock()
	defer a.mu.Unlock()
	txs := a.pending
	a.pending = nil
	return ResponsePrepareProposal{Txs: txs}
}

func (a *fakeApp) ProcessProposal(RequestProcessProposal) ResponseProcessProposal {
	return ResponseProcessProposal{Accept: !a.reject}
}

func (a *fakeApp) FinalizeBlock(req RequestFinalizeBlock) (ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if req.Height == a.failAt {
		return ResponseFinalizeBlock{}, errors.New("disk full")
	}
	a.finalized = append(a.finalized, req)
	return ResponseFinalizeBlock{AppHash: common.BigToHash(common.Big1)}, nil
}

func (a *fakeApp) push(tx string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, []byte(tx))
}

type memWAL struct{ entries []storage.CommitEntry }

func (w *memWAL) Append(e storage.CommitEntry) error {
	w.entries = append(w.entries, e)
	return nil
}

func newTestProducer(app *fakeApp, last int64) (*Producer, *util.ManualClock) {
	clock := util.NewManualClock(time.UnixMilli(1_000_000))
	p := NewProducer(app, last)
	p.Clock = clock
	return p, clock
}

func TestStepSkipsEmptyBlocks(t *testing.T) {
	app := &fakeApp{}
	p, _ := newTestProducer(app, 0)

	produced, err := p.Step()
	if err != nil || produced {
		t.Fatalf("Step on empty mempool = %v, %v", produced, err)
	}
	if p.Height() != 0 {
		t.Fatalf("height = %d, want 0", p.Height())
	}

	p.SkipEmpty = false
	if produced, _ := p.Step(); !produced || p.Height() != 1 {
		t.Fatalf("empty block not produced with SkipEmpty=false")
	}
}

func TestStepFinalizesNextHeight(t *testing.T) {
	app := &fakeApp{}
	p, clock := newTestProducer(app, 41)
	wal := &memWAL{}
	p.WAL = wal
	var committed []int64
	p.OnCommit = func(h int64, _ ResponseFinalizeBlock) { committed = append(committed, h) }

	app.push("a")
	app.push("b")
	if produced, err := p.Step(); err != nil || !produced {
		t.Fatalf("Step = %v, %v", produced, err)
	}

	if len(app.finalized) != 1 {
		t.Fatalf("finalized %d blocks", len(app.finalized))
	}
	req := app.finalized[0]
	if req.Height != 42 || len(req.Txs) != 2 || req.Timestamp != clock.Now().UnixMilli() {
		t.Fatalf("finalize request = %+v", req)
	}
	if len(committed) != 1 || committed[0] != 42 {
		t.Fatalf("OnCommit heights = %v", committed)
	}
	if len(wal.entries) != 1 || wal.entries[0].Height != 42 || wal.entries[0].Txs != 2 || wal.entries[0].Time != req.Timestamp {
		t.Fatalf("wal = %+v", wal.entries)
	}
}

func TestStepRejectedProposal(t *testing.T) {
	app := &fakeApp{reject: true}
	p, _ := newTestProducer(app, 0)
	app.push("a")

	if produced, err := p.Step(); produced || err != nil {
		t.Fatalf("Step = %v, %v", produced, err)
	}
	if len(app.finalized) != 0 || p.Height() != 0 {
		t.Fatal("rejected proposal was finalized")
	}
}

func TestRunStopsOnFinalizeError(t *testing.T) {
	app := &fakeApp{failAt: 2}
	p, _ := newTestProducer(app, 0)
	p.SkipEmpty = false

	err := p.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "finalize block 2") {
		t.Fatalf("Run err = %v", err)
	}
	if p.Height() != 1 {
		t.Fatalf("height = %d, want 1", p.Height())
	}
}

func TestRunHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProducer(&fakeApp{}, 0)
	p.MinBlockTime = time.Hour
	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run err = %v", err)
	}
}
