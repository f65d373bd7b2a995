package limit

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/abci"
	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/crypto"
	"github.com/uhyunpark/limitorders/pkg/storage"
)

const testChainID = 1337

var (
	usdc = core.AssetFromSymbol("USDC")
	weth = core.AssetFromSymbol("WETH")
)

func newTestApp(t *testing.T, store *storage.PebbleStore) *App {
	t.Helper()
	a, err := NewApp(Options{ChainID: testChainID, Store: store})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	return a
}

func key(t *testing.T, seed string) *crypto.Signer {
	t.Helper()
	s, err := crypto.FromSeed(seed)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func signTx(t *testing.T, signer *crypto.Signer, call crypto.CallEIP712) []byte {
	t.Helper()
	call.Caller = signer.Address()
	tx, err := transaction.Sign(crypto.NewEIP712Signer(crypto.DomainForChain(testChainID)), signer, &call)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

// finalize runs txs as the next block and returns the receipts in order.
func finalize(t *testing.T, a *App, txs ...[]byte) []*transaction.Receipt {
	t.Helper()
	h := a.Head().Height + 1
	resp, err := a.FinalizeBlock(abci.RequestFinalizeBlock{Height: h, Timestamp: h * 1000, Txs: txs})
	if err != nil {
		t.Fatalf("FinalizeBlock(%d): %v", h, err)
	}
	out := make([]*transaction.Receipt, len(resp.TxResults))
	for i, res := range resp.TxResults {
		r, err := a.Receipt(res.Hash)
		if err != nil || r == nil {
			t.Fatalf("receipt %s: %v", res.Hash.Hex(), err)
		}
		out[i] = r
	}
	return out
}

func wantSuccess(t *testing.T, rs ...*transaction.Receipt) {
	t.Helper()
	for _, r := range rs {
		if r.Status != transaction.StatusSuccess {
			t.Fatalf("%s tx %s failed: %s (%s)", r.Type, r.Hash.Hex(), r.ErrorKind, r.Error)
		}
	}
}

func TestEndToEndFulfill(t *testing.T) {
	a := newTestApp(t, nil)
	alice, bob := key(t, "alice"), key(t, "bob")

	rs := finalize(t, a,
		signTx(t, alice, crypto.CallEIP712{Method: "create_order", Nonce: 1,
			Asset: common.Hash(usdc), Amount: 100, AssetOut: common.Hash(weth), AmountOut: 50, MatcherFee: 5}),
	)
	wantSuccess(t, rs...)
	if rs[0].OrderID != 1 {
		t.Fatalf("order id = %d, want 1", rs[0].OrderID)
	}

	rs = finalize(t, a,
		signTx(t, bob, crypto.CallEIP712{Method: "fulfill_order", Nonce: 1,
			Asset: common.Hash(weth), Amount: 50, OrderID: 1}),
	)
	wantSuccess(t, rs...)
	if len(rs[0].TradeIDs) != 1 || len(rs[0].Transfers) != 2 {
		t.Fatalf("receipt = %+v", rs[0])
	}

	ex := a.Exchange()
	if got := ex.Balance(bob.Address(), usdc); got != 100 {
		t.Errorf("bob USDC = %d, want 100", got)
	}
	if got := ex.Balance(alice.Address(), weth); got != 50 {
		t.Errorf("alice WETH = %d, want 50", got)
	}
	if err := ex.CheckInvariants(); err != nil {
		t.Fatal(err)
	}
	if a.Head().Height != 2 {
		t.Errorf("head = %d, want 2", a.Head().Height)
	}
}

func TestRejectedTxReceipts(t *testing.T) {
	a := newTestApp(t, nil)
	alice, bob := key(t, "alice"), key(t, "bob")

	deposit := signTx(t, alice, crypto.CallEIP712{Method: "deposit", Nonce: 5, Asset: common.Hash(usdc), Amount: 10})
	forged := signTx(t, bob, crypto.CallEIP712{Method: "withdraw", Nonce: 1, Asset: common.Hash(usdc), Amount: 10})
	// Re-label bob's signed withdraw as alice's.
	tx, _ := transaction.Deserialize(forged)
	tx.Call.Caller = alice.Address().Hex()
	forged, _ = tx.Serialize()

	tests := []struct {
		name string
		raw  []byte
		kind string
	}{
		{"stale nonce", signTx(t, alice, crypto.CallEIP712{Method: "deposit", Nonce: 5, Asset: common.Hash(usdc), Amount: 1}), "BadNonce"},
		{"forged caller", forged, "BadSignature"},
		{"malformed", []byte("O:GTC:BTC"), "Malformed"},
		{"exchange rule", signTx(t, alice, crypto.CallEIP712{Method: "cancel_order", Nonce: 6, OrderID: 9}), "NotFound"},
		{"fee too high", signTx(t, alice, crypto.CallEIP712{Method: "create_order", Nonce: 7,
			Asset: common.Hash(usdc), Amount: 10, AssetOut: common.Hash(weth), AmountOut: 1, MatcherFee: 11}), "InvalidFee"},
	}

	txs := [][]byte{deposit}
	for _, tt := range tests {
		txs = append(txs, tt.raw)
	}
	rs := finalize(t, a, txs...)
	wantSuccess(t, rs[0])
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rs[i+1]
			if r.Status != transaction.StatusFailed || r.ErrorKind != tt.kind {
				t.Fatalf("receipt = %s/%s (%s), want failed/%s", r.Status, r.ErrorKind, r.Error, tt.kind)
			}
		})
	}

	// A rejected exchange call still consumes the nonce.
	if got := a.Nonce(alice.Address()); got != 7 {
		t.Errorf("alice nonce = %d, want 7", got)
	}
	if got := a.Exchange().Balance(alice.Address(), usdc); got != 10 {
		t.Errorf("alice USDC = %d, want 10", got)
	}
}

func TestReplayAcrossBlocks(t *testing.T) {
	a := newTestApp(t, nil)
	alice := key(t, "alice")
	raw := signTx(t, alice, crypto.CallEIP712{Method: "deposit", Nonce: 1, Asset: common.Hash(usdc), Amount: 10})

	wantSuccess(t, finalize(t, a, raw)...)
	if _, err := a.PushTx(raw); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	prop := a.PrepareProposal(abci.RequestPrepareProposal{Height: 2, MaxTxBytes: 1 << 20})
	rs := finalize(t, a, prop.Txs...)
	if rs[0].ErrorKind != "BadNonce" {
		t.Fatalf("replay receipt = %+v", rs[0])
	}
	if got := a.Exchange().Balance(alice.Address(), usdc); got != 10 {
		t.Errorf("balance = %d, want 10", got)
	}
}

func TestPushTxRejectsMalformed(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.PushTx([]byte(`{"type":"deposit"}`)); err == nil {
		t.Fatal("malformed tx admitted")
	}
	if a.MempoolLen() != 0 {
		t.Fatalf("mempool len = %d", a.MempoolLen())
	}
}

func TestFinalizeWrongHeight(t *testing.T) {
	a := newTestApp(t, nil)
	if _, err := a.FinalizeBlock(abci.RequestFinalizeBlock{Height: 5}); err == nil {
		t.Fatal("finalize at height 5 on fresh app succeeded")
	}
	if a.ProcessProposal(abci.RequestProcessProposal{Height: 3}).Accept {
		t.Fatal("proposal at wrong height accepted")
	}
	if !a.ProcessProposal(abci.RequestProcessProposal{Height: 1}).Accept {
		t.Fatal("proposal at next height rejected")
	}
}

func TestAppHashDeterministic(t *testing.T) {
	alice := key(t, "alice")
	blocks := [][][]byte{
		{signTx(t, alice, crypto.CallEIP712{Method: "deposit", Nonce: 1, Asset: common.Hash(usdc), Amount: 10})},
		{signTx(t, alice, crypto.CallEIP712{Method: "create_order", Nonce: 2, Asset: common.Hash(usdc), Amount: 10,
			FromBalance: true, AssetOut: common.Hash(weth), AmountOut: 3})},
	}

	run := func() []common.Hash {
		a := newTestApp(t, nil)
		var out []common.Hash
		for i, txs := range blocks {
			h := int64(i + 1)
			resp, err := a.FinalizeBlock(abci.RequestFinalizeBlock{Height: h, Timestamp: h * 1000, Txs: txs})
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, resp.AppHash)
		}
		return out
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("block %d hash differs: %s vs %s", i+1, first[i].Hex(), second[i].Hex())
		}
	}
	if first[0] == first[1] {
		t.Fatal("hash did not change with state")
	}
}

func TestRestartRestoresState(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	a := newTestApp(t, store)
	alice, bob := key(t, "alice"), key(t, "bob")

	wantSuccess(t, finalize(t, a,
		signTx(t, alice, crypto.CallEIP712{Method: "deposit", Nonce: 1, Asset: common.Hash(usdc), Amount: 200}),
		signTx(t, alice, crypto.CallEIP712{Method: "create_order", Nonce: 2, Asset: common.Hash(usdc), Amount: 100,
			FromBalance: true, AssetOut: common.Hash(weth), AmountOut: 50, MatcherFee: 5}),
	)...)
	rs := finalize(t, a,
		signTx(t, bob, crypto.CallEIP712{Method: "fulfill_order", Nonce: 1, Asset: common.Hash(weth), Amount: 50, OrderID: 1}),
	)
	wantSuccess(t, rs...)
	head := a.Head()
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	b := newTestApp(t, store)

	if b.Head() != head {
		t.Fatalf("head = %+v, want %+v", b.Head(), head)
	}
	if got := b.Nonce(alice.Address()); got != 2 {
		t.Errorf("alice nonce = %d, want 2", got)
	}
	if got := b.Exchange().Balance(bob.Address(), usdc); got != 100 {
		t.Errorf("bob USDC = %d, want 100", got)
	}
	r, err := b.Receipt(rs[0].Hash)
	if err != nil || r == nil || len(r.TradeIDs) != 1 {
		t.Fatalf("receipt after restart = %+v, %v", r, err)
	}
	if b.computeStateHash(head.Height, head.Time) != head.AppHash {
		t.Fatal("restored state hashes differently")
	}
}

func TestOnBlockHook(t *testing.T) {
	a := newTestApp(t, nil)
	alice := key(t, "alice")
	var got []*BlockEvents
	a.OnBlock(func(ev *BlockEvents) { got = append(got, ev) })

	finalize(t, a, signTx(t, alice, crypto.CallEIP712{Method: "create_order", Nonce: 1,
		Asset: common.Hash(usdc), Amount: 10, AssetOut: common.Hash(weth), AmountOut: 5}))

	if len(got) != 1 || got[0].Height != 1 || len(got[0].Receipts) != 1 || len(got[0].Orders) != 1 {
		t.Fatalf("block events = %+v", got)
	}
}

func TestGeneratorLoadKeepsInvariants(t *testing.T) {
	a := newTestApp(t, nil)
	gen, err := NewSignedTxGenerator(5, []string{"USDC", "WETH"}, testChainID, a.Exchange(), 42, a.Nonce)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 30; i++ {
		for _, r := range finalize(t, a, gen.GenerateBatch(10)...) {
			if r.ErrorKind == "BadSignature" || r.ErrorKind == "BadNonce" || r.ErrorKind == "Malformed" || r.ErrorKind == "Internal" {
				t.Fatalf("generator produced invalid tx: %s %s", r.ErrorKind, r.Error)
			}
		}
		if err := a.Exchange().CheckInvariants(); err != nil {
			t.Fatalf("block %d: %v", i+1, err)
		}
	}
	if a.Exchange().Stats().Orders == 0 {
		t.Fatal("generator created no orders")
	}
}
