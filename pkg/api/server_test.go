package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/uhyunpark/limitorders/pkg/abci"
	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/trade"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/app/limit"
	"github.com/uhyunpark/limitorders/pkg/crypto"
)

const chainID = 1337

var (
	usdc = core.AssetFromSymbol("USDC")
	weth = core.AssetFromSymbol("WETH")
)

type testEnv struct {
	app *limit.App
	srv *Server
	ts  *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	app, err := limit.NewApp(limit.Options{ChainID: chainID})
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(app, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return &testEnv{app: app, srv: srv, ts: ts}
}

func (e *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (e *testEnv) submit(t *testing.T, raw []byte) (int, SubmitTxResponse) {
	t.Helper()
	resp, err := http.Post(e.ts.URL+"/api/v1/txs", "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out SubmitTxResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// commit includes everything in the mempool in the next block.
func (e *testEnv) commit(t *testing.T) {
	t.Helper()
	h := e.app.Head().Height + 1
	prop := e.app.PrepareProposal(abci.RequestPrepareProposal{Height: h, MaxTxBytes: 1 << 20})
	if _, err := e.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h, Timestamp: h * 1000, Txs: prop.Txs}); err != nil {
		t.Fatal(err)
	}
}

func signed(t *testing.T, seed string, call crypto.CallEIP712) []byte {
	t.Helper()
	signer, err := crypto.FromSeed(seed)
	if err != nil {
		t.Fatal(err)
	}
	call.Caller = signer.Address()
	tx, err := transaction.Sign(crypto.NewEIP712Signer(crypto.DomainForChain(chainID)), signer, &call)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func addr(t *testing.T, seed string) common.Address {
	s, err := crypto.FromSeed(seed)
	if err != nil {
		t.Fatal(err)
	}
	return s.Address()
}

func TestSubmitAndQuery(t *testing.T) {
	env := newEnv(t)

	code, sub := env.submit(t, signed(t, "alice", crypto.CallEIP712{Method: "create_order", Nonce: 1,
		Asset: common.Hash(usdc), Amount: 100, AssetOut: common.Hash(weth), AmountOut: 50, MatcherFee: 5}))
	if code != http.StatusAccepted || sub.Status != "pending" {
		t.Fatalf("submit = %d %+v", code, sub)
	}
	if code := env.get(t, "/api/v1/txs/"+sub.Hash, nil); code != http.StatusNotFound {
		t.Fatalf("receipt before commit = %d", code)
	}
	env.commit(t)

	var rcpt transaction.Receipt
	if code := env.get(t, "/api/v1/txs/"+sub.Hash, &rcpt); code != http.StatusOK {
		t.Fatalf("receipt = %d", code)
	}
	if rcpt.Status != transaction.StatusSuccess || rcpt.OrderID != 1 {
		t.Fatalf("receipt = %+v", rcpt)
	}

	_, sub = env.submit(t, signed(t, "bob", crypto.CallEIP712{Method: "fulfill_order", Nonce: 1,
		Asset: common.Hash(weth), Amount: 50, OrderID: 1}))
	env.commit(t)

	var o order.Order
	if code := env.get(t, "/api/v1/orders/1", &o); code != http.StatusOK || o.Status != order.Fulfilled {
		t.Fatalf("order = %d %+v", code, o)
	}

	var page OrderPage
	env.get(t, "/api/v1/orders?offset=1", &page)
	if len(page.Orders) != core.PageSize || page.Orders[0].ID != 1 || page.Orders[1].ID != 0 {
		t.Fatalf("order page = %+v", page)
	}

	var trades TradePage
	env.get(t, "/api/v1/trades?offset=1", &trades)
	if len(trades.Trades) != core.PageSize || trades.Trades[0].OrderID != 1 {
		t.Fatalf("trade page = %+v", trades)
	}

	var byID []trade.Trade
	if code := env.get(t, "/api/v1/trades/by-id?ids=4,1", &byID); code != http.StatusOK {
		t.Fatalf("trades by id = %d", code)
	}
	if len(byID) != 2 || byID[0].ID != 0 || byID[1].ID != 1 || byID[1].Taker != addr(t, "bob") {
		t.Fatalf("trades by id = %+v", byID)
	}

	var bal BalanceInfo
	env.get(t, "/api/v1/accounts/"+addr(t, "bob").Hex()+"/balances/USDC", &bal)
	if bal.Balance != 100 || bal.Asset != usdc.Hex() {
		t.Fatalf("balance = %+v", bal)
	}

	var status ChainStatus
	env.get(t, "/api/v1/chain/status", &status)
	if status.Height != 2 || status.Trades != 1 || status.ActiveOrders != 0 {
		t.Fatalf("status = %+v", status)
	}
}

func TestErrorResponses(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		path string
		code int
		kind string
	}{
		{"/api/v1/orders/7", http.StatusNotFound, "NotFound"},
		{"/api/v1/trades/3", http.StatusNotFound, "NotFound"},
		{"/api/v1/orders/by-id?ids=1,2,3,4,5,6,7,8,9,10,11", http.StatusBadRequest, "InvalidAmount"},
		{"/api/v1/orders/by-id?ids=1,x", http.StatusBadRequest, ""},
		{"/api/v1/trades/by-id?ids=1,2,3,4,5,6,7,8,9,10,11", http.StatusBadRequest, "InvalidAmount"},
		{"/api/v1/orders?offset=-1", http.StatusBadRequest, ""},
		{"/api/v1/txs/0x1234", http.StatusBadRequest, ""},
		{"/api/v1/accounts/nobody/balances/USDC", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var er ErrorResponse
			if code := env.get(t, tt.path, &er); code != tt.code || er.Kind != tt.kind {
				t.Fatalf("got %d %+v, want %d kind %q", code, er, tt.code, tt.kind)
			}
		})
	}

	if code, _ := env.submit(t, []byte(`{"type":"order"}`)); code != http.StatusBadRequest {
		t.Fatalf("malformed submit = %d", code)
	}
	raw := signed(t, "alice", crypto.CallEIP712{Method: "deposit", Nonce: 1, Asset: common.Hash(usdc), Amount: 1})
	env.submit(t, raw)
	if code, _ := env.submit(t, raw); code != http.StatusConflict {
		t.Fatalf("duplicate submit = %d", code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)
	if code := env.get(t, "/health", nil); code != http.StatusOK {
		t.Fatalf("health = %d", code)
	}
	env.get(t, "/api/v1/orders/9", nil)

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	want := `limitorders_api_requests_total{code="404",route="/api/v1/orders/{id:[0-9]+}"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics missing %q", want)
	}
}

func TestBroadcastBlockRouting(t *testing.T) {
	env := newEnv(t)
	alice := addr(t, "alice")

	sub := func(channels ...string) *Client {
		c := &Client{send: make(chan []byte, 16), subscriptions: make(map[string]bool), id: "test"}
		for _, ch := range channels {
			c.Subscribe(ch)
		}
		env.srv.hub.mu.Lock()
		env.srv.hub.clients[c] = true
		env.srv.hub.mu.Unlock()
		return c
	}
	orders := sub("orders")
	account := sub("account:" + alice.Hex())
	trades := sub("trades")

	env.submit(t, signed(t, "alice", crypto.CallEIP712{Method: "create_order", Nonce: 1,
		Asset: common.Hash(usdc), Amount: 10, AssetOut: common.Hash(weth), AmountOut: 5}))
	env.commit(t)

	if len(orders.send) != 1 {
		t.Fatalf("orders channel got %d messages", len(orders.send))
	}
	var msg WSMessage
	if err := json.Unmarshal(<-orders.send, &msg); err != nil || msg.Type != "order" || msg.Height != 1 {
		t.Fatalf("order message = %+v, %v", msg, err)
	}
	// order update plus receipt
	if len(account.send) != 2 {
		t.Fatalf("account channel got %d messages", len(account.send))
	}
	if len(trades.send) != 0 {
		t.Fatalf("trades channel got %d messages", len(trades.send))
	}
}

func TestWebSocketSubscription(t *testing.T) {
	env := newEnv(t)
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{"orders", "bogus", "account:0x12"}}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var rejected, ack WSMessage
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatal(err)
	}
	if rejected.Type != "error" {
		t.Fatalf("first reply = %+v", rejected)
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if chans, ok := ack.Data.([]interface{}); ack.Type != "subscribed" || !ok || len(chans) != 1 || chans[0] != "orders" {
		t.Fatalf("ack = %+v", ack)
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.srv.hub.Subscribers("orders") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	env.submit(t, signed(t, "alice", crypto.CallEIP712{Method: "create_order", Nonce: 1,
		Asset: common.Hash(usdc), Amount: 10, AssetOut: common.Hash(weth), AmountOut: 5}))
	env.commit(t)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "order" || msg.Channel != "orders" {
		t.Fatalf("message = %+v", msg)
	}
}
