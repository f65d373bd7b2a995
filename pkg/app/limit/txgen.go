package limit

import (
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/app/core"
	"github.com/uhyunpark/limitorders/pkg/app/core/exchange"
	"github.com/uhyunpark/limitorders/pkg/app/core/order"
	"github.com/uhyunpark/limitorders/pkg/app/core/transaction"
	"github.com/uhyunpark/limitorders/pkg/crypto"
)

// OrderView is the read access the generator needs to target live orders.
type OrderView interface {
	Orders(offset uint64) []*order.Order
	Stats() exchange.Stats
}

// SignedTxGenerator creates signed transactions for devnet load
type SignedTxGenerator struct {
	signers []*crypto.Signer
	assets  []core.AssetID
	rng     *rand.Rand
	nonces  map[common.Address]uint64
	funded  map[common.Address]bool
	eip712  *crypto.EIP712Signer
	view    OrderView
}

// NewSignedTxGenerator derives numAccounts deterministic traders
// ("trader-0", "trader-1", ...) so restarts reuse the same accounts.
// startNonce supplies each trader's last accepted nonce.
func NewSignedTxGenerator(numAccounts int, symbols []string, chainID int64, view OrderView, seed int64, startNonce func(common.Address) uint64) (*SignedTxGenerator, error) {
	if len(symbols) < 2 {
		return nil, fmt.Errorf("need at least two assets, got %d", len(symbols))
	}
	g := &SignedTxGenerator{
		rng:    rand.New(rand.NewSource(seed)),
		nonces: make(map[common.Address]uint64),
		funded: make(map[common.Address]bool),
		eip712: crypto.NewEIP712Signer(crypto.DomainForChain(chainID)),
		view:   view,
	}
	for _, s := range symbols {
		g.assets = append(g.assets, core.AssetFromSymbol(s))
	}
	for i := 0; i < numAccounts; i++ {
		signer, err := crypto.FromSeed(fmt.Sprintf("trader-%d", i))
		if err != nil {
			return nil, err
		}
		g.signers = append(g.signers, signer)
		if startNonce != nil {
			g.nonces[signer.Address()] = startNonce(signer.Address())
		}
	}
	return g, nil
}

// GenerateBatch returns n signed transactions. Unfunded traders deposit
// first; the rest is a mix of creates, fulfills, matches, cancels and
// withdrawals against currently active orders.
func (g *SignedTxGenerator) GenerateBatch(n int) [][]byte {
	out := make([][]byte, 0, n)
	for len(out) < n {
		if tx, err := g.next(); err == nil {
			out = append(out, tx)
		}
	}
	return out
}

func (g *SignedTxGenerator) next() ([]byte, error) {
	signer := g.signers[g.rng.Intn(len(g.signers))]
	addr := signer.Address()
	call := &crypto.CallEIP712{Caller: addr}

	if !g.funded[addr] {
		g.funded[addr] = true
		call.Method = string(transaction.TxTypeDeposit)
		call.Asset = common.Hash(g.assets[g.rng.Intn(len(g.assets))])
		call.Amount = 1_000_000
		return g.sign(signer, call)
	}

	active := g.activeOrders()
	switch r := g.rng.Intn(100); {
	case r < 25 && len(active) > 0:
		o := active[g.rng.Intn(len(active))]
		call.Method = string(transaction.TxTypeFulfillOrder)
		call.OrderID = o.ID
		call.Asset, call.Amount = common.Hash(o.AssetOut), o.AmountOut
		call.FromBalance = g.rng.Intn(2) == 0
	case r < 40 && len(active) > 1:
		a := active[g.rng.Intn(len(active))]
		b := active[g.rng.Intn(len(active))]
		call.Method = string(transaction.TxTypeMatchOrders)
		call.OrderID, call.CounterOrderID = a.ID, b.ID
	case r < 50 && len(active) > 0:
		o := active[g.rng.Intn(len(active))]
		for _, s := range g.signers {
			if s.Address() == o.Owner {
				signer = s
			}
		}
		call.Caller = signer.Address()
		call.Method = string(transaction.TxTypeCancelOrder)
		call.OrderID = o.ID
	case r < 55:
		call.Method = string(transaction.TxTypeWithdraw)
		call.Asset = common.Hash(g.assets[g.rng.Intn(len(g.assets))])
		call.Amount = uint64(g.rng.Intn(100) + 1)
	default:
		i := g.rng.Intn(len(g.assets))
		amountIn := uint64(g.rng.Intn(1000) + 10)
		call.Method = string(transaction.TxTypeCreateOrder)
		call.Asset, call.Amount = common.Hash(g.assets[i]), amountIn
		call.AssetOut = common.Hash(g.assets[(i+1)%len(g.assets)])
		call.AmountOut = uint64(g.rng.Intn(1000) + 10)
		call.MatcherFee = amountIn / 100
		call.FromBalance = g.rng.Intn(4) != 0
	}
	return g.sign(signer, call)
}

// activeOrders samples the most recent window of orders.
func (g *SignedTxGenerator) activeOrders() []*order.Order {
	if g.view == nil {
		return nil
	}
	var offset uint64
	if n := uint64(g.view.Stats().Orders); n >= core.PageSize {
		offset = n - core.PageSize + 1
	}
	var out []*order.Order
	for _, o := range g.view.Orders(offset) {
		if o != nil && o.IsActive() {
			out = append(out, o)
		}
	}
	return out
}

func (g *SignedTxGenerator) sign(signer *crypto.Signer, call *crypto.CallEIP712) ([]byte, error) {
	g.nonces[call.Caller]++
	call.Nonce = g.nonces[call.Caller]
	tx, err := transaction.Sign(g.eip712, signer, call)
	if err != nil {
		return nil, err
	}
	return tx.Serialize()
}

// Signers returns all traders (for tests/debugging)
func (g *SignedTxGenerator) Signers() []*crypto.Signer {
	return g.signers
}
