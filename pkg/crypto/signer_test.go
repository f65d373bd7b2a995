package crypto

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if got := len(signer.PrivateKeyHex()); got != 64 {
		t.Errorf("private key hex length = %d, want 64", got)
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}
}

func TestFromSeedIsDeterministic(t *testing.T) {
	a, err := FromSeed("alice")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := FromSeed("alice")
	c, _ := FromSeed("bob")
	if a.Address() != b.Address() {
		t.Error("same seed produced different keys")
	}
	if a.Address() == c.Address() {
		t.Error("different seeds produced the same key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	hash := eth_crypto.Keccak256([]byte("limit orders"))

	signature, err := signer.Sign(hash)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	other, _ := RecoverAddress(eth_crypto.Keccak256([]byte("other")), signature)
	if other == signer.Address() {
		t.Error("signature recovered the signer for a different hash")
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("signing a short hash succeeded")
	}
	if _, err := RecoverAddress(hash, []byte{1, 2, 3}); err == nil {
		t.Error("short signature recovered")
	}
	if _, err := RecoverAddress([]byte("short"), make([]byte, 65)); err == nil {
		t.Error("short hash recovered")
	}
}

func TestDecodeSignature(t *testing.T) {
	sig := strings.Repeat("ab", 65)
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"plain", sig, false},
		{"prefixed", "0x" + sig, false},
		{"short", "0xabcd", true},
		{"not hex", "0x" + strings.Repeat("zz", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSignature(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func sampleCall(caller common.Address) *CallEIP712 {
	return &CallEIP712{
		Method:     "create_order",
		Caller:     caller,
		Nonce:      7,
		Asset:      eth_crypto.Keccak256Hash([]byte("X")),
		Amount:     100,
		AssetOut:   eth_crypto.Keccak256Hash([]byte("Y")),
		AmountOut:  50,
		MatcherFee: 5,
	}
}

func TestSignCallRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	es := NewEIP712Signer(DefaultDomain())
	call := sampleCall(signer.Address())

	sig, err := es.SignCall(signer, call)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	ok, err := es.VerifyCallSignature(call, sig)
	if err != nil || !ok {
		t.Fatalf("verify = %v, %v", ok, err)
	}

	// Any field change must change the recovered signer.
	tampered := *call
	tampered.Amount = 101
	addr, err := es.RecoverCallSigner(&tampered, sig)
	if err == nil && addr == signer.Address() {
		t.Error("tampered call still recovers the signer")
	}
}

func TestHashCallDependsOnDomain(t *testing.T) {
	call := sampleCall(common.HexToAddress("0x1234"))
	h1, err := NewEIP712Signer(DomainForChain(1337)).HashCall(call)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := NewEIP712Signer(DomainForChain(1)).HashCall(call)
	if err != nil {
		t.Fatal(err)
	}
	if string(h1) == string(h2) {
		t.Error("hash does not depend on chain id")
	}
}

func TestCallToJSON(t *testing.T) {
	out, err := NewEIP712Signer(DefaultDomain()).CallToJSON(sampleCall(common.HexToAddress("0x1234")))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"primaryType": "Call"`, `"method": "create_order"`, `"LimitOrders"`} {
		if !strings.Contains(out, want) {
			t.Errorf("json missing %s", want)
		}
	}
}
