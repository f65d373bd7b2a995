package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitorders/pkg/crypto"
)

// Verifier checks that a transaction was signed by its declared caller
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify returns the typed call once the recovered signer matches the caller
func (v *Verifier) Verify(tx *SignedTransaction) (*crypto.CallEIP712, error) {
	call, err := tx.Call.ToEIP712(tx.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	signer, err := v.eip712Signer.RecoverCallSigner(call, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != call.Caller {
		return nil, fmt.Errorf("%w: signed by %s, caller %s", ErrBadSignature, signer.Hex(), call.Caller.Hex())
	}
	return call, nil
}

// RecoverSigner returns the address that signed tx without comparing it to
// the declared caller.
func (v *Verifier) RecoverSigner(tx *SignedTransaction) (common.Address, error) {
	call, err := tx.Call.ToEIP712(tx.Type)
	if err != nil {
		return common.Address{}, err
	}
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	return v.eip712Signer.RecoverCallSigner(call, sig)
}

// Sign builds a signed envelope for call. Used by the tx generator and the
// sign-tx CLI.
func Sign(es *crypto.EIP712Signer, signer *crypto.Signer, call *crypto.CallEIP712) (*SignedTransaction, error) {
	if call.Caller != signer.Address() {
		return nil, fmt.Errorf("caller %s does not match key %s", call.Caller.Hex(), signer.Address().Hex())
	}
	sig, err := es.SignCall(signer, call)
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{
		Type:      TxType(call.Method),
		Call:      FromEIP712Call(call),
		Signature: fmt.Sprintf("0x%x", sig),
	}, nil
}
