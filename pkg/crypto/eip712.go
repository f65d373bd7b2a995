package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/deployments
type EIP712Domain struct {
	Name              string         // Protocol name
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Zero for off-chain signing
}

// CallEIP712 is the typed data a wallet signs for one exchange entry point.
// Fields a method does not use are left zero and still signed.
type CallEIP712 struct {
	Method         string
	Caller         common.Address
	Nonce          uint64
	Asset          common.Hash // attached payment asset (or withdraw asset)
	Amount         uint64      // attached payment amount (or withdraw amount)
	FromBalance    bool
	AssetOut       common.Hash
	AmountOut      uint64
	MatcherFee     uint64
	OrderID        uint64
	CounterOrderID uint64
}

var callTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Call": []apitypes.Type{
		{Name: "method", Type: "string"},
		{Name: "caller", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "asset", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
		{Name: "fromBalance", Type: "bool"},
		{Name: "assetOut", Type: "bytes32"},
		{Name: "amountOut", Type: "uint256"},
		{Name: "matcherFee", Type: "uint256"},
		{Name: "orderId", Type: "uint256"},
		{Name: "counterOrderId", Type: "uint256"},
	},
}

// EIP712Signer hashes, signs and recovers typed exchange calls
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the local devnet domain.
func DefaultDomain() EIP712Domain {
	return DomainForChain(1337)
}

// DomainForChain returns the exchange domain bound to chainID.
func DomainForChain(chainID int64) EIP712Domain {
	return EIP712Domain{
		Name:              "LimitOrders",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: common.Address{},
	}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(call *CallEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       callTypes,
		PrimaryType: "Call",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"method":         call.Method,
			"caller":         call.Caller.Hex(),
			"nonce":          strconv.FormatUint(call.Nonce, 10),
			"asset":          call.Asset.Hex(),
			"amount":         strconv.FormatUint(call.Amount, 10),
			"fromBalance":    call.FromBalance,
			"assetOut":       call.AssetOut.Hex(),
			"amountOut":      strconv.FormatUint(call.AmountOut, 10),
			"matcherFee":     strconv.FormatUint(call.MatcherFee, 10),
			"orderId":        strconv.FormatUint(call.OrderID, 10),
			"counterOrderId": strconv.FormatUint(call.CounterOrderID, 10),
		},
	}
}

// HashCall returns the EIP-712 digest of call
func (e *EIP712Signer) HashCall(call *CallEIP712) ([]byte, error) {
	typedData := e.typedData(call)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) SignCall(signer *Signer, call *CallEIP712) ([]byte, error) {
	hash, err := e.HashCall(call)
	if err != nil {
		return nil, fmt.Errorf("failed to hash call: %w", err)
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign call: %w", err)
	}
	return signature, nil
}

// RecoverCallSigner recovers the address that signed call
func (e *EIP712Signer) RecoverCallSigner(call *CallEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashCall(call)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash call: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyCallSignature reports whether signature was produced by call.Caller
func (e *EIP712Signer) VerifyCallSignature(call *CallEIP712, signature []byte) (bool, error) {
	addr, err := e.RecoverCallSigner(call, signature)
	if err != nil {
		return false, err
	}
	return addr == call.Caller, nil
}

// CallToJSON renders call in the eth_signTypedData_v4 format wallets expect
func (e *EIP712Signer) CallToJSON(call *CallEIP712) (string, error) {
	td := e.typedData(call)
	payload := map[string]interface{}{
		"types":       td.Types,
		"primaryType": td.PrimaryType,
		"domain": map[string]interface{}{
			"name":              e.domain.Name,
			"version":           e.domain.Version,
			"chainId":           e.domain.ChainID.String(),
			"verifyingContract": e.domain.VerifyingContract.Hex(),
		},
		"message": td.Message,
	}
	jsonBytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
