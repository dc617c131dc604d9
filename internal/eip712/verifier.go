package eip712

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/1inch/swap-coordinator/internal/types"
)

var (
	// ErrBadSignature is returned when the recovered signer is not the maker.
	ErrBadSignature = errors.New("bad signature")
	// ErrUnknownChain is returned for intents referencing a source chain with
	// no configured escrow factory.
	ErrUnknownChain = errors.New("unknown source chain")
	// ErrMalformedIntent is returned for intents that cannot be hashed.
	ErrMalformedIntent = errors.New("malformed intent")
)

// intentType is the canonical typed-data layout of a swap intent. Changing
// any field changes every order id, so this is effectively frozen.
var intentTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SwapIntent": {
		{Name: "maker", Type: "address"},
		{Name: "srcChain", Type: "uint256"},
		{Name: "srcToken", Type: "address"},
		{Name: "srcAmount", Type: "uint256"},
		{Name: "dstChain", Type: "uint256"},
		{Name: "dstToken", Type: "address"},
		{Name: "secretHash", Type: "bytes32"},
		{Name: "minAcceptablePrice", Type: "uint256"},
		{Name: "orderDuration", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Verifier computes domain-separated structural hashes of swap intents and
// recovers their signers. It is pure and deterministic: the same intent under
// the same domain yields the same order id on every coordinator instance.
type Verifier struct {
	name      string
	version   string
	factories map[uint64]common.Address // chain id -> escrow factory
}

// NewVerifier creates a verifier for the given EIP-712 domain name/version
// and the per-chain escrow factory table.
func NewVerifier(name, version string, factories map[uint64]common.Address) *Verifier {
	return &Verifier{name: name, version: version, factories: factories}
}

// OrderID returns the structural hash of the intent under the source chain's
// domain. This hash doubles as the order id.
func (v *Verifier) OrderID(intent *types.OrderIntent) (common.Hash, error) {
	digest, err := v.digest(intent)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(digest), nil
}

// Verify checks that sig is the maker's signature over the intent's
// structural hash and returns the order id.
func (v *Verifier) Verify(intent *types.OrderIntent, sig []byte) (common.Hash, error) {
	digest, err := v.digest(intent)
	if err != nil {
		return common.Hash{}, err
	}

	if len(sig) != crypto.SignatureLength {
		return common.Hash{}, fmt.Errorf("%w: signature must be %d bytes, got %d",
			ErrBadSignature, crypto.SignatureLength, len(sig))
	}

	// Accept both the raw {0,1} and the Ethereum {27,28} recovery id forms.
	recSig := make([]byte, crypto.SignatureLength)
	copy(recSig, sig)
	if recSig[crypto.RecoveryIDOffset] >= 27 {
		recSig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, recSig)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != intent.Maker {
		return common.Hash{}, fmt.Errorf("%w: recovered %s, want maker %s",
			ErrBadSignature, signer.Hex(), intent.Maker.Hex())
	}

	return common.BytesToHash(digest), nil
}

// EscrowFactory returns the configured escrow factory for a chain.
func (v *Verifier) EscrowFactory(chain uint64) (common.Address, bool) {
	addr, ok := v.factories[chain]
	return addr, ok
}

func (v *Verifier) digest(intent *types.OrderIntent) ([]byte, error) {
	if intent.SrcAmount == nil || intent.MinAcceptablePrice == nil || intent.Nonce == nil {
		return nil, fmt.Errorf("%w: nil numeric field", ErrMalformedIntent)
	}
	if intent.SrcAmount.Sign() <= 0 || intent.MinAcceptablePrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount or price", ErrMalformedIntent)
	}
	if intent.OrderDuration == 0 {
		return nil, fmt.Errorf("%w: zero order duration", ErrMalformedIntent)
	}

	factory, ok := v.factories[intent.SrcChain]
	if !ok {
		return nil, fmt.Errorf("%w: chain %d", ErrUnknownChain, intent.SrcChain)
	}

	typed := apitypes.TypedData{
		Types:       intentTypes,
		PrimaryType: "SwapIntent",
		Domain: apitypes.TypedDataDomain{
			Name:              v.name,
			Version:           v.version,
			ChainId:           math.NewHexOrDecimal256(int64(intent.SrcChain)),
			VerifyingContract: factory.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"maker":              intent.Maker.Hex(),
			"srcChain":           math.NewHexOrDecimal256(int64(intent.SrcChain)),
			"srcToken":           intent.SrcToken.Hex(),
			"srcAmount":          (*math.HexOrDecimal256)(intent.SrcAmount),
			"dstChain":           math.NewHexOrDecimal256(int64(intent.DstChain)),
			"dstToken":           intent.DstToken.Hex(),
			"secretHash":         intent.SecretHash.Hex(),
			"minAcceptablePrice": (*math.HexOrDecimal256)(intent.MinAcceptablePrice),
			"orderDuration":      math.NewHexOrDecimal256(int64(intent.OrderDuration)),
			"nonce":              (*math.HexOrDecimal256)(intent.Nonce),
			"deadline":           math.NewHexOrDecimal256(int64(intent.Deadline)),
		},
	}

	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedIntent, err)
	}
	return digest, nil
}
