package eip712

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1inch/swap-coordinator/internal/types"
)

var testFactories = map[uint64]common.Address{
	1: common.HexToAddress("0x1111111111111111111111111111111111111111"),
	2: common.HexToAddress("0x2222222222222222222222222222222222222222"),
}

func testIntent(maker common.Address) *types.OrderIntent {
	return &types.OrderIntent{
		Maker:              maker,
		SrcChain:           1,
		SrcToken:           common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		SrcAmount:          big.NewInt(1_000_000),
		DstChain:           2,
		DstToken:           common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		SecretHash:         crypto.Keccak256Hash([]byte("preimage")),
		MinAcceptablePrice: big.NewInt(1_000_000),
		OrderDuration:      300,
		Nonce:              big.NewInt(7),
		Deadline:           1_900_000_000,
	}
}

func TestOrderIDDeterministic(t *testing.T) {
	v := NewVerifier("SwapCoordinator", "1", testFactories)
	intent := testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))

	id1, err := v.OrderID(intent)
	require.NoError(t, err)
	id2, err := v.OrderID(intent)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, common.Hash{}, id1)

	// Any field change moves the hash.
	changed := *intent
	changed.Nonce = big.NewInt(8)
	id3, err := v.OrderID(&changed)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestOrderIDDependsOnDomain(t *testing.T) {
	intent := testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))

	v1 := NewVerifier("SwapCoordinator", "1", testFactories)
	v2 := NewVerifier("SwapCoordinator", "2", testFactories)

	id1, err := v1.OrderID(intent)
	require.NoError(t, err)
	id2, err := v2.OrderID(intent)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestVerifyAcceptsMakerSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(key.PublicKey)

	v := NewVerifier("SwapCoordinator", "1", testFactories)
	intent := testIntent(maker)

	id, err := v.OrderID(intent)
	require.NoError(t, err)
	sig, err := crypto.Sign(id.Bytes(), key)
	require.NoError(t, err)

	got, err := v.Verify(intent, sig)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	// Ethereum-style recovery id is accepted too.
	ethSig := make([]byte, len(sig))
	copy(ethSig, sig)
	ethSig[crypto.RecoveryIDOffset] += 27
	got, err = v.Verify(intent, ethSig)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	makerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	v := NewVerifier("SwapCoordinator", "1", testFactories)
	intent := testIntent(crypto.PubkeyToAddress(makerKey.PublicKey))

	id, err := v.OrderID(intent)
	require.NoError(t, err)
	sig, err := crypto.Sign(id.Bytes(), otherKey)
	require.NoError(t, err)

	_, err = v.Verify(intent, sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsBadLength(t *testing.T) {
	v := NewVerifier("SwapCoordinator", "1", testFactories)
	intent := testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))

	_, err := v.Verify(intent, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsMalformedIntent(t *testing.T) {
	v := NewVerifier("SwapCoordinator", "1", testFactories)

	intent := testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	intent.SrcAmount = nil
	_, err := v.OrderID(intent)
	assert.ErrorIs(t, err, ErrMalformedIntent)

	intent = testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	intent.SrcAmount = big.NewInt(0)
	_, err = v.OrderID(intent)
	assert.ErrorIs(t, err, ErrMalformedIntent)

	intent = testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	intent.OrderDuration = 0
	_, err = v.OrderID(intent)
	assert.ErrorIs(t, err, ErrMalformedIntent)
}

func TestVerifyRejectsUnknownChain(t *testing.T) {
	v := NewVerifier("SwapCoordinator", "1", testFactories)
	intent := testIntent(common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc"))
	intent.SrcChain = 999

	_, err := v.OrderID(intent)
	assert.ErrorIs(t, err, ErrUnknownChain)
}
