package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1inch/swap-coordinator/internal/bus"
	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/eip712"
	"github.com/1inch/swap-coordinator/internal/gateway"
	"github.com/1inch/swap-coordinator/internal/lifecycle"
	"github.com/1inch/swap-coordinator/internal/metrics"
	"github.com/1inch/swap-coordinator/internal/oracle"
	"github.com/1inch/swap-coordinator/internal/pricing"
	"github.com/1inch/swap-coordinator/internal/store"
	"github.com/1inch/swap-coordinator/internal/types"
)

// openGateway approves everything: max allowance, deep escrows, 6 decimals.
type openGateway struct{}

func (openGateway) Allowance(context.Context, uint64, common.Address, common.Address, common.Address) (*big.Int, error) {
	return new(big.Int).Lsh(big.NewInt(1), 128), nil
}

func (openGateway) EscrowBalance(context.Context, uint64, common.Address, *common.Address) (*big.Int, error) {
	return new(big.Int).Lsh(big.NewInt(1), 128), nil
}

func (openGateway) TokenDecimals(context.Context, uint64, common.Address) (uint8, error) {
	return 6, nil
}

func (openGateway) TransferUserFunds(context.Context, uint64, common.Hash, common.Address, common.Address, *big.Int) (string, error) {
	return "0xsrcmove", nil
}

func (openGateway) AwaitConfirmations(_ context.Context, _ uint64, txHash string, _ uint64) (*gateway.Receipt, error) {
	return &gateway.Receipt{TxHash: txHash, BlockNumber: 1}, nil
}

func (openGateway) RevealOnDestination(context.Context, uint64, common.Address, []byte) (string, error) {
	return "0xreveal", nil
}

func (openGateway) ExtractRevealedSecret(context.Context, uint64, common.Address) ([]byte, string, error) {
	return nil, "", gateway.ErrNotFound
}

// rejectingGateway fails the fund pull to exercise the escrows error path.
type rejectingGateway struct{ openGateway }

func (rejectingGateway) TransferUserFunds(context.Context, uint64, common.Hash, common.Address, common.Address, *big.Int) (string, error) {
	return "", gateway.ErrRejected
}

type testEnv struct {
	handler http.Handler
	signReq func(t *testing.T) types.CreateSwapRequest
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, openGateway{})
}

func newTestEnvWith(t *testing.T, gw gateway.Gateway) *testEnv {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	maker := crypto.PubkeyToAddress(key.PublicKey)

	factories := map[uint64]common.Address{
		1: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		2: common.HexToAddress("0x2222222222222222222222222222222222222222"),
	}
	verifier := eip712.NewVerifier("SwapCoordinator", "1", factories)

	srcToken := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	dstToken := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	orc := oracle.NewStatic()
	orc.SetQuote(1, srcToken.Hex(), 2, dstToken.Hex(), big.NewInt(1_050_000))

	chains := map[uint64]config.Chain{
		1: {ChainID: 1, EscrowFactory: factories[1].Hex(), Confirmations: 1, MinSafetyDeposit: big.NewInt(1000)},
		2: {ChainID: 2, EscrowFactory: factories[2].Hex(), Confirmations: 1, MinSafetyDeposit: big.NewInt(1000)},
	}
	lcfg := config.Lifecycle{
		DefaultOrderDuration:     300 * time.Second,
		FastAuctionDuration:      60 * time.Second,
		ResolverCommitmentWindow: 300 * time.Second,
		SecretRevealDelay:        time.Millisecond,
		CompetitionWindow:        300 * time.Second,
		MaxRetries:               1,
		RetryBackoff:             time.Millisecond,
		EIP712Name:               "SwapCoordinator",
		EIP712Version:            "1",
	}

	m := metrics.New()
	controller := lifecycle.NewController(lcfg, chains, store.NewMemory(), gw,
		bus.NewInProcess(), verifier, pricing.NewEngine(), orc, m)
	t.Cleanup(controller.Close)

	server := NewServer(config.API{Host: "localhost", Port: 0}, controller, m)

	signReq := func(t *testing.T) types.CreateSwapRequest {
		t.Helper()
		preimage := []byte("api-test-preimage")
		intent := types.OrderIntent{
			Maker:              maker,
			SrcChain:           1,
			SrcToken:           srcToken,
			SrcAmount:          big.NewInt(1_000_000),
			DstChain:           2,
			DstToken:           dstToken,
			SecretHash:         crypto.Keccak256Hash(preimage),
			MinAcceptablePrice: big.NewInt(1_000_000),
			OrderDuration:      300,
			Nonce:              big.NewInt(42),
			Deadline:           uint64(time.Now().Add(time.Hour).Unix()),
		}
		id, err := verifier.OrderID(&intent)
		require.NoError(t, err)
		sig, err := crypto.Sign(id.Bytes(), key)
		require.NoError(t, err)
		return types.CreateSwapRequest{Intent: intent, Signature: sig, Preimage: preimage}
	}

	return &testEnv{handler: server.httpServer.Handler, signReq: signReq}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createOrder(t *testing.T) common.Hash {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/swaps", e.signReq(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp types.CreateSwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.OrderID
}

func TestCreateSwap(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/swaps", env.signReq(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp types.CreateSwapResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, common.Hash{}, resp.OrderID)
	assert.Equal(t, int64(1_050_000), resp.MarketPrice.Int64())
}

func TestCreateSwapRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	req := env.signReq(t)
	req.Signature[5] ^= 0xff

	rec := env.do(t, http.MethodPost, "/swaps", req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSwapDuplicate(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t)

	rec := env.do(t, http.MethodPost, "/swaps", env.signReq(t))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateSwapBadBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/swaps", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSwap(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOrder(t)

	rec := env.do(t, http.MethodGet, "/swaps/"+id.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var order types.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &order))
	assert.Equal(t, id, order.ID)
	assert.Empty(t, order.Signature)
}

func TestGetSwapUnknown(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/swaps/0x"+"00"+"11223344556677889900aabbccddeeff00112233445566778899aabbccddee", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSwapInvalidID(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/swaps/not-a-hash", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommitAndPriceRoutes(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOrder(t)

	rec := env.do(t, http.MethodGet, "/swaps/"+id.Hex()+"/price", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var price types.PriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &price))
	assert.Equal(t, int64(1_050_000), price.CurrentPrice.Int64())

	rec = env.do(t, http.MethodPost, "/swaps/"+id.Hex()+"/commit", types.CommitRequest{
		Resolver:      common.HexToAddress("0x5555555555555555555555555555555555555555"),
		AcceptedPrice: price.CurrentPrice,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var commit types.CommitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &commit))
	assert.True(t, commit.Success)

	// A second commit hits the state gate.
	rec = env.do(t, http.MethodPost, "/swaps/"+id.Hex()+"/commit", types.CommitRequest{
		Resolver:      common.HexToAddress("0x6666666666666666666666666666666666666666"),
		AcceptedPrice: price.CurrentPrice,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCommitRejectsLowballQuote(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOrder(t)

	rec := env.do(t, http.MethodPost, "/swaps/"+id.Hex()+"/commit", types.CommitRequest{
		Resolver:      common.HexToAddress("0x5555555555555555555555555555555555555555"),
		AcceptedPrice: big.NewInt(1),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEscrowsFundMoveRejectionMapsToUnprocessable(t *testing.T) {
	env := newTestEnvWith(t, rejectingGateway{})
	id := env.createOrder(t)
	resolver := common.HexToAddress("0x5555555555555555555555555555555555555555")

	rec := env.do(t, http.MethodGet, "/swaps/"+id.Hex()+"/price", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var price types.PriceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &price))

	rec = env.do(t, http.MethodPost, "/swaps/"+id.Hex()+"/commit", types.CommitRequest{
		Resolver:      resolver,
		AcceptedPrice: price.CurrentPrice,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/swaps/"+id.Hex()+"/escrows", types.EscrowsReadyRequest{
		Resolver:  resolver,
		SrcEscrow: common.HexToAddress("0x7777777777777777777777777777777777777777"),
		DstEscrow: common.HexToAddress("0x8888888888888888888888888888888888888888"),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestSecretRouteAuthorization(t *testing.T) {
	env := newTestEnv(t)
	id := env.createOrder(t)

	rec := env.do(t, http.MethodGet, "/swaps/"+id.Hex()+"/secret", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/swaps/"+id.Hex()+"/secret?resolver=0x5555555555555555555555555555555555555555", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestActiveSwapsList(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t)

	rec := env.do(t, http.MethodGet, "/swaps", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.ActiveOrdersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestHealthAndStats(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats store.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.TotalOrders)
}

func TestMetricsRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "coordinator_")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/swaps", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodDelete, "/swaps", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
