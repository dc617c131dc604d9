package store

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1inch/swap-coordinator/internal/types"
)

func testOrder(id byte, status types.OrderStatus) *types.Order {
	now := time.Unix(1_700_000_000, 0)
	return &types.Order{
		ID:     common.Hash{id},
		Status: status,
		Intent: types.OrderIntent{
			SrcChain:           1,
			DstChain:           2,
			SrcAmount:          big.NewInt(1_000_000),
			MinAcceptablePrice: big.NewInt(1_000_000),
			Nonce:              big.NewInt(1),
		},
		Auction: types.AuctionParams{
			StartPrice: big.NewInt(1_050_000),
			EndPrice:   big.NewInt(1_000_000),
			Duration:   60,
			StartTime:  now,
		},
		MarketPrice: big.NewInt(1_050_000),
		CreatedAt:   now,
		ExpiresAt:   now.Add(5 * time.Minute),
		UpdatedAt:   now,
	}
}

func TestMemorySaveGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	order := testOrder(1, types.StatusActive)
	require.NoError(t, m.Save(ctx, order))

	got, err := m.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, types.StatusActive, got.Status)

	// Reads are snapshots: mutating the result must not touch the store.
	got.Status = types.StatusFailed
	again, err := m.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusActive, again.Status)
}

func TestMemoryGetUnknown(t *testing.T) {
	m := NewMemory()
	_, err := m.Get(context.Background(), common.Hash{0xff})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryListByStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, testOrder(1, types.StatusActive)))
	require.NoError(t, m.Save(ctx, testOrder(2, types.StatusCompleted)))
	require.NoError(t, m.Save(ctx, testOrder(3, types.StatusRescueAvailable)))

	got, err := m.ListByStatus(ctx, types.StatusActive, types.StatusRescueAvailable)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryExpired(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	fresh := testOrder(1, types.StatusActive)
	stale := testOrder(2, types.StatusActive)
	stale.ExpiresAt = stale.CreatedAt.Add(-time.Minute)
	committed := testOrder(3, types.StatusCommitted)
	committed.ExpiresAt = committed.CreatedAt.Add(-time.Minute)

	require.NoError(t, m.Save(ctx, fresh))
	require.NoError(t, m.Save(ctx, stale))
	require.NoError(t, m.Save(ctx, committed))

	got, err := m.Expired(ctx, fresh.CreatedAt)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, stale.ID, got[0].ID)
}

func TestMemoryExpiredCommitments(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	lapsed := testOrder(1, types.StatusCommitted)
	past := now.Add(-time.Minute)
	lapsed.CommitmentDeadline = &past

	live := testOrder(2, types.StatusCommitted)
	future := now.Add(time.Minute)
	live.CommitmentDeadline = &future

	require.NoError(t, m.Save(ctx, lapsed))
	require.NoError(t, m.Save(ctx, live))

	got, err := m.ExpiredCommitments(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lapsed.ID, got[0].ID)
}

func TestMemoryPendingReveal(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	due := testOrder(1, types.StatusSettling)
	moved := now.Add(-5 * time.Minute)
	due.FundsMovedAt = &moved
	due.SrcSettlementTx = "0xmove"

	recent := testOrder(2, types.StatusSettling)
	justMoved := now.Add(-time.Second)
	recent.FundsMovedAt = &justMoved
	recent.SrcSettlementTx = "0xmove2"

	require.NoError(t, m.Save(ctx, due))
	require.NoError(t, m.Save(ctx, recent))

	got, err := m.PendingReveal(ctx, now.Add(-2*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestMemorySecretLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := common.Hash{9}

	secret := &types.Secret{OrderID: id, Preimage: []byte("preimage"), CreatedAt: time.Now()}
	require.NoError(t, m.SaveSecret(ctx, secret))

	// Duplicate saves keep the first record.
	require.NoError(t, m.SaveSecret(ctx, &types.Secret{OrderID: id, Preimage: []byte("other")}))

	got, err := m.GetSecret(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("preimage"), []byte(got.Preimage))
	assert.Nil(t, got.RevealedAt)

	at := time.Unix(1_700_000_100, 0)
	require.NoError(t, m.MarkRevealed(ctx, id, at))

	got, err = m.GetSecret(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.RevealedAt)
	assert.True(t, got.RevealedAt.Equal(at))
}

func TestMemoryCommitmentAudit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	orderID := common.Hash{5}

	first := &types.ResolverCommitment{
		ID:            "c1",
		OrderID:       orderID,
		Resolver:      common.HexToAddress("0x01"),
		AcceptedPrice: big.NewInt(1_050_000),
		Status:        types.CommitmentActive,
	}
	require.NoError(t, m.SaveCommitment(ctx, first))

	active, err := m.ActiveCommitment(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, "c1", active.ID)

	require.NoError(t, m.UpdateCommitmentStatus(ctx, "c1", types.CommitmentFailed))
	_, err = m.ActiveCommitment(ctx, orderID)
	assert.ErrorIs(t, err, ErrNotFound)

	second := &types.ResolverCommitment{
		ID:       "c2",
		OrderID:  orderID,
		Resolver: common.HexToAddress("0x02"),
		Status:   types.CommitmentActive,
	}
	require.NoError(t, m.SaveCommitment(ctx, second))

	all, err := m.Commitments(ctx, orderID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMemoryStatsAndPrune(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old := testOrder(1, types.StatusCompleted)
	old.UpdatedAt = time.Now().AddDate(0, 0, -60)
	require.NoError(t, m.Save(ctx, old))
	require.NoError(t, m.SaveSecret(ctx, &types.Secret{OrderID: old.ID}))
	require.NoError(t, m.Save(ctx, testOrder(2, types.StatusActive)))

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalOrders)
	assert.Equal(t, 1, stats.ByStatus[types.StatusCompleted])

	pruned, err := m.Prune(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = m.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetSecret(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
