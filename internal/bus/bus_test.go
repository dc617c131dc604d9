package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1inch/swap-coordinator/internal/types"
)

func recv(t *testing.T, ch <-chan Envelope) Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return Envelope{}
	}
}

func TestPublishOrderFansOut(t *testing.T) {
	b := NewInProcess()
	sub1 := b.Subscribe(TopicOrderBroadcast, 4)
	sub2 := b.Subscribe(TopicOrderBroadcast, 4)

	orderID := common.HexToHash("0x01")
	err := b.PublishOrder(context.Background(), &types.OrderBroadcast{
		OrderID:      orderID,
		CurrentPrice: big.NewInt(1_050_000),
	})
	require.NoError(t, err)

	for _, sub := range []<-chan Envelope{sub1, sub2} {
		env := recv(t, sub)
		assert.Equal(t, TopicOrderBroadcast, env.Topic)
		assert.NotEmpty(t, env.ID)

		var msg types.OrderBroadcast
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		assert.Equal(t, orderID, msg.OrderID)
	}
}

func TestPublishSecretDoesNotReachOrderSubscribers(t *testing.T) {
	b := NewInProcess()
	orders := b.Subscribe(TopicOrderBroadcast, 1)
	secrets := b.Subscribe(TopicSecretBroadcast, 1)

	err := b.PublishSecret(context.Background(), &types.SecretBroadcast{
		OrderID:  common.HexToHash("0x02"),
		Preimage: []byte("secret"),
	})
	require.NoError(t, err)

	env := recv(t, secrets)
	assert.Equal(t, TopicSecretBroadcast, env.Topic)
	assert.Len(t, orders, 0)
}

func TestSlowSubscriberLosesNothing(t *testing.T) {
	b := NewInProcess()
	sub := b.Subscribe(TopicSecretBroadcast, 1) // capacity one, drained late

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := b.PublishSecret(ctx, &types.SecretBroadcast{
			OrderID:  common.HexToHash(fmt.Sprintf("0x%02x", i)),
			Preimage: []byte("secret"),
		})
		require.NoError(t, err)
	}

	// Every envelope arrives, in publish order.
	for i := 0; i < 5; i++ {
		env := recv(t, sub)
		var msg types.SecretBroadcast
		require.NoError(t, json.Unmarshal(env.Payload, &msg))
		assert.Equal(t, common.HexToHash(fmt.Sprintf("0x%02x", i)), msg.OrderID)
	}
}

func TestPublishHonorsCancelledContext(t *testing.T) {
	b := NewInProcess()
	sub := b.Subscribe(TopicOrderBroadcast, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.PublishOrder(ctx, &types.OrderBroadcast{OrderID: common.HexToHash("0x03")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sub, 0)
}
