package config

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setChainEnv(t *testing.T, id string) {
	t.Helper()
	t.Setenv("CHAIN_"+id+"_RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_"+id+"_PRIVATE_KEY", "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	t.Setenv("CHAIN_"+id+"_ESCROW_FACTORY", "0x1111111111111111111111111111111111111111")
}

func TestLoadChains(t *testing.T) {
	t.Setenv("CHAIN_IDS", "1, 137")
	setChainEnv(t, "1")
	setChainEnv(t, "137")
	t.Setenv("CHAIN_137_CONFIRMATIONS", "5")
	t.Setenv("CHAIN_137_MIN_SAFETY_DEPOSIT_WEI", "2000000000000000")
	t.Setenv("CHAIN_137_REQUEST_TIMEOUT", "15s")

	chains, err := loadChains()
	require.NoError(t, err)
	require.Len(t, chains, 2)

	assert.Equal(t, uint64(1), chains[1].Confirmations)
	assert.Equal(t, big.NewInt(1_000_000_000_000_000), chains[1].MinSafetyDeposit)
	assert.Equal(t, 30*time.Second, chains[1].RequestTimeout)

	assert.Equal(t, uint64(5), chains[137].Confirmations)
	assert.Equal(t, big.NewInt(2_000_000_000_000_000), chains[137].MinSafetyDeposit)
	assert.Equal(t, 15*time.Second, chains[137].RequestTimeout)
}

func TestLoadChainsRequiresChainIDs(t *testing.T) {
	t.Setenv("CHAIN_IDS", "")
	_, err := loadChains()
	assert.Error(t, err)
}

func TestLoadChainsRejectsBadID(t *testing.T) {
	t.Setenv("CHAIN_IDS", "one")
	_, err := loadChains()
	assert.Error(t, err)
}

func TestLoadLifecycleDefaults(t *testing.T) {
	t.Setenv("CHAIN_IDS", "1")
	setChainEnv(t, "1")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.Lifecycle.DefaultOrderDuration)
	assert.Equal(t, 60*time.Second, cfg.Lifecycle.FastAuctionDuration)
	assert.Equal(t, 300*time.Second, cfg.Lifecycle.ResolverCommitmentWindow)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.SecretRevealDelay)
	assert.Equal(t, 300*time.Second, cfg.Lifecycle.CompetitionWindow)
	assert.Equal(t, 10*time.Second, cfg.Lifecycle.ReaperInterval)
	assert.Equal(t, "SwapCoordinator", cfg.Lifecycle.EIP712Name)
	assert.Equal(t, 8080, cfg.API.Port)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_DURATION_MISSING", time.Second))

	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, getEnvInt("TEST_INT", 7))
	assert.Equal(t, 7, getEnvInt("TEST_INT_MISSING", 7))

	t.Setenv("TEST_UINT", "42")
	assert.Equal(t, uint64(42), getEnvUint64("TEST_UINT", 7))
}
