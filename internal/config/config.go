package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the coordinator
type Config struct {
	Database  Database
	Chains    map[uint64]Chain
	API       API
	Lifecycle Lifecycle
}

// Database configuration
type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Chain holds per-chain connection and contract parameters. The coordinator
// needs one entry for every chain an order may reference.
type Chain struct {
	ChainID          uint64
	RPCUrl           string
	PrivateKey       string
	EscrowFactory    string
	Confirmations    uint64
	MinSafetyDeposit *big.Int // wei
	RequestTimeout   time.Duration
}

// API configuration
type API struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Lifecycle holds the order state machine timing knobs.
type Lifecycle struct {
	DefaultOrderDuration     time.Duration // lifetime of an ACTIVE order
	FastAuctionDuration      time.Duration // Dutch-auction decay window
	ResolverCommitmentWindow time.Duration // post-commit deadline
	SecretRevealDelay        time.Duration // pause after both escrows verified
	CompetitionWindow        time.Duration // SecretBroadcast TTL
	RevealDueAfter           time.Duration // settlement age before RevealDue fires
	RetentionDays            int
	ReaperInterval           time.Duration
	MaxRetries               int
	RetryBackoff             time.Duration
	EIP712Name               string
	EIP712Version            string
}

// LoadDatabase loads only the database section. The migrate binary uses it
// so schema management does not require the chain environment.
func LoadDatabase() Database {
	return Database{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "swap_coordinator"),
		Password: getEnvRequired("DB_PASSWORD"),
		DBName:   getEnv("DB_NAME", "swap_coordinator"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	chains, err := loadChains()
	if err != nil {
		return nil, err
	}

	return &Config{
		Database: LoadDatabase(),
		Chains:   chains,
		API: API{
			Port:            getEnvInt("API_PORT", 8080),
			Host:            getEnv("API_HOST", "localhost"),
			ReadTimeout:     getEnvDuration("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvDuration("API_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvDuration("API_SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Lifecycle: Lifecycle{
			DefaultOrderDuration:     getEnvDuration("ORDER_DURATION", 300*time.Second),
			FastAuctionDuration:      getEnvDuration("FAST_AUCTION_DURATION", 60*time.Second),
			ResolverCommitmentWindow: getEnvDuration("RESOLVER_COMMITMENT_WINDOW", 300*time.Second),
			SecretRevealDelay:        getEnvDuration("SECRET_REVEAL_DELAY", 10*time.Second),
			CompetitionWindow:        getEnvDuration("COMPETITION_WINDOW", 300*time.Second),
			RevealDueAfter:           getEnvDuration("REVEAL_DUE_AFTER", 120*time.Second),
			RetentionDays:            getEnvInt("RETENTION_DAYS", 30),
			ReaperInterval:           getEnvDuration("REAPER_INTERVAL", 10*time.Second),
			MaxRetries:               getEnvInt("MAX_RETRIES", 3),
			RetryBackoff:             getEnvDuration("RETRY_BACKOFF", 2*time.Second),
			EIP712Name:               getEnv("EIP712_NAME", "SwapCoordinator"),
			EIP712Version:            getEnv("EIP712_VERSION", "1"),
		},
	}, nil
}

// loadChains parses the per-chain table. CHAIN_IDS is a comma-separated list
// of chain ids; each id then gets its own CHAIN_<id>_* variables.
func loadChains() (map[uint64]Chain, error) {
	ids := getEnv("CHAIN_IDS", "")
	if ids == "" {
		return nil, fmt.Errorf("CHAIN_IDS environment variable is required")
	}

	chains := make(map[uint64]Chain)
	for _, part := range strings.Split(ids, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain id %q in CHAIN_IDS: %w", part, err)
		}

		prefix := fmt.Sprintf("CHAIN_%d_", id)
		deposit, ok := new(big.Int).SetString(getEnv(prefix+"MIN_SAFETY_DEPOSIT_WEI", "1000000000000000"), 10)
		if !ok {
			return nil, fmt.Errorf("invalid %sMIN_SAFETY_DEPOSIT_WEI", prefix)
		}

		chains[id] = Chain{
			ChainID:          id,
			RPCUrl:           getEnvRequired(prefix + "RPC_URL"),
			PrivateKey:       getEnvRequired(prefix + "PRIVATE_KEY"),
			EscrowFactory:    getEnvRequired(prefix + "ESCROW_FACTORY"),
			Confirmations:    getEnvUint64(prefix+"CONFIRMATIONS", 1),
			MinSafetyDeposit: deposit,
			RequestTimeout:   getEnvDuration(prefix+"REQUEST_TIMEOUT", 30*time.Second),
		}
	}

	if len(chains) == 0 {
		return nil, fmt.Errorf("no chains configured")
	}
	return chains, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvRequired(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Required environment variable " + key + " is not set")
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
