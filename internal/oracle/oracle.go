package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
)

// ErrNoQuote is returned when the oracle has no price for a pair.
var ErrNoQuote = errors.New("no market quote for pair")

// Oracle supplies the market price for a token pair, scaled by 1e6
// (destination units per source unit). Production deployments back this with
// an external price feed; the coordinator only consumes quotes.
type Oracle interface {
	MarketPrice(ctx context.Context, srcChain uint64, srcToken string, dstChain uint64, dstToken string) (*big.Int, error)
}

// Static serves prices from a fixed table keyed by pair. It is the
// development default and the test double.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]*big.Int
}

// NewStatic returns an empty static oracle.
func NewStatic() *Static {
	return &Static{quotes: make(map[string]*big.Int)}
}

// SetQuote installs or replaces the price for a pair.
func (s *Static) SetQuote(srcChain uint64, srcToken string, dstChain uint64, dstToken string, price *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[pairKey(srcChain, srcToken, dstChain, dstToken)] = new(big.Int).Set(price)
}

// MarketPrice implements Oracle.
func (s *Static) MarketPrice(_ context.Context, srcChain uint64, srcToken string, dstChain uint64, dstToken string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.quotes[pairKey(srcChain, srcToken, dstChain, dstToken)]
	if !ok {
		return nil, fmt.Errorf("%w: %d:%s -> %d:%s", ErrNoQuote, srcChain, srcToken, dstChain, dstToken)
	}
	return new(big.Int).Set(price), nil
}

func pairKey(srcChain uint64, srcToken string, dstChain uint64, dstToken string) string {
	return fmt.Sprintf("%d:%s->%d:%s", srcChain, strings.ToLower(srcToken), dstChain, strings.ToLower(dstToken))
}

// ParseQuotes builds a static oracle from a comma-separated list of
// srcChain:srcToken:dstChain:dstToken:price entries, prices scaled by 1e6.
func ParseQuotes(list string) (*Static, error) {
	s := NewStatic()
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, ":")
		if len(fields) != 5 {
			return nil, fmt.Errorf("invalid quote entry %q, want srcChain:srcToken:dstChain:dstToken:price", entry)
		}
		srcChain, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid source chain in %q: %w", entry, err)
		}
		dstChain, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid destination chain in %q: %w", entry, err)
		}
		price, ok := new(big.Int).SetString(fields[4], 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("invalid price in %q", entry)
		}
		s.SetQuote(srcChain, fields[1], dstChain, fields[3], price)
	}
	return s, nil
}
