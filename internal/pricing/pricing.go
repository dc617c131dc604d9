package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/1inch/swap-coordinator/internal/types"
)

// PriceScale is the fixed internal price scale: prices carry 6 decimals,
// so 1_000_000 means a 1:1 exchange rate.
const PriceScale = 6

var priceScaleUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(PriceScale), nil)

// ErrQuoteOutOfBand is returned when a resolver quote is below the auction
// floor or above the current descending price.
var ErrQuoteOutOfBand = errors.New("quoted price out of band")

// Engine computes Dutch auction prices. It is pure: no clocks, no I/O; the
// caller supplies every timestamp.
type Engine struct {
	// Tolerance widens the upper quote bound to absorb clock skew between
	// resolvers and the coordinator. Zero unless deliberately configured.
	Tolerance *big.Int
}

// NewEngine returns an engine with zero clock-skew tolerance.
func NewEngine() *Engine {
	return &Engine{Tolerance: new(big.Int)}
}

// CurrentPrice returns the auction price at tNow. The price decays linearly
// from StartPrice to EndPrice over Duration using integer arithmetic with the
// duration as the denominator, and clamps to EndPrice once elapsed.
func (e *Engine) CurrentPrice(auction types.AuctionParams, tNow time.Time) *big.Int {
	if auction.Duration == 0 || !tNow.Before(auction.StartTime.Add(time.Duration(auction.Duration)*time.Second)) {
		return new(big.Int).Set(auction.EndPrice)
	}
	if !tNow.After(auction.StartTime) {
		return new(big.Int).Set(auction.StartPrice)
	}

	elapsed := big.NewInt(int64(tNow.Sub(auction.StartTime) / time.Second))
	duration := new(big.Int).SetUint64(auction.Duration)

	// startPrice - (startPrice-endPrice) * elapsed / duration, truncating
	decay := new(big.Int).Sub(auction.StartPrice, auction.EndPrice)
	decay.Mul(decay, elapsed)
	decay.Quo(decay, duration)

	price := new(big.Int).Sub(auction.StartPrice, decay)
	if price.Cmp(auction.EndPrice) < 0 {
		return new(big.Int).Set(auction.EndPrice)
	}
	return price
}

// ValidateQuote checks a resolver-quoted price against the auction at tNow:
// endPrice <= quoted <= currentPrice + tolerance.
func (e *Engine) ValidateQuote(auction types.AuctionParams, quoted *big.Int, tNow time.Time) error {
	if quoted == nil || quoted.Sign() <= 0 {
		return fmt.Errorf("%w: missing or non-positive quote", ErrQuoteOutOfBand)
	}
	if quoted.Cmp(auction.EndPrice) < 0 {
		return fmt.Errorf("%w: %s below auction floor %s", ErrQuoteOutOfBand, quoted, auction.EndPrice)
	}

	ceiling := e.CurrentPrice(auction, tNow)
	if e.Tolerance != nil && e.Tolerance.Sign() > 0 {
		ceiling = new(big.Int).Add(ceiling, e.Tolerance)
	}
	if quoted.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: %s above current price %s", ErrQuoteOutOfBand, quoted, ceiling)
	}
	return nil
}

// TokenAmounts converts a source amount in base units into the destination
// base-unit amount at the quoted price. Division truncates toward zero.
//
//	dst = src * quoted * 10^dstDecimals / (10^PriceScale * 10^srcDecimals)
func TokenAmounts(srcAmount *big.Int, srcDecimals, dstDecimals uint8, quoted *big.Int) (makerAmount, takerAmount *big.Int) {
	makerAmount = new(big.Int).Set(srcAmount)

	takerAmount = new(big.Int).Mul(srcAmount, quoted)
	takerAmount.Mul(takerAmount, pow10(dstDecimals))
	takerAmount.Quo(takerAmount, priceScaleUnit)
	takerAmount.Quo(takerAmount, pow10(srcDecimals))
	return makerAmount, takerAmount
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
