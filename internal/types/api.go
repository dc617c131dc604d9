package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CreateSwapRequest is the inbound shape for a new signed intent.
type CreateSwapRequest struct {
	Intent    OrderIntent   `json:"intent"`
	Signature hexutil.Bytes `json:"signature"`
	Preimage  hexutil.Bytes `json:"preimage"`
}

// CreateSwapResponse acknowledges admission.
type CreateSwapResponse struct {
	OrderID     common.Hash `json:"orderId"`
	MarketPrice *big.Int    `json:"marketPrice"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// CommitRequest is a resolver's claim on an order at a quoted price.
type CommitRequest struct {
	Resolver      common.Address `json:"resolver"`
	AcceptedPrice *big.Int       `json:"acceptedPrice"`
	Timestamp     int64          `json:"timestamp"`
}

// CommitResponse returns the amounts both legs are expected to move.
type CommitResponse struct {
	Success      bool     `json:"success"`
	CurrentPrice *big.Int `json:"currentPrice"`
	MakerAmount  *big.Int `json:"makerAmount"`
	TakerAmount  *big.Int `json:"takerAmount"`
}

// EscrowsReadyRequest reports both escrows deployed and safety-deposited.
type EscrowsReadyRequest struct {
	Resolver     common.Address `json:"resolver"`
	SrcEscrow    common.Address `json:"srcEscrow"`
	DstEscrow    common.Address `json:"dstEscrow"`
	SrcDepositTx string         `json:"srcDepositTx"`
	DstDepositTx string         `json:"dstDepositTx"`
}

// SettlementRequest reports the resolver's destination-side fill.
type SettlementRequest struct {
	Resolver       common.Address `json:"resolver"`
	DstTokenAmount *big.Int       `json:"dstTokenAmount"`
	DstTxHash      string         `json:"dstTxHash"`
}

// RescueRequest is a replacement commitment after a lapsed one.
type RescueRequest struct {
	Resolver      common.Address `json:"resolver"`
	AcceptedPrice *big.Int       `json:"acceptedPrice"`
}

// RescueResponse names the defaulter whose deposit is now claimable.
type RescueResponse struct {
	Success          bool           `json:"success"`
	OriginalResolver common.Address `json:"originalResolver"`
}

// PriceResponse is the live auction quote for an order.
type PriceResponse struct {
	CurrentPrice  *big.Int `json:"currentPrice"`
	MakerAmount   *big.Int `json:"makerAmount"`
	TakerAmount   *big.Int `json:"takerAmount"`
	TimeRemaining int64    `json:"timeRemaining"` // seconds until auction floor
}

// SecretStatusResponse is returned only to the committed resolver.
type SecretStatusResponse struct {
	RevealTxHash string     `json:"revealTxHash"`
	RevealedAt   *time.Time `json:"revealedAt,omitempty"`
}

// ActiveOrdersResponse lists broadcast-able orders with live prices.
type ActiveOrdersResponse struct {
	Orders []*OrderWithPrice `json:"orders"`
	Count  int               `json:"count"`
}

// OrderWithPrice decorates a redacted order with its current auction price.
type OrderWithPrice struct {
	Order        *Order   `json:"order"`
	CurrentPrice *big.Int `json:"currentPrice"`
}
