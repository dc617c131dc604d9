package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OrderStatus represents the lifecycle status of a swap order
type OrderStatus string

const (
	StatusActive          OrderStatus = "ACTIVE"
	StatusCommitted       OrderStatus = "COMMITTED"
	StatusSettling        OrderStatus = "SETTLING"
	StatusCompeting       OrderStatus = "COMPETING"
	StatusCompleted       OrderStatus = "COMPLETED"
	StatusFailed          OrderStatus = "FAILED"
	StatusRescueAvailable OrderStatus = "RESCUE_AVAILABLE"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OrderIntent is the canonical signed form of a cross-chain swap request.
// Its structural hash under the EIP-712 domain of the source chain is the
// order id, so identical intents hash identically on every coordinator.
type OrderIntent struct {
	Maker              common.Address `json:"maker"`
	SrcChain           uint64         `json:"srcChain"`
	SrcToken           common.Address `json:"srcToken"`
	SrcAmount          *big.Int       `json:"srcAmount"`
	DstChain           uint64         `json:"dstChain"`
	DstToken           common.Address `json:"dstToken"`
	SecretHash         common.Hash    `json:"secretHash"`
	MinAcceptablePrice *big.Int       `json:"minAcceptablePrice"`
	OrderDuration      uint64         `json:"orderDuration"` // seconds
	Nonce              *big.Int       `json:"nonce"`
	Deadline           uint64         `json:"deadline"` // unix seconds
}

// AuctionParams describes the descending-price auction attached to an order.
type AuctionParams struct {
	StartPrice *big.Int  `json:"startPrice"`
	EndPrice   *big.Int  `json:"endPrice"`
	Duration   uint64    `json:"duration"` // seconds
	StartTime  time.Time `json:"startTime"`
}

// Order is the primary persisted entity. Fields past Auction are set as the
// lifecycle controller advances the order; pointers stay nil until then.
type Order struct {
	ID          common.Hash   `json:"orderId"`
	Intent      OrderIntent   `json:"intent"`
	Status      OrderStatus   `json:"status"`
	Auction     AuctionParams `json:"auction"`
	MarketPrice *big.Int      `json:"marketPrice"`
	Signature   hexutil.Bytes `json:"signature,omitempty"`

	Resolver           *common.Address `json:"resolver,omitempty"`
	CommittedPrice     *big.Int        `json:"committedPrice,omitempty"`
	CommitmentTime     *time.Time      `json:"commitmentTime,omitempty"`
	CommitmentDeadline *time.Time      `json:"commitmentDeadline,omitempty"`

	SrcEscrow *common.Address `json:"srcEscrow,omitempty"`
	DstEscrow *common.Address `json:"dstEscrow,omitempty"`

	FundsMovedAt    *time.Time `json:"fundsMovedAt,omitempty"`
	SrcSettlementTx string     `json:"srcSettlementTx,omitempty"`
	DstSettlementTx string     `json:"dstSettlementTx,omitempty"`
	DstAmount       *big.Int   `json:"dstAmount,omitempty"`

	SecretRevealedAt    *time.Time `json:"secretRevealedAt,omitempty"`
	SecretRevealTx      string     `json:"secretRevealTx,omitempty"`
	CompetitionDeadline *time.Time `json:"competitionDeadline,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Redacted returns the externally visible view of an order: no signature.
// The preimage lives in a separate table and never appears on the order.
func (o *Order) Redacted() *Order {
	cp := *o
	cp.Signature = nil
	return &cp
}

// Secret pairs an order with its HTLC preimage. Stored separately from the
// order so that broadcast and query paths cannot leak it by accident.
type Secret struct {
	OrderID    common.Hash   `json:"orderId"`
	Preimage   hexutil.Bytes `json:"preimage"`
	Hash       common.Hash   `json:"hash"`
	CreatedAt  time.Time     `json:"createdAt"`
	RevealedAt *time.Time    `json:"revealedAt,omitempty"`
}

// CommitmentStatus tracks an audit row through its life.
type CommitmentStatus string

const (
	CommitmentActive    CommitmentStatus = "active"
	CommitmentFailed    CommitmentStatus = "failed"
	CommitmentCompleted CommitmentStatus = "completed"
)

// ResolverCommitment is an append-only audit record. An order accumulates
// one row per commitment; rescues add rows, they never rewrite history.
type ResolverCommitment struct {
	ID            string           `json:"id"`
	OrderID       common.Hash      `json:"orderId"`
	Resolver      common.Address   `json:"resolver"`
	AcceptedPrice *big.Int         `json:"acceptedPrice"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        CommitmentStatus `json:"status"`
}
