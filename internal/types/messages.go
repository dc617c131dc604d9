package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// OrderBroadcast is the fan-out payload sent to the resolver fleet when an
// order becomes fillable. It carries the redacted order plus the auction
// parameters and the price at broadcast time; never the preimage.
type OrderBroadcast struct {
	OrderID           common.Hash `json:"orderId"`
	OrderData         *Order      `json:"orderData"`
	Timestamp         time.Time   `json:"timestamp"`
	AuctionStartPrice *big.Int    `json:"auctionStartPrice"`
	AuctionEndPrice   *big.Int    `json:"auctionEndPrice"`
	AuctionDuration   uint64      `json:"auctionDuration"`
	CurrentPrice      *big.Int    `json:"currentPrice"`
	SrcTokenDecimals  uint8       `json:"srcTokenDecimals"`
	DstTokenDecimals  uint8       `json:"dstTokenDecimals"`
}

// SecretBroadcast starts the competition window: once published, any party
// holding the preimage can unlock the destination escrow.
type SecretBroadcast struct {
	OrderID             common.Hash    `json:"orderId"`
	Preimage            hexutil.Bytes  `json:"preimage"`
	ResolverAddress     common.Address `json:"resolverAddress"`
	SrcEscrow           common.Address `json:"srcEscrow"`
	DstEscrow           common.Address `json:"dstEscrow"`
	SrcChain            uint64         `json:"srcChain"`
	DstChain            uint64         `json:"dstChain"`
	SrcAmount           *big.Int       `json:"srcAmount"`
	DstAmount           *big.Int       `json:"dstAmount"`
	Timestamp           time.Time      `json:"timestamp"`
	CompetitionDeadline time.Time      `json:"competitionDeadline"`
}
