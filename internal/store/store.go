package store

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/swap-coordinator/internal/types"
)

// ErrNotFound is returned for lookups of unknown ids.
var ErrNotFound = errors.New("not found")

// Stats summarizes the store contents.
type Stats struct {
	TotalOrders  int                         `json:"totalOrders"`
	ByStatus     map[types.OrderStatus]int   `json:"byStatus"`
	Secrets      int                         `json:"secrets"`
	Commitments  int                         `json:"commitments"`
}

// Store is the single point of truth for orders, secrets and the commitment
// audit trail. Reads of a single order are point-in-time consistent; list
// queries may lag. Writes to one order are serialized by the caller (the
// lifecycle controller holds a per-order lock across read-modify-write).
type Store interface {
	// Save upserts an order snapshot.
	Save(ctx context.Context, order *types.Order) error
	// Get returns the order or ErrNotFound.
	Get(ctx context.Context, id common.Hash) (*types.Order, error)
	// ListByStatus returns orders in any of the given statuses.
	ListByStatus(ctx context.Context, statuses ...types.OrderStatus) ([]*types.Order, error)

	// Expired returns ACTIVE orders whose expiresAt precedes now.
	Expired(ctx context.Context, now time.Time) ([]*types.Order, error)
	// ExpiredCommitments returns COMMITTED orders past their commitment deadline.
	ExpiredCommitments(ctx context.Context, now time.Time) ([]*types.Order, error)
	// PendingReveal returns SETTLING orders with a settlement transaction,
	// no reveal yet, and funds moved before the cutoff.
	PendingReveal(ctx context.Context, cutoff time.Time) ([]*types.Order, error)

	// SaveSecret stores an order's preimage record.
	SaveSecret(ctx context.Context, secret *types.Secret) error
	// GetSecret returns the preimage record or ErrNotFound.
	GetSecret(ctx context.Context, id common.Hash) (*types.Secret, error)
	// MarkRevealed records the on-chain reveal time of a secret.
	MarkRevealed(ctx context.Context, id common.Hash, at time.Time) error

	// SaveCommitment appends an audit row.
	SaveCommitment(ctx context.Context, c *types.ResolverCommitment) error
	// UpdateCommitmentStatus moves one audit row to a new status.
	UpdateCommitmentStatus(ctx context.Context, id string, status types.CommitmentStatus) error
	// ActiveCommitment returns the single active audit row for an order,
	// or ErrNotFound.
	ActiveCommitment(ctx context.Context, orderID common.Hash) (*types.ResolverCommitment, error)
	// Commitments returns all audit rows for an order, oldest first.
	Commitments(ctx context.Context, orderID common.Hash) ([]*types.ResolverCommitment, error)

	// Stats reports aggregate counts.
	Stats(ctx context.Context) (*Stats, error)
	// Prune archives terminal orders older than the retention horizon and
	// returns the number removed.
	Prune(ctx context.Context, days int) (int, error)
}
