package store

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/swap-coordinator/internal/types"
)

// Memory is a map-backed Store. Production deployments use Postgres and keep
// this as a cache and test double; it honors the same contract, including
// snapshot semantics on reads.
type Memory struct {
	mu          sync.RWMutex
	orders      map[common.Hash]*types.Order
	secrets     map[common.Hash]*types.Secret
	commitments []*types.ResolverCommitment
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		orders:  make(map[common.Hash]*types.Order),
		secrets: make(map[common.Hash]*types.Secret),
	}
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, order *types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, id common.Hash) (*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

// ListByStatus implements Store.
func (m *Memory) ListByStatus(_ context.Context, statuses ...types.OrderStatus) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := make(map[types.OrderStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []*types.Order
	for _, o := range m.orders {
		if want[o.Status] {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Expired implements Store.
func (m *Memory) Expired(_ context.Context, now time.Time) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Order
	for _, o := range m.orders {
		if o.Status == types.StatusActive && o.ExpiresAt.Before(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ExpiredCommitments implements Store.
func (m *Memory) ExpiredCommitments(_ context.Context, now time.Time) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Order
	for _, o := range m.orders {
		if o.Status == types.StatusCommitted && o.CommitmentDeadline != nil && o.CommitmentDeadline.Before(now) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PendingReveal implements Store.
func (m *Memory) PendingReveal(_ context.Context, cutoff time.Time) ([]*types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*types.Order
	for _, o := range m.orders {
		if o.Status == types.StatusSettling && o.SrcSettlementTx != "" &&
			o.SecretRevealedAt == nil && o.FundsMovedAt != nil && o.FundsMovedAt.Before(cutoff) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SaveSecret implements Store. Duplicate saves keep the first record.
func (m *Memory) SaveSecret(_ context.Context, secret *types.Secret) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.secrets[secret.OrderID]; exists {
		return nil
	}
	cp := *secret
	m.secrets[secret.OrderID] = &cp
	return nil
}

// GetSecret implements Store.
func (m *Memory) GetSecret(_ context.Context, id common.Hash) (*types.Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// MarkRevealed implements Store.
func (m *Memory) MarkRevealed(_ context.Context, id common.Hash, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	s.RevealedAt = &t
	return nil
}

// SaveCommitment implements Store.
func (m *Memory) SaveCommitment(_ context.Context, c *types.ResolverCommitment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.commitments = append(m.commitments, &cp)
	return nil
}

// UpdateCommitmentStatus implements Store.
func (m *Memory) UpdateCommitmentStatus(_ context.Context, id string, status types.CommitmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commitments {
		if c.ID == id {
			c.Status = status
			return nil
		}
	}
	return ErrNotFound
}

// ActiveCommitment implements Store.
func (m *Memory) ActiveCommitment(_ context.Context, orderID common.Hash) (*types.ResolverCommitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.commitments {
		if c.OrderID == orderID && c.Status == types.CommitmentActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Commitments implements Store.
func (m *Memory) Commitments(_ context.Context, orderID common.Hash) ([]*types.ResolverCommitment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.ResolverCommitment
	for _, c := range m.commitments {
		if c.OrderID == orderID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Stats implements Store.
func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{
		TotalOrders: len(m.orders),
		ByStatus:    make(map[types.OrderStatus]int),
		Secrets:     len(m.secrets),
		Commitments: len(m.commitments),
	}
	for _, o := range m.orders {
		stats.ByStatus[o.Status]++
	}
	return stats, nil
}

// Prune implements Store.
func (m *Memory) Prune(_ context.Context, days int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -days)
	pruned := 0
	for id, o := range m.orders {
		if o.Status.IsTerminal() && o.UpdatedAt.Before(cutoff) {
			delete(m.orders, id)
			delete(m.secrets, id)
			pruned++
		}
	}
	return pruned, nil
}
