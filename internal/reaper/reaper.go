package reaper

import (
	"context"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/store"
	"github.com/1inch/swap-coordinator/internal/types"
)

// Handler receives deadline events. The lifecycle controller implements it;
// every handler re-checks state under the order lock, so a stale scan result
// is harmless.
type Handler interface {
	HandleOrderExpired(ctx context.Context, orderID common.Hash) error
	HandleCommitmentLapsed(ctx context.Context, orderID common.Hash) error
	HandleRevealDue(ctx context.Context, orderID common.Hash) error
	HandleCompetitionTimeout(ctx context.Context, orderID common.Hash) error
}

// Reaper drives every deadline in the order lifecycle from persisted
// timestamps. It holds no in-memory timers, so a restarted coordinator picks
// up all pending deadlines on its first sweep.
type Reaper struct {
	cfg       config.Lifecycle
	store     store.Store
	handler   Handler
	now       func() time.Time
	lastPrune time.Time
}

// New builds a reaper over the given store and event handler.
func New(cfg config.Lifecycle, st store.Store, handler Handler) *Reaper {
	return &Reaper{cfg: cfg, store: st, handler: handler, now: time.Now}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	log.Printf("Reaper: starting with interval %s", r.cfg.ReaperInterval)
	ticker := time.NewTicker(r.cfg.ReaperInterval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Reaper: stopping")
			return ctx.Err()
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep scans the store once and dispatches every due deadline event.
func (r *Reaper) Sweep(ctx context.Context) {
	now := r.now()

	if expired, err := r.store.Expired(ctx, now); err != nil {
		log.Printf("Reaper: expired-order scan failed: %v", err)
	} else {
		for _, order := range expired {
			if err := r.handler.HandleOrderExpired(ctx, order.ID); err != nil {
				log.Printf("Reaper: order expiry handling failed for %s: %v", order.ID.Hex(), err)
			}
		}
	}

	if lapsed, err := r.store.ExpiredCommitments(ctx, now); err != nil {
		log.Printf("Reaper: lapsed-commitment scan failed: %v", err)
	} else {
		for _, order := range lapsed {
			if err := r.handler.HandleCommitmentLapsed(ctx, order.ID); err != nil {
				log.Printf("Reaper: commitment lapse handling failed for %s: %v", order.ID.Hex(), err)
			}
		}
	}

	cutoff := now.Add(-r.cfg.RevealDueAfter)
	if pending, err := r.store.PendingReveal(ctx, cutoff); err != nil {
		log.Printf("Reaper: pending-reveal scan failed: %v", err)
	} else {
		for _, order := range pending {
			if err := r.handler.HandleRevealDue(ctx, order.ID); err != nil {
				log.Printf("Reaper: reveal-due handling failed for %s: %v", order.ID.Hex(), err)
			}
		}
	}

	if competing, err := r.store.ListByStatus(ctx, types.StatusCompeting); err != nil {
		log.Printf("Reaper: competing-order scan failed: %v", err)
	} else {
		for _, order := range competing {
			if order.SecretRevealedAt != nil || order.CompetitionDeadline == nil || !order.CompetitionDeadline.Before(now) {
				continue
			}
			if err := r.handler.HandleCompetitionTimeout(ctx, order.ID); err != nil {
				log.Printf("Reaper: competition timeout handling failed for %s: %v", order.ID.Hex(), err)
			}
		}
	}

	r.maybePrune(ctx, now)
}

// maybePrune archives terminal orders past retention, at most once a day.
func (r *Reaper) maybePrune(ctx context.Context, now time.Time) {
	if now.Sub(r.lastPrune) < 24*time.Hour {
		return
	}
	r.lastPrune = now

	pruned, err := r.store.Prune(ctx, r.cfg.RetentionDays)
	if err != nil {
		log.Printf("Reaper: prune failed: %v", err)
		return
	}
	if pruned > 0 {
		log.Printf("Reaper: pruned %d orders past %d-day retention", pruned, r.cfg.RetentionDays)
	}
}
