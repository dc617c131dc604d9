package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/1inch/swap-coordinator/internal/bus"
	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/eip712"
	"github.com/1inch/swap-coordinator/internal/gateway"
	"github.com/1inch/swap-coordinator/internal/metrics"
	"github.com/1inch/swap-coordinator/internal/oracle"
	"github.com/1inch/swap-coordinator/internal/pricing"
	"github.com/1inch/swap-coordinator/internal/store"
	"github.com/1inch/swap-coordinator/internal/types"
)

// fallbackDecimals is assumed when a token's decimals call fails transiently.
// Broadcast consumers re-query on their side before acting on amounts.
const fallbackDecimals uint8 = 18

// Controller owns every order status transition. All mutations of one order
// run under that order's lock, so concurrent operations serialize and each
// observes the other's completed write.
type Controller struct {
	cfg     config.Lifecycle
	chains  map[uint64]config.Chain
	store   store.Store
	gateway gateway.Gateway
	bus     bus.Bus
	verify  *eip712.Verifier
	pricing *pricing.Engine
	oracle  oracle.Oracle
	metrics *metrics.Metrics

	locks *keyedMutex
	now   func() time.Time

	mu          sync.Mutex
	supervisors map[common.Hash]*supervisorHandle
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	wg          sync.WaitGroup
}

type supervisorHandle struct {
	cancel context.CancelFunc
}

// NewController wires the state machine to its collaborators.
func NewController(
	cfg config.Lifecycle,
	chains map[uint64]config.Chain,
	st store.Store,
	gw gateway.Gateway,
	b bus.Bus,
	verify *eip712.Verifier,
	eng *pricing.Engine,
	orc oracle.Oracle,
	m *metrics.Metrics,
) *Controller {
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:         cfg,
		chains:      chains,
		store:       st,
		gateway:     gw,
		bus:         b,
		verify:      verify,
		pricing:     eng,
		oracle:      orc,
		metrics:     m,
		locks:       newKeyedMutex(),
		now:         time.Now,
		supervisors: make(map[common.Hash]*supervisorHandle),
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
	}
}

// Close cancels all settlement supervisors and waits for them to exit.
func (c *Controller) Close() {
	c.baseCancel()
	c.wg.Wait()
}

// Admit validates a signed intent, persists the order and its preimage, and
// broadcasts the order to the resolver fleet. Resubmitting an admitted intent
// returns the stored order together with ErrDuplicateOrder.
func (c *Controller) Admit(ctx context.Context, intent *types.OrderIntent, sig, preimage []byte) (*types.Order, error) {
	orderID, err := c.verify.Verify(intent, sig)
	if err != nil {
		switch {
		case errors.Is(err, eip712.ErrBadSignature):
			c.metrics.AdmissionsFailed.WithLabelValues("signature").Inc()
		case errors.Is(err, eip712.ErrUnknownChain):
			c.metrics.AdmissionsFailed.WithLabelValues("unknown_chain").Inc()
		default:
			c.metrics.AdmissionsFailed.WithLabelValues("malformed").Inc()
		}
		return nil, err
	}

	now := c.now()
	if intent.Deadline != 0 && now.Unix() > int64(intent.Deadline) {
		c.metrics.AdmissionsFailed.WithLabelValues("deadline").Inc()
		return nil, fmt.Errorf("%w: deadline %d, now %d", ErrIntentExpired, intent.Deadline, now.Unix())
	}
	if crypto.Keccak256Hash(preimage) != intent.SecretHash {
		c.metrics.AdmissionsFailed.WithLabelValues("hash_mismatch").Inc()
		return nil, ErrHashMismatch
	}
	if _, ok := c.chains[intent.DstChain]; !ok {
		c.metrics.AdmissionsFailed.WithLabelValues("unknown_chain").Inc()
		return nil, fmt.Errorf("%w: chain %d", eip712.ErrUnknownChain, intent.DstChain)
	}

	unlock := c.locks.Lock(orderID)
	defer unlock()

	if existing, err := c.store.Get(ctx, orderID); err == nil {
		return existing, fmt.Errorf("%w: %s", ErrDuplicateOrder, orderID.Hex())
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for existing order: %w", err)
	}

	factory, _ := c.verify.EscrowFactory(intent.SrcChain)
	allowance, err := c.gateway.Allowance(ctx, intent.SrcChain, intent.SrcToken, intent.Maker, factory)
	if err != nil {
		c.metrics.AdmissionsFailed.WithLabelValues("chain").Inc()
		return nil, fmt.Errorf("failed to read maker allowance: %w", err)
	}
	if allowance.Cmp(intent.SrcAmount) < 0 {
		c.metrics.AdmissionsFailed.WithLabelValues("allowance").Inc()
		return nil, fmt.Errorf("%w: have %s, need %s", gateway.ErrInsufficientAllowance, allowance, intent.SrcAmount)
	}

	market, err := c.oracle.MarketPrice(ctx, intent.SrcChain, intent.SrcToken.Hex(), intent.DstChain, intent.DstToken.Hex())
	if err != nil {
		c.metrics.AdmissionsFailed.WithLabelValues("oracle").Inc()
		return nil, fmt.Errorf("failed to quote market price: %w", err)
	}

	// The auction opens at the better of the market price and the maker's
	// floor, and decays to the floor.
	startPrice := new(big.Int).Set(market)
	if startPrice.Cmp(intent.MinAcceptablePrice) < 0 {
		startPrice.Set(intent.MinAcceptablePrice)
	}

	order := &types.Order{
		ID:     orderID,
		Intent: *intent,
		Status: types.StatusActive,
		Auction: types.AuctionParams{
			StartPrice: startPrice,
			EndPrice:   new(big.Int).Set(intent.MinAcceptablePrice),
			Duration:   uint64(c.cfg.FastAuctionDuration / time.Second),
			StartTime:  now,
		},
		MarketPrice: market,
		Signature:   sig,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(intent.OrderDuration) * time.Second),
		UpdatedAt:   now,
	}

	if err := c.store.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order %s: %w", orderID.Hex(), err)
	}
	if err := c.store.SaveSecret(ctx, &types.Secret{
		OrderID:   orderID,
		Preimage:  preimage,
		Hash:      intent.SecretHash,
		CreatedAt: now,
	}); err != nil {
		// Without its preimage the order can never settle; retract it now
		// instead of leaving it fillable.
		if terr := c.transition(order, types.StatusFailed); terr == nil {
			if serr := c.store.Save(ctx, order); serr != nil {
				log.Printf("Lifecycle: failed to retract order %s after secret save failure: %v", orderID.Hex(), serr)
			}
		}
		return nil, fmt.Errorf("failed to save secret for order %s: %w", orderID.Hex(), err)
	}

	c.metrics.OrdersAdmitted.Inc()
	log.Printf("Lifecycle: admitted order %s (maker %s, %s -> %s)",
		orderID.Hex(), intent.Maker.Hex(), chainToken(intent.SrcChain, intent.SrcToken), chainToken(intent.DstChain, intent.DstToken))

	c.broadcastOrder(ctx, order)
	return order, nil
}

// Commit claims an order for a resolver at a quoted auction price. Orders in
// RESCUE_AVAILABLE are committable too; the rescue endpoint additionally
// reports the defaulter.
func (c *Controller) Commit(ctx context.Context, orderID common.Hash, resolver common.Address, quoted *big.Int) (*types.CommitResponse, error) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.StatusActive && order.Status != types.StatusRescueAvailable {
		return nil, fmt.Errorf("%w: order %s is %s", ErrWrongState, orderID.Hex(), order.Status)
	}
	return c.commitLocked(ctx, order, resolver, quoted)
}

// Rescue claims a RESCUE_AVAILABLE order for a replacement resolver and names
// the defaulter, whose safety deposit is now claimable by the rescuer.
func (c *Controller) Rescue(ctx context.Context, orderID common.Hash, resolver common.Address, quoted *big.Int) (*types.RescueResponse, error) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.StatusRescueAvailable {
		return nil, fmt.Errorf("%w: order %s is %s, not rescuable", ErrWrongState, orderID.Hex(), order.Status)
	}
	defaulter := *order.Resolver

	// A rescuer that quotes no price takes the current auction price, which
	// is the floor once the decay window has elapsed.
	if quoted == nil {
		quoted = c.pricing.CurrentPrice(order.Auction, c.now())
	}

	if _, err := c.commitLocked(ctx, order, resolver, quoted); err != nil {
		return nil, err
	}
	log.Printf("Lifecycle: order %s rescued by %s, defaulter %s", orderID.Hex(), resolver.Hex(), defaulter.Hex())
	return &types.RescueResponse{Success: true, OriginalResolver: defaulter}, nil
}

// commitLocked performs the shared commit path. Caller holds the order lock
// and has already checked the status gate.
func (c *Controller) commitLocked(ctx context.Context, order *types.Order, resolver common.Address, quoted *big.Int) (*types.CommitResponse, error) {
	now := c.now()
	// Expiry bounds the initial fill only; a rescue happens after it.
	if order.Status == types.StatusActive && order.ExpiresAt.Before(now) {
		return nil, fmt.Errorf("%w: order %s expired at %s", ErrOrderExpired, order.ID.Hex(), order.ExpiresAt.Format(time.RFC3339))
	}
	if err := c.pricing.ValidateQuote(order.Auction, quoted, now); err != nil {
		return nil, err
	}

	// A lingering active audit row belongs to a lapsed commitment.
	if prev, err := c.store.ActiveCommitment(ctx, order.ID); err == nil {
		if err := c.store.UpdateCommitmentStatus(ctx, prev.ID, types.CommitmentFailed); err != nil {
			return nil, fmt.Errorf("failed to retire commitment %s: %w", prev.ID, err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active commitment: %w", err)
	}

	if err := c.store.SaveCommitment(ctx, &types.ResolverCommitment{
		ID:            uuid.NewString(),
		OrderID:       order.ID,
		Resolver:      resolver,
		AcceptedPrice: new(big.Int).Set(quoted),
		Timestamp:     now,
		Status:        types.CommitmentActive,
	}); err != nil {
		return nil, fmt.Errorf("failed to save commitment: %w", err)
	}

	deadline := now.Add(c.cfg.ResolverCommitmentWindow)
	order.Resolver = &resolver
	order.CommittedPrice = new(big.Int).Set(quoted)
	order.CommitmentTime = &now
	order.CommitmentDeadline = &deadline
	if err := c.transition(order, types.StatusCommitted); err != nil {
		return nil, err
	}
	if err := c.store.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to save order %s: %w", order.ID.Hex(), err)
	}

	srcDec := c.tokenDecimals(ctx, order.Intent.SrcChain, order.Intent.SrcToken)
	dstDec := c.tokenDecimals(ctx, order.Intent.DstChain, order.Intent.DstToken)
	makerAmount, takerAmount := pricing.TokenAmounts(order.Intent.SrcAmount, srcDec, dstDec, quoted)

	log.Printf("Lifecycle: order %s committed to %s at price %s (deadline %s)",
		order.ID.Hex(), resolver.Hex(), quoted, deadline.Format(time.RFC3339))

	return &types.CommitResponse{
		Success:      true,
		CurrentPrice: quoted,
		MakerAmount:  makerAmount,
		TakerAmount:  takerAmount,
	}, nil
}

// EscrowsReady records both escrow addresses after verifying their safety
// deposits, then pulls the maker's funds into the source escrow. On success
// the order is SETTLING; on a fund-move failure it stays COMMITTED with the
// escrows recorded so the resolver can retry.
func (c *Controller) EscrowsReady(ctx context.Context, orderID common.Hash, resolver, srcEscrow, dstEscrow common.Address) error {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != types.StatusCommitted {
		return fmt.Errorf("%w: order %s is %s", ErrWrongState, orderID.Hex(), order.Status)
	}
	if order.Resolver == nil || *order.Resolver != resolver {
		return fmt.Errorf("%w: order %s", ErrWrongResolver, orderID.Hex())
	}

	if err := c.checkSafetyDeposit(ctx, order.Intent.SrcChain, srcEscrow); err != nil {
		return err
	}
	if err := c.checkSafetyDeposit(ctx, order.Intent.DstChain, dstEscrow); err != nil {
		return err
	}

	order.SrcEscrow = &srcEscrow
	order.DstEscrow = &dstEscrow
	order.UpdatedAt = c.now()
	if err := c.store.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %s: %w", orderID.Hex(), err)
	}

	return c.moveUserFunds(ctx, order)
}

func (c *Controller) checkSafetyDeposit(ctx context.Context, chain uint64, escrow common.Address) error {
	balance, err := c.gateway.EscrowBalance(ctx, chain, escrow, nil)
	if err != nil {
		return fmt.Errorf("failed to read safety deposit on chain %d: %w", chain, err)
	}
	min := c.chains[chain].MinSafetyDeposit
	if balance.Cmp(min) < 0 {
		return fmt.Errorf("%w: escrow %s on chain %d holds %s wei, need %s",
			ErrUnderfunded, escrow.Hex(), chain, balance, min)
	}
	return nil
}

// moveUserFunds pulls the maker's pre-approved tokens into the source escrow
// and waits for confirmations. Caller holds the order lock.
func (c *Controller) moveUserFunds(ctx context.Context, order *types.Order) error {
	txHash, err := c.gateway.TransferUserFunds(ctx, order.Intent.SrcChain, order.ID,
		order.Intent.Maker, order.Intent.SrcToken, order.Intent.SrcAmount)
	if err != nil {
		log.Printf("Lifecycle: fund move failed for order %s: %v", order.ID.Hex(), err)
		return fmt.Errorf("failed to move maker funds for order %s: %w", order.ID.Hex(), err)
	}

	conf := c.chains[order.Intent.SrcChain].Confirmations
	if _, err := c.gateway.AwaitConfirmations(ctx, order.Intent.SrcChain, txHash, conf); err != nil {
		return fmt.Errorf("fund move tx %s unconfirmed for order %s: %w", txHash, order.ID.Hex(), err)
	}

	now := c.now()
	order.FundsMovedAt = &now
	order.SrcSettlementTx = txHash
	if err := c.transition(order, types.StatusSettling); err != nil {
		return err
	}
	if err := c.store.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %s: %w", order.ID.Hex(), err)
	}

	log.Printf("Lifecycle: moved maker funds for order %s (tx %s)", order.ID.Hex(), txHash)
	return nil
}

// NotifySettlement records the resolver's destination-side fill after
// verifying both escrows hold the full swap amounts, then schedules the
// secret publication after the configured delay.
func (c *Controller) NotifySettlement(ctx context.Context, orderID common.Hash, resolver common.Address, dstAmount *big.Int, dstTxHash string) error {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != types.StatusSettling {
		return fmt.Errorf("%w: order %s is %s", ErrWrongState, orderID.Hex(), order.Status)
	}
	if order.Resolver == nil || *order.Resolver != resolver {
		return fmt.Errorf("%w: order %s", ErrWrongResolver, orderID.Hex())
	}
	if dstAmount == nil || dstAmount.Sign() <= 0 {
		return fmt.Errorf("%w: missing destination amount", ErrUnderfunded)
	}

	conf := c.chains[order.Intent.DstChain].Confirmations
	if _, err := c.gateway.AwaitConfirmations(ctx, order.Intent.DstChain, dstTxHash, conf); err != nil {
		return fmt.Errorf("destination fill tx %s unconfirmed: %w", dstTxHash, err)
	}

	srcBal, err := c.gateway.EscrowBalance(ctx, order.Intent.SrcChain, *order.SrcEscrow, &order.Intent.SrcToken)
	if err != nil {
		return fmt.Errorf("failed to read source escrow balance: %w", err)
	}
	if srcBal.Cmp(order.Intent.SrcAmount) < 0 {
		return fmt.Errorf("%w: source escrow holds %s, need %s", ErrUnderfunded, srcBal, order.Intent.SrcAmount)
	}
	dstBal, err := c.gateway.EscrowBalance(ctx, order.Intent.DstChain, *order.DstEscrow, &order.Intent.DstToken)
	if err != nil {
		return fmt.Errorf("failed to read destination escrow balance: %w", err)
	}
	if dstBal.Cmp(dstAmount) < 0 {
		return fmt.Errorf("%w: destination escrow holds %s, need %s", ErrUnderfunded, dstBal, dstAmount)
	}

	order.DstSettlementTx = dstTxHash
	order.DstAmount = new(big.Int).Set(dstAmount)
	order.UpdatedAt = c.now()
	if err := c.store.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %s: %w", orderID.Hex(), err)
	}

	log.Printf("Lifecycle: settlement reported for order %s (dst tx %s), revealing in %s",
		orderID.Hex(), dstTxHash, c.cfg.SecretRevealDelay)
	c.startSupervisor(orderID, c.cfg.SecretRevealDelay)
	return nil
}

// startSupervisor launches the reveal goroutine for an order, replacing any
// previous supervisor for the same order.
func (c *Controller) startSupervisor(orderID common.Hash, delay time.Duration) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	handle := &supervisorHandle{cancel: cancel}

	c.mu.Lock()
	if prev, ok := c.supervisors[orderID]; ok {
		prev.cancel()
	}
	c.supervisors[orderID] = handle
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.releaseSupervisor(orderID, handle)

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}

		if err := c.PublishSecret(ctx, orderID); err != nil {
			log.Printf("Lifecycle: secret publication failed for order %s: %v", orderID.Hex(), err)
			return
		}
		c.authoritativeReveal(ctx, orderID)
	}()
}

// releaseSupervisor removes the handle from the registry, but only its own
// entry: a replacement supervisor may have registered already.
func (c *Controller) releaseSupervisor(orderID common.Hash, handle *supervisorHandle) {
	handle.cancel()
	c.mu.Lock()
	if current, ok := c.supervisors[orderID]; ok && current == handle {
		delete(c.supervisors, orderID)
	}
	c.mu.Unlock()
}

func (c *Controller) hasSupervisor(orderID common.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.supervisors[orderID]
	return ok
}

func (c *Controller) cancelSupervisor(orderID common.Hash) {
	c.mu.Lock()
	if handle, ok := c.supervisors[orderID]; ok {
		handle.cancel()
		delete(c.supervisors, orderID)
	}
	c.mu.Unlock()
}

// PublishSecret opens the competition window: the preimage goes out to every
// resolver and any holder may unlock the destination escrow. Calling it on an
// order already COMPETING is a no-op.
func (c *Controller) PublishSecret(ctx context.Context, orderID common.Hash) error {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status == types.StatusCompeting {
		return nil
	}
	if order.Status != types.StatusSettling || order.DstSettlementTx == "" {
		return fmt.Errorf("%w: order %s is %s with dst fill %q", ErrWrongState, orderID.Hex(), order.Status, order.DstSettlementTx)
	}

	secret, err := c.store.GetSecret(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load secret for order %s: %w", orderID.Hex(), err)
	}

	now := c.now()
	deadline := now.Add(c.cfg.CompetitionWindow)
	order.CompetitionDeadline = &deadline
	if err := c.transition(order, types.StatusCompeting); err != nil {
		return err
	}
	if err := c.store.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %s: %w", orderID.Hex(), err)
	}

	if err := c.bus.PublishSecret(ctx, &types.SecretBroadcast{
		OrderID:             orderID,
		Preimage:            secret.Preimage,
		ResolverAddress:     *order.Resolver,
		SrcEscrow:           *order.SrcEscrow,
		DstEscrow:           *order.DstEscrow,
		SrcChain:            order.Intent.SrcChain,
		DstChain:            order.Intent.DstChain,
		SrcAmount:           order.Intent.SrcAmount,
		DstAmount:           order.DstAmount,
		Timestamp:           now,
		CompetitionDeadline: deadline,
	}); err != nil {
		log.Printf("Lifecycle: secret broadcast failed for order %s: %v", orderID.Hex(), err)
	}

	log.Printf("Lifecycle: competition open for order %s until %s", orderID.Hex(), deadline.Format(time.RFC3339))
	return nil
}

// authoritativeReveal submits the preimage to the destination escrow with
// bounded retries. The competition means someone else may win the race; that
// still completes the order.
func (c *Controller) authoritativeReveal(ctx context.Context, orderID common.Hash) {
	order, err := c.store.Get(ctx, orderID)
	if err != nil || order.Status != types.StatusCompeting {
		return
	}
	secret, err := c.store.GetSecret(ctx, orderID)
	if err != nil {
		log.Printf("Lifecycle: no secret for competing order %s: %v", orderID.Hex(), err)
		return
	}

	backoff := c.cfg.RetryBackoff
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}

		done, err := c.revealOnce(ctx, order, secret.Preimage)
		if done {
			return
		}
		if err != nil {
			log.Printf("Lifecycle: reveal attempt %d failed for order %s: %v", attempt+1, orderID.Hex(), err)
		}
	}

	c.metrics.Reveals.WithLabelValues("retry_exhausted").Inc()
	log.Printf("Lifecycle: reveal retries exhausted for order %s, deferring to competition timeout", orderID.Hex())
}

// revealOnce makes a single reveal attempt. It returns done=true when the
// order reached a terminal state, with or without our own transaction.
func (c *Controller) revealOnce(ctx context.Context, order *types.Order, preimage []byte) (bool, error) {
	txHash, err := c.gateway.RevealOnDestination(ctx, order.Intent.DstChain, *order.DstEscrow, preimage)
	if err != nil {
		if errors.Is(err, gateway.ErrAlreadyClaimed) {
			// A competitor unlocked the escrow first. The maker is paid
			// either way; record the winning claim when its log is findable.
			claimTx := ""
			if _, tx, lookupErr := c.gateway.ExtractRevealedSecret(ctx, order.Intent.DstChain, *order.DstEscrow); lookupErr == nil {
				claimTx = tx
			} else {
				log.Printf("Lifecycle: competitor claim lookup failed for order %s: %v", order.ID.Hex(), lookupErr)
			}
			c.completeReveal(ctx, order.ID, claimTx, "competitor")
			return true, nil
		}
		if errors.Is(err, gateway.ErrDeadlinePassed) {
			c.metrics.Reveals.WithLabelValues("deadline_passed").Inc()
			c.failOrder(ctx, order.ID, "destination escrow deadline passed")
			return true, nil
		}
		return false, err
	}

	conf := c.chains[order.Intent.DstChain].Confirmations
	if _, err := c.gateway.AwaitConfirmations(ctx, order.Intent.DstChain, txHash, conf); err != nil {
		return false, fmt.Errorf("reveal tx %s unconfirmed: %w", txHash, err)
	}

	c.completeReveal(ctx, order.ID, txHash, "self")
	return true, nil
}

// completeReveal moves a COMPETING order to COMPLETED and closes out the
// secret record and the active commitment.
func (c *Controller) completeReveal(ctx context.Context, orderID common.Hash, txHash, outcome string) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil || order.Status != types.StatusCompeting {
		return
	}

	now := c.now()
	order.SecretRevealedAt = &now
	order.SecretRevealTx = txHash
	if err := c.transition(order, types.StatusCompleted); err != nil {
		log.Printf("Lifecycle: %v", err)
		return
	}
	if err := c.store.Save(ctx, order); err != nil {
		log.Printf("Lifecycle: failed to save completed order %s: %v", orderID.Hex(), err)
		return
	}
	if err := c.store.MarkRevealed(ctx, orderID, now); err != nil {
		log.Printf("Lifecycle: failed to mark secret revealed for order %s: %v", orderID.Hex(), err)
	}
	if active, err := c.store.ActiveCommitment(ctx, orderID); err == nil {
		if err := c.store.UpdateCommitmentStatus(ctx, active.ID, types.CommitmentCompleted); err != nil {
			log.Printf("Lifecycle: failed to complete commitment for order %s: %v", orderID.Hex(), err)
		}
	}

	c.metrics.Reveals.WithLabelValues(outcome).Inc()
	log.Printf("Lifecycle: order %s completed (reveal %s, tx %q)", orderID.Hex(), outcome, txHash)
}

// failOrder moves an order to FAILED if its current status allows it and
// retires any active commitment.
func (c *Controller) failOrder(ctx context.Context, orderID common.Hash, reason string) {
	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return
	}
	if !canTransition(order.Status, types.StatusFailed) {
		return
	}
	if err := c.transition(order, types.StatusFailed); err != nil {
		return
	}
	if err := c.store.Save(ctx, order); err != nil {
		log.Printf("Lifecycle: failed to save failed order %s: %v", orderID.Hex(), err)
		return
	}
	if active, err := c.store.ActiveCommitment(ctx, orderID); err == nil {
		if err := c.store.UpdateCommitmentStatus(ctx, active.ID, types.CommitmentFailed); err != nil {
			log.Printf("Lifecycle: failed to retire commitment for order %s: %v", orderID.Hex(), err)
		}
	}
	log.Printf("Lifecycle: order %s failed: %s", orderID.Hex(), reason)
}

// HandleOrderExpired fails an ACTIVE order past its expiry. The check is
// re-done under the lock so a commit racing the reaper wins cleanly.
func (c *Controller) HandleOrderExpired(ctx context.Context, orderID common.Hash) error {
	c.metrics.ReaperEvents.WithLabelValues("order_expired").Inc()

	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != types.StatusActive || !order.ExpiresAt.Before(c.now()) {
		return nil
	}
	if err := c.transition(order, types.StatusFailed); err != nil {
		return err
	}
	if err := c.store.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save expired order %s: %w", orderID.Hex(), err)
	}
	log.Printf("Lifecycle: order %s expired unfilled", orderID.Hex())
	return nil
}

// HandleCommitmentLapsed moves a COMMITTED order whose resolver missed the
// commitment deadline into RESCUE_AVAILABLE and re-broadcasts it.
func (c *Controller) HandleCommitmentLapsed(ctx context.Context, orderID common.Hash) error {
	c.metrics.ReaperEvents.WithLabelValues("commitment_lapsed").Inc()
	c.cancelSupervisor(orderID)

	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != types.StatusCommitted || order.CommitmentDeadline == nil || !order.CommitmentDeadline.Before(c.now()) {
		return nil
	}

	if active, err := c.store.ActiveCommitment(ctx, orderID); err == nil {
		if err := c.store.UpdateCommitmentStatus(ctx, active.ID, types.CommitmentFailed); err != nil {
			return fmt.Errorf("failed to retire lapsed commitment: %w", err)
		}
	}
	if err := c.transition(order, types.StatusRescueAvailable); err != nil {
		return err
	}
	if err := c.store.Save(ctx, order); err != nil {
		return fmt.Errorf("failed to save order %s: %w", orderID.Hex(), err)
	}

	log.Printf("Lifecycle: commitment by %s lapsed on order %s, rescue open", order.Resolver.Hex(), orderID.Hex())
	c.broadcastOrder(ctx, order)
	return nil
}

// HandleRevealDue restarts the reveal pipeline for a SETTLING order whose
// settlement is old enough that the secret should already be out. Covers
// coordinator restarts that lost the in-memory supervisor.
func (c *Controller) HandleRevealDue(ctx context.Context, orderID common.Hash) error {
	c.metrics.ReaperEvents.WithLabelValues("reveal_due").Inc()

	if c.hasSupervisor(orderID) {
		return nil
	}

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != types.StatusSettling {
		return nil
	}
	if order.DstSettlementTx == "" {
		// Maker funds are locked but the resolver never filled. Rescue does
		// not cover this; it needs the on-chain timeout refund path.
		log.Printf("Lifecycle: order %s settling without destination fill, awaiting escrow timeout", orderID.Hex())
		return nil
	}

	log.Printf("Lifecycle: reveal overdue for order %s, restarting supervisor", orderID.Hex())
	c.startSupervisor(orderID, 0)
	return nil
}

// HandleCompetitionTimeout makes the final reveal attempt for a COMPETING
// order past its deadline, failing the order if the escrow cannot be opened.
func (c *Controller) HandleCompetitionTimeout(ctx context.Context, orderID common.Hash) error {
	c.metrics.ReaperEvents.WithLabelValues("competition_timeout").Inc()

	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != types.StatusCompeting || order.SecretRevealedAt != nil {
		return nil
	}
	if order.CompetitionDeadline == nil || !order.CompetitionDeadline.Before(c.now()) {
		return nil
	}
	secret, err := c.store.GetSecret(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load secret for order %s: %w", orderID.Hex(), err)
	}

	done, revealErr := c.revealOnce(ctx, order, secret.Preimage)
	if done {
		return nil
	}
	if revealErr != nil {
		log.Printf("Lifecycle: final reveal failed for order %s: %v", orderID.Hex(), revealErr)
	}
	c.failOrder(ctx, orderID, "competition window elapsed without reveal")
	return nil
}

// Order returns the redacted order.
func (c *Controller) Order(ctx context.Context, orderID common.Hash) (*types.Order, error) {
	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order.Redacted(), nil
}

// Price returns the live auction quote for a fillable order.
func (c *Controller) Price(ctx context.Context, orderID common.Hash) (*types.PriceResponse, error) {
	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != types.StatusActive && order.Status != types.StatusRescueAvailable {
		return nil, fmt.Errorf("%w: order %s is %s", ErrWrongState, orderID.Hex(), order.Status)
	}

	now := c.now()
	price := c.pricing.CurrentPrice(order.Auction, now)
	srcDec := c.tokenDecimals(ctx, order.Intent.SrcChain, order.Intent.SrcToken)
	dstDec := c.tokenDecimals(ctx, order.Intent.DstChain, order.Intent.DstToken)
	makerAmount, takerAmount := pricing.TokenAmounts(order.Intent.SrcAmount, srcDec, dstDec, price)

	remaining := order.Auction.StartTime.Add(time.Duration(order.Auction.Duration) * time.Second).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &types.PriceResponse{
		CurrentPrice:  price,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		TimeRemaining: int64(remaining / time.Second),
	}, nil
}

// ActiveOrders lists fillable orders with live prices, rescues included.
func (c *Controller) ActiveOrders(ctx context.Context) ([]*types.OrderWithPrice, error) {
	orders, err := c.store.ListByStatus(ctx, types.StatusActive, types.StatusRescueAvailable)
	if err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]*types.OrderWithPrice, 0, len(orders))
	for _, order := range orders {
		if order.Status == types.StatusActive && order.ExpiresAt.Before(now) {
			continue
		}
		out = append(out, &types.OrderWithPrice{
			Order:        order.Redacted(),
			CurrentPrice: c.pricing.CurrentPrice(order.Auction, now),
		})
	}
	return out, nil
}

// SecretStatus reports the on-chain reveal to the committed resolver only.
func (c *Controller) SecretStatus(ctx context.Context, orderID common.Hash, resolver common.Address) (*types.SecretStatusResponse, error) {
	order, err := c.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Resolver == nil || *order.Resolver != resolver {
		return nil, fmt.Errorf("%w: order %s", ErrWrongResolver, orderID.Hex())
	}
	if order.SecretRevealedAt == nil {
		return nil, fmt.Errorf("%w: order %s is %s", ErrSecretNotRevealed, orderID.Hex(), order.Status)
	}
	return &types.SecretStatusResponse{
		RevealTxHash: order.SecretRevealTx,
		RevealedAt:   order.SecretRevealedAt,
	}, nil
}

// Stats reports store aggregates and refreshes the per-status gauge.
func (c *Controller) Stats(ctx context.Context) (*store.Stats, error) {
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	for _, status := range []types.OrderStatus{
		types.StatusActive, types.StatusCommitted, types.StatusSettling,
		types.StatusCompeting, types.StatusCompleted, types.StatusFailed,
		types.StatusRescueAvailable,
	} {
		c.metrics.OrdersByStatus.WithLabelValues(string(status)).Set(float64(stats.ByStatus[status]))
	}
	return stats, nil
}

func (c *Controller) transition(order *types.Order, to types.OrderStatus) error {
	if !canTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrWrongState, order.Status, to)
	}
	c.metrics.Transitions.WithLabelValues(string(order.Status), string(to)).Inc()
	order.Status = to
	order.UpdatedAt = c.now()
	return nil
}

// broadcastOrder publishes the redacted order with live auction context.
func (c *Controller) broadcastOrder(ctx context.Context, order *types.Order) {
	now := c.now()
	msg := &types.OrderBroadcast{
		OrderID:           order.ID,
		OrderData:         order.Redacted(),
		Timestamp:         now,
		AuctionStartPrice: order.Auction.StartPrice,
		AuctionEndPrice:   order.Auction.EndPrice,
		AuctionDuration:   order.Auction.Duration,
		CurrentPrice:      c.pricing.CurrentPrice(order.Auction, now),
		SrcTokenDecimals:  c.tokenDecimals(ctx, order.Intent.SrcChain, order.Intent.SrcToken),
		DstTokenDecimals:  c.tokenDecimals(ctx, order.Intent.DstChain, order.Intent.DstToken),
	}
	if err := c.bus.PublishOrder(ctx, msg); err != nil {
		log.Printf("Lifecycle: order broadcast failed for %s: %v", order.ID.Hex(), err)
	}
}

func (c *Controller) tokenDecimals(ctx context.Context, chain uint64, token common.Address) uint8 {
	dec, err := c.gateway.TokenDecimals(ctx, chain, token)
	if err != nil {
		log.Printf("Lifecycle: decimals lookup failed for %s on chain %d, assuming %d: %v",
			token.Hex(), chain, fallbackDecimals, err)
		return fallbackDecimals
	}
	return dec
}

func chainToken(chain uint64, token common.Address) string {
	return fmt.Sprintf("%d:%s", chain, token.Hex())
}
