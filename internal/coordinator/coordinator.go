package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/1inch/swap-coordinator/internal/api"
	"github.com/1inch/swap-coordinator/internal/bus"
	"github.com/1inch/swap-coordinator/internal/config"
	"github.com/1inch/swap-coordinator/internal/eip712"
	"github.com/1inch/swap-coordinator/internal/gateway"
	"github.com/1inch/swap-coordinator/internal/lifecycle"
	"github.com/1inch/swap-coordinator/internal/metrics"
	"github.com/1inch/swap-coordinator/internal/oracle"
	"github.com/1inch/swap-coordinator/internal/pricing"
	"github.com/1inch/swap-coordinator/internal/reaper"
	"github.com/1inch/swap-coordinator/internal/store"
)

// Coordinator assembles the full service: store, chain gateway, lifecycle
// controller, reaper and control plane.
type Coordinator struct {
	db         *sql.DB
	gateway    *gateway.EVM
	controller *lifecycle.Controller
	server     *api.Server
	reaper     *reaper.Reaper
	bus        *bus.InProcess
}

// New connects to the database and every configured chain and wires the
// components together. The oracle is injected so deployments can swap the
// static table for a live feed.
func New(ctx context.Context, cfg *config.Config, orc oracle.Oracle) (*Coordinator, error) {
	db, err := store.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	gw, err := gateway.NewEVM(ctx, cfg.Chains)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect chains: %w", err)
	}

	factories := make(map[uint64]common.Address, len(cfg.Chains))
	for id, chain := range cfg.Chains {
		factories[id] = common.HexToAddress(chain.EscrowFactory)
	}
	verifier := eip712.NewVerifier(cfg.Lifecycle.EIP712Name, cfg.Lifecycle.EIP712Version, factories)

	st := store.NewPostgres(db)
	msgBus := bus.NewInProcess()
	m := metrics.New()

	controller := lifecycle.NewController(cfg.Lifecycle, cfg.Chains, st, gw, msgBus,
		verifier, pricing.NewEngine(), orc, m)

	return &Coordinator{
		db:         db,
		gateway:    gw,
		controller: controller,
		server:     api.NewServer(cfg.API, controller, m),
		reaper:     reaper.New(cfg.Lifecycle, st, controller),
		bus:        msgBus,
	}, nil
}

// Bus exposes the broadcast fan-out for embedding processes (resolver
// simulators, websocket bridges) to subscribe to.
func (c *Coordinator) Bus() *bus.InProcess {
	return c.bus
}

// Run blocks until ctx is cancelled or a component fails, then tears down.
func (c *Coordinator) Run(ctx context.Context) error {
	log.Printf("Coordinator: starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.server.Start(gctx) })
	g.Go(func() error { return c.reaper.Run(gctx) })

	err := g.Wait()

	c.controller.Close()
	c.gateway.Close()
	if dbErr := c.db.Close(); dbErr != nil {
		log.Printf("Coordinator: database close failed: %v", dbErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("Coordinator: stopped")
	return nil
}
