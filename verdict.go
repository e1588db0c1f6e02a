package verdict

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/cmwaters/verdict/database"
	"github.com/cmwaters/verdict/event"
	"github.com/cmwaters/verdict/internal/config"
	"github.com/cmwaters/verdict/network"
	"github.com/cmwaters/verdict/pkg/target"
	"github.com/cmwaters/verdict/pkg/weight"
	"github.com/cmwaters/verdict/tally"
	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Node assembles an engine with its strategies, weight ledgers, call
// targets, store and event bus.
type Node struct {
	Engine  *voting.Engine
	Bus     *event.EventBus
	Weights *weight.Registry
	Router  *target.Router

	store  voting.Store
	gossip network.Gossip
	relay  *network.Relay
	logger zerolog.Logger
}

type options struct {
	network  network.Network
	registry prometheus.Registerer
	clock    voting.Clock
	store    voting.Store
}

type Option func(o *options)

// WithNetwork relays engine events to peers on the configured topic.
func WithNetwork(n network.Network) Option {
	return func(o *options) {
		o.network = n
	}
}

func WithPromRegistry(registry prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = registry
	}
}

func WithClock(clock voting.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithStore overrides the store plugin selected in the config.
func WithStore(store voting.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// New builds a node from cfg and restores any persisted instances.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Node, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	basis, err := tally.ParseQuorumBasis(cfg.QuorumBasis)
	if err != nil {
		return nil, err
	}

	weights, err := seedLedgers(cfg.Ledgers)
	if err != nil {
		return nil, err
	}
	router := target.NewRouter()
	for _, t := range cfg.Targets {
		router.Route(common.HexToAddress(t.Address), target.NewWebhook(t.URL, nil))
	}

	store := o.store
	if store == nil {
		store, err = database.New(database.Config{
			Plugin:  cfg.StorePlugin,
			DataDir: cfg.DataDir,
			DSN:     cfg.PostgresDSN,
			Logger:  logger.With().Str("component", "database").Logger(),
		})
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
	}

	tallyLogger := logger.With().Str("component", "tally").Logger()
	strategies := []voting.Strategy{
		tally.NewMajority(cfg.MajorityDuration, tally.WithLogger(tallyLogger)),
		tally.NewFungibleQuorum(weights, tally.WithLogger(tallyLogger), tally.WithQuorumBasis(basis)),
		tally.NewNonFungibleQuorum(weights, tally.WithLogger(tallyLogger), tally.WithQuorumBasis(basis)),
		tally.NewBracket(weights, tally.WithLogger(tallyLogger)),
	}

	bus := event.NewEventBus(o.registry, logger.With().Str("component", "event").Logger())
	engineOpts := []voting.Option{
		voting.WithLogger(logger.With().Str("component", "voting").Logger()),
		voting.WithStore(store),
		voting.WithEventBus(bus),
		voting.WithMinDuration(cfg.MinDuration),
	}
	if o.registry != nil {
		engineOpts = append(engineOpts, voting.WithPromRegistry(o.registry))
	}
	if o.clock != nil {
		engineOpts = append(engineOpts, voting.WithClock(o.clock))
	}

	n := &Node{
		Engine:  voting.New(router, strategies, engineOpts...),
		Bus:     bus,
		Weights: weights,
		Router:  router,
		store:   store,
		logger:  logger,
	}
	if err := n.Engine.Restore(ctx); err != nil {
		_ = n.Close()
		return nil, err
	}

	if o.network != nil {
		n.gossip, err = o.network.Gossip(cfg.Topic)
		if err != nil {
			_ = n.Close()
			return nil, fmt.Errorf("joining topic %q: %w", cfg.Topic, err)
		}
		n.relay = network.NewRelay(n.gossip, bus, logger.With().Str("component", "relay").Logger())
		n.relay.Attach()
	}
	return n, nil
}

func seedLedgers(ledgers []config.LedgerConfig) (*weight.Registry, error) {
	registry := weight.NewRegistry()
	for _, l := range ledgers {
		addr := common.HexToAddress(l.Address)
		switch l.Kind {
		case config.LedgerFungible:
			ledger := weight.NewFungibleLedger()
			for holder, raw := range l.Balances {
				amount, ok := new(big.Int).SetString(raw, 10)
				if !ok || amount.Sign() < 0 {
					return nil, fmt.Errorf("ledger %s: invalid balance %q for %s", l.Address, raw, holder)
				}
				ledger.Mint(common.HexToAddress(holder), amount)
			}
			registry.Register(addr, ledger)
		case config.LedgerNonFungible:
			ledger := weight.NewNonFungibleLedger()
			for tokenID, owner := range l.Tokens {
				if err := ledger.Mint(common.HexToAddress(owner), tokenID); err != nil {
					return nil, fmt.Errorf("ledger %s: %w", l.Address, err)
				}
			}
			registry.Register(addr, ledger)
		default:
			return nil, fmt.Errorf("ledger %s: unknown kind %q", l.Address, l.Kind)
		}
	}
	return registry, nil
}

// Close stops relaying, drains the event bus and closes the store.
func (n *Node) Close() error {
	var errs []error
	if n.relay != nil {
		n.relay.Close()
	}
	if n.gossip != nil {
		errs = append(errs, n.gossip.Close())
	}
	n.Bus.Stop()
	errs = append(errs, n.store.Close())
	return errors.Join(errs...)
}
