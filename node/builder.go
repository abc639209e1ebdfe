package node

import (
	"context"
	"crypto/ecdsa"
	"errors"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/raulk/clock"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
	"github.com/rentstore/rentstore/audit"
	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/market"
	"github.com/rentstore/rentstore/node/config"
	"github.com/rentstore/rentstore/node/impl"
	"github.com/rentstore/rentstore/node/modules"
	"github.com/rentstore/rentstore/node/modules/dtypes"
	"github.com/rentstore/rentstore/node/modules/helpers"
	"github.com/rentstore/rentstore/node/modules/lp2p"
	"github.com/rentstore/rentstore/node/repo"
	"github.com/rentstore/rentstore/protocol"
	"github.com/rentstore/rentstore/settlement"
	"github.com/rentstore/rentstore/storage/blobstore"
)

var log = logging.Logger("builder")

// special is a type used to give keys to modules which
// can't really be identified by the returned type
type special struct{ id int }

type invoke int

// Invokes are called in the order they are defined.
//
//nolint:golint
const (
	// leases must be in the registry before anything reads it
	RestoreLeasesKey = invoke(iota)
	LeaseMetricsKey

	// settlement subscribes to transitions before the engine can produce any
	RunSettlementKey
	RunEngineKey

	BootstrapKey

	ExtractApiKey
	SetApiEndpointKey

	_nInvokes // keep this last
)

type Settings struct {
	// modules is a map of constructors for DI
	//
	// In most cases the index will be a reflect. Type of element returned by
	// the constructor, but for some 'constructors' it's hard to specify what's
	// the return type should be (or the constructor returns fx group)
	modules map[interface{}]fx.Option

	// invokes are separate from modules as they can't be referenced by return
	// type, and must be applied in correct order
	invokes []fx.Option

	Online bool // Online option applied
	Config bool // Config option applied
}

func defaults() []Option {
	return []Option{
		Override(new(helpers.MetricsCtx), modules.MetricsContext),
		Override(new(dtypes.ShutdownChan), make(chan struct{})),
		Override(new(clock.Clock), clock.New),
	}
}

// Online sets up the libp2p host. The host itself is configured by Config.
func Online() Option {
	return Options(
		// make sure that online is applied before Config.
		// This is important because Config overrides some of Online units
		func(s *Settings) error { s.Online = true; return nil },
		ApplyIf(func(s *Settings) bool { return s.Config },
			Error(errors.New("the Online option must be set before Config option")),
		),

		Override(new(host.Host), lp2p.Host(config.DefaultNode().Libp2p.ListenAddresses)),
		Override(new(dtypes.BootstrapPeers), dtypes.BootstrapPeers(nil)),
		Override(BootstrapKey, lp2p.Bootstrap),
	)
}

// Rentstore wires the lease engine, audits and settlement on top of the
// repo datastore.
func Rentstore(out *api.Rentstore) Option {
	return Options(
		ApplyIf(func(s *Settings) bool { return s.Config },
			Error(errors.New("the Rentstore option must be set before Config option")),
		),

		Override(new(lease.Store), modules.LeaseStore),
		Override(new(*lease.Registry), modules.LeaseRegistry),
		Override(RestoreLeasesKey, modules.RestoreLeases),
		Override(LeaseMetricsKey, modules.LeaseMetrics),

		Override(new(*blobstore.Store), modules.Blobstore),
		Override(new(market.Nonces), modules.RenterNonces),
		Override(new(*protocol.Outbox), modules.Outbox),

		Override(RunSettlementKey, modules.RunSettlement),
		Override(RunEngineKey, modules.RunEngine),

		func(s *Settings) error {
			resAPI := &impl.RentstoreAPI{}
			s.invokes[ExtractApiKey] = fx.Populate(resAPI)
			*out = resAPI
			return nil
		},
	)
}

// Config sets up constructors based on the provided Config
func Config(cfg *config.Node) Option {
	return Options(
		func(s *Settings) error { s.Config = true; return nil },

		Override(new(dtypes.APIEndpoint), dtypes.APIEndpoint(cfg.API.ListenAddress)),
		Override(SetApiEndpointKey, modules.SetAPIEndpoint),

		Override(new(ledger.Client), modules.EthLedger(cfg.Chain)),
		Override(new(protocol.Channel), modules.Channel(cfg.Libp2p)),
		Override(new(*audit.Scheduler), modules.AuditScheduler(cfg.Audit)),
		Override(new(*settlement.Coordinator), modules.Settlement(cfg.Settlement)),
		Override(new(*market.Engine), modules.MarketEngine(cfg)),

		ApplyIf(func(s *Settings) bool { return s.Online },
			Override(new(host.Host), lp2p.Host(cfg.Libp2p.ListenAddresses)),

			If(len(cfg.Libp2p.BootstrapPeers) > 0,
				Override(new(dtypes.BootstrapPeers), lp2p.BootstrapPeers(cfg.Libp2p.BootstrapPeers)),
			),
		),
	)
}

// Repo locks r for the lifetime of the node and configures the node from the
// repo config.
func Repo(r repo.Repo) Option {
	return func(settings *Settings) error {
		lr, err := r.Lock()
		if err != nil {
			return err
		}
		c, err := lr.Config()
		if err != nil {
			return err
		}

		return Options(
			Override(new(repo.LockedRepo), modules.LockedRepo(lr)), // module handles closing

			Override(new(dtypes.MetadataDS), modules.Datastore),
			Override(new(*ecdsa.PrivateKey), modules.Identity),

			Config(c),
		)(settings)
	}
}

type StopFunc func(context.Context) error

// New builds and starts new rentstore node
func New(ctx context.Context, opts ...Option) (StopFunc, error) {
	settings := Settings{
		modules: map[interface{}]fx.Option{},
		invokes: make([]fx.Option, _nInvokes),
	}

	// apply module options in the right order
	if err := Options(Options(defaults()...), Options(opts...))(&settings); err != nil {
		return nil, xerrors.Errorf("applying node options failed: %w", err)
	}

	// gather constructors for fx.Options
	ctors := make([]fx.Option, 0, len(settings.modules))
	for _, opt := range settings.modules {
		ctors = append(ctors, opt)
	}

	// fill holes in invokes for use in fx.Options
	for i, opt := range settings.invokes {
		if opt == nil {
			settings.invokes[i] = fx.Options()
		}
	}

	app := fx.New(
		fx.Options(ctors...),
		fx.Options(settings.invokes...),

		fx.NopLogger,
	)

	if err := app.Start(ctx); err != nil {
		// comment fx.NopLogger few lines above for easier debugging
		return nil, xerrors.Errorf("starting node: %w", err)
	}

	return app.Stop, nil
}

// In-memory / testing

// Test replaces the chain connection and the libp2p host with in-process
// ones. It must be applied after Repo.
func Test(l ledger.Client, h host.Host, ch protocol.Channel) Option {
	return Options(
		ApplyIf(func(s *Settings) bool { return !s.Config },
			Error(errors.New("the Test option must be set after Config option")),
		),

		Override(new(ledger.Client), l),
		Override(new(host.Host), h),
		Override(new(protocol.Channel), ch),
		Unset(BootstrapKey),
	)
}
