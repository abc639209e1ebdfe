package modules

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/filecoin-project/go-storedcounter"
	"github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/raulk/clock"
	"go.opencensus.io/tag"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/audit"
	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/chain/ledger/ethledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lease/leasestore"
	"github.com/rentstore/rentstore/market"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/node/config"
	"github.com/rentstore/rentstore/node/modules/dtypes"
	"github.com/rentstore/rentstore/node/modules/helpers"
	"github.com/rentstore/rentstore/node/repo"
	"github.com/rentstore/rentstore/protocol"
	"github.com/rentstore/rentstore/protocol/p2pchannel"
	"github.com/rentstore/rentstore/settlement"
	"github.com/rentstore/rentstore/storage/blobstore"
)

var renterNonceKey = datastore.NewKey("/nonce/renter")

func LeaseStore(ds dtypes.MetadataDS) lease.Store {
	return leasestore.New(ds)
}

func LeaseRegistry(st lease.Store) *lease.Registry {
	return lease.NewRegistry(st)
}

// RestoreLeases loads every stored lease into the registry. It runs before
// any component that reads the registry is started.
func RestoreLeases(mctx helpers.MetricsCtx, lc fx.Lifecycle, reg *lease.Registry) error {
	ctx := helpers.LifecycleCtx(mctx, lc)
	if err := reg.Restore(ctx); err != nil {
		return xerrors.Errorf("restoring leases: %w", err)
	}
	log.Infow("leases restored", "count", len(reg.Machines()))
	return nil
}

// LeaseMetrics counts every lease transition.
func LeaseMetrics(mctx helpers.MetricsCtx, lc fx.Lifecycle, reg *lease.Registry) {
	unsub := reg.Subscribe(func(t lease.Transition) {
		metrics.Count(mctx, metrics.LeaseTransition,
			tag.Upsert(metrics.Role, string(t.Lease.Role)),
			tag.Upsert(metrics.FromState, string(t.From)),
			tag.Upsert(metrics.ToState, string(t.To)),
		)
	})
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			unsub()
			return nil
		},
	})
}

func Blobstore(lc fx.Lifecycle, r repo.LockedRepo) (*blobstore.Store, error) {
	bs, err := blobstore.Open(r.BlobPath())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return bs.Close()
		},
	})
	return bs, nil
}

func RenterNonces(ds dtypes.MetadataDS) market.Nonces {
	return storedcounter.New(ds, renterNonceKey)
}

func EthLedger(cfg config.Chain) func(mctx helpers.MetricsCtx, lc fx.Lifecycle, key *ecdsa.PrivateKey) (ledger.Client, error) {
	return func(mctx helpers.MetricsCtx, lc fx.Lifecycle, key *ecdsa.PrivateKey) (ledger.Client, error) {
		deployments, err := cfg.ParseDeployments()
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(mctx, 30*time.Second)
		defer cancel()

		l, err := ethledger.Dial(ctx, cfg.RPCURL, cfg.ChainID, key, deployments)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				l.Close()
				return nil
			},
		})
		return l, nil
	}
}

func Channel(cfg config.Libp2p) func(lc fx.Lifecycle, h host.Host) protocol.Channel {
	return func(lc fx.Lifecycle, h host.Host) protocol.Channel {
		ch := p2pchannel.New(h, cfg.MaxMessageSize)
		lc.Append(fx.Hook{
			OnStop: func(_ context.Context) error {
				return ch.Close()
			},
		})
		return ch
	}
}

func Outbox(key *ecdsa.PrivateKey, ch protocol.Channel) *protocol.Outbox {
	return protocol.NewOutbox(key, ch)
}

func AuditScheduler(cfg config.Audit) func(reg *lease.Registry, l ledger.Client, bs *blobstore.Store, out *protocol.Outbox, clk clock.Clock) *audit.Scheduler {
	return func(reg *lease.Registry, l ledger.Client, bs *blobstore.Store, out *protocol.Outbox, clk clock.Clock) *audit.Scheduler {
		return audit.NewScheduler(audit.Config{
			Cadence:           cfg.Cadence,
			ChallengeTimeout:  time.Duration(cfg.ChallengeTimeout),
			AnchorOffset:      cfg.AnchorOffset,
			ChainPollInterval: time.Duration(cfg.ChainPollInterval),
		}, reg, l, bs, out, clk)
	}
}

type EngineParams struct {
	fx.In

	Key       *ecdsa.PrivateKey
	Registry  *lease.Registry
	Ledger    ledger.Client
	Blobs     *blobstore.Store
	Channel   protocol.Channel
	Scheduler *audit.Scheduler
	Nonces    market.Nonces
	Clock     clock.Clock
}

func MarketEngine(cfg *config.Node) func(p EngineParams) (*market.Engine, error) {
	return func(p EngineParams) (*market.Engine, error) {
		asks, err := cfg.Market.ParseAsks()
		if err != nil {
			return nil, err
		}

		return market.NewEngine(market.Config{
			ChunkSize:       cfg.Market.ChunkSize,
			ProposalTimeout: time.Duration(cfg.Market.ProposalTimeout),
			MaxStorageBytes: cfg.Market.MaxStorageBytes,
			TickInterval:    time.Duration(cfg.Audit.TickInterval),
			Asks:            asks,
		}, p.Key, p.Registry, p.Ledger, p.Blobs, p.Channel, p.Scheduler, p.Nonces, p.Clock)
	}
}

func RunEngine(lc fx.Lifecycle, e *market.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("lease engine starting", "address", e.Address(), "peer", e.Self())
			return e.Start(ctx)
		},
		OnStop: e.Stop,
	})
}

func Settlement(cfg config.Settlement) func(reg *lease.Registry, l ledger.Client, bs *blobstore.Store, clk clock.Clock) *settlement.Coordinator {
	return func(reg *lease.Registry, l ledger.Client, bs *blobstore.Store, clk clock.Clock) *settlement.Coordinator {
		return settlement.New(settlement.Config{
			MaxAttempts:         cfg.MaxAttempts,
			BackoffMin:          time.Duration(cfg.BackoffMin),
			BackoffMax:          time.Duration(cfg.BackoffMax),
			ConfirmPollInterval: time.Duration(cfg.ConfirmPollInterval),
			ConfirmTimeout:      time.Duration(cfg.ConfirmTimeout),
		}, reg, l, bs, clk)
	}
}

func RunSettlement(lc fx.Lifecycle, c *settlement.Coordinator) {
	lc.Append(fx.Hook{
		OnStart: c.Start,
		OnStop:  c.Stop,
	})
}

func SetAPIEndpoint(lr repo.LockedRepo, e dtypes.APIEndpoint) error {
	return lr.SetAPIEndpoint(string(e))
}
