package lp2p

import (
	"context"
	"crypto/ecdsa"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"go.uber.org/fx"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/node/modules/dtypes"
	"github.com/rentstore/rentstore/node/modules/helpers"
	"github.com/rentstore/rentstore/protocol/p2pchannel"
)

var log = logging.Logger("p2pnode")

func Host(listen []string) func(lc fx.Lifecycle, key *ecdsa.PrivateKey) (host.Host, error) {
	return func(lc fx.Lifecycle, key *ecdsa.PrivateKey) (host.Host, error) {
		h, err := p2pchannel.NewHost(key, listen)
		if err != nil {
			return nil, err
		}

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return h.Close()
			},
		})
		log.Infow("libp2p host started", "peer", h.ID(), "addrs", h.Addrs())
		return h, nil
	}
}

func BootstrapPeers(addrs []string) func() (dtypes.BootstrapPeers, error) {
	return func() (dtypes.BootstrapPeers, error) {
		pis, err := p2pchannel.ParsePeers(addrs)
		if err != nil {
			return nil, xerrors.Errorf("parsing bootstrap peers: %w", err)
		}
		return pis, nil
	}
}

// Bootstrap dials the bootstrap peers in the background once the node starts.
func Bootstrap(mctx helpers.MetricsCtx, lc fx.Lifecycle, h host.Host, peers dtypes.BootstrapPeers) {
	ctx := helpers.LifecycleCtx(mctx, lc)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if len(peers) == 0 {
				return nil
			}
			go func() {
				n := p2pchannel.Connect(ctx, h, peers)
				log.Infow("bootstrap done", "connected", n, "total", len(peers))
			}()
			return nil
		},
	})
}
