package impl

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/api"
	"github.com/rentstore/rentstore/build"
	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/market"
	"github.com/rentstore/rentstore/node/modules/dtypes"
)

var log = logging.Logger("node")

type RentstoreAPI struct {
	fx.In

	Engine       *market.Engine
	Ledger       ledger.Client
	Host         host.Host
	ShutdownChan dtypes.ShutdownChan
}

var _ api.Rentstore = &RentstoreAPI{}

func (a *RentstoreAPI) Version(context.Context) (api.Version, error) {
	return api.Version{
		Version:    build.UserVersion(),
		APIVersion: build.APIVersion.String(),
	}, nil
}

func (a *RentstoreAPI) GetInfo(context.Context) (api.Info, error) {
	addrs := a.Host.Addrs()
	out := api.Info{
		ID:          a.Host.ID(),
		Address:     a.Engine.Address(),
		ListenAddrs: make([]string, 0, len(addrs)),
		Tokens:      a.Ledger.Tokens(),
	}
	for _, addr := range addrs {
		out.ListenAddrs = append(out.ListenAddrs, addr.String())
	}
	return out, nil
}

func (a *RentstoreAPI) Shutdown(context.Context) error {
	select {
	case a.ShutdownChan <- struct{}{}:
	default:
	}
	return nil
}

func (a *RentstoreAPI) NetPeers(context.Context) ([]peer.AddrInfo, error) {
	conns := a.Host.Network().Conns()
	out := make([]peer.AddrInfo, 0, len(conns))

	for _, conn := range conns {
		out = append(out, peer.AddrInfo{
			ID:    conn.RemotePeer(),
			Addrs: []ma.Multiaddr{conn.RemoteMultiaddr()},
		})
	}
	return out, nil
}

func (a *RentstoreAPI) NetConnect(ctx context.Context, p peer.AddrInfo) error {
	a.Host.Peerstore().AddAddrs(p.ID, p.Addrs, peerstore.PermanentAddrTTL)
	if err := a.Host.Connect(ctx, p); err != nil {
		return err
	}
	if a.Host.Network().Connectedness(p.ID) != network.Connected {
		return xerrors.Errorf("not connected to %s after dial", p.ID)
	}
	return nil
}

// GetBalance queries all tokens concurrently.
func (a *RentstoreAPI) GetBalance(ctx context.Context) ([]api.TokenBalance, error) {
	tokens := a.Ledger.Tokens()
	out := make([]api.TokenBalance, len(tokens))

	eg, ctx := errgroup.WithContext(ctx)
	for i, token := range tokens {
		eg.Go(func() error {
			wallet, err := a.Ledger.BalanceOf(ctx, token)
			if err != nil {
				return xerrors.Errorf("wallet balance of %s: %w", token, err)
			}
			allowance, err := a.Ledger.Allowance(ctx, token)
			if err != nil {
				return xerrors.Errorf("allowance of %s: %w", token, err)
			}
			escrow, err := a.Ledger.StorageBalance(ctx, token)
			if err != nil {
				return xerrors.Errorf("storage balance of %s: %w", token, err)
			}

			out[i] = api.TokenBalance{
				Token:       token,
				Wallet:      wallet,
				Allowance:   allowance,
				Available:   escrow.Available,
				LockedRents: escrow.LockedRents,
				LockedLets:  escrow.LockedLets,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New("amount must be positive")
	}
	return nil
}

func (a *RentstoreAPI) Approve(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	if err := checkAmount(amount); err != nil {
		return common.Hash{}, err
	}
	return a.Ledger.Approve(ctx, token, amount)
}

func (a *RentstoreAPI) Deposit(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	if err := checkAmount(amount); err != nil {
		return common.Hash{}, err
	}
	return a.Ledger.Deposit(ctx, token, amount)
}

func (a *RentstoreAPI) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	if err := checkAmount(amount); err != nil {
		return common.Hash{}, err
	}
	return a.Ledger.Withdraw(ctx, token, amount)
}

func (a *RentstoreAPI) Store(ctx context.Context, p api.StoreParams) (common.Hash, error) {
	switch {
	case p.Price == nil || p.Price.Sign() < 0:
		return common.Hash{}, xerrors.New("price must be set and not negative")
	case p.Penalty == nil || p.Penalty.Sign() < 0:
		return common.Hash{}, xerrors.New("penalty must be set and not negative")
	case p.Duration <= 0:
		return common.Hash{}, xerrors.New("lease duration must be positive")
	case len(p.Data) == 0:
		return common.Hash{}, xerrors.New("no data to store")
	}

	tx, err := a.Engine.Store(ctx, p.Provider, lease.Terms{
		Token:              p.Token,
		Price:              p.Price,
		Penalty:            p.Penalty,
		ProposalExpiration: p.ProposalExpiration,
		LeaseDuration:      p.Duration,
	}, p.Data)
	if err != nil {
		log.Warnw("store failed", "provider", p.Provider, "size", len(p.Data), "error", err)
		return common.Hash{}, err
	}
	return tx, nil
}

func (a *RentstoreAPI) Retrieve(ctx context.Context, provider peer.ID, nonce uint64) ([]byte, error) {
	return a.Engine.Retrieve(ctx, provider, nonce)
}

func (a *RentstoreAPI) Challenge(ctx context.Context, provider peer.ID, nonce uint64, block uint64) error {
	return a.Engine.Challenge(ctx, provider, nonce, block)
}

func (a *RentstoreAPI) ListStorageRented(ctx context.Context) ([]api.StorageRented, error) {
	leases, err := a.Engine.ListStorageRented(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]api.StorageRented, 0, len(leases))
	for _, l := range leases {
		out = append(out, api.NewStorageRented(l))
	}
	return out, nil
}
