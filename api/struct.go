package api

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
)

// RentstoreStruct implements Rentstore passing calls to user-provided
// function values. The JSON-RPC client fills Internal.
type RentstoreStruct struct {
	Internal struct {
		Version  func(context.Context) (Version, error)
		GetInfo  func(context.Context) (Info, error)
		Shutdown func(context.Context) error

		NetPeers   func(context.Context) ([]peer.AddrInfo, error)
		NetConnect func(context.Context, peer.AddrInfo) error

		GetBalance func(context.Context) ([]TokenBalance, error)
		Approve    func(context.Context, common.Address, *big.Int) (common.Hash, error)
		Deposit    func(context.Context, common.Address, *big.Int) (common.Hash, error)
		Withdraw   func(context.Context, common.Address, *big.Int) (common.Hash, error)

		Store             func(context.Context, StoreParams) (common.Hash, error)
		Retrieve          func(context.Context, peer.ID, uint64) ([]byte, error)
		Challenge         func(context.Context, peer.ID, uint64, uint64) error
		ListStorageRented func(context.Context) ([]StorageRented, error)
	}
}

func (c *RentstoreStruct) Version(ctx context.Context) (Version, error) {
	return c.Internal.Version(ctx)
}

func (c *RentstoreStruct) GetInfo(ctx context.Context) (Info, error) {
	return c.Internal.GetInfo(ctx)
}

func (c *RentstoreStruct) Shutdown(ctx context.Context) error {
	return c.Internal.Shutdown(ctx)
}

func (c *RentstoreStruct) NetPeers(ctx context.Context) ([]peer.AddrInfo, error) {
	return c.Internal.NetPeers(ctx)
}

func (c *RentstoreStruct) NetConnect(ctx context.Context, p peer.AddrInfo) error {
	return c.Internal.NetConnect(ctx, p)
}

func (c *RentstoreStruct) GetBalance(ctx context.Context) ([]TokenBalance, error) {
	return c.Internal.GetBalance(ctx)
}

func (c *RentstoreStruct) Approve(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	return c.Internal.Approve(ctx, token, amount)
}

func (c *RentstoreStruct) Deposit(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	return c.Internal.Deposit(ctx, token, amount)
}

func (c *RentstoreStruct) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	return c.Internal.Withdraw(ctx, token, amount)
}

func (c *RentstoreStruct) Store(ctx context.Context, params StoreParams) (common.Hash, error) {
	return c.Internal.Store(ctx, params)
}

func (c *RentstoreStruct) Retrieve(ctx context.Context, provider peer.ID, nonce uint64) ([]byte, error) {
	return c.Internal.Retrieve(ctx, provider, nonce)
}

func (c *RentstoreStruct) Challenge(ctx context.Context, provider peer.ID, nonce uint64, block uint64) error {
	return c.Internal.Challenge(ctx, provider, nonce, block)
}

func (c *RentstoreStruct) ListStorageRented(ctx context.Context) ([]StorageRented, error) {
	return c.Internal.ListStorageRented(ctx)
}

var _ Rentstore = &RentstoreStruct{}
