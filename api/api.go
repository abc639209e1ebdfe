package api

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/rentstore/rentstore/lease"
)

// Rentstore is the control plane of a rentstore daemon.
type Rentstore interface {
	// MethodGroup: Node

	Version(context.Context) (Version, error)
	// GetInfo returns the identity of the node: its peer id, ledger account
	// and the tokens it can settle in.
	GetInfo(context.Context) (Info, error)
	Shutdown(context.Context) error

	// MethodGroup: Net

	NetPeers(context.Context) ([]peer.AddrInfo, error)
	NetConnect(context.Context, peer.AddrInfo) error

	// MethodGroup: Funds

	// GetBalance returns the wallet and escrow balances of every deployed
	// token.
	GetBalance(context.Context) ([]TokenBalance, error)
	Approve(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)

	// MethodGroup: Lease

	// Store proposes a lease to a provider and blocks until the provider
	// accepts or rejects it. It returns the seal transaction hash.
	Store(ctx context.Context, params StoreParams) (common.Hash, error)
	Retrieve(ctx context.Context, provider peer.ID, nonce uint64) ([]byte, error)
	// Challenge audits a rented lease at block. A zero block anchors the
	// challenge a few blocks past the chain head.
	Challenge(ctx context.Context, provider peer.ID, nonce uint64, block uint64) error
	ListStorageRented(context.Context) ([]StorageRented, error)
}

// Version provides various build-time information
type Version struct {
	Version    string
	APIVersion string
}

type Info struct {
	ID          peer.ID
	Address     common.Address
	ListenAddrs []string
	Tokens      []common.Address
}

type TokenBalance struct {
	Token common.Address

	Wallet    *big.Int
	Allowance *big.Int

	Available   *big.Int
	LockedRents *big.Int
	LockedLets  *big.Int
}

type StoreParams struct {
	Provider peer.ID
	Token    common.Address
	Price    *big.Int
	Penalty  *big.Int
	Duration time.Duration
	// ProposalExpiration defaults to the configured proposal timeout.
	ProposalExpiration time.Time

	Data []byte
}

// StorageRented describes a lease the node rented from a provider.
type StorageRented struct {
	Provider peer.ID
	Nonce    uint64
	State    lease.State
	Message  string `json:",omitempty"`

	Token         common.Address
	Price         *big.Int
	Penalty       *big.Int
	LeaseDuration time.Duration

	Root common.Hash
	Size uint64

	SealTx    common.Hash
	StartedAt time.Time
	ExpiresAt time.Time

	SettlementTx     common.Hash
	SettlementStatus string `json:",omitempty"`
	Archived         bool
}

func NewStorageRented(l lease.Lease) StorageRented {
	out := StorageRented{
		Provider:      l.Peer,
		Nonce:         l.Nonce,
		State:         l.State,
		Message:       l.Message,
		Token:         l.Terms.Token,
		Price:         l.Terms.Price,
		Penalty:       l.Terms.Penalty,
		LeaseDuration: l.Terms.LeaseDuration,
		Root:          common.Hash(l.Commitment.Root),
		Size:          l.Commitment.Size,
		SealTx:        l.SealTx,
		Archived:      l.Archived,
	}
	if !l.StartedAt.IsZero() {
		out.StartedAt = l.StartedAt
		out.ExpiresAt = l.ExpiresAt
	}
	if l.Settlement.TxHash != (common.Hash{}) {
		out.SettlementTx = l.Settlement.TxHash
		out.SettlementStatus = l.Settlement.Status.String()
	}
	return out
}
