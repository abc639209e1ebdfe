// Package ledger defines the settlement operations the lease engine needs from
// the chain: token escrow, lease sealing, penalty claims, fund release and
// chain-anchored randomness.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lib/sigs"
)

type TxStatus int

const (
	TxPending TxStatus = iota
	TxConfirmed
	TxFailed
)

func (s TxStatus) String() string {
	switch s {
	case TxPending:
		return "pending"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Balance is the wallet view of a token.
type Balance struct {
	Available *big.Int
	Allowance *big.Int
}

// StorageBalance is the escrow view of a token held by the adjudicator.
type StorageBalance struct {
	Available   *big.Int
	LockedRents *big.Int
	LockedLets  *big.Int
}

// Deal is the on-chain description of a lease. Both parties sign its digest;
// settlement calls identify the lease by it.
type Deal struct {
	Token              common.Address
	Renter             common.Address
	Provider           common.Address
	Nonce              uint64
	Root               [32]byte
	Size               uint64
	Price              *big.Int
	Penalty            *big.Int
	Duration           time.Duration
	ProposalExpiration time.Time
}

var dealArgs abi.Arguments

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}

	dealArgs = abi.Arguments{
		{Name: "token", Type: mustType("address")},
		{Name: "renter", Type: mustType("address")},
		{Name: "provider", Type: mustType("address")},
		{Name: "nonce", Type: mustType("uint256")},
		{Name: "root", Type: mustType("bytes32")},
		{Name: "size", Type: mustType("uint256")},
		{Name: "price", Type: mustType("uint256")},
		{Name: "penalty", Type: mustType("uint256")},
		{Name: "duration", Type: mustType("uint256")},
		{Name: "expiration", Type: mustType("uint256")},
	}
}

// Digest is the hash both parties sign: the personal-message hash of
// keccak256(abi.encode(deal)).
func (d Deal) Digest() ([]byte, error) {
	if d.Price == nil || d.Penalty == nil {
		return nil, xerrors.New("deal price and penalty must be set")
	}

	encoded, err := dealArgs.Pack(
		d.Token,
		d.Renter,
		d.Provider,
		new(big.Int).SetUint64(d.Nonce),
		d.Root,
		new(big.Int).SetUint64(d.Size),
		d.Price,
		d.Penalty,
		new(big.Int).SetUint64(uint64(d.Duration/time.Second)),
		big.NewInt(d.ProposalExpiration.Unix()),
	)
	if err != nil {
		return nil, xerrors.Errorf("abi encoding deal: %w", err)
	}

	return accounts.TextHash(sigs.Keccak256(encoded)), nil
}

// SealParams carries a deal and the renter's signature over it to the ledger.
type SealParams struct {
	Deal            Deal
	RenterSignature []byte
}

// Client is the ledger collaborator. Implementations serialise transactions
// from the same account.
type Client interface {
	Account() common.Address
	// Tokens lists the tokens with a known adjudicator deployment.
	Tokens() []common.Address

	Approve(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)
	Deposit(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)
	Withdraw(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error)

	BalanceOf(ctx context.Context, token common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token common.Address) (*big.Int, error)
	StorageBalance(ctx context.Context, token common.Address) (*StorageBalance, error)

	SealLease(ctx context.Context, p SealParams) (common.Hash, error)
	ClaimPenalty(ctx context.Context, d Deal) (common.Hash, error)
	ReleaseFunds(ctx context.Context, d Deal) (common.Hash, error)

	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
	ChainHead(ctx context.Context) (uint64, error)
	TxStatus(ctx context.Context, tx common.Hash) (TxStatus, error)
}
