package lease

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lib/merkle"
)

// Role is the side of a lease the local node plays.
type Role string

const (
	Provider Role = "provider"
	Renter   Role = "renter"
)

type State string

const (
	StateProposed   State = "Proposed"
	StateRejected   State = "Rejected"
	StateActive     State = "Active"
	StateChallenged State = "Challenged"
	StateRetrieved  State = "Retrieved"
	StateBreached   State = "Breached"
	StateExpired    State = "Expired"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateRetrieved, StateBreached, StateExpired:
		return true
	}
	return false
}

// Key identifies a lease. Nonces are scoped to one (role, peer) stream.
type Key struct {
	Role  Role
	Peer  peer.ID
	Nonce uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Role, k.Peer, k.Nonce)
}

// Terms are the economic terms of a lease. They never change once the lease is
// Active.
type Terms struct {
	Token              common.Address
	Price              *big.Int
	Penalty            *big.Int
	ProposalExpiration time.Time
	LeaseDuration      time.Duration
}

// Commitment binds a lease to its data. Root is computed once at Store time
// and all challenges verify against it.
type Commitment struct {
	Root      merkle.Hash
	Size      uint64
	ChunkSize uint64
}

func (c Commitment) ChunkCount() uint64 {
	return merkle.ChunkCount(c.Size, c.ChunkSize)
}

// PendingChallenge is an outstanding audit on a lease.
type PendingChallenge struct {
	BlockNumber uint64
	IssuedAt    time.Time
	Deadline    time.Time
}

type SettlementAction string

const (
	SettleNone         SettlementAction = ""
	SettleClaimPenalty SettlementAction = "claim-penalty"
	SettleReleaseFunds SettlementAction = "release-funds"
)

// Settlement tracks the ledger call made for a terminal lease.
type Settlement struct {
	Action    SettlementAction
	TxHash    common.Hash
	SentAt    time.Time
	Status    ledger.TxStatus
	Attempts  int
	Failed    bool
	LastError string
}

func (s Settlement) Issued() bool {
	return s.TxHash != (common.Hash{})
}

type Lease struct {
	Role  Role
	Peer  peer.ID
	Nonce uint64

	Renter   common.Address
	Provider common.Address

	Terms      Terms
	Signature  []byte
	Commitment Commitment

	State   State
	Message string
	SealTx  common.Hash

	ProposedAt      time.Time
	StartedAt       time.Time
	LastChallengeAt time.Time
	ExpiresAt       time.Time

	Challenge  *PendingChallenge
	Settlement Settlement
	Archived   bool
}

func (l *Lease) Key() Key {
	return Key{Role: l.Role, Peer: l.Peer, Nonce: l.Nonce}
}

// Deal is the ledger view of the lease.
func (l *Lease) Deal() ledger.Deal {
	return ledger.Deal{
		Token:              l.Terms.Token,
		Renter:             l.Renter,
		Provider:           l.Provider,
		Nonce:              l.Nonce,
		Root:               l.Commitment.Root,
		Size:               l.Commitment.Size,
		Price:              l.Terms.Price,
		Penalty:            l.Terms.Penalty,
		Duration:           l.Terms.LeaseDuration,
		ProposalExpiration: l.Terms.ProposalExpiration,
	}
}

func (l *Lease) clone() Lease {
	out := *l
	out.Signature = append([]byte(nil), l.Signature...)
	if l.Challenge != nil {
		c := *l.Challenge
		out.Challenge = &c
	}
	return out
}

// Transition is published after a state change has been persisted.
type Transition struct {
	Key   Key
	From  State
	To    State
	Lease Lease
}
