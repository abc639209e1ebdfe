// Package protocol defines the lease protocol messages exchanged between
// renters and providers, their signed envelopes, and the peer channel
// contract that carries them.
package protocol

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lease"
)

const ProtocolID = "/rentstore/lease/1.0.0"

// LeaseTerms is the wire form of lease.Terms. Amounts are big-endian unsigned
// integers, times are unix seconds and durations are whole seconds.
type LeaseTerms struct {
	TokenAddress       []byte
	Price              []byte
	Penalty            []byte
	ProposalExpiration int64
	LeaseDuration      uint64
}

func NewLeaseTerms(t lease.Terms) LeaseTerms {
	return LeaseTerms{
		TokenAddress:       t.Token.Bytes(),
		Price:              t.Price.Bytes(),
		Penalty:            t.Penalty.Bytes(),
		ProposalExpiration: t.ProposalExpiration.Unix(),
		LeaseDuration:      uint64(t.LeaseDuration / time.Second),
	}
}

func (t LeaseTerms) Terms() (lease.Terms, error) {
	if len(t.TokenAddress) != common.AddressLength {
		return lease.Terms{}, xerrors.Errorf("token address must be %d bytes, got %d", common.AddressLength, len(t.TokenAddress))
	}
	if len(t.Price) > 32 || len(t.Penalty) > 32 {
		return lease.Terms{}, xerrors.Errorf("amount exceeds 256 bits")
	}
	if t.LeaseDuration == 0 || t.LeaseDuration > uint64(1<<62)/uint64(time.Second) {
		return lease.Terms{}, xerrors.Errorf("lease duration %d out of range", t.LeaseDuration)
	}

	return lease.Terms{
		Token:              common.BytesToAddress(t.TokenAddress),
		Price:              new(big.Int).SetBytes(t.Price),
		Penalty:            new(big.Int).SetBytes(t.Penalty),
		ProposalExpiration: time.Unix(t.ProposalExpiration, 0),
		LeaseDuration:      time.Duration(t.LeaseDuration) * time.Second,
	}, nil
}

type LeaseProposal struct {
	Nonce     uint64
	Terms     LeaseTerms
	Signature []byte
	ChunkSize uint64
	Data      []byte
}

// LeaseAcceptance is sent by the provider once the lease is sealed on the
// ledger.
type LeaseAcceptance struct {
	Nonce           uint64
	TransactionHash []byte
}

type LeaseRejection struct {
	Nonce  uint64
	Reason string
}

type ChallengeRequest struct {
	Nonce       uint64
	BlockNumber uint64
}

type ChallengeResponse struct {
	Nonce       uint64
	BlockNumber uint64
	BlockData   []byte
	Proof       [][]byte
}

type RetrieveRequest struct {
	Nonce uint64
}

type RetrieveDelivery struct {
	Nonce uint64
	Data  []byte
}

// Message carries exactly one of its fields.
type Message struct {
	LeaseProposal     *LeaseProposal
	LeaseAcceptance   *LeaseAcceptance
	LeaseRejection    *LeaseRejection
	ChallengeRequest  *ChallengeRequest
	ChallengeResponse *ChallengeResponse
	RetrieveRequest   *RetrieveRequest
	RetrieveDelivery  *RetrieveDelivery
}

var ErrMalformedMessage = xerrors.New("message must carry exactly one variant")

// Nonce returns the lease nonce the message refers to.
func (m *Message) Nonce() uint64 {
	switch {
	case m.LeaseProposal != nil:
		return m.LeaseProposal.Nonce
	case m.LeaseAcceptance != nil:
		return m.LeaseAcceptance.Nonce
	case m.LeaseRejection != nil:
		return m.LeaseRejection.Nonce
	case m.ChallengeRequest != nil:
		return m.ChallengeRequest.Nonce
	case m.ChallengeResponse != nil:
		return m.ChallengeResponse.Nonce
	case m.RetrieveRequest != nil:
		return m.RetrieveRequest.Nonce
	case m.RetrieveDelivery != nil:
		return m.RetrieveDelivery.Nonce
	}
	return 0
}

// Kind names the set variant.
func (m *Message) Kind() string {
	switch {
	case m.LeaseProposal != nil:
		return "LeaseProposal"
	case m.LeaseAcceptance != nil:
		return "LeaseAcceptance"
	case m.LeaseRejection != nil:
		return "LeaseRejection"
	case m.ChallengeRequest != nil:
		return "ChallengeRequest"
	case m.ChallengeResponse != nil:
		return "ChallengeResponse"
	case m.RetrieveRequest != nil:
		return "RetrieveRequest"
	case m.RetrieveDelivery != nil:
		return "RetrieveDelivery"
	}
	return "Empty"
}

// Validate checks that exactly one variant is set.
func (m *Message) Validate() error {
	n := 0
	for _, set := range []bool{
		m.LeaseProposal != nil,
		m.LeaseAcceptance != nil,
		m.LeaseRejection != nil,
		m.ChallengeRequest != nil,
		m.ChallengeResponse != nil,
		m.RetrieveRequest != nil,
		m.RetrieveDelivery != nil,
	} {
		if set {
			n++
		}
	}
	if n != 1 {
		return xerrors.Errorf("%d variants set: %w", n, ErrMalformedMessage)
	}
	return nil
}

// Role is the local role a receiver plays for this message kind.
func (m *Message) Role() lease.Role {
	switch {
	case m.LeaseProposal != nil, m.ChallengeRequest != nil, m.RetrieveRequest != nil:
		return lease.Provider
	default:
		return lease.Renter
	}
}
