package lease

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event drives a lease transition.
type Event interface {
	apply(l *Lease)
}

// guard is implemented by events that can refuse to apply.
type guard interface {
	check(l *Lease) error
}

// Accepted moves a proposal to Active. On the renter side it is triggered by a
// LeaseAcceptance, on the provider side by a successful seal.
type Accepted struct {
	SealTx common.Hash
	At     time.Time
}

func (evt Accepted) check(l *Lease) error {
	if evt.At.After(l.Terms.ProposalExpiration) {
		return &TermsError{Reason: ReasonProposalExpired, Err: ErrProposalExpired}
	}
	return nil
}

func (evt Accepted) apply(l *Lease) {
	l.SealTx = evt.SealTx
	l.StartedAt = evt.At
	l.ExpiresAt = evt.At.Add(l.Terms.LeaseDuration)
	l.Message = ""
}

type Rejected struct {
	Reason string
}

func (evt Rejected) apply(l *Lease) {
	l.Message = evt.Reason
}

type ChallengeIssued struct {
	BlockNumber uint64
	IssuedAt    time.Time
	Deadline    time.Time
}

func (evt ChallengeIssued) apply(l *Lease) {
	l.Challenge = &PendingChallenge{
		BlockNumber: evt.BlockNumber,
		IssuedAt:    evt.IssuedAt,
		Deadline:    evt.Deadline,
	}
}

type ChallengePassed struct {
	At time.Time
}

func (evt ChallengePassed) apply(l *Lease) {
	l.LastChallengeAt = evt.At
	l.Challenge = nil
}

// ChallengeFailed breaches the lease. Err is a *TimeoutError or a
// *VerificationError on the verifier side.
type ChallengeFailed struct {
	Err error
}

func (evt ChallengeFailed) apply(l *Lease) {
	if evt.Err != nil {
		l.Message = evt.Err.Error()
	}
	l.Challenge = nil
}

type Retrieved struct {
	At time.Time
}

func (evt Retrieved) apply(l *Lease) {
	l.Challenge = nil
}

type Expired struct {
	At time.Time
}

func (evt Expired) apply(l *Lease) {
	l.Challenge = nil
}
