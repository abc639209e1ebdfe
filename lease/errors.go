package lease

import (
	"errors"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

var (
	ErrSignatureInvalid  = errors.New("signature invalid")
	ErrProposalExpired   = errors.New("proposal expired")
	ErrUnknownLease      = errors.New("unknown lease")
	ErrLeaseExists       = errors.New("lease already exists")
	ErrNonceReused       = errors.New("nonce reused")
	ErrInvalidTransition = errors.New("invalid transition")
)

// Rejection reasons reported to the proposer.
const (
	ReasonTokenNotAccepted   = "token not accepted"
	ReasonDurationTooShort   = "duration too short"
	ReasonDurationTooLong    = "duration too long"
	ReasonSizeTooSmall       = "size too small"
	ReasonSizeTooBig         = "size too big"
	ReasonTotalTooSmall      = "total tokens too small"
	ReasonPriceRateTooSmall  = "price per gb per hour too small"
	ReasonPenaltyTooHigh     = "penalty too high"
	ReasonProposalExpired    = "proposal expired"
	ReasonSignatureInvalid   = "signature invalid"
	ReasonCapacity           = "storage capacity unavailable"
	ReasonNonceReused        = "nonce reused"
	ReasonUnknownNonce       = "unknown nonce"
	ReasonMalformed          = "malformed proposal"
	ReasonSealFailed         = "sealing lease failed"
	ReasonChallengeTimeout   = "challenge response timed out"
	ReasonVerificationFailed = "proof verification failed"
	ReasonProofUnavailable   = "proof unavailable"
)

// ProtocolError is a malformed or unauthenticated message. It never causes a
// state transition.
type ProtocolError struct {
	Peer   peer.ID
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error from %s: %s: %s", e.Peer, e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol error from %s: %s", e.Peer, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// TimeoutError is a challenge left unanswered past its deadline.
type TimeoutError struct {
	Key      Key
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("challenge for %s not answered by %s", e.Key, e.Deadline.Format(time.RFC3339))
}

// VerificationError is a proof that does not verify against the lease root.
type VerificationError struct {
	Key    Key
	Reason string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed for %s: %s", e.Key, e.Reason)
}

// TermsError rejects a proposal. Reason is sent back to the proposer.
type TermsError struct {
	Reason string
	Err    error
}

func (e *TermsError) Error() string {
	return "terms rejected: " + e.Reason
}

func (e *TermsError) Unwrap() error { return e.Err }

func termsErr(reason string) *TermsError {
	return &TermsError{Reason: reason}
}

// LedgerError is a failed or reverted ledger call.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %s", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// StorageError is a failed durable write or read. In-memory state is never
// advanced past a StorageError.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("lease store %s: %s", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
