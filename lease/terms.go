package lease

import (
	"crypto/ecdsa"
	"time"

	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lib/sigs"
)

// SignProposal signs the deal digest of l with the renter key and stores the
// signature on the lease.
func SignProposal(key *ecdsa.PrivateKey, l *Lease) error {
	digest, err := l.Deal().Digest()
	if err != nil {
		return xerrors.Errorf("computing deal digest: %w", err)
	}

	sig, err := sigs.SignDigest(key, digest)
	if err != nil {
		return err
	}

	l.Signature = sig
	return nil
}

// CheckProposal validates a received proposal before it is evaluated against
// the local ask: the renter signature must cover the terms, nonce and
// commitment, and the proposal must not have expired.
func CheckProposal(l *Lease, now time.Time) error {
	if l.Terms.Price == nil || l.Terms.Penalty == nil || l.Terms.Price.Sign() < 0 || l.Terms.Penalty.Sign() < 0 {
		return termsErr(ReasonMalformed)
	}
	if l.Terms.LeaseDuration <= 0 || l.Commitment.Size == 0 || l.Commitment.ChunkSize == 0 {
		return termsErr(ReasonMalformed)
	}

	digest, err := l.Deal().Digest()
	if err != nil {
		return &TermsError{Reason: ReasonMalformed, Err: err}
	}
	if err := sigs.VerifyDigest(l.Signature, l.Renter, digest); err != nil {
		return &TermsError{Reason: ReasonSignatureInvalid, Err: xerrors.Errorf("%w: %s", ErrSignatureInvalid, err)}
	}

	if now.After(l.Terms.ProposalExpiration) {
		return &TermsError{Reason: ReasonProposalExpired, Err: ErrProposalExpired}
	}

	return nil
}
