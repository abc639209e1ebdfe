package market

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lib/merkle"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/protocol"
)

// handleProposal evaluates a proposal from renter. Accepted proposals are
// sealed on the ledger before the acceptance is sent; rejected ones are
// answered with the rejection reason.
func (e *Engine) handleProposal(ctx context.Context, from peer.ID, renter common.Address, p *protocol.LeaseProposal) error {
	k := lease.Key{Role: lease.Provider, Peer: from, Nonce: p.Nonce}

	if existing, err := e.reg.Get(ctx, k); err == nil {
		return e.handleReplay(ctx, existing.Lease(), p)
	} else if !xerrors.Is(err, lease.ErrUnknownLease) {
		return err
	}

	highest, seen, err := e.reg.Store().HighestNonce(ctx, lease.Provider, from)
	if err != nil {
		return &lease.StorageError{Op: "reading nonce", Err: err}
	}
	if seen && p.Nonce <= highest {
		return e.reject(ctx, k, lease.ReasonNonceReused)
	}

	terms, err := p.Terms.Terms()
	if err != nil || p.ChunkSize == 0 || len(p.Data) == 0 {
		log.Warnw("malformed proposal", "lease", k, "error", err)
		return e.reject(ctx, k, lease.ReasonMalformed)
	}

	root, _, err := merkle.Commit(p.Data, p.ChunkSize)
	if err != nil {
		return e.reject(ctx, k, lease.ReasonMalformed)
	}

	now := e.clock.Now()
	l := lease.Lease{
		Role:       lease.Provider,
		Peer:       from,
		Nonce:      p.Nonce,
		Renter:     renter,
		Provider:   e.self,
		Terms:      terms,
		Signature:  p.Signature,
		Commitment: lease.Commitment{Root: root, Size: uint64(len(p.Data)), ChunkSize: p.ChunkSize},
		ProposedAt: now,
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.Role, string(lease.Provider))}, metrics.LeaseProposed.M(int64(len(p.Data))))

	verdict := lease.CheckProposal(&l, now)
	if verdict == nil {
		verdict = e.cfg.Asks.Evaluate(terms, l.Commitment.Size)
	}

	m, err := e.reg.Create(ctx, l)
	if err != nil {
		return err
	}

	if verdict != nil {
		var terr *lease.TermsError
		if !xerrors.As(verdict, &terr) {
			return verdict
		}
		return e.rejectLease(ctx, m, terr.Reason)
	}

	ok, err := e.blobs.Reserve(k, p.Data, e.cfg.MaxStorageBytes)
	if err != nil {
		log.Errorw("storing blob", "lease", k, "error", err)
		return e.rejectLease(ctx, m, lease.ReasonCapacity)
	}
	if !ok {
		return e.rejectLease(ctx, m, lease.ReasonCapacity)
	}

	tx, err := e.ledger.SealLease(ctx, ledger.SealParams{Deal: l.Deal(), RenterSignature: l.Signature})
	if err != nil {
		log.Errorw("sealing lease", "lease", k, "error", err)
		e.dropBlob(k)
		return e.rejectLease(ctx, m, lease.ReasonSealFailed)
	}

	if _, err := m.Send(ctx, lease.Accepted{SealTx: tx, At: e.clock.Now()}); err != nil {
		// the lease stays Proposed and expires; it holds no storage meanwhile
		e.dropBlob(k)
		var terr *lease.TermsError
		if xerrors.As(err, &terr) {
			return e.rejectLease(ctx, m, terr.Reason)
		}
		return xerrors.Errorf("recording acceptance of %s: %w", k, err)
	}

	log.Infow("lease accepted", "lease", k, "tx", tx, "size", l.Commitment.Size)
	return e.out.Send(ctx, from, &protocol.Message{LeaseAcceptance: &protocol.LeaseAcceptance{
		Nonce:           p.Nonce,
		TransactionHash: tx.Bytes(),
	}})
}

// handleReplay answers a proposal whose nonce is already tracked. An exact
// resend of a live proposal is idempotent; anything else reuses a nonce.
func (e *Engine) handleReplay(ctx context.Context, l lease.Lease, p *protocol.LeaseProposal) error {
	k := l.Key()
	if string(l.Signature) != string(p.Signature) {
		return e.reject(ctx, k, lease.ReasonNonceReused)
	}

	switch l.State {
	case lease.StateProposed:
		return nil
	case lease.StateActive, lease.StateChallenged:
		return e.out.Send(ctx, k.Peer, &protocol.Message{LeaseAcceptance: &protocol.LeaseAcceptance{
			Nonce:           k.Nonce,
			TransactionHash: l.SealTx.Bytes(),
		}})
	case lease.StateRejected:
		return e.reject(ctx, k, l.Message)
	default:
		return e.reject(ctx, k, lease.ReasonNonceReused)
	}
}

func (e *Engine) rejectLease(ctx context.Context, m *lease.Machine, reason string) error {
	if _, err := m.Send(ctx, lease.Rejected{Reason: reason}); err != nil {
		return err
	}
	return e.reject(ctx, m.Key(), reason)
}

// reject answers the proposer without touching lease state.
func (e *Engine) reject(ctx context.Context, k lease.Key, reason string) error {
	log.Infow("rejecting proposal", "lease", k, "reason", reason)
	metrics.Count(ctx, metrics.LeaseRejected, tag.Upsert(metrics.Reason, reason))
	return e.out.Send(ctx, k.Peer, &protocol.Message{LeaseRejection: &protocol.LeaseRejection{
		Nonce:  k.Nonce,
		Reason: reason,
	}})
}

func (e *Engine) dropBlob(k lease.Key) {
	if err := e.blobs.Delete(k); err != nil {
		log.Warnw("dropping blob", "lease", k, "error", err)
	}
}

// handleRetrieve delivers the blob of a provider lease and marks the lease
// Retrieved. Retrievals wait for an in-flight challenge to finish.
func (e *Engine) handleRetrieve(ctx context.Context, from peer.ID, req *protocol.RetrieveRequest) error {
	k := lease.Key{Role: lease.Provider, Peer: from, Nonce: req.Nonce}

	l, err := e.waitNotChallenged(ctx, k)
	if err != nil {
		return err
	}
	if l.State != lease.StateActive {
		return &lease.ProtocolError{Peer: from, Reason: "retrieve for lease in state " + string(l.State), Err: lease.ErrInvalidTransition}
	}

	data, err := e.blobs.Get(k)
	if err != nil {
		return xerrors.Errorf("loading blob for %s: %w", k, err)
	}

	m, err := e.reg.Get(ctx, k)
	if err != nil {
		return err
	}
	if _, err := m.Send(ctx, lease.Retrieved{At: e.clock.Now()}); err != nil {
		return err
	}

	return e.out.Send(ctx, from, &protocol.Message{RetrieveDelivery: &protocol.RetrieveDelivery{
		Nonce: req.Nonce,
		Data:  data,
	}})
}
