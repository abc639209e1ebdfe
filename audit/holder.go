package audit

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lib/merkle"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/protocol"
)

// HandleRequest answers a renter's challenge for a lease this node holds.
// It blocks until the anchor block is mined, so callers run it on its own
// goroutine.
func (s *Scheduler) HandleRequest(ctx context.Context, from peer.ID, req *protocol.ChallengeRequest) error {
	k := lease.Key{Role: lease.Provider, Peer: from, Nonce: req.Nonce}
	m, err := s.reg.Get(ctx, k)
	if err != nil {
		return err
	}

	if l := m.Lease(); l.State != lease.StateActive {
		return &lease.ProtocolError{Peer: from, Reason: "challenge for lease in state " + string(l.State), Err: lease.ErrInvalidTransition}
	}

	now := s.clock.Now()
	if _, err := m.Send(ctx, lease.ChallengeIssued{
		BlockNumber: req.BlockNumber,
		IssuedAt:    now,
		Deadline:    now.Add(s.cfg.ChallengeTimeout),
	}); err != nil {
		return err
	}

	return s.respond(ctx, m)
}

// Resume restarts answering challenges that were pending on the holder side
// when the node stopped.
func (s *Scheduler) Resume(ctx context.Context) {
	for _, m := range s.reg.Machines() {
		l := m.Lease()
		if l.Role != lease.Provider || l.State != lease.StateChallenged {
			continue
		}

		go func(m *lease.Machine) {
			if err := s.respond(ctx, m); err != nil {
				log.Warnw("resuming challenge response", "lease", m.Key(), "error", err)
			}
		}(m)
	}
}

func (s *Scheduler) respond(ctx context.Context, m *lease.Machine) error {
	k := m.Key()

	s.lk.Lock()
	if _, busy := s.responding[k]; busy {
		s.lk.Unlock()
		return nil
	}
	s.responding[k] = struct{}{}
	s.lk.Unlock()

	defer func() {
		s.lk.Lock()
		delete(s.responding, k)
		s.lk.Unlock()
	}()

	l := m.Lease()
	if l.Challenge == nil {
		return xerrors.Errorf("no pending challenge for %s", k)
	}
	ch := *l.Challenge

	if err := s.waitForBlock(ctx, ch.BlockNumber, ch.Deadline); err != nil {
		if xerrors.Is(err, errDeadline) {
			_, serr := m.Send(ctx, lease.ChallengeFailed{Err: &lease.TimeoutError{Key: k, Deadline: ch.Deadline}})
			return serr
		}
		return err
	}

	hash, err := s.chain.BlockHash(ctx, ch.BlockNumber)
	if err != nil {
		return &lease.LedgerError{Op: "block hash", Err: err}
	}

	blob, err := s.blobs.Get(k)
	if err != nil {
		log.Errorw("cannot prove lease, blob unavailable", "lease", k, "error", err)
		metrics.Count(ctx, metrics.ChallengeResult, tag.Upsert(metrics.Role, string(l.Role)), tag.Upsert(metrics.Outcome, "unavailable"))
		_, serr := m.Send(ctx, lease.ChallengeFailed{Err: &lease.VerificationError{Key: k, Reason: lease.ReasonProofUnavailable}})
		return serr
	}

	stop := metrics.Timer(ctx, metrics.ProofDuration)
	idx := LeafIndex(hash, k.Nonce, l.Commitment.ChunkCount())
	proof, err := merkle.Prove(blob, l.Commitment.ChunkSize, idx)
	stop()
	if err != nil {
		_, serr := m.Send(ctx, lease.ChallengeFailed{Err: &lease.VerificationError{Key: k, Reason: err.Error()}})
		return serr
	}

	if _, err := m.Send(ctx, lease.ChallengePassed{At: s.clock.Now()}); err != nil {
		return err
	}
	metrics.Count(ctx, metrics.ChallengeResult, tag.Upsert(metrics.Role, string(l.Role)), tag.Upsert(metrics.Outcome, "answered"))

	log.Infow("answering challenge", "lease", k, "block", ch.BlockNumber, "leaf", idx)
	return s.out.Send(ctx, k.Peer, &protocol.Message{ChallengeResponse: &protocol.ChallengeResponse{
		Nonce:       k.Nonce,
		BlockNumber: ch.BlockNumber,
		BlockData:   proof.BlockData,
		Proof:       proof.SiblingBytes(),
	}})
}

var errDeadline = xerrors.New("challenge deadline passed")

func (s *Scheduler) waitForBlock(ctx context.Context, block uint64, deadline time.Time) error {
	for {
		head, err := s.chain.ChainHead(ctx)
		if err != nil {
			log.Warnw("polling chain head", "error", err)
		} else if head >= block {
			return nil
		}

		if !s.clock.Now().Before(deadline) {
			return errDeadline
		}

		select {
		case <-s.clock.After(s.cfg.ChainPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func merkleProof(resp *protocol.ChallengeResponse) (*merkle.Proof, error) {
	return merkle.NewProof(resp.BlockData, resp.Proof)
}

func verifyLeaf(c lease.Commitment, idx uint64, proof *merkle.Proof) bool {
	return merkle.Verify(c.Root, c.ChunkCount(), idx, proof.BlockData, proof)
}
