// Package audit runs proof-of-storage challenges. As verifier it issues
// challenges to providers on a cadence and checks their proofs; as holder
// it answers challenges from renters.
package audit

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lib/sigs"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/protocol"
)

var log = logging.Logger("audit")

type Config struct {
	// Cadence is the fraction of the lease duration between two challenges.
	Cadence float64
	// ChallengeTimeout bounds the time between issuing a challenge and
	// receiving a valid response.
	ChallengeTimeout time.Duration
	// AnchorOffset is added to the chain head to pick the anchor block.
	AnchorOffset      uint64
	ChainPollInterval time.Duration
}

// Chain is the part of the ledger the scheduler reads.
type Chain interface {
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
	ChainHead(ctx context.Context) (uint64, error)
}

type Blobs interface {
	Get(k lease.Key) ([]byte, error)
}

type Sender interface {
	Send(ctx context.Context, to peer.ID, msg *protocol.Message) error
}

var _ Chain = (ledger.Client)(nil)

type Scheduler struct {
	cfg   Config
	reg   *lease.Registry
	chain Chain
	blobs Blobs
	out   Sender
	clock clock.Clock

	lk         sync.Mutex
	responding map[lease.Key]struct{}
	issuing    map[lease.Key]struct{}
	retrieving map[lease.Key]struct{}

	wg sync.WaitGroup
}

// ErrRetrieving is returned when a challenge is requested for a lease whose
// data is being retrieved.
var ErrRetrieving = xerrors.New("lease retrieval in progress")

// ErrChallengePending is returned when a retrieval is requested for a lease
// with an unresolved challenge.
var ErrChallengePending = xerrors.New("challenge pending")

func NewScheduler(cfg Config, reg *lease.Registry, chain Chain, blobs Blobs, out Sender, clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{
		cfg:        cfg,
		reg:        reg,
		chain:      chain,
		blobs:      blobs,
		out:        out,
		clock:      clk,
		responding: map[lease.Key]struct{}{},
		issuing:    map[lease.Key]struct{}{},
		retrieving: map[lease.Key]struct{}{},
	}
}

// LeafIndex derives the challenged leaf from the anchor block hash and the
// lease nonce: keccak256(blockHash || nonce) mod count.
func LeafIndex(blockHash common.Hash, nonce uint64, count uint64) uint64 {
	if count == 0 {
		return 0
	}
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)

	h := new(big.Int).SetBytes(sigs.Keccak256(blockHash[:], nb[:]))
	return h.Mod(h, new(big.Int).SetUint64(count)).Uint64()
}

// Tick fires every timer that is due at now: proposal expirations, lease
// expirations, challenge deadlines and audit cadence. Due challenges are
// issued in the background.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	for _, m := range s.reg.Machines() {
		if err := s.tickLease(ctx, m, now); err != nil {
			log.Warnw("lease timer", "lease", m.Key(), "error", err)
		}
	}
}

// Wait blocks until challenges started by Tick have been sent.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) issueAsync(ctx context.Context, k lease.Key) {
	s.lk.Lock()
	_, busy := s.issuing[k]
	_, retrieving := s.retrieving[k]
	if busy || retrieving {
		s.lk.Unlock()
		return
	}
	s.issuing[k] = struct{}{}
	s.lk.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.lk.Lock()
			delete(s.issuing, k)
			s.lk.Unlock()
		}()

		if err := s.Issue(ctx, k, 0); err != nil && !xerrors.Is(err, ErrRetrieving) {
			log.Warnw("issuing scheduled challenge", "lease", k, "error", err)
		}
	}()
}

func (s *Scheduler) tickLease(ctx context.Context, m *lease.Machine, now time.Time) error {
	l := m.Lease()

	switch l.State {
	case lease.StateProposed:
		if now.After(l.Terms.ProposalExpiration) {
			_, err := m.Send(ctx, lease.Rejected{Reason: lease.ReasonProposalExpired})
			return err
		}

	case lease.StateChallenged:
		if l.Challenge != nil && now.After(l.Challenge.Deadline) {
			metrics.Count(ctx, metrics.ChallengeResult, tag.Upsert(metrics.Role, string(l.Role)), tag.Upsert(metrics.Outcome, "timeout"))
			_, err := m.Send(ctx, lease.ChallengeFailed{Err: &lease.TimeoutError{Key: l.Key(), Deadline: l.Challenge.Deadline}})
			return err
		}
		if !now.Before(l.ExpiresAt) {
			_, err := m.Send(ctx, lease.Expired{At: now})
			return err
		}

	case lease.StateActive:
		if !now.Before(l.ExpiresAt) {
			_, err := m.Send(ctx, lease.Expired{At: now})
			return err
		}
		if l.Role == lease.Renter && s.challengeDue(l, now) {
			s.issueAsync(ctx, l.Key())
		}
	}

	return nil
}

func (s *Scheduler) challengeDue(l lease.Lease, now time.Time) bool {
	if s.cfg.Cadence <= 0 {
		return false
	}
	interval := time.Duration(s.cfg.Cadence * float64(l.Terms.LeaseDuration))
	if interval <= 0 {
		return false
	}

	last := l.StartedAt
	if l.LastChallengeAt.After(last) {
		last = l.LastChallengeAt
	}
	return !now.Before(last.Add(interval))
}

// Issue sends a challenge anchored at block for a renter-side lease. A zero
// block anchors the challenge AnchorOffset blocks past the chain head.
func (s *Scheduler) Issue(ctx context.Context, k lease.Key, block uint64) error {
	if k.Role != lease.Renter {
		return xerrors.Errorf("challenging %s: only renters issue challenges", k)
	}

	m, err := s.reg.Get(ctx, k)
	if err != nil {
		return err
	}

	if block == 0 {
		head, err := s.chain.ChainHead(ctx)
		if err != nil {
			return &lease.LedgerError{Op: "chain head", Err: err}
		}
		block = head + s.cfg.AnchorOffset
	}

	if err := s.markChallenged(ctx, m, block); err != nil {
		return xerrors.Errorf("issuing challenge for %s: %w", k, err)
	}
	metrics.Count(ctx, metrics.ChallengeIssued)

	// an unsent request is left to the deadline
	if err := s.out.Send(ctx, k.Peer, &protocol.Message{ChallengeRequest: &protocol.ChallengeRequest{
		Nonce:       k.Nonce,
		BlockNumber: block,
	}}); err != nil {
		return err
	}

	log.Infow("challenge issued", "lease", k, "block", block)
	return nil
}

// markChallenged moves the lease to Challenged unless its data is being
// retrieved. The check and the transition happen under the scheduler lock,
// which BeginRetrieval also takes.
func (s *Scheduler) markChallenged(ctx context.Context, m *lease.Machine, block uint64) error {
	s.lk.Lock()
	defer s.lk.Unlock()

	if _, ok := s.retrieving[m.Key()]; ok {
		return ErrRetrieving
	}

	now := s.clock.Now()
	_, err := m.Send(ctx, lease.ChallengeIssued{
		BlockNumber: block,
		IssuedAt:    now,
		Deadline:    now.Add(s.cfg.ChallengeTimeout),
	})
	return err
}

// BeginRetrieval holds off challenges for the renter lease k until the
// returned function is called. It fails with ErrChallengePending while a
// challenge is unresolved, and for leases that are not Active.
func (s *Scheduler) BeginRetrieval(ctx context.Context, k lease.Key) (func(), error) {
	m, err := s.reg.Get(ctx, k)
	if err != nil {
		return nil, err
	}

	s.lk.Lock()
	defer s.lk.Unlock()

	switch l := m.Lease(); l.State {
	case lease.StateActive:
	case lease.StateChallenged:
		return nil, ErrChallengePending
	default:
		return nil, xerrors.Errorf("retrieving %s in state %s: %w", k, l.State, lease.ErrInvalidTransition)
	}
	if _, ok := s.retrieving[k]; ok {
		return nil, xerrors.Errorf("retrieval of %s already in progress", k)
	}
	s.retrieving[k] = struct{}{}

	return func() {
		s.lk.Lock()
		delete(s.retrieving, k)
		s.lk.Unlock()
	}, nil
}

// HandleResponse verifies a provider's answer to the pending challenge.
func (s *Scheduler) HandleResponse(ctx context.Context, from peer.ID, resp *protocol.ChallengeResponse) error {
	k := lease.Key{Role: lease.Renter, Peer: from, Nonce: resp.Nonce}
	m, err := s.reg.Get(ctx, k)
	if err != nil {
		return err
	}

	l := m.Lease()
	if l.State != lease.StateChallenged || l.Challenge == nil {
		return &lease.ProtocolError{Peer: from, Reason: "unexpected challenge response", Err: lease.ErrInvalidTransition}
	}

	now := s.clock.Now()
	if now.After(l.Challenge.Deadline) {
		metrics.Count(ctx, metrics.ChallengeResult, tag.Upsert(metrics.Role, string(l.Role)), tag.Upsert(metrics.Outcome, "timeout"))
		_, err := m.Send(ctx, lease.ChallengeFailed{Err: &lease.TimeoutError{Key: k, Deadline: l.Challenge.Deadline}})
		return err
	}

	var failure string
	if resp.BlockNumber != l.Challenge.BlockNumber {
		failure = "response anchored at wrong block"
	} else {
		hash, err := s.chain.BlockHash(ctx, resp.BlockNumber)
		if err != nil {
			// the deadline still applies
			return &lease.LedgerError{Op: "block hash", Err: err}
		}

		ok, err := s.verify(ctx, l, hash, resp)
		switch {
		case err != nil:
			failure = err.Error()
		case !ok:
			failure = lease.ReasonVerificationFailed
		}
	}

	if failure != "" {
		log.Warnw("challenge failed", "lease", k, "reason", failure)
		metrics.Count(ctx, metrics.ChallengeResult, tag.Upsert(metrics.Role, string(l.Role)), tag.Upsert(metrics.Outcome, "failed"))
		_, err := m.Send(ctx, lease.ChallengeFailed{Err: &lease.VerificationError{Key: k, Reason: failure}})
		return err
	}

	metrics.Count(ctx, metrics.ChallengeResult, tag.Upsert(metrics.Role, string(l.Role)), tag.Upsert(metrics.Outcome, "passed"))
	_, err = m.Send(ctx, lease.ChallengePassed{At: now})
	return err
}

func (s *Scheduler) verify(ctx context.Context, l lease.Lease, blockHash common.Hash, resp *protocol.ChallengeResponse) (bool, error) {
	defer metrics.Timer(ctx, metrics.VerifyDuration)()

	proof, err := merkleProof(resp)
	if err != nil {
		return false, err
	}
	if uint64(len(resp.BlockData)) != l.Commitment.ChunkSize {
		return false, xerrors.Errorf("chunk of %d bytes, expected %d", len(resp.BlockData), l.Commitment.ChunkSize)
	}

	idx := LeafIndex(blockHash, l.Nonce, l.Commitment.ChunkCount())
	return verifyLeaf(l.Commitment, idx, proof), nil
}
