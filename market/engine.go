// Package market runs the lease protocol of a node: the renter operations
// (store, retrieve, challenge), the provider's handling of proposals and
// retrievals, and the dispatch of inbound envelopes to lease machines.
package market

import (
	"context"
	"crypto/ecdsa"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocrypto "github.com/ethereum/go-ethereum/crypto"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/audit"
	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lib/merkle"
	"github.com/rentstore/rentstore/lib/sigs"
	"github.com/rentstore/rentstore/metrics"
	"github.com/rentstore/rentstore/protocol"
)

var log = logging.Logger("market")

type Config struct {
	ChunkSize       uint64
	ProposalTimeout time.Duration
	MaxStorageBytes uint64
	TickInterval    time.Duration
	Asks            lease.Asks
}

// BlobStore holds provider-side blobs.
type BlobStore interface {
	Reserve(k lease.Key, data []byte, capacity uint64) (bool, error)
	Get(k lease.Key) ([]byte, error)
	Delete(k lease.Key) error
}

// Nonces hands out renter nonces. Values never repeat, across restarts too.
type Nonces interface {
	Next() (uint64, error)
}

type Engine struct {
	cfg    Config
	key    *ecdsa.PrivateKey
	self   common.Address
	reg    *lease.Registry
	ledger ledger.Client
	blobs  BlobStore
	ch     protocol.Channel
	out    *protocol.Outbox
	sched  *audit.Scheduler
	nonces Nonces
	addrs  *sigs.AddressBook
	clock  clock.Clock

	lk         sync.Mutex
	deliveries map[lease.Key]chan []byte

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(cfg Config, key *ecdsa.PrivateKey, reg *lease.Registry, l ledger.Client, blobs BlobStore, ch protocol.Channel, sched *audit.Scheduler, nonces Nonces, clk clock.Clock) (*Engine, error) {
	addrs, err := sigs.NewAddressBook(1024)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = merkle.DefaultChunkSize
	}

	return &Engine{
		cfg:        cfg,
		key:        key,
		self:       gocrypto.PubkeyToAddress(key.PublicKey),
		reg:        reg,
		ledger:     l,
		blobs:      blobs,
		ch:         ch,
		out:        protocol.NewOutbox(key, ch),
		sched:      sched,
		nonces:     nonces,
		addrs:      addrs,
		clock:      clk,
		deliveries: map[lease.Key]chan []byte{},
	}, nil
}

// Start installs the envelope handler, resumes pending holder challenges and
// starts the timer loop. Leases must have been restored into the registry.
func (e *Engine) Start(ctx context.Context) error {
	d := &dispatcher{engine: e}
	e.ch.SetHandler(d.handleEnvelope)

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})

	e.sched.Resume(runCtx)
	go e.run(runCtx)
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := e.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.sched.Tick(ctx, e.clock.Now())
		case <-ctx.Done():
			e.sched.Wait()
			return
		}
	}
}

func (e *Engine) Address() common.Address {
	return e.self
}

func (e *Engine) Self() peer.ID {
	return e.ch.Self()
}

// Store proposes a lease for data to provider and waits for the provider's
// answer. It returns the seal transaction hash once the lease is Active.
// A zero ProposalExpiration defaults to now plus the proposal timeout.
func (e *Engine) Store(ctx context.Context, provider peer.ID, terms lease.Terms, data []byte) (common.Hash, error) {
	providerAddr, err := e.addrs.Lookup(provider)
	if err != nil {
		return common.Hash{}, xerrors.Errorf("resolving provider address: %w", err)
	}

	root, _, err := merkle.Commit(data, e.cfg.ChunkSize)
	if err != nil {
		return common.Hash{}, err
	}

	now := e.clock.Now()
	if terms.ProposalExpiration.IsZero() {
		terms.ProposalExpiration = now.Add(e.cfg.ProposalTimeout)
	}
	terms.ProposalExpiration = terms.ProposalExpiration.Truncate(time.Second)

	nonce, err := e.nonces.Next()
	if err != nil {
		return common.Hash{}, &lease.StorageError{Op: "allocating nonce", Err: err}
	}

	l := lease.Lease{
		Role:       lease.Renter,
		Peer:       provider,
		Nonce:      nonce,
		Renter:     e.self,
		Provider:   providerAddr,
		Terms:      terms,
		Commitment: lease.Commitment{Root: root, Size: uint64(len(data)), ChunkSize: e.cfg.ChunkSize},
		ProposedAt: now,
	}
	if err := lease.SignProposal(e.key, &l); err != nil {
		return common.Hash{}, err
	}

	m, err := e.reg.Create(ctx, l)
	if err != nil {
		return common.Hash{}, err
	}
	k := m.Key()
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.Role, string(lease.Renter))}, metrics.LeaseProposed.M(int64(len(data))))

	if err := e.out.Send(ctx, provider, &protocol.Message{LeaseProposal: &protocol.LeaseProposal{
		Nonce:     nonce,
		Terms:     protocol.NewLeaseTerms(terms),
		Signature: l.Signature,
		ChunkSize: e.cfg.ChunkSize,
		Data:      data,
	}}); err != nil {
		// the proposal expires on its own
		return common.Hash{}, err
	}
	log.Infow("lease proposed", "lease", k, "size", len(data), "root", root)

	res, err := e.reg.WaitFor(ctx, k, func(l lease.Lease) bool {
		return l.State != lease.StateProposed
	})
	if err != nil {
		return common.Hash{}, xerrors.Errorf("waiting for provider answer on %s: %w", k, err)
	}

	if res.State != lease.StateActive {
		return common.Hash{}, &lease.TermsError{Reason: res.Message}
	}
	return res.SealTx, nil
}

// Retrieve asks the provider for the blob of a renter lease. The data is
// checked against the lease root before the lease is marked Retrieved. A
// pending challenge is resolved first, and no challenge is issued for the
// lease while the retrieval is in flight.
func (e *Engine) Retrieve(ctx context.Context, provider peer.ID, nonce uint64) ([]byte, error) {
	k := lease.Key{Role: lease.Renter, Peer: provider, Nonce: nonce}

	var (
		l       lease.Lease
		release func()
		err     error
	)
	for {
		if l, err = e.waitNotChallenged(ctx, k); err != nil {
			return nil, err
		}
		release, err = e.sched.BeginRetrieval(ctx, k)
		if err == nil {
			break
		}
		if !xerrors.Is(err, audit.ErrChallengePending) {
			return nil, err
		}
	}
	defer release()

	ch := make(chan []byte, 1)
	e.lk.Lock()
	if _, busy := e.deliveries[k]; busy {
		e.lk.Unlock()
		return nil, xerrors.Errorf("retrieval of %s already in progress", k)
	}
	e.deliveries[k] = ch
	e.lk.Unlock()

	defer func() {
		e.lk.Lock()
		delete(e.deliveries, k)
		e.lk.Unlock()
	}()

	if err := e.out.Send(ctx, provider, &protocol.Message{RetrieveRequest: &protocol.RetrieveRequest{Nonce: nonce}}); err != nil {
		return nil, err
	}

	var data []byte
	select {
	case data = <-ch:
	case <-ctx.Done():
		return nil, xerrors.Errorf("waiting for delivery of %s: %w", k, ctx.Err())
	}

	root, _, err := merkle.Commit(data, l.Commitment.ChunkSize)
	if err != nil || root != l.Commitment.Root || uint64(len(data)) != l.Commitment.Size {
		return nil, &lease.VerificationError{Key: k, Reason: "delivered data does not match lease root"}
	}

	m, err := e.reg.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	if _, err := m.Send(ctx, lease.Retrieved{At: e.clock.Now()}); err != nil {
		return nil, xerrors.Errorf("completing retrieval of %s: %w", k, err)
	}

	log.Infow("lease retrieved", "lease", k, "size", len(data))
	return data, nil
}

func (e *Engine) waitNotChallenged(ctx context.Context, k lease.Key) (lease.Lease, error) {
	return e.reg.WaitFor(ctx, k, func(l lease.Lease) bool {
		return l.State != lease.StateChallenged
	})
}

// Challenge audits a renter lease at an operator-chosen anchor block. A
// zero block anchors at the configured offset past the chain head.
func (e *Engine) Challenge(ctx context.Context, provider peer.ID, nonce uint64, block uint64) error {
	return e.sched.Issue(ctx, lease.Key{Role: lease.Renter, Peer: provider, Nonce: nonce}, block)
}

// ListStorageRented lists every lease this node rented, archived ones
// included, ordered by provider and nonce.
func (e *Engine) ListStorageRented(ctx context.Context) ([]lease.Lease, error) {
	all, err := e.reg.Store().List(ctx)
	if err != nil && len(all) == 0 {
		return nil, &lease.StorageError{Op: "listing leases", Err: err}
	}

	out := make([]lease.Lease, 0, len(all))
	for _, l := range all {
		if l.Role == lease.Renter {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Peer != out[j].Peer {
			return out[i].Peer < out[j].Peer
		}
		return out[i].Nonce < out[j].Nonce
	})
	return out, nil
}

func (e *Engine) deliver(k lease.Key, data []byte) bool {
	e.lk.Lock()
	defer e.lk.Unlock()

	ch, ok := e.deliveries[k]
	if !ok {
		return false
	}
	select {
	case ch <- data:
	default:
	}
	return true
}
