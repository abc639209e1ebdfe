package market_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/filecoin-project/go-storedcounter"
	"github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/audit"
	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/chain/ledger/mockledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lease/leasestore"
	"github.com/rentstore/rentstore/market"
	"github.com/rentstore/rentstore/protocol"
	"github.com/rentstore/rentstore/protocol/mocknet"
	"github.com/rentstore/rentstore/settlement"
	"github.com/rentstore/rentstore/storage/blobstore"
)

var token = common.HexToAddress("0x00000000000000000000000000000000000000aa")

type node struct {
	key    *ecdsa.PrivateKey
	addr   common.Address
	peer   peer.ID
	ch     protocol.Channel
	engine *market.Engine
	reg    *lease.Registry
	store  lease.Store
	blobs  *blobstore.Store
}

type harness struct {
	ledger   *mockledger.Ledger
	renter   *node
	provider *node
	stranger mocknet.Node
}

func genKey(t *testing.T) *ecdsa.PrivateKey {
	k, err := gocrypto.GenerateKey()
	require.NoError(t, err)
	return k
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, nil)
}

// newHarnessWithStore lets the provider's lease store be wrapped.
func newHarnessWithStore(t *testing.T, wrap func(lease.Store) lease.Store) *harness {
	ctx := context.Background()

	rk, pk, xk := genKey(t), genKey(t), genKey(t)
	net, nodes, err := mocknet.New(rk, pk, xk)
	require.NoError(t, err)
	t.Cleanup(func() { _ = net.Close() })

	l := mockledger.New(gocrypto.PubkeyToAddress(pk.PublicKey), token)
	l.SetHead(10)

	h := &harness{ledger: l, stranger: nodes[2]}
	h.renter = startNode(ctx, t, nodes[0], l.Shared(gocrypto.PubkeyToAddress(rk.PublicKey)), nil)
	h.provider = startNode(ctx, t, nodes[1], l, wrap)
	return h
}

func startNode(ctx context.Context, t *testing.T, n mocknet.Node, l ledger.Client, wrap func(lease.Store) lease.Store) *node {
	ds := ds_sync.MutexWrap(datastore.NewMapDatastore())
	var st lease.Store = leasestore.New(ds)
	if wrap != nil {
		st = wrap(st)
	}
	reg := lease.NewRegistry(st)

	blobs, err := blobstore.Open(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)

	sched := audit.NewScheduler(audit.Config{
		Cadence:           0,
		ChallengeTimeout:  time.Minute,
		ChainPollInterval: 5 * time.Millisecond,
	}, reg, l, blobs, protocol.NewOutbox(n.Key, n.Channel), nil)

	engine, err := market.NewEngine(market.Config{
		ChunkSize:       64,
		ProposalTimeout: time.Minute,
		MaxStorageBytes: 1 << 20,
		TickInterval:    time.Hour,
		Asks: lease.Asks{token: {
			MinDuration:    time.Hour,
			MaxDuration:    1000 * time.Hour,
			MinSize:        1,
			MaxSize:        1 << 20,
			MinPrice:       big.NewInt(100),
			MaxPenaltyRate: 1,
		}},
	}, n.Key, reg, l, blobs, n.Channel, sched, storedcounter.New(ds, datastore.NewKey("/nonce")), nil)
	require.NoError(t, err)

	coord := settlement.New(settlement.Config{
		MaxAttempts:         3,
		BackoffMin:          time.Millisecond,
		BackoffMax:          5 * time.Millisecond,
		ConfirmPollInterval: 5 * time.Millisecond,
	}, reg, l, blobs, nil)

	require.NoError(t, reg.Restore(ctx))
	require.NoError(t, coord.Start(ctx))
	require.NoError(t, engine.Start(ctx))

	t.Cleanup(func() {
		_ = engine.Stop(context.Background())
		_ = coord.Stop(context.Background())
		_ = blobs.Close()
	})

	return &node{
		key:    n.Key,
		addr:   gocrypto.PubkeyToAddress(n.Key.PublicKey),
		peer:   n.Channel.Self(),
		ch:     n.Channel,
		engine: engine,
		reg:    reg,
		store:  st,
		blobs:  blobs,
	}
}

func randomBlob(t *testing.T, n int) []byte {
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func defaultTerms() lease.Terms {
	return lease.Terms{
		Token:         token,
		Price:         big.NewInt(1000),
		Penalty:       big.NewInt(500),
		LeaseDuration: 24 * time.Hour,
	}
}

func getLease(t *testing.T, n *node, k lease.Key) lease.Lease {
	l, err := n.store.Get(context.Background(), k)
	require.NoError(t, err)
	return *l
}

func (h *harness) keys(nonce uint64) (lease.Key, lease.Key) {
	return lease.Key{Role: lease.Renter, Peer: h.provider.peer, Nonce: nonce},
		lease.Key{Role: lease.Provider, Peer: h.renter.peer, Nonce: nonce}
}

func TestStoreAndRetrieve(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)

	data := randomBlob(t, 1000)
	tx, err := h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), data)
	require.NoError(t, err)

	seals := h.ledger.Calls(mockledger.OpSealLease)
	require.Len(t, seals, 1)
	require.Equal(t, seals[0].Tx, tx)
	require.Equal(t, h.renter.addr, seals[0].Deal.Renter)
	require.Equal(t, h.provider.addr, seals[0].Deal.Provider)

	rk, pk := h.keys(0)
	rl := getLease(t, h.renter, rk)
	require.Equal(t, lease.StateActive, rl.State)
	require.Equal(t, tx, rl.SealTx)
	pl := getLease(t, h.provider, pk)
	require.Equal(t, lease.StateActive, pl.State)
	require.Equal(t, rl.Commitment, pl.Commitment)

	stored, err := h.provider.blobs.Get(pk)
	require.NoError(t, err)
	require.Equal(t, data, stored)

	rented, err := h.renter.engine.ListStorageRented(ctx)
	require.NoError(t, err)
	require.Len(t, rented, 1)
	require.Equal(t, tx, rented[0].SealTx)

	got, err := h.renter.engine.Retrieve(ctx, h.provider.peer, 0)
	require.NoError(t, err)
	require.Equal(t, data, got)

	require.Equal(t, lease.StateRetrieved, getLease(t, h.renter, rk).State)
	require.Eventually(t, func() bool {
		return getLease(t, h.provider, pk).State == lease.StateRetrieved
	}, 5*time.Second, 10*time.Millisecond)

	// both sides release their locked funds and archive
	require.Eventually(t, func() bool {
		return len(h.ledger.Calls(mockledger.OpReleaseFunds)) == 2 &&
			getLease(t, h.renter, rk).Archived && getLease(t, h.provider, pk).Archived
	}, 5*time.Second, 10*time.Millisecond)

	_, err = h.renter.engine.Retrieve(ctx, h.provider.peer, 0)
	require.ErrorIs(t, err, lease.ErrInvalidTransition)
}

func TestExpiredProposalRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)

	terms := defaultTerms()
	terms.ProposalExpiration = time.Now().Add(-time.Minute)

	_, err := h.renter.engine.Store(ctx, h.provider.peer, terms, randomBlob(t, 200))
	var terr *lease.TermsError
	require.True(t, xerrors.As(err, &terr), "got %v", err)
	require.Equal(t, lease.ReasonProposalExpired, terr.Reason)

	rk, pk := h.keys(0)
	require.Equal(t, lease.StateRejected, getLease(t, h.renter, rk).State)
	pl := getLease(t, h.provider, pk)
	require.Equal(t, lease.StateRejected, pl.State)
	require.Equal(t, lease.ReasonProposalExpired, pl.Message)

	require.Empty(t, h.ledger.Calls(mockledger.OpSealLease))
	has, err := h.provider.blobs.Has(pk)
	require.NoError(t, err)
	require.False(t, has)
}

func TestAskRejections(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)

	for _, tc := range []struct {
		mutate func(*lease.Terms)
		size   int
		reason string
	}{
		{func(tr *lease.Terms) { tr.Price = big.NewInt(10) }, 100, lease.ReasonTotalTooSmall},
		{func(tr *lease.Terms) { tr.LeaseDuration = time.Minute }, 100, lease.ReasonDurationTooShort},
		{func(tr *lease.Terms) { tr.Penalty = big.NewInt(5000) }, 100, lease.ReasonPenaltyTooHigh},
		{func(tr *lease.Terms) { tr.Token = common.HexToAddress("0x01") }, 100, lease.ReasonTokenNotAccepted},
		{func(tr *lease.Terms) {}, 2 << 20, lease.ReasonSizeTooBig},
	} {
		terms := defaultTerms()
		tc.mutate(&terms)

		_, err := h.renter.engine.Store(ctx, h.provider.peer, terms, randomBlob(t, tc.size))
		var terr *lease.TermsError
		require.True(t, xerrors.As(err, &terr), "got %v", err)
		require.Equal(t, tc.reason, terr.Reason)
	}

	require.Empty(t, h.ledger.Calls(mockledger.OpSealLease))
}

func TestSealFailureRejects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)
	h.ledger.FailNext(mockledger.OpSealLease, 1)

	_, err := h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), randomBlob(t, 300))
	var terr *lease.TermsError
	require.True(t, xerrors.As(err, &terr), "got %v", err)
	require.Equal(t, lease.ReasonSealFailed, terr.Reason)

	_, pk := h.keys(0)
	has, err := h.provider.blobs.Has(pk)
	require.NoError(t, err)
	require.False(t, has)

	// the next proposal goes through
	_, err = h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), randomBlob(t, 300))
	require.NoError(t, err)
}

func TestNonceReplay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)

	data := randomBlob(t, 500)
	_, err := h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), data)
	require.NoError(t, err)
	_, err = h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), data)
	require.NoError(t, err)

	// replay nonce 0 with different terms straight from the renter's key
	replay := lease.Lease{
		Role:     lease.Renter,
		Peer:     h.provider.peer,
		Nonce:    0,
		Renter:   h.renter.addr,
		Provider: h.provider.addr,
		Terms:    defaultTerms(),
	}
	replay.Terms.Price = big.NewInt(2000)
	replay.Terms.ProposalExpiration = time.Now().Add(time.Minute).Truncate(time.Second)
	replay.Commitment = getLease(t, h.renter, lease.Key{Role: lease.Renter, Peer: h.provider.peer, Nonce: 0}).Commitment
	require.NoError(t, lease.SignProposal(h.renter.key, &replay))

	out := protocol.NewOutbox(h.renter.key, h.renter.ch)
	require.NoError(t, out.Send(ctx, h.provider.peer, &protocol.Message{LeaseProposal: &protocol.LeaseProposal{
		Nonce:     0,
		Terms:     protocol.NewLeaseTerms(replay.Terms),
		Signature: replay.Signature,
		ChunkSize: replay.Commitment.ChunkSize,
		Data:      data,
	}}))

	require.Never(t, func() bool {
		return len(h.ledger.Calls(mockledger.OpSealLease)) != 2
	}, 200*time.Millisecond, 20*time.Millisecond)

	_, pk := h.keys(0)
	pl := getLease(t, h.provider, pk)
	require.Equal(t, lease.StateActive, pl.State)
	require.Equal(t, 0, pl.Terms.Price.Cmp(big.NewInt(1000)))
}

// rawPeer sends raw messages to the provider and collects its answers.
func rawPeer(t *testing.T, h *harness) chan *protocol.Message {
	answers := make(chan *protocol.Message, 8)
	h.stranger.Channel.SetHandler(func(ctx context.Context, from peer.ID, env *protocol.Envelope) {
		msg, err := protocol.Open(env, h.provider.addr)
		if err != nil {
			t.Errorf("provider envelope did not verify: %s", err)
			return
		}
		answers <- msg
	})
	return answers
}

func TestUnknownNonceAnswered(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)
	answers := rawPeer(t, h)

	out := protocol.NewOutbox(h.stranger.Key, h.stranger.Channel)
	require.NoError(t, out.Send(ctx, h.provider.peer, &protocol.Message{RetrieveRequest: &protocol.RetrieveRequest{Nonce: 99}}))

	select {
	case msg := <-answers:
		require.NotNil(t, msg.LeaseRejection)
		require.EqualValues(t, 99, msg.LeaseRejection.Nonce)
		require.Equal(t, lease.ReasonUnknownNonce, msg.LeaseRejection.Reason)
	case <-ctx.Done():
		t.Fatal("no answer for unknown nonce")
	}

	// rejections are never answered
	require.NoError(t, out.Send(ctx, h.provider.peer, &protocol.Message{LeaseRejection: &protocol.LeaseRejection{Nonce: 5, Reason: "x"}}))
	require.Never(t, func() bool { return len(answers) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestForgedEnvelopeDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)
	answers := rawPeer(t, h)

	// signed by a key that does not match the sender's peer identity
	forged := protocol.NewOutbox(genKey(t), h.stranger.Channel)
	require.NoError(t, forged.Send(ctx, h.provider.peer, &protocol.Message{RetrieveRequest: &protocol.RetrieveRequest{Nonce: 99}}))

	require.Never(t, func() bool { return len(answers) > 0 }, 300*time.Millisecond, 20*time.Millisecond)

	leases, err := h.provider.store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, leases)
}

func TestCorruptHolderBreachedAndPenalised(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)

	data := randomBlob(t, 64*9)
	_, err := h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), data)
	require.NoError(t, err)

	rk, pk := h.keys(0)

	corrupt := append([]byte(nil), data...)
	for i := range corrupt {
		corrupt[i] ^= 0xff
	}
	require.NoError(t, h.provider.blobs.Put(pk, corrupt))

	require.NoError(t, h.renter.engine.Challenge(ctx, h.provider.peer, 0, 10))

	require.Eventually(t, func() bool {
		return getLease(t, h.renter, rk).State == lease.StateBreached
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(h.ledger.Calls(mockledger.OpClaimPenalty)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	claim := h.ledger.Calls(mockledger.OpClaimPenalty)[0]
	require.EqualValues(t, 0, claim.Deal.Nonce)
	require.Equal(t, 0, claim.Deal.Price.Cmp(big.NewInt(1000)))
	require.Equal(t, 0, claim.Deal.Penalty.Cmp(big.NewInt(500)))
	require.Equal(t, h.provider.addr, claim.Deal.Provider)

	// the provider answered and still considers the lease active
	require.Equal(t, lease.StateActive, getLease(t, h.provider, pk).State)
}

func TestChallengeDuringRetrieval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h := newHarness(t)

	data := randomBlob(t, 1000)
	_, err := h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), data)
	require.NoError(t, err)
	rk, pk := h.keys(0)

	type result struct {
		data []byte
		err  error
	}
	retrieved := make(chan result, 1)
	go func() {
		d, err := h.renter.engine.Retrieve(ctx, h.provider.peer, 0)
		retrieved <- result{d, err}
	}()

	// the provider has delivered, the renter may not have processed it yet
	require.Eventually(t, func() bool {
		return getLease(t, h.provider, pk).State == lease.StateRetrieved
	}, 5*time.Second, time.Millisecond)

	err = h.renter.engine.Challenge(ctx, h.provider.peer, 0, 0)
	require.Error(t, err)
	require.True(t, xerrors.Is(err, audit.ErrRetrieving) || xerrors.Is(err, lease.ErrInvalidTransition), err)

	res := <-retrieved
	require.NoError(t, res.err)
	require.Equal(t, data, res.data)

	rl := getLease(t, h.renter, rk)
	require.Equal(t, lease.StateRetrieved, rl.State)
	require.Nil(t, rl.Challenge)
	require.Eventually(t, func() bool {
		return len(h.ledger.Calls(mockledger.OpReleaseFunds)) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, h.ledger.Calls(mockledger.OpClaimPenalty))
}

// brokenStore accepts new leases but fails every later write.
type brokenStore struct {
	lease.Store
}

func (b *brokenStore) Put(ctx context.Context, l *lease.Lease) error {
	return xerrors.New("disk full")
}

func TestAcceptFailureDropsBlob(t *testing.T) {
	h := newHarnessWithStore(t, func(st lease.Store) lease.Store {
		return &brokenStore{Store: st}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data := randomBlob(t, 300)
	_, err := h.renter.engine.Store(ctx, h.provider.peer, defaultTerms(), data)
	require.Error(t, err)

	_, pk := h.keys(0)
	require.Eventually(t, func() bool {
		l, err := h.provider.store.Get(context.Background(), pk)
		return err == nil && l.State == lease.StateProposed
	}, 5*time.Second, 10*time.Millisecond)

	// sealed on the ledger, but the acceptance could not be recorded
	require.Eventually(t, func() bool {
		return len(h.ledger.Calls(mockledger.OpSealLease)) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		has, err := h.provider.blobs.Has(pk)
		return err == nil && !has
	}, 5*time.Second, 10*time.Millisecond)

	used, err := h.provider.blobs.Used()
	require.NoError(t, err)
	require.Zero(t, used)
}
