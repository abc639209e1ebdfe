package audit_test

import (
	"context"
	"crypto/rand"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/audit"
	"github.com/rentstore/rentstore/chain/ledger/mockledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lease/leasestore"
	"github.com/rentstore/rentstore/lib/merkle"
	"github.com/rentstore/rentstore/protocol"
)

const chunkSize = 544

var (
	renterPeer   = newPeerID()
	providerPeer = newPeerID()
)

func newPeerID() peer.ID {
	_, pub, err := p2pcrypto.GenerateSecp256k1Key(rand.Reader)
	if err != nil {
		panic(err)
	}
	id, err := peer.IDFromPublicKey(pub)
	if err != nil {
		panic(err)
	}
	return id
}

type sent struct {
	to  peer.ID
	msg *protocol.Message
}

type sender struct {
	ch chan sent
}

func newSender() *sender {
	return &sender{ch: make(chan sent, 16)}
}

func (s *sender) Send(ctx context.Context, to peer.ID, msg *protocol.Message) error {
	s.ch <- sent{to: to, msg: msg}
	return nil
}

func (s *sender) next(t *testing.T) sent {
	select {
	case m := <-s.ch:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return sent{}
	}
}

type memBlobs struct {
	lk    sync.Mutex
	blobs map[lease.Key][]byte
}

func (b *memBlobs) Get(k lease.Key) ([]byte, error) {
	b.lk.Lock()
	defer b.lk.Unlock()
	blob, ok := b.blobs[k]
	if !ok {
		return nil, xerrors.Errorf("no blob for %s", k)
	}
	return blob, nil
}

type fixture struct {
	ledger      *mockledger.Ledger
	renterReg   *lease.Registry
	providerReg *lease.Registry
	blobs       *memBlobs
	renterOut   *sender
	providerOut *sender
	verifier    *audit.Scheduler
	holder      *audit.Scheduler
	cfg         audit.Config
}

func newFixture(t *testing.T, clk clock.Clock) *fixture {
	f := &fixture{
		ledger:      mockledger.New(common.HexToAddress("0x01")),
		renterReg:   lease.NewRegistry(leasestore.New(ds_sync.MutexWrap(ds.NewMapDatastore()))),
		providerReg: lease.NewRegistry(leasestore.New(ds_sync.MutexWrap(ds.NewMapDatastore()))),
		blobs:       &memBlobs{blobs: map[lease.Key][]byte{}},
		renterOut:   newSender(),
		providerOut: newSender(),
		cfg: audit.Config{
			Cadence:           0.25,
			ChallengeTimeout:  time.Minute,
			AnchorOffset:      2,
			ChainPollInterval: 5 * time.Millisecond,
		},
	}
	f.verifier = audit.NewScheduler(f.cfg, f.renterReg, f.ledger, nil, f.renterOut, clk)
	f.holder = audit.NewScheduler(f.cfg, f.providerReg, f.ledger, f.blobs, f.providerOut, clk)
	return f
}

// activeLease creates the same active lease on both sides and stores the
// blob with the provider.
func (f *fixture) activeLease(t *testing.T, now time.Time, nonce uint64, storeBlob bool) (lease.Key, lease.Key) {
	ctx := context.Background()

	blob := make([]byte, 5*chunkSize+100)
	_, err := rand.Read(blob)
	require.NoError(t, err)

	root, _, err := merkle.Commit(blob, chunkSize)
	require.NoError(t, err)

	base := lease.Lease{
		Nonce: nonce,
		Terms: lease.Terms{
			Price:              big.NewInt(1000),
			Penalty:            big.NewInt(100),
			ProposalExpiration: now.Add(time.Hour),
			LeaseDuration:      24 * time.Hour,
		},
		Commitment: lease.Commitment{Root: root, Size: uint64(len(blob)), ChunkSize: chunkSize},
		ProposedAt: now,
	}

	rl := base
	rl.Role, rl.Peer = lease.Renter, providerPeer
	rm, err := f.renterReg.Create(ctx, rl)
	require.NoError(t, err)
	_, err = rm.Send(ctx, lease.Accepted{At: now})
	require.NoError(t, err)

	pl := base
	pl.Role, pl.Peer = lease.Provider, renterPeer
	pm, err := f.providerReg.Create(ctx, pl)
	require.NoError(t, err)
	_, err = pm.Send(ctx, lease.Accepted{At: now})
	require.NoError(t, err)

	if storeBlob {
		f.blobs.lk.Lock()
		f.blobs.blobs[pm.Key()] = blob
		f.blobs.lk.Unlock()
	}

	return rm.Key(), pm.Key()
}

func leaseState(t *testing.T, reg *lease.Registry, k lease.Key) lease.Lease {
	m, err := reg.Get(context.Background(), k)
	require.NoError(t, err)
	return m.Lease()
}

func TestLeafIndex(t *testing.T) {
	h := common.HexToHash("0xabcdef")
	require.Equal(t, audit.LeafIndex(h, 3, 17), audit.LeafIndex(h, 3, 17))
	require.Less(t, audit.LeafIndex(h, 3, 17), uint64(17))
	require.Zero(t, audit.LeafIndex(h, 3, 1))
	require.Zero(t, audit.LeafIndex(h, 3, 0))

	seen := map[uint64]bool{}
	for nonce := uint64(0); nonce < 64; nonce++ {
		seen[audit.LeafIndex(h, nonce, 1024)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestChallengeWaitsForAnchorBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock.New())
	f.ledger.SetHead(10)

	rk, pk := f.activeLease(t, time.Now(), 1, true)

	require.NoError(t, f.verifier.Issue(ctx, rk, 15))
	require.Equal(t, lease.StateChallenged, leaseState(t, f.renterReg, rk).State)

	req := f.renterOut.next(t)
	require.Equal(t, providerPeer, req.to)
	require.NotNil(t, req.msg.ChallengeRequest)
	require.EqualValues(t, 15, req.msg.ChallengeRequest.BlockNumber)

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.holder.HandleRequest(ctx, renterPeer, req.msg.ChallengeRequest)
	}()

	require.Never(t, func() bool { return len(f.providerOut.ch) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, lease.StateChallenged, leaseState(t, f.providerReg, pk).State)

	f.ledger.SetHead(15)

	resp := f.providerOut.next(t)
	require.NoError(t, <-errCh)
	require.Equal(t, renterPeer, resp.to)
	require.NotNil(t, resp.msg.ChallengeResponse)
	require.Equal(t, lease.StateActive, leaseState(t, f.providerReg, pk).State)

	require.NoError(t, f.verifier.HandleResponse(ctx, providerPeer, resp.msg.ChallengeResponse))

	l := leaseState(t, f.renterReg, rk)
	require.Equal(t, lease.StateActive, l.State)
	require.Nil(t, l.Challenge)
	require.False(t, l.LastChallengeAt.IsZero())
}

func TestTamperedProofBreaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock.New())
	f.ledger.SetHead(20)

	rk, _ := f.activeLease(t, time.Now(), 4, true)

	require.NoError(t, f.verifier.Issue(ctx, rk, 20))
	req := f.renterOut.next(t)
	require.NoError(t, f.holder.HandleRequest(ctx, renterPeer, req.msg.ChallengeRequest))
	resp := f.providerOut.next(t).msg.ChallengeResponse

	resp.BlockData[0] ^= 0x01
	require.NoError(t, f.verifier.HandleResponse(ctx, providerPeer, resp))

	l := leaseState(t, f.renterReg, rk)
	require.Equal(t, lease.StateBreached, l.State)
	require.Contains(t, l.Message, lease.ReasonVerificationFailed)
	require.Nil(t, l.Challenge)
}

func TestOverlongProofBreaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock.New())
	f.ledger.SetHead(20)

	rk, _ := f.activeLease(t, time.Now(), 4, true)

	require.NoError(t, f.verifier.Issue(ctx, rk, 20))
	req := f.renterOut.next(t)
	require.NoError(t, f.holder.HandleRequest(ctx, renterPeer, req.msg.ChallengeRequest))
	resp := f.providerOut.next(t).msg.ChallengeResponse

	// sibling path one level deeper than the committed tree
	resp.Proof = append(resp.Proof, make([]byte, merkle.HashSize))
	require.NoError(t, f.verifier.HandleResponse(ctx, providerPeer, resp))

	l := leaseState(t, f.renterReg, rk)
	require.Equal(t, lease.StateBreached, l.State)
	require.Contains(t, l.Message, lease.ReasonVerificationFailed)
}

func TestResponseAtWrongBlockBreaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock.New())
	f.ledger.SetHead(30)

	rk, _ := f.activeLease(t, time.Now(), 2, true)
	require.NoError(t, f.verifier.Issue(ctx, rk, 25))
	req := f.renterOut.next(t).msg.ChallengeRequest

	req.BlockNumber = 26
	require.NoError(t, f.holder.HandleRequest(ctx, renterPeer, req))
	resp := f.providerOut.next(t).msg.ChallengeResponse

	require.NoError(t, f.verifier.HandleResponse(ctx, providerPeer, resp))
	require.Equal(t, lease.StateBreached, leaseState(t, f.renterReg, rk).State)
}

func TestChallengeTimeoutBreachesOnce(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	f := newFixture(t, clk)
	f.ledger.SetHead(5)

	rk, _ := f.activeLease(t, clk.Now(), 1, true)

	var lk sync.Mutex
	breaches := 0
	unsub := f.renterReg.Subscribe(func(tr lease.Transition) {
		if tr.To == lease.StateBreached {
			lk.Lock()
			breaches++
			lk.Unlock()
		}
	})
	defer unsub()

	require.NoError(t, f.verifier.Issue(ctx, rk, 0))
	req := f.renterOut.next(t).msg.ChallengeRequest
	require.EqualValues(t, 5+f.cfg.AnchorOffset, req.BlockNumber)

	clk.Add(f.cfg.ChallengeTimeout / 2)
	f.verifier.Tick(ctx, clk.Now())
	require.Equal(t, lease.StateChallenged, leaseState(t, f.renterReg, rk).State)

	clk.Add(f.cfg.ChallengeTimeout)
	f.verifier.Tick(ctx, clk.Now())
	f.verifier.Tick(ctx, clk.Now())

	l := leaseState(t, f.renterReg, rk)
	require.Equal(t, lease.StateBreached, l.State)
	require.Contains(t, l.Message, "not answered")

	lk.Lock()
	require.Equal(t, 1, breaches)
	lk.Unlock()

	// a late response changes nothing
	err := f.verifier.HandleResponse(ctx, providerPeer, &protocol.ChallengeResponse{Nonce: 1, BlockNumber: req.BlockNumber})
	var perr *lease.ProtocolError
	require.True(t, xerrors.As(err, &perr))
	require.Equal(t, lease.StateBreached, leaseState(t, f.renterReg, rk).State)
}

func TestTickCadence(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	f := newFixture(t, clk)
	f.ledger.SetHead(100)

	rk, pk := f.activeLease(t, clk.Now(), 9, true)

	clk.Add(5 * time.Hour)
	f.verifier.Tick(ctx, clk.Now())
	f.holder.Tick(ctx, clk.Now())
	f.verifier.Wait()
	require.Equal(t, lease.StateActive, leaseState(t, f.renterReg, rk).State)
	require.Empty(t, f.renterOut.ch)

	clk.Add(time.Hour)
	f.verifier.Tick(ctx, clk.Now())
	f.holder.Tick(ctx, clk.Now())
	f.verifier.Wait()
	f.holder.Wait()

	l := leaseState(t, f.renterReg, rk)
	require.Equal(t, lease.StateChallenged, l.State)
	require.NotNil(t, l.Challenge)
	require.EqualValues(t, 102, l.Challenge.BlockNumber)
	require.True(t, l.Challenge.Deadline.Equal(clk.Now().Add(f.cfg.ChallengeTimeout)))

	req := f.renterOut.next(t)
	require.EqualValues(t, 102, req.msg.ChallengeRequest.BlockNumber)

	// providers never issue challenges
	require.Equal(t, lease.StateActive, leaseState(t, f.providerReg, pk).State)
	require.Empty(t, f.providerOut.ch)
}

func TestTickExpirations(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	f := newFixture(t, clk)
	rk, pk := f.activeLease(t, clk.Now(), 1, true)

	proposed, err := f.renterReg.Create(ctx, lease.Lease{
		Role:  lease.Renter,
		Peer:  providerPeer,
		Nonce: 2,
		Terms: lease.Terms{
			Price:              big.NewInt(1),
			Penalty:            big.NewInt(0),
			ProposalExpiration: clk.Now().Add(time.Minute),
			LeaseDuration:      time.Hour,
		},
	})
	require.NoError(t, err)

	clk.Add(2 * time.Minute)
	f.verifier.Tick(ctx, clk.Now())

	l := proposed.Lease()
	require.Equal(t, lease.StateRejected, l.State)
	require.Equal(t, lease.ReasonProposalExpired, l.Message)
	require.Equal(t, lease.StateActive, leaseState(t, f.renterReg, rk).State)

	clk.Add(24 * time.Hour)
	f.verifier.Tick(ctx, clk.Now())
	f.holder.Tick(ctx, clk.Now())
	require.Equal(t, lease.StateExpired, leaseState(t, f.renterReg, rk).State)
	require.Equal(t, lease.StateExpired, leaseState(t, f.providerReg, pk).State)
}

func TestMissingBlobBreachesHolder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock.New())
	f.ledger.SetHead(50)

	_, pk := f.activeLease(t, time.Now(), 3, false)

	require.NoError(t, f.holder.HandleRequest(ctx, renterPeer, &protocol.ChallengeRequest{Nonce: 3, BlockNumber: 50}))

	l := leaseState(t, f.providerReg, pk)
	require.Equal(t, lease.StateBreached, l.State)
	require.Contains(t, l.Message, lease.ReasonProofUnavailable)
	require.Empty(t, f.providerOut.ch)
}

func TestResumePendingHolderChallenge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, clock.New())
	f.ledger.SetHead(8)

	_, pk := f.activeLease(t, time.Now(), 6, true)

	m, err := f.providerReg.Get(ctx, pk)
	require.NoError(t, err)
	_, err = m.Send(ctx, lease.ChallengeIssued{BlockNumber: 8, IssuedAt: time.Now(), Deadline: time.Now().Add(time.Minute)})
	require.NoError(t, err)

	f.holder.Resume(ctx)

	resp := f.providerOut.next(t)
	require.EqualValues(t, 6, resp.msg.ChallengeResponse.Nonce)
	require.Eventually(t, func() bool {
		return m.Lease().State == lease.StateActive
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRetrievalHoldsOffChallenges(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(time.Unix(1700000000, 0))

	f := newFixture(t, clk)
	f.ledger.SetHead(100)
	rk, _ := f.activeLease(t, clk.Now(), 4, true)

	release, err := f.verifier.BeginRetrieval(ctx, rk)
	require.NoError(t, err)

	err = f.verifier.Issue(ctx, rk, 0)
	require.ErrorIs(t, err, audit.ErrRetrieving)

	// a due challenge is skipped as well
	clk.Add(7 * time.Hour)
	f.verifier.Tick(ctx, clk.Now())
	f.verifier.Wait()
	require.Equal(t, lease.StateActive, leaseState(t, f.renterReg, rk).State)
	require.Empty(t, f.renterOut.ch)

	_, err = f.verifier.BeginRetrieval(ctx, rk)
	require.Error(t, err)

	release()
	require.NoError(t, f.verifier.Issue(ctx, rk, 0))
	require.Equal(t, lease.StateChallenged, leaseState(t, f.renterReg, rk).State)

	_, err = f.verifier.BeginRetrieval(ctx, rk)
	require.ErrorIs(t, err, audit.ErrChallengePending)
}
