package settlement_test

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
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/chain/ledger/mockledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lease/leasestore"
	"github.com/rentstore/rentstore/settlement"
)

var (
	token    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	renter   = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	provider = common.HexToAddress("0x00000000000000000000000000000000000000cc")

	counterparty = newPeerID()
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

var testConfig = settlement.Config{
	MaxAttempts:         5,
	BackoffMin:          time.Millisecond,
	BackoffMax:          5 * time.Millisecond,
	ConfirmPollInterval: 5 * time.Millisecond,
}

type deletes struct {
	lk   sync.Mutex
	keys []lease.Key
}

func (d *deletes) Delete(k lease.Key) error {
	d.lk.Lock()
	defer d.lk.Unlock()
	d.keys = append(d.keys, k)
	return nil
}

func newStore() lease.Store {
	return leasestore.New(ds_sync.MutexWrap(ds.NewMapDatastore()))
}

// terminalLease creates an active lease and drives it through events.
func terminalLease(t *testing.T, reg *lease.Registry, role lease.Role, nonce uint64, events ...lease.Event) lease.Key {
	ctx := context.Background()
	now := time.Now()

	m, err := reg.Create(ctx, lease.Lease{
		Role:     role,
		Peer:     counterparty,
		Nonce:    nonce,
		Renter:   renter,
		Provider: provider,
		Terms: lease.Terms{
			Token:              token,
			Price:              big.NewInt(5000),
			Penalty:            big.NewInt(700),
			ProposalExpiration: now.Add(time.Hour),
			LeaseDuration:      48 * time.Hour,
		},
		Commitment: lease.Commitment{Root: [32]byte{1, 2, 3}, Size: 4096, ChunkSize: 544},
	})
	require.NoError(t, err)

	_, err = m.Send(ctx, lease.Accepted{At: now})
	require.NoError(t, err)
	for _, evt := range events {
		_, err = m.Send(ctx, evt)
		require.NoError(t, err)
	}
	return m.Key()
}

func breach() []lease.Event {
	return []lease.Event{
		lease.ChallengeIssued{BlockNumber: 10, IssuedAt: time.Now(), Deadline: time.Now().Add(time.Minute)},
		lease.ChallengeFailed{Err: xerrors.New("bad proof")},
	}
}

func stored(t *testing.T, st lease.Store, k lease.Key) *lease.Lease {
	l, err := st.Get(context.Background(), k)
	require.NoError(t, err)
	return l
}

func TestAction(t *testing.T) {
	for _, tc := range []struct {
		role  lease.Role
		state lease.State
		want  lease.SettlementAction
	}{
		{lease.Renter, lease.StateBreached, lease.SettleClaimPenalty},
		{lease.Provider, lease.StateBreached, lease.SettleNone},
		{lease.Renter, lease.StateRetrieved, lease.SettleReleaseFunds},
		{lease.Provider, lease.StateRetrieved, lease.SettleReleaseFunds},
		{lease.Renter, lease.StateExpired, lease.SettleReleaseFunds},
		{lease.Provider, lease.StateExpired, lease.SettleReleaseFunds},
		{lease.Renter, lease.StateRejected, lease.SettleNone},
		{lease.Renter, lease.StateActive, lease.SettleNone},
	} {
		got := settlement.Action(lease.Lease{Role: tc.role, State: tc.state})
		require.Equal(t, tc.want, got, "%s %s", tc.role, tc.state)
	}
}

func TestBreachClaimsPenaltyWithOriginalTerms(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(renter, token)

	k := terminalLease(t, reg, lease.Renter, 1, breach()...)

	c := settlement.New(testConfig, reg, l, nil, nil)
	require.NoError(t, c.Settle(ctx, k))

	calls := l.Calls(mockledger.OpClaimPenalty)
	require.Len(t, calls, 1)
	require.Equal(t, token, calls[0].Deal.Token)
	require.Equal(t, provider, calls[0].Deal.Provider)
	require.EqualValues(t, 1, calls[0].Deal.Nonce)
	require.Equal(t, 0, calls[0].Deal.Price.Cmp(big.NewInt(5000)))
	require.Equal(t, 0, calls[0].Deal.Penalty.Cmp(big.NewInt(700)))
	require.Equal(t, 48*time.Hour, calls[0].Deal.Duration)
	require.Empty(t, l.Calls(mockledger.OpReleaseFunds))

	rec := stored(t, st, k)
	require.True(t, rec.Archived)
	require.Equal(t, calls[0].Tx, rec.Settlement.TxHash)
	require.Equal(t, ledger.TxConfirmed, rec.Settlement.Status)
	require.Empty(t, reg.Machines())

	// settling again is a no-op
	require.NoError(t, c.Settle(ctx, k))
	require.Len(t, l.Calls(mockledger.OpClaimPenalty), 1)
}

func TestRestartWithoutTxReissues(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	k := terminalLease(t, lease.NewRegistry(st), lease.Renter, 3, breach()...)

	// fresh process over the same store
	reg := lease.NewRegistry(st)
	require.NoError(t, reg.Restore(ctx))
	l := mockledger.New(renter, token)

	c := settlement.New(testConfig, reg, l, nil, nil)
	require.NoError(t, c.Start(ctx))
	defer c.Stop(ctx) //nolint:errcheck

	require.Eventually(t, func() bool {
		return stored(t, st, k).Archived
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, l.Calls(mockledger.OpClaimPenalty), 1)
}

func TestRestartWithConfirmedTxDoesNotReissue(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	l := mockledger.New(renter, token)

	first := lease.NewRegistry(st)
	k := terminalLease(t, first, lease.Renter, 4, breach()...)

	m, err := first.Get(ctx, k)
	require.NoError(t, err)
	cur := m.Lease()
	tx, err := l.ClaimPenalty(ctx, cur.Deal())
	require.NoError(t, err)
	_, err = m.Mutate(ctx, func(l *lease.Lease) error {
		l.Settlement = lease.Settlement{Action: lease.SettleClaimPenalty, TxHash: tx, Status: ledger.TxPending, Attempts: 1}
		return nil
	})
	require.NoError(t, err)

	reg := lease.NewRegistry(st)
	require.NoError(t, reg.Restore(ctx))

	c := settlement.New(testConfig, reg, l, nil, nil)
	require.NoError(t, c.Settle(ctx, k))

	require.Len(t, l.Calls(mockledger.OpClaimPenalty), 1)
	rec := stored(t, st, k)
	require.True(t, rec.Archived)
	require.Equal(t, tx, rec.Settlement.TxHash)
	require.Equal(t, 1, rec.Settlement.Attempts)
}

func TestLedgerErrorsRetried(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(provider, token)
	l.FailNext(mockledger.OpReleaseFunds, 2)

	k := terminalLease(t, reg, lease.Provider, 1, lease.Expired{At: time.Now()})

	blobs := &deletes{}
	c := settlement.New(testConfig, reg, l, blobs, nil)
	require.NoError(t, c.Settle(ctx, k))

	require.Len(t, l.Calls(mockledger.OpReleaseFunds), 1)
	rec := stored(t, st, k)
	require.Equal(t, 3, rec.Settlement.Attempts)
	require.True(t, rec.Archived)
	require.Equal(t, []lease.Key{k}, blobs.keys)
}

func TestRetryExhaustionMarksFailed(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(renter, token)
	l.FailNext(mockledger.OpReleaseFunds, 100)

	k := terminalLease(t, reg, lease.Renter, 1, lease.Retrieved{At: time.Now()})

	cfg := testConfig
	cfg.MaxAttempts = 3
	c := settlement.New(cfg, reg, l, nil, nil)

	err := c.Settle(ctx, k)
	var lerr *lease.LedgerError
	require.True(t, xerrors.As(err, &lerr))

	rec := stored(t, st, k)
	require.True(t, rec.Settlement.Failed)
	require.Equal(t, 3, rec.Settlement.Attempts)
	require.Contains(t, rec.Settlement.LastError, "injected")
	require.False(t, rec.Archived)

	require.NoError(t, c.Settle(ctx, k))
	require.Equal(t, 3, stored(t, st, k).Settlement.Attempts)
}

func TestFailedTxReissued(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(renter, token)
	l.SetAutoConfirm(false)

	k := terminalLease(t, reg, lease.Renter, 2, lease.Expired{At: time.Now()})

	c := settlement.New(testConfig, reg, l, nil, nil)
	done := make(chan error, 1)
	go func() { done <- c.Settle(ctx, k) }()

	require.Eventually(t, func() bool { return len(l.Calls(mockledger.OpReleaseFunds)) == 1 }, 5*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, c.Settle(ctx, k), settlement.ErrSettling)

	l.SetTxStatus(l.Calls(mockledger.OpReleaseFunds)[0].Tx, ledger.TxFailed)

	require.Eventually(t, func() bool { return len(l.Calls(mockledger.OpReleaseFunds)) == 2 }, 5*time.Second, 5*time.Millisecond)
	second := l.Calls(mockledger.OpReleaseFunds)[1].Tx
	l.SetTxStatus(second, ledger.TxConfirmed)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("settlement did not finish")
	}

	rec := stored(t, st, k)
	require.True(t, rec.Archived)
	require.Equal(t, second, rec.Settlement.TxHash)
	require.Equal(t, 2, rec.Settlement.Attempts)
}

func TestUnconfirmedTxReissuedUntilFailed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(renter, token)
	l.SetAutoConfirm(false)

	k := terminalLease(t, reg, lease.Renter, 3, breach()...)

	cfg := testConfig
	cfg.MaxAttempts = 2
	cfg.ConfirmTimeout = 30 * time.Millisecond
	c := settlement.New(cfg, reg, l, nil, nil)

	err := c.Settle(ctx, k)
	var lerr *lease.LedgerError
	require.True(t, xerrors.As(err, &lerr), err)

	calls := l.Calls(mockledger.OpClaimPenalty)
	require.Len(t, calls, 2)
	require.NotEqual(t, calls[0].Tx, calls[1].Tx)

	rec := stored(t, st, k)
	require.True(t, rec.Settlement.Failed)
	require.Equal(t, 2, rec.Settlement.Attempts)
	require.Contains(t, rec.Settlement.LastError, "not confirmed")
	require.False(t, rec.Archived)
}

func TestNothingToSettle(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(provider, token)
	blobs := &deletes{}

	k := terminalLease(t, reg, lease.Provider, 1, breach()...)

	c := settlement.New(testConfig, reg, l, blobs, nil)
	require.NoError(t, c.Settle(ctx, k))

	require.Empty(t, l.Calls(mockledger.OpClaimPenalty))
	require.Empty(t, l.Calls(mockledger.OpReleaseFunds))
	require.True(t, stored(t, st, k).Archived)
	require.Equal(t, []lease.Key{k}, blobs.keys)

	// leases that are still live are never settled
	live := terminalLease(t, reg, lease.Renter, 2)
	require.ErrorIs(t, c.Settle(ctx, live), lease.ErrInvalidTransition)
}

func TestSubscribedTransitionsSettle(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	reg := lease.NewRegistry(st)
	l := mockledger.New(renter, token)

	c := settlement.New(testConfig, reg, l, nil, nil)
	require.NoError(t, c.Start(ctx))

	k := terminalLease(t, reg, lease.Renter, 7, breach()...)

	require.Eventually(t, func() bool {
		return stored(t, st, k).Archived
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, l.Calls(mockledger.OpClaimPenalty), 1)

	require.NoError(t, c.Stop(ctx))
}
