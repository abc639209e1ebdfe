package leasestore

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gocrypto "github.com/ethereum/go-ethereum/crypto"
	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lib/merkle"
	"github.com/rentstore/rentstore/lib/sigs"
)

func testLease(t *testing.T, nonce uint64) *lease.Lease {
	key, err := gocrypto.GenerateKey()
	require.NoError(t, err)
	id, err := sigs.PeerID(key)
	require.NoError(t, err)

	return &lease.Lease{
		Role:  lease.Renter,
		Peer:  id,
		Nonce: nonce,
		Terms: lease.Terms{
			Token:              common.HexToAddress("0xabcd"),
			Price:              big.NewInt(12345),
			Penalty:            big.NewInt(42),
			ProposalExpiration: time.Unix(1700000120, 0),
			LeaseDuration:      90 * time.Minute,
		},
		Commitment: lease.Commitment{Root: merkle.Hash{0xde, 0xad}, Size: 1000, ChunkSize: 544},
		State:      lease.StateProposed,
		Challenge:  &lease.PendingChallenge{BlockNumber: 77, Deadline: time.Unix(1700000300, 0)},
		Settlement: lease.Settlement{
			Action: lease.SettleClaimPenalty,
			TxHash: common.HexToHash("0xfeed"),
			Status: ledger.TxPending,
		},
	}
}

func TestCreateGetList(t *testing.T) {
	ctx := context.Background()
	st := New(ds_sync.MutexWrap(ds.NewMapDatastore()))

	l := testLease(t, 5)
	require.NoError(t, st.Create(ctx, l))
	require.ErrorIs(t, st.Create(ctx, l), lease.ErrLeaseExists)

	got, err := st.Get(ctx, l.Key())
	require.NoError(t, err)
	require.Equal(t, l.Peer, got.Peer)
	require.Equal(t, l.Commitment, got.Commitment)
	require.Equal(t, 0, l.Terms.Price.Cmp(got.Terms.Price))
	require.True(t, l.Terms.ProposalExpiration.Equal(got.Terms.ProposalExpiration))
	require.Equal(t, l.Settlement, got.Settlement)
	require.Equal(t, uint64(77), got.Challenge.BlockNumber)

	n, ok, err := st.HighestNonce(ctx, lease.Renter, l.Peer)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 5, n)

	// a lower nonce does not move the high-water mark
	lower := *l
	lower.Nonce = 2
	require.NoError(t, st.Create(ctx, &lower))
	n, _, err = st.HighestNonce(ctx, lease.Renter, l.Peer)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	_, ok, err = st.HighestNonce(ctx, lease.Provider, l.Peer)
	require.NoError(t, err)
	require.False(t, ok)

	l.State = lease.StateActive
	require.NoError(t, st.Put(ctx, l))

	all, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = st.Get(ctx, lease.Key{Role: lease.Provider, Peer: l.Peer, Nonce: 5})
	require.ErrorIs(t, err, lease.ErrUnknownLease)
}

func TestListSkipsCorrupt(t *testing.T) {
	ctx := context.Background()
	mds := ds_sync.MutexWrap(ds.NewMapDatastore())
	st := New(mds)

	l := testLease(t, 1)
	require.NoError(t, st.Create(ctx, l))
	require.NoError(t, mds.Put(ctx, ds.NewKey("/leases/renter/garbage/1"), []byte("{not json")))

	all, err := st.List(ctx)
	require.Error(t, err)
	require.Len(t, all, 1)
}
