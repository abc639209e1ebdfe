package ethledger

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gocrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
)

const simulatedChainID = 1337

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	adjA   = common.HexToAddress("0x00000000000000000000000000000000000000da")
)

func newSimulated(t *testing.T) (*simulated.Backend, *Ledger) {
	key, err := gocrypto.GenerateKey()
	require.NoError(t, err)

	sim := simulated.NewBackend(types.GenesisAlloc{
		gocrypto.PubkeyToAddress(key.PublicKey): {Balance: new(big.Int).Lsh(big.NewInt(1), 80)},
	})
	t.Cleanup(func() { _ = sim.Close() })

	l := New(sim.Client(), simulatedChainID, key, map[common.Address]common.Address{
		tokenB: adjA,
		tokenA: adjA,
	})
	return sim, l
}

func TestChainReads(t *testing.T) {
	ctx := context.Background()
	sim, l := newSimulated(t)

	head, err := l.ChainHead(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, head)

	sim.Commit()
	sim.Commit()

	head, err = l.ChainHead(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, head)

	h, err := sim.Client().HeaderByNumber(ctx, big.NewInt(1))
	require.NoError(t, err)
	got, err := l.BlockHash(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, h.Hash(), got)

	_, err = l.BlockHash(ctx, 100)
	require.Error(t, err)
}

func TestTxStatus(t *testing.T) {
	ctx := context.Background()
	sim, l := newSimulated(t)
	client := sim.Client()

	st, err := l.TxStatus(ctx, common.HexToHash("0x01"))
	require.NoError(t, err)
	require.Equal(t, ledger.TxPending, st)

	nonce, err := client.PendingNonceAt(ctx, l.Account())
	require.NoError(t, err)
	gasPrice, err := client.SuggestGasPrice(ctx)
	require.NoError(t, err)

	tx := types.NewTransaction(nonce, tokenA, big.NewInt(1), 21000, gasPrice, nil)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(simulatedChainID)), l.key)
	require.NoError(t, err)
	require.NoError(t, client.SendTransaction(ctx, signed))

	st, err = l.TxStatus(ctx, signed.Hash())
	require.NoError(t, err)
	require.Equal(t, ledger.TxPending, st)

	sim.Commit()

	st, err = l.TxStatus(ctx, signed.Hash())
	require.NoError(t, err)
	require.Equal(t, ledger.TxConfirmed, st)
}

type dataError struct{ data string }

func (e dataError) Error() string          { return "rpc error" }
func (e dataError) ErrorData() interface{} { return e.data }

func TestIndexingInProgress(t *testing.T) {
	require.True(t, indexingInProgress(dataError{data: txIndexing}))
	require.True(t, indexingInProgress(xerrors.Errorf("receipt: %w", dataError{data: txIndexing})))
	require.True(t, indexingInProgress(xerrors.New(txIndexing)))
	require.False(t, indexingInProgress(dataError{data: "execution reverted"}))
	require.False(t, indexingInProgress(xerrors.New("connection refused")))
}

func TestDeployments(t *testing.T) {
	ctx := context.Background()
	_, l := newSimulated(t)

	require.Equal(t, []common.Address{tokenA, tokenB}, l.Tokens())

	unknown := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	_, err := l.Approve(ctx, unknown, big.NewInt(1))
	require.ErrorIs(t, err, ErrNoDeployment)
	_, err = l.StorageBalance(ctx, unknown)
	require.ErrorIs(t, err, ErrNoDeployment)

	// nothing is deployed on the simulated chain
	_, err = l.BalanceOf(ctx, tokenA)
	require.ErrorIs(t, err, bind.ErrNoCode)
	_, err = l.Deposit(ctx, tokenA, big.NewInt(1))
	require.ErrorIs(t, err, bind.ErrNoCode)
}

func TestSealLeaseChecksProvider(t *testing.T) {
	ctx := context.Background()
	_, l := newSimulated(t)

	_, err := l.SealLease(ctx, ledger.SealParams{Deal: ledger.Deal{
		Token:              tokenA,
		Renter:             common.HexToAddress("0x00000000000000000000000000000000000000bb"),
		Provider:           common.HexToAddress("0x00000000000000000000000000000000000000cc"),
		Nonce:              1,
		Price:              big.NewInt(10),
		Penalty:            big.NewInt(1),
		Duration:           time.Hour,
		ProposalExpiration: time.Unix(1700000000, 0),
	}})
	require.ErrorContains(t, err, "is not this account")
}

func TestOnchainDeal(t *testing.T) {
	d := ledger.Deal{
		Token:              tokenA,
		Nonce:              7,
		Size:               4096,
		Price:              big.NewInt(10),
		Penalty:            big.NewInt(1),
		Duration:           90 * time.Minute,
		ProposalExpiration: time.Unix(1700000000, 0),
	}
	oc := toOnchain(d)
	require.EqualValues(t, 5400, oc.Duration.Int64())
	require.EqualValues(t, 1700000000, oc.Expiration.Int64())

	// the tuple packs with the same field layout the adjudicator expects
	_, err := adjudicator.Pack("claimPenalty", oc)
	require.NoError(t, err)
}
