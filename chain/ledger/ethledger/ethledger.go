// Package ethledger implements ledger.Client against an EVM chain: ERC20
// tokens escrowed by one adjudicator contract per token.
package ethledger

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gocrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lib/sigs"
)

var log = logging.Logger("ethledger")

var ErrNoDeployment = xerrors.New("no adjudicator deployed for token")

// Backend is the chain access the ledger needs. *ethclient.Client and the
// simulated backend client both satisfy it.
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type deployment struct {
	token       *bind.BoundContract
	adjudicator *bind.BoundContract
	address     common.Address
}

type Ledger struct {
	key     *ecdsa.PrivateKey
	addr    common.Address
	chainID *big.Int
	backend Backend

	deployments map[common.Address]deployment

	// transactions from one account are sent one at a time so pending nonces
	// are never handed out twice
	txLk sync.Mutex
}

var _ ledger.Client = (*Ledger)(nil)

// Dial connects to the JSON-RPC endpoint at url.
func Dial(ctx context.Context, url string, chainID uint64, key *ecdsa.PrivateKey, deployments map[common.Address]common.Address) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("dialing chain endpoint %s: %w", url, err)
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, xerrors.Errorf("fetching chain id: %w", err)
	}
	if remote.Uint64() != chainID {
		client.Close()
		return nil, xerrors.Errorf("endpoint serves chain %s, configured for %d", remote, chainID)
	}

	return New(client, chainID, key, deployments), nil
}

func New(backend Backend, chainID uint64, key *ecdsa.PrivateKey, deployments map[common.Address]common.Address) *Ledger {
	l := &Ledger{
		key:         key,
		addr:        gocrypto.PubkeyToAddress(key.PublicKey),
		chainID:     new(big.Int).SetUint64(chainID),
		backend:     backend,
		deployments: map[common.Address]deployment{},
	}
	for token, adj := range deployments {
		l.deployments[token] = deployment{
			token:       bind.NewBoundContract(token, erc20, backend, backend, backend),
			adjudicator: bind.NewBoundContract(adj, adjudicator, backend, backend, backend),
			address:     adj,
		}
	}
	return l
}

func (l *Ledger) Account() common.Address {
	return l.addr
}

func (l *Ledger) Tokens() []common.Address {
	out := make([]common.Address, 0, len(l.deployments))
	for token := range l.deployments {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

func (l *Ledger) deployment(token common.Address) (deployment, error) {
	d, ok := l.deployments[token]
	if !ok {
		return deployment{}, xerrors.Errorf("%s: %w", token, ErrNoDeployment)
	}
	return d, nil
}

func (l *Ledger) transact(ctx context.Context, c *bind.BoundContract, method string, params ...interface{}) (common.Hash, error) {
	l.txLk.Lock()
	defer l.txLk.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(l.key, l.chainID)
	if err != nil {
		return common.Hash{}, err
	}
	opts.Context = ctx

	tx, err := c.Transact(opts, method, params...)
	if err != nil {
		return common.Hash{}, xerrors.Errorf("sending %s: %w", method, err)
	}
	log.Infow("transaction sent", "method", method, "tx", tx.Hash(), "nonce", tx.Nonce())
	return tx.Hash(), nil
}

func (l *Ledger) callBig(ctx context.Context, c *bind.BoundContract, method string, params ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := c.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, xerrors.Errorf("calling %s: %w", method, err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Approve allows the adjudicator of token to move amount from the wallet.
func (l *Ledger) Approve(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	d, err := l.deployment(token)
	if err != nil {
		return common.Hash{}, err
	}
	return l.transact(ctx, d.token, "approve", d.address, amount)
}

func (l *Ledger) Deposit(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	d, err := l.deployment(token)
	if err != nil {
		return common.Hash{}, err
	}
	return l.transact(ctx, d.adjudicator, "deposit", amount, l.addr)
}

func (l *Ledger) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	d, err := l.deployment(token)
	if err != nil {
		return common.Hash{}, err
	}
	return l.transact(ctx, d.adjudicator, "withdraw", amount, l.addr)
}

func (l *Ledger) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	d, err := l.deployment(token)
	if err != nil {
		return nil, err
	}
	return l.callBig(ctx, d.token, "balanceOf", l.addr)
}

func (l *Ledger) Allowance(ctx context.Context, token common.Address) (*big.Int, error) {
	d, err := l.deployment(token)
	if err != nil {
		return nil, err
	}
	return l.callBig(ctx, d.token, "allowance", l.addr, d.address)
}

func (l *Ledger) StorageBalance(ctx context.Context, token common.Address) (*ledger.StorageBalance, error) {
	d, err := l.deployment(token)
	if err != nil {
		return nil, err
	}

	var out []interface{}
	if err := d.adjudicator.Call(&bind.CallOpts{Context: ctx}, &out, "balance", l.addr); err != nil {
		return nil, xerrors.Errorf("calling balance: %w", err)
	}
	return &ledger.StorageBalance{
		Available:   *abi.ConvertType(out[0], new(*big.Int)).(**big.Int),
		LockedRents: *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		LockedLets:  *abi.ConvertType(out[2], new(*big.Int)).(**big.Int),
	}, nil
}

// SealLease countersigns the deal as provider and submits both signatures.
func (l *Ledger) SealLease(ctx context.Context, p ledger.SealParams) (common.Hash, error) {
	d, err := l.deployment(p.Deal.Token)
	if err != nil {
		return common.Hash{}, err
	}
	if p.Deal.Provider != l.addr {
		return common.Hash{}, xerrors.Errorf("deal provider %s is not this account (%s)", p.Deal.Provider, l.addr)
	}

	digest, err := p.Deal.Digest()
	if err != nil {
		return common.Hash{}, err
	}
	providerSig, err := sigs.SignDigest(l.key, digest)
	if err != nil {
		return common.Hash{}, xerrors.Errorf("signing deal: %w", err)
	}

	return l.transact(ctx, d.adjudicator, "sealLease", toOnchain(p.Deal), p.RenterSignature, providerSig)
}

func (l *Ledger) ClaimPenalty(ctx context.Context, deal ledger.Deal) (common.Hash, error) {
	d, err := l.deployment(deal.Token)
	if err != nil {
		return common.Hash{}, err
	}
	return l.transact(ctx, d.adjudicator, "claimPenalty", toOnchain(deal))
}

func (l *Ledger) ReleaseFunds(ctx context.Context, deal ledger.Deal) (common.Hash, error) {
	d, err := l.deployment(deal.Token)
	if err != nil {
		return common.Hash{}, err
	}
	return l.transact(ctx, d.adjudicator, "releaseFunds", toOnchain(deal))
}

func (l *Ledger) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	h, err := l.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return common.Hash{}, xerrors.Errorf("fetching header %d: %w", number, err)
	}
	return h.Hash(), nil
}

func (l *Ledger) ChainHead(ctx context.Context) (uint64, error) {
	return l.backend.BlockNumber(ctx)
}

// txIndexing is what a node answers for receipts while its transaction
// index is still being built.
const txIndexing = "transaction indexing is in progress"

func indexingInProgress(err error) bool {
	var de rpc.DataError
	if xerrors.As(err, &de) {
		if s, ok := de.ErrorData().(string); ok && s == txIndexing {
			return true
		}
	}
	return strings.Contains(err.Error(), txIndexing)
}

// TxStatus reports a transaction without a receipt as pending.
func (l *Ledger) TxStatus(ctx context.Context, tx common.Hash) (ledger.TxStatus, error) {
	r, err := l.backend.TransactionReceipt(ctx, tx)
	if err != nil {
		if xerrors.Is(err, ethereum.NotFound) || indexingInProgress(err) {
			return ledger.TxPending, nil
		}
		return ledger.TxPending, xerrors.Errorf("fetching receipt of %s: %w", tx, err)
	}
	if r.Status == types.ReceiptStatusFailed {
		return ledger.TxFailed, nil
	}
	return ledger.TxConfirmed, nil
}

// Close releases the backend connection if the ledger owns one.
func (l *Ledger) Close() {
	if c, ok := l.backend.(*ethclient.Client); ok {
		c.Close()
	}
}
