// Package mockledger is an in-memory ledger.Client for tests and local
// development.
package mockledger

import (
	"context"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lib/sigs"
)

var ErrInjected = xerrors.New("injected ledger failure")

const (
	OpSealLease    = "SealLease"
	OpClaimPenalty = "ClaimPenalty"
	OpReleaseFunds = "ReleaseFunds"
	OpApprove      = "Approve"
	OpDeposit      = "Deposit"
	OpWithdraw     = "Withdraw"
)

// Call is a recorded state-changing call.
type Call struct {
	Op   string
	Deal ledger.Deal
	Tx   common.Hash
}

type account struct {
	wallet    *big.Int
	allowance *big.Int
	escrow    ledger.StorageBalance
}

// Ledger is safe for concurrent use. Transactions are confirmed immediately
// unless AutoConfirm is disabled.
type Ledger struct {
	lk sync.Mutex

	addr   common.Address
	tokens []common.Address

	head     uint64
	txs      map[common.Hash]ledger.TxStatus
	txSeq    uint64
	calls    []Call
	failures map[string]int
	accounts map[common.Address]*account

	autoConfirm bool
	headCh      chan struct{}
}

var _ ledger.Client = (*Ledger)(nil)

func New(addr common.Address, tokens ...common.Address) *Ledger {
	l := &Ledger{
		addr:        addr,
		tokens:      tokens,
		txs:         map[common.Hash]ledger.TxStatus{},
		failures:    map[string]int{},
		accounts:    map[common.Address]*account{},
		autoConfirm: true,
		headCh:      make(chan struct{}),
	}
	for _, t := range tokens {
		l.accounts[t] = &account{
			wallet:    big.NewInt(0),
			allowance: big.NewInt(0),
			escrow: ledger.StorageBalance{
				Available:   big.NewInt(0),
				LockedRents: big.NewInt(0),
				LockedLets:  big.NewInt(0),
			},
		}
	}
	return l
}

// Shared returns a view of the same chain for another account. Only Account
// differs: heads, balances and recorded calls are shared.
func (l *Ledger) Shared(addr common.Address) *View {
	return &View{Ledger: l, addr: addr}
}

// View is a second account on a Ledger.
type View struct {
	*Ledger
	addr common.Address
}

func (v *View) Account() common.Address { return v.addr }

func (l *Ledger) Account() common.Address { return l.addr }

func (l *Ledger) Tokens() []common.Address {
	return append([]common.Address(nil), l.tokens...)
}

// Mint credits the wallet balance of token.
func (l *Ledger) Mint(token common.Address, amount *big.Int) {
	l.lk.Lock()
	defer l.lk.Unlock()

	acct, err := l.account(token)
	if err != nil {
		return
	}
	acct.wallet.Add(acct.wallet, amount)
}

// SetAutoConfirm controls whether new transactions start Confirmed or Pending.
func (l *Ledger) SetAutoConfirm(v bool) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.autoConfirm = v
}

func (l *Ledger) SetTxStatus(tx common.Hash, st ledger.TxStatus) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.txs[tx] = st
}

// FailNext makes the next n calls of op return ErrInjected.
func (l *Ledger) FailNext(op string, n int) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.failures[op] = n
}

func (l *Ledger) Calls(op string) []Call {
	l.lk.Lock()
	defer l.lk.Unlock()

	var out []Call
	for _, c := range l.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// SetHead moves the chain to height h.
func (l *Ledger) SetHead(h uint64) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.head = h
	close(l.headCh)
	l.headCh = make(chan struct{})
}

// Mine advances the chain by n blocks.
func (l *Ledger) Mine(n uint64) {
	l.lk.Lock()
	h := l.head + n
	l.lk.Unlock()
	l.SetHead(h)
}

// HeadChanged returns a channel closed on the next head change.
func (l *Ledger) HeadChanged() <-chan struct{} {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.headCh
}

func (l *Ledger) account(token common.Address) (*account, error) {
	acct, ok := l.accounts[token]
	if !ok {
		return nil, xerrors.Errorf("no deployment for token %s", token)
	}
	return acct, nil
}

func (l *Ledger) injected(op string) error {
	if l.failures[op] > 0 {
		l.failures[op]--
		return xerrors.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (l *Ledger) newTx(op string, d ledger.Deal) common.Hash {
	l.txSeq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.txSeq)
	tx := common.BytesToHash(sigs.Keccak256([]byte(op), buf[:]))

	if l.autoConfirm {
		l.txs[tx] = ledger.TxConfirmed
	} else {
		l.txs[tx] = ledger.TxPending
	}
	l.calls = append(l.calls, Call{Op: op, Deal: d, Tx: tx})
	return tx
}

func (l *Ledger) Approve(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if err := l.injected(OpApprove); err != nil {
		return common.Hash{}, err
	}
	acct, err := l.account(token)
	if err != nil {
		return common.Hash{}, err
	}
	acct.allowance = new(big.Int).Set(amount)
	return l.newTx(OpApprove, ledger.Deal{Token: token}), nil
}

func (l *Ledger) Deposit(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if err := l.injected(OpDeposit); err != nil {
		return common.Hash{}, err
	}
	acct, err := l.account(token)
	if err != nil {
		return common.Hash{}, err
	}
	if acct.allowance.Cmp(amount) < 0 || acct.wallet.Cmp(amount) < 0 {
		return common.Hash{}, xerrors.Errorf("deposit of %s exceeds allowance or balance", amount)
	}
	acct.allowance.Sub(acct.allowance, amount)
	acct.wallet.Sub(acct.wallet, amount)
	acct.escrow.Available.Add(acct.escrow.Available, amount)
	return l.newTx(OpDeposit, ledger.Deal{Token: token}), nil
}

func (l *Ledger) Withdraw(ctx context.Context, token common.Address, amount *big.Int) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if err := l.injected(OpWithdraw); err != nil {
		return common.Hash{}, err
	}
	acct, err := l.account(token)
	if err != nil {
		return common.Hash{}, err
	}
	if acct.escrow.Available.Cmp(amount) < 0 {
		return common.Hash{}, xerrors.Errorf("withdraw of %s exceeds available escrow", amount)
	}
	acct.escrow.Available.Sub(acct.escrow.Available, amount)
	acct.wallet.Add(acct.wallet, amount)
	return l.newTx(OpWithdraw, ledger.Deal{Token: token}), nil
}

func (l *Ledger) BalanceOf(ctx context.Context, token common.Address) (*big.Int, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	acct, err := l.account(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acct.wallet), nil
}

func (l *Ledger) Allowance(ctx context.Context, token common.Address) (*big.Int, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	acct, err := l.account(token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acct.allowance), nil
}

func (l *Ledger) StorageBalance(ctx context.Context, token common.Address) (*ledger.StorageBalance, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	acct, err := l.account(token)
	if err != nil {
		return nil, err
	}
	return &ledger.StorageBalance{
		Available:   new(big.Int).Set(acct.escrow.Available),
		LockedRents: new(big.Int).Set(acct.escrow.LockedRents),
		LockedLets:  new(big.Int).Set(acct.escrow.LockedLets),
	}, nil
}

func (l *Ledger) SealLease(ctx context.Context, p ledger.SealParams) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if err := l.injected(OpSealLease); err != nil {
		return common.Hash{}, err
	}

	digest, err := p.Deal.Digest()
	if err != nil {
		return common.Hash{}, err
	}
	if err := sigs.VerifyDigest(p.RenterSignature, p.Deal.Renter, digest); err != nil {
		return common.Hash{}, xerrors.Errorf("renter signature: %w", err)
	}

	return l.newTx(OpSealLease, p.Deal), nil
}

func (l *Ledger) ClaimPenalty(ctx context.Context, d ledger.Deal) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if err := l.injected(OpClaimPenalty); err != nil {
		return common.Hash{}, err
	}
	return l.newTx(OpClaimPenalty, d), nil
}

func (l *Ledger) ReleaseFunds(ctx context.Context, d ledger.Deal) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if err := l.injected(OpReleaseFunds); err != nil {
		return common.Hash{}, err
	}
	return l.newTx(OpReleaseFunds, d), nil
}

// BlockHash returns a deterministic hash for every mined block.
func (l *Ledger) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	if number > l.head {
		return common.Hash{}, xerrors.Errorf("block %d not mined yet (head %d)", number, l.head)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], number)
	return common.BytesToHash(sigs.Keccak256([]byte("block"), buf[:])), nil
}

func (l *Ledger) ChainHead(ctx context.Context) (uint64, error) {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.head, nil
}

func (l *Ledger) TxStatus(ctx context.Context, tx common.Hash) (ledger.TxStatus, error) {
	l.lk.Lock()
	defer l.lk.Unlock()

	st, ok := l.txs[tx]
	if !ok {
		return ledger.TxPending, xerrors.Errorf("unknown transaction %s", tx)
	}
	return st, nil
}
