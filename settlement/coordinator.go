// Package settlement closes terminal leases on the ledger. Each terminal
// lease gets at most one outstanding settlement transaction; progress is
// persisted on the lease so a restart resumes instead of re-sending.
package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"github.com/raulk/clock"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/chain/ledger"
	"github.com/rentstore/rentstore/lease"
	"github.com/rentstore/rentstore/lib/retry"
	"github.com/rentstore/rentstore/metrics"
)

var log = logging.Logger("settlement")

var ErrSettling = xerrors.New("settlement already in progress")

var errUnconfirmed = xerrors.New("transaction not confirmed in time")

const DefaultConfirmTimeout = 30 * time.Minute

type Config struct {
	MaxAttempts         int
	BackoffMin          time.Duration
	BackoffMax          time.Duration
	ConfirmPollInterval time.Duration
	// ConfirmTimeout bounds how long a sent transaction may stay pending.
	// An unconfirmed transaction is sent again and costs an attempt.
	ConfirmTimeout time.Duration
}

type Ledger interface {
	ClaimPenalty(ctx context.Context, d ledger.Deal) (common.Hash, error)
	ReleaseFunds(ctx context.Context, d ledger.Deal) (common.Hash, error)
	TxStatus(ctx context.Context, tx common.Hash) (ledger.TxStatus, error)
}

// Blobs releases provider-side storage once a lease is settled.
type Blobs interface {
	Delete(k lease.Key) error
}

type Coordinator struct {
	cfg    Config
	reg    *lease.Registry
	ledger Ledger
	blobs  Blobs
	clock  clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  pubsub.Unsubscribe

	lk       sync.Mutex
	inflight map[lease.Key]struct{}
}

func New(cfg Config, reg *lease.Registry, l Ledger, blobs Blobs, clk clock.Clock) *Coordinator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if clk == nil {
		clk = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:      cfg,
		reg:      reg,
		ledger:   l,
		blobs:    blobs,
		clock:    clk,
		ctx:      ctx,
		cancel:   cancel,
		inflight: map[lease.Key]struct{}{},
	}
}

// Action is the ledger call a terminal lease settles with. Renters claim the
// penalty of a breached lease; both sides release their locked funds once a
// lease is retrieved or expires. Everything else settles nothing.
func Action(l lease.Lease) lease.SettlementAction {
	switch l.State {
	case lease.StateBreached:
		if l.Role == lease.Renter {
			return lease.SettleClaimPenalty
		}
	case lease.StateRetrieved, lease.StateExpired:
		return lease.SettleReleaseFunds
	}
	return lease.SettleNone
}

// Start subscribes to lease transitions and resumes settlements of terminal
// leases that were not archived before the last shutdown.
func (c *Coordinator) Start(ctx context.Context) error {
	c.unsub = c.reg.Subscribe(func(t lease.Transition) {
		if t.To.Terminal() {
			c.spawn(t.Key)
		}
	})

	c.Resume()
	return nil
}

// Resume settles every terminal lease in the registry.
func (c *Coordinator) Resume() {
	for _, m := range c.reg.Machines() {
		if l := m.Lease(); l.State.Terminal() && !l.Archived {
			c.spawn(l.Key())
		}
	}
}

func (c *Coordinator) Stop(ctx context.Context) error {
	if c.unsub != nil {
		c.unsub()
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) spawn(k lease.Key) {
	if !c.claim(k) {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(k)

		if err := c.settle(c.ctx, k); err != nil {
			log.Errorw("settling lease", "lease", k, "error", err)
		}
	}()
}

func (c *Coordinator) claim(k lease.Key) bool {
	c.lk.Lock()
	defer c.lk.Unlock()
	if _, busy := c.inflight[k]; busy {
		return false
	}
	c.inflight[k] = struct{}{}
	return true
}

func (c *Coordinator) release(k lease.Key) {
	c.lk.Lock()
	delete(c.inflight, k)
	c.lk.Unlock()
}

// Settle drives the settlement of k to completion and archives the lease.
// It is idempotent: a recorded transaction is only polled, never re-sent.
func (c *Coordinator) Settle(ctx context.Context, k lease.Key) error {
	if !c.claim(k) {
		return ErrSettling
	}
	defer c.release(k)
	return c.settle(ctx, k)
}

func (c *Coordinator) settle(ctx context.Context, k lease.Key) error {
	m, err := c.reg.Get(ctx, k)
	if err != nil {
		return err
	}

	l := m.Lease()
	if !l.State.Terminal() {
		return xerrors.Errorf("settling %s in state %s: %w", k, l.State, lease.ErrInvalidTransition)
	}
	if l.Archived {
		return nil
	}
	if l.Settlement.Failed {
		log.Warnw("settlement previously failed, not retrying", "lease", k, "error", l.Settlement.LastError)
		return nil
	}

	action := Action(l)
	if action == lease.SettleNone {
		return c.finish(ctx, l)
	}

	if l.Settlement.Action != action {
		if l, err = m.Mutate(ctx, func(l *lease.Lease) error {
			l.Settlement.Action = action
			return nil
		}); err != nil {
			return err
		}
	}

	for {
		if !l.Settlement.Issued() {
			if l, err = c.issue(ctx, m, l); err != nil {
				return err
			}
		}

		st, err := c.await(ctx, l.Settlement)
		if err != nil && !xerrors.Is(err, errUnconfirmed) {
			return err
		}
		unconfirmed := err != nil

		l, err = m.Mutate(ctx, func(l *lease.Lease) error {
			l.Settlement.Status = st
			switch {
			case unconfirmed:
				l.Settlement.TxHash = common.Hash{}
				l.Settlement.LastError = errUnconfirmed.Error()
			case st == ledger.TxFailed:
				l.Settlement.TxHash = common.Hash{}
				l.Settlement.LastError = "transaction failed"
			}
			return nil
		})
		if err != nil {
			return err
		}

		if st == ledger.TxConfirmed {
			metrics.Count(ctx, metrics.SettlementResult, tag.Upsert(metrics.Action, string(action)), tag.Upsert(metrics.Outcome, "confirmed"))
			log.Infow("lease settled", "lease", k, "action", action, "tx", l.Settlement.TxHash)
			return c.finish(ctx, l)
		}

		log.Warnw("settlement transaction not confirmed, reissuing", "lease", k, "action", action, "status", st, "attempts", l.Settlement.Attempts)
	}
}

// issue sends the settlement transaction, retrying ledger errors with
// backoff until the attempt budget of the lease is spent.
func (c *Coordinator) issue(ctx context.Context, m *lease.Machine, l lease.Lease) (lease.Lease, error) {
	k := l.Key()
	action := l.Settlement.Action

	budget := c.cfg.MaxAttempts - l.Settlement.Attempts
	if budget <= 0 {
		return c.fail(ctx, m, l.Settlement.LastError)
	}

	b := &backoff.Backoff{Min: c.cfg.BackoffMin, Max: c.cfg.BackoffMax, Factor: 2, Jitter: true}
	tx, err := retry.Retry(ctx, budget, b, retryable, func() (common.Hash, error) {
		if _, err := m.Mutate(ctx, func(l *lease.Lease) error {
			l.Settlement.Attempts++
			return nil
		}); err != nil {
			return common.Hash{}, err
		}
		metrics.Count(ctx, metrics.SettlementAttempts, tag.Upsert(metrics.Action, string(action)))

		deal := l.Deal()
		switch action {
		case lease.SettleClaimPenalty:
			return c.ledger.ClaimPenalty(ctx, deal)
		default:
			return c.ledger.ReleaseFunds(ctx, deal)
		}
	})
	if err != nil {
		var serr *lease.StorageError
		if xerrors.As(err, &serr) || ctx.Err() != nil {
			return l, err
		}
		return c.fail(ctx, m, err.Error())
	}

	log.Infow("settlement transaction sent", "lease", k, "action", action, "tx", tx)
	return m.Mutate(ctx, func(l *lease.Lease) error {
		l.Settlement.TxHash = tx
		l.Settlement.SentAt = c.clock.Now()
		l.Settlement.Status = ledger.TxPending
		l.Settlement.LastError = ""
		return nil
	})
}

func retryable(err error) bool {
	var serr *lease.StorageError
	return !xerrors.As(err, &serr)
}

func (c *Coordinator) fail(ctx context.Context, m *lease.Machine, reason string) (lease.Lease, error) {
	l, err := m.Mutate(ctx, func(l *lease.Lease) error {
		l.Settlement.Failed = true
		l.Settlement.LastError = reason
		return nil
	})
	if err != nil {
		return l, err
	}

	metrics.Count(ctx, metrics.SettlementResult, tag.Upsert(metrics.Action, string(l.Settlement.Action)), tag.Upsert(metrics.Outcome, "failed"))
	log.Errorw("settlement failed", "lease", l.Key(), "attempts", l.Settlement.Attempts, "error", reason)
	return l, &lease.LedgerError{Op: string(l.Settlement.Action), Err: xerrors.New(reason)}
}

// await polls the ledger until the sent transaction is confirmed or failed.
// It gives up with errUnconfirmed once ConfirmTimeout has passed since the
// transaction was sent.
func (c *Coordinator) await(ctx context.Context, s lease.Settlement) (ledger.TxStatus, error) {
	sent := s.SentAt
	if sent.IsZero() {
		sent = c.clock.Now()
	}
	deadline := sent.Add(c.cfg.ConfirmTimeout)

	for {
		st, err := c.ledger.TxStatus(ctx, s.TxHash)
		switch {
		case err != nil:
			log.Warnw("polling settlement transaction", "tx", s.TxHash, "error", err)
		case st != ledger.TxPending:
			return st, nil
		}

		if !c.clock.Now().Before(deadline) {
			return ledger.TxPending, errUnconfirmed
		}

		select {
		case <-c.clock.After(c.cfg.ConfirmPollInterval):
		case <-ctx.Done():
			return ledger.TxPending, ctx.Err()
		}
	}
}

func (c *Coordinator) finish(ctx context.Context, l lease.Lease) error {
	if c.blobs != nil && l.Role == lease.Provider && l.State != lease.StateRejected {
		if err := c.blobs.Delete(l.Key()); err != nil {
			log.Warnw("releasing blob", "lease", l.Key(), "error", err)
		}
	}
	return c.reg.Archive(ctx, l.Key())
}
