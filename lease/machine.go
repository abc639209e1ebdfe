package lease

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/xerrors"
)

// Store persists lease records. Writes to one key are atomic; Create also
// records the nonce high-water mark of the (role, peer) stream in the same
// transaction.
type Store interface {
	Create(ctx context.Context, l *Lease) error
	Put(ctx context.Context, l *Lease) error
	Get(ctx context.Context, k Key) (*Lease, error)
	List(ctx context.Context) ([]Lease, error)
	HighestNonce(ctx context.Context, role Role, p peer.ID) (uint64, bool, error)
}

// Machine owns a single lease. Transitions are serialised by the machine lock
// and persisted before the in-memory state moves or anyone is notified.
type Machine struct {
	lk     sync.Mutex
	state  Lease
	store  Store
	notify func(Transition)
}

func (m *Machine) Key() Key {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.state.Key()
}

// Lease returns a copy of the current record.
func (m *Machine) Lease() Lease {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.state.clone()
}

// Send applies evt. On success the new record is durable and has been
// published to subscribers.
func (m *Machine) Send(ctx context.Context, evt Event) (Lease, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	next := m.state.clone()
	from := next.State

	if err := plan(evt, &next); err != nil {
		return m.state.clone(), err
	}

	if err := m.store.Put(ctx, &next); err != nil {
		return m.state.clone(), &StorageError{Op: "persisting transition", Err: err}
	}

	m.state = next
	log.Infow("lease transition", "lease", next.Key(), "from", from, "to", next.State, "event", evtName(evt))

	if m.notify != nil {
		m.notify(Transition{Key: next.Key(), From: from, To: next.State, Lease: next.clone()})
	}

	return next.clone(), nil
}

// Mutate changes bookkeeping fields that are not part of the state machine,
// such as settlement progress. It must not change State.
func (m *Machine) Mutate(ctx context.Context, mutator func(l *Lease) error) (Lease, error) {
	m.lk.Lock()
	defer m.lk.Unlock()

	next := m.state.clone()
	if err := mutator(&next); err != nil {
		return m.state.clone(), err
	}
	if next.State != m.state.State {
		return m.state.clone(), xerrors.Errorf("mutate changed state %s -> %s: %w", m.state.State, next.State, ErrInvalidTransition)
	}

	if err := m.store.Put(ctx, &next); err != nil {
		return m.state.clone(), &StorageError{Op: "persisting lease", Err: err}
	}

	m.state = next
	return next.clone(), nil
}

func evtName(evt Event) string {
	return fmt.Sprintf("%T", evt)
}
