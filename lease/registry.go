package lease

import (
	"context"
	"sync"

	"github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"
)

var log = logging.Logger("lease")

type subscriberFn func(Transition)

// Registry holds exactly one Machine per lease key and fans out transitions.
type Registry struct {
	store Store
	ps    *pubsub.PubSub

	lk       sync.Mutex
	machines map[Key]*Machine
}

func NewRegistry(store Store) *Registry {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(Transition)
		if !ok {
			return xerrors.Errorf("wrong type of event")
		}
		sub, ok := subFn.(subscriberFn)
		if !ok {
			return xerrors.Errorf("wrong type of subscriber")
		}
		sub(evt)
		return nil
	})

	return &Registry{
		store:    store,
		ps:       ps,
		machines: map[Key]*Machine{},
	}
}

func (r *Registry) Store() Store {
	return r.store
}

// Subscribe registers cb for every persisted transition. Callbacks run while
// the publishing machine is locked and must not call back into it.
func (r *Registry) Subscribe(cb func(Transition)) pubsub.Unsubscribe {
	return r.ps.Subscribe(subscriberFn(cb))
}

func (r *Registry) publish(t Transition) {
	if err := r.ps.Publish(t); err != nil {
		log.Errorf("unexpected error publishing lease transition: %s", err)
	}
}

func (r *Registry) newMachine(l Lease) *Machine {
	return &Machine{
		state:  l,
		store:  r.store,
		notify: r.publish,
	}
}

// Create persists a new lease in state Proposed and returns its machine.
func (r *Registry) Create(ctx context.Context, l Lease) (*Machine, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	k := l.Key()
	if _, ok := r.machines[k]; ok {
		return nil, xerrors.Errorf("creating %s: %w", k, ErrLeaseExists)
	}

	l.State = StateProposed
	if err := r.store.Create(ctx, &l); err != nil {
		if xerrors.Is(err, ErrLeaseExists) {
			return nil, xerrors.Errorf("creating %s: %w", k, err)
		}
		return nil, &StorageError{Op: "creating lease", Err: err}
	}

	m := r.newMachine(l)
	r.machines[k] = m
	log.Infow("lease created", "lease", k, "token", l.Terms.Token, "size", l.Commitment.Size)

	r.publish(Transition{Key: k, To: StateProposed, Lease: l.clone()})
	return m, nil
}

// Get returns the machine for k. Leases missing from the working set are
// loaded from the store; archived ones are not cached.
func (r *Registry) Get(ctx context.Context, k Key) (*Machine, error) {
	r.lk.Lock()
	defer r.lk.Unlock()

	if m, ok := r.machines[k]; ok {
		return m, nil
	}

	l, err := r.store.Get(ctx, k)
	if err != nil {
		return nil, err
	}

	m := r.newMachine(*l)
	if !l.Archived {
		r.machines[k] = m
	}
	return m, nil
}

// Machines lists the working set.
func (r *Registry) Machines() []*Machine {
	r.lk.Lock()
	defer r.lk.Unlock()

	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	return out
}

// Restore loads every non-archived lease from the store.
func (r *Registry) Restore(ctx context.Context) error {
	leases, err := r.store.List(ctx)
	if err != nil {
		log.Errorw("listing leases", "error", err)
		if len(leases) == 0 {
			return &StorageError{Op: "listing leases", Err: err}
		}
	}

	r.lk.Lock()
	defer r.lk.Unlock()

	for _, l := range leases {
		if l.Archived {
			continue
		}
		if _, ok := r.machines[l.Key()]; ok {
			continue
		}
		r.machines[l.Key()] = r.newMachine(l)
	}

	log.Infow("restored leases", "count", len(r.machines))
	return nil
}

// Archive marks a settled terminal lease as archived and drops it from the
// working set. The record stays in the store.
func (r *Registry) Archive(ctx context.Context, k Key) error {
	m, err := r.Get(ctx, k)
	if err != nil {
		return err
	}

	if _, err := m.Mutate(ctx, func(l *Lease) error {
		if !l.State.Terminal() {
			return xerrors.Errorf("archiving %s in state %s: %w", k, l.State, ErrInvalidTransition)
		}
		l.Archived = true
		return nil
	}); err != nil {
		return err
	}

	r.lk.Lock()
	delete(r.machines, k)
	r.lk.Unlock()
	return nil
}

// WaitFor blocks until the lease at k satisfies cond.
func (r *Registry) WaitFor(ctx context.Context, k Key, cond func(Lease) bool) (Lease, error) {
	ch := make(chan Lease, 1)
	unsub := r.Subscribe(func(t Transition) {
		if t.Key != k || !cond(t.Lease) {
			return
		}
		select {
		case ch <- t.Lease:
		default:
		}
	})
	defer unsub()

	m, err := r.Get(ctx, k)
	if err != nil {
		return Lease{}, err
	}
	if l := m.Lease(); cond(l) {
		return l, nil
	}

	select {
	case l := <-ch:
		return l, nil
	case <-ctx.Done():
		return m.Lease(), ctx.Err()
	}
}
