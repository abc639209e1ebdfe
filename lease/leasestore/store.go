// Package leasestore persists lease records as JSON in a go-datastore.
package leasestore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/lease"
)

var (
	leasesPrefix = datastore.NewKey("/leases")
	noncesPrefix = datastore.NewKey("/nonces")
)

// Store implements lease.Store.
type Store struct {
	ds datastore.Batching
}

var _ lease.Store = (*Store)(nil)

func New(ds datastore.Batching) *Store {
	return &Store{ds: ds}
}

// Namespaced wraps ds under prefix, so that one datastore can host several
// components.
func Namespaced(ds datastore.Batching, prefix string) *Store {
	return New(namespace.Wrap(ds, datastore.NewKey(prefix)))
}

func leaseKey(k lease.Key) datastore.Key {
	return leasesPrefix.ChildString(string(k.Role)).ChildString(k.Peer.String()).ChildString(fmt.Sprint(k.Nonce))
}

func nonceKey(role lease.Role, p peer.ID) datastore.Key {
	return noncesPrefix.ChildString(string(role)).ChildString(p.String())
}

func (st *Store) Create(ctx context.Context, l *lease.Lease) error {
	k := leaseKey(l.Key())
	has, err := st.ds.Has(ctx, k)
	if err != nil {
		return err
	}
	if has {
		return xerrors.Errorf("already tracking lease %s: %w", l.Key(), lease.ErrLeaseExists)
	}

	b, err := json.Marshal(l)
	if err != nil {
		return xerrors.Errorf("marshaling lease: %w", err)
	}

	highest, ok, err := st.HighestNonce(ctx, l.Role, l.Peer)
	if err != nil {
		return err
	}

	batch, err := st.ds.Batch(ctx)
	if err != nil {
		return xerrors.Errorf("opening batch: %w", err)
	}
	if err := batch.Put(ctx, k, b); err != nil {
		return err
	}
	if !ok || l.Nonce > highest {
		var nb [8]byte
		binary.BigEndian.PutUint64(nb[:], l.Nonce)
		if err := batch.Put(ctx, nonceKey(l.Role, l.Peer), nb[:]); err != nil {
			return err
		}
	}

	return batch.Commit(ctx)
}

func (st *Store) Put(ctx context.Context, l *lease.Lease) error {
	b, err := json.Marshal(l)
	if err != nil {
		return xerrors.Errorf("marshaling lease: %w", err)
	}

	if err := st.ds.Put(ctx, leaseKey(l.Key()), b); err != nil {
		return err
	}
	return st.ds.Sync(ctx, leaseKey(l.Key()))
}

func (st *Store) Get(ctx context.Context, k lease.Key) (*lease.Lease, error) {
	b, err := st.ds.Get(ctx, leaseKey(k))
	if err != nil {
		if xerrors.Is(err, datastore.ErrNotFound) {
			return nil, xerrors.Errorf("no lease %s: %w", k, lease.ErrUnknownLease)
		}
		return nil, err
	}

	var l lease.Lease
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, xerrors.Errorf("unmarshaling lease %s: %w", k, err)
	}
	return &l, nil
}

// List returns every decodable lease. Records that fail to decode are skipped
// and reported in the returned error.
func (st *Store) List(ctx context.Context) ([]lease.Lease, error) {
	res, err := st.ds.Query(ctx, query.Query{Prefix: leasesPrefix.String()})
	if err != nil {
		return nil, xerrors.Errorf("query error: %w", err)
	}
	defer res.Close() //nolint:errcheck

	var (
		out  []lease.Lease
		errs error
	)
	for r := range res.Next() {
		if r.Error != nil {
			return out, r.Error
		}

		var l lease.Lease
		if err := json.Unmarshal(r.Value, &l); err != nil {
			errs = multierr.Append(errs, xerrors.Errorf("decoding lease '%s': %w", r.Key, err))
			continue
		}
		out = append(out, l)
	}

	return out, errs
}

func (st *Store) HighestNonce(ctx context.Context, role lease.Role, p peer.ID) (uint64, bool, error) {
	b, err := st.ds.Get(ctx, nonceKey(role, p))
	switch {
	case xerrors.Is(err, datastore.ErrNotFound):
		return 0, false, nil
	case err != nil:
		return 0, false, err
	case len(b) != 8:
		return 0, false, xerrors.Errorf("corrupt nonce record for %s/%s", role, p)
	}
	return binary.BigEndian.Uint64(b), true, nil
}
