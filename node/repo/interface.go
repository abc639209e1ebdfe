package repo

import (
	"context"
	"crypto/ecdsa"

	"github.com/ipfs/go-datastore"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/node/config"
)

var (
	ErrNoAPIEndpoint     = xerrors.New("API not running (no endpoint)")
	ErrRepoAlreadyLocked = xerrors.New("repo is already locked (rentstore daemon already running)")
	ErrClosedRepo        = xerrors.New("repo is no longer open")
	ErrNoIdentity        = xerrors.New("repo has no identity key")
)

type Repo interface {
	// APIEndpoint returns the address the running daemon serves its API on
	APIEndpoint() (string, error)

	// Lock locks the repo for exclusive use.
	Lock() (LockedRepo, error)
}

type LockedRepo interface {
	// Close closes repo and removes lock.
	Close() error

	// Path of the repo root
	Path() string

	// Returns datastore defined in this repo.
	Datastore(ctx context.Context) (datastore.Batching, error)

	// BlobPath is where the provider blob database lives.
	BlobPath() string

	// Returns config in this repo
	Config() (*config.Node, error)
	SetConfig(func(*config.Node)) error

	// Identity returns the secp256k1 key the node signs leases and
	// envelopes with. Its address is the node's ledger account and its
	// public key the node's peer identity.
	Identity() (*ecdsa.PrivateKey, error)

	SetAPIEndpoint(string) error
}
