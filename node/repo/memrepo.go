package repo

import (
	"context"
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"sync"

	gocrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/node/config"
)

// MemRepo keeps everything but the blob database in memory. The blob
// database is created in a temporary directory removed on Close.
type MemRepo struct {
	api struct {
		sync.Mutex
		addr string
	}

	repoLock chan struct{}
	token    *byte

	datastore datastore.Batching
	key       *ecdsa.PrivateKey
	tempDir   string

	// holds the current config value
	config struct {
		sync.Mutex
		val *config.Node
	}
}

type lockedMemRepo struct {
	mem *MemRepo
	sync.RWMutex

	token *byte
}

var _ Repo = &MemRepo{}

// MemRepoOptions contains options for memory repo
type MemRepoOptions struct {
	Ds     datastore.Batching
	Config *config.Node
	Key    *ecdsa.PrivateKey
}

// NewMemory creates new memory based repo with provided options.
// opts can be nil, it will be replaced with defaults.
// Any field in opts can be nil, they will be replaced by defaults.
func NewMemory(opts *MemRepoOptions) (*MemRepo, error) {
	if opts == nil {
		opts = &MemRepoOptions{}
	}
	if opts.Config == nil {
		opts.Config = config.DefaultNode()
	}
	if opts.Ds == nil {
		opts.Ds = dssync.MutexWrap(datastore.NewMapDatastore())
	}
	if opts.Key == nil {
		key, err := gocrypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		opts.Key = key
	}

	mr := &MemRepo{
		repoLock:  make(chan struct{}, 1),
		datastore: opts.Ds,
		key:       opts.Key,
	}
	mr.config.val = opts.Config
	return mr, nil
}

func (mem *MemRepo) APIEndpoint() (string, error) {
	mem.api.Lock()
	defer mem.api.Unlock()
	if mem.api.addr == "" {
		return "", ErrNoAPIEndpoint
	}
	return mem.api.addr, nil
}

func (mem *MemRepo) Lock() (LockedRepo, error) {
	select {
	case mem.repoLock <- struct{}{}:
	default:
		return nil, ErrRepoAlreadyLocked
	}
	mem.token = new(byte)

	return &lockedMemRepo{
		mem:   mem,
		token: mem.token,
	}, nil
}

func (lmem *lockedMemRepo) checkToken() error {
	lmem.RLock()
	defer lmem.RUnlock()
	if lmem.mem.token != lmem.token {
		return ErrClosedRepo
	}
	return nil
}

func (lmem *lockedMemRepo) Close() error {
	if err := lmem.checkToken(); err != nil {
		return err
	}
	lmem.Lock()
	defer lmem.Unlock()

	if lmem.mem.tempDir != "" {
		if err := os.RemoveAll(lmem.mem.tempDir); err != nil {
			return xerrors.Errorf("removing temp dir: %w", err)
		}
		lmem.mem.tempDir = ""
	}

	lmem.mem.token = nil
	lmem.mem.api.Lock()
	lmem.mem.api.addr = ""
	lmem.mem.api.Unlock()
	<-lmem.mem.repoLock // unlock
	return nil
}

func (lmem *lockedMemRepo) Path() string {
	lmem.Lock()
	defer lmem.Unlock()

	if lmem.mem.tempDir != "" {
		return lmem.mem.tempDir
	}

	t, err := os.MkdirTemp(os.TempDir(), "rentstore-memrepo-temp-")
	if err != nil {
		panic(err) // only used in tests, probably fine
	}
	lmem.mem.tempDir = t
	return t
}

func (lmem *lockedMemRepo) Datastore(_ context.Context) (datastore.Batching, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	return lmem.mem.datastore, nil
}

func (lmem *lockedMemRepo) BlobPath() string {
	return filepath.Join(lmem.Path(), fsBlobs)
}

func (lmem *lockedMemRepo) Config() (*config.Node, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	lmem.mem.config.Lock()
	defer lmem.mem.config.Unlock()

	cp := *lmem.mem.config.val
	return &cp, nil
}

func (lmem *lockedMemRepo) SetConfig(c func(*config.Node)) error {
	if err := lmem.checkToken(); err != nil {
		return err
	}
	lmem.mem.config.Lock()
	defer lmem.mem.config.Unlock()

	cp := *lmem.mem.config.val
	c(&cp)
	if err := cp.Validate(); err != nil {
		return err
	}
	lmem.mem.config.val = &cp
	return nil
}

func (lmem *lockedMemRepo) Identity() (*ecdsa.PrivateKey, error) {
	if err := lmem.checkToken(); err != nil {
		return nil, err
	}
	return lmem.mem.key, nil
}

func (lmem *lockedMemRepo) SetAPIEndpoint(addr string) error {
	if err := lmem.checkToken(); err != nil {
		return err
	}
	lmem.mem.api.Lock()
	lmem.mem.api.addr = addr
	lmem.mem.api.Unlock()
	return nil
}
