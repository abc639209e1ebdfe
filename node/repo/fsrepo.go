package repo

import (
	"context"
	"crypto/ecdsa"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gocrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ipfs/go-datastore"
	levelds "github.com/ipfs/go-ds-leveldb"
	fslock "github.com/ipfs/go-fs-lock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	ldbopts "github.com/syndtr/goleveldb/leveldb/opt"
	"golang.org/x/xerrors"

	"github.com/rentstore/rentstore/node/config"
)

const (
	fsAPI       = "api"
	fsConfig    = "config.toml"
	fsDatastore = "datastore"
	fsBlobs     = "blobs.db"
	fsLock      = "repo.lock"
	fsKeystore  = "keystore"
	fsIdentity  = "identity.key"
)

var log = logging.Logger("repo")

var ErrRepoExists = xerrors.New("repo exists")

// FsRepo is struct for repo, use NewFS to create
type FsRepo struct {
	path       string
	configPath string
}

var _ Repo = &FsRepo{}

// NewFS creates a repo instance based on a path on file system
func NewFS(path string) (*FsRepo, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	return &FsRepo{
		path:       path,
		configPath: filepath.Join(path, fsConfig),
	}, nil
}

func (fsr *FsRepo) SetConfigPath(cfgPath string) {
	fsr.configPath = cfgPath
}

func (fsr *FsRepo) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(fsr.path, fsKeystore, fsIdentity))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Init creates the repo layout, writes the default config and stores key as
// the node identity. A nil key generates a fresh one.
func (fsr *FsRepo) Init(key *ecdsa.PrivateKey) error {
	exist, err := fsr.Exists()
	if err != nil {
		return err
	}
	if exist {
		return ErrRepoExists
	}

	log.Infof("Initializing repo at '%s'", fsr.path)
	err = os.MkdirAll(fsr.path, 0755) //nolint: gosec
	if err != nil && !os.IsExist(err) {
		return err
	}

	if err := fsr.initConfig(); err != nil {
		return xerrors.Errorf("init config: %w", err)
	}

	return fsr.initKeystore(key)
}

func (fsr *FsRepo) initConfig() error {
	_, err := os.Stat(fsr.configPath)
	if err == nil {
		// exists
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}

	return config.WriteFile(fsr.configPath, config.DefaultNode())
}

func (fsr *FsRepo) initKeystore(key *ecdsa.PrivateKey) error {
	kstorePath := filepath.Join(fsr.path, fsKeystore)
	if err := os.Mkdir(kstorePath, 0700); err != nil && !os.IsExist(err) {
		return err
	}

	if key == nil {
		var err error
		key, err = gocrypto.GenerateKey()
		if err != nil {
			return xerrors.Errorf("generating identity key: %w", err)
		}
	}

	if err := gocrypto.SaveECDSA(filepath.Join(kstorePath, fsIdentity), key); err != nil {
		return xerrors.Errorf("saving identity key: %w", err)
	}
	log.Infow("created identity", "address", gocrypto.PubkeyToAddress(key.PublicKey))
	return nil
}

// APIEndpoint returns endpoint of API in this repo
func (fsr *FsRepo) APIEndpoint() (string, error) {
	p := filepath.Join(fsr.path, fsAPI)

	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return "", ErrNoAPIEndpoint
	} else if err != nil {
		return "", xerrors.Errorf("failed to read %q: %w", p, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Lock acquires exclusive lock on this repo
func (fsr *FsRepo) Lock() (LockedRepo, error) {
	locked, err := fslock.Locked(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not check lock status: %w", err)
	}
	if locked {
		return nil, ErrRepoAlreadyLocked
	}

	closer, err := fslock.Lock(fsr.path, fsLock)
	if err != nil {
		return nil, xerrors.Errorf("could not lock the repo: %w", err)
	}
	return &fsLockedRepo{
		path:       fsr.path,
		configPath: fsr.configPath,
		closer:     closer,
	}, nil
}

type fsLockedRepo struct {
	path       string
	configPath string
	closer     io.Closer

	ds     datastore.Batching
	dsErr  error
	dsOnce sync.Once

	configLk sync.Mutex
}

func (fsr *fsLockedRepo) Path() string {
	return fsr.path
}

func (fsr *fsLockedRepo) Close() error {
	err := os.Remove(fsr.join(fsAPI))

	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("could not remove API file: %w", err)
	}
	if fsr.ds != nil {
		if err := fsr.ds.Close(); err != nil {
			return xerrors.Errorf("could not close datastore: %w", err)
		}
	}

	err = fsr.closer.Close()
	fsr.closer = nil
	return err
}

func (fsr *fsLockedRepo) join(paths ...string) string {
	return filepath.Join(append([]string{fsr.path}, paths...)...)
}

func (fsr *fsLockedRepo) stillValid() error {
	if fsr.closer == nil {
		return ErrClosedRepo
	}
	return nil
}

// Datastore opens the leveldb datastore lease records live in.
func (fsr *fsLockedRepo) Datastore(_ context.Context) (datastore.Batching, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}

	fsr.dsOnce.Do(func() {
		fsr.ds, fsr.dsErr = levelds.NewDatastore(fsr.join(fsDatastore), &levelds.Options{
			Compression: ldbopts.NoCompression,
			NoSync:      false,
			Strict:      ldbopts.StrictAll,
			ReadOnly:    false,
		})
	})
	if fsr.dsErr != nil {
		return nil, xerrors.Errorf("opening datastore: %w", fsr.dsErr)
	}
	return fsr.ds, nil
}

func (fsr *fsLockedRepo) BlobPath() string {
	return fsr.join(fsBlobs)
}

func (fsr *fsLockedRepo) Config() (*config.Node, error) {
	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	return config.FromFile(fsr.configPath, config.DefaultNode())
}

func (fsr *fsLockedRepo) SetConfig(c func(*config.Node)) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}

	fsr.configLk.Lock()
	defer fsr.configLk.Unlock()

	cfg, err := config.FromFile(fsr.configPath, config.DefaultNode())
	if err != nil {
		return err
	}

	// mutate in-memory representation of config
	c(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.WriteFile(fsr.configPath, cfg)
}

func (fsr *fsLockedRepo) Identity() (*ecdsa.PrivateKey, error) {
	if err := fsr.stillValid(); err != nil {
		return nil, err
	}

	p := fsr.join(fsKeystore, fsIdentity)
	fstat, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil, ErrNoIdentity
	} else if err != nil {
		return nil, xerrors.Errorf("opening identity key: %w", err)
	}
	if fstat.Mode()&0077 != 0 {
		return nil, xerrors.Errorf("permissions of key: '%s' are too relaxed, required: 0600, got: %#o", p, fstat.Mode())
	}

	key, err := gocrypto.LoadECDSA(p)
	if err != nil {
		return nil, xerrors.Errorf("loading identity key: %w", err)
	}
	return key, nil
}

func (fsr *fsLockedRepo) SetAPIEndpoint(addr string) error {
	if err := fsr.stillValid(); err != nil {
		return err
	}
	return os.WriteFile(fsr.join(fsAPI), []byte(addr), 0644) //nolint:gosec
}
