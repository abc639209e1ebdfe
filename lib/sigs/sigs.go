// Package sigs signs and verifies secp256k1 signatures over keccak-256 digests
// and maps libp2p peer identities to ledger addresses.
package sigs

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gocrypto "github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	p2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"
)

// SignatureLength is the length of a recoverable secp256k1 signature.
const SignatureLength = 65

var ErrSignatureMismatch = fmt.Errorf("signature did not match")

func Keccak256(data ...[]byte) []byte {
	hasher := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hasher.Write(d) //nolint:errcheck
	}
	return hasher.Sum(nil)
}

// Sign signs keccak256(msg).
func Sign(key *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	return SignDigest(key, Keccak256(msg))
}

func SignDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := gocrypto.Sign(digest, key)
	if err != nil {
		return nil, xerrors.Errorf("signing digest: %w", err)
	}
	return sig, nil
}

// Verify checks that sig over keccak256(msg) was produced by addr.
func Verify(sig []byte, addr common.Address, msg []byte) error {
	return VerifyDigest(sig, addr, Keccak256(msg))
}

func VerifyDigest(sig []byte, addr common.Address, digest []byte) error {
	if len(sig) != SignatureLength {
		return xerrors.Errorf("bad signature length %d: %w", len(sig), ErrSignatureMismatch)
	}

	pubk, err := gocrypto.SigToPub(digest, sig)
	if err != nil {
		return xerrors.Errorf("recovering signer: %w", err)
	}

	if gocrypto.PubkeyToAddress(*pubk) != addr {
		return ErrSignatureMismatch
	}

	return nil
}

// PeerKey converts a ledger key into the libp2p identity key of the same node,
// so that a peer ID always maps back to exactly one ledger address.
func PeerKey(key *ecdsa.PrivateKey) (p2pcrypto.PrivKey, error) {
	return p2pcrypto.UnmarshalSecp256k1PrivateKey(gocrypto.FromECDSA(key))
}

// PeerID returns the peer ID derived from a ledger key.
func PeerID(key *ecdsa.PrivateKey) (peer.ID, error) {
	pk, err := PeerKey(key)
	if err != nil {
		return "", err
	}
	return peer.IDFromPrivateKey(pk)
}

// PeerAddress extracts the secp256k1 key embedded in a peer ID and returns its
// ledger address.
func PeerAddress(id peer.ID) (common.Address, error) {
	pub, err := id.ExtractPublicKey()
	if err != nil {
		return common.Address{}, xerrors.Errorf("extracting public key from %s: %w", id, err)
	}
	if pub.Type() != p2pcrypto.Secp256k1 {
		return common.Address{}, xerrors.Errorf("peer %s has a %s key, expected secp256k1", id, pub.Type())
	}

	raw, err := pub.Raw()
	if err != nil {
		return common.Address{}, err
	}

	epub, err := gocrypto.DecompressPubkey(raw)
	if err != nil {
		return common.Address{}, xerrors.Errorf("decompressing key of %s: %w", id, err)
	}

	return gocrypto.PubkeyToAddress(*epub), nil
}

// AddressBook caches peer ID to address lookups.
type AddressBook struct {
	cache *lru.Cache[peer.ID, common.Address]
}

func NewAddressBook(size int) (*AddressBook, error) {
	c, err := lru.New[peer.ID, common.Address](size)
	if err != nil {
		return nil, err
	}
	return &AddressBook{cache: c}, nil
}

func (ab *AddressBook) Lookup(id peer.ID) (common.Address, error) {
	if a, ok := ab.cache.Get(id); ok {
		return a, nil
	}

	a, err := PeerAddress(id)
	if err != nil {
		return common.Address{}, err
	}

	ab.cache.Add(id, a)
	return a, nil
}
