// Package merkle implements the commitment and possession-proof scheme used to
// audit leased blobs.
//
// A blob is split into fixed-size chunks; the last chunk is zero-padded up to
// the chunk size. Each chunk is hashed with keccak-256 to form a leaf and the
// tree is built bottom-up with parent = keccak256(left || right). When a level
// has an odd number of nodes its last node is duplicated, so the final node of
// that level is paired with itself. This duplication rule is part of the wire
// protocol: both Commit/Prove and Verify depend on it.
package merkle

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"
)

// DefaultChunkSize is the chunk size used by nodes unless configured otherwise.
const DefaultChunkSize = 544

// HashSize is the size of every node in the tree.
const HashSize = 32

var (
	ErrEmptyBlob        = errors.New("empty blob")
	ErrIndexOutOfRange  = errors.New("leaf index out of range")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
)

// Hash is a keccak-256 tree node.
type Hash [HashSize]byte

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(strings.TrimPrefix(string(text), "0x"))
	if err != nil {
		return xerrors.Errorf("decoding merkle hash: %w", err)
	}
	if len(b) != HashSize {
		return xerrors.Errorf("merkle hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return nil
}

// Proof is the possession proof for a single leaf: the raw chunk and the
// sibling hashes from the leaf level up to (not including) the root.
type Proof struct {
	BlockData []byte
	Siblings  []Hash
}

// NewProof rebuilds a proof from its wire form.
func NewProof(blockData []byte, siblings [][]byte) (*Proof, error) {
	p := &Proof{BlockData: blockData, Siblings: make([]Hash, len(siblings))}
	for i, s := range siblings {
		if len(s) != HashSize {
			return nil, xerrors.Errorf("sibling %d: expected %d bytes, got %d", i, HashSize, len(s))
		}
		copy(p.Siblings[i][:], s)
	}
	return p, nil
}

// SiblingBytes returns the sibling path in wire form.
func (p *Proof) SiblingBytes() [][]byte {
	out := make([][]byte, len(p.Siblings))
	for i := range p.Siblings {
		out[i] = append([]byte(nil), p.Siblings[i][:]...)
	}
	return out
}

// ChunkCount returns the number of leaves for a blob of the given size.
func ChunkCount(size, chunkSize uint64) uint64 {
	if chunkSize == 0 {
		return 0
	}
	return (size + chunkSize - 1) / chunkSize
}

// Commit returns the merkle root of blob and its number of chunks.
func Commit(blob []byte, chunkSize uint64) (Hash, uint64, error) {
	leaves, err := leafHashes(blob, chunkSize)
	if err != nil {
		return Hash{}, 0, err
	}

	level := leaves
	for len(level) > 1 {
		level = parentLevel(level)
	}
	return level[0], uint64(len(leaves)), nil
}

// Prove builds the proof for the leaf at index.
func Prove(blob []byte, chunkSize uint64, index uint64) (*Proof, error) {
	leaves, err := leafHashes(blob, chunkSize)
	if err != nil {
		return nil, err
	}
	if index >= uint64(len(leaves)) {
		return nil, xerrors.Errorf("leaf %d of %d: %w", index, len(leaves), ErrIndexOutOfRange)
	}

	proof := &Proof{BlockData: chunk(blob, chunkSize, index)}

	pos := index
	level := leaves
	for len(level) > 1 {
		sibling := pos ^ 1
		if sibling >= uint64(len(level)) {
			// odd width: the last node is paired with its own copy
			sibling = pos
		}
		proof.Siblings = append(proof.Siblings, level[sibling])

		level = parentLevel(level)
		pos /= 2
	}

	return proof, nil
}

// Depth returns the length of the sibling path for a tree of count leaves.
func Depth(count uint64) int {
	d := 0
	for w := count; w > 1; w = (w + 1) / 2 {
		d++
	}
	return d
}

// Verify checks that chunk is the leaf at index of the tree of count leaves
// committed to by root. The sibling path must be exactly Depth(count) long. At
// each level the bit of index decides the side: a 0 bit means the running hash
// is the left child, a 1 bit means it is the right child.
func Verify(root Hash, count, index uint64, chunk []byte, proof *Proof) bool {
	if proof == nil || index >= count {
		return false
	}
	if len(proof.Siblings) != Depth(count) {
		return false
	}

	cur := hashLeaf(chunk)
	pos := index
	for _, sib := range proof.Siblings {
		if pos&1 == 0 {
			cur = hashPair(cur, sib)
		} else {
			cur = hashPair(sib, cur)
		}
		pos >>= 1
	}

	return bytes.Equal(cur[:], root[:])
}

func leafHashes(blob []byte, chunkSize uint64) ([]Hash, error) {
	if chunkSize == 0 {
		return nil, ErrInvalidChunkSize
	}
	if len(blob) == 0 {
		return nil, ErrEmptyBlob
	}

	n := ChunkCount(uint64(len(blob)), chunkSize)
	leaves := make([]Hash, n)
	for i := uint64(0); i < n; i++ {
		leaves[i] = hashLeaf(chunk(blob, chunkSize, i))
	}
	return leaves, nil
}

// chunk returns the i-th chunk of blob, zero-padded to chunkSize.
func chunk(blob []byte, chunkSize uint64, i uint64) []byte {
	start := i * chunkSize
	end := start + chunkSize
	out := make([]byte, chunkSize)
	if end > uint64(len(blob)) {
		end = uint64(len(blob))
	}
	copy(out, blob[start:end])
	return out
}

func parentLevel(level []Hash) []Hash {
	out := make([]Hash, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		right := level[i]
		if i+1 < len(level) {
			right = level[i+1]
		}
		out = append(out, hashPair(level[i], right))
	}
	return out
}

func hashLeaf(data []byte) Hash {
	var out Hash
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	h.Sum(out[:0])
	return out
}

func hashPair(left, right Hash) Hash {
	var out Hash
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(left[:])
	_, _ = h.Write(right[:])
	h.Sum(out[:0])
	return out
}
