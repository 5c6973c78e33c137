// Package merkle computes the domain Merkle root of an artifact: a binary
// keccak256 tree over 8-byte words, padded with pristine (all-zero) subtrees
// up to 2^log2Size bytes.
package merkle

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// WordLog2Size is the log2 of the leaf word size.
	WordLog2Size = 3
	// WordSize is the leaf word size in bytes.
	WordSize = 1 << WordLog2Size
	// MaxLog2Size bounds the tree height.
	MaxLog2Size = 63
)

var ErrTooLarge = errors.New("merkle: data does not fit in tree")

// Log2Size returns the smallest tree size that holds n bytes, never below one word.
func Log2Size(n int64) int {
	if n <= WordSize {
		return WordLog2Size
	}
	return bits.Len64(uint64(n - 1))
}

// PristineHashes returns the roots of all-zero subtrees, indexed by height above
// the word level: h[0] is a zero word's hash, h[k] covers 2^(k+3) bytes.
func PristineHashes(log2Size int) [][]byte {
	height := log2Size - WordLog2Size
	h := make([][]byte, height+1)
	h[0] = crypto.Keccak256(make([]byte, WordSize))
	for i := 1; i <= height; i++ {
		h[i] = crypto.Keccak256(h[i-1], h[i-1])
	}
	return h
}

// RootHash returns the Merkle root of data inside a tree of 2^log2Size bytes.
func RootHash(data []byte, log2Size int) ([]byte, error) {
	if log2Size < WordLog2Size || log2Size > MaxLog2Size {
		return nil, fmt.Errorf("merkle: log2 size %d out of range [%d, %d]", log2Size, WordLog2Size, MaxLog2Size)
	}
	if uint64(len(data)) > uint64(1)<<uint(log2Size) {
		return nil, fmt.Errorf("%w: %d bytes, log2 size %d", ErrTooLarge, len(data), log2Size)
	}

	pristine := PristineHashes(log2Size)
	words := (len(data) + WordSize - 1) / WordSize
	if words == 0 {
		return pristine[len(pristine)-1], nil
	}

	level := make([][]byte, words)
	for i := range level {
		word := make([]byte, WordSize)
		copy(word, data[i*WordSize:])
		level[i] = crypto.Keccak256(word)
	}

	for h := 0; h < log2Size-WordLog2Size; h++ {
		next := make([][]byte, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := pristine[h]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = crypto.Keccak256(level[i], right)
		}
		level = next
	}
	return level[0], nil
}
