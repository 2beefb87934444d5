// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package hash provides the BLAKE3 content-addressing primitives used
// throughout the consensus core: vertex ids, quorum certificate digests and
// keyed MACs all derive from this package.
package hash

import (
	"runtime"
	"sync"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a hash digest.
const Size = 32

// Digest is a 32-byte BLAKE3 output.
type Digest [Size]byte

// IsZero reports whether d is the all-zero digest (used for the genesis
// parent sentinel).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Bytes returns a copy of d's underlying bytes.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// Hash returns the unkeyed BLAKE3 digest of b. Hashing is total: it never
// fails.
func Hash(b []byte) Digest {
	var d Digest
	sum := blake3.Sum256(b)
	copy(d[:], sum[:])
	return d
}

// KeyedHash returns the BLAKE3 digest of b under key, for MAC-like uses
// (e.g. binding evidence records to a peer-local secret).
func KeyedHash(key [Size]byte, b []byte) Digest {
	h := blake3.NewKeyed(key[:])
	_, _ = h.Write(b)
	var d Digest
	h.Sum(d[:0])
	return d
}

// minSIMDBatch is the smallest batch size for which spinning up parallel
// workers pays for itself; below it we hash sequentially in the caller's
// goroutine.
const minSIMDBatch = 8

// BatchHash hashes each item in items independently and returns the digests
// in the same order. For k inputs of comparable length this fans the work
// out across GOMAXPROCS workers; for small batches it degrades to
// sequential hashing so the overhead of spawning goroutines is not paid on
// the common single-vertex case.
func BatchHash(items [][]byte) []Digest {
	out := make([]Digest, len(items))
	if len(items) < minSIMDBatch {
		for i, item := range items {
			out[i] = Hash(item)
		}
		return out
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(items) {
		workers = len(items)
	}

	var wg sync.WaitGroup
	chunk := (len(items) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(items) {
			break
		}
		end := start + chunk
		if end > len(items) {
			end = len(items)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = Hash(items[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}
