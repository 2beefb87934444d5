// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package identity

import (
	"encoding/binary"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/luxfi/ids"

	"github.com/luxfi/consensus/cryptopq/sig"
)

func unixNano(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// prefixKeyring namespaces every key this package writes, the same
// byte-prefixed keyspace flattening storage.Store uses for its column
// families, so a Store can share a single pebble instance with the vertex
// store without key collisions.
var prefixKeyring = []byte{0x10}

// Store persists a node's keyring: one record per (node, generation).
type Store struct {
	db *pebble.DB
	// owned reports whether Close should close db (true when Open created
	// it; false when NewStoreOver was handed an externally-owned handle).
	owned bool
}

// Open opens (creating if absent) a Store rooted at dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "identity: open pebble")
	}
	return &Store{db: db, owned: true}, nil
}

// NewStoreOver returns a Store that writes into an already-open pebble
// handle under this package's key prefix, for callers that want the
// keyring and the vertex store to share one database file.
func NewStoreOver(db *pebble.DB) *Store {
	return &Store{db: db, owned: false}
}

// Close releases the underlying database handle, if this Store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Put writes k as node's current generation.
func (s *Store) Put(node ids.NodeID, k Keypair) error {
	key := generationKey(node, k.Generation)
	if err := s.db.Set(key, encodeKeypair(k), pebble.Sync); err != nil {
		return errors.Wrap(err, "identity: put keypair")
	}
	return nil
}

// Retire overwrites the stored record for k's generation with its retired
// form (RetiredAt set).
func (s *Store) Retire(node ids.NodeID, k Keypair) error {
	return s.Put(node, k)
}

// Load returns every generation on record for node, oldest first.
func (s *Store) Load(node ids.NodeID) ([]Keypair, error) {
	prefix := nodePrefix(node)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "identity: new iterator")
	}
	defer iter.Close()

	var out []Keypair
	for iter.First(); iter.Valid(); iter.Next() {
		k, err := decodeKeypair(iter.Value())
		if err != nil {
			return nil, errors.Wrap(err, "identity: decode keypair")
		}
		out = append(out, k)
	}
	return out, iter.Error()
}

func nodePrefix(node ids.NodeID) []byte {
	key := append(append([]byte{}, prefixKeyring...), []byte(node.String())...)
	return append(key, 0x00)
}

func generationKey(node ids.NodeID, generation uint64) []byte {
	prefix := nodePrefix(node)
	var gen [8]byte
	binary.BigEndian.PutUint64(gen[:], generation)
	return append(prefix, gen[:]...)
}

func upperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// encodeKeypair serializes a Keypair as:
//
//	generation(8) createdAt(8) retiredAt(8) len(sk)(4) sk len(pk)(4) pk
func encodeKeypair(k Keypair) []byte {
	buf := make([]byte, 0, 28+len(k.PrivateKey)+len(k.PublicKey))
	var gen, created, retired [8]byte
	binary.BigEndian.PutUint64(gen[:], k.Generation)
	binary.BigEndian.PutUint64(created[:], uint64(k.CreatedAt.UnixNano()))
	var retiredNanos int64
	if !k.RetiredAt.IsZero() {
		retiredNanos = k.RetiredAt.UnixNano()
	}
	binary.BigEndian.PutUint64(retired[:], uint64(retiredNanos))

	buf = append(buf, gen[:]...)
	buf = append(buf, created[:]...)
	buf = append(buf, retired[:]...)
	buf = appendLP(buf, k.PrivateKey)
	buf = appendLP(buf, k.PublicKey)
	return buf
}

func decodeKeypair(raw []byte) (Keypair, error) {
	if len(raw) < 24 {
		return Keypair{}, errors.New("identity: truncated keypair record")
	}
	generation := binary.BigEndian.Uint64(raw[0:8])
	createdNanos := int64(binary.BigEndian.Uint64(raw[8:16]))
	retiredNanos := int64(binary.BigEndian.Uint64(raw[16:24]))
	rest := raw[24:]

	sk, rest, err := readLP(rest)
	if err != nil {
		return Keypair{}, errors.Wrap(err, "identity: decode private key")
	}
	pk, _, err := readLP(rest)
	if err != nil {
		return Keypair{}, errors.Wrap(err, "identity: decode public key")
	}

	k := Keypair{
		Generation: generation,
		PrivateKey: sig.PrivateKey(sk),
		PublicKey:  sig.PublicKey(pk),
		CreatedAt:  unixNano(createdNanos),
	}
	if retiredNanos != 0 {
		k.RetiredAt = unixNano(retiredNanos)
	}
	return k, nil
}

func appendLP(buf, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	buf = append(buf, length[:]...)
	return append(buf, field...)
}

func readLP(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, errors.New("identity: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, errors.New("identity: truncated field")
	}
	return buf[:n], buf[n:], nil
}
