// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package storage provides the durable key-value layer backing the DAG:
// vertices, their parent/child adjacency, metadata, checkpointed quorum
// certificates, and secondary indices, all stored in a single
// github.com/cockroachdb/pebble instance under key-space prefixes (pebble
// has no native column families, so each "family" the data model calls for
// is a byte-prefixed keyspace — the same flattening the teacher's
// crypto/database.Database interface assumes of its backing store).
package storage

import (
	"encoding/binary"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/consensus/cryptopq/sig"
	"github.com/luxfi/consensus/vertex"
)

// Column family key prefixes.
var (
	prefixVertex     = []byte{0x01}
	prefixParents    = []byte{0x02}
	prefixChildren   = []byte{0x03}
	prefixMetadata   = []byte{0x04}
	prefixCheckpoint = []byte{0x05}
	prefixByAgent    = []byte{0x06}
	prefixByHeight   = []byte{0x07}
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("storage: not found")

// VertexMetadata records per-vertex bookkeeping not carried on the wire.
type VertexMetadata struct {
	Height     uint64
	Finalized  bool
	ReceivedAt int64
}

// Metrics holds the Prometheus collectors storage operations update.
type Metrics struct {
	opsTotal      *prometheus.CounterVec
	opLatency     *prometheus.HistogramVec
	compactions   prometheus.Counter
	storageBytes  prometheus.Gauge
}

// NewMetrics registers storage's collectors against reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "storage",
			Name:      "ops_total",
			Help:      "Count of storage operations by kind.",
		}, []string{"op"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "consensus",
			Subsystem: "storage",
			Name:      "op_latency_seconds",
			Help:      "Latency of storage operations by kind.",
		}, []string{"op"}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "consensus",
			Subsystem: "storage",
			Name:      "compactions_total",
			Help:      "Count of pruning compaction events.",
		}),
		storageBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "consensus",
			Subsystem: "storage",
			Name:      "bytes",
			Help:      "Approximate on-disk size of the store.",
		}),
	}
	for _, c := range []prometheus.Collector{m.opsTotal, m.opLatency, m.compactions, m.storageBytes} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "storage: register metric")
		}
	}
	return m, nil
}

// Store is the durable vertex store.
type Store struct {
	db      *pebble.DB
	metrics *Metrics
}

// Open opens (creating if absent) a Store rooted at dir.
func Open(dir string, metrics *Metrics) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "storage: open pebble")
	}
	return &Store{db: db, metrics: metrics}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) observe(op string) func() {
	if s.metrics == nil {
		return func() {}
	}
	s.metrics.opsTotal.WithLabelValues(op).Inc()
	timer := prometheus.NewTimer(s.metrics.opLatency.WithLabelValues(op))
	return func() { timer.ObserveDuration() }
}

// Put writes a vertex and all of its derived index entries atomically: the
// vertex body, the parents list, the children back-references, metadata,
// and the agent_id/height secondary indices.
func (s *Store) Put(v *vertex.Vertex, meta VertexMetadata) error {
	defer s.observe("put")()

	batch := s.db.NewBatch()
	defer batch.Close()

	id := v.ID()
	if err := batch.Set(vertexKey(id), encodeVertex(v), nil); err != nil {
		return errors.Wrap(err, "storage: stage vertex")
	}
	if err := batch.Set(parentsKey(id), encodeIDs(v.Parents()), nil); err != nil {
		return errors.Wrap(err, "storage: stage parents")
	}
	for _, p := range v.Parents() {
		childrenKey := childrenKey(p)
		existing, closer, err := s.db.Get(childrenKey)
		var children []vertex.ID
		if err == nil {
			children = decodeIDs(existing)
			_ = closer.Close()
		} else if !errors.Is(err, pebble.ErrNotFound) {
			return errors.Wrap(err, "storage: read children")
		}
		children = append(children, id)
		if err := batch.Set(childrenKey, encodeIDs(children), nil); err != nil {
			return errors.Wrap(err, "storage: stage children")
		}
	}
	if err := batch.Set(metadataKey(id), encodeMetadata(meta), nil); err != nil {
		return errors.Wrap(err, "storage: stage metadata")
	}
	if err := batch.Set(byAgentKey(v.AgentID(), id), nil, nil); err != nil {
		return errors.Wrap(err, "storage: stage agent index")
	}
	if err := batch.Set(byHeightKey(meta.Height, id), nil, nil); err != nil {
		return errors.Wrap(err, "storage: stage height index")
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "storage: commit batch")
	}
	return nil
}

// Get reads a vertex by id.
func (s *Store) Get(id vertex.ID) (*vertex.Vertex, error) {
	defer s.observe("get")()

	value, closer, err := s.db.Get(vertexKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: get vertex")
	}
	defer closer.Close()

	parentsRaw, parentsCloser, err := s.db.Get(parentsKey(id))
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Wrap(err, "storage: get parents")
	}
	var parents []vertex.ID
	if err == nil {
		parents = decodeIDs(parentsRaw)
		_ = parentsCloser.Close()
	}

	return decodeVertex(id, value, parents)
}

// Metadata reads the per-vertex metadata record for id.
func (s *Store) Metadata(id vertex.ID) (VertexMetadata, error) {
	defer s.observe("metadata")()

	value, closer, err := s.db.Get(metadataKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return VertexMetadata{}, ErrNotFound
	}
	if err != nil {
		return VertexMetadata{}, errors.Wrap(err, "storage: get metadata")
	}
	defer closer.Close()
	return decodeMetadata(value), nil
}

// PutCheckpoint records the committed quorum certificate for sequence s.
func (s *Store) PutCheckpoint(sequence uint64, certificate []byte) error {
	defer s.observe("put_checkpoint")()

	var key [1 + 8]byte
	copy(key[:1], prefixCheckpoint)
	binary.BigEndian.PutUint64(key[1:], sequence)
	if err := s.db.Set(key[:], certificate, pebble.Sync); err != nil {
		return errors.Wrap(err, "storage: put checkpoint")
	}
	return nil
}

// Checkpoint reads the committed quorum certificate for sequence s.
func (s *Store) Checkpoint(sequence uint64) ([]byte, error) {
	defer s.observe("checkpoint")()

	var key [1 + 8]byte
	copy(key[:1], prefixCheckpoint)
	binary.BigEndian.PutUint64(key[1:], sequence)
	value, closer, err := s.db.Get(key[:])
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "storage: get checkpoint")
	}
	defer closer.Close()
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// DeleteBatch atomically removes the vertex, parents, children, and
// metadata records for every id in ids; checkpoint records and the
// agent_id/height index entries stay in place. It does not remove children
// back-references pointing at the deleted ids from vertices above the
// watermark, since those remain valid ancestry pointers for an id whose
// body has been compacted away — lookups through Get simply fail with
// ErrNotFound for anything already pruned.
func (s *Store) DeleteBatch(ids []vertex.ID) error {
	defer s.observe("delete_batch")()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, id := range ids {
		if err := batch.Delete(vertexKey(id), nil); err != nil {
			return errors.Wrap(err, "storage: stage vertex delete")
		}
		if err := batch.Delete(parentsKey(id), nil); err != nil {
			return errors.Wrap(err, "storage: stage parents delete")
		}
		if err := batch.Delete(childrenKey(id), nil); err != nil {
			return errors.Wrap(err, "storage: stage children delete")
		}
		if err := batch.Delete(metadataKey(id), nil); err != nil {
			return errors.Wrap(err, "storage: stage metadata delete")
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "storage: commit delete batch")
	}
	return nil
}

// ByAgent returns every vertex id created by agentID, ordered by id bytes
// (the index key order) rather than by insertion.
func (s *Store) ByAgent(agentID string) ([]vertex.ID, error) {
	defer s.observe("by_agent")()

	prefix := append(append([]byte{}, prefixByAgent...), []byte(agentID)...)
	prefix = append(prefix, 0x00)
	return s.scanIDSuffixes(prefix)
}

// ByHeight returns every vertex id recorded at height.
func (s *Store) ByHeight(height uint64) ([]vertex.ID, error) {
	defer s.observe("by_height")()

	var prefix [1 + 8]byte
	copy(prefix[:1], prefixByHeight)
	binary.BigEndian.PutUint64(prefix[1:], height)
	return s.scanIDSuffixes(prefix[:])
}

func (s *Store) scanIDSuffixes(prefix []byte) ([]vertex.ID, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, errors.Wrap(err, "storage: new iterator")
	}
	defer iter.Close()

	var out []vertex.ID
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		var id vertex.ID
		copy(id[:], key[len(key)-len(id):])
		out = append(out, id)
	}
	return out, iter.Error()
}

// Snapshot returns a consistent, point-in-time read handle. Callers must
// close it when done.
func (s *Store) Snapshot() *pebble.Snapshot {
	return s.db.NewSnapshot()
}

// ApproximateSize returns the estimated on-disk size in bytes and updates
// the storageBytes gauge.
func (s *Store) ApproximateSize() (uint64, error) {
	metrics := s.db.Metrics()
	size := metrics.DiskSpaceUsage()
	if s.metrics != nil {
		s.metrics.storageBytes.Set(float64(size))
	}
	return size, nil
}

func vertexKey(id vertex.ID) []byte     { return append(append([]byte{}, prefixVertex...), id[:]...) }
func parentsKey(id vertex.ID) []byte    { return append(append([]byte{}, prefixParents...), id[:]...) }
func childrenKey(id vertex.ID) []byte   { return append(append([]byte{}, prefixChildren...), id[:]...) }
func metadataKey(id vertex.ID) []byte   { return append(append([]byte{}, prefixMetadata...), id[:]...) }

func byAgentKey(agentID string, id vertex.ID) []byte {
	key := append(append([]byte{}, prefixByAgent...), []byte(agentID)...)
	key = append(key, 0x00)
	return append(key, id[:]...)
}

func byHeightKey(height uint64, id vertex.ID) []byte {
	var prefix [1 + 8]byte
	copy(prefix[:1], prefixByHeight)
	binary.BigEndian.PutUint64(prefix[1:], height)
	return append(prefix[:], id[:]...)
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

func encodeIDs(ids []vertex.ID) []byte {
	out := make([]byte, 0, len(ids)*len(vertex.ID{}))
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

func decodeIDs(raw []byte) []vertex.ID {
	var width int
	var zero vertex.ID
	width = len(zero)
	if width == 0 || len(raw)%width != 0 {
		return nil
	}
	out := make([]vertex.ID, 0, len(raw)/width)
	for i := 0; i < len(raw); i += width {
		var id vertex.ID
		copy(id[:], raw[i:i+width])
		out = append(out, id)
	}
	return out
}

func encodeMetadata(m VertexMetadata) []byte {
	buf := make([]byte, 17)
	binary.BigEndian.PutUint64(buf[0:8], m.Height)
	if m.Finalized {
		buf[8] = 1
	}
	binary.BigEndian.PutUint64(buf[9:17], uint64(m.ReceivedAt))
	return buf
}

func decodeMetadata(raw []byte) VertexMetadata {
	if len(raw) < 17 {
		return VertexMetadata{}
	}
	return VertexMetadata{
		Height:     binary.BigEndian.Uint64(raw[0:8]),
		Finalized:  raw[8] == 1,
		ReceivedAt: int64(binary.BigEndian.Uint64(raw[9:17])),
	}
}

// encodeVertex serializes every field of v needed to reconstruct it
// (parents are stored separately via parentsKey and threaded back in by
// decodeVertex, since Put also needs them for the children index).
func encodeVertex(v *vertex.Vertex) []byte {
	agentID := []byte(v.AgentID())
	payload := v.Payload()
	signature := []byte(v.Signature())
	publicKey := []byte(v.PublicKey())

	buf := make([]byte, 0, 4+len(agentID)+8+4+len(payload)+4+len(signature)+4+len(publicKey))
	buf = appendLP(buf, agentID)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(v.Timestamp()))
	buf = append(buf, ts[:]...)

	buf = appendLP(buf, payload)
	buf = appendLP(buf, signature)
	buf = appendLP(buf, publicKey)
	return buf
}

func decodeVertex(id vertex.ID, raw []byte, parents []vertex.ID) (*vertex.Vertex, error) {
	agentID, rest, err := readLP(raw)
	if err != nil {
		return nil, errors.Wrap(err, "storage: decode agent_id")
	}
	if len(rest) < 8 {
		return nil, errors.New("storage: truncated vertex record")
	}
	timestamp := int64(binary.BigEndian.Uint64(rest[:8]))
	rest = rest[8:]

	payload, rest, err := readLP(rest)
	if err != nil {
		return nil, errors.Wrap(err, "storage: decode payload")
	}
	signature, rest, err := readLP(rest)
	if err != nil {
		return nil, errors.Wrap(err, "storage: decode signature")
	}
	publicKey, _, err := readLP(rest)
	if err != nil {
		return nil, errors.Wrap(err, "storage: decode public_key")
	}

	return vertex.FromParts(id, string(agentID), parents, payload, timestamp, sig.Signature(signature), sig.PublicKey(publicKey)), nil
}

func appendLP(buf, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	buf = append(buf, length[:]...)
	return append(buf, field...)
}

func readLP(buf []byte) ([]byte, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, errors.New("storage: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return nil, nil, errors.New("storage: truncated field")
	}
	return buf[:n], buf[n:], nil
}

// SortedHeights is a helper for callers that want a deterministic iteration
// order over a set of heights (e.g. pruning, backup).
func SortedHeights(heights map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(heights))
	for h := range heights {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
