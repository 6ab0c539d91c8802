package graph

import (
	"errors"
	"sort"
	"sync"
)

// ErrWriteInProgress is returned by BeginWrite when another WriteTxn is
// still live — spec §4.7: "at most one live write transaction per
// database."
var ErrWriteInProgress = errors.New("graph: a write transaction is already in progress")

// Run is the append-only segment a single committed WriteTxn contributes
// (spec §3 "Lifecycles"). Runs are never mutated after they are appended to
// a Store, and the run list only grows: no compaction merges it.
type Run struct {
	generation uint64

	nodePuts       map[InternalNodeId]*NodeRecord
	nodeTombstones map[InternalNodeId]struct{}

	edgePuts       map[EdgeKey]*EdgeRecord
	edgeTombstones map[EdgeKey]struct{}

	touchedBySrc map[InternalNodeId][]EdgeKey
	touchedByDst map[InternalNodeId][]EdgeKey
}

// NewRun allocates an empty run for the given generation. Used by
// pkg/txn to stage a WriteTxn's overlay before it is committed.
func NewRun(generation uint64) *Run {
	return &Run{
		generation:     generation,
		nodePuts:       make(map[InternalNodeId]*NodeRecord),
		nodeTombstones: make(map[InternalNodeId]struct{}),
		edgePuts:       make(map[EdgeKey]*EdgeRecord),
		edgeTombstones: make(map[EdgeKey]struct{}),
		touchedBySrc:   make(map[InternalNodeId][]EdgeKey),
		touchedByDst:   make(map[InternalNodeId][]EdgeKey),
	}
}

func (r *Run) touchEdge(key EdgeKey) {
	r.touchedBySrc[key.Src] = append(r.touchedBySrc[key.Src], key)
	r.touchedByDst[key.Dst] = append(r.touchedByDst[key.Dst], key)
}

// PutNode stages rec as the current version of its id within this run,
// clearing any prior tombstone for the same id staged in this same run.
func (r *Run) PutNode(rec *NodeRecord) {
	delete(r.nodeTombstones, rec.ID)
	r.nodePuts[rec.ID] = rec
}

// TombstoneNode stages id as removed within this run.
func (r *Run) TombstoneNode(id InternalNodeId) {
	delete(r.nodePuts, id)
	r.nodeTombstones[id] = struct{}{}
}

// PutEdge stages rec as the current version of its key within this run.
func (r *Run) PutEdge(rec *EdgeRecord) {
	delete(r.edgeTombstones, rec.Key)
	r.edgePuts[rec.Key] = rec
	r.touchEdge(rec.Key)
}

// TombstoneEdge stages key as removed within this run.
func (r *Run) TombstoneEdge(key EdgeKey) {
	delete(r.edgePuts, key)
	r.edgeTombstones[key] = struct{}{}
	r.touchEdge(key)
}

// NodeByID looks up a node staged within this single run only (no merge
// with other runs) — used while a WriteTxn is assembling its overlay and
// needs to read back what it has itself staged so far.
func (r *Run) NodeByID(id InternalNodeId) (*NodeRecord, bool, bool) {
	if rec, ok := r.nodePuts[id]; ok {
		return rec, true, false
	}
	_, tomb := r.nodeTombstones[id]
	return nil, false, tomb
}

// EdgeByKey mirrors NodeByID for edges.
func (r *Run) EdgeByKey(key EdgeKey) (*EdgeRecord, bool, bool) {
	if rec, ok := r.edgePuts[key]; ok {
		return rec, true, false
	}
	_, tomb := r.edgeTombstones[key]
	return nil, false, tomb
}

// NodePuts returns a copy of the nodes staged (put) within this run, for
// callers that need every node id the run currently stages rather than a
// single-id lookup (e.g. a WriteTxn enumerating all nodes visible to it).
func (r *Run) NodePuts() map[InternalNodeId]*NodeRecord {
	out := make(map[InternalNodeId]*NodeRecord, len(r.nodePuts))
	for k, v := range r.nodePuts {
		out[k] = v
	}
	return out
}

// PutEdges returns a copy of the edges staged (put) within this run, for
// callers — e.g. a WriteTxn merging its own overlay into an adjacency
// query — that need every edge the run currently stages rather than a
// single-key lookup.
func (r *Run) PutEdges() map[EdgeKey]*EdgeRecord {
	out := make(map[EdgeKey]*EdgeRecord, len(r.edgePuts))
	for k, v := range r.edgePuts {
		out[k] = v
	}
	return out
}

// Store owns the committed graph: the label/rel-type dictionaries and the
// ordered list of runs produced by committed WriteTxns.
type Store struct {
	mu sync.RWMutex

	generation uint64
	nextNodeID InternalNodeId

	labels   *Dictionary
	relTypes *Dictionary

	runs []*Run

	writeMu sync.Mutex
}

// NewStore returns an empty graph store at generation 0.
func NewStore() *Store {
	return &Store{
		labels:   NewDictionary(),
		relTypes: NewDictionary(),
	}
}

// Snapshot captures a frozen, consistent view: the dictionaries as of now
// (dictionaries only grow and ids are never reused, so a stale read is
// still correct — spec §3) and the run list up to the current generation.
// Because runs is append-only and Store never mutates a run in place,
// holding this slice header is sufficient to pin the view even as later
// commits extend runs.
type Snapshot struct {
	store      *Store
	generation uint64
	runs       []*Run
	labels     *Dictionary
	relTypes   *Dictionary
}

// Snapshot returns a new frozen read view of the store's current state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &Snapshot{
		store:      s,
		generation: s.generation,
		runs:       s.runs,
		labels:     s.labels,
		relTypes:   s.relTypes,
	}
}

// Generation reports the snapshot's base generation.
func (snap *Snapshot) Generation() uint64 { return snap.generation }

// LabelName resolves a label id to its interned name.
func (snap *Snapshot) LabelName(id LabelID) (string, bool) {
	return snap.labels.Name(uint32(id))
}

// LabelID resolves an interned label name to its id.
func (snap *Snapshot) LabelID(name string) (LabelID, bool) {
	id, ok := snap.labels.ID(name)
	return LabelID(id), ok
}

// RelTypeName resolves a relationship-type id to its interned name.
func (snap *Snapshot) RelTypeName(id RelTypeID) (string, bool) {
	return snap.relTypes.Name(uint32(id))
}

// RelTypeID resolves an interned relationship-type name to its id.
func (snap *Snapshot) RelTypeID(name string) (RelTypeID, bool) {
	id, ok := snap.relTypes.ID(name)
	return RelTypeID(id), ok
}

// LabelCount reports how many labels are interned as of this snapshot, so
// a caller can enumerate every name via LabelName(0)..LabelName(n-1) in
// assignment order (used by the persistence layer to serialize the
// dictionary without a direct handle on the underlying Dictionary).
func (snap *Snapshot) LabelCount() int { return snap.labels.Len() }

// RelTypeCount mirrors LabelCount for relationship types.
func (snap *Snapshot) RelTypeCount() int { return snap.relTypes.Len() }

// Node looks up a node by id, merging runs newest-first and short-circuiting
// on a tombstone (spec §4.7).
func (snap *Snapshot) Node(id InternalNodeId) (*NodeRecord, bool) {
	for i := len(snap.runs) - 1; i >= 0; i-- {
		r := snap.runs[i]
		if rec, ok := r.nodePuts[id]; ok {
			return rec, true
		}
		if _, tomb := r.nodeTombstones[id]; tomb {
			return nil, false
		}
	}
	return nil, false
}

// Edge looks up an edge by key, merging runs newest-first.
func (snap *Snapshot) Edge(key EdgeKey) (*EdgeRecord, bool) {
	for i := len(snap.runs) - 1; i >= 0; i-- {
		r := snap.runs[i]
		if rec, ok := r.edgePuts[key]; ok {
			return rec, true
		}
		if _, tomb := r.edgeTombstones[key]; tomb {
			return nil, false
		}
	}
	return nil, false
}

// AllNodeIDs enumerates every live (non-tombstoned) node id across all
// runs, ascending, for use by the Scan operator.
func (snap *Snapshot) AllNodeIDs() []InternalNodeId {
	resolved := make(map[InternalNodeId]bool)
	var out []InternalNodeId
	for i := len(snap.runs) - 1; i >= 0; i-- {
		r := snap.runs[i]
		for id := range r.nodePuts {
			if resolved[id] {
				continue
			}
			resolved[id] = true
			out = append(out, id)
		}
		for id := range r.nodeTombstones {
			resolved[id] = true
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EdgesFrom enumerates live edges with the given source, optionally
// filtered to a single relationship type (spec §4.7 "edge enumeration by
// (src, rel?)").
func (snap *Snapshot) EdgesFrom(src InternalNodeId, rel *RelTypeID) []*EdgeRecord {
	return snap.edgesByAdjacency(src, rel, func(r *Run) map[InternalNodeId][]EdgeKey { return r.touchedBySrc })
}

// EdgesTo enumerates live edges with the given destination, optionally
// filtered to a single relationship type — the mirror of EdgesFrom used by
// the physical Expand and VarLengthExpand operators for incoming and
// undirected steps.
func (snap *Snapshot) EdgesTo(dst InternalNodeId, rel *RelTypeID) []*EdgeRecord {
	return snap.edgesByAdjacency(dst, rel, func(r *Run) map[InternalNodeId][]EdgeKey { return r.touchedByDst })
}

// AcquireWriter enforces the single-live-writer rule (spec §4.7): it
// succeeds at most once until the matching ReleaseWriter.
func (s *Store) AcquireWriter() bool {
	return s.writeMu.TryLock()
}

// ReleaseWriter releases the writer slot acquired by AcquireWriter, either
// after a commit or an explicit rollback.
func (s *Store) ReleaseWriter() {
	s.writeMu.Unlock()
}

// BeginState returns the state a new WriteTxn stages its overlay from: the
// current generation, the next free node id, and the dictionaries as of
// now (the caller clones the dictionaries before extending them, so the
// store's own dictionaries are untouched until CommitRun).
func (s *Store) BeginState() (generation uint64, nextNodeID InternalNodeId, labels, relTypes *Dictionary) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation, s.nextNodeID, s.labels, s.relTypes
}

// CommitRun durably publishes run as the new newest run, advancing the
// store's generation and next-node-id counters and replacing its
// dictionaries with the txn-local (possibly extended) copies. Callers must
// hold the writer slot (AcquireWriter) across the whole txn up to this
// call.
func (s *Store) CommitRun(run *Run, newNextNodeID InternalNodeId, labels, relTypes *Dictionary) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	run.generation = s.generation
	s.runs = append(s.runs, run)
	s.nextNodeID = newNextNodeID
	s.labels = labels
	s.relTypes = relTypes
	return s.generation
}

func (snap *Snapshot) edgesByAdjacency(anchor InternalNodeId, rel *RelTypeID, index func(*Run) map[InternalNodeId][]EdgeKey) []*EdgeRecord {
	seen := make(map[EdgeKey]bool)
	var out []*EdgeRecord
	for i := len(snap.runs) - 1; i >= 0; i-- {
		r := snap.runs[i]
		for _, key := range index(r)[anchor] {
			if seen[key] {
				continue
			}
			seen[key] = true
			if _, tomb := r.edgeTombstones[key]; tomb {
				continue
			}
			rec, ok := r.edgePuts[key]
			if !ok {
				continue
			}
			if rel != nil && rec.Key.Rel != *rel {
				continue
			}
			out = append(out, rec)
		}
	}
	return out
}
