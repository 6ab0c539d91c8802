// Package txn implements the Snapshot / WriteTxn concurrency model (spec
// §4.7): a frozen read view, and a single live write transaction whose
// overlay is visible only to itself until commit.
package txn

import (
	"errors"
	"sort"

	"github.com/samber/lo"

	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/propcodec"
)

// Snapshot is a frozen, consistent read view of the graph (spec §4.7). It
// is simply the storage layer's merged-run view; txn adds nothing to its
// read semantics, only to how a WriteTxn's overlay is threaded through it.
type Snapshot = graph.Snapshot

// ErrTxnFinished is returned by any mutation called on a WriteTxn that has
// already committed or rolled back.
var ErrTxnFinished = errors.New("txn: transaction already committed or rolled back")

// ErrNodeNotFound / ErrEdgeNotFound report a missing entity for a mutation
// that requires one to exist.
var (
	ErrNodeNotFound       = errors.New("txn: node not found")
	ErrEdgeNotFound       = errors.New("txn: edge not found")
	ErrNodeStillHasEdges  = errors.New("txn: node still has incident edges")
	ErrNotLastWriter      = errors.New("txn: commit called on a transaction that lost the writer slot")
)

// WriteTxn accumulates mutations in an overlay run that is invisible to
// other readers until Commit. At most one WriteTxn may be live per Store
// (spec §4.7); BeginWrite enforces this via Store.AcquireWriter.
type WriteTxn struct {
	store *graph.Store
	base  *Snapshot

	generation uint64
	nextNodeID graph.InternalNodeId

	labels   *graph.Dictionary
	relTypes *graph.Dictionary

	overlay *graph.Run

	onCommit []func()
	finished bool
}

// BeginWrite starts the database's single live write transaction. It
// returns graph.ErrWriteInProgress if another WriteTxn is still open.
func BeginWrite(store *graph.Store) (*WriteTxn, error) {
	if !store.AcquireWriter() {
		return nil, graph.ErrWriteInProgress
	}
	generation, nextNodeID, labels, relTypes := store.BeginState()
	return &WriteTxn{
		store:      store,
		base:       store.Snapshot(),
		generation: generation,
		nextNodeID: nextNodeID,
		labels:     labels.Clone(),
		relTypes:   relTypes.Clone(),
		overlay:    graph.NewRun(generation + 1),
	}, nil
}

// WithTransaction runs fn inside an implicit begin/commit: any error from
// fn, or from Commit itself, rolls the transaction back (spec §4.7).
func WithTransaction(store *graph.Store, fn func(tx *WriteTxn) error) error {
	tx, err := BeginWrite(store)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Snapshot returns the frozen base view the transaction reads underneath
// its own overlay (used by callers that want to read already-committed
// state without the txn's in-flight changes).
func (tx *WriteTxn) Snapshot() *Snapshot { return tx.base }

// Node resolves id through the overlay-then-base merge, for read operators
// executing against a live write transaction (spec §4.8 "mixed" queries).
func (tx *WriteTxn) Node(id graph.InternalNodeId) (*graph.NodeRecord, bool) { return tx.node(id) }

// Edge mirrors Node for edges.
func (tx *WriteTxn) Edge(key graph.EdgeKey) (*graph.EdgeRecord, bool) { return tx.edge(key) }

// AllNodeIDs merges the base snapshot's live node ids with this txn's own
// overlay puts/tombstones, ascending.
func (tx *WriteTxn) AllNodeIDs() []graph.InternalNodeId {
	seen := make(map[graph.InternalNodeId]bool)
	var out []graph.InternalNodeId
	for _, id := range tx.base.AllNodeIDs() {
		if _, _, tomb := tx.overlay.NodeByID(id); tomb {
			continue
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id := range tx.overlay.NodePuts() {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LabelID resolves an existing label name without interning a new one.
func (tx *WriteTxn) LabelID(name string) (graph.LabelID, bool) {
	id, ok := tx.labels.ID(name)
	return graph.LabelID(id), ok
}

// LabelName resolves a label id to its interned name.
func (tx *WriteTxn) LabelName(id graph.LabelID) (string, bool) { return tx.labels.Name(uint32(id)) }

// RelTypeID resolves an existing relationship-type name without interning.
func (tx *WriteTxn) RelTypeID(name string) (graph.RelTypeID, bool) {
	id, ok := tx.relTypes.ID(name)
	return graph.RelTypeID(id), ok
}

// RelTypeName resolves a relationship-type id to its interned name.
func (tx *WriteTxn) RelTypeName(id graph.RelTypeID) (string, bool) {
	return tx.relTypes.Name(uint32(id))
}

// node resolves id through the overlay first, then falls back to the base
// snapshot — this is how a txn observes its own in-flight writes.
func (tx *WriteTxn) node(id graph.InternalNodeId) (*graph.NodeRecord, bool) {
	if rec, ok, tomb := tx.overlay.NodeByID(id); ok {
		return rec, true
	} else if tomb {
		return nil, false
	}
	return tx.base.Node(id)
}

func (tx *WriteTxn) edge(key graph.EdgeKey) (*graph.EdgeRecord, bool) {
	if rec, ok, tomb := tx.overlay.EdgeByKey(key); ok {
		return rec, true
	} else if tomb {
		return nil, false
	}
	return tx.base.Edge(key)
}

// GetOrCreateLabel interns name, allocating a new LabelID if necessary.
// The id is local to this txn until Commit publishes the dictionary.
func (tx *WriteTxn) GetOrCreateLabel(name string) graph.LabelID {
	id, _ := tx.labels.Intern(name)
	return graph.LabelID(id)
}

// GetOrCreateRelType interns name, allocating a new RelTypeID if necessary.
func (tx *WriteTxn) GetOrCreateRelType(name string) graph.RelTypeID {
	id, _ := tx.relTypes.Intern(name)
	return graph.RelTypeID(id)
}

// InternLabels bulk-interns a batch of label names, for callers (e.g. a
// bulk loader) that already know every label name a load will need rather
// than interning one at a time via GetOrCreateLabel.
func (tx *WriteTxn) InternLabels(names []string) []graph.LabelID {
	ids := tx.labels.InternMany(names)
	out := make([]graph.LabelID, len(ids))
	for i, id := range ids {
		out[i] = graph.LabelID(id)
	}
	return out
}

// InternRelTypes mirrors InternLabels for relationship types.
func (tx *WriteTxn) InternRelTypes(names []string) []graph.RelTypeID {
	ids := tx.relTypes.InternMany(names)
	out := make([]graph.RelTypeID, len(ids))
	for i, id := range ids {
		out[i] = graph.RelTypeID(id)
	}
	return out
}

// CreateNode allocates a fresh internal id and stages a new node record.
func (tx *WriteTxn) CreateNode(labels []graph.LabelID, externalID *uint64) graph.InternalNodeId {
	id := tx.nextNodeID
	tx.nextNodeID++
	rec := &graph.NodeRecord{
		ID:         id,
		ExternalID: externalID,
		Labels:     make(map[graph.LabelID]struct{}, len(labels)),
		Properties: propcodec.NewMap(),
	}
	for _, l := range labels {
		rec.Labels[l] = struct{}{}
	}
	tx.overlay.PutNode(rec)
	return id
}

// TombstoneNode retires a node. If detach is false and the node still has
// incident edges in the current view, it returns ErrNodeStillHasEdges;
// detach=true cascades by tombstoning every incident edge first.
func (tx *WriteTxn) TombstoneNode(id graph.InternalNodeId, detach bool) error {
	if _, ok := tx.node(id); !ok {
		return ErrNodeNotFound
	}
	incident := append(append([]*graph.EdgeRecord(nil), tx.edgesFrom(id, nil)...), tx.edgesTo(id, nil)...)
	if len(incident) > 0 {
		if !detach {
			return ErrNodeStillHasEdges
		}
		for _, e := range incident {
			tx.overlay.TombstoneEdge(e.Key)
		}
	}
	tx.overlay.TombstoneNode(id)
	return nil
}

// edgesFrom/edgesTo merge the txn's own overlay with the base snapshot so
// write-orchestration code (pkg/writeexec) sees a consistent view of
// adjacency that includes this txn's own pending edges.
func (tx *WriteTxn) edgesFrom(src graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord {
	return mergeEdges(tx.base.EdgesFrom(src, rel), tx.overlayEdgesFrom(src, rel), tx.overlay)
}

func (tx *WriteTxn) edgesTo(dst graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord {
	return mergeEdges(tx.base.EdgesTo(dst, rel), tx.overlayEdgesTo(dst, rel), tx.overlay)
}

func (tx *WriteTxn) overlayEdgesFrom(src graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord {
	var out []*graph.EdgeRecord
	for key, rec := range tx.overlayEdgePuts() {
		if key.Src == src && (rel == nil || key.Rel == *rel) {
			out = append(out, rec)
		}
	}
	return out
}

func (tx *WriteTxn) overlayEdgesTo(dst graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord {
	var out []*graph.EdgeRecord
	for key, rec := range tx.overlayEdgePuts() {
		if key.Dst == dst && (rel == nil || key.Rel == *rel) {
			out = append(out, rec)
		}
	}
	return out
}

// EdgesFrom / EdgesTo are the public, overlay-aware adjacency readers used
// by the physical Expand operators while a write query is executing.
func (tx *WriteTxn) EdgesFrom(src graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord {
	return tx.edgesFrom(src, rel)
}

func (tx *WriteTxn) EdgesTo(dst graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord {
	return tx.edgesTo(dst, rel)
}

// mergeEdges drops base entries shadowed by an overlay tombstone and
// appends overlay puts, without duplicating keys the overlay also reports.
func mergeEdges(base, overlay []*graph.EdgeRecord, run *graph.Run) []*graph.EdgeRecord {
	overlayKeys := lo.SliceToMap(overlay, func(e *graph.EdgeRecord) (graph.EdgeKey, bool) { return e.Key, true })
	kept := lo.Filter(base, func(e *graph.EdgeRecord, _ int) bool {
		_, _, tomb := run.EdgeByKey(e.Key)
		return !overlayKeys[e.Key] && !tomb
	})
	return append(kept, overlay...)
}

// CreateEdge stages key with multiplicity +1 over whatever multiplicity is
// currently visible (overlay, else base).
func (tx *WriteTxn) CreateEdge(key graph.EdgeKey) *graph.EdgeRecord {
	rec, ok := tx.edge(key)
	if ok {
		clone := rec.Clone()
		clone.Multiplicity++
		tx.overlay.PutEdge(clone)
		return clone
	}
	fresh := &graph.EdgeRecord{Key: key, Properties: propcodec.NewMap(), Multiplicity: 1}
	tx.overlay.PutEdge(fresh)
	return fresh
}

// TombstoneEdge decrements key's multiplicity, removing it entirely once it
// reaches zero.
func (tx *WriteTxn) TombstoneEdge(key graph.EdgeKey) error {
	rec, ok := tx.edge(key)
	if !ok {
		return ErrEdgeNotFound
	}
	if rec.Multiplicity <= 1 {
		tx.overlay.TombstoneEdge(key)
		return nil
	}
	clone := rec.Clone()
	clone.Multiplicity--
	tx.overlay.PutEdge(clone)
	return nil
}

// SetNodeProperty copy-on-writes the node's property map and stages it.
func (tx *WriteTxn) SetNodeProperty(id graph.InternalNodeId, key string, v propcodec.Value) error {
	rec, ok := tx.node(id)
	if !ok {
		return ErrNodeNotFound
	}
	clone := rec.Clone()
	clone.Properties.Set(key, v)
	tx.overlay.PutNode(clone)
	return nil
}

// RemoveNodeProperty copy-on-writes the node's property map with key
// removed.
func (tx *WriteTxn) RemoveNodeProperty(id graph.InternalNodeId, key string) error {
	rec, ok := tx.node(id)
	if !ok {
		return ErrNodeNotFound
	}
	clone := rec.Clone()
	clone.Properties.Delete(key)
	tx.overlay.PutNode(clone)
	return nil
}

// SetNodeLabels adds the labels in add to a node's label set and removes
// those in remove; other labels are kept.
func (tx *WriteTxn) SetNodeLabels(id graph.InternalNodeId, add, remove []graph.LabelID) error {
	rec, ok := tx.node(id)
	if !ok {
		return ErrNodeNotFound
	}
	clone := rec.Clone()
	for _, l := range add {
		clone.Labels[l] = struct{}{}
	}
	for _, l := range remove {
		delete(clone.Labels, l)
	}
	tx.overlay.PutNode(clone)
	return nil
}

// SetEdgeProperty copy-on-writes the edge's property map and stages it.
func (tx *WriteTxn) SetEdgeProperty(key graph.EdgeKey, propKey string, v propcodec.Value) error {
	rec, ok := tx.edge(key)
	if !ok {
		return ErrEdgeNotFound
	}
	clone := rec.Clone()
	clone.Properties.Set(propKey, v)
	tx.overlay.PutEdge(clone)
	return nil
}

// RemoveEdgeProperty copy-on-writes the edge's property map with propKey
// removed.
func (tx *WriteTxn) RemoveEdgeProperty(key graph.EdgeKey, propKey string) error {
	rec, ok := tx.edge(key)
	if !ok {
		return ErrEdgeNotFound
	}
	clone := rec.Clone()
	clone.Properties.Delete(propKey)
	tx.overlay.PutEdge(clone)
	return nil
}

// overlayEdgePuts is a small helper exposing the staged edge puts for the
// merge helpers above.
func (tx *WriteTxn) overlayEdgePuts() map[graph.EdgeKey]*graph.EdgeRecord {
	return tx.overlay.PutEdges()
}

// OnCommit registers a hook invoked synchronously, after the run is
// published, when Commit succeeds. Hooks never run on Rollback. Used e.g.
// to invalidate an external prepared-statement cache.
func (tx *WriteTxn) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

// Commit publishes the overlay as a new run, advances the store's
// generation and releases the writer slot. After Commit, the WriteTxn must
// not be used again.
func (tx *WriteTxn) Commit() error {
	if tx.finished {
		return ErrTxnFinished
	}
	tx.finished = true
	defer tx.store.ReleaseWriter()
	tx.store.CommitRun(tx.overlay, tx.nextNodeID, tx.labels, tx.relTypes)
	for _, fn := range tx.onCommit {
		fn()
	}
	return nil
}

// Rollback discards the overlay and releases the writer slot without
// touching the store — the Go equivalent of "drop without commit" (spec
// §4.7), made explicit since Go has no destructor to rely on.
func (tx *WriteTxn) Rollback() {
	if tx.finished {
		return
	}
	tx.finished = true
	tx.store.ReleaseWriter()
}
