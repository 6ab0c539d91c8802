package graph

import "github.com/nervusdb/nervusdb/pkg/propcodec"

// InternalNodeId is the dense, process-stable node identifier (spec §3).
// WriteTxn.CreateNode hands ids out from a monotonic counter, so an id is
// never assigned again after its node is tombstoned.
type InternalNodeId uint32

// EdgeKey identifies an edge slot: a (src, relationship type, dst) triple.
// Edges sharing a key are multiplicity-counted rather than duplicated.
type EdgeKey struct {
	Src InternalNodeId
	Rel RelTypeID
	Dst InternalNodeId
}

// NodeRecord is one node's durable state.
type NodeRecord struct {
	ID         InternalNodeId
	ExternalID *uint64 // optional user-supplied 64-bit id
	Labels     map[LabelID]struct{}
	Properties *propcodec.Map
}

// Clone returns a deep-enough copy safe for copy-on-write mutation (the
// property map and label set are copied; values inside are immutable once
// encoded so are shared).
func (n *NodeRecord) Clone() *NodeRecord {
	out := &NodeRecord{ID: n.ID, Properties: propcodec.NewMap()}
	if n.ExternalID != nil {
		ext := *n.ExternalID
		out.ExternalID = &ext
	}
	out.Labels = make(map[LabelID]struct{}, len(n.Labels))
	for l := range n.Labels {
		out.Labels[l] = struct{}{}
	}
	for _, k := range n.Properties.Keys() {
		v, _ := n.Properties.Get(k)
		out.Properties.Set(k, v)
	}
	return out
}

// HasLabel reports whether the node carries label id l.
func (n *NodeRecord) HasLabel(l LabelID) bool {
	_, ok := n.Labels[l]
	return ok
}

// SortedLabels returns the node's label ids in ascending order, for
// deterministic iteration (e.g. the `labels()` function, scans).
func (n *NodeRecord) SortedLabels() []LabelID {
	out := make([]LabelID, 0, len(n.Labels))
	for l := range n.Labels {
		out = append(out, l)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// EdgeRecord is one edge slot's durable state: its key, property map, and
// multiplicity (number of times create_edge has been called on this key,
// minus tombstone_edge calls; removed entirely at zero).
type EdgeRecord struct {
	Key          EdgeKey
	Properties   *propcodec.Map
	Multiplicity uint32
}

// Clone returns a property-map-independent copy for copy-on-write mutation.
func (e *EdgeRecord) Clone() *EdgeRecord {
	out := &EdgeRecord{Key: e.Key, Multiplicity: e.Multiplicity, Properties: propcodec.NewMap()}
	for _, k := range e.Properties.Keys() {
		v, _ := e.Properties.Get(k)
		out.Properties.Set(k, v)
	}
	return out
}
