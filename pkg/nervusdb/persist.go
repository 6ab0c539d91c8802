// Persistence bridges the in-memory graph.Store to the pager/btree/wal
// stack: every committed write transaction is followed by a full rewrite
// of the node and edge B+trees from the store's current snapshot, exactly
// the full-rebuild style btree.DeleteExactRebuild already uses internally
// ("pages are not reclaimed, vacuum is external"). A from-scratch rewrite
// on every commit keeps the reload path simple — there is only ever one
// format to decode, the one SaveGraph just wrote — at the cost of the page
// file growing monotonically until an external vacuum compacts it.
package nervusdb

import (
	"encoding/binary"
	"fmt"

	"github.com/nervusdb/nervusdb/pkg/btree"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/pager"
	"github.com/nervusdb/nervusdb/pkg/propcodec"
	"github.com/nervusdb/nervusdb/pkg/wal"
)

const blobHeaderSize = 8 + 4 // next page id + payload length
const blobMaxPayload = pager.PageSize - blobHeaderSize

// writeBlob chains data across as many pages as necessary, returning the
// head page id. An empty payload still occupies one page, so callers can
// treat a zero page id as "no blob" unambiguously.
func writeBlob(p *pager.Pager, data []byte) (pager.PageID, error) {
	var chunks [][]byte
	for len(data) > blobMaxPayload {
		chunks = append(chunks, data[:blobMaxPayload])
		data = data[blobMaxPayload:]
	}
	chunks = append(chunks, data)

	ids := make([]pager.PageID, len(chunks))
	for i := range chunks {
		id, err := p.AllocatePage()
		if err != nil {
			return 0, err
		}
		ids[i] = id
	}
	for i, chunk := range chunks {
		var next pager.PageID
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		buf := make([]byte, pager.PageSize)
		binary.BigEndian.PutUint64(buf[0:8], uint64(next))
		binary.BigEndian.PutUint32(buf[8:12], uint32(len(chunk)))
		copy(buf[blobHeaderSize:], chunk)
		if err := p.WritePage(ids[i], buf); err != nil {
			return 0, err
		}
	}
	return ids[0], nil
}

// readBlob reassembles the payload written by writeBlob.
func readBlob(p *pager.Pager, head pager.PageID) ([]byte, error) {
	var out []byte
	cur := head
	for {
		buf, err := p.ReadPage(cur)
		if err != nil {
			return nil, err
		}
		next := pager.PageID(binary.BigEndian.Uint64(buf[0:8]))
		length := binary.BigEndian.Uint32(buf[8:12])
		out = append(out, buf[blobHeaderSize:blobHeaderSize+int(length)]...)
		if next == 0 {
			return out, nil
		}
		cur = next
	}
}

func encodeNameList(names []string) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(names)))
	for _, n := range names {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(n)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, n...)
	}
	return buf
}

func decodeNameList(buf []byte) ([]string, int, error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("nervusdb: truncated name list")
	}
	count := binary.BigEndian.Uint32(buf)
	pos := 4
	names := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(buf) < pos+4 {
			return nil, 0, fmt.Errorf("nervusdb: truncated name list entry")
		}
		l := int(binary.BigEndian.Uint32(buf[pos:]))
		pos += 4
		if len(buf) < pos+l {
			return nil, 0, fmt.Errorf("nervusdb: truncated name list entry")
		}
		names = append(names, string(buf[pos:pos+l]))
		pos += l
	}
	return names, pos, nil
}

// encodeDictionaries serializes both dictionaries' names in insertion
// order; replaying Intern in that same order on reload reconstructs
// identical ids (spec §5 open question on id stability).
func encodeDictionaries(labels, relTypes []string) []byte {
	return append(encodeNameList(labels), encodeNameList(relTypes)...)
}

func decodeDictionaries(buf []byte) (labels, relTypes []string, err error) {
	labels, n, err := decodeNameList(buf)
	if err != nil {
		return nil, nil, err
	}
	relTypes, _, err = decodeNameList(buf[n:])
	if err != nil {
		return nil, nil, err
	}
	return labels, relTypes, nil
}

const graphDirectorySize = 8 + 8 + 4 + 8 // node root + edge root + next node id + generation

func encodeGraphDirectory(nodeRoot, edgeRoot pager.PageID, nextNodeID uint32, generation uint64) []byte {
	buf := make([]byte, graphDirectorySize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(nodeRoot))
	binary.BigEndian.PutUint64(buf[8:16], uint64(edgeRoot))
	binary.BigEndian.PutUint32(buf[16:20], nextNodeID)
	binary.BigEndian.PutUint64(buf[20:28], generation)
	return buf
}

func decodeGraphDirectory(buf []byte) (nodeRoot, edgeRoot pager.PageID, nextNodeID uint32, generation uint64, err error) {
	if len(buf) < graphDirectorySize {
		return 0, 0, 0, 0, fmt.Errorf("nervusdb: truncated graph directory")
	}
	nodeRoot = pager.PageID(binary.BigEndian.Uint64(buf[0:8]))
	edgeRoot = pager.PageID(binary.BigEndian.Uint64(buf[8:16]))
	nextNodeID = binary.BigEndian.Uint32(buf[16:20])
	generation = binary.BigEndian.Uint64(buf[20:28])
	return nodeRoot, edgeRoot, nextNodeID, generation, nil
}

// nodeKey/parseNodeKey encode a node id as a fixed 4-byte big-endian key,
// which sorts identically to numeric order — btree keys compare as raw
// byte strings (pkg/btree), so big-endian is required here.
func nodeKey(id graph.InternalNodeId) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(id))
	return buf[:]
}

func parseNodeKey(buf []byte) graph.InternalNodeId {
	return graph.InternalNodeId(binary.BigEndian.Uint32(buf))
}

// edgeKey/parseEdgeKey encode an EdgeKey as Src‖Rel‖Dst, each 4 bytes
// big-endian, giving the composite key the same (src, rel, dst) ordering
// the store's adjacency indexing relies on conceptually (though this
// engine's btree index is keyed, unlike the in-memory store's maps).
func edgeKey(key graph.EdgeKey) []byte {
	var buf [12]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(key.Src))
	binary.BigEndian.PutUint32(buf[4:8], uint32(key.Rel))
	binary.BigEndian.PutUint32(buf[8:12], uint32(key.Dst))
	return buf[:]
}

func parseEdgeKey(buf []byte) graph.EdgeKey {
	return graph.EdgeKey{
		Src: graph.InternalNodeId(binary.BigEndian.Uint32(buf[0:4])),
		Rel: graph.RelTypeID(binary.BigEndian.Uint32(buf[4:8])),
		Dst: graph.InternalNodeId(binary.BigEndian.Uint32(buf[8:12])),
	}
}

func encodeNodeRecord(rec *graph.NodeRecord) ([]byte, error) {
	labels := rec.SortedLabels()
	buf := make([]byte, 4, 4+len(labels)*4+9)
	binary.BigEndian.PutUint32(buf, uint32(len(labels)))
	for _, l := range labels {
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(l))
		buf = append(buf, lb[:]...)
	}
	if rec.ExternalID != nil {
		var eb [9]byte
		eb[0] = 1
		binary.BigEndian.PutUint64(eb[1:], *rec.ExternalID)
		buf = append(buf, eb[:]...)
	} else {
		buf = append(buf, 0)
	}
	propBuf, err := propcodec.EncodeMap(rec.Properties)
	if err != nil {
		return nil, err
	}
	return append(buf, propBuf...), nil
}

func decodeNodeRecord(id graph.InternalNodeId, buf []byte) (*graph.NodeRecord, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("nervusdb: truncated node record")
	}
	labelCount := binary.BigEndian.Uint32(buf)
	pos := 4
	labels := make(map[graph.LabelID]struct{}, labelCount)
	for i := uint32(0); i < labelCount; i++ {
		if len(buf) < pos+4 {
			return nil, fmt.Errorf("nervusdb: truncated node record labels")
		}
		labels[graph.LabelID(binary.BigEndian.Uint32(buf[pos:]))] = struct{}{}
		pos += 4
	}
	if len(buf) < pos+1 {
		return nil, fmt.Errorf("nervusdb: truncated node record external-id flag")
	}
	var externalID *uint64
	hasExternal := buf[pos]
	pos++
	if hasExternal == 1 {
		if len(buf) < pos+8 {
			return nil, fmt.Errorf("nervusdb: truncated node record external id")
		}
		v := binary.BigEndian.Uint64(buf[pos:])
		externalID = &v
		pos += 8
	}
	props, err := propcodec.DecodeMap(buf[pos:])
	if err != nil {
		return nil, err
	}
	return &graph.NodeRecord{ID: id, ExternalID: externalID, Labels: labels, Properties: props}, nil
}

func encodeEdgeRecord(rec *graph.EdgeRecord) ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, rec.Multiplicity)
	propBuf, err := propcodec.EncodeMap(rec.Properties)
	if err != nil {
		return nil, err
	}
	return append(buf, propBuf...), nil
}

func decodeEdgeRecord(key graph.EdgeKey, buf []byte) (*graph.EdgeRecord, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("nervusdb: truncated edge record")
	}
	multiplicity := binary.BigEndian.Uint32(buf)
	props, err := propcodec.DecodeMap(buf[4:])
	if err != nil {
		return nil, err
	}
	return &graph.EdgeRecord{Key: key, Multiplicity: multiplicity, Properties: props}, nil
}

// saveGraph rewrites the node and edge B+trees and the dictionary blob
// from snap, returning the new dictionary and graph directory root pages
// the superblock should point at. nextNodeID is the store's current
// id-allocation counter (graph.Snapshot has no accessor for it, since it
// isn't part of the read view; callers pass the value Store.BeginState
// reports).
func saveGraph(p *pager.Pager, snap *graph.Snapshot, nextNodeID graph.InternalNodeId) (dictRoot, graphRoot pager.PageID, err error) {
	nodeTree, err := btree.Create(p)
	if err != nil {
		return 0, 0, err
	}
	for _, id := range snap.AllNodeIDs() {
		rec, ok := snap.Node(id)
		if !ok {
			continue
		}
		data, err := encodeNodeRecord(rec)
		if err != nil {
			return 0, 0, err
		}
		head, err := writeBlob(p, data)
		if err != nil {
			return 0, 0, err
		}
		if err := nodeTree.Insert(p, nodeKey(id), uint64(head)); err != nil {
			return 0, 0, err
		}
	}

	edgeTree, err := btree.Create(p)
	if err != nil {
		return 0, 0, err
	}
	seen := make(map[graph.EdgeKey]bool)
	for _, id := range snap.AllNodeIDs() {
		for _, rec := range snap.EdgesFrom(id, nil) {
			if seen[rec.Key] {
				continue
			}
			seen[rec.Key] = true
			data, err := encodeEdgeRecord(rec)
			if err != nil {
				return 0, 0, err
			}
			head, err := writeBlob(p, data)
			if err != nil {
				return 0, 0, err
			}
			if err := edgeTree.Insert(p, edgeKey(rec.Key), uint64(head)); err != nil {
				return 0, 0, err
			}
		}
	}

	labelNames := make([]string, snap.LabelCount())
	for i := range labelNames {
		name, _ := snap.LabelName(graph.LabelID(i))
		labelNames[i] = name
	}
	relNames := make([]string, snap.RelTypeCount())
	for i := range relNames {
		name, _ := snap.RelTypeName(graph.RelTypeID(i))
		relNames[i] = name
	}
	dictRoot, err = writeBlob(p, encodeDictionaries(labelNames, relNames))
	if err != nil {
		return 0, 0, err
	}
	graphRoot, err = writeBlob(p, encodeGraphDirectory(nodeTree.Root(), edgeTree.Root(), uint32(nextNodeID), snap.Generation()))
	if err != nil {
		return 0, 0, err
	}
	return dictRoot, graphRoot, nil
}

// loadGraph rebuilds a fresh graph.Store from whatever the superblock's
// DictRoot/GraphRoot point at. A zero DictRoot means a brand new (never
// checkpointed) page file, for which the caller should just use
// graph.NewStore() instead of calling loadGraph.
func loadGraph(p *pager.Pager, sb pager.Superblock) (*graph.Store, error) {
	dictBuf, err := readBlob(p, sb.DictRoot)
	if err != nil {
		return nil, err
	}
	labelNames, relNames, err := decodeDictionaries(dictBuf)
	if err != nil {
		return nil, err
	}
	graphBuf, err := readBlob(p, sb.GraphRoot)
	if err != nil {
		return nil, err
	}
	nodeRoot, edgeRoot, nextNodeID, _, err := decodeGraphDirectory(graphBuf)
	if err != nil {
		return nil, err
	}

	labels := graph.NewDictionary()
	for _, n := range labelNames {
		labels.Intern(n)
	}
	relTypes := graph.NewDictionary()
	for _, n := range relNames {
		relTypes.Intern(n)
	}

	run := graph.NewRun(1)
	if nodeRoot != 0 {
		nodeTree := btree.Load(nodeRoot)
		cur, err := nodeTree.CursorLowerBound(p, nil)
		if err != nil {
			return nil, err
		}
		for {
			ok, err := cur.IsValid()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			k, err := cur.Key()
			if err != nil {
				return nil, err
			}
			payload, err := cur.Payload()
			if err != nil {
				return nil, err
			}
			data, err := readBlob(p, pager.PageID(payload))
			if err != nil {
				return nil, err
			}
			rec, err := decodeNodeRecord(parseNodeKey(k), data)
			if err != nil {
				return nil, err
			}
			run.PutNode(rec)
			more, err := cur.Advance()
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
		}
	}
	if edgeRoot != 0 {
		edgeTree := btree.Load(edgeRoot)
		cur, err := edgeTree.CursorLowerBound(p, nil)
		if err != nil {
			return nil, err
		}
		for {
			ok, err := cur.IsValid()
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			k, err := cur.Key()
			if err != nil {
				return nil, err
			}
			payload, err := cur.Payload()
			if err != nil {
				return nil, err
			}
			data, err := readBlob(p, pager.PageID(payload))
			if err != nil {
				return nil, err
			}
			rec, err := decodeEdgeRecord(parseEdgeKey(k), data)
			if err != nil {
				return nil, err
			}
			run.PutEdge(rec)
			more, err := cur.Advance()
			if err != nil {
				return nil, err
			}
			if !more {
				break
			}
		}
	}

	store := graph.NewStore()
	store.CommitRun(run, graph.InternalNodeId(nextNodeID), labels, relTypes)
	return store, nil
}

// checkpoint persists store's current state: it rewrites the btrees and
// dictionary blob, fsyncs the WAL redo batch those writes produced, flushes
// the resulting dirty pages to the page file, durably repoints the
// superblock at the new roots, then truncates the now-redundant WAL — the
// sequence pkg/wal.Checkpoint's own doc comment requires ("callers must
// have already fsynced the page file").
func checkpoint(p *pager.Pager, w *wal.WAL, store *graph.Store) error {
	snap := store.Snapshot()
	generation, nextNodeID, _, _ := store.BeginState()

	dictRoot, graphRoot, err := saveGraph(p, snap, nextNodeID)
	if err != nil {
		return err
	}
	if err := w.Commit(); err != nil {
		return err
	}
	if err := p.Sync(); err != nil {
		return err
	}
	if err := p.SetRoots(dictRoot, graphRoot, generation); err != nil {
		return err
	}
	return w.Checkpoint()
}
