// Package physical implements the lazy row-iterator operators that a
// compiled query plan composes (spec §4.6): Scan, Expand, Filter,
// Project, Aggregate, OrderBy, Skip/Limit, Distinct, Unwind, and Apply
// (used for OPTIONAL MATCH fixup and CALL subqueries). Each operator is a
// constructor function that returns an Iterator backed by a closure over
// its inner iterator and state.
package physical

import (
	"sort"

	"github.com/samber/lo"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/eval"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
)

// Row is one bound tuple flowing between operators.
type Row = eval.Row

// Iterator yields rows one at a time. Next returns (row, true, nil) for
// each produced row, (zero, false, nil) once exhausted, or a non-nil
// error that aborts the whole pipeline.
type Iterator interface {
	Next() (Row, bool, error)
}

// IteratorFunc adapts a plain function to the Iterator interface.
type IteratorFunc func() (Row, bool, error)

func (f IteratorFunc) Next() (Row, bool, error) { return f() }

// GraphView is the read surface both graph.Snapshot and txn.WriteTxn
// satisfy, letting operators run identically against a read-only
// snapshot or a live write transaction's overlay-patched view (spec
// §4.8 "mixed" execution).
type GraphView interface {
	Node(id graph.InternalNodeId) (*graph.NodeRecord, bool)
	Edge(key graph.EdgeKey) (*graph.EdgeRecord, bool)
	AllNodeIDs() []graph.InternalNodeId
	EdgesFrom(src graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord
	EdgesTo(dst graph.InternalNodeId, rel *graph.RelTypeID) []*graph.EdgeRecord
	LabelID(name string) (graph.LabelID, bool)
	LabelName(id graph.LabelID) (string, bool)
	RelTypeID(name string) (graph.RelTypeID, bool)
	RelTypeName(id graph.RelTypeID) (string, bool)
}

// ReifyNode builds the runtime Node value for id, resolving its labels'
// names for labels().
func ReifyNode(view GraphView, id graph.InternalNodeId) (value.Node, bool) {
	rec, ok := view.Node(id)
	if !ok {
		return value.Node{}, false
	}
	labelIDs := rec.SortedLabels()
	names := make([]string, len(labelIDs))
	for i, l := range labelIDs {
		if n, ok := view.LabelName(l); ok {
			names[i] = n
		}
	}
	return value.Node{ID: id, Labels: labelIDs, LabelNames: names, Properties: rec.Properties}, true
}

// ReifyEdge builds the runtime Relationship value for an edge record.
func ReifyEdge(view GraphView, rec *graph.EdgeRecord) value.Relationship {
	typeName, _ := view.RelTypeName(rec.Key.Rel)
	return value.Relationship{Key: rec.Key, TypeName: typeName, Properties: rec.Properties}
}

// Single returns an iterator over exactly one row.
func Single(row Row) Iterator {
	done := false
	return IteratorFunc(func() (Row, bool, error) {
		if done {
			return nil, false, nil
		}
		done = true
		return row, true, nil
	})
}

// Empty returns an iterator that yields nothing.
func Empty() Iterator {
	return IteratorFunc(func() (Row, bool, error) { return nil, false, nil })
}

// Values replays a materialized row slice, the write executor's analog of
// re-entering the physical layer from an already-computed row buffer
// between two write clauses (spec §4.8's write orchestration restages each
// intermediate result this way rather than keeping one long-lived plan).
func Values(rows []Row) Iterator {
	i := 0
	return IteratorFunc(func() (Row, bool, error) {
		if i >= len(rows) {
			return nil, false, nil
		}
		r := rows[i]
		i++
		return r, true, nil
	})
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// NodeScan enumerates every live node, optionally filtered to a label,
// binding it to variable.
func NodeScan(view GraphView, variable string, label *graph.LabelID) Iterator {
	ids := view.AllNodeIDs()
	i := 0
	return IteratorFunc(func() (Row, bool, error) {
		for i < len(ids) {
			id := ids[i]
			i++
			rec, ok := view.Node(id)
			if !ok {
				continue
			}
			if label != nil {
				if _, has := rec.Labels[*label]; !has {
					continue
				}
			}
			nodeVal, ok := ReifyNode(view, id)
			if !ok {
				continue
			}
			return Row{variable: value.NodeVal(nodeVal)}, true, nil
		}
		return nil, false, nil
	})
}

// Expand consumes inner rows already bound to srcVar and, for each,
// enumerates matching incident edges, emitting one row per match with
// relVar and dstVar newly bound. relTypes is nil/empty for "any type".
func Expand(inner Iterator, view GraphView, srcVar string, relTypes []graph.RelTypeID, relVar, dstVar string, dir ast.Direction) Iterator {
	var pending []*graph.EdgeRecord
	var pendingDst []graph.InternalNodeId
	var baseRow Row
	pi := 0

	fillFor := func(src graph.InternalNodeId) ([]*graph.EdgeRecord, []graph.InternalNodeId) {
		var recs []*graph.EdgeRecord
		var dsts []graph.InternalNodeId
		add := func(edges []*graph.EdgeRecord, otherEnd func(graph.EdgeKey) graph.InternalNodeId) {
			for _, e := range edges {
				if len(relTypes) > 0 && !containsRelType(relTypes, e.Key.Rel) {
					continue
				}
				recs = append(recs, e)
				dsts = append(dsts, otherEnd(e.Key))
			}
		}
		switch dir {
		case ast.DirOut:
			add(view.EdgesFrom(src, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Dst })
		case ast.DirIn:
			add(view.EdgesTo(src, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Src })
		default: // DirBoth
			add(view.EdgesFrom(src, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Dst })
			add(view.EdgesTo(src, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Src })
		}
		return recs, dsts
	}

	return IteratorFunc(func() (Row, bool, error) {
		for {
			if pi < len(pending) {
				e := pending[pi]
				dst := pendingDst[pi]
				pi++
				dstNode, ok := ReifyNode(view, dst)
				if !ok {
					continue
				}
				out := cloneRow(baseRow)
				out[dstVar] = value.NodeVal(dstNode)
				if relVar != "" {
					out[relVar] = value.RelVal(ReifyEdge(view, e))
				}
				return out, true, nil
			}
			row, ok, err := inner.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			srcVal, bound := row[srcVar]
			if !bound || srcVal.Kind != value.KindNode {
				continue
			}
			baseRow = row
			pending, pendingDst = fillFor(srcVal.Node.ID)
			pi = 0
		}
	})
}

func containsRelType(types []graph.RelTypeID, t graph.RelTypeID) bool {
	for _, r := range types {
		if r == t {
			return true
		}
	}
	return false
}

// VarLengthExpand performs a BFS with relationship-uniqueness (no edge
// reused twice within one path) from srcVar out to between minHop and
// maxHop hops, binding dstVar to the final node and, if relVar is set,
// the ordered list of traversed relationships.
func VarLengthExpand(inner Iterator, view GraphView, srcVar string, relTypes []graph.RelTypeID, relVar, dstVar string, dir ast.Direction, minHop, maxHop int) Iterator {
	type frame struct {
		node  graph.InternalNodeId
		path  []*graph.EdgeRecord
		used  map[graph.EdgeKey]bool
	}
	var queue []frame
	var baseRow Row
	var results []Row
	ri := 0

	emit := func(f frame) {
		if len(f.path) < minHop {
			return
		}
		dstNode, ok := ReifyNode(view, f.node)
		if !ok {
			return
		}
		out := cloneRow(baseRow)
		out[dstVar] = value.NodeVal(dstNode)
		if relVar != "" {
			rels := make([]value.Value, len(f.path))
			for i, e := range f.path {
				rels[i] = value.RelVal(ReifyEdge(view, e))
			}
			out[relVar] = value.List(rels)
		}
		results = append(results, out)
	}

	runBFS := func(start graph.InternalNodeId) {
		queue = queue[:0]
		results = results[:0]
		ri = 0
		init := frame{node: start, used: map[graph.EdgeKey]bool{}}
		queue = append(queue, init)
		for len(queue) > 0 {
			f := queue[0]
			queue = queue[1:]
			if len(f.path) >= minHop {
				emit(f)
			}
			if len(f.path) >= maxHop {
				continue
			}
			var edges []*graph.EdgeRecord
			var dsts []graph.InternalNodeId
			addEdges := func(es []*graph.EdgeRecord, otherEnd func(graph.EdgeKey) graph.InternalNodeId) {
				for _, e := range es {
					if len(relTypes) > 0 && !containsRelType(relTypes, e.Key.Rel) {
						continue
					}
					if f.used[e.Key] {
						continue
					}
					edges = append(edges, e)
					dsts = append(dsts, otherEnd(e.Key))
				}
			}
			switch dir {
			case ast.DirOut:
				addEdges(view.EdgesFrom(f.node, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Dst })
			case ast.DirIn:
				addEdges(view.EdgesTo(f.node, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Src })
			default:
				addEdges(view.EdgesFrom(f.node, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Dst })
				addEdges(view.EdgesTo(f.node, nil), func(k graph.EdgeKey) graph.InternalNodeId { return k.Src })
			}
			for i, e := range edges {
				used := make(map[graph.EdgeKey]bool, len(f.used)+1)
				for k := range f.used {
					used[k] = true
				}
				used[e.Key] = true
				path := append(append([]*graph.EdgeRecord(nil), f.path...), e)
				queue = append(queue, frame{node: dsts[i], path: path, used: used})
			}
		}
	}

	idx := 0
	return IteratorFunc(func() (Row, bool, error) {
		for {
			if idx < len(results) {
				r := results[idx]
				idx++
				return r, true, nil
			}
			row, ok, err := inner.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			srcVal, bound := row[srcVar]
			if !bound || srcVal.Kind != value.KindNode {
				continue
			}
			baseRow = row
			runBFS(srcVal.Node.ID)
			idx = 0
		}
	})
}

// Filter drops rows for which pred does not evaluate truthy.
func Filter(inner Iterator, pred ast.Expr, params map[string]value.Value) Iterator {
	return IteratorFunc(func() (Row, bool, error) {
		for {
			row, ok, err := inner.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			v, err := eval.Eval(pred, row, params)
			if err != nil {
				return nil, false, err
			}
			truthy, known := v.IsTruthy()
			if known && truthy {
				return row, true, nil
			}
		}
	})
}

// Project evaluates each item against the inbound row and emits a new
// row containing only the projected aliases.
func Project(inner Iterator, items []ast.ProjectionItem, params map[string]value.Value) Iterator {
	return IteratorFunc(func() (Row, bool, error) {
		row, ok, err := inner.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		out := make(Row, len(items))
		for _, item := range items {
			if item.Alias == "*" {
				for k, v := range row {
					out[k] = v
				}
				continue
			}
			v, err := eval.Eval(item.Expr, row, params)
			if err != nil {
				return nil, false, err
			}
			out[item.Alias] = v
		}
		return out, true, nil
	})
}

// Distinct suppresses rows structurally equal (openCypher equality) to
// one already emitted.
func Distinct(inner Iterator, cols []string) Iterator {
	seen := make(map[string]bool)
	return IteratorFunc(func() (Row, bool, error) {
		for {
			row, ok, err := inner.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			key := rowKey(row, cols)
			if seen[key] {
				continue
			}
			seen[key] = true
			return row, true, nil
		}
	})
}

func rowKey(row Row, cols []string) string {
	if len(cols) == 0 {
		cols = sortedKeys(row)
	}
	var sb []byte
	for _, c := range cols {
		sb = append(sb, []byte(c)...)
		sb = append(sb, 0)
		sb = append(sb, []byte(row[c].String())...)
		sb = append(sb, 0)
	}
	return string(sb)
}

func sortedKeys(row Row) []string {
	keys := lo.Keys(row)
	sort.Strings(keys)
	return keys
}

// OrderBy is a blocking operator: it drains inner fully, sorts with
// value.SortStable, then replays in order.
func OrderBy(inner Iterator, keys []ast.Expr, descs []bool, params map[string]value.Value) (Iterator, error) {
	var rows [][]value.Value
	var full []Row
	for {
		row, ok, err := inner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		keyVals := make([]value.Value, len(keys))
		for i, k := range keys {
			v, err := eval.Eval(k, row, params)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
		}
		rows = append(rows, keyVals)
		full = append(full, row)
	}
	idxs := make([]int, len(full))
	for i := range idxs {
		idxs[i] = i
	}
	keyIdx := make([]int, len(keys))
	for i := range keyIdx {
		keyIdx[i] = i
	}
	combined := make([][]value.Value, len(rows))
	for i, kv := range rows {
		combined[i] = append(append([]value.Value(nil), kv...), value.Int(int64(idxs[i])))
	}
	value.SortStable(combined, keyIdx, descs)
	i := 0
	return IteratorFunc(func() (Row, bool, error) {
		if i >= len(combined) {
			return nil, false, nil
		}
		origIdx := combined[i][len(keys)].Int
		i++
		return full[origIdx], true, nil
	}), nil
}

// SkipLimit applies SKIP then LIMIT semantics.
func SkipLimit(inner Iterator, skip, limit int64, hasLimit bool) Iterator {
	skipped := int64(0)
	emitted := int64(0)
	return IteratorFunc(func() (Row, bool, error) {
		if hasLimit && emitted >= limit {
			return nil, false, nil
		}
		for {
			row, ok, err := inner.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			if skipped < skip {
				skipped++
				continue
			}
			emitted++
			return row, true, nil
		}
	})
}

// Unwind evaluates listExpr against each inbound row and emits one row
// per element, bound to alias.
func Unwind(inner Iterator, listExpr ast.Expr, alias string, params map[string]value.Value) Iterator {
	var items []value.Value
	var baseRow Row
	i := 0
	return IteratorFunc(func() (Row, bool, error) {
		for {
			if i < len(items) {
				out := cloneRow(baseRow)
				out[alias] = items[i]
				i++
				return out, true, nil
			}
			row, ok, err := inner.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			listVal, err := eval.Eval(listExpr, row, params)
			if err != nil {
				return nil, false, err
			}
			baseRow = row
			if listVal.IsNull() {
				items = nil
			} else if listVal.Kind == value.KindList {
				items = listVal.List
			} else {
				items = []value.Value{listVal}
			}
			i = 0
		}
	})
}

// Apply drives build(row) for every row from outer, flattening the
// inner iterators it produces — the operator CALL subqueries and
// pattern-seeded expansions compile to.
func Apply(outer Iterator, build func(Row) (Iterator, error)) Iterator {
	var cur Iterator
	return IteratorFunc(func() (Row, bool, error) {
		for {
			if cur != nil {
				row, ok, err := cur.Next()
				if err != nil {
					return nil, false, err
				}
				if ok {
					return row, true, nil
				}
				cur = nil
			}
			row, ok, err := outer.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			inner, err := build(row)
			if err != nil {
				return nil, false, err
			}
			cur = inner
		}
	})
}

// OptionalApply mirrors Apply but guarantees at least one row per outer
// row: if build(row) produces zero rows, it emits row itself with every
// name in nullVars bound to NULL (spec §4.5 OptionalWhereFixup / spec
// GLOSSARY "Fixup").
func OptionalApply(outer Iterator, build func(Row) (Iterator, error), nullVars []string) Iterator {
	var cur Iterator
	var pendingOuter Row
	matchedAny := false
	haveOuter := false
	return IteratorFunc(func() (Row, bool, error) {
		for {
			if cur != nil {
				row, ok, err := cur.Next()
				if err != nil {
					return nil, false, err
				}
				if ok {
					matchedAny = true
					return row, true, nil
				}
				cur = nil
				if haveOuter && !matchedAny {
					haveOuter = false
					out := cloneRow(pendingOuter)
					for _, v := range nullVars {
						out[v] = value.Null()
					}
					return out, true, nil
				}
			}
			row, ok, err := outer.Next()
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, nil
			}
			inner, err := build(row)
			if err != nil {
				return nil, false, err
			}
			cur = inner
			pendingOuter = row
			haveOuter = true
			matchedAny = false
		}
	})
}
