// Package writeexec executes the updating clauses of a Cypher query
// (CREATE, MERGE, SET, REMOVE, DELETE, FOREACH) against a live
// *txn.WriteTxn, interleaving them with the read-only clauses around
// them (spec §4.8's write orchestration).
//
// A query's clause list is split into alternating runs: read-only runs
// (MATCH/OPTIONAL MATCH/UNWIND/WITH/RETURN/CALL subquery) compile and
// execute through pkg/cypher/planner exactly as a read-only query would,
// materializing a row buffer; updating clauses mutate the current row
// buffer directly against tx, one row at a time, binding whatever nodes
// or relationships they create or match so later clauses in the same
// query see them. This is the same two-stream idea the original
// implementation's write_orchestration module uses to restage a plan
// from a Values leaf between write steps, adapted to mutate WriteTxn
// directly instead of re-entering a recursive Plan-variant interpreter.
package writeexec

import (
	"fmt"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/eval"
	"github.com/nervusdb/nervusdb/pkg/cypher/physical"
	"github.com/nervusdb/nervusdb/pkg/cypher/planner"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/txn"
)

// Stats tallies the mutations a write query performed.
type Stats struct {
	NodesCreated         int
	NodesDeleted         int
	RelationshipsCreated int
	RelationshipsDeleted int
	PropertiesSet        int
	PropertiesRemoved    int
	LabelsAdded          int
	LabelsRemoved        int
}

func (s *Stats) add(o Stats) {
	s.NodesCreated += o.NodesCreated
	s.NodesDeleted += o.NodesDeleted
	s.RelationshipsCreated += o.RelationshipsCreated
	s.RelationshipsDeleted += o.RelationshipsDeleted
	s.PropertiesSet += o.PropertiesSet
	s.PropertiesRemoved += o.PropertiesRemoved
	s.LabelsAdded += o.LabelsAdded
	s.LabelsRemoved += o.LabelsRemoved
}

// Result is a write query's outcome: whatever rows its trailing RETURN
// (if any) projected, plus the mutation tally.
type Result struct {
	Columns []string
	Rows    []physical.Row
	Stats   Stats
}

// Error is a coded write-execution failure, matching the coded-error
// convention pkg/cypher/eval and pkg/cypher/planner already follow.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

const (
	// CodeDeleteNonEntity is returned when a DELETE expression evaluates
	// to something other than a node, relationship, path, list, or null.
	CodeDeleteNonEntity = "DeleteNonEntity"
	// CodeSetTargetNotEntity is returned when SET/REMOVE targets a value
	// that isn't a node or relationship.
	CodeSetTargetNotEntity = "SetTargetNotEntity"
	// CodeInvalidUpdatingClause covers clause shapes this executor
	// cannot apply (e.g. CREATE with a multi-typed relationship).
	CodeInvalidUpdatingClause = "InvalidUpdatingClause"
	// CodeUnsupportedUnionWrite is returned for a query mixing UNION
	// with updating clauses, which this executor does not support.
	CodeUnsupportedUnionWrite = "UnsupportedUnionWrite"
)

// Execute runs q against tx. Read-only clause runs compile through
// planner.CompileClauses seeded from the current row buffer; updating
// clauses mutate tx and the row buffer directly. The variable scope is
// threaded across the whole clause list so a read segment following a
// write clause still validates correctly against variables the write
// clause introduced.
func Execute(tx *txn.WriteTxn, q *ast.Query, params map[string]value.Value) (*Result, error) {
	if q.Next != nil {
		return nil, errf(CodeUnsupportedUnionWrite, "UNION is not supported in a write query")
	}

	rows := []physical.Row{{}}
	scope := planner.Scope{}
	var stats Stats
	var readRun []ast.Clause
	var columns []string

	flushRead := func() error {
		if len(readRun) == 0 {
			return nil
		}
		plan, err := planner.CompileClauses(readRun, scope, rows)
		if err != nil {
			return err
		}
		it, err := plan.Build(tx, params)
		if err != nil {
			return err
		}
		var next []physical.Row
		for {
			row, ok, err := it.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			next = append(next, row)
		}
		rows = next
		scope = plan.Scope
		columns = plan.Columns
		readRun = nil
		return nil
	}

	for _, clause := range q.Clauses {
		if !isUpdatingClause(clause) {
			readRun = append(readRun, clause)
			continue
		}
		if err := flushRead(); err != nil {
			return nil, err
		}
		next, st, err := applyWriteClause(tx, clause, rows, scope, params)
		if err != nil {
			return nil, err
		}
		rows = next
		stats.add(st)
		columns = nil
	}
	if err := flushRead(); err != nil {
		return nil, err
	}
	return &Result{Columns: columns, Rows: rows, Stats: stats}, nil
}

func isUpdatingClause(c ast.Clause) bool {
	switch c.(type) {
	case *ast.CreateClause, *ast.MergeClause, *ast.SetClause, *ast.RemoveClause, *ast.DeleteClause, *ast.ForeachClause:
		return true
	default:
		return false
	}
}

func applyWriteClause(tx *txn.WriteTxn, clause ast.Clause, rows []physical.Row, scope planner.Scope, params map[string]value.Value) ([]physical.Row, Stats, error) {
	switch c := clause.(type) {
	case *ast.CreateClause:
		return applyCreate(tx, c, rows, scope, params)
	case *ast.MergeClause:
		return applyMerge(tx, c, rows, scope, params)
	case *ast.SetClause:
		return applySet(tx, c, rows, params)
	case *ast.RemoveClause:
		return applyRemove(tx, c, rows, params)
	case *ast.DeleteClause:
		return applyDelete(tx, c, rows, params)
	case *ast.ForeachClause:
		return applyForeach(tx, c, rows, scope, params)
	default:
		return nil, Stats{}, fmt.Errorf("writeexec: %T is not an updating clause", clause)
	}
}

func cloneRow(row physical.Row) physical.Row {
	out := make(physical.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func cloneScope(s planner.Scope) planner.Scope {
	out := make(planner.Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// bindPatternScope records the binding kind of every variable p
// introduces, mirroring the planner's own applyPattern bookkeeping so a
// read segment compiled after a write clause sees the same scope a
// read-only MATCH of the same pattern would have produced.
func bindPatternScope(scope planner.Scope, p *ast.PatternPath) {
	for _, n := range p.Nodes {
		if n.Variable != "" {
			scope[n.Variable] = planner.BindNode
		}
	}
	for _, r := range p.Rels {
		if r.Variable == "" {
			continue
		}
		if r.MinHop != nil || r.MaxHop != nil {
			scope[r.Variable] = planner.BindRelationshipList
		} else {
			scope[r.Variable] = planner.BindRelationship
		}
	}
	if p.PathVariable != "" {
		scope[p.PathVariable] = planner.BindPath
	}
}

// --- CREATE ---

func applyCreate(tx *txn.WriteTxn, c *ast.CreateClause, rows []physical.Row, scope planner.Scope, params map[string]value.Value) ([]physical.Row, Stats, error) {
	var stats Stats
	for _, row := range rows {
		for _, p := range c.Patterns {
			if err := createPattern(tx, p, row, params, &stats); err != nil {
				return nil, Stats{}, err
			}
		}
	}
	for _, p := range c.Patterns {
		bindPatternScope(scope, p)
	}
	return rows, stats, nil
}

// createPattern creates every node and relationship in p that row does
// not already bind, threading each new node/relationship value back
// into row under its pattern variable.
func createPattern(tx *txn.WriteTxn, p *ast.PatternPath, row physical.Row, params map[string]value.Value, stats *Stats) error {
	nodeIDs := make([]graph.InternalNodeId, len(p.Nodes))
	nodeVals := make([]value.Node, len(p.Nodes))
	for i, n := range p.Nodes {
		if n.Variable != "" {
			if existing, ok := row[n.Variable]; ok && existing.Kind == value.KindNode {
				nodeIDs[i] = existing.Node.ID
				nodeVals[i] = *existing.Node
				continue
			}
		}
		labels := make([]graph.LabelID, len(n.Labels))
		for j, name := range n.Labels {
			labels[j] = tx.GetOrCreateLabel(name)
		}
		id := tx.CreateNode(labels, nil)
		if err := setNodeProperties(tx, id, n.Properties, row, params); err != nil {
			return err
		}
		stats.NodesCreated++
		nodeIDs[i] = id
		nodeVal, _ := physical.ReifyNode(tx, id)
		nodeVals[i] = nodeVal
		if n.Variable != "" {
			row[n.Variable] = value.NodeVal(nodeVal)
		}
	}

	relVals := make([]value.Relationship, len(p.Rels))
	for i, r := range p.Rels {
		if len(r.Types) != 1 {
			return errf(CodeInvalidUpdatingClause, "CREATE requires exactly one relationship type per pattern")
		}
		relType := tx.GetOrCreateRelType(r.Types[0])
		src, dst := nodeIDs[i], nodeIDs[i+1]
		if r.Direction == ast.DirIn {
			src, dst = dst, src
		}
		key := graph.EdgeKey{Src: src, Rel: relType, Dst: dst}
		tx.CreateEdge(key)
		if err := setEdgeProperties(tx, key, r.Properties, row, params); err != nil {
			return err
		}
		stats.RelationshipsCreated++
		rec, _ := tx.Edge(key)
		relVal := physical.ReifyEdge(tx, rec)
		relVals[i] = relVal
		if r.Variable != "" {
			row[r.Variable] = value.RelVal(relVal)
		}
	}

	if p.PathVariable != "" {
		row[p.PathVariable] = value.PathVal(value.Path{Nodes: nodeVals, Rels: relVals})
	}
	return nil
}

func setNodeProperties(tx *txn.WriteTxn, id graph.InternalNodeId, props *ast.MapLiteralExpr, row physical.Row, params map[string]value.Value) error {
	if props == nil {
		return nil
	}
	for i, key := range props.Keys {
		v, err := eval.Eval(props.Values[i], row, params)
		if err != nil {
			return err
		}
		pv, err := value.ToPropValue(v)
		if err != nil {
			return err
		}
		if err := tx.SetNodeProperty(id, key, pv); err != nil {
			return err
		}
	}
	return nil
}

func setEdgeProperties(tx *txn.WriteTxn, key graph.EdgeKey, props *ast.MapLiteralExpr, row physical.Row, params map[string]value.Value) error {
	if props == nil {
		return nil
	}
	for i, k := range props.Keys {
		v, err := eval.Eval(props.Values[i], row, params)
		if err != nil {
			return err
		}
		pv, err := value.ToPropValue(v)
		if err != nil {
			return err
		}
		if err := tx.SetEdgeProperty(key, k, pv); err != nil {
			return err
		}
	}
	return nil
}

// --- MERGE ---

func applyMerge(tx *txn.WriteTxn, c *ast.MergeClause, rows []physical.Row, scope planner.Scope, params map[string]value.Value) ([]physical.Row, Stats, error) {
	var stats Stats
	var next []physical.Row
	for _, row := range rows {
		matchIt, err := planner.BuildPatternFromRow(tx, row, c.Pattern, params)
		if err != nil {
			return nil, Stats{}, err
		}
		var matched []physical.Row
		for {
			r, ok, err := matchIt.Next()
			if err != nil {
				return nil, Stats{}, err
			}
			if !ok {
				break
			}
			matched = append(matched, r)
		}
		if len(matched) > 0 {
			for _, mrow := range matched {
				for _, item := range c.OnMatch {
					if err := applySetItem(tx, item, mrow, params, &stats); err != nil {
						return nil, Stats{}, err
					}
				}
				next = append(next, mrow)
			}
			continue
		}
		if err := createPattern(tx, c.Pattern, row, params, &stats); err != nil {
			return nil, Stats{}, err
		}
		for _, item := range c.OnCreate {
			if err := applySetItem(tx, item, row, params, &stats); err != nil {
				return nil, Stats{}, err
			}
		}
		next = append(next, row)
	}
	bindPatternScope(scope, c.Pattern)
	return next, stats, nil
}

// --- SET ---

func applySet(tx *txn.WriteTxn, c *ast.SetClause, rows []physical.Row, params map[string]value.Value) ([]physical.Row, Stats, error) {
	var stats Stats
	for _, row := range rows {
		for _, item := range c.Items {
			if err := applySetItem(tx, item, row, params, &stats); err != nil {
				return nil, Stats{}, err
			}
		}
	}
	return rows, stats, nil
}

func applySetItem(tx *txn.WriteTxn, item ast.SetItem, row physical.Row, params map[string]value.Value, stats *Stats) error {
	target, err := eval.Eval(item.Target, row, params)
	if err != nil {
		return err
	}
	switch item.Kind {
	case ast.SetProperty:
		v, err := eval.Eval(item.Value, row, params)
		if err != nil {
			return err
		}
		pv, err := value.ToPropValue(v)
		if err != nil {
			return err
		}
		switch target.Kind {
		case value.KindNode:
			if err := tx.SetNodeProperty(target.Node.ID, item.Property, pv); err != nil {
				return err
			}
			refreshNodeBinding(tx, row, item.Target, target.Node.ID)
		case value.KindRelationship:
			if err := tx.SetEdgeProperty(target.Rel.Key, item.Property, pv); err != nil {
				return err
			}
			refreshEdgeBinding(tx, row, item.Target, target.Rel.Key)
		default:
			return errf(CodeSetTargetNotEntity, "SET property target must be a node or relationship")
		}
		stats.PropertiesSet++
		return nil

	case ast.SetLabels:
		if target.Kind != value.KindNode {
			return errf(CodeSetTargetNotEntity, "SET :Label requires a node")
		}
		ids := make([]graph.LabelID, len(item.Labels))
		for i, name := range item.Labels {
			ids[i] = tx.GetOrCreateLabel(name)
		}
		if err := tx.SetNodeLabels(target.Node.ID, ids, nil); err != nil {
			return err
		}
		stats.LabelsAdded += len(ids)
		refreshNodeBinding(tx, row, item.Target, target.Node.ID)
		return nil

	case ast.SetAllProperties:
		v, err := eval.Eval(item.Value, row, params)
		if err != nil {
			return err
		}
		if v.Kind != value.KindMap {
			return errf(CodeSetTargetNotEntity, "SET = / += requires a map-valued expression")
		}
		switch target.Kind {
		case value.KindNode:
			if !item.Additive {
				for _, k := range target.Node.Properties.Keys() {
					if _, overridden := v.Map.Get(k); !overridden {
						_ = tx.RemoveNodeProperty(target.Node.ID, k)
						stats.PropertiesRemoved++
					}
				}
			}
			for _, k := range v.Map.Keys() {
				mv, _ := v.Map.Get(k)
				pv, err := value.ToPropValue(mv)
				if err != nil {
					return err
				}
				if err := tx.SetNodeProperty(target.Node.ID, k, pv); err != nil {
					return err
				}
				stats.PropertiesSet++
			}
			refreshNodeBinding(tx, row, item.Target, target.Node.ID)
		case value.KindRelationship:
			if !item.Additive {
				for _, k := range target.Rel.Properties.Keys() {
					if _, overridden := v.Map.Get(k); !overridden {
						_ = tx.RemoveEdgeProperty(target.Rel.Key, k)
						stats.PropertiesRemoved++
					}
				}
			}
			for _, k := range v.Map.Keys() {
				mv, _ := v.Map.Get(k)
				pv, err := value.ToPropValue(mv)
				if err != nil {
					return err
				}
				if err := tx.SetEdgeProperty(target.Rel.Key, k, pv); err != nil {
					return err
				}
				stats.PropertiesSet++
			}
			refreshEdgeBinding(tx, row, item.Target, target.Rel.Key)
		default:
			return errf(CodeSetTargetNotEntity, "SET = / += target must be a node or relationship")
		}
		return nil
	}
	return nil
}

func refreshNodeBinding(tx *txn.WriteTxn, row physical.Row, target ast.Expr, id graph.InternalNodeId) {
	v, ok := target.(ast.VariableExpr)
	if !ok {
		return
	}
	if nodeVal, ok := physical.ReifyNode(tx, id); ok {
		row[v.Name] = value.NodeVal(nodeVal)
	}
}

func refreshEdgeBinding(tx *txn.WriteTxn, row physical.Row, target ast.Expr, key graph.EdgeKey) {
	v, ok := target.(ast.VariableExpr)
	if !ok {
		return
	}
	if rec, ok := tx.Edge(key); ok {
		row[v.Name] = value.RelVal(physical.ReifyEdge(tx, rec))
	}
}

// --- REMOVE ---

func applyRemove(tx *txn.WriteTxn, c *ast.RemoveClause, rows []physical.Row, params map[string]value.Value) ([]physical.Row, Stats, error) {
	var stats Stats
	for _, row := range rows {
		for _, item := range c.Items {
			target, err := eval.Eval(item.Target, row, params)
			if err != nil {
				return nil, Stats{}, err
			}
			if item.IsLabel {
				if target.Kind != value.KindNode {
					return nil, Stats{}, errf(CodeSetTargetNotEntity, "REMOVE :Label requires a node")
				}
				ids := make([]graph.LabelID, len(item.Labels))
				for i, name := range item.Labels {
					ids[i] = tx.GetOrCreateLabel(name)
				}
				if err := tx.SetNodeLabels(target.Node.ID, nil, ids); err != nil {
					return nil, Stats{}, err
				}
				stats.LabelsRemoved += len(ids)
				refreshNodeBinding(tx, row, item.Target, target.Node.ID)
				continue
			}
			switch target.Kind {
			case value.KindNode:
				if err := tx.RemoveNodeProperty(target.Node.ID, item.Property); err != nil {
					return nil, Stats{}, err
				}
				refreshNodeBinding(tx, row, item.Target, target.Node.ID)
			case value.KindRelationship:
				if err := tx.RemoveEdgeProperty(target.Rel.Key, item.Property); err != nil {
					return nil, Stats{}, err
				}
				refreshEdgeBinding(tx, row, item.Target, target.Rel.Key)
			default:
				return nil, Stats{}, errf(CodeSetTargetNotEntity, "REMOVE property target must be a node or relationship")
			}
			stats.PropertiesRemoved++
		}
	}
	return rows, stats, nil
}

// --- DELETE ---

func applyDelete(tx *txn.WriteTxn, c *ast.DeleteClause, rows []physical.Row, params map[string]value.Value) ([]physical.Row, Stats, error) {
	var stats Stats
	for _, row := range rows {
		for _, expr := range c.Expressions {
			v, err := eval.Eval(expr, row, params)
			if err != nil {
				return nil, Stats{}, err
			}
			if err := deleteValue(tx, v, c.Detach, &stats); err != nil {
				return nil, Stats{}, err
			}
		}
	}
	return rows, stats, nil
}

func deleteValue(tx *txn.WriteTxn, v value.Value, detach bool, stats *Stats) error {
	switch v.Kind {
	case value.KindNull:
		return nil
	case value.KindNode:
		cascaded := 0
		if detach {
			incident := make(map[graph.EdgeKey]bool)
			for _, e := range append(tx.EdgesFrom(v.Node.ID, nil), tx.EdgesTo(v.Node.ID, nil)...) {
				incident[e.Key] = true
			}
			cascaded = len(incident)
		}
		if err := tx.TombstoneNode(v.Node.ID, detach); err != nil {
			return err
		}
		stats.NodesDeleted++
		stats.RelationshipsDeleted += cascaded
		return nil
	case value.KindRelationship:
		if err := tx.TombstoneEdge(v.Rel.Key); err != nil {
			return err
		}
		stats.RelationshipsDeleted++
		return nil
	case value.KindPath:
		for _, rel := range v.Path.Rels {
			if err := tx.TombstoneEdge(rel.Key); err != nil {
				return err
			}
			stats.RelationshipsDeleted++
		}
		for _, node := range v.Path.Nodes {
			if err := tx.TombstoneNode(node.ID, detach); err != nil {
				return err
			}
			stats.NodesDeleted++
		}
		return nil
	case value.KindList:
		for _, item := range v.List {
			if err := deleteValue(tx, item, detach, stats); err != nil {
				return err
			}
		}
		return nil
	default:
		return errf(CodeDeleteNonEntity, "DELETE target must be a node, relationship, path, or list of these, got %v", v.Kind)
	}
}

// --- FOREACH ---

func applyForeach(tx *txn.WriteTxn, c *ast.ForeachClause, rows []physical.Row, scope planner.Scope, params map[string]value.Value) ([]physical.Row, Stats, error) {
	var stats Stats
	for _, row := range rows {
		listVal, err := eval.Eval(c.List, row, params)
		if err != nil {
			return nil, Stats{}, err
		}
		if listVal.IsNull() {
			continue
		}
		if listVal.Kind != value.KindList {
			return nil, Stats{}, errf(eval.CodeInvalidArgumentType, "FOREACH requires a list-valued expression")
		}
		loopScope := cloneScope(scope)
		loopScope[c.Variable] = planner.BindValue
		for _, item := range listVal.List {
			iterRow := cloneRow(row)
			iterRow[c.Variable] = item
			for _, update := range c.Updates {
				next, st, err := applyWriteClause(tx, update, []physical.Row{iterRow}, loopScope, params)
				if err != nil {
					return nil, Stats{}, err
				}
				stats.add(st)
				if len(next) > 0 {
					iterRow = next[0]
				}
			}
			for k, v := range iterRow {
				if k == c.Variable {
					continue
				}
				if _, existedBeforeLoop := row[k]; existedBeforeLoop {
					row[k] = v
				}
			}
		}
	}
	return rows, stats, nil
}
