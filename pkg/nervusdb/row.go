package nervusdb

import (
	"github.com/nervusdb/nervusdb/pkg/cypher/physical"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
)

// Row is one result tuple: a column-ordered view over a physical.Row, the
// evaluator's own variable-name-to-value map.
type Row struct {
	columns []string
	values  physical.Row
}

// Columns returns the row's column names in projection order.
func (r Row) Columns() []string { return r.columns }

// Get resolves a column by name.
func (r Row) Get(name string) (value.Value, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Reify re-resolves every Node/Relationship value in the row against view,
// refreshing their label/property snapshots. A Row already carries fully
// projected values as of the view it was produced from; Reify is for a
// caller that held onto a Row and wants it to reflect a later view (e.g.
// re-reading a row's entities after a subsequent commit).
func (r Row) Reify(view physical.GraphView) Row {
	out := make(physical.Row, len(r.values))
	for k, v := range r.values {
		switch v.Kind {
		case value.KindNode:
			if n, ok := physical.ReifyNode(view, v.Node.ID); ok {
				out[k] = value.NodeVal(n)
				continue
			}
			out[k] = value.Null()
		case value.KindRelationship:
			if rec, ok := view.Edge(v.Rel.Key); ok {
				out[k] = value.RelVal(physical.ReifyEdge(view, rec))
				continue
			}
			out[k] = value.Null()
		default:
			out[k] = v
		}
	}
	return Row{columns: r.columns, values: out}
}

// RowIter streams a read-only query's result rows lazily.
type RowIter struct {
	it      physical.Iterator
	columns []string
}

// Next returns the next row, or ok=false once the result set is exhausted.
func (it *RowIter) Next() (Row, bool, error) {
	row, ok, err := it.it.Next()
	if err != nil {
		return Row{}, false, translate(err)
	}
	if !ok {
		return Row{}, false, nil
	}
	return Row{columns: it.columns, values: row}, true, nil
}

// Columns returns the iterator's output column names.
func (it *RowIter) Columns() []string { return it.columns }

// Collect drains the iterator into a slice, for callers that don't need
// streaming.
func (it *RowIter) Collect() ([]Row, error) {
	var out []Row
	for {
		row, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, row)
	}
}
