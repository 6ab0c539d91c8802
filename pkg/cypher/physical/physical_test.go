package physical

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/txn"
)

func TestNodeScanEmitsEveryNode(t *testing.T) {
	store, _, _, _ := seedSocialGraphSimple(t)
	snap := store.Snapshot()
	it := NodeScan(snap, "n", nil)
	count := 0
	for {
		_, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 3, count)
}

func seedSocialGraphSimple(t *testing.T) (*graph.Store, graph.InternalNodeId, graph.InternalNodeId, graph.InternalNodeId) {
	t.Helper()
	store := graph.NewStore()
	var a, b, c graph.InternalNodeId
	require.NoError(t, txn.WithTransaction(store, func(tx *txn.WriteTxn) error {
		person := tx.GetOrCreateLabel("Person")
		a = tx.CreateNode([]graph.LabelID{person}, nil)
		b = tx.CreateNode([]graph.LabelID{person}, nil)
		c = tx.CreateNode(nil, nil)
		knows := tx.GetOrCreateRelType("KNOWS")
		tx.CreateEdge(graph.EdgeKey{Src: a, Rel: knows, Dst: b})
		tx.CreateEdge(graph.EdgeKey{Src: b, Rel: knows, Dst: c})
		return nil
	}))
	return store, a, b, c
}

func TestNodeScanFiltersByLabel(t *testing.T) {
	store, _, _, _ := seedSocialGraphSimple(t)
	snap := store.Snapshot()
	label, ok := snap.LabelID("Person")
	require.True(t, ok)
	it := NodeScan(snap, "n", &label)
	count := 0
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.Equal(t, value.KindNode, row["n"].Kind)
		count++
	}
	require.Equal(t, 2, count)
}

func TestExpandOutMatchesOutgoingEdges(t *testing.T) {
	store, a, b, _ := seedSocialGraphSimple(t)
	snap := store.Snapshot()
	src := Single(Row{"a": value.NodeVal(mustReify(t, snap, a))})
	knows, ok := snap.RelTypeID("KNOWS")
	require.True(t, ok)
	it := Expand(src, snap, "a", []graph.RelTypeID{knows}, "r", "b", ast.DirOut)
	row, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b, row["b"].Node.ID)
	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func mustReify(t *testing.T, view GraphView, id graph.InternalNodeId) value.Node {
	t.Helper()
	n, ok := ReifyNode(view, id)
	require.True(t, ok)
	return n
}

func TestVarLengthExpandFindsTwoHopPath(t *testing.T) {
	store, a, _, c := seedSocialGraphSimple(t)
	snap := store.Snapshot()
	src := Single(Row{"a": value.NodeVal(mustReify(t, snap, a))})
	it := VarLengthExpand(src, snap, "a", nil, "rs", "b", ast.DirOut, 1, 2)
	found := false
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		if row["b"].Node.ID == c {
			found = true
			require.Equal(t, value.KindList, row["rs"].Kind)
			require.Len(t, row["rs"].List, 2)
		}
	}
	require.True(t, found)
}

func TestFilterDropsNonTruthyRows(t *testing.T) {
	rows := []Row{
		{"x": value.Int(1)},
		{"x": value.Int(2)},
		{"x": value.Int(3)},
	}
	src := sliceIterator(rows)
	pred := ast.BinaryExpr{Op: ">", Left: ast.VariableExpr{Name: "x"}, Right: ast.IntLiteral{Value: 1}}
	it := Filter(src, pred, nil)
	var got []int64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row["x"].Int)
	}
	require.Equal(t, []int64{2, 3}, got)
}

func sliceIterator(rows []Row) Iterator {
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

func TestProjectRenamesAndComputes(t *testing.T) {
	src := sliceIterator([]Row{{"x": value.Int(2)}})
	items := []ast.ProjectionItem{
		{Expr: ast.BinaryExpr{Op: "+", Left: ast.VariableExpr{Name: "x"}, Right: ast.IntLiteral{Value: 1}}, Alias: "y"},
	}
	it := Project(src, items, nil)
	row, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(3), row["y"].Int)
	_, hasX := row["x"]
	require.False(t, hasX)
}

func TestDistinctSuppressesDuplicateRows(t *testing.T) {
	src := sliceIterator([]Row{{"x": value.Int(1)}, {"x": value.Int(1)}, {"x": value.Int(2)}})
	it := Distinct(src, []string{"x"})
	var got []int64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row["x"].Int)
	}
	require.Equal(t, []int64{1, 2}, got)
}

func TestOrderByDescSortsStable(t *testing.T) {
	src := sliceIterator([]Row{{"x": value.Int(1)}, {"x": value.Int(3)}, {"x": value.Int(2)}})
	it, err := OrderBy(src, []ast.Expr{ast.VariableExpr{Name: "x"}}, []bool{true}, nil)
	require.NoError(t, err)
	var got []int64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row["x"].Int)
	}
	require.Equal(t, []int64{3, 2, 1}, got)
}

func TestSkipLimit(t *testing.T) {
	src := sliceIterator([]Row{{"x": value.Int(1)}, {"x": value.Int(2)}, {"x": value.Int(3)}, {"x": value.Int(4)}})
	it := SkipLimit(src, 1, 2, true)
	var got []int64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row["x"].Int)
	}
	require.Equal(t, []int64{2, 3}, got)
}

func TestUnwindExpandsListIntoRows(t *testing.T) {
	src := sliceIterator([]Row{{"xs": value.List([]value.Value{value.Int(1), value.Int(2), value.Int(3)})}})
	it := Unwind(src, ast.VariableExpr{Name: "xs"}, "x", nil)
	var got []int64
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, row["x"].Int)
	}
	require.Equal(t, []int64{1, 2, 3}, got)
}

func TestOptionalApplyEmitsNullsWhenNoMatch(t *testing.T) {
	outer := sliceIterator([]Row{{"a": value.Int(1)}, {"a": value.Int(2)}})
	it := OptionalApply(outer, func(row Row) (Iterator, error) {
		if row["a"].Int == 1 {
			out := cloneRow(row)
			out["b"] = value.Int(100)
			return Single(out), nil
		}
		return Empty(), nil
	}, []string{"b"})

	var rows []Row
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	require.Len(t, rows, 2)
	require.Equal(t, int64(100), rows[0]["b"].Int)
	require.True(t, rows[1]["b"].IsNull())
}

func TestAggregateCountAndSumGroupedByKey(t *testing.T) {
	src := sliceIterator([]Row{
		{"team": value.String("red"), "score": value.Int(3)},
		{"team": value.String("red"), "score": value.Int(4)},
		{"team": value.String("blue"), "score": value.Int(10)},
	})
	groupKeys := []ast.ProjectionItem{{Expr: ast.VariableExpr{Name: "team"}, Alias: "team"}}
	aggs := []AggSpec{
		{Alias: "total", Func: AggSum, Arg: ast.VariableExpr{Name: "score"}},
		{Alias: "n", Func: AggCountStar},
	}
	it, err := Aggregate(src, groupKeys, aggs, nil)
	require.NoError(t, err)
	results := map[string]Row{}
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		results[row["team"].Str] = row
	}
	require.Equal(t, int64(7), results["red"]["total"].Int)
	require.Equal(t, int64(2), results["red"]["n"].Int)
	require.Equal(t, int64(10), results["blue"]["total"].Int)
}

func TestAggregateOverZeroRowsReturnsOneRow(t *testing.T) {
	src := sliceIterator(nil)
	aggs := []AggSpec{{Alias: "n", Func: AggCountStar}}
	it, err := Aggregate(src, nil, aggs, nil)
	require.NoError(t, err)
	row, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), row["n"].Int)
	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
