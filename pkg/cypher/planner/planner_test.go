package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/cypher/parser"
	"github.com/nervusdb/nervusdb/pkg/cypher/physical"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/propcodec"
	"github.com/nervusdb/nervusdb/pkg/txn"
)

// seedTeamGraph builds a small Person/KNOWS/WORKS_AT graph used across
// planner tests: alice knows bob, both work at acme, carol
// is unconnected.
func seedTeamGraph(t *testing.T) *graph.Store {
	t.Helper()
	store := graph.NewStore()
	require.NoError(t, txn.WithTransaction(store, func(tx *txn.WriteTxn) error {
		person := tx.GetOrCreateLabel("Person")
		company := tx.GetOrCreateLabel("Company")
		knows := tx.GetOrCreateRelType("KNOWS")
		worksAt := tx.GetOrCreateRelType("WORKS_AT")

		alice := tx.CreateNode([]graph.LabelID{person}, nil)
		bob := tx.CreateNode([]graph.LabelID{person}, nil)
		carol := tx.CreateNode([]graph.LabelID{person}, nil)
		acme := tx.CreateNode([]graph.LabelID{company}, nil)

		if err := tx.SetNodeProperty(alice, "name", propcodec.String("alice")); err != nil {
			return err
		}
		if err := tx.SetNodeProperty(alice, "age", propcodec.Int(30)); err != nil {
			return err
		}
		if err := tx.SetNodeProperty(bob, "name", propcodec.String("bob")); err != nil {
			return err
		}
		if err := tx.SetNodeProperty(bob, "age", propcodec.Int(25)); err != nil {
			return err
		}
		if err := tx.SetNodeProperty(carol, "name", propcodec.String("carol")); err != nil {
			return err
		}
		if err := tx.SetNodeProperty(carol, "age", propcodec.Int(40)); err != nil {
			return err
		}
		if err := tx.SetNodeProperty(acme, "name", propcodec.String("acme")); err != nil {
			return err
		}

		tx.CreateEdge(graph.EdgeKey{Src: alice, Rel: knows, Dst: bob})
		tx.CreateEdge(graph.EdgeKey{Src: alice, Rel: worksAt, Dst: acme})
		tx.CreateEdge(graph.EdgeKey{Src: bob, Rel: worksAt, Dst: acme})
		_ = carol
		return nil
	}))
	return store
}

func runQuery(t *testing.T, store *graph.Store, src string) (*Plan, []physical.Row) {
	t.Helper()
	q, err := parser.Parse(src)
	require.NoError(t, err)
	plan, err := Compile(q)
	require.NoError(t, err)
	it, err := plan.Build(store.Snapshot(), nil)
	require.NoError(t, err)
	var rows []physical.Row
	for {
		row, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return plan, rows
}

func TestCompileSimpleMatchReturn(t *testing.T) {
	store := seedTeamGraph(t)
	plan, rows := runQuery(t, store, `MATCH (n:Person) RETURN n.name AS name ORDER BY name`)
	require.Equal(t, []string{"name"}, plan.Columns)
	require.Len(t, rows, 3)
	require.Equal(t, "alice", rows[0]["name"].Str)
	require.Equal(t, "bob", rows[1]["name"].Str)
	require.Equal(t, "carol", rows[2]["name"].Str)
}

func TestCompileRelTypeFiltersTraversal(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `MATCH (a:Person)-[:WORKS_AT]->(c:Company) RETURN a.name AS who ORDER BY who`)
	require.Len(t, rows, 2)
	require.Equal(t, "alice", rows[0]["who"].Str)
	require.Equal(t, "bob", rows[1]["who"].Str)
}

func TestCompileWhereFiltersByProperty(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `MATCH (n:Person) WHERE n.age > 26 RETURN n.name AS name ORDER BY name`)
	require.Len(t, rows, 2)
	require.Equal(t, "alice", rows[0]["name"].Str)
	require.Equal(t, "carol", rows[1]["name"].Str)
}

func TestCompileOptionalMatchEmitsNullWhenNoEdge(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store,
		`MATCH (n:Person) OPTIONAL MATCH (n)-[:KNOWS]->(f) RETURN n.name AS name, f.name AS friend ORDER BY name`)
	require.Len(t, rows, 3)
	require.Equal(t, "alice", rows[0]["name"].Str)
	require.Equal(t, "bob", rows[0]["friend"].Str)
	require.Equal(t, "bob", rows[1]["name"].Str)
	require.True(t, rows[1]["friend"].IsNull())
	require.Equal(t, "carol", rows[2]["name"].Str)
	require.True(t, rows[2]["friend"].IsNull())
}

func TestCompileAggregationCountGroupedByLabelMatch(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store,
		`MATCH (a:Person)-[:WORKS_AT]->(c:Company) RETURN c.name AS company, count(a) AS n`)
	require.Len(t, rows, 1)
	require.Equal(t, "acme", rows[0]["company"].Str)
	require.Equal(t, int64(2), rows[0]["n"].Int)
}

func TestCompileAggregationAvgOverAllPeople(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `MATCH (n:Person) RETURN avg(n.age) AS avgAge`)
	require.Len(t, rows, 1)
	require.InDelta(t, float64(30+25+40)/3, rows[0]["avgAge"].Float, 0.0001)
}

func TestCompileOrderByLimitSkip(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `MATCH (n:Person) RETURN n.name AS name ORDER BY name DESC SKIP 1 LIMIT 1`)
	require.Len(t, rows, 1)
	require.Equal(t, "bob", rows[0]["name"].Str)
}

func TestCompileUnwindExpandsList(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `UNWIND [1, 2, 3] AS x RETURN x`)
	require.Len(t, rows, 3)
	require.Equal(t, int64(1), rows[0]["x"].Int)
	require.Equal(t, int64(2), rows[1]["x"].Int)
	require.Equal(t, int64(3), rows[2]["x"].Int)
}

func TestCompileUnionDedupsRows(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store,
		`MATCH (n:Person) WHERE n.name = 'alice' RETURN n.name AS name
		 UNION
		 MATCH (n:Person) WHERE n.name = 'alice' RETURN n.name AS name`)
	require.Len(t, rows, 1)
}

func TestCompileUnionAllKeepsDuplicates(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store,
		`MATCH (n:Person) WHERE n.name = 'alice' RETURN n.name AS name
		 UNION ALL
		 MATCH (n:Person) WHERE n.name = 'alice' RETURN n.name AS name`)
	require.Len(t, rows, 2)
}

func TestCompileUnionColumnMismatchIsColumnNameConflict(t *testing.T) {
	q, err := parser.Parse(`MATCH (n:Person) RETURN n.name AS name
		UNION
		MATCH (n:Person) RETURN n.name AS name, n.age AS age`)
	require.NoError(t, err)
	_, err = Compile(q)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, CodeColumnNameConflict, cErr.Code)
}

func TestCompileUndefinedVariableInWhere(t *testing.T) {
	q, err := parser.Parse(`MATCH (n:Person) WHERE missing.age > 1 RETURN n`)
	require.NoError(t, err)
	_, err = Compile(q)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, CodeUndefinedVariable, cErr.Code)
}

func TestCompileNestedAggregationIsRejected(t *testing.T) {
	q, err := parser.Parse(`MATCH (n:Person) RETURN sum(count(n)) AS bad`)
	require.NoError(t, err)
	_, err = Compile(q)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, CodeNestedAggregation, cErr.Code)
}

func TestCompileNonConstantAggregateArgumentIsRejected(t *testing.T) {
	q, err := parser.Parse(`MATCH (n:Person) RETURN sum(rand()) AS bad`)
	require.NoError(t, err)
	_, err = Compile(q)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, CodeNonConstantExpression, cErr.Code)
}

func TestCompileDuplicateAliasIsColumnNameConflict(t *testing.T) {
	q, err := parser.Parse(`MATCH (n:Person) RETURN n.name AS x, n.age AS x`)
	require.NoError(t, err)
	_, err = Compile(q)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, CodeColumnNameConflict, cErr.Code)
}

func TestCompileReturnStarWithEmptyScopeIsNoVariablesInScope(t *testing.T) {
	q, err := parser.Parse(`RETURN *`)
	require.NoError(t, err)
	_, err = Compile(q)
	var cErr *Error
	require.ErrorAs(t, err, &cErr)
	require.Equal(t, CodeNoVariablesInScope, cErr.Code)
}

func TestCompileInlinePatternPropertyFiltersMatch(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `MATCH (n:Person {name: 'alice'}) RETURN n.age AS age`)
	require.Len(t, rows, 1)
	require.Equal(t, int64(30), rows[0]["age"].Int)
}

func TestCompileInlinePatternPropertyOnRelationshipFiltersTraversal(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store,
		`MATCH (a:Person)-[r:KNOWS {since: 1999}]->(b:Person) RETURN a.name AS who`)
	require.Empty(t, rows, "no KNOWS edge in the fixture carries since:1999")
}

func TestCompileReturnStarExpandsCurrentScope(t *testing.T) {
	store := seedTeamGraph(t)
	_, rows := runQuery(t, store, `MATCH (n:Person) WHERE n.name = 'alice' RETURN *`)
	require.Len(t, rows, 1)
	require.Contains(t, rows[0], "n")
	require.Equal(t, value.KindNode, rows[0]["n"].Kind)
}
