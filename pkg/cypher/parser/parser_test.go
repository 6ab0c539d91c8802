package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
)

func TestParseSimpleMatchReturn(t *testing.T) {
	q, err := Parse(`MATCH (n:Person) WHERE n.age > 21 RETURN n.name AS name`)
	require.NoError(t, err)
	require.Len(t, q.Clauses, 2)

	match, ok := q.Clauses[0].(*ast.MatchClause)
	require.True(t, ok)
	require.False(t, match.Optional)
	require.Len(t, match.Patterns, 1)
	require.Equal(t, "n", match.Patterns[0].Nodes[0].Variable)
	require.Equal(t, []string{"Person"}, match.Patterns[0].Nodes[0].Labels)
	require.NotNil(t, match.Where)

	ret, ok := q.Clauses[1].(*ast.ReturnClause)
	require.True(t, ok)
	require.Len(t, ret.Items, 1)
	require.Equal(t, "name", ret.Items[0].Alias)
}

func TestParseRelationshipPatternDirectionsAndVarLength(t *testing.T) {
	q, err := Parse(`MATCH (a)-[:KNOWS*1..3]->(b) RETURN a, b`)
	require.NoError(t, err)
	match := q.Clauses[0].(*ast.MatchClause)
	rel := match.Patterns[0].Rels[0]
	require.Equal(t, ast.DirOut, rel.Direction)
	require.Equal(t, []string{"KNOWS"}, rel.Types)
	require.NotNil(t, rel.MinHop)
	require.Equal(t, 1, *rel.MinHop)
	require.NotNil(t, rel.MaxHop)
	require.Equal(t, 3, *rel.MaxHop)
}

func TestParseOptionalMatch(t *testing.T) {
	q, err := Parse(`OPTIONAL MATCH (n)-[r]-(m) RETURN n`)
	require.NoError(t, err)
	match := q.Clauses[0].(*ast.MatchClause)
	require.True(t, match.Optional)
	require.Equal(t, ast.DirBoth, match.Patterns[0].Rels[0].Direction)
}

func TestParseCreateMergeSetRemoveDelete(t *testing.T) {
	q, err := Parse(`CREATE (n:Person {name: "Ann"}) MERGE (n)-[r:KNOWS]->(m) ON CREATE SET r.since = 2020 SET n.age = 30 REMOVE n.temp DELETE r`)
	require.NoError(t, err)
	require.Len(t, q.Clauses, 5)
	create := q.Clauses[0].(*ast.CreateClause)
	require.Len(t, create.Patterns[0].Nodes[0].Properties.Keys, 1)

	merge := q.Clauses[1].(*ast.MergeClause)
	require.Len(t, merge.OnCreate, 1)

	set := q.Clauses[2].(*ast.SetClause)
	require.Equal(t, ast.SetProperty, set.Items[0].Kind)
	require.Equal(t, "age", set.Items[0].Property)

	remove := q.Clauses[3].(*ast.RemoveClause)
	require.Equal(t, "temp", remove.Items[0].Property)

	del := q.Clauses[4].(*ast.DeleteClause)
	require.False(t, del.Detach)
	require.Len(t, del.Expressions, 1)
}

func TestParseDetachDelete(t *testing.T) {
	q, err := Parse(`MATCH (n) DETACH DELETE n`)
	require.NoError(t, err)
	del := q.Clauses[1].(*ast.DeleteClause)
	require.True(t, del.Detach)
}

func TestParseExpressionPrecedence(t *testing.T) {
	q, err := Parse(`RETURN 1 + 2 * 3 = 7 AND NOT false`)
	require.NoError(t, err)
	ret := q.Clauses[0].(*ast.ReturnClause)
	and, ok := ret.Items[0].Expr.(ast.BinaryExpr)
	require.True(t, ok)
	require.Equal(t, "AND", and.Op)
	eq := and.Left.(ast.BinaryExpr)
	require.Equal(t, "=", eq.Op)
	mul := eq.Left.(ast.BinaryExpr)
	require.Equal(t, "+", mul.Op)
}

func TestParseCaseExpression(t *testing.T) {
	q, err := Parse(`RETURN CASE WHEN n.age < 18 THEN "minor" ELSE "adult" END AS bucket`)
	require.NoError(t, err)
	ret := q.Clauses[0].(*ast.ReturnClause)
	c, ok := ret.Items[0].Expr.(ast.CaseExpr)
	require.True(t, ok)
	require.Nil(t, c.Subject)
	require.Len(t, c.Whens, 1)
	require.NotNil(t, c.Else)
}

func TestParseListComprehensionAndQuantifier(t *testing.T) {
	q, err := Parse(`RETURN [x IN range WHERE x > 0 | x * 2] AS doubled, ALL(y IN range WHERE y > 0) AS allPos`)
	require.NoError(t, err)
	ret := q.Clauses[0].(*ast.ReturnClause)
	lc, ok := ret.Items[0].Expr.(ast.ListComprehensionExpr)
	require.True(t, ok)
	require.Equal(t, "x", lc.Variable)
	require.NotNil(t, lc.Proj)

	quant, ok := ret.Items[1].Expr.(ast.QuantifierExpr)
	require.True(t, ok)
	require.Equal(t, "ALL", quant.Kind)
}

func TestParseExistsSubquery(t *testing.T) {
	q, err := Parse(`MATCH (n) WHERE EXISTS { MATCH (n)-[:KNOWS]->(m) RETURN m } RETURN n`)
	require.NoError(t, err)
	match := q.Clauses[0].(*ast.MatchClause)
	_, ok := match.Where.(ast.ExistsSubqueryExpr)
	require.True(t, ok)
}

func TestParseUnionAll(t *testing.T) {
	q, err := Parse(`MATCH (n) RETURN n UNION ALL MATCH (m) RETURN m`)
	require.NoError(t, err)
	require.NotNil(t, q.Union)
	require.True(t, q.Union.All)
	require.NotNil(t, q.Next)
}

func TestParseCallSubquery(t *testing.T) {
	q, err := Parse(`MATCH (n) CALL { MATCH (n)-[:KNOWS]->(m) RETURN count(m) AS c } RETURN n, c`)
	require.NoError(t, err)
	call, ok := q.Clauses[1].(*ast.CallSubqueryClause)
	require.True(t, ok)
	require.NotNil(t, call.Query)
}

func TestParseUnwindWithMapLiteral(t *testing.T) {
	q, err := Parse(`UNWIND [{a: 1}, {a: 2}] AS row RETURN row.a`)
	require.NoError(t, err)
	unwind := q.Clauses[0].(*ast.UnwindClause)
	list, ok := unwind.List.(ast.ListLiteralExpr)
	require.True(t, ok)
	require.Len(t, list.Items, 2)
}

func TestComplexityLimitRejectsPathologicalInput(t *testing.T) {
	expr := "RETURN "
	for i := 0; i < 5000; i++ {
		expr += "1 + "
	}
	expr += "1"
	_, err := ParseWithLimit(expr, 100)
	require.Error(t, err)
	var limitErr *ComplexityLimitExceeded
	require.ErrorAs(t, err, &limitErr)
}

func TestParseRejectsGarbageInput(t *testing.T) {
	_, err := Parse(`MATCH (n RETURN`)
	require.Error(t, err)
}
