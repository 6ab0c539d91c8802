package nervusdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
)

func mustPrepare(t *testing.T, db *Db, text string) *Query {
	t.Helper()
	q, err := db.Prepare(text)
	require.NoError(t, err)
	return q
}

func TestExecuteWriteCreateThenStreamingRead(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	create := mustPrepare(t, db, `CREATE (a:Person {name: 'Ada'})-[:KNOWS]->(b:Person {name: 'Grace'})`)
	res, err := db.ExecuteWrite(create, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Stats.NodesCreated)
	require.Equal(t, 1, res.Stats.RelationshipsCreated)

	read := mustPrepare(t, db, `MATCH (p:Person) RETURN p.name AS name ORDER BY name`)
	iter, err := db.ExecuteStreaming(read, nil)
	require.NoError(t, err)
	rows, err := iter.Collect()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	first, ok := rows[0].Get("name")
	require.True(t, ok)
	require.Equal(t, value.String("Ada"), first)
}

func TestExecuteStreamingRejectsUpdatingQuery(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	q := mustPrepare(t, db, `CREATE (n:Thing)`)
	_, err = db.ExecuteStreaming(q, nil)
	require.Error(t, err)
	qerr, ok := err.(*QueryError)
	require.True(t, ok)
	require.Equal(t, CodeInvalidClauseComposition, qerr.Code)
}

func TestExecuteWriteRejectsReadOnlyQuery(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	q := mustPrepare(t, db, `MATCH (n) RETURN n`)
	_, err = db.ExecuteWrite(q, nil)
	require.Error(t, err)
	qerr, ok := err.(*QueryError)
	require.True(t, ok)
	require.Equal(t, CodeInvalidClauseComposition, qerr.Code)
}

func TestPrepareSyntaxError(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Prepare(`MATCH (n RETURN n`)
	require.Error(t, err)
	qerr, ok := err.(*QueryError)
	require.True(t, ok)
	require.Equal(t, KindQuery, qerr.Kind)
	require.Equal(t, CodeSyntaxError, qerr.Code)
}

func TestUndefinedVariableIsCoded(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Prepare(`MATCH (n) RETURN m`)
	require.Error(t, err)
	qerr, ok := err.(*QueryError)
	require.True(t, ok)
	require.Equal(t, CodeUndefinedVariable, qerr.Code)
}

func TestParameterizedWriteAndMergeIdempotence(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	merge := mustPrepare(t, db, `MERGE (p:Person {name: $name}) ON CREATE SET p.created = true RETURN p.name AS name`)
	params := map[string]value.Value{"name": value.String("Ada")}

	res1, err := db.ExecuteWrite(merge, params)
	require.NoError(t, err)
	require.Equal(t, 1, res1.Stats.NodesCreated)

	res2, err := db.ExecuteWrite(merge, params)
	require.NoError(t, err)
	require.Equal(t, 0, res2.Stats.NodesCreated)

	count := mustPrepare(t, db, `MATCH (p:Person) RETURN count(p) AS n`)
	iter, err := db.ExecuteStreaming(count, nil)
	require.NoError(t, err)
	rows, err := iter.Collect()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	n, _ := rows[0].Get("n")
	require.Equal(t, value.Int(1), n)
}

func TestNodePropertyBinaryRoundTrip(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	create := mustPrepare(t, db, `CREATE (n:Thing {greeting: 'hello'}) RETURN id(n) AS id`)
	res, err := db.ExecuteWrite(create, nil)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	idVal, ok := res.Rows[0].Get("id")
	require.True(t, ok)
	id := graphNodeIDFromValue(t, idVal)

	data, found, err := db.GetNodePropertyBinary(id, "greeting")
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, data)

	err = db.SetNodePropertyBinary(id, "greeting", data)
	require.NoError(t, err)
}

func TestExplainRendersClauseStructure(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	q := mustPrepare(t, db, `MATCH (n:Person) WHERE n.age > 21 RETURN n.name`)
	explain := q.Explain()
	require.Contains(t, explain, "Match(patterns=1, where=true)")
	require.Contains(t, explain, "Return(items=1")
}

func TestPersistenceReopenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.ndb")

	db, err := Open(path, nil)
	require.NoError(t, err)

	create := mustPrepare(t, db, `CREATE (a:Person {name: 'Ada'})-[:KNOWS {since: 1843}]->(b:Person {name: 'Grace'})`)
	_, err = db.ExecuteWrite(create, nil)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := Open(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	read := mustPrepare(t, reopened, `MATCH (a:Person)-[r:KNOWS]->(b:Person) RETURN a.name AS a, b.name AS b, r.since AS since`)
	iter, err := reopened.ExecuteStreaming(read, nil)
	require.NoError(t, err)
	rows, err := iter.Collect()
	require.NoError(t, err)
	require.Len(t, rows, 1)

	a, _ := rows[0].Get("a")
	b, _ := rows[0].Get("b")
	since, _ := rows[0].Get("since")
	require.Equal(t, value.String("Ada"), a)
	require.Equal(t, value.String("Grace"), b)
	require.Equal(t, value.Int(1843), since)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestInternSchemaThenCreateUsesInternedIds(t *testing.T) {
	db, err := Open("", nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InternSchema([]string{"Person", "Company"}, []string{"WORKS_AT"}))

	create := mustPrepare(t, db, `CREATE (a:Person)-[:WORKS_AT]->(b:Company)`)
	res, err := db.ExecuteWrite(create, nil)
	require.NoError(t, err)
	require.Equal(t, 2, res.Stats.NodesCreated)
	require.Equal(t, 1, res.Stats.RelationshipsCreated)

	read := mustPrepare(t, db, `MATCH (p:Person)-[:WORKS_AT]->(c:Company) RETURN p`)
	iter, err := db.ExecuteStreaming(read, nil)
	require.NoError(t, err)
	rows, err := iter.Collect()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

// graphNodeIDFromValue extracts the internal node id carried inside an
// id(n) projection's integer value — id() reports the InternalNodeId as
// an Int, so this just round-trips it back for the binary-property calls.
func graphNodeIDFromValue(t *testing.T, v value.Value) graph.InternalNodeId {
	t.Helper()
	require.Equal(t, value.KindInt, v.Kind)
	return graph.InternalNodeId(v.Int)
}
