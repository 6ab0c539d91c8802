package writeexec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervusdb/nervusdb/pkg/cypher/parser"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/txn"
)

func run(t *testing.T, tx *txn.WriteTxn, src string) *Result {
	t.Helper()
	q, err := parser.Parse(src)
	require.NoError(t, err)
	result, err := Execute(tx, q, nil)
	require.NoError(t, err)
	return result
}

func TestCreateNodeBindsPropertiesAndReturnsIt(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	result := run(t, tx, `CREATE (n:Person {name: 'alice', age: 30}) RETURN n.name AS name, n.age AS age`)
	require.Equal(t, 1, result.Stats.NodesCreated)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "alice", result.Rows[0]["name"].Str)
	require.Equal(t, int64(30), result.Rows[0]["age"].Int)
}

func TestCreatePatternWithRelationship(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	result := run(t, tx, `CREATE (a:Person {name:'alice'})-[r:KNOWS {since: 2020}]->(b:Person {name:'bob'})`)
	require.Equal(t, 2, result.Stats.NodesCreated)
	require.Equal(t, 1, result.Stats.RelationshipsCreated)

	ids := tx.AllNodeIDs()
	require.Len(t, ids, 2)
}

func TestCreateDirectionInReversesEdgeKey(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	result := run(t, tx, `CREATE (a:Person {name:'alice'})<-[:KNOWS]-(b:Person {name:'bob'})`)
	require.Equal(t, 1, result.Stats.RelationshipsCreated)

	var aliceID, bobID graph.InternalNodeId
	for _, id := range tx.AllNodeIDs() {
		rec, _ := tx.Node(id)
		if v, ok := rec.Properties.Get("name"); ok && v.Str == "alice" {
			aliceID = id
		}
		if v, ok := rec.Properties.Get("name"); ok && v.Str == "bob" {
			bobID = id
		}
	}
	knows, ok := tx.RelTypeID("KNOWS")
	require.True(t, ok)
	_, edgeExists := tx.Edge(graph.EdgeKey{Src: bobID, Rel: knows, Dst: aliceID})
	require.True(t, edgeExists, "bob-[:KNOWS]->alice should exist since the pattern arrow points into alice")
}

func TestMergeCreatesWhenNoMatchThenMatchesOnSecondRun(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	first := run(t, tx, `MERGE (n:Person {name: 'alice'}) RETURN n`)
	require.Equal(t, 1, first.Stats.NodesCreated)
	require.Len(t, tx.AllNodeIDs(), 1)

	second := run(t, tx, `MERGE (n:Person {name: 'alice'}) RETURN n`)
	require.Equal(t, 0, second.Stats.NodesCreated)
	require.Len(t, tx.AllNodeIDs(), 1, "re-running the same MERGE must not create a duplicate node")
}

func TestMergeOnCreateSetOnlyRunsWhenNodeIsCreated(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `MERGE (n:Person {name: 'alice'}) ON CREATE SET n.firstSeen = 1`)
	ids := tx.AllNodeIDs()
	require.Len(t, ids, 1)
	rec, _ := tx.Node(ids[0])
	_, hasFirstSeen := rec.Properties.Get("firstSeen")
	require.True(t, hasFirstSeen)

	run(t, tx, `MERGE (n:Person {name: 'alice'}) ON CREATE SET n.firstSeen = 2 ON MATCH SET n.lastSeen = 3`)
	rec, _ = tx.Node(ids[0])
	firstSeen, _ := rec.Properties.Get("firstSeen")
	require.Equal(t, int64(1), firstSeen.Int, "ON CREATE SET must not re-run on the second, matching MERGE")
	lastSeen, ok := rec.Properties.Get("lastSeen")
	require.True(t, ok)
	require.Equal(t, int64(3), lastSeen.Int, "ON MATCH SET must run once the node already existed")
}

func TestSetPropertyAndLabelMutateNode(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (n:Person {name: 'alice'})`)
	result := run(t, tx, `MATCH (n:Person) SET n.age = 31, n:Employee RETURN n.age AS age, labels(n) AS labels`)
	require.Equal(t, int64(31), result.Rows[0]["age"].Int)
	require.Equal(t, 1, result.Stats.PropertiesSet)
	require.Equal(t, 1, result.Stats.LabelsAdded)

	labelsVal := result.Rows[0]["labels"]
	require.Equal(t, value.KindList, labelsVal.Kind)
	names := make([]string, len(labelsVal.List))
	for i, v := range labelsVal.List {
		names[i] = v.Str
	}
	require.Contains(t, names, "Person")
	require.Contains(t, names, "Employee")
}

func TestSetAllPropertiesReplacesMapNonAdditive(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (n:Person {name: 'alice', age: 30})`)
	run(t, tx, `MATCH (n:Person) SET n = {name: 'alicia'}`)

	ids := tx.AllNodeIDs()
	rec, _ := tx.Node(ids[0])
	_, hasAge := rec.Properties.Get("age")
	require.False(t, hasAge, "non-additive SET n = {...} must drop properties absent from the new map")
	name, _ := rec.Properties.Get("name")
	require.Equal(t, "alicia", name.Str)
}

func TestSetAllPropertiesAdditiveMergesMap(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (n:Person {name: 'alice', age: 30})`)
	run(t, tx, `MATCH (n:Person) SET n += {age: 31}`)

	ids := tx.AllNodeIDs()
	rec, _ := tx.Node(ids[0])
	name, _ := rec.Properties.Get("name")
	require.Equal(t, "alice", name.Str, "additive SET n += {...} must keep properties not mentioned in the map")
	age, _ := rec.Properties.Get("age")
	require.Equal(t, int64(31), age.Int)
}

func TestRemovePropertyAndLabel(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (n:Person:Employee {name: 'alice', age: 30})`)
	result := run(t, tx, `MATCH (n:Person) REMOVE n.age, n:Employee RETURN n`)
	require.Equal(t, 1, result.Stats.PropertiesRemoved)
	require.Equal(t, 1, result.Stats.LabelsRemoved)

	ids := tx.AllNodeIDs()
	rec, _ := tx.Node(ids[0])
	_, hasAge := rec.Properties.Get("age")
	require.False(t, hasAge)
	require.Len(t, rec.SortedLabels(), 1)
}

func TestDeleteNodeWithoutDetachFailsWhenEdgesExist(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (a:Person)-[:KNOWS]->(b:Person)`)
	q, err := parser.Parse(`MATCH (a:Person) DELETE a`)
	require.NoError(t, err)
	_, err = Execute(tx, q, nil)
	require.ErrorIs(t, err, txn.ErrNodeStillHasEdges)
}

func TestDetachDeleteRemovesNodeAndIncidentEdges(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (a:Person)-[:KNOWS]->(b:Person)`)
	result := run(t, tx, `MATCH (a:Person) DETACH DELETE a`)
	require.Equal(t, 2, result.Stats.NodesDeleted)
	require.Equal(t, 1, result.Stats.RelationshipsDeleted,
		"the edge is cascade-tombstoned the first time its endpoint is detached; the second DETACH DELETE sees it already gone")
	require.Empty(t, tx.AllNodeIDs())
}

func TestForeachSetsPropertyOnEachListElement(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	run(t, tx, `CREATE (a:Person {name:'alice'}), (b:Person {name:'bob'})`)
	result := run(t, tx, `MATCH (n:Person) WITH collect(n) AS people
		FOREACH (p IN people | SET p.greeted = true)
		RETURN size(people) AS total`)
	require.Equal(t, int64(2), result.Rows[0]["total"].Int)
	require.Equal(t, 2, result.Stats.PropertiesSet)

	for _, id := range tx.AllNodeIDs() {
		rec, _ := tx.Node(id)
		greeted, ok := rec.Properties.Get("greeted")
		require.True(t, ok)
		require.True(t, greeted.Bool)
	}
}

func TestCreateRequiresSingleRelationshipType(t *testing.T) {
	store := graph.NewStore()
	tx, err := txn.BeginWrite(store)
	require.NoError(t, err)

	q, err := parser.Parse(`CREATE (a)-[:KNOWS|LIKES]->(b)`)
	require.NoError(t, err)
	_, err = Execute(tx, q, nil)
	var wErr *Error
	require.ErrorAs(t, err, &wErr)
	require.Equal(t, CodeInvalidUpdatingClause, wErr.Code)
}
