// Package nervusdb is the embedded property-graph database's façade: the
// single entry point an embedder imports, wrapping the storage (pager/wal),
// graph, txn, and cypher packages behind Open/Prepare/Execute* and a single
// QueryError type.
package nervusdb

import (
	"errors"
	"sync"

	"github.com/nervusdb/nervusdb/pkg/config"
	"github.com/nervusdb/nervusdb/pkg/cypher/physical"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/pager"
	"github.com/nervusdb/nervusdb/pkg/propcodec"
	"github.com/nervusdb/nervusdb/pkg/txn"
	"github.com/nervusdb/nervusdb/pkg/wal"
	"github.com/nervusdb/nervusdb/pkg/writeexec"
)

// errClosed is returned by any Db method called after Close.
var errClosed = errors.New("nervusdb: database is closed")

// Stats tallies the mutations a write query performed.
type Stats = writeexec.Stats

// WriteResult is the outcome of ExecuteWrite/ExecuteMixed: whatever rows a
// trailing RETURN projected, plus the mutation tally.
type WriteResult struct {
	Columns []string
	Rows    []Row
	Stats   Stats
}

// Db is an open NervusDB database: the graph store plus, for a persistent
// database, the pager and WAL backing it. A Db with an empty path is
// in-memory only — Close discards its data.
type Db struct {
	cfg *config.Config

	mu     sync.RWMutex
	closed bool

	path  string
	pager *pager.Pager
	wal   *wal.WAL
	store *graph.Store
}

// Open opens (or creates) the database at path. An empty path returns a
// fresh in-memory database with no on-disk footprint. cfg may be nil, in
// which case config.Default() is used.
func Open(path string, cfg *config.Config) (*Db, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, translate(err)
	}

	if path == "" {
		return &Db{cfg: cfg, store: graph.NewStore()}, nil
	}

	walPath := path + ".wal"
	w, err := wal.Open(walPath)
	if err != nil {
		return nil, translate(err)
	}
	p, err := pager.Open(path, w)
	if err != nil {
		w.Close()
		return nil, translate(err)
	}
	if err := wal.Recover(walPath, p); err != nil {
		p.Close()
		w.Close()
		return nil, translate(err)
	}

	sb := p.Superblock()
	var store *graph.Store
	if sb.DictRoot == 0 && sb.GraphRoot == 0 {
		store = graph.NewStore()
	} else {
		store, err = loadGraph(p, sb)
		if err != nil {
			p.Close()
			w.Close()
			return nil, translate(err)
		}
	}

	return &Db{cfg: cfg, path: path, pager: p, wal: w, store: store}, nil
}

// Close flushes a final checkpoint (for a persistent database) and closes
// the underlying files. Close is a no-op on an already-closed Db.
func (db *Db) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	if db.pager == nil {
		return nil
	}
	if err := checkpoint(db.pager, db.wal, db.store); err != nil {
		return translate(err)
	}
	if err := db.wal.Close(); err != nil {
		return translate(err)
	}
	if err := db.pager.Close(); err != nil {
		return translate(err)
	}
	return nil
}

// ExecuteStreaming runs a prepared read-only query against the database's
// current snapshot. See Query.ExecuteStreaming for the updating-clause
// restriction.
func (db *Db) ExecuteStreaming(q *Query, params map[string]value.Value) (*RowIter, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, translate(errClosed)
	}
	return q.ExecuteStreaming(db.store.Snapshot(), params)
}

// ExecuteWrite runs a prepared query that must contain at least one
// updating clause (CREATE/MERGE/SET/REMOVE/DELETE/FOREACH) inside its own
// write transaction, committing on success and rolling back on any error.
func (db *Db) ExecuteWrite(q *Query, params map[string]value.Value) (*WriteResult, error) {
	if !q.updates {
		return nil, queryErr(CodeInvalidClauseComposition, "query contains no updating clause; use ExecuteStreaming")
	}
	return db.executeInTxn(q, params)
}

// ExecuteMixed runs any prepared query — read-only or updating — inside its
// own write transaction. Unlike ExecuteStreaming it pays for a write
// transaction even for an all-read query, which is only worth it when a
// caller wants the query's view to include its own uncommitted writes from
// earlier in the same transaction; ExecuteStreaming is cheaper for a
// standalone read.
func (db *Db) ExecuteMixed(q *Query, params map[string]value.Value) (*WriteResult, error) {
	return db.executeInTxn(q, params)
}

func (db *Db) executeInTxn(q *Query, params map[string]value.Value) (*WriteResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, translate(errClosed)
	}

	tx, err := txn.BeginWrite(db.store)
	if err != nil {
		return nil, translate(err)
	}
	result, err := writeexec.Execute(tx, q.query, params)
	if err != nil {
		tx.Rollback()
		return nil, translate(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, translate(err)
	}
	if db.pager != nil {
		if err := checkpoint(db.pager, db.wal, db.store); err != nil {
			return nil, translate(err)
		}
	}
	return &WriteResult{Columns: result.Columns, Rows: wrapRows(result.Columns, result.Rows), Stats: result.Stats}, nil
}

func wrapRows(columns []string, rows []physical.Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = Row{columns: columns, values: r}
	}
	return out
}

// GetNodePropertyBinary returns the raw encoded bytes of a single node
// property without decoding the node's whole property map.
func (db *Db) GetNodePropertyBinary(id graph.InternalNodeId, key string) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, translate(errClosed)
	}
	rec, ok := db.store.Snapshot().Node(id)
	if !ok {
		return nil, false, nil
	}
	v, ok := rec.Properties.Get(key)
	if !ok {
		return nil, false, nil
	}
	data, err := propcodec.Encode(v)
	if err != nil {
		return nil, false, translate(err)
	}
	return data, true, nil
}

// SetNodePropertyBinary sets a single node property from already-encoded
// bytes, the write-side mirror of GetNodePropertyBinary.
func (db *Db) SetNodePropertyBinary(id graph.InternalNodeId, key string, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return translate(errClosed)
	}
	v, _, err := propcodec.Decode(data)
	if err != nil {
		return translate(err)
	}
	tx, err := txn.BeginWrite(db.store)
	if err != nil {
		return translate(err)
	}
	if err := tx.SetNodeProperty(id, key, v); err != nil {
		tx.Rollback()
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	if db.pager != nil {
		if err := checkpoint(db.pager, db.wal, db.store); err != nil {
			return translate(err)
		}
	}
	return nil
}

// GetEdgePropertyBinary mirrors GetNodePropertyBinary for an edge.
func (db *Db) GetEdgePropertyBinary(key graph.EdgeKey, propKey string) ([]byte, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, translate(errClosed)
	}
	rec, ok := db.store.Snapshot().Edge(key)
	if !ok {
		return nil, false, nil
	}
	v, ok := rec.Properties.Get(propKey)
	if !ok {
		return nil, false, nil
	}
	data, err := propcodec.Encode(v)
	if err != nil {
		return nil, false, translate(err)
	}
	return data, true, nil
}

// SetEdgePropertyBinary mirrors SetNodePropertyBinary for an edge.
func (db *Db) SetEdgePropertyBinary(key graph.EdgeKey, propKey string, data []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return translate(errClosed)
	}
	v, _, err := propcodec.Decode(data)
	if err != nil {
		return translate(err)
	}
	tx, err := txn.BeginWrite(db.store)
	if err != nil {
		return translate(err)
	}
	if err := tx.SetEdgeProperty(key, propKey, v); err != nil {
		tx.Rollback()
		return translate(err)
	}
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	if db.pager != nil {
		if err := checkpoint(db.pager, db.wal, db.store); err != nil {
			return translate(err)
		}
	}
	return nil
}

// InternSchema bulk-interns every label and relationship-type name a caller
// already knows it will need — a bulk loader calling GetOrCreateLabel one
// name at a time pays a map lookup per row even when the label set is tiny
// and fixed; interning the whole set once up front avoids that.
func (db *Db) InternSchema(labels, relTypes []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return translate(errClosed)
	}
	tx, err := txn.BeginWrite(db.store)
	if err != nil {
		return translate(err)
	}
	tx.InternLabels(labels)
	tx.InternRelTypes(relTypes)
	if err := tx.Commit(); err != nil {
		return translate(err)
	}
	if db.pager != nil {
		if err := checkpoint(db.pager, db.wal, db.store); err != nil {
			return translate(err)
		}
	}
	return nil
}
