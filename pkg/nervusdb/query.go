package nervusdb

import (
	"fmt"
	"strings"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/parser"
	"github.com/nervusdb/nervusdb/pkg/cypher/physical"
	"github.com/nervusdb/nervusdb/pkg/cypher/planner"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
)

// Query is a prepared statement: parsed once and, for a read-only query,
// compiled once, then reusable against any number of snapshots.
type Query struct {
	text    string
	query   *ast.Query
	plan    *planner.Plan // nil for a query containing an updating clause
	updates bool
}

// Text returns the original query source.
func (q *Query) Text() string { return q.text }

// Columns returns the query's output column names. For an updating query
// with no trailing RETURN, this is empty until execution (the column list
// for those depends on whatever the query's RETURN, if any, projects).
func (q *Query) Columns() []string {
	if q.plan != nil {
		return q.plan.Columns
	}
	return nil
}

// Prepare parses and, for read-only queries, compiles text. The parser's
// complexity guard is seeded from cfg.ParserStepBudget (spec's parser
// complexity limit).
func (db *Db) Prepare(text string) (*Query, error) {
	parsed, err := parser.ParseWithLimit(text, db.cfg.ParserStepBudget)
	if err != nil {
		return nil, translate(err)
	}
	q := &Query{text: text, query: parsed, updates: queryHasUpdates(parsed)}
	if !q.updates {
		plan, err := planner.Compile(parsed)
		if err != nil {
			return nil, translate(err)
		}
		q.plan = plan
	}
	return q, nil
}

// queryHasUpdates reports whether any clause across q and its UNION chain
// is an updating clause, mirroring pkg/writeexec's own classification.
func queryHasUpdates(q *ast.Query) bool {
	for cur := q; cur != nil; cur = cur.Next {
		for _, c := range cur.Clauses {
			switch c.(type) {
			case *ast.CreateClause, *ast.MergeClause, *ast.SetClause,
				*ast.RemoveClause, *ast.DeleteClause, *ast.ForeachClause:
				return true
			}
		}
	}
	return false
}

// ExecuteStreaming runs a read-only query lazily against view. It returns
// an InvalidClauseComposition QueryError if q contains an updating clause
// — use ExecuteWrite or ExecuteMixed for those.
func (q *Query) ExecuteStreaming(view physical.GraphView, params map[string]value.Value) (*RowIter, error) {
	if q.updates {
		return nil, queryErr(CodeInvalidClauseComposition, "query contains an updating clause; use ExecuteWrite or ExecuteMixed")
	}
	it, err := q.plan.Build(view, params)
	if err != nil {
		return nil, translate(err)
	}
	return &RowIter{it: it, columns: q.plan.Columns}, nil
}

// Explain renders a structural summary of the query's clause list. The
// physical layer compiles each clause into a closure rather than an
// inspectable operator tree, so this walks the parsed clauses themselves
// rather than a compiled plan — naming the same MATCH/WHERE/RETURN
// structure the plan was built from rather than its closures.
func (q *Query) Explain() string {
	var b strings.Builder
	explainQuery(&b, q.query, 0)
	return b.String()
}

func explainQuery(b *strings.Builder, q *ast.Query, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, c := range q.Clauses {
		fmt.Fprintf(b, "%s%s\n", indent, explainClause(c))
	}
	if q.Union != nil && q.Next != nil {
		op := "Union"
		if q.Union.All {
			op = "UnionAll"
		}
		fmt.Fprintf(b, "%s%s\n", indent, op)
		explainQuery(b, q.Next, depth)
	}
}

func explainClause(c ast.Clause) string {
	switch cl := c.(type) {
	case *ast.MatchClause:
		kind := "Match"
		if cl.Optional {
			kind = "OptionalMatch"
		}
		return fmt.Sprintf("%s(patterns=%d, where=%v)", kind, len(cl.Patterns), cl.Where != nil)
	case *ast.UnwindClause:
		return fmt.Sprintf("Unwind(alias=%s)", cl.Alias)
	case *ast.WithClause:
		return fmt.Sprintf("With(items=%d, distinct=%v)", len(cl.Items), cl.Distinct)
	case *ast.ReturnClause:
		return fmt.Sprintf("Return(items=%d, distinct=%v, orderBy=%d)", len(cl.Items), cl.Distinct, len(cl.OrderBy))
	case *ast.CreateClause:
		return fmt.Sprintf("Create(patterns=%d)", len(cl.Patterns))
	case *ast.MergeClause:
		return fmt.Sprintf("Merge(onCreate=%d, onMatch=%d)", len(cl.OnCreate), len(cl.OnMatch))
	case *ast.SetClause:
		return fmt.Sprintf("Set(items=%d)", len(cl.Items))
	case *ast.RemoveClause:
		return fmt.Sprintf("Remove(items=%d)", len(cl.Items))
	case *ast.DeleteClause:
		return fmt.Sprintf("Delete(detach=%v, expressions=%d)", cl.Detach, len(cl.Expressions))
	case *ast.CallSubqueryClause:
		return "CallSubquery"
	case *ast.ForeachClause:
		return fmt.Sprintf("Foreach(updates=%d)", len(cl.Updates))
	default:
		return fmt.Sprintf("%T", c)
	}
}
