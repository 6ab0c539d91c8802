// Package planner compiles a parsed query (pkg/cypher/ast) into a
// pkg/cypher/physical execution plan: a closure that, given a read view
// and bound parameters, returns a lazy row iterator. It is a direct
// AST-to-operator compiler with scope and aggregation validation rather
// than a cost-based optimizer — openCypher's operator algebra has a
// small enough shape here that plan-shape choices (join order, index
// use) do not pay for the machinery a cost model would add.
package planner

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/eval"
	"github.com/nervusdb/nervusdb/pkg/cypher/physical"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/graph"
)

// BindingKind classifies what a bound query variable holds, used to
// reject type-mismatched expressions (e.g. labels(r) where r is a
// relationship) before execution.
type BindingKind int

const (
	BindValue BindingKind = iota
	BindNode
	BindRelationship
	BindRelationshipList
	BindPath
)

// Scope tracks the binding kind of every variable introduced so far.
type Scope map[string]BindingKind

func (s Scope) clone() Scope {
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Error is a coded compile-time failure, mirroring the stable error
// code strings the spec's query layer reports (§4.5/§6).
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

const (
	CodeUndefinedVariable              = "UndefinedVariable"
	CodeInvalidArgumentType            = "InvalidArgumentType"
	CodeNestedAggregation              = "NestedAggregation"
	CodeAmbiguousAggregationExpression = "AmbiguousAggregationExpression"
	CodeNonConstantExpression          = "NonConstantExpression"
	CodeColumnNameConflict             = "ColumnNameConflict"
	CodeInvalidAggregation             = "InvalidAggregation"
	CodeNoVariablesInScope             = "NoVariablesInScope"
)

func errf(code, format string, args ...interface{}) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// BuildFunc produces a row iterator given the current read view and the
// query's bound parameters.
type BuildFunc func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error)

// Plan is a fully compiled, runnable query: its output column order, the
// closure that executes it against a concrete view, and the variable scope
// in effect once the plan's last clause has run (pkg/writeexec carries this
// forward into the next read-only segment after an intervening write
// clause).
type Plan struct {
	Columns []string
	Build   BuildFunc
	Scope   Scope
}

// Compile compiles a parsed query, including UNION/UNION ALL chains,
// into a single Plan.
func Compile(q *ast.Query) (*Plan, error) {
	plan, err := compileSingle(q)
	if err != nil {
		return nil, err
	}
	if q.Next == nil {
		return plan, nil
	}
	nextPlan, err := Compile(q.Next)
	if err != nil {
		return nil, err
	}
	if len(plan.Columns) != len(nextPlan.Columns) {
		return nil, errf(CodeColumnNameConflict, "UNION branches must return the same columns")
	}
	for i, c := range plan.Columns {
		if c != nextPlan.Columns[i] {
			return nil, errf(CodeColumnNameConflict, "UNION branches must return the same columns")
		}
	}
	all := q.Union != nil && q.Union.All
	cols := plan.Columns
	build := func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		left, err := plan.Build(view, params)
		if err != nil {
			return nil, err
		}
		right, err := nextPlan.Build(view, params)
		if err != nil {
			return nil, err
		}
		combined := concatIterators(left, right)
		if all {
			return combined, nil
		}
		return physical.Distinct(combined, cols), nil
	}
	return &Plan{Columns: cols, Build: build, Scope: plan.Scope}, nil
}

func concatIterators(a, b physical.Iterator) physical.Iterator {
	first := true
	return physical.IteratorFunc(func() (physical.Row, bool, error) {
		for {
			if first {
				row, ok, err := a.Next()
				if err != nil {
					return nil, false, err
				}
				if ok {
					return row, true, nil
				}
				first = false
			}
			return b.Next()
		}
	})
}

// compileState threads the in-progress build function and variable
// scope through a single query's clause list.
type compileState struct {
	build   BuildFunc
	scope   Scope
	columns []string
}

func compileSingle(q *ast.Query) (*Plan, error) {
	seed := func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		return physical.Single(physical.Row{}), nil
	}
	return compileClauses(q.Clauses, Scope{}, seed)
}

// CompileClauses compiles one contiguous run of read-only clauses whose
// input is an already-materialized row buffer rather than a fresh empty
// row — used by pkg/writeexec to re-enter the planner for the read-only
// stretch between two write clauses in the same query, the Go analog of
// the original's restaging a sub-plan from a `Values` leaf between write
// steps.
func CompileClauses(clauses []ast.Clause, seedScope Scope, seedRows []physical.Row) (*Plan, error) {
	if seedScope == nil {
		seedScope = Scope{}
	}
	seed := func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		return physical.Values(seedRows), nil
	}
	return compileClauses(clauses, seedScope.clone(), seed)
}

func compileClauses(clauses []ast.Clause, scope Scope, build BuildFunc) (*Plan, error) {
	state := &compileState{build: build, scope: scope}
	for _, clause := range clauses {
		if err := state.apply(clause); err != nil {
			return nil, err
		}
	}
	return &Plan{Columns: state.columns, Build: state.build, Scope: state.scope}, nil
}

func (s *compileState) apply(clause ast.Clause) error {
	switch c := clause.(type) {
	case *ast.MatchClause:
		return s.applyMatch(c)
	case *ast.UnwindClause:
		return s.applyUnwind(c)
	case *ast.WithClause:
		return s.applyProjection(c.Items, c.Distinct, c.Where, c.OrderBy, c.Skip, c.Limit, false)
	case *ast.ReturnClause:
		return s.applyProjection(c.Items, c.Distinct, nil, c.OrderBy, c.Skip, c.Limit, true)
	case *ast.CallSubqueryClause:
		return s.applyCallSubquery(c)
	default:
		// CREATE/MERGE/SET/REMOVE/DELETE are write clauses compiled and
		// executed by pkg/writeexec, not the read-only physical plan.
		return nil
	}
}

func (s *compileState) applyMatch(c *ast.MatchClause) error {
	for _, pattern := range c.Patterns {
		if err := s.applyPattern(pattern, c.Optional); err != nil {
			return err
		}
	}
	if c.Where != nil {
		if err := s.validateExpr(c.Where); err != nil {
			return err
		}
		prevBuild := s.build
		where := c.Where
		s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
			it, err := prevBuild(view, params)
			if err != nil {
				return nil, err
			}
			return physical.Filter(it, where, params), nil
		}
	}
	return nil
}

func relTypeIDs(view physical.GraphView, names []string) []graph.RelTypeID {
	if len(names) == 0 {
		return nil
	}
	out := make([]graph.RelTypeID, 0, len(names))
	for _, n := range names {
		if id, ok := view.RelTypeID(n); ok {
			out = append(out, id)
		}
	}
	return out
}

func mergeInto(base physical.Row, it physical.Iterator) physical.Iterator {
	return physical.IteratorFunc(func() (physical.Row, bool, error) {
		row, ok, err := it.Next()
		if err != nil || !ok {
			return nil, ok, err
		}
		out := make(physical.Row, len(base)+len(row))
		for k, v := range base {
			out[k] = v
		}
		for k, v := range row {
			out[k] = v
		}
		return out, true, nil
	})
}

// applyPattern compiles one (possibly multi-hop) pattern path, extending
// the current build via a nested-loop Apply seeded from each existing
// row: a fresh node variable triggers a Scan, a variable already bound
// re-enters the chain from its existing value.
func (s *compileState) applyPattern(p *ast.PatternPath, optional bool) error {
	for _, n := range p.Nodes {
		if n.Variable != "" {
			s.scope[n.Variable] = BindNode
		}
	}
	for _, r := range p.Rels {
		if r.Variable != "" {
			if r.MinHop != nil || r.MaxHop != nil {
				s.scope[r.Variable] = BindRelationshipList
			} else {
				s.scope[r.Variable] = BindRelationship
			}
		}
	}
	if p.PathVariable != "" {
		s.scope[p.PathVariable] = BindPath
	}

	prevBuild := s.build
	nullVars := PatternVariables(p)
	s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		outer, err := prevBuild(view, params)
		if err != nil {
			return nil, err
		}
		buildForRow := func(row physical.Row) (physical.Iterator, error) {
			return BuildPatternFromRow(view, row, p, params)
		}
		if optional {
			return physical.OptionalApply(outer, buildForRow, nullVars), nil
		}
		return physical.Apply(outer, buildForRow), nil
	}
	return nil
}

// PatternVariables lists every variable a pattern path binds (nodes, rels,
// and the path variable itself), used by writeexec to know which aliases
// a MERGE/CREATE pattern introduces.
func PatternVariables(p *ast.PatternPath) []string {
	var out []string
	for _, n := range p.Nodes {
		if n.Variable != "" {
			out = append(out, n.Variable)
		}
	}
	for _, r := range p.Rels {
		if r.Variable != "" {
			out = append(out, r.Variable)
		}
	}
	if p.PathVariable != "" {
		out = append(out, p.PathVariable)
	}
	return out
}

// BuildPatternFromRow extends one materialized row by matching pattern p
// against view, reused by pkg/writeexec for MERGE's match-then-maybe-create
// semantics. Inline pattern properties (`(n:Person {name: 'alice'})`) are
// applied as an equality filter against each matched node/relationship,
// evaluated with params so `{id: $id}`-style patterns work the same way
// in a MATCH as in a MERGE.
func BuildPatternFromRow(view physical.GraphView, row physical.Row, p *ast.PatternPath, params map[string]value.Value) (physical.Iterator, error) {
	var cur physical.Iterator
	firstVar := p.Nodes[0].Variable
	if existing, bound := row[firstVar]; bound && existing.Kind == value.KindNode {
		cur = physical.Single(row)
	} else {
		var label *graph.LabelID
		if len(p.Nodes[0].Labels) > 0 {
			if id, ok := view.LabelID(p.Nodes[0].Labels[0]); ok {
				label = &id
			} else {
				return physical.Empty(), nil
			}
		}
		scan := physical.NodeScan(view, firstVar, label)
		if len(p.Nodes[0].Labels) > 1 {
			scan = filterExtraLabels(view, scan, firstVar, p.Nodes[0].Labels[1:])
		}
		cur = mergeInto(row, scan)
	}
	cur = filterPatternProperties(cur, firstVar, p.Nodes[0].Properties, params)

	for i, rel := range p.Rels {
		dstVar := p.Nodes[i+1].Variable
		srcVar := p.Nodes[i].Variable
		types := relTypeIDs(view, rel.Types)
		if rel.MinHop != nil || rel.MaxHop != nil {
			min, max := 1, 1
			if rel.MinHop != nil {
				min = *rel.MinHop
			}
			if rel.MaxHop != nil {
				max = *rel.MaxHop
			} else {
				max = min
				if rel.MinHop != nil {
					max = 1 << 16
				}
			}
			cur = physical.VarLengthExpand(cur, view, srcVar, types, rel.Variable, dstVar, rel.Direction, min, max)
		} else {
			cur = physical.Expand(cur, view, srcVar, types, rel.Variable, dstVar, rel.Direction)
		}
		if len(p.Nodes[i+1].Labels) > 0 {
			cur = filterExtraLabels(view, cur, dstVar, p.Nodes[i+1].Labels)
		}
		cur = filterPatternProperties(cur, dstVar, p.Nodes[i+1].Properties, params)
		if rel.Variable != "" {
			cur = filterPatternProperties(cur, rel.Variable, rel.Properties, params)
		}
	}
	return cur, nil
}

// filterPatternProperties drops rows whose variable binding (node or
// relationship) doesn't carry every key/value pair of props (nil props,
// or an unbound variable like an anonymous relationship, is a no-op).
func filterPatternProperties(it physical.Iterator, variable string, props *ast.MapLiteralExpr, params map[string]value.Value) physical.Iterator {
	if props == nil || len(props.Keys) == 0 {
		return it
	}
	pred := propertyMatchExpr(ast.VariableExpr{Name: variable}, props)
	return physical.Filter(it, pred, params)
}

// propertyMatchExpr builds `target.k1 = v1 AND target.k2 = v2 AND ...`
// from an inline pattern property map, reusing the existing expression
// evaluator instead of a bespoke property-comparison path.
func propertyMatchExpr(target ast.Expr, props *ast.MapLiteralExpr) ast.Expr {
	var expr ast.Expr
	for i, key := range props.Keys {
		eq := ast.BinaryExpr{
			Op:    "=",
			Left:  ast.PropertyAccess{Target: target, Key: key},
			Right: props.Values[i],
		}
		if expr == nil {
			expr = eq
		} else {
			expr = ast.BinaryExpr{Op: "AND", Left: expr, Right: eq}
		}
	}
	return expr
}

func filterExtraLabels(view physical.GraphView, it physical.Iterator, variable string, labels []string) physical.Iterator {
	ids := make([]graph.LabelID, 0, len(labels))
	for _, l := range labels {
		id, ok := view.LabelID(l)
		if !ok {
			return physical.Empty()
		}
		ids = append(ids, id)
	}
	return physical.IteratorFunc(func() (physical.Row, bool, error) {
		for {
			row, ok, err := it.Next()
			if err != nil || !ok {
				return nil, ok, err
			}
			n, bound := row[variable]
			if !bound || n.Kind != value.KindNode {
				continue
			}
			if hasAllLabels(n.Node.Labels, ids) {
				return row, true, nil
			}
		}
	})
}

func hasAllLabels(have []graph.LabelID, want []graph.LabelID) bool {
	set := make(map[graph.LabelID]bool, len(have))
	for _, l := range have {
		set[l] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

func (s *compileState) applyUnwind(c *ast.UnwindClause) error {
	if err := s.validateExpr(c.List); err != nil {
		return err
	}
	prevBuild := s.build
	listExpr, alias := c.List, c.Alias
	s.scope[alias] = BindValue
	s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		it, err := prevBuild(view, params)
		if err != nil {
			return nil, err
		}
		return physical.Unwind(it, listExpr, alias, params), nil
	}
	return nil
}

func (s *compileState) applyCallSubquery(c *ast.CallSubqueryClause) error {
	innerPlan, err := Compile(c.Query)
	if err != nil {
		return err
	}
	for _, col := range innerPlan.Columns {
		s.scope[col] = BindValue
	}
	prevBuild := s.build
	s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		outer, err := prevBuild(view, params)
		if err != nil {
			return nil, err
		}
		return physical.Apply(outer, func(row physical.Row) (physical.Iterator, error) {
			inner, err := innerPlan.Build(view, params)
			if err != nil {
				return nil, err
			}
			return mergeInto(row, inner), nil
		}), nil
	}
	return nil
}

// validateExpr checks every variable reference resolves in scope,
// rejecting invalid-type property access on relationship-lists/paths
// (spec's InvalidArgumentType/UndefinedVariable codes).
func (s *compileState) validateExpr(expr ast.Expr) error {
	switch e := expr.(type) {
	case ast.VariableExpr:
		if _, ok := s.scope[e.Name]; !ok {
			return errf(CodeUndefinedVariable, "%s", e.Name)
		}
	case ast.PropertyAccess:
		if v, ok := e.Target.(ast.VariableExpr); ok {
			kind, known := s.scope[v.Name]
			if !known {
				return errf(CodeUndefinedVariable, "%s", v.Name)
			}
			if kind == BindRelationshipList || kind == BindPath {
				return errf(CodeInvalidArgumentType, "cannot access property on %s", v.Name)
			}
			return nil
		}
		return s.validateExpr(e.Target)
	case ast.BinaryExpr:
		if err := s.validateExpr(e.Left); err != nil {
			return err
		}
		return s.validateExpr(e.Right)
	case ast.UnaryExpr:
		return s.validateExpr(e.Operand)
	case ast.IsNullExpr:
		return s.validateExpr(e.Operand)
	case ast.IsNotNullExpr:
		return s.validateExpr(e.Operand)
	case ast.FunctionCallExpr:
		for _, a := range e.Args {
			if err := s.validateExpr(a); err != nil {
				return err
			}
		}
	case ast.ListLiteralExpr:
		for _, it := range e.Items {
			if err := s.validateExpr(it); err != nil {
				return err
			}
		}
	case ast.MapLiteralExpr:
		for _, v := range e.Values {
			if err := s.validateExpr(v); err != nil {
				return err
			}
		}
	case ast.CaseExpr:
		if e.Subject != nil {
			if err := s.validateExpr(e.Subject); err != nil {
				return err
			}
		}
		for _, w := range e.Whens {
			if err := s.validateExpr(w.When); err != nil {
				return err
			}
			if err := s.validateExpr(w.Then); err != nil {
				return err
			}
		}
		if e.Else != nil {
			return s.validateExpr(e.Else)
		}
	case ast.ListComprehensionExpr:
		if err := s.validateExpr(e.List); err != nil {
			return err
		}
		child := s.scope.clone()
		child[e.Variable] = BindValue
		sub := &compileState{scope: child}
		if e.Where != nil {
			if err := sub.validateExpr(e.Where); err != nil {
				return err
			}
		}
		if e.Proj != nil {
			return sub.validateExpr(e.Proj)
		}
	case ast.QuantifierExpr:
		if err := s.validateExpr(e.List); err != nil {
			return err
		}
		child := s.scope.clone()
		child[e.Variable] = BindValue
		sub := &compileState{scope: child}
		if e.Where != nil {
			return sub.validateExpr(e.Where)
		}
	}
	return nil
}

func hasFunc(expr ast.Expr, name string) bool {
	switch e := expr.(type) {
	case ast.FunctionCallExpr:
		if equalFold(e.Name, name) {
			return true
		}
		for _, a := range e.Args {
			if hasFunc(a, name) {
				return true
			}
		}
	case ast.BinaryExpr:
		return hasFunc(e.Left, name) || hasFunc(e.Right, name)
	case ast.UnaryExpr:
		return hasFunc(e.Operand, name)
	case ast.ListLiteralExpr:
		for _, it := range e.Items {
			if hasFunc(it, name) {
				return true
			}
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

var aggregateNames = map[string]physical.AggFunc{
	"sum":            physical.AggSum,
	"avg":            physical.AggAvg,
	"min":            physical.AggMin,
	"max":            physical.AggMax,
	"collect":        physical.AggCollect,
	"percentilecont": physical.AggPercentileCont,
	"percentiledisc": physical.AggPercentileDisc,
}

func isAggregateCall(e ast.FunctionCallExpr) (physical.AggFunc, bool) {
	lname := lowerASCII(e.Name)
	if lname == "count" {
		return physical.AggCount, true
	}
	fn, ok := aggregateNames[lname]
	return fn, ok
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsAggregate(expr ast.Expr) bool {
	switch e := expr.(type) {
	case ast.FunctionCallExpr:
		if _, ok := isAggregateCall(e); ok {
			return true
		}
		for _, a := range e.Args {
			if containsAggregate(a) {
				return true
			}
		}
	case ast.BinaryExpr:
		return containsAggregate(e.Left) || containsAggregate(e.Right)
	case ast.UnaryExpr:
		return containsAggregate(e.Operand)
	case ast.ListLiteralExpr:
		for _, it := range e.Items {
			if containsAggregate(it) {
				return true
			}
		}
	case ast.CaseExpr:
		if e.Subject != nil && containsAggregate(e.Subject) {
			return true
		}
		for _, w := range e.Whens {
			if containsAggregate(w.When) || containsAggregate(w.Then) {
				return true
			}
		}
		if e.Else != nil {
			return containsAggregate(e.Else)
		}
	}
	return false
}

func defaultAlias(expr ast.Expr, i int) string {
	switch e := expr.(type) {
	case ast.VariableExpr:
		return e.Name
	case ast.PropertyAccess:
		if v, ok := e.Target.(ast.VariableExpr); ok {
			return v.Name + "." + e.Key
		}
	case ast.FunctionCallExpr:
		return lowerASCII(e.Name)
	}
	return fmt.Sprintf("col_%d", i)
}

func (s *compileState) applyProjection(items []ast.ProjectionItem, distinct bool, where ast.Expr, orderBy []ast.OrderItem, skip, limit ast.Expr, isReturn bool) error {
	resolved := make([]ast.ProjectionItem, len(items))
	copy(resolved, items)
	for i, item := range resolved {
		if item.Alias == "" && !(len(resolved) == 1 && isStarItem(item)) {
			resolved[i].Alias = defaultAlias(item.Expr, i)
		}
	}

	if len(resolved) == 1 && isStarItem(resolved[0]) {
		cols := make([]string, 0, len(s.scope))
		for name := range s.scope {
			cols = append(cols, name)
		}
		if len(cols) == 0 {
			return errf(CodeNoVariablesInScope, "RETURN/WITH * with nothing in scope")
		}
		projItems := make([]ast.ProjectionItem, len(cols))
		for i, c := range cols {
			projItems[i] = ast.ProjectionItem{Expr: ast.VariableExpr{Name: c}, Alias: c}
		}
		return s.finishProjection(projItems, false, where, nil, nil, nil, cols)
	}

	seen := map[string]bool{}
	for _, item := range resolved {
		if seen[item.Alias] {
			return errf(CodeColumnNameConflict, "%s", item.Alias)
		}
		seen[item.Alias] = true
		if err := s.validateExpr(item.Expr); err != nil {
			return err
		}
	}

	hasAgg := false
	for _, item := range resolved {
		if containsAggregate(item.Expr) {
			hasAgg = true
		}
	}

	cols := lo.Map(resolved, func(item ast.ProjectionItem, _ int) string { return item.Alias })

	if !hasAgg {
		return s.finishProjection(resolved, distinct, where, orderBy, skip, limit, cols)
	}

	for _, item := range resolved {
		if !containsAggregate(item.Expr) {
			continue
		}
		if hasFunc(item.Expr, "rand") {
			return errf(CodeNonConstantExpression, "aggregate argument must be constant")
		}
		for _, arg := range callArgs(item.Expr) {
			if containsAggregate(arg) {
				return errf(CodeNestedAggregation, "aggregate functions cannot nest")
			}
		}
	}

	var groupKeys []ast.ProjectionItem
	var aggs []physical.AggSpec
	for _, item := range resolved {
		if containsAggregate(item.Expr) {
			call, ok := item.Expr.(ast.FunctionCallExpr)
			if !ok {
				return errf(CodeAmbiguousAggregationExpression, "aggregate must be a direct function call in this engine")
			}
			fn, _ := isAggregateCall(call)
			spec := physical.AggSpec{Alias: item.Alias, Func: fn, Distinct: call.Distinct}
			if fn == physical.AggCount && len(call.Args) == 0 {
				spec.Func = physical.AggCountStar
			} else if len(call.Args) > 0 {
				spec.Arg = call.Args[0]
				if (fn == physical.AggPercentileCont || fn == physical.AggPercentileDisc) && len(call.Args) > 1 {
					spec.Percentile = call.Args[1]
				}
			}
			aggs = append(aggs, spec)
		} else {
			groupKeys = append(groupKeys, item)
		}
	}
	if len(aggs) == 0 {
		return errf(CodeInvalidAggregation, "no aggregate function found")
	}

	prevBuild := s.build
	s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		it, err := prevBuild(view, params)
		if err != nil {
			return nil, err
		}
		if where != nil {
			it = physical.Filter(it, where, params)
		}
		agg, err := physical.Aggregate(it, groupKeys, aggs, params)
		if err != nil {
			return nil, err
		}
		return agg, nil
	}
	s.scope = Scope{}
	for _, c := range cols {
		s.scope[c] = BindValue
	}
	s.columns = cols
	return s.finishOrderSkipLimit(distinct, orderBy, skip, limit, cols)
}

func isStarItem(item ast.ProjectionItem) bool {
	v, ok := item.Expr.(ast.VariableExpr)
	return ok && v.Name == "*"
}

func callArgs(expr ast.Expr) []ast.Expr {
	if call, ok := expr.(ast.FunctionCallExpr); ok {
		return call.Args
	}
	return nil
}

func (s *compileState) finishProjection(items []ast.ProjectionItem, distinct bool, where ast.Expr, orderBy []ast.OrderItem, skip, limit ast.Expr, cols []string) error {
	prevBuild := s.build
	s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
		it, err := prevBuild(view, params)
		if err != nil {
			return nil, err
		}
		if where != nil {
			it = physical.Filter(it, where, params)
		}
		return physical.Project(it, items, params), nil
	}
	s.scope = Scope{}
	for _, c := range cols {
		s.scope[c] = BindValue
	}
	s.columns = cols
	return s.finishOrderSkipLimit(distinct, orderBy, skip, limit, cols)
}

func (s *compileState) finishOrderSkipLimit(distinct bool, orderBy []ast.OrderItem, skip, limit ast.Expr, cols []string) error {
	if distinct {
		prevBuild := s.build
		s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
			it, err := prevBuild(view, params)
			if err != nil {
				return nil, err
			}
			return physical.Distinct(it, cols), nil
		}
	}
	if len(orderBy) > 0 {
		keys := make([]ast.Expr, len(orderBy))
		descs := make([]bool, len(orderBy))
		for i, o := range orderBy {
			keys[i] = o.Expr
			descs[i] = o.Desc
		}
		prevBuild := s.build
		s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
			it, err := prevBuild(view, params)
			if err != nil {
				return nil, err
			}
			return physical.OrderBy(it, keys, descs, params)
		}
	}
	if skip != nil || limit != nil {
		prevBuild := s.build
		s.build = func(view physical.GraphView, params map[string]value.Value) (physical.Iterator, error) {
			it, err := prevBuild(view, params)
			if err != nil {
				return nil, err
			}
			var skipN, limitN int64
			hasLimit := false
			if skip != nil {
				v, err := eval.Eval(skip, physical.Row{}, params)
				if err != nil {
					return nil, err
				}
				skipN = v.Int
			}
			if limit != nil {
				v, err := eval.Eval(limit, physical.Row{}, params)
				if err != nil {
					return nil, err
				}
				limitN = v.Int
				hasLimit = true
			}
			return physical.SkipLimit(it, skipN, limitN, hasLimit), nil
		}
	}
	return nil
}
