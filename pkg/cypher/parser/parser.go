// Package parser turns a token stream from pkg/cypher/lexer into the AST
// defined by pkg/cypher/ast (spec §4.5 step 1).
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/lexer"
)

func isQuantifierWord(word string) bool {
	switch strings.ToUpper(word) {
	case "ANY", "NONE", "SINGLE":
		return true
	default:
		return false
	}
}

func upperWord(word string) string { return strings.ToUpper(word) }

// ComplexityLimitExceeded is returned once a query's parse step count
// crosses the budget passed to Parse, guarding against pathological or
// adversarial inputs that would otherwise recurse or loop unboundedly.
type ComplexityLimitExceeded struct {
	Limit int
}

func (e *ComplexityLimitExceeded) Error() string {
	return fmt.Sprintf("query exceeds parser complexity limit of %d steps", e.Limit)
}

// SyntaxError reports a parse failure with the offending token position.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string { return e.Msg }

const defaultMaxSteps = 200_000

// Parse parses src into a Query using the default complexity budget.
func Parse(src string) (*ast.Query, error) {
	return ParseWithLimit(src, defaultMaxSteps)
}

// ParseWithLimit parses src, rejecting it with ComplexityLimitExceeded if
// parsing takes more than maxSteps internal productions.
func ParseWithLimit(src string, maxSteps int) (*ast.Query, error) {
	p := &parser{lex: lexer.New(src), maxSteps: maxSteps}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	q, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.EOF {
		return nil, p.errf("unexpected trailing input %q", p.cur.Text)
	}
	return q, nil
}

type parser struct {
	lex      *lexer.Lexer
	cur      lexer.Token
	peek     lexer.Token
	steps    int
	maxSteps int
}

func (p *parser) step() error {
	p.steps++
	if p.steps > p.maxSteps {
		return &ComplexityLimitExceeded{Limit: p.maxSteps}
	}
	return nil
}

func (p *parser) advance() error {
	p.cur = p.peek
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.peek = tok
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return &SyntaxError{Pos: p.cur.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(word string) bool {
	return p.cur.Kind == lexer.Keyword && p.cur.Text == word
}

func (p *parser) isSymbol(sym string) bool {
	return p.cur.Kind == lexer.Symbol && p.cur.Text == sym
}

func (p *parser) expectSymbol(sym string) error {
	if !p.isSymbol(sym) {
		return p.errf("expected %q, found %q", sym, p.cur.Text)
	}
	return p.advance()
}

func (p *parser) expectKeyword(word string) error {
	if !p.isKeyword(word) {
		return p.errf("expected %s, found %q", word, p.cur.Text)
	}
	return p.advance()
}

// --- top-level query ---

func (p *parser) parseQuery() (*ast.Query, error) {
	if err := p.step(); err != nil {
		return nil, err
	}
	q := &ast.Query{}
	for {
		clause, done, err := p.tryParseClause()
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		q.Clauses = append(q.Clauses, clause)
	}
	if p.isKeyword("UNION") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		all := false
		if p.isKeyword("ALL") {
			all = true
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		next, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		q.Union = &ast.UnionClause{All: all}
		q.Next = next
	}
	return q, nil
}

func (p *parser) tryParseClause() (ast.Clause, bool, error) {
	if err := p.step(); err != nil {
		return nil, false, err
	}
	switch {
	case p.cur.Kind == lexer.EOF, p.isKeyword("UNION"):
		return nil, true, nil
	case p.isKeyword("OPTIONAL"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if err := p.expectKeyword("MATCH"); err != nil {
			return nil, false, err
		}
		c, err := p.parseMatchBody(true)
		return c, false, err
	case p.isKeyword("MATCH"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		c, err := p.parseMatchBody(false)
		return c, false, err
	case p.isKeyword("UNWIND"):
		c, err := p.parseUnwind()
		return c, false, err
	case p.isKeyword("WITH"):
		c, err := p.parseWith()
		return c, false, err
	case p.isKeyword("RETURN"):
		c, err := p.parseReturn()
		return c, false, err
	case p.isKeyword("CREATE"):
		c, err := p.parseCreate()
		return c, false, err
	case p.isKeyword("MERGE"):
		c, err := p.parseMerge()
		return c, false, err
	case p.isKeyword("SET"):
		c, err := p.parseSet()
		return c, false, err
	case p.isKeyword("REMOVE"):
		c, err := p.parseRemove()
		return c, false, err
	case p.isKeyword("DETACH"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		if err := p.expectKeyword("DELETE"); err != nil {
			return nil, false, err
		}
		c, err := p.parseDeleteExprs(true)
		return c, false, err
	case p.isKeyword("DELETE"):
		if err := p.advance(); err != nil {
			return nil, false, err
		}
		c, err := p.parseDeleteExprs(false)
		return c, false, err
	case p.isKeyword("CALL"):
		c, err := p.parseCallSubquery()
		return c, false, err
	case p.isKeyword("FOREACH"):
		c, err := p.parseForeach()
		return c, false, err
	default:
		return nil, true, nil
	}
}

// --- MATCH ---

func (p *parser) parseMatchBody(optional bool) (*ast.MatchClause, error) {
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	clause := &ast.MatchClause{Optional: optional, Patterns: patterns}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		clause.Where = where
	}
	return clause, nil
}

func (p *parser) parsePatternList() ([]*ast.PatternPath, error) {
	var out []*ast.PatternPath
	for {
		path, err := p.parsePatternPath()
		if err != nil {
			return nil, err
		}
		out = append(out, path)
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return out, nil
}

func (p *parser) parsePatternPath() (*ast.PatternPath, error) {
	path := &ast.PatternPath{}
	if p.cur.Kind == lexer.Ident && p.peek.Kind == lexer.Symbol && p.peek.Text == "=" {
		path.PathVariable = p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil { // consume '='
			return nil, err
		}
	}
	node, err := p.parseNodePattern()
	if err != nil {
		return nil, err
	}
	path.Nodes = append(path.Nodes, node)
	for p.isSymbol("-") || p.isSymbol("<") {
		rel, err := p.parseRelPattern()
		if err != nil {
			return nil, err
		}
		path.Rels = append(path.Rels, rel)
		node, err := p.parseNodePattern()
		if err != nil {
			return nil, err
		}
		path.Nodes = append(path.Nodes, node)
	}
	return path, nil
}

func (p *parser) parseNodePattern() (ast.NodePatternElem, error) {
	var n ast.NodePatternElem
	if err := p.expectSymbol("("); err != nil {
		return n, err
	}
	if p.cur.Kind == lexer.Ident {
		n.Variable = p.cur.Text
		if err := p.advance(); err != nil {
			return n, err
		}
	}
	for p.isSymbol(":") {
		if err := p.advance(); err != nil {
			return n, err
		}
		if p.cur.Kind != lexer.Ident && p.cur.Kind != lexer.Keyword {
			return n, p.errf("expected label name, found %q", p.cur.Text)
		}
		n.Labels = append(n.Labels, p.cur.Text)
		if err := p.advance(); err != nil {
			return n, err
		}
	}
	if p.isSymbol("{") {
		props, err := p.parseMapLiteral()
		if err != nil {
			return n, err
		}
		n.Properties = props
	}
	if err := p.expectSymbol(")"); err != nil {
		return n, err
	}
	return n, nil
}

func (p *parser) parseRelPattern() (ast.RelPatternElem, error) {
	var r ast.RelPatternElem
	leftArrow := false
	if p.isSymbol("<") {
		leftArrow = true
		if err := p.advance(); err != nil {
			return r, err
		}
	}
	if err := p.expectSymbol("-"); err != nil {
		return r, err
	}
	if p.isSymbol("[") {
		if err := p.advance(); err != nil {
			return r, err
		}
		if p.cur.Kind == lexer.Ident {
			r.Variable = p.cur.Text
			if err := p.advance(); err != nil {
				return r, err
			}
		}
		for p.isSymbol(":") {
			if err := p.advance(); err != nil {
				return r, err
			}
			if p.cur.Kind != lexer.Ident && p.cur.Kind != lexer.Keyword {
				return r, p.errf("expected relationship type, found %q", p.cur.Text)
			}
			r.Types = append(r.Types, p.cur.Text)
			if err := p.advance(); err != nil {
				return r, err
			}
			for p.isSymbol("|") {
				if err := p.advance(); err != nil {
					return r, err
				}
				r.Types = append(r.Types, p.cur.Text)
				if err := p.advance(); err != nil {
					return r, err
				}
			}
		}
		if p.isSymbol("*") {
			if err := p.advance(); err != nil {
				return r, err
			}
			if p.cur.Kind == lexer.IntLiteral {
				n, _ := strconv.Atoi(p.cur.Text)
				r.MinHop = &n
				if err := p.advance(); err != nil {
					return r, err
				}
			}
			if p.isSymbol("..") {
				if err := p.advance(); err != nil {
					return r, err
				}
				if p.cur.Kind == lexer.IntLiteral {
					n, _ := strconv.Atoi(p.cur.Text)
					r.MaxHop = &n
					if err := p.advance(); err != nil {
						return r, err
					}
				}
			} else if r.MinHop != nil {
				r.MaxHop = r.MinHop
			}
			if r.MinHop == nil {
				one := 1
				r.MinHop = &one
			}
		}
		if p.isSymbol("{") {
			props, err := p.parseMapLiteral()
			if err != nil {
				return r, err
			}
			r.Properties = props
		}
		if err := p.expectSymbol("]"); err != nil {
			return r, err
		}
	}
	if err := p.expectSymbol("-"); err != nil {
		return r, err
	}
	rightArrow := false
	if p.isSymbol(">") {
		rightArrow = true
		if err := p.advance(); err != nil {
			return r, err
		}
	}
	switch {
	case leftArrow && !rightArrow:
		r.Direction = ast.DirIn
	case rightArrow && !leftArrow:
		r.Direction = ast.DirOut
	default:
		r.Direction = ast.DirBoth
	}
	return r, nil
}

// --- UNWIND / WITH / RETURN ---

func (p *parser) parseUnwind() (*ast.UnwindClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.Ident {
		return nil, p.errf("expected alias after AS")
	}
	alias := p.cur.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &ast.UnwindClause{List: list, Alias: alias}, nil
}

func (p *parser) parseWith() (*ast.WithClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	c := &ast.WithClause{}
	if p.isKeyword("DISTINCT") {
		c.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	items, err := p.parseProjectionItems()
	if err != nil {
		return nil, err
	}
	c.Items = items
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		where, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Where = where
	}
	orderBy, skip, limit, err := p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	c.OrderBy, c.Skip, c.Limit = orderBy, skip, limit
	return c, nil
}

func (p *parser) parseReturn() (*ast.ReturnClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	c := &ast.ReturnClause{}
	if p.isKeyword("DISTINCT") {
		c.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	items, err := p.parseProjectionItems()
	if err != nil {
		return nil, err
	}
	c.Items = items
	orderBy, skip, limit, err := p.parseOrderSkipLimit()
	if err != nil {
		return nil, err
	}
	c.OrderBy, c.Skip, c.Limit = orderBy, skip, limit
	return c, nil
}

func (p *parser) parseProjectionItems() ([]ast.ProjectionItem, error) {
	var items []ast.ProjectionItem
	for {
		if p.isSymbol("*") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			items = append(items, ast.ProjectionItem{Expr: ast.VariableExpr{Name: "*"}, Alias: "*"})
		} else {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			alias := defaultAlias(e)
			if p.isKeyword("AS") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if p.cur.Kind != lexer.Ident {
					return nil, p.errf("expected alias after AS")
				}
				alias = p.cur.Text
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			items = append(items, ast.ProjectionItem{Expr: e, Alias: alias})
		}
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return items, nil
}

func defaultAlias(e ast.Expr) string {
	switch v := e.(type) {
	case ast.VariableExpr:
		return v.Name
	case ast.PropertyAccess:
		return defaultAlias(v.Target) + "." + v.Key
	case ast.FunctionCallExpr:
		return v.Name
	default:
		return ""
	}
}

func (p *parser) parseOrderSkipLimit() ([]ast.OrderItem, ast.Expr, ast.Expr, error) {
	var orderBy []ast.OrderItem
	var skip, limit ast.Expr
	if p.isKeyword("ORDER") {
		if err := p.advance(); err != nil {
			return nil, nil, nil, err
		}
		if err := p.expectKeyword("BY"); err != nil {
			return nil, nil, nil, err
		}
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, nil, nil, err
			}
			desc := false
			if p.isKeyword("DESC") || p.isKeyword("DESCENDING") {
				desc = true
				if err := p.advance(); err != nil {
					return nil, nil, nil, err
				}
			} else if p.isKeyword("ASC") || p.isKeyword("ASCENDING") {
				if err := p.advance(); err != nil {
					return nil, nil, nil, err
				}
			}
			orderBy = append(orderBy, ast.OrderItem{Expr: e, Desc: desc})
			if p.isSymbol(",") {
				if err := p.advance(); err != nil {
					return nil, nil, nil, err
				}
				continue
			}
			break
		}
	}
	if p.isKeyword("SKIP") {
		if err := p.advance(); err != nil {
			return nil, nil, nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		skip = e
	}
	if p.isKeyword("LIMIT") {
		if err := p.advance(); err != nil {
			return nil, nil, nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, nil, nil, err
		}
		limit = e
	}
	return orderBy, skip, limit, nil
}

// --- CREATE / MERGE / SET / REMOVE / DELETE ---

func (p *parser) parseCreate() (*ast.CreateClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	patterns, err := p.parsePatternList()
	if err != nil {
		return nil, err
	}
	return &ast.CreateClause{Patterns: patterns}, nil
}

func (p *parser) parseMerge() (*ast.MergeClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	path, err := p.parsePatternPath()
	if err != nil {
		return nil, err
	}
	c := &ast.MergeClause{Pattern: path}
	for p.isKeyword("ON") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		switch {
		case p.isKeyword("CREATE"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			c.OnCreate = items
		case p.isKeyword("MATCH"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			items, err := p.parseSetItems()
			if err != nil {
				return nil, err
			}
			c.OnMatch = items
		default:
			return nil, p.errf("expected CREATE or MATCH after ON")
		}
	}
	return c, nil
}

func (p *parser) parseSet() (*ast.SetClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	items, err := p.parseSetItems()
	if err != nil {
		return nil, err
	}
	return &ast.SetClause{Items: items}, nil
}

func (p *parser) parseSetItems() ([]ast.SetItem, error) {
	var items []ast.SetItem
	for {
		target, err := p.parsePostfixExpr()
		if err != nil {
			return nil, err
		}
		if p.isSymbol(":") {
			// SET n:Label1:Label2
			var labels []string
			for p.isSymbol(":") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				labels = append(labels, p.cur.Text)
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			items = append(items, ast.SetItem{Kind: ast.SetLabels, Target: target, Labels: labels})
		} else if p.isSymbol("+=") || (p.isSymbol("+") && p.peek.Text == "=") {
			if p.isSymbol("+=") {
				if err := p.advance(); err != nil {
					return nil, err
				}
			} else {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			items = append(items, ast.SetItem{Kind: ast.SetAllProperties, Target: target, Value: val, Additive: true})
		} else if p.isSymbol("=") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if pa, ok := target.(ast.PropertyAccess); ok {
				items = append(items, ast.SetItem{Kind: ast.SetProperty, Target: pa.Target, Property: pa.Key, Value: val})
			} else {
				items = append(items, ast.SetItem{Kind: ast.SetAllProperties, Target: target, Value: val})
			}
		} else {
			return nil, p.errf("expected '=', '+=' or ':' in SET item")
		}
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return items, nil
}

func (p *parser) parseRemove() (*ast.RemoveClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	var items []ast.RemoveItem
	for {
		target, err := p.parsePostfixExpr()
		if err != nil {
			return nil, err
		}
		if p.isSymbol(":") {
			var labels []string
			for p.isSymbol(":") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				labels = append(labels, p.cur.Text)
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
			items = append(items, ast.RemoveItem{IsLabel: true, Target: target, Labels: labels})
		} else if pa, ok := target.(ast.PropertyAccess); ok {
			items = append(items, ast.RemoveItem{Target: pa.Target, Property: pa.Key})
		} else {
			return nil, p.errf("expected property access or label in REMOVE item")
		}
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return &ast.RemoveClause{Items: items}, nil
}

func (p *parser) parseDeleteExprs(detach bool) (*ast.DeleteClause, error) {
	var exprs []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return &ast.DeleteClause{Detach: detach, Expressions: exprs}, nil
}

func (p *parser) parseCallSubquery() (*ast.CallSubqueryClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	inner, err := p.parseQuery()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return &ast.CallSubqueryClause{Query: inner}, nil
}

func (p *parser) parseForeach() (*ast.ForeachClause, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.Ident {
		return nil, p.errf("expected variable after FOREACH (")
	}
	variable := p.cur.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("IN"); err != nil {
		return nil, err
	}
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("|"); err != nil {
		return nil, err
	}
	var updates []ast.Clause
	for !p.isSymbol(")") {
		u, err := p.parseUpdatingClause()
		if err != nil {
			return nil, err
		}
		updates = append(updates, u)
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return &ast.ForeachClause{Variable: variable, List: list, Updates: updates}, nil
}

// parseUpdatingClause parses one CREATE/MERGE/SET/REMOVE/DELETE/FOREACH
// clause — the subset FOREACH's body may contain (openCypher forbids
// MATCH/WITH/RETURN there since FOREACH has no row output of its own).
func (p *parser) parseUpdatingClause() (ast.Clause, error) {
	if err := p.step(); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("MERGE"):
		return p.parseMerge()
	case p.isKeyword("SET"):
		return p.parseSet()
	case p.isKeyword("REMOVE"):
		return p.parseRemove()
	case p.isKeyword("DETACH"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("DELETE"); err != nil {
			return nil, err
		}
		return p.parseDeleteExprs(true)
	case p.isKeyword("DELETE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseDeleteExprs(false)
	case p.isKeyword("FOREACH"):
		return p.parseForeach()
	default:
		return nil, p.errf("expected an updating clause inside FOREACH, found %q", p.cur.Text)
	}
}

// --- expressions: Pratt / precedence climbing ---

func (p *parser) parseExpr() (ast.Expr, error) {
	if err := p.step(); err != nil {
		return nil, err
	}
	return p.parseOr()
}

func (p *parser) parseOr() (ast.Expr, error) {
	left, err := p.parseXor()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseXor()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "OR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseXor() (ast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("XOR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "XOR", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (ast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "AND", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (ast.Expr, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return ast.UnaryExpr{Op: "NOT", Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[string]bool{
	"=": true, "<>": true, "<": true, "<=": true, ">": true, ">=": true,
}

func (p *parser) parseComparison() (ast.Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.cur.Kind == lexer.Symbol && comparisonOps[p.cur.Text]:
			op := p.cur.Text
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: op, Left: left, Right: right}
		case p.isSymbol("=~"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: "=~", Left: left, Right: right}
		case p.isKeyword("STARTS"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: "STARTS WITH", Left: left, Right: right}
		case p.isKeyword("ENDS"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("WITH"); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: "ENDS WITH", Left: left, Right: right}
		case p.isKeyword("CONTAINS"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: "CONTAINS", Left: left, Right: right}
		case p.isKeyword("IN"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = ast.BinaryExpr{Op: "IN", Left: left, Right: right}
		case p.isKeyword("IS"):
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.isKeyword("NOT") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.expectKeyword("NULL"); err != nil {
					return nil, err
				}
				left = ast.IsNotNullExpr{Operand: left}
				continue
			}
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			left = ast.IsNullExpr{Operand: left}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseAdditive() (ast.Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("+") || p.isSymbol("-") {
		op := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (ast.Expr, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.isSymbol("*") || p.isSymbol("/") || p.isSymbol("%") {
		op := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePower() (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.isSymbol("^") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePower() // right-associative
		if err != nil {
			return nil, err
		}
		return ast.BinaryExpr{Op: "^", Left: left, Right: right}, nil
	}
	return left, nil
}

func (p *parser) parseUnary() (ast.Expr, error) {
	if p.isSymbol("-") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.UnaryExpr{Op: "-", Operand: operand}, nil
	}
	if p.isSymbol("+") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return p.parseUnary()
	}
	return p.parsePostfixExpr()
}

func (p *parser) parsePostfixExpr() (ast.Expr, error) {
	expr, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.isSymbol(".") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.cur.Kind != lexer.Ident && p.cur.Kind != lexer.Keyword {
			return nil, p.errf("expected property name after '.'")
		}
		expr = ast.PropertyAccess{Target: expr, Key: p.cur.Text}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return expr, nil
}

func (p *parser) parsePrimary() (ast.Expr, error) {
	if err := p.step(); err != nil {
		return nil, err
	}
	switch {
	case p.cur.Kind == lexer.IntLiteral:
		n, err := strconv.ParseInt(p.cur.Text, 10, 64)
		if err != nil {
			return nil, p.errf("invalid integer literal %q", p.cur.Text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.IntLiteral{Value: n}, nil
	case p.cur.Kind == lexer.FloatLiteral:
		f, err := strconv.ParseFloat(p.cur.Text, 64)
		if err != nil {
			return nil, p.errf("invalid float literal %q", p.cur.Text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.FloatLiteral{Value: f}, nil
	case p.cur.Kind == lexer.StringLiteral:
		s := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.StringLiteral{Value: s}, nil
	case p.cur.Kind == lexer.Parameter:
		name := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.ParameterExpr{Name: name}, nil
	case p.isKeyword("TRUE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.BoolLiteral{Value: true}, nil
	case p.isKeyword("FALSE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.BoolLiteral{Value: false}, nil
	case p.isKeyword("NULL"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.NullLiteral{}, nil
	case p.isKeyword("CASE"):
		return p.parseCase()
	case p.isKeyword("EXISTS"):
		return p.parseExists()
	case p.isKeyword("ALL") && p.peek.Text == "(":
		return p.parseQuantifier("ALL")
	case p.cur.Kind == lexer.Ident && isQuantifierWord(p.cur.Text) && p.peek.Text == "(":
		return p.parseQuantifier(upperWord(p.cur.Text))
	case p.isSymbol("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isSymbol("["):
		return p.parseListLiteralOrComprehension()
	case p.isSymbol("{"):
		m, err := p.parseMapLiteral()
		if err != nil {
			return nil, err
		}
		return *m, nil
	case p.cur.Kind == lexer.Ident:
		name := p.cur.Text
		if p.peek.Kind == lexer.Symbol && p.peek.Text == "(" {
			return p.parseFunctionCall(name)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.VariableExpr{Name: name}, nil
	default:
		return nil, p.errf("unexpected token %q while parsing expression", p.cur.Text)
	}
}

func (p *parser) parseFunctionCall(name string) (ast.Expr, error) {
	if err := p.advance(); err != nil { // consume ident
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	call := ast.FunctionCallExpr{Name: name}
	if p.isKeyword("DISTINCT") {
		call.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if !p.isSymbol(")") {
		if p.isSymbol("*") {
			call.Args = append(call.Args, ast.VariableExpr{Name: "*"})
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else {
			for {
				arg, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				call.Args = append(call.Args, arg)
				if p.isSymbol(",") {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
		}
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return call, nil
}

func (p *parser) parseCase() (ast.Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	c := ast.CaseExpr{}
	if !p.isKeyword("WHEN") {
		subj, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Subject = subj
	}
	for p.isKeyword("WHEN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		when, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, ast.CaseWhen{When: when, Then: then})
	}
	if p.isKeyword("ELSE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseExists() (ast.Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	if p.isKeyword("MATCH") || p.isKeyword("OPTIONAL") || p.isKeyword("RETURN") || p.isKeyword("WITH") {
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		if err := p.expectSymbol("}"); err != nil {
			return nil, err
		}
		return ast.ExistsSubqueryExpr{Query: q}, nil
	}
	path, err := p.parsePatternPath()
	if err != nil {
		return nil, err
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return ast.ExistsPatternExpr{Pattern: path}, nil
}

func (p *parser) parseQuantifier(kind string) (ast.Expr, error) {
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectSymbol("("); err != nil {
		return nil, err
	}
	if p.cur.Kind != lexer.Ident {
		return nil, p.errf("expected variable in quantifier")
	}
	variable := p.cur.Text
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("IN"); err != nil {
		return nil, err
	}
	list, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	var where ast.Expr
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		where = w
	}
	if err := p.expectSymbol(")"); err != nil {
		return nil, err
	}
	return ast.QuantifierExpr{Kind: kind, Variable: variable, List: list, Where: where}, nil
}

func (p *parser) parseListLiteralOrComprehension() (ast.Expr, error) {
	if err := p.advance(); err != nil { // consume '['
		return nil, err
	}
	if p.isSymbol("]") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		return ast.ListLiteralExpr{}, nil
	}
	if p.cur.Kind == lexer.Ident && p.peek.Kind == lexer.Keyword && p.peek.Text == "IN" {
		variable := p.cur.Text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.advance(); err != nil { // consume IN
			return nil, err
		}
		list, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		lc := ast.ListComprehensionExpr{Variable: variable, List: list}
		if p.isKeyword("WHERE") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			w, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			lc.Where = w
		}
		if p.isSymbol("|") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			proj, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			lc.Proj = proj
		}
		if err := p.expectSymbol("]"); err != nil {
			return nil, err
		}
		return lc, nil
	}
	var items []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, e)
		if p.isSymbol(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectSymbol("]"); err != nil {
		return nil, err
	}
	return ast.ListLiteralExpr{Items: items}, nil
}

func (p *parser) parseMapLiteral() (*ast.MapLiteralExpr, error) {
	if err := p.expectSymbol("{"); err != nil {
		return nil, err
	}
	m := &ast.MapLiteralExpr{}
	if !p.isSymbol("}") {
		for {
			if p.cur.Kind != lexer.Ident && p.cur.Kind != lexer.Keyword && p.cur.Kind != lexer.StringLiteral {
				return nil, p.errf("expected map key, found %q", p.cur.Text)
			}
			key := p.cur.Text
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectSymbol(":"); err != nil {
				return nil, err
			}
			val, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, key)
			m.Values = append(m.Values, val)
			if p.isSymbol(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
	}
	if err := p.expectSymbol("}"); err != nil {
		return nil, err
	}
	return m, nil
}
