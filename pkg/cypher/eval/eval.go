// Package eval implements the pure openCypher expression evaluator (spec
// §4.9): given a bound row, a parameter set, and an AST expression, it
// produces a value.Value. Node and Relationship values carried in a row
// already hold their current (possibly overlay-patched) properties, so
// the evaluator itself never touches storage — it is a function of
// (expr, row, params) alone.
package eval

import (
	"fmt"
	"math"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
)

// Row is one bound tuple of variable name to runtime value.
type Row map[string]value.Value

// Error is a coded evaluation failure, matching the stable error-code
// taxonomy the façade surfaces to callers.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errf(code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

const (
	CodeDivisionByZero      = "DivisionByZero"
	CodeIntegerOverflow     = "IntegerOverflow"
	CodeParameterMissing    = "ParameterMissing"
	CodeInvalidArgumentType = "InvalidArgumentType"
	CodeUndefinedVariable   = "UndefinedVariable"
)

// Eval evaluates expr against row and params.
func Eval(expr ast.Expr, row Row, params map[string]value.Value) (value.Value, error) {
	switch e := expr.(type) {
	case ast.NullLiteral:
		return value.Null(), nil
	case ast.BoolLiteral:
		return value.Bool(e.Value), nil
	case ast.IntLiteral:
		return value.Int(e.Value), nil
	case ast.FloatLiteral:
		return value.Float(e.Value), nil
	case ast.StringLiteral:
		return value.String(e.Value), nil
	case ast.ParameterExpr:
		v, ok := params[e.Name]
		if !ok {
			return value.Value{}, errf(CodeParameterMissing, "parameter $%s not bound", e.Name)
		}
		return v, nil
	case ast.VariableExpr:
		v, ok := row[e.Name]
		if !ok {
			return value.Value{}, errf(CodeUndefinedVariable, "variable %q not bound", e.Name)
		}
		return v, nil
	case ast.PropertyAccess:
		return evalPropertyAccess(e, row, params)
	case ast.ListLiteralExpr:
		return evalListLiteral(e, row, params)
	case ast.MapLiteralExpr:
		return evalMapLiteral(e, row, params)
	case ast.FunctionCallExpr:
		return evalFunctionCall(e, row, params)
	case ast.BinaryExpr:
		return evalBinary(e, row, params)
	case ast.UnaryExpr:
		return evalUnary(e, row, params)
	case ast.IsNullExpr:
		operand, err := Eval(e.Operand, row, params)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(operand.IsNull()), nil
	case ast.IsNotNullExpr:
		operand, err := Eval(e.Operand, row, params)
		if err != nil {
			return value.Value{}, err
		}
		return value.Bool(!operand.IsNull()), nil
	case ast.CaseExpr:
		return evalCase(e, row, params)
	case ast.ListComprehensionExpr:
		return evalListComprehension(e, row, params)
	case ast.QuantifierExpr:
		return evalQuantifier(e, row, params)
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "expression type %T cannot be evaluated here", expr)
	}
}

func evalPropertyAccess(e ast.PropertyAccess, row Row, params map[string]value.Value) (value.Value, error) {
	target, err := Eval(e.Target, row, params)
	if err != nil {
		return value.Value{}, err
	}
	switch target.Kind {
	case value.KindNode:
		if v, ok := target.Node.Properties.Get(e.Key); ok {
			return value.FromPropValue(v), nil
		}
		return value.Null(), nil
	case value.KindRelationship:
		if v, ok := target.Rel.Properties.Get(e.Key); ok {
			return value.FromPropValue(v), nil
		}
		return value.Null(), nil
	case value.KindMap:
		if target.Map != nil {
			if v, ok := target.Map.Get(e.Key); ok {
				return v, nil
			}
		}
		return value.Null(), nil
	default:
		return value.Null(), nil
	}
}

func evalListLiteral(e ast.ListLiteralExpr, row Row, params map[string]value.Value) (value.Value, error) {
	items := make([]value.Value, len(e.Items))
	for i, item := range e.Items {
		v, err := Eval(item, row, params)
		if err != nil {
			return value.Value{}, err
		}
		items[i] = v
	}
	return value.List(items), nil
}

func evalMapLiteral(e ast.MapLiteralExpr, row Row, params map[string]value.Value) (value.Value, error) {
	m := value.NewMap()
	for i, key := range e.Keys {
		v, err := Eval(e.Values[i], row, params)
		if err != nil {
			return value.Value{}, err
		}
		m.Set(key, v)
	}
	return value.MapVal(m), nil
}

func evalCase(e ast.CaseExpr, row Row, params map[string]value.Value) (value.Value, error) {
	var subject value.Value
	hasSubject := e.Subject != nil
	if hasSubject {
		s, err := Eval(e.Subject, row, params)
		if err != nil {
			return value.Value{}, err
		}
		subject = s
	}
	for _, when := range e.Whens {
		if hasSubject {
			whenVal, err := Eval(when.When, row, params)
			if err != nil {
				return value.Value{}, err
			}
			eq, ok := value.Equal(subject, whenVal)
			if ok && eq {
				return Eval(when.Then, row, params)
			}
			continue
		}
		cond, err := Eval(when.When, row, params)
		if err != nil {
			return value.Value{}, err
		}
		truthy, ok := cond.IsTruthy()
		if ok && truthy {
			return Eval(when.Then, row, params)
		}
	}
	if e.Else != nil {
		return Eval(e.Else, row, params)
	}
	return value.Null(), nil
}

func evalListComprehension(e ast.ListComprehensionExpr, row Row, params map[string]value.Value) (value.Value, error) {
	listVal, err := Eval(e.List, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if listVal.IsNull() {
		return value.Null(), nil
	}
	if listVal.Kind != value.KindList {
		return value.Value{}, errf(CodeInvalidArgumentType, "list comprehension requires a list, got %v", listVal.Kind)
	}
	var out []value.Value
	for _, item := range listVal.List {
		sub := bindRow(row, e.Variable, item)
		if e.Where != nil {
			cond, err := Eval(e.Where, sub, params)
			if err != nil {
				return value.Value{}, err
			}
			truthy, ok := cond.IsTruthy()
			if !ok || !truthy {
				continue
			}
		}
		if e.Proj == nil {
			out = append(out, item)
			continue
		}
		projected, err := Eval(e.Proj, sub, params)
		if err != nil {
			return value.Value{}, err
		}
		out = append(out, projected)
	}
	return value.List(out), nil
}

func evalQuantifier(e ast.QuantifierExpr, row Row, params map[string]value.Value) (value.Value, error) {
	listVal, err := Eval(e.List, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if listVal.IsNull() {
		return value.Null(), nil
	}
	if listVal.Kind != value.KindList {
		return value.Value{}, errf(CodeInvalidArgumentType, "quantifier requires a list, got %v", listVal.Kind)
	}
	matched := 0
	sawUnknown := false
	for _, item := range listVal.List {
		sub := bindRow(row, e.Variable, item)
		cond, err := Eval(e.Where, sub, params)
		if err != nil {
			return value.Value{}, err
		}
		truthy, ok := cond.IsTruthy()
		if !ok {
			sawUnknown = true
			continue
		}
		if truthy {
			matched++
			if e.Kind == "ANY" {
				return value.Bool(true), nil
			}
			if e.Kind == "NONE" {
				return value.Bool(false), nil
			}
			if e.Kind == "SINGLE" && matched > 1 {
				return value.Bool(false), nil
			}
		} else if e.Kind == "ALL" {
			return value.Bool(false), nil
		}
	}
	switch e.Kind {
	case "ALL":
		if sawUnknown {
			return value.Null(), nil
		}
		return value.Bool(true), nil
	case "ANY":
		if sawUnknown {
			return value.Null(), nil
		}
		return value.Bool(false), nil
	case "NONE":
		if sawUnknown {
			return value.Null(), nil
		}
		return value.Bool(true), nil
	case "SINGLE":
		return value.Bool(matched == 1), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown quantifier %q", e.Kind)
	}
}

func bindRow(row Row, name string, v value.Value) Row {
	sub := make(Row, len(row)+1)
	for k, val := range row {
		sub[k] = val
	}
	sub[name] = v
	return sub
}

func evalUnary(e ast.UnaryExpr, row Row, params map[string]value.Value) (value.Value, error) {
	operand, err := Eval(e.Operand, row, params)
	if err != nil {
		return value.Value{}, err
	}
	switch e.Op {
	case "NOT":
		if operand.IsNull() {
			return value.Null(), nil
		}
		if operand.Kind != value.KindBool {
			return value.Value{}, errf(CodeInvalidArgumentType, "NOT requires a boolean operand")
		}
		return value.Bool(!operand.Bool), nil
	case "-":
		if operand.IsNull() {
			return value.Null(), nil
		}
		switch operand.Kind {
		case value.KindInt:
			if operand.Int == math.MinInt64 {
				return value.Value{}, errf(CodeIntegerOverflow, "negation of %d overflows int64", operand.Int)
			}
			return value.Int(-operand.Int), nil
		case value.KindFloat:
			return value.Float(-operand.Float), nil
		default:
			return value.Value{}, errf(CodeInvalidArgumentType, "unary '-' requires a numeric operand")
		}
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown unary operator %q", e.Op)
	}
}

func evalBinary(e ast.BinaryExpr, row Row, params map[string]value.Value) (value.Value, error) {
	switch e.Op {
	case "AND":
		return evalAnd(e, row, params)
	case "OR":
		return evalOr(e, row, params)
	case "XOR":
		return evalXor(e, row, params)
	}

	left, err := Eval(e.Left, row, params)
	if err != nil {
		return value.Value{}, err
	}
	right, err := Eval(e.Right, row, params)
	if err != nil {
		return value.Value{}, err
	}

	switch e.Op {
	case "+", "-", "*", "/", "%", "^":
		return evalArith(e.Op, left, right)
	case "=":
		eq, ok := value.Equal(left, right)
		if !ok {
			return value.Null(), nil
		}
		return value.Bool(eq), nil
	case "<>":
		eq, ok := value.Equal(left, right)
		if !ok {
			return value.Null(), nil
		}
		return value.Bool(!eq), nil
	case "<", "<=", ">", ">=":
		return evalOrderComparison(e.Op, left, right)
	case "STARTS WITH", "ENDS WITH", "CONTAINS":
		return evalStringMatch(e.Op, left, right)
	case "=~":
		return evalRegexMatch(left, right)
	case "IN":
		return evalIn(left, right)
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown binary operator %q", e.Op)
	}
}

func evalAnd(e ast.BinaryExpr, row Row, params map[string]value.Value) (value.Value, error) {
	left, err := Eval(e.Left, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if left.Kind == value.KindBool && !left.Bool {
		return value.Bool(false), nil
	}
	right, err := Eval(e.Right, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if right.Kind == value.KindBool && !right.Bool {
		return value.Bool(false), nil
	}
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}
	if left.Kind != value.KindBool || right.Kind != value.KindBool {
		return value.Value{}, errf(CodeInvalidArgumentType, "AND requires boolean operands")
	}
	return value.Bool(true), nil
}

func evalOr(e ast.BinaryExpr, row Row, params map[string]value.Value) (value.Value, error) {
	left, err := Eval(e.Left, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if left.Kind == value.KindBool && left.Bool {
		return value.Bool(true), nil
	}
	right, err := Eval(e.Right, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if right.Kind == value.KindBool && right.Bool {
		return value.Bool(true), nil
	}
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}
	if left.Kind != value.KindBool || right.Kind != value.KindBool {
		return value.Value{}, errf(CodeInvalidArgumentType, "OR requires boolean operands")
	}
	return value.Bool(false), nil
}

func evalXor(e ast.BinaryExpr, row Row, params map[string]value.Value) (value.Value, error) {
	left, err := Eval(e.Left, row, params)
	if err != nil {
		return value.Value{}, err
	}
	right, err := Eval(e.Right, row, params)
	if err != nil {
		return value.Value{}, err
	}
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}
	if left.Kind != value.KindBool || right.Kind != value.KindBool {
		return value.Value{}, errf(CodeInvalidArgumentType, "XOR requires boolean operands")
	}
	return value.Bool(left.Bool != right.Bool), nil
}

func isNumeric(v value.Value) bool {
	return v.Kind == value.KindInt || v.Kind == value.KindFloat
}

func asFloat(v value.Value) float64 {
	if v.Kind == value.KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func evalArith(op string, left, right value.Value) (value.Value, error) {
	if left.IsNull() || right.IsNull() {
		if op == "+" && (left.Kind == value.KindString || right.Kind == value.KindString) {
			return value.Null(), nil
		}
		return value.Null(), nil
	}
	if op == "+" {
		if left.Kind == value.KindString && right.Kind == value.KindString {
			return value.String(left.Str + right.Str), nil
		}
		if left.Kind == value.KindList || right.Kind == value.KindList {
			return concatLists(left, right), nil
		}
		if left.Kind == value.KindString || right.Kind == value.KindString {
			return value.Null(), nil
		}
	}
	if !isNumeric(left) || !isNumeric(right) {
		return value.Value{}, errf(CodeInvalidArgumentType, "arithmetic operator %q requires numeric operands", op)
	}
	if left.Kind == value.KindInt && right.Kind == value.KindInt {
		return evalIntArith(op, left.Int, right.Int)
	}
	l, r := asFloat(left), asFloat(right)
	switch op {
	case "+":
		return value.Float(l + r), nil
	case "-":
		return value.Float(l - r), nil
	case "*":
		return value.Float(l * r), nil
	case "/":
		if r == 0 {
			return value.Value{}, errf(CodeDivisionByZero, "division by zero")
		}
		return value.Float(l / r), nil
	case "%":
		return value.Float(math.Mod(l, r)), nil
	case "^":
		return value.Float(math.Pow(l, r)), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown arithmetic operator %q", op)
	}
}

func concatLists(left, right value.Value) value.Value {
	var out []value.Value
	if left.Kind == value.KindList {
		out = append(out, left.List...)
	} else {
		out = append(out, left)
	}
	if right.Kind == value.KindList {
		out = append(out, right.List...)
	} else {
		out = append(out, right)
	}
	return value.List(out)
}

func evalIntArith(op string, l, r int64) (value.Value, error) {
	switch op {
	case "+":
		sum := l + r
		if (r > 0 && sum < l) || (r < 0 && sum > l) {
			return value.Value{}, errf(CodeIntegerOverflow, "%d + %d overflows int64", l, r)
		}
		return value.Int(sum), nil
	case "-":
		diff := l - r
		if (r < 0 && diff < l) || (r > 0 && diff > l) {
			return value.Value{}, errf(CodeIntegerOverflow, "%d - %d overflows int64", l, r)
		}
		return value.Int(diff), nil
	case "*":
		if l == 0 || r == 0 {
			return value.Int(0), nil
		}
		prod := l * r
		if prod/r != l {
			return value.Value{}, errf(CodeIntegerOverflow, "%d * %d overflows int64", l, r)
		}
		return value.Int(prod), nil
	case "/":
		if r == 0 {
			return value.Value{}, errf(CodeDivisionByZero, "division by zero")
		}
		if l == math.MinInt64 && r == -1 {
			return value.Value{}, errf(CodeIntegerOverflow, "%d / %d overflows int64", l, r)
		}
		return value.Int(l / r), nil
	case "%":
		if r == 0 {
			return value.Value{}, errf(CodeDivisionByZero, "modulo by zero")
		}
		return value.Int(l % r), nil
	case "^":
		return value.Float(math.Pow(float64(l), float64(r))), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown arithmetic operator %q", op)
	}
}

func evalOrderComparison(op string, left, right value.Value) (value.Value, error) {
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}
	cmp := value.Compare(left, right)
	switch op {
	case "<":
		return value.Bool(cmp < 0), nil
	case "<=":
		return value.Bool(cmp <= 0), nil
	case ">":
		return value.Bool(cmp > 0), nil
	case ">=":
		return value.Bool(cmp >= 0), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown comparison operator %q", op)
	}
}

func evalStringMatch(op string, left, right value.Value) (value.Value, error) {
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}
	if left.Kind != value.KindString || right.Kind != value.KindString {
		return value.Null(), nil
	}
	switch op {
	case "STARTS WITH":
		return value.Bool(len(left.Str) >= len(right.Str) && left.Str[:len(right.Str)] == right.Str), nil
	case "ENDS WITH":
		return value.Bool(len(left.Str) >= len(right.Str) && left.Str[len(left.Str)-len(right.Str):] == right.Str), nil
	case "CONTAINS":
		return value.Bool(stringContains(left.Str, right.Str)), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown string operator %q", op)
	}
}

func stringContains(haystack, needle string) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func evalRegexMatch(left, right value.Value) (value.Value, error) {
	if left.IsNull() || right.IsNull() {
		return value.Null(), nil
	}
	if left.Kind != value.KindString || right.Kind != value.KindString {
		return value.Value{}, errf(CodeInvalidArgumentType, "=~ requires string operands")
	}
	re, err := compileRegex(right.Str)
	if err != nil {
		return value.Value{}, errf(CodeInvalidArgumentType, "invalid regular expression: %v", err)
	}
	return value.Bool(re.MatchString(left.Str)), nil
}

func evalIn(left, right value.Value) (value.Value, error) {
	if right.IsNull() {
		return value.Null(), nil
	}
	if right.Kind != value.KindList {
		return value.Value{}, errf(CodeInvalidArgumentType, "IN requires a list on the right-hand side")
	}
	if left.IsNull() {
		return value.Null(), nil
	}
	sawUnknown := false
	for _, item := range right.List {
		eq, ok := value.Equal(left, item)
		if !ok {
			sawUnknown = true
			continue
		}
		if eq {
			return value.Bool(true), nil
		}
	}
	if sawUnknown {
		return value.Null(), nil
	}
	return value.Bool(false), nil
}
