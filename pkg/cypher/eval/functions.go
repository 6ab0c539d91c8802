package eval

import (
	"math"
	"strconv"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
	"github.com/nervusdb/nervusdb/pkg/propcodec"
)

func evalFunctionCall(e ast.FunctionCallExpr, row Row, params map[string]value.Value) (value.Value, error) {
	args := make([]value.Value, len(e.Args))
	for i, a := range e.Args {
		v, err := Eval(a, row, params)
		if err != nil {
			return value.Value{}, err
		}
		args[i] = v
	}
	fn, ok := scalarFunctions[lowerASCII(e.Name)]
	if !ok {
		return value.Value{}, errf(CodeInvalidArgumentType, "unknown function %q", e.Name)
	}
	return fn(args)
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

type scalarFunc func(args []value.Value) (value.Value, error)

var scalarFunctions map[string]scalarFunc

func init() {
	scalarFunctions = map[string]scalarFunc{
		"labels":     fnLabels,
		"type":       fnType,
		"keys":       fnKeys,
		"size":       fnSize,
		"length":     fnLength,
		"coalesce":   fnCoalesce,
		"range":      fnRange,
		"abs":        fnAbs,
		"floor":      fnFloor,
		"ceil":       fnCeil,
		"round":      fnRound,
		"sign":       fnSign,
		"sqrt":       fnSqrt,
		"tostring":   fnToString,
		"tointeger":  fnToInteger,
		"tofloat":    fnToFloat,
		"toboolean":  fnToBoolean,
		"id":         fnID,
		"properties": fnProperties,
		"head":       fnHead,
		"last":       fnLast,
		"tail":       fnTail,
		"reverse":    fnReverse,
	}
}

func arity(args []value.Value, n int) error {
	if len(args) != n {
		return errf(CodeInvalidArgumentType, "function expects %d argument(s), got %d", n, len(args))
	}
	return nil
}

func fnLabels(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind != value.KindNode {
		return value.Value{}, errf(CodeInvalidArgumentType, "labels() requires a node argument")
	}
	names := make([]value.Value, len(v.Node.LabelNames))
	for i, n := range v.Node.LabelNames {
		names[i] = value.String(n)
	}
	return value.List(names), nil
}

func fnType(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind != value.KindRelationship {
		return value.Value{}, errf(CodeInvalidArgumentType, "type() requires a relationship argument")
	}
	return value.String(v.Rel.TypeName), nil
}

func fnKeys(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	var keys []string
	switch v.Kind {
	case value.KindNode:
		keys = v.Node.Properties.Keys()
	case value.KindRelationship:
		keys = v.Rel.Properties.Keys()
	case value.KindMap:
		keys = v.Map.Keys()
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "keys() requires a node, relationship, or map argument")
	}
	out := make([]value.Value, len(keys))
	for i, k := range keys {
		out[i] = value.String(k)
	}
	return value.List(out), nil
}

func fnSize(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindList:
		return value.Int(int64(len(v.List))), nil
	case value.KindString:
		return value.Int(int64(len([]rune(v.Str)))), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "size() requires a list or string argument")
	}
}

func fnLength(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind != value.KindPath {
		return value.Value{}, errf(CodeInvalidArgumentType, "length() requires a path argument")
	}
	return value.Int(int64(len(v.Path.Rels))), nil
}

func fnCoalesce(args []value.Value) (value.Value, error) {
	for _, v := range args {
		if !v.IsNull() {
			return v, nil
		}
	}
	return value.Null(), nil
}

func fnRange(args []value.Value) (value.Value, error) {
	if len(args) != 2 && len(args) != 3 {
		return value.Value{}, errf(CodeInvalidArgumentType, "range() expects 2 or 3 arguments")
	}
	for _, a := range args {
		if a.Kind != value.KindInt {
			return value.Value{}, errf(CodeInvalidArgumentType, "range() requires integer arguments")
		}
	}
	start, end := args[0].Int, args[1].Int
	step := int64(1)
	if len(args) == 3 {
		step = args[2].Int
		if step == 0 {
			return value.Value{}, errf(CodeInvalidArgumentType, "range() step must not be zero")
		}
	}
	var out []value.Value
	if step > 0 {
		for i := start; i <= end; i += step {
			out = append(out, value.Int(i))
		}
	} else {
		for i := start; i >= end; i += step {
			out = append(out, value.Int(i))
		}
	}
	return value.List(out), nil
}

func fnAbs(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindInt:
		if v.Int == math.MinInt64 {
			return value.Value{}, errf(CodeIntegerOverflow, "abs(%d) overflows int64", v.Int)
		}
		if v.Int < 0 {
			return value.Int(-v.Int), nil
		}
		return v, nil
	case value.KindFloat:
		return value.Float(math.Abs(v.Float)), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "abs() requires a numeric argument")
	}
}

func unaryFloatFn(name string, fn func(float64) float64) scalarFunc {
	return func(args []value.Value) (value.Value, error) {
		if err := arity(args, 1); err != nil {
			return value.Value{}, err
		}
		v := args[0]
		if v.IsNull() {
			return value.Null(), nil
		}
		if !isNumeric(v) {
			return value.Value{}, errf(CodeInvalidArgumentType, "%s() requires a numeric argument", name)
		}
		return value.Float(fn(asFloat(v))), nil
	}
}

var fnFloor = unaryFloatFn("floor", math.Floor)
var fnCeil = unaryFloatFn("ceil", math.Ceil)
var fnRound = unaryFloatFn("round", math.Round)
var fnSqrt = unaryFloatFn("sqrt", math.Sqrt)

func fnSign(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if !isNumeric(v) {
		return value.Value{}, errf(CodeInvalidArgumentType, "sign() requires a numeric argument")
	}
	f := asFloat(v)
	switch {
	case f > 0:
		return value.Int(1), nil
	case f < 0:
		return value.Int(-1), nil
	default:
		return value.Int(0), nil
	}
}

func fnToString(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindString:
		return v, nil
	case value.KindInt:
		return value.String(strconv.FormatInt(v.Int, 10)), nil
	case value.KindFloat:
		return value.String(strconv.FormatFloat(v.Float, 'g', -1, 64)), nil
	case value.KindBool:
		return value.String(strconv.FormatBool(v.Bool)), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "toString() does not support %v", v.Kind)
	}
}

func fnToInteger(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindInt:
		return v, nil
	case value.KindFloat:
		return value.Int(int64(v.Float)), nil
	case value.KindString:
		n, err := strconv.ParseInt(v.Str, 10, 64)
		if err != nil {
			return value.Null(), nil
		}
		return value.Int(n), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "toInteger() does not support %v", v.Kind)
	}
}

func fnToFloat(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindFloat:
		return v, nil
	case value.KindInt:
		return value.Float(float64(v.Int)), nil
	case value.KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return value.Null(), nil
		}
		return value.Float(f), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "toFloat() does not support %v", v.Kind)
	}
}

func fnToBoolean(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindBool:
		return v, nil
	case value.KindString:
		b, err := strconv.ParseBool(v.Str)
		if err != nil {
			return value.Null(), nil
		}
		return value.Bool(b), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "toBoolean() does not support %v", v.Kind)
	}
}

func fnID(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindNode:
		return value.Int(int64(v.Node.ID)), nil
	case value.KindRelationship:
		return value.Int(int64(v.Rel.Key.Src)), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "id() requires a node or relationship argument")
	}
}

func fnProperties(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindNode:
		return propMapToValue(v.Node.Properties), nil
	case value.KindRelationship:
		return propMapToValue(v.Rel.Properties), nil
	case value.KindMap:
		return v, nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "properties() requires a node, relationship, or map argument")
	}
}

func propMapToValue(pm *propcodec.Map) value.Value {
	m := value.NewMap()
	if pm != nil {
		for _, k := range pm.Keys() {
			pv, _ := pm.Get(k)
			m.Set(k, value.FromPropValue(pv))
		}
	}
	return value.MapVal(m)
}

func fnHead(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind != value.KindList {
		return value.Value{}, errf(CodeInvalidArgumentType, "head() requires a list argument")
	}
	if len(v.List) == 0 {
		return value.Null(), nil
	}
	return v.List[0], nil
}

func fnLast(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind != value.KindList {
		return value.Value{}, errf(CodeInvalidArgumentType, "last() requires a list argument")
	}
	if len(v.List) == 0 {
		return value.Null(), nil
	}
	return v.List[len(v.List)-1], nil
}

func fnTail(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	if v.Kind != value.KindList {
		return value.Value{}, errf(CodeInvalidArgumentType, "tail() requires a list argument")
	}
	if len(v.List) == 0 {
		return value.List(nil), nil
	}
	out := make([]value.Value, len(v.List)-1)
	copy(out, v.List[1:])
	return value.List(out), nil
}

func fnReverse(args []value.Value) (value.Value, error) {
	if err := arity(args, 1); err != nil {
		return value.Value{}, err
	}
	v := args[0]
	if v.IsNull() {
		return value.Null(), nil
	}
	switch v.Kind {
	case value.KindList:
		out := make([]value.Value, len(v.List))
		for i, item := range v.List {
			out[len(v.List)-1-i] = item
		}
		return value.List(out), nil
	case value.KindString:
		r := []rune(v.Str)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return value.String(string(r)), nil
	default:
		return value.Value{}, errf(CodeInvalidArgumentType, "reverse() requires a list or string argument")
	}
}
