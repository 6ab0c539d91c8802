// Package value defines the runtime Value type the evaluator and physical
// operators pass between each other: an openCypher-flavored dynamic value
// with three-valued boolean logic and a total order (spec §4.6/§4.9).
package value

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/propcodec"
)

// Kind is the dynamic type tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindDateTime
	KindList
	KindMap
	KindNode
	KindRelationship
	KindPath
)

// Node is the projected view of a graph node exposed to query evaluation:
// the overlay-patched label set and property map so write queries observe
// their own in-flight effects (spec §4.8).
type Node struct {
	ID         graph.InternalNodeId
	Labels     []graph.LabelID
	LabelNames []string
	Properties *propcodec.Map
}

// Relationship is the projected view of a graph edge.
type Relationship struct {
	Key        graph.EdgeKey
	TypeName   string
	Properties *propcodec.Map
}

// Path is an alternating node/relationship sequence, bound to a path
// variable by CREATE (pkg/writeexec). Variable-length expansion binds a
// List of relationships, not a Path.
type Path struct {
	Nodes []Node
	Rels  []Relationship
}

// Value is the dynamic, nestable value every expression evaluates to.
type Value struct {
	Kind     Kind
	Bool     bool
	Int      int64
	Float    float64
	Str      string
	DateTime int64
	List     []Value
	Map      *OrderedMap
	Node     *Node
	Rel      *Relationship
	Path     *Path
}

// OrderedMap is an insertion-ordered string-keyed Value map (the evaluator's
// own map literal / projection type, distinct from propcodec.Map which is
// the on-disk property encoding).
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

func NewMap() *OrderedMap { return &OrderedMap{values: make(map[string]Value)} }

func (m *OrderedMap) Set(k string, v Value) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

func (m *OrderedMap) Get(k string) (Value, bool) {
	v, ok := m.values[k]
	return v, ok
}

func (m *OrderedMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *OrderedMap) Len() int { return len(m.keys) }

func Null() Value             { return Value{Kind: KindNull} }
func Bool(b bool) Value       { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value       { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value   { return Value{Kind: KindFloat, Float: f} }
func String(s string) Value   { return Value{Kind: KindString, Str: s} }
func DateTime(ns int64) Value { return Value{Kind: KindDateTime, DateTime: ns} }
func List(items []Value) Value { return Value{Kind: KindList, List: items} }
func MapVal(m *OrderedMap) Value { return Value{Kind: KindMap, Map: m} }
func NodeVal(n Node) Value     { return Value{Kind: KindNode, Node: &n} }
func RelVal(r Relationship) Value { return Value{Kind: KindRelationship, Rel: &r} }
func PathVal(p Path) Value     { return Value{Kind: KindPath, Path: &p} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsTruthy implements openCypher three-valued logic: returns (value, ok)
// where ok is false if v is NULL or not a boolean (the caller treats that
// as "unknown", per spec §4.9 three-valued semantics).
func (v Value) IsTruthy() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

// FromPropValue lifts a stored propcodec.Value into the runtime Value type.
func FromPropValue(pv propcodec.Value) Value {
	switch pv.Kind {
	case propcodec.KindNull:
		return Null()
	case propcodec.KindBool:
		return Bool(pv.Bool)
	case propcodec.KindInt:
		return Int(pv.Int)
	case propcodec.KindFloat:
		return Float(pv.Float)
	case propcodec.KindString:
		return String(pv.Str)
	case propcodec.KindDateTime:
		return DateTime(pv.DateTime)
	case propcodec.KindList:
		items := make([]Value, len(pv.List))
		for i, it := range pv.List {
			items[i] = FromPropValue(it)
		}
		return List(items)
	case propcodec.KindMap:
		m := NewMap()
		if pv.Map != nil {
			for _, k := range pv.Map.Keys() {
				v, _ := pv.Map.Get(k)
				m.Set(k, FromPropValue(v))
			}
		}
		return MapVal(m)
	default:
		return Null()
	}
}

// ToPropValue lowers a runtime Value back to the storage codec's Value, for
// SET. Node/Relationship/Path cannot be stored as a property (spec §3) and
// produce ErrNotStorable.
func ToPropValue(v Value) (propcodec.Value, error) {
	switch v.Kind {
	case KindNull:
		return propcodec.Null(), nil
	case KindBool:
		return propcodec.Bool(v.Bool), nil
	case KindInt:
		return propcodec.Int(v.Int), nil
	case KindFloat:
		return propcodec.Float(v.Float), nil
	case KindString:
		return propcodec.String(v.Str), nil
	case KindDateTime:
		return propcodec.DateTime(v.DateTime), nil
	case KindList:
		items := make([]propcodec.Value, len(v.List))
		for i, it := range v.List {
			pv, err := ToPropValue(it)
			if err != nil {
				return propcodec.Value{}, err
			}
			items[i] = pv
		}
		return propcodec.List(items), nil
	case KindMap:
		if v.Map == nil {
			return propcodec.Value{}, ErrNotStorable
		}
		kindVal, ok := v.Map.Get(propcodec.DurationKindKey)
		if !ok || kindVal.Kind != KindString || kindVal.Str != propcodec.DurationKindValue {
			return propcodec.Value{}, ErrNotStorable
		}
		m := propcodec.NewMap()
		for _, k := range v.Map.Keys() {
			fv, _ := v.Map.Get(k)
			pv, err := ToPropValue(fv)
			if err != nil {
				return propcodec.Value{}, err
			}
			m.Set(k, pv)
		}
		return propcodec.MapValue(m), nil
	default:
		return propcodec.Value{}, ErrNotStorable
	}
}

// ErrNotStorable is returned by ToPropValue for Node/Relationship/Path/plain
// Map values, which the data model forbids as properties (spec §3).
var ErrNotStorable = fmt.Errorf("value: node, relationship, path, and non-duration map values cannot be stored as a property")

// Equal implements openCypher value equality: NULL = NULL yields NULL
// (reported via ok=false), lists/maps compare structurally, duration maps
// compare structurally too.
func Equal(a, b Value) (equal bool, ok bool) {
	if a.Kind == KindNull || b.Kind == KindNull {
		return false, false
	}
	if a.Kind != b.Kind {
		// Numeric cross-kind equality (Int vs Float) per openCypher.
		if (a.Kind == KindInt && b.Kind == KindFloat) || (a.Kind == KindFloat && b.Kind == KindInt) {
			af, bf := numeric(a), numeric(b)
			return af == bf, true
		}
		return false, true
	}
	switch a.Kind {
	case KindBool:
		return a.Bool == b.Bool, true
	case KindInt:
		return a.Int == b.Int, true
	case KindFloat:
		return a.Float == b.Float, true
	case KindString:
		return a.Str == b.Str, true
	case KindDateTime:
		return a.DateTime == b.DateTime, true
	case KindList:
		if len(a.List) != len(b.List) {
			return false, true
		}
		for i := range a.List {
			eq, subOK := Equal(a.List[i], b.List[i])
			if !subOK || !eq {
				return false, subOK
			}
		}
		return true, true
	case KindMap:
		ak, bk := a.Map.Keys(), b.Map.Keys()
		if len(ak) != len(bk) {
			return false, true
		}
		for _, k := range ak {
			av, _ := a.Map.Get(k)
			bv, ok2 := b.Map.Get(k)
			if !ok2 {
				return false, true
			}
			eq, subOK := Equal(av, bv)
			if !subOK || !eq {
				return false, subOK
			}
		}
		return true, true
	case KindNode:
		return a.Node.ID == b.Node.ID, true
	case KindRelationship:
		return a.Rel.Key == b.Rel.Key, true
	default:
		return false, true
	}
}

func numeric(v Value) float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

// kindOrder fixes the total order across dynamic types (spec §4.9 openCypher
// total order): Null < Bool < Number < String < List < Map < Node < Rel < Path.
func kindOrder(k Kind) int {
	switch k {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	case KindDateTime:
		return 3
	case KindString:
		return 4
	case KindList:
		return 5
	case KindMap:
		return 6
	case KindNode:
		return 7
	case KindRelationship:
		return 8
	case KindPath:
		return 9
	default:
		return 10
	}
}

var stringCollator = collate.New(language.Und)

// Compare implements the total order used by ORDER BY, min/max, and `<`-style
// comparisons once both operands are non-NULL (spec §4.6 OrderBy, §4.9).
func Compare(a, b Value) int {
	oa, ob := kindOrder(a.Kind), kindOrder(b.Kind)
	if oa != ob {
		if oa < ob {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindBool:
		return boolCompare(a.Bool, b.Bool)
	case KindInt, KindFloat:
		af, bf := numeric(a), numeric(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindDateTime:
		switch {
		case a.DateTime < b.DateTime:
			return -1
		case a.DateTime > b.DateTime:
			return 1
		default:
			return 0
		}
	case KindString:
		ak := stringCollator.KeyFromString(&collate.Buffer{}, a.Str)
		bk := stringCollator.KeyFromString(&collate.Buffer{}, b.Str)
		return strings.Compare(string(ak), string(bk))
	case KindList:
		n := len(a.List)
		if len(b.List) < n {
			n = len(b.List)
		}
		for i := 0; i < n; i++ {
			if c := Compare(a.List[i], b.List[i]); c != 0 {
				return c
			}
		}
		return len(a.List) - len(b.List)
	default:
		return 0
	}
}

func boolCompare(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// SortStable sorts rows by a multi-key comparator, each key ascending or
// descending (spec §4.6 OrderBy).
func SortStable(rows [][]Value, keyIdx []int, desc []bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		for k, idx := range keyIdx {
			c := Compare(rows[i][idx], rows[j][idx])
			if desc[k] {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// String renders a Value for debugging/explain output.
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.Bool)
	case KindInt:
		return fmt.Sprintf("%d", v.Int)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindString:
		return v.Str
	case KindDateTime:
		return fmt.Sprintf("datetime(%d)", v.DateTime)
	case KindList:
		parts := make([]string, len(v.List))
		for i, it := range v.List {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMap:
		parts := make([]string, 0, v.Map.Len())
		for _, k := range v.Map.Keys() {
			val, _ := v.Map.Get(k)
			parts = append(parts, k+": "+val.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindNode:
		return fmt.Sprintf("(node %d)", v.Node.ID)
	case KindRelationship:
		return fmt.Sprintf("[rel %v]", v.Rel.Key)
	case KindPath:
		return fmt.Sprintf("<path %d nodes>", len(v.Path.Nodes))
	default:
		return "?"
	}
}
