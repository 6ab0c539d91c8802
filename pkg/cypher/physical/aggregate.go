package physical

import (
	"sort"

	"github.com/nervusdb/nervusdb/pkg/cypher/ast"
	"github.com/nervusdb/nervusdb/pkg/cypher/eval"
	"github.com/nervusdb/nervusdb/pkg/cypher/value"
)

// AggFunc names one of the fixed aggregate functions spec §4.6 enumerates.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggCountStar
	AggSum
	AggAvg
	AggMin
	AggMax
	AggCollect
	AggPercentileCont
	AggPercentileDisc
)

// AggSpec is one aggregate projection item: `sum(DISTINCT n.age) AS total`.
type AggSpec struct {
	Alias      string
	Func       AggFunc
	Arg        ast.Expr
	Percentile ast.Expr // only for AggPercentileCont/Disc
	Distinct   bool
}

type aggState struct {
	count          int64
	sum            float64
	sumIsFloat     bool
	min, max       *value.Value
	collected      []value.Value
	seen           map[string]bool
	percentileFrac *float64
}

func newAggState() *aggState { return &aggState{seen: make(map[string]bool)} }

func (s *aggState) observeNumeric(v value.Value) {
	switch v.Kind {
	case value.KindInt:
		s.sum += float64(v.Int)
	case value.KindFloat:
		s.sum += v.Float
		s.sumIsFloat = true
	}
}

func (s *aggState) observeMinMax(v value.Value) {
	if s.min == nil || value.Compare(v, *s.min) < 0 {
		cp := v
		s.min = &cp
	}
	if s.max == nil || value.Compare(v, *s.max) > 0 {
		cp := v
		s.max = &cp
	}
}

// Aggregate is a blocking operator: it drains inner, groups rows by
// groupKeys (evaluated per row), and emits one row per distinct group
// with the group key columns plus each aggregate's alias (spec §4.6
// Aggregate, §4.5 step 4 synthetic-column rewrite already resolved the
// alias/grouping split by the time this operator runs).
func Aggregate(inner Iterator, groupKeys []ast.ProjectionItem, aggs []AggSpec, params map[string]value.Value) (Iterator, error) {
	type group struct {
		keyRow Row
		states []*aggState
	}
	order := make([]string, 0)
	groups := make(map[string]*group)

	for {
		row, ok, err := inner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		keyRow := make(Row, len(groupKeys))
		keyVals := make([]value.Value, len(groupKeys))
		for i, gk := range groupKeys {
			v, err := eval.Eval(gk.Expr, row, params)
			if err != nil {
				return nil, err
			}
			keyRow[gk.Alias] = v
			keyVals[i] = v
		}
		gk := rowKeyFromValues(keyVals)
		g, ok := groups[gk]
		if !ok {
			g = &group{keyRow: keyRow, states: make([]*aggState, len(aggs))}
			for i := range g.states {
				g.states[i] = newAggState()
			}
			groups[gk] = g
			order = append(order, gk)
		}
		for i, spec := range aggs {
			if err := accumulate(g.states[i], spec, row, params); err != nil {
				return nil, err
			}
		}
	}

	if len(order) == 0 && len(groupKeys) == 0 {
		// No input rows and no grouping keys: emit one row of identity
		// values (count=0, sum=0, collect=[]), matching openCypher's
		// "aggregation over zero rows still returns one row" rule.
		g := &group{keyRow: Row{}, states: make([]*aggState, len(aggs))}
		for i := range g.states {
			g.states[i] = newAggState()
		}
		groups[""] = g
		order = append(order, "")
	}

	idx := 0
	return IteratorFunc(func() (Row, bool, error) {
		if idx >= len(order) {
			return nil, false, nil
		}
		g := groups[order[idx]]
		idx++
		out := cloneRow(g.keyRow)
		for i, spec := range aggs {
			out[spec.Alias] = finalize(g.states[i], spec)
		}
		return out, true, nil
	}), nil
}

func rowKeyFromValues(vals []value.Value) string {
	var sb []byte
	for _, v := range vals {
		sb = append(sb, []byte(v.String())...)
		sb = append(sb, 0)
	}
	return string(sb)
}

func accumulate(s *aggState, spec AggSpec, row Row, params map[string]value.Value) error {
	if spec.Func == AggCountStar {
		s.count++
		return nil
	}
	v, err := eval.Eval(spec.Arg, row, params)
	if err != nil {
		return err
	}
	if v.IsNull() {
		return nil
	}
	if spec.Distinct {
		key := v.String()
		if s.seen[key] {
			return nil
		}
		s.seen[key] = true
	}
	switch spec.Func {
	case AggCount:
		s.count++
	case AggSum, AggAvg:
		s.count++
		s.observeNumeric(v)
	case AggMin, AggMax:
		s.observeMinMax(v)
	case AggCollect:
		s.collected = append(s.collected, v)
	case AggPercentileCont, AggPercentileDisc:
		s.collected = append(s.collected, v)
		if s.percentileFrac == nil && spec.Percentile != nil {
			fracVal, err := eval.Eval(spec.Percentile, row, params)
			if err != nil {
				return err
			}
			f := asFloat64(fracVal)
			s.percentileFrac = &f
		}
	}
	return nil
}

func asFloat64(v value.Value) float64 {
	switch v.Kind {
	case value.KindInt:
		return float64(v.Int)
	case value.KindFloat:
		return v.Float
	default:
		return 0.5
	}
}

func finalize(s *aggState, spec AggSpec) value.Value {
	switch spec.Func {
	case AggCount, AggCountStar:
		return value.Int(s.count)
	case AggSum:
		if s.sumIsFloat {
			return value.Float(s.sum)
		}
		return value.Int(int64(s.sum))
	case AggAvg:
		if s.count == 0 {
			return value.Null()
		}
		return value.Float(s.sum / float64(s.count))
	case AggMin:
		if s.min == nil {
			return value.Null()
		}
		return *s.min
	case AggMax:
		if s.max == nil {
			return value.Null()
		}
		return *s.max
	case AggCollect:
		if s.collected == nil {
			return value.List(nil)
		}
		return value.List(s.collected)
	case AggPercentileCont:
		frac := 0.5
		if s.percentileFrac != nil {
			frac = *s.percentileFrac
		}
		return PercentileFraction(s.collected, frac, true)
	case AggPercentileDisc:
		frac := 0.5
		if s.percentileFrac != nil {
			frac = *s.percentileFrac
		}
		return PercentileFraction(s.collected, frac, false)
	default:
		return value.Null()
	}
}

func percentileAt(sorted []float64, frac float64, cont bool) value.Value {
	if len(sorted) == 0 {
		return value.Null()
	}
	if frac <= 0 {
		return value.Float(sorted[0])
	}
	if frac >= 1 {
		return value.Float(sorted[len(sorted)-1])
	}
	if !cont {
		idx := int(frac * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return value.Float(sorted[idx])
	}
	pos := frac * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return value.Float(sorted[lo])
	}
	frac2 := pos - float64(lo)
	return value.Float(sorted[lo] + frac2*(sorted[hi]-sorted[lo]))
}

// PercentileFraction re-finalizes a percentile aggregate's already-collected
// samples with the caller's fraction argument, evaluated once against an
// arbitrary row from the group (openCypher requires the fraction to be
// constant across the whole aggregation).
func PercentileFraction(samples []value.Value, frac float64, cont bool) value.Value {
	nums := make([]float64, 0, len(samples))
	for _, v := range samples {
		switch v.Kind {
		case value.KindInt:
			nums = append(nums, float64(v.Int))
		case value.KindFloat:
			nums = append(nums, v.Float)
		}
	}
	sort.Float64s(nums)
	return percentileAt(nums, frac, cont)
}
