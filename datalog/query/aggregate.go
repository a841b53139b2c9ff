package query

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/wbrown/janus-factdb/datalog"
)

// Aggregator folds the values of one group. params holds the leading
// constant arguments of the find element, e.g. N in (max N ?x).
type Aggregator func(params []interface{}, values []interface{}, rng *rand.Rand) (interface{}, error)

// AggregateMetadata describes a supported aggregate
type AggregateMetadata struct {
	Name      string
	MinParams int
	MaxParams int
	Fn        Aggregator
}

var aggregates = map[string]AggregateMetadata{
	"count":          {Name: "count", Fn: countAgg},
	"count-distinct": {Name: "count-distinct", Fn: countDistinctAgg},
	"sum":            {Name: "sum", Fn: sumAgg},
	"avg":            {Name: "avg", Fn: avgAgg},
	"median":         {Name: "median", Fn: medianAgg},
	"variance":       {Name: "variance", Fn: varianceAgg},
	"stddev":         {Name: "stddev", Fn: stddevAgg},
	"min":            {Name: "min", MaxParams: 1, Fn: extremeAgg(-1)},
	"max":            {Name: "max", MaxParams: 1, Fn: extremeAgg(1)},
	"rand":           {Name: "rand", MaxParams: 1, Fn: randAgg},
	"sample":         {Name: "sample", MinParams: 1, MaxParams: 1, Fn: sampleAgg},
	"distinct":       {Name: "distinct", Fn: distinctAgg},
}

// IsAggregate reports whether name is a known aggregate
func IsAggregate(name string) bool {
	_, ok := aggregates[name]
	return ok
}

// ValidateAggregate checks the aggregate name and its constant parameters
func ValidateAggregate(a FindAggregate) error {
	meta, ok := aggregates[a.Function]
	if !ok {
		return datalog.Queryf("unknown aggregate '%s'", a.Function)
	}
	if len(a.Params) < meta.MinParams || len(a.Params) > meta.MaxParams {
		return datalog.Queryf("aggregate '%s' takes %d to %d leading arguments, got %d",
			a.Function, meta.MinParams, meta.MaxParams, len(a.Params))
	}
	for _, p := range a.Params {
		if n, ok := ToInt64(p); !ok || n < 0 {
			return datalog.Queryf("aggregate '%s' needs a non-negative integer argument, got %s",
				a.Function, datalog.FormatValue(p))
		}
	}
	if !a.Arg.IsVariable() {
		return datalog.Queryf("aggregate '%s' must be applied to a variable, got %s", a.Function, a.Arg)
	}
	return nil
}

// Aggregate applies the aggregate to the values of one group
func Aggregate(a FindAggregate, values []interface{}, rng *rand.Rand) (interface{}, error) {
	meta, ok := aggregates[a.Function]
	if !ok {
		return nil, datalog.Queryf("unknown aggregate '%s'", a.Function)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	out, err := meta.Fn(a.Params, values, rng)
	if err != nil {
		return nil, &datalog.QueryError{Clause: a.String(), Msg: "aggregate failed", Err: err}
	}
	return out, nil
}

func countAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	return int64(len(values)), nil
}

func countDistinctAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	return int64(len(distinctSorted(values))), nil
}

func distinctAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	return distinctSorted(values), nil
}

// distinctSorted returns the distinct values in CompareValues order
func distinctSorted(values []interface{}) []interface{} {
	sorted := make([]interface{}, len(values))
	copy(sorted, values)
	sort.SliceStable(sorted, func(i, j int) bool {
		return datalog.CompareValues(sorted[i], sorted[j]) < 0
	})
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || datalog.CompareValues(v, out[len(out)-1]) != 0 {
			out = append(out, v)
		}
	}
	return out
}

func numbers(values []interface{}) ([]interface{}, bool, error) {
	out := make([]interface{}, len(values))
	hasFloat := false
	for i, v := range values {
		n, ok := ToNumber(v)
		if !ok {
			return nil, false, datalog.Queryf("cannot aggregate non-numeric value %s", datalog.FormatValue(v))
		}
		if _, ok := n.(float64); ok {
			hasFloat = true
		}
		out[i] = n
	}
	return out, hasFloat, nil
}

func sumAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	nums, hasFloat, err := numbers(values)
	if err != nil {
		return nil, err
	}
	if hasFloat {
		var sum float64
		for _, n := range nums {
			f, _ := ToFloat64(n)
			sum += f
		}
		return sum, nil
	}
	var sum int64
	for _, n := range nums {
		sum += n.(int64)
	}
	return sum, nil
}

func floats(values []interface{}) ([]float64, error) {
	out := make([]float64, len(values))
	for i, v := range values {
		f, ok := ToFloat64(v)
		if !ok {
			return nil, datalog.Queryf("cannot aggregate non-numeric value %s", datalog.FormatValue(v))
		}
		out[i] = f
	}
	return out, nil
}

func avgAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	fs, err := floats(values)
	if err != nil || len(fs) == 0 {
		return nil, err
	}
	var sum float64
	for _, f := range fs {
		sum += f
	}
	return sum / float64(len(fs)), nil
}

func medianAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	nums, _, err := numbers(values)
	if err != nil || len(nums) == 0 {
		return nil, err
	}
	sort.SliceStable(nums, func(i, j int) bool { return datalog.CompareValues(nums[i], nums[j]) < 0 })
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return nums[mid], nil
	}
	a, _ := ToFloat64(nums[mid-1])
	b, _ := ToFloat64(nums[mid])
	return (a + b) / 2, nil
}

// varianceAgg computes the population variance
func varianceAgg(_ []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
	fs, err := floats(values)
	if err != nil || len(fs) == 0 {
		return nil, err
	}
	var mean float64
	for _, f := range fs {
		mean += f
	}
	mean /= float64(len(fs))
	var ss float64
	for _, f := range fs {
		ss += (f - mean) * (f - mean)
	}
	return ss / float64(len(fs)), nil
}

func stddevAgg(params []interface{}, values []interface{}, rng *rand.Rand) (interface{}, error) {
	v, err := varianceAgg(params, values, rng)
	if err != nil || v == nil {
		return nil, err
	}
	return math.Sqrt(v.(float64)), nil
}

// extremeAgg builds min (dir -1) and max (dir 1). With a count parameter
// it returns up to N distinct values, most extreme first.
func extremeAgg(dir int) Aggregator {
	return func(params []interface{}, values []interface{}, _ *rand.Rand) (interface{}, error) {
		if len(params) == 0 {
			if len(values) == 0 {
				return nil, nil
			}
			best := values[0]
			for _, v := range values[1:] {
				if datalog.CompareValues(v, best)*dir > 0 {
					best = v
				}
			}
			return best, nil
		}
		n, _ := ToInt64(params[0])
		ds := distinctSorted(values)
		if dir > 0 {
			for i, j := 0, len(ds)-1; i < j; i, j = i+1, j-1 {
				ds[i], ds[j] = ds[j], ds[i]
			}
		}
		if int64(len(ds)) > n {
			ds = ds[:n]
		}
		return ds, nil
	}
}

func randAgg(params []interface{}, values []interface{}, rng *rand.Rand) (interface{}, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(params) == 0 {
		return values[rng.IntN(len(values))], nil
	}
	n, _ := ToInt64(params[0])
	out := make([]interface{}, n)
	for i := range out {
		out[i] = values[rng.IntN(len(values))]
	}
	return out, nil
}

func sampleAgg(params []interface{}, values []interface{}, rng *rand.Rand) (interface{}, error) {
	n, _ := ToInt64(params[0])
	ds := distinctSorted(values)
	rng.Shuffle(len(ds), func(i, j int) { ds[i], ds[j] = ds[j], ds[i] })
	if int64(len(ds)) > n {
		ds = ds[:n]
	}
	return ds, nil
}
