package executor

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// Func implements a query function. A source argument ($) arrives as the
// bound source value, normally a *db.Database.
type Func func(ctx context.Context, args []interface{}) (interface{}, error)

// UserFunction is a pure function registered on an Executor by name
type UserFunction func(args ...interface{}) (interface{}, error)

var builtinFunctions = map[string]Func{
	"=":    pure(equalFn),
	"==":   pure(numEqualFn),
	"!=":   pure(notEqualFn),
	"not=": pure(notEqualFn),
	"<":    pure(chain(func(c int) bool { return c < 0 })),
	">":    pure(chain(func(c int) bool { return c > 0 })),
	"<=":   pure(chain(func(c int) bool { return c <= 0 })),
	">=":   pure(chain(func(c int) bool { return c >= 0 })),

	"+":    pure(addFn),
	"-":    pure(subFn),
	"*":    pure(mulFn),
	"/":    pure(divFn),
	"quot": pure(intOp(quotInt, func(a, b float64) float64 { return math.Trunc(a / b) })),
	"rem":  pure(intOp(func(a, b int64) int64 { return a % b }, math.Mod)),
	"mod":  pure(intOp(modInt, modFloat)),
	"inc":  pure(func(args []interface{}) (interface{}, error) { return addFn([]interface{}{args[0], int64(1)}) }),
	"dec":  pure(func(args []interface{}) (interface{}, error) { return subFn([]interface{}{args[0], int64(1)}) }),
	"max":  pure(extreme(1)),
	"min":  pure(extreme(-1)),

	"str":          pure(strFn),
	"subs":         pure(subsFn),
	"namespace":    pure(namespaceFn),
	"name":         pure(nameFn),
	"count":        pure(countFn),
	"re-find":      pure(reFn(false)),
	"re-matches":   pure(reFn(true)),
	"re-pattern":   pure(rePatternFn),
	"starts-with?": pure(stringTest(strings.HasPrefix)),
	"ends-with?":   pure(stringTest(strings.HasSuffix)),
	"includes?":    pure(stringTest(strings.Contains)),
	"upper-case":   pure(stringMap(strings.ToUpper)),
	"lower-case":   pure(stringMap(strings.ToLower)),

	"zero?":  pure(numTest(func(f float64) bool { return f == 0 })),
	"pos?":   pure(numTest(func(f float64) bool { return f > 0 })),
	"neg?":   pure(numTest(func(f float64) bool { return f < 0 })),
	"even?":  pure(parity(0)),
	"odd?":   pure(parity(1)),
	"true?":  pure(func(args []interface{}) (interface{}, error) { return args[0] == true, nil }),
	"false?": pure(func(args []interface{}) (interface{}, error) { return args[0] == false, nil }),
	"nil?":   pure(func(args []interface{}) (interface{}, error) { return args[0] == nil, nil }),
	"some?":  pure(func(args []interface{}) (interface{}, error) { return args[0] != nil, nil }),

	"identity": pure(func(args []interface{}) (interface{}, error) { return args[0], nil }),
	"ground":   pure(func(args []interface{}) (interface{}, error) { return args[0], nil }),
	"tuple":    pure(func(args []interface{}) (interface{}, error) { return append([]interface{}{}, args...), nil }),
	"vector":   pure(func(args []interface{}) (interface{}, error) { return append([]interface{}{}, args...), nil }),
	"untuple":  pure(untupleFn),

	"get-else": pure(getElseFn),
	"get-some": pure(getSomeFn),
	"missing?": pure(missingFn),
	"fulltext": pure(fulltextFn),
	"tx-ids":   txIDsFn,
	"tx-data":  txDataFn,
}

func pure(fn func(args []interface{}) (interface{}, error)) Func {
	return func(_ context.Context, args []interface{}) (interface{}, error) {
		return fn(args)
	}
}

// truthy follows Clojure: only nil and false are false
func truthy(v interface{}) bool {
	return v != nil && v != false
}

func equalFn(args []interface{}) (interface{}, error) {
	for _, a := range args[1:] {
		if !datalog.ValuesEqual(args[0], a) {
			return false, nil
		}
	}
	return true, nil
}

func numEqualFn(args []interface{}) (interface{}, error) {
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	return equalFn(nums)
}

func notEqualFn(args []interface{}) (interface{}, error) {
	eq, _ := equalFn(args)
	return !eq.(bool), nil
}

// orderable reports whether a and b can be ordered against each other:
// both numbers, or both of the same value type
func orderable(a, b interface{}) bool {
	if _, ok := query.ToNumber(a); ok {
		_, ok := query.ToNumber(b)
		return ok
	}
	ta, okA := datalog.TypeOf(a)
	tb, okB := datalog.TypeOf(b)
	return okA && okB && ta == tb
}

func chain(ok func(int) bool) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		for i := 1; i < len(args); i++ {
			if !orderable(args[i-1], args[i]) {
				return nil, fmt.Errorf("cannot compare %s with %s",
					datalog.FormatValue(args[i-1]), datalog.FormatValue(args[i]))
			}
			if !ok(datalog.CompareValues(args[i-1], args[i])) {
				return false, nil
			}
		}
		return true, nil
	}
}

func numbers(args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		n, ok := query.ToNumber(a)
		if !ok {
			return nil, fmt.Errorf("%s is not a number", datalog.FormatValue(a))
		}
		out[i] = n
	}
	return out, nil
}

// arith folds numbers left to right, staying in int64 until a double
// shows up
func arith(args []interface{}, start interface{}, intOp func(a, b int64) int64, floatOp func(a, b float64) float64) (interface{}, error) {
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	acc := start
	for _, n := range nums {
		if acc == nil {
			acc = n
			continue
		}
		ai, aInt := acc.(int64)
		bi, bInt := n.(int64)
		if aInt && bInt {
			acc = intOp(ai, bi)
			continue
		}
		af, _ := query.ToFloat64(acc)
		bf, _ := query.ToFloat64(n)
		acc = floatOp(af, bf)
	}
	return acc, nil
}

func addFn(args []interface{}) (interface{}, error) {
	return arith(args, int64(0), func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })
}

func mulFn(args []interface{}) (interface{}, error) {
	return arith(args, int64(1), func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })
}

func subFn(args []interface{}) (interface{}, error) {
	if len(args) == 1 {
		args = []interface{}{int64(0), args[0]}
	}
	return arith(args, nil, func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })
}

// divFn returns a long when the division is exact and a double otherwise
func divFn(args []interface{}) (interface{}, error) {
	if len(args) == 1 {
		args = []interface{}{int64(1), args[0]}
	}
	nums, err := numbers(args)
	if err != nil {
		return nil, err
	}
	acc := nums[0]
	for _, n := range nums[1:] {
		if f, _ := query.ToFloat64(n); f == 0 {
			return nil, fmt.Errorf("divide by zero")
		}
		ai, aInt := acc.(int64)
		bi, bInt := n.(int64)
		if aInt && bInt && ai%bi == 0 {
			acc = ai / bi
			continue
		}
		af, _ := query.ToFloat64(acc)
		bf, _ := query.ToFloat64(n)
		acc = af / bf
	}
	return acc, nil
}

func quotInt(a, b int64) int64 { return a / b }

func modInt(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func modFloat(a, b float64) float64 {
	m := math.Mod(a, b)
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func intOp(ints func(a, b int64) int64, floats func(a, b float64) float64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		nums, err := numbers(args)
		if err != nil {
			return nil, err
		}
		if f, _ := query.ToFloat64(nums[1]); f == 0 {
			return nil, fmt.Errorf("divide by zero")
		}
		ai, aInt := nums[0].(int64)
		bi, bInt := nums[1].(int64)
		if aInt && bInt {
			return ints(ai, bi), nil
		}
		af, _ := query.ToFloat64(nums[0])
		bf, _ := query.ToFloat64(nums[1])
		return floats(af, bf), nil
	}
}

func extreme(dir int) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		nums, err := numbers(args)
		if err != nil {
			return nil, err
		}
		best := nums[0]
		for _, n := range nums[1:] {
			if datalog.CompareValues(n, best)*dir > 0 {
				best = n
			}
		}
		return best, nil
	}
}

// display renders a value the way str concatenates it
func display(v interface{}) string {
	switch x := datalog.Normalize(v).(type) {
	case nil:
		return ""
	case string:
		return x
	case datalog.Keyword:
		return x.String()
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case *regexp.Regexp:
		return x.String()
	}
	return datalog.FormatValue(v)
}

func strFn(args []interface{}) (interface{}, error) {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(display(a))
	}
	return sb.String(), nil
}

func asString(v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", datalog.FormatValue(v))
	}
	return s, nil
}

func subsFn(args []interface{}) (interface{}, error) {
	s, err := asString(args[0])
	if err != nil {
		return nil, err
	}
	runes := []rune(s)
	start, ok := query.ToInt64(args[1])
	if !ok {
		return nil, fmt.Errorf("subs start must be an integer")
	}
	end := int64(len(runes))
	if len(args) > 2 {
		if end, ok = query.ToInt64(args[2]); !ok {
			return nil, fmt.Errorf("subs end must be an integer")
		}
	}
	if start < 0 || end > int64(len(runes)) || start > end {
		return nil, fmt.Errorf("subs range [%d, %d) out of bounds for length %d", start, end, len(runes))
	}
	return string(runes[start:end]), nil
}

func namespaceFn(args []interface{}) (interface{}, error) {
	kw, ok := args[0].(datalog.Keyword)
	if !ok {
		return nil, fmt.Errorf("namespace needs a keyword, got %s", datalog.FormatValue(args[0]))
	}
	if ns := kw.Namespace(); ns != "" {
		return ns, nil
	}
	return nil, nil
}

func nameFn(args []interface{}) (interface{}, error) {
	switch v := args[0].(type) {
	case datalog.Keyword:
		return v.Name(), nil
	case string:
		return v, nil
	}
	return nil, fmt.Errorf("name needs a keyword or string, got %s", datalog.FormatValue(args[0]))
}

func countFn(args []interface{}) (interface{}, error) {
	switch v := args[0].(type) {
	case nil:
		return int64(0), nil
	case string:
		return int64(utf8.RuneCountInString(v)), nil
	}
	if items, ok := asSlice(args[0]); ok {
		return int64(len(items)), nil
	}
	if rv := reflect.ValueOf(args[0]); rv.Kind() == reflect.Map {
		return int64(rv.Len()), nil
	}
	return nil, fmt.Errorf("count not supported on %s", datalog.FormatValue(args[0]))
}

func regex(v interface{}, anchored bool) (*regexp.Regexp, error) {
	var pattern string
	switch p := v.(type) {
	case *regexp.Regexp:
		if !anchored {
			return p, nil
		}
		pattern = p.String()
	case string:
		pattern = p
	default:
		return nil, fmt.Errorf("%s is not a pattern", datalog.FormatValue(v))
	}
	if anchored {
		pattern = `^(?:` + pattern + `)$`
	}
	return regexp.Compile(pattern)
}

func reFn(anchored bool) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		re, err := regex(args[0], anchored)
		if err != nil {
			return nil, err
		}
		s, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		m := re.FindStringSubmatch(s)
		if m == nil {
			return nil, nil
		}
		if len(m) == 1 {
			return m[0], nil
		}
		out := make([]interface{}, len(m))
		for i, g := range m {
			out[i] = g
		}
		return out, nil
	}
}

func rePatternFn(args []interface{}) (interface{}, error) {
	return regex(args[0], false)
}

func stringTest(test func(s, part string) bool) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		part, err := asString(args[1])
		if err != nil {
			return nil, err
		}
		return test(s, part), nil
	}
}

func stringMap(fn func(string) string) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		s, err := asString(args[0])
		if err != nil {
			return nil, err
		}
		return fn(s), nil
	}
}

func numTest(test func(float64) bool) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		f, ok := query.ToFloat64(args[0])
		if !ok {
			return nil, fmt.Errorf("%s is not a number", datalog.FormatValue(args[0]))
		}
		return test(f), nil
	}
}

func parity(want int64) func([]interface{}) (interface{}, error) {
	return func(args []interface{}) (interface{}, error) {
		n, ok := query.ToInt64(args[0])
		if !ok {
			return nil, fmt.Errorf("%s is not an integer", datalog.FormatValue(args[0]))
		}
		return modInt(n, 2) == want, nil
	}
}

func untupleFn(args []interface{}) (interface{}, error) {
	items, ok := asSlice(args[0])
	if !ok {
		return nil, fmt.Errorf("%s is not a tuple", datalog.FormatValue(args[0]))
	}
	return items, nil
}

// asSlice views sequential values (slices other than []byte) as
// []interface{}
func asSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case query.Tuple:
		return s, true
	case []byte, string, nil:
		return nil, false
	case datalog.Datom:
		return datomTuple(s), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func datomTuple(d datalog.Datom) []interface{} {
	return []interface{}{d.E, d.A, d.V, d.Tx, d.Added}
}

func asDatabase(v interface{}, fn string) (*db.Database, error) {
	d, ok := v.(*db.Database)
	if !ok {
		return nil, fmt.Errorf("%s needs a database source", fn)
	}
	return d, nil
}

func entityAttr(args []interface{}, fn string) (*db.Database, datalog.EntityID, bool, error) {
	d, err := asDatabase(args[0], fn)
	if err != nil {
		return nil, 0, false, err
	}
	e, err := d.ResolveRef(args[1])
	if err != nil {
		return d, 0, false, nil
	}
	return d, e, true, nil
}

func getElseFn(args []interface{}) (interface{}, error) {
	d, e, found, err := entityAttr(args, "get-else")
	if err != nil {
		return nil, err
	}
	if args[3] == nil {
		return nil, fmt.Errorf("get-else default must not be nil")
	}
	attr, err := d.ResolveAttr(args[2])
	if err != nil {
		return nil, err
	}
	if attr.IsMany() {
		return nil, fmt.Errorf("get-else needs a cardinality-one attribute, %s is cardinality many", attr.Ident)
	}
	if !found {
		return args[3], nil
	}
	if vals := d.Values(e, attr.ID); len(vals) > 0 {
		return vals[0], nil
	}
	return args[3], nil
}

func getSomeFn(args []interface{}) (interface{}, error) {
	d, e, found, err := entityAttr(args, "get-some")
	if err != nil || !found {
		return nil, err
	}
	for _, ref := range args[2:] {
		attr, err := d.ResolveAttr(ref)
		if err != nil {
			return nil, err
		}
		if vals := d.Values(e, attr.ID); len(vals) > 0 {
			return []interface{}{attr.ID, vals[0]}, nil
		}
	}
	return nil, nil
}

func missingFn(args []interface{}) (interface{}, error) {
	d, e, found, err := entityAttr(args, "missing?")
	if err != nil {
		return nil, err
	}
	attr, err := d.ResolveAttr(args[2])
	if err != nil {
		return nil, err
	}
	return !found || len(d.Values(e, attr.ID)) == 0, nil
}

func fulltextFn(args []interface{}) (interface{}, error) {
	d, err := asDatabase(args[0], "fulltext")
	if err != nil {
		return nil, err
	}
	attr, err := d.ResolveAttr(args[1])
	if err != nil {
		return nil, err
	}
	search, err := asString(args[2])
	if err != nil {
		return nil, err
	}
	datoms, err := d.Fulltext(attr, search)
	if err != nil {
		return nil, err
	}
	terms := strings.Fields(strings.ToLower(search))
	out := make([]interface{}, 0, len(datoms))
	for _, dt := range datoms {
		text := strings.ToLower(dt.V.(string))
		hits := 0
		for _, term := range terms {
			hits += strings.Count(text, term)
		}
		out = append(out, []interface{}{dt.E, dt.V, dt.Tx, float64(hits)})
	}
	return out, nil
}

func asLog(v interface{}, fn string) (db.TxLog, error) {
	log, ok := v.(db.TxLog)
	if !ok {
		return nil, fmt.Errorf("%s needs a log, got %T", fn, v)
	}
	return log, nil
}

// basisT reads a t, a transaction id, or nil (unbounded, returned as 0)
func basisT(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	n, ok := query.ToInt64(v)
	if !ok {
		return 0, fmt.Errorf("%s is not a t or transaction id", datalog.FormatValue(v))
	}
	return datalog.ToT(n), nil
}

func txIDsFn(ctx context.Context, args []interface{}) (interface{}, error) {
	log, err := asLog(args[0], "tx-ids")
	if err != nil {
		return nil, err
	}
	start, startInst := args[1].(time.Time)
	end, endInst := args[2].(time.Time)
	var fromT, toT int64
	if !startInst {
		if fromT, err = basisT(args[1]); err != nil {
			return nil, err
		}
	}
	if !endInst {
		if toT, err = basisT(args[2]); err != nil {
			return nil, err
		}
	}
	txs, err := log.TxRange(ctx, fromT, toT)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(txs))
	for _, tx := range txs {
		if startInst && tx.Instant.Before(start) || endInst && !tx.Instant.Before(end) {
			continue
		}
		out = append(out, tx.Tx)
	}
	return out, nil
}

func txDataFn(ctx context.Context, args []interface{}) (interface{}, error) {
	log, err := asLog(args[0], "tx-data")
	if err != nil {
		return nil, err
	}
	t, err := basisT(args[1])
	if err != nil {
		return nil, err
	}
	txs, err := log.TxRange(ctx, t, t+1)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	for _, tx := range txs {
		for _, d := range tx.Datoms {
			out = append(out, datomTuple(d))
		}
	}
	return out, nil
}
