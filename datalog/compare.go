package datalog

import (
	"bytes"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CompareValues compares two values and returns:
//
//	-1 if left < right
//	 0 if left == right
//	 1 if left > right
//
// Values of different types are ordered by type rank, except numbers
// (long, float, double, bigint, bigdec and refs) which compare
// numerically with each other. nil is less than any non-nil value.
func CompareValues(left, right interface{}) int {
	if left == nil && right == nil {
		return 0
	}
	if left == nil {
		return -1
	}
	if right == nil {
		return 1
	}

	left = Normalize(left)
	right = Normalize(right)

	lt, lok := TypeOf(left)
	rt, rok := TypeOf(right)
	if !lok || !rok {
		// Unknown types (tuples from function results, maps) fall back
		// to their printed form so ordering is still total.
		if lok != rok {
			if lok {
				return -1
			}
			return 1
		}
		return strings.Compare(FormatValue(left), FormatValue(right))
	}

	if isNumeric(lt) && isNumeric(rt) {
		if c := compareNumbers(left, right); c != 0 || lt == rt {
			return c
		}
		return 0
	}

	if lt != rt {
		return compareInts(int64(rank(lt)), int64(rank(rt)))
	}

	switch l := left.(type) {
	case bool:
		r := right.(bool)
		if l == r {
			return 0
		}
		if !l {
			return -1
		}
		return 1
	case time.Time:
		r := right.(time.Time)
		if l.Before(r) {
			return -1
		} else if l.After(r) {
			return 1
		}
		return 0
	case Keyword:
		return l.Compare(right.(Keyword))
	case string:
		return strings.Compare(l, right.(string))
	case uuid.UUID:
		r := right.(uuid.UUID)
		return bytes.Compare(l[:], r[:])
	case *url.URL:
		return strings.Compare(l.String(), right.(*url.URL).String())
	case []byte:
		return bytes.Compare(l, right.([]byte))
	}
	return 0
}

func isNumeric(vt ValueType) bool {
	switch vt {
	case TypeLong, TypeFloat, TypeDouble, TypeBigInt, TypeBigDec, TypeRef:
		return true
	}
	return false
}

// rank collapses all numeric types into one slot
func rank(vt ValueType) ValueType {
	if isNumeric(vt) {
		return TypeLong
	}
	return vt
}

// compareNumbers compares two numeric values, exactly for integers and
// through big.Float when either side is fractional or arbitrary precision.
func compareNumbers(left, right interface{}) int {
	li, lInt := asInt64(left)
	ri, rInt := asInt64(right)
	if lInt && rInt {
		return compareInts(li, ri)
	}
	lf, lFloat := asFloat64(left)
	rf, rFloat := asFloat64(right)
	if lFloat && rFloat {
		return compareFloats(lf, rf)
	}
	return toBigFloat(left).Cmp(toBigFloat(right))
}

func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case EntityID:
		return int64(n), true
	}
	return 0, false
}

func asFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case EntityID:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func toBigFloat(v interface{}) *big.Float {
	switch n := v.(type) {
	case *big.Float:
		return n
	case *big.Int:
		return new(big.Float).SetInt(n)
	case int64:
		return new(big.Float).SetInt64(n)
	case EntityID:
		return new(big.Float).SetInt64(int64(n))
	case float32:
		return big.NewFloat(float64(n))
	case float64:
		return big.NewFloat(n)
	}
	return new(big.Float)
}

// compareInts compares two int64 values
func compareInts(a, b int64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// compareFloats compares two float64 values
func compareFloats(a, b float64) int {
	if a < b {
		return -1
	} else if a > b {
		return 1
	}
	return 0
}

// CompareDatoms orders datoms by E, A, V, Tx then Added (retractions first)
func CompareDatoms(a, b Datom) int {
	if c := compareInts(int64(a.E), int64(b.E)); c != 0 {
		return c
	}
	if c := compareInts(int64(a.A), int64(b.A)); c != 0 {
		return c
	}
	if c := CompareValues(a.V, b.V); c != 0 {
		return c
	}
	if c := compareInts(int64(a.Tx), int64(b.Tx)); c != 0 {
		return c
	}
	return compareBools(a.Added, b.Added)
}

func compareBools(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// ValuesEqual checks if two values are equal.
// It uses CompareValues for consistent equality checking.
func ValuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return av == bv
		}
	case EntityID:
		if bv, ok := b.(EntityID); ok {
			return av == bv
		}
	case Keyword:
		if bv, ok := b.(Keyword); ok {
			return av == bv
		}
	}
	return CompareValues(a, b) == 0
}
