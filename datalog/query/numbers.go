package query

import (
	"math/big"

	"github.com/wbrown/janus-factdb/datalog"
)

// ToNumber normalizes a numeric value to int64 or float64. Refs count as
// longs; bigints that fit are narrowed. ok is false for non-numbers.
func ToNumber(val interface{}) (interface{}, bool) {
	switch v := datalog.Normalize(val).(type) {
	case int64:
		return v, true
	case datalog.EntityID:
		return int64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case *big.Int:
		if v.IsInt64() {
			return v.Int64(), true
		}
		f, _ := new(big.Float).SetInt(v).Float64()
		return f, true
	case *big.Float:
		f, _ := v.Float64()
		return f, true
	}
	return nil, false
}

// ToFloat64 converts any numeric value to float64
func ToFloat64(val interface{}) (float64, bool) {
	n, ok := ToNumber(val)
	if !ok {
		return 0, false
	}
	switch v := n.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// ToInt64 converts an integral value to int64
func ToInt64(val interface{}) (int64, bool) {
	n, ok := ToNumber(val)
	if !ok {
		return 0, false
	}
	i, ok := n.(int64)
	return i, ok
}
