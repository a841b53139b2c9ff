package datalog

import (
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Value represents any value that can be stored in a Datom.
// We use interface{} with direct Go types:
//
//	string       :db.type/string
//	Keyword      :db.type/keyword
//	bool         :db.type/boolean
//	int64        :db.type/long
//	float32      :db.type/float
//	float64      :db.type/double
//	*big.Int     :db.type/bigint
//	*big.Float   :db.type/bigdec
//	time.Time    :db.type/instant
//	uuid.UUID    :db.type/uuid
//	*url.URL     :db.type/uri
//	[]byte       :db.type/bytes
//	EntityID     :db.type/ref
type Value interface{}

// ValueType represents the declared type of an attribute's values.
// The numeric order is also the cross-type sort order of CompareValues.
type ValueType byte

const (
	TypeInvalid ValueType = iota
	TypeBoolean
	TypeLong
	TypeFloat
	TypeDouble
	TypeBigInt
	TypeBigDec
	TypeInstant
	TypeRef
	TypeKeyword
	TypeString
	TypeUUID
	TypeURI
	TypeBytes
)

var typeIdents = map[ValueType]string{
	TypeBoolean: ":db.type/boolean",
	TypeLong:    ":db.type/long",
	TypeFloat:   ":db.type/float",
	TypeDouble:  ":db.type/double",
	TypeBigInt:  ":db.type/bigint",
	TypeBigDec:  ":db.type/bigdec",
	TypeInstant: ":db.type/instant",
	TypeRef:     ":db.type/ref",
	TypeKeyword: ":db.type/keyword",
	TypeString:  ":db.type/string",
	TypeUUID:    ":db.type/uuid",
	TypeURI:     ":db.type/uri",
	TypeBytes:   ":db.type/bytes",
}

// AllValueTypes lists every storable type in sort order
func AllValueTypes() []ValueType {
	return []ValueType{TypeBoolean, TypeLong, TypeFloat, TypeDouble, TypeBigInt, TypeBigDec,
		TypeInstant, TypeRef, TypeKeyword, TypeString, TypeUUID, TypeURI, TypeBytes}
}

// Keyword returns the :db.type/* ident for the type
func (vt ValueType) Keyword() Keyword {
	return NewKeyword(typeIdents[vt])
}

func (vt ValueType) String() string {
	if s, ok := typeIdents[vt]; ok {
		return s
	}
	return fmt.Sprintf("ValueType(%d)", byte(vt))
}

// ValueTypeFromKeyword maps a :db.type/* ident back to its ValueType
func ValueTypeFromKeyword(k Keyword) (ValueType, bool) {
	for vt, s := range typeIdents {
		if s == k.String() {
			return vt, true
		}
	}
	return TypeInvalid, false
}

// Normalize converts convenience Go types into the canonical value types.
// Plain ints become int64, pointers to keywords are dereferenced.
func Normalize(v Value) Value {
	switch val := v.(type) {
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int8:
		return int64(val)
	case uint32:
		return int64(val)
	case uint16:
		return int64(val)
	case uint8:
		return int64(val)
	case *Keyword:
		return *val
	case url.URL:
		return &val
	}
	return v
}

// TypeOf returns the value type of a (normalized) value
func TypeOf(v Value) (ValueType, bool) {
	switch Normalize(v).(type) {
	case bool:
		return TypeBoolean, true
	case int64:
		return TypeLong, true
	case float32:
		return TypeFloat, true
	case float64:
		return TypeDouble, true
	case *big.Int:
		return TypeBigInt, true
	case *big.Float:
		return TypeBigDec, true
	case time.Time:
		return TypeInstant, true
	case EntityID:
		return TypeRef, true
	case Keyword:
		return TypeKeyword, true
	case string:
		return TypeString, true
	case uuid.UUID:
		return TypeUUID, true
	case *url.URL:
		return TypeURI, true
	case []byte:
		return TypeBytes, true
	}
	return TypeInvalid, false
}

// Coerce converts v into the representation required by vt, accepting
// the lossless conversions a caller would reasonably expect (int to long,
// long to double, string to uuid or uri, and so on).
func Coerce(v Value, vt ValueType) (Value, error) {
	v = Normalize(v)
	if t, ok := TypeOf(v); ok && t == vt {
		return v, nil
	}
	switch vt {
	case TypeLong:
		switch val := v.(type) {
		case EntityID:
			return int64(val), nil
		case *big.Int:
			if val.IsInt64() {
				return val.Int64(), nil
			}
		}
	case TypeFloat:
		switch val := v.(type) {
		case float64:
			return float32(val), nil
		case int64:
			return float32(val), nil
		}
	case TypeDouble:
		switch val := v.(type) {
		case float32:
			return float64(val), nil
		case int64:
			return float64(val), nil
		}
	case TypeBigInt:
		if val, ok := v.(int64); ok {
			return big.NewInt(val), nil
		}
	case TypeBigDec:
		switch val := v.(type) {
		case float64:
			return big.NewFloat(val), nil
		case int64:
			return new(big.Float).SetInt64(val), nil
		case *big.Int:
			return new(big.Float).SetInt(val), nil
		}
	case TypeInstant:
		if val, ok := v.(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, val)
			if err == nil {
				return ts, nil
			}
		}
	case TypeRef:
		if val, ok := v.(int64); ok {
			return EntityID(val), nil
		}
	case TypeUUID:
		if val, ok := v.(string); ok {
			id, err := uuid.Parse(val)
			if err == nil {
				return id, nil
			}
		}
	case TypeURI:
		if val, ok := v.(string); ok {
			u, err := url.Parse(val)
			if err == nil {
				return u, nil
			}
		}
	case TypeKeyword:
		if val, ok := v.(string); ok && len(val) > 1 && val[0] == ':' {
			return NewKeyword(val), nil
		}
	}
	return nil, fmt.Errorf("value %s (%T) is not a valid %s", FormatValue(v), v, vt)
}

// FormatValue renders a value in EDN notation
func FormatValue(v Value) string {
	switch val := Normalize(v).(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(val)
	case Keyword:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case *big.Int:
		return val.String() + "N"
	case *big.Float:
		return val.Text('g', -1) + "M"
	case time.Time:
		return `#inst "` + val.UTC().Format(time.RFC3339Nano) + `"`
	case uuid.UUID:
		return `#uuid "` + val.String() + `"`
	case *url.URL:
		return `#uri "` + val.String() + `"`
	case []byte:
		return fmt.Sprintf("#bytes %x", val)
	case EntityID:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
