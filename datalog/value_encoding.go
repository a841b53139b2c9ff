package datalog

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ValueBytes serializes a value to bytes and reports its type
func ValueBytes(v Value) (ValueType, []byte, error) {
	v = Normalize(v)
	vt, ok := TypeOf(v)
	if !ok {
		return TypeInvalid, nil, fmt.Errorf("cannot encode value type: %T", v)
	}

	switch val := v.(type) {
	case bool:
		if val {
			return vt, []byte{1}, nil
		}
		return vt, []byte{0}, nil
	case int64:
		return vt, uint64Bytes(uint64(val)), nil
	case EntityID:
		return vt, uint64Bytes(uint64(val)), nil
	case float32:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(val))
		return vt, buf, nil
	case float64:
		return vt, uint64Bytes(math.Float64bits(val)), nil
	case *big.Int:
		sign := byte(0)
		if val.Sign() < 0 {
			sign = 1
		}
		return vt, append([]byte{sign}, val.Bytes()...), nil
	case *big.Float:
		text, err := val.MarshalText()
		if err != nil {
			return vt, nil, err
		}
		return vt, text, nil
	case time.Time:
		return vt, uint64Bytes(uint64(val.UnixNano())), nil
	case Keyword:
		return vt, []byte(val.String()), nil
	case string:
		return vt, []byte(val), nil
	case uuid.UUID:
		return vt, append([]byte(nil), val[:]...), nil
	case *url.URL:
		return vt, []byte(val.String()), nil
	case []byte:
		return vt, val, nil
	}
	return TypeInvalid, nil, fmt.Errorf("cannot encode value type: %T", v)
}

func uint64Bytes(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// ValueFromBytes deserializes a value from bytes
func ValueFromBytes(vType ValueType, data []byte) (Value, error) {
	switch vType {
	case TypeBoolean:
		if len(data) != 1 {
			return nil, fmt.Errorf("bool value must be 1 byte, got %d", len(data))
		}
		return data[0] != 0, nil
	case TypeLong, TypeRef, TypeDouble, TypeInstant:
		if len(data) != 8 {
			return nil, fmt.Errorf("%s value must be 8 bytes, got %d", vType, len(data))
		}
		n := binary.BigEndian.Uint64(data)
		switch vType {
		case TypeLong:
			return int64(n), nil
		case TypeRef:
			return EntityID(n), nil
		case TypeDouble:
			return math.Float64frombits(n), nil
		default:
			return time.Unix(0, int64(n)).UTC(), nil
		}
	case TypeFloat:
		if len(data) != 4 {
			return nil, fmt.Errorf("float value must be 4 bytes, got %d", len(data))
		}
		return math.Float32frombits(binary.BigEndian.Uint32(data)), nil
	case TypeBigInt:
		if len(data) < 1 {
			return nil, fmt.Errorf("bigint value is empty")
		}
		n := new(big.Int).SetBytes(data[1:])
		if data[0] == 1 {
			n.Neg(n)
		}
		return n, nil
	case TypeBigDec:
		f := new(big.Float)
		if err := f.UnmarshalText(data); err != nil {
			return nil, fmt.Errorf("invalid bigdec: %w", err)
		}
		return f, nil
	case TypeKeyword:
		return NewKeyword(string(data)), nil
	case TypeString:
		return string(data), nil
	case TypeUUID:
		id, err := uuid.FromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid: %w", err)
		}
		return id, nil
	case TypeURI:
		u, err := url.Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("invalid uri: %w", err)
		}
		return u, nil
	case TypeBytes:
		return append([]byte(nil), data...), nil
	default:
		return nil, fmt.Errorf("unknown value type: %v", vType)
	}
}
