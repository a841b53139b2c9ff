package datalog

import (
	"strings"
	"testing"
	"time"
)

func TestDatomCreation(t *testing.T) {
	alice := MakeEntityID(PartUser, 1)
	datom := Datom{
		E:     alice,
		A:     MakeEntityID(PartDB, 72),
		V:     "Alice Smith",
		Tx:    ToTx(1000),
		Added: true,
	}

	str := datom.String()
	if !strings.Contains(str, alice.String()) {
		t.Errorf("datom string should contain entity, got %s", str)
	}
	if !strings.Contains(str, `"Alice Smith"`) {
		t.Errorf("datom string should contain quoted value, got %s", str)
	}
}

func TestKeyword(t *testing.T) {
	tests := []struct {
		input     string
		str       string
		namespace string
		name      string
		reverse   bool
	}{
		{":user/name", ":user/name", "user", "name", false},
		{"user/name", ":user/name", "user", "name", false},
		{":artist/_country", ":artist/_country", "artist", "_country", true},
		{":db.part/user", ":db.part/user", "db.part", "user", false},
		{":find", ":find", "", "find", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kw := NewKeyword(tt.input)
			if kw.String() != tt.str {
				t.Errorf("expected %s, got %s", tt.str, kw.String())
			}
			if kw.Namespace() != tt.namespace {
				t.Errorf("expected namespace %q, got %q", tt.namespace, kw.Namespace())
			}
			if kw.Name() != tt.name {
				t.Errorf("expected name %q, got %q", tt.name, kw.Name())
			}
			if kw.IsReverse() != tt.reverse {
				t.Errorf("expected reverse=%v", tt.reverse)
			}
		})
	}

	if got := NewKeyword(":artist/_country").Reverse(); got != NewKeyword(":artist/country") {
		t.Errorf("reverse of reverse ref should be forward, got %s", got)
	}
	if InternKeyword(":x/y") != InternKeyword(":x/y") {
		t.Error("interning same keyword should return same pointer")
	}
}

func TestEntityIDPartitions(t *testing.T) {
	e := MakeEntityID(PartUser, 42)
	if e.Partition() != PartUser {
		t.Errorf("expected partition %d, got %d", PartUser, e.Partition())
	}
	if e.Index() != 42 {
		t.Errorf("expected index 42, got %d", e.Index())
	}

	tx := ToTx(1001)
	if tx.Partition() != PartTx {
		t.Errorf("tx id should live in the tx partition")
	}
	if ToT(int64(tx)) != 1001 {
		t.Errorf("expected t 1001, got %d", ToT(int64(tx)))
	}
	if ToT(1001) != 1001 {
		t.Error("ToT of a plain t should be the identity")
	}
}

func TestValueTypes(t *testing.T) {
	tests := []struct {
		name     string
		value    interface{}
		expected ValueType
	}{
		{"string", "Alice", TypeString},
		{"int", 42, TypeLong},
		{"long", int64(42), TypeLong},
		{"double", 3.14, TypeDouble},
		{"float", float32(1.5), TypeFloat},
		{"instant", time.Now(), TypeInstant},
		{"keyword", NewKeyword(":user/name"), TypeKeyword},
		{"boolean", true, TypeBoolean},
		{"ref", MakeEntityID(PartUser, 1), TypeRef},
		{"bytes", []byte("binary data"), TypeBytes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vt, ok := TypeOf(tt.value)
			if !ok {
				t.Fatalf("TypeOf(%v) not recognised", tt.value)
			}
			if vt != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, vt)
			}
			back, ok := ValueTypeFromKeyword(vt.Keyword())
			if !ok || back != vt {
				t.Errorf("type ident %s should map back to %s", vt.Keyword(), vt)
			}
		})
	}
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(100, TypeLong)
	if err != nil || v != int64(100) {
		t.Fatalf("int should coerce to long, got %v %v", v, err)
	}

	v, err = Coerce(int64(2), TypeDouble)
	if err != nil || v != float64(2) {
		t.Fatalf("long should coerce to double, got %v %v", v, err)
	}

	v, err = Coerce(int64(17592186045418), TypeRef)
	if err != nil || v != EntityID(17592186045418) {
		t.Fatalf("long should coerce to ref, got %v %v", v, err)
	}

	if _, err := Coerce("not a number", TypeLong); err == nil {
		t.Error("string should not coerce to long")
	}

	v, err = Coerce("678d88b2-87b0-403b-b63d-5da7465aecc3", TypeUUID)
	if err != nil {
		t.Fatalf("uuid string should coerce: %v", err)
	}
	if vt, _ := TypeOf(v); vt != TypeUUID {
		t.Errorf("expected uuid value, got %T", v)
	}
}
