package datalog

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCompareValues(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		left     interface{}
		right    interface{}
		expected int
	}{
		{"nil first", nil, "a", -1},
		{"strings", "a", "b", -1},
		{"longs", int64(3), int64(2), 1},
		{"long vs double", int64(2), 2.0, 0},
		{"long vs ref", int64(5), EntityID(5), 0},
		{"bigint vs long", big.NewInt(10), int64(9), 1},
		{"bool order", false, true, -1},
		{"instants", now, now.Add(time.Second), -1},
		{"keywords", NewKeyword(":a/b"), NewKeyword(":a/c"), -1},
		{"number before string", int64(100), "1", -1},
		{"bool before number", true, int64(0), -1},
		{"string before uuid", "zzz", uuid.Nil, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CompareValues(tt.left, tt.right); got != tt.expected {
				t.Errorf("CompareValues(%v, %v) = %d, want %d", tt.left, tt.right, got, tt.expected)
			}
			if got := CompareValues(tt.right, tt.left); got != -tt.expected {
				t.Errorf("CompareValues is not antisymmetric for %v, %v", tt.left, tt.right)
			}
		})
	}
}

func TestValuesEqual(t *testing.T) {
	if !ValuesEqual(NewKeyword(":test"), NewKeyword(":test")) {
		t.Error("expected equal keywords to be equal")
	}
	if !ValuesEqual(42, int64(42)) {
		t.Error("int and int64 should be equal after normalization")
	}
	if ValuesEqual("42", int64(42)) {
		t.Error("string and long should differ")
	}
	if !ValuesEqual(EntityID(7), int64(7)) {
		t.Error("ref and long with the same number should be equal")
	}
}

func TestCompareDatoms(t *testing.T) {
	a := Datom{E: 1, A: 10, V: "x", Tx: ToTx(1), Added: true}
	b := Datom{E: 1, A: 10, V: "x", Tx: ToTx(2), Added: true}
	if CompareDatoms(a, b) >= 0 {
		t.Error("earlier tx should sort first")
	}
	c := a
	c.Added = false
	if CompareDatoms(c, a) >= 0 {
		t.Error("retraction should sort before assertion with equal key")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	var err error = &TimeoutError{Clause: "[?e :a ?v]", Err: errors.New("deadline")}
	if !IsTimeout(err) {
		t.Error("IsTimeout should recognise TimeoutError")
	}
	if IsTimeout(Queryf("bad")) {
		t.Error("QueryError must not look like a timeout")
	}

	var qe *QueryError
	if !errors.As(Queryf("unbound %s", "?x"), &qe) {
		t.Error("Queryf should build a QueryError")
	}

	ce := &ConflictError{Msg: "compare-and-swap failed", Entity: 1, Attribute: NewKeyword(":account/balance"),
		Expected: int64(100), Actual: int64(110)}
	if ce.Error() == "" {
		t.Error("conflict error should render")
	}
}
