// Package index holds the persistent sorted datom indexes. Each index is a
// copy-on-write B-tree: Clone is O(1) and a clone is never affected by
// writes to the tree it was cloned from.
package index

import (
	"math"
	"sync"

	"github.com/google/btree"
	"github.com/wbrown/janus-factdb/datalog"
)

// Kind represents different index orderings
type Kind uint8

const (
	EAVT Kind = iota // Entity-Attribute-Value-Tx
	AEVT             // Attribute-Entity-Value-Tx
	AVET             // Attribute-Value-Entity-Tx, indexed and unique attributes only
	VAET             // Value-Attribute-Entity-Tx, reference attributes only

	numKinds = 4
)

func (k Kind) String() string {
	switch k {
	case EAVT:
		return "EAVT"
	case AEVT:
		return "AEVT"
	case AVET:
		return "AVET"
	case VAET:
		return "VAET"
	}
	return "unknown"
}

const degree = 32

// Prefix binds the leading N components of an index ordering. Only the
// fields that belong to the first N positions of the index are read, so
// an AVET prefix with N=2 uses A and V.
type Prefix struct {
	E datalog.EntityID
	A datalog.EntityID
	V datalog.Value
	N int
}

// Tree is one ordering over a set of datoms. A current tree holds at most
// one datom per (e, a, v); a history tree keeps every datom ever applied,
// ordered additionally by tx and added.
type Tree struct {
	kind    Kind
	history bool
	bt      *btree.BTreeG[datalog.Datom]
	mu      sync.Mutex // serializes Clone, which rewrites the tree's cow context
}

func newTree(kind Kind, history bool) *Tree {
	cmp := comparatorFor(kind)
	less := func(a, b datalog.Datom) bool {
		c := cmp(a, b)
		if c == 0 && history {
			c = compareIDs(a.Tx, b.Tx)
			if c == 0 {
				c = compareAdded(a.Added, b.Added)
			}
		}
		return c < 0
	}
	return &Tree{kind: kind, history: history, bt: btree.NewG(degree, less)}
}

// Kind returns the ordering of the tree
func (t *Tree) Kind() Kind { return t.kind }

// Len returns the number of datoms in the tree
func (t *Tree) Len() int { return t.bt.Len() }

// Clone returns a lazily copied tree
func (t *Tree) Clone() *Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &Tree{kind: t.kind, history: t.history, bt: t.bt.Clone()}
}

// Get returns the stored datom with the same key as d. For a current tree
// the key is (e, a, v).
func (t *Tree) Get(d datalog.Datom) (datalog.Datom, bool) {
	return t.bt.Get(d)
}

// Ascend visits every datom in index order until fn returns false
func (t *Tree) Ascend(fn func(datalog.Datom) bool) {
	t.bt.Ascend(fn)
}

// Seek visits the datoms whose leading components equal the prefix, in
// index order, until fn returns false
func (t *Tree) Seek(p Prefix, fn func(datalog.Datom) bool) {
	if p.N <= 0 {
		t.bt.Ascend(fn)
		return
	}
	pivot := t.pivot(p)
	t.bt.AscendGreaterOrEqual(pivot, func(d datalog.Datom) bool {
		if !t.matches(p, d) {
			return false
		}
		return fn(d)
	})
}

func (t *Tree) insert(d datalog.Datom) {
	t.bt.ReplaceOrInsert(d)
}

func (t *Tree) remove(d datalog.Datom) bool {
	_, ok := t.bt.Delete(d)
	return ok
}

// order lists which datom component sits at each index position
var order = [numKinds][3]byte{
	EAVT: {'e', 'a', 'v'},
	AEVT: {'a', 'e', 'v'},
	AVET: {'a', 'v', 'e'},
	VAET: {'v', 'a', 'e'},
}

func (t *Tree) pivot(p Prefix) datalog.Datom {
	pivot := datalog.Datom{E: math.MinInt64, A: math.MinInt64, V: nil, Tx: math.MinInt64}
	for i := 0; i < p.N && i < 3; i++ {
		switch order[t.kind][i] {
		case 'e':
			pivot.E = p.E
		case 'a':
			pivot.A = p.A
		case 'v':
			pivot.V = p.V
		}
	}
	return pivot
}

func (t *Tree) matches(p Prefix, d datalog.Datom) bool {
	for i := 0; i < p.N && i < 3; i++ {
		switch order[t.kind][i] {
		case 'e':
			if d.E != p.E {
				return false
			}
		case 'a':
			if d.A != p.A {
				return false
			}
		case 'v':
			if datalog.CompareValues(d.V, p.V) != 0 {
				return false
			}
		}
	}
	return true
}

func comparatorFor(kind Kind) func(a, b datalog.Datom) int {
	switch kind {
	case AEVT:
		return func(a, b datalog.Datom) int {
			if c := compareIDs(a.A, b.A); c != 0 {
				return c
			}
			if c := compareIDs(a.E, b.E); c != 0 {
				return c
			}
			return datalog.CompareValues(a.V, b.V)
		}
	case AVET:
		return func(a, b datalog.Datom) int {
			if c := compareIDs(a.A, b.A); c != 0 {
				return c
			}
			if c := datalog.CompareValues(a.V, b.V); c != 0 {
				return c
			}
			return compareIDs(a.E, b.E)
		}
	case VAET:
		return func(a, b datalog.Datom) int {
			if c := datalog.CompareValues(a.V, b.V); c != 0 {
				return c
			}
			if c := compareIDs(a.A, b.A); c != 0 {
				return c
			}
			return compareIDs(a.E, b.E)
		}
	default:
		return func(a, b datalog.Datom) int {
			if c := compareIDs(a.E, b.E); c != 0 {
				return c
			}
			if c := compareIDs(a.A, b.A); c != 0 {
				return c
			}
			return datalog.CompareValues(a.V, b.V)
		}
	}
}

func compareIDs(a, b datalog.EntityID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareAdded(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}
