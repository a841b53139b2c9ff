package index

import (
	"fmt"

	"github.com/wbrown/janus-factdb/datalog"
)

// Flags describe how an attribute is indexed
type Flags uint8

const (
	Indexed   Flags = 1 << iota // datoms go to AVET
	Ref                         // datoms go to VAET
	NoHistory                   // retracted values are dropped from history
)

// Classifier reports the index flags of an attribute
type Classifier func(attr datalog.EntityID) Flags

// Set is the four current orderings plus the four history orderings as of
// one transaction. A Set handed to readers must never be applied to; the
// writer applies to its own clone and publishes a Clone of that.
type Set struct {
	current [numKinds]*Tree
	history [numKinds]*Tree
	lastTx  datalog.EntityID
	maxIdx  int64 // largest entity index seen in any partition
}

// NewSet creates an empty index set
func NewSet() *Set {
	s := &Set{}
	for k := Kind(0); k < numKinds; k++ {
		s.current[k] = newTree(k, false)
		s.history[k] = newTree(k, true)
	}
	return s
}

// Clone returns a copy-on-write copy of every index
func (s *Set) Clone() *Set {
	out := &Set{lastTx: s.lastTx, maxIdx: s.maxIdx}
	for k := Kind(0); k < numKinds; k++ {
		out.current[k] = s.current[k].Clone()
		out.history[k] = s.history[k].Clone()
	}
	return out
}

// Current returns the index of currently asserted datoms
func (s *Set) Current(k Kind) *Tree { return s.current[k] }

// History returns the index of every assertion and retraction
func (s *Set) History(k Kind) *Tree { return s.history[k] }

// LastTx returns the transaction of the last applied batch
func (s *Set) LastTx() datalog.EntityID { return s.lastTx }

// MaxIndex returns the largest entity index (or t) any applied datom
// used, across all partitions
func (s *Set) MaxIndex() int64 { return s.maxIdx }

// Len returns the number of current datoms
func (s *Set) Len() int { return s.current[EAVT].Len() }

// Apply adds one transaction's datoms. Every datom must carry the same tx
// and that tx must be greater than the last applied one. Retracting a
// datom that is not current is a fault. On error the set is left partially
// applied and must be discarded.
func (s *Set) Apply(datoms []datalog.Datom, classify Classifier) error {
	if len(datoms) == 0 {
		return nil
	}
	tx := datoms[0].Tx
	if tx <= s.lastTx {
		return &datalog.StorageFault{Op: "index apply",
			Err: fmt.Errorf("tx %d is not after last applied tx %d", tx, s.lastTx)}
	}

	for _, d := range datoms {
		if d.Tx != tx {
			return &datalog.StorageFault{Op: "index apply",
				Err: fmt.Errorf("datom %s does not belong to tx %d", d, tx)}
		}
		if i := d.E.Index(); i > s.maxIdx {
			s.maxIdx = i
		}
		flags := classify(d.A)

		if d.Added {
			s.each(flags, func(t *Tree) { t.insert(d) })
			s.eachHistory(flags, func(t *Tree) { t.insert(d) })
			continue
		}

		prior, ok := s.current[EAVT].Get(d)
		if !ok {
			return &datalog.StorageFault{Op: "index apply",
				Err: fmt.Errorf("retraction of %s which is not asserted", d)}
		}
		s.each(flags, func(t *Tree) { t.remove(prior) })
		if flags&NoHistory != 0 {
			s.eachHistory(flags, func(t *Tree) { t.remove(prior) })
		} else {
			s.eachHistory(flags, func(t *Tree) { t.insert(d) })
		}
	}
	if t := datalog.ToT(int64(tx)); t > s.maxIdx {
		s.maxIdx = t
	}
	s.lastTx = tx
	return nil
}

// Reindex adds the current and historical datoms of attr to the AVET and
// VAET orderings its flags now call for. It is used when an attribute
// gains :db/index or :db/unique after data has been written.
func (s *Set) Reindex(attr datalog.EntityID, flags Flags) {
	p := Prefix{A: attr, N: 1}
	for _, pair := range []struct {
		src  *Tree
		dest [numKinds]*Tree
	}{{s.current[AEVT], s.current}, {s.history[AEVT], s.history}} {
		pair.src.Seek(p, func(d datalog.Datom) bool {
			if flags&Indexed != 0 {
				pair.dest[AVET].insert(d)
			}
			if flags&Ref != 0 {
				pair.dest[VAET].insert(d)
			}
			return true
		})
	}
}

func (s *Set) each(flags Flags, fn func(*Tree)) {
	eachTree(s.current, flags, fn)
}

func (s *Set) eachHistory(flags Flags, fn func(*Tree)) {
	eachTree(s.history, flags, fn)
}

func eachTree(trees [numKinds]*Tree, flags Flags, fn func(*Tree)) {
	fn(trees[EAVT])
	fn(trees[AEVT])
	if flags&Indexed != 0 {
		fn(trees[AVET])
	}
	if flags&Ref != 0 {
		fn(trees[VAET])
	}
}
