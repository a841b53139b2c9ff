// Package db provides immutable database values: a point-in-time set of
// indexes plus the schema, with as-of, since, history and filtered views.
package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/index"
)

// Predicate decides whether a datom is visible in a filtered database.
// It receives the database without any filters applied.
type Predicate func(db *Database, d datalog.Datom) bool

// Database is an immutable database value. All methods are safe for
// concurrent use and never block the writer.
type Database struct {
	idx      *index.Set
	schema   *Schema
	timeline *Timeline
	basisT   int64
	asOfT    int64 // -1 when not an as-of view
	sinceT   int64 // -1 when not a since view
	history  bool
	filters  []Predicate
}

// Writer owns the mutable index set behind a connection's database
// values. It is used by exactly one goroutine.
type Writer struct {
	working  *index.Set
	schema   *Schema
	timeline *Timeline
	current  *Database
	fault    error
}

// NewWriter creates a writer holding only the system schema
func NewWriter() (*Writer, error) {
	w := &Writer{working: index.NewSet(), schema: newSchema(), timeline: &Timeline{}}
	datoms := bootstrapDatoms()
	if err := w.working.Apply(datoms, bootstrapClassifier); err != nil {
		return nil, err
	}
	w.schema, _ = w.schema.derive(datoms, w.working)
	w.publish(0)
	return w, nil
}

// DB returns the latest published database value
func (w *Writer) DB() *Database { return w.current }

// Apply adds one transaction's datoms and publishes the resulting value.
// A failure leaves the writer faulted: every later Apply returns the same
// error.
func (w *Writer) Apply(t int64, datoms []datalog.Datom) (*Database, error) {
	if w.fault != nil {
		return nil, w.fault
	}
	if err := w.working.Apply(datoms, w.schema.Classify); err != nil {
		w.fault = err
		return nil, err
	}
	next, grown := w.schema.derive(datoms, w.working)
	for _, a := range grown {
		w.working.Reindex(a.ID, a.flags())
	}
	w.schema = next
	return w.publish(t), nil
}

func (w *Writer) publish(t int64) *Database {
	snap := snapshot{t: t, idx: w.working.Clone(), schema: w.schema}
	w.timeline.add(snap)
	w.current = &Database{
		idx: snap.idx, schema: snap.schema, timeline: w.timeline,
		basisT: t, asOfT: -1, sinceT: -1,
	}
	return w.current
}

// With applies datoms to a private copy of db without touching any log.
// The result behaves like a database committed at t.
func (db *Database) With(t int64, datoms []datalog.Datom) (*Database, error) {
	set := db.idx.Clone()
	if err := set.Apply(datoms, db.schema.Classify); err != nil {
		return nil, err
	}
	schema, grown := db.schema.derive(datoms, set)
	for _, a := range grown {
		set.Reindex(a.ID, a.flags())
	}
	tl := db.timeline.fork(db.effectiveT())
	tl.add(snapshot{t: t, idx: set, schema: schema})
	return &Database{idx: set, schema: schema, timeline: tl, basisT: t, asOfT: -1, sinceT: -1}, nil
}

// BasisT returns the t of the latest transaction in this database
func (db *Database) BasisT() int64 { return db.basisT }

// NextIndex returns the first entity index this database has not used.
// Transactions draw t and new entity indexes from one counter.
func (db *Database) NextIndex() int64 {
	if n := db.idx.MaxIndex() + 1; n > FirstUserIndex {
		return n
	}
	return FirstUserIndex
}

// AsOfT returns the as-of point, or -1
func (db *Database) AsOfT() int64 { return db.asOfT }

// SinceT returns the since point, or -1
func (db *Database) SinceT() int64 { return db.sinceT }

// IsHistory reports whether the database shows retractions
func (db *Database) IsHistory() bool { return db.history }

// IsFiltered reports whether any predicate filter applies
func (db *Database) IsFiltered() bool { return len(db.filters) > 0 }

// Schema returns the schema as of this database
func (db *Database) Schema() *Schema { return db.schema }

func (db *Database) effectiveT() int64 {
	if db.asOfT >= 0 {
		return db.asOfT
	}
	return db.basisT
}

// AsOf returns the database as of a point in time: a t, a tx entity id
// or a time.Time compared against :db/txInstant
func (db *Database) AsOf(point interface{}) *Database {
	t := db.resolveT(point)
	if limit := db.effectiveT(); t > limit {
		t = limit
	}
	out := *db
	out.asOfT = t
	if snap, ok := db.timeline.at(t); ok {
		out.idx = snap.idx
		out.schema = snap.schema
	}
	return &out
}

// Since returns the database restricted to datoms added after point
func (db *Database) Since(point interface{}) *Database {
	out := *db
	out.sinceT = db.resolveT(point)
	return &out
}

// History returns a view over every assertion and retraction
func (db *Database) History() *Database {
	out := *db
	out.history = true
	return &out
}

// Filter returns a database where only datoms accepted by pred (and by
// any existing filter) are visible
func (db *Database) Filter(pred Predicate) *Database {
	out := *db
	out.filters = append(append([]Predicate(nil), db.filters...), pred)
	return &out
}

// Unfiltered returns the database without predicate filters
func (db *Database) Unfiltered() *Database {
	if len(db.filters) == 0 {
		return db
	}
	out := *db
	out.filters = nil
	return &out
}

func (db *Database) resolveT(point interface{}) int64 {
	switch p := point.(type) {
	case time.Time:
		return db.tAtInstant(p)
	case datalog.EntityID:
		return datalog.ToT(int64(p))
	case int:
		return datalog.ToT(int64(p))
	case int64:
		return datalog.ToT(p)
	}
	return db.basisT
}

// tAtInstant finds the last transaction committed at or before when
func (db *Database) tAtInstant(when time.Time) int64 {
	var t int64
	db.idx.Current(index.AVET).Seek(index.Prefix{A: AttrTxInstant, N: 1}, func(d datalog.Datom) bool {
		if inst, ok := d.V.(time.Time); !ok || inst.After(when) {
			return false
		}
		t = datalog.ToT(int64(d.E))
		return true
	})
	return t
}

func (db *Database) visible(d datalog.Datom) bool {
	if db.sinceT >= 0 && d.Tx <= datalog.ToTx(db.sinceT) {
		return false
	}
	if len(db.filters) > 0 {
		raw := db.Unfiltered()
		for _, pred := range db.filters {
			if !pred(raw, d) {
				return false
			}
		}
	}
	return true
}

// Seek visits the visible datoms matching prefix in the given ordering.
// AVET requests on attributes without an AVET index are answered from
// AEVT, so results are then ordered by entity.
func (db *Database) Seek(kind index.Kind, p index.Prefix, fn func(datalog.Datom) bool) {
	if kind == index.AVET && p.N >= 1 {
		if a, ok := db.schema.Attr(p.A); !ok || !a.Indexed() {
			db.seekUnindexed(p, fn)
			return
		}
	}
	tree := db.idx.Current(kind)
	if db.history {
		tree = db.idx.History(kind)
	}
	tree.Seek(p, func(d datalog.Datom) bool {
		if !db.visible(d) {
			return true
		}
		return fn(d)
	})
}

func (db *Database) seekUnindexed(p index.Prefix, fn func(datalog.Datom) bool) {
	db.Seek(index.AEVT, index.Prefix{A: p.A, N: 1}, func(d datalog.Datom) bool {
		if p.N >= 2 && datalog.CompareValues(d.V, p.V) != 0 {
			return true
		}
		if p.N >= 3 && d.E != p.E {
			return true
		}
		return fn(d)
	})
}

// Datoms returns the datoms of an index whose leading components equal
// components. Entity and attribute components may be idents or lookup
// refs.
func (db *Database) Datoms(kind index.Kind, components ...interface{}) ([]datalog.Datom, error) {
	if len(components) > 3 {
		return nil, datalog.Validationf("at most 3 index components, got %d", len(components))
	}
	p := index.Prefix{N: len(components)}
	var attr *Attribute
	positions := map[index.Kind]string{index.EAVT: "eav", index.AEVT: "aev", index.AVET: "ave", index.VAET: "vae"}[kind]
	for i, c := range components {
		switch positions[i] {
		case 'e':
			id, err := db.ResolveRef(c)
			if err != nil {
				return nil, err
			}
			p.E = id
		case 'a':
			a, err := db.ResolveAttr(c)
			if err != nil {
				return nil, err
			}
			attr = a
			p.A = a.ID
		case 'v':
			p.V = c
		}
	}
	if kind == index.VAET {
		if id, err := db.ResolveRef(p.V); err == nil && p.N > 0 {
			p.V = id
		}
	} else if attr != nil && p.N > 1 {
		v, err := db.CoerceValue(attr, p.V)
		if err != nil {
			return nil, err
		}
		p.V = v
	}

	var out []datalog.Datom
	db.Seek(kind, p, func(d datalog.Datom) bool {
		out = append(out, d)
		return true
	})
	return out, nil
}

// CoerceValue converts v to attr's value type. Reference attributes accept
// idents and lookup refs.
func (db *Database) CoerceValue(attr *Attribute, v interface{}) (datalog.Value, error) {
	if attr.IsRef() {
		switch v.(type) {
		case datalog.EntityID, int, int64, int32:
		default:
			return db.ResolveRef(v)
		}
	}
	out, err := datalog.Coerce(v, attr.ValueType)
	if err != nil {
		return nil, &datalog.ValidationError{Msg: fmt.Sprintf("attribute %s", attr.Ident), Err: err}
	}
	return out, nil
}

// Entid resolves an entity reference without reporting why it failed
func (db *Database) Entid(ref interface{}) (datalog.EntityID, bool) {
	id, err := db.ResolveRef(ref)
	return id, err == nil
}

// ResolveRef resolves an entity id, an ident keyword or a lookup ref
// [attr value] to an entity id
func (db *Database) ResolveRef(ref interface{}) (datalog.EntityID, error) {
	switch r := ref.(type) {
	case datalog.EntityID:
		return r, nil
	case int:
		return datalog.EntityID(r), nil
	case int64:
		return datalog.EntityID(r), nil
	case int32:
		return datalog.EntityID(r), nil
	case datalog.Keyword:
		if id, ok := db.schema.Entid(r); ok {
			return id, nil
		}
		return 0, datalog.Validationf("unknown ident %s", r)
	case *datalog.Keyword:
		return db.ResolveRef(*r)
	case string:
		if strings.HasPrefix(r, ":") {
			return db.ResolveRef(datalog.NewKeyword(r))
		}
	case []interface{}:
		if len(r) == 2 {
			return db.lookupRef(r[0], r[1])
		}
	}
	return 0, datalog.Validationf("cannot resolve entity reference %s", datalog.FormatValue(ref))
}

func (db *Database) lookupRef(attrRef, value interface{}) (datalog.EntityID, error) {
	attr, err := db.ResolveAttr(attrRef)
	if err != nil {
		return 0, err
	}
	if attr.Unique == UniqueNone {
		return 0, datalog.Validationf("lookup ref attribute %s is not unique", attr.Ident)
	}
	v, err := db.CoerceValue(attr, value)
	if err != nil {
		return 0, err
	}
	var found datalog.EntityID
	ok := false
	db.Seek(index.AVET, index.Prefix{A: attr.ID, V: v, N: 2}, func(d datalog.Datom) bool {
		if d.Added {
			found, ok = d.E, true
			return false
		}
		return true
	})
	if !ok {
		return 0, datalog.Validationf("no entity with %s %s", attr.Ident, datalog.FormatValue(v))
	}
	return found, nil
}

// ResolveAttr resolves an attribute reference (ident, id or lookup ref)
func (db *Database) ResolveAttr(ref interface{}) (*Attribute, error) {
	if kw, ok := ref.(datalog.Keyword); ok {
		if a, ok := db.schema.AttrByIdent(kw); ok {
			return a, nil
		}
		return nil, datalog.Validationf("unknown attribute %s", kw)
	}
	id, err := db.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	if a, ok := db.schema.Attr(id); ok {
		return a, nil
	}
	return nil, datalog.Validationf("entity %d is not an attribute", id)
}

// Attribute returns the attribute named by ref
func (db *Database) Attribute(ref interface{}) (*Attribute, bool) {
	a, err := db.ResolveAttr(ref)
	return a, err == nil
}

// Ident returns the ident of an entity
func (db *Database) Ident(id datalog.EntityID) (datalog.Keyword, bool) {
	return db.schema.Ident(id)
}

// Values returns the visible values of e's attribute a in index order
func (db *Database) Values(e, a datalog.EntityID) []datalog.Value {
	var out []datalog.Value
	db.Seek(index.EAVT, index.Prefix{E: e, A: a, N: 2}, func(d datalog.Datom) bool {
		if d.Added {
			out = append(out, d.V)
		}
		return true
	})
	return out
}

// Referrers returns the entities whose attribute a references v
func (db *Database) Referrers(v, a datalog.EntityID) []datalog.EntityID {
	var out []datalog.EntityID
	db.Seek(index.VAET, index.Prefix{V: v, A: a, N: 2}, func(d datalog.Datom) bool {
		if d.Added {
			out = append(out, d.E)
		}
		return true
	})
	return out
}

// TxInstant returns the :db/txInstant of a transaction
func (db *Database) TxInstant(tx datalog.EntityID) (time.Time, bool) {
	for _, v := range db.Unfiltered().Values(tx, AttrTxInstant) {
		if t, ok := v.(time.Time); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Fulltext returns the datoms of a fulltext attribute whose string value
// contains every whitespace separated term of search, ignoring case
func (db *Database) Fulltext(attr *Attribute, search string) ([]datalog.Datom, error) {
	if !attr.Fulltext {
		return nil, datalog.Validationf("attribute %s is not :db/fulltext", attr.Ident)
	}
	terms := strings.Fields(strings.ToLower(search))
	var out []datalog.Datom
	db.Seek(index.AEVT, index.Prefix{A: attr.ID, N: 1}, func(d datalog.Datom) bool {
		s, ok := d.V.(string)
		if !ok || !d.Added {
			return true
		}
		lower := strings.ToLower(s)
		for _, term := range terms {
			if !strings.Contains(lower, term) {
				return true
			}
		}
		out = append(out, d)
		return true
	})
	return out, nil
}
