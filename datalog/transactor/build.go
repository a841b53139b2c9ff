package transactor

import (
	"fmt"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/index"
)

type eav struct {
	e, a datalog.EntityID
	v    string
}

func keyOf(e, a datalog.EntityID, v datalog.Value) eav {
	return eav{e, a, datalog.FormatValue(v)}
}

// builder accumulates the datoms of one transaction
type builder struct {
	before   *db.Database
	tx       datalog.EntityID
	asserts  []datalog.Datom
	retracts []datalog.Datom
	added    map[eav]bool
	removed  map[eav]bool
	uniques  map[eav]datalog.EntityID // a and v only
}

func (b *builder) retract(d datalog.Datom) {
	k := keyOf(d.E, d.A, d.V)
	if b.removed[k] {
		return
	}
	b.removed[k] = true
	b.retracts = append(b.retracts, datalog.Datom{E: d.E, A: d.A, V: d.V, Tx: b.tx, Added: false})
}

func (b *builder) current(e, a datalog.EntityID) []datalog.Value {
	return b.before.Values(e, a)
}

func (b *builder) has(e, a datalog.EntityID, v datalog.Value) bool {
	for _, cur := range b.current(e, a) {
		if datalog.ValuesEqual(cur, v) {
			return true
		}
	}
	return false
}

// build produces the transaction's datoms: retractions first, then
// assertions, with redundant assertions elided
func (p *pipeline) build(ops []resolved, instant time.Time) ([]datalog.Datom, error) {
	b := &builder{
		before:  p.before.Unfiltered(),
		tx:      p.tx,
		added:   make(map[eav]bool),
		removed: make(map[eav]bool),
		uniques: make(map[eav]datalog.EntityID),
	}

	txInstant, _ := p.before.Attribute(db.AttrTxInstant)
	adds := []resolved{{kind: opAdd, e: p.tx, attr: txInstant, v: instant}}

	for _, o := range ops {
		switch o.kind {
		case opAdd:
			if o.e == p.tx && o.attr.ID == db.AttrTxInstant {
				continue
			}
			adds = append(adds, o)
		case opCAS:
			cur := b.current(o.e, o.attr.ID)
			var actual datalog.Value
			if len(cur) > 0 {
				actual = cur[0]
			}
			if (o.old == nil) != (actual == nil) || (o.old != nil && !datalog.ValuesEqual(o.old, actual)) {
				return nil, &datalog.ConflictError{Msg: "compare-and-swap failed",
					Entity: o.e, Attribute: o.attr.Ident, Expected: o.old, Actual: actual}
			}
			adds = append(adds, resolved{kind: opAdd, e: o.e, attr: o.attr, v: o.v, src: o.src})
		case opRetract:
			if b.has(o.e, o.attr.ID, o.v) {
				b.retract(datalog.Datom{E: o.e, A: o.attr.ID, V: o.v})
			}
		case opRetractAll:
			for _, v := range b.current(o.e, o.attr.ID) {
				b.retract(datalog.Datom{E: o.e, A: o.attr.ID, V: v})
			}
		case opRetractEntity:
			b.retractEntity(o.e, make(map[datalog.EntityID]bool))
		}
	}

	for _, o := range adds {
		if err := b.assert(o); err != nil {
			return nil, err
		}
	}
	if err := p.installAttributes(b); err != nil {
		return nil, err
	}
	return append(b.retracts, b.asserts...), nil
}

func (b *builder) assert(o resolved) error {
	k := keyOf(o.e, o.attr.ID, o.v)
	if b.added[k] {
		return nil
	}
	if b.removed[k] {
		return datalog.Validationf("%s both asserts and retracts %s of entity %d", o.src, o.attr.Ident, o.e)
	}

	if o.attr.Unique != db.UniqueNone {
		uk := eav{a: o.attr.ID, v: k.v}
		if other, ok := b.uniques[uk]; ok && other != o.e {
			return &datalog.ConflictError{Msg: fmt.Sprintf("unique value asserted for entities %d and %d", other, o.e),
				Entity: o.e, Attribute: o.attr.Ident, Actual: o.v}
		}
		b.uniques[uk] = o.e
		var holder datalog.EntityID
		taken := false
		b.before.Seek(index.AVET, index.Prefix{A: o.attr.ID, V: o.v, N: 2}, func(d datalog.Datom) bool {
			if d.E != o.e && !b.removed[keyOf(d.E, d.A, d.V)] {
				holder, taken = d.E, true
				return false
			}
			return true
		})
		if taken {
			return &datalog.ConflictError{Msg: fmt.Sprintf("unique value already held by entity %d", holder),
				Entity: o.e, Attribute: o.attr.Ident, Actual: o.v}
		}
	}

	if b.has(o.e, o.attr.ID, o.v) {
		b.added[k] = true
		return nil
	}
	if !o.attr.IsMany() {
		for _, cur := range b.current(o.e, o.attr.ID) {
			b.retract(datalog.Datom{E: o.e, A: o.attr.ID, V: cur})
		}
	}
	b.added[k] = true
	b.asserts = append(b.asserts, datalog.Datom{E: o.e, A: o.attr.ID, V: o.v, Tx: b.tx, Added: true})
	return nil
}

// retractEntity retracts every datom of e, cascading into component
// values, and every reference to e
func (b *builder) retractEntity(e datalog.EntityID, visiting map[datalog.EntityID]bool) {
	if visiting[e] {
		return
	}
	visiting[e] = true

	var components []datalog.EntityID
	b.before.Seek(index.EAVT, index.Prefix{E: e, N: 1}, func(d datalog.Datom) bool {
		b.retract(d)
		if a, ok := b.before.Schema().Attr(d.A); ok && a.IsComponent {
			if child, ok := d.V.(datalog.EntityID); ok {
				components = append(components, child)
			}
		}
		return true
	})
	b.before.Seek(index.VAET, index.Prefix{V: e, N: 1}, func(d datalog.Datom) bool {
		b.retract(d)
		return true
	})
	for _, c := range components {
		b.retractEntity(c, visiting)
	}
}

// installAttributes checks new attribute definitions and installs them
// on :db.part/db
func (p *pipeline) installAttributes(b *builder) error {
	defined := make(map[datalog.EntityID]bool)
	for _, d := range b.asserts {
		if d.A == db.AttrValueType {
			defined[d.E] = true
		}
	}
	for e := range defined {
		if prev, ok := p.before.Schema().Attr(e); ok {
			for _, d := range b.asserts {
				if d.E == e && d.A == db.AttrValueType && d.V != db.TypeEntity(prev.ValueType) {
					return datalog.Validationf("cannot change :db/valueType of %s", prev.Ident)
				}
			}
			continue
		}
		var hasIdent, hasCard bool
		for _, d := range b.asserts {
			if d.E != e {
				continue
			}
			switch d.A {
			case db.AttrIdent:
				hasIdent = true
			case db.AttrCardinality:
				hasCard = d.V == db.CardinalityOneEntity || d.V == db.CardinalityManyEntity
			case db.AttrValueType:
				if !isTypeEntity(d.V) {
					return datalog.Validationf("entity %d: %s is not a value type", e, datalog.FormatValue(d.V))
				}
			}
		}
		if _, ok := p.before.Ident(e); ok {
			hasIdent = true
		}
		if !hasIdent || !hasCard {
			return datalog.Validationf("new attribute %d needs :db/ident and :db/cardinality", e)
		}
		if !b.has(db.PartDBEntity, db.AttrInstallAttribute, e) && !b.added[keyOf(db.PartDBEntity, db.AttrInstallAttribute, e)] {
			b.asserts = append(b.asserts, datalog.Datom{E: db.PartDBEntity, A: db.AttrInstallAttribute, V: e, Tx: b.tx, Added: true})
		}
	}
	return nil
}

func isTypeEntity(v datalog.Value) bool {
	for _, vt := range datalog.AllValueTypes() {
		if v == db.TypeEntity(vt) {
			return true
		}
	}
	return false
}
