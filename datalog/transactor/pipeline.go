package transactor

import (
	"fmt"
	"time"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/index"
)

// pipeline turns forms into the datoms of one transaction. It reads only
// the database before the transaction and the counters it was given.
type pipeline struct {
	before   *db.Database
	registry *Registry
	maxDepth int
	trace    func(stage string, fields map[string]interface{})

	ops         []op
	entityTemps map[tempKey]bool
	order       []tempKey
	ids         map[tempKey]datalog.EntityID

	t  int64
	tx datalog.EntityID
}

// prepared is a transaction ready to be logged and applied
type prepared struct {
	t       int64
	tx      datalog.EntityID
	instant time.Time
	datoms  []datalog.Datom
	tempids map[string]datalog.EntityID
	next    int64 // next free index after this transaction
}

// resolved is an op with every position resolved
type resolved struct {
	kind opKind
	e    datalog.EntityID
	attr *db.Attribute
	v    datalog.Value
	old  datalog.Value
	src  op
}

func newPipeline(before *db.Database, registry *Registry, maxDepth int) *pipeline {
	if maxDepth <= 0 {
		maxDepth = 32
	}
	return &pipeline{
		before:      before,
		registry:    registry,
		maxDepth:    maxDepth,
		entityTemps: make(map[tempKey]bool),
		ids:         make(map[tempKey]datalog.EntityID),
	}
}

func (p *pipeline) stage(name string, fields map[string]interface{}) {
	if p.trace != nil {
		p.trace(name, fields)
	}
}

// run executes the pipeline. next is the first free index: it becomes t,
// and new entities take the indexes after it. clock is the wall clock
// reading for :db/txInstant.
func (p *pipeline) run(forms []interface{}, next int64, clock time.Time) (*prepared, error) {
	p.t = next
	p.tx = datalog.ToTx(next)
	next++

	if err := p.expand(forms, 0); err != nil {
		return nil, err
	}
	p.stage("validated", map[string]interface{}{"ops": len(p.ops)})

	next, err := p.resolveTemps(next)
	if err != nil {
		return nil, err
	}
	ops, err := p.resolveOps()
	if err != nil {
		return nil, err
	}
	if err := checkCardinality(ops); err != nil {
		return nil, err
	}
	p.stage("resolved", map[string]interface{}{"tempids": len(p.ids), "ops": len(ops)})

	instant, err := p.instant(ops, clock)
	if err != nil {
		return nil, err
	}
	datoms, err := p.build(ops, instant)
	if err != nil {
		return nil, err
	}
	p.stage("applied", map[string]interface{}{"datoms": len(datoms)})

	tempids := map[string]datalog.EntityID{TxTempID: p.tx}
	for k, id := range p.ids {
		if k.name != "" || k.idx < 0 {
			tempids[k.String()] = id
		}
	}
	return &prepared{t: p.t, tx: p.tx, instant: instant, datoms: datoms, tempids: tempids, next: next}, nil
}

// resolveTemps upserts temp ids through identity attributes and allocates
// the rest. It returns the next free index.
func (p *pipeline) resolveTemps(next int64) (int64, error) {
	for _, o := range p.ops {
		if o.kind != opAdd || !o.attr.IsRef() {
			continue
		}
		if r, ok := valueTemp(o.v); ok && r.temp != nil && !p.entityTemps[*r.temp] {
			return 0, &datalog.ResolutionError{TempID: r.temp.String(), Msg: "used only in value position"}
		}
	}

	// upserts can chain through ref values, so iterate until stable
	for changed := true; changed; {
		changed = false
		for _, o := range p.ops {
			if o.kind != opAdd || o.e.temp == nil || o.attr.Unique != db.UniqueIdentity {
				continue
			}
			v, ok, err := p.value(o.attr, o.v, false)
			if err != nil {
				return 0, err
			}
			if !ok {
				continue
			}
			existing, found := p.lookupUnique(o.attr, v)
			if !found {
				continue
			}
			key := *o.e.temp
			if prev, seen := p.ids[key]; seen {
				if prev != existing {
					return 0, &datalog.ResolutionError{TempID: key.String(),
						Msg: fmt.Sprintf("upserts to both %d and %d", prev, existing)}
				}
				continue
			}
			p.ids[key] = existing
			changed = true
		}
	}

	schemaTemps := make(map[tempKey]bool)
	claims := make(map[tempKey][]eav)
	for _, o := range p.ops {
		if o.e.temp == nil {
			continue
		}
		if o.attr.ID == db.AttrValueType {
			schemaTemps[*o.e.temp] = true
		}
		if o.kind == opAdd && o.attr.Unique == db.UniqueIdentity {
			if v, ok, err := p.value(o.attr, o.v, false); err == nil && ok {
				claims[*o.e.temp] = append(claims[*o.e.temp], keyOf(0, o.attr.ID, v))
			}
		}
	}

	// temp ids asserting the same new identity value are one entity
	owners := make(map[eav]datalog.EntityID)
	for _, key := range p.order {
		if _, ok := p.ids[key]; ok {
			continue
		}
		var (
			owner datalog.EntityID
			found bool
		)
		for _, c := range claims[key] {
			id, ok := owners[c]
			if !ok {
				continue
			}
			if found && id != owner {
				return 0, &datalog.ResolutionError{TempID: key.String(),
					Msg: fmt.Sprintf("unifies with both %d and %d", owner, id)}
			}
			owner, found = id, true
		}
		if found {
			p.ids[key] = owner
			for _, c := range claims[key] {
				owners[c] = owner
			}
			continue
		}
		part := datalog.PartUser
		if key.name == "" {
			var err error
			if part, err = (TempID{Part: key.part}).partition(); err != nil {
				return 0, err
			}
		}
		if schemaTemps[key] {
			part = datalog.PartDB
		}
		p.ids[key] = datalog.MakeEntityID(part, next)
		for _, c := range claims[key] {
			owners[c] = p.ids[key]
		}
		next++
	}
	return next, nil
}

func (p *pipeline) lookupUnique(attr *db.Attribute, v datalog.Value) (datalog.EntityID, bool) {
	var id datalog.EntityID
	found := false
	p.before.Seek(index.AVET, index.Prefix{A: attr.ID, V: v, N: 2}, func(d datalog.Datom) bool {
		id, found = d.E, true
		return false
	})
	return id, found
}

func valueTemp(v interface{}) (entRef, bool) {
	if r, ok := v.(entRef); ok {
		return r, r.temp != nil || r.tx
	}
	return asTemp(v)
}

func (p *pipeline) entityID(r entRef) datalog.EntityID {
	switch {
	case r.tx:
		return p.tx
	case r.temp != nil:
		return p.ids[*r.temp]
	}
	return r.id
}

// value coerces v to attr's type. With allowTemp false, a value that is a
// still unresolved temp id reports ok=false instead.
func (p *pipeline) value(attr *db.Attribute, v interface{}, allowTemp bool) (datalog.Value, bool, error) {
	if attr.IsRef() {
		if r, ok := v.(entRef); ok {
			if r.temp != nil {
				if _, done := p.ids[*r.temp]; !done && !allowTemp {
					return nil, false, nil
				}
			}
			return p.entityID(r), true, nil
		}
		if r, ok := asTemp(v); ok {
			return p.value(attr, r, allowTemp)
		}
	}
	out, err := p.before.CoerceValue(attr, v)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (p *pipeline) resolveOps() ([]resolved, error) {
	out := make([]resolved, 0, len(p.ops))
	for _, o := range p.ops {
		r := resolved{kind: o.kind, e: p.entityID(o.e), attr: o.attr, src: o}
		var err error
		if o.kind == opAdd || o.kind == opRetract || o.kind == opCAS {
			if r.v, _, err = p.value(o.attr, o.v, true); err != nil {
				return nil, err
			}
		}
		if o.kind == opCAS && o.old != nil {
			if r.old, _, err = p.value(o.attr, o.old, true); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// checkCardinality rejects two different values for a cardinality-one
// attribute of one entity
func checkCardinality(ops []resolved) error {
	type ea struct{ e, a datalog.EntityID }
	seen := make(map[ea]datalog.Value)
	for _, o := range ops {
		if (o.kind != opAdd && o.kind != opCAS) || o.attr.IsMany() {
			continue
		}
		k := ea{o.e, o.attr.ID}
		if prev, ok := seen[k]; ok && !datalog.ValuesEqual(prev, o.v) {
			return datalog.Validationf("two values for cardinality one attribute %s of entity %d: %s and %s",
				o.attr.Ident, o.e, datalog.FormatValue(prev), datalog.FormatValue(o.v))
		}
		seen[k] = o.v
	}
	return nil
}

// instant returns the transaction's :db/txInstant: an explicit assertion
// on the transaction entity, or the clock. It never goes backwards.
func (p *pipeline) instant(ops []resolved, clock time.Time) (time.Time, error) {
	prev, _ := p.before.TxInstant(datalog.ToTx(p.before.BasisT()))
	for _, o := range ops {
		if o.kind == opAdd && o.e == p.tx && o.attr.ID == db.AttrTxInstant {
			inst := o.v.(time.Time)
			if inst.Before(prev) {
				return time.Time{}, datalog.Validationf("explicit :db/txInstant %s is before the previous transaction's %s",
					inst.Format(time.RFC3339Nano), prev.Format(time.RFC3339Nano))
			}
			return inst, nil
		}
	}
	clock = clock.UTC()
	if clock.Before(prev) {
		return prev, nil
	}
	return clock, nil
}
