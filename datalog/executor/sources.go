package executor

import (
	"context"
	"fmt"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/index"
	"github.com/wbrown/janus-factdb/datalog/query"
)

// checkEvery is how many datoms a scan visits between context checks
const checkEvery = 1024

// slot is one position of a data pattern, bound to a value or open
type slot struct {
	val   interface{}
	bound bool
}

// collectionSource is a plain collection of tuples (or datoms) queried
// as a relation source
type collectionSource struct {
	rows [][]interface{}
}

// asSource converts an input bound to a $ name. Databases and logs are
// used as they are; anything sequential becomes a collection source.
func asSource(v interface{}) (interface{}, error) {
	switch s := v.(type) {
	case *db.Database, db.TxLog, *collectionSource:
		return s, nil
	case []datalog.Datom:
		rows := make([][]interface{}, len(s))
		for i, d := range s {
			rows[i] = datomTuple(d)
		}
		return &collectionSource{rows: rows}, nil
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, fmt.Errorf("cannot use %T as a source", v)
	}
	src := &collectionSource{rows: make([][]interface{}, 0, len(items))}
	for _, item := range items {
		row, ok := asSlice(item)
		if !ok {
			return nil, fmt.Errorf("collection source element %s is not a tuple", datalog.FormatValue(item))
		}
		normalized := make([]interface{}, len(row))
		for i, v := range row {
			normalized[i] = datalog.Normalize(v)
		}
		src.rows = append(src.rows, normalized)
	}
	return src, nil
}

// match visits the rows that agree with every bound slot
func (c *collectionSource) match(ctx context.Context, clause string, width int, s [5]slot, emit func([5]interface{}) error) error {
	for i, row := range c.rows {
		if i%checkEvery == checkEvery-1 {
			if err := datalog.CheckContext(ctx, clause); err != nil {
				return err
			}
		}
		if len(row) < width {
			continue
		}
		ok := true
		for j := 0; j < width; j++ {
			if s[j].bound && !datalog.ValuesEqual(row[j], s[j].val) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		var vals [5]interface{}
		copy(vals[:], row)
		if err := emit(vals); err != nil {
			return err
		}
	}
	return nil
}

// txEntity reads a bound tx position: a transaction id or a basis t
func txEntity(v interface{}) (datalog.EntityID, bool) {
	n, ok := query.ToInt64(v)
	if !ok {
		return 0, false
	}
	if id := datalog.EntityID(n); id.Partition() == datalog.PartTx {
		return id, true
	}
	return datalog.ToTx(n), true
}

// scanDatabase visits the datoms of d that agree with the bound slots,
// choosing the index from what is bound. Entity and attribute slots may
// hold idents or lookup refs; a value slot is coerced to the attribute's
// type. References that do not resolve match nothing.
func scanDatabase(ctx context.Context, d *db.Database, clause string, s [5]slot, emit func([5]interface{}) error) (index.Kind, int, error) {
	var (
		e     datalog.EntityID
		attr  *db.Attribute
		v     interface{}
		tx    datalog.EntityID
		added bool
	)
	if s[0].bound {
		id, err := d.ResolveRef(s[0].val)
		if err != nil {
			return index.EAVT, 0, nil
		}
		e = id
	}
	if s[1].bound {
		a, err := d.ResolveAttr(s[1].val)
		if err != nil {
			return index.EAVT, 0, nil
		}
		attr = a
	}
	if s[2].bound {
		v = datalog.Normalize(s[2].val)
		if attr != nil {
			cv, err := d.CoerceValue(attr, v)
			if err != nil {
				return index.EAVT, 0, nil
			}
			v = cv
		}
	}
	if s[3].bound {
		id, ok := txEntity(s[3].val)
		if !ok {
			return index.EAVT, 0, nil
		}
		tx = id
	}
	if s[4].bound {
		b, ok := s[4].val.(bool)
		if !ok {
			return index.EAVT, 0, nil
		}
		added = b
	}

	kind, prefix := chooseIndex(s[0].bound, e, attr, s[2].bound, v)
	count := 0
	var err error
	d.Seek(kind, prefix, func(dt datalog.Datom) bool {
		count++
		if count%checkEvery == 0 {
			if err = datalog.CheckContext(ctx, clause); err != nil {
				return false
			}
		}
		switch {
		case s[0].bound && dt.E != e,
			attr != nil && dt.A != attr.ID,
			s[2].bound && !datalog.ValuesEqual(dt.V, v),
			s[3].bound && dt.Tx != tx,
			s[4].bound && dt.Added != added:
			return true
		}
		if err = emit([5]interface{}{dt.E, dt.A, dt.V, dt.Tx, dt.Added}); err != nil {
			return false
		}
		return true
	})
	return kind, count, err
}

// chooseIndex picks the ordering whose prefix covers the most bound
// positions: E -> EAVT, A+V on an indexed attribute -> AVET, V of a ref
// -> VAET, A -> AEVT, otherwise a full EAVT scan
func chooseIndex(hasE bool, e datalog.EntityID, attr *db.Attribute, hasV bool, v interface{}) (index.Kind, index.Prefix) {
	switch {
	case hasE:
		p := index.Prefix{E: e, N: 1}
		if attr != nil {
			p.A, p.N = attr.ID, 2
			if hasV {
				p.V, p.N = v, 3
			}
		}
		return index.EAVT, p
	case attr != nil && hasV && attr.Indexed():
		return index.AVET, index.Prefix{A: attr.ID, V: v, N: 2}
	case hasV && isRefValue(attr, v):
		p := index.Prefix{V: v, N: 1}
		if attr != nil {
			p.A, p.N = attr.ID, 2
		}
		return index.VAET, p
	case attr != nil:
		return index.AEVT, index.Prefix{A: attr.ID, N: 1}
	}
	return index.EAVT, index.Prefix{}
}

func isRefValue(attr *db.Attribute, v interface{}) bool {
	if attr != nil {
		return attr.IsRef()
	}
	_, ok := v.(datalog.EntityID)
	return ok
}
