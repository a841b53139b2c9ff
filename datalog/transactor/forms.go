package transactor

import (
	"fmt"
	"sort"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
	"github.com/wbrown/janus-factdb/datalog/edn"
)

// ReadForms reads transaction forms from EDN text. The text is either one
// vector of forms or a sequence of top level forms.
func ReadForms(text string) ([]interface{}, error) {
	vals, err := edn.ReadValues(text)
	if err != nil {
		return nil, &datalog.ValidationError{Msg: "reading transaction", Err: err}
	}
	if len(vals) == 1 {
		if vec, ok := vals[0].([]interface{}); ok && isFormList(vec) {
			return vec, nil
		}
	}
	return vals, nil
}

func isFormList(vec []interface{}) bool {
	if len(vec) == 0 {
		return true
	}
	switch vec[0].(type) {
	case []interface{}, map[datalog.Keyword]interface{}, map[interface{}]interface{}:
		return true
	}
	return false
}

type opKind uint8

const (
	opAdd opKind = iota
	opRetract
	opRetractAll
	opCAS
	opRetractEntity
)

// op is one expanded primitive operation
type op struct {
	kind opKind
	e    entRef
	attr *db.Attribute
	v    interface{}
	old  interface{}
}

func (o op) String() string {
	switch o.kind {
	case opRetractEntity:
		return fmt.Sprintf("[%s %s]", db.KwRetractEntity, o.e)
	case opCAS:
		return fmt.Sprintf("[%s %s %s %s %s]", db.KwCAS, o.e, o.attr.Ident, datalog.FormatValue(o.old), datalog.FormatValue(o.v))
	case opRetract, opRetractAll:
		return fmt.Sprintf("[%s %s %s %s]", db.KwRetract, o.e, o.attr.Ident, datalog.FormatValue(o.v))
	}
	return fmt.Sprintf("[%s %s %s %s]", db.KwAdd, o.e, o.attr.Ident, datalog.FormatValue(o.v))
}

// expand turns forms into primitive operations, invoking transaction
// functions as it goes
func (p *pipeline) expand(forms []interface{}, depth int) error {
	for _, f := range forms {
		if m, ok := toMap(f); ok {
			if _, err := p.expandMap(m); err != nil {
				return err
			}
			continue
		}
		vec, ok := f.([]interface{})
		if !ok || len(vec) == 0 {
			return datalog.Validationf("invalid transaction form %s", datalog.FormatValue(f))
		}
		if err := p.expandVector(vec, depth); err != nil {
			return err
		}
	}
	return nil
}

func (p *pipeline) expandVector(vec []interface{}, depth int) error {
	head, ok := vec[0].(datalog.Keyword)
	if !ok {
		if s, isStr := vec[0].(string); isStr && len(s) > 1 && s[0] == ':' {
			head, ok = datalog.NewKeyword(s), true
		}
	}
	if !ok {
		return datalog.Validationf("transaction form must start with an operation keyword: %s", datalog.FormatValue(vec))
	}
	args := vec[1:]

	switch head {
	case db.KwAdd, db.KwRetract:
		if len(args) != 3 && !(head == db.KwRetract && len(args) == 2) {
			return datalog.Validationf("%s takes entity, attribute and value: %s", head, datalog.FormatValue(vec))
		}
		e, err := p.entity(args[0])
		if err != nil {
			return err
		}
		attr, err := p.before.ResolveAttr(args[1])
		if err != nil {
			return err
		}
		switch {
		case head == db.KwAdd:
			p.ops = append(p.ops, op{kind: opAdd, e: e, attr: attr, v: args[2]})
		case len(args) == 2:
			p.ops = append(p.ops, op{kind: opRetractAll, e: e, attr: attr})
		default:
			p.ops = append(p.ops, op{kind: opRetract, e: e, attr: attr, v: args[2]})
		}
		return nil

	case db.KwCAS:
		if len(args) != 4 {
			return datalog.Validationf("%s takes entity, attribute, expected and new value", head)
		}
		e, err := p.entity(args[0])
		if err != nil {
			return err
		}
		attr, err := p.before.ResolveAttr(args[1])
		if err != nil {
			return err
		}
		if attr.IsMany() {
			return datalog.Validationf("%s on cardinality many attribute %s", head, attr.Ident)
		}
		p.ops = append(p.ops, op{kind: opCAS, e: e, attr: attr, old: args[2], v: args[3]})
		return nil

	case db.KwRetractEntity:
		if len(args) != 1 {
			return datalog.Validationf("%s takes one entity", head)
		}
		e, err := p.entity(args[0])
		if err != nil {
			return err
		}
		if e.temp != nil || e.tx {
			return datalog.Validationf("%s needs an existing entity, got %s", head, e)
		}
		p.ops = append(p.ops, op{kind: opRetractEntity, e: e})
		return nil
	}

	f, ok := p.registry.lookup(head)
	if !ok {
		return datalog.Validationf("unknown transaction function %s", head)
	}
	if depth >= p.maxDepth {
		return &datalog.ResolutionError{Msg: fmt.Sprintf("transaction function %s expanded deeper than %d levels", head, p.maxDepth)}
	}
	if err := p.registry.verify(p.before, f); err != nil {
		return err
	}
	out, err := f.fn(p.before, args...)
	if err != nil {
		return fmt.Errorf("transaction function %s: %w", head, err)
	}
	return p.expand(out, depth+1)
}

// expandMap expands an assertion map and returns the entity it describes
func (p *pipeline) expandMap(m map[datalog.Keyword]interface{}) (entRef, error) {
	var e entRef
	var err error
	if id, ok := m[db.KwID]; ok {
		if e, err = p.entity(id); err != nil {
			return e, err
		}
	} else {
		part := partUser
		if _, ok := m[db.KwValueType]; ok {
			part = partDB
		}
		e = freshTemp(part)
		p.note(e)
	}

	keys := make([]datalog.Keyword, 0, len(m))
	for k := range m {
		if k != db.KwID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })

	for _, k := range keys {
		v := m[k]
		if k.IsReverse() {
			attr, err := p.before.ResolveAttr(k.Reverse())
			if err != nil {
				return e, err
			}
			if !attr.IsRef() {
				return e, datalog.Validationf("reverse key %s names non-reference attribute %s", k, attr.Ident)
			}
			for _, item := range p.many(v) {
				child, err := p.child(attr, item)
				if err != nil {
					return e, err
				}
				p.ops = append(p.ops, op{kind: opAdd, e: child, attr: attr, v: e})
			}
			continue
		}

		attr, err := p.before.ResolveAttr(k)
		if err != nil {
			return e, err
		}
		vals := []interface{}{v}
		if attr.IsMany() {
			vals = p.many(v)
		}
		for _, item := range vals {
			if nested, ok := toMap(item); ok {
				if !attr.IsRef() {
					return e, datalog.Validationf("nested map under non-reference attribute %s", attr.Ident)
				}
				child, err := p.nested(attr, nested)
				if err != nil {
					return e, err
				}
				item = child
			}
			p.ops = append(p.ops, op{kind: opAdd, e: e, attr: attr, v: item})
		}
	}
	return e, nil
}

// child resolves the entity on the far side of a reverse key
func (p *pipeline) child(attr *db.Attribute, item interface{}) (entRef, error) {
	if nested, ok := toMap(item); ok {
		return p.nested(attr, nested)
	}
	return p.entity(item)
}

// nested expands a map nested under a reference attribute. Unless the
// attribute is a component, the map must identify its entity.
func (p *pipeline) nested(attr *db.Attribute, m map[datalog.Keyword]interface{}) (entRef, error) {
	if _, ok := m[db.KwID]; !ok && !attr.IsComponent {
		identified := false
		for k := range m {
			if a, err := p.before.ResolveAttr(k); err == nil && a.Unique != db.UniqueNone {
				identified = true
				break
			}
		}
		if !identified {
			return entRef{}, datalog.Validationf("nested entity under %s needs :db/id or a unique attribute", attr.Ident)
		}
	}
	return p.expandMap(m)
}

// entity parses an entity position and records temp ids seen there
func (p *pipeline) entity(v interface{}) (entRef, error) {
	e, err := resolveEntity(p.before, v)
	if err != nil {
		return e, err
	}
	p.note(e)
	return e, nil
}

func (p *pipeline) note(e entRef) {
	if e.temp == nil {
		return
	}
	if !p.entityTemps[*e.temp] {
		p.entityTemps[*e.temp] = true
		p.order = append(p.order, *e.temp)
	}
}

// many spreads a cardinality-many value. A lookup ref stays one value.
func (p *pipeline) many(v interface{}) []interface{} {
	switch vals := v.(type) {
	case []interface{}:
		if len(vals) == 2 {
			if kw, ok := vals[0].(datalog.Keyword); ok {
				if a, ok := p.before.Attribute(kw); ok && a.Unique != db.UniqueNone {
					return []interface{}{v}
				}
			}
		}
		return vals
	case edn.Set:
		return vals
	case edn.List:
		return vals
	case []string:
		out := make([]interface{}, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]interface{}, len(vals))
		for i, n := range vals {
			out[i] = n
		}
		return out
	case []datalog.EntityID:
		out := make([]interface{}, len(vals))
		for i, id := range vals {
			out[i] = id
		}
		return out
	case []datalog.Keyword:
		out := make([]interface{}, len(vals))
		for i, kw := range vals {
			out[i] = kw
		}
		return out
	}
	return []interface{}{v}
}

// toMap normalizes the map shapes accepted as assertion maps
func toMap(v interface{}) (map[datalog.Keyword]interface{}, bool) {
	switch m := v.(type) {
	case map[datalog.Keyword]interface{}:
		return m, true
	case map[string]interface{}:
		out := make(map[datalog.Keyword]interface{}, len(m))
		for k, val := range m {
			out[datalog.NewKeyword(k)] = val
		}
		return out, true
	case map[interface{}]interface{}:
		out := make(map[datalog.Keyword]interface{}, len(m))
		for k, val := range m {
			switch key := k.(type) {
			case datalog.Keyword:
				out[key] = val
			case string:
				out[datalog.NewKeyword(key)] = val
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}
