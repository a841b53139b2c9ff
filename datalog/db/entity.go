package db

import (
	"sort"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/index"
)

// Entity is a lazy, navigable view of one entity in a database value
type Entity struct {
	db *Database
	id datalog.EntityID
}

// Entity returns a view of the entity named by ref, or nil when ref cannot
// be resolved
func (db *Database) Entity(ref interface{}) *Entity {
	id, err := db.ResolveRef(ref)
	if err != nil {
		return nil
	}
	return &Entity{db: db, id: id}
}

// ID returns the entity id
func (e *Entity) ID() datalog.EntityID { return e.id }

// DB returns the database the entity was read from
func (e *Entity) DB() *Database { return e.db }

// Keys returns the attributes the entity has values for, in ident order
func (e *Entity) Keys() []datalog.Keyword {
	seen := make(map[datalog.EntityID]bool)
	var keys []datalog.Keyword
	e.db.Seek(index.EAVT, index.Prefix{E: e.id, N: 1}, func(d datalog.Datom) bool {
		if !d.Added || seen[d.A] {
			return true
		}
		seen[d.A] = true
		if kw, ok := e.db.Ident(d.A); ok {
			keys = append(keys, kw)
		}
		return true
	})
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	return keys
}

// Get returns the value of an attribute: a single value for cardinality
// one, a slice for cardinality many, an *Entity (or the ident keyword of an
// enum entity) for references. Reverse keys such as :person/_friend return
// the referring entities. Absent attributes return nil.
func (e *Entity) Get(attr interface{}) interface{} {
	kw, isKw := attr.(datalog.Keyword)
	if s, ok := attr.(string); ok {
		kw, isKw = datalog.NewKeyword(s), true
	}
	if isKw && kw == KwID {
		return e.id
	}
	if isKw && kw.IsReverse() {
		a, ok := e.db.schema.AttrByIdent(kw.Reverse())
		if !ok || !a.IsRef() {
			return nil
		}
		refs := e.db.Referrers(e.id, a.ID)
		if len(refs) == 0 {
			return nil
		}
		out := make([]interface{}, len(refs))
		for i, r := range refs {
			out[i] = &Entity{db: e.db, id: r}
		}
		return out
	}

	a, err := e.db.ResolveAttr(attr)
	if err != nil {
		return nil
	}
	values := e.db.Values(e.id, a.ID)
	if len(values) == 0 {
		return nil
	}
	conv := func(v datalog.Value) interface{} {
		if !a.IsRef() {
			return v
		}
		ref := v.(datalog.EntityID)
		if kw, ok := e.db.Ident(ref); ok && !a.IsComponent {
			return kw
		}
		return &Entity{db: e.db, id: ref}
	}
	if !a.IsMany() {
		return conv(values[0])
	}
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = conv(v)
	}
	return out
}

// Touch realizes every attribute of the entity into a map. Component
// references are touched recursively; other references become
// {:db/id id}, or the ident keyword when the target has one.
func (e *Entity) Touch() map[datalog.Keyword]interface{} {
	return e.touch(map[datalog.EntityID]bool{})
}

func (e *Entity) touch(visiting map[datalog.EntityID]bool) map[datalog.Keyword]interface{} {
	visiting[e.id] = true
	defer delete(visiting, e.id)

	out := map[datalog.Keyword]interface{}{KwID: e.id}
	for _, kw := range e.Keys() {
		a, _ := e.db.schema.AttrByIdent(kw)
		if a == nil {
			continue
		}
		values := e.db.Values(e.id, a.ID)
		conv := func(v datalog.Value) interface{} {
			if !a.IsRef() {
				return v
			}
			ref := v.(datalog.EntityID)
			if a.IsComponent && !visiting[ref] {
				return (&Entity{db: e.db, id: ref}).touch(visiting)
			}
			if ident, ok := e.db.Ident(ref); ok {
				return ident
			}
			return map[datalog.Keyword]interface{}{KwID: ref}
		}
		if a.IsMany() {
			vals := make([]interface{}, len(values))
			for i, v := range values {
				vals[i] = conv(v)
			}
			out[kw] = vals
		} else if len(values) > 0 {
			out[kw] = conv(values[0])
		}
	}
	return out
}
