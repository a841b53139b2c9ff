package db

import (
	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/index"
)

// Cardinality of an attribute
type Cardinality uint8

const (
	CardinalityOne Cardinality = iota
	CardinalityMany
)

// Uniqueness of an attribute
type Uniqueness uint8

const (
	UniqueNone Uniqueness = iota
	UniqueValue
	UniqueIdentity
)

// Attribute is the installed definition of an attribute entity
type Attribute struct {
	ID          datalog.EntityID
	Ident       datalog.Keyword
	ValueType   datalog.ValueType
	Cardinality Cardinality
	Unique      Uniqueness
	Index       bool
	Fulltext    bool
	IsComponent bool
	NoHistory   bool
	Doc         string
}

// IsRef reports whether the attribute holds references
func (a *Attribute) IsRef() bool { return a.ValueType == datalog.TypeRef }

// IsMany reports cardinality many
func (a *Attribute) IsMany() bool { return a.Cardinality == CardinalityMany }

// Indexed reports whether the attribute has an AVET index
func (a *Attribute) Indexed() bool { return a.Index || a.Unique != UniqueNone }

func (a *Attribute) flags() index.Flags {
	var f index.Flags
	if a.Indexed() {
		f |= index.Indexed
	}
	if a.IsRef() {
		f |= index.Ref
	}
	if a.NoHistory {
		f |= index.NoHistory
	}
	return f
}

// Schema maps idents and attributes. A Schema is immutable once built.
type Schema struct {
	attrs   map[datalog.EntityID]*Attribute
	byIdent map[datalog.Keyword]datalog.EntityID
	identOf map[datalog.EntityID]datalog.Keyword
}

func newSchema() *Schema {
	return &Schema{
		attrs:   make(map[datalog.EntityID]*Attribute),
		byIdent: make(map[datalog.Keyword]datalog.EntityID),
		identOf: make(map[datalog.EntityID]datalog.Keyword),
	}
}

// Attr returns the attribute with the given id
func (s *Schema) Attr(id datalog.EntityID) (*Attribute, bool) {
	a, ok := s.attrs[id]
	return a, ok
}

// AttrByIdent returns the attribute named by kw
func (s *Schema) AttrByIdent(kw datalog.Keyword) (*Attribute, bool) {
	id, ok := s.byIdent[kw]
	if !ok {
		return nil, false
	}
	return s.Attr(id)
}

// Entid returns the entity carrying ident kw
func (s *Schema) Entid(kw datalog.Keyword) (datalog.EntityID, bool) {
	id, ok := s.byIdent[kw]
	return id, ok
}

// Ident returns the ident of an entity
func (s *Schema) Ident(id datalog.EntityID) (datalog.Keyword, bool) {
	kw, ok := s.identOf[id]
	return kw, ok
}

// Attributes returns every installed attribute
func (s *Schema) Attributes() []*Attribute {
	out := make([]*Attribute, 0, len(s.attrs))
	for _, a := range s.attrs {
		out = append(out, a)
	}
	return out
}

// Classify reports the index flags of an attribute
func (s *Schema) Classify(id datalog.EntityID) index.Flags {
	if a, ok := s.attrs[id]; ok {
		return a.flags()
	}
	return 0
}

// isSchemaAttr reports whether datoms of attribute a can change the schema
func isSchemaAttr(a datalog.EntityID) bool {
	switch a {
	case AttrIdent, AttrValueType, AttrCardinality, AttrUnique, AttrIsComponent,
		AttrIndex, AttrNoHistory, AttrFulltext, AttrDoc:
		return true
	}
	return false
}

// derive returns the schema after datoms were applied to idx. It returns
// the receiver when nothing schema related changed, and lists attributes
// whose AVET/VAET membership grew.
func (s *Schema) derive(datoms []datalog.Datom, idx *index.Set) (*Schema, []*Attribute) {
	touched := make(map[datalog.EntityID]bool)
	for _, d := range datoms {
		if isSchemaAttr(d.A) {
			touched[d.E] = true
		}
	}
	if len(touched) == 0 {
		return s, nil
	}

	next := &Schema{
		attrs:   make(map[datalog.EntityID]*Attribute, len(s.attrs)+len(touched)),
		byIdent: make(map[datalog.Keyword]datalog.EntityID, len(s.byIdent)+len(touched)),
		identOf: make(map[datalog.EntityID]datalog.Keyword, len(s.identOf)+len(touched)),
	}
	for k, v := range s.attrs {
		next.attrs[k] = v
	}
	for k, v := range s.byIdent {
		next.byIdent[k] = v
	}
	for k, v := range s.identOf {
		next.identOf[k] = v
	}

	var grown []*Attribute
	for e := range touched {
		if kw, ok := next.identOf[e]; ok {
			delete(next.byIdent, kw)
			delete(next.identOf, e)
		}
		prev := next.attrs[e]
		delete(next.attrs, e)

		attr, ident, ok := readAttribute(e, idx)
		if !ident.IsZero() {
			next.byIdent[ident] = e
			next.identOf[e] = ident
		}
		if !ok {
			continue
		}
		next.attrs[e] = attr
		if prev != nil {
			added := attr.flags() &^ prev.flags()
			if added&(index.Indexed|index.Ref) != 0 {
				grown = append(grown, attr)
			}
		}
	}
	return next, grown
}

// readAttribute reads the schema attributes of entity e. ok is false when
// e is not an attribute (no value type).
func readAttribute(e datalog.EntityID, idx *index.Set) (*Attribute, datalog.Keyword, bool) {
	attr := &Attribute{ID: e}
	var ident datalog.Keyword
	hasType := false

	idx.Current(index.EAVT).Seek(index.Prefix{E: e, N: 1}, func(d datalog.Datom) bool {
		switch d.A {
		case AttrIdent:
			ident, _ = d.V.(datalog.Keyword)
		case AttrValueType:
			if ref, ok := d.V.(datalog.EntityID); ok {
				vt := datalog.ValueType(ref - typeEntityBase)
				if vt > datalog.TypeInvalid && vt <= datalog.TypeBytes {
					attr.ValueType = vt
					hasType = true
				}
			}
		case AttrCardinality:
			if d.V == CardinalityManyEntity {
				attr.Cardinality = CardinalityMany
			}
		case AttrUnique:
			switch d.V {
			case UniqueValueEntity:
				attr.Unique = UniqueValue
			case UniqueIdentityEntity:
				attr.Unique = UniqueIdentity
			}
		case AttrIsComponent:
			attr.IsComponent = d.V == true
		case AttrIndex:
			attr.Index = d.V == true
		case AttrNoHistory:
			attr.NoHistory = d.V == true
		case AttrFulltext:
			attr.Fulltext = d.V == true
		case AttrDoc:
			attr.Doc, _ = d.V.(string)
		}
		return true
	})
	attr.Ident = ident
	return attr, ident, hasType && !ident.IsZero()
}
