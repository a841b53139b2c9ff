package pull

import (
	"fmt"

	"github.com/wbrown/janus-factdb/datalog"
	"github.com/wbrown/janus-factdb/datalog/db"
)

// Pull reads the entity named by ref (an id, ident or lookup ref) through
// pattern
func Pull(d *db.Database, pattern interface{}, ref interface{}) (map[datalog.Keyword]interface{}, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	return p.Pull(d, ref)
}

// PullMany pulls several entities with one pattern, in order
func PullMany(d *db.Database, pattern interface{}, refs []interface{}) ([]map[datalog.Keyword]interface{}, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	out := make([]map[datalog.Keyword]interface{}, len(refs))
	for i, ref := range refs {
		if out[i], err = p.Pull(d, ref); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Pull reads one entity. Attributes without values are left out unless
// they carry a default.
func (p *Pattern) Pull(d *db.Database, ref interface{}) (map[datalog.Keyword]interface{}, error) {
	id, err := d.ResolveRef(ref)
	if err != nil {
		return nil, err
	}
	return p.pull(d, id, map[datalog.EntityID]bool{})
}

func (p *Pattern) pull(d *db.Database, id datalog.EntityID, visiting map[datalog.EntityID]bool) (map[datalog.Keyword]interface{}, error) {
	visiting[id] = true
	defer delete(visiting, id)

	out := make(map[datalog.Keyword]interface{})
	if p.withID || p.wildcard {
		out[db.KwID] = id
	}
	if p.wildcard {
		explicit := make(map[datalog.Keyword]bool, len(p.specs))
		for _, s := range p.specs {
			explicit[s.attr] = true
		}
		for _, kw := range d.Entity(id).Keys() {
			if explicit[kw] {
				continue
			}
			a, ok := d.Schema().AttrByIdent(kw)
			if !ok {
				continue
			}
			v, err := p.wildcardValue(d, id, a, visiting)
			if err != nil {
				return nil, err
			}
			out[kw] = v
		}
	}

	for _, s := range p.specs {
		v, ok, err := s.pull(d, id, visiting)
		if err != nil {
			return nil, err
		}
		if ok {
			out[s.attr] = v
		} else if s.hasDefault {
			out[s.attr] = s.def
		}
	}
	return out, nil
}

// wildcardValue expands component references fully and leaves other
// references as {:db/id id}
func (p *Pattern) wildcardValue(d *db.Database, id datalog.EntityID, a *db.Attribute, visiting map[datalog.EntityID]bool) (interface{}, error) {
	values := d.Values(id, a.ID)
	conv := func(v datalog.Value) (interface{}, error) {
		if !a.IsRef() {
			return v, nil
		}
		ref := v.(datalog.EntityID)
		if a.IsComponent && !visiting[ref] {
			return wildcardPattern.pull(d, ref, visiting)
		}
		return idMap(ref), nil
	}
	if !a.IsMany() {
		return conv(values[0])
	}
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		c, err := conv(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

var wildcardPattern = &Pattern{wildcard: true}

func (s attrSpec) pull(d *db.Database, id datalog.EntityID, visiting map[datalog.EntityID]bool) (interface{}, bool, error) {
	if s.attr.IsReverse() {
		return s.pullReverse(d, id, visiting)
	}
	a, err := d.ResolveAttr(s.attr)
	if err != nil {
		return nil, false, fmt.Errorf("pull %s: %w", s.attr, err)
	}
	values := d.Values(id, a.ID)
	if len(values) == 0 {
		return nil, false, nil
	}
	if !a.IsMany() {
		v, err := s.value(d, a.IsRef(), values[0], visiting)
		return v, err == nil, err
	}
	values = s.limitValues(values)
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		c, err := s.value(d, a.IsRef(), v, visiting)
		if err != nil {
			return nil, false, err
		}
		out = append(out, c)
	}
	return out, true, nil
}

// pullReverse navigates a reference backwards. A component is owned by a
// single entity, so its reverse yields one value.
func (s attrSpec) pullReverse(d *db.Database, id datalog.EntityID, visiting map[datalog.EntityID]bool) (interface{}, bool, error) {
	a, ok := d.Schema().AttrByIdent(s.attr.Reverse())
	if !ok {
		return nil, false, fmt.Errorf("pull %s: unknown attribute %s", s.attr, s.attr.Reverse())
	}
	if !a.IsRef() {
		return nil, false, fmt.Errorf("pull %s: %s is not a reference attribute", s.attr, a.Ident)
	}
	refs := d.Referrers(id, a.ID)
	if len(refs) == 0 {
		return nil, false, nil
	}
	if a.IsComponent {
		v, err := s.value(d, true, refs[0], visiting)
		return v, err == nil, err
	}
	values := make([]datalog.Value, len(refs))
	for i, r := range refs {
		values[i] = r
	}
	values = s.limitValues(values)
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		c, err := s.value(d, true, v, visiting)
		if err != nil {
			return nil, false, err
		}
		out = append(out, c)
	}
	return out, true, nil
}

func (s attrSpec) limitValues(values []datalog.Value) []datalog.Value {
	limit := s.limit
	if limit == 0 {
		limit = DefaultLimit
	}
	if limit > 0 && len(values) > limit {
		return values[:limit]
	}
	return values
}

func (s attrSpec) value(d *db.Database, isRef bool, v datalog.Value, visiting map[datalog.EntityID]bool) (interface{}, error) {
	if !isRef {
		return v, nil
	}
	ref := v.(datalog.EntityID)
	if s.sub == nil {
		return idMap(ref), nil
	}
	return s.sub.pull(d, ref, visiting)
}

func idMap(id datalog.EntityID) map[datalog.Keyword]interface{} {
	return map[datalog.Keyword]interface{}{db.KwID: id}
}
