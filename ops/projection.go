package ops

import (
	"github.com/casdoc/casdoc/docpath"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/tools"
)

// Projection selects document fields on the way out. A projection is either
// inclusive (only the named paths survive) or exclusive (the named paths
// are removed); `_id` is kept unless excluded explicitly.
type Projection struct {
	paths     []docpath.Path
	inclusive bool
	keepID    bool
}

// ParseProjection reads a `{path: 0|1, ...}` projection clause. Mixing
// inclusions and exclusions is rejected, except for `_id`.
func ParseProjection(node *jsontree.Value) (*Projection, error) {
	if node == nil || node.Kind() == jsontree.Null || node.Len() == 0 {
		return nil, nil
	}
	if node.Kind() != jsontree.Object {
		return nil, tools.ConstraintViolation("projection must be an object")
	}
	p := &Projection{keepID: true}
	mode := 0 // 0 undecided, 1 inclusive, -1 exclusive
	for _, field := range node.Keys() {
		val, _ := node.Get(field)
		include, err := projectionFlag(val)
		if err != nil {
			return nil, tools.ConstraintViolation("projection value for %q must be 0 or 1", field)
		}
		if field == shred.FieldID {
			p.keepID = include
			continue
		}
		path, err := docpath.Parse(field)
		if err != nil {
			return nil, tools.ConstraintViolation("invalid projection path %q", field)
		}
		this := -1
		if include {
			this = 1
		}
		if mode != 0 && mode != this {
			return nil, tools.ConstraintViolation("cannot mix included and excluded projection paths")
		}
		mode = this
		p.paths = append(p.paths, path)
	}
	p.inclusive = mode == 1
	if mode == 0 {
		// Only _id was mentioned; everything else passes through.
		p.inclusive = false
	}
	return p, nil
}

func projectionFlag(v *jsontree.Value) (bool, error) {
	switch v.Kind() {
	case jsontree.Bool:
		return v.BoolVal(), nil
	case jsontree.Number:
		n, err := v.NumberVal().Int64()
		if err != nil || (n != 0 && n != 1) {
			return false, tools.ConstraintViolation("bad projection flag")
		}
		return n == 1, nil
	}
	return false, tools.ConstraintViolation("bad projection flag")
}

// Apply shapes one document. The input is never mutated.
func (p *Projection) Apply(doc *jsontree.Value) *jsontree.Value {
	if p == nil {
		return doc
	}
	if p.inclusive {
		out := jsontree.NewObject()
		if p.keepID {
			if id, ok := doc.Get(shred.FieldID); ok {
				out.Set(shred.FieldID, id.Clone())
			}
		}
		for _, path := range p.paths {
			v, ok := path.FindValue(doc)
			if !ok {
				continue
			}
			m, err := path.FindOrCreate(out)
			if err != nil {
				continue
			}
			m.Set(v.Clone())
		}
		return out
	}

	out := doc.Clone()
	if !p.keepID {
		out.Delete(shred.FieldID)
	}
	for _, path := range p.paths {
		m := path.FindIfExists(out)
		if m.Kind != docpath.Missing {
			m.Remove()
		}
	}
	return out
}
