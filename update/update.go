// Package update applies update-operator clauses to a JSON document tree.
// The mutated document is re-shredded by the caller; this package only
// implements the in-memory algebra.
package update

import (
	"sort"

	"github.com/casdoc/casdoc/docpath"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/tools"
)

// Op is an update operator.
type Op string

const (
	OpSet         Op = "$set"
	OpUnset       Op = "$unset"
	OpInc         Op = "$inc"
	OpPush        Op = "$push"
	OpPop         Op = "$pop"
	OpAddToSet    Op = "$addToSet"
	OpRename      Op = "$rename"
	OpMul         Op = "$mul"
	OpMin         Op = "$min"
	OpMax         Op = "$max"
	OpSetOnInsert Op = "$setOnInsert"
)

var knownOps = map[Op]bool{
	OpSet: true, OpUnset: true, OpInc: true, OpPush: true, OpPop: true,
	OpAddToSet: true, OpRename: true, OpMul: true, OpMin: true, OpMax: true,
	OpSetOnInsert: true,
}

type action struct {
	op      Op
	path    docpath.Path
	operand *jsontree.Value
}

// Update is a parsed update clause: an ordered list of
// (locator, operator, operand) triples.
type Update struct {
	actions []action
}

// Parse reads an update clause of the form `{$op: {path: operand, ...}, ...}`.
// No two locators may be in ancestor/descendant relation.
func Parse(node *jsontree.Value) (*Update, error) {
	if node == nil || node.Kind() != jsontree.Object || node.Len() == 0 {
		return nil, tools.ConstraintViolation("update clause must be a non-empty object")
	}
	u := &Update{}
	for _, opKey := range node.Keys() {
		op := Op(opKey)
		if !knownOps[op] {
			return nil, tools.ConstraintViolation("unknown update operator %q", opKey)
		}
		args, _ := node.Get(opKey)
		if args.Kind() != jsontree.Object || args.Len() == 0 {
			return nil, tools.ConstraintViolation("%s requires a non-empty object argument", opKey)
		}
		for _, field := range args.Keys() {
			operand, _ := args.Get(field)
			path, err := docpath.Parse(field)
			if err != nil {
				return nil, tools.NewError(tools.CodeUnsupportedUpdatePath,
					"Unsupported update operation path: invalid path %q", field)
			}
			a := action{op: op, path: path, operand: operand}
			if err := a.validate(field); err != nil {
				return nil, err
			}
			u.actions = append(u.actions, a)
		}
	}
	if err := u.checkConflicts(); err != nil {
		return nil, err
	}
	return u, nil
}

func (a action) validate(field string) error {
	// Mutating _id is forbidden; $setOnInsert may seed it on upsert.
	if len(a.path.Segments()) == 1 && a.path.Segments()[0] == shred.FieldID && a.op != OpSetOnInsert {
		return tools.NewError(tools.CodeUnsupportedUpdatePath,
			"Unsupported update operation path: %s cannot be used on _id", a.op)
	}
	switch a.op {
	case OpInc, OpMul, OpMin, OpMax:
		if a.operand.Kind() != jsontree.Number {
			return tools.ConstraintViolation("%s on %q requires a numeric operand", a.op, field)
		}
	case OpPop:
		if n, err := a.operand.NumberVal().Int64(); a.operand.Kind() != jsontree.Number || err != nil || (n != 1 && n != -1) {
			return tools.ConstraintViolation("$pop on %q requires 1 or -1", field)
		}
	case OpRename:
		if a.operand.Kind() != jsontree.String {
			return tools.ConstraintViolation("$rename on %q requires a string operand", field)
		}
		to, err := docpath.Parse(a.operand.StringVal())
		if err != nil {
			return tools.NewError(tools.CodeUnsupportedUpdatePath,
				"Unsupported update operation path: invalid $rename target %q", a.operand.StringVal())
		}
		if len(to.Segments()) == 1 && to.Segments()[0] == shred.FieldID {
			return tools.NewError(tools.CodeUnsupportedUpdatePath,
				"Unsupported update operation path: $rename cannot target _id")
		}
	}
	return nil
}

// checkConflicts sorts every locator (including $rename targets) and rejects
// clauses where one locator is an ancestor of another. Under the path order
// an ancestor sorts immediately before its descendants, so one adjacent
// comparison per pair suffices.
func (u *Update) checkConflicts() error {
	paths := make([]docpath.Path, 0, len(u.actions))
	for _, a := range u.actions {
		paths = append(paths, a.path)
		if a.op == OpRename {
			to, _ := docpath.Parse(a.operand.StringVal())
			paths = append(paths, to)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return docpath.Compare(paths[i], paths[j]) < 0 })
	for i := 1; i < len(paths); i++ {
		if docpath.Compare(paths[i-1], paths[i]) == 0 || paths[i].IsSubPathOf(paths[i-1]) {
			return tools.NewError(tools.CodeUnsupportedUpdatePath,
				"Unsupported update operation path: conflicting paths %q and %q",
				paths[i-1].String(), paths[i].String())
		}
	}
	return nil
}

// Apply mutates doc according to the clause. upsertInsert marks that the
// enclosing operation is an upsert producing a new document, which is the
// only case where $setOnInsert applies. Returns whether the document changed.
func (u *Update) Apply(doc *jsontree.Value, upsertInsert bool) (bool, error) {
	changed := false
	for _, a := range u.actions {
		c, err := a.apply(doc, upsertInsert)
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	return changed, nil
}

func (a action) apply(doc *jsontree.Value, upsertInsert bool) (bool, error) {
	switch a.op {
	case OpSet:
		return a.applySet(doc)
	case OpSetOnInsert:
		if !upsertInsert {
			return false, nil
		}
		return a.applySet(doc)
	case OpUnset:
		m := a.path.FindIfExists(doc)
		if m.Kind == docpath.Missing {
			return false, nil
		}
		m.Remove()
		return true, nil
	case OpInc, OpMul, OpMin, OpMax:
		return a.applyNumeric(doc)
	case OpPush:
		return a.applyPush(doc, false)
	case OpAddToSet:
		return a.applyPush(doc, true)
	case OpPop:
		return a.applyPop(doc)
	case OpRename:
		return a.applyRename(doc)
	}
	return false, nil
}

func (a action) applySet(doc *jsontree.Value) (bool, error) {
	m, err := a.path.FindOrCreate(doc)
	if err != nil {
		return false, err
	}
	if old := m.Value(); old != nil && old.Equal(a.operand) {
		return false, nil
	}
	m.Set(a.operand.Clone())
	return true, nil
}

func (a action) applyNumeric(doc *jsontree.Value) (bool, error) {
	m, err := a.path.FindOrCreate(doc)
	if err != nil {
		return false, err
	}
	old := m.Value()
	if old != nil && !old.IsNull() && old.Kind() != jsontree.Number {
		return false, tools.ConstraintViolation(
			"%s requires the existing value at %q to be numeric, got %s", a.op, a.path.String(), old.Kind())
	}
	var result *jsontree.Value
	switch {
	case old == nil || old.IsNull():
		switch a.op {
		case OpInc, OpMin, OpMax:
			result = jsontree.NewNumber(a.operand.NumberVal())
		case OpMul:
			result = jsontree.NewNumberInt(0)
		}
	default:
		n, err := applyArithmetic(a.op, old.NumberVal(), a.operand.NumberVal())
		if err != nil {
			return false, tools.ConstraintViolation(
				"%s on %q: %s", a.op, a.path.String(), err.Error())
		}
		result = jsontree.NewNumber(n)
	}
	if old != nil && old.Equal(result) {
		return false, nil
	}
	m.Set(result)
	return true, nil
}

func (a action) applyPush(doc *jsontree.Value, dedupe bool) (bool, error) {
	m, err := a.path.FindOrCreate(doc)
	if err != nil {
		return false, err
	}
	target := m.Value()
	if target == nil || target.IsNull() {
		m.Set(jsontree.NewArray(a.operand.Clone()))
		return true, nil
	}
	if target.Kind() != jsontree.Array {
		return false, tools.ConstraintViolation(
			"%s requires the value at %q to be an array, got %s", a.op, a.path.String(), target.Kind())
	}
	if dedupe {
		for _, elem := range target.Elems() {
			if elem.Equal(a.operand) {
				return false, nil
			}
		}
	}
	target.Append(a.operand.Clone())
	return true, nil
}

func (a action) applyPop(doc *jsontree.Value) (bool, error) {
	m := a.path.FindIfExists(doc)
	if m.Kind == docpath.Missing {
		return false, nil
	}
	target := m.Value()
	if target.Kind() != jsontree.Array {
		return false, tools.ConstraintViolation(
			"$pop requires the value at %q to be an array, got %s", a.path.String(), target.Kind())
	}
	if target.Len() == 0 {
		return false, nil
	}
	if n, _ := a.operand.NumberVal().Int64(); n == 1 {
		target.RemoveIndex(target.Len() - 1)
	} else {
		target.RemoveIndex(0)
	}
	return true, nil
}

func (a action) applyRename(doc *jsontree.Value) (bool, error) {
	from := a.path.FindIfExists(doc)
	if from.Kind == docpath.Missing {
		return false, nil
	}
	val := from.Value()
	from.Remove()
	to, _ := docpath.Parse(a.operand.StringVal())
	m, err := to.FindOrCreate(doc)
	if err != nil {
		return false, err
	}
	m.Set(val)
	return true, nil
}
