// Package filter translates filter clauses into predicates against the
// shredded index columns. Predicates that the store cannot answer with
// AND-combined column conditions ($ne, multi-value $in, deep equality) are
// planned as post-read checks evaluated against doc_json.
package filter

import (
	"strings"

	"github.com/casdoc/casdoc/docpath"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/tools"
)

// Operator is a filter comparison operator.
type Operator string

const (
	OpEq     Operator = "$eq"
	OpNe     Operator = "$ne"
	OpLt     Operator = "$lt"
	OpLte    Operator = "$lte"
	OpGt     Operator = "$gt"
	OpGte    Operator = "$gte"
	OpIn     Operator = "$in"
	OpAll    Operator = "$all"
	OpSize   Operator = "$size"
	OpExists Operator = "$exists"
)

var knownOps = map[Operator]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true,
	OpGte: true, OpIn: true, OpAll: true, OpSize: true, OpExists: true,
}

// Predicate is one (path, operator, operand) condition.
type Predicate struct {
	Path    docpath.Path
	Op      Operator
	Operand *jsontree.Value
}

// Clause is the conjunction of a filter object's predicates.
type Clause struct {
	Preds []Predicate
}

// Parse reads a filter clause. Each entry is either `{field: value}`
// (shorthand for $eq) or `{field: {$op: value, ...}}`.
func Parse(node *jsontree.Value) (*Clause, error) {
	c := &Clause{}
	if node == nil || node.Kind() == jsontree.Null {
		return c, nil
	}
	if node.Kind() != jsontree.Object {
		return nil, tools.NewError(tools.CodeUnsupportedFilterType,
			"Unsupported filter data type: filter clause must be an object, got %s", node.Kind())
	}
	for _, field := range node.Keys() {
		val, _ := node.Get(field)
		path, err := docpath.Parse(field)
		if err != nil {
			return nil, tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: invalid field path %q", field)
		}
		if val.Kind() == jsontree.Object && isOperatorObject(val) {
			for _, opKey := range val.Keys() {
				op := Operator(opKey)
				if !knownOps[op] {
					return nil, tools.NewError(tools.CodeUnsupportedFilterType,
						"Unsupported filter data type: unknown operator %q for field %q", opKey, field)
				}
				operand, _ := val.Get(opKey)
				if err := validateOperand(op, operand, field); err != nil {
					return nil, err
				}
				c.Preds = append(c.Preds, Predicate{Path: path, Op: op, Operand: operand})
			}
			continue
		}
		c.Preds = append(c.Preds, Predicate{Path: path, Op: OpEq, Operand: val})
	}
	return c, nil
}

// isOperatorObject reports whether every key of the object is a $-operator.
// An object with plain keys is an equality operand (deep match), as are the
// $date and $uuid tagged values.
func isOperatorObject(v *jsontree.Value) bool {
	if v.Len() == 0 {
		return false
	}
	if _, ok := shred.DateValue(v); ok {
		return false
	}
	if _, ok := v.Get("$uuid"); ok && v.Len() == 1 {
		return false
	}
	for _, k := range v.Keys() {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func validateOperand(op Operator, operand *jsontree.Value, field string) error {
	switch op {
	case OpIn, OpAll:
		if operand.Kind() != jsontree.Array {
			return tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: %s on %q requires an array operand", op, field)
		}
	case OpSize:
		if operand.Kind() != jsontree.Number {
			return tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: $size on %q requires a numeric operand", field)
		}
		if n, err := operand.NumberVal().Int64(); err != nil || n < 0 {
			return tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: $size on %q requires a non-negative integer", field)
		}
	case OpExists:
		if operand.Kind() != jsontree.Bool {
			return tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: $exists on %q requires a boolean operand", field)
		}
	}
	return nil
}

// IsEmpty reports whether the clause has no predicates.
func (c *Clause) IsEmpty() bool { return c == nil || len(c.Preds) == 0 }

// Condition is one pushed-down column predicate: a CQL fragment with
// positional bind markers and its arguments.
type Condition struct {
	CQL  string
	Args []any
}

// Plan is the split of a clause into store-side conditions and post-read
// predicates. When Key is set the filter selects one document by primary key.
type Plan struct {
	Key        *shred.DocumentID
	Conditions []Condition
	PostRead   []Predicate
}

// NeedsPostRead reports whether fetched rows must be re-checked in memory.
func (p *Plan) NeedsPostRead() bool { return len(p.PostRead) > 0 }

// Plan binds each predicate to an index column, or defers it to post-read
// when no AND-composable column condition exists.
func (c *Clause) Plan() (*Plan, error) {
	p := &Plan{}
	for _, pred := range c.Preds {
		if err := p.add(pred); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Plan) add(pred Predicate) error {
	segs := pred.Path.Segments()
	if len(segs) == 1 && segs[0] == shred.FieldID {
		switch pred.Op {
		case OpEq:
			id, err := shred.NewDocumentID(pred.Operand)
			if err != nil {
				return tools.NewError(tools.CodeUnsupportedFilterType,
					"Unsupported filter data type: invalid _id value in filter")
			}
			p.Key = &id
			return nil
		case OpExists:
			// _id is recorded in exist_keys; fall through to the generic binding.
		default:
			// _id never enters the query_* containers; everything but
			// equality and $exists is answered from doc_json after the read.
			p.PostRead = append(p.PostRead, pred)
			return nil
		}
	}
	path := pred.Path.Render()

	switch pred.Op {
	case OpEq:
		return p.addEq(pred, path)
	case OpNe:
		p.PostRead = append(p.PostRead, pred)
	case OpLt, OpLte, OpGt, OpGte:
		return p.addRange(pred, path)
	case OpIn:
		if pred.Operand.Len() == 1 && isAtomic(pred.Operand.Elems()[0]) {
			entry, err := shred.ContainsEntry(path, pred.Operand.Elems()[0])
			if err != nil {
				return err
			}
			p.push("array_contains CONTAINS ?", entry)
			return nil
		}
		// No OR in CQL: multi-value membership is checked after the read.
		p.PostRead = append(p.PostRead, pred)
	case OpAll:
		if pred.Operand.Len() == 0 {
			// $all with no elements matches nothing; zero pushed
			// conditions would match everything.
			p.PostRead = append(p.PostRead, pred)
			return nil
		}
		for _, elem := range pred.Operand.Elems() {
			if !isAtomic(elem) {
				p.PostRead = append(p.PostRead, pred)
				return nil
			}
		}
		for _, elem := range pred.Operand.Elems() {
			entry, err := shred.ContainsEntry(path, elem)
			if err != nil {
				return err
			}
			p.push("array_contains CONTAINS ?", entry)
		}
	case OpSize:
		n, _ := pred.Operand.NumberVal().Int64()
		p.push("array_size[?] = ?", path, int(n))
	case OpExists:
		if pred.Operand.BoolVal() {
			p.push("exist_keys CONTAINS ?", path)
		} else {
			p.PostRead = append(p.PostRead, pred)
		}
	}
	return nil
}

func (p *Plan) addEq(pred Predicate, path string) error {
	operand := pred.Operand
	if ts, ok := shred.DateValue(operand); ok {
		p.push("query_timestamp_values[?] = ?", path, ts)
		return nil
	}
	switch operand.Kind() {
	case jsontree.Null:
		p.push("query_null_values CONTAINS ?", path)
	case jsontree.Bool:
		p.push("query_bool_values[?] = ?", path, boolTinyint(operand.BoolVal()))
	case jsontree.Number:
		dec, err := shred.DecimalFromNumber(operand.NumberVal())
		if err != nil {
			return tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: unparseable number in filter on %q", pred.Path.String())
		}
		p.push("query_dbl_values[?] = ?", path, dec)
	case jsontree.String:
		p.push("query_text_values[?] = ?", path, operand.StringVal())
	default:
		// Deep equality on objects and arrays has no single column binding.
		p.PostRead = append(p.PostRead, pred)
	}
	return nil
}

func (p *Plan) addRange(pred Predicate, path string) error {
	cmp := map[Operator]string{OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">="}[pred.Op]
	if ts, ok := shred.DateValue(pred.Operand); ok {
		p.push("query_timestamp_values[?] "+cmp+" ?", path, ts)
		return nil
	}
	if pred.Operand.Kind() == jsontree.Number {
		dec, err := shred.DecimalFromNumber(pred.Operand.NumberVal())
		if err != nil {
			return tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: unparseable number in filter on %q", pred.Path.String())
		}
		p.push("query_dbl_values[?] "+cmp+" ?", path, dec)
		return nil
	}
	return tools.NewError(tools.CodeUnsupportedFilterType,
		"Unsupported filter data type: %s on %q requires a number or $date operand", pred.Op, pred.Path.String())
}

func (p *Plan) push(cql string, args ...any) {
	p.Conditions = append(p.Conditions, Condition{CQL: cql, Args: args})
}

func isAtomic(v *jsontree.Value) bool {
	switch v.Kind() {
	case jsontree.Array:
		return false
	case jsontree.Object:
		_, isDate := shred.DateValue(v)
		return isDate
	}
	return true
}

func boolTinyint(b bool) int8 {
	if b {
		return 1
	}
	return 0
}
