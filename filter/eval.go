package filter

import (
	"math/big"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/shred"
)

// Matches evaluates the whole clause against a document in memory. By
// construction it agrees with the store-side plan: a document satisfies all
// pushed conditions plus all post-read predicates iff Matches returns true.
func (c *Clause) Matches(doc *jsontree.Value) bool {
	for _, pred := range c.Preds {
		if !evalPred(doc, pred) {
			return false
		}
	}
	return true
}

// MatchesPost re-checks only the predicates the plan deferred to post-read.
func (p *Plan) MatchesPost(doc *jsontree.Value) bool {
	for _, pred := range p.PostRead {
		if !evalPred(doc, pred) {
			return false
		}
	}
	return true
}

func evalPred(doc *jsontree.Value, pred Predicate) bool {
	val, found := pred.Path.FindValue(doc)

	switch pred.Op {
	case OpEq:
		return found && val.Equal(pred.Operand)
	case OpNe:
		// $ne matches documents where the field is missing.
		return !found || !val.Equal(pred.Operand)
	case OpLt, OpLte, OpGt, OpGte:
		return found && evalRange(val, pred.Op, pred.Operand)
	case OpIn:
		if !found {
			return false
		}
		for _, operand := range pred.Operand.Elems() {
			if eqOrMember(val, operand) {
				return true
			}
		}
		return false
	case OpAll:
		if !found || pred.Operand.Len() == 0 {
			return false
		}
		for _, operand := range pred.Operand.Elems() {
			if !eqOrMember(val, operand) {
				return false
			}
		}
		return true
	case OpSize:
		if !found || val.Kind() != jsontree.Array {
			return false
		}
		n, _ := pred.Operand.NumberVal().Int64()
		return val.Len() == int(n)
	case OpExists:
		return found == pred.Operand.BoolVal()
	}
	return false
}

// eqOrMember is membership the way array_contains records it: the value
// equals the operand, or the value is an array containing the operand.
func eqOrMember(val, operand *jsontree.Value) bool {
	if val.Equal(operand) {
		return true
	}
	if val.Kind() == jsontree.Array {
		for _, elem := range val.Elems() {
			if elem.Equal(operand) {
				return true
			}
		}
	}
	return false
}

func evalRange(val *jsontree.Value, op Operator, operand *jsontree.Value) bool {
	if ots, ok := shred.DateValue(operand); ok {
		vts, ok := shred.DateValue(val)
		if !ok {
			return false
		}
		return cmpMatches(op, compareInt64(vts.UnixMilli(), ots.UnixMilli()))
	}
	if operand.Kind() == jsontree.Number && val.Kind() == jsontree.Number {
		a, aok := new(big.Rat).SetString(val.NumberVal().String())
		b, bok := new(big.Rat).SetString(operand.NumberVal().String())
		if !aok || !bok {
			return false
		}
		return cmpMatches(op, a.Cmp(b))
	}
	return false
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpMatches(op Operator, cmp int) bool {
	switch op {
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	}
	return false
}
