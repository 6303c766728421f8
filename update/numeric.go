package update

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// applyArithmetic computes $inc/$mul/$min/$max over two decimal numbers
// exactly, returning the minimal decimal rendering.
func applyArithmetic(op Op, existing, operand json.Number) (json.Number, error) {
	a, ok := new(big.Rat).SetString(existing.String())
	if !ok {
		return "", fmt.Errorf("unparseable number %q", existing)
	}
	b, ok := new(big.Rat).SetString(operand.String())
	if !ok {
		return "", fmt.Errorf("unparseable number %q", operand)
	}
	var r *big.Rat
	switch op {
	case OpInc:
		r = new(big.Rat).Add(a, b)
	case OpMul:
		r = new(big.Rat).Mul(a, b)
	case OpMin:
		if b.Cmp(a) < 0 {
			r = b
		} else {
			r = a
		}
	case OpMax:
		if b.Cmp(a) > 0 {
			r = b
		} else {
			r = a
		}
	default:
		return "", fmt.Errorf("not an arithmetic operator: %s", op)
	}
	return json.Number(ratDecimalString(r)), nil
}

// ratDecimalString renders a rational with a decimal-power denominator as
// the shortest exact decimal string.
func ratDecimalString(r *big.Rat) string {
	if r.IsInt() {
		return r.Num().String()
	}
	scale := decimalScale(r.Denom())
	if scale < 0 {
		// Denominator is not 2^a*5^b; cannot render exactly. Sums and
		// products of decimals never get here.
		scale = 20
	}
	s := r.FloatString(scale)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// decimalScale returns the smallest n with denom dividing 10^n, or -1 when
// no such n exists.
func decimalScale(denom *big.Int) int {
	d := new(big.Int).Set(denom)
	two := big.NewInt(2)
	five := big.NewInt(5)
	mod := new(big.Int)
	twos, fives := 0, 0
	for {
		q, m := new(big.Int).QuoRem(d, two, mod)
		if m.Sign() != 0 {
			break
		}
		d, twos = q, twos+1
	}
	for {
		q, m := new(big.Int).QuoRem(d, five, mod)
		if m.Sign() != 0 {
			break
		}
		d, fives = q, fives+1
	}
	if d.Cmp(big.NewInt(1)) != 0 {
		return -1
	}
	if twos > fives {
		return twos
	}
	return fives
}
