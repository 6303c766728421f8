package jsontree

import (
	"testing"
)

func TestParsePreservesKeyOrder(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"simple object", `{"b":1,"a":2}`, `{"b":1,"a":2}`},
		{"nested object", `{"z":{"y":1,"x":2},"a":3}`, `{"z":{"y":1,"x":2},"a":3}`},
		{"whitespace stripped", `{ "a" : [ 1 , 2 ] }`, `{"a":[1,2]}`},
		{"decimals preserved", `{"n":1.50,"m":0.001}`, `{"n":1.50,"m":0.001}`},
		{"escapes", `{"a\"b":"c\\d"}`, `{"a\"b":"c\\d"}`},
		{"null and bools", `{"a":null,"b":true,"c":false}`, `{"a":null,"b":true,"c":false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse([]byte(tt.in))
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if got := v.String(); got != tt.want {
				t.Errorf("round trip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []string{``, `{`, `{"a":}`, `[1,2`, `{"a":1}garbage`, `"unterminated`}
	for _, in := range tests {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("Parse(%q) expected error", in)
		}
	}
}

func TestEqualNumeric(t *testing.T) {
	a, _ := Parse([]byte(`{"n":1}`))
	b, _ := Parse([]byte(`{"n":1.0}`))
	if !a.Equal(b) {
		t.Errorf("1 and 1.0 should compare equal")
	}

	c, _ := Parse([]byte(`{"n":1.5}`))
	if a.Equal(c) {
		t.Errorf("1 and 1.5 should not compare equal")
	}
}

func TestEqualIgnoresKeyOrderButNotContent(t *testing.T) {
	a, _ := Parse([]byte(`{"x":1,"y":2}`))
	b, _ := Parse([]byte(`{"y":2,"x":1}`))
	if !a.Equal(b) {
		t.Errorf("objects with same fields in different order should be equal")
	}

	c, _ := Parse([]byte(`{"x":1,"y":3}`))
	if a.Equal(c) {
		t.Errorf("objects with different values should not be equal")
	}
}

func TestObjectSetDelete(t *testing.T) {
	obj := NewObject()
	obj.Set("a", NewNumberInt(1))
	obj.Set("b", NewNumberInt(2))
	obj.Set("c", NewNumberInt(3))
	obj.Set("b", NewNumberInt(4)) // overwrite keeps position

	if got := obj.String(); got != `{"a":1,"b":4,"c":3}` {
		t.Fatalf("after set = %s", got)
	}

	obj.Delete("b")
	if got := obj.String(); got != `{"a":1,"c":3}` {
		t.Fatalf("after delete = %s", got)
	}
}

func TestArrayOps(t *testing.T) {
	arr := NewArray()
	arr.Append(NewString("x"))
	arr.SetIndex(3, NewString("y"))
	if got := arr.String(); got != `["x",null,null,"y"]` {
		t.Fatalf("after pad = %s", got)
	}
	arr.RemoveIndex(0)
	if got := arr.String(); got != `[null,null,"y"]` {
		t.Fatalf("after remove = %s", got)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig, _ := Parse([]byte(`{"a":{"b":[1,2]}}`))
	clone := orig.Clone()

	inner, _ := clone.Get("a")
	arr, _ := inner.Get("b")
	arr.Append(NewNumberInt(3))

	if orig.String() != `{"a":{"b":[1,2]}}` {
		t.Errorf("mutating the clone changed the original: %s", orig)
	}
	if clone.String() != `{"a":{"b":[1,2,3]}}` {
		t.Errorf("clone mutation missing: %s", clone)
	}
}
