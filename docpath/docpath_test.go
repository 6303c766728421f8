package docpath

import (
	"sort"
	"testing"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/tools"
)

func mustParse(t *testing.T, s string) Path {
	t.Helper()
	p, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q) error: %v", s, err)
	}
	return p
}

func doc(t *testing.T, s string) *jsontree.Value {
	t.Helper()
	v, err := jsontree.Parse([]byte(s))
	if err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return v
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []string
		wantErr bool
	}{
		{"single segment", "a", []string{"a"}, false},
		{"dotted", "a.b.c", []string{"a", "b", "c"}, false},
		{"numeric segment", "values.0", []string{"values", "0"}, false},
		{"escaped dot", `a\.b`, []string{"a.b"}, false},
		{"escaped bracket", `\[extra\.stuff]`, []string{"[extra.stuff]"}, false},
		{"escaped backslash", `a\\b`, []string{`a\b`}, false},
		{"empty", "", nil, true},
		{"empty segment middle", "a..b", nil, true},
		{"empty segment trailing", "a.", nil, true},
		{"dangling escape", `a\`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			segs := p.Segments()
			if len(segs) != len(tt.want) {
				t.Fatalf("segments = %v, want %v", segs, tt.want)
			}
			for i := range segs {
				if segs[i] != tt.want[i] {
					t.Errorf("segment %d = %q, want %q", i, segs[i], tt.want[i])
				}
			}
		})
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a.b", "a.b"},
		{"values.0", "values.[0]"},
		{`\[extra\.stuff]`, `\[extra\.stuff]`},
		{"a.10.b", "a.[10].b"},
	}
	for _, tt := range tests {
		if got := mustParse(t, tt.in).Render(); got != tt.want {
			t.Errorf("Render(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSubPathOf(t *testing.T) {
	tests := []struct {
		child, parent string
		want          bool
	}{
		{"a.b", "a", true},
		{"a.b.c", "a", true},
		{"a", "a", false},
		{"ab", "a", false},
		{"a", "a.b", false},
		{"b.c", "a", false},
	}
	for _, tt := range tests {
		child, parent := mustParse(t, tt.child), mustParse(t, tt.parent)
		if got := child.IsSubPathOf(parent); got != tt.want {
			t.Errorf("%q.IsSubPathOf(%q) = %v, want %v", tt.child, tt.parent, got, tt.want)
		}
	}
}

// TestCompareAncestorsFirst verifies that sorting places every parent
// immediately before its first descendant.
func TestCompareAncestorsFirst(t *testing.T) {
	in := []string{"b", "a.b.c", "a", "a.b", "ab", "a.c"}
	want := []string{"a", "a.b", "a.b.c", "a.c", "ab", "b"}

	paths := make([]Path, len(in))
	for i, s := range in {
		paths[i] = mustParse(t, s)
	}
	sort.Slice(paths, func(i, j int) bool { return Compare(paths[i], paths[j]) < 0 })

	for i, p := range paths {
		if p.String() != want[i] {
			t.Fatalf("sorted[%d] = %q, want %q", i, p.String(), want[i])
		}
	}
}

func TestFindIfExists(t *testing.T) {
	d := doc(t, `{"a":{"b":1},"arr":[10,{"x":2}],"s":"str"}`)

	tests := []struct {
		path  string
		kind  MatchKind
		value string // JSON of matched value, "" if missing
	}{
		{"a.b", ObjectField, "1"},
		{"a", ObjectField, `{"b":1}`},
		{"arr.0", ArrayElement, "10"},
		{"arr.1.x", ObjectField, "2"},
		{"a.missing", Missing, ""},
		{"arr.5", Missing, ""},
		{"arr.x", Missing, ""}, // non-integer segment into array
		{"s.sub", Missing, ""}, // traversal through scalar
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			m := mustParse(t, tt.path).FindIfExists(d)
			if m.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", m.Kind, tt.kind)
			}
			if tt.kind == Missing {
				return
			}
			if got := m.Value().String(); got != tt.value {
				t.Errorf("value = %s, want %s", got, tt.value)
			}
		})
	}
}

func TestFindOrCreateVivifiesObjects(t *testing.T) {
	d := doc(t, `{}`)
	m, err := mustParse(t, "a.b.c").FindOrCreate(d)
	if err != nil {
		t.Fatal(err)
	}
	m.Set(jsontree.NewNumberInt(7))
	if got := d.String(); got != `{"a":{"b":{"c":7}}}` {
		t.Fatalf("doc = %s", got)
	}
}

func TestFindOrCreatePadsArrays(t *testing.T) {
	d := doc(t, `{"arr":[1]}`)

	// Final segment: pad with nulls up to the index.
	m, err := mustParse(t, "arr.3").FindOrCreate(d)
	if err != nil {
		t.Fatal(err)
	}
	m.Set(jsontree.NewString("x"))
	if got := d.String(); got != `{"arr":[1,null,null,"x"]}` {
		t.Fatalf("doc = %s", got)
	}

	// Intermediate segment: insert an object at the index.
	d2 := doc(t, `{"arr":[]}`)
	m, err = mustParse(t, "arr.1.k").FindOrCreate(d2)
	if err != nil {
		t.Fatal(err)
	}
	m.Set(jsontree.NewNumberInt(5))
	if got := d2.String(); got != `{"arr":[null,{"k":5}]}` {
		t.Fatalf("doc = %s", got)
	}
}

func TestFindOrCreateRejectsNonObjectParents(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		path string
	}{
		{"named property on array", `{"arr":[1,2]}`, "arr.name"},
		{"property on scalar", `{"s":"str"}`, "s.sub"},
		{"property on number", `{"n":5}`, "n.sub.deep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mustParse(t, tt.path).FindOrCreate(doc(t, tt.doc))
			if !tools.HasCode(err, tools.CodeUnsupportedUpdatePath) {
				t.Fatalf("expected UNSUPPORTED_UPDATE_OPERATION_PATH, got %v", err)
			}
		})
	}
}

// TestFindValue: a path resolves under FindValue iff the shredder records it
// in exist_keys. The shred side is covered by TestExistKeysMatchFindValue;
// here we pin FindValue over the same traversal rules.
func TestFindValue(t *testing.T) {
	d := doc(t, `{"name":"Bob","values":[1,2]}`)
	if v, ok := mustParse(t, "values.1").FindValue(d); !ok || v.String() != "2" {
		t.Errorf("values.1 = %v, %v", v, ok)
	}
	if _, ok := mustParse(t, "values.2").FindValue(d); ok {
		t.Errorf("values.2 should be missing")
	}
}
