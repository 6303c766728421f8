// Package docpath implements dotted-path locators over JSON document trees.
//
// A path is a non-empty sequence of segments separated by dots. A segment is
// either a literal object key or a base-10 integer denoting an array index.
// Literal keys escape dots and brackets with a backslash, so the key
// "[extra.stuff]" is addressed as `\[extra\.stuff]`.
package docpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/tools"
)

// Path is a parsed dotted-path locator.
type Path struct {
	segs []string
}

// Parse splits a dotted string into segments, decoding backslash escapes.
// Empty segments are forbidden.
func Parse(s string) (Path, error) {
	if s == "" {
		return Path{}, fmt.Errorf("empty path")
	}
	var segs []string
	var cur strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '.':
			if cur.Len() == 0 {
				return Path{}, fmt.Errorf("empty segment in path %q", s)
			}
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if escaped {
		return Path{}, fmt.Errorf("dangling escape in path %q", s)
	}
	if cur.Len() == 0 {
		return Path{}, fmt.Errorf("empty segment in path %q", s)
	}
	segs = append(segs, cur.String())
	return Path{segs: segs}, nil
}

// FromSegments builds a path from already-decoded segments.
func FromSegments(segs ...string) Path {
	return Path{segs: append([]string(nil), segs...)}
}

// Segments returns the decoded segment sequence.
func (p Path) Segments() []string { return p.segs }

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.segs) }

// IsZero reports whether the path has no segments.
func (p Path) IsZero() bool { return len(p.segs) == 0 }

// EscapeSegment escapes dots, opening brackets, and backslashes in a
// literal key so it can be embedded in a rendered path. A closing bracket
// is unambiguous and stays bare.
func EscapeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// String returns the escaped client form of the path.
func (p Path) String() string {
	parts := make([]string, len(p.segs))
	for i, s := range p.segs {
		parts[i] = EscapeSegment(s)
	}
	return strings.Join(parts, ".")
}

// Render returns the shredded-column form of the path: all-digit segments
// are rendered as array indexes, `[n]`.
func (p Path) Render() string {
	parts := make([]string, len(p.segs))
	for i, s := range p.segs {
		switch {
		case isIndexSegment(s):
			parts[i] = "[" + s + "]"
		case len(s) > 2 && s[0] == '[' && s[len(s)-1] == ']' && isIndexSegment(s[1:len(s)-1]):
			// Already in rendered index form.
			parts[i] = s
		default:
			parts[i] = EscapeSegment(s)
		}
	}
	return strings.Join(parts, ".")
}

// parseIndex reads an array-index segment, accepting both the client form
// ("0") and the rendered column form ("[0]").
func parseIndex(seg string) (int, bool) {
	if len(seg) > 2 && seg[0] == '[' && seg[len(seg)-1] == ']' {
		seg = seg[1 : len(seg)-1]
	}
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

func isIndexSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// IsSubPathOf reports whether other addresses a proper ancestor of p.
func (p Path) IsSubPathOf(other Path) bool {
	if len(other.segs) >= len(p.segs) {
		return false
	}
	for i, s := range other.segs {
		if p.segs[i] != s {
			return false
		}
	}
	return true
}

// Compare orders paths segment-wise lexicographically, shorter before longer
// at equal prefix. Under this order every ancestor sorts immediately before
// its first descendant.
func Compare(a, b Path) int {
	n := len(a.segs)
	if len(b.segs) < n {
		n = len(b.segs)
	}
	for i := 0; i < n; i++ {
		if c := strings.Compare(a.segs[i], b.segs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.segs) < len(b.segs):
		return -1
	case len(a.segs) > len(b.segs):
		return 1
	}
	return 0
}

// MatchKind classifies the result of a path lookup.
type MatchKind int

const (
	// Missing means the path does not resolve to a location in the document.
	Missing MatchKind = iota
	// ObjectField is a match through an object parent.
	ObjectField
	// ArrayElement is a match through an array parent.
	ArrayElement
)

// Match is the result of resolving a path against a document.
type Match struct {
	Kind   MatchKind
	Parent *jsontree.Value
	Key    string // leaf key when Kind == ObjectField
	Index  int    // element index when Kind == ArrayElement
}

// Value returns the matched node, or nil for a missing match.
func (m Match) Value() *jsontree.Value {
	switch m.Kind {
	case ObjectField:
		if v, ok := m.Parent.Get(m.Key); ok {
			return v
		}
	case ArrayElement:
		if v, ok := m.Parent.Index(m.Index); ok {
			return v
		}
	}
	return nil
}

// Set assigns a value at the matched location.
func (m Match) Set(v *jsontree.Value) {
	switch m.Kind {
	case ObjectField:
		m.Parent.Set(m.Key, v)
	case ArrayElement:
		m.Parent.SetIndex(m.Index, v)
	}
}

// Remove deletes the matched location from its parent.
func (m Match) Remove() {
	switch m.Kind {
	case ObjectField:
		m.Parent.Delete(m.Key)
	case ArrayElement:
		m.Parent.RemoveIndex(m.Index)
	}
}

// FindIfExists resolves the path without mutating the document. Array
// traversal requires the segment to parse as a non-negative integer;
// otherwise the result is missing.
func (p Path) FindIfExists(doc *jsontree.Value) Match {
	cur := doc
	for i, seg := range p.segs {
		last := i == len(p.segs)-1
		switch cur.Kind() {
		case jsontree.Object:
			v, ok := cur.Get(seg)
			if !ok {
				return Match{Kind: Missing}
			}
			if last {
				return Match{Kind: ObjectField, Parent: cur, Key: seg}
			}
			cur = v
		case jsontree.Array:
			idx, ok := parseIndex(seg)
			if !ok {
				return Match{Kind: Missing}
			}
			v, ok := cur.Index(idx)
			if !ok {
				return Match{Kind: Missing}
			}
			if last {
				return Match{Kind: ArrayElement, Parent: cur, Index: idx}
			}
			cur = v
		default:
			return Match{Kind: Missing}
		}
	}
	return Match{Kind: Missing}
}

// FindValue is a non-mutating lookup returning the node at the path.
func (p Path) FindValue(doc *jsontree.Value) (*jsontree.Value, bool) {
	m := p.FindIfExists(doc)
	v := m.Value()
	return v, v != nil
}

// FindOrCreate resolves the path, auto-vivifying object parents. On arrays
// it pads with null up to but not including the requested index and inserts
// an object at that index for intermediate segments. Creating a named
// property on a non-object fails.
func (p Path) FindOrCreate(doc *jsontree.Value) (Match, error) {
	cur := doc
	for i, seg := range p.segs {
		last := i == len(p.segs)-1
		switch cur.Kind() {
		case jsontree.Object:
			if last {
				return Match{Kind: ObjectField, Parent: cur, Key: seg}, nil
			}
			v, ok := cur.Get(seg)
			if !ok {
				v = jsontree.NewObject()
				cur.Set(seg, v)
			}
			cur = v
		case jsontree.Array:
			idx, ok := parseIndex(seg)
			if !ok {
				return Match{}, tools.NewError(tools.CodeUnsupportedUpdatePath,
					"Unsupported update operation path: cannot create property %q on an array (%s)", seg, p.String())
			}
			if last {
				// Pad so the element index is addressable by Set.
				for cur.Len() < idx {
					cur.Append(jsontree.NewNull())
				}
				return Match{Kind: ArrayElement, Parent: cur, Index: idx}, nil
			}
			for cur.Len() < idx {
				cur.Append(jsontree.NewNull())
			}
			v, ok := cur.Index(idx)
			if !ok || (!v.IsObject() && !v.IsArray()) {
				v = jsontree.NewObject()
				cur.SetIndex(idx, v)
			}
			cur = v
		default:
			return Match{}, tools.NewError(tools.CodeUnsupportedUpdatePath,
				"Unsupported update operation path: cannot create property %q on a non-object value (%s)", seg, p.String())
		}
	}
	return Match{}, fmt.Errorf("empty path")
}
