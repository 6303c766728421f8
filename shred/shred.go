// Package shred decomposes JSON documents into the fixed relational row
// shape backing a collection table. The whole document survives in canonical
// form as doc_json; everything else exists to make predicates answerable from
// index columns.
package shred

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/docpath"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
	inf "gopkg.in/inf.v0"
)

// Reserved document fields handled outside the generic walk.
const (
	FieldID     = "_id"
	FieldVector = "$vector"
	FieldDate   = "$date"
)

// Type tags embedded in array_contains entries.
const (
	tagString = "S"
	tagNumber = "N"
	tagBool   = "B"
	tagNull   = "Z"
	tagDate   = "D"
	tagHash   = "H"
)

// WritableShreddedDocument is one collection-table row in memory: the typed
// index containers produced by shredding plus the canonical doc_json.
type WritableShreddedDocument struct {
	ID      DocumentID
	TxID    gocql.UUID
	DocJSON string

	DocFieldOrder []string
	ExistKeys     map[string]struct{}
	ArraySize     map[string]int
	ArrayContains map[string]struct{}
	SubDocEquals  map[string]string

	QueryBoolValues      map[string]bool
	QueryDblValues       map[string]*inf.Dec
	QueryTextValues      map[string]string
	QueryTimestampValues map[string]time.Time
	QueryNullValues      map[string]struct{}
	QueryVectorValue     []float32
}

type shredder struct {
	out      *WritableShreddedDocument
	maxDepth int
}

// Shred canonicalises a JSON document and decomposes it into a shredded row.
// The input must be an object; `_id` must not be an array or object. A
// missing `_id` is assigned a random UUID. The returned document carries the
// canonical doc_json with `_id` as the first field.
func Shred(doc *jsontree.Value) (*WritableShreddedDocument, error) {
	if doc.Kind() != jsontree.Object {
		return nil, tools.NewError(tools.CodeShredBadDocumentType,
			"Bad document type to shred: document must be a JSON object, instead got %s", doc.Kind())
	}

	var id DocumentID
	if idNode, ok := doc.Get(FieldID); ok {
		var err error
		if id, err = NewDocumentID(idNode); err != nil {
			return nil, err
		}
	} else {
		id = RandomDocumentID()
	}

	// Canonical form: _id first, remaining fields in input order.
	canonical := jsontree.NewObject()
	canonical.Set(FieldID, id.AsJSON())
	for _, k := range doc.Keys() {
		if k == FieldID {
			continue
		}
		v, _ := doc.Get(k)
		canonical.Set(k, v)
	}

	docJSON := canonical.AppendJSON(nil)
	if max := config.Cfg.MaxDocSize; max > 0 && len(docJSON) > max {
		return nil, tools.NewError(tools.CodeShredBadDocumentType,
			"Bad document type to shred: document size %d exceeds maximum %d", len(docJSON), max)
	}

	s := &shredder{
		out: &WritableShreddedDocument{
			ID:                   id,
			DocJSON:              string(docJSON),
			ExistKeys:            map[string]struct{}{},
			ArraySize:            map[string]int{},
			ArrayContains:        map[string]struct{}{},
			SubDocEquals:         map[string]string{},
			QueryBoolValues:      map[string]bool{},
			QueryDblValues:       map[string]*inf.Dec{},
			QueryTextValues:      map[string]string{},
			QueryTimestampValues: map[string]time.Time{},
			QueryNullValues:      map[string]struct{}{},
		},
		maxDepth: config.Cfg.MaxDocDepth,
	}
	s.out.ExistKeys[FieldID] = struct{}{}

	for _, k := range canonical.Keys() {
		if k == FieldID {
			continue
		}
		v, _ := canonical.Get(k)
		if k == FieldVector {
			vec, err := vectorFromNode(v)
			if err != nil {
				return nil, err
			}
			s.out.QueryVectorValue = vec
			continue
		}
		if err := s.walk(docpath.EscapeSegment(k), v, 1, ""); err != nil {
			return nil, err
		}
	}
	return s.out, nil
}

// walk shreds one node. path is the rendered column path of the node,
// arrayPath is the rendered path of the enclosing array when the node is an
// array element ("" otherwise).
func (s *shredder) walk(path string, v *jsontree.Value, depth int, arrayPath string) error {
	if s.maxDepth > 0 && depth > s.maxDepth {
		return tools.NewError(tools.CodeShredBadDocumentType,
			"Bad document type to shred: nesting depth exceeds maximum %d", s.maxDepth)
	}
	s.out.DocFieldOrder = append(s.out.DocFieldOrder, path)
	s.out.ExistKeys[path] = struct{}{}

	if ts, ok := DateValue(v); ok {
		s.out.QueryTimestampValues[path] = ts
		s.contains(path, arrayPath, tagDate, strconv.FormatInt(ts.UnixMilli(), 10))
		return nil
	}

	switch v.Kind() {
	case jsontree.Null:
		s.out.QueryNullValues[path] = struct{}{}
		s.contains(path, arrayPath, tagNull, "null")
	case jsontree.Bool:
		s.out.QueryBoolValues[path] = v.BoolVal()
		s.contains(path, arrayPath, tagBool, strconv.FormatBool(v.BoolVal()))
	case jsontree.Number:
		dec, err := DecimalFromNumber(v.NumberVal())
		if err != nil {
			return tools.NewError(tools.CodeShredBadDocumentType,
				"Bad document type to shred: unparseable number %q at %s", v.NumberVal(), path)
		}
		s.out.QueryDblValues[path] = dec
		s.contains(path, arrayPath, tagNumber, dec.String())
	case jsontree.String:
		s.out.QueryTextValues[path] = v.StringVal()
		s.contains(path, arrayPath, tagString, v.StringVal())
	case jsontree.Array:
		s.out.ArraySize[path] = v.Len()
		if arrayPath != "" {
			s.out.ArrayContains[arrayPath+"|"+tagHash+"|"+ContentHash(v)] = struct{}{}
		}
		for i, elem := range v.Elems() {
			child := path + ".[" + strconv.Itoa(i) + "]"
			if err := s.walk(child, elem, depth+1, path); err != nil {
				return err
			}
		}
	case jsontree.Object:
		s.out.SubDocEquals[path] = ContentHash(v)
		if arrayPath != "" {
			s.out.ArrayContains[arrayPath+"|"+tagHash+"|"+ContentHash(v)] = struct{}{}
		}
		for _, k := range v.Keys() {
			val, _ := v.Get(k)
			if err := s.walk(path+"."+docpath.EscapeSegment(k), val, depth+1, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

// contains records array_contains entries for an atomic leaf: one under the
// leaf path, and one under the enclosing array path when the leaf is an
// array element. The latter is what $in and $all membership binds to.
func (s *shredder) contains(path, arrayPath, tag, literal string) {
	s.out.ArrayContains[path+"|"+tag+"|"+literal] = struct{}{}
	if arrayPath != "" {
		s.out.ArrayContains[arrayPath+"|"+tag+"|"+literal] = struct{}{}
	}
}

// ContainsEntry renders the array_contains entry a filter value binds to.
func ContainsEntry(path string, v *jsontree.Value) (string, error) {
	if ts, ok := DateValue(v); ok {
		return path + "|" + tagDate + "|" + strconv.FormatInt(ts.UnixMilli(), 10), nil
	}
	switch v.Kind() {
	case jsontree.Null:
		return path + "|" + tagNull + "|null", nil
	case jsontree.Bool:
		return path + "|" + tagBool + "|" + strconv.FormatBool(v.BoolVal()), nil
	case jsontree.Number:
		dec, err := DecimalFromNumber(v.NumberVal())
		if err != nil {
			return "", tools.NewError(tools.CodeUnsupportedFilterType,
				"Unsupported filter data type: unparseable number %q", v.NumberVal())
		}
		return path + "|" + tagNumber + "|" + dec.String(), nil
	case jsontree.String:
		return path + "|" + tagString + "|" + v.StringVal(), nil
	default:
		return path + "|" + tagHash + "|" + ContentHash(v), nil
	}
}

// ContentHash returns the stable content hash of a subtree: the MD5 of its
// canonical JSON form.
func ContentHash(v *jsontree.Value) string {
	sum := md5.Sum(v.AppendJSON(nil))
	return hex.EncodeToString(sum[:])
}

// DecimalFromNumber converts a JSON number into the store's decimal form.
// Exponent notation is normalized away and trailing zero decimals are
// stripped so equal values render equally (1.10 and 1.1 produce the same
// array_contains entry).
func DecimalFromNumber(n json.Number) (*inf.Dec, error) {
	s := string(n)
	if strings.ContainsAny(s, "eE") {
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
		if s == "" || s == "-" {
			s += "0"
		}
	}
	dec, ok := new(inf.Dec).SetString(s)
	if !ok {
		return nil, strconv.ErrSyntax
	}
	return dec, nil
}

// DateValue recognizes the `{"$date": <epoch-millis>}` tagged form.
func DateValue(v *jsontree.Value) (time.Time, bool) {
	if v.Kind() != jsontree.Object || v.Len() != 1 {
		return time.Time{}, false
	}
	tag, ok := v.Get(FieldDate)
	if !ok || tag.Kind() != jsontree.Number {
		return time.Time{}, false
	}
	ms, err := tag.NumberVal().Int64()
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// vectorFromNode converts the $vector field into the float vector column.
func vectorFromNode(v *jsontree.Value) ([]float32, error) {
	if v.Kind() != jsontree.Array || v.Len() == 0 {
		return nil, tools.NewError(tools.CodeShredBadDocumentType,
			"Bad document type to shred: $vector must be a non-empty array of numbers")
	}
	vec := make([]float32, v.Len())
	for i, elem := range v.Elems() {
		if elem.Kind() != jsontree.Number {
			return nil, tools.NewError(tools.CodeShredBadDocumentType,
				"Bad document type to shred: $vector element %d is not a number", i)
		}
		f, err := elem.NumberVal().Float64()
		if err != nil {
			return nil, tools.NewError(tools.CodeShredBadDocumentType,
				"Bad document type to shred: $vector element %d is not a number", i)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

func jsonNumber(s string) json.Number { return json.Number(s) }
