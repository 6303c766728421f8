package shred

import (
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/tools"
	"github.com/google/uuid"
)

// DocIDType tags the JSON type a document id was derived from. The tag is
// the tinyint half of the key tuple.
type DocIDType int8

const (
	DocIDString DocIDType = 1
	DocIDNumber DocIDType = 2
	DocIDBool   DocIDType = 3
	DocIDNull   DocIDType = 4
	DocIDUUID   DocIDType = 5
)

// DocumentID is the typed `_id` of a document, encoded into the key column
// as a (tinyint, text) tuple.
type DocumentID struct {
	Type  DocIDType
	Value string
}

// NewDocumentID derives a DocumentID from a document's `_id` node.
// Arrays and objects are rejected, except the `{"$uuid": "..."}` tagged form.
func NewDocumentID(v *jsontree.Value) (DocumentID, error) {
	switch v.Kind() {
	case jsontree.String:
		return DocumentID{Type: DocIDString, Value: v.StringVal()}, nil
	case jsontree.Number:
		return DocumentID{Type: DocIDNumber, Value: v.NumberVal().String()}, nil
	case jsontree.Bool:
		if v.BoolVal() {
			return DocumentID{Type: DocIDBool, Value: "true"}, nil
		}
		return DocumentID{Type: DocIDBool, Value: "false"}, nil
	case jsontree.Null:
		return DocumentID{Type: DocIDNull, Value: "null"}, nil
	case jsontree.Object:
		if tag, ok := v.Get("$uuid"); ok && v.Len() == 1 && tag.Kind() == jsontree.String {
			id, err := uuid.Parse(tag.StringVal())
			if err != nil {
				return DocumentID{}, tools.NewError(tools.CodeShredBadDocIDType,
					"Bad type for '_id' property: invalid $uuid value %q", tag.StringVal())
			}
			return DocumentID{Type: DocIDUUID, Value: id.String()}, nil
		}
	}
	return DocumentID{}, tools.NewError(tools.CodeShredBadDocIDType,
		"Bad type for '_id' property: expected string, number, boolean, null or $uuid, got %s", v.Kind())
}

// RandomDocumentID assigns a random UUID id for documents inserted without
// an `_id`.
func RandomDocumentID() DocumentID {
	return DocumentID{Type: DocIDUUID, Value: uuid.NewString()}
}

// AsJSON returns the id in its document form.
func (id DocumentID) AsJSON() *jsontree.Value {
	switch id.Type {
	case DocIDString:
		return jsontree.NewString(id.Value)
	case DocIDNumber:
		return jsontree.NewNumber(jsonNumber(id.Value))
	case DocIDBool:
		return jsontree.NewBool(id.Value == "true")
	case DocIDNull:
		return jsontree.NewNull()
	case DocIDUUID:
		obj := jsontree.NewObject()
		obj.Set("$uuid", jsontree.NewString(id.Value))
		return obj
	}
	return jsontree.NewNull()
}

// Key returns the tuple components bound into the key column.
func (id DocumentID) Key() (int8, string) {
	return int8(id.Type), id.Value
}
