// Package schema describes the fixed collection-table shape and caches
// per-collection settings read from store metadata.
package schema

import "fmt"

// Column is one column of the fixed collection-table shape.
type Column struct {
	Name    string
	Type    string // CQL type; vector columns are rendered per collection
	Indexed bool   // has a StorageAttachedIndex named <table>_<name>
}

// TableColumns is the fixed column shape of every collection table, in
// declaration order. key is the partition key; the query_* columns back
// filter pushdown.
var TableColumns = []Column{
	{Name: "key", Type: "tuple<tinyint, text>"},
	{Name: "tx_id", Type: "timeuuid"},
	{Name: "doc_json", Type: "text"},
	{Name: "exist_keys", Type: "set<text>", Indexed: true},
	{Name: "array_size", Type: "map<text, int>", Indexed: true},
	{Name: "array_contains", Type: "set<text>", Indexed: true},
	{Name: "query_bool_values", Type: "map<text, tinyint>", Indexed: true},
	{Name: "query_dbl_values", Type: "map<text, decimal>", Indexed: true},
	{Name: "query_text_values", Type: "map<text, text>", Indexed: true},
	{Name: "query_timestamp_values", Type: "map<text, timestamp>", Indexed: true},
	{Name: "query_null_values", Type: "set<text>", Indexed: true},
}

// VectorColumn is the optional ANN column present on vector-enabled
// collections.
const VectorColumn = "query_vector_value"

// IndexName returns the canonical secondary-index name for a column.
func IndexName(table, column string) string {
	return fmt.Sprintf("%s_%s", table, column)
}

// IndexesPerCollection is the number of secondary indexes CreateCollection
// issues for a non-vector collection. The capacity arithmetic derives from
// this so the two cannot drift apart.
func IndexesPerCollection() int {
	n := 0
	for _, c := range TableColumns {
		if c.Indexed {
			n++
		}
	}
	return n
}

// MatchesShape reports whether a table's column names contain the full
// fixed shape (ignoring the optional vector column).
func MatchesShape(columns map[string]string) bool {
	for _, c := range TableColumns {
		if _, ok := columns[c.Name]; !ok {
			return false
		}
	}
	return true
}
