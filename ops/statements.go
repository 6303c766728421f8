// Package ops implements the concrete operations behind API commands. Each
// operation is a pure description executed against a store.Executor.
package ops

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/casdoc/casdoc/filter"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
)

var identifierRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateCollectionName enforces the identifier shape backing tables allow.
func ValidateCollectionName(name string) error {
	if !identifierRe.MatchString(name) || len(name) > 48 {
		return tools.NewError(tools.CodeInvalidCollectionName,
			"Invalid collection name: %q", name)
	}
	return nil
}

// qualifiedTable renders the quoted keyspace.table reference.
func qualifiedTable(namespace, collection string) string {
	return fmt.Sprintf("%q.%q", namespace, collection)
}

// insertColumns is the column list bound by writeArgs, in order.
var insertColumns = []string{
	"key", "tx_id", "doc_json", "exist_keys", "array_size", "array_contains",
	"query_bool_values", "query_dbl_values", "query_text_values",
	"query_timestamp_values", "query_null_values",
}

// writeArgs binds a shredded document to the insert/update column order.
// The key tuple contributes two leading args.
func writeArgs(doc *shred.WritableShreddedDocument) []any {
	keyType, keyValue := doc.ID.Key()
	return []any{
		keyType, keyValue,
		doc.TxID,
		doc.DocJSON,
		setSlice(doc.ExistKeys),
		doc.ArraySize,
		setSlice(doc.ArrayContains),
		boolTinyints(doc.QueryBoolValues),
		doc.QueryDblValues,
		doc.QueryTextValues,
		doc.QueryTimestampValues,
		setSlice(doc.QueryNullValues),
	}
}

// insertStatement builds the CAS insert for a shredded document.
func insertStatement(namespace, collection string, doc *shred.WritableShreddedDocument) *store.Statement {
	cols := insertColumns
	args := writeArgs(doc)
	if doc.QueryVectorValue != nil {
		cols = append(append([]string(nil), cols...), schema.VectorColumn)
		args = append(args, doc.QueryVectorValue)
	}
	markers := strings.Repeat(", ?", len(cols)-1)
	return &store.Statement{
		Query: fmt.Sprintf("INSERT INTO %s (%s) VALUES ((?, ?)%s) IF NOT EXISTS",
			qualifiedTable(namespace, collection), strings.Join(cols, ", "), markers),
		Args:        args,
		Conditional: true,
	}
}

// casUpdateStatement rewrites the whole row, conditioned on the tx_id read
// before the update algebra ran.
func casUpdateStatement(namespace, collection string, doc *shred.WritableShreddedDocument, priorTx gocql.UUID) *store.Statement {
	args := writeArgs(doc)
	keyArgs := args[:2]
	setArgs := args[2:]

	var assigns []string
	for _, col := range insertColumns[1:] {
		assigns = append(assigns, col+" = ?")
	}
	if doc.QueryVectorValue != nil {
		assigns = append(assigns, schema.VectorColumn+" = ?")
		setArgs = append(setArgs, doc.QueryVectorValue)
	}

	all := append(append([]any{}, setArgs...), keyArgs...)
	all = append(all, priorTx)
	return &store.Statement{
		Query: fmt.Sprintf("UPDATE %s SET %s WHERE key = (?, ?) IF tx_id = ?",
			qualifiedTable(namespace, collection), strings.Join(assigns, ", ")),
		Args:        all,
		Conditional: true,
	}
}

// casDeleteStatement removes a row, conditioned on its last-read tx_id.
func casDeleteStatement(namespace, collection string, id shred.DocumentID, priorTx gocql.UUID) *store.Statement {
	keyType, keyValue := id.Key()
	return &store.Statement{
		Query: fmt.Sprintf("DELETE FROM %s WHERE key = (?, ?) IF tx_id = ?",
			qualifiedTable(namespace, collection)),
		Args:        []any{keyType, keyValue, priorTx},
		Conditional: true,
	}
}

// selectStatement builds the read for a filter plan. Vector orders the page
// by ANN distance; selectCount swaps the projection for COUNT(*).
func selectStatement(namespace, collection string, plan *filter.Plan, limit int, pageState []byte, vector []float32, selectCount bool) *store.Statement {
	var where []string
	var args []any
	if plan.Key != nil {
		keyType, keyValue := plan.Key.Key()
		where = append(where, "key = (?, ?)")
		args = append(args, keyType, keyValue)
	}
	for _, cond := range plan.Conditions {
		where = append(where, cond.CQL)
		args = append(args, cond.Args...)
	}

	projection := "doc_json, tx_id"
	if selectCount {
		projection = "COUNT(*)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", projection, qualifiedTable(namespace, collection))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	if vector != nil {
		b.WriteString(" ORDER BY " + schema.VectorColumn + " ANN OF ?")
		args = append(args, vector)
	}
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return &store.Statement{
		Query:     b.String(),
		Args:      args,
		PageSize:  limit,
		PageState: pageState,
	}
}

// rowDocument rehydrates a fetched row into its document and tx_id.
func rowDocument(row map[string]any) (*jsontree.Value, gocql.UUID, error) {
	raw, _ := row["doc_json"].(string)
	doc, err := jsontree.Parse([]byte(raw))
	if err != nil {
		return nil, gocql.UUID{}, tools.NewError(tools.CodeInternalServerError,
			"stored document is not valid JSON")
	}
	tx, _ := row["tx_id"].(gocql.UUID)
	return doc, tx, nil
}

func setSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func boolTinyints(m map[string]bool) map[string]int8 {
	out := make(map[string]int8, len(m))
	for k, v := range m {
		if v {
			out[k] = 1
		} else {
			out[k] = 0
		}
	}
	return out
}
