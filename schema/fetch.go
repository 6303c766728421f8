package schema

import (
	"context"
	"strconv"
	"strings"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/store"
)

// DefaultSimilarity is the similarity function assumed when a vector
// collection's metadata does not name one.
const DefaultSimilarity = "cosine"

// CommentJSON renders the table comment recording collection settings.
func CommentJSON(s Settings) string {
	obj := jsontree.NewObject()
	if s.VectorEnabled {
		vec := jsontree.NewObject()
		vec.Set("dimension", jsontree.NewNumberInt(int64(s.VectorSize)))
		vec.Set("metric", jsontree.NewString(s.SimilarityFunction))
		obj.Set("vector", vec)
	}
	return obj.String()
}

// Fetcher builds the cache's FetchFunc from a per-tenant executor source.
// It reads the table's column shape and comment from store metadata.
func Fetcher(executorFor func(ctx context.Context, key Key) (store.Executor, error)) FetchFunc {
	return func(ctx context.Context, key Key) (Settings, error) {
		ex, err := executorFor(ctx, key)
		if err != nil {
			return Settings{}, err
		}
		return FetchSettings(ctx, ex, key.Namespace, key.Collection)
	}
}

// FetchSettings loads a collection's settings directly from store metadata.
func FetchSettings(ctx context.Context, ex store.Executor, namespace, collection string) (Settings, error) {
	rs, err := ex.Execute(ctx, &store.Statement{
		Query: "SELECT column_name, type FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ?",
		Args:  []any{namespace, collection},
	})
	if err != nil {
		return Settings{}, err
	}
	if len(rs.Rows) == 0 {
		return Settings{}, nil
	}

	columns := map[string]string{}
	for _, row := range rs.Rows {
		name, _ := row["column_name"].(string)
		typ, _ := row["type"].(string)
		columns[name] = typ
	}

	s := Settings{Exists: true, IsJSONAPI: MatchesShape(columns)}
	if typ, ok := columns[VectorColumn]; ok {
		s.VectorEnabled = true
		s.VectorSize = vectorDimension(typ)
		s.SimilarityFunction = DefaultSimilarity
	}

	rs, err = ex.Execute(ctx, &store.Statement{
		Query: "SELECT comment FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?",
		Args:  []any{namespace, collection},
	})
	if err != nil {
		return Settings{}, err
	}
	if row, ok := rs.One(); ok {
		if comment, _ := row["comment"].(string); comment != "" {
			s.Comment = comment
			if metric := metricFromComment(comment); metric != "" {
				s.SimilarityFunction = metric
			}
		}
	}
	return s, nil
}

// vectorDimension parses N out of a "vector<float, N>" column type.
func vectorDimension(typ string) int {
	comma := strings.Index(typ, ",")
	end := strings.Index(typ, ">")
	if comma < 0 || end <= comma {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(typ[comma+1 : end]))
	if err != nil {
		return 0
	}
	return n
}

func metricFromComment(comment string) string {
	doc, err := jsontree.Parse([]byte(comment))
	if err != nil || !doc.IsObject() {
		return ""
	}
	vec, ok := doc.Get("vector")
	if !ok || !vec.IsObject() {
		return ""
	}
	metric, ok := vec.Get("metric")
	if !ok || metric.Kind() != jsontree.String {
		return ""
	}
	return metric.StringVal()
}

// NamespaceExists checks the keyspace in store metadata.
func NamespaceExists(ctx context.Context, ex store.Executor, namespace string) (bool, error) {
	rs, err := ex.Execute(ctx, &store.Statement{
		Query: "SELECT keyspace_name FROM system_schema.keyspaces WHERE keyspace_name = ?",
		Args:  []any{namespace},
	})
	if err != nil {
		return false, err
	}
	return len(rs.Rows) > 0, nil
}
