package ops

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
)

// CreateCollection creates a collection table and its secondary indexes.
type CreateCollection struct {
	Namespace string
	Name      string
	Settings  schema.Settings
	Cache     *schema.Cache
	CacheKey  schema.Key

	// DDLDelay pauses between DDL statements so the cluster can settle;
	// zero uses the configured default.
	DDLDelay time.Duration
}

// Execute enforces capacity limits, verifies settings of a pre-existing
// same-named table, then issues idempotent DDL statement by statement.
func (op *CreateCollection) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	if err := ValidateCollectionName(op.Name); err != nil {
		return nil, err
	}
	ok, err := schema.NamespaceExists(ctx, ex, op.Namespace)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tools.NewError(tools.CodeNamespaceDoesNotExist,
			"Unknown namespace %q, you must create it first", op.Namespace)
	}

	existing, err := schema.FetchSettings(ctx, ex, op.Namespace, op.Name)
	if err != nil {
		return nil, err
	}
	if existing.Exists {
		if !existing.Matches(op.requested()) {
			return nil, tools.NewError(tools.CodeInvalidCollectionName,
				"Invalid collection name: %q already exists with different settings", op.Name)
		}
		// Idempotent create: same name, same settings.
		return &Result{OK: true}, nil
	}

	if err := op.checkCapacity(ctx, ex); err != nil {
		return nil, err
	}

	for i, stmt := range op.ddl() {
		if i > 0 {
			if err := sleepCtx(ctx, op.delay()); err != nil {
				return nil, store.MapDriverError(err)
			}
		}
		if _, err := ex.Execute(ctx, &store.Statement{Query: stmt}); err != nil {
			return nil, err
		}
	}

	if op.Cache != nil {
		op.Cache.Put(op.CacheKey, op.requested())
	}
	return &Result{OK: true}, nil
}

func (op *CreateCollection) requested() schema.Settings {
	s := op.Settings
	s.Exists = true
	s.IsJSONAPI = true
	if s.Comment == "" {
		s.Comment = schema.CommentJSON(s)
	}
	return s
}

func (op *CreateCollection) indexesNeeded() int {
	if n := config.Cfg.IndexesPerCollection; n > 0 {
		return n
	}
	n := schema.IndexesPerCollection()
	if op.Settings.VectorEnabled {
		n++
	}
	return n
}

// checkCapacity reads all keyspaces' tables, counts collections by shape
// matching, and counts indexes against the database-wide budget.
func (op *CreateCollection) checkCapacity(ctx context.Context, ex store.Executor) error {
	rs, err := ex.Execute(ctx, &store.Statement{
		Query: "SELECT keyspace_name, table_name, column_name FROM system_schema.columns",
	})
	if err != nil {
		return err
	}
	type tableKey struct{ ks, table string }
	shapes := map[tableKey]map[string]string{}
	for _, row := range rs.Rows {
		ks, _ := row["keyspace_name"].(string)
		if strings.HasPrefix(ks, "system") {
			continue
		}
		table, _ := row["table_name"].(string)
		col, _ := row["column_name"].(string)
		k := tableKey{ks, table}
		if shapes[k] == nil {
			shapes[k] = map[string]string{}
		}
		shapes[k][col] = ""
	}
	collections := 0
	for _, cols := range shapes {
		if schema.MatchesShape(cols) {
			collections++
		}
	}
	if collections >= config.Cfg.MaxCollections {
		return tools.NewError(tools.CodeTooManyCollections,
			"Too many collections: the database has %d, the limit is %d",
			collections, config.Cfg.MaxCollections)
	}

	rs, err = ex.Execute(ctx, &store.Statement{
		Query: "SELECT keyspace_name, index_name FROM system_schema.indexes",
	})
	if err != nil {
		return err
	}
	indexes := 0
	for _, row := range rs.Rows {
		ks, _ := row["keyspace_name"].(string)
		if !strings.HasPrefix(ks, "system") {
			indexes++
		}
	}
	if indexes+op.indexesNeeded() > config.Cfg.IndexesAvailable {
		return tools.NewError(tools.CodeTooManyIndexes,
			"Too many indexes: creating %q needs %d more, only %d of %d remain",
			op.Name, op.indexesNeeded(), config.Cfg.IndexesAvailable-indexes, config.Cfg.IndexesAvailable)
	}
	return nil
}

// ddl returns the CREATE TABLE plus one CREATE INDEX per indexed column,
// each idempotent.
func (op *CreateCollection) ddl() []string {
	table := qualifiedTable(op.Namespace, op.Name)

	var cols []string
	for _, c := range schema.TableColumns {
		cols = append(cols, fmt.Sprintf("%q %s", c.Name, c.Type))
	}
	if op.Settings.VectorEnabled {
		cols = append(cols, fmt.Sprintf("%q vector<float, %d>", schema.VectorColumn, op.Settings.VectorSize))
	}
	comment := strings.ReplaceAll(op.requested().Comment, "'", "''")
	stmts := []string{fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (%s, PRIMARY KEY (key)) WITH comment = '%s'",
		table, strings.Join(cols, ", "), comment)}

	for _, c := range schema.TableColumns {
		if !c.Indexed {
			continue
		}
		target := fmt.Sprintf("%q", c.Name)
		if strings.HasPrefix(c.Type, "map<") {
			target = fmt.Sprintf("entries(%q)", c.Name)
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CUSTOM INDEX IF NOT EXISTS %q ON %s (%s) USING 'StorageAttachedIndex'",
			schema.IndexName(op.Name, c.Name), table, target))
	}
	if op.Settings.VectorEnabled {
		metric := op.Settings.SimilarityFunction
		if metric == "" {
			metric = schema.DefaultSimilarity
		}
		stmts = append(stmts, fmt.Sprintf(
			"CREATE CUSTOM INDEX IF NOT EXISTS %q ON %s (%q) USING 'StorageAttachedIndex' WITH OPTIONS = {'similarity_function': '%s'}",
			schema.IndexName(op.Name, schema.VectorColumn), table, schema.VectorColumn, metric))
	}
	return stmts
}

func (op *CreateCollection) delay() time.Duration {
	if op.DDLDelay > 0 {
		return op.DDLDelay
	}
	return time.Duration(config.Cfg.DDLDelayMillis) * time.Millisecond
}

// sleepCtx pauses between DDL statements; cancellation cuts the sleep short.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DropCollection drops a collection table. Dropping a collection that does
// not exist is a success: the end state is the same.
type DropCollection struct {
	Namespace string
	Name      string
	Cache     *schema.Cache
	CacheKey  schema.Key
}

func (op *DropCollection) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	if err := ValidateCollectionName(op.Name); err != nil {
		return nil, err
	}
	stmt := &store.Statement{
		Query: fmt.Sprintf("DROP TABLE IF EXISTS %s", qualifiedTable(op.Namespace, op.Name)),
	}
	if _, err := ex.Execute(ctx, stmt); err != nil {
		return nil, err
	}
	if op.Cache != nil {
		op.Cache.Invalidate(op.CacheKey)
	}
	return &Result{OK: true}, nil
}

// FindCollections lists the namespace's tables whose column shape matches a
// collection.
type FindCollections struct {
	Namespace string
}

func (op *FindCollections) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	ok, err := schema.NamespaceExists(ctx, ex, op.Namespace)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tools.NewError(tools.CodeNamespaceDoesNotExist,
			"Unknown namespace %q, you must create it first", op.Namespace)
	}
	rs, err := ex.Execute(ctx, &store.Statement{
		Query: "SELECT table_name, column_name FROM system_schema.columns WHERE keyspace_name = ?",
		Args:  []any{op.Namespace},
	})
	if err != nil {
		return nil, err
	}
	shapes := map[string]map[string]string{}
	for _, row := range rs.Rows {
		table, _ := row["table_name"].(string)
		col, _ := row["column_name"].(string)
		if shapes[table] == nil {
			shapes[table] = map[string]string{}
		}
		shapes[table][col] = ""
	}
	var names []string
	for table, cols := range shapes {
		if schema.MatchesShape(cols) {
			names = append(names, table)
		}
	}
	sort.Strings(names)
	return &Result{Collections: names, OK: true}, nil
}
