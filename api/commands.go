package api

import (
	"context"
	"encoding/json"

	"github.com/bytedance/sonic"
	"github.com/casdoc/casdoc/docpath"
	"github.com/casdoc/casdoc/filter"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/ops"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/tools"
	"github.com/casdoc/casdoc/update"
)

// shapeFunc folds an operation result into the response envelope.
type shapeFunc func(*ops.Result) *CommandResult

// resolveFunc turns a command's raw parameters into an operation.
type resolveFunc func(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error)

// commandRegistry maps envelope tags to resolvers. The tag is the single
// top-level key of the command envelope.
var commandRegistry = map[string]resolveFunc{
	"createCollection": resolveCreateCollection,
	"deleteCollection": resolveDeleteCollection,
	"findCollections":  resolveFindCollections,
	"insertOne":        resolveInsertOne,
	"insertMany":       resolveInsertMany,
	"findOne":          resolveFindOne,
	"find":             resolveFind,
	"findOneAndUpdate": resolveFindOneAndUpdate,
	"findOneAndDelete": resolveFindOneAndDelete,
	"updateOne":        resolveUpdate(false),
	"updateMany":       resolveUpdate(true),
	"deleteOne":        resolveDelete(false),
	"deleteMany":       resolveDelete(true),
	"countDocuments":   resolveCount,
}

// --- schema commands ---

type createCollectionCommand struct {
	Name    string `json:"name"`
	Options struct {
		Vector   bool   `json:"vector"`
		Size     int    `json:"size"`
		Function string `json:"function"`
	} `json:"options"`
}

func resolveCreateCollection(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	var cmd createCollectionCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, nil, err
	}
	if cmd.Name == "" {
		return nil, nil, tools.ConstraintViolation("createCollection.name: must not be empty")
	}
	settings := schema.Settings{}
	if cmd.Options.Vector {
		if cmd.Options.Size <= 0 {
			return nil, nil, tools.ConstraintViolation("createCollection.options.size: must be positive for vector collections")
		}
		settings.VectorEnabled = true
		settings.VectorSize = cmd.Options.Size
		settings.SimilarityFunction = cmd.Options.Function
		if settings.SimilarityFunction == "" {
			settings.SimilarityFunction = schema.DefaultSimilarity
		}
	}
	key := c.cacheKey()
	key.Collection = cmd.Name
	op := &ops.CreateCollection{
		Namespace: c.Namespace,
		Name:      cmd.Name,
		Settings:  settings,
		Cache:     c.server.schemas,
		CacheKey:  key,
	}
	return op, okShape, nil
}

type collectionNameCommand struct {
	Name string `json:"name"`
}

func resolveDeleteCollection(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	var cmd collectionNameCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, nil, err
	}
	if cmd.Name == "" {
		return nil, nil, tools.ConstraintViolation("deleteCollection.name: must not be empty")
	}
	key := c.cacheKey()
	key.Collection = cmd.Name
	op := &ops.DropCollection{
		Namespace: c.Namespace,
		Name:      cmd.Name,
		Cache:     c.server.schemas,
		CacheKey:  key,
	}
	return op, okShape, nil
}

func resolveFindCollections(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	op := &ops.FindCollections{Namespace: c.Namespace}
	shape := func(r *ops.Result) *CommandResult {
		names := r.Collections
		if names == nil {
			names = []string{}
		}
		return &CommandResult{Status: map[string]any{"collections": names}}
	}
	return op, shape, nil
}

// --- document commands ---

type insertOneCommand struct {
	Document json.RawMessage `json:"document"`
}

func resolveInsertOne(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	if err := c.requireCollection(); err != nil {
		return nil, nil, err
	}
	var cmd insertOneCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, nil, err
	}
	doc, err := parseTree(cmd.Document)
	if err != nil {
		return nil, nil, err
	}
	if doc == nil {
		return nil, nil, tools.ConstraintViolation("insertOne.document: must not be null")
	}
	op := &ops.Insert{
		Namespace:  c.Namespace,
		Collection: c.Collection,
		Documents:  []*jsontree.Value{doc},
		Ordered:    true,
	}
	return op, insertShape, nil
}

type insertManyCommand struct {
	Documents []json.RawMessage `json:"documents"`
	Options   struct {
		Ordered *bool `json:"ordered"`
	} `json:"options"`
}

func resolveInsertMany(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	if err := c.requireCollection(); err != nil {
		return nil, nil, err
	}
	var cmd insertManyCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, nil, err
	}
	if len(cmd.Documents) == 0 {
		return nil, nil, tools.ConstraintViolation("insertMany.documents: must not be empty")
	}
	docs := make([]*jsontree.Value, 0, len(cmd.Documents))
	for i, rawDoc := range cmd.Documents {
		doc, err := parseTree(rawDoc)
		if err != nil {
			return nil, nil, err
		}
		if doc == nil {
			return nil, nil, tools.ConstraintViolation("insertMany.documents[%d]: must not be null", i)
		}
		docs = append(docs, doc)
	}
	ordered := true
	if cmd.Options.Ordered != nil {
		ordered = *cmd.Options.Ordered
	}
	op := &ops.Insert{
		Namespace:  c.Namespace,
		Collection: c.Collection,
		Documents:  docs,
		Ordered:    ordered,
	}
	return op, insertShape, nil
}

type findCommand struct {
	Filter     json.RawMessage `json:"filter"`
	Projection json.RawMessage `json:"projection"`
	Sort       json.RawMessage `json:"sort"`
	Options    struct {
		Limit       int    `json:"limit"`
		PageState   string `json:"pagingState"`
	} `json:"options"`
}

func (c *CommandContext) buildFind(ctx context.Context, raw json.RawMessage, single bool) (*ops.Find, error) {
	if err := c.requireCollection(); err != nil {
		return nil, err
	}
	var cmd findCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, err
	}
	clause, err := parseFilter(cmd.Filter)
	if err != nil {
		return nil, err
	}
	projection, err := parseProjection(cmd.Projection)
	if err != nil {
		return nil, err
	}
	sortSpec, err := parseSort(cmd.Sort)
	if err != nil {
		return nil, err
	}
	settings, err := c.settings(ctx)
	if err != nil {
		return nil, err
	}
	limit := cmd.Options.Limit
	if single {
		limit = 1
	}
	return &ops.Find{
		Namespace:  c.Namespace,
		Collection: c.Collection,
		Filter:     clause,
		Projection: projection,
		Sort:       sortSpec,
		Limit:      limit,
		PageState:  cmd.Options.PageState,
		SingleDoc:  single,
		Settings:   settings,
	}, nil
}

func resolveFindOne(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	op, err := c.buildFind(ctx, raw, true)
	if err != nil {
		return nil, nil, err
	}
	return op, singleDocShape(nil), nil
}

func resolveFind(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	op, err := c.buildFind(ctx, raw, false)
	if err != nil {
		return nil, nil, err
	}
	shape := func(r *ops.Result) *CommandResult {
		docs := make([]json.RawMessage, 0, len(r.Docs))
		for _, d := range r.Docs {
			docs = append(docs, d.AppendJSON(nil))
		}
		return &CommandResult{Data: &ResponseData{Documents: docs, NextPageState: r.PageState}}
	}
	return op, shape, nil
}

type updateCommand struct {
	Filter     json.RawMessage `json:"filter"`
	Update     json.RawMessage `json:"update"`
	Projection json.RawMessage `json:"projection"`
	Options    struct {
		Upsert         bool   `json:"upsert"`
		ReturnDocument string `json:"returnDocument"`
	} `json:"options"`
}

func (c *CommandContext) buildUpdate(ctx context.Context, raw json.RawMessage, many, returnDoc bool) (*ops.Update, error) {
	if err := c.requireCollection(); err != nil {
		return nil, err
	}
	var cmd updateCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, err
	}
	clause, err := parseFilter(cmd.Filter)
	if err != nil {
		return nil, err
	}
	updateNode, err := parseTree(cmd.Update)
	if err != nil {
		return nil, err
	}
	upd, err := update.Parse(updateNode)
	if err != nil {
		return nil, err
	}
	projection, err := parseProjection(cmd.Projection)
	if err != nil {
		return nil, err
	}
	if rd := cmd.Options.ReturnDocument; rd != "" && rd != "before" && rd != "after" {
		return nil, tools.ConstraintViolation("options.returnDocument: must be 'before' or 'after'")
	}
	settings, err := c.settings(ctx)
	if err != nil {
		return nil, err
	}
	return &ops.Update{
		Namespace:  c.Namespace,
		Collection: c.Collection,
		Filter:     clause,
		Clause:     upd,
		Upsert:     cmd.Options.Upsert,
		Many:       many,
		ReturnDoc:  returnDoc,
		ReturnNew:  cmd.Options.ReturnDocument == "after",
		Projection: projection,
		Settings:   settings,
	}, nil
}

func resolveUpdate(many bool) resolveFunc {
	return func(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
		op, err := c.buildUpdate(ctx, raw, many, false)
		if err != nil {
			return nil, nil, err
		}
		return op, updateShape, nil
	}
}

func resolveFindOneAndUpdate(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	op, err := c.buildUpdate(ctx, raw, false, true)
	if err != nil {
		return nil, nil, err
	}
	return op, singleDocShape(updateStatus), nil
}

type deleteCommand struct {
	Filter     json.RawMessage `json:"filter"`
	Projection json.RawMessage `json:"projection"`
}

func (c *CommandContext) buildDelete(ctx context.Context, raw json.RawMessage, many, returnDoc bool) (*ops.Delete, error) {
	if err := c.requireCollection(); err != nil {
		return nil, err
	}
	var cmd deleteCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, err
	}
	clause, err := parseFilter(cmd.Filter)
	if err != nil {
		return nil, err
	}
	projection, err := parseProjection(cmd.Projection)
	if err != nil {
		return nil, err
	}
	settings, err := c.settings(ctx)
	if err != nil {
		return nil, err
	}
	return &ops.Delete{
		Namespace:  c.Namespace,
		Collection: c.Collection,
		Filter:     clause,
		Many:       many,
		ReturnDoc:  returnDoc,
		Projection: projection,
		Settings:   settings,
	}, nil
}

func resolveDelete(many bool) resolveFunc {
	return func(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
		op, err := c.buildDelete(ctx, raw, many, false)
		if err != nil {
			return nil, nil, err
		}
		return op, deleteShape, nil
	}
}

func resolveFindOneAndDelete(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	op, err := c.buildDelete(ctx, raw, false, true)
	if err != nil {
		return nil, nil, err
	}
	return op, singleDocShape(deleteStatus), nil
}

type countCommand struct {
	Filter json.RawMessage `json:"filter"`
}

func resolveCount(ctx context.Context, c *CommandContext, raw json.RawMessage) (ops.Operation, shapeFunc, error) {
	if err := c.requireCollection(); err != nil {
		return nil, nil, err
	}
	var cmd countCommand
	if err := decodeParams(raw, &cmd); err != nil {
		return nil, nil, err
	}
	clause, err := parseFilter(cmd.Filter)
	if err != nil {
		return nil, nil, err
	}
	settings, err := c.settings(ctx)
	if err != nil {
		return nil, nil, err
	}
	op := &ops.Count{
		Namespace:  c.Namespace,
		Collection: c.Collection,
		Filter:     clause,
		Settings:   settings,
	}
	shape := func(r *ops.Result) *CommandResult {
		return &CommandResult{Status: map[string]any{"count": r.Count}}
	}
	return op, shape, nil
}

// --- shapes ---

func okShape(*ops.Result) *CommandResult {
	return &CommandResult{Status: map[string]any{"ok": 1}}
}

func insertShape(r *ops.Result) *CommandResult {
	ids := make([]json.RawMessage, 0, len(r.InsertedIDs))
	for _, id := range r.InsertedIDs {
		ids = append(ids, id.AppendJSON(nil))
	}
	return &CommandResult{Status: map[string]any{"insertedIds": ids}}
}

func updateStatus(r *ops.Result) map[string]any {
	status := map[string]any{
		"matchedCount":  r.MatchedCount,
		"modifiedCount": r.ModifiedCount,
	}
	if r.UpsertedID != nil {
		status["upsertedId"] = json.RawMessage(r.UpsertedID.AppendJSON(nil))
	}
	return status
}

func updateShape(r *ops.Result) *CommandResult {
	return &CommandResult{Status: updateStatus(r)}
}

func deleteStatus(r *ops.Result) map[string]any {
	return map[string]any{"deletedCount": r.DeletedCount}
}

func deleteShape(r *ops.Result) *CommandResult {
	return &CommandResult{Status: deleteStatus(r)}
}

// singleDocShape renders data.document (JSON null when nothing matched),
// with an optional status section.
func singleDocShape(status func(*ops.Result) map[string]any) shapeFunc {
	return func(r *ops.Result) *CommandResult {
		doc := json.RawMessage("null")
		if r.Doc != nil {
			doc = r.Doc.AppendJSON(nil)
		}
		out := &CommandResult{Data: &ResponseData{Document: doc}}
		if status != nil {
			out.Status = status(r)
		}
		return out
	}
}

// --- parameter parsing ---

// decodeParams reads a command's parameter object. A JSON null or absent
// parameter block decodes to the zero command.
func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(raw, into); err != nil {
		return &tools.APIError{
			Message:        "Unable to parse command parameters: " + err.Error(),
			ExceptionClass: tools.ExceptionJSONParse,
		}
	}
	return nil
}

// parseTree parses a raw JSON fragment into a document tree; nil for
// absent or null fragments.
func parseTree(raw json.RawMessage) (*jsontree.Value, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	v, err := jsontree.Parse(raw)
	if err != nil {
		return nil, &tools.APIError{
			Message:        "Unable to parse JSON value: " + err.Error(),
			ExceptionClass: tools.ExceptionJSONParse,
		}
	}
	return v, nil
}

func parseFilter(raw json.RawMessage) (*filter.Clause, error) {
	node, err := parseTree(raw)
	if err != nil {
		return nil, err
	}
	return filter.Parse(node)
}

func parseProjection(raw json.RawMessage) (*ops.Projection, error) {
	node, err := parseTree(raw)
	if err != nil {
		return nil, err
	}
	return ops.ParseProjection(node)
}

// parseSort reads a sort clause: either `{"$vector": [...]}` for ANN
// ordering or `{path: 1|-1, ...}` for in-memory ordering.
func parseSort(raw json.RawMessage) (*ops.SortSpec, error) {
	node, err := parseTree(raw)
	if err != nil {
		return nil, err
	}
	if node == nil || node.Len() == 0 {
		return nil, nil
	}
	if node.Kind() != jsontree.Object {
		return nil, tools.ConstraintViolation("sort clause must be an object")
	}
	if vec, ok := node.Get(shred.FieldVector); ok {
		if node.Len() != 1 {
			return nil, tools.ConstraintViolation("$vector sort cannot be combined with other sort fields")
		}
		if vec.Kind() != jsontree.Array || vec.Len() == 0 {
			return nil, tools.ConstraintViolation("$vector sort requires a non-empty array of numbers")
		}
		out := make([]float32, vec.Len())
		for i, elem := range vec.Elems() {
			if elem.Kind() != jsontree.Number {
				return nil, tools.ConstraintViolation("$vector sort requires numeric elements")
			}
			f, err := elem.NumberVal().Float64()
			if err != nil {
				return nil, tools.ConstraintViolation("$vector sort requires numeric elements")
			}
			out[i] = float32(f)
		}
		return &ops.SortSpec{Vector: out}, nil
	}

	spec := &ops.SortSpec{}
	for _, field := range node.Keys() {
		val, _ := node.Get(field)
		dir, err := val.NumberVal().Int64()
		if val.Kind() != jsontree.Number || err != nil || (dir != 1 && dir != -1) {
			return nil, tools.ConstraintViolation("sort direction for %q must be 1 or -1", field)
		}
		path, err := docpath.Parse(field)
		if err != nil {
			return nil, tools.ConstraintViolation("invalid sort path %q", field)
		}
		spec.Fields = append(spec.Fields, ops.SortField{Path: path, Descending: dir == -1})
	}
	return spec, nil
}
