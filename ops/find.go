package ops

import (
	"context"
	"encoding/base64"
	"sort"

	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/docpath"
	"github.com/casdoc/casdoc/filter"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
)

// SortSpec orders fetched documents. Vector is exclusive with Fields: it
// turns the read into an ANN search ordered by the store.
type SortSpec struct {
	Vector []float32
	Fields []SortField
}

// SortField is one in-memory sort key.
type SortField struct {
	Path       docpath.Path
	Descending bool
}

// Find reads documents matching a filter, with optional projection, sort,
// and page continuation. Limit 1 with SingleDoc produces findOne's shape.
type Find struct {
	Namespace  string
	Collection string
	Filter     *filter.Clause
	Projection *Projection
	Sort       *SortSpec
	Limit      int
	PageState  string
	SingleDoc  bool
	Settings   schema.Settings
}

func (op *Find) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	if !op.Settings.Exists || !op.Settings.IsJSONAPI {
		return nil, tools.NewError(tools.CodeCollectionNotExist,
			"Collection does not exist, collection name: %s", op.Collection)
	}
	plan, err := op.Filter.Plan()
	if err != nil {
		return nil, err
	}

	var vector []float32
	if op.Sort != nil && op.Sort.Vector != nil {
		if !op.Settings.VectorEnabled {
			return nil, tools.ConstraintViolation(
				"vector search is not enabled for collection %q", op.Collection)
		}
		if op.Settings.VectorSize > 0 && len(op.Sort.Vector) != op.Settings.VectorSize {
			return nil, tools.ConstraintViolation(
				"$vector has %d dimensions, collection expects %d",
				len(op.Sort.Vector), op.Settings.VectorSize)
		}
		vector = op.Sort.Vector
	}

	limit := op.Limit
	if max := config.Cfg.MaxPageSize; limit <= 0 || limit > max {
		limit = max
	}
	pageState, err := decodePageState(op.PageState)
	if err != nil {
		return nil, err
	}

	docs := make([]*jsontree.Value, 0, limit)
	nextState := ""
	for {
		stmt := selectStatement(op.Namespace, op.Collection, plan, limit, pageState, vector, false)
		rs, err := ex.Execute(ctx, stmt)
		if err != nil {
			return nil, err
		}
		for _, row := range rs.Rows {
			doc, _, err := rowDocument(row)
			if err != nil {
				return nil, err
			}
			if plan.NeedsPostRead() && !plan.MatchesPost(doc) {
				continue
			}
			docs = append(docs, doc)
			if len(docs) == limit {
				break
			}
		}
		if len(rs.PageState) == 0 || len(docs) >= limit {
			if len(rs.PageState) > 0 {
				nextState = base64.StdEncoding.EncodeToString(rs.PageState)
			}
			break
		}
		// Post-read filtering thinned the page below the limit: keep paging.
		pageState = rs.PageState
	}

	if op.Sort != nil && len(op.Sort.Fields) > 0 {
		sortDocs(docs, op.Sort.Fields)
	}
	if op.Projection != nil {
		for i, doc := range docs {
			docs[i] = op.Projection.Apply(doc)
		}
	}

	res := &Result{PageState: nextState, OK: true}
	if op.SingleDoc {
		res.SingleDoc = true
		if len(docs) > 0 {
			res.Doc = docs[0]
		}
		res.PageState = ""
		return res, nil
	}
	res.Docs = docs
	return res, nil
}

func decodePageState(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, tools.ConstraintViolation("invalid pagingState value")
	}
	return b, nil
}

// sortDocs orders documents by the sort fields, missing values lowest (first
// ascending, last descending), using the type order of values:
// null < bool < number < string < composite.
func sortDocs(docs []*jsontree.Value, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			a, aok := f.Path.FindValue(docs[i])
			b, bok := f.Path.FindValue(docs[j])
			c := compareForSort(a, aok, b, bok)
			if c == 0 {
				continue
			}
			if f.Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareForSort(a *jsontree.Value, aok bool, b *jsontree.Value, bok bool) int {
	if !aok || !bok {
		switch {
		case aok:
			return 1
		case bok:
			return -1
		}
		return 0
	}
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch a.Kind() {
	case jsontree.Bool:
		switch {
		case !a.BoolVal() && b.BoolVal():
			return -1
		case a.BoolVal() && !b.BoolVal():
			return 1
		}
		return 0
	case jsontree.Number:
		af, _ := a.NumberVal().Float64()
		bf, _ := b.NumberVal().Float64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	case jsontree.String:
		switch {
		case a.StringVal() < b.StringVal():
			return -1
		case a.StringVal() > b.StringVal():
			return 1
		}
		return 0
	}
	return 0
}

func sortRank(v *jsontree.Value) int {
	switch v.Kind() {
	case jsontree.Null:
		return 0
	case jsontree.Bool:
		return 1
	case jsontree.Number:
		return 2
	case jsontree.String:
		return 3
	}
	return 4
}
