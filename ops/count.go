package ops

import (
	"context"

	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/filter"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
)

// Count counts matching documents. Fully-pushed filters become a single
// SELECT COUNT(*); filters with post-read predicates page through doc_json
// and count in memory.
type Count struct {
	Namespace  string
	Collection string
	Filter     *filter.Clause
	Settings   schema.Settings
}

func (op *Count) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	if !op.Settings.Exists || !op.Settings.IsJSONAPI {
		return nil, tools.NewError(tools.CodeCollectionNotExist,
			"Collection does not exist, collection name: %s", op.Collection)
	}
	plan, err := op.Filter.Plan()
	if err != nil {
		return nil, err
	}

	if !plan.NeedsPostRead() {
		rs, err := ex.Execute(ctx, selectStatement(op.Namespace, op.Collection, plan, 0, nil, nil, true))
		if err != nil {
			return nil, err
		}
		if row, ok := rs.One(); ok {
			return &Result{Count: countValue(row), OK: true}, nil
		}
		return &Result{OK: true}, nil
	}

	var count int64
	pageState := []byte(nil)
	for {
		rs, err := ex.Execute(ctx, selectStatement(op.Namespace, op.Collection, plan, config.Cfg.MaxPageSize, pageState, nil, false))
		if err != nil {
			return nil, err
		}
		for _, row := range rs.Rows {
			doc, _, err := rowDocument(row)
			if err != nil {
				return nil, err
			}
			if plan.MatchesPost(doc) {
				count++
			}
		}
		if len(rs.PageState) == 0 {
			break
		}
		pageState = rs.PageState
	}
	return &Result{Count: count, OK: true}, nil
}

func countValue(row map[string]any) int64 {
	for _, v := range row {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		}
	}
	return 0
}
