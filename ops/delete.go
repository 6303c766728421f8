package ops

import (
	"context"

	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/filter"
	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
)

// Delete removes matching documents with read-then-CAS-delete on tx_id,
// retrying lost races up to the configured bound.
type Delete struct {
	Namespace  string
	Collection string
	Filter     *filter.Clause
	Many       bool

	// findOneAndDelete shape: return the deleted document.
	ReturnDoc  bool
	Projection *Projection

	Settings schema.Settings
}

func (op *Delete) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	if !op.Settings.Exists || !op.Settings.IsJSONAPI {
		return nil, tools.NewError(tools.CodeCollectionNotExist,
			"Collection does not exist, collection name: %s", op.Collection)
	}
	plan, err := op.Filter.Plan()
	if err != nil {
		return nil, err
	}

	res := &Result{OK: true}
	pageState := []byte(nil)
	limit := 1
	if op.Many || plan.NeedsPostRead() {
		limit = config.Cfg.MaxPageSize
	}
	for {
		rs, err := ex.Execute(ctx, selectStatement(op.Namespace, op.Collection, plan, limit, pageState, nil, false))
		if err != nil {
			return nil, err
		}
		for _, row := range rs.Rows {
			doc, tx, err := rowDocument(row)
			if err != nil {
				return nil, err
			}
			if plan.NeedsPostRead() && !plan.MatchesPost(doc) {
				continue
			}
			deleted, err := op.deleteDoc(ctx, ex, doc, tx)
			if err != nil {
				return nil, err
			}
			if deleted {
				res.DeletedCount++
				if op.ReturnDoc && res.Doc == nil {
					res.SingleDoc = true
					res.Doc = op.Projection.Apply(doc)
				}
			}
			if !op.Many {
				return res, nil
			}
		}
		if len(rs.PageState) == 0 {
			break
		}
		// A single-doc delete only gets here when post-read filtering
		// rejected every row on this page: keep paging.
		pageState = rs.PageState
	}
	if op.ReturnDoc {
		res.SingleDoc = true
	}
	return res, nil
}

// deleteDoc runs the CAS loop for one document. A document deleted by a
// concurrent request counts as not deleted by this one.
func (op *Delete) deleteDoc(ctx context.Context, ex store.Executor, doc *jsontree.Value, tx gocql.UUID) (bool, error) {
	idNode, _ := doc.Get(shred.FieldID)
	id, err := shred.NewDocumentID(idNode)
	if err != nil {
		return false, err
	}
	for attempt := 0; attempt <= config.Cfg.MaxRetries; attempt++ {
		rs, err := ex.Execute(ctx, casDeleteStatement(op.Namespace, op.Collection, id, tx))
		if err != nil {
			return false, err
		}
		if rs.Applied {
			return true, nil
		}

		plan := &filter.Plan{Key: &id}
		rs, err = ex.Execute(ctx, selectStatement(op.Namespace, op.Collection, plan, 1, nil, nil, false))
		if err != nil {
			return false, err
		}
		row, ok := rs.One()
		if !ok {
			return false, nil
		}
		if _, tx, err = rowDocument(row); err != nil {
			return false, err
		}
	}
	return false, tools.NewError(tools.CodeConcurrentUpdateLimit,
		"Unable to complete the delete: too many concurrent modifications, tried %d times",
		config.Cfg.MaxRetries+1)
}
