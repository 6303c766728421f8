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
	"github.com/casdoc/casdoc/update"
	"github.com/gocql/gocql"
)

// Update applies an update clause to matching documents with the optimistic
// CAS protocol: read doc_json and tx_id, mutate in memory, re-shred, and
// write conditioned on the tx_id read. A lost race re-reads and retries up
// to the configured bound.
type Update struct {
	Namespace  string
	Collection string
	Filter     *filter.Clause
	Clause     *update.Update
	Upsert     bool
	Many       bool

	// findOneAndUpdate shape: return the document, before or after.
	ReturnDoc  bool
	ReturnNew  bool
	Projection *Projection

	Settings schema.Settings
}

func (op *Update) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
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
		stmt := selectStatement(op.Namespace, op.Collection, plan, limit, pageState, nil, false)
		rs, err := ex.Execute(ctx, stmt)
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
			updated, modified, err := op.updateDoc(ctx, ex, doc, tx)
			if err != nil {
				return nil, err
			}
			res.MatchedCount++
			if modified {
				res.ModifiedCount++
			}
			if op.ReturnDoc && res.Doc == nil {
				res.SingleDoc = true
				out := doc
				if op.ReturnNew {
					out = updated
				}
				res.Doc = op.Projection.Apply(out)
			}
			if !op.Many {
				return res, nil
			}
		}
		if len(rs.PageState) == 0 {
			break
		}
		// A single-doc update only gets here when post-read filtering
		// rejected every row on this page: keep paging.
		pageState = rs.PageState
	}

	if res.MatchedCount == 0 && op.Upsert {
		return op.upsert(ctx, ex, plan, res)
	}
	if op.ReturnDoc {
		res.SingleDoc = true
	}
	return res, nil
}

// updateDoc runs the CAS loop for one document. Returns the new document
// and whether the stored row changed.
func (op *Update) updateDoc(ctx context.Context, ex store.Executor, doc *jsontree.Value, tx gocql.UUID) (*jsontree.Value, bool, error) {
	for attempt := 0; attempt <= config.Cfg.MaxRetries; attempt++ {
		working := doc.Clone()
		changed, err := op.Clause.Apply(working, false)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return working, false, nil
		}
		shredded, err := shred.Shred(working)
		if err != nil {
			return nil, false, err
		}
		shredded.TxID = gocql.TimeUUID()

		rs, err := ex.Execute(ctx, casUpdateStatement(op.Namespace, op.Collection, shredded, tx))
		if err != nil {
			return nil, false, err
		}
		if rs.Applied {
			return working, true, nil
		}

		// Lost the race: reload the current version of this document.
		doc, tx, err = op.reload(ctx, ex, shredded.ID)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, tools.NewError(tools.CodeConcurrentUpdateLimit,
		"Unable to complete the update: too many concurrent modifications, tried %d times",
		config.Cfg.MaxRetries+1)
}

func (op *Update) reload(ctx context.Context, ex store.Executor, id shred.DocumentID) (*jsontree.Value, gocql.UUID, error) {
	plan := &filter.Plan{Key: &id}
	rs, err := ex.Execute(ctx, selectStatement(op.Namespace, op.Collection, plan, 1, nil, nil, false))
	if err != nil {
		return nil, gocql.UUID{}, err
	}
	row, ok := rs.One()
	if !ok {
		// The document was deleted underneath the update.
		return nil, gocql.UUID{}, tools.NewError(tools.CodeConcurrentUpdateLimit,
			"Unable to complete the update: the document was concurrently deleted")
	}
	return rowDocument(row)
}

// upsert inserts the document an unmatched upsert implies: `_id` seeded
// from the filter's primary-key equality, then the update clause applied in
// insert mode.
func (op *Update) upsert(ctx context.Context, ex store.Executor, plan *filter.Plan, res *Result) (*Result, error) {
	base := jsontree.NewObject()
	if plan.Key != nil {
		base.Set(shred.FieldID, plan.Key.AsJSON())
	}
	if _, err := op.Clause.Apply(base, true); err != nil {
		return nil, err
	}
	id, err := insertOne(ctx, ex, op.Namespace, op.Collection, base)
	if err != nil {
		return nil, err
	}
	res.UpsertedID = id.AsJSON()
	if op.ReturnDoc {
		res.SingleDoc = true
		if op.ReturnNew {
			canonical := base.Clone()
			if _, ok := canonical.Get(shred.FieldID); !ok {
				canonical.Set(shred.FieldID, id.AsJSON())
			}
			res.Doc = op.Projection.Apply(canonical)
		}
	}
	return res, nil
}
