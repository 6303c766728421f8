package ops

import (
	"context"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
)

// Insert shreds documents and writes each with a CAS insert. Ordered mode
// stops at the first failure; the error reports which document collided.
type Insert struct {
	Namespace  string
	Collection string
	Documents  []*jsontree.Value
	Ordered    bool
}

func (op *Insert) Execute(ctx context.Context, ex store.Executor) (*Result, error) {
	res := &Result{}
	var firstErr error
	for _, doc := range op.Documents {
		id, err := insertOne(ctx, ex, op.Namespace, op.Collection, doc)
		if err != nil {
			if op.Ordered {
				// Ordered stops here; res still carries the ids that landed
				// so the envelope can report the partial success.
				return res, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		res.InsertedIDs = append(res.InsertedIDs, id.AsJSON())
	}
	if firstErr != nil {
		return res, firstErr
	}
	res.OK = true
	return res, nil
}

func insertOne(ctx context.Context, ex store.Executor, namespace, collection string, doc *jsontree.Value) (shred.DocumentID, error) {
	shredded, err := shred.Shred(doc)
	if err != nil {
		return shred.DocumentID{}, err
	}
	shredded.TxID = gocql.TimeUUID()

	rs, err := ex.Execute(ctx, insertStatement(namespace, collection, shredded))
	if err != nil {
		return shred.DocumentID{}, err
	}
	if !rs.Applied {
		return shred.DocumentID{}, tools.NewError(tools.CodeDocumentAlreadyExists,
			"Document already exists with the given _id: %s", shredded.ID.Value)
	}
	return shredded.ID, nil
}
