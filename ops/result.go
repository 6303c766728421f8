package ops

import (
	"context"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/store"
)

// Operation is a pure description of one command's work against the store.
type Operation interface {
	Execute(ctx context.Context, ex store.Executor) (*Result, error)
}

// Result is the union of operation outcomes, shaped by the command that
// produced it. The envelope layer maps the populated fields into the
// response data/status sections.
type Result struct {
	// Reads
	Docs      []*jsontree.Value
	Doc       *jsontree.Value
	SingleDoc bool // Doc is meaningful (findOne and friends)
	PageState string

	// Writes
	InsertedIDs   []*jsontree.Value
	MatchedCount  int
	ModifiedCount int
	UpsertedID    *jsontree.Value
	DeletedCount  int

	// Schema and counts
	Count       int64
	Collections []string
	OK          bool
}
