package store

import (
	"context"
	"time"

	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
	"golang.org/x/sync/semaphore"
)

// maxInflightWait bounds how long a statement may queue for an executor
// slot before the request is rejected as SERVER_BUSY.
const maxInflightWait = 2 * time.Second

// CQLExecutor runs statements on a shared gocql session with a bounded
// number of inflight statements.
type CQLExecutor struct {
	session  *gocql.Session
	inflight *semaphore.Weighted
}

// NewCQLExecutor wraps a session with an inflight bound.
func NewCQLExecutor(session *gocql.Session, maxInflight int64) *CQLExecutor {
	return &CQLExecutor{
		session:  session,
		inflight: semaphore.NewWeighted(maxInflight),
	}
}

// Execute runs one statement and materializes at most one result page.
// Waiting for an inflight slot is bounded; overflow returns SERVER_BUSY.
func (e *CQLExecutor) Execute(ctx context.Context, stmt *Statement) (*ResultSet, error) {
	waitCtx, cancel := context.WithTimeout(ctx, maxInflightWait)
	err := e.inflight.Acquire(waitCtx, 1)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, MapDriverError(ctx.Err())
		}
		return nil, tools.NewError(tools.CodeServerBusy, "too many requests in flight")
	}
	defer e.inflight.Release(1)

	q := e.session.Query(stmt.Query, stmt.Args...).WithContext(ctx)
	defer q.Release()

	if stmt.Conditional {
		row := map[string]any{}
		applied, err := q.MapScanCAS(row)
		if err != nil {
			return nil, MapDriverError(err)
		}
		rs := &ResultSet{Applied: applied}
		if len(row) > 0 {
			rs.Rows = append(rs.Rows, row)
		}
		return rs, nil
	}

	if stmt.PageSize > 0 {
		q = q.PageSize(stmt.PageSize)
	}
	if len(stmt.PageState) > 0 {
		q = q.PageState(stmt.PageState)
	}

	iter := q.Iter()
	rs := &ResultSet{}
	for stmt.PageSize <= 0 || len(rs.Rows) < stmt.PageSize {
		row := map[string]any{}
		if !iter.MapScan(row) {
			break
		}
		rs.Rows = append(rs.Rows, row)
	}
	rs.PageState = append([]byte(nil), iter.PageState()...)
	if err := iter.Close(); err != nil {
		return nil, MapDriverError(err)
	}
	return rs, nil
}
