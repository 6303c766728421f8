// Package store runs parameterized statements against the backing
// wide-column cluster. Operations describe statements; the executor owns
// sessions, backpressure, and the mapping of driver failures onto the
// stable infrastructure error kinds.
package store

import (
	"context"
	"errors"

	"github.com/casdoc/casdoc/tools"
	"github.com/gocql/gocql"
)

// Statement is one parameterized CQL statement.
type Statement struct {
	Query string
	Args  []any

	// Read paging. PageSize caps the rows fetched; PageState resumes a
	// prior page.
	PageSize  int
	PageState []byte

	// Conditional marks a CAS statement; the result carries Applied and,
	// on conflict, the previous row.
	Conditional bool
}

// ResultSet is the materialized result of one statement: at most one page.
type ResultSet struct {
	Rows      []map[string]any
	PageState []byte
	Applied   bool
}

// One reports whether exactly one row came back.
func (r *ResultSet) One() (map[string]any, bool) {
	if len(r.Rows) == 1 {
		return r.Rows[0], true
	}
	return nil, false
}

// Executor runs statements. It is safe for concurrent use; all
// implementations translate failures into APIError kinds.
type Executor interface {
	Execute(ctx context.Context, stmt *Statement) (*ResultSet, error)
}

// MapDriverError folds a driver failure onto the closed infrastructure
// error set.
func MapDriverError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tools.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return tools.NewError(tools.CodeRequestTimeout, "request timed out at the data store")
	case errors.Is(err, context.Canceled):
		return tools.NewError(tools.CodeRequestTimeout, "request was cancelled")
	case errors.Is(err, gocql.ErrTimeoutNoResponse), errors.Is(err, gocql.ErrConnectionClosed):
		return tools.NewError(tools.CodeRequestTimeout, "request timed out at the data store")
	case errors.Is(err, gocql.ErrNoConnections):
		return tools.NewError(tools.CodeServerBusy, "no store connections available")
	}
	var reqErr gocql.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Code() {
		case gocql.ErrCodeReadTimeout, gocql.ErrCodeWriteTimeout:
			return tools.NewError(tools.CodeRequestTimeout, "request timed out at the data store")
		case gocql.ErrCodeOverloaded:
			return tools.NewError(tools.CodeServerBusy, "data store is overloaded")
		}
	}
	tools.Logger.Error("store error", "error", err.Error())
	return tools.NewError(tools.CodeInternalServerError, "internal server error")
}
