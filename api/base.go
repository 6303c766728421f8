// Package api implements the HTTP surface and the command pipeline: a JSON
// command envelope is deserialized, validated, resolved to an operation,
// executed against the store, and folded into the uniform CommandResult.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/casdoc/casdoc/config"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/store"
	"github.com/casdoc/casdoc/tools"
)

const tokenHeader = "X-Cassandra-Token"

// Server wires the command pipeline to its shared resources: the session
// cache, the schema cache, and the per-tenant executor source.
type Server struct {
	sessions    *store.SessionCache
	schemas     *schema.Cache
	executorFor func(ctx context.Context, token string) (store.Executor, error)
}

// New builds the production server: gocql sessions per tenant token, a
// bounded executor, and the schema cache populated from store metadata.
func New() *Server {
	s := &Server{sessions: store.NewSessionCache()}
	s.executorFor = func(ctx context.Context, token string) (store.Executor, error) {
		session, err := s.sessions.Get(token)
		if err != nil {
			return nil, err
		}
		return store.NewCQLExecutor(session, int64(config.Cfg.MaxInflight)), nil
	}
	s.schemas = schema.NewCache(
		config.Cfg.SchemaCacheSize,
		time.Duration(config.Cfg.SchemaCacheTTL)*time.Second,
		schema.Fetcher(func(ctx context.Context, key schema.Key) (store.Executor, error) {
			return s.executorFor(ctx, key.Tenant)
		}),
	)
	return s
}

// NewWithExecutor builds a server on a fixed executor. Test seam.
func NewWithExecutor(ex store.Executor) *Server {
	s := &Server{}
	s.executorFor = func(context.Context, string) (store.Executor, error) { return ex, nil }
	s.schemas = schema.NewCache(
		config.Cfg.SchemaCacheSize,
		time.Duration(config.Cfg.SchemaCacheTTL)*time.Second,
		schema.Fetcher(func(context.Context, schema.Key) (store.Executor, error) { return ex, nil }),
	)
	return s
}

// Close releases the server's shared resources.
func (s *Server) Close() {
	if s.sessions != nil {
		s.sessions.Close()
	}
}

// Run registers the API routes on the provided ServeMux.
//
// Routes:
//   - POST /v1/{namespace} - namespace commands (createCollection, ...)
//   - POST /v1/{namespace}/{collection} - collection commands (insertOne, ...)
//
// Both respond 200 for every outcome; errors travel in the envelope.
func (s *Server) Run(app *http.ServeMux) {
	app.HandleFunc("POST /v1/{namespace}", s.handleCommand())
	app.HandleFunc("POST /v1/{namespace}/{collection}", s.handleCommand())
}

func (s *Server) handleCommand() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(tokenHeader)
		if token == "" {
			writeResult(w, errorResult(&tools.APIError{
				Message:        "Role unauthorized for operation: Missing token, expecting one in the " + tokenHeader + " header",
				ExceptionClass: "UnauthorizedException",
			}))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, config.Cfg.MaxRequestBody))
		if err != nil {
			writeResult(w, errorResult(tools.NewError(tools.CodeInternalServerError, "could not read request body")))
			return
		}
		if len(body) == 0 {
			writeResult(w, errorResult(tools.ConstraintViolation("request body must not be empty")))
			return
		}

		cctx := &CommandContext{
			Token:      token,
			Namespace:  r.PathValue("namespace"),
			Collection: r.PathValue("collection"),
			server:     s,
		}
		if cctx.Namespace == "" {
			cctx.Namespace = config.Cfg.Keyspace
		}
		writeResult(w, s.Dispatch(r.Context(), cctx, body))
	}
}

// Dispatch runs one command envelope through the pipeline and returns the
// response envelope. Every failure is folded in; Dispatch never fails.
func (s *Server) Dispatch(ctx context.Context, cctx *CommandContext, body []byte) *CommandResult {
	var envelope map[string]json.RawMessage
	if err := sonic.Unmarshal(body, &envelope); err != nil {
		return errorResult(&tools.APIError{
			Message:        "Unable to parse the command: " + err.Error(),
			ExceptionClass: tools.ExceptionJSONParse,
		})
	}
	if len(envelope) != 1 {
		return errorResult(tools.ConstraintViolation(
			"command envelope must have exactly one command, got %d", len(envelope)))
	}

	var tag string
	var params json.RawMessage
	for k, v := range envelope {
		tag, params = k, v
	}
	resolve, ok := commandRegistry[tag]
	if !ok {
		return errorResult(&tools.APIError{
			Message:        "Could not resolve type id '" + tag + "'",
			ExceptionClass: tools.ExceptionJSONParse,
		})
	}

	op, shape, err := resolve(ctx, cctx, params)
	if err != nil {
		return errorResult(err)
	}
	ex, err := s.executorFor(ctx, cctx.Token)
	if err != nil {
		return errorResult(err)
	}
	result, err := op.Execute(ctx, ex)
	if err != nil {
		out := errorResult(store.MapDriverError(err))
		if result != nil {
			// Operations that fail mid-batch (ordered insertMany) return
			// what landed alongside the error; keep that status visible.
			out.Status = shape(result).Status
		}
		return out
	}
	return shape(result)
}

// CommandContext carries the request's addressing: which tenant, namespace,
// and (for collection commands) collection the command targets.
type CommandContext struct {
	Token      string
	Namespace  string
	Collection string
	server     *Server
}

func (c *CommandContext) cacheKey() schema.Key {
	return schema.Key{Tenant: c.Token, Namespace: c.Namespace, Collection: c.Collection}
}

// settings resolves the target collection's cached settings.
func (c *CommandContext) settings(ctx context.Context) (schema.Settings, error) {
	return c.server.schemas.Get(ctx, c.cacheKey())
}

// requireCollection validates that the request path addressed a collection.
func (c *CommandContext) requireCollection() error {
	if c.Collection == "" {
		return tools.ConstraintViolation("this command must target a collection: POST /v1/{namespace}/{collection}")
	}
	return nil
}
