package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/casdoc/casdoc/schema"
	"github.com/casdoc/casdoc/store"
	"github.com/gocql/gocql"
)

type fakeExecutor struct {
	mu      sync.Mutex
	stmts   []*store.Statement
	handler func(stmt *store.Statement) (*store.ResultSet, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, stmt *store.Statement) (*store.ResultSet, error) {
	f.mu.Lock()
	f.stmts = append(f.stmts, stmt)
	f.mu.Unlock()
	if f.handler == nil {
		return &store.ResultSet{}, nil
	}
	return f.handler(stmt)
}

// collectionHandler answers schema metadata as an existing plain collection
// and delegates everything else.
func collectionHandler(next func(stmt *store.Statement) (*store.ResultSet, error)) func(stmt *store.Statement) (*store.ResultSet, error) {
	return func(stmt *store.Statement) (*store.ResultSet, error) {
		q := stmt.Query
		switch {
		case strings.Contains(q, "system_schema.columns"):
			var rows []map[string]any
			for _, c := range schema.TableColumns {
				rows = append(rows, map[string]any{"column_name": c.Name, "type": c.Type})
			}
			return &store.ResultSet{Rows: rows}, nil
		case strings.Contains(q, "system_schema.tables"):
			return &store.ResultSet{Rows: []map[string]any{{"comment": ""}}}, nil
		case strings.Contains(q, "system_schema.keyspaces"):
			return &store.ResultSet{Rows: []map[string]any{{"keyspace_name": "ks"}}}, nil
		}
		return next(stmt)
	}
}

func dispatch(t *testing.T, ex *fakeExecutor, collection, body string) *CommandResult {
	t.Helper()
	server := NewWithExecutor(ex)
	cctx := &CommandContext{Token: "token", Namespace: "ks", Collection: collection, server: server}
	return server.Dispatch(context.Background(), cctx, []byte(body))
}

func TestDispatchUnknownCommand(t *testing.T) {
	res := dispatch(t, &fakeExecutor{}, "c", `{"wibble":{}}`)
	if len(res.Errors) != 1 {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if res.Errors[0].Message != "Could not resolve type id 'wibble'" {
		t.Errorf("message = %q", res.Errors[0].Message)
	}
}

func TestDispatchRejectsMultiCommandEnvelope(t *testing.T) {
	res := dispatch(t, &fakeExecutor{}, "c", `{"findOne":{},"find":{}}`)
	if len(res.Errors) != 1 || res.Errors[0].ExceptionClass != "ConstraintViolationException" {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestDispatchMalformedJSON(t *testing.T) {
	res := dispatch(t, &fakeExecutor{}, "c", `{"findOne":`)
	if len(res.Errors) != 1 || res.Errors[0].ExceptionClass != "JsonParseException" {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestDispatchInsertOne(t *testing.T) {
	ex := &fakeExecutor{handler: func(stmt *store.Statement) (*store.ResultSet, error) {
		return &store.ResultSet{Applied: true}, nil
	}}
	res := dispatch(t, ex, "c", `{"insertOne":{"document":{"_id":"doc1","x":1}}}`)
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %+v", res.Errors)
	}
	body, _ := sonic.Marshal(res)
	if string(body) != `{"status":{"insertedIds":["doc1"]}}` {
		t.Errorf("envelope = %s", body)
	}
}

func TestDispatchInsertConflictSurfacesErrorCode(t *testing.T) {
	ex := &fakeExecutor{handler: func(stmt *store.Statement) (*store.ResultSet, error) {
		return &store.ResultSet{Applied: false}, nil
	}}
	res := dispatch(t, ex, "c", `{"insertOne":{"document":{"_id":"doc1"}}}`)
	if len(res.Errors) != 1 || res.Errors[0].ErrorCode != "DOCUMENT_ALREADY_EXISTS" {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestDispatchOrderedInsertManyReportsPartialSuccess(t *testing.T) {
	calls := 0
	ex := &fakeExecutor{handler: func(stmt *store.Statement) (*store.ResultSet, error) {
		calls++
		return &store.ResultSet{Applied: calls != 2}, nil
	}}
	res := dispatch(t, ex, "c", `{"insertMany":{"documents":[{"_id":"a"},{"_id":"b"},{"_id":"c"}]}}`)
	if len(res.Errors) != 1 || res.Errors[0].ErrorCode != "DOCUMENT_ALREADY_EXISTS" {
		t.Fatalf("errors = %+v", res.Errors)
	}
	ids, ok := res.Status["insertedIds"].([]json.RawMessage)
	if !ok || len(ids) != 1 || string(ids[0]) != `"a"` {
		t.Fatalf("status = %+v, want the ids that landed before the failure", res.Status)
	}
}

func TestDispatchFindOne(t *testing.T) {
	ex := &fakeExecutor{}
	ex.handler = collectionHandler(func(stmt *store.Statement) (*store.ResultSet, error) {
		return &store.ResultSet{Rows: []map[string]any{
			{"doc_json": `{"_id":"doc1","x":1}`, "tx_id": gocql.TimeUUID()},
		}}, nil
	})
	res := dispatch(t, ex, "c", `{"findOne":{"filter":{"_id":"doc1"}}}`)
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if string(res.Data.Document) != `{"_id":"doc1","x":1}` {
		t.Errorf("document = %s", res.Data.Document)
	}
}

func TestDispatchFindOneNoMatchReturnsNullDocument(t *testing.T) {
	ex := &fakeExecutor{}
	ex.handler = collectionHandler(func(stmt *store.Statement) (*store.ResultSet, error) {
		return &store.ResultSet{}, nil
	})
	res := dispatch(t, ex, "c", `{"findOne":{"filter":{"_id":"missing"}}}`)
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if string(res.Data.Document) != "null" {
		t.Errorf("document = %q, want null", res.Data.Document)
	}
}

func TestDispatchDeleteCollectionIdempotent(t *testing.T) {
	ex := &fakeExecutor{handler: func(stmt *store.Statement) (*store.ResultSet, error) {
		return &store.ResultSet{}, nil
	}}
	res := dispatch(t, ex, "", `{"deleteCollection":{"name":"ghost"}}`)
	if len(res.Errors) != 0 {
		t.Fatalf("errors = %+v", res.Errors)
	}
	if ok, _ := res.Status["ok"].(int); ok != 1 {
		t.Errorf("status = %+v", res.Status)
	}
}

func TestDispatchCollectionCommandWithoutCollectionPath(t *testing.T) {
	res := dispatch(t, &fakeExecutor{}, "", `{"insertOne":{"document":{"x":1}}}`)
	if len(res.Errors) != 1 || res.Errors[0].ExceptionClass != "ConstraintViolationException" {
		t.Fatalf("errors = %+v", res.Errors)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := `{"updateOne":{"filter":{"_id":"x"},"update":{"$inc":{"n":1}},"options":{"upsert":true}}}`
	var envelope map[string]json.RawMessage
	if err := sonic.Unmarshal([]byte(in), &envelope); err != nil {
		t.Fatal(err)
	}
	out, err := sonic.Marshal(envelope)
	if err != nil {
		t.Fatal(err)
	}
	var again map[string]json.RawMessage
	if err := sonic.Unmarshal(out, &again); err != nil {
		t.Fatal(err)
	}
	if string(again["updateOne"]) != string(envelope["updateOne"]) {
		t.Errorf("round trip drifted: %s vs %s", again["updateOne"], envelope["updateOne"])
	}
}

// --- HTTP surface ---

func serve(t *testing.T, ex *fakeExecutor) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewWithExecutor(ex).Run(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, token, body string) (int, *CommandResult) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("X-Cassandra-Token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var result CommandResult
	if err := sonic.ConfigDefault.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, &result
}

func TestHTTPMissingToken(t *testing.T) {
	srv := serve(t, &fakeExecutor{})
	status, result := post(t, srv, "/v1/ks/c", "", `{"findOne":{}}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for auth failures", status)
	}
	if len(result.Errors) != 1 || !strings.HasPrefix(result.Errors[0].Message, "Role unauthorized for operation: Missing token") {
		t.Fatalf("errors = %+v", result.Errors)
	}
}

func TestHTTPEmptyBody(t *testing.T) {
	srv := serve(t, &fakeExecutor{})
	status, result := post(t, srv, "/v1/ks/c", "token", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(result.Errors) != 1 || result.Errors[0].ExceptionClass != "ConstraintViolationException" {
		t.Fatalf("errors = %+v", result.Errors)
	}
}

func TestHTTPErrorsStayOn200(t *testing.T) {
	srv := serve(t, &fakeExecutor{})
	status, result := post(t, srv, "/v1/ks/c", "token", `{"nope":{}}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %+v", result.Errors)
	}
}
