package filter

import (
	"fmt"
	"strings"
	"testing"

	"github.com/casdoc/casdoc/jsontree"
	"github.com/casdoc/casdoc/shred"
	"github.com/casdoc/casdoc/tools"
)

func clause(t *testing.T, s string) *Clause {
	t.Helper()
	node, err := jsontree.Parse([]byte(s))
	if err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	c, err := Parse(node)
	if err != nil {
		t.Fatalf("Parse(%s): %v", s, err)
	}
	return c
}

func doc(t *testing.T, s string) *jsontree.Value {
	t.Helper()
	v, err := jsontree.Parse([]byte(s))
	if err != nil {
		t.Fatalf("bad fixture %q: %v", s, err)
	}
	return v
}

func TestParseShorthandIsEq(t *testing.T) {
	c := clause(t, `{"name":"Bob","age":{"$gt":30}}`)
	if len(c.Preds) != 2 {
		t.Fatalf("predicates = %d, want 2", len(c.Preds))
	}
	if c.Preds[0].Op != OpEq || c.Preds[0].Path.String() != "name" {
		t.Errorf("first predicate = %+v", c.Preds[0])
	}
	if c.Preds[1].Op != OpGt {
		t.Errorf("second predicate = %+v", c.Preds[1])
	}
}

func TestParseRejectsUnknownOperator(t *testing.T) {
	node := doc(t, `{"age":{"$regex":"x"}}`)
	if _, err := Parse(node); !tools.HasCode(err, tools.CodeUnsupportedFilterType) {
		t.Fatalf("expected UNSUPPORTED_FILTER_DATA_TYPE, got %v", err)
	}
}

func TestParseOperandValidation(t *testing.T) {
	tests := []string{
		`{"a":{"$in":5}}`,
		`{"a":{"$all":"x"}}`,
		`{"a":{"$size":"big"}}`,
		`{"a":{"$size":-1}}`,
		`{"a":{"$exists":"yes"}}`,
	}
	for _, fixture := range tests {
		if _, err := Parse(doc(t, fixture)); err == nil {
			t.Errorf("Parse(%s) expected error", fixture)
		}
	}
}

func TestPlanColumnBindings(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		wantCQL  []string
		wantPost int
	}{
		{"text eq", `{"name":"Bob"}`, []string{"query_text_values[?] = ?"}, 0},
		{"number eq", `{"n":7}`, []string{"query_dbl_values[?] = ?"}, 0},
		{"bool eq", `{"b":true}`, []string{"query_bool_values[?] = ?"}, 0},
		{"null eq", `{"x":null}`, []string{"query_null_values CONTAINS ?"}, 0},
		{"date eq", `{"at":{"$date":1700000000000}}`, []string{"query_timestamp_values[?] = ?"}, 0},
		{"range", `{"n":{"$gte":1,"$lt":9}}`, []string{"query_dbl_values[?] >= ?", "query_dbl_values[?] < ?"}, 0},
		{"size", `{"tags":{"$size":2}}`, []string{"array_size[?] = ?"}, 0},
		{"exists true", `{"a.b":{"$exists":true}}`, []string{"exist_keys CONTAINS ?"}, 0},
		{"exists false is post-read", `{"a":{"$exists":false}}`, nil, 1},
		{"ne is post-read", `{"a":{"$ne":1}}`, nil, 1},
		{"single in pushes contains", `{"tags":{"$in":["red"]}}`, []string{"array_contains CONTAINS ?"}, 0},
		{"multi in is post-read", `{"tags":{"$in":["red","blue"]}}`, nil, 1},
		{"all pushes per element", `{"tags":{"$all":["a","b"]}}`, []string{"array_contains CONTAINS ?", "array_contains CONTAINS ?"}, 0},
		{"object eq is post-read", `{"sub":{"k":1}}`, nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := clause(t, tt.filter).Plan()
			if err != nil {
				t.Fatal(err)
			}
			if len(plan.Conditions) != len(tt.wantCQL) {
				t.Fatalf("conditions = %+v, want %d", plan.Conditions, len(tt.wantCQL))
			}
			for i, want := range tt.wantCQL {
				if plan.Conditions[i].CQL != want {
					t.Errorf("condition %d = %q, want %q", i, plan.Conditions[i].CQL, want)
				}
			}
			if len(plan.PostRead) != tt.wantPost {
				t.Errorf("post-read = %d, want %d", len(plan.PostRead), tt.wantPost)
			}
		})
	}
}

func TestPlanRoutesIDToPrimaryKey(t *testing.T) {
	plan, err := clause(t, `{"_id":"abc"}`).Plan()
	if err != nil {
		t.Fatal(err)
	}
	if plan.Key == nil || plan.Key.Type != shred.DocIDString || plan.Key.Value != "abc" {
		t.Fatalf("key = %+v", plan.Key)
	}
	if len(plan.Conditions) != 0 {
		t.Errorf("_id equality must not touch query_* columns: %+v", plan.Conditions)
	}
}

func TestPlanRejectsBadRangeOperand(t *testing.T) {
	_, err := clause(t, `{"a":{"$lt":"str"}}`).Plan()
	if !tools.HasCode(err, tools.CodeUnsupportedFilterType) {
		t.Fatalf("expected UNSUPPORTED_FILTER_DATA_TYPE, got %v", err)
	}
	if !strings.Contains(err.Error(), "$lt") {
		t.Errorf("message should name the operator: %q", err.Error())
	}
}

// TestMatchesAgreement pins the in-memory evaluator's truth table; the plan
// binds to columns whose population (shred package) follows the same rules,
// which is what keeps store-side and in-memory evaluation aligned.
func TestMatchesAgreement(t *testing.T) {
	d := doc(t, `{"_id":"x","name":"Bob","n":5,"flag":true,"none":null,`+
		`"tags":["red","blue"],"nums":[1,2],"sub":{"k":1},"at":{"$date":100}}`)

	tests := []struct {
		filter string
		want   bool
	}{
		{`{"name":"Bob"}`, true},
		{`{"name":"bob"}`, false},
		{`{"n":5}`, true},
		{`{"n":5.0}`, true},
		{`{"n":{"$gt":4}}`, true},
		{`{"n":{"$gt":5}}`, false},
		{`{"n":{"$gte":5}}`, true},
		{`{"n":{"$lt":5.5}}`, true},
		{`{"flag":false}`, false},
		{`{"none":null}`, true},
		{`{"missing":{"$exists":false}}`, true},
		{`{"name":{"$exists":true}}`, true},
		{`{"tags":{"$size":2}}`, true},
		{`{"tags":{"$size":3}}`, false},
		{`{"tags":{"$in":["red"]}}`, true},
		{`{"tags":{"$in":["green","blue"]}}`, true},
		{`{"tags":{"$in":["green"]}}`, false},
		{`{"name":{"$in":["Bob","Alice"]}}`, true},
		{`{"tags":{"$all":["red","blue"]}}`, true},
		{`{"tags":{"$all":["red","green"]}}`, false},
		{`{"n":{"$ne":4}}`, true},
		{`{"n":{"$ne":5}}`, false},
		{`{"missing":{"$ne":5}}`, true},
		{`{"sub":{"k":1}}`, true},
		{`{"sub":{"k":2}}`, false},
		{`{"nums":{"$in":[2]}}`, true},
		{`{"at":{"$gt":{"$date":99}}}`, true},
		{`{"at":{"$lt":{"$date":99}}}`, false},
		{`{"_id":"x"}`, true},
		{`{"_id":"y"}`, false},
		{`{"name":"Bob","n":{"$lt":10}}`, true},
		{`{"name":"Bob","n":{"$gt":10}}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			if got := clause(t, tt.filter).Matches(d); got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

// TestPushedPredicatesAgreeWithShred: a document satisfies a pushed
// condition iff the shredded row contains the bound entry. Spot-check the
// container lookups the conditions compile to.
func TestPushedPredicatesAgreeWithShred(t *testing.T) {
	d := doc(t, `{"_id":"x","name":"Bob","tags":["red","blue"],"n":1.50}`)
	shredded, err := shred.Shred(d)
	if err != nil {
		t.Fatal(err)
	}

	// Single-value $in compiles to an array_contains entry that the shredder
	// must have produced.
	plan, err := clause(t, `{"tags":{"$in":["red"]}}`).Plan()
	if err != nil {
		t.Fatal(err)
	}
	entry := plan.Conditions[0].Args[0].(string)
	if _, ok := shredded.ArrayContains[entry]; !ok {
		t.Errorf("pushed entry %q not present in shredded row %v", entry, shredded.ArrayContains)
	}

	// Decimal normalization lines up between filter args and shredded values.
	plan, err = clause(t, `{"n":1.5}`).Plan()
	if err != nil {
		t.Fatal(err)
	}
	if got := shredded.QueryDblValues["n"].String(); got != "1.5" {
		t.Errorf("shredded decimal = %s, want 1.5", got)
	}
	if got := fmt.Sprint(plan.Conditions[0].Args[1]); got != "1.5" {
		t.Errorf("filter decimal arg = %s, want 1.5", got)
	}
}
