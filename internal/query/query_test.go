package query

import (
	"errors"
	"fmt"
	"net/url"
	"testing"

	"github.com/ziyic8/mp3/internal/model"
)

func mustParse(t *testing.T, rawQuery string) *Query {
	t.Helper()
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatalf("parse query string: %v", err)
	}
	q, err := Parse(values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return q
}

func docs(items ...model.Document) []model.Document {
	return items
}

func TestParse_WhereWinsOverFilter(t *testing.T) {
	values := url.Values{}
	values.Set("where", `{"name":"a"}`)
	values.Set("filter", `{"name":"b"}`)

	q, err := Parse(values)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(q.Conditions) != 1 {
		t.Fatalf("expected 1 condition, got %d", len(q.Conditions))
	}
	if q.Conditions[0].Value != "a" {
		t.Fatalf("expected where to win, got %v", q.Conditions[0].Value)
	}
}

func TestParse_FilterAlias(t *testing.T) {
	q := mustParse(t, `filter=`+url.QueryEscape(`{"_id":1}`))
	if len(q.Conditions) != 1 {
		t.Fatalf("expected filter alias to be honored")
	}
}

func TestParse_Malformed(t *testing.T) {
	cases := []string{
		`where=` + url.QueryEscape(`{"name":`),
		`sort=` + url.QueryEscape(`["name"]`),
		`sort=` + url.QueryEscape(`{"name":2}`),
		`select=` + url.QueryEscape(`{"name":"yes"}`),
		`select=` + url.QueryEscape(`{"name":1,"email":0}`),
		`where=` + url.QueryEscape(`{"name":{"$nope":1}}`),
		`where=` + url.QueryEscape(`{"name":{"$regex":"["}}`),
		`skip=-1`,
		`limit=abc`,
		`count=maybe`,
	}
	for _, raw := range cases {
		values, err := url.ParseQuery(raw)
		if err != nil {
			t.Fatalf("parse query string %q: %v", raw, err)
		}
		if _, err := Parse(values); !errors.Is(err, ErrBadQuery) {
			t.Fatalf("expected ErrBadQuery for %q, got %v", raw, err)
		}
	}
}

func TestMatch_EqualityAndRegex(t *testing.T) {
	q := mustParse(t, `where=`+url.QueryEscape(`{"email":{"$regex":"\\.com$"},"completed":false}`))

	hit := model.Document{"email": "alice@example.com", "completed": false}
	miss := model.Document{"email": "bob@example.org", "completed": false}
	missBool := model.Document{"email": "c@example.com", "completed": true}

	if !q.Match(hit) {
		t.Fatalf("expected match")
	}
	if q.Match(miss) || q.Match(missBool) {
		t.Fatalf("expected no match")
	}
}

func TestMatch_Operators(t *testing.T) {
	q := mustParse(t, `where=`+url.QueryEscape(`{"n":{"$gte":2,"$lt":5}}`))
	if !q.Match(model.Document{"n": float64(3)}) {
		t.Fatalf("expected 3 to match [2,5)")
	}
	if q.Match(model.Document{"n": float64(5)}) {
		t.Fatalf("expected 5 not to match")
	}

	q = mustParse(t, `where=`+url.QueryEscape(`{"name":{"$in":["a","b"]}}`))
	if !q.Match(model.Document{"name": "b"}) {
		t.Fatalf("expected $in match")
	}
	if q.Match(model.Document{"name": "c"}) {
		t.Fatalf("expected no $in match")
	}

	q = mustParse(t, `where=`+url.QueryEscape(`{"name":{"$ne":"x"}}`))
	if !q.Match(model.Document{"name": "y"}) || q.Match(model.Document{"name": "x"}) {
		t.Fatalf("$ne mismatch")
	}
}

func TestExecute_SortKeyOrderAndTieBreak(t *testing.T) {
	q := mustParse(t, `sort=`+url.QueryEscape(`{"group":1,"rank":-1}`))
	input := docs(
		model.Document{"_id": "3", "group": "b", "rank": float64(1)},
		model.Document{"_id": "2", "group": "a", "rank": float64(1)},
		model.Document{"_id": "1", "group": "a", "rank": float64(2)},
		model.Document{"_id": "0", "group": "a", "rank": float64(1)},
	)

	out := q.Execute(input)
	got := make([]string, len(out))
	for i, d := range out {
		got[i] = d.ID()
	}
	want := []string{"1", "0", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sort order mismatch: got %v want %v", got, want)
		}
	}
}

func TestExecute_SkipLimit(t *testing.T) {
	var input []model.Document
	for i := 0; i < 10; i++ {
		input = append(input, model.Document{"_id": fmt.Sprintf("%02d", i)})
	}

	q := mustParse(t, `skip=3&limit=4`)
	out := q.Execute(input)
	if len(out) != 4 {
		t.Fatalf("expected 4 docs, got %d", len(out))
	}
	if out[0].ID() != "03" {
		t.Fatalf("expected skip to drop first 3, got %s", out[0].ID())
	}
}

func TestExecute_DefaultLimitCaps(t *testing.T) {
	var input []model.Document
	for i := 0; i < 150; i++ {
		input = append(input, model.Document{"_id": fmt.Sprintf("%03d", i)})
	}

	for _, raw := range []string{``, `limit=0`} {
		q := mustParse(t, raw)
		if out := q.Execute(input); len(out) != DefaultLimit {
			t.Fatalf("query %q: expected %d docs, got %d", raw, DefaultLimit, len(out))
		}
	}
}

func TestCountMatching_IgnoresPagination(t *testing.T) {
	var input []model.Document
	for i := 0; i < 150; i++ {
		input = append(input, model.Document{"_id": fmt.Sprintf("%03d", i), "completed": i%2 == 0})
	}

	q := mustParse(t, `count=true&limit=5&where=`+url.QueryEscape(`{"completed":true}`))
	if !q.Count {
		t.Fatalf("expected count query")
	}
	if n := q.CountMatching(input); n != 75 {
		t.Fatalf("expected 75, got %d", n)
	}
}

func TestProject_Include(t *testing.T) {
	q := mustParse(t, `select=`+url.QueryEscape(`{"name":1}`))
	out := q.Project(model.Document{"_id": "x", "name": "a", "email": "e"})
	if out["name"] != "a" || out["_id"] != "x" {
		t.Fatalf("expected name and _id kept, got %v", out)
	}
	if _, ok := out["email"]; ok {
		t.Fatalf("expected email dropped")
	}
}

func TestProject_ExcludeAndOmitID(t *testing.T) {
	q := mustParse(t, `select=`+url.QueryEscape(`{"email":0}`))
	out := q.Project(model.Document{"_id": "x", "name": "a", "email": "e"})
	if _, ok := out["email"]; ok {
		t.Fatalf("expected email dropped")
	}
	if out["name"] != "a" || out["_id"] != "x" {
		t.Fatalf("expected other fields kept, got %v", out)
	}

	q = mustParse(t, `select=`+url.QueryEscape(`{"name":1,"_id":0}`))
	out = q.Project(model.Document{"_id": "x", "name": "a"})
	if _, ok := out["_id"]; ok {
		t.Fatalf("expected _id omitted")
	}
}

func TestProject_IDOnly(t *testing.T) {
	q := mustParse(t, `select=`+url.QueryEscape(`{"_id":1}`))
	out := q.Project(model.Document{"_id": "x", "name": "a", "email": "e"})
	if len(out) != 1 || out["_id"] != "x" {
		t.Fatalf("expected only _id kept, got %v", out)
	}
}

func TestProject_ExcludeWithExplicitID(t *testing.T) {
	q := mustParse(t, `select=`+url.QueryEscape(`{"name":0,"_id":1}`))
	out := q.Project(model.Document{"_id": "x", "name": "a", "email": "e"})
	if _, ok := out["name"]; ok {
		t.Fatalf("expected name dropped, got %v", out)
	}
	if out["_id"] != "x" || out["email"] != "e" {
		t.Fatalf("expected _id and email kept, got %v", out)
	}
}
