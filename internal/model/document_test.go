package model

import "testing"

func TestDocument_Accessors(t *testing.T) {
	doc := Document{
		"_id":       "abc",
		"name":      "Alice",
		"completed": true,
		"tags":      []any{"a", float64(1), "b"},
	}

	if doc.ID() != "abc" {
		t.Fatalf("expected id abc, got %q", doc.ID())
	}
	if doc.String("missing") != "" {
		t.Fatalf("missing string field must be empty")
	}
	if !doc.Bool("completed") || doc.Bool("name") {
		t.Fatalf("bool accessor mismatch")
	}
	got := doc.StringSlice("tags")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("non-string elements must be dropped, got %v", got)
	}
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := Document{
		"list":   []any{"t1"},
		"nested": map[string]any{"k": "v"},
	}
	clone := doc.Clone()

	clone["list"].([]any)[0] = "changed"
	clone["nested"].(map[string]any)["k"] = "changed"

	if doc["list"].([]any)[0] != "t1" {
		t.Fatalf("clone must not share list backing")
	}
	if doc["nested"].(map[string]any)["k"] != "v" {
		t.Fatalf("clone must not share nested map")
	}
}

func TestDocument_EncodeDecode(t *testing.T) {
	doc := Document{"_id": "x", "n": float64(3)}
	data, err := doc.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID() != "x" || got["n"] != float64(3) {
		t.Fatalf("round trip mismatch: %v", got)
	}

	if _, err := Decode([]byte(`{"broken":`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTask_Pending(t *testing.T) {
	if !(Task{AssignedUser: "u1"}).Pending() {
		t.Fatalf("assigned incomplete task is pending")
	}
	if (Task{AssignedUser: "u1", Completed: true}).Pending() {
		t.Fatalf("completed task is not pending")
	}
	if (Task{}).Pending() {
		t.Fatalf("unassigned task is not pending")
	}
}
