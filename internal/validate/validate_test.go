package validate

import (
	"errors"
	"testing"

	"github.com/ziyic8/mp3/internal/model"
)

func TestUserValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  model.Document
		ok   bool
	}{
		{"valid", model.Document{"name": "Alice", "email": "a@example.com"}, true},
		{"missing name", model.Document{"email": "a@example.com"}, false},
		{"missing email", model.Document{"name": "Alice"}, false},
		{"empty name", model.Document{"name": "", "email": "a@example.com"}, false},
		{"nil email", model.Document{"name": "Alice", "email": nil}, false},
		{"non-string name", model.Document{"name": float64(1), "email": "a@example.com"}, false},
	}
	for _, tc := range cases {
		err := Collection(model.CollectionUsers, tc.doc)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok {
			var vErr *Error
			if !errors.As(err, &vErr) {
				t.Fatalf("%s: expected *Error, got %v", tc.name, err)
			}
			if vErr.Message == "" {
				t.Fatalf("%s: expected message", tc.name)
			}
		}
	}
}

func TestTaskValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  model.Document
		ok   bool
	}{
		{"valid", model.Document{"name": "t", "deadline": "2030-01-01T00:00:00.000Z"}, true},
		{"missing name", model.Document{"deadline": "2030-01-01T00:00:00.000Z"}, false},
		{"missing deadline", model.Document{"name": "t"}, false},
		{"empty deadline", model.Document{"name": "t", "deadline": ""}, false},
		{"numeric deadline accepted", model.Document{"name": "t", "deadline": float64(1893456000000)}, true},
	}
	for _, tc := range cases {
		err := Collection(model.CollectionTasks, tc.doc)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestUnknownCollection(t *testing.T) {
	if err := Collection("widgets", model.Document{}); err == nil {
		t.Fatalf("expected error for unknown collection")
	}
}

func TestApplyDefaults(t *testing.T) {
	task := model.Document{"name": "t"}
	ApplyDefaults(model.CollectionTasks, task)
	if task["completed"] != false {
		t.Fatalf("expected completed default false, got %v", task["completed"])
	}
	if task["description"] != "" {
		t.Fatalf("expected description default empty, got %v", task["description"])
	}

	// 显式值不被覆盖
	task = model.Document{"name": "t", "completed": true, "description": "d"}
	ApplyDefaults(model.CollectionTasks, task)
	if task["completed"] != true || task["description"] != "d" {
		t.Fatalf("explicit values must be kept, got %v", task)
	}

	user := model.Document{"name": "u"}
	ApplyDefaults(model.CollectionUsers, user)
	list, ok := user["pendingTasks"].([]any)
	if !ok || len(list) != 0 {
		t.Fatalf("expected pendingTasks default [], got %v", user["pendingTasks"])
	}
}
