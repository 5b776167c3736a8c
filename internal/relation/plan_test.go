package relation

import (
	"testing"

	"github.com/ziyic8/mp3/internal/model"
)

func TestPlanTaskChange_Create(t *testing.T) {
	task := &model.Task{ID: "t1", AssignedUser: "u1", Completed: false}
	writes := PlanTaskChange(nil, task)
	if len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writes))
	}
	if writes[0].Kind != WritePushPending || writes[0].UserID != "u1" || writes[0].TaskID != "t1" {
		t.Fatalf("unexpected write %+v", writes[0])
	}
}

func TestPlanTaskChange_CreateCompletedOrUnassigned(t *testing.T) {
	if writes := PlanTaskChange(nil, &model.Task{ID: "t1", AssignedUser: "u1", Completed: true}); len(writes) != 0 {
		t.Fatalf("completed task must not be pushed, got %+v", writes)
	}
	if writes := PlanTaskChange(nil, &model.Task{ID: "t1"}); len(writes) != 0 {
		t.Fatalf("unassigned task must not be pushed, got %+v", writes)
	}
}

func TestPlanTaskChange_CompleteTransition(t *testing.T) {
	old := &model.Task{ID: "t1", AssignedUser: "u1", Completed: false}
	updated := &model.Task{ID: "t1", AssignedUser: "u1", Completed: true}

	writes := PlanTaskChange(old, updated)
	if len(writes) != 1 || writes[0].Kind != WritePullPending || writes[0].UserID != "u1" {
		t.Fatalf("expected single pull from u1, got %+v", writes)
	}

	// 反向：重新打开任务时重新入列
	writes = PlanTaskChange(updated, old)
	if len(writes) != 1 || writes[0].Kind != WritePushPending || writes[0].UserID != "u1" {
		t.Fatalf("expected single push to u1, got %+v", writes)
	}
}

func TestPlanTaskChange_ReassignRemovesBeforeAdds(t *testing.T) {
	old := &model.Task{ID: "t1", AssignedUser: "uA", Completed: false}
	updated := &model.Task{ID: "t1", AssignedUser: "uB", Completed: false}

	writes := PlanTaskChange(old, updated)
	if len(writes) != 2 {
		t.Fatalf("expected pull+push, got %+v", writes)
	}
	if writes[0].Kind != WritePullPending || writes[0].UserID != "uA" {
		t.Fatalf("expected pull from uA first, got %+v", writes[0])
	}
	if writes[1].Kind != WritePushPending || writes[1].UserID != "uB" {
		t.Fatalf("expected push to uB second, got %+v", writes[1])
	}
}

func TestPlanTaskChange_NoChange(t *testing.T) {
	task := &model.Task{ID: "t1", AssignedUser: "u1", Completed: false}
	if writes := PlanTaskChange(task, task); len(writes) != 0 {
		t.Fatalf("expected no writes, got %+v", writes)
	}
}

func TestPlanTaskChange_Delete(t *testing.T) {
	old := &model.Task{ID: "t1", AssignedUser: "u1", Completed: false}
	writes := PlanTaskChange(old, nil)
	if len(writes) != 1 || writes[0].Kind != WritePullPending {
		t.Fatalf("expected single pull, got %+v", writes)
	}
}

func TestPlanUserChange_SetDiff(t *testing.T) {
	old := &model.User{ID: "u1", Name: "Alice", PendingTasks: []string{"t1", "t2"}}
	updated := &model.User{ID: "u1", Name: "Alice", PendingTasks: []string{"t2", "t3"}}

	writes := PlanUserChange(old, updated)
	if len(writes) != 2 {
		t.Fatalf("expected clear+set, got %+v", writes)
	}
	if writes[0].Kind != WriteClearAssignee || writes[0].TaskID != "t1" {
		t.Fatalf("expected clear of t1 first, got %+v", writes[0])
	}
	if writes[1].Kind != WriteSetAssignee || writes[1].TaskID != "t3" || writes[1].UserName != "Alice" {
		t.Fatalf("expected set of t3 second, got %+v", writes[1])
	}
}

func TestPlanUserChange_DuplicatesCollapse(t *testing.T) {
	old := &model.User{ID: "u1", PendingTasks: []string{"t1", "t1"}}
	updated := &model.User{ID: "u1", PendingTasks: []string{"t2", "t2"}}

	writes := PlanUserChange(old, updated)
	if len(writes) != 2 {
		t.Fatalf("expected one clear and one set, got %+v", writes)
	}
}

func TestPlanUserChange_OrderInsensitive(t *testing.T) {
	old := &model.User{ID: "u1", PendingTasks: []string{"t1", "t2"}}
	updated := &model.User{ID: "u1", PendingTasks: []string{"t2", "t1"}}

	if writes := PlanUserChange(old, updated); len(writes) != 0 {
		t.Fatalf("reordering must not produce writes, got %+v", writes)
	}
}
