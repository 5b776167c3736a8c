package model

// 集合名称。
const (
	CollectionUsers = "users"
	CollectionTasks = "tasks"
)

// 任务文档字段。
const (
	FieldName             = "name"
	FieldDescription      = "description"
	FieldDeadline         = "deadline"
	FieldCompleted        = "completed"
	FieldAssignedUser     = "assignedUser"
	FieldAssignedUserName = "assignedUserName"
)

// Task 是任务文档的类型化视图，供校验器与关系引擎使用。
//
// 任务与用户通过 assignedUser/pendingTasks 双向关联：
// 未完成且已指派的任务必须出现在对应用户的 pendingTasks 中，
// 且仅出现一次。
type Task struct {
	ID           string // 任务唯一标识
	Name         string // 任务名称
	AssignedUser string // 被指派用户 ID，空串表示未指派
	Completed    bool   // 是否已完成
}

// TaskView 从文档构造任务视图。
func TaskView(doc Document) Task {
	return Task{
		ID:           doc.ID(),
		Name:         doc.String(FieldName),
		AssignedUser: doc.String(FieldAssignedUser),
		Completed:    doc.Bool(FieldCompleted),
	}
}

// Pending 报告任务是否应出现在其用户的 pendingTasks 中。
//
// 归属规则：已指派且未完成。
func (t Task) Pending() bool {
	return t.AssignedUser != "" && !t.Completed
}
