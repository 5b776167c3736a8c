package model

// 用户文档字段。
const (
	FieldEmail        = "email"
	FieldPendingTasks = "pendingTasks"
)

// User 是用户文档的类型化视图。
type User struct {
	ID           string   // 用户 ID
	Name         string   // 用户名（必填）
	Email        string   // 邮箱（必填）
	PendingTasks []string // 待办任务 ID 列表
}

// UserView 从文档构造用户视图。
func UserView(doc Document) User {
	return User{
		ID:           doc.ID(),
		Name:         doc.String(FieldName),
		Email:        doc.String(FieldEmail),
		PendingTasks: doc.StringSlice(FieldPendingTasks),
	}
}
