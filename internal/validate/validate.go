// Package validate 实现各集合的写前校验。
//
// 校验在关系引擎之前执行，非法写入不会触发任何跨集合更新。
package validate

import (
	"fmt"

	"github.com/ziyic8/mp3/internal/model"
)

// Error 校验失败，渲染为统一的 {message} 错误体（400）。
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

// Errorf 构造一个格式化的校验错误。
func Errorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Collection 按集合名分派校验。
func Collection(collection string, doc model.Document) error {
	switch collection {
	case model.CollectionUsers:
		return userDoc(doc)
	case model.CollectionTasks:
		return taskDoc(doc)
	default:
		return Errorf("unknown collection %q", collection)
	}
}

func userDoc(doc model.Document) error {
	if err := requireString(doc, model.FieldName); err != nil {
		return err
	}
	if err := requireString(doc, model.FieldEmail); err != nil {
		return err
	}
	return nil
}

func taskDoc(doc model.Document) error {
	if err := requireString(doc, model.FieldName); err != nil {
		return err
	}
	if v, ok := doc[model.FieldDeadline]; !ok || v == nil {
		return Errorf("task validation failed: deadline is required")
	}
	if s, ok := doc[model.FieldDeadline].(string); ok && s == "" {
		return Errorf("task validation failed: deadline is required")
	}
	return nil
}

// requireString 要求字段存在、为字符串且非空。
func requireString(doc model.Document, field string) error {
	v, ok := doc[field]
	if !ok || v == nil {
		return Errorf("validation failed: %s is required", field)
	}
	s, ok := v.(string)
	if !ok {
		return Errorf("validation failed: %s must be a string", field)
	}
	if s == "" {
		return Errorf("validation failed: %s must not be empty", field)
	}
	return nil
}

// ApplyDefaults 填充集合的默认字段（创建与整体替换都会经过）。
//
//	tasks: completed=false, description=""
//	users: pendingTasks=[]
func ApplyDefaults(collection string, doc model.Document) {
	switch collection {
	case model.CollectionTasks:
		if !doc.Has(model.FieldCompleted) {
			doc[model.FieldCompleted] = false
		}
		if !doc.Has(model.FieldDescription) {
			doc[model.FieldDescription] = ""
		}
	case model.CollectionUsers:
		if !doc.Has(model.FieldPendingTasks) {
			doc[model.FieldPendingTasks] = []any{}
		}
	}
}
