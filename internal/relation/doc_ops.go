package relation

import "github.com/ziyic8/mp3/internal/model"

// 本文件是补偿写落到具体文档字段上的原语。
// 全部为就地修改，调用方负责随后 Put。

// removePendingID 从用户文档的 pendingTasks 中移除任务 ID 的
// 所有出现。
func removePendingID(doc model.Document, taskID string) {
	list := doc.StringSlice(model.FieldPendingTasks)
	out := make([]any, 0, len(list))
	for _, id := range list {
		if id != taskID {
			out = append(out, id)
		}
	}
	doc[model.FieldPendingTasks] = out
}

// appendPendingID 向用户文档的 pendingTasks 追加任务 ID，
// 已存在时不重复追加。
func appendPendingID(doc model.Document, taskID string) {
	list := doc.StringSlice(model.FieldPendingTasks)
	out := make([]any, 0, len(list)+1)
	for _, id := range list {
		if id == taskID {
			return
		}
		out = append(out, id)
	}
	out = append(out, taskID)
	doc[model.FieldPendingTasks] = out
}

// clearAssigneeFields 将任务文档置为未指派状态。
func clearAssigneeFields(doc model.Document) {
	delete(doc, model.FieldAssignedUser)
	delete(doc, model.FieldAssignedUserName)
}

// setAssigneeFields 将任务文档指派给用户。
// assignedUserName 由服务端重算，请求体中的值不被采信。
func setAssigneeFields(doc model.Document, userID, userName string) {
	doc[model.FieldAssignedUser] = userID
	doc[model.FieldAssignedUserName] = userName
}

// dedupe 保序去重。
func dedupe(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, id := range list {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// setPendingList 覆盖用户文档的 pendingTasks。
func setPendingList(doc model.Document, list []string) {
	out := make([]any, len(list))
	for i, id := range list {
		out[i] = id
	}
	doc[model.FieldPendingTasks] = out
}
