// Package relation 实现 users 与 tasks 两个集合之间的
// 双向引用一致性：
//
//	对每个 assignedUser = u 且 completed = false 的任务 t，
//	u.pendingTasks 恰好包含一次 t；
//	已完成或未指派的任务不出现在任何用户的 pendingTasks 中。
//
// 规划（本文件）是纯函数：比较变更前后的文档状态，产出一组
// 补偿写；移除总是排在新增之前，任务在用户间转移时不会被
// 双重计数。写的实际执行见 engine.go。
package relation

import "github.com/ziyic8/mp3/internal/model"

// WriteKind 补偿写的类型。
type WriteKind int

const (
	// WritePullPending 从用户 pendingTasks 移除任务 ID。
	WritePullPending WriteKind = iota
	// WritePushPending 向用户 pendingTasks 追加任务 ID。
	WritePushPending
	// WriteClearAssignee 清除任务的 assignedUser/assignedUserName，
	// 仅当任务仍指向给定用户时生效。
	WriteClearAssignee
	// WriteSetAssignee 将任务指派给给定用户。
	WriteSetAssignee
)

func (k WriteKind) String() string {
	switch k {
	case WritePullPending:
		return "pull_pending"
	case WritePushPending:
		return "push_pending"
	case WriteClearAssignee:
		return "clear_assignee"
	case WriteSetAssignee:
		return "set_assignee"
	default:
		return "unknown"
	}
}

// Write 一条针对另一集合的补偿写。
type Write struct {
	Kind     WriteKind
	UserID   string
	UserName string // 仅 WriteSetAssignee 使用
	TaskID   string
}

// PlanTaskChange 为任务侧的变更计算补偿写。
//
// old 为 nil 表示创建，updated 为 nil 表示删除。
// 返回的写操作保证移除先于新增。
func PlanTaskChange(old, updated *model.Task) []Write {
	oldPending := old != nil && old.Pending()
	newPending := updated != nil && updated.Pending()

	taskID := ""
	if old != nil {
		taskID = old.ID
	} else if updated != nil {
		taskID = updated.ID
	}

	var writes []Write
	if oldPending && (!newPending || updated.AssignedUser != old.AssignedUser) {
		writes = append(writes, Write{
			Kind:   WritePullPending,
			UserID: old.AssignedUser,
			TaskID: taskID,
		})
	}
	if newPending && (!oldPending || old.AssignedUser != updated.AssignedUser) {
		writes = append(writes, Write{
			Kind:   WritePushPending,
			UserID: updated.AssignedUser,
			TaskID: taskID,
		})
	}
	return writes
}

// PlanUserChange 为用户侧 pendingTasks 的变更计算补偿写。
//
// 新旧列表按集合做差（顺序与重复不参与语义）。old 为 nil
// 表示创建，updated 为 nil 表示清空（删除用户时另有全量
// 扫描，见 engine）。移除先于新增。
func PlanUserChange(old, updated *model.User) []Write {
	userID, userName := "", ""
	var oldList, newList []string
	if old != nil {
		userID, userName = old.ID, old.Name
		oldList = old.PendingTasks
	}
	if updated != nil {
		userID, userName = updated.ID, updated.Name
		newList = updated.PendingTasks
	}

	oldSet := toSet(oldList)
	newSet := toSet(newList)

	var writes []Write
	removed := make(map[string]bool, len(oldList))
	for _, taskID := range oldList {
		if newSet[taskID] || removed[taskID] {
			continue
		}
		removed[taskID] = true
		writes = append(writes, Write{
			Kind:   WriteClearAssignee,
			UserID: userID,
			TaskID: taskID,
		})
	}
	added := make(map[string]bool, len(newList))
	for _, taskID := range newList {
		if oldSet[taskID] || added[taskID] {
			continue
		}
		added[taskID] = true
		writes = append(writes, Write{
			Kind:     WriteSetAssignee,
			UserID:   userID,
			UserName: userName,
			TaskID:   taskID,
		})
	}
	return writes
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, id := range list {
		set[id] = true
	}
	return set
}
