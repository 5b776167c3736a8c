package relation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ziyic8/mp3/internal/model"
	"github.com/ziyic8/mp3/internal/pkg/doclock"
	"github.com/ziyic8/mp3/internal/pkg/metrics"
	"github.com/ziyic8/mp3/internal/store"
	"github.com/ziyic8/mp3/internal/validate"
)

// maxLockAttempts 预读与加锁之间状态漂移时的重试上限。
// 超出后按锁超时处理，调用方可整体重试。
const maxLockAttempts = 3

// Engine 在文档租约的保护下执行变更及其补偿写。
//
// 每个变更操作的流程固定为：预读确定锁集合 → 按全局顺序
// 加锁 → 锁内重读校验 → 校验通过后用不可取消的上下文提交。
// 指向不存在实体的“新增侧”引用使整个操作失败且不落任何写；
// “移除侧”的失配一律按幂等清理容忍。
type Engine struct {
	store  store.Store
	locks  *doclock.Manager
	logger *slog.Logger
}

// NewEngine 创建关系同步引擎。
func NewEngine(st store.Store, locks *doclock.Manager, logger *slog.Logger) *Engine {
	return &Engine{store: st, locks: locks, logger: logger}
}

func recordWrite(kind WriteKind) {
	if metrics.RelationWritesTotal != nil {
		metrics.RelationWritesTotal.WithLabelValues(kind.String()).Inc()
	}
}

// ---------------------------------------------------------------------
// 任务侧
// ---------------------------------------------------------------------

// CreateTask 创建任务并同步其指派用户的 pendingTasks。
//
// assignedUser 指向不存在的用户时整个创建被拒绝。
func (e *Engine) CreateTask(ctx context.Context, doc model.Document) (model.Document, error) {
	id := store.NewID()
	assignee := doc.String(model.FieldAssignedUser)

	lease, err := e.locks.AcquireAll(ctx,
		doclock.Key{Collection: model.CollectionTasks, ID: id},
		doclock.Key{Collection: model.CollectionUsers, ID: assignee},
	)
	if err != nil {
		return nil, err
	}
	commitCtx := context.WithoutCancel(ctx)
	defer lease.Release(commitCtx)

	return e.commitTaskChange(commitCtx, nil, id, doc)
}

// UpdateTask 整体替换任务并重新核对新旧指派关系。
func (e *Engine) UpdateTask(ctx context.Context, id string, doc model.Document) (model.Document, error) {
	newAssignee := doc.String(model.FieldAssignedUser)

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		current, err := e.store.Get(ctx, model.CollectionTasks, id)
		if err != nil {
			return nil, err
		}
		oldAssignee := model.TaskView(current).AssignedUser

		lease, err := e.locks.AcquireAll(ctx,
			doclock.Key{Collection: model.CollectionTasks, ID: id},
			doclock.Key{Collection: model.CollectionUsers, ID: oldAssignee},
			doclock.Key{Collection: model.CollectionUsers, ID: newAssignee},
		)
		if err != nil {
			return nil, err
		}
		commitCtx := context.WithoutCancel(ctx)

		// 锁内重读：旧指派在预读后漂移到锁集合之外时重新来过
		current, err = e.store.Get(commitCtx, model.CollectionTasks, id)
		if err != nil {
			lease.Release(commitCtx)
			return nil, err
		}
		oldView := model.TaskView(current)
		if oldView.AssignedUser != "" && oldView.AssignedUser != oldAssignee && oldView.AssignedUser != newAssignee {
			lease.Release(commitCtx)
			e.logger.Debug("task assignee drifted before lock, retrying",
				slog.String("task", id), slog.Int("attempt", attempt))
			continue
		}

		updated, err := e.commitTaskChange(commitCtx, &oldView, id, doc)
		lease.Release(commitCtx)
		return updated, err
	}
	return nil, doclock.ErrLockTimeout
}

// DeleteTask 删除任务并将其从指派用户的 pendingTasks 中移除。
func (e *Engine) DeleteTask(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		current, err := e.store.Get(ctx, model.CollectionTasks, id)
		if err != nil {
			return err
		}
		assignee := model.TaskView(current).AssignedUser

		lease, err := e.locks.AcquireAll(ctx,
			doclock.Key{Collection: model.CollectionTasks, ID: id},
			doclock.Key{Collection: model.CollectionUsers, ID: assignee},
		)
		if err != nil {
			return err
		}
		commitCtx := context.WithoutCancel(ctx)

		current, err = e.store.Get(commitCtx, model.CollectionTasks, id)
		if err != nil {
			lease.Release(commitCtx)
			return err
		}
		view := model.TaskView(current)
		if view.AssignedUser != "" && view.AssignedUser != assignee {
			lease.Release(commitCtx)
			continue
		}

		// 清理先于删除提交
		if err := e.pullPending(commitCtx, view.AssignedUser, id); err != nil {
			lease.Release(commitCtx)
			return err
		}
		err = e.store.Delete(commitCtx, model.CollectionTasks, id)
		lease.Release(commitCtx)
		return err
	}
	return doclock.ErrLockTimeout
}

// commitTaskChange 在租约已持有的前提下提交任务写及补偿写。
// old 为 nil 表示创建。
func (e *Engine) commitTaskChange(ctx context.Context, old *model.Task, id string, doc model.Document) (model.Document, error) {
	newDoc := doc.Clone()
	newDoc.SetID(id)

	// 解析新指派并重算 assignedUserName；空串一律归一为未指派
	assignee := newDoc.String(model.FieldAssignedUser)
	var assigneeDoc model.Document
	if assignee != "" {
		var err error
		assigneeDoc, err = e.store.Get(ctx, model.CollectionUsers, assignee)
		if err == store.ErrNotFound {
			return nil, validate.Errorf("assignedUser %s does not exist", assignee)
		}
		if err != nil {
			return nil, err
		}
		setAssigneeFields(newDoc, assignee, assigneeDoc.String(model.FieldName))
	} else {
		clearAssigneeFields(newDoc)
	}

	newView := model.TaskView(newDoc)
	writes := PlanTaskChange(old, &newView)

	for _, w := range writes {
		if w.Kind != WritePullPending {
			continue
		}
		if err := e.pullPending(ctx, w.UserID, w.TaskID); err != nil {
			return nil, err
		}
	}

	if err := e.store.Put(ctx, model.CollectionTasks, id, newDoc); err != nil {
		return nil, err
	}

	for _, w := range writes {
		if w.Kind != WritePushPending {
			continue
		}
		// 目标用户文档已在上方解析且处于租约保护下
		appendPendingID(assigneeDoc, w.TaskID)
		if err := e.store.Put(ctx, model.CollectionUsers, w.UserID, assigneeDoc); err != nil {
			return nil, err
		}
		recordWrite(WritePushPending)
	}
	return newDoc, nil
}

// pullPending 从用户的 pendingTasks 中移除任务 ID。
// 用户不存在按幂等清理处理，不报错。
func (e *Engine) pullPending(ctx context.Context, userID, taskID string) error {
	if userID == "" {
		return nil
	}
	userDoc, err := e.store.Get(ctx, model.CollectionUsers, userID)
	if err == store.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	removePendingID(userDoc, taskID)
	if err := e.store.Put(ctx, model.CollectionUsers, userID, userDoc); err != nil {
		return err
	}
	recordWrite(WritePullPending)
	return nil
}

// ---------------------------------------------------------------------
// 用户侧
// ---------------------------------------------------------------------

// CreateUser 创建用户；pendingTasks 中的任务被指派给新用户。
//
// 列表中任何不存在的任务 ID 都会使整个创建被拒绝。
func (e *Engine) CreateUser(ctx context.Context, doc model.Document) (model.Document, error) {
	return e.applyUserChange(ctx, store.NewID(), nil, doc)
}

// UpdateUser 整体替换用户并按 pendingTasks 的集合差同步任务。
func (e *Engine) UpdateUser(ctx context.Context, id string, doc model.Document) (model.Document, error) {
	current, err := e.store.Get(ctx, model.CollectionUsers, id)
	if err != nil {
		return nil, err
	}
	return e.applyUserChange(ctx, id, current, doc)
}

// applyUserChange 创建与更新共用的提交路径。oldDoc 为 nil 表示创建。
func (e *Engine) applyUserChange(ctx context.Context, id string, oldDoc model.Document, doc model.Document) (model.Document, error) {
	newPending := dedupe(doc.StringSlice(model.FieldPendingTasks))

	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		var oldView model.User
		if oldDoc != nil {
			oldView = model.UserView(oldDoc)
		}

		// 预读新增任务的当前指派者，纳入锁集合：
		// 从别的用户名下抢走任务时要同时改对方的 pendingTasks
		taskIDs := dedupe(append(append([]string{}, oldView.PendingTasks...), newPending...))
		keys := []doclock.Key{{Collection: model.CollectionUsers, ID: id}}
		for _, taskID := range taskIDs {
			keys = append(keys, doclock.Key{Collection: model.CollectionTasks, ID: taskID})
		}
		owners := make(map[string]bool)
		for _, taskID := range newPending {
			taskDoc, err := e.store.Get(ctx, model.CollectionTasks, taskID)
			if err == store.ErrNotFound {
				continue // 锁内校验时统一拒绝
			}
			if err != nil {
				return nil, err
			}
			owner := model.TaskView(taskDoc).AssignedUser
			if owner != "" && owner != id {
				owners[owner] = true
				keys = append(keys, doclock.Key{Collection: model.CollectionUsers, ID: owner})
			}
		}

		lease, err := e.locks.AcquireAll(ctx, keys...)
		if err != nil {
			return nil, err
		}
		commitCtx := context.WithoutCancel(ctx)

		// 锁内重读
		if oldDoc != nil {
			oldDoc, err = e.store.Get(commitCtx, model.CollectionUsers, id)
			if err != nil {
				lease.Release(commitCtx)
				return nil, err
			}
			oldView = model.UserView(oldDoc)
			// 旧列表漂移出锁集合时重试
			if !subset(oldView.PendingTasks, taskIDs) {
				lease.Release(commitCtx)
				continue
			}
		}

		// 校验阶段：全部新增引用可解析且其当前指派者都在锁内
		taskDocs := make(map[string]model.Document, len(newPending))
		drift := false
		for _, taskID := range newPending {
			taskDoc, err := e.store.Get(commitCtx, model.CollectionTasks, taskID)
			if err == store.ErrNotFound {
				lease.Release(commitCtx)
				return nil, validate.Errorf("pendingTasks references missing task %s", taskID)
			}
			if err != nil {
				lease.Release(commitCtx)
				return nil, err
			}
			owner := model.TaskView(taskDoc).AssignedUser
			if owner != "" && owner != id && !owners[owner] {
				drift = true
				break
			}
			taskDocs[taskID] = taskDoc
		}
		if drift {
			lease.Release(commitCtx)
			e.logger.Debug("task owner drifted before lock, retrying",
				slog.String("user", id), slog.Int("attempt", attempt))
			continue
		}

		updated, err := e.commitUserChange(commitCtx, id, oldView, doc, newPending, taskDocs)
		lease.Release(commitCtx)
		return updated, err
	}
	return nil, doclock.ErrLockTimeout
}

// commitUserChange 校验通过后落盘用户文档与补偿写。
func (e *Engine) commitUserChange(ctx context.Context, id string, oldView model.User, doc model.Document, newPending []string, taskDocs map[string]model.Document) (model.Document, error) {
	newDoc := doc.Clone()
	newDoc.SetID(id)
	userName := newDoc.String(model.FieldName)

	newView := model.User{ID: id, Name: userName, PendingTasks: newPending}
	oldView.ID = id
	writes := PlanUserChange(&oldView, &newView)

	// 移除阶段：被摘除的任务只在仍指向本用户时才解除指派
	for _, w := range writes {
		if w.Kind != WriteClearAssignee {
			continue
		}
		taskDoc, err := e.store.Get(ctx, model.CollectionTasks, w.TaskID)
		if err == store.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if model.TaskView(taskDoc).AssignedUser != id {
			continue // 任务已另投他主，不覆盖
		}
		clearAssigneeFields(taskDoc)
		if err := e.store.Put(ctx, model.CollectionTasks, w.TaskID, taskDoc); err != nil {
			return nil, err
		}
		recordWrite(WriteClearAssignee)
	}

	// 新增任务若此前挂在别的用户名下，先从对方列表摘除
	for _, w := range writes {
		if w.Kind != WriteSetAssignee {
			continue
		}
		prev := model.TaskView(taskDocs[w.TaskID])
		if prev.Pending() && prev.AssignedUser != id {
			if err := e.pullPending(ctx, prev.AssignedUser, w.TaskID); err != nil {
				return nil, err
			}
		}
	}

	// 用户文档：已完成的任务不进入 pendingTasks（归属规则优先）
	stored := make([]string, 0, len(newPending))
	for _, taskID := range newPending {
		if taskDoc, ok := taskDocs[taskID]; ok && model.TaskView(taskDoc).Completed {
			continue
		}
		stored = append(stored, taskID)
	}
	setPendingList(newDoc, stored)
	if err := e.store.Put(ctx, model.CollectionUsers, id, newDoc); err != nil {
		return nil, err
	}

	// 新增阶段：把任务指派给本用户
	for _, w := range writes {
		if w.Kind != WriteSetAssignee {
			continue
		}
		taskDoc := taskDocs[w.TaskID]
		setAssigneeFields(taskDoc, id, userName)
		if err := e.store.Put(ctx, model.CollectionTasks, w.TaskID, taskDoc); err != nil {
			return nil, err
		}
		recordWrite(WriteSetAssignee)
	}
	return newDoc, nil
}

// DeleteUser 删除用户。指派给该用户的任务被置为未指派
// （孤儿化，不级联删除）。
func (e *Engine) DeleteUser(ctx context.Context, id string) error {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		if _, err := e.store.Get(ctx, model.CollectionUsers, id); err != nil {
			return err
		}

		assigned, err := e.tasksAssignedTo(ctx, id)
		if err != nil {
			return err
		}
		keys := []doclock.Key{{Collection: model.CollectionUsers, ID: id}}
		for _, taskID := range assigned {
			keys = append(keys, doclock.Key{Collection: model.CollectionTasks, ID: taskID})
		}

		lease, err := e.locks.AcquireAll(ctx, keys...)
		if err != nil {
			return err
		}
		commitCtx := context.WithoutCancel(ctx)

		if _, err := e.store.Get(commitCtx, model.CollectionUsers, id); err != nil {
			lease.Release(commitCtx)
			return err
		}
		// 锁内复核：加锁前夕新指派给该用户的任务不在锁集合内时重试
		nowAssigned, err := e.tasksAssignedTo(commitCtx, id)
		if err != nil {
			lease.Release(commitCtx)
			return err
		}
		if !subset(nowAssigned, assigned) {
			lease.Release(commitCtx)
			continue
		}

		for _, taskID := range nowAssigned {
			taskDoc, err := e.store.Get(commitCtx, model.CollectionTasks, taskID)
			if err == store.ErrNotFound {
				continue
			}
			if err != nil {
				lease.Release(commitCtx)
				return err
			}
			clearAssigneeFields(taskDoc)
			if err := e.store.Put(commitCtx, model.CollectionTasks, taskID, taskDoc); err != nil {
				lease.Release(commitCtx)
				return err
			}
			recordWrite(WriteClearAssignee)
		}
		err = e.store.Delete(commitCtx, model.CollectionUsers, id)
		lease.Release(commitCtx)
		return err
	}
	return doclock.ErrLockTimeout
}

// tasksAssignedTo 扫描 tasks 集合，返回指派给 userID 的任务 ID。
func (e *Engine) tasksAssignedTo(ctx context.Context, userID string) ([]string, error) {
	entries, err := e.store.Scan(ctx, model.CollectionTasks)
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	var assigned []string
	for _, entry := range entries {
		if model.TaskView(entry.Doc).AssignedUser == userID {
			assigned = append(assigned, entry.ID)
		}
	}
	return assigned, nil
}

// subset 报告 a 的元素是否全部包含于 b。
func subset(a, b []string) bool {
	set := toSet(b)
	for _, id := range a {
		if !set[id] {
			return false
		}
	}
	return true
}
