package api

import (
	"context"
	"fmt"

	"github.com/ziyic8/mp3/internal/model"
)

// SeedDemoData 初始化演示数据。
//
// 仅在配置开启 seed_demo 且 users 集合为空时写入：
// 一个演示用户和两条任务，其中一条指派给该用户。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if !s.cfg.App.SeedDemo {
		return nil
	}
	existing, err := s.docs.Scan(ctx, model.CollectionUsers)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	user, err := s.engine.CreateUser(ctx, model.Document{
		model.FieldName:         "Demo User",
		model.FieldEmail:        "demo@example.com",
		model.FieldPendingTasks: []any{},
	})
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}

	_, err = s.engine.CreateTask(ctx, model.Document{
		model.FieldName:        "Try out the API",
		model.FieldDescription: "seeded task",
		model.FieldDeadline:    "2030-01-01T00:00:00.000Z",
		model.FieldCompleted:   false,
	})
	if err != nil {
		return fmt.Errorf("seed task: %w", err)
	}

	_, err = s.engine.CreateTask(ctx, model.Document{
		model.FieldName:         "Assigned demo task",
		model.FieldDescription:  "seeded task",
		model.FieldDeadline:     "2030-01-01T00:00:00.000Z",
		model.FieldCompleted:    false,
		model.FieldAssignedUser: user.ID(),
	})
	if err != nil {
		return fmt.Errorf("seed assigned task: %w", err)
	}
	return nil
}
