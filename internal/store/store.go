package store

import (
	"context"
	"errors"

	"github.com/ziyic8/mp3/internal/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound 目标文档不存在。
var ErrNotFound = errors.New("document not found")

// Entry 是 Scan 返回的一条 (id, 文档) 记录。
type Entry struct {
	ID  string
	Doc model.Document
}

// Store 定义文档存储适配器。
//
// 适配器只负责单集合内按 ID 的原子读写，不感知集合间的关系；
// 跨集合一致性由上层的关系引擎保证。
type Store interface {
	// Get 读取文档，不存在返回 ErrNotFound。
	Get(ctx context.Context, collection, id string) (model.Document, error)
	// Put 原子写入（插入或整体替换）文档。
	Put(ctx context.Context, collection, id string, doc model.Document) error
	// Delete 删除文档，不存在返回 ErrNotFound。
	Delete(ctx context.Context, collection, id string) error
	// Scan 返回集合中的全部文档。
	Scan(ctx context.Context, collection string) ([]Entry, error)
}

// NewID 生成一个新的文档 ID（ObjectID 十六进制串）。
//
// 进程生命周期内保证唯一。
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ValidID 报告 id 是否是合法的文档 ID。
//
// 非法 ID 在路由层直接按 404 处理，不会到达存储后端。
func ValidID(id string) bool {
	_, err := primitive.ObjectIDFromHex(id)
	return err == nil
}
