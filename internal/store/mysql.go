package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ziyic8/mp3/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// documentRow 是 MySQL 后端的行模型，每行一个文档。
type documentRow struct {
	Collection string `gorm:"primaryKey;type:varchar(64)"`
	DocID      string `gorm:"primaryKey;type:varchar(64);column:doc_id"`
	Body       []byte `gorm:"type:json;not null"`
	UpdatedAt  time.Time
}

func (documentRow) TableName() string { return "documents" }

// MySQLStore 基于 MySQL 的文档存储，可选的持久化后端。
//
// 文档整体存为 JSON 列，按 (collection, doc_id) 主键定位，
// 单行写入天然原子。
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore 创建 MySQL 文档存储并执行自动迁移。
func NewMySQLStore(db *gorm.DB) (*MySQLStore, error) {
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}
	return &MySQLStore{db: db}, nil
}

func (s *MySQLStore) Get(ctx context.Context, collection, id string) (model.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mysql get: %w", err)
	}
	doc, err := model.Decode(row.Body)
	if err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *MySQLStore) Put(ctx context.Context, collection, id string, doc model.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	row := documentRow{Collection: collection, DocID: id, Body: data}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("mysql put: %w", err)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, collection, id string) error {
	res := s.db.WithContext(ctx).
		Where("collection = ? AND doc_id = ?", collection, id).
		Delete(&documentRow{})
	if res.Error != nil {
		return fmt.Errorf("mysql delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLStore) Scan(ctx context.Context, collection string) ([]Entry, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("collection = ?", collection).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("mysql scan: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		doc, err := model.Decode(row.Body)
		if err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", collection, row.DocID, err)
		}
		entries = append(entries, Entry{ID: row.DocID, Doc: doc})
	}
	return entries, nil
}
