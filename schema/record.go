package schema

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/types"
)

// SchemaRecord 是 json_schemas 表的一行：某个图像类别的一个 schema 版本。
type SchemaRecord struct {
	// SchemaID 唯一标识（如 crisis_map_v2）
	SchemaID string `gorm:"column:schema_id;primaryKey;size:64" json:"schema_id"`
	// ImageType 图像类别
	ImageType string `gorm:"column:image_type;size:32;index" json:"image_type"`
	// Title 人类可读标题
	Title string `gorm:"column:title;size:128" json:"title"`
	// Version 单调递增版本号，同类别取最大
	Version int `gorm:"column:version" json:"version"`
	// Schema JSON Schema 文档（JSON 文本）
	Schema string `gorm:"column:schema;type:text" json:"schema"`
}

// TableName 指定表名
func (SchemaRecord) TableName() string {
	return "json_schemas"
}

// Store 读取 schema 记录。
type Store interface {
	// Latest 返回某类别版本号最大的记录，不存在时返回 gorm.ErrRecordNotFound。
	Latest(ctx context.Context, category types.Category) (*SchemaRecord, error)
}

// GormStore 基于 GORM 的 Store 实现。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Latest 实现 Store
func (s *GormStore) Latest(ctx context.Context, category types.Category) (*SchemaRecord, error) {
	var record SchemaRecord
	err := s.db.WithContext(ctx).
		Where("image_type = ?", string(category)).
		Order("version DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert 写入一个 schema 版本（管理工具用）。
func (s *GormStore) Upsert(ctx context.Context, record *SchemaRecord) error {
	if record.SchemaID == "" || record.ImageType == "" {
		return fmt.Errorf("schema_id and image_type are required")
	}
	return s.db.WithContext(ctx).Save(record).Error
}
