package vlm

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CaptionRecord 是 captions 表的一行，持久化一次成功的图像分析结果。
type CaptionRecord struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	// RequestID 请求追踪标识
	RequestID string `gorm:"column:request_id;size:64;index" json:"request_id"`
	// Category 图像类别（crisis_map / drone_image）
	Category string `gorm:"column:category;size:32;index" json:"category"`
	// Provider 产生结果的提供者
	Provider string `gorm:"column:provider;size:64" json:"provider"`
	// Document 规范化后的文档（JSON 文本）
	Document string `gorm:"column:document;type:text" json:"document"`
	// SchemaValid 文档是否通过了类别 schema 校验
	SchemaValid bool `gorm:"column:schema_valid" json:"schema_valid"`
	// FallbackUsed 是否经过兜底链
	FallbackUsed bool `gorm:"column:fallback_used" json:"fallback_used"`
	// CreatedAt 创建时间
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName 指定表名
func (CaptionRecord) TableName() string {
	return "captions"
}

// CaptionStore 持久化分析结果。
type CaptionStore interface {
	Save(ctx context.Context, record *CaptionRecord) error
	// Recent 返回最近 limit 条记录，按创建时间倒序。
	Recent(ctx context.Context, limit int) ([]CaptionRecord, error)
}

// GormCaptionStore 基于 GORM 的 CaptionStore 实现。
type GormCaptionStore struct {
	db *gorm.DB
}

// NewGormCaptionStore 创建存储
func NewGormCaptionStore(db *gorm.DB) *GormCaptionStore {
	return &GormCaptionStore{db: db}
}

// Save 实现 CaptionStore
func (s *GormCaptionStore) Save(ctx context.Context, record *CaptionRecord) error {
	return s.db.WithContext(ctx).Create(record).Error
}

// Recent 实现 CaptionStore
func (s *GormCaptionStore) Recent(ctx context.Context, limit int) ([]CaptionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []CaptionRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
