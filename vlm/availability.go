package vlm

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// =============================================================================
// 💾 模型可用性记录
// =============================================================================
// models 表记录每个后端家族的运维可用状态。编排器在随机选择时查询此表，
// 查询失败时降级为本地注册表提示（不阻塞请求）。
//
// 约束: is_fallback=true 的行必须 is_available=true
// =============================================================================

// ModelRecord 是 models 表的一行，描述一个后端家族的可用性。
type ModelRecord struct {
	// MCode 唯一模型代码（如 GEMINI_FLASH, STUB_MODEL）
	MCode string `gorm:"column:m_code;primaryKey;size:64" json:"m_code"`
	// Label 人类可读名称
	Label string `gorm:"column:label;size:128" json:"label"`
	// Family 对应的提供者家族（stub/manual/gemini/openai/huggingface）
	Family string `gorm:"column:provider;size:32;index" json:"provider"`
	// ModelID 上游模型标识
	ModelID string `gorm:"column:model_id;size:128" json:"model_id"`
	// IsAvailable 运维开关：false 的家族不参与随机选择
	IsAvailable bool `gorm:"column:is_available;index" json:"is_available"`
	// IsFallback 标记兜底默认行（全局最多一行有意义）
	IsFallback bool `gorm:"column:is_fallback" json:"is_fallback"`
	// Config 后端附加配置（JSON 文本）
	Config string `gorm:"column:config;type:text" json:"config,omitempty"`
}

// TableName 指定表名
func (ModelRecord) TableName() string {
	return "models"
}

// Validate 检查记录约束
func (m *ModelRecord) Validate() error {
	if m.MCode == "" {
		return fmt.Errorf("m_code is required")
	}
	if m.Family == "" {
		return fmt.Errorf("provider family is required for %s", m.MCode)
	}
	// 兜底模型必须可用，否则兜底本身就是死路
	if m.IsFallback && !m.IsAvailable {
		return fmt.Errorf("model %s: fallback model must be available", m.MCode)
	}
	return nil
}

// AvailabilityStore 查询可用性记录。
type AvailabilityStore interface {
	// Available 返回 is_available=true 的所有记录。
	Available(ctx context.Context) ([]ModelRecord, error)
	// FallbackDefault 返回 is_fallback=true 的记录，不存在时返回 (nil, nil)。
	FallbackDefault(ctx context.Context) (*ModelRecord, error)
}

// GormAvailabilityStore 基于 GORM 的 AvailabilityStore 实现。
type GormAvailabilityStore struct {
	db *gorm.DB
}

// NewGormAvailabilityStore 创建存储
func NewGormAvailabilityStore(db *gorm.DB) *GormAvailabilityStore {
	return &GormAvailabilityStore{db: db}
}

// Available 实现 AvailabilityStore
func (s *GormAvailabilityStore) Available(ctx context.Context) ([]ModelRecord, error) {
	var records []ModelRecord
	err := s.db.WithContext(ctx).
		Where("is_available = ?", true).
		Order("m_code").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query available models: %w", err)
	}
	return records, nil
}

// FallbackDefault 实现 AvailabilityStore
func (s *GormAvailabilityStore) FallbackDefault(ctx context.Context) (*ModelRecord, error) {
	var record ModelRecord
	err := s.db.WithContext(ctx).
		Where("is_fallback = ?", true).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query fallback model: %w", err)
	}
	return &record, nil
}

// All 返回全部可用性记录（管理端点用）。
func (s *GormAvailabilityStore) All(ctx context.Context) ([]ModelRecord, error) {
	var records []ModelRecord
	err := s.db.WithContext(ctx).Order("m_code").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return records, nil
}

// Upsert 写入或更新一条可用性记录（管理工具用）。
func (s *GormAvailabilityStore) Upsert(ctx context.Context, record *ModelRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(record).Error
}
