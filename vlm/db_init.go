package vlm

import (
	"fmt"

	"gorm.io/gorm"
)

// InitDatabase 初始化 VLM 数据库计划
// 支持: PostgreSQL, MySQL, SQLite
func InitDatabase(db *gorm.DB) error {
	// 自动迁移所有表格
	err := db.AutoMigrate(
		&ModelRecord{},
		&CaptionRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	return nil
}

// SeedModelRecords 种子默认可用性记录。
// 这是可选的，仅用于开发环境；已有数据时不做任何事。
// STUB_MODEL 作为兜底默认行，保证空库也能出结果。
func SeedModelRecords(db *gorm.DB) error {
	// 检查数据是否存在
	var count int64
	db.Model(&ModelRecord{}).Count(&count)
	if count > 0 {
		return nil // Data already seeded
	}

	records := []ModelRecord{
		{MCode: "STUB_MODEL", Label: "Deterministic stub", Family: FamilyStub, IsAvailable: true, IsFallback: true},
		{MCode: "MANUAL_ENTRY", Label: "Manual annotation", Family: FamilyManual, IsAvailable: true},
		{MCode: "GEMINI_FLASH", Label: "Google Gemini Flash", Family: FamilyGemini, ModelID: "gemini-2.0-flash", IsAvailable: true},
		{MCode: "GPT4O_VISION", Label: "OpenAI GPT-4o Vision", Family: FamilyOpenAI, ModelID: "gpt-4o", IsAvailable: true},
		{MCode: "HF_QWEN_VL", Label: "HF Qwen2.5-VL", Family: FamilyHuggingFace, ModelID: "Qwen/Qwen2.5-VL-7B-Instruct", IsAvailable: true},
	}

	for _, r := range records {
		if err := r.Validate(); err != nil {
			return err
		}
		if err := db.Create(&r).Error; err != nil {
			return fmt.Errorf("failed to seed model %s: %w", r.MCode, err)
		}
	}

	return nil
}
