package schema

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/types"
)

// CrisisMapSchema 构造危机地图类别的 schema。
// 元数据子字段全部必填，但允许 null——清洗阶段会把 null 归一化为默认值。
func CrisisMapSchema() *types.JSONSchema {
	meta := types.NewObjectSchema().
		AddProperty("title", types.NewStringSchema().Nullable()).
		AddProperty("source", types.NewStringSchema().Nullable()).
		AddProperty("type", types.NewStringSchema().Nullable()).
		AddProperty("countries", types.NewArraySchema(types.NewStringSchema()).Nullable()).
		AddProperty("epsg", types.NewStringSchema().Nullable()).
		AddRequired("title", "source", "type", "countries", "epsg")

	doc := types.NewObjectSchema().
		AddProperty("description", types.NewStringSchema()).
		AddProperty("analysis", types.NewStringSchema()).
		AddProperty("recommended_actions", types.NewStringSchema()).
		AddProperty("metadata", meta).
		AddRequired("description", "analysis", "recommended_actions", "metadata")
	doc.Title = "Crisis map analysis"
	return doc
}

// DroneImageSchema 构造无人机影像类别的 schema。
// 遥测字段全部可空、不必填：部分遥测是常态，伪造默认值会歪曲传感器数据。
func DroneImageSchema() *types.JSONSchema {
	meta := types.NewObjectSchema().
		AddProperty("center_lat", types.NewNumberSchema().WithRange(-90, 90).Nullable()).
		AddProperty("center_lon", types.NewNumberSchema().WithRange(-180, 180).Nullable()).
		AddProperty("amsl_m", types.NewNumberSchema().Nullable()).
		AddProperty("agl_m", types.NewNumberSchema().Nullable()).
		AddProperty("heading_deg", types.NewNumberSchema().WithRange(0, 360).Nullable()).
		AddProperty("yaw_deg", types.NewNumberSchema().WithRange(-180, 180).Nullable()).
		AddProperty("pitch_deg", types.NewNumberSchema().WithRange(-90, 90).Nullable()).
		AddProperty("roll_deg", types.NewNumberSchema().WithRange(-180, 180).Nullable()).
		AddProperty("rtk_fix", types.NewBooleanSchema().Nullable()).
		AddProperty("std_h_m", types.NewNumberSchema().WithMinimum(0).Nullable()).
		AddProperty("std_v_m", types.NewNumberSchema().WithMinimum(0).Nullable())

	doc := types.NewObjectSchema().
		AddProperty("description", types.NewStringSchema()).
		AddProperty("analysis", types.NewStringSchema()).
		AddProperty("recommended_actions", types.NewStringSchema()).
		AddProperty("metadata", meta).
		AddRequired("description", "analysis", "recommended_actions", "metadata")
	doc.Title = "Drone image analysis"
	return doc
}

// builtinSchemas 每个类别的内置 schema。
func builtinSchemas() map[types.Category]*types.JSONSchema {
	return map[types.Category]*types.JSONSchema{
		types.CategoryCrisisMap:  CrisisMapSchema(),
		types.CategoryDroneImage: DroneImageSchema(),
	}
}

// InitDatabase 初始化 schema 表。
func InitDatabase(db *gorm.DB) error {
	if err := db.AutoMigrate(&SchemaRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// SeedSchemas 种子内置 schema，已有数据时不做任何事。
func SeedSchemas(db *gorm.DB) error {
	var count int64
	db.Model(&SchemaRecord{}).Count(&count)
	if count > 0 {
		return nil // Data already seeded
	}

	for category, s := range builtinSchemas() {
		raw, err := s.ToJSON()
		if err != nil {
			return fmt.Errorf("failed to serialize %s schema: %w", category, err)
		}
		record := SchemaRecord{
			SchemaID:  fmt.Sprintf("%s_v1", category),
			ImageType: string(category),
			Title:     s.Title,
			Version:   1,
			Schema:    string(raw),
		}
		if err := db.Create(&record).Error; err != nil {
			return fmt.Errorf("failed to seed schema %s: %w", record.SchemaID, err)
		}
	}
	return nil
}
