package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/schema"
	"github.com/BaSui01/crisislens/types"
)

// =============================================================================
// 💾 Schema 管理 Handler
// =============================================================================
// GET/PUT /api/v1/schemas/{category}：按类别读取或发布校验 schema。
// PUT 先编译检查再写库，成功后使缓存失效，下一次校验即用新版本。
// =============================================================================

// SchemasHandler schema 管理处理器
type SchemasHandler struct {
	store    *schema.GormStore
	registry *schema.Registry
	logger   *zap.Logger
}

// NewSchemasHandler 创建 schema 管理处理器
func NewSchemasHandler(store *schema.GormStore, registry *schema.Registry, logger *zap.Logger) *SchemasHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemasHandler{
		store:    store,
		registry: registry,
		logger:   logger.With(zap.String("component", "schemas_handler")),
	}
}

// SchemaUpsertRequest PUT /api/v1/schemas/{category} 请求体
type SchemaUpsertRequest struct {
	// SchemaID 唯一标识，如 crisis_map_v3
	SchemaID string `json:"schema_id"`
	// Title 人类可读标题
	Title string `json:"title,omitempty"`
	// Version 单调递增版本号，同类别取最大生效
	Version int `json:"version"`
	// Schema JSON Schema 文档文本
	Schema string `json:"schema"`
}

// HandleGet 处理 GET /api/v1/schemas/{category}
func (h *SchemasHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	category, ok := h.parseCategory(w, r)
	if !ok {
		return
	}

	record, err := h.store.Latest(r.Context(), category)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrSchemaNotFound,
				"no schema registered for category "+string(category), h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUpstreamError,
			"schema lookup failed", h.logger)
		return
	}

	WriteSuccess(w, record)
}

// HandleUpsert 处理 PUT /api/v1/schemas/{category}
func (h *SchemasHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	category, ok := h.parseCategory(w, r)
	if !ok {
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req SchemaUpsertRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.SchemaID == "" || req.Schema == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"schema_id and schema are required", h.logger)
		return
	}
	if req.Version <= 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"version must be positive", h.logger)
		return
	}

	// 入库前先编译，不让不可用的 schema 污染校验管线
	if _, err := schema.CompileSchema(category, req.SchemaID, req.Schema); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrSchemaInvalid,
			"schema does not compile: "+err.Error(), h.logger)
		return
	}

	record := &schema.SchemaRecord{
		SchemaID:  req.SchemaID,
		ImageType: string(category),
		Title:     req.Title,
		Version:   req.Version,
		Schema:    req.Schema,
	}
	if err := h.store.Upsert(r.Context(), record); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUpstreamError,
			"failed to save schema", h.logger)
		return
	}

	if h.registry != nil {
		h.registry.Invalidate(r.Context(), category)
	}

	h.logger.Info("schema published",
		zap.String("schema_id", record.SchemaID),
		zap.String("category", string(category)),
		zap.Int("version", record.Version),
	)
	WriteSuccess(w, record)
}

// parseCategory 解析路径中的 {category}，非法类别直接响应 400。
func (h *SchemasHandler) parseCategory(w http.ResponseWriter, r *http.Request) (types.Category, bool) {
	category, err := types.ParseCategory(r.PathValue("category"))
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			err.Error(), h.logger)
		return "", false
	}
	return category, true
}
