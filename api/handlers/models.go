package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/crisislens/types"
	"github.com/BaSui01/crisislens/vlm"
)

// =============================================================================
// 💾 模型可用性管理 Handler
// =============================================================================

// ModelsHandler 模型可用性处理器：查询注册表与 models 表，
// 运维通过 PUT 翻转 is_available 开关而无需重启服务。
type ModelsHandler struct {
	registry *vlm.Registry
	store    *vlm.GormAvailabilityStore
	logger   *zap.Logger
}

// NewModelsHandler 创建模型管理处理器。store 可为 nil（只读注册表）。
func NewModelsHandler(registry *vlm.Registry, store *vlm.GormAvailabilityStore, logger *zap.Logger) *ModelsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelsHandler{
		registry: registry,
		store:    store,
		logger:   logger.With(zap.String("component", "models_handler")),
	}
}

// ModelsResponse GET /api/v1/models 响应体
type ModelsResponse struct {
	// Providers 进程内注册的提供者（注册顺序即兜底顺序）
	Providers []vlm.ProviderInfo `json:"providers"`
	// Records models 表中的可用性记录
	Records []vlm.ModelRecord `json:"records"`
}

// HandleList 处理 GET /api/v1/models
func (h *ModelsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	resp := ModelsResponse{
		Providers: h.registry.Describe(),
		Records:   []vlm.ModelRecord{},
	}

	if h.store != nil {
		records, err := h.store.All(r.Context())
		if err != nil {
			WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUpstreamError,
				"failed to list model records", h.logger)
			return
		}
		resp.Records = records
	}

	WriteSuccess(w, resp)
}

// HandleUpsert 处理 PUT /api/v1/models
func (h *ModelsHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrUpstreamError,
			"model store not configured", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var record vlm.ModelRecord
	if err := DecodeJSONBody(w, r, &record, h.logger); err != nil {
		return
	}

	if err := record.Validate(); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			err.Error(), h.logger)
		return
	}

	if err := h.store.Upsert(r.Context(), &record); err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUpstreamError,
			"failed to save model record", h.logger)
		return
	}

	h.logger.Info("model record updated",
		zap.String("m_code", record.MCode),
		zap.String("family", record.Family),
		zap.Bool("is_available", record.IsAvailable),
		zap.Bool("is_fallback", record.IsFallback),
	)
	WriteSuccess(w, record)
}
