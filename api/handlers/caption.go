package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/crisislens/internal/ctxkeys"
	"github.com/BaSui01/crisislens/schema"
	"github.com/BaSui01/crisislens/types"
	"github.com/BaSui01/crisislens/vlm"
)

// =============================================================================
// 🎯 图像分析 Handler
// =============================================================================
// POST /api/v1/captions 是核心端点：
//
//   解码图像 → 编排器选择提供者并兜底 → 文档归一化 + schema 校验 →
//   带标记落库 → 返回规范文档
//
// 校验失败不拒绝请求：文档带 is_valid=false 与诊断返回并落库。
// =============================================================================

// maxCaptionBody 限制请求体大小（base64 图像可能很大）
const maxCaptionBody = 32 << 20 // 32 MB

// ValidationMetrics 记录校验结果指标，由调用方注入（通常是 metrics.Collector）。
type ValidationMetrics interface {
	RecordValidation(category, outcome string, duration time.Duration)
}

// CaptionRequest 图像分析请求体
type CaptionRequest struct {
	// ImageBase64 base64 编码的图像
	ImageBase64 string `json:"image_base64"`
	// Category 图像类别（crisis_map / drone_image）
	Category string `json:"category"`
	// Prompt 附加提示词，可为空
	Prompt string `json:"prompt,omitempty"`
	// Model 显式指定的提供者名称，可为空
	Model string `json:"model,omitempty"`
}

// CaptionResponse 图像分析响应体
type CaptionResponse struct {
	RequestID        string         `json:"request_id,omitempty"`
	Category         string         `json:"category"`
	Provider         string         `json:"provider"`
	Caption          string         `json:"caption,omitempty"`
	Document         map[string]any `json:"document"`
	IsValid          bool           `json:"is_valid"`
	ValidationError  string         `json:"validation_error,omitempty"`
	FallbackUsed     bool           `json:"fallback_used,omitempty"`
	OriginalProvider string         `json:"original_provider,omitempty"`
	FallbackReason   string         `json:"fallback_reason,omitempty"`
	LatencyMS        int64          `json:"latency_ms"`
}

// CaptionHandler 图像分析处理器
type CaptionHandler struct {
	orchestrator *vlm.Orchestrator
	validator    *schema.Validator
	captions     vlm.CaptionStore
	metrics      ValidationMetrics
	logger       *zap.Logger
}

// NewCaptionHandler 创建图像分析处理器。
// captions 与 metrics 可为 nil（不落库 / 不记指标）。
func NewCaptionHandler(
	orchestrator *vlm.Orchestrator,
	validator *schema.Validator,
	captions vlm.CaptionStore,
	metrics ValidationMetrics,
	logger *zap.Logger,
) *CaptionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaptionHandler{
		orchestrator: orchestrator,
		validator:    validator,
		captions:     captions,
		metrics:      metrics,
		logger:       logger.With(zap.String("component", "caption_handler")),
	}
}

// HandleCaption 处理 POST /api/v1/captions
func (h *CaptionHandler) HandleCaption(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrInvalidRequest,
			"method not allowed", h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCaptionBody)
	var req CaptionRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	category, err := types.ParseCategory(req.Category)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			err.Error(), h.logger)
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"image_base64 is not valid base64", h.logger)
		return
	}
	if len(image) == 0 {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"image payload is required", h.logger)
		return
	}

	result, err := h.orchestrator.Caption(r.Context(), &vlm.CaptionRequest{
		Image:    image,
		Prompt:   req.Prompt,
		Category: category,
		Model:    req.Model,
	})
	if err != nil {
		h.writeCaptionError(w, err)
		return
	}

	outcome := h.validate(r.Context(), category, result)

	requestID, _ := ctxkeys.RequestID(r.Context())
	h.persist(r.Context(), requestID, category, result, outcome)

	resp := CaptionResponse{
		RequestID:        requestID,
		Category:         string(category),
		Provider:         result.Provider,
		Caption:          result.Caption,
		Document:         outcome.Document,
		IsValid:          outcome.IsValid,
		ValidationError:  outcome.Error,
		FallbackUsed:     result.FallbackUsed,
		OriginalProvider: result.OriginalProvider,
		FallbackReason:   result.FallbackReason,
		LatencyMS:        result.Latency.Milliseconds(),
	}
	WriteSuccess(w, resp)
}

// validate 归一化并校验提供者输出。schema 层面的硬错误（查不到/编译失败）
// 降级为 is_valid=false 的结果而不是 5xx：分析结果本身仍然有价值。
func (h *CaptionHandler) validate(ctx context.Context, category types.Category, result *vlm.AnalysisResult) *schema.Outcome {
	var raw any
	if result.Document != nil {
		raw = result.Document
	} else {
		raw = result.Raw
	}

	start := time.Now()
	outcome, err := h.validator.CleanAndValidate(ctx, category, raw)
	elapsed := time.Since(start)

	if err != nil {
		h.logger.Warn("schema validation unavailable",
			zap.String("category", string(category)),
			zap.String("reason", vlm.RedactError(err)),
		)
		if h.metrics != nil {
			h.metrics.RecordValidation(string(category), "error", elapsed)
		}
		return &schema.Outcome{
			Document: schema.Normalize(raw),
			IsValid:  false,
			Error:    "schema unavailable: " + vlm.RedactError(err),
		}
	}

	if h.metrics != nil {
		outcomeLabel := "invalid"
		if outcome.IsValid {
			outcomeLabel = "valid"
		}
		h.metrics.RecordValidation(string(category), outcomeLabel, elapsed)
	}
	return outcome
}

// persist 落库，失败只记日志不影响响应。
func (h *CaptionHandler) persist(ctx context.Context, requestID string, category types.Category, result *vlm.AnalysisResult, outcome *schema.Outcome) {
	if h.captions == nil {
		return
	}

	doc, err := json.Marshal(outcome.Document)
	if err != nil {
		h.logger.Warn("caption document not serializable", zap.Error(err))
		return
	}

	record := &vlm.CaptionRecord{
		RequestID:    requestID,
		Category:     string(category),
		Provider:     result.Provider,
		Document:     string(doc),
		SchemaValid:  outcome.IsValid,
		FallbackUsed: result.FallbackUsed,
	}
	if err := h.captions.Save(ctx, record); err != nil {
		h.logger.Warn("caption persistence failed",
			zap.String("request_id", requestID),
			zap.String("reason", vlm.RedactError(err)),
		)
	}
}

// writeCaptionError 输出编排器错误，保留结构化错误码。
func (h *CaptionHandler) writeCaptionError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUpstreamError,
		vlm.RedactError(err), h.logger)
}

// HandleRecent 处理 GET /api/v1/captions，返回最近的分析记录。
func (h *CaptionHandler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	if h.captions == nil {
		WriteSuccess(w, []vlm.CaptionRecord{})
		return
	}

	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 200 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
				"limit must be an integer between 1 and 200", h.logger)
			return
		}
		limit = n
	}

	records, err := h.captions.Recent(r.Context(), limit)
	if err != nil {
		WriteErrorMessage(w, http.StatusInternalServerError, types.ErrUpstreamError,
			"failed to list captions", h.logger)
		return
	}
	WriteSuccess(w, records)
}
