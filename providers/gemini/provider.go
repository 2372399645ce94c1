package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/crisislens/internal/tlsutil"
	"github.com/BaSui01/crisislens/providers"
	"github.com/BaSui01/crisislens/vlm"
)

// GeminiProvider 实现 Google Gemini 的图像分析 Provider
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. 图像以 inlineData（base64）随提示词一起发送
// 3. 所有上游失败统一映射为 ErrProviderUnavailable
type GeminiProvider struct {
	cfg     providers.GeminiConfig
	client  *http.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewGeminiProvider 创建 Gemini Provider
func NewGeminiProvider(cfg providers.GeminiConfig, logger *zap.Logger) *GeminiProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	// 设置默认 BaseURL
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &GeminiProvider{
		cfg: cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger.With(zap.String("provider", "gemini")),
		limiter: providers.NewLimiter(cfg.MaxQPS),
	}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Describe() vlm.ProviderInfo {
	return vlm.ProviderInfo{
		Name:   "gemini",
		Family: vlm.FamilyGemini,
		Model:  p.model(),
	}
}

// Gemini 消息结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64 encoded
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	ResponseID string            `json:"responseId,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *GeminiProvider) buildHeaders(req *http.Request) {
	// Gemini 使用 x-goog-api-key 认证
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *GeminiProvider) model() string {
	return providers.ChooseModel(p.cfg.Model, "gemini-2.0-flash")
}

// Generate 调用 Gemini generateContent 分析一张图片。
func (p *GeminiProvider) Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*vlm.AnalysisResult, error) {
	if err := providers.WaitLimiter(ctx, p.limiter); err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}

	body := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{InlineData: &geminiInlineData{
					MimeType: providers.DetectImageMIME(image),
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
				{Text: providers.JoinPrompt(prompt, metadataInstructions)},
			},
		}},
	}

	payload, err := providers.EncodeJSON(body)
	if err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		strings.TrimRight(p.cfg.BaseURL, "/"), p.model())

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readGeminiErrMsg(resp.Body)
		return nil, vlm.Unavailable(p.Name(), fmt.Errorf("status=%d msg=%s", resp.StatusCode, msg))
	}

	var geminiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&geminiResp); err != nil {
		return nil, vlm.Unavailable(p.Name(), fmt.Errorf("malformed response: %w", err))
	}

	text := extractText(geminiResp)
	if strings.TrimSpace(text) == "" {
		// 上游健康但没产出文本：返回空 caption 的成功结果，
		// 不可用错误只留给传输/认证/容量失败
		p.logger.Warn("upstream returned no text, returning empty caption")
		return &vlm.AnalysisResult{Provider: p.Name()}, nil
	}

	// 结构化解析尽力而为：失败时原文即 caption
	doc, _ := vlm.ParseDocument(text)
	return &vlm.AnalysisResult{
		Provider: p.Name(),
		Caption:  vlm.CaptionFromDocument(doc, text),
		Document: doc,
		Raw:      text,
	}, nil
}

func extractText(gr geminiResponse) string {
	var sb strings.Builder
	for _, candidate := range gr.Candidates {
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func readGeminiErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	}
	return string(data)
}
