package openai

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

// OpenAIProvider 实现 OpenAI GPT-4o Vision 的图像分析 Provider
// OpenAI API 特点：
// 1. Bearer Token 认证
// 2. 图像以 data URL 形式嵌入 chat/completions 消息
// 3. 所有上游失败统一映射为 ErrProviderUnavailable
type OpenAIProvider struct {
	cfg     providers.OpenAIConfig
	client  *http.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewOpenAIProvider 创建 OpenAI Provider
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &OpenAIProvider{
		cfg: cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger.With(zap.String("provider", "openai")),
		limiter: providers.NewLimiter(cfg.MaxQPS),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Describe() vlm.ProviderInfo {
	return vlm.ProviderInfo{
		Name:   "openai",
		Family: vlm.FamilyOpenAI,
		Model:  p.model(),
	}
}

type oaiContentPart struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *oaiImageURL `json:"image_url,omitempty"`
}

type oaiImageURL struct {
	URL string `json:"url"`
}

type oaiMessage struct {
	Role    string           `json:"role"`
	Content []oaiContentPart `json:"content"`
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason,omitempty"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Choices []oaiChoice `json:"choices"`
}

type oaiErrorResp struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *OpenAIProvider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}
}

func (p *OpenAIProvider) model() string {
	return providers.ChooseModel(p.cfg.Model, "gpt-4o")
}

// Generate 调用 chat/completions 分析一张图片。
func (p *OpenAIProvider) Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*vlm.AnalysisResult, error) {
	if err := providers.WaitLimiter(ctx, p.limiter); err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s",
		providers.DetectImageMIME(image),
		base64.StdEncoding.EncodeToString(image))

	body := oaiRequest{
		Model: p.model(),
		Messages: []oaiMessage{{
			Role: "user",
			Content: []oaiContentPart{
				{Type: "text", Text: providers.JoinPrompt(prompt, metadataInstructions)},
				{Type: "image_url", ImageURL: &oaiImageURL{URL: dataURL}},
			},
		}},
	}

	payload, err := providers.EncodeJSON(body)
	if err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/completions"

	httpReq, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := readOpenAIErrMsg(resp.Body)
		return nil, vlm.Unavailable(p.Name(), fmt.Errorf("status=%d msg=%s", resp.StatusCode, msg))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, vlm.Unavailable(p.Name(), fmt.Errorf("malformed response: %w", err))
	}

	if len(oaiResp.Choices) == 0 || strings.TrimSpace(oaiResp.Choices[0].Message.Content) == "" {
		// 上游健康但没产出文本：返回空 caption 的成功结果，
		// 不可用错误只留给传输/认证/容量失败
		p.logger.Warn("upstream returned no text, returning empty caption")
		return &vlm.AnalysisResult{Provider: p.Name()}, nil
	}

	text := oaiResp.Choices[0].Message.Content
	doc, _ := vlm.ParseDocument(text)
	return &vlm.AnalysisResult{
		Provider: p.Name(),
		Caption:  vlm.CaptionFromDocument(doc, text),
		Document: doc,
		Raw:      text,
	}, nil
}

func readOpenAIErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp oaiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}
