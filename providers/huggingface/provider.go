package huggingface

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

// HuggingFaceProvider 实现 Hugging Face Inference Providers 的图像分析 Provider
// 路由层特点：
// 1. OpenAI 兼容的 chat/completions 协议，走 router.huggingface.co
// 2. 不同后端模型的 content 字段可能是字符串或内容块数组
// 3. 推理型模型可能只填 reasoning_content，content 为空
type HuggingFaceProvider struct {
	cfg     providers.HuggingFaceConfig
	client  *http.Client
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewHuggingFaceProvider 创建 Hugging Face Provider
func NewHuggingFaceProvider(cfg providers.HuggingFaceConfig, logger *zap.Logger) *HuggingFaceProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://router.huggingface.co/v1"
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &HuggingFaceProvider{
		cfg: cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		logger:  logger.With(zap.String("provider", "huggingface")),
		limiter: providers.NewLimiter(cfg.MaxQPS),
	}
}

func (p *HuggingFaceProvider) Name() string { return "huggingface" }

func (p *HuggingFaceProvider) Describe() vlm.ProviderInfo {
	return vlm.ProviderInfo{
		Name:   "huggingface",
		Family: vlm.FamilyHuggingFace,
		Model:  p.model(),
	}
}

type hfContentPart struct {
	Type     string      `json:"type"`
	Text     string      `json:"text,omitempty"`
	ImageURL *hfImageURL `json:"image_url,omitempty"`
}

type hfImageURL struct {
	URL string `json:"url"`
}

type hfMessage struct {
	Role    string          `json:"role"`
	Content []hfContentPart `json:"content"`
}

type hfRequest struct {
	Model    string      `json:"model"`
	Messages []hfMessage `json:"messages"`
}

type hfRespMessage struct {
	// content 可能是字符串，也可能是内容块数组
	Content json.RawMessage `json:"content"`
	// 推理型模型的思考文本
	ReasoningContent string `json:"reasoning_content,omitempty"`
}

type hfChoice struct {
	Message      hfRespMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type hfResponse struct {
	ID      string     `json:"id"`
	Choices []hfChoice `json:"choices"`
}

type hfErrorResp struct {
	Error any `json:"error"`
}

func (p *HuggingFaceProvider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *HuggingFaceProvider) model() string {
	return providers.ChooseModel(p.cfg.Model, "Qwen/Qwen2.5-VL-7B-Instruct")
}

// Generate 调用路由层 chat/completions 分析一张图片。
func (p *HuggingFaceProvider) Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*vlm.AnalysisResult, error) {
	if err := providers.WaitLimiter(ctx, p.limiter); err != nil {
		return nil, vlm.Unavailable(p.Name(), err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s",
		providers.DetectImageMIME(image),
		base64.StdEncoding.EncodeToString(image))

	body := hfRequest{
		Model: p.model(),
		Messages: []hfMessage{{
			Role: "user",
			Content: []hfContentPart{
				{Type: "text", Text: providers.JoinPrompt(prompt, metadataInstructions)},
				{Type: "image_url", ImageURL: &hfImageURL{URL: dataURL}},
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
		msg := readHFErrMsg(resp.Body)
		return nil, vlm.Unavailable(p.Name(), fmt.Errorf("status=%d msg=%s", resp.StatusCode, msg))
	}

	var hfResp hfResponse
	if err := json.NewDecoder(resp.Body).Decode(&hfResp); err != nil {
		return nil, vlm.Unavailable(p.Name(), fmt.Errorf("malformed response: %w", err))
	}

	var text string
	if len(hfResp.Choices) > 0 {
		text = extractContent(hfResp.Choices[0].Message)
	}
	if strings.TrimSpace(text) == "" {
		// 上游健康但没产出文本：返回空 caption 的成功结果，
		// 不可用错误只留给传输/认证/容量失败
		p.logger.Warn("upstream returned no text, returning empty caption")
		return &vlm.AnalysisResult{Provider: p.Name()}, nil
	}

	doc, _ := vlm.ParseDocument(text)
	return &vlm.AnalysisResult{
		Provider: p.Name(),
		Caption:  vlm.CaptionFromDocument(doc, text),
		Document: doc,
		Raw:      text,
	}, nil
}

// extractContent 统一不同后端的 content 形态。
func extractContent(msg hfRespMessage) string {
	if len(msg.Content) > 0 {
		// 字符串形态
		var s string
		if err := json.Unmarshal(msg.Content, &s); err == nil {
			if strings.TrimSpace(s) != "" {
				return s
			}
		} else {
			// 内容块数组形态
			var blocks []hfContentPart
			if err := json.Unmarshal(msg.Content, &blocks); err == nil {
				var sb strings.Builder
				for _, b := range blocks {
					if b.Type == "" || b.Type == "text" {
						sb.WriteString(b.Text)
					}
				}
				if strings.TrimSpace(sb.String()) != "" {
					return sb.String()
				}
			}
		}
	}
	// content 为空时退回推理文本
	return msg.ReasoningContent
}

func readHFErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(body)
	var errResp hfErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error != nil {
		switch e := errResp.Error.(type) {
		case string:
			return e
		case map[string]any:
			if msg, ok := e["message"].(string); ok {
				return msg
			}
		}
	}
	return string(data)
}
