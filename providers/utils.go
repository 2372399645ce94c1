package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/BaSui01/crisislens/internal/pool"
)

// ChooseModel selects the upstream model to use based on priority:
// 1. Config model (if specified in provider configuration)
// 2. Default model (provider-specific default)
func ChooseModel(configModel string, defaultModel string) string {
	if configModel != "" {
		return configModel
	}
	return defaultModel
}

// JoinPrompt appends the category metadata instructions to the base prompt.
func JoinPrompt(prompt, instructions string) string {
	prompt = strings.TrimSpace(prompt)
	instructions = strings.TrimSpace(instructions)
	switch {
	case prompt == "":
		return instructions
	case instructions == "":
		return prompt
	default:
		return prompt + "\n\n" + instructions
	}
}

// DetectImageMIME sniffs the MIME type of an image payload.
// Unrecognized payloads default to image/jpeg rather than failing the call.
func DetectImageMIME(image []byte) string {
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		return "image/jpeg"
	}
	return mime
}

// EncodeJSON 使用池化 buffer 编码请求体。
// 请求体内嵌 base64 图像，动辄数 MB，复用 buffer 避免每次调用都重新分配。
func EncodeJSON(v any) ([]byte, error) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// NewLimiter builds a client-side rate limiter, nil when maxQPS <= 0.
func NewLimiter(maxQPS float64) *rate.Limiter {
	if maxQPS <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(maxQPS), 1)
}

// WaitLimiter blocks until the limiter grants a token.
func WaitLimiter(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}
