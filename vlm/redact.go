package vlm

import (
	"regexp"
)

// =============================================================================
// 🔒 错误消息脱敏
// =============================================================================
// 上游错误消息可能带有 API 密钥、带凭据的 URL 或本地路径。
// 所有出现在日志、兜底原因或客户端响应里的上游文本都必须先经过 Redact。
// =============================================================================

var redactPatterns = []*regexp.Regexp{
	// 完整 URL：host、userinfo（user:pass@）、路径、查询参数一律不外泄
	regexp.MustCompile(`(?i)\b[a-z][a-z0-9+.\-]*://[^\s"']+`),
	// URL 查询参数里的密钥（非 URL 上下文，如拼接的错误消息）
	regexp.MustCompile(`(?i)([?&](?:key|api_key|apikey|token|access_token)=)[^&\s"']+`),
	// Authorization / x-goog-api-key 头
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)(x-goog-api-key:\s*)\S+`),
	// 常见密钥前缀
	regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{8,}\b`),
	regexp.MustCompile(`\bhf_[A-Za-z0-9]{8,}\b`),
	regexp.MustCompile(`\bAIza[A-Za-z0-9_\-]{10,}\b`),
	// 本地绝对路径（/home/alice/... 之类）
	regexp.MustCompile(`(?:/[\w.\-]+){3,}`),
}

var redactReplacements = []string{
	"[URL]",
	"${1}[REDACTED]",
	"${1}[REDACTED]",
	"${1}[REDACTED]",
	"[REDACTED]",
	"[REDACTED]",
	"[REDACTED]",
	"[PATH]",
}

// Redact 返回去除敏感信息后的文本。
func Redact(s string) string {
	for i, p := range redactPatterns {
		s = p.ReplaceAllString(s, redactReplacements[i])
	}
	return s
}

// RedactError 返回脱敏后的错误文本，nil 错误返回空串。
func RedactError(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}
