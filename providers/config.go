package providers

import "time"

// GeminiConfig Gemini Provider 配置
type GeminiConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MaxQPS 客户端限速，0 表示不限速
	MaxQPS float64 `json:"max_qps,omitempty" yaml:"max_qps,omitempty"`
}

// OpenAIConfig OpenAI (GPT-4o Vision) Provider 配置
type OpenAIConfig struct {
	APIKey       string        `json:"api_key" yaml:"api_key"`
	BaseURL      string        `json:"base_url" yaml:"base_url"`
	Organization string        `json:"organization,omitempty" yaml:"organization,omitempty"`
	Model        string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MaxQPS 客户端限速，0 表示不限速
	MaxQPS float64 `json:"max_qps,omitempty" yaml:"max_qps,omitempty"`
}

// HuggingFaceConfig Hugging Face Inference Providers 配置
type HuggingFaceConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MaxQPS 客户端限速，0 表示不限速
	MaxQPS float64 `json:"max_qps,omitempty" yaml:"max_qps,omitempty"`
}
