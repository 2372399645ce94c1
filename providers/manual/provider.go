package manual

import (
	"context"

	"github.com/BaSui01/crisislens/vlm"
)

// ManualProvider 为人工标注流程生成空白文档骨架。
// 编排器永远不会随机选中它，只有请求显式指定时才会执行；
// 返回的文档各字段留空，等待分析员填写。
type ManualProvider struct{}

// NewManualProvider 创建 Manual Provider
func NewManualProvider() *ManualProvider {
	return &ManualProvider{}
}

func (p *ManualProvider) Name() string { return "manual" }

func (p *ManualProvider) Describe() vlm.ProviderInfo {
	return vlm.ProviderInfo{
		Name:   "manual",
		Family: vlm.FamilyManual,
	}
}

// Generate 返回空白文档，永不失败。
func (p *ManualProvider) Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*vlm.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := map[string]any{
		"description":         "",
		"analysis":            "",
		"recommended_actions": "",
		"metadata":            map[string]any{},
	}

	return &vlm.AnalysisResult{
		Provider: p.Name(),
		Caption:  "",
		Document: doc,
	}, nil
}
