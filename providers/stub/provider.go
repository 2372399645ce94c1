package stub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/BaSui01/crisislens/vlm"
)

// StubProvider 是确定性的本地分析 Provider，不访问网络、永不失败。
// 用途：
// 1. 兜底链的最后一环，保证任何请求都能拿到结构合法的结果
// 2. 开发与测试环境里替代真实后端
// 输出由图像内容哈希决定，同一张图永远得到同一份文档。
type StubProvider struct{}

// NewStubProvider 创建 Stub Provider
func NewStubProvider() *StubProvider {
	return &StubProvider{}
}

func (p *StubProvider) Name() string { return "stub" }

func (p *StubProvider) Describe() vlm.ProviderInfo {
	return vlm.ProviderInfo{
		Name:   "stub",
		Family: vlm.FamilyStub,
	}
}

// Generate 构造占位分析文档。
// metadataInstructions 用于区分类别：无人机指令提到 center_lat，
// 危机地图指令提到 countries。
func (p *StubProvider) Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*vlm.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sum := sha256.Sum256(image)
	digest := hex.EncodeToString(sum[:6])
	description := fmt.Sprintf("Automated placeholder analysis for image %s (%d bytes). No model inference was performed.", digest, len(image))

	doc := map[string]any{
		"description":         description,
		"analysis":            "No automated interpretation is available; a human analyst should review this image.",
		"recommended_actions": "Queue the image for manual review.",
		"metadata":            p.metadata(metadataInstructions),
	}

	return &vlm.AnalysisResult{
		Provider: p.Name(),
		Caption:  description,
		Document: doc,
	}, nil
}

func (p *StubProvider) metadata(instructions string) map[string]any {
	if strings.Contains(instructions, "center_lat") {
		// 无人机遥测：未知即 null
		return map[string]any{
			"center_lat":  nil,
			"center_lon":  nil,
			"amsl_m":      nil,
			"agl_m":       nil,
			"heading_deg": nil,
			"yaw_deg":     nil,
			"pitch_deg":   nil,
			"roll_deg":    nil,
			"rtk_fix":     nil,
			"std_h_m":     nil,
			"std_v_m":     nil,
		}
	}
	// 危机地图：清洗默认值
	return map[string]any{
		"title":     "",
		"source":    "OTHER",
		"type":      "OTHER",
		"countries": []string{},
		"epsg":      "OTHER",
	}
}
