// =============================================================================
// 🎯 文档校验与清洗
// =============================================================================
// 把各后端五花八门的输出归一化为规范文档
// {description, analysis, recommended_actions, metadata}，
// 按类别 schema 校验（收集全部违规，不止第一条），
// 校验通过后做类别化清洗。
//
// 校验失败是数据不是异常：返回原始文档 + isValid=false + 诊断文本，
// 由调用方决定带标记落库还是拒绝。
// =============================================================================
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/BaSui01/crisislens/types"
	"github.com/BaSui01/crisislens/vlm"
)

// Outcome 是一次校验清洗的结果。
type Outcome struct {
	// Document 校验通过时是清洗后的文档，失败时是未清洗的原文档
	Document map[string]any `json:"document"`
	// IsValid 是否通过类别 schema 校验
	IsValid bool `json:"is_valid"`
	// Error 拼接的违规诊断（带字段路径），通过时为空
	Error string `json:"error,omitempty"`
}

// Validator 按类别 schema 校验并清洗规范文档。
type Validator struct {
	registry *Registry
	logger   *zap.Logger
}

// NewValidator 创建校验器
func NewValidator(registry *Registry, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		registry: registry,
		logger:   logger.With(zap.String("component", "schema_validator")),
	}
}

// CleanAndValidate 归一化、校验并清洗一份原始输出。
// raw 可以是已解析的对象、JSON 字符串（可能带 Markdown 代码围栏）或纯文本。
// schema 查不到时返回硬错误；校验失败不是错误，体现在 Outcome 里。
func (v *Validator) CleanAndValidate(ctx context.Context, category types.Category, raw any) (*Outcome, error) {
	doc := Normalize(raw)

	compiled, err := v.registry.Get(ctx, category)
	if err != nil {
		return nil, err
	}

	if msgs := violations(compiled, doc); len(msgs) > 0 {
		v.logger.Info("document failed schema validation",
			zap.String("category", string(category)),
			zap.Int("violations", len(msgs)),
		)
		return &Outcome{
			Document: doc,
			IsValid:  false,
			Error:    strings.Join(msgs, "; "),
		}, nil
	}

	return &Outcome{
		Document: Clean(category, doc),
		IsValid:  true,
	}, nil
}

var narrativeKeys = []string{"description", "analysis", "recommended_actions"}

// Normalize 把任意原始输出整形为规范文档骨架。
// 解析失败不报错：原文进 analysis 字段。
func Normalize(raw any) map[string]any {
	switch t := raw.(type) {
	case map[string]any:
		return canonicalize(unwrap(t))
	case string:
		return canonicalize(parseLoose(t))
	case nil:
		return canonicalize(nil)
	default:
		// 非常规输入兜底为字符串处理
		data, err := json.Marshal(t)
		if err != nil {
			return canonicalize(nil)
		}
		return canonicalize(parseLoose(string(data)))
	}
}

// parseLoose 尝试把文本解析为对象，失败时合成文档。
func parseLoose(s string) map[string]any {
	stripped := vlm.StripJSONFence(s)
	if doc, ok := vlm.ParseDocument(stripped); ok {
		return unwrap(doc)
	}
	if strings.TrimSpace(stripped) == "" {
		return nil
	}
	return map[string]any{
		"description":         "",
		"analysis":            stripped,
		"recommended_actions": "",
		"metadata":            map[string]any{},
	}
}

// unwrap 解开一层 response/content 信封。
func unwrap(obj map[string]any) map[string]any {
	for _, key := range []string{"response", "content"} {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		switch t := inner.(type) {
		case map[string]any:
			return t
		case string:
			return parseLoose(t)
		}
	}
	return obj
}

// canonicalize 保证四个规范键都存在：
// 完整形态原样保留，遗留两字段形态（analysis + metadata）补空迁移。
func canonicalize(obj map[string]any) map[string]any {
	out := map[string]any{
		"description":         "",
		"analysis":            "",
		"recommended_actions": "",
		"metadata":            map[string]any{},
	}
	if obj == nil {
		return out
	}
	for _, key := range narrativeKeys {
		if v, ok := obj[key]; ok {
			out[key] = v
		}
	}
	if m, ok := obj["metadata"]; ok {
		out["metadata"] = m
	}
	return out
}

// violations 校验文档并收集全部带路径的违规消息。
func violations(compiled *Compiled, doc map[string]any) []string {
	data, err := json.Marshal(doc)
	if err != nil {
		return []string{"document is not serializable: " + err.Error()}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{"document is not valid JSON: " + err.Error()}
	}

	err = compiled.Schema.Validate(inst)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}

	var msgs []string
	for _, unit := range ve.BasicOutput().Errors {
		if unit.Error == nil {
			continue
		}
		m, merr := json.Marshal(unit.Error)
		if merr != nil {
			continue
		}
		msg := strings.Trim(string(m), `"`)
		loc := unit.InstanceLocation
		if loc == "" {
			loc = "$"
		}
		msgs = append(msgs, loc+": "+msg)
	}
	if len(msgs) == 0 {
		msgs = append(msgs, ve.Error())
	}
	return msgs
}

var crisisEnumKeys = []string{"source", "type"}
var droneMetaKeys = []string{
	"center_lat", "center_lon", "amsl_m", "agl_m",
	"heading_deg", "yaw_deg", "pitch_deg", "roll_deg",
	"rtk_fix", "std_h_m", "std_v_m",
}

// Clean 对已通过校验的文档应用类别化默认值。对已清洗的文档幂等。
func Clean(category types.Category, doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	meta, _ := doc["metadata"].(map[string]any)
	cleanedMeta := make(map[string]any, len(meta))
	for k, v := range meta {
		cleanedMeta[k] = v
	}

	switch category {
	case types.CategoryCrisisMap:
		cleanCrisisMeta(cleanedMeta)
	case types.CategoryDroneImage:
		cleanDroneMeta(cleanedMeta)
	}

	out["metadata"] = cleanedMeta
	return out
}

// cleanCrisisMeta 地图类别：未知即 OTHER，标题空串，国家空数组。
func cleanCrisisMeta(meta map[string]any) {
	if s, ok := meta["title"].(string); ok {
		meta["title"] = s
	} else {
		meta["title"] = ""
	}

	for _, key := range crisisEnumKeys {
		s, ok := meta[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			meta[key] = "OTHER"
		}
	}

	if _, ok := meta["countries"].([]any); !ok {
		meta["countries"] = []any{}
	}

	epsg := stringifyEPSG(meta["epsg"])
	if !vlm.IsAllowedEPSG(epsg) {
		epsg = "OTHER"
	}
	meta["epsg"] = epsg
}

// cleanDroneMeta 无人机类别：缺失即显式 null，绝不伪造遥测。
func cleanDroneMeta(meta map[string]any) {
	for _, key := range droneMetaKeys {
		if _, ok := meta[key]; !ok {
			meta[key] = nil
		}
	}
}

// stringifyEPSG 把数字形态的 EPSG 代码归一化为字符串。
func stringifyEPSG(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.Itoa(int(t))
	case int:
		return strconv.Itoa(t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
