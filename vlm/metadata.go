package vlm

import (
	"strings"

	"github.com/BaSui01/crisislens/types"
)

// AllowedEPSG 元数据里允许出现的坐标系代码。
// 不在列表里的值在清洗阶段会被归一化为 OTHER。
var AllowedEPSG = []string{"4326", "3857", "32617", "32633", "32634", "OTHER"}

// IsAllowedEPSG reports whether code is in the EPSG allow-list.
func IsAllowedEPSG(code string) bool {
	for _, c := range AllowedEPSG {
		if c == code {
			return true
		}
	}
	return false
}

const crisisMapInstructions = `Return a single JSON object with exactly these keys:
  "description": one-paragraph summary of what the map shows,
  "analysis": detailed interpretation of the crisis situation,
  "recommended_actions": concrete response recommendations,
  "metadata": {
    "title": the map title as printed, or "" if absent,
    "source": issuing organization, one of UNOSAT, COPERNICUS, USGS, GOVERNMENT, NGO, OTHER,
    "type": map type, one of FLOOD, FIRE, EARTHQUAKE, STORM, DROUGHT, CONFLICT, DISPLACEMENT, OTHER,
    "countries": ISO country names visible on the map, as a JSON array of strings,
    "epsg": coordinate system EPSG code, one of ` + "4326, 3857, 32617, 32633, 32634" + `, or OTHER
  }
Do not wrap the JSON in Markdown code fences. Use null only where a value is truly unknowable.`

const droneImageInstructions = `Return a single JSON object with exactly these keys:
  "description": one-paragraph summary of the scene,
  "analysis": detailed damage and hazard interpretation,
  "recommended_actions": concrete response recommendations,
  "metadata": {
    "center_lat": latitude of the image centre in decimal degrees [-90, 90] or null,
    "center_lon": longitude of the image centre in decimal degrees [-180, 180] or null,
    "amsl_m": altitude above mean sea level in metres or null,
    "agl_m": altitude above ground level in metres or null,
    "heading_deg": camera heading in degrees [0, 360] or null,
    "yaw_deg": yaw in degrees [-180, 180] or null,
    "pitch_deg": pitch in degrees [-90, 90] or null,
    "roll_deg": roll in degrees [-180, 180] or null,
    "rtk_fix": whether an RTK fix was active, true/false or null,
    "std_h_m": horizontal position standard deviation in metres (>= 0) or null,
    "std_v_m": vertical position standard deviation in metres (>= 0) or null
  }
Do not invent telemetry: use null for every value that is not visible in the image or its overlays.
Do not wrap the JSON in Markdown code fences.`

// MetadataInstructions 返回按类别注入提示词的元数据指令。
// 未知类别返回空串，提示词保持原样。
func MetadataInstructions(category types.Category) string {
	switch category {
	case types.CategoryCrisisMap:
		return crisisMapInstructions
	case types.CategoryDroneImage:
		return droneImageInstructions
	default:
		return ""
	}
}

// BuildPrompt 拼接基础提示词和类别指令。
func BuildPrompt(prompt string, category types.Category) string {
	instr := MetadataInstructions(category)
	if instr == "" {
		return prompt
	}
	if strings.TrimSpace(prompt) == "" {
		return instr
	}
	return prompt + "\n\n" + instr
}
