package vlm

import (
	"context"
	"time"

	"github.com/BaSui01/crisislens/types"
)

// Provider is the interface every vision-language backend implements.
// A provider takes raw image bytes plus prompt text and returns a
// caption document. Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the unique registry name of this provider (e.g. "gemini").
	Name() string

	// Describe returns static information about the provider.
	Describe() ProviderInfo

	// Generate runs one captioning call against the backend.
	// metadataInstructions carries the category-specific schema guidance that
	// is appended to the prompt. Upstream failures of any kind must be mapped
	// to a *types.Error with code ErrProviderUnavailable.
	Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*AnalysisResult, error)
}

// Provider families. The family groups registry entries that talk to the
// same kind of backend; availability records reference families, not
// individual registry names.
const (
	FamilyStub        = "stub"
	FamilyManual      = "manual"
	FamilyGemini      = "gemini"
	FamilyOpenAI      = "openai"
	FamilyHuggingFace = "huggingface"
)

// ProviderInfo describes a registered provider.
type ProviderInfo struct {
	// Name is the registry name.
	Name string `json:"name"`
	// Family identifies the backend kind (see Family* constants).
	Family string `json:"family"`
	// Model is the upstream model identifier, empty for local providers.
	Model string `json:"model,omitempty"`
}

// CaptionRequest is one captioning job handed to the orchestrator.
type CaptionRequest struct {
	// Image is the raw image payload.
	Image []byte `json:"-"`
	// Prompt is the base captioning prompt.
	Prompt string `json:"prompt"`
	// Category selects the schema family (crisis_map or drone_image).
	Category types.Category `json:"category"`
	// Model optionally names an explicit provider. When the name is not
	// registered, selection falls back to random choice.
	Model string `json:"model,omitempty"`
}

// AnalysisResult is the outcome of a captioning call.
type AnalysisResult struct {
	// Provider is the registry name of the provider that produced the result.
	Provider string `json:"provider"`
	// Caption is the extracted caption text (description field when the
	// upstream returned structured JSON, otherwise the raw text).
	Caption string `json:"caption"`
	// Document is the parsed structured document, nil when the upstream
	// response was not valid JSON.
	Document map[string]any `json:"document,omitempty"`
	// Raw is the unmodified upstream text.
	Raw string `json:"raw,omitempty"`

	// FallbackUsed reports whether the primary selection failed and a
	// fallback provider produced this result.
	FallbackUsed bool `json:"fallback_used,omitempty"`
	// OriginalProvider names the primary selection when FallbackUsed is set.
	OriginalProvider string `json:"original_provider,omitempty"`
	// FallbackReason carries the redacted failure reason of the primary.
	FallbackReason string `json:"fallback_reason,omitempty"`

	// Latency is the duration of the successful provider call.
	Latency time.Duration `json:"-"`
}
