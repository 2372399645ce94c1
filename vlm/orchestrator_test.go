package vlm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/crisislens/types"
)

type fakeStore struct {
	records     []ModelRecord
	fallback    *ModelRecord
	err         error
	fallbackErr error
}

func (s *fakeStore) Available(ctx context.Context) ([]ModelRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func (s *fakeStore) FallbackDefault(ctx context.Context) (*ModelRecord, error) {
	if s.fallbackErr != nil {
		return nil, s.fallbackErr
	}
	return s.fallback, nil
}

func allAvailable(families ...string) *fakeStore {
	s := &fakeStore{}
	for _, f := range families {
		s.records = append(s.records, ModelRecord{MCode: f, Family: f, IsAvailable: true})
	}
	return s
}

func newTestRequest(model string) *CaptionRequest {
	return &CaptionRequest{
		Image:    []byte{0xff, 0xd8, 0xff},
		Prompt:   "Describe this image.",
		Category: types.CategoryCrisisMap,
		Model:    model,
	}
}

func TestCaptionExplicitProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})
	r.Register(&fakeProvider{name: "openai", family: FamilyOpenAI})

	o := NewOrchestrator(r, allAvailable(FamilyGemini, FamilyOpenAI), OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest("openai"))
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
	assert.False(t, result.FallbackUsed)
	assert.Empty(t, result.OriginalProvider)
}

func TestCaptionExplicitMissFallsBackToRandom(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})

	o := NewOrchestrator(r, allAvailable(FamilyGemini), OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest("no-such-model"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", result.Provider)
	// selection degraded but the call itself is still the primary
	assert.False(t, result.FallbackUsed)
}

func TestCaptionManualNeverRandom(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "manual", family: FamilyManual})
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})

	o := NewOrchestrator(r, allAvailable(FamilyManual, FamilyGemini), OrchestratorOptions{})

	for i := 0; i < 50; i++ {
		result, err := o.Caption(context.Background(), newTestRequest(""))
		require.NoError(t, err)
		assert.Equal(t, "gemini", result.Provider)
	}
}

func TestCaptionManualWorksWhenExplicit(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "manual", family: FamilyManual})
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})

	o := NewOrchestrator(r, allAvailable(FamilyManual, FamilyGemini), OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest("manual"))
	require.NoError(t, err)
	assert.Equal(t, "manual", result.Provider)
}

func TestCaptionAvailabilityFiltersFamilies(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})
	r.Register(&fakeProvider{name: "openai", family: FamilyOpenAI})

	// only the openai family is marked available
	o := NewOrchestrator(r, allAvailable(FamilyOpenAI), OrchestratorOptions{})

	for i := 0; i < 20; i++ {
		result, err := o.Caption(context.Background(), newTestRequest(""))
		require.NoError(t, err)
		assert.Equal(t, "openai", result.Provider)
	}
}

func TestCaptionAvailabilityErrorDegradesToLocal(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})

	o := NewOrchestrator(r, &fakeStore{err: errors.New("connection refused")}, OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "gemini", result.Provider)
}

func TestCaptionNilStoreUsesLocalSelection(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})

	o := NewOrchestrator(r, nil, OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "gemini", result.Provider)
}

func TestCaptionEmptyIntersectionPrefersFallbackDefault(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "stub", family: FamilyStub})
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})
	r.Register(&fakeProvider{name: "openai", family: FamilyOpenAI})

	store := &fakeStore{
		// nothing available, but the openai family is the configured default
		fallback: &ModelRecord{MCode: "GPT4O_VISION", Family: FamilyOpenAI, IsAvailable: true, IsFallback: true},
	}
	o := NewOrchestrator(r, store, OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Provider)
}

func TestCaptionEmptyIntersectionFallsBackToStub(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})
	r.Register(&fakeProvider{name: "stub", family: FamilyStub})

	// no records, no fallback row
	o := NewOrchestrator(r, &fakeStore{}, OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "stub", result.Provider)
}

func TestCaptionEmptyIntersectionLastResortAnyRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})

	o := NewOrchestrator(r, &fakeStore{}, OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest(""))
	require.NoError(t, err)
	assert.Equal(t, "gemini", result.Provider)
}

func TestCaptionSequentialFallback(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini, err: errors.New("quota exhausted for sk-gemini12345678"), log: &log})
	r.Register(&fakeProvider{name: "stub", family: FamilyStub, log: &log})
	r.Register(&fakeProvider{name: "openai", family: FamilyOpenAI, err: errors.New("timeout"), log: &log})
	r.Register(&fakeProvider{name: "hf", family: FamilyHuggingFace, log: &log})

	o := NewOrchestrator(r, allAvailable(FamilyGemini, FamilyOpenAI, FamilyHuggingFace, FamilyStub), OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest("gemini"))
	require.NoError(t, err)

	// registration order with stub pushed last; hf succeeds before stub runs
	assert.Equal(t, []string{"gemini", "openai", "hf"}, log)
	assert.Equal(t, "hf", result.Provider)
	assert.True(t, result.FallbackUsed)
	assert.Equal(t, "gemini", result.OriginalProvider)
	assert.NotEmpty(t, result.FallbackReason)
	assert.NotContains(t, result.FallbackReason, "sk-gemini12345678")
}

func TestCaptionStubIsLastResort(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(&fakeProvider{name: "stub", family: FamilyStub, log: &log})
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini, err: errors.New("boom"), log: &log})

	o := NewOrchestrator(r, allAvailable(FamilyGemini), OrchestratorOptions{})

	result, err := o.Caption(context.Background(), newTestRequest("gemini"))
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini", "stub"}, log)
	assert.Equal(t, "stub", result.Provider)
	assert.True(t, result.FallbackUsed)
}

func TestCaptionManualExcludedFromFallbackChain(t *testing.T) {
	var log []string
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini, err: errors.New("boom"), log: &log})
	r.Register(&fakeProvider{name: "manual", family: FamilyManual, log: &log})

	o := NewOrchestrator(r, allAvailable(FamilyGemini, FamilyManual), OrchestratorOptions{})

	_, err := o.Caption(context.Background(), newTestRequest("gemini"))
	require.Error(t, err)
	assert.Equal(t, []string{"gemini"}, log)
	assert.Equal(t, types.ErrAllProvidersFailed, types.GetErrorCode(err))
}

func TestCaptionAllProvidersFailed(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini, err: errors.New("a")})
	r.Register(&fakeProvider{name: "openai", family: FamilyOpenAI, err: errors.New("b")})

	o := NewOrchestrator(r, allAvailable(FamilyGemini, FamilyOpenAI), OrchestratorOptions{})

	_, err := o.Caption(context.Background(), newTestRequest(""))
	require.Error(t, err)
	assert.Equal(t, types.ErrAllProvidersFailed, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestCaptionRejectsEmptyImage(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})
	o := NewOrchestrator(r, nil, OrchestratorOptions{})

	_, err := o.Caption(context.Background(), &CaptionRequest{Category: types.CategoryCrisisMap})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestCaptionRejectsUnknownCategory(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "gemini", family: FamilyGemini})
	o := NewOrchestrator(r, nil, OrchestratorOptions{})

	_, err := o.Caption(context.Background(), &CaptionRequest{
		Image:    []byte{1},
		Category: types.Category("satellite"),
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestCaptionNoProvidersRegistered(t *testing.T) {
	o := NewOrchestrator(NewRegistry(), nil, OrchestratorOptions{})

	_, err := o.Caption(context.Background(), newTestRequest(""))
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
}
