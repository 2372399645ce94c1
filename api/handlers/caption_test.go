package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/providers/stub"
	"github.com/BaSui01/crisislens/schema"
	"github.com/BaSui01/crisislens/types"
	"github.com/BaSui01/crisislens/vlm"
)

// =============================================================================
// 🧪 图像分析 Handler 测试
// =============================================================================

// failingProvider 总是失败的测试 Provider（gemini 家族，参与自动兜底）。
type failingProvider struct{ name string }

func (p *failingProvider) Name() string { return p.name }

func (p *failingProvider) Describe() vlm.ProviderInfo {
	return vlm.ProviderInfo{Name: p.name, Family: vlm.FamilyGemini}
}

func (p *failingProvider) Generate(ctx context.Context, image []byte, prompt, metadataInstructions string) (*vlm.AnalysisResult, error) {
	return nil, vlm.Unavailable(p.name, fmt.Errorf("upstream exploded"))
}

// recordingMetrics 记录校验结果的测试替身。
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) RecordValidation(category, outcome string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, category+"/"+outcome)
}

func newCaptionTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, vlm.InitDatabase(db))
	require.NoError(t, schema.InitDatabase(db))
	require.NoError(t, schema.SeedSchemas(db))
	return db
}

func newCaptionHandler(t *testing.T, db *gorm.DB, providers ...vlm.Provider) (*CaptionHandler, *recordingMetrics) {
	t.Helper()

	registry := vlm.NewRegistry()
	for _, p := range providers {
		registry.Register(p)
	}
	orchestrator := vlm.NewOrchestrator(registry, nil, vlm.OrchestratorOptions{
		CallTimeout: 5 * time.Second,
	})

	schemaRegistry := schema.NewRegistry(schema.NewGormStore(db), schema.RegistryOptions{})
	validator := schema.NewValidator(schemaRegistry, zap.NewNop())

	metrics := &recordingMetrics{}
	h := NewCaptionHandler(orchestrator, validator, vlm.NewGormCaptionStore(db), metrics, zap.NewNop())
	return h, metrics
}

func postCaption(t *testing.T, h *CaptionHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/captions", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleCaption(w, r)
	return w
}

func captionBody(category string) string {
	image := base64.StdEncoding.EncodeToString([]byte("fake-image-bytes"))
	return fmt.Sprintf(`{"image_base64":%q,"category":%q}`, image, category)
}

func TestCaptionHandler_Success(t *testing.T) {
	db := newCaptionTestDB(t)
	h, metrics := newCaptionHandler(t, db, stub.NewStubProvider())

	w := postCaption(t, h, captionBody("crisis_map"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var caption CaptionResponse
	require.NoError(t, json.Unmarshal(data, &caption))

	assert.Equal(t, "stub", caption.Provider)
	assert.Equal(t, "crisis_map", caption.Category)
	assert.True(t, caption.IsValid)
	assert.Empty(t, caption.ValidationError)
	assert.False(t, caption.FallbackUsed)

	// 清洗后的元数据带类别默认值
	meta, ok := caption.Document["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "OTHER", meta["source"])
	assert.Equal(t, "OTHER", meta["epsg"])

	// 已落库
	var count int64
	require.NoError(t, db.Model(&vlm.CaptionRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var record vlm.CaptionRecord
	require.NoError(t, db.First(&record).Error)
	assert.Equal(t, "stub", record.Provider)
	assert.True(t, record.SchemaValid)

	assert.Equal(t, []string{"crisis_map/valid"}, metrics.outcomes)
}

func TestCaptionHandler_DroneImage(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, stub.NewStubProvider())

	w := postCaption(t, h, captionBody("drone_image"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var caption CaptionResponse
	require.NoError(t, json.Unmarshal(data, &caption))

	assert.True(t, caption.IsValid)
	meta, ok := caption.Document["metadata"].(map[string]any)
	require.True(t, ok)
	// 缺失遥测是显式 null，不是被伪造的数值
	v, present := meta["center_lat"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestCaptionHandler_FallbackToStub(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db,
		&failingProvider{name: "gemini"},
		stub.NewStubProvider(),
	)

	w := postCaption(t, h, captionBody("crisis_map"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var caption CaptionResponse
	require.NoError(t, json.Unmarshal(data, &caption))

	assert.Equal(t, "stub", caption.Provider)
	assert.True(t, caption.FallbackUsed)
	assert.Equal(t, "gemini", caption.OriginalProvider)
	assert.NotEmpty(t, caption.FallbackReason)

	var record vlm.CaptionRecord
	require.NoError(t, db.First(&record).Error)
	assert.True(t, record.FallbackUsed)
}

func TestCaptionHandler_AllProvidersFailed(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, &failingProvider{name: "gemini"})

	w := postCaption(t, h, captionBody("crisis_map"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrAllProvidersFailed), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	// 上游原始错误文本不出现在响应里
	assert.NotContains(t, w.Body.String(), "upstream exploded")
}

func TestCaptionHandler_BadRequests(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, stub.NewStubProvider())

	tests := []struct {
		name string
		body string
	}{
		{"invalid base64", `{"image_base64":"not-base64!!!","category":"crisis_map"}`},
		{"empty image", `{"image_base64":"","category":"crisis_map"}`},
		{"unknown category", captionBody("satellite")},
		{"unknown field", `{"image_base64":"aGk=","category":"crisis_map","bogus":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postCaption(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
		})
	}
}

func TestCaptionHandler_MethodNotAllowed(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, stub.NewStubProvider())

	r := httptest.NewRequest(http.MethodGet, "/api/v1/captions", nil)
	w := httptest.NewRecorder()
	h.HandleCaption(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCaptionHandler_WrongContentType(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, stub.NewStubProvider())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/captions", strings.NewReader(captionBody("crisis_map")))
	r.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	h.HandleCaption(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCaptionHandler_Recent(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, stub.NewStubProvider())

	for i := 0; i < 3; i++ {
		w := postCaption(t, h, captionBody("crisis_map"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	r := httptest.NewRequest(http.MethodGet, "/api/v1/captions?limit=2", nil)
	w := httptest.NewRecorder()
	h.HandleRecent(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, _ := json.Marshal(resp.Data)
	var records []vlm.CaptionRecord
	require.NoError(t, json.Unmarshal(data, &records))
	assert.Len(t, records, 2)
}

func TestCaptionHandler_RecentInvalidLimit(t *testing.T) {
	db := newCaptionTestDB(t)
	h, _ := newCaptionHandler(t, db, stub.NewStubProvider())

	for _, limit := range []string{"abc", "0", "-1", "500"} {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/captions?limit="+limit, nil)
		w := httptest.NewRecorder()
		h.HandleRecent(w, r)
		assert.Equal(t, http.StatusBadRequest, w.Code, "limit=%s", limit)
	}
}
