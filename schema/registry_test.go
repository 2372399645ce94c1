package schema

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, InitDatabase(db))
	require.NoError(t, SeedSchemas(db))
	return db
}

func newTestRegistry(t *testing.T) (*Registry, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewRegistry(NewGormStore(db), RegistryOptions{}), db
}

func TestRegistryLoadsSeededSchemas(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, category := range types.Categories() {
		compiled, err := reg.Get(ctx, category)
		require.NoError(t, err, category)
		assert.Equal(t, category, compiled.Category)
		assert.NotNil(t, compiled.Schema)
		assert.NotEmpty(t, compiled.Raw)
	}
}

func TestRegistryUnknownCategory(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.Get(context.Background(), types.Category("satellite"))
	require.Error(t, err)
	assert.Equal(t, types.ErrSchemaNotFound, types.GetErrorCode(err))
}

func TestRegistryCachesUntilInvalidated(t *testing.T) {
	reg, db := newTestRegistry(t)
	ctx := context.Background()

	first, err := reg.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)

	// publish a new schema version behind the cache's back
	raw, err := CrisisMapSchema().ToJSON()
	require.NoError(t, err)
	require.NoError(t, db.Create(&SchemaRecord{
		SchemaID:  "crisis_map_v2",
		ImageType: string(types.CategoryCrisisMap),
		Title:     "Crisis map analysis",
		Version:   2,
		Schema:    string(raw),
	}).Error)

	// cached entry still served
	cached, err := reg.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)
	assert.Equal(t, first.SchemaID, cached.SchemaID)

	// invalidation makes the edit visible
	reg.Invalidate(ctx, types.CategoryCrisisMap)
	fresh, err := reg.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)
	assert.Equal(t, "crisis_map_v2", fresh.SchemaID)
}

func TestRegistryInvalidSchemaText(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&SchemaRecord{
		SchemaID:  "broken_v1",
		ImageType: "broken",
		Version:   1,
		Schema:    `{"type": 42}`,
	}).Error)

	reg := NewRegistry(NewGormStore(db), RegistryOptions{})
	_, err := reg.Get(context.Background(), types.Category("broken"))
	require.Error(t, err)
	assert.Equal(t, types.ErrSchemaInvalid, types.GetErrorCode(err))
}

func TestRegistryRedisSecondLevel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := newTestDB(t)
	ctx := context.Background()

	reg := NewRegistry(NewGormStore(db), RegistryOptions{Redis: client})

	_, err := reg.Get(ctx, types.CategoryDroneImage)
	require.NoError(t, err)

	// the load populated the shared cache
	stored, err := mr.Get(redisKeyPrefix + string(types.CategoryDroneImage))
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	// invalidation clears it
	reg.Invalidate(ctx, types.CategoryDroneImage)
	assert.False(t, mr.Exists(redisKeyPrefix+string(types.CategoryDroneImage)))
}

func TestRegistryServesFromRedisWhenMemoryCold(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := newTestDB(t)
	ctx := context.Background()

	warm := NewRegistry(NewGormStore(db), RegistryOptions{Redis: client})
	_, err := warm.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)

	// a second process with a cold memory cache reads via redis
	cold := NewRegistry(NewGormStore(db), RegistryOptions{Redis: client})
	compiled, err := cold.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)
	assert.NotNil(t, compiled.Schema)
}

func TestRegistryInvalidateAll(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)
	_, err = reg.Get(ctx, types.CategoryDroneImage)
	require.NoError(t, err)

	reg.InvalidateAll(ctx)
	reg.mu.RLock()
	assert.Empty(t, reg.cache)
	reg.mu.RUnlock()
}

func TestSeedSchemasIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, SeedSchemas(db))

	var count int64
	db.Model(&SchemaRecord{}).Count(&count)
	assert.EqualValues(t, len(types.Categories()), count)
}

func TestBuiltinSchemasCompile(t *testing.T) {
	for category, s := range builtinSchemas() {
		raw, err := s.ToJSON()
		require.NoError(t, err)
		_, err = CompileSchema(category, "test", string(raw))
		assert.NoError(t, err, category)
	}
}

type countingCacheMetrics struct {
	hits   map[string]int
	misses map[string]int
}

func newCountingCacheMetrics() *countingCacheMetrics {
	return &countingCacheMetrics{hits: map[string]int{}, misses: map[string]int{}}
}

func (m *countingCacheMetrics) RecordCacheHit(cacheType string)  { m.hits[cacheType]++ }
func (m *countingCacheMetrics) RecordCacheMiss(cacheType string) { m.misses[cacheType]++ }

func TestRegistryCacheMetrics(t *testing.T) {
	db := newTestDB(t)
	metrics := newCountingCacheMetrics()
	reg := NewRegistry(NewGormStore(db), RegistryOptions{Metrics: metrics})
	ctx := context.Background()

	_, err := reg.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.misses["schema_memory"])
	assert.Equal(t, 0, metrics.hits["schema_memory"])

	_, err = reg.Get(ctx, types.CategoryCrisisMap)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.hits["schema_memory"])
}
