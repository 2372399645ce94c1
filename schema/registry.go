// =============================================================================
// 💾 Schema 注册表
// =============================================================================
// 按类别缓存编译后的 JSON Schema：
//
//   内存缓存（首选） → Redis 共享缓存（可选） → 数据库
//
// 管理端修改 schema 后调用 Invalidate，无需重启进程。
// 查不到 schema 是硬错误（ErrSchemaNotFound），与校验失败严格区分。
// =============================================================================
package schema

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/types"
)

const redisKeyPrefix = "crisislens:schema:"

// CacheMetrics 记录缓存层命中情况，由调用方注入（通常是 metrics.Collector）。
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// Compiled 是一份可执行的类别 schema。
type Compiled struct {
	// Category 图像类别
	Category types.Category
	// SchemaID 来源记录标识
	SchemaID string
	// Raw 原始 schema 文本
	Raw string
	// Schema 编译结果
	Schema *jsonschema.Schema
}

// RegistryOptions 注册表配置
type RegistryOptions struct {
	// Redis 可选的共享二级缓存
	Redis *redis.Client
	// RedisTTL Redis 条目存活时间，默认 10 分钟
	RedisTTL time.Duration
	// Logger 日志器
	Logger *zap.Logger
	// Metrics 可选的缓存命中指标
	Metrics CacheMetrics
}

// Registry 按类别缓存编译后的 schema。
type Registry struct {
	store    Store
	redis    *redis.Client
	redisTTL time.Duration
	logger   *zap.Logger
	metrics  CacheMetrics

	mu    sync.RWMutex
	cache map[types.Category]*Compiled

	group singleflight.Group
}

// NewRegistry 创建注册表。
func NewRegistry(store Store, opts RegistryOptions) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.RedisTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Registry{
		store:    store,
		redis:    opts.Redis,
		redisTTL: ttl,
		logger:   logger.With(zap.String("component", "schema_registry")),
		metrics:  opts.Metrics,
		cache:    make(map[types.Category]*Compiled),
	}
}

func (r *Registry) recordCache(cacheType string, hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.RecordCacheHit(cacheType)
	} else {
		r.metrics.RecordCacheMiss(cacheType)
	}
}

// Get 返回某类别的编译 schema，必要时从缓存层或数据库加载。
// 未知类别或存储不可达返回 ErrSchemaNotFound 类错误。
func (r *Registry) Get(ctx context.Context, category types.Category) (*Compiled, error) {
	r.mu.RLock()
	cached, ok := r.cache[category]
	r.mu.RUnlock()
	r.recordCache("schema_memory", ok)
	if ok {
		return cached, nil
	}

	// singleflight 合并同类别的并发加载
	v, err, _ := r.group.Do(string(category), func() (any, error) {
		return r.load(ctx, category)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Compiled), nil
}

func (r *Registry) load(ctx context.Context, category types.Category) (*Compiled, error) {
	// 二查内存，其他请求可能已经填好
	r.mu.RLock()
	if cached, ok := r.cache[category]; ok {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	schemaID, raw, err := r.fetch(ctx, category)
	if err != nil {
		return nil, err
	}

	compiled, err := CompileSchema(category, schemaID, raw)
	if err != nil {
		return nil, types.NewError(types.ErrSchemaInvalid,
			fmt.Sprintf("schema for category %s does not compile", category)).
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	r.mu.Lock()
	r.cache[category] = compiled
	r.mu.Unlock()
	return compiled, nil
}

// fetch 依次尝试 Redis 和数据库。
func (r *Registry) fetch(ctx context.Context, category types.Category) (string, string, error) {
	if r.redis != nil {
		raw, err := r.redis.Get(ctx, redisKeyPrefix+string(category)).Result()
		if err == nil && raw != "" {
			r.recordCache("schema_redis", true)
			return string(category) + "_cached", raw, nil
		}
		r.recordCache("schema_redis", false)
		if err != nil && !errors.Is(err, redis.Nil) {
			r.logger.Warn("redis schema lookup failed",
				zap.String("category", string(category)),
				zap.Error(err))
		}
	}

	record, err := r.store.Latest(ctx, category)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", types.NewError(types.ErrSchemaNotFound,
				fmt.Sprintf("no schema registered for category %s", category)).
				WithHTTPStatus(http.StatusNotFound)
		}
		return "", "", types.NewError(types.ErrSchemaNotFound,
			fmt.Sprintf("schema lookup failed for category %s", category)).
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	if r.redis != nil {
		if err := r.redis.Set(ctx, redisKeyPrefix+string(category), record.Schema, r.redisTTL).Err(); err != nil {
			r.logger.Warn("redis schema store failed",
				zap.String("category", string(category)),
				zap.Error(err))
		}
	}
	return record.SchemaID, record.Schema, nil
}

// Invalidate 清除一个类别的缓存，下一次 Get 重新加载。
func (r *Registry) Invalidate(ctx context.Context, category types.Category) {
	r.mu.Lock()
	delete(r.cache, category)
	r.mu.Unlock()

	if r.redis != nil {
		if err := r.redis.Del(ctx, redisKeyPrefix+string(category)).Err(); err != nil {
			r.logger.Warn("redis schema invalidation failed",
				zap.String("category", string(category)),
				zap.Error(err))
		}
	}
}

// InvalidateAll 清空全部缓存。
func (r *Registry) InvalidateAll(ctx context.Context) {
	r.mu.Lock()
	r.cache = make(map[types.Category]*Compiled)
	r.mu.Unlock()

	if r.redis != nil {
		for _, category := range types.Categories() {
			if err := r.redis.Del(ctx, redisKeyPrefix+string(category)).Err(); err != nil {
				r.logger.Warn("redis schema invalidation failed",
					zap.String("category", string(category)),
					zap.Error(err))
			}
		}
	}
}

// CompileSchema 编译一份 schema 文本。
func CompileSchema(category types.Category, schemaID, raw string) (*Compiled, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}

	url := fmt.Sprintf("https://crisislens.local/schemas/%s.json", category)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Compiled{
		Category: category,
		SchemaID: schemaID,
		Raw:      raw,
		Schema:   sch,
	}, nil
}
