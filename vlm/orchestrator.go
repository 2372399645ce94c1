// =============================================================================
// 🎯 CrisisLens 编排器
// =============================================================================
// 负责提供者选择与顺序兜底：
//
//   1. 显式指定模型 → 命中则作为首选；未注册时记录告警并退回随机选择
//   2. 随机选择 → 注册表 ∩ 可用性记录（排除 manual 家族）中随机挑一个
//   3. 可用性查询失败 → 降级为本地注册表提示，请求不中断
//   4. 交集为空 → 兜底默认行的家族 > stub > 任意已注册提供者
//   5. 首选失败 → 按注册顺序依次尝试其余提供者（stub 殿后），全部失败才报错
// =============================================================================
package vlm

import (
	"context"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/crisislens/types"
)

// OrchestratorOptions 编排器配置
type OrchestratorOptions struct {
	// CallTimeout 单次提供者调用超时
	CallTimeout time.Duration
	// AvailabilityTimeout 可用性查询超时
	AvailabilityTimeout time.Duration
	// Logger 日志器，nil 时使用 zap.NewNop()
	Logger *zap.Logger
}

// Orchestrator 协调注册表、可用性记录和兜底链。
type Orchestrator struct {
	registry *Registry
	store    AvailabilityStore
	logger   *zap.Logger
	tracer   trace.Tracer

	callTimeout         time.Duration
	availabilityTimeout time.Duration

	randMu sync.Mutex
	rand   *rand.Rand
}

// NewOrchestrator 创建编排器。store 可以为 nil，此时随机选择
// 直接使用本地注册表（等同于可用性查询永远降级）。
func NewOrchestrator(registry *Registry, store AvailabilityStore, opts OrchestratorOptions) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	callTimeout := opts.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 90 * time.Second
	}
	availabilityTimeout := opts.AvailabilityTimeout
	if availabilityTimeout <= 0 {
		availabilityTimeout = 3 * time.Second
	}

	return &Orchestrator{
		registry:            registry,
		store:               store,
		logger:              logger.With(zap.String("component", "vlm_orchestrator")),
		tracer:              otel.Tracer("crisislens/vlm"),
		callTimeout:         callTimeout,
		availabilityTimeout: availabilityTimeout,
		rand:                rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Caption 处理一次图像分析请求，必要时沿兜底链重试。
func (o *Orchestrator) Caption(ctx context.Context, req *CaptionRequest) (*AnalysisResult, error) {
	if req == nil || len(req.Image) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "image payload is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if _, err := types.ParseCategory(string(req.Category)); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}

	requestID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "vlm.caption",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("request.category", string(req.Category)),
			attribute.String("request.model", req.Model),
		))
	defer span.End()

	chain := o.buildChain(ctx, req.Model)
	if len(chain) == 0 {
		return nil, types.NewError(types.ErrProviderUnavailable, "no providers registered").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true)
	}

	instructions := MetadataInstructions(req.Category)
	primary := chain[0].Name()

	var firstErr error
	attempted := make([]string, 0, len(chain))

	for i, p := range chain {
		name := p.Name()
		attempted = append(attempted, name)

		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		start := time.Now()
		result, err := p.Generate(callCtx, req.Image, req.Prompt, instructions)
		latency := time.Since(start)
		cancel()

		observeCaptionAttempt(name, latency, err)

		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			o.logger.Warn("provider call failed",
				zap.String("request_id", requestID),
				zap.String("provider", name),
				zap.String("reason", RedactError(err)),
				zap.Duration("latency", latency),
			)
			if i+1 < len(chain) {
				observeFallback(name, chain[i+1].Name())
			}
			continue
		}

		result.Provider = name
		result.Latency = latency
		if i > 0 {
			result.FallbackUsed = true
			result.OriginalProvider = primary
			result.FallbackReason = RedactError(firstErr)
		}
		span.SetAttributes(
			attribute.String("result.provider", name),
			attribute.Bool("result.fallback_used", result.FallbackUsed),
		)
		o.logger.Info("caption produced",
			zap.String("request_id", requestID),
			zap.String("provider", name),
			zap.Bool("fallback_used", result.FallbackUsed),
			zap.Duration("latency", latency),
		)
		return result, nil
	}

	o.logger.Error("all providers failed",
		zap.String("request_id", requestID),
		zap.Strings("attempted", attempted),
	)
	return nil, AllFailed(attempted, firstErr)
}

// buildChain 计算尝试顺序：首选 + 注册顺序兜底（manual 家族只在显式
// 指定时参与，stub 家族殿后）。
func (o *Orchestrator) buildChain(ctx context.Context, explicit string) []Provider {
	names := o.registry.Names()
	if len(names) == 0 {
		return nil
	}

	primary := ""
	if explicit != "" {
		if _, ok := o.registry.Get(explicit); ok {
			primary = explicit
		} else {
			// 未注册的显式名称退回随机选择
			o.logger.Warn("requested model not registered, falling back to random selection",
				zap.String("model", explicit))
		}
	}
	if primary == "" {
		primary = o.pickRandom(ctx, names)
	}
	if primary == "" {
		return nil
	}

	chain := make([]Provider, 0, len(names))
	chain = append(chain, o.registry.MustGet(primary))

	// 兜底链：保持注册顺序，stub 移到最后
	var stubs []Provider
	for _, name := range names {
		if name == primary {
			continue
		}
		p := o.registry.MustGet(name)
		switch p.Describe().Family {
		case FamilyManual:
			// 人工录入不自动兜底
		case FamilyStub:
			stubs = append(stubs, p)
		default:
			chain = append(chain, p)
		}
	}
	return append(chain, stubs...)
}

// pickRandom 按可用性记录随机挑选首选提供者。
func (o *Orchestrator) pickRandom(ctx context.Context, names []string) string {
	candidates := o.availableCandidates(ctx, names)
	if len(candidates) == 0 {
		return o.resolveEmpty(ctx, names)
	}
	o.randMu.Lock()
	defer o.randMu.Unlock()
	return candidates[o.rand.Intn(len(candidates))]
}

// availableCandidates 返回注册表与可用性记录的交集（排除 manual 家族）。
// 可用性存储缺失或查询失败时降级为本地提示。
func (o *Orchestrator) availableCandidates(ctx context.Context, names []string) []string {
	availableFamilies := map[string]bool{}
	haveRecords := false

	if o.store != nil {
		queryCtx, cancel := context.WithTimeout(ctx, o.availabilityTimeout)
		records, err := o.store.Available(queryCtx)
		cancel()
		if err != nil {
			vlmAvailabilityQueryFailuresTotal.Inc()
			o.logger.Warn("availability lookup failed, using local selection",
				zap.String("reason", RedactError(err)))
		} else {
			haveRecords = true
			for _, r := range records {
				availableFamilies[r.Family] = true
			}
		}
	}

	var candidates []string
	for _, name := range names {
		p := o.registry.MustGet(name)
		family := p.Describe().Family
		if family == FamilyManual {
			continue
		}
		if haveRecords && !availableFamilies[family] {
			continue
		}
		candidates = append(candidates, name)
	}
	return candidates
}

// resolveEmpty 在交集为空时按优先级恢复：兜底默认行 > stub > 任意已注册。
func (o *Orchestrator) resolveEmpty(ctx context.Context, names []string) string {
	if o.store != nil {
		queryCtx, cancel := context.WithTimeout(ctx, o.availabilityTimeout)
		record, err := o.store.FallbackDefault(queryCtx)
		cancel()
		if err == nil && record != nil {
			for _, name := range names {
				if o.registry.MustGet(name).Describe().Family == record.Family {
					return name
				}
			}
		}
	}
	for _, name := range names {
		if o.registry.MustGet(name).Describe().Family == FamilyStub {
			return name
		}
	}
	for _, name := range names {
		if o.registry.MustGet(name).Describe().Family != FamilyManual {
			return name
		}
	}
	// 只剩 manual 时也得给个结果
	return names[0]
}
