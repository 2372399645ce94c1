package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/crisislens/api/handlers"
	"github.com/BaSui01/crisislens/config"
	"github.com/BaSui01/crisislens/internal/cache"
	"github.com/BaSui01/crisislens/internal/database"
	"github.com/BaSui01/crisislens/internal/metrics"
	"github.com/BaSui01/crisislens/internal/server"
	"github.com/BaSui01/crisislens/internal/telemetry"
	"github.com/BaSui01/crisislens/providers"
	"github.com/BaSui01/crisislens/providers/gemini"
	"github.com/BaSui01/crisislens/providers/huggingface"
	"github.com/BaSui01/crisislens/providers/manual"
	"github.com/BaSui01/crisislens/providers/openai"
	"github.com/BaSui01/crisislens/providers/stub"
	"github.com/BaSui01/crisislens/schema"
	"github.com/BaSui01/crisislens/vlm"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 CrisisLens 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers
	pool   *database.PoolManager

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 可选的 Redis 缓存
	cacheManager *cache.Manager

	// Handlers
	healthHandler  *handlers.HealthHandler
	captionHandler *handlers.CaptionHandler
	schemasHandler *handlers.SchemasHandler
	modelsHandler  *handlers.ModelsHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 后台 goroutine 生命周期管理
	rateLimiterCancel context.CancelFunc
	statsCancel       context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, pool *database.PoolManager) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
		pool:   pool,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("crisislens", s.logger)

	// 2. 初始化 Handlers（编排器、校验器、存储）
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. 周期性上报连接池指标
	s.startPoolStatsLoop()

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 组装编排器、校验管线与全部 handlers
func (s *Server) initHandlers() error {
	db := s.pool.DB()

	// 可选的 Redis 共享缓存
	if s.cfg.Redis.Enabled {
		manager, err := cache.NewManager(cache.ConfigFromApp(s.cfg.Redis), s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, schema cache falls back to memory only",
				zap.Error(err))
		} else {
			s.cacheManager = manager
		}
	}

	// Provider 注册表：注册顺序即兜底顺序，manual 不参与自动兜底，
	// stub 永远殿后保证链路有终点
	registry := s.buildProviderRegistry()

	orchestrator := vlm.NewOrchestrator(registry, vlm.NewGormAvailabilityStore(db), vlm.OrchestratorOptions{
		CallTimeout:         s.cfg.VLM.CallTimeout,
		AvailabilityTimeout: s.cfg.VLM.AvailabilityTimeout,
		Logger:              s.logger,
	})

	// Schema 注册表与校验器
	schemaStore := schema.NewGormStore(db)
	registryOpts := schema.RegistryOptions{
		Logger:  s.logger,
		Metrics: s.metricsCollector,
	}
	if s.cacheManager != nil {
		registryOpts.Redis = s.cacheManager.Client()
	}
	schemaRegistry := schema.NewRegistry(schemaStore, registryOpts)
	validator := schema.NewValidator(schemaRegistry, s.logger)

	// 落库走带重试的事务：死锁等瞬时错误不丢分析结果
	captionStore := &retryingCaptionStore{
		GormCaptionStore: vlm.NewGormCaptionStore(db),
		pool:             s.pool,
	}

	s.captionHandler = handlers.NewCaptionHandler(orchestrator, validator, captionStore, s.metricsCollector, s.logger)
	s.schemasHandler = handlers.NewSchemasHandler(schemaStore, schemaRegistry, s.logger)
	s.modelsHandler = handlers.NewModelsHandler(registry, vlm.NewGormAvailabilityStore(db), s.logger)

	// 健康检查
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("database", s.pool.Ping))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.cacheManager.Ping))
	}

	s.logger.Info("Handlers initialized",
		zap.Strings("providers", registry.Names()),
		zap.Bool("redis_cache", s.cacheManager != nil),
	)
	return nil
}

// buildProviderRegistry 按配置注册 Provider。
// 缺少 api_key 的托管后端不注册（不是错误）；manual 与 stub 总是可用。
func (s *Server) buildProviderRegistry() *vlm.Registry {
	registry := vlm.NewRegistry()

	if key := s.cfg.Providers.Gemini.APIKey; key != "" {
		registry.Register(gemini.NewGeminiProvider(providers.GeminiConfig{
			APIKey:  key,
			BaseURL: s.cfg.Providers.Gemini.BaseURL,
			Model:   s.cfg.Providers.Gemini.Model,
			Timeout: s.cfg.Providers.Gemini.Timeout,
			MaxQPS:  s.cfg.Providers.Gemini.MaxQPS,
		}, s.logger))
	} else {
		s.logger.Info("Gemini API key not configured, provider disabled")
	}

	if key := s.cfg.Providers.OpenAI.APIKey; key != "" {
		registry.Register(openai.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:  key,
			BaseURL: s.cfg.Providers.OpenAI.BaseURL,
			Model:   s.cfg.Providers.OpenAI.Model,
			Timeout: s.cfg.Providers.OpenAI.Timeout,
			MaxQPS:  s.cfg.Providers.OpenAI.MaxQPS,
		}, s.logger))
	} else {
		s.logger.Info("OpenAI API key not configured, provider disabled")
	}

	if key := s.cfg.Providers.HuggingFace.APIKey; key != "" {
		registry.Register(huggingface.NewHuggingFaceProvider(providers.HuggingFaceConfig{
			APIKey:  key,
			BaseURL: s.cfg.Providers.HuggingFace.BaseURL,
			Model:   s.cfg.Providers.HuggingFace.Model,
			Timeout: s.cfg.Providers.HuggingFace.Timeout,
			MaxQPS:  s.cfg.Providers.HuggingFace.MaxQPS,
		}, s.logger))
	} else {
		s.logger.Info("HuggingFace API key not configured, provider disabled")
	}

	registry.Register(manual.NewManualProvider())
	registry.Register(stub.NewStubProvider())
	return registry
}

// retryingCaptionStore 在 GormCaptionStore 之上给写路径加上死锁重试。
type retryingCaptionStore struct {
	*vlm.GormCaptionStore
	pool *database.PoolManager
}

func (s *retryingCaptionStore) Save(ctx context.Context, record *vlm.CaptionRecord) error {
	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		return tx.Create(record).Error
	})
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("POST /api/v1/captions", s.captionHandler.HandleCaption)
	mux.HandleFunc("GET /api/v1/captions", s.captionHandler.HandleRecent)
	mux.HandleFunc("GET /api/v1/models", s.modelsHandler.HandleList)
	mux.HandleFunc("PUT /api/v1/models", s.modelsHandler.HandleUpsert)
	mux.HandleFunc("GET /api/v1/schemas/{category}", s.schemasHandler.HandleGet)
	mux.HandleFunc("PUT /api/v1/schemas/{category}", s.schemasHandler.HandleUpsert)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	}

	// 配置了 JWT 密钥时，管理端点的写操作额外要求 Bearer token
	if s.cfg.Server.JWT.Secret != "" || s.cfg.Server.JWT.PublicKey != "" {
		adminPaths := []string{
			"/api/v1/models",
			"/api/v1/schemas/crisis_map",
			"/api/v1/schemas/drone_image",
		}
		middlewares = append(middlewares, JWTAuth(s.cfg.Server.JWT, adminPaths, s.logger))
		s.logger.Info("JWT authentication enabled for admin endpoints")
	}

	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// startPoolStatsLoop 周期性把连接池快照写入 Prometheus 指标
func (s *Server) startPoolStatsLoop() {
	ctx, cancel := context.WithCancel(context.Background())
	s.statsCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := s.pool.Snapshot()
				s.metricsCollector.RecordDBConnections(s.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
			}
		}
	}()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止后台 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}
	if s.statsCancel != nil {
		s.statsCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 等待后台 goroutine 收尾
	s.wg.Wait()

	// 4. 关闭存储连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Redis shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}

	// 5. 刷新遥测数据
	if s.otel != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.otel.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
