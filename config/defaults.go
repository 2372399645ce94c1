package config

import "time"

// =============================================================================
// 🎯 默认配置
// =============================================================================

// DefaultConfig 返回完整的默认配置。
// 所有默认值都可以被 YAML 文件和环境变量覆盖。
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		VLM:       DefaultVLMConfig(),
		Providers: DefaultProvidersConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9090,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultDatabaseConfig 默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "crisislens",
		Password:        "",
		Name:            "crisislens",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// DefaultRedisConfig 默认 Redis 配置（默认关闭，仅用内存缓存）
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultVLMConfig 默认编排配置
func DefaultVLMConfig() VLMConfig {
	return VLMConfig{
		CallTimeout:         90 * time.Second,
		AvailabilityTimeout: 3 * time.Second,
	}
}

// DefaultProvidersConfig 默认后端配置。
// api_key 均为空，需要通过环境变量注入；缺少凭据的后端不会被注册。
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		Gemini: GeminiConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.0-flash",
			Timeout: 60 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			Timeout: 60 * time.Second,
		},
		HuggingFace: HuggingFaceConfig{
			BaseURL: "https://router.huggingface.co/v1",
			Model:   "Qwen/Qwen2.5-VL-7B-Instruct",
			Timeout: 90 * time.Second,
		},
	}
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "crisislens",
		SampleRate:   1.0,
	}
}
