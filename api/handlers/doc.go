// Copyright (c) CrisisLens Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CrisisLens HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 CrisisLens 所有 HTTP 端点的请求处理逻辑，
包括图像分析、schema 管理、模型可用性管理、健康检查以及统一的
响应/错误处理。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - CaptionHandler   — 图像分析端点：编排器调用 + 文档校验 + 落库
  - SchemasHandler   — 按类别读取/发布校验 schema（发布后缓存失效）
  - ModelsHandler    — models 表可用性记录的查询与运维开关
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        — 结构化错误信息，含 code、provider、retryable 标记
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      — 可插拔健康检查接口（数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 校验失败是数据不是错误：文档带 is_valid=false 返回并落库
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现

# 错误安全

WriteError 只记录结构化错误本身（[CODE] message 形态），不展开
Cause 链：上游失败的原始错误可能携带端点 URL 或凭据。
*/
package handlers
