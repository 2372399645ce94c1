// Package vlm 提供视觉语言模型编排核心：
//
//   - Provider 接口与注册表（注册顺序即兜底顺序）
//   - Orchestrator：显式/随机选择 + 顺序兜底
//   - 可用性记录（models 表）与结果持久化（captions 表）
//   - 类别化元数据指令与输出信封解析
//
// 所有上游错误统一映射为 ErrProviderUnavailable，消息经过脱敏。
package vlm
