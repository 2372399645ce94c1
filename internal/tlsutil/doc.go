// Package tlsutil 提供集中式 TLS 配置。
// VLM 上游调用、服务端与 Redis 连接统一使用加固的 TLS 设置
// （TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
