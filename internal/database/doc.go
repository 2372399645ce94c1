// 版权所有 2024 CrisisLens Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供数据库连接管理：按驱动打开 GORM 连接，
并通过连接池管理器处理健康检查与事务重试。

# 概述

Open 根据配置的驱动（postgres/mysql/sqlite）构造对应的 GORM
Dialector 并建立连接。PoolManager 封装 GORM 与 database/sql
的连接池配置，统一管理连接生命周期与最大连接数限制，后台
健康检查定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、Ping()、Snapshot()、
    Close() 与事务方法。
  - PoolConfig：连接池配置，包含最大空闲连接数、最大打开连接数、
    连接最大生命周期、空闲超时与健康检查间隔。
  - PoolStats：连接池统计快照。

# 主要能力

  - 多驱动连接：Open / OpenPool 按 config.DatabaseConfig 选择方言。
  - 健康检查：后台定时 PingContext 探活，输出连接数与空闲数。
  - 事务管理：WithTransaction 提供单次事务执行，
    WithTransactionRetry 支持指数退避重试（死锁、序列化失败等场景）。
*/
package database
