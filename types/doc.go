// 版权所有 2024 CrisisLens Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 types 定义跨包共享的基础类型：统一错误模型、图像类别与
JSON Schema 构建器。

# 错误模型

[Error] 携带错误码、HTTP 状态、可重试标记与所属 Provider，
Provider 层的所有上游失败都折叠为 [ErrProviderUnavailable]，
供编排层执行回退；[ErrAllProvidersFailed] 与 [ErrSchemaNotFound]
是请求级终态错误。

# 图像类别

[Category] 决定校验时使用的 schema 与元数据字段集，当前闭集为
crisis_map 与 drone_image。

# Schema 构建器

[JSONSchema] 与 [TypeSet] 用于以代码方式构建种子 schema 文档，
TypeSet 支持 ["number","null"] 形式的可空类型并由存储层原样持久化。
*/
package types
