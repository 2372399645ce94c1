// Package schema 维护按图像类别存储的 JSON Schema（json_schemas 表）、
// 带失效钩子的多级缓存，以及把模型输出归一化为规范文档的校验清洗管线。
package schema
