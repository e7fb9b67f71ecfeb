// Package engine 封装了本地推理引擎：模型目录、权重缓存与加载进度。
// 真正的推理运行时（Runtime）是注入的外部依赖，这里只负责其生命周期编排。
package engine

import (
	"context"
	"io"

	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
)

// ProgressFunc 在加载过程中被反复调用。percent 单调不减，范围 [0,100]。
type ProgressFunc func(text string, percent float64)

// Runtime 是不透明的本地推理运行时。
// 加载权重、执行生成、卸载，其内部实现不属于本包的职责。
type Runtime interface {
	// Load 从 weights 读入模型权重并初始化运行时。
	Load(ctx context.Context, modelID string, weights io.Reader) error
	// Generate 针对一段消息序列产生流式输出。增量可能为空字符串。
	Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error
	// Unload 释放当前驻留的模型。
	Unload()
}

// WeightStore 抽象了权重缓存层（生产环境为 MinIO，见 pkg/storage）。
type WeightStore interface {
	Exists(ctx context.Context, modelID string) (bool, error)
	Put(ctx context.Context, modelID string, r io.Reader, size int64) error
	Get(ctx context.Context, modelID string) (io.ReadCloser, error)
	Remove(ctx context.Context, modelID string) error
}

// Local 定义了推理会话管理器消费的本地引擎接口。
type Local interface {
	// ListCandidateModels 返回按家族白名单过滤后的候选模型列表。
	ListCandidateModels() []ModelInfo
	// IsCached 查询某模型权重是否已缓存。
	IsCached(ctx context.Context, modelID string) (bool, error)
	// CachedSet 对一组模型批量查询缓存状态。
	CachedSet(ctx context.Context, modelIDs []string) (map[string]bool, error)
	// Load 下载（如未缓存）并加载模型，进度通过 onProgress 上报。
	Load(ctx context.Context, modelID string, onProgress ProgressFunc) error
	// Unload 卸载当前驻留的模型。
	Unload()
	// Generate 委托运行时产生流式输出。
	Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error
	// DeleteCached 清除某模型的缓存权重。
	DeleteCached(ctx context.Context, modelID string) error
}
