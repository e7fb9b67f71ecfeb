package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// 下载阶段占总进度的份额，其余留给运行时初始化。
const downloadShare = 80.0

type localEngine struct {
	runtime Runtime
	weights WeightStore
	hubURL  string
	client  *http.Client
}

// NewLocalEngine 创建本地引擎适配器。
// hubURL 是模型权重仓库的基础地址，未缓存的模型从这里下载。
func NewLocalEngine(runtime Runtime, weights WeightStore, hubURL string) Local {
	return &localEngine{
		runtime: runtime,
		weights: weights,
		hubURL:  hubURL,
		client:  &http.Client{},
	}
}

func (e *localEngine) ListCandidateModels() []ModelInfo {
	return filterByFamily(catalog)
}

func (e *localEngine) IsCached(ctx context.Context, modelID string) (bool, error) {
	return e.weights.Exists(ctx, modelID)
}

func (e *localEngine) CachedSet(ctx context.Context, modelIDs []string) (map[string]bool, error) {
	out := make(map[string]bool, len(modelIDs))
	for _, id := range modelIDs {
		cached, err := e.weights.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = cached
	}
	return out, nil
}

// Load 确保模型权重在缓存中，然后交给运行时初始化。
// 进度分两个阶段上报：下载（0 ~ 80）与引擎初始化（80 ~ 100）。
func (e *localEngine) Load(ctx context.Context, modelID string, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(string, float64) {}
	}

	cached, err := e.weights.Exists(ctx, modelID)
	if err != nil {
		return fmt.Errorf("failed to check weight cache: %w", err)
	}

	if !cached {
		if err := e.download(ctx, modelID, onProgress); err != nil {
			return err
		}
	}
	onProgress("模型权重就绪", downloadShare)

	rc, err := e.weights.Get(ctx, modelID)
	if err != nil {
		return fmt.Errorf("failed to open cached weights: %w", err)
	}
	defer rc.Close()

	onProgress("正在初始化引擎", downloadShare+10)
	if err := e.runtime.Load(ctx, modelID, rc); err != nil {
		return fmt.Errorf("engine failed to load model %q: %w", modelID, err)
	}
	onProgress("加载完成", 100)

	log.Infof("本地模型加载完成: %s", modelID)
	return nil
}

// download 从模型仓库拉取权重并写入缓存，按已读字节数上报进度。
func (e *localEngine) download(ctx context.Context, modelID string, onProgress ProgressFunc) error {
	url := fmt.Sprintf("%s/%s/weights.bin", e.hubURL, modelID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download weights for %q: %w", modelID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("weight download for %q returned %s", modelID, resp.Status)
	}

	onProgress("正在下载模型权重", 0)
	reader := &progressReader{
		r:     resp.Body,
		total: resp.ContentLength,
		report: func(pct float64) {
			onProgress("正在下载模型权重", pct*downloadShare/100)
		},
	}

	if err := e.weights.Put(ctx, modelID, reader, resp.ContentLength); err != nil {
		return fmt.Errorf("failed to cache weights for %q: %w", modelID, err)
	}
	return nil
}

func (e *localEngine) Unload() {
	e.runtime.Unload()
}

func (e *localEngine) Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	return e.runtime.Generate(ctx, messages, gen, onDelta)
}

func (e *localEngine) DeleteCached(ctx context.Context, modelID string) error {
	return e.weights.Remove(ctx, modelID)
}

// progressReader 包装下载流，按读取字节数换算进度百分比。
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(pct float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := float64(p.read) / float64(p.total) * 100
		if pct > 100 {
			pct = 100
		}
		p.report(pct)
	}
	return n, err
}
