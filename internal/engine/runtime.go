package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// sidecarRuntime 通过 HTTP 驱动本地推理运行时进程（llama-server 一类）。
// 管理面是 /admin/load 与 /admin/unload，推理面是 OpenAI 兼容的
// /v1/chat/completions，复用 pkg/llm 的流式解析。
type sidecarRuntime struct {
	baseURL string
	client  *http.Client
}

// NewSidecarRuntime 创建一个本地推理运行时的 HTTP 适配器。
func NewSidecarRuntime(baseURL string) Runtime {
	return &sidecarRuntime{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// Load 把权重流推给运行时进程并等待初始化完成。
func (r *sidecarRuntime) Load(ctx context.Context, modelID string, weights io.Reader) error {
	url := fmt.Sprintf("%s/admin/load?model=%s", r.baseURL, modelID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, weights)
	if err != nil {
		return fmt.Errorf("failed to create load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("runtime unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("runtime load returned %s: %s", resp.Status, string(body))
	}
	return nil
}

func (r *sidecarRuntime) Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	client := llm.NewClient(llm.Options{BaseURL: r.baseURL + "/v1"})
	return client.StreamChatMessages(ctx, messages, gen, onDelta)
}

// Unload 通知运行时释放驻留模型。失败只记录日志，驻留状态由上层重置。
func (r *sidecarRuntime) Unload() {
	req, err := http.NewRequest("POST", r.baseURL+"/admin/unload", nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		log.Warnf("通知运行时卸载失败: %v", err)
		return
	}
	resp.Body.Close()
}
