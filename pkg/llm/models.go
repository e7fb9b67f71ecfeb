package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// modelsResponse 兼容两种模型列表返回格式：
// OpenAI 风格 {"data":[{"id":...}]} 与 Ollama 风格 {"models":[{"name":...}]}。
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels queries {base}/models and normalizes the response to an ordered
// list of model identifiers.
func (c *openAIClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.opts.BaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bodyBytes)}
	}

	var parsed modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	// 保持端点返回的顺序，不做去重
	var ids []string
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	for _, m := range parsed.Models {
		ids = append(ids, m.Name)
	}
	return ids, nil
}

// Probe 对模型列表 URL 做一次可达性检查。
func (c *openAIClient) Probe(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}
