// Package llm provides a streaming client for OpenAI-compatible chat endpoints.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DeltaFunc 在每个流式分块解码后被调用，参数是该分块的增量文本。
// 返回非 nil 错误会中断整个流。
type DeltaFunc func(delta string) error

// Client defines the interface for a remote chat-completions client.
type Client interface {
	// StreamChatMessages 以 role-based 消息与可选生成参数调用聊天接口，
	// 并将每个分块的增量文本依次交给 onDelta。
	StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) error
	// ListModels 查询端点的模型列表，保持端点返回的顺序。
	ListModels(ctx context.Context) ([]string, error)
	// Probe 对端点做一次轻量可达性探测（不传输任何模型权重）。
	Probe(ctx context.Context) error
}

// Options 描述一个远程端点。
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
}

type openAIClient struct {
	opts   Options
	client *http.Client
}

// NewClient creates a new client for the given endpoint.
func NewClient(opts Options) Client {
	return &openAIClient{
		opts:   opts,
		client: &http.Client{},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// TransportError 表示端点不可达或返回了非 2xx 状态码。
// 可用时会携带响应状态与响应体，便于调用方原样展示。
type TransportError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("endpoint unreachable: %v", e.Err)
	}
	return fmt.Sprintf("endpoint returned %s: %s", e.Status, e.Body)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamChatMessages calls the chat completions API and streams the response.
func (c *openAIClient) StreamChatMessages(ctx context.Context, messages []Message, gen *GenerationParams, onDelta DeltaFunc) error {
	reqBody := chatRequest{
		Model:    c.opts.Model,
		Messages: messages,
		Stream:   true,
	}
	if gen != nil {
		reqBody.Temperature = gen.Temperature
		reqBody.TopP = gen.TopP
		reqBody.MaxTokens = gen.MaxTokens
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.opts.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return &TransportError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(bodyBytes)}
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		// 非 data: 行（注释、空行、event: 等）直接忽略
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		// 单个无法解析的分块跳过，不中断整个流
		var chunk chatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if len(chunk.Choices) > 0 {
			if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
				return fmt.Errorf("failed to deliver delta: %w", err)
			}
		}
	}
	return nil
}
