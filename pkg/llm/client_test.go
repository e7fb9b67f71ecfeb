package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n"))
		}
	}))
}

func TestStreamChatMessagesDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		``,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Model: "test"})
	var got []string
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestStreamChatMessagesSkipsMalformedFrames(t *testing.T) {
	srv := sseServer(t, []string{
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: {not valid json`,
		`: comment line`,
		`event: ping`,
		`data: {"choices":[{"delta":{"content":"!"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"after done"}}]}`,
	})
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Model: "test"})
	var got []string
	err := client.StreamChatMessages(context.Background(), nil, nil, func(delta string) error {
		got = append(got, delta)
		return nil
	})
	require.NoError(t, err)
	// 坏帧与非 data 行被跳过，[DONE] 之后的内容不再读取
	assert.Equal(t, []string{"ok", "!"}, got)
}

func TestStreamChatMessagesSendsAuthAndParams(t *testing.T) {
	var gotAuth string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		_, _ = w.Write([]byte("data: [DONE]\n"))
	}))
	defer srv.Close()

	temp := 0.5
	maxTokens := 64
	client := NewClient(Options{BaseURL: srv.URL, APIKey: "secret", Model: "llama-3"})
	err := client.StreamChatMessages(context.Background(), []Message{{Role: "user", Content: "hi"}},
		&GenerationParams{Temperature: &temp, MaxTokens: &maxTokens}, func(string) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Contains(t, gotBody, `"model":"llama-3"`)
	assert.Contains(t, gotBody, `"stream":true`)
	assert.Contains(t, gotBody, `"temperature":0.5`)
	assert.Contains(t, gotBody, `"max_tokens":64`)
}

func TestStreamChatMessagesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, Model: "missing"})
	err := client.StreamChatMessages(context.Background(), nil, nil, func(string) error { return nil })
	require.Error(t, err)

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
	assert.Contains(t, terr.Body, "model not found")
}

func TestStreamChatMessagesUnreachable(t *testing.T) {
	client := NewClient(Options{BaseURL: "http://127.0.0.1:1", Model: "m"})
	err := client.StreamChatMessages(context.Background(), nil, nil, func(string) error { return nil })
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Error(t, terr.Err)
}

func TestListModelsOpenAIEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[{"id":"llama-3"},{"id":"qwen-2"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL})
	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama-3", "qwen-2"}, models)
}

func TestListModelsOllamaEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"gemma:2b"},{"name":"phi3"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL})
	models, err := client.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gemma:2b", "phi3"}, models)
}

func TestProbeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL})
	err := client.Probe(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusUnauthorized, terr.StatusCode)
}
