package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
)

// memWeights 是 WeightStore 的内存实现。
type memWeights struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemWeights() *memWeights {
	return &memWeights{data: make(map[string][]byte)}
}

func (m *memWeights) Exists(ctx context.Context, modelID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[modelID]
	return ok, nil
}

func (m *memWeights) Put(ctx context.Context, modelID string, r io.Reader, size int64) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[modelID] = b
	m.mu.Unlock()
	return nil
}

func (m *memWeights) Get(ctx context.Context, modelID string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[modelID]
	if !ok {
		return nil, errors.New("weights not cached")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memWeights) Remove(ctx context.Context, modelID string) error {
	m.mu.Lock()
	delete(m.data, modelID)
	m.mu.Unlock()
	return nil
}

// recordRuntime 记录 Load/Unload 调用及收到的权重内容。
type recordRuntime struct {
	loaded   []string
	weights  []byte
	unloads  int
	loadErr  error
	generate func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error
}

func (r *recordRuntime) Load(ctx context.Context, modelID string, weights io.Reader) error {
	if r.loadErr != nil {
		return r.loadErr
	}
	b, err := io.ReadAll(weights)
	if err != nil {
		return err
	}
	r.loaded = append(r.loaded, modelID)
	r.weights = b
	return nil
}

func (r *recordRuntime) Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	if r.generate != nil {
		return r.generate(ctx, messages, gen, onDelta)
	}
	return nil
}

func (r *recordRuntime) Unload() { r.unloads++ }

func TestListCandidateModelsAllWhitelisted(t *testing.T) {
	eng := NewLocalEngine(&recordRuntime{}, newMemWeights(), "http://hub")
	models := eng.ListCandidateModels()
	require.NotEmpty(t, models)
	for _, m := range models {
		id := strings.ToLower(m.ID)
		found := false
		for _, fam := range allowedFamilies {
			if strings.Contains(id, fam) {
				found = true
				break
			}
		}
		assert.True(t, found, "model %s not in any allowed family", m.ID)
		assert.Contains(t, []string{"small", "medium", "large"}, m.SizeClass)
	}
}

func TestFilterByFamilyDropsUnknown(t *testing.T) {
	in := []ModelInfo{
		{ID: "Llama-3.2-1B-Instruct-q4f16_1"},
		{ID: "stable-diffusion-xl"},
		{ID: "Qwen2.5-0.5B-Instruct-q4f16_1"},
	}
	out := filterByFamily(in)
	require.Len(t, out, 2)
	assert.Equal(t, in[0].ID, out[0].ID)
	assert.Equal(t, in[2].ID, out[1].ID)
}

func TestLoadDownloadsAndCaches(t *testing.T) {
	payload := []byte("fake-weights-content")
	var hits int
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/test-model/weights.bin", r.URL.Path)
		_, _ = w.Write(payload)
	}))
	defer hub.Close()

	weights := newMemWeights()
	runtime := &recordRuntime{}
	eng := NewLocalEngine(runtime, weights, hub.URL)

	var percents []float64
	err := eng.Load(context.Background(), "test-model", func(text string, pct float64) {
		percents = append(percents, pct)
	})
	require.NoError(t, err)

	// 权重进入缓存并完整到达运行时
	cached, err := weights.Exists(context.Background(), "test-model")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, []string{"test-model"}, runtime.loaded)
	assert.Equal(t, payload, runtime.weights)

	// 进度收敛到 100
	require.NotEmpty(t, percents)
	assert.Equal(t, float64(100), percents[len(percents)-1])

	// 第二次加载命中缓存，不再访问模型仓库
	require.NoError(t, eng.Load(context.Background(), "test-model", nil))
	assert.Equal(t, 1, hits)
}

func TestLoadDownloadFailure(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer hub.Close()

	eng := NewLocalEngine(&recordRuntime{}, newMemWeights(), hub.URL)
	err := eng.Load(context.Background(), "missing-model", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestLoadRuntimeFailure(t *testing.T) {
	weights := newMemWeights()
	require.NoError(t, weights.Put(context.Background(), "test-model", bytes.NewReader([]byte("w")), 1))

	runtime := &recordRuntime{loadErr: errors.New("init failed")}
	eng := NewLocalEngine(runtime, weights, "http://unused")
	err := eng.Load(context.Background(), "test-model", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init failed")
}

func TestDeleteCachedRemovesWeights(t *testing.T) {
	weights := newMemWeights()
	require.NoError(t, weights.Put(context.Background(), "test-model", bytes.NewReader([]byte("w")), 1))

	eng := NewLocalEngine(&recordRuntime{}, weights, "http://unused")
	require.NoError(t, eng.DeleteCached(context.Background(), "test-model"))

	cached, err := weights.Exists(context.Background(), "test-model")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestCachedSetReportsPerModel(t *testing.T) {
	weights := newMemWeights()
	require.NoError(t, weights.Put(context.Background(), "cached-model", bytes.NewReader([]byte("w")), 1))

	eng := NewLocalEngine(&recordRuntime{}, weights, "http://unused")
	set, err := eng.CachedSet(context.Background(), []string{"cached-model", "other-model"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"cached-model": true, "other-model": false}, set)
}
