package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BARKKNIGHT/local-ai-chat/internal/engine"
	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
)

// fakeLocal 是测试用的本地引擎桩。
type fakeLocal struct {
	mu         sync.Mutex
	unloads    int
	deleted    []string
	loadFn     func(ctx context.Context, modelID string, onProgress engine.ProgressFunc) error
	generateFn func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error
}

func (f *fakeLocal) ListCandidateModels() []engine.ModelInfo { return nil }

func (f *fakeLocal) IsCached(ctx context.Context, modelID string) (bool, error) { return false, nil }

func (f *fakeLocal) CachedSet(ctx context.Context, modelIDs []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (f *fakeLocal) Load(ctx context.Context, modelID string, onProgress engine.ProgressFunc) error {
	if f.loadFn != nil {
		return f.loadFn(ctx, modelID, onProgress)
	}
	return nil
}

func (f *fakeLocal) Unload() {
	f.mu.Lock()
	f.unloads++
	f.mu.Unlock()
}

func (f *fakeLocal) unloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unloads
}

func (f *fakeLocal) Generate(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	if f.generateFn != nil {
		return f.generateFn(ctx, messages, gen, onDelta)
	}
	return nil
}

func (f *fakeLocal) DeleteCached(ctx context.Context, modelID string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, modelID)
	f.mu.Unlock()
	return nil
}

// fakeRemote 是测试用的远程客户端桩。
type fakeRemote struct {
	probeErr error
	models   []string
	streamFn func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error
}

func (f *fakeRemote) StreamChatMessages(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
	if f.streamFn != nil {
		return f.streamFn(ctx, messages, gen, onDelta)
	}
	return nil
}

func (f *fakeRemote) ListModels(ctx context.Context) ([]string, error) {
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.models, nil
}

func (f *fakeRemote) Probe(ctx context.Context) error { return f.probeErr }

// readyLocalManager 构造一个已加载模型、处于 ready 状态的本地模式管理器。
func readyLocalManager(t *testing.T, local *fakeLocal) *Manager {
	t.Helper()
	m := NewManager(model.ModeLocal, local, nil, nil)
	require.NoError(t, m.SelectModel(context.Background(), "test-model"))
	require.Equal(t, model.StatusReady, m.State().Status)
	return m
}

func waitForStatus(t *testing.T, m *Manager, want model.SessionStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.State().Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for status %q, got %q", want, m.State().Status)
}

func TestGenerateAccumulatesMonotonically(t *testing.T) {
	local := &fakeLocal{
		generateFn: func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
			for _, d := range []string{"He", "llo", "", ", ", "world"} {
				if err := onDelta(d); err != nil {
					return err
				}
			}
			return nil
		},
	}
	m := readyLocalManager(t, local)

	var seen []string
	final, err := m.Generate(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, "", func(acc string) {
		seen = append(seen, acc)
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", final)
	assert.Equal(t, model.StatusReady, m.State().Status)

	// 空增量不触发回调，每次回调都是前一次的严格扩展
	require.Equal(t, []string{"He", "Hello", "Hello, ", "Hello, world"}, seen)
	for i := 1; i < len(seen); i++ {
		assert.True(t, strings.HasPrefix(seen[i], seen[i-1]))
		assert.Greater(t, len(seen[i]), len(seen[i-1]))
	}
}

func TestGenerateIncludesSystemPromptAndHistory(t *testing.T) {
	var got []llm.Message
	local := &fakeLocal{
		generateFn: func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
			got = messages
			return onDelta("ok")
		},
	}
	m := readyLocalManager(t, local)

	history := []model.Message{
		{Role: model.RoleUser, Content: "q1"},
		{Role: model.RoleAssistant, Content: "a1"},
		{Role: model.RoleUser, Content: "q2"},
	}
	_, err := m.Generate(context.Background(), history, "be brief", nil)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, llm.Message{Role: model.RoleSystem, Content: "be brief"}, got[0])
	assert.Equal(t, "q1", got[1].Content)
	assert.Equal(t, "a1", got[2].Content)
	assert.Equal(t, "q2", got[3].Content)
}

func TestGenerateRejectsSecondInFlight(t *testing.T) {
	release := make(chan struct{})
	local := &fakeLocal{
		generateFn: func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
			if err := onDelta("first"); err != nil {
				return err
			}
			<-release
			return nil
		},
	}
	m := readyLocalManager(t, local)

	done := make(chan struct{})
	go func() {
		defer close(done)
		final, err := m.Generate(context.Background(), nil, "", nil)
		assert.NoError(t, err)
		assert.Equal(t, "first", final)
	}()
	waitForStatus(t, m, model.StatusGenerating)

	// 第二次调用被拒绝，且不影响在途生成
	_, err := m.Generate(context.Background(), nil, "", nil)
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	<-done
	assert.Equal(t, model.StatusReady, m.State().Status)
}

func TestGenerateRequiresReady(t *testing.T) {
	m := NewManager(model.ModeLocal, &fakeLocal{}, nil, nil)
	_, err := m.Generate(context.Background(), nil, "", nil)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestGenerateFailureKeepsPartialWithAnnotation(t *testing.T) {
	local := &fakeLocal{
		generateFn: func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
			if err := onDelta("partial text"); err != nil {
				return err
			}
			return errors.New("connection reset")
		},
	}
	m := readyLocalManager(t, local)

	var last string
	final, err := m.Generate(context.Background(), nil, "", func(acc string) { last = acc })
	require.Error(t, err)

	assert.Equal(t, "partial text\n\n[生成中断: connection reset]", final)
	// 错误标注同样经由 onDelta 送达
	assert.Equal(t, final, last)
	state := m.State()
	assert.Equal(t, model.StatusError, state.Status)
	assert.Contains(t, state.Error, "connection reset")
}

func TestCancelFinalizesPartialWithoutError(t *testing.T) {
	started := make(chan struct{})
	local := &fakeLocal{
		generateFn: func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
			if err := onDelta("partial"); err != nil {
				return err
			}
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	m := readyLocalManager(t, local)

	type result struct {
		final string
		err   error
	}
	results := make(chan result, 1)
	go func() {
		final, err := m.Generate(context.Background(), nil, "", nil)
		results <- result{final, err}
	}()
	<-started
	m.Cancel()

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "partial", res.final)
	assert.Equal(t, model.StatusReady, m.State().Status)
	assert.Empty(t, m.State().Error)
}

func TestCancelWithoutInFlightIsNoop(t *testing.T) {
	m := readyLocalManager(t, &fakeLocal{})
	m.Cancel()
	assert.Equal(t, model.StatusReady, m.State().Status)
}

func TestSelectModelUnloadsPrevious(t *testing.T) {
	local := &fakeLocal{}
	m := readyLocalManager(t, local)
	require.NoError(t, m.SelectModel(context.Background(), "other-model"))

	assert.Equal(t, 1, local.unloadCount())
	state := m.State()
	assert.Equal(t, model.StatusReady, state.Status)
	assert.Equal(t, "other-model", state.ActiveModel)
}

func TestSelectModelSameModelIsNoop(t *testing.T) {
	local := &fakeLocal{}
	m := readyLocalManager(t, local)
	require.NoError(t, m.SelectModel(context.Background(), "test-model"))
	assert.Equal(t, 0, local.unloadCount())
}

func TestSelectModelProgressNeverDecreases(t *testing.T) {
	var percents []float64
	local := &fakeLocal{
		loadFn: func(ctx context.Context, modelID string, onProgress engine.ProgressFunc) error {
			// 乱序上报，管理器应钳制为单调不减
			for _, p := range []float64{10, 40, 30, 80, 75, 100} {
				onProgress("loading", p)
			}
			return nil
		},
	}
	m := NewManager(model.ModeLocal, local, nil, nil)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			if ev.Type == EventStateChanged && ev.State.Status == model.StatusLoading {
				percents = append(percents, ev.State.Progress.Percent)
			}
		}
	}()

	require.NoError(t, m.SelectModel(context.Background(), "test-model"))
	unsubscribe()
	<-done

	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1])
	}
}

func TestSelectModelFailureAllowsRetry(t *testing.T) {
	attempts := 0
	local := &fakeLocal{
		loadFn: func(ctx context.Context, modelID string, onProgress engine.ProgressFunc) error {
			attempts++
			if attempts == 1 {
				return errors.New("download failed")
			}
			return nil
		},
	}
	m := NewManager(model.ModeLocal, local, nil, nil)

	err := m.SelectModel(context.Background(), "test-model")
	require.Error(t, err)
	state := m.State()
	assert.Equal(t, model.StatusError, state.Status)
	assert.Empty(t, state.ActiveModel)

	require.NoError(t, m.SelectModel(context.Background(), "test-model"))
	assert.Equal(t, model.StatusReady, m.State().Status)
}

func TestSelectModeWrongModeOperations(t *testing.T) {
	m := NewManager(model.ModeLocal, &fakeLocal{}, nil, nil)
	err := m.UseEndpoint(context.Background(), "http://localhost:1234/v1", "m")
	assert.ErrorIs(t, err, ErrWrongMode)

	require.NoError(t, m.SelectMode(model.ModeRemote))
	err = m.SelectModel(context.Background(), "test-model")
	assert.ErrorIs(t, err, ErrWrongMode)
}

func TestSelectModeUnloadsResidentModel(t *testing.T) {
	local := &fakeLocal{}
	m := readyLocalManager(t, local)

	require.NoError(t, m.SelectMode(model.ModeRemote))
	assert.Equal(t, 1, local.unloadCount())

	state := m.State()
	assert.Equal(t, model.ModeRemote, state.Mode)
	assert.Equal(t, model.StatusIdle, state.Status)
	assert.Empty(t, state.ActiveModel)
}

func TestUseEndpointProbe(t *testing.T) {
	remote := &fakeRemote{models: []string{"llama-3"}}
	factory := func(baseURL, modelID string) llm.Client { return remote }
	m := NewManager(model.ModeRemote, &fakeLocal{}, factory, nil)

	require.NoError(t, m.UseEndpoint(context.Background(), "http://localhost:1234/v1", "llama-3"))
	state := m.State()
	assert.Equal(t, model.StatusReady, state.Status)
	assert.Equal(t, "http://localhost:1234/v1", state.Endpoint)

	models, err := m.RemoteModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama-3"}, models)
}

func TestUseEndpointProbeFailure(t *testing.T) {
	remote := &fakeRemote{probeErr: errors.New("connection refused")}
	factory := func(baseURL, modelID string) llm.Client { return remote }
	m := NewManager(model.ModeRemote, &fakeLocal{}, factory, nil)

	err := m.UseEndpoint(context.Background(), "http://localhost:9/v1", "m")
	require.Error(t, err)
	state := m.State()
	assert.Equal(t, model.StatusError, state.Status)
	assert.Contains(t, state.Error, "connection refused")

	_, err = m.RemoteModels(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestEvictActiveModelUnloadsFirst(t *testing.T) {
	local := &fakeLocal{}
	m := readyLocalManager(t, local)

	require.NoError(t, m.Evict(context.Background(), "test-model"))
	assert.Equal(t, 1, local.unloadCount())
	assert.Equal(t, []string{"test-model"}, local.deleted)

	state := m.State()
	assert.Equal(t, model.StatusIdle, state.Status)
	assert.Empty(t, state.ActiveModel)
}

func TestEvictInactiveModelKeepsEngine(t *testing.T) {
	local := &fakeLocal{}
	m := readyLocalManager(t, local)

	require.NoError(t, m.Evict(context.Background(), "other-model"))
	assert.Equal(t, 0, local.unloadCount())
	assert.Equal(t, model.StatusReady, m.State().Status)
}

func TestSubscribePublishesDeltas(t *testing.T) {
	local := &fakeLocal{
		generateFn: func(ctx context.Context, messages []llm.Message, gen *llm.GenerationParams, onDelta llm.DeltaFunc) error {
			if err := onDelta("a"); err != nil {
				return err
			}
			return onDelta("b")
		},
	}
	m := readyLocalManager(t, local)

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	_, err := m.Generate(context.Background(), nil, "", nil)
	require.NoError(t, err)

	var deltas []string
	for {
		select {
		case ev := <-ch:
			if ev.Type == EventGenerationDelta {
				deltas = append(deltas, ev.Text)
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, []string{"a", "ab"}, deltas)
}
