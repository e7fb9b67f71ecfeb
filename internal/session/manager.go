// Package session 实现了推理会话管理器：引擎模式与模型生命周期的状态机，
// 以及同一时刻至多一次在途生成的流式编排。
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BARKKNIGHT/local-ai-chat/internal/engine"
	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/llm"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

var (
	// ErrNotReady 表示引擎尚未就绪，无法开始生成。
	ErrNotReady = errors.New("session: engine not ready")
	// ErrBusy 表示已有一次生成或加载在途，新请求被拒绝（不排队）。
	ErrBusy = errors.New("session: operation already in flight")
	// ErrWrongMode 表示该操作与当前引擎模式不匹配。
	ErrWrongMode = errors.New("session: operation not valid in current mode")
)

// 生成中断时追加到累计文本末尾的标注前缀。
const errAnnotationPrefix = "\n\n[生成中断: "

// probeTimeout 限定远程端点可达性探测的时长。
const probeTimeout = 5 * time.Second

// RemoteFactory 按端点参数构造远程客户端，便于测试注入。
type RemoteFactory func(baseURL, modelID string) llm.Client

// Manager 持有当前引擎模式、模型/端点就绪状态与加载进度，
// 保证同一时刻至多一次在途生成，并向订阅者发布状态与增量事件。
type Manager struct {
	mu          sync.Mutex
	mode        model.EngineMode
	status      model.SessionStatus
	activeModel string
	endpoint    string
	progress    model.LoadProgress
	lastErr     string

	local     engine.Local
	newRemote RemoteFactory
	remote    llm.Client
	gen       *llm.GenerationParams

	cancelGen context.CancelFunc
	events    *bus
}

// NewManager 创建一个新的会话管理器，初始状态为 idle。
func NewManager(mode model.EngineMode, local engine.Local, newRemote RemoteFactory, gen *llm.GenerationParams) *Manager {
	return &Manager{
		mode:      mode,
		status:    model.StatusIdle,
		local:     local,
		newRemote: newRemote,
		gen:       gen,
		events:    newBus(),
	}
}

// State 返回当前会话状态的快照。
func (m *Manager) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() model.SessionState {
	return model.SessionState{
		Mode:        m.mode,
		Status:      m.status,
		ActiveModel: m.activeModel,
		Endpoint:    m.endpoint,
		Progress:    m.progress,
		Error:       m.lastErr,
	}
}

// Subscribe 返回会话事件通道与取消订阅函数。
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

func (m *Manager) publishState() {
	m.events.publish(Event{Type: EventStateChanged, State: m.State()})
}

func (m *Manager) publishDelta(text string) {
	m.events.publish(Event{Type: EventGenerationDelta, Text: text})
}

// SelectMode 切换引擎模式。生成进行中禁止切换，必须等待完成或先取消。
func (m *Manager) SelectMode(mode model.EngineMode) error {
	m.mu.Lock()
	if m.status == model.StatusGenerating {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.mode == mode {
		m.mu.Unlock()
		return nil
	}
	// 离开本地模式时卸载驻留模型
	if m.mode == model.ModeLocal && m.activeModel != "" && m.status == model.StatusReady {
		m.local.Unload()
	}
	m.mode = mode
	m.status = model.StatusIdle
	m.activeModel = ""
	m.endpoint = ""
	m.remote = nil
	m.lastErr = ""
	m.progress = model.LoadProgress{}
	m.mu.Unlock()

	m.publishState()
	return nil
}

// SelectModel 在本地模式下加载指定模型。
// 同一模型已就绪或正在加载时为 no-op；加载失败后可重试。
// 成功加载新模型会先卸载旧模型，保证同一时刻只有一个模型驻留。
func (m *Manager) SelectModel(ctx context.Context, modelID string) error {
	m.mu.Lock()
	if m.mode != model.ModeLocal {
		m.mu.Unlock()
		return ErrWrongMode
	}
	if m.activeModel == modelID && (m.status == model.StatusReady || m.status == model.StatusLoading) {
		m.mu.Unlock()
		return nil
	}
	if m.status == model.StatusGenerating || m.status == model.StatusLoading {
		m.mu.Unlock()
		return ErrBusy
	}
	// 切换模型：先卸载已驻留的模型
	if m.activeModel != "" && m.status == model.StatusReady {
		m.local.Unload()
	}
	m.status = model.StatusLoading
	m.activeModel = modelID
	m.lastErr = ""
	m.progress = model.LoadProgress{Text: "准备加载", Percent: 0}
	m.mu.Unlock()
	m.publishState()

	err := m.local.Load(ctx, modelID, func(text string, percent float64) {
		m.mu.Lock()
		// 进度只进不退
		if percent < m.progress.Percent {
			percent = m.progress.Percent
		}
		if percent > 100 {
			percent = 100
		}
		m.progress = model.LoadProgress{Text: text, Percent: percent}
		m.mu.Unlock()
		m.publishState()
	})

	m.mu.Lock()
	if err != nil {
		m.status = model.StatusError
		m.activeModel = ""
		m.lastErr = err.Error()
		log.Errorf("模型加载失败: %s, error: %v", modelID, err)
	} else {
		m.status = model.StatusReady
		m.lastErr = ""
		m.progress = model.LoadProgress{Text: "加载完成", Percent: 100}
	}
	m.mu.Unlock()
	m.publishState()

	if err != nil {
		return fmt.Errorf("failed to load model %q: %w", modelID, err)
	}
	return nil
}

// UseEndpoint 在远程模式下切换端点：对模型列表 URL 做可达性探测，
// checking → ready/error，不传输任何模型权重。
func (m *Manager) UseEndpoint(ctx context.Context, baseURL, modelID string) error {
	m.mu.Lock()
	if m.mode != model.ModeRemote {
		m.mu.Unlock()
		return ErrWrongMode
	}
	if m.status == model.StatusGenerating {
		m.mu.Unlock()
		return ErrBusy
	}
	m.status = model.StatusChecking
	m.endpoint = baseURL
	m.activeModel = modelID
	m.lastErr = ""
	client := m.newRemote(baseURL, modelID)
	m.mu.Unlock()
	m.publishState()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	err := client.Probe(probeCtx)

	m.mu.Lock()
	if err != nil {
		m.status = model.StatusError
		m.lastErr = err.Error()
		m.remote = nil
	} else {
		m.status = model.StatusReady
		m.remote = client
	}
	m.mu.Unlock()
	m.publishState()

	if err != nil {
		return fmt.Errorf("endpoint probe failed: %w", err)
	}
	return nil
}

// RemoteModels 列出当前远程端点可用的模型。
func (m *Manager) RemoteModels(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	client := m.remote
	m.mu.Unlock()
	if client == nil {
		return nil, ErrNotReady
	}
	return client.ListModels(ctx)
}

// Generate 针对给定历史执行一次流式生成。
// 前置条件 status == ready，否则立即失败；生成期间的第二次调用返回 ErrBusy，
// 且不会影响在途生成的累计缓冲。
//
// onDelta 每次收到的是累计后的完整文本：只增不减，永不乱序。
// 适配器中途出错时，已累计的部分文本会追加一条内联错误标注后再回调一次，
// 状态转入 error；部分文本仍作为最终结果返回（fail-soft）。
// 用户主动取消（Cancel）不视为错误：状态回到 ready，部分文本原样定稿。
func (m *Manager) Generate(ctx context.Context, history []model.Message, systemPrompt string, onDelta func(accumulated string)) (string, error) {
	m.mu.Lock()
	if m.status == model.StatusGenerating {
		m.mu.Unlock()
		return "", ErrBusy
	}
	if m.status != model.StatusReady {
		m.mu.Unlock()
		return "", ErrNotReady
	}
	m.status = model.StatusGenerating
	genCtx, cancel := context.WithCancel(ctx)
	m.cancelGen = cancel
	mode := m.mode
	local := m.local
	remote := m.remote
	gen := m.gen
	m.mu.Unlock()
	defer cancel()
	m.publishState()

	// 出站消息列表：[system] ++ history
	msgs := make([]llm.Message, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: systemPrompt})
	}
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: h.Role, Content: h.Content})
	}

	var acc strings.Builder
	deliver := func(delta string) error {
		// 空增量跳过，不触发回调
		if delta == "" {
			return nil
		}
		acc.WriteString(delta)
		if onDelta != nil {
			onDelta(acc.String())
		}
		m.publishDelta(acc.String())
		return nil
	}

	var err error
	if mode == model.ModeLocal {
		err = local.Generate(genCtx, msgs, gen, deliver)
	} else {
		err = remote.StreamChatMessages(genCtx, msgs, gen, deliver)
	}

	canceled := genCtx.Err() != nil && errors.Is(genCtx.Err(), context.Canceled)

	m.mu.Lock()
	m.cancelGen = nil
	switch {
	case err == nil, canceled:
		// 正常结束，或用户主动停止：部分文本按最终结果处理
		m.status = model.StatusReady
		m.lastErr = ""
		err = nil
	default:
		acc.WriteString(errAnnotationPrefix + err.Error() + "]")
		m.status = model.StatusError
		m.lastErr = err.Error()
	}
	final := acc.String()
	m.mu.Unlock()

	if err != nil {
		// 错误标注也要经由一次 onDelta 送达
		if onDelta != nil {
			onDelta(final)
		}
		m.publishDelta(final)
		log.Errorf("流式生成中断: %v", err)
	}
	m.publishState()

	if err != nil {
		return final, fmt.Errorf("generation failed: %w", err)
	}
	return final, nil
}

// Cancel 中止在途生成。无在途生成时为 no-op。
func (m *Manager) Cancel() {
	m.mu.Lock()
	cancel := m.cancelGen
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Evict 清除某模型的缓存权重（仅本地模式）。
// 若目标是当前驻留模型，先卸载引擎（status → idle）再清缓存。
func (m *Manager) Evict(ctx context.Context, modelID string) error {
	m.mu.Lock()
	if m.mode != model.ModeLocal {
		m.mu.Unlock()
		return ErrWrongMode
	}
	if m.status == model.StatusGenerating || m.status == model.StatusLoading {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.activeModel == modelID {
		m.local.Unload()
		m.status = model.StatusIdle
		m.activeModel = ""
		m.progress = model.LoadProgress{}
	}
	m.mu.Unlock()
	m.publishState()

	return m.local.DeleteCached(ctx, modelID)
}

// Local 返回本地引擎适配器，供模型目录/缓存查询接口使用。
func (m *Manager) Local() engine.Local {
	return m.local
}
