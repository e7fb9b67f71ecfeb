package model

// EngineMode 表示推理会话当前使用的引擎类型。
type EngineMode string

const (
	// ModeLocal 表示使用进程内的本地推理引擎。
	ModeLocal EngineMode = "local"
	// ModeRemote 表示使用远程 OpenAI 兼容端点。
	ModeRemote EngineMode = "remote"
)

// SessionStatus 表示推理会话所处的状态。
type SessionStatus string

const (
	StatusIdle       SessionStatus = "idle"
	StatusLoading    SessionStatus = "loading"
	StatusChecking   SessionStatus = "checking"
	StatusReady      SessionStatus = "ready"
	StatusGenerating SessionStatus = "generating"
	StatusError      SessionStatus = "error"
)

// LoadProgress 描述模型加载进度。Percent 单调不减，范围 [0,100]。
type LoadProgress struct {
	Text    string  `json:"text"`
	Percent float64 `json:"percent"`
}

// SessionState 是推理会话管理器对外暴露的状态快照。
// 每个客户端仅有一个活跃会话。
type SessionState struct {
	Mode        EngineMode    `json:"mode"`
	Status      SessionStatus `json:"status"`
	ActiveModel string        `json:"activeModel,omitempty"`
	Endpoint    string        `json:"endpoint,omitempty"`
	Progress    LoadProgress  `json:"progress"`
	Error       string        `json:"error,omitempty"`
}
