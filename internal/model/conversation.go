// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色常量，与 OpenAI 兼容接口的 role 字段一致。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultConversationTitle 是新建会话的占位标题。
// 首条用户消息发送时，若标题仍是该占位值，则由消息内容派生标题。
const DefaultConversationTitle = "New Conversation"

// Conversation 代表一个持久化的会话线程（标题 + 时间戳 + 所用模型）。
// 消息列表单独存放，见 Message。
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"modelId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message 代表会话中的一条消息。消息按插入顺序追加，定稿后不再修改。
// Failed 标记生成中断的助手消息：部分文本仍被保留并持久化。
type Message struct {
	ConversationID string    `json:"conversationId,omitempty"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Failed         bool      `json:"failed,omitempty"`
}
