// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BARKKNIGHT/local-ai-chat/internal/config"
	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/internal/session"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// titleMaxRunes 是派生标题的总长度上限（含省略号）。
const titleMaxRunes = 30

// ChatService 定义了聊天编排操作的接口：持久化用户消息、驱动会话管理器
// 流式生成、持久化最终助手消息并维护会话元数据。
type ChatService interface {
	NewConversation(ctx context.Context, modelID string) (*model.Conversation, error)
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	StreamResponse(ctx context.Context, conversationID, query string, ws *websocket.Conn) error
}

type chatService struct {
	manager          *session.Manager
	conversationRepo repository.ConversationRepository
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(manager *session.Manager, conversationRepo repository.ConversationRepository) ChatService {
	return &chatService{
		manager:          manager,
		conversationRepo: conversationRepo,
	}
}

// NewConversation 新建一个占位标题的会话并插入列表头部。
func (s *chatService) NewConversation(ctx context.Context, modelID string) (*model.Conversation, error) {
	return s.conversationRepo.Create(ctx, model.DefaultConversationTitle, modelID)
}

func (s *chatService) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	return s.conversationRepo.List(ctx)
}

func (s *chatService) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.conversationRepo.GetMessages(ctx, conversationID)
}

func (s *chatService) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.conversationRepo.Delete(ctx, conversationID)
}

// StreamResponse 编排一轮完整的问答：
// 持久化用户消息（必要时派生标题并置顶会话）→ 驱动会话管理器流式生成，
// 将每个增量写回 WebSocket → 持久化最终助手消息。
// 生成中断时部分文本仍会定稿保存，消息带 failed 标记。
func (s *chatService) StreamResponse(ctx context.Context, conversationID, query string, ws *websocket.Conn) error {
	conv, err := s.conversationRepo.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	history, err := s.conversationRepo.GetMessages(ctx, conversationID)
	if err != nil {
		log.Errorf("Failed to load conversation history: %v", err)
		history = []model.Message{}
	}

	// 1. 持久化用户消息
	userMsg := model.Message{Role: model.RoleUser, Content: query, Timestamp: time.Now()}
	if err := s.conversationRepo.AppendMessage(ctx, conversationID, userMsg); err != nil {
		return fmt.Errorf("failed to persist user message: %w", err)
	}

	// 2. 更新会话元数据：占位标题由首条用户消息派生，updatedAt 置顶会话
	now := time.Now()
	patch := repository.ConversationPatch{UpdatedAt: &now}
	if conv.Title == model.DefaultConversationTitle {
		title := DeriveTitle(query)
		patch.Title = &title
	}
	if err := s.conversationRepo.Touch(ctx, conversationID, patch); err != nil {
		log.Errorf("Failed to touch conversation %s: %v", conversationID, err)
	}

	// 3. 驱动会话管理器生成；onDelta 收到累计文本，这里换算回增量下发
	outbound := append(history, userMsg)
	sent := 0
	onDelta := func(accumulated string) {
		chunk := accumulated[sent:]
		sent = len(accumulated)
		if chunk == "" {
			return
		}
		payload := map[string]string{"chunk": chunk}
		b, _ := json.Marshal(payload)
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			// 客户端掉线后增量静默丢弃，生成由调用方通过 Cancel 终止
			log.Warnf("写入 WebSocket 增量失败: %v", err)
		}
	}

	final, genErr := s.manager.Generate(ctx, outbound, config.Conf.LLM.Prompt.Rules, onDelta)
	if genErr != nil && final == "" {
		// 生成未能开始（未就绪或已有在途生成），本轮没有助手消息
		return genErr
	}

	// 4. 持久化最终助手消息。中断的部分文本同样定稿保存（fail-soft）。
	// 使用后台上下文，即使原始请求被取消也要保存已生成的内容。
	assistantMsg := model.Message{
		Role:      model.RoleAssistant,
		Content:   final,
		Timestamp: time.Now(),
		Failed:    genErr != nil,
	}
	if err := s.conversationRepo.AppendMessage(context.Background(), conversationID, assistantMsg); err != nil {
		// 只记录错误，不返回给客户端，因为流式响应已经送达
		log.Errorf("Failed to save assistant message: %v", err)
	}

	SendCompletion(ws)
	return genErr
}

// DeriveTitle 从首条用户消息派生会话标题：
// 超长时截断为 30 个字符（含省略号）。
func DeriveTitle(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= titleMaxRunes {
		return string(runes)
	}
	return string(runes[:titleMaxRunes-1]) + "…"
}

// SendCompletion 发送完成通知 JSON
func SendCompletion(ws *websocket.Conn) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = ws.WriteMessage(websocket.TextMessage, b)
}
