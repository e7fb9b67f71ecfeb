// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/kv"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/token"
)

const (
	// 会话列表整体存在一个键下，头部是最近更新的会话
	conversationListKey = "chat:conversations"
	// 每个会话的消息列表键，按会话 ID 参数化
	messagesKeyFormat = "chat:messages:%s"
)

// ErrConversationNotFound 表示指定的会话不存在。
var ErrConversationNotFound = errors.New("repository: conversation not found")

// ConversationPatch 描述对会话记录的部分更新。
type ConversationPatch struct {
	Title     *string
	ModelID   *string
	UpdatedAt *time.Time
}

// ConversationRepository 定义了会话与消息的存储操作。
// 消息只追加不重排；会话列表按最近更新时间从新到旧排列。
type ConversationRepository interface {
	Create(ctx context.Context, title, modelID string) (*model.Conversation, error)
	Get(ctx context.Context, id string) (*model.Conversation, error)
	List(ctx context.Context) ([]model.Conversation, error)
	Touch(ctx context.Context, id string, patch ConversationPatch) error
	AppendMessage(ctx context.Context, id string, msg model.Message) error
	GetMessages(ctx context.Context, id string) ([]model.Message, error)
	Delete(ctx context.Context, id string) error
}

type kvConversationRepository struct {
	store kv.Store
}

// NewConversationRepository 创建一个基于键值存储的 ConversationRepository。
func NewConversationRepository(store kv.Store) ConversationRepository {
	return &kvConversationRepository{store: store}
}

// loadList 读取会话列表。键不存在或内容损坏时按空列表处理，从不上抛。
func (r *kvConversationRepository) loadList(ctx context.Context) ([]model.Conversation, error) {
	raw, err := r.store.Get(ctx, conversationListKey)
	if errors.Is(err, kv.ErrNotFound) {
		return []model.Conversation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation list: %w", err)
	}
	var list []model.Conversation
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		log.Warnf("会话列表 JSON 损坏，按空列表处理: %v", err)
		return []model.Conversation{}, nil
	}
	return list, nil
}

func (r *kvConversationRepository) saveList(ctx context.Context, list []model.Conversation) error {
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation list: %w", err)
	}
	return r.store.Set(ctx, conversationListKey, string(data))
}

// Create 新建一个会话并插入列表头部。
// ID 为 128 位随机十六进制串，碰撞概率可忽略。
func (r *kvConversationRepository) Create(ctx context.Context, title, modelID string) (*model.Conversation, error) {
	list, err := r.loadList(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	conv := model.Conversation{
		ID:        token.GenerateRandomString(16),
		Title:     title,
		ModelID:   modelID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	list = append([]model.Conversation{conv}, list...)
	if err := r.saveList(ctx, list); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *kvConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	list, err := r.loadList(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, ErrConversationNotFound
}

// List 返回全部会话，最近更新的在前。
func (r *kvConversationRepository) List(ctx context.Context) ([]model.Conversation, error) {
	return r.loadList(ctx)
}

// Touch 将 patch 合并进会话记录；若更新了 UpdatedAt，则把该会话移到列表头部。
func (r *kvConversationRepository) Touch(ctx context.Context, id string, patch ConversationPatch) error {
	list, err := r.loadList(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrConversationNotFound
	}

	conv := list[idx]
	if patch.Title != nil {
		conv.Title = *patch.Title
	}
	if patch.ModelID != nil {
		conv.ModelID = *patch.ModelID
	}
	bumped := false
	if patch.UpdatedAt != nil && !patch.UpdatedAt.Equal(conv.UpdatedAt) {
		conv.UpdatedAt = *patch.UpdatedAt
		bumped = true
	}

	if bumped {
		// 移到头部，保持其余顺序不变
		list = append(list[:idx], list[idx+1:]...)
		list = append([]model.Conversation{conv}, list...)
	} else {
		list[idx] = conv
	}
	return r.saveList(ctx, list)
}

// AppendMessage 将消息追加到会话末尾。只追加，不重排。
func (r *kvConversationRepository) AppendMessage(ctx context.Context, id string, msg model.Message) error {
	msgs, err := r.GetMessages(ctx, id)
	if err != nil {
		return err
	}
	msg.ConversationID = id
	msgs = append(msgs, msg)

	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal messages: %w", err)
	}
	return r.store.Set(ctx, fmt.Sprintf(messagesKeyFormat, id), string(data))
}

// GetMessages 读取会话的全部消息。键不存在或内容损坏时返回空列表。
func (r *kvConversationRepository) GetMessages(ctx context.Context, id string) ([]model.Message, error) {
	raw, err := r.store.Get(ctx, fmt.Sprintf(messagesKeyFormat, id))
	if errors.Is(err, kv.ErrNotFound) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	var msgs []model.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		log.Warnf("会话 %s 的消息 JSON 损坏，按空列表处理: %v", id, err)
		return []model.Message{}, nil
	}
	return msgs, nil
}

// Delete 删除会话记录并级联删除其全部消息。
// 先从列表摘除再删消息键，后续读取要么都可见要么都不可见。
func (r *kvConversationRepository) Delete(ctx context.Context, id string) error {
	list, err := r.loadList(ctx)
	if err != nil {
		return err
	}

	idx := -1
	for i := range list {
		if list[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrConversationNotFound
	}

	list = append(list[:idx], list[idx+1:]...)
	if err := r.saveList(ctx, list); err != nil {
		return err
	}
	return r.store.Delete(ctx, fmt.Sprintf(messagesKeyFormat, id))
}
