package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/kv"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// 本地状态的固定键：界面偏好与账号服务的登录态各占一个键。
const (
	themeKey      = "settings:theme"
	panelWidthKey = "settings:chat_panel_width"
	authTokenKey  = "auth:token"
	authUserKey   = "auth:user"
)

// SettingsRepository 管理固定键下的界面偏好与登录态。
type SettingsRepository interface {
	GetTheme(ctx context.Context) (string, error)
	SetTheme(ctx context.Context, theme string) error
	GetPanelWidth(ctx context.Context) (string, error)
	SetPanelWidth(ctx context.Context, width string) error
	GetAuthToken(ctx context.Context) (string, error)
	SetAuth(ctx context.Context, tok string, user *model.User) error
	GetAuthUser(ctx context.Context) (*model.User, error)
	ClearAuth(ctx context.Context) error
}

type kvSettingsRepository struct {
	store kv.Store
}

// NewSettingsRepository 创建一个基于键值存储的 SettingsRepository。
func NewSettingsRepository(store kv.Store) SettingsRepository {
	return &kvSettingsRepository{store: store}
}

// getOr 读取一个键，缺失时返回默认值。
func (r *kvSettingsRepository) getOr(ctx context.Context, key, fallback string) (string, error) {
	val, err := r.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return fallback, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %q: %w", key, err)
	}
	return val, nil
}

func (r *kvSettingsRepository) GetTheme(ctx context.Context) (string, error) {
	return r.getOr(ctx, themeKey, "dark")
}

func (r *kvSettingsRepository) SetTheme(ctx context.Context, theme string) error {
	return r.store.Set(ctx, themeKey, theme)
}

func (r *kvSettingsRepository) GetPanelWidth(ctx context.Context) (string, error) {
	return r.getOr(ctx, panelWidthKey, "")
}

func (r *kvSettingsRepository) SetPanelWidth(ctx context.Context, width string) error {
	return r.store.Set(ctx, panelWidthKey, width)
}

func (r *kvSettingsRepository) GetAuthToken(ctx context.Context) (string, error) {
	return r.getOr(ctx, authTokenKey, "")
}

// SetAuth 保存账号服务签发的令牌与用户档案。
func (r *kvSettingsRepository) SetAuth(ctx context.Context, tok string, user *model.User) error {
	if err := r.store.Set(ctx, authTokenKey, tok); err != nil {
		return err
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user profile: %w", err)
	}
	return r.store.Set(ctx, authUserKey, string(data))
}

func (r *kvSettingsRepository) GetAuthUser(ctx context.Context) (*model.User, error) {
	raw, err := r.store.Get(ctx, authUserKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user profile: %w", err)
	}
	var user model.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Warnf("用户档案 JSON 损坏，按未登录处理: %v", err)
		return nil, nil
	}
	return &user, nil
}

func (r *kvSettingsRepository) ClearAuth(ctx context.Context) error {
	return r.store.Delete(ctx, authTokenKey, authUserKey)
}
