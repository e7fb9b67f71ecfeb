package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
)

// SettingsHandler 处理界面偏好设置的读写。
type SettingsHandler struct {
	settingsRepo repository.SettingsRepository
}

// NewSettingsHandler 创建一个新的 SettingsHandler。
func NewSettingsHandler(settingsRepo repository.SettingsRepository) *SettingsHandler {
	return &SettingsHandler{settingsRepo: settingsRepo}
}

// settingsPayload 是设置接口的读写负载。
type settingsPayload struct {
	Theme      string `json:"theme"`
	PanelWidth string `json:"panelWidth"`
}

// Get 返回当前界面偏好。缺失的键回落到默认值。
func (h *SettingsHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	theme, err := h.settingsRepo.GetTheme(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取设置失败", "data": nil})
		return
	}
	width, err := h.settingsRepo.GetPanelWidth(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取设置失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": settingsPayload{Theme: theme, PanelWidth: width}})
}

// Update 写入界面偏好。只更新请求中出现的非空字段。
func (h *SettingsHandler) Update(c *gin.Context) {
	var req settingsPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	ctx := c.Request.Context()
	if req.Theme != "" {
		if req.Theme != "dark" && req.Theme != "light" {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未知的主题", "data": nil})
			return
		}
		if err := h.settingsRepo.SetTheme(ctx, req.Theme); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存设置失败", "data": nil})
			return
		}
	}
	if req.PanelWidth != "" {
		if err := h.settingsRepo.SetPanelWidth(ctx, req.PanelWidth); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "保存设置失败", "data": nil})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
