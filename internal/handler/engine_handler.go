package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/session"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// EngineHandler 暴露推理会话管理器的状态与控制操作。
type EngineHandler struct {
	manager *session.Manager
}

// NewEngineHandler 创建一个新的 EngineHandler。
func NewEngineHandler(manager *session.Manager) *EngineHandler {
	return &EngineHandler{manager: manager}
}

// State 返回当前会话状态快照。
func (h *EngineHandler) State(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.manager.State()})
}

// ModeRequest 定义了切换引擎模式的请求体结构。
type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// SelectMode 切换引擎模式（local / remote）。
func (h *EngineHandler) SelectMode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	mode := model.EngineMode(req.Mode)
	if mode != model.ModeLocal && mode != model.ModeRemote {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "未知的引擎模式", "data": nil})
		return
	}

	if err := h.manager.SelectMode(mode); err != nil {
		if errors.Is(err, session.ErrBusy) {
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "生成进行中，无法切换模式", "data": nil})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "切换模式失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.manager.State()})
}

// localModelEntry 是本地模型列表的单项：候选模型及其缓存状态。
type localModelEntry struct {
	ID        string `json:"id"`
	SizeClass string `json:"sizeClass"`
	Cached    bool   `json:"cached"`
}

// Models 列出当前模式下可用的模型。
// 本地模式返回候选目录及逐个模型的缓存状态；远程模式查询端点的模型列表。
func (h *EngineHandler) Models(c *gin.Context) {
	state := h.manager.State()
	if state.Mode == model.ModeRemote {
		models, err := h.manager.RemoteModels(c.Request.Context())
		if err != nil {
			if errors.Is(err, session.ErrNotReady) {
				c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "远程端点尚未就绪", "data": nil})
				return
			}
			c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "获取远程模型列表失败", "data": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": models})
		return
	}

	candidates := h.manager.Local().ListCandidateModels()
	ids := make([]string, 0, len(candidates))
	for _, m := range candidates {
		ids = append(ids, m.ID)
	}
	cached, err := h.manager.Local().CachedSet(c.Request.Context(), ids)
	if err != nil {
		log.Errorf("查询模型缓存状态失败: %v", err)
		cached = map[string]bool{}
	}

	entries := make([]localModelEntry, 0, len(candidates))
	for _, m := range candidates {
		entries = append(entries, localModelEntry{ID: m.ID, SizeClass: m.SizeClass, Cached: cached[m.ID]})
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": entries})
}

// SelectModelRequest 定义了加载本地模型的请求体结构。
type SelectModelRequest struct {
	ModelID string `json:"modelId" binding:"required"`
}

// SelectModel 在本地模式下加载指定模型。加载在后台进行，
// 进度通过事件 WebSocket 推送，本接口立即返回。
func (h *EngineHandler) SelectModel(c *gin.Context) {
	var req SelectModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	// 使用后台上下文，模型加载不随本次 HTTP 请求结束而中断
	go func() {
		if err := h.manager.SelectModel(context.Background(), req.ModelID); err != nil {
			log.Errorf("加载模型失败: %s, error: %v", req.ModelID, err)
		}
	}()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// EndpointRequest 定义了切换远程端点的请求体结构。
type EndpointRequest struct {
	BaseURL string `json:"baseUrl" binding:"required"`
	ModelID string `json:"modelId"`
}

// UseEndpoint 在远程模式下切换端点并做可达性探测。
func (h *EngineHandler) UseEndpoint(c *gin.Context) {
	var req EndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	if err := h.manager.UseEndpoint(c.Request.Context(), req.BaseURL, req.ModelID); err != nil {
		switch {
		case errors.Is(err, session.ErrWrongMode):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "当前不是远程模式", "data": nil})
		case errors.Is(err, session.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "生成进行中，无法切换端点", "data": nil})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "端点探测失败: " + err.Error(), "data": h.manager.State()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": h.manager.State()})
}

// Evict 清除某模型的缓存权重。
func (h *EngineHandler) Evict(c *gin.Context) {
	modelID := c.Param("id")
	if err := h.manager.Evict(c.Request.Context(), modelID); err != nil {
		switch {
		case errors.Is(err, session.ErrWrongMode):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "当前不是本地模式", "data": nil})
		case errors.Is(err, session.ErrBusy):
			c.JSON(http.StatusConflict, gin.H{"code": http.StatusConflict, "message": "引擎忙，无法清除缓存", "data": nil})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清除缓存失败", "data": nil})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Cancel 中止在途生成。无在途生成时为 no-op。
func (h *EngineHandler) Cancel(c *gin.Context) {
	h.manager.Cancel()
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Events 将会话事件流转发到 WebSocket：连接建立后先推送一次当前状态快照，
// 之后逐条转发状态变更与生成增量事件。
func (h *EngineHandler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Errorf("WebSocket 升级失败: %v", err)
		return
	}
	defer conn.Close()

	ch, unsubscribe := h.manager.Subscribe()
	defer unsubscribe()

	snapshot := session.Event{Type: session.EventStateChanged, State: h.manager.State()}
	if err := writeEvent(conn, snapshot); err != nil {
		return
	}

	// 读循环只用于感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev session.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}
