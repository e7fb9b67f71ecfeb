package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/internal/service"
)

// ConversationHandler 处理与会话相关的 API 请求。
type ConversationHandler struct {
	chatService service.ChatService
}

// NewConversationHandler 创建一个新的 ConversationHandler。
func NewConversationHandler(chatService service.ChatService) *ConversationHandler {
	return &ConversationHandler{chatService: chatService}
}

// List 返回全部会话，最近更新的在前。
func (h *ConversationHandler) List(c *gin.Context) {
	conversations, err := h.chatService.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取会话列表失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conversations})
}

// CreateRequest 定义了新建会话 API 的请求体结构。
type CreateRequest struct {
	ModelID string `json:"modelId"`
}

// Create 新建一个会话。
func (h *ConversationHandler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	conv, err := h.chatService.NewConversation(c.Request.Context(), req.ModelID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建会话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": conv})
}

// Messages 返回一个会话的全部消息。
func (h *ConversationHandler) Messages(c *gin.Context) {
	id := c.Param("id")
	messages, err := h.chatService.GetMessages(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "获取消息失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": messages})
}

// Delete 删除一个会话及其全部消息。
func (h *ConversationHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	err := h.chatService.DeleteConversation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "会话不存在", "data": nil})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除会话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}
