// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/BARKKNIGHT/local-ai-chat/internal/service"
	"github.com/BARKKNIGHT/local-ai-chat/internal/session"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	chatService service.ChatService
	manager     *session.Manager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, manager *session.Manager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		manager:     manager,
	}
}

// chatFrame 是聊天 WebSocket 上行消息的统一格式。
type chatFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// Handle 处理一个传入的 WebSocket 聊天连接。
// 上行帧：{"type":"chat","conversationId":...,"content":...} 发起一轮生成，
// {"type":"stop"} 中止在途生成（增量即止，已生成的部分文本照常定稿）。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Info("聊天 WebSocket 连接已建立")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var frame chatFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			writeWsError(conn, "无法解析消息")
			continue
		}

		switch frame.Type {
		case "stop":
			h.manager.Cancel()
		case "chat":
			if frame.ConversationID == "" || frame.Content == "" {
				writeWsError(conn, "conversationId 和 content 不能为空")
				continue
			}
			err := h.chatService.StreamResponse(c.Request.Context(), frame.ConversationID, frame.Content, conn)
			if err != nil {
				log.Errorf("处理流式响应失败: %v", err)
				writeWsError(conn, err.Error())
			}
		default:
			writeWsError(conn, "未知的消息类型")
		}
	}
}

func writeWsError(conn *websocket.Conn, msg string) {
	payload := map[string]string{"error": msg}
	b, _ := json.Marshal(payload)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
