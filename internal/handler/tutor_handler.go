package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/internal/service"
	"github.com/BARKKNIGHT/local-ai-chat/internal/session"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/account"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// TutorHandler 负责课程助教的 WebSocket 聊天连接。
// 课程内容由账号服务提供，问答历史由客户端随帧携带，不做持久化。
type TutorHandler struct {
	tutorService  service.TutorService
	manager       *session.Manager
	accountClient *account.Client
	settingsRepo  repository.SettingsRepository
}

// NewTutorHandler 创建一个新的 TutorHandler。
func NewTutorHandler(tutorService service.TutorService, manager *session.Manager, accountClient *account.Client, settingsRepo repository.SettingsRepository) *TutorHandler {
	return &TutorHandler{
		tutorService:  tutorService,
		manager:       manager,
		accountClient: accountClient,
		settingsRepo:  settingsRepo,
	}
}

// tutorFrame 是助教 WebSocket 上行消息的格式。
type tutorFrame struct {
	Type     string          `json:"type"`
	CourseID string          `json:"courseId"`
	LessonID string          `json:"lessonId"`
	Content  string          `json:"content"`
	History  []model.Message `json:"history"`
}

// Handle 处理一个传入的助教 WebSocket 连接。
func (h *TutorHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var frame tutorFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			writeWsError(conn, "无法解析消息")
			continue
		}

		switch frame.Type {
		case "stop":
			h.manager.Cancel()
		case "chat":
			lesson, ok := h.findLesson(c, frame.CourseID, frame.LessonID)
			if !ok {
				writeWsError(conn, "课程或课时不存在")
				continue
			}
			err := h.tutorService.StreamLessonResponse(c.Request.Context(), lesson, frame.History, frame.Content, conn)
			if err != nil {
				log.Errorf("助教流式响应失败: %v", err)
				writeWsError(conn, err.Error())
			}
		default:
			writeWsError(conn, "未知的消息类型")
		}
	}
}

// findLesson 从账号服务拉取课程清单并定位课时。
func (h *TutorHandler) findLesson(c *gin.Context, courseID, lessonID string) (model.Lesson, bool) {
	ctx := c.Request.Context()
	bearer, err := h.settingsRepo.GetAuthToken(ctx)
	if err != nil {
		log.Warnf("读取登录态失败: %v", err)
	}
	courses, err := h.accountClient.Courses(ctx, bearer)
	if err != nil {
		log.Errorf("获取课程列表失败: %v", err)
		return model.Lesson{}, false
	}
	plain := make([]model.Course, 0, len(courses))
	for _, cs := range courses {
		plain = append(plain, cs.Course)
	}
	return service.FindLesson(plain, courseID, lessonID)
}
