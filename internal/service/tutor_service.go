package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BARKKNIGHT/local-ai-chat/internal/config"
	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/session"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// TutorService 定义了课程助教聊天：系统提示被严格限定在课程内容范围内，
// 历史由调用方携带，不做持久化（课程内问答是临时会话）。
type TutorService interface {
	StreamLessonResponse(ctx context.Context, lesson model.Lesson, history []model.Message, query string, ws *websocket.Conn) error
}

type tutorService struct {
	manager *session.Manager
}

// NewTutorService 创建一个新的 TutorService 实例。
func NewTutorService(manager *session.Manager) TutorService {
	return &tutorService{manager: manager}
}

// StreamLessonResponse 基于单节课程内容流式回答问题。
func (s *tutorService) StreamLessonResponse(ctx context.Context, lesson model.Lesson, history []model.Message, query string, ws *websocket.Conn) error {
	systemMsg := buildLessonSystemMessage(lesson)
	outbound := append(history, model.Message{Role: model.RoleUser, Content: query})

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
			log.Warnf("写入 WebSocket 增量失败: %v", err)
		}
	}

	_, err := s.manager.Generate(ctx, outbound, systemMsg, onDelta)
	SendCompletion(ws)
	return err
}

// buildLessonSystemMessage 构建助教系统提示：规则 + 包裹符内的课程正文。
// 模型被要求严格根据包裹符内的内容作答。
func buildLessonSystemMessage(lesson model.Lesson) string {
	cfg := config.Conf.Tutor
	rules := cfg.Rules
	if rules == "" {
		rules = "你是课程助教。只允许根据下方参考资料回答问题；资料中没有的内容，要明确说明资料未涉及。"
	}
	refStart := cfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := cfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	sys.WriteString(rules)
	sys.WriteString("\n\n")
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if lesson.Content != "" {
		if lesson.Title != "" {
			sys.WriteString("# " + lesson.Title + "\n")
		}
		sys.WriteString(lesson.Content)
		sys.WriteString("\n")
	} else {
		noRes := cfg.NoResultText
		if noRes == "" {
			noRes = "（本节课程没有正文内容）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}
