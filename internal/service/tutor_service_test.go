package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
)

func TestBuildLessonSystemMessageWrapsContent(t *testing.T) {
	lesson := model.Lesson{
		ID:      "attention",
		Title:   "注意力机制",
		Content: "自注意力让每个 token 参考序列中的其他 token。",
	}
	msg := buildLessonSystemMessage(lesson)

	// 课程正文被包裹在定界符之间，标题以标记行出现在正文之前
	start := strings.Index(msg, "<<REF>>")
	end := strings.Index(msg, "<<END>>")
	assert.Greater(t, start, 0)
	assert.Greater(t, end, start)

	body := msg[start:end]
	assert.Contains(t, body, "# 注意力机制")
	assert.Contains(t, body, lesson.Content)

	// 规则部分在定界符之前
	assert.NotEmpty(t, strings.TrimSpace(msg[:start]))
}

func TestBuildLessonSystemMessageEmptyContent(t *testing.T) {
	msg := buildLessonSystemMessage(model.Lesson{ID: "empty", Title: "空课"})
	start := strings.Index(msg, "<<REF>>")
	end := strings.Index(msg, "<<END>>")
	assert.Greater(t, end, start)
	assert.Contains(t, msg[start:end], "没有正文内容")
}

func TestFindLesson(t *testing.T) {
	courses := []model.Course{
		{
			ID: "intro-llm",
			Lessons: []model.Lesson{
				{ID: "tokens", Title: "分词"},
				{ID: "attention", Title: "注意力"},
			},
		},
		{ID: "other", Lessons: []model.Lesson{{ID: "tokens", Title: "别的课的同名课时"}}},
	}

	lesson, ok := FindLesson(courses, "intro-llm", "attention")
	assert.True(t, ok)
	assert.Equal(t, "注意力", lesson.Title)

	// 课时 ID 在课程内定位，不跨课程
	lesson, ok = FindLesson(courses, "other", "tokens")
	assert.True(t, ok)
	assert.Equal(t, "别的课的同名课时", lesson.Title)

	_, ok = FindLesson(courses, "intro-llm", "no-such")
	assert.False(t, ok)
	_, ok = FindLesson(courses, "no-such", "tokens")
	assert.False(t, ok)
}
