package model

import "time"

// Lesson 是课程中的一节内容，助教聊天严格限定在其正文范围内作答。
type Lesson struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Course 是课程内容的静态定义，由 accountd 从 courses.json 加载。
type Course struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Points      int      `json:"points"`
	Lessons     []Lesson `json:"lessons"`
}

// CourseSummary 是课程列表接口返回的条目：静态课程信息合并评分统计，
// 已认证调用方额外带上 completed 标记。
type CourseSummary struct {
	Course
	AvgRating   *float64 `json:"avg_rating"`
	RatingCount int      `json:"rating_count"`
	Completed   bool     `json:"completed,omitempty"`
}

// Completion 记录用户完成某门课程的事实，(user_id, course_id) 唯一。
type Completion struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UserID      uint      `gorm:"uniqueIndex:idx_user_course;not null" json:"-"`
	CourseID    string    `gorm:"uniqueIndex:idx_user_course;size:64;not null" json:"course_id"`
	CompletedAt LocalTime `gorm:"autoCreateTime" json:"completed_at"`
}

func (Completion) TableName() string {
	return "completions"
}

// Rating 记录用户对课程的评分（1..5），(user_id, course_id) 唯一，可更新。
type Rating struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	UserID    uint      `gorm:"uniqueIndex:idx_user_course_rating;not null" json:"-"`
	CourseID  string    `gorm:"uniqueIndex:idx_user_course_rating;size:64;not null" json:"course_id"`
	Rating    int       `gorm:"not null" json:"rating"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
}

func (Rating) TableName() string {
	return "ratings"
}
