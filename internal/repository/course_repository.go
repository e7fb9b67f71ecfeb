package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
)

// RatingStats 是某门课程的评分聚合结果。
type RatingStats struct {
	AvgRating *float64
	Count     int
}

// CourseRepository 定义了课程完成记录与评分的持久化操作。
// 课程内容本身是静态 JSON，不入库。
type CourseRepository interface {
	FindCompletion(userID uint, courseID string) (*model.Completion, error)
	CreateCompletion(completion *model.Completion) error
	CompletionsByUser(userID uint) ([]model.Completion, error)
	RatingsByUser(userID uint) ([]model.Rating, error)
	UpsertRating(userID uint, courseID string, rating int) error
	RatingStats(courseID string) (RatingStats, error)
}

type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository 创建一个新的 CourseRepository 实例。
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

// FindCompletion 查找用户对某门课程的完成记录，不存在时返回 nil。
func (r *courseRepository) FindCompletion(userID uint, courseID string) (*model.Completion, error) {
	var completion model.Completion
	err := r.db.Where("user_id = ? AND course_id = ?", userID, courseID).First(&completion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &completion, nil
}

// CreateCompletion 写入一条完成记录。
func (r *courseRepository) CreateCompletion(completion *model.Completion) error {
	return r.db.Create(completion).Error
}

// CompletionsByUser 返回用户的全部完成记录。
func (r *courseRepository) CompletionsByUser(userID uint) ([]model.Completion, error) {
	var completions []model.Completion
	err := r.db.Where("user_id = ?", userID).Find(&completions).Error
	return completions, err
}

// RatingsByUser 返回用户的全部评分记录。
func (r *courseRepository) RatingsByUser(userID uint) ([]model.Rating, error) {
	var ratings []model.Rating
	err := r.db.Where("user_id = ?", userID).Find(&ratings).Error
	return ratings, err
}

// UpsertRating 写入或更新用户对某门课程的评分。
func (r *courseRepository) UpsertRating(userID uint, courseID string, rating int) error {
	var existing model.Rating
	err := r.db.Where("user_id = ? AND course_id = ?", userID, courseID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(&model.Rating{UserID: userID, CourseID: courseID, Rating: rating}).Error
	}
	if err != nil {
		return err
	}
	existing.Rating = rating
	return r.db.Save(&existing).Error
}

// RatingStats 计算某门课程的平均分与评分人数。
func (r *courseRepository) RatingStats(courseID string) (RatingStats, error) {
	var result struct {
		Avg   *float64
		Count int
	}
	err := r.db.Model(&model.Rating{}).
		Select("AVG(rating) as avg, COUNT(*) as count").
		Where("course_id = ?", courseID).
		Scan(&result).Error
	if err != nil {
		return RatingStats{}, err
	}
	return RatingStats{AvgRating: result.Avg, Count: result.Count}, nil
}
