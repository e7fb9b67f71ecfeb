package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/hash"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/token"
)

// 每完成一门课程奖励的积分。
const pointsPerCourse = 100

// 账号服务的业务错误。错误文案即 API 返回的 error 字段。
var (
	ErrInvalidInput       = errors.New("Invalid input, provide username, email and password (min 6 chars)")
	ErrUserExists         = errors.New("User with that email or username already exists")
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrInvalidRating      = errors.New("Invalid course_id or rating (1-5 required)")
)

// CompleteCourseResult 是完成课程操作的结果。
type CompleteCourseResult struct {
	AlreadyCompleted bool
	PointsAwarded    int
	User             *model.User
}

// AccountService 实现账号/积分/评分服务的业务逻辑。
type AccountService interface {
	Register(username, email, password string) (string, *model.User, error)
	Login(email, password string) (string, *model.User, error)
	FindUser(userID uint) (*model.User, error)
	Profile(userID uint) (*model.User, []model.Completion, []model.Rating, error)
	CompleteCourse(userID uint, courseID string) (*CompleteCourseResult, error)
	RateCourse(userID uint, courseID string, rating int) (repository.RatingStats, error)
	Courses(userID uint) ([]model.CourseSummary, error)
}

type accountService struct {
	userRepo   repository.UserRepository
	courseRepo repository.CourseRepository
	jwtManager *token.JWTManager
	courses    []model.Course
}

// NewAccountService 创建一个新的 AccountService 实例。
// courses 是从 courses.json 加载的静态课程清单。
func NewAccountService(userRepo repository.UserRepository, courseRepo repository.CourseRepository, jwtManager *token.JWTManager, courses []model.Course) AccountService {
	return &accountService{
		userRepo:   userRepo,
		courseRepo: courseRepo,
		jwtManager: jwtManager,
		courses:    courses,
	}
}

// LoadCourses 从 JSON 文件加载课程清单。文件缺失时返回空清单而不报错。
func LoadCourses(path string) ([]model.Course, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("课程文件 '%s' 不存在，课程列表为空", path)
			return []model.Course{}, nil
		}
		return nil, fmt.Errorf("failed to read courses file: %w", err)
	}
	var courses []model.Course
	if err := json.Unmarshal(data, &courses); err != nil {
		return nil, fmt.Errorf("failed to parse courses file: %w", err)
	}
	return courses, nil
}

// Register 处理用户注册：校验输入、查重、哈希密码、签发令牌。
func (s *accountService) Register(username, email, password string) (string, *model.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if username == "" || email == "" || len(password) < 6 {
		return "", nil, ErrInvalidInput
	}

	existing, err := s.userRepo.FindByEmailOrUsername(email, username)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, err
	}
	if existing != nil {
		return "", nil, ErrUserExists
	}

	passwordHash, err := hash.HashPassword(password)
	if err != nil {
		return "", nil, err
	}

	user := &model.User{Username: username, Email: email, PasswordHash: passwordHash}
	if err := s.userRepo.Create(user); err != nil {
		return "", nil, err
	}

	tok, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, err
	}
	log.Infof("用户注册成功: %s", username)
	return tok, user, nil
}

// Login 处理用户登录。
func (s *accountService) Login(email, password string) (string, *model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.FindByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !hash.CheckPassword(password, user.PasswordHash) {
		return "", nil, ErrInvalidCredentials
	}

	tok, err := s.jwtManager.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, err
	}
	return tok, user, nil
}

func (s *accountService) FindUser(userID uint) (*model.User, error) {
	return s.userRepo.FindByID(userID)
}

// Profile 返回用户档案及其完成与评分记录。
func (s *accountService) Profile(userID uint) (*model.User, []model.Completion, []model.Rating, error) {
	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, nil, nil, err
	}
	completions, err := s.courseRepo.CompletionsByUser(userID)
	if err != nil {
		return nil, nil, nil, err
	}
	ratings, err := s.courseRepo.RatingsByUser(userID)
	if err != nil {
		return nil, nil, nil, err
	}
	return user, completions, ratings, nil
}

// CompleteCourse 标记课程完成并奖励积分。重复完成是幂等的，不重复加分。
func (s *accountService) CompleteCourse(userID uint, courseID string) (*CompleteCourseResult, error) {
	existing, err := s.courseRepo.FindCompletion(userID, courseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		user, err := s.userRepo.FindByID(userID)
		if err != nil {
			return nil, err
		}
		return &CompleteCourseResult{AlreadyCompleted: true, User: user}, nil
	}

	if err := s.courseRepo.CreateCompletion(&model.Completion{UserID: userID, CourseID: courseID}); err != nil {
		return nil, err
	}
	if err := s.userRepo.AddPoints(userID, pointsPerCourse); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	return &CompleteCourseResult{PointsAwarded: pointsPerCourse, User: user}, nil
}

// RateCourse 写入或更新评分，并返回该课程的最新平均分与评分人数。
func (s *accountService) RateCourse(userID uint, courseID string, rating int) (repository.RatingStats, error) {
	if courseID == "" || rating < 1 || rating > 5 {
		return repository.RatingStats{}, ErrInvalidRating
	}
	if err := s.courseRepo.UpsertRating(userID, courseID, rating); err != nil {
		return repository.RatingStats{}, err
	}
	return s.courseRepo.RatingStats(courseID)
}

// Courses 返回课程清单并合并评分统计；userID 非零时附带完成标记。
func (s *accountService) Courses(userID uint) ([]model.CourseSummary, error) {
	completed := map[string]bool{}
	if userID != 0 {
		completions, err := s.courseRepo.CompletionsByUser(userID)
		if err != nil {
			return nil, err
		}
		for _, c := range completions {
			completed[c.CourseID] = true
		}
	}

	out := make([]model.CourseSummary, 0, len(s.courses))
	for _, c := range s.courses {
		stats, err := s.courseRepo.RatingStats(c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.CourseSummary{
			Course:      c,
			AvgRating:   stats.AvgRating,
			RatingCount: stats.Count,
			Completed:   completed[c.ID],
		})
	}
	return out, nil
}

// FindLesson 在课程清单中查找一节课。
func FindLesson(courses []model.Course, courseID, lessonID string) (model.Lesson, bool) {
	for _, c := range courses {
		if c.ID != courseID {
			continue
		}
		for _, l := range c.Lessons {
			if l.ID == lessonID {
				return l, true
			}
		}
	}
	return model.Lesson{}, false
}
