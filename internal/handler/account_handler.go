package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
	"github.com/BARKKNIGHT/local-ai-chat/internal/service"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// AccountHandler 暴露账号/积分/评分服务的 HTTP API。
// 错误响应统一为 {"error": "..."} 结构。
type AccountHandler struct {
	accountService service.AccountService
}

// NewAccountHandler 创建一个新的 AccountHandler。
func NewAccountHandler(accountService service.AccountService) *AccountHandler {
	return &AccountHandler{accountService: accountService}
}

// currentUser 取出认证中间件注入的用户对象。
func currentUser(c *gin.Context) (*model.User, bool) {
	v, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// credentialsRequest 是注册/登录共用的请求体结构。
type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register 注册新用户并返回登录会话。
func (h *AccountHandler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrInvalidInput.Error()})
		return
	}

	tok, user, err := h.accountService.Register(req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			log.Errorf("用户注册失败: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": tok, "user": user})
}

// Login 登录并返回会话。
func (h *AccountHandler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing email/password"})
		return
	}

	tok, user, err := h.accountService.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("用户登录失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok, "user": user})
}

// Me 返回当前用户的档案、完成记录与评分。
func (h *AccountHandler) Me(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	profile, completions, ratings, err := h.accountService.Profile(user.ID)
	if err != nil {
		log.Errorf("获取用户档案失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile, "completions": completions, "ratings": ratings})
}

// courseActionRequest 是完成/评分课程共用的请求体结构。
type courseActionRequest struct {
	CourseID string `json:"course_id"`
	Rating   int    `json:"rating"`
}

// CompleteCourse 标记课程完成并奖励积分。重复完成不再计分。
func (h *AccountHandler) CompleteCourse(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req courseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.CourseID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing course_id"})
		return
	}

	result, err := h.accountService.CompleteCourse(user.ID, req.CourseID)
	if err != nil {
		log.Errorf("完成课程失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to complete course"})
		return
	}
	if result.AlreadyCompleted {
		c.JSON(http.StatusOK, gin.H{"message": "Already completed", "user": result.User})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Course completed", "points_awarded": result.PointsAwarded, "user": result.User})
}

// RateCourse 对课程打分（1..5），重复打分覆盖旧值，
// 返回该课程的最新平均分与评分人数。
func (h *AccountHandler) RateCourse(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req courseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrInvalidRating.Error()})
		return
	}

	stats, err := h.accountService.RateCourse(user.ID, req.CourseID, req.Rating)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRating) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("课程评分失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save rating"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Rating saved", "avg_rating": stats.AvgRating, "rating_count": stats.Count})
}

// Courses 返回课程列表（带评分统计；已登录时附带完成标记）。
func (h *AccountHandler) Courses(c *gin.Context) {
	var userID uint
	if user, ok := currentUser(c); ok {
		userID = user.ID
	}

	courses, err := h.accountService.Courses(userID)
	if err != nil {
		log.Errorf("获取课程列表失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load courses"})
		return
	}
	c.JSON(http.StatusOK, courses)
}
