package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/BARKKNIGHT/local-ai-chat/internal/repository"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/account"
	"github.com/BARKKNIGHT/local-ai-chat/pkg/log"
)

// CourseHandler 把账号服务的登录态与课程操作代理给前端：
// 令牌保存在本地键值存储里，前端不直接接触账号服务。
type CourseHandler struct {
	accountClient *account.Client
	settingsRepo  repository.SettingsRepository
}

// NewCourseHandler 创建一个新的 CourseHandler。
func NewCourseHandler(accountClient *account.Client, settingsRepo repository.SettingsRepository) *CourseHandler {
	return &CourseHandler{accountClient: accountClient, settingsRepo: settingsRepo}
}

// proxyError 把账号服务的结构化错误透传给前端，其余错误按网关失败处理。
func proxyError(c *gin.Context, err error) {
	var apiErr *account.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.StatusCode, gin.H{"code": apiErr.StatusCode, "message": apiErr.Message, "data": nil})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "账号服务不可用", "data": nil})
}

// RegisterRequest 定义了注册接口的请求体结构。
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 代理注册请求，成功后保存登录态。
func (h *CourseHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	session, err := h.accountClient.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		proxyError(c, err)
		return
	}
	if err := h.settingsRepo.SetAuth(c.Request.Context(), session.Token, &session.User); err != nil {
		log.Errorf("保存登录态失败: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session.User})
}

// LoginRequest 定义了登录接口的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 代理登录请求，成功后保存登录态。
func (h *CourseHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	session, err := h.accountClient.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		proxyError(c, err)
		return
	}
	if err := h.settingsRepo.SetAuth(c.Request.Context(), session.Token, &session.User); err != nil {
		log.Errorf("保存登录态失败: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session.User})
}

// Logout 清除本地登录态。
func (h *CourseHandler) Logout(c *gin.Context) {
	if err := h.settingsRepo.ClearAuth(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清除登录态失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": nil})
}

// Me 返回当前用户的档案与学习记录。未登录时返回 401。
func (h *CourseHandler) Me(c *gin.Context) {
	tok, err := h.settingsRepo.GetAuthToken(c.Request.Context())
	if err != nil || tok == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "尚未登录", "data": nil})
		return
	}

	profile, err := h.accountClient.Me(c.Request.Context(), tok)
	if err != nil {
		proxyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": profile})
}

// Courses 返回课程列表。已登录时附带完成标记。
func (h *CourseHandler) Courses(c *gin.Context) {
	tok, err := h.settingsRepo.GetAuthToken(c.Request.Context())
	if err != nil {
		tok = ""
	}

	courses, err := h.accountClient.Courses(c.Request.Context(), tok)
	if err != nil {
		proxyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": courses})
}

// CourseActionRequest 定义了完成/评分课程的请求体结构。
type CourseActionRequest struct {
	CourseID string `json:"courseId" binding:"required"`
	Rating   int    `json:"rating"`
}

// Complete 标记课程完成并奖励积分。重复完成不再计分。
func (h *CourseHandler) Complete(c *gin.Context) {
	var req CourseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	tok, err := h.settingsRepo.GetAuthToken(c.Request.Context())
	if err != nil || tok == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "尚未登录", "data": nil})
		return
	}

	result, err := h.accountClient.CompleteCourse(c.Request.Context(), tok, req.CourseID)
	if err != nil {
		proxyError(c, err)
		return
	}
	// 积分变动后同步本地缓存的用户档案
	if err := h.settingsRepo.SetAuth(c.Request.Context(), tok, &result.User); err != nil {
		log.Errorf("更新本地用户档案失败: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}

// Rate 对课程打分（1..5），重复打分覆盖旧值。
func (h *CourseHandler) Rate(c *gin.Context) {
	var req CourseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载", "data": nil})
		return
	}

	tok, err := h.settingsRepo.GetAuthToken(c.Request.Context())
	if err != nil || tok == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "尚未登录", "data": nil})
		return
	}

	result, err := h.accountClient.RateCourse(c.Request.Context(), tok, req.CourseID, req.Rating)
	if err != nil {
		proxyError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": result})
}
