// Package account provides a client for the account/points/ratings service.
package account

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/BARKKNIGHT/local-ai-chat/internal/model"
)

// APIError 是账号服务返回的结构化错误。
// 服务端给出 {"error": "..."} 时原样透出，否则退化为通用失败信息。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("account service request failed with status %d", e.StatusCode)
}

// Session 是注册/登录成功后的令牌与用户档案。
type Session struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Profile 是 /me 接口的返回：用户档案加完成与评分记录。
type Profile struct {
	User        model.User         `json:"user"`
	Completions []model.Completion `json:"completions"`
	Ratings     []model.Rating     `json:"ratings"`
}

// CompletionResult 是完成课程的返回。
type CompletionResult struct {
	Message       string     `json:"message"`
	PointsAwarded int        `json:"points_awarded"`
	User          model.User `json:"user"`
}

// RatingResult 是评分课程的返回。
type RatingResult struct {
	AvgRating   *float64 `json:"avg_rating"`
	RatingCount int      `json:"rating_count"`
}

// Client 是账号服务的 HTTP 客户端。
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a new account service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

// doJSON 发送一个 JSON 请求并把 2xx 响应解码到 out。
// 非 2xx 响应解析错误包并返回 *APIError。
func (c *Client) doJSON(ctx context.Context, method, path, bearer string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call account service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return &APIError{StatusCode: resp.StatusCode, Message: errBody.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode account service response: %w", err)
	}
	return nil
}

// Register 注册新用户并返回登录会话。
func (c *Client) Register(ctx context.Context, username, email, password string) (*Session, error) {
	req := map[string]string{"username": username, "email": email, "password": password}
	var session Session
	if err := c.doJSON(ctx, "POST", "/api/register", "", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Login 登录并返回会话。
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	req := map[string]string{"email": email, "password": password}
	var session Session
	if err := c.doJSON(ctx, "POST", "/api/login", "", req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Me 返回当前用户的档案、完成记录与评分。
func (c *Client) Me(ctx context.Context, bearer string) (*Profile, error) {
	var profile Profile
	if err := c.doJSON(ctx, "GET", "/api/me", bearer, nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// CompleteCourse 标记课程完成并获取奖励积分。
func (c *Client) CompleteCourse(ctx context.Context, bearer, courseID string) (*CompletionResult, error) {
	req := map[string]string{"course_id": courseID}
	var result CompletionResult
	if err := c.doJSON(ctx, "POST", "/api/complete_course", bearer, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// RateCourse 对课程打分（1..5）。
func (c *Client) RateCourse(ctx context.Context, bearer, courseID string, rating int) (*RatingResult, error) {
	req := map[string]interface{}{"course_id": courseID, "rating": rating}
	var result RatingResult
	if err := c.doJSON(ctx, "POST", "/api/rate_course", bearer, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Courses 返回课程列表（带评分统计；带令牌时附带完成标记）。
func (c *Client) Courses(ctx context.Context, bearer string) ([]model.CourseSummary, error) {
	var courses []model.CourseSummary
	if err := c.doJSON(ctx, "GET", "/api/courses", bearer, nil, &courses); err != nil {
		return nil, err
	}
	return courses, nil
}
