package response

import (
	"net/http"
	"time"

	"breezy-server/internal/presence"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`            // 状态码：0表示成功，其他表示错误
	Message string      `json:"message"`         // 响应消息
	Data    interface{} `json:"data,omitempty"`  // 响应数据
	Error   string      `json:"error,omitempty"` // 错误详情（仅在开发环境显示）
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// SuccessWithMessage 带自定义消息的成功响应
func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: message,
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

// BadRequest 400错误
func BadRequest(c *gin.Context, message string) {
	Error(c, 400, message)
}

// Unauthorized 401错误
func Unauthorized(c *gin.Context, message string) {
	Error(c, 401, message)
}

// Forbidden 403错误
func Forbidden(c *gin.Context, message string) {
	Error(c, 403, message)
}

// NotFound 404错误
func NotFound(c *gin.Context, message string) {
	Error(c, 404, message)
}

// Conflict 409错误
func Conflict(c *gin.Context, message string) {
	Error(c, 409, message)
}

// TooManyRequests 429错误
func TooManyRequests(c *gin.Context, message string) {
	Error(c, 429, message)
}

// InternalError 500错误
func InternalError(c *gin.Context, message string) {
	Error(c, 500, message)
}

// ServiceUnavailable 503错误
func ServiceUnavailable(c *gin.Context, message string) {
	Error(c, 503, message)
}

// SessionInfo 会话信息
type SessionInfo struct {
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

// UserInfo 用户信息（隐藏敏感字段）
type UserInfo struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	DisplayName string      `json:"display_name"`
	JoinedAt    string      `json:"joined_at,omitempty"`
	Session     SessionInfo `json:"session"`
}

// FilterPeerInfo 其他用户视角的账本记录
// 状态做意图脱敏：appear-away只会被看到away
func FilterPeerInfo(rec presence.Record) *UserInfo {
	return &UserInfo{
		ID:          rec.UserID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
		Session: SessionInfo{
			Status:   string(rec.Status.Public()),
			LastSeen: rec.LastSeen.Format(time.RFC3339),
		},
	}
}

// FilterSelfInfo 用户本人视角的账本记录
// 保留原始状态意图，本人有权知道自己设置的伪装
func FilterSelfInfo(rec presence.Record) *UserInfo {
	return &UserInfo{
		ID:          rec.UserID,
		Username:    rec.Username,
		DisplayName: rec.DisplayName,
		JoinedAt:    rec.JoinedAt.Format(time.RFC3339),
		Session: SessionInfo{
			Status:   string(rec.Status),
			LastSeen: rec.LastSeen.Format(time.RFC3339),
		},
	}
}

// AuthResponse 注册/登录响应
type AuthResponse struct {
	User        *UserInfo `json:"user"`
	AccessToken string    `json:"access_token"`
}

// UsersResponse 用户列表响应
type UsersResponse struct {
	Users []*UserInfo `json:"users"`
}

// ProfileResponse 用户资料响应
type ProfileResponse struct {
	User *UserInfo `json:"user"`
}

// ChatbotResponse 机器人应答
type ChatbotResponse struct {
	Reply string `json:"reply"`
}
