package handler

import (
	"errors"
	"regexp"

	"breezy-server/internal/presence"
	"breezy-server/internal/service"
	"breezy-server/pkg/jwt"
	"breezy-server/pkg/logger"
	"breezy-server/pkg/recaptcha"
	"breezy-server/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	usernameRe    = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	displayNameRe = regexp.MustCompile(`^[a-zA-Z\s]+$`)
)

type UserHandler struct {
	service *service.UserService
	captcha *recaptcha.Verifier
}

func NewUserHandler(s *service.UserService, captcha *recaptcha.Verifier) *UserHandler {
	return &UserHandler{service: s, captcha: captcha}
}

// Register 用户注册
// 蜜罐字段必须为空，reCAPTCHA v2校验不过一律拒绝
func (h *UserHandler) Register(c *gin.Context) {
	type req struct {
		Username    string `json:"username" binding:"required,min=2,max=15"`
		DisplayName string `json:"display_name" binding:"required,min=2,max=25"`
		Password    string `json:"password" binding:"required,min=8,max=64"`
		Honeypot    string `json:"honeypot"`
		Recaptcha   string `json:"recaptcha" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !usernameRe.MatchString(r.Username) {
		response.BadRequest(c, "username must only contain letters, numbers, hyphen, and underscore")
		return
	}
	if !displayNameRe.MatchString(r.DisplayName) {
		response.BadRequest(c, "display name must only contain letters and spaces")
		return
	}
	if r.Honeypot != "" {
		response.Forbidden(c, "access denied for bot form submission")
		return
	}

	ok, err := h.captcha.VerifyV2(c.Request.Context(), r.Recaptcha)
	if err != nil {
		logger.Warn("注册人机校验失败", zap.Error(err))
		response.ServiceUnavailable(c, "an error occured while verifying captcha")
		return
	}
	if !ok {
		response.Forbidden(c, "access denied for bot form submission")
		return
	}

	rec, token, err := h.service.Register(c.Request.Context(), r.Username, r.DisplayName, r.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			response.Conflict(c, "username already exists")
		case errors.Is(err, presence.ErrStore):
			response.InternalError(c, "an error occured while accessing the storage")
		default:
			logger.Error("注册失败", zap.Error(err))
			response.InternalError(c, "signup failed")
		}
		return
	}

	response.SuccessWithMessage(c, "signup success", &response.AuthResponse{
		User:        response.FilterSelfInfo(rec),
		AccessToken: token,
	})
}

// Login 用户登录
func (h *UserHandler) Login(c *gin.Context) {
	type req struct {
		Username  string `json:"username" binding:"required,min=2,max=15"`
		Password  string `json:"password" binding:"required,min=8,max=64"`
		Honeypot  string `json:"honeypot"`
		Recaptcha string `json:"recaptcha" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !usernameRe.MatchString(r.Username) {
		response.BadRequest(c, "username must only contain letters, numbers, hyphen, and underscore")
		return
	}
	if r.Honeypot != "" {
		response.Forbidden(c, "access denied for bot form submission")
		return
	}

	ok, err := h.captcha.VerifyV2(c.Request.Context(), r.Recaptcha)
	if err != nil {
		logger.Warn("登录人机校验失败", zap.Error(err))
		response.ServiceUnavailable(c, "an error occured while verifying captcha")
		return
	}
	if !ok {
		response.Forbidden(c, "access denied for bot form submission")
		return
	}

	rec, token, err := h.service.Login(c.Request.Context(), r.Username, r.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.Unauthorized(c, "username or password is invalid")
		case errors.Is(err, presence.ErrStore):
			response.InternalError(c, "an error occured while accessing the storage")
		default:
			logger.Error("登录失败", zap.Error(err))
			response.InternalError(c, "login failed")
		}
		return
	}

	response.SuccessWithMessage(c, "login success", &response.AuthResponse{
		User:        response.FilterSelfInfo(rec),
		AccessToken: token,
	})
}

// Logout 用户登出（需要JWT认证）
func (h *UserHandler) Logout(c *gin.Context) {
	userID := jwt.GetUserID(c)
	if userID == "" {
		response.Unauthorized(c, "missing or invalid token")
		return
	}
	if err := h.service.Logout(c.Request.Context(), userID); err != nil {
		if errors.Is(err, presence.ErrSessionNotFound) {
			response.Unauthorized(c, "session not found")
			return
		}
		logger.Error("登出失败", zap.String("user_id", userID), zap.Error(err))
		response.InternalError(c, "logout failed")
		return
	}
	response.SuccessWithMessage(c, "logout success", nil)
}

// GetUsers 获取其他用户列表（需要JWT认证）
// 状态已脱敏：伪装状态按伪装后的值展示
func (h *UserHandler) GetUsers(c *gin.Context) {
	userID := jwt.GetUserID(c)
	recs := h.service.FetchUsers(userID)

	users := make([]*response.UserInfo, 0, len(recs))
	for _, rec := range recs {
		users = append(users, response.FilterPeerInfo(rec))
	}
	response.Success(c, &response.UsersResponse{Users: users})
}

// GetProfile 获取本人资料（需要JWT认证），保留原始状态意图
func (h *UserHandler) GetProfile(c *gin.Context) {
	userID := jwt.GetUserID(c)
	rec, ok := h.service.FetchProfile(userID)
	if !ok {
		response.NotFound(c, "user was not found")
		return
	}
	response.Success(c, &response.ProfileResponse{User: response.FilterSelfInfo(rec)})
}
