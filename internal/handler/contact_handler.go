package handler

import (
	"regexp"
	"strings"

	"breezy-server/pkg/email"
	"breezy-server/pkg/logger"
	"breezy-server/pkg/recaptcha"
	"breezy-server/pkg/redis"
	"breezy-server/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var contactNameRe = regexp.MustCompile(`^[a-zA-Z\s]+$`)

type ContactHandler struct {
	captcha *recaptcha.Verifier
	sender  *email.Sender
}

func NewContactHandler(captcha *recaptcha.Verifier, sender *email.Sender) *ContactHandler {
	return &ContactHandler{captcha: captcha, sender: sender}
}

// Submit 联系表单提交
// reCAPTCHA v3按分数拦截，同一提交人每天限一次
func (h *ContactHandler) Submit(c *gin.Context) {
	type req struct {
		Name     string `json:"name" binding:"required,min=2,max=120"`
		Email    string `json:"email" binding:"required,email,min=3,max=320"`
		Message  string `json:"message" binding:"required,min=15,max=2000"`
		Honeypot string `json:"honeypot"`
		Token    string `json:"token" binding:"required"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if !contactNameRe.MatchString(r.Name) {
		response.BadRequest(c, "name must only contain letters and spaces")
		return
	}
	if r.Honeypot != "" {
		response.Forbidden(c, "access denied for bot form submission")
		return
	}

	score, err := h.captcha.VerifyV3(c.Request.Context(), r.Token)
	if err != nil {
		logger.Warn("联系表单人机校验失败", zap.Error(err))
		response.ServiceUnavailable(c, "an error occured while verifying captcha")
		return
	}
	if score <= h.captcha.Threshold() {
		response.Forbidden(c, "access denied for bot form submission")
		return
	}

	senderEmail := strings.ToLower(strings.TrimSpace(r.Email))
	allowed, err := redis.AllowContactSubmission(senderEmail)
	if err != nil {
		logger.Error("联系表单限流检查失败", zap.Error(err))
		response.InternalError(c, "an error occured while accessing the storage")
		return
	}
	if !allowed {
		response.TooManyRequests(c, "you can only submit one message per day")
		return
	}

	name := titleCase(strings.TrimSpace(r.Name))
	message := strings.TrimSpace(r.Message)
	if err := h.sender.SendContactMessage(c.Request.Context(), name, senderEmail, message); err != nil {
		logger.Error("联系表单邮件发送失败", zap.Error(err))
		response.ServiceUnavailable(c, "an error occured while sending the email")
		return
	}

	response.SuccessWithMessage(c, "message sent", nil)
}

// titleCase 每个单词首字母大写
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}
