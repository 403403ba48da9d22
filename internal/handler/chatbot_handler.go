package handler

import (
	"strings"

	"breezy-server/internal/chatbot"
	"breezy-server/pkg/response"

	"github.com/gin-gonic/gin"
)

type ChatbotHandler struct {
	bot *chatbot.Bot
}

func NewChatbotHandler(bot *chatbot.Bot) *ChatbotHandler {
	return &ChatbotHandler{bot: bot}
}

// Ask 向机器人提问
func (h *ChatbotHandler) Ask(c *gin.Context) {
	type req struct {
		Input string `json:"input" binding:"required,min=1,max=160"`
	}
	var r req
	if err := c.ShouldBindJSON(&r); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	reply := h.bot.Reply(strings.TrimSpace(r.Input))
	response.Success(c, &response.ChatbotResponse{Reply: reply})
}
