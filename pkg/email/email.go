package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"breezy-server/config"
)

// SendURL Mailjet v3.1发送接口
const SendURL = "https://api.mailjet.com/v3.1/send"

// Sender 邮件发送器（Mailjet）
// 联系表单的内容转发给站点维护者自己
type Sender struct {
	cfg    config.EmailConfig
	client *http.Client
}

// NewSender 创建发送器
func NewSender(cfg config.EmailConfig) *Sender {
	return &Sender{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

// SendContactMessage 把联系表单内容发给维护者
func (s *Sender) SendContactMessage(ctx context.Context, name, fromEmail, message string) error {
	payload := map[string]interface{}{
		"Messages": []map[string]interface{}{
			{
				"From": map[string]string{
					"Name":  s.cfg.SenderName,
					"Email": s.cfg.SenderAddr,
				},
				"To": []map[string]string{
					{
						"Name":  s.cfg.SenderName,
						"Email": s.cfg.SenderAddr,
					},
				},
				"Subject":  fmt.Sprintf("Message from %s <%s>", name, fromEmail),
				"TextPart": strings.ReplaceAll(message, "\n", "\\n"),
				"HTMLPart": strings.ReplaceAll(message, "\n", "<br />"),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化邮件内容失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, SendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造发送请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.cfg.APIKey, s.cfg.SecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("邮件发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("邮件发送失败: 状态码%d", resp.StatusCode)
	}
	return nil
}
