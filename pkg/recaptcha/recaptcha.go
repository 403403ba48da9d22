package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"breezy-server/config"
)

// VerifyURL Google reCAPTCHA校验地址
const VerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier reCAPTCHA校验器
// v2 checkbox返回通过与否，v3返回0~1的分数
type Verifier struct {
	cfg    config.RecaptchaConfig
	client *http.Client
}

// siteverifyResult Google返回的校验结果
type siteverifyResult struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// NewVerifier 创建校验器
func NewVerifier(cfg config.RecaptchaConfig) *Verifier {
	return &Verifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// VerifyV2 校验v2 checkbox token
func (v *Verifier) VerifyV2(ctx context.Context, token string) (bool, error) {
	result, err := v.verify(ctx, v.cfg.SecretV2, token)
	if err != nil {
		return false, err
	}
	return result.Success, nil
}

// VerifyV3 校验v3 token，返回分数
// 是否达到阈值由调用方判定
func (v *Verifier) VerifyV3(ctx context.Context, token string) (float64, error) {
	result, err := v.verify(ctx, v.cfg.SecretV3, token)
	if err != nil {
		return 0, err
	}
	if !result.Success {
		return 0, nil
	}
	return result.Score, nil
}

// Threshold v3分数阈值
func (v *Verifier) Threshold() float64 {
	return v.cfg.Threshold
}

// verify 请求siteverify接口
func (v *Verifier) verify(ctx context.Context, secret, token string) (*siteverifyResult, error) {
	form := url.Values{
		"secret":   {secret},
		"response": {token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("构造校验请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("人机校验请求失败: %w", err)
	}
	defer resp.Body.Close()

	var result siteverifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析校验结果失败: %w", err)
	}
	if !result.Success && len(result.ErrorCodes) > 0 {
		return nil, fmt.Errorf("人机校验被拒: %s", result.ErrorCodes[0])
	}
	return &result, nil
}
