package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"breezy-server/internal/model"
	"breezy-server/internal/presence"
	"breezy-server/internal/repository"
	"breezy-server/pkg/jwt"
	"breezy-server/pkg/logger"
	"breezy-server/pkg/password"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUsernameTaken 用户名已被未清除的账号占用
	ErrUsernameTaken = errors.New("username already exists")
	// ErrInvalidCredentials 用户名或密码错误（统一口径，不区分哪个错）
	ErrInvalidCredentials = errors.New("username or password is invalid")
)

// Fanout 新用户通告与存活连接来源（由WebSocket管理器提供）
type Fanout interface {
	Live() map[string]struct{}
	BroadcastRaw(msg []byte, excludeConnID string)
}

type UserService struct {
	repo       *repository.UserRepository
	jwtService *jwt.JWTService
	ledger     *presence.Ledger
	fanout     Fanout
}

func NewUserService(repo *repository.UserRepository, jwtService *jwt.JWTService, ledger *presence.Ledger, fanout Fanout) *UserService {
	return &UserService{repo: repo, jwtService: jwtService, ledger: ledger, fanout: fanout}
}

// Register 注册
// 先机会式对账清掉过期账号，再做用户名查重
// 成功后建立首个会话（online）、通告新用户、签发token
func (s *UserService) Register(ctx context.Context, username, displayName, plainPassword string) (presence.Record, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	displayName = strings.TrimSpace(displayName)

	s.SweepNow(ctx)

	if _, err := s.repo.GetByUsername(username); err == nil {
		return presence.Record{}, "", ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return presence.Record{}, "", err
	}

	hash, err := password.Hash(plainPassword)
	if err != nil {
		return presence.Record{}, "", err
	}

	user := &model.User{
		ID:           xid.New().String(),
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: hash,
	}
	if err := s.repo.Create(user); err != nil {
		return presence.Record{}, "", err
	}

	sessionID := xid.New().String()
	_, _, err = s.ledger.BeginSession(ctx, presence.Profile{
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		JoinedAt:    user.CreatedAt,
	}, sessionID, "")
	if err != nil {
		return presence.Record{}, "", err
	}

	rec, _ := s.ledger.Get(user.ID)
	s.announceNewUser(rec)

	token, err := s.jwtService.GenerateToken(user.ID, sessionID, user.Username)
	if err != nil {
		return presence.Record{}, "", err
	}
	return rec, token, nil
}

// Login 登录
// 会话ID轮换，旧会话的连接被顶替下线，签发新token
func (s *UserService) Login(ctx context.Context, username, plainPassword string) (presence.Record, string, error) {
	username = strings.ToLower(strings.TrimSpace(username))

	s.SweepNow(ctx)

	u, err := s.repo.GetByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return presence.Record{}, "", ErrInvalidCredentials
		}
		return presence.Record{}, "", err
	}
	if !password.Verify(plainPassword, u.PasswordHash) {
		return presence.Record{}, "", ErrInvalidCredentials
	}

	sessionID := xid.New().String()
	_, _, err = s.ledger.BeginSession(ctx, presence.Profile{
		UserID:      u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		JoinedAt:    u.CreatedAt,
	}, sessionID, "")
	if err != nil {
		return presence.Record{}, "", err
	}

	token, err := s.jwtService.GenerateToken(u.ID, sessionID, u.Username)
	if err != nil {
		return presence.Record{}, "", err
	}

	rec, _ := s.ledger.Get(u.ID)
	return rec, token, nil
}

// Logout 登出：清除绑定并转为离线
func (s *UserService) Logout(ctx context.Context, userID string) error {
	_, err := s.ledger.Logout(ctx, userID)
	return err
}

// FetchUsers 其他用户列表（账本快照，调用方负责脱敏）
func (s *UserService) FetchUsers(selfID string) []presence.Record {
	return s.ledger.Users(selfID)
}

// FetchProfile 本人资料
func (s *UserService) FetchProfile(selfID string) (presence.Record, bool) {
	return s.ledger.Get(selfID)
}

// SweepNow 立即对账一次
// 账本清除的不活跃账号同步从用户表删除
func (s *UserService) SweepNow(ctx context.Context) {
	result, err := s.ledger.Sweep(ctx, s.fanout.Live())
	if err != nil {
		logger.Warn("账本对账失败", zap.Error(err))
		return
	}
	if len(result.Purged) > 0 {
		if err := s.repo.DeleteByIDs(result.Purged); err != nil {
			logger.Error("清除不活跃用户失败",
				zap.Strings("user_ids", result.Purged),
				zap.Error(err),
			)
		}
		logger.Info("已清除不活跃用户", zap.Int("count", len(result.Purged)))
	}
	if len(result.Offline) > 0 {
		logger.Info("对账发现失联连接", zap.Strings("user_ids", result.Offline))
	}
}

// announceNewUser 向所有在线客户端通告新注册用户
func (s *UserService) announceNewUser(rec presence.Record) {
	msg, err := json.Marshal(map[string]interface{}{
		"type": "new user",
		"user": map[string]interface{}{
			"id":           rec.UserID,
			"username":     rec.Username,
			"display_name": rec.DisplayName,
			"session": map[string]interface{}{
				"status":    rec.Status.Public(),
				"last_seen": rec.LastSeen.Format(time.RFC3339),
			},
		},
	})
	if err != nil {
		return
	}
	s.fanout.BroadcastRaw(msg, "")
}
