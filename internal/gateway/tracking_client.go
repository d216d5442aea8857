package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"fleetguard/common/config"
	"fleetguard/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// TrackingUser 追踪后端用户
type TrackingUser struct {
	UserID  int64  `json:"id"`
	Name    string `json:"name"`
	RealmID *int64 `json:"realm_id"`
}

// TrackingClient 追踪后端 API 客户端（用户 / Realm）
type TrackingClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewTrackingClient 创建追踪后端客户端
func NewTrackingClient(cfg *config.PlatformConfig, logger *zap.Logger) *TrackingClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &TrackingClient{
		httpClient: client,
		logger:     logger,
	}
}

// GetUser 获取用户
func (c *TrackingClient) GetUser(ctx context.Context, userID int64) (*TrackingUser, error) {
	var user TrackingUser
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&user).
		Get(fmt.Sprintf("/api/users/%d", userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tracking API error: status %d", resp.StatusCode())
	}
	return &user, nil
}

// ListRealmUsers 获取 Realm 下的所有子账号
func (c *TrackingClient) ListRealmUsers(ctx context.Context, realmID int64) ([]models.RealmUser, error) {
	var users []models.RealmUser
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&users).
		Get(fmt.Sprintf("/api/realms/%d/users", realmID))
	if err != nil {
		return nil, fmt.Errorf("failed to list realm users: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tracking API error: status %d", resp.StatusCode())
	}
	for i := range users {
		if users[i].RealmID == 0 {
			users[i].RealmID = realmID
		}
	}
	return users, nil
}
