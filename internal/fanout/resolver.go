package fanout

import (
	"context"
	"fmt"

	"fleetguard/internal/gateway"
	"fleetguard/internal/models"

	"go.uber.org/zap"
)

// UserDirectory 追踪后端的用户 / Realm 查询（gateway.TrackingClient）
type UserDirectory interface {
	GetUser(ctx context.Context, userID int64) (*gateway.TrackingUser, error)
	ListRealmUsers(ctx context.Context, realmID int64) ([]models.RealmUser, error)
}

// Recipient 实时推送的接收账号
type Recipient struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// Resolver Realm 扇出解析
type Resolver struct {
	directory UserDirectory
	logger    *zap.Logger
}

// NewResolver 创建扇出解析器
func NewResolver(directory UserDirectory, logger *zap.Logger) *Resolver {
	return &Resolver{
		directory: directory,
		logger:    logger,
	}
}

// Resolve 返回归属用户所在 Realm 中可以看到该设备的子账号（不含归属用户本身）
// 归属用户不属于任何 Realm 时返回空列表
func (r *Resolver) Resolve(ctx context.Context, ownerUserID, deviceID int64) ([]Recipient, error) {
	owner, err := r.directory.GetUser(ctx, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve owner %d: %w", ownerUserID, err)
	}
	if owner.RealmID == nil {
		return []Recipient{}, nil
	}

	users, err := r.directory.ListRealmUsers(ctx, *owner.RealmID)
	if err != nil {
		return nil, fmt.Errorf("failed to list realm %d users: %w", *owner.RealmID, err)
	}

	recipients := make([]Recipient, 0, len(users))
	for _, u := range users {
		if u.UserID == ownerUserID {
			continue
		}
		if !u.ACL.Allows(deviceID) {
			continue
		}
		recipients = append(recipients, Recipient{UserID: u.UserID, Name: u.Name})
	}

	r.logger.Debug("Resolved realm recipients",
		zap.Int64("owner_user_id", ownerUserID),
		zap.Int64("realm_id", *owner.RealmID),
		zap.Int64("device_id", deviceID),
		zap.Int("recipients", len(recipients)),
	)
	return recipients, nil
}
