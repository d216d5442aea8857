package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fleetguard/internal/models"

	"go.uber.org/zap"
)

// SubscriptionRepository 通知订阅仓库（只读）
// 没有匹配的订阅时，报警 / 事件既不入库也不推送
type SubscriptionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSubscriptionRepository 创建通知订阅仓库
func NewSubscriptionRepository(db *sql.DB, logger *zap.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		db:     db,
		logger: logger,
	}
}

// MatchAlarm 查找 (设备类型, 报警码) 的订阅，无匹配返回 nil
func (r *SubscriptionRepository) MatchAlarm(ctx context.Context, deviceTypeID int, alarmCode string) (*models.NotificationSubscription, error) {
	return r.match(ctx, models.SubscriptionAlarm, deviceTypeID, alarmCode)
}

// MatchEvent 查找 (设备类型, 事件码) 的订阅，无匹配返回 nil
func (r *SubscriptionRepository) MatchEvent(ctx context.Context, deviceTypeID int, eventCode string) (*models.NotificationSubscription, error) {
	return r.match(ctx, models.SubscriptionEvent, deviceTypeID, eventCode)
}

func (r *SubscriptionRepository) match(ctx context.Context, kind models.SubscriptionKind, deviceTypeID int, code string) (*models.NotificationSubscription, error) {
	if code == "" {
		return nil, nil
	}

	query := `
		SELECT subscription_id, device_type_id, kind, code, audio_asset, enabled
		FROM notification_subscriptions
		WHERE device_type_id = $1
		  AND kind = $2
		  AND code = $3
		  AND enabled = TRUE
		LIMIT 1
	`

	var (
		sub   models.NotificationSubscription
		audio sql.NullString
		k     string
	)
	err := r.db.QueryRowContext(ctx, query, deviceTypeID, string(kind), code).Scan(
		&sub.SubscriptionID,
		&sub.DeviceTypeID,
		&k,
		&sub.Code,
		&audio,
		&sub.Enabled,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query notification subscription: %w", err)
	}
	sub.Kind = models.SubscriptionKind(k)
	sub.AudioAsset = audio.String
	return &sub, nil
}
