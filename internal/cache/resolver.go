package cache

import (
	"context"
	"strconv"

	"fleetguard/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// IdentityLoader 身份回源查询（通常是 repository.DeviceRepository）
type IdentityLoader interface {
	GetIdentity(ctx context.Context, gatewayID int64) (*models.DeviceIdentity, error)
}

// IdentityResolver 缓存优先的身份解析
// 同一设备并发未命中时只会回源一次
type IdentityResolver struct {
	cache  IdentityCache
	loader IdentityLoader
	group  singleflight.Group
	logger *zap.Logger
}

// NewIdentityResolver 创建身份解析器
func NewIdentityResolver(cache IdentityCache, loader IdentityLoader, logger *zap.Logger) *IdentityResolver {
	return &IdentityResolver{
		cache:  cache,
		loader: loader,
		logger: logger,
	}
}

// Resolve 解析设备身份
func (r *IdentityResolver) Resolve(ctx context.Context, gatewayID int64) (*models.DeviceIdentity, error) {
	if identity, ok := r.cache.Get(ctx, gatewayID); ok {
		return identity, nil
	}

	v, err, _ := r.group.Do(strconv.FormatInt(gatewayID, 10), func() (interface{}, error) {
		identity, err := r.loader.GetIdentity(ctx, gatewayID)
		if err != nil {
			return nil, err
		}
		r.cache.Set(ctx, identity)
		return identity, nil
	})
	if err != nil {
		return nil, err
	}
	identity := *v.(*models.DeviceIdentity)
	return &identity, nil
}

// ResolveName 解析设备名称，失败返回空字符串
func (r *IdentityResolver) ResolveName(ctx context.Context, gatewayID int64) string {
	identity, err := r.Resolve(ctx, gatewayID)
	if err != nil {
		r.logger.Warn("Failed to resolve device name",
			zap.Int64("device_id", gatewayID),
			zap.Error(err),
		)
		return ""
	}
	return identity.DeviceName
}

// ResolveShiftBinding 解析设备班次绑定，失败返回 nil
func (r *IdentityResolver) ResolveShiftBinding(ctx context.Context, gatewayID int64) *models.ShiftBinding {
	identity, err := r.Resolve(ctx, gatewayID)
	if err != nil {
		r.logger.Warn("Failed to resolve shift binding",
			zap.Int64("device_id", gatewayID),
			zap.Error(err),
		)
		return nil
	}
	if identity.ShiftID == nil && identity.DriverID == nil {
		return nil
	}
	return &models.ShiftBinding{
		ShiftID:  identity.ShiftID,
		DriverID: identity.DriverID,
	}
}

// Invalidate 删除设备的缓存身份
func (r *IdentityResolver) Invalidate(ctx context.Context, gatewayID int64) {
	r.cache.Invalidate(ctx, gatewayID)
}
