package repository

import (
	"context"
	"database/sql"
	"fmt"

	"fleetguard/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

const deviceColumns = `
	d.device_id,
	d.gateway_id,
	d.tracking_id,
	d.user_id,
	d.device_type_id,
	d.device_name,
	ds.shift_id,
	ds.driver_id,
	d.dout_status,
	d.connected,
	d.ignition,
	d.auth_lat,
	d.auth_lon,
	d.last_seen_at
`

func scanDevice(row interface{ Scan(...any) error }) (*models.Device, error) {
	var (
		d                  models.Device
		trackingID, userID sql.NullInt64
		shiftID, driverID  sql.NullInt64
		dout               sql.NullInt32
		authLat, authLon   sql.NullFloat64
		lastSeen           sql.NullTime
	)
	if err := row.Scan(
		&d.DeviceID,
		&d.GatewayID,
		&trackingID,
		&userID,
		&d.DeviceTypeID,
		&d.DeviceName,
		&shiftID,
		&driverID,
		&dout,
		&d.Connected,
		&d.Ignition,
		&authLat,
		&authLon,
		&lastSeen,
	); err != nil {
		return nil, err
	}
	d.TrackingID = int64Ptr(trackingID)
	d.OwnerUserID = int64Ptr(userID)
	d.ShiftID = int64Ptr(shiftID)
	d.DriverID = int64Ptr(driverID)
	d.DoutStatus = intPtr(dout)
	d.AuthLat = float64Ptr(authLat)
	d.AuthLon = float64Ptr(authLon)
	if lastSeen.Valid {
		t := lastSeen.Time
		d.LastSeenAt = &t
	}
	return &d, nil
}

// GetDevice 根据内部设备 ID 获取设备
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID int64) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices d
		LEFT JOIN device_shifts ds ON ds.device_id = d.device_id
		WHERE d.device_id = $1
	`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device %d: %w", deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

// GetDeviceByGatewayID 根据网关设备 ID 获取设备
func (r *DeviceRepository) GetDeviceByGatewayID(ctx context.Context, gatewayID int64) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + `
		FROM devices d
		LEFT JOIN device_shifts ds ON ds.device_id = d.device_id
		WHERE d.gateway_id = $1
		LIMIT 1
	`
	device, err := scanDevice(r.db.QueryRowContext(ctx, query, gatewayID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("gateway device %d: %w", gatewayID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

// GetIdentity 获取设备身份快照（身份缓存的回源查询）
func (r *DeviceRepository) GetIdentity(ctx context.Context, gatewayID int64) (*models.DeviceIdentity, error) {
	d, err := r.GetDeviceByGatewayID(ctx, gatewayID)
	if err != nil {
		return nil, err
	}
	return &models.DeviceIdentity{
		DeviceID:     d.DeviceID,
		GatewayID:    d.GatewayID,
		DeviceName:   d.DeviceName,
		DeviceTypeID: d.DeviceTypeID,
		OwnerUserID:  d.OwnerUserID,
		ShiftID:      d.ShiftID,
		DriverID:     d.DriverID,
		AuthLat:      d.AuthLat,
		AuthLon:      d.AuthLon,
	}, nil
}

// GetCommandPair 获取设备类型的锁定 / 解锁命令
func (r *DeviceRepository) GetCommandPair(ctx context.Context, deviceTypeID int) (*models.CommandPair, error) {
	query := `
		SELECT device_type_id, type_name, lock_command, unlock_command
		FROM device_types
		WHERE device_type_id = $1
	`
	var (
		pair           models.CommandPair
		lockCmd, unlck sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, deviceTypeID).Scan(
		&pair.DeviceTypeID,
		&pair.TypeName,
		&lockCmd,
		&unlck,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("device type %d: %w", deviceTypeID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query device type: %w", err)
	}
	pair.LockCommand = lockCmd.String
	pair.UnlockCommand = unlck.String
	return &pair, nil
}

// UpdateConnectionStatus 更新设备连接状态（遥测链路只允许写连接 / 点火字段）
func (r *DeviceRepository) UpdateConnectionStatus(ctx context.Context, gatewayID int64, connected bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET connected = $2, last_seen_at = NOW()
		WHERE gateway_id = $1
	`, gatewayID, connected)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}
	return nil
}

// UpdateIgnitionStatus 更新设备点火状态
func (r *DeviceRepository) UpdateIgnitionStatus(ctx context.Context, gatewayID int64, ignition bool) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET ignition = $2, last_seen_at = NOW()
		WHERE gateway_id = $1
	`, gatewayID, ignition)
	if err != nil {
		return fmt.Errorf("failed to update ignition status: %w", err)
	}
	return nil
}
