package models

import "time"

// Device 车辆设备
// GatewayID 为遥测网关中的设备 ID（MQTT 主题中的 {id}），TrackingID 为追踪后端中的设备 ID
type Device struct {
	DeviceID     int64
	GatewayID    int64
	TrackingID   *int64
	OwnerUserID  *int64
	DeviceTypeID int
	DeviceName   string
	ShiftID      *int64
	DriverID     *int64
	DoutStatus   *int // 0=解锁, 1=锁定, nil=未知
	Connected    bool
	Ignition     bool
	AuthLat      *float64 // 授权位置（车场 / 停车点）
	AuthLon      *float64
	LastSeenAt   *time.Time
}

// HasAuthLocation 是否配置了授权位置
func (d *Device) HasAuthLocation() bool {
	return d.AuthLat != nil && d.AuthLon != nil
}

// CommandPair 设备类型对应的锁定 / 解锁命令
type CommandPair struct {
	DeviceTypeID  int
	TypeName      string
	LockCommand   string
	UnlockCommand string
}

// DeviceIdentity 设备身份快照（用于遥测链路的名称 / 归属 / 班次解析）
type DeviceIdentity struct {
	DeviceID     int64    `json:"device_id"`
	GatewayID    int64    `json:"gateway_id"`
	DeviceName   string   `json:"device_name"`
	DeviceTypeID int      `json:"device_type_id"`
	OwnerUserID  *int64   `json:"owner_user_id,omitempty"`
	ShiftID      *int64   `json:"shift_id,omitempty"`
	DriverID     *int64   `json:"driver_id,omitempty"`
	AuthLat      *float64 `json:"auth_lat,omitempty"`
	AuthLon      *float64 `json:"auth_lon,omitempty"`
}

// ShiftBinding 设备当前的班次 / 司机绑定
type ShiftBinding struct {
	ShiftID  *int64 `json:"shift_id,omitempty"`
	DriverID *int64 `json:"driver_id,omitempty"`
}

// Shift 班次（只读参考数据）
type Shift struct {
	ShiftID      int64
	Name         string
	StartTime    string // HH:MM
	EndTime      string // HH:MM
	DayRange     string // 如 "mon-fri"
	GraceMinutes int
}
