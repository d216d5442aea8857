package models

import "time"

// CommandState 使用控制状态机
type CommandState string

const (
	StateUnassigned       CommandState = "unassigned"
	StateAssigned         CommandState = "assigned"
	StateCommandPending   CommandState = "command_pending"
	StateCommandConfirmed CommandState = "command_confirmed"
	StateCommandFailed    CommandState = "command_failed"
)

// Terminal 命令是否已有最终结果
func (s CommandState) Terminal() bool {
	return s == StateCommandConfirmed || s == StateCommandFailed
}

// 命令动作
const (
	ActionLock   = "lock"
	ActionUnlock = "unlock"
)

// Dout 状态
const (
	DoutUnlocked = 0
	DoutLocked   = 1
)

// UsageControlRecord 每台设备一行，下发远程命令前的唯一依据
type UsageControlRecord struct {
	UsageControlID    int64        `json:"usage_control_id"`
	DeviceID          int64        `json:"device_id"`
	DeviceName        string       `json:"device_name,omitempty"`
	OwnerUserID       *int64       `json:"owner_user_id,omitempty"`
	ShiftID           *int64       `json:"shift_id,omitempty"`
	DriverID          *int64       `json:"driver_id,omitempty"`
	Reason            *string      `json:"reason,omitempty"`
	State             CommandState `json:"state"`
	PendingCommandID  *int64       `json:"pending_command_id,omitempty"`
	PendingAction     *string      `json:"pending_action,omitempty"`
	PreviousDout      *int         `json:"previous_dout,omitempty"`
	CommandDispatched *time.Time   `json:"command_dispatched_at,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Assigned 是否已绑定司机
func (r *UsageControlRecord) Assigned() bool {
	return r.DriverID != nil
}

// BindingUpdate 班次 / 司机绑定更新
type BindingUpdate struct {
	ShiftID      *int64 `json:"shift_id"`
	DriverID     *int64 `json:"driver_id"`
	PrevDriverID *int64 `json:"prev_driver_id"`
}

// Driver 司机
type Driver struct {
	DriverID int64
	Name     string
	Assigned bool
}
