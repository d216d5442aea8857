package models

import (
	"encoding/json"
	"time"
)

// 合规标记
const (
	CompliedYes = "Yes"
	CompliedNo  = "No"
)

// CommandAuditLog 命令审计日志（只追加）
type CommandAuditLog struct {
	LogID             string    `json:"log_id"`
	CreatedAt         time.Time `json:"created_at"`
	DeviceID          int64     `json:"device_id"`
	DriverID          *int64    `json:"driver_id,omitempty"`
	ShiftID           *int64    `json:"shift_id,omitempty"`
	Action            string    `json:"action"`
	Command           string    `json:"command"`
	CommandID         *int64    `json:"command_id,omitempty"`
	PerformerID       int64     `json:"performer_id"`
	LocationCompliant bool      `json:"location_compliant"`
	Reason            string    `json:"reason"`
	Complied          string    `json:"complied"`
}

// CommandAuditReport 与审计日志配套的合规报告（只追加）
type CommandAuditReport struct {
	ReportID          string    `json:"report_id"`
	LogID             string    `json:"log_id"`
	CreatedAt         time.Time `json:"created_at"`
	DeviceID          int64     `json:"device_id"`
	DriverID          *int64    `json:"driver_id,omitempty"`
	Action            string    `json:"action"`
	LocationCompliant bool      `json:"location_compliant"`
	Complied          string    `json:"complied"`
	Summary           string    `json:"summary"`
}

// TelemetryRecordKind 审计行类型
type TelemetryRecordKind string

const (
	RecordAlarm          TelemetryRecordKind = "alarm"
	RecordEvent          TelemetryRecordKind = "event"
	RecordDriverBehavior TelemetryRecordKind = "driver_behavior"
)

// TelemetryRecord 报警 / 事件 / 驾驶行为审计行（只插入，不更新）
type TelemetryRecord struct {
	ID          string              `json:"id"`
	Kind        TelemetryRecordKind `json:"kind"`
	DeviceID    int64               `json:"device_id"` // 网关设备 ID
	DeviceName  string              `json:"device_name"`
	Code        string              `json:"code"`
	Topic       string              `json:"topic"`
	Payload     json.RawMessage     `json:"payload"`
	OwnerUserID int64               `json:"owner_user_id"`
	CreatedAt   time.Time           `json:"created_at"`
}
