package usagecontrol

import (
	"errors"
	"fmt"
)

// 校验失败：拒绝时不修改任何状态，也不下发命令
var (
	ErrReasonTooShort     = errors.New("reason is too short")
	ErrNotConfirmed       = errors.New("operator confirmation required")
	ErrDeviceDisconnected = errors.New("device is disconnected")
	ErrToggleInProgress   = errors.New("another toggle is in progress for this device")
	ErrCommandPending     = errors.New("a command is still pending for this device")
	ErrNotAssigned        = errors.New("device has no driver assigned")
	ErrPrecondition       = errors.New("precondition failed")
)

// WarningLevel 点火 / 连接告警级别
type WarningLevel string

const (
	WarningIgnitionOn  WarningLevel = "ignition_on"
	WarningIgnitionOff WarningLevel = "ignition_off"
)

// WarningError 需要操作员确认告警后才能继续
type WarningError struct {
	Level   WarningLevel
	Message string
}

func (e *WarningError) Error() string {
	return fmt.Sprintf("warning %s: %s", e.Level, e.Message)
}

func preconditionf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}
