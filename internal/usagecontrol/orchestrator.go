package usagecontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"fleetguard/internal/gateway"
	"fleetguard/internal/geofence"
	"fleetguard/internal/models"
	"fleetguard/internal/repository"

	"go.uber.org/zap"
)

// DeviceStore 设备读取（repository.DeviceRepository）
type DeviceStore interface {
	GetDevice(ctx context.Context, deviceID int64) (*models.Device, error)
	GetCommandPair(ctx context.Context, deviceTypeID int) (*models.CommandPair, error)
}

// Store 使用控制持久化（repository.UsageControlRepository）
type Store interface {
	GetUsageControl(ctx context.Context, deviceID int64) (*models.UsageControlRecord, error)
	ListUsageControl(ctx context.Context, filter repository.UsageControlFilter) ([]models.UsageControlRecord, int, error)
	SetReason(ctx context.Context, deviceID int64, reason *string) error
	UpdateBinding(ctx context.Context, deviceID int64, update models.BindingUpdate) error
	CommitDispatch(ctx context.Context, commit repository.DispatchCommit) error
	MarkDispatchFailed(ctx context.Context, deviceID int64) error
	ResolveCommand(ctx context.Context, deviceID, commandID int64, state models.CommandState, revertDout bool) (bool, error)
	ListPending(ctx context.Context) ([]models.UsageControlRecord, error)
	InsertLogAndReport(ctx context.Context, log *models.CommandAuditLog, report *models.CommandAuditReport) error
	ListAuditLogs(ctx context.Context, filter repository.AuditFilter) ([]models.CommandAuditLog, error)
}

// CommandGateway 设备命令 API（gateway.TelemetryClient）
type CommandGateway interface {
	SendCommand(ctx context.Context, deviceID int64, cmd gateway.Command) (*gateway.CommandAck, error)
	GetExecutionStatus(ctx context.Context, deviceID, commandID int64) (*gateway.CommandResult, error)
}

// CacheInvalidator 身份缓存失效（cache.IdentityResolver）
type CacheInvalidator interface {
	Invalidate(ctx context.Context, gatewayID int64)
}

// PositionSource 设备最近上报的位置（consumer.RedisLiveState）
type PositionSource interface {
	LastPosition(ctx context.Context, gatewayID int64) (*geofence.Point, error)
}

// Options 编排参数
type Options struct {
	Cooldown        time.Duration
	PendingTimeout  time.Duration
	CommandTTL      time.Duration
	MinReasonLength int
}

// Orchestrator 使用控制编排：绑定司机 / 班次，下发远程锁定 / 解锁命令并记录审计
type Orchestrator struct {
	devices   DeviceStore
	store     Store
	gateway   CommandGateway
	cache     CacheInvalidator
	locker    DeviceLocker
	positions PositionSource
	geofence  *geofence.Validator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	devices DeviceStore,
	store Store,
	gw CommandGateway,
	cache CacheInvalidator,
	locker DeviceLocker,
	positions PositionSource,
	validator *geofence.Validator,
	opts Options,
	logger *zap.Logger,
) *Orchestrator {
	if opts.MinReasonLength <= 0 {
		opts.MinReasonLength = 3
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = 2 * time.Minute
	}
	if validator == nil {
		validator = geofence.NewValidator(geofence.DefaultRadiusMeters)
	}
	return &Orchestrator{
		devices:   devices,
		store:     store,
		gateway:   gw,
		cache:     cache,
		locker:    locker,
		positions: positions,
		geofence:  validator,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// ToggleRequest 操作员发起的锁定 / 解锁
type ToggleRequest struct {
	DeviceID           int64           `json:"-"`
	Action             string          `json:"action,omitempty"` // 为空时按当前 dout 取反
	PerformerID        int64           `json:"performer_id"`
	Reason             string          `json:"reason"`
	Confirmed          bool            `json:"confirmed"`
	AcknowledgeWarning bool            `json:"acknowledge_warning"`
	Location           *geofence.Point `json:"location,omitempty"` // 设备当前位置，为空时读取实时状态
}

// ToggleResult 命令已被网关接收
type ToggleResult struct {
	DeviceID          int64               `json:"device_id"`
	Action            string              `json:"action"`
	Command           string              `json:"command"`
	CommandID         int64               `json:"command_id"`
	DoutStatus        int                 `json:"dout_status"`
	State             models.CommandState `json:"state"`
	LocationCompliant bool                `json:"location_compliant"`
	LogID             string              `json:"log_id"`
	CooldownUntil     time.Time           `json:"cooldown_until"`
}

// Toggle 切换设备锁定状态
// 1. 设备锁 2. 前置条件 3. 点火 / 连接检查 4. 操作员确认和理由
// 5. 下发命令 6. 网关确认后在一个事务中翻转 dout、记录待确认命令和审计
func (o *Orchestrator) Toggle(ctx context.Context, req ToggleRequest) (*ToggleResult, error) {
	release, err := o.locker.Acquire(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	defer release()

	// 1. 前置条件
	device, err := o.devices.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	pair, err := o.devices.GetCommandPair(ctx, device.DeviceTypeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, preconditionf("device type %d has no command pair", device.DeviceTypeID)
		}
		return nil, err
	}
	if device.DoutStatus == nil {
		return nil, preconditionf("device %d has no known dout state", device.DeviceID)
	}
	record, err := o.store.GetUsageControl(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if !record.Assigned() {
		return nil, ErrNotAssigned
	}
	if o.commandStillPending(record) {
		return nil, ErrCommandPending
	}

	currentDout := *device.DoutStatus
	action, newDout := models.ActionLock, models.DoutLocked
	if currentDout == models.DoutLocked {
		action, newDout = models.ActionUnlock, models.DoutUnlocked
	}
	if req.Action != "" && req.Action != action {
		return nil, preconditionf("device is already %sed", req.Action)
	}
	commandText := pair.LockCommand
	if action == models.ActionUnlock {
		commandText = pair.UnlockCommand
	}
	if strings.TrimSpace(commandText) == "" {
		return nil, preconditionf("device type %d has no %s command", device.DeviceTypeID, action)
	}

	// 2. 点火 / 连接检查
	if err := checkIgnition(device, req.AcknowledgeWarning); err != nil {
		return nil, err
	}

	// 3. 操作员确认和理由
	if !req.Confirmed {
		return nil, ErrNotConfirmed
	}
	reason, err := o.validateReason(req.Reason)
	if err != nil {
		return nil, err
	}

	locationCompliant := o.locationCompliant(ctx, device, req.Location)

	// 4. 下发命令
	ack, err := o.gateway.SendCommand(ctx, device.GatewayID, gateway.CustomCommand(commandText, o.opts.CommandTTL))
	if err != nil {
		if markErr := o.store.MarkDispatchFailed(ctx, device.DeviceID); markErr != nil {
			o.logger.Error("Failed to record dispatch failure",
				zap.Int64("device_id", device.DeviceID),
				zap.Error(markErr),
			)
		}
		o.cache.Invalidate(ctx, device.GatewayID)
		return nil, fmt.Errorf("failed to dispatch %s command: %w", action, err)
	}

	// 5. 网关已接收：一个事务内提交状态和审计
	dispatchedAt := o.now().UTC()
	log := &models.CommandAuditLog{
		CreatedAt:         dispatchedAt,
		DeviceID:          device.DeviceID,
		DriverID:          record.DriverID,
		ShiftID:           record.ShiftID,
		Action:            action,
		Command:           commandText,
		CommandID:         &ack.CommandID,
		PerformerID:       req.PerformerID,
		LocationCompliant: locationCompliant,
		Reason:            reason,
		Complied:          models.CompliedYes,
	}
	report := &models.CommandAuditReport{}
	err = o.store.CommitDispatch(ctx, repository.DispatchCommit{
		DeviceID:     device.DeviceID,
		NewDout:      newDout,
		PreviousDout: currentDout,
		CommandID:    ack.CommandID,
		Action:       action,
		DispatchedAt: dispatchedAt,
		Log:          log,
		Report:       report,
	})
	if err != nil {
		o.logger.Error("Command dispatched but state commit failed",
			zap.Int64("device_id", device.DeviceID),
			zap.Int64("command_id", ack.CommandID),
			zap.String("action", action),
			zap.Error(err),
		)
		return nil, err
	}
	o.cache.Invalidate(ctx, device.GatewayID)

	o.logger.Info("Usage control command dispatched",
		zap.Int64("device_id", device.DeviceID),
		zap.Int64("command_id", ack.CommandID),
		zap.String("action", action),
		zap.Int64("performer_id", req.PerformerID),
		zap.Bool("location_compliant", locationCompliant),
	)

	return &ToggleResult{
		DeviceID:          device.DeviceID,
		Action:            action,
		Command:           commandText,
		CommandID:         ack.CommandID,
		DoutStatus:        newDout,
		State:             models.StateCommandPending,
		LocationCompliant: locationCompliant,
		LogID:             log.LogID,
		CooldownUntil:     dispatchedAt.Add(o.opts.Cooldown),
	}, nil
}

// 待确认命令超时后不再阻止新的切换
func (o *Orchestrator) commandStillPending(record *models.UsageControlRecord) bool {
	if record.State != models.StateCommandPending || record.CommandDispatched == nil {
		return false
	}
	return o.now().Sub(*record.CommandDispatched) < o.opts.PendingTimeout
}

// checkIgnition 断开连接直接拒绝；已连接时无论点火与否都需要操作员确认告警
func checkIgnition(device *models.Device, acknowledged bool) error {
	if !device.Connected {
		return ErrDeviceDisconnected
	}
	if acknowledged {
		return nil
	}
	if device.Ignition {
		return &WarningError{
			Level:   WarningIgnitionOn,
			Message: "ignition is on, the vehicle may be in motion",
		}
	}
	return &WarningError{
		Level:   WarningIgnitionOff,
		Message: "ignition is off, the command takes effect on the parked vehicle",
	}
}

func (o *Orchestrator) validateReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if utf8.RuneCountInString(trimmed) < o.opts.MinReasonLength {
		return "", fmt.Errorf("%w: at least %d characters required", ErrReasonTooShort, o.opts.MinReasonLength)
	}
	return trimmed, nil
}

// locationCompliant 设备位置是否在授权半径内；没有授权位置或位置未知时为 false
func (o *Orchestrator) locationCompliant(ctx context.Context, device *models.Device, reported *geofence.Point) bool {
	if !device.HasAuthLocation() {
		return false
	}
	position := reported
	if position == nil && o.positions != nil {
		p, err := o.positions.LastPosition(ctx, device.GatewayID)
		if err != nil {
			o.logger.Warn("Failed to read device position",
				zap.Int64("device_id", device.DeviceID),
				zap.Error(err),
			)
		}
		position = p
	}
	if position == nil {
		return false
	}
	auth := geofence.Point{Latitude: *device.AuthLat, Longitude: *device.AuthLon}
	return o.geofence.WithinRadius(*position, auth, 0)
}

// UpdateDeviceInUsageControl 在一个事务中更新设备的司机 / 班次绑定
func (o *Orchestrator) UpdateDeviceInUsageControl(ctx context.Context, deviceID int64, update models.BindingUpdate) error {
	release, err := o.locker.Acquire(ctx, deviceID)
	if err != nil {
		return err
	}
	defer release()

	device, err := o.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	// 原司机只能是设备当前绑定的司机
	if update.PrevDriverID != nil && (device.DriverID == nil || *update.PrevDriverID != *device.DriverID) {
		return preconditionf("prev_driver_id %d is not bound to device %d", *update.PrevDriverID, deviceID)
	}
	update.PrevDriverID = device.DriverID
	if err := o.store.UpdateBinding(ctx, deviceID, update); err != nil {
		return err
	}
	o.cache.Invalidate(ctx, device.GatewayID)

	o.logger.Info("Usage control binding updated",
		zap.Int64("device_id", deviceID),
		zap.Any("shift_id", update.ShiftID),
		zap.Any("driver_id", update.DriverID),
	)
	return nil
}

// SetReason 保存操作理由
func (o *Orchestrator) SetReason(ctx context.Context, deviceID int64, reason string) error {
	trimmed, err := o.validateReason(reason)
	if err != nil {
		return err
	}
	return o.store.SetReason(ctx, deviceID, &trimmed)
}

// ClearReason 清除操作理由
func (o *Orchestrator) ClearReason(ctx context.Context, deviceID int64) error {
	return o.store.SetReason(ctx, deviceID, nil)
}

// Page 分页结果
type Page struct {
	Items []models.UsageControlRecord `json:"items"`
	Total int                         `json:"total"`
	Page  int                         `json:"page"`
	Size  int                         `json:"size"`
}

// List 分页查询，可按归属用户过滤
func (o *Orchestrator) List(ctx context.Context, page, size int, ownerUserID *int64) (*Page, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	items, total, err := o.store.ListUsageControl(ctx, repository.UsageControlFilter{
		OwnerUserID: ownerUserID,
		Page:        page,
		Size:        size,
	})
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Total: total, Page: page, Size: size}, nil
}

// RecordLogAndReport 手工补录审计日志和报告（同一事务）
func (o *Orchestrator) RecordLogAndReport(ctx context.Context, log *models.CommandAuditLog, report *models.CommandAuditReport) error {
	if log.Action != models.ActionLock && log.Action != models.ActionUnlock {
		return fmt.Errorf("invalid action: %q", log.Action)
	}
	reason, err := o.validateReason(log.Reason)
	if err != nil {
		return err
	}
	log.Reason = reason
	if report == nil {
		report = &models.CommandAuditReport{}
	}
	return o.store.InsertLogAndReport(ctx, log, report)
}

// AuditLogs 审计日志查询（报表导出）
func (o *Orchestrator) AuditLogs(ctx context.Context, filter repository.AuditFilter) ([]models.CommandAuditLog, error) {
	return o.store.ListAuditLogs(ctx, filter)
}
