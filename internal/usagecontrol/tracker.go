package usagecontrol

import (
	"context"
	"time"

	"fleetguard/internal/gateway"
	"fleetguard/internal/models"

	"go.uber.org/zap"
)

// CommandStatus 命令确认查询结果
type CommandStatus struct {
	DeviceID  int64                   `json:"device_id"`
	CommandID int64                   `json:"command_id"`
	Status    gateway.ExecutionStatus `json:"status"`
	Response  string                  `json:"response,omitempty"`
	State     models.CommandState     `json:"state,omitempty"` // 本次查询写入的最终状态
}

// Tracker 命令确认跟踪：从网关拉取执行结果并落库
// 待确认状态持久化在 usage_control 中，进程重启后由 Reconcile 继续处理
type Tracker struct {
	devices  DeviceStore
	store    Store
	gateway  CommandGateway
	cache    CacheInvalidator
	interval time.Duration
	logger   *zap.Logger
}

// NewTracker 创建命令确认跟踪器
func NewTracker(devices DeviceStore, store Store, gw CommandGateway, cache CacheInvalidator, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Tracker{
		devices:  devices,
		store:    store,
		gateway:  gw,
		cache:    cache,
		interval: interval,
		logger:   logger,
	}
}

// CheckStatus 查询命令执行状态；命令有最终结果且仍是设备的待确认命令时落库
// 执行失败时 dout 恢复为下发前的值
func (t *Tracker) CheckStatus(ctx context.Context, deviceID, commandID int64) (*CommandStatus, error) {
	device, err := t.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	result, err := t.gateway.GetExecutionStatus(ctx, device.GatewayID, commandID)
	if err != nil {
		return nil, err
	}

	status := &CommandStatus{
		DeviceID:  deviceID,
		CommandID: commandID,
		Status:    result.Status,
		Response:  result.Response,
	}
	if !result.Status.Terminal() {
		return status, nil
	}

	state := models.StateCommandConfirmed
	if result.Status == gateway.StatusFailed {
		state = models.StateCommandFailed
	}
	updated, err := t.store.ResolveCommand(ctx, deviceID, commandID, state, state == models.StateCommandFailed)
	if err != nil {
		return nil, err
	}
	if updated {
		status.State = state
		t.cache.Invalidate(ctx, device.GatewayID)
		t.logger.Info("Command resolved",
			zap.Int64("device_id", deviceID),
			zap.Int64("command_id", commandID),
			zap.String("state", string(state)),
		)
	}
	return status, nil
}

// Reconcile 检查所有待确认命令，返回本轮落库的数量
func (t *Tracker) Reconcile(ctx context.Context) (int, error) {
	pending, err := t.store.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, rec := range pending {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		if rec.PendingCommandID == nil {
			continue
		}
		status, err := t.CheckStatus(ctx, rec.DeviceID, *rec.PendingCommandID)
		if err != nil {
			t.logger.Warn("Failed to check command status",
				zap.Int64("device_id", rec.DeviceID),
				zap.Int64("command_id", *rec.PendingCommandID),
				zap.Error(err),
			)
			continue
		}
		if status.State != "" {
			resolved++
		}
	}
	return resolved, nil
}

// Run 周期性对账，直到 ctx 取消
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info("Command confirmation tracker started", zap.Duration("interval", t.interval))
	for {
		if n, err := t.Reconcile(ctx); err != nil && ctx.Err() == nil {
			t.logger.Error("Command reconcile failed", zap.Error(err))
		} else if n > 0 {
			t.logger.Info("Reconciled pending commands", zap.Int("resolved", n))
		}

		select {
		case <-ctx.Done():
			t.logger.Info("Command confirmation tracker stopped")
			return
		case <-ticker.C:
		}
	}
}
