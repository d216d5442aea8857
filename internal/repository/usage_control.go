package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleetguard/common/database"
	"fleetguard/internal/models"

	"go.uber.org/zap"
)

// ErrDriverUnavailable 司机不存在或已绑定到其他设备
var ErrDriverUnavailable = errors.New("driver not found or already assigned")

// ErrStaleBinding 原司机不是该设备当前绑定的司机
var ErrStaleBinding = errors.New("previous driver is not bound to this device")

// errNotPending 命令已不是待确认状态（用于中止事务，不对外暴露）
var errNotPending = errors.New("command is not pending")

// UsageControlRepository 使用控制仓库
// usage_control 与 drivers.assigned 只由编排器通过本仓库写入
type UsageControlRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewUsageControlRepository 创建使用控制仓库
func NewUsageControlRepository(db *sql.DB, logger *zap.Logger) *UsageControlRepository {
	return &UsageControlRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

const usageControlColumns = `
	uc.usage_control_id,
	uc.device_id,
	d.device_name,
	d.user_id,
	uc.shift_id,
	uc.driver_id,
	uc.reason,
	uc.state,
	uc.pending_command_id,
	uc.pending_action,
	uc.previous_dout,
	uc.command_dispatched_at,
	uc.created_at,
	uc.updated_at
`

func scanUsageControl(row interface{ Scan(...any) error }) (*models.UsageControlRecord, error) {
	var (
		rec                              models.UsageControlRecord
		userID, shiftID, driverID, cmdID sql.NullInt64
		reason, pendingAction            sql.NullString
		previousDout                     sql.NullInt32
		dispatchedAt                     sql.NullTime
		state                            string
	)
	if err := row.Scan(
		&rec.UsageControlID,
		&rec.DeviceID,
		&rec.DeviceName,
		&userID,
		&shiftID,
		&driverID,
		&reason,
		&state,
		&cmdID,
		&pendingAction,
		&previousDout,
		&dispatchedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.OwnerUserID = int64Ptr(userID)
	rec.ShiftID = int64Ptr(shiftID)
	rec.DriverID = int64Ptr(driverID)
	rec.Reason = stringPtr(reason)
	rec.State = models.CommandState(state)
	rec.PendingCommandID = int64Ptr(cmdID)
	rec.PendingAction = stringPtr(pendingAction)
	rec.PreviousDout = intPtr(previousDout)
	if dispatchedAt.Valid {
		t := dispatchedAt.Time
		rec.CommandDispatched = &t
	}
	return &rec, nil
}

// GetUsageControl 获取设备的使用控制记录
func (r *UsageControlRepository) GetUsageControl(ctx context.Context, deviceID int64) (*models.UsageControlRecord, error) {
	query := `SELECT ` + usageControlColumns + `
		FROM usage_control uc
		JOIN devices d ON d.device_id = uc.device_id
		WHERE uc.device_id = $1
	`
	rec, err := scanUsageControl(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("usage control for device %d: %w", deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query usage control: %w", err)
	}
	return rec, nil
}

// UsageControlFilter 列表查询条件
type UsageControlFilter struct {
	OwnerUserID *int64
	Page        int
	Size        int
}

// ListUsageControl 分页查询使用控制记录，可按设备归属用户过滤
func (r *UsageControlRepository) ListUsageControl(ctx context.Context, filter UsageControlFilter) ([]models.UsageControlRecord, int, error) {
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	size := filter.Size
	if size <= 0 {
		size = 20
	}
	if size > 200 {
		size = 200
	}

	where := []string{"1=1"}
	args := []any{}
	argN := 1
	if filter.OwnerUserID != nil {
		where = append(where, fmt.Sprintf("d.user_id = $%d", argN))
		args = append(args, *filter.OwnerUserID)
		argN++
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM usage_control uc JOIN devices d ON d.device_id = uc.device_id WHERE ` + whereSQL
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count usage control: %w", err)
	}

	query := `SELECT ` + usageControlColumns + `
		FROM usage_control uc
		JOIN devices d ON d.device_id = uc.device_id
		WHERE ` + whereSQL + fmt.Sprintf(`
		ORDER BY uc.device_id
		LIMIT $%d OFFSET $%d`, argN, argN+1)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query usage control: %w", err)
	}
	defer rows.Close()

	items := make([]models.UsageControlRecord, 0, size)
	for rows.Next() {
		rec, err := scanUsageControl(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan usage control: %w", err)
		}
		items = append(items, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate usage control: %w", err)
	}
	return items, total, nil
}

// ListPending 查询所有待确认命令（崩溃恢复 / 定期对账）
func (r *UsageControlRepository) ListPending(ctx context.Context) ([]models.UsageControlRecord, error) {
	query := `SELECT ` + usageControlColumns + `
		FROM usage_control uc
		JOIN devices d ON d.device_id = uc.device_id
		WHERE uc.state = $1 AND uc.pending_command_id IS NOT NULL
		ORDER BY uc.command_dispatched_at
	`
	rows, err := r.db.QueryContext(ctx, query, string(models.StateCommandPending))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending commands: %w", err)
	}
	defer rows.Close()

	var items []models.UsageControlRecord
	for rows.Next() {
		rec, err := scanUsageControl(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage control: %w", err)
		}
		items = append(items, *rec)
	}
	return items, rows.Err()
}

// SetReason 设置 / 清除（reason 为 nil）操作理由
func (r *UsageControlRepository) SetReason(ctx context.Context, deviceID int64, reason *string) error {
	var value any
	if reason != nil {
		value = *reason
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE usage_control
		SET reason = $2, updated_at = $3
		WHERE device_id = $1
	`, deviceID, value, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update reason: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("usage control for device %d: %w", deviceID, ErrNotFound)
	}
	return nil
}

// UpdateBinding 在一个事务中更新司机 / 班次绑定
// 1) 解除上一个司机的 assigned 标记 2) 更新 usage_control 绑定
// 3) 更新 device_shifts 绑定 4) 标记新司机 assigned
// 任一步骤失败全部回滚
func (r *UsageControlRepository) UpdateBinding(ctx context.Context, deviceID int64, update models.BindingUpdate) error {
	now := r.now().UTC()
	state := models.StateUnassigned
	if update.DriverID != nil {
		state = models.StateAssigned
	}

	steps := []database.NamedStep{}
	if update.PrevDriverID != nil {
		steps = append(steps, database.NamedStep{
			Name: "unassign_previous_driver",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				res, err := tx.ExecContext(ctx, `
					UPDATE drivers SET assigned = FALSE
					WHERE driver_id = $1
					  AND driver_id = (SELECT driver_id FROM usage_control WHERE device_id = $2)
				`, *update.PrevDriverID, deviceID)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return fmt.Errorf("driver %d on device %d: %w", *update.PrevDriverID, deviceID, ErrStaleBinding)
				}
				return nil
			},
		})
	}

	steps = append(steps,
		database.NamedStep{
			Name: "update_usage_control_binding",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				res, err := tx.ExecContext(ctx, `
					UPDATE usage_control
					SET shift_id = $2,
					    driver_id = $3,
					    state = CASE WHEN state = $5 THEN state ELSE $4 END,
					    updated_at = $6
					WHERE device_id = $1
				`, deviceID,
					nullableInt64(update.ShiftID),
					nullableInt64(update.DriverID),
					string(state),
					string(models.StateCommandPending),
					now,
				)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return fmt.Errorf("usage control for device %d: %w", deviceID, ErrNotFound)
				}
				return nil
			},
		},
		database.NamedStep{
			Name: "update_device_shift_binding",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO device_shifts (device_id, shift_id, driver_id, updated_at)
					VALUES ($1, $2, $3, $4)
					ON CONFLICT (device_id)
					DO UPDATE SET shift_id = EXCLUDED.shift_id,
					              driver_id = EXCLUDED.driver_id,
					              updated_at = EXCLUDED.updated_at
				`, deviceID,
					nullableInt64(update.ShiftID),
					nullableInt64(update.DriverID),
					now,
				)
				return err
			},
		},
	)

	if update.DriverID != nil {
		steps = append(steps, database.NamedStep{
			Name: "assign_driver",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				res, err := tx.ExecContext(ctx,
					`UPDATE drivers SET assigned = TRUE WHERE driver_id = $1 AND assigned = FALSE`,
					*update.DriverID)
				if err != nil {
					return err
				}
				if n, _ := res.RowsAffected(); n == 0 {
					return fmt.Errorf("driver %d: %w", *update.DriverID, ErrDriverUnavailable)
				}
				return nil
			},
		})
	}

	if err := database.RunInTx(ctx, r.db, steps...); err != nil {
		r.logger.Error("Failed to update usage control binding",
			zap.Int64("device_id", deviceID),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// DispatchCommit 命令网关确认接收后的状态提交
type DispatchCommit struct {
	DeviceID     int64
	NewDout      int
	PreviousDout int
	CommandID    int64
	Action       string
	DispatchedAt time.Time
	Log          *models.CommandAuditLog
	Report       *models.CommandAuditReport
}

// CommitDispatch 在一个事务中：翻转 dout、持久化 command_pending、写审计日志和报告
func (r *UsageControlRepository) CommitDispatch(ctx context.Context, c DispatchCommit) error {
	if c.Log == nil || c.Report == nil {
		return fmt.Errorf("audit log and report are required")
	}
	PrepareAuditPair(c.Log, c.Report, c.DispatchedAt)

	err := database.RunInTx(ctx, r.db,
		database.NamedStep{
			Name: "flip_dout_status",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					`UPDATE devices SET dout_status = $2 WHERE device_id = $1`,
					c.DeviceID, c.NewDout)
				return err
			},
		},
		database.NamedStep{
			Name: "mark_command_pending",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `
					UPDATE usage_control
					SET state = $2,
					    pending_command_id = $3,
					    pending_action = $4,
					    previous_dout = $5,
					    command_dispatched_at = $6,
					    updated_at = $6
					WHERE device_id = $1
				`, c.DeviceID,
					string(models.StateCommandPending),
					c.CommandID,
					c.Action,
					c.PreviousDout,
					c.DispatchedAt,
				)
				return err
			},
		},
		insertAuditLogStep(c.Log),
		insertAuditReportStep(c.Report),
	)
	if err != nil {
		return fmt.Errorf("failed to commit command dispatch: %w", err)
	}
	return nil
}

// MarkDispatchFailed 命令下发失败，状态置为 command_failed
func (r *UsageControlRepository) MarkDispatchFailed(ctx context.Context, deviceID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE usage_control
		SET state = $2, pending_command_id = NULL, pending_action = NULL, updated_at = $3
		WHERE device_id = $1
	`, deviceID, string(models.StateCommandFailed), r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark dispatch failed: %w", err)
	}
	return nil
}

// ResolveCommand 记录命令最终结果
// 只有当 commandID 仍是该设备的待确认命令时才生效；revertDout 为 true 时把 dout 恢复为下发前的值
// 返回 false 表示命令已被处理或被更新的命令取代
func (r *UsageControlRepository) ResolveCommand(ctx context.Context, deviceID, commandID int64, state models.CommandState, revertDout bool) (bool, error) {
	if !state.Terminal() {
		return false, fmt.Errorf("invalid terminal state: %s", state)
	}

	var previousDout sql.NullInt32
	steps := []database.NamedStep{
		{
			Name: "resolve_pending_command",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				err := tx.QueryRowContext(ctx, `
					UPDATE usage_control
					SET state = $3, updated_at = $5
					WHERE device_id = $1
					  AND pending_command_id = $2
					  AND state = $4
					RETURNING previous_dout
				`, deviceID, commandID, string(state), string(models.StateCommandPending), r.now().UTC()).Scan(&previousDout)
				if err == sql.ErrNoRows {
					return errNotPending
				}
				return err
			},
		},
	}
	if revertDout {
		steps = append(steps, database.NamedStep{
			Name: "revert_dout_status",
			Run: func(ctx context.Context, tx *sql.Tx) error {
				if !previousDout.Valid {
					return nil
				}
				_, err := tx.ExecContext(ctx,
					`UPDATE devices SET dout_status = $2 WHERE device_id = $1`,
					deviceID, previousDout.Int32)
				return err
			},
		})
	}

	if err := database.RunInTx(ctx, r.db, steps...); err != nil {
		if errors.Is(err, errNotPending) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve command: %w", err)
	}
	return true, nil
}
