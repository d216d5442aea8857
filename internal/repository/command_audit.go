package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fleetguard/common/database"
	"fleetguard/internal/models"

	"github.com/google/uuid"
)

const insertAuditLogQuery = `
	INSERT INTO command_audit_logs (
		log_id, created_at, device_id, driver_id, shift_id, action, command,
		command_id, performer_id, location_compliant, reason, complied
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`

const insertAuditReportQuery = `
	INSERT INTO command_audit_reports (
		report_id, log_id, created_at, device_id, driver_id, action,
		location_compliant, complied, summary
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// PrepareAuditPair 补全日志 / 报告的 ID、时间和关联关系
func PrepareAuditPair(log *models.CommandAuditLog, report *models.CommandAuditReport, now time.Time) {
	if log.LogID == "" {
		log.LogID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = now.UTC()
	}
	if log.Complied == "" {
		log.Complied = models.CompliedNo
	}
	if report.ReportID == "" {
		report.ReportID = uuid.New().String()
	}
	report.LogID = log.LogID
	if report.CreatedAt.IsZero() {
		report.CreatedAt = log.CreatedAt
	}
	if report.DeviceID == 0 {
		report.DeviceID = log.DeviceID
	}
	if report.DriverID == nil {
		report.DriverID = log.DriverID
	}
	if report.Action == "" {
		report.Action = log.Action
	}
	if report.Complied == "" {
		report.Complied = log.Complied
		report.LocationCompliant = log.LocationCompliant
	}
	if report.Summary == "" {
		report.Summary = summarize(log)
	}
}

func summarize(log *models.CommandAuditLog) string {
	location := "outside authorized radius"
	if log.LocationCompliant {
		location = "within authorized radius"
	}
	return fmt.Sprintf("%s command %s by %d, %s, complied=%s",
		log.Action, strings.TrimSpace(log.Command), log.PerformerID, location, log.Complied)
}

func insertAuditLogStep(log *models.CommandAuditLog) database.NamedStep {
	return database.NamedStep{
		Name: "insert_command_audit_log",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insertAuditLogQuery,
				log.LogID,
				log.CreatedAt,
				log.DeviceID,
				nullableInt64(log.DriverID),
				nullableInt64(log.ShiftID),
				log.Action,
				log.Command,
				nullableInt64(log.CommandID),
				log.PerformerID,
				log.LocationCompliant,
				log.Reason,
				log.Complied,
			)
			return err
		},
	}
}

func insertAuditReportStep(report *models.CommandAuditReport) database.NamedStep {
	return database.NamedStep{
		Name: "insert_command_audit_report",
		Run: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insertAuditReportQuery,
				report.ReportID,
				report.LogID,
				report.CreatedAt,
				report.DeviceID,
				nullableInt64(report.DriverID),
				report.Action,
				report.LocationCompliant,
				report.Complied,
				report.Summary,
			)
			return err
		},
	}
}

// AuditFilter 审计日志查询条件
type AuditFilter struct {
	DeviceID *int64
	Since    *time.Time
	Limit    int
}

// ListAuditLogs 查询命令审计日志（按时间倒序）
func (r *UsageControlRepository) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]models.CommandAuditLog, error) {
	where := []string{"1=1"}
	args := []any{}
	argN := 1
	if filter.DeviceID != nil {
		where = append(where, fmt.Sprintf("device_id = $%d", argN))
		args = append(args, *filter.DeviceID)
		argN++
	}
	if filter.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filter.Since)
		argN++
	}
	limit := filter.Limit
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	args = append(args, limit)

	query := `
		SELECT log_id, created_at, device_id, driver_id, shift_id, action, command,
		       command_id, performer_id, location_compliant, reason, complied
		FROM command_audit_logs
		WHERE ` + strings.Join(where, " AND ") + fmt.Sprintf(`
		ORDER BY created_at DESC
		LIMIT $%d`, argN)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query command audit logs: %w", err)
	}
	defer rows.Close()

	var logs []models.CommandAuditLog
	for rows.Next() {
		var (
			l                            models.CommandAuditLog
			driverID, shiftID, commandID sql.NullInt64
		)
		if err := rows.Scan(
			&l.LogID,
			&l.CreatedAt,
			&l.DeviceID,
			&driverID,
			&shiftID,
			&l.Action,
			&l.Command,
			&commandID,
			&l.PerformerID,
			&l.LocationCompliant,
			&l.Reason,
			&l.Complied,
		); err != nil {
			return nil, fmt.Errorf("failed to scan command audit log: %w", err)
		}
		l.DriverID = int64Ptr(driverID)
		l.ShiftID = int64Ptr(shiftID)
		l.CommandID = int64Ptr(commandID)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate command audit logs: %w", err)
	}
	return logs, nil
}

// InsertLogAndReport 在同一事务中写入审计日志和配套报告
func (r *UsageControlRepository) InsertLogAndReport(ctx context.Context, log *models.CommandAuditLog, report *models.CommandAuditReport) error {
	if log.DeviceID <= 0 {
		return fmt.Errorf("device_id is required")
	}
	if log.Action == "" {
		return fmt.Errorf("action is required")
	}
	PrepareAuditPair(log, report, r.now())
	if err := database.RunInTx(ctx, r.db, insertAuditLogStep(log), insertAuditReportStep(report)); err != nil {
		return fmt.Errorf("failed to insert command audit log: %w", err)
	}
	return nil
}
