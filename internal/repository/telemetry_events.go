package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"fleetguard/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TelemetryEventsRepository 报警 / 事件 / 驾驶行为审计表（只追加）
type TelemetryEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewTelemetryEventsRepository 创建审计写入仓库
func NewTelemetryEventsRepository(db *sql.DB, logger *zap.Logger) *TelemetryEventsRepository {
	return &TelemetryEventsRepository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

var telemetryInsertQueries = map[models.TelemetryRecordKind]string{
	models.RecordAlarm: `
		INSERT INTO alarms (alarm_id, device_id, device_name, alarm_code, topic, payload, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
	models.RecordEvent: `
		INSERT INTO events (event_id, device_id, device_name, event_code, topic, payload, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
	models.RecordDriverBehavior: `
		INSERT INTO driver_behaviors (behavior_id, device_id, device_name, behavior_type, topic, payload, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
}

// Insert 插入一条审计行，返回填充了 ID / 时间的记录
func (r *TelemetryEventsRepository) Insert(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error) {
	query, ok := telemetryInsertQueries[rec.Kind]
	if !ok {
		return nil, fmt.Errorf("unsupported record kind: %s", rec.Kind)
	}
	if rec.DeviceID <= 0 {
		return nil, fmt.Errorf("device_id is required")
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	payload := rec.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		// 原始载荷不是合法 JSON 时按字符串保存
		b, err := json.Marshal(string(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		payload = b
	}

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.DeviceID,
		rec.DeviceName,
		rec.Code,
		rec.Topic,
		string(payload),
		rec.OwnerUserID,
		rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s record: %w", rec.Kind, err)
	}

	rec.Payload = payload
	return &rec, nil
}

// InsertAlarm 写入报警审计行
func (r *TelemetryEventsRepository) InsertAlarm(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error) {
	rec.Kind = models.RecordAlarm
	return r.Insert(ctx, rec)
}

// InsertEvent 写入事件审计行
func (r *TelemetryEventsRepository) InsertEvent(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error) {
	rec.Kind = models.RecordEvent
	return r.Insert(ctx, rec)
}

// InsertDriverBehavior 写入驾驶行为审计行
func (r *TelemetryEventsRepository) InsertDriverBehavior(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error) {
	rec.Kind = models.RecordDriverBehavior
	return r.Insert(ctx, rec)
}
