package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetguard/internal/fanout"
	"fleetguard/internal/geofence"
	"fleetguard/internal/models"
	"fleetguard/internal/repository"

	"go.uber.org/zap"
)

// IdentityResolver 设备身份解析（cache.IdentityResolver）
type IdentityResolver interface {
	Resolve(ctx context.Context, gatewayID int64) (*models.DeviceIdentity, error)
}

// SubscriptionMatcher 通知订阅匹配（repository.SubscriptionRepository）
type SubscriptionMatcher interface {
	MatchAlarm(ctx context.Context, deviceTypeID int, alarmCode string) (*models.NotificationSubscription, error)
	MatchEvent(ctx context.Context, deviceTypeID int, eventCode string) (*models.NotificationSubscription, error)
}

// EventWriter 报警 / 事件 / 驾驶行为写入（repository.TelemetryEventsRepository）
type EventWriter interface {
	InsertAlarm(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error)
	InsertEvent(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error)
	InsertDriverBehavior(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error)
}

// DeviceStatusWriter 设备连接 / 点火状态（repository.DeviceRepository）
type DeviceStatusWriter interface {
	UpdateConnectionStatus(ctx context.Context, gatewayID int64, connected bool) error
	UpdateIgnitionStatus(ctx context.Context, gatewayID int64, ignition bool) error
}

// Notifier 报警 / 事件扇出（fanout.Notifier）
type Notifier interface {
	Notify(ctx context.Context, notification fanout.Notification) ([]fanout.Recipient, error)
}

// StreamPublisher 遥测数据流发布（common/redis.StreamPublisher）
type StreamPublisher interface {
	PublishJSON(ctx context.Context, stream string, data interface{}) (string, error)
}

// Deps 管道依赖
type Deps struct {
	Identity        IdentityResolver
	Subscriptions   SubscriptionMatcher
	Events          EventWriter
	Status          DeviceStatusWriter
	Notifier        Notifier
	LiveState       LiveStateStore
	Publisher       StreamPublisher
	Geofence        *geofence.Validator
	TelemetryStream string
}

// Pipeline 遥测事件关联管道
// 读路径失败（身份、订阅、扇出）只记录日志并丢弃消息，写路径失败返回错误
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewPipeline 创建管道
func NewPipeline(deps Deps, logger *zap.Logger) *Pipeline {
	if deps.Geofence == nil {
		deps.Geofence = geofence.NewValidator(geofence.DefaultRadiusMeters)
	}
	if deps.TelemetryStream == "" {
		deps.TelemetryStream = "fleet:telemetry:stream"
	}
	return &Pipeline{
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// Dispatch 解析主题并路由到唯一的处理器
func (p *Pipeline) Dispatch(ctx context.Context, topic string, payload []byte) (Outcome, error) {
	info, ok := ParseTopic(topic)
	if !ok {
		return p.skip(skipped(KindUnknown, 0, ReasonNoDeviceID), topic), nil
	}
	kind := Classify(info.Suffix)
	if kind == KindUnknown {
		return p.skip(skipped(kind, info.DeviceID, ReasonUnknownSuffix), topic), nil
	}
	value, ok := decodePayload(payload)
	if !ok {
		return p.skip(skipped(kind, info.DeviceID, ReasonInvalidPayload), topic), nil
	}

	msg := message{info: info, kind: kind, value: value, raw: payload}

	var (
		outcome Outcome
		err     error
	)
	switch kind {
	case KindAnalogInput, KindDigitalOutput, KindDigitalInput:
		outcome, err = p.handleIO(ctx, msg)
	case KindConnection:
		outcome, err = p.handleConnection(ctx, msg)
	case KindIgnition:
		outcome, err = p.handleIgnition(ctx, msg)
	case KindLocation:
		outcome, err = p.handleLocation(ctx, msg)
	case KindAlarm:
		outcome, err = p.handleAlarm(ctx, msg)
	case KindEvent:
		outcome, err = p.handleEvent(ctx, msg)
	case KindDriverBehavior:
		outcome, err = p.handleDriverBehavior(ctx, msg)
	}
	if err != nil {
		return outcome, err
	}
	if outcome.Skipped {
		return p.skip(outcome, topic), nil
	}
	return outcome, nil
}

type message struct {
	info  TopicInfo
	kind  MessageKind
	value interface{}
	raw   []byte
}

func (p *Pipeline) skip(o Outcome, topic string) Outcome {
	p.logger.Debug("Skipped telemetry message",
		zap.String("topic", topic),
		zap.String("kind", string(o.Kind)),
		zap.String("reason", string(o.Reason)),
	)
	return o
}

// telemetryRecord 发布到遥测流的标准化数据
type telemetryRecord struct {
	DeviceID   int64       `json:"device_id"`
	DeviceName string      `json:"device_name,omitempty"`
	Kind       MessageKind `json:"kind"`
	Key        string      `json:"key"`
	Value      interface{} `json:"value"`
	Authorized *bool       `json:"authorized,omitempty"`
	Topic      string      `json:"topic"`
	Timestamp  int64       `json:"timestamp"`
}

func (p *Pipeline) publishTelemetry(ctx context.Context, rec telemetryRecord) {
	rec.Timestamp = p.now().Unix()
	if _, err := p.deps.Publisher.PublishJSON(ctx, p.deps.TelemetryStream, rec); err != nil {
		p.logger.Warn("Failed to publish telemetry",
			zap.String("stream", p.deps.TelemetryStream),
			zap.Int64("device_id", rec.DeviceID),
			zap.Error(err),
		)
	}
}

// identityOrNil 读路径：解析失败返回 nil
func (p *Pipeline) identityOrNil(ctx context.Context, gatewayID int64) *models.DeviceIdentity {
	identity, err := p.deps.Identity.Resolve(ctx, gatewayID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("Failed to resolve device identity",
				zap.Int64("device_id", gatewayID),
				zap.Error(err),
			)
		}
		return nil
	}
	return identity
}

// handleIO 模拟量输入 / 数字输出 / 计算器 / 数字输入：写入实时状态并发布到遥测流
func (p *Pipeline) handleIO(ctx context.Context, msg message) (Outcome, error) {
	id := msg.info.DeviceID
	if err := p.deps.LiveState.Update(ctx, id, map[string]interface{}{msg.info.Suffix: msg.value}); err != nil {
		return processed(msg.kind, id), fmt.Errorf("failed to store %s: %w", msg.kind, err)
	}

	rec := telemetryRecord{
		DeviceID: id,
		Kind:     msg.kind,
		Key:      msg.info.Suffix,
		Value:    msg.value,
		Topic:    msg.info.Topic,
	}
	if identity := p.identityOrNil(ctx, id); identity != nil {
		rec.DeviceName = identity.DeviceName
	}
	p.publishTelemetry(ctx, rec)
	return processed(msg.kind, id), nil
}

func (p *Pipeline) handleConnection(ctx context.Context, msg message) (Outcome, error) {
	id := msg.info.DeviceID
	connected, ok := boolOf(msg.value, "connected", "connection", "status", "value")
	if !ok {
		return skipped(msg.kind, id, ReasonInvalidPayload), nil
	}
	if err := p.deps.Status.UpdateConnectionStatus(ctx, id, connected); err != nil {
		return processed(msg.kind, id), err
	}
	p.logger.Debug("Device connection status updated",
		zap.Int64("device_id", id),
		zap.Bool("connected", connected),
	)
	return processed(msg.kind, id), nil
}

func (p *Pipeline) handleIgnition(ctx context.Context, msg message) (Outcome, error) {
	id := msg.info.DeviceID
	ignition, ok := boolOf(msg.value, "ignition", "engine.ignition.status", "status", "value")
	if !ok {
		return skipped(msg.kind, id, ReasonInvalidPayload), nil
	}
	if err := p.deps.Status.UpdateIgnitionStatus(ctx, id, ignition); err != nil {
		return processed(msg.kind, id), err
	}
	return processed(msg.kind, id), nil
}

// handleLocation 位置：与授权位置比较得到 authorized 标记
// 没有授权位置或身份不可用时 authorized=false
func (p *Pipeline) handleLocation(ctx context.Context, msg message) (Outcome, error) {
	id := msg.info.DeviceID
	point, ok := pointOf(msg.value)
	if !ok {
		return skipped(msg.kind, id, ReasonInvalidPayload), nil
	}

	fields := map[string]interface{}{
		"latitude":  point.Latitude,
		"longitude": point.Longitude,
	}
	authorized := false
	var name string
	if identity := p.identityOrNil(ctx, id); identity != nil {
		name = identity.DeviceName
		if identity.AuthLat != nil && identity.AuthLon != nil {
			auth := geofence.Point{Latitude: *identity.AuthLat, Longitude: *identity.AuthLon}
			authorized = p.deps.Geofence.WithinRadius(point, auth, 0)
			fields["auth_radius_m"] = p.deps.Geofence.DefaultRadius()
		}
	}
	fields["authorized"] = authorized

	if err := p.deps.LiveState.Update(ctx, id, fields); err != nil {
		return processed(msg.kind, id), fmt.Errorf("failed to store location: %w", err)
	}

	p.publishTelemetry(ctx, telemetryRecord{
		DeviceID:   id,
		DeviceName: name,
		Kind:       msg.kind,
		Key:        "position",
		Value:      point,
		Authorized: &authorized,
		Topic:      msg.info.Topic,
	})
	return processed(msg.kind, id), nil
}

func (p *Pipeline) handleAlarm(ctx context.Context, msg message) (Outcome, error) {
	code := codeOf(msg.value, "alarm_code", "code", "alarm", "name")
	return p.handleNotifiable(ctx, msg, code, p.deps.Subscriptions.MatchAlarm, p.deps.Events.InsertAlarm)
}

func (p *Pipeline) handleEvent(ctx context.Context, msg message) (Outcome, error) {
	code := codeOf(msg.value, "event_code", "code", "event", "name")
	return p.handleNotifiable(ctx, msg, code, p.deps.Subscriptions.MatchEvent, p.deps.Events.InsertEvent)
}

// handleDriverBehavior 驾驶行为不经过订阅过滤
func (p *Pipeline) handleDriverBehavior(ctx context.Context, msg message) (Outcome, error) {
	code := codeOf(msg.value, "behavior_type", "behaviour_type", "type", "code", "name")
	return p.handleNotifiable(ctx, msg, code, nil, p.deps.Events.InsertDriverBehavior)
}

type matchFunc func(ctx context.Context, deviceTypeID int, code string) (*models.NotificationSubscription, error)
type insertFunc func(ctx context.Context, rec models.TelemetryRecord) (*models.TelemetryRecord, error)

// handleNotifiable 身份 → 订阅匹配 → 归属 → 入库 → 扇出
func (p *Pipeline) handleNotifiable(ctx context.Context, msg message, code string, match matchFunc, insert insertFunc) (Outcome, error) {
	id := msg.info.DeviceID

	// 1. 身份
	identity, err := p.deps.Identity.Resolve(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("Failed to resolve device identity",
				zap.Int64("device_id", id),
				zap.Error(err),
			)
			return skipped(msg.kind, id, ReasonLookupFailed), nil
		}
		return skipped(msg.kind, id, ReasonUnknownDevice), nil
	}

	// 2. 订阅匹配（设备类型优先取消息中的值）
	var sub *models.NotificationSubscription
	if match != nil {
		typeID := identity.DeviceTypeID
		if t, ok := intOf(msg.value, "device_type_id", "device.type.id"); ok {
			typeID = t
		}
		sub, err = match(ctx, typeID, code)
		if err != nil {
			p.logger.Warn("Failed to match notification subscription",
				zap.Int64("device_id", id),
				zap.String("code", code),
				zap.Error(err),
			)
			return skipped(msg.kind, id, ReasonLookupFailed), nil
		}
		if sub == nil {
			return skipped(msg.kind, id, ReasonUnsubscribed), nil
		}
	}

	// 3. 归属
	if identity.OwnerUserID == nil {
		return skipped(msg.kind, id, ReasonUnattributed), nil
	}
	owner := *identity.OwnerUserID

	// 4. 入库
	rec, err := insert(ctx, models.TelemetryRecord{
		DeviceID:    id,
		DeviceName:  identity.DeviceName,
		Code:        code,
		Topic:       msg.info.Topic,
		Payload:     json.RawMessage(msg.raw),
		OwnerUserID: owner,
		CreatedAt:   p.now().UTC(),
	})
	if err != nil {
		p.logger.Error("Failed to persist telemetry record",
			zap.Int64("device_id", id),
			zap.String("kind", string(msg.kind)),
			zap.Error(err),
		)
		return processed(msg.kind, id), err
	}

	// 5. 扇出（失败只记录日志）
	notification := fanout.Notification{
		Kind:        string(msg.kind),
		RecordID:    rec.ID,
		DeviceID:    id,
		DeviceName:  identity.DeviceName,
		Code:        code,
		OwnerUserID: owner,
		Payload:     rec.Payload,
		CreatedAt:   rec.CreatedAt,
	}
	if sub != nil {
		notification.AudioAsset = sub.AudioAsset
	}
	_, _ = p.deps.Notifier.Notify(ctx, notification)

	out := processed(msg.kind, id)
	out.RecordID = rec.ID
	return out, nil
}
