package consumer

// SkipReason 消息被丢弃的原因
type SkipReason string

const (
	ReasonNoDeviceID     SkipReason = "no_device_id"
	ReasonUnknownSuffix  SkipReason = "unknown_suffix"
	ReasonInvalidPayload SkipReason = "invalid_payload"
	ReasonUnknownDevice  SkipReason = "unknown_device"
	ReasonUnattributed   SkipReason = "unattributed"
	ReasonUnsubscribed   SkipReason = "unsubscribed"
	ReasonLookupFailed   SkipReason = "lookup_failed"
)

// Outcome 单条消息的处理结果
type Outcome struct {
	Kind     MessageKind
	DeviceID int64
	Skipped  bool
	Reason   SkipReason
	RecordID string // 报警 / 事件 / 驾驶行为写入的审计行 ID
}

func processed(kind MessageKind, deviceID int64) Outcome {
	return Outcome{Kind: kind, DeviceID: deviceID}
}

func skipped(kind MessageKind, deviceID int64, reason SkipReason) Outcome {
	return Outcome{Kind: kind, DeviceID: deviceID, Skipped: true, Reason: reason}
}

// Processed 消息是否被处理
func (o Outcome) Processed() bool {
	return !o.Skipped
}
