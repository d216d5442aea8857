package consumer

import (
	"strconv"
	"strings"
)

// MessageKind 消息路由类型
type MessageKind string

const (
	KindAnalogInput    MessageKind = "analog_input"
	KindDigitalOutput  MessageKind = "digital_output"
	KindAlarm          MessageKind = "alarm"
	KindEvent          MessageKind = "event"
	KindDriverBehavior MessageKind = "driver_behavior"
	KindLocation       MessageKind = "location"
	KindDigitalInput   MessageKind = "digital_input"
	KindConnection     MessageKind = "connection"
	KindIgnition       MessageKind = "ignition"
	KindUnknown        MessageKind = "unknown"
)

// TopicInfo 主题解析结果
type TopicInfo struct {
	Topic    string
	DeviceID int64  // 网关设备 ID
	Suffix   string // devices/{id}/ 之后的部分
}

// ParseTopic 解析 .../devices/{id}/suffix 形式的主题
// 没有 devices 段或 ID 不是正整数时返回 false
func ParseTopic(topic string) (TopicInfo, bool) {
	parts := strings.Split(topic, "/")
	for i, p := range parts {
		if p != "devices" || i+1 >= len(parts) {
			continue
		}
		id, err := strconv.ParseInt(parts[i+1], 10, 64)
		if err != nil || id <= 0 {
			return TopicInfo{}, false
		}
		return TopicInfo{
			Topic:    topic,
			DeviceID: id,
			Suffix:   strings.Join(parts[i+2:], "/"),
		}, true
	}
	return TopicInfo{}, false
}

var driverBehaviorTokens = []string{"driver_behavior", "driver-behavior", "driver_behaviour", "behaviour", "behavior"}

// Classify 按后缀确定唯一的处理器，规则按顺序匹配
func Classify(suffix string) MessageKind {
	s := strings.ToLower(strings.Trim(suffix, "/"))
	if s == "" {
		return KindUnknown
	}
	segments := strings.Split(s, "/")

	switch {
	case hasSegmentPrefix(segments, "ain"):
		return KindAnalogInput
	case strings.Contains(s, "calcs") || hasSegmentPrefix(segments, "dout"):
		return KindDigitalOutput
	case hasSegmentPrefix(segments, "alarm"):
		return KindAlarm
	case containsAny(s, driverBehaviorTokens):
		return KindDriverBehavior
	case hasSegment(segments, "event") || hasSegment(segments, "events"):
		return KindEvent
	// 只接受完整位置对象；position.latitude 这类单参数主题无法组成坐标
	case hasSegment(segments, "position") || hasSegment(segments, "location"):
		return KindLocation
	case hasSegmentPrefix(segments, "din"):
		return KindDigitalInput
	case hasSegment(segments, "connected") || hasSegment(segments, "connection"):
		return KindConnection
	case strings.Contains(s, "ignition"):
		return KindIgnition
	}
	return KindUnknown
}

func hasSegment(segments []string, name string) bool {
	for _, s := range segments {
		if s == name {
			return true
		}
	}
	return false
}

// dout / dout.1 / alarm.status 这类带点号后缀的段
func hasSegmentPrefix(segments []string, name string) bool {
	for _, s := range segments {
		if s == name || strings.HasPrefix(s, name+".") {
			return true
		}
	}
	return false
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
