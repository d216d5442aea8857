package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SubscriptionKind 订阅类型
type SubscriptionKind string

const (
	SubscriptionAlarm SubscriptionKind = "alarm"
	SubscriptionEvent SubscriptionKind = "event"
)

// NotificationSubscription (设备类型, 报警/事件码) → 音频资源
type NotificationSubscription struct {
	SubscriptionID int64            `json:"subscription_id"`
	DeviceTypeID   int              `json:"device_type_id"`
	Kind           SubscriptionKind `json:"kind"`
	Code           string           `json:"code"`
	AudioAsset     string           `json:"audio_asset"`
	Enabled        bool             `json:"enabled"`
}

// RealmUser Realm 子账号
type RealmUser struct {
	UserID  int64     `json:"id"`
	Name    string    `json:"name"`
	RealmID int64     `json:"realm_id"`
	ACL     DeviceACL `json:"acl"`
}

// DeviceACL 设备可见性列表："all" 或设备 ID 数组
type DeviceACL struct {
	All       bool
	DeviceIDs []int64
}

// Allows 是否允许查看该设备
func (a DeviceACL) Allows(deviceID int64) bool {
	if a.All {
		return true
	}
	for _, id := range a.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// UnmarshalJSON 支持 "all" / [1,2,3] / {"devices": ...}
func (a *DeviceACL) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*a = DeviceACL{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(s, "all") {
			*a = DeviceACL{All: true}
			return nil
		}
		return fmt.Errorf("invalid acl value: %q", s)
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err == nil {
		*a = DeviceACL{DeviceIDs: ids}
		return nil
	}

	var wrapped struct {
		Devices json.RawMessage `json:"devices"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("invalid acl: %w", err)
	}
	if len(wrapped.Devices) == 0 {
		*a = DeviceACL{}
		return nil
	}
	return a.UnmarshalJSON(wrapped.Devices)
}

// MarshalJSON 与 UnmarshalJSON 对称
func (a DeviceACL) MarshalJSON() ([]byte, error) {
	if a.All {
		return json.Marshal("all")
	}
	if a.DeviceIDs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.DeviceIDs)
}
