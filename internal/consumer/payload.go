package consumer

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"fleetguard/internal/geofence"
)

// decodePayload 解码消息体，数字保留为 float64，空消息视为非法
func decodePayload(payload []byte) (interface{}, bool) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, false
	}
	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, false
	}
	return v, true
}

func lookup(v interface{}, keys ...string) (interface{}, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false
	}
	for _, k := range keys {
		if val, ok := m[k]; ok && val != nil {
			return val, true
		}
	}
	return nil, false
}

func primitiveString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	}
	return "", false
}

// codeOf 报警 / 事件码：原始值本身，或对象中的第一个可用字段
func codeOf(v interface{}, keys ...string) string {
	if s, ok := primitiveString(v); ok {
		return s
	}
	if val, ok := lookup(v, keys...); ok {
		if s, ok := primitiveString(val); ok {
			return s
		}
	}
	return ""
}

func intOf(v interface{}, keys ...string) (int, bool) {
	val, ok := lookup(v, keys...)
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case float64:
		return int(n), n > 0
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil && i > 0
	}
	return 0, false
}

// boolOf 接受 true/false、0/1、"on"/"off" 以及包含这些值的对象
func boolOf(v interface{}, keys ...string) (bool, bool) {
	switch val := v.(type) {
	case bool:
		return val, true
	case float64:
		return val != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "on", "yes":
			return true, true
		case "false", "0", "off", "no":
			return false, true
		}
		return false, false
	case map[string]interface{}:
		if inner, ok := lookup(val, keys...); ok {
			return boolOf(inner)
		}
	}
	return false, false
}

func floatOf(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// pointOf 解析坐标：{latitude, longitude}、{lat, lon}、{"position": {...}} 或 {"position.latitude": ...}
func pointOf(v interface{}) (geofence.Point, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return geofence.Point{}, false
	}
	if inner, ok := m["position"].(map[string]interface{}); ok {
		return pointOf(inner)
	}

	latRaw, ok1 := lookup(m, "latitude", "lat", "position.latitude")
	lonRaw, ok2 := lookup(m, "longitude", "lon", "lng", "position.longitude")
	if !ok1 || !ok2 {
		return geofence.Point{}, false
	}
	lat, ok1 := floatOf(latRaw)
	lon, ok2 := floatOf(lonRaw)
	if !ok1 || !ok2 {
		return geofence.Point{}, false
	}
	p := geofence.Point{Latitude: lat, Longitude: lon}
	return p, p.Valid()
}
