package geofence

import (
	"math"
)

// EarthRadiusMeters 地球平均半径（IUGG）
const EarthRadiusMeters = 6371008.8

// DefaultRadiusMeters 默认授权半径
const DefaultRadiusMeters = 100.0

// Point 经纬度坐标（度）
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid 坐标是否在合法范围内
func (p Point) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) ||
		math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// Distance 两点间大圆距离（米，haversine）
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// WithinRadius 两点距离是否不超过 radiusMeters（边界值算在范围内）
// 任一坐标非法或半径为负时返回 false
func WithinRadius(a, b Point, radiusMeters float64) bool {
	if !a.Valid() || !b.Valid() || radiusMeters < 0 || math.IsNaN(radiusMeters) {
		return false
	}
	return Distance(a, b) <= radiusMeters
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// Validator 带默认半径的校验器
type Validator struct {
	defaultRadius float64
}

// NewValidator 创建校验器，radius <= 0 时使用 DefaultRadiusMeters
func NewValidator(radius float64) *Validator {
	if radius <= 0 || math.IsNaN(radius) {
		radius = DefaultRadiusMeters
	}
	return &Validator{defaultRadius: radius}
}

// DefaultRadius 默认半径（米）
func (v *Validator) DefaultRadius() float64 {
	return v.defaultRadius
}

// WithinRadius 未指定半径（<= 0）时使用默认半径
func (v *Validator) WithinRadius(a, b Point, radiusMeters float64) bool {
	if radiusMeters <= 0 {
		radiusMeters = v.defaultRadius
	}
	return WithinRadius(a, b, radiusMeters)
}
