package httpapi

import (
	"net/http"

	"fleetguard/internal/geofence"

	"go.uber.org/zap"
)

// RadiusChecker 地理围栏判定
type RadiusChecker interface {
	WithinRadius(a, b geofence.Point, radiusMeters float64) bool
}

// GeofenceHandler 地理围栏检查 Handler
type GeofenceHandler struct {
	checker RadiusChecker
	logger  *zap.Logger
}

func NewGeofenceHandler(checker RadiusChecker, logger *zap.Logger) *GeofenceHandler {
	return &GeofenceHandler{checker: checker, logger: logger}
}

type geofenceCheckRequest struct {
	DeviceLocation *geofence.Point `json:"deviceLocation"`
	AuthLocation   *geofence.Point `json:"authLocation"`
	RadiusMeters   float64         `json:"radius,omitempty"` // <= 0 使用默认半径
}

// Check 返回 {"withinRadius": bool}，不使用 Result 包装（UI 直接读取）
func (h *GeofenceHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req geofenceCheckRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}
	if req.DeviceLocation == nil || req.AuthLocation == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "deviceLocation and authLocation are required"})
		return
	}

	within := h.checker.WithinRadius(*req.DeviceLocation, *req.AuthLocation, req.RadiusMeters)
	writeJSON(w, http.StatusOK, map[string]bool{"withinRadius": within})
}
