package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

const usageControlPrefix = "/usage-control/api/v1"

// Router 使用标准库 http.ServeMux
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterHealthRoutes 存活检查
func (r *Router) RegisterHealthRoutes() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Ok(map[string]any{"status": "ok"}))
	})
}

// RegisterGeofenceRoutes 地理围栏检查（UI 使用）
func (r *Router) RegisterGeofenceRoutes(g *GeofenceHandler) {
	r.Handle("/devices/distance/radius/geofence-check", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.Check(w, req)
	})
}

// RegisterUsageControlRoutes 使用控制路由
func (r *Router) RegisterUsageControlRoutes(u *UsageControlHandler) {
	// list
	r.Handle(usageControlPrefix+"/devices", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		u.List(w, req)
	})

	// devices/{id}/reason|binding|toggle|commands/{commandId}
	r.Handle(usageControlPrefix+"/devices/", func(w http.ResponseWriter, req *http.Request) {
		parts := splitPath(req.URL.Path, usageControlPrefix+"/devices/")
		if len(parts) < 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		deviceID, ok := parseID(parts[0])
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		switch {
		case len(parts) == 2 && parts[1] == "reason":
			switch req.Method {
			case http.MethodPut:
				u.SetReason(w, req, deviceID)
			case http.MethodDelete:
				u.ClearReason(w, req, deviceID)
			default:
				w.WriteHeader(http.StatusMethodNotAllowed)
			}
		case len(parts) == 2 && parts[1] == "binding":
			if req.Method != http.MethodPut {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			u.UpdateBinding(w, req, deviceID)
		case len(parts) == 2 && parts[1] == "toggle":
			if req.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			u.Toggle(w, req, deviceID)
		case len(parts) == 3 && parts[1] == "commands":
			if req.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			commandID, ok := parseID(parts[2])
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			u.CommandStatus(w, req, deviceID, commandID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	// 审计日志 + 报告补录
	r.Handle(usageControlPrefix+"/logs", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		u.RecordLog(w, req)
	})

	// 审计报表导出
	r.Handle(usageControlPrefix+"/reports/export", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		u.ExportReport(w, req)
	})
}
