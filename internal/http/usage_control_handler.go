package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleetguard/internal/models"
	"fleetguard/internal/repository"
	"fleetguard/internal/usagecontrol"

	"go.uber.org/zap"
)

// UsageControlService 使用控制编排
type UsageControlService interface {
	Toggle(ctx context.Context, req usagecontrol.ToggleRequest) (*usagecontrol.ToggleResult, error)
	UpdateDeviceInUsageControl(ctx context.Context, deviceID int64, update models.BindingUpdate) error
	SetReason(ctx context.Context, deviceID int64, reason string) error
	ClearReason(ctx context.Context, deviceID int64) error
	List(ctx context.Context, page, size int, ownerUserID *int64) (*usagecontrol.Page, error)
	RecordLogAndReport(ctx context.Context, log *models.CommandAuditLog, report *models.CommandAuditReport) error
	AuditLogs(ctx context.Context, filter repository.AuditFilter) ([]models.CommandAuditLog, error)
}

// CommandStatusChecker 命令确认查询
type CommandStatusChecker interface {
	CheckStatus(ctx context.Context, deviceID, commandID int64) (*usagecontrol.CommandStatus, error)
}

// UsageControlHandler 使用控制 Handler
type UsageControlHandler struct {
	service UsageControlService
	tracker CommandStatusChecker
	logger  *zap.Logger
}

func NewUsageControlHandler(service UsageControlService, tracker CommandStatusChecker, logger *zap.Logger) *UsageControlHandler {
	return &UsageControlHandler{
		service: service,
		tracker: tracker,
		logger:  logger,
	}
}

// List 分页查询 ?page&size&user_id
func (h *UsageControlHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerUserID, ok := parseOptionalID(q.Get("user_id"))
	if !ok {
		writeJSON(w, http.StatusOK, Fail("invalid user_id"))
		return
	}

	page, err := h.service.List(r.Context(), parseInt(q.Get("page"), 1), parseInt(q.Get("size"), 20), ownerUserID)
	if err != nil {
		h.logger.Error("List usage control failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(page))
}

// SetReason 保存操作理由
func (h *UsageControlHandler) SetReason(w http.ResponseWriter, r *http.Request, deviceID int64) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := readBodyJSON(r, maxBodyBytes, &body); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if err := h.service.SetReason(r.Context(), deviceID, body.Reason); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"device_id": deviceID}))
}

// ClearReason 清除操作理由
func (h *UsageControlHandler) ClearReason(w http.ResponseWriter, r *http.Request, deviceID int64) {
	if err := h.service.ClearReason(r.Context(), deviceID); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"device_id": deviceID}))
}

// UpdateBinding 更新班次 / 司机绑定
func (h *UsageControlHandler) UpdateBinding(w http.ResponseWriter, r *http.Request, deviceID int64) {
	var update models.BindingUpdate
	if err := readBodyJSON(r, maxBodyBytes, &update); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if err := h.service.UpdateDeviceInUsageControl(r.Context(), deviceID, update); err != nil {
		h.logger.Error("UpdateDeviceInUsageControl failed", zap.Int64("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"device_id": deviceID}))
}

// Toggle 锁定 / 解锁
func (h *UsageControlHandler) Toggle(w http.ResponseWriter, r *http.Request, deviceID int64) {
	// 1. 参数解析
	var req usagecontrol.ToggleRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	req.DeviceID = deviceID
	if req.PerformerID == 0 {
		if id, ok := parseID(r.Header.Get("X-User-Id")); ok {
			req.PerformerID = id
		}
	}
	if req.PerformerID == 0 {
		writeJSON(w, http.StatusOK, Fail("performer_id is required"))
		return
	}

	// 2. 调用编排
	result, err := h.service.Toggle(r.Context(), req)
	if err != nil {
		var warning *usagecontrol.WarningError
		if errors.As(err, &warning) {
			writeJSON(w, http.StatusOK, Warn(warning.Message, map[string]any{"level": warning.Level}))
			return
		}
		h.logger.Info("Toggle rejected", zap.Int64("device_id", deviceID), zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	// 3. 返回结果（含冷却时间）
	writeJSON(w, http.StatusOK, Ok(result))
}

// CommandStatus 查询命令执行结果
func (h *UsageControlHandler) CommandStatus(w http.ResponseWriter, r *http.Request, deviceID, commandID int64) {
	status, err := h.tracker.CheckStatus(r.Context(), deviceID, commandID)
	if err != nil {
		h.logger.Warn("CheckStatus failed",
			zap.Int64("device_id", deviceID),
			zap.Int64("command_id", commandID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(status))
}

type recordLogRequest struct {
	Log    *models.CommandAuditLog    `json:"log"`
	Report *models.CommandAuditReport `json:"report"`
}

// RecordLog 补录审计日志和报告
func (h *UsageControlHandler) RecordLog(w http.ResponseWriter, r *http.Request) {
	var req recordLogRequest
	if err := readBodyJSON(r, maxBodyBytes, &req); err != nil {
		writeJSON(w, http.StatusOK, Fail("invalid body"))
		return
	}
	if req.Log == nil || req.Log.DeviceID <= 0 {
		writeJSON(w, http.StatusOK, Fail("log.device_id is required"))
		return
	}
	if err := h.service.RecordLogAndReport(r.Context(), req.Log, req.Report); err != nil {
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{"log_id": req.Log.LogID}))
}

// ExportReport 导出审计报表 ?device_id&since(RFC3339)&limit
func (h *UsageControlHandler) ExportReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID, ok := parseOptionalID(q.Get("device_id"))
	if !ok {
		writeJSON(w, http.StatusOK, Fail("invalid device_id"))
		return
	}
	filter := repository.AuditFilter{DeviceID: deviceID, Limit: parseInt(q.Get("limit"), 0)}
	if s := q.Get("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeJSON(w, http.StatusOK, Fail("invalid since"))
			return
		}
		filter.Since = &since
	}

	logs, err := h.service.AuditLogs(r.Context(), filter)
	if err != nil {
		h.logger.Error("AuditLogs failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(err.Error()))
		return
	}

	excelData, err := GenerateAuditReportExport(logs)
	if err != nil {
		h.logger.Error("GenerateAuditReportExport failed", zap.Error(err))
		writeJSON(w, http.StatusOK, Fail(fmt.Sprintf("failed to generate export: %v", err)))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=command-audit-report.xlsx")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(excelData)
}
