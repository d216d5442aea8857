package httpapi

import (
	"bytes"
	"fmt"
	"strconv"

	"fleetguard/internal/models"

	"github.com/xuri/excelize/v2"
)

const auditSheetName = "Command Audit"

// auditColumn 导出列：表头、列宽、取值
type auditColumn struct {
	header string
	width  float64
	value  func(l *models.CommandAuditLog) any
}

var auditColumns = []auditColumn{
	{"Log ID", 38, func(l *models.CommandAuditLog) any { return l.LogID }},
	{"Time", 20, func(l *models.CommandAuditLog) any { return l.CreatedAt.UTC().Format("2006-01-02 15:04:05") }},
	{"Device ID", 12, func(l *models.CommandAuditLog) any { return l.DeviceID }},
	{"Driver ID", 12, func(l *models.CommandAuditLog) any { return optionalID(l.DriverID) }},
	{"Shift ID", 12, func(l *models.CommandAuditLog) any { return optionalID(l.ShiftID) }},
	{"Action", 10, func(l *models.CommandAuditLog) any { return l.Action }},
	{"Command", 18, func(l *models.CommandAuditLog) any { return l.Command }},
	{"Command ID", 14, func(l *models.CommandAuditLog) any { return optionalID(l.CommandID) }},
	{"Performer", 12, func(l *models.CommandAuditLog) any { return l.PerformerID }},
	{"Location Compliant", 18, func(l *models.CommandAuditLog) any { return yesNo(l.LocationCompliant) }},
	{"Complied", 10, func(l *models.CommandAuditLog) any { return l.Complied }},
	{"Reason", 40, func(l *models.CommandAuditLog) any { return l.Reason }},
}

// AuditReportHeader 导出表头
func AuditReportHeader() []string {
	headers := make([]string, len(auditColumns))
	for i, c := range auditColumns {
		headers[i] = c.header
	}
	return headers
}

// GenerateAuditReportExport 生成命令审计 Excel 文件；logs 为空时只有表头
func GenerateAuditReportExport(logs []models.CommandAuditLog) ([]byte, error) {
	f := excelize.NewFile()
	// WriteTo 之前不能关闭
	fail := func(err error) ([]byte, error) {
		f.Close()
		return nil, err
	}

	index, err := f.NewSheet(auditSheetName)
	if err != nil {
		return fail(fmt.Errorf("failed to create sheet: %w", err))
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create header style: %w", err))
	}

	// 表头 + 列宽
	header := AuditReportHeader()
	if err := f.SetSheetRow(auditSheetName, "A1", &header); err != nil {
		return fail(fmt.Errorf("failed to write header: %w", err))
	}
	lastCell, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return fail(fmt.Errorf("failed to convert coordinates: %w", err))
	}
	if err := f.SetCellStyle(auditSheetName, "A1", lastCell, headerStyle); err != nil {
		return fail(fmt.Errorf("failed to set header style: %w", err))
	}
	for i, c := range auditColumns {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fail(fmt.Errorf("failed to convert column number: %w", err))
		}
		if err := f.SetColWidth(auditSheetName, col, col, c.width); err != nil {
			return fail(fmt.Errorf("failed to set column width: %w", err))
		}
	}

	// 数据从第 2 行开始
	for i := range logs {
		row := make([]any, len(auditColumns))
		for j, c := range auditColumns {
			row[j] = c.value(&logs[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fail(fmt.Errorf("failed to convert coordinates: %w", err))
		}
		if err := f.SetSheetRow(auditSheetName, cell, &row); err != nil {
			return fail(fmt.Errorf("failed to write row %d: %w", i+2, err))
		}
	}

	if err := f.SetPanes(auditSheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fail(fmt.Errorf("failed to freeze panes: %w", err))
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return fail(fmt.Errorf("failed to write to buffer: %w", err))
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}

func yesNo(b bool) string {
	if b {
		return models.CompliedYes
	}
	return models.CompliedNo
}
