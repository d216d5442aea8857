package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fleetguard/common/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// ExecutionStatus 命令执行状态
type ExecutionStatus string

const (
	StatusPending  ExecutionStatus = "pending"
	StatusExecuted ExecutionStatus = "executed"
	StatusFailed   ExecutionStatus = "failed"
)

// Terminal 是否为最终状态
func (s ExecutionStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed
}

// CommandProperties 命令参数
type CommandProperties struct {
	Text string `json:"text"`
}

// Command 下发到设备的命令
type Command struct {
	Name       string            `json:"name"`
	Properties CommandProperties `json:"properties"`
	TTL        int               `json:"ttl,omitempty"` // 秒
}

// CustomCommand 构造 "custom" 文本命令
func CustomCommand(text string, ttl time.Duration) Command {
	return Command{
		Name:       "custom",
		Properties: CommandProperties{Text: text},
		TTL:        int(ttl / time.Second),
	}
}

// CommandAck 网关接收命令后的确认
type CommandAck struct {
	CommandID int64   `json:"id"`
	DeviceID  int64   `json:"device_id"`
	Timestamp float64 `json:"timestamp"`
}

// CommandResult 命令执行结果
type CommandResult struct {
	CommandID int64           `json:"id"`
	DeviceID  int64           `json:"device_id"`
	Status    ExecutionStatus `json:"status"`
	Response  string          `json:"response,omitempty"`
	Executed  bool            `json:"executed"`
	Timestamp float64         `json:"timestamp,omitempty"`
}

// ErrNoAck 网关没有返回命令 ID
var ErrNoAck = errors.New("command not acknowledged by gateway")

// APIError 网关返回的错误
type APIError struct {
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway API error: %s (status: %d)", e.Reason, e.StatusCode)
}

type gatewayError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type envelope[T any] struct {
	Result []T            `json:"result"`
	Errors []gatewayError `json:"errors,omitempty"`
}

func (e envelope[T]) err(statusCode int) error {
	if len(e.Errors) > 0 {
		return &APIError{StatusCode: statusCode, Reason: e.Errors[0].Reason}
	}
	if statusCode >= 400 {
		return &APIError{StatusCode: statusCode, Reason: "unexpected status"}
	}
	return nil
}

// TelemetryClient 遥测网关 API 客户端（设备命令）
type TelemetryClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewTelemetryClient 创建遥测网关客户端
func NewTelemetryClient(cfg *config.PlatformConfig, logger *zap.Logger) *TelemetryClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetHeader("Authorization", "FlespiToken "+cfg.Token)
	}

	return &TelemetryClient{
		httpClient: client,
		logger:     logger,
	}
}

// SendCommand 下发命令，返回网关分配的命令 ID
// 只对网络错误重试，网关明确拒绝时直接返回
func (c *TelemetryClient) SendCommand(ctx context.Context, deviceID int64, cmd Command) (*CommandAck, error) {
	c.logger.Info("Sending device command",
		zap.Int64("device_id", deviceID),
		zap.String("name", cmd.Name),
		zap.String("text", cmd.Properties.Text),
	)

	var response envelope[CommandAck]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody([]Command{cmd}).
		SetResult(&response).
		SetError(&response).
		Post(fmt.Sprintf("/gw/devices/%d/commands", deviceID))
	if err != nil {
		c.logger.Error("Gateway command call failed",
			zap.Int64("device_id", deviceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to send command: %w", err)
	}
	if apiErr := response.err(resp.StatusCode()); apiErr != nil {
		c.logger.Error("Gateway rejected command",
			zap.Int64("device_id", deviceID),
			zap.Error(apiErr),
		)
		return nil, apiErr
	}
	if len(response.Result) == 0 || response.Result[0].CommandID == 0 {
		return nil, ErrNoAck
	}

	ack := response.Result[0]
	if ack.DeviceID == 0 {
		ack.DeviceID = deviceID
	}
	return &ack, nil
}

// GetExecutionStatus 查询命令执行状态
// 有执行结果时按 executed 判断；没有结果但仍在队列中为 pending；两者都没有视为过期失败
func (c *TelemetryClient) GetExecutionStatus(ctx context.Context, deviceID, commandID int64) (*CommandResult, error) {
	var results envelope[CommandResult]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&results).
		SetError(&results).
		Get(fmt.Sprintf("/gw/devices/%d/commands-result/%d", deviceID, commandID))
	if err != nil {
		return nil, fmt.Errorf("failed to get command result: %w", err)
	}
	if apiErr := results.err(resp.StatusCode()); apiErr != nil {
		return nil, apiErr
	}
	if len(results.Result) > 0 {
		r := results.Result[0]
		r.CommandID = commandID
		r.DeviceID = deviceID
		if r.Executed {
			r.Status = StatusExecuted
		} else {
			r.Status = StatusFailed
		}
		return &r, nil
	}

	var queued envelope[json.RawMessage]
	resp, err = c.httpClient.R().
		SetContext(ctx).
		SetResult(&queued).
		SetError(&queued).
		Get(fmt.Sprintf("/gw/devices/%d/commands-queue/%d", deviceID, commandID))
	if err != nil {
		return nil, fmt.Errorf("failed to get command queue: %w", err)
	}
	if apiErr := queued.err(resp.StatusCode()); apiErr != nil {
		return nil, apiErr
	}

	status := StatusFailed
	response := "command expired"
	if len(queued.Result) > 0 {
		status = StatusPending
		response = ""
	}
	return &CommandResult{
		CommandID: commandID,
		DeviceID:  deviceID,
		Status:    status,
		Response:  response,
	}, nil
}
