package httpapi

// Result 统一响应包
// - code: 2000 成功，-1 失败，1000 需要操作员确认告警
// - type: 'success' | 'error' | 'warning'
type Result[T any] struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Result  T      `json:"result"`
}

const (
	ResultSuccess = 2000
	ResultError   = -1
	ResultWarning = 1000
)

func Ok[T any](result T) Result[T] {
	return Result[T]{Code: ResultSuccess, Type: "success", Message: "ok", Result: result}
}

func Fail(message string) Result[any] {
	return Result[any]{Code: ResultError, Type: "error", Message: message, Result: nil}
}

// Warn 告警需要确认（带 acknowledge_warning 重新提交）
func Warn[T any](message string, result T) Result[T] {
	return Result[T]{Code: ResultWarning, Type: "warning", Message: message, Result: result}
}
