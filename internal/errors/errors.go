package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000 // GenericServerError
	ErrInvalidParam     ErrorCode = 1001
	ErrWrongParamType   ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrNotFound         ErrorCode = 1004
	ErrPermissionDenied ErrorCode = 1005
	ErrTimeout          ErrorCode = 1006
	ErrCanceled         ErrorCode = 1007

	// 战斗错误 (2000-2999)
	ErrInvalidNumber              ErrorCode = 2000
	ErrInventoryAbsence           ErrorCode = 2001
	ErrInvalidEnchantmentCategory ErrorCode = 2002
	ErrWrongModelState            ErrorCode = 2003
	ErrWrongTurn                  ErrorCode = 2004
	ErrInvariantViolation         ErrorCode = 2005
	ErrEmptyQueue                 ErrorCode = 2006

	// 通信错误 (4000-4999)
	ErrWebSocketSend   ErrorCode = 4000
	ErrWebSocketClosed ErrorCode = 4001
	ErrMessageFormat   ErrorCode = 4002
	ErrPartyOffline    ErrorCode = 4003

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseUpdate  ErrorCode = 5003
	ErrDatabaseDelete  ErrorCode = 5004
	ErrTransaction     ErrorCode = 5005

	// 配置错误 (6000-6999)
	ErrConfigLoad  ErrorCode = 6000
	ErrConfigParse ErrorCode = 6001

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrTokenExpired   ErrorCode = 7001
	ErrTokenInvalid   ErrorCode = 7002
	ErrTokenMalformed ErrorCode = 7003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	ErrUnknown:          "服务器内部错误",
	ErrInvalidParam:     "无效的参数",
	ErrWrongParamType:   "参数类型错误",
	ErrAlreadyExists:    "资源已存在",
	ErrNotFound:         "资源未找到",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrCanceled:         "操作已取消",

	ErrInvalidNumber:              "无效的数值",
	ErrInventoryAbsence:           "缺少所需的武器或法术",
	ErrInvalidEnchantmentCategory: "法术类型不匹配",
	ErrWrongModelState:            "会话状态不允许该操作",
	ErrWrongTurn:                  "当前不是该角色的回合",
	ErrInvariantViolation:         "数据不变量被破坏",
	ErrEmptyQueue:                 "回合队列为空",

	ErrWebSocketSend:   "WebSocket发送失败",
	ErrWebSocketClosed: "WebSocket连接已关闭",
	ErrMessageFormat:   "消息格式错误",
	ErrPartyOffline:    "玩家不在线",

	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库插入失败",
	ErrDatabaseUpdate:  "数据库更新失败",
	ErrDatabaseDelete:  "数据库删除失败",
	ErrTransaction:     "事务处理失败",

	ErrConfigLoad:  "配置加载失败",
	ErrConfigParse: "配置解析失败",

	ErrAuthentication: "认证失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",
	ErrTokenMalformed: "令牌格式错误",
}

// codeNames 对外暴露的错误名称（API响应中的code字段）
var codeNames = map[ErrorCode]string{
	ErrUnknown:                    "GENERIC_SERVER_ERROR",
	ErrInvalidParam:               "INVALID_PARAM",
	ErrWrongParamType:             "WRONG_PARAM_TYPE",
	ErrAlreadyExists:              "ALREADY_EXISTS",
	ErrNotFound:                   "NOT_FOUND",
	ErrPermissionDenied:           "PERMISSION_DENIED",
	ErrTimeout:                    "TIMEOUT",
	ErrCanceled:                   "CANCELED",
	ErrInvalidNumber:              "INVALID_NUMBER",
	ErrInventoryAbsence:           "INVENTORY_ABSENCE",
	ErrInvalidEnchantmentCategory: "INVALID_ENCHANTMENT_CATEGORY",
	ErrWrongModelState:            "WRONG_MODEL_STATE",
	ErrWrongTurn:                  "WRONG_TURN",
	ErrInvariantViolation:         "INVARIANT_VIOLATION",
	ErrEmptyQueue:                 "EMPTY_QUEUE",
	ErrAuthentication:             "AUTH_ERROR",
	ErrTokenExpired:               "AUTH_ERROR",
	ErrTokenInvalid:               "AUTH_ERROR",
	ErrTokenMalformed:             "AUTH_ERROR",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`              // 错误码
	Message string       `json:"message"`           // 错误消息
	Details string       `json:"details"`           // 详细信息
	Cause   error        `json:"-"`                 // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Name 返回错误名称
func (e *AppError) Name() string {
	if name, ok := codeNames[e.Code]; ok {
		return name
	}
	if e.Code >= 5000 && e.Code <= 5999 {
		return "STORE_ERROR"
	}
	return codeNames[ErrUnknown]
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	// 捕获调用栈
	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr = New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return Wrap(err, code, details)
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}

	return ErrUnknown
}

// From 将任意错误转换为AppError（非AppError视为服务器内部错误）
func From(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, ErrUnknown)
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/combat-table/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more {
				break
			}

			// 只保留前10个栈帧
			if len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// GetStack 获取格式化的调用栈
func (e *AppError) GetStack() string {
	if len(e.Stack) == 0 {
		return ""
	}

	var builder strings.Builder
	for i, frame := range e.Stack {
		builder.WriteString(fmt.Sprintf("%d. %s\n   %s:%d\n",
			i+1, frame.Function, frame.File, frame.Line))
	}

	return builder.String()
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code >= 1001 && e.Code <= 1002:
		return 400 // Bad Request
	case e.Code == ErrAlreadyExists:
		return 409 // Conflict
	case e.Code == ErrNotFound:
		return 404 // Not Found
	case e.Code == ErrPermissionDenied:
		return 403 // Forbidden
	case e.Code == ErrTimeout:
		return 408 // Request Timeout
	case e.Code >= 2000 && e.Code <= 2002:
		return 400
	case e.Code >= 2003 && e.Code <= 2999:
		return 409
	case e.Code == ErrMessageFormat:
		return 400
	case e.Code >= 7000 && e.Code <= 7999:
		return 401 // Unauthorized
	case e.Code >= 5000 && e.Code <= 5999:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}

// IsClientError 判断是否为客户端输入错误（4xx）
func IsClientError(err error) bool {
	if err == nil {
		return false
	}
	status := From(err).HTTPStatus()
	return status >= 400 && status < 500
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
