package errors

import (
	stdErrors "errors"
	"fmt"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var registry = map[Code]Attributes{
	CodeUnknown: {
		Message:   "unknown error",
		Severity:  SeverityCritical,
		Retryable: false,
		Alert:     true,
	},
	CodeInvalidArgument: {
		Message:   "invalid argument",
		Severity:  SeverityInfo,
		Retryable: false,
		Alert:     false,
	},
	CodeNotInitialized: {
		Message:   "connector not initialized",
		Severity:  SeverityInfo,
		Retryable: true,
		Alert:     false,
	},
	CodeProviderUnavailable: {
		Message:   "provider unavailable",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     false,
	},
	CodeProviderClosed: {
		Message:   "provider closed the connection",
		Severity:  SeverityInfo,
		Retryable: true,
		Alert:     false,
	},
	CodeTransportFailure: {
		Message:   "transport failure",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeInvalidAddress: {
		Message:   "invalid account address",
		Severity:  SeverityWarning,
		Retryable: false,
		Alert:     false,
	},
	CodeCacheFailure: {
		Message:   "provider cache failure",
		Severity:  SeverityCritical,
		Retryable: true,
		Alert:     true,
	},
	CodePublishFailure: {
		Message:   "event publish failure",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
}

const (
	CodeUnknown             Code = "UNKNOWN"
	CodeInvalidArgument     Code = "INVALID_ARGUMENT"
	CodeNotInitialized      Code = "NOT_INITIALIZED"
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeProviderClosed      Code = "PROVIDER_CLOSED"
	CodeTransportFailure    Code = "TRANSPORT_FAILURE"
	CodeInvalidAddress      Code = "INVALID_ADDRESS"
	CodeCacheFailure        Code = "CACHE_FAILURE"
	CodePublishFailure      Code = "PUBLISH_FAILURE"
)

// AttributesOf 返回错误码对应的属性，未登记的错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是会话层统一的错误类型，保留原始错误以便 errors.Is/As 继续穿透。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如 provider 名称。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。cause 为 nil 时返回 nil。
func Wrap(code Code, cause error, message string, opts ...Option) error {
	if cause == nil {
		return nil
	}
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is 允许通过 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	return e.code
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// CodeOf 返回 err 链上第一个统一错误的错误码。
func CodeOf(err error) Code {
	var target *Error
	if stdErrors.As(err, &target) {
		return target.code
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(CodeOf(err)).Retryable
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(CodeOf(err)).Alert
}
