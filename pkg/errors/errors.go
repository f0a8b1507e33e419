// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess            ErrorCode = "0"
	CodeUnknown            ErrorCode = "1000"
	CodeInvalidParam       ErrorCode = "1001"
	CodeNotFound           ErrorCode = "1004"
	CodeTooManyRequests    ErrorCode = "1006"
	CodeInternalError      ErrorCode = "1007"
	CodeServiceUnavailable ErrorCode = "1008"
	CodePayloadTooLarge    ErrorCode = "1009"

	// 资源错误 (3xxx)
	CodeFileNotFound  ErrorCode = "3004"
	CodeMediaNotFound ErrorCode = "3005"

	// 业务错误 (4xxx)
	CodeEmbeddingFailed   ErrorCode = "4006"
	CodeUnsupportedMedia  ErrorCode = "4101"
	CodeNoFramesDecoded   ErrorCode = "4102"
	CodeDegenerateVector  ErrorCode = "4103"
	CodeDimensionMismatch ErrorCode = "4104"
	CodeMediaDecodeFailed ErrorCode = "4105"

	// 外部服务错误 (5xxx)
	CodeCacheError    ErrorCode = "5002"
	CodeStorageError  ErrorCode = "5004"
	CodeEmbedderError ErrorCode = "5006"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息（返回副本，避免污染预定义错误）
func (e *AppError) WithDetail(detail string) *AppError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithError 添加底层错误（返回副本）
func (e *AppError) WithError(err error) *AppError {
	cp := *e
	cp.Err = err
	return &cp
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeNotFound, CodeFileNotFound, CodeMediaNotFound:
		return http.StatusNotFound
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case CodeUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	case CodeNoFramesDecoded, CodeDegenerateVector, CodeDimensionMismatch, CodeMediaDecodeFailed:
		return http.StatusUnprocessableEntity
	case CodeServiceUnavailable, CodeEmbedderError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam       = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound           = New(CodeNotFound, "resource not found")
	ErrTooManyRequests    = New(CodeTooManyRequests, "too many requests")
	ErrInternalError      = New(CodeInternalError, "internal server error")
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable")

	ErrMediaNotFound     = New(CodeMediaNotFound, "media not found")
	ErrUnsupportedMedia  = New(CodeUnsupportedMedia, "unsupported media type")
	ErrNoFramesDecoded   = New(CodeNoFramesDecoded, "no frames decoded")
	ErrDegenerateVector  = New(CodeDegenerateVector, "degenerate embedding vector")
	ErrDimensionMismatch = New(CodeDimensionMismatch, "embedding dimension mismatch")
	ErrMediaDecodeFailed = New(CodeMediaDecodeFailed, "media decode failed")
	ErrEmbeddingFailed   = New(CodeEmbeddingFailed, "embedding failed")

	ErrEmbedderUnavailable = New(CodeEmbedderError, "embedder is unavailable")
	ErrPayloadTooLarge     = New(CodePayloadTooLarge, "payload too large")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}
