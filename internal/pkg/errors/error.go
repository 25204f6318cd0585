package errors

import (
	"errors"
	"fmt"
)

// AppError 带业务码的错误
type AppError struct {
	Code    int
	Message string
	Err     error
	Details string
}

func (e *AppError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	case e.Details != "":
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	default:
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus 业务码对应的 HTTP 状态
func (e *AppError) HTTPStatus() int {
	return GetHTTPStatus(e.Code)
}

func firstDetail(details []string) string {
	if len(details) > 0 {
		return details[0]
	}
	return ""
}

// New 创建业务错误
func New(code int, details ...string) *AppError {
	return &AppError{Code: code, Message: GetMessage(code), Details: firstDetail(details)}
}

// Wrap 给 err 附加业务码. err 已经是 AppError 时返回副本, 只替换非空的 details.
func Wrap(err error, code int, details ...string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		cp := *appErr
		if d := firstDetail(details); d != "" {
			cp.Details = d
		}
		return &cp
	}

	return &AppError{Code: code, Message: GetMessage(code), Err: err, Details: firstDetail(details)}
}

// Is 判断 err 链上是否有指定业务码
func Is(err error, code int) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ExtractCode 取业务码, 非 AppError 视为内部错误
func ExtractCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternalServer
}

// GetDetails 取面向调用方的细节
func GetDetails(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Details != "" {
			return appErr.Details
		}
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
		return ""
	}
	return err.Error()
}
