package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Chat errors (6000-6999)
	ErrChatThreadExpired  = 6000
	ErrChatThreadBusy     = 6001
	ErrChatRunFailed      = 6002
	ErrChatInvalidMessage = 6003
	ErrChatSessionInvalid = 6004
	ErrChatNoThread       = 6005
	ErrChatJudgeDisabled  = 6006
)

// ProcessingFailedMessage 运行失败时对客户端展示的统一提示
const ProcessingFailedMessage = "processing failed, please retry or reset the conversation"

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// Chat errors
	ErrChatThreadExpired:  {ErrChatThreadExpired, http.StatusGone, ProcessingFailedMessage},
	ErrChatThreadBusy:     {ErrChatThreadBusy, http.StatusConflict, ProcessingFailedMessage},
	ErrChatRunFailed:      {ErrChatRunFailed, http.StatusBadGateway, ProcessingFailedMessage},
	ErrChatInvalidMessage: {ErrChatInvalidMessage, http.StatusBadRequest, "Invalid message"},
	ErrChatSessionInvalid: {ErrChatSessionInvalid, http.StatusUnauthorized, "Invalid client session"},
	ErrChatNoThread:       {ErrChatNoThread, http.StatusNotFound, "No conversation yet"},
	ErrChatJudgeDisabled:  {ErrChatJudgeDisabled, http.StatusNotFound, "Conversation judge is disabled"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// FormatError formats an error message with code.
// Server side failures never expose their details.
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if !IsClientError(code) {
		return msg
	}
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
