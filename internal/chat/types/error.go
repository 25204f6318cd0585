package types

import "errors"

var (
	// Thread errors
	ErrThreadExpired = errors.New("thread expired")
	ErrThreadBusy    = errors.New("thread busy")
	ErrThreadTimeout = errors.New("thread wait timeout")

	// Run errors
	ErrRunFailed = errors.New("run failed")

	// Tool errors
	ErrToolDispatch           = errors.New("tool dispatch failed")
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
	ErrToolCallProtocol       = errors.New("tool call protocol violation")
	ErrToolRoundLimit         = errors.New("tool round limit reached")

	// Message errors
	ErrInvalidMessage  = errors.New("invalid message")
	ErrMessageNotFound = errors.New("message not found")
)

// ResultCode is the small set of outcomes a run can end with.
type ResultCode string

const (
	ResultSuccess       ResultCode = "SUCCESS"
	ResultThreadExpired ResultCode = "ERR_THREAD_EXPIRED"
	ResultThreadBusy    ResultCode = "ERR_THREAD_IN_USE"
	ResultRunFailed     ResultCode = "ERR_RUN_FAILED"
)

// ResultCodeOf collapses any error into a ResultCode.
func ResultCodeOf(err error) ResultCode {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrThreadExpired):
		return ResultThreadExpired
	case errors.Is(err, ErrThreadBusy), errors.Is(err, ErrThreadTimeout):
		return ResultThreadBusy
	default:
		return ResultRunFailed
	}
}
