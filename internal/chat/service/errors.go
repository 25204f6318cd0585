package service

import (
	"errors"

	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	apperrors "github.com/lk2023060901/chatai-backend/internal/pkg/errors"
)

// toAppError 把用例层错误映射为对外错误码
func toAppError(err error) error {
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, biz.ErrEmptyMessage):
		return apperrors.Wrap(err, apperrors.ErrChatInvalidMessage, "text must not be empty")
	case errors.Is(err, biz.ErrThreadNotFound):
		return apperrors.Wrap(err, apperrors.ErrChatNoThread)
	case errors.Is(err, biz.ErrJudgeDisabled):
		return apperrors.Wrap(err, apperrors.ErrChatJudgeDisabled)
	case errors.Is(err, biz.ErrTurnInFlight):
		return apperrors.Wrap(err, apperrors.ErrChatThreadBusy)
	}
	return apperrors.Wrap(err, resultCodeToApp(types.ResultCodeOf(err)))
}

func resultCodeToApp(code types.ResultCode) int {
	switch code {
	case types.ResultThreadExpired:
		return apperrors.ErrChatThreadExpired
	case types.ResultThreadBusy:
		return apperrors.ErrChatThreadBusy
	default:
		return apperrors.ErrChatRunFailed
	}
}
