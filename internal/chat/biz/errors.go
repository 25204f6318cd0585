package biz

import "errors"

var (
	// ErrEmptyMessage 消息文本为空
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrThreadNotFound 持久化存储中没有该客户端的线程
	ErrThreadNotFound = errors.New("thread not found")

	// ErrJudgeDisabled 未启用 Conversation Judge
	ErrJudgeDisabled = errors.New("conversation judge is disabled")

	// ErrTurnInFlight 该客户端已有一轮回复在进行
	ErrTurnInFlight = errors.New("a reply is already in progress")
)
