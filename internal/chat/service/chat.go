package service

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/chat/judge"
	"github.com/lk2023060901/chatai-backend/internal/chat/session"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/response"
	"github.com/lk2023060901/chatai-backend/internal/pkg/sse"
	"go.uber.org/zap"
)

const (
	eventBufferSize   = 64
	keepAliveInterval = 15 * time.Second
)

// ChatUseCase HTTP 层依赖的会话用例, 由 biz.ChatUseCase 实现
type ChatUseCase interface {
	SendUserTurn(ctx context.Context, clientID, text string) (*biz.SendResult, error)
	DrainPendingReplies(ctx context.Context, clientID string) session.Drain
	RunFactCheck(ctx context.Context, clientID string) *judge.FactCheckResult
	GetDisplayMessages(ctx context.Context, clientID string) ([]types.Message, error)
	ResetThread(ctx context.Context, clientID string) (string, error)
	SetUserInfo(ctx context.Context, clientID string, info types.UserInfo) types.UserInfo
	Summary(ctx context.Context, clientID string) (string, error)
	Critique(ctx context.Context, clientID string) (*judge.Critique, error)
}

var _ ChatUseCase = (*biz.ChatUseCase)(nil)

// ChatService 会话相关的 HTTP 接口
type ChatService struct {
	useCase  ChatUseCase
	sessions *SessionManager
	limiter  gin.HandlerFunc
	hub      *sse.Hub
	logger   *logger.Logger
}

// NewChatService 创建会话服务, limiter 可为 nil
func NewChatService(useCase ChatUseCase, sessions *SessionManager, limiter gin.HandlerFunc, hub *sse.Hub, log *logger.Logger) *ChatService {
	if log == nil {
		log = logger.L()
	}
	return &ChatService{
		useCase:  useCase,
		sessions: sessions,
		limiter:  limiter,
		hub:      hub,
		logger:   log.Named("chat.service"),
	}
}

// RegisterRoutes 注册 /chat 路由
func (s *ChatService) RegisterRoutes(r *gin.RouterGroup) {
	chat := r.Group("/chat")
	chat.Use(s.sessions.Middleware(s.logger))

	send := []gin.HandlerFunc{s.SendMessage}
	if s.limiter != nil {
		send = append([]gin.HandlerFunc{s.limiter}, send...)
	}
	chat.POST("/messages", send...)
	chat.GET("/replies", s.GetReplies)
	chat.GET("/addendums", s.GetAddendums)
	chat.GET("/history", s.GetHistory)
	chat.POST("/reset", s.Reset)
	chat.POST("/user-info", s.SetUserInfo)
	chat.GET("/summary", s.GetSummary)
	chat.GET("/critique", s.GetCritique)
	chat.GET("/events", s.Events)
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

// HistoryRequest 历史消息查询参数
type HistoryRequest struct {
	Format string `form:"format" binding:"omitempty,oneof=json html"`
}

// HistoryResponse 历史消息
type HistoryResponse struct {
	Messages []types.Message `json:"messages"`
}

// ResetResponse 重置结果
type ResetResponse struct {
	ThreadID string `json:"thread_id"`
}

// SummaryResponse 会话摘要
type SummaryResponse struct {
	Summary string `json:"summary"`
}

// UserInfoRequest 客户端上报的用户信息
type UserInfoRequest struct {
	Timezone  string            `json:"timezone"`
	UserAgent string            `json:"user_agent"`
	Extra     map[string]string `json:"extra"`
}

// SendMessage 接收用户消息并在后台开始一轮运行
// @Summary Send user message
// @Tags chat
// @Accept json
// @Produce json
// @Param request body SendMessageRequest true "Message"
// @Success 202 {object} biz.SendResult
// @Router /api/v1/chat/messages [post]
func (s *ChatService) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	res, err := s.useCase.SendUserTurn(c.Request.Context(), ClientID(c), req.Text)
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Accepted(c, res)
}

// GetReplies 取出已到达的回复
// @Summary Drain pending replies
// @Tags chat
// @Produce json
// @Success 200 {object} session.Drain
// @Router /api/v1/chat/replies [get]
func (s *ChatService) GetReplies(c *gin.Context) {
	response.Success(c, s.useCase.DrainPendingReplies(c.Request.Context(), ClientID(c)))
}

// GetAddendums 一轮结束后的事实核查
// @Summary Fact check addendums
// @Tags chat
// @Produce json
// @Success 200 {object} judge.FactCheckResult
// @Router /api/v1/chat/addendums [get]
func (s *ChatService) GetAddendums(c *gin.Context) {
	response.Success(c, s.useCase.RunFactCheck(c.Request.Context(), ClientID(c)))
}

// GetHistory 返回去除元数据头的历史消息
// @Summary Conversation history
// @Tags chat
// @Produce json
// @Param format query string false "json (default) or html"
// @Success 200 {object} HistoryResponse
// @Router /api/v1/chat/history [get]
func (s *ChatService) GetHistory(c *gin.Context) {
	var req HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	msgs, err := s.useCase.GetDisplayMessages(c.Request.Context(), ClientID(c))
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	if req.Format == "html" {
		if msgs, err = renderHTML(msgs); err != nil {
			response.HandleError(c, toAppError(err))
			return
		}
	}
	response.Success(c, HistoryResponse{Messages: msgs})
}

// Reset 以新线程替换当前会话
// @Summary Reset conversation
// @Tags chat
// @Produce json
// @Success 200 {object} ResetResponse
// @Router /api/v1/chat/reset [post]
func (s *ChatService) Reset(c *gin.Context) {
	threadID, err := s.useCase.ResetThread(c.Request.Context(), ClientID(c))
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Success(c, ResetResponse{ThreadID: threadID})
}

// SetUserInfo 保存客户端的时区与 UA 等信息
// @Summary Set user info
// @Tags chat
// @Accept json
// @Produce json
// @Param request body UserInfoRequest true "User info"
// @Success 200 {object} types.UserInfo
// @Router /api/v1/chat/user-info [post]
func (s *ChatService) SetUserInfo(c *gin.Context) {
	var req UserInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}

	info := s.useCase.SetUserInfo(c.Request.Context(), ClientID(c), types.UserInfo{
		Timezone:  req.Timezone,
		UserAgent: req.UserAgent,
		Extra:     req.Extra,
	})
	response.Success(c, info)
}

// GetSummary 会话摘要
// @Summary Conversation summary
// @Tags chat
// @Produce json
// @Success 200 {object} SummaryResponse
// @Router /api/v1/chat/summary [get]
func (s *ChatService) GetSummary(c *gin.Context) {
	summary, err := s.useCase.Summary(c.Request.Context(), ClientID(c))
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Success(c, SummaryResponse{Summary: summary})
}

// GetCritique 对主助手的评价
// @Summary Assistant critique
// @Tags chat
// @Produce json
// @Success 200 {object} judge.Critique
// @Router /api/v1/chat/critique [get]
func (s *ChatService) GetCritique(c *gin.Context) {
	critique, err := s.useCase.Critique(c.Request.Context(), ClientID(c))
	if err != nil {
		response.HandleError(c, toAppError(err))
		return
	}
	response.Success(c, critique)
}

// Events 推送回复、增量文本与结束标记
// @Summary Chat event stream
// @Tags chat
// @Produce text/event-stream
// @Router /api/v1/chat/events [get]
func (s *ChatService) Events(c *gin.Context) {
	clientID := ClientID(c)
	sub := sse.NewClient(sse.ClientResource(clientID), eventBufferSize)

	s.logger.WithContext(c.Request.Context()).Debug("event stream opened", zap.String("subscriber", sub.ID))
	sse.StreamResponse(c, sub, s.hub, keepAliveInterval)
	s.logger.WithContext(c.Request.Context()).Debug("event stream closed", zap.String("subscriber", sub.ID))
}
