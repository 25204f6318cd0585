package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/chat/judge"
	"github.com/lk2023060901/chatai-backend/internal/chat/session"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	apperrors "github.com/lk2023060901/chatai-backend/internal/pkg/errors"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUseCase struct {
	sendErr    error
	lastClient string
	lastText   string
	history    []types.Message
	info       types.UserInfo
	summaryErr error
}

func (f *fakeUseCase) SendUserTurn(_ context.Context, clientID, text string) (*biz.SendResult, error) {
	f.lastClient, f.lastText = clientID, text
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &biz.SendResult{Status: biz.StatusProcessing, UserMsgID: "msg_1"}, nil
}

func (f *fakeUseCase) DrainPendingReplies(_ context.Context, clientID string) session.Drain {
	f.lastClient = clientID
	return session.IdleDrain()
}

func (f *fakeUseCase) RunFactCheck(context.Context, string) *judge.FactCheckResult {
	return &judge.FactCheckResult{FactChecks: []judge.FactCheck{{Role: "assistant", MsgID: "msg_2", Correctness: 4}}}
}

func (f *fakeUseCase) GetDisplayMessages(context.Context, string) ([]types.Message, error) {
	return f.history, nil
}

func (f *fakeUseCase) ResetThread(context.Context, string) (string, error) {
	return "thread_new", nil
}

func (f *fakeUseCase) SetUserInfo(_ context.Context, _ string, info types.UserInfo) types.UserInfo {
	f.info = info.WithDefaults()
	return f.info
}

func (f *fakeUseCase) Summary(context.Context, string) (string, error) {
	if f.summaryErr != nil {
		return "", f.summaryErr
	}
	return "a summary", nil
}

func (f *fakeUseCase) Critique(context.Context, string) (*judge.Critique, error) {
	return nil, biz.ErrJudgeDisabled
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T, uc ChatUseCase) (*gin.Engine, *SessionManager) {
	t.Helper()
	sessions, err := NewSessionManager(SessionConfig{Secret: "test-secret"})
	require.NoError(t, err)

	r := gin.New()
	NewChatService(uc, sessions, nil, sse.NewHub(), logger.NewNop()).RegisterRoutes(r.Group("/api/v1"))
	return r, sessions
}

func do(t *testing.T, r http.Handler, method, path, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestSendMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		sendErr  error
		wantHTTP int
		wantCode int
	}{
		{name: "accepted", body: `{"text":"hello"}`, wantHTTP: http.StatusAccepted, wantCode: apperrors.Success},
		{name: "missing text", body: `{}`, wantHTTP: http.StatusBadRequest, wantCode: apperrors.ErrBadRequest},
		{name: "blank text", body: `{"text":"  "}`, sendErr: biz.ErrEmptyMessage, wantHTTP: http.StatusBadRequest, wantCode: apperrors.ErrChatInvalidMessage},
		{name: "turn in flight", body: `{"text":"again"}`, sendErr: biz.ErrTurnInFlight, wantHTTP: http.StatusConflict, wantCode: apperrors.ErrChatThreadBusy},
		{name: "thread expired", body: `{"text":"hi"}`, sendErr: types.ErrThreadExpired, wantHTTP: http.StatusGone, wantCode: apperrors.ErrChatThreadExpired},
		{name: "upstream failure", body: `{"text":"hi"}`, sendErr: errors.New("dial tcp: refused"), wantHTTP: http.StatusBadGateway, wantCode: apperrors.ErrChatRunFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uc := &fakeUseCase{sendErr: tt.sendErr}
			r, _ := newTestRouter(t, uc)

			rec, env := do(t, r, http.MethodPost, "/api/v1/chat/messages", tt.body)
			assert.Equal(t, tt.wantHTTP, rec.Code)
			assert.Equal(t, tt.wantCode, env.Code)

			if tt.wantCode == apperrors.Success {
				var res biz.SendResult
				require.NoError(t, json.Unmarshal(env.Data, &res))
				assert.Equal(t, biz.SendResult{Status: "processing", UserMsgID: "msg_1"}, res)
				assert.Equal(t, "hello", uc.lastText)
			}
			if tt.wantHTTP >= 500 {
				assert.Equal(t, apperrors.ProcessingFailedMessage, env.Message)
			}
		})
	}
}

func TestSessionCookieIsReused(t *testing.T) {
	uc := &fakeUseCase{}
	r, sessions := newTestRouter(t, uc)

	rec, _ := do(t, r, http.MethodGet, "/api/v1/chat/replies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	first := uc.lastClient
	require.NotEmpty(t, first)
	id, err := sessions.Verify(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, first, id)

	rec, _ = do(t, r, http.MethodGet, "/api/v1/chat/replies", "", cookies[0])
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, first, uc.lastClient)

	forged := &http.Cookie{Name: DefaultCookieName, Value: "not-a-token"}
	rec, _ = do(t, r, http.MethodGet, "/api/v1/chat/replies", "", forged)
	assert.Len(t, rec.Result().Cookies(), 1)
	assert.NotEqual(t, first, uc.lastClient)
}

func TestSessionManagerVerify(t *testing.T) {
	m, err := NewSessionManager(SessionConfig{Secret: "s1", TTL: time.Hour})
	require.NoError(t, err)
	other, err := NewSessionManager(SessionConfig{Secret: "s2"})
	require.NoError(t, err)

	token, err := m.Issue("c1")
	require.NoError(t, err)

	id, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "c1", id)

	_, err = other.Verify(token)
	assert.Error(t, err)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.Verify(token)
	assert.Error(t, err)

	_, err = NewSessionManager(SessionConfig{})
	assert.Error(t, err)
}

func TestGetReplies(t *testing.T) {
	r, _ := newTestRouter(t, &fakeUseCase{})
	rec, env := do(t, r, http.MethodGet, "/api/v1/chat/replies", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var d session.Drain
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.True(t, d.Final)
	assert.Equal(t, session.DrainIdle, d.Status)
	assert.Equal(t, "No pending work", d.Message)
	assert.NotNil(t, d.Replies)
}

func TestGetHistory(t *testing.T) {
	uc := &fakeUseCase{history: []types.Message{{
		ID:      "msg_1",
		Role:    types.RoleAssistant,
		Content: []types.ContentItem{types.TextItem("**bold** move"), types.ImageItem("https://cdn/x.png")},
	}}}
	r, _ := newTestRouter(t, uc)

	tests := []struct {
		query string
		text  string
	}{
		{query: "", text: "**bold** move"},
		{query: "?format=html", text: "<p><strong>bold</strong> move</p>\n"},
	}
	for _, tt := range tests {
		t.Run("format"+tt.query, func(t *testing.T) {
			rec, env := do(t, r, http.MethodGet, "/api/v1/chat/history"+tt.query, "")
			require.Equal(t, http.StatusOK, rec.Code)

			var h HistoryResponse
			require.NoError(t, json.Unmarshal(env.Data, &h))
			require.Len(t, h.Messages, 1)
			assert.Equal(t, tt.text, h.Messages[0].Content[0].Value)
			assert.Equal(t, "https://cdn/x.png", h.Messages[0].Content[1].Value)
		})
	}

	// 渲染不修改原消息
	assert.Equal(t, "**bold** move", uc.history[0].Content[0].Value)

	rec, _ := do(t, r, http.MethodGet, "/api/v1/chat/history?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetUserInfo(t *testing.T) {
	uc := &fakeUseCase{}
	r, _ := newTestRouter(t, uc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/user-info", strings.NewReader(`{"timezone":"Asia/Tokyo"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.UserInfo{Timezone: "Asia/Tokyo", UserAgent: "Mozilla/5.0"}, uc.info)
}

func TestJudgeEndpoints(t *testing.T) {
	uc := &fakeUseCase{}
	r, _ := newTestRouter(t, uc)

	rec, env := do(t, r, http.MethodGet, "/api/v1/chat/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"summary":"a summary"}`, string(env.Data))

	rec, env = do(t, r, http.MethodGet, "/api/v1/chat/critique", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.ErrChatJudgeDisabled, env.Code)

	rec, env = do(t, r, http.MethodGet, "/api/v1/chat/addendums", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res judge.FactCheckResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.Len(t, res.FactChecks, 1)
	assert.Equal(t, "msg_2", res.FactChecks[0].MsgID)

	rec, env = do(t, r, http.MethodPost, "/api/v1/chat/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"thread_id":"thread_new"}`, string(env.Data))
}

type fakeRunner struct {
	result any
	err    error
	keys   []string
}

func (f *fakeRunner) Eval(_ context.Context, _ string, keys []string, _ ...any) (any, error) {
	f.keys = keys
	return f.result, f.err
}

func TestRateLimiter(t *testing.T) {
	tests := []struct {
		name     string
		runner   *fakeRunner
		wantHTTP int
	}{
		{name: "allowed", runner: &fakeRunner{result: []any{int64(1), int64(4)}}, wantHTTP: http.StatusAccepted},
		{name: "limited", runner: &fakeRunner{result: []any{int64(0), int64(0)}}, wantHTTP: http.StatusTooManyRequests},
		{name: "redis down", runner: &fakeRunner{err: errors.New("connection refused")}, wantHTTP: http.StatusAccepted},
		{name: "bad reply", runner: &fakeRunner{result: "OK"}, wantHTTP: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions, err := NewSessionManager(SessionConfig{Secret: "test-secret"})
			require.NoError(t, err)
			limiter := RateLimiter(tt.runner, RateLimitConfig{MaxRequests: 5, Window: time.Minute}, logger.NewNop())

			r := gin.New()
			NewChatService(&fakeUseCase{}, sessions, limiter, sse.NewHub(), logger.NewNop()).RegisterRoutes(r.Group("/api/v1"))

			rec, _ := do(t, r, http.MethodPost, "/api/v1/chat/messages", `{"text":"hi"}`)
			assert.Equal(t, tt.wantHTTP, rec.Code)
			require.Len(t, tt.runner.keys, 1)
			assert.True(t, strings.HasPrefix(tt.runner.keys[0], "rate_limit:client:"))
			if tt.wantHTTP == http.StatusTooManyRequests {
				assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			}
		})
	}
}
