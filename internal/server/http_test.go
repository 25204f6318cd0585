package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lk2023060901/chatai-backend/internal/chat/service"
	"github.com/lk2023060901/chatai-backend/internal/conf"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthAndRoutes(t *testing.T) {
	sessions, err := service.NewSessionManager(service.SessionConfig{Secret: "s"})
	require.NoError(t, err)
	chat := service.NewChatService(nil, sessions, nil, sse.NewHub(), logger.NewNop())

	cfg := &conf.Config{Server: conf.ServerConfig{Host: "127.0.0.1", Port: 0}}
	srv := NewHTTPServer(cfg, logger.NewNop(), chat)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get(logger.RequestIDHeader))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
