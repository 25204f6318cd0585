package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "default config", config: DefaultConfig()},
		{name: "console output", config: &Config{Level: "info", Format: "console", Output: "console"}},
		{
			name: "file output",
			config: &Config{
				Level:  "debug",
				Format: "json",
				Output: "file",
				File:   FileConfig{Filename: filepath.Join(dir, "test.log"), MaxSize: 10, MaxAge: 7, MaxBackups: 3},
			},
		},
		{name: "invalid level", config: &Config{Level: "loud", Format: "json", Output: "console"}, wantErr: true},
		{name: "invalid format", config: &Config{Level: "info", Format: "xml", Output: "console"}, wantErr: true},
		{name: "file without name", config: &Config{Level: "info", Format: "json", Output: "file"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, l)
			l.Info("test message")
		})
	}
}

func newObserved() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), config: DefaultConfig()}, logs
}

func TestWithContextFields(t *testing.T) {
	l, logs := newObserved()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithClientID(ctx, "client-1")
	ctx = WithThreadID(ctx, "thread_1")

	l.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "client-1", fields["client_id"])
	assert.Equal(t, "thread_1", fields["thread_id"])

	assert.Equal(t, "client-1", GetClientID(ctx))
	assert.Equal(t, "thread_1", GetThreadID(ctx))
	assert.Empty(t, GetClientID(context.Background()))
}

func TestFromContextPrefersAttachedLogger(t *testing.T) {
	l, logs := newObserved()
	ctx := ToContext(WithClientID(context.Background(), "c"), l)

	FromContext(ctx).Warn("attached")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "c", logs.All()[0].ContextMap()["client_id"])
}

func TestGlobalLogger(t *testing.T) {
	require.NotNil(t, L())
	require.NoError(t, InitGlobal(DefaultConfig()))
	l := L()
	require.NotNil(t, l)
	assert.Equal(t, "info", l.Config().Level)
	l.Named("global").Info("info message", zap.String("key", "value"))
}

func TestConsole(t *testing.T) {
	l, err := Console(filepath.Join(t.TempDir(), "console.log"))
	require.NoError(t, err)
	l.Warn("written to file")
}

func TestGinMiddlewares(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, logs := newObserved()

	r := gin.New()
	r.Use(GinLoggerWithConfig(l, MiddlewareOptions{SkipPaths: []string{"/health"}}), GinRecovery(l))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Zero(t, logs.Len())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "fixed")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "fixed", w.Header().Get("X-Request-ID"))
	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	assert.Equal(t, 1, logs.FilterMessage("HTTP Request").Len())
}
