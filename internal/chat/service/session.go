package service

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

const (
	// DefaultCookieName 会话 Cookie 名称
	DefaultCookieName = "chatai_session"

	// DefaultSessionTTL 会话 Cookie 有效期
	DefaultSessionTTL = 30 * 24 * time.Hour

	clientIDKey = "client_id"
	issuer      = "chatai-backend"
)

// SessionConfig 会话 Cookie 配置
type SessionConfig struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
}

// ClientClaims 会话 Cookie 中的声明
type ClientClaims struct {
	ClientID string `json:"client_id"`
	jwt.RegisteredClaims
}

// SessionManager 签发与校验会话 Cookie
type SessionManager struct {
	cfg SessionConfig
	now func() time.Time
}

// NewSessionManager 创建会话管理器
func NewSessionManager(cfg SessionConfig) (*SessionManager, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	return &SessionManager{cfg: cfg, now: time.Now}, nil
}

// Issue 为客户端签发令牌
func (m *SessionManager) Issue(clientID string) (string, error) {
	now := m.now()
	claims := &ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   clientID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.cfg.Secret))
}

// Verify 校验令牌并返回客户端标识
func (m *SessionManager) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ClientClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.cfg.Secret), nil
	}, jwt.WithTimeFunc(m.now), jwt.WithIssuer(issuer))
	if err != nil {
		return "", fmt.Errorf("failed to parse session token: %w", err)
	}

	claims, ok := token.Claims.(*ClientClaims)
	if !ok || !token.Valid || claims.ClientID == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.ClientID, nil
}

// Middleware 解析会话 Cookie, 缺失或无效时分配新的客户端标识并写回 Cookie
func (m *SessionManager) Middleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var clientID string
		if raw, err := c.Cookie(m.cfg.CookieName); err == nil && raw != "" {
			if clientID, err = m.Verify(raw); err != nil {
				log.WithContext(c.Request.Context()).Debug("discarding session cookie",
					zap.Error(err),
					zap.String("ip", c.ClientIP()))
			}
		}

		if clientID == "" {
			clientID = uuid.New().String()
			token, err := m.Issue(clientID)
			if err != nil {
				log.Error("failed to issue session token", zap.Error(err))
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(m.cfg.CookieName, token, int(m.cfg.TTL/time.Second), "/", "", m.cfg.Secure, true)
		}

		c.Set(clientIDKey, clientID)
		c.Request = c.Request.WithContext(logger.WithClientID(c.Request.Context(), clientID))
		c.Next()
	}
}

// ClientID 从上下文获取客户端标识
func ClientID(c *gin.Context) string {
	return c.GetString(clientIDKey)
}
