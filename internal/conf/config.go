package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/minio"
	"github.com/lk2023060901/chatai-backend/internal/pkg/redis"
	"github.com/lk2023060901/chatai-backend/internal/pkg/workerpool"
	wstypes "github.com/lk2023060901/chatai-backend/internal/websearch/types"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀, 例如 CHATAI_OPENAI_API_KEY
const EnvPrefix = "CHATAI"

type Config struct {
	Server     ServerConfig           `mapstructure:"server"`
	Log        logger.Config          `mapstructure:"log"`
	Redis      redis.Config           `mapstructure:"redis"`
	MinIO      minio.Config           `mapstructure:"minio"`
	OpenAI     OpenAIConfig           `mapstructure:"openai"`
	Assistant  AssistantConfig        `mapstructure:"assistant"`
	Judge      JudgeConfig            `mapstructure:"judge"`
	WebSearch  wstypes.ProviderConfig `mapstructure:"websearch"`
	Session    SessionConfig          `mapstructure:"session"`
	RateLimit  RateLimitConfig        `mapstructure:"ratelimit"`
	WorkerPool workerpool.Config      `mapstructure:"workerpool"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type OpenAIConfig struct {
	APIKey       string `mapstructure:"api_key"`
	BaseURL      string `mapstructure:"base_url"`
	Organization string `mapstructure:"org"`
}

type AssistantConfig struct {
	Name         string  `mapstructure:"name"`
	Model        string  `mapstructure:"model"`
	Temperature  float32 `mapstructure:"temperature"`
	Instructions string  `mapstructure:"instructions"`
	// Mode run: 远端线程与运行; stream: 本地线程与流式补全
	Mode                  string        `mapstructure:"mode"`
	MaxCompletionMessages int           `mapstructure:"max_completion_messages"`
	MaxToolRounds         int           `mapstructure:"max_tool_rounds"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	BusyWaitAttempts      int           `mapstructure:"busy_wait_attempts"`
	ReplyTimeout          time.Duration `mapstructure:"reply_timeout"`
	EnableWebSearch       bool          `mapstructure:"enable_web_search"`
	EnableKnowledgeBase   bool          `mapstructure:"enable_knowledge_base"`
	MetaHeader            bool          `mapstructure:"meta_header"`
}

type JudgeConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Model             string  `mapstructure:"model"`
	Temperature       float32 `mapstructure:"temperature"`
	ContextMessages   int     `mapstructure:"context_messages"`
	FactCheckMessages int     `mapstructure:"fact_check_messages"`
	ResearchMessages  int     `mapstructure:"research_messages"`
	SummaryMessages   int     `mapstructure:"summary_messages"`
	MaxPromptTokens   int     `mapstructure:"max_prompt_tokens"`
}

type SessionConfig struct {
	CookieName string        `mapstructure:"cookie_name"`
	Secret     string        `mapstructure:"secret"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
	// ThreadTTL 线程快照在 Redis 中的过期时间
	ThreadTTL time.Duration `mapstructure:"thread_ttl"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// SetDefaults 注册全部默认值. 环境变量只覆盖已注册的键, 所以每个键都要有默认值.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	logDefaults := logger.DefaultConfig()
	v.SetDefault("log.level", logDefaults.Level)
	v.SetDefault("log.format", logDefaults.Format)
	v.SetDefault("log.output", logDefaults.Output)
	v.SetDefault("log.enablecaller", logDefaults.EnableCaller)
	v.SetDefault("log.enablestacktrace", logDefaults.EnableStacktrace)
	v.SetDefault("log.file.filename", logDefaults.File.Filename)
	v.SetDefault("log.file.maxsize", logDefaults.File.MaxSize)
	v.SetDefault("log.file.maxage", logDefaults.File.MaxAge)
	v.SetDefault("log.file.maxbackups", logDefaults.File.MaxBackups)
	v.SetDefault("log.file.compress", logDefaults.File.Compress)

	redisDefaults := redis.DefaultConfig()
	v.SetDefault("redis.mode", string(redisDefaults.Mode))
	v.SetDefault("redis.addr", redisDefaults.Addr)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", redisDefaults.PoolSize)
	v.SetDefault("redis.min_idle_conns", redisDefaults.MinIdleConns)
	v.SetDefault("redis.dial_timeout", redisDefaults.DialTimeout)
	v.SetDefault("redis.read_timeout", redisDefaults.ReadTimeout)
	v.SetDefault("redis.write_timeout", redisDefaults.WriteTimeout)
	v.SetDefault("redis.max_retries", redisDefaults.MaxRetries)
	v.SetDefault("redis.key_prefix", redisDefaults.KeyPrefix)

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_lookup", string(minio.BucketLookupAuto))
	v.SetDefault("minio.bucket", "chatai")
	v.SetDefault("minio.public_base_url", "")
	v.SetDefault("minio.url_expiry", 7*24*time.Hour)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.org", "")

	v.SetDefault("assistant.name", "chatai")
	v.SetDefault("assistant.model", "gpt-4o")
	v.SetDefault("assistant.temperature", 0.7)
	v.SetDefault("assistant.instructions", "You are a helpful assistant.")
	v.SetDefault("assistant.mode", "run")
	v.SetDefault("assistant.max_completion_messages", 30)
	v.SetDefault("assistant.max_tool_rounds", 8)
	v.SetDefault("assistant.poll_interval", 500*time.Millisecond)
	v.SetDefault("assistant.busy_wait_attempts", 20)
	v.SetDefault("assistant.reply_timeout", 5*time.Minute)
	v.SetDefault("assistant.enable_web_search", false)
	v.SetDefault("assistant.enable_knowledge_base", false)
	v.SetDefault("assistant.meta_header", true)

	v.SetDefault("judge.enabled", true)
	v.SetDefault("judge.model", "gpt-4o-mini")
	v.SetDefault("judge.temperature", 0.3)
	v.SetDefault("judge.context_messages", 0)
	v.SetDefault("judge.fact_check_messages", 0)
	v.SetDefault("judge.research_messages", 0)
	v.SetDefault("judge.summary_messages", 0)
	v.SetDefault("judge.max_prompt_tokens", 0)

	v.SetDefault("websearch.id", string(wstypes.ProviderTavily))
	v.SetDefault("websearch.name", "Tavily")
	v.SetDefault("websearch.api_host", "https://api.tavily.com")
	v.SetDefault("websearch.api_key", "")
	v.SetDefault("websearch.basic_auth_username", "")
	v.SetDefault("websearch.basic_auth_password", "")
	v.SetDefault("websearch.timeout", 30)
	v.SetDefault("websearch.max_retries", 3)

	v.SetDefault("session.cookie_name", "chatai_session")
	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", 30*24*time.Hour)
	v.SetDefault("session.secure", false)
	v.SetDefault("session.thread_ttl", 7*24*time.Hour)

	v.SetDefault("ratelimit.max_requests", 30)
	v.SetDefault("ratelimit.window", time.Minute)

	poolDefaults := workerpool.DefaultConfig()
	v.SetDefault("workerpool.size", poolDefaults.Size)
	v.SetDefault("workerpool.nonblocking", poolDefaults.Nonblocking)
	v.SetDefault("workerpool.expiry_duration", poolDefaults.ExpiryDuration)
	v.SetDefault("workerpool.shutdown_timeout", poolDefaults.ShutdownTimeout)
}

// LoadConfig 读取配置文件, 环境变量 (含 .env) 覆盖文件中的值. path 为空时只用默认值与环境变量.
func LoadConfig(path string) (*Config, error) {
	// .env 不存在不是错误
	_ = godotenv.Load()

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// MinIOEnabled 是否配置了对象存储
func (c *Config) MinIOEnabled() bool {
	return c.MinIO.Endpoint != ""
}

// WebSearchEnabled 是否启用网页搜索
func (c *Config) WebSearchEnabled() bool {
	return c.Assistant.EnableWebSearch
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return errors.New("openai.api_key is required")
	}
	switch c.Assistant.Mode {
	case "run", "stream":
	default:
		return fmt.Errorf("assistant.mode must be 'run' or 'stream', got %q", c.Assistant.Mode)
	}
	if c.Assistant.Model == "" {
		return errors.New("assistant.model is required")
	}
	if c.Assistant.MaxCompletionMessages <= 0 {
		return errors.New("assistant.max_completion_messages must be positive")
	}
	if c.Assistant.MaxToolRounds <= 0 {
		return errors.New("assistant.max_tool_rounds must be positive")
	}
	if c.Assistant.PollInterval <= 0 {
		return errors.New("assistant.poll_interval must be positive")
	}
	if c.Assistant.ReplyTimeout <= 0 {
		return errors.New("assistant.reply_timeout must be positive")
	}
	if c.Judge.Enabled && c.Judge.Model == "" {
		return errors.New("judge.model is required when the judge is enabled")
	}
	if c.Session.Secret == "" {
		return errors.New("session.secret is required")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if c.MinIOEnabled() {
		if err := c.MinIO.Validate(); err != nil {
			return err
		}
	}
	if c.WebSearchEnabled() {
		if err := c.WebSearch.Validate(); err != nil {
			return fmt.Errorf("websearch: %w", err)
		}
	}
	return nil
}
