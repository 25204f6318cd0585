package injector

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/wire"
	"github.com/lk2023060901/chatai-backend/internal/chat/annotation"
	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/chat/completion"
	chatdata "github.com/lk2023060901/chatai-backend/internal/chat/data"
	"github.com/lk2023060901/chatai-backend/internal/chat/filestore"
	"github.com/lk2023060901/chatai-backend/internal/chat/judge"
	"github.com/lk2023060901/chatai-backend/internal/chat/llm/openai"
	"github.com/lk2023060901/chatai-backend/internal/chat/run"
	"github.com/lk2023060901/chatai-backend/internal/chat/service"
	"github.com/lk2023060901/chatai-backend/internal/chat/session"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/conf"
	"github.com/lk2023060901/chatai-backend/internal/data"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/pkg/sse"
	"github.com/lk2023060901/chatai-backend/internal/pkg/workerpool"
	"github.com/lk2023060901/chatai-backend/internal/server"
	"github.com/lk2023060901/chatai-backend/internal/websearch"
	"go.uber.org/zap"
)

// ProviderSet is the Wire provider set for all dependencies
var ProviderSet = wire.NewSet(
	chatProviderSet,
	provideSessionManager,
	provideRateLimiter,
	service.NewChatService,
	wire.Bind(new(service.ChatUseCase), new(*biz.ChatUseCase)),
	server.NewHTTPServer,
)

// chatProviderSet 会话用例及其依赖, 控制台客户端单独使用
var chatProviderSet = wire.NewSet(
	provideData,
	provideBackend,
	provideSearcher,
	provideSessionRegistry,
	provideToolRegistry,
	tools.NewDispatcher,
	provideRehoster,
	provideResolver,
	provideCoordinator,
	provideStreamer,
	provideJudgeFactory,
	provideWorkerPool,
	sse.NewHub,
	provideThreadRepo,
	provideChatUseCase,
)

func provideData(config *conf.Config, log *logger.Logger) (*data.Data, func(), error) {
	return data.NewData(config, log)
}

func provideBackend(config *conf.Config, log *logger.Logger) (*openai.Client, error) {
	return openai.NewClient(openai.Config{
		APIKey:       config.OpenAI.APIKey,
		BaseURL:      config.OpenAI.BaseURL,
		Organization: config.OpenAI.Organization,
	}, log)
}

func provideSearcher(config *conf.Config, log *logger.Logger) (tools.Searcher, error) {
	if !config.WebSearchEnabled() {
		return nil, nil
	}
	searcher, err := websearch.NewSearcher(&config.WebSearch, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create web searcher: %w", err)
	}
	return searcher, nil
}

func provideSessionRegistry(log *logger.Logger) *session.Registry {
	return session.NewRegistry(session.WithLogger(log))
}

func provideToolRegistry(
	config *conf.Config,
	searcher tools.Searcher,
	sessions *session.Registry,
	log *logger.Logger,
) (*tools.Registry, error) {
	return tools.NewBuiltinRegistry(tools.Deps{
		Searcher: searcher,
		Clients:  sessions,
		Logger:   log,
	}, tools.Features{WebSearch: config.WebSearchEnabled()})
}

func provideRehoster(d *data.Data, backend *openai.Client, log *logger.Logger) *filestore.Rehoster {
	if d.MinIO == nil {
		return filestore.NewRehoster(nil, backend, log)
	}
	return filestore.NewRehoster(chatdata.NewObjectStore(d.MinIO), backend, log)
}

func provideResolver(rehoster *filestore.Rehoster, backend *openai.Client, log *logger.Logger) *annotation.Resolver {
	return annotation.NewResolver(rehoster.MakeFileURL, backend, log)
}

func provideCoordinator(
	config *conf.Config,
	backend *openai.Client,
	dispatcher *tools.Dispatcher,
	resolver *annotation.Resolver,
	log *logger.Logger,
) *run.Coordinator {
	return run.NewCoordinator(backend, dispatcher, resolver, run.Config{
		PollInterval:     config.Assistant.PollInterval,
		BusyWaitAttempts: config.Assistant.BusyWaitAttempts,
	}, log)
}

func provideStreamer(
	config *conf.Config,
	backend *openai.Client,
	dispatcher *tools.Dispatcher,
	log *logger.Logger,
) *completion.Streamer {
	return completion.NewStreamer(backend, dispatcher, config.Assistant.MaxToolRounds, log)
}

func provideJudgeFactory(
	config *conf.Config,
	backend *openai.Client,
	dispatcher *tools.Dispatcher,
	registry *tools.Registry,
	log *logger.Logger,
) biz.JudgeFactory {
	if !config.Judge.Enabled {
		return nil
	}

	cfg := judge.Config{
		Model:             config.Judge.Model,
		Temperature:       config.Judge.Temperature,
		ContextMessages:   config.Judge.ContextMessages,
		FactCheckMessages: config.Judge.FactCheckMessages,
		ResearchMessages:  config.Judge.ResearchMessages,
		SummaryMessages:   config.Judge.SummaryMessages,
		MaxPromptTokens:   config.Judge.MaxPromptTokens,
	}
	opts := []judge.Option{judge.WithLogger(log)}
	if cfg.MaxPromptTokens > 0 {
		counter, err := judge.NewTiktokenCounter(cfg.Model)
		if err != nil {
			log.Warn("token budget disabled", zap.Error(err))
		} else {
			opts = append(opts, judge.WithTokenCounter(counter))
		}
	}

	runner := completion.NewRunner(backend, dispatcher, config.Assistant.MaxToolRounds, log)
	subagentTools := registry.ForSubagent()
	return func() biz.Judge {
		return judge.New(cfg, runner, subagentTools, opts...)
	}
}

func provideWorkerPool(config *conf.Config, log *logger.Logger) (*workerpool.Pool, func(), error) {
	pool, err := workerpool.New(&config.WorkerPool, log.Named("workerpool").Logger)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Shutdown, nil
}

func provideThreadRepo(d *data.Data, config *conf.Config) biz.ThreadRepo {
	return chatdata.NewThreadRepo(d.Redis, config.Session.ThreadTTL)
}

func provideChatUseCase(
	config *conf.Config,
	sessions *session.Registry,
	repo biz.ThreadRepo,
	backend *openai.Client,
	coordinator *run.Coordinator,
	streamer *completion.Streamer,
	registry *tools.Registry,
	judges biz.JudgeFactory,
	pool *workerpool.Pool,
	hub *sse.Hub,
	log *logger.Logger,
) (*biz.ChatUseCase, error) {
	a := config.Assistant
	cfg := biz.Config{
		Mode:                  biz.Mode(a.Mode),
		Model:                 a.Model,
		Temperature:           a.Temperature,
		Instructions:          a.Instructions,
		Tools:                 registry.ForRoot(),
		MaxCompletionMessages: a.MaxCompletionMessages,
		MetaHeader:            a.MetaHeader,
		ReplyTimeout:          a.ReplyTimeout,
	}

	if cfg.Mode == biz.ModeRun {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		id, err := biz.EnsureAssistant(ctx, backend, biz.AssistantConfig{
			Name:                a.Name,
			Model:               a.Model,
			Instructions:        a.Instructions,
			EnableKnowledgeBase: a.EnableKnowledgeBase,
		}, registry, log)
		if err != nil {
			return nil, err
		}
		cfg.AssistantID = id
	}

	return biz.NewChatUseCase(cfg, sessions, repo, coordinator, streamer, judges, pool, hub, log), nil
}

func provideSessionManager(config *conf.Config) (*service.SessionManager, error) {
	return service.NewSessionManager(service.SessionConfig{
		CookieName: config.Session.CookieName,
		Secret:     config.Session.Secret,
		TTL:        config.Session.TTL,
		Secure:     config.Session.Secure,
	})
}

func provideRateLimiter(d *data.Data, config *conf.Config, log *logger.Logger) gin.HandlerFunc {
	return service.RateLimiter(d.Redis, service.RateLimitConfig{
		MaxRequests: config.RateLimit.MaxRequests,
		Window:      config.RateLimit.Window,
	}, log)
}
