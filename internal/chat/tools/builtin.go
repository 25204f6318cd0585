package tools

import (
	"context"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

const (
	// WebSearchResults perform_web_search 返回的结果数
	WebSearchResults = 10
	// FallbackSearchResults 兜底查询返回的结果数
	FallbackSearchResults = 3
)

// SearchHit 一条网页搜索结果
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"href"`
	Snippet string `json:"body"`
}

// Searcher 网页搜索能力
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}

// Researcher 研究子代理
type Researcher interface {
	Research(ctx context.Context, query string, cc CallContext) (string, error)
}

// ClientResolver 通过客户端标识获取每客户端的状态
type ClientResolver interface {
	UserInfo(clientToken string) types.UserInfo
	// Researcher 返回当前线程绑定的研究子代理, 没有时返回 nil
	Researcher(clientToken string) Researcher
}

// Features 启动时的功能开关
type Features struct {
	WebSearch bool
}

// Deps 内置工具依赖
type Deps struct {
	Searcher Searcher
	Clients  ClientResolver
	Now      func() time.Time
	Logger   *logger.Logger
}

func (d *Deps) defaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = logger.L()
	}
}

var queryParameters = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "The search query",
		},
	},
	"required": []string{"query"},
}

var noParameters = map[string]any{
	"type":       "object",
	"properties": map[string]any{},
}

// NewBuiltinRegistry 按功能开关组装内置工具
func NewBuiltinRegistry(deps Deps, features Features) (*Registry, error) {
	deps.defaults()
	b := &builtins{deps: deps}

	defs := []Definition{
		{
			Kind:            KindUserInfo,
			Description:     "Get the user info, such as timezone and user-agent (browser)",
			Parameters:      noParameters,
			Handler:         HandlerFunc(b.userInfo),
			EligibleForRoot: true,
		},
		{
			Kind:            KindUnixTime,
			Description:     "Get the current unix time",
			Parameters:      noParameters,
			Handler:         HandlerFunc(b.unixTime),
			EligibleForRoot: true,
		},
		{
			Kind:            KindUserLocalTime,
			Description:     "Get the user local time and timezone",
			Parameters:      noParameters,
			Handler:         HandlerFunc(b.userLocalTime),
			EligibleForRoot: true,
		},
	}

	if features.WebSearch && deps.Searcher != nil {
		defs = append(defs, Definition{
			Kind:            KindWebSearch,
			Description:     "Perform a web search for any unknown or current information",
			Parameters:      queryParameters,
			Handler:         HandlerFunc(b.webSearch),
			EligibleForRoot: true,
		})
	}

	defs = append(defs, Definition{
		Kind: KindAskResearch,
		Description: "Ask the research assistant to investigate a question in depth, " +
			"using web search, and return a citation-rich markdown answer",
		Parameters:       queryParameters,
		Handler:          HandlerFunc(b.askResearch),
		RequiresSubagent: true,
		EligibleForRoot:  true,
	})

	return NewRegistry(HandlerFunc(b.fallback), defs...)
}

type builtins struct {
	deps Deps
}

func (b *builtins) userInfo(_ context.Context, _ Args, cc CallContext) (any, error) {
	info := types.UserInfo{}
	if b.deps.Clients != nil {
		info = b.deps.Clients.UserInfo(cc.ClientToken)
	}
	return map[string]any{"user_info": info.WithDefaults()}, nil
}

func (b *builtins) unixTime(_ context.Context, _ Args, _ CallContext) (any, error) {
	return map[string]any{"unix_time": b.deps.Now().Unix()}, nil
}

func (b *builtins) userLocalTime(_ context.Context, _ Args, cc CallContext) (any, error) {
	tz := types.DefaultTimezone
	if b.deps.Clients != nil {
		if info := b.deps.Clients.UserInfo(cc.ClientToken); info.Timezone != "" {
			tz = info.Timezone
		}
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		b.deps.Logger.Warn("unknown timezone, using UTC", zap.String("timezone", tz), zap.Error(err))
		tz = types.DefaultTimezone
		loc = time.UTC
	}

	return map[string]any{
		"user_local_time": b.deps.Now().In(loc).Format(time.RFC3339),
		"user_timezone":   tz,
	}, nil
}

func (b *builtins) webSearch(ctx context.Context, args Args, _ CallContext) (any, error) {
	query := args.String("query")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrMalformedToolArguments)
	}
	return b.search(ctx, query, WebSearchResults)
}

func (b *builtins) askResearch(ctx context.Context, args Args, cc CallContext) (any, error) {
	query := args.String("query")
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", types.ErrMalformedToolArguments)
	}

	if b.deps.Clients != nil {
		if r := b.deps.Clients.Researcher(cc.ClientToken); r != nil {
			answer, err := r.Research(ctx, query, cc)
			if err != nil {
				return nil, err
			}
			return map[string]any{"answer": answer}, nil
		}
	}

	b.deps.Logger.Info("no research assistant attached, using raw web search", zap.String("query", query))
	hits, err := b.search(ctx, query, WebSearchResults)
	if err != nil {
		return nil, err
	}
	return map[string]any{"search_results": hits}, nil
}

// fallback 为未知工具拼出一个网页查询, 永不返回错误
func (b *builtins) fallback(ctx context.Context, args Args, _ CallContext) (any, error) {
	name := args.Name
	query := FallbackQuery(name, args)
	b.deps.Logger.Warn("unknown tool, falling back to web search",
		zap.String("tool", name),
		zap.String("query", query))

	hits, err := b.search(ctx, query, FallbackSearchResults)
	if err != nil {
		b.deps.Logger.Warn("fallback search failed", zap.Error(err))
		hits = []SearchHit{}
	}
	return map[string]any{"query": query, "results": hits}, nil
}

func (b *builtins) search(ctx context.Context, query string, max int) ([]SearchHit, error) {
	if b.deps.Searcher == nil {
		return []SearchHit{}, nil
	}
	hits, err := b.deps.Searcher.Search(ctx, query, max)
	if err != nil {
		return nil, fmt.Errorf("web search failed: %w", err)
	}
	if hits == nil {
		hits = []SearchHit{}
	}
	return hits, nil
}

// FallbackQuery 由未知工具名与参数值拼出查询, 例如 "What is stock price of ACME"
func FallbackQuery(name string, args Args) string {
	friendly := strings.ReplaceAll(name, "_", " ")
	return "What is " + friendly + " of " + strings.Join(args.OrderedValues(), " ")
}
