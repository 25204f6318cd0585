// Package websearch 为 perform_web_search 工具提供搜索后端
package websearch

import (
	"context"
	"fmt"
	"strings"

	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/websearch/provider"
	"github.com/lk2023060901/chatai-backend/internal/websearch/types"
	"go.uber.org/zap"
)

// Searcher 把搜索提供商适配为 tools.Searcher
type Searcher struct {
	provider provider.Provider
	logger   *logger.Logger
}

var _ tools.Searcher = (*Searcher)(nil)

// NewSearcher 按配置创建提供商并包装
func NewSearcher(cfg *types.ProviderConfig, log *logger.Logger) (*Searcher, error) {
	p, err := provider.NewFactory().Create(cfg)
	if err != nil {
		return nil, fmt.Errorf("create search provider: %w", err)
	}
	return NewSearcherWithProvider(p, log), nil
}

// NewSearcherWithProvider 包装已有提供商
func NewSearcherWithProvider(p provider.Provider, log *logger.Logger) *Searcher {
	if log == nil {
		log = logger.L()
	}
	return &Searcher{provider: p, logger: log.Named("websearch")}
}

// Search implements tools.Searcher.
func (s *Searcher) Search(ctx context.Context, query string, maxResults int) ([]tools.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, types.ErrEmptyQuery
	}

	resp, err := s.provider.Search(ctx, &types.SearchRequest{Query: query, MaxResults: maxResults})
	if err != nil {
		s.logger.WithContext(ctx).Warn("web search failed",
			zap.String("provider", string(s.provider.GetID())),
			zap.String("query", query),
			zap.Error(err))
		return nil, err
	}

	hits := make([]tools.SearchHit, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r == nil {
			continue
		}
		hits = append(hits, tools.SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if maxResults > 0 && len(hits) == maxResults {
			break
		}
	}
	s.logger.WithContext(ctx).Debug("web search done",
		zap.String("provider", string(resp.Provider)),
		zap.Int("hits", len(hits)),
		zap.Int64("took_ms", resp.Took))
	return hits, nil
}
