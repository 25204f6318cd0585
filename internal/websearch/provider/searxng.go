package provider

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/websearch/types"
)

// SearXNGProvider implements the SearXNG search API
type SearXNGProvider struct {
	*BaseProvider
}

// NewSearXNGProvider creates a new SearXNG provider
func NewSearXNGProvider(config *types.ProviderConfig) (Provider, error) {
	return &SearXNGProvider{BaseProvider: NewBaseProvider(config)}, nil
}

type searxngResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float32 `json:"score"`
		PublishedDate string  `json:"publishedDate,omitempty"`
	} `json:"results"`
}

// Search executes a search query using the SearXNG API.
// SearXNG has no result limit parameter, so results are truncated locally.
func (p *SearXNGProvider) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	startTime := time.Now()

	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("format", "json")
	params.Set("pageno", "1")
	apiURL := p.config.APIHost + "/search?" + params.Encode()

	var out searxngResponse
	err := p.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, err
		}
		if p.config.BasicAuthUsername != "" {
			httpReq.SetBasicAuth(p.config.BasicAuthUsername, p.config.BasicAuthPassword)
		}
		return httpReq, nil
	}, &out)
	if err != nil {
		return nil, err
	}

	n := len(out.Results)
	if req.MaxResults > 0 && n > req.MaxResults {
		n = req.MaxResults
	}
	results := make([]*types.SearchResult, n)
	for i, r := range out.Results[:n] {
		results[i] = &types.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Content:     r.Content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
		}
	}

	return &types.SearchResponse{
		Query:    req.Query,
		Results:  results,
		Took:     time.Since(startTime).Milliseconds(),
		Provider: p.GetID(),
	}, nil
}
