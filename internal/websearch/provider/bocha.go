package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/websearch/types"
)

// BochaProvider implements the Bocha AI search API
type BochaProvider struct {
	*BaseProvider
}

// NewBochaProvider creates a new Bocha provider
func NewBochaProvider(config *types.ProviderConfig) (Provider, error) {
	return &BochaProvider{BaseProvider: NewBaseProvider(config)}, nil
}

type bochaRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
	SearchType string `json:"search_type,omitempty"` // "web", "news" or "academic"
}

type bochaResponse struct {
	Results []struct {
		Title       string  `json:"title"`
		URL         string  `json:"url"`
		Snippet     string  `json:"snippet"`
		Content     string  `json:"content,omitempty"`
		Score       float32 `json:"score,omitempty"`
		PublishedAt string  `json:"published_at,omitempty"`
	} `json:"results"`
}

// Search executes a search query using the Bocha API
func (p *BochaProvider) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	startTime := time.Now()

	body := bochaRequest{Query: req.Query, MaxResults: req.MaxResults, SearchType: "web"}
	if body.MaxResults == 0 {
		body.MaxResults = 10
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out bochaResponse
	err = p.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIHost+"/v1/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.GetAPIKey())
		return httpReq, nil
	}, &out)
	if err != nil {
		return nil, err
	}

	results := make([]*types.SearchResult, len(out.Results))
	for i, r := range out.Results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		results[i] = &types.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Content:     content,
			Score:       r.Score,
			PublishedAt: r.PublishedAt,
		}
	}

	return &types.SearchResponse{
		Query:    req.Query,
		Results:  results,
		Took:     time.Since(startTime).Milliseconds(),
		Provider: p.GetID(),
	}, nil
}
