package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/websearch/types"
)

// ExaProvider implements the Exa AI search API
type ExaProvider struct {
	*BaseProvider
}

// NewExaProvider creates a new Exa provider
func NewExaProvider(config *types.ProviderConfig) (Provider, error) {
	return &ExaProvider{BaseProvider: NewBaseProvider(config)}, nil
}

type exaRequest struct {
	Query          string          `json:"query"`
	NumResults     int             `json:"numResults,omitempty"`
	IncludeDomains []string        `json:"includeDomains,omitempty"`
	ExcludeDomains []string        `json:"excludeDomains,omitempty"`
	Type           string          `json:"type,omitempty"` // "neural", "keyword" or "auto"
	Contents       map[string]bool `json:"contents,omitempty"`
}

type exaResponse struct {
	Results []struct {
		Title         string   `json:"title"`
		URL           string   `json:"url"`
		Text          string   `json:"text,omitempty"`
		Highlights    []string `json:"highlights,omitempty"`
		Score         float32  `json:"score"`
		PublishedDate string   `json:"publishedDate,omitempty"`
		Author        string   `json:"author,omitempty"`
	} `json:"results"`
}

// Search executes a search query using the Exa API
func (p *ExaProvider) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	startTime := time.Now()

	body := exaRequest{
		Query:          req.Query,
		NumResults:     req.MaxResults,
		IncludeDomains: req.IncludeDomains,
		ExcludeDomains: req.ExcludeDomains,
		Type:           "auto",
		Contents:       map[string]bool{"text": true},
	}
	if body.NumResults == 0 {
		body.NumResults = 10
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out exaResponse
	err = p.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIHost+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("x-api-key", p.GetAPIKey())
		return httpReq, nil
	}, &out)
	if err != nil {
		return nil, err
	}

	results := make([]*types.SearchResult, len(out.Results))
	for i, r := range out.Results {
		content := r.Text
		// 有高亮片段时优先使用
		if len(r.Highlights) > 0 {
			content = strings.Join(r.Highlights, "\n")
		}
		results[i] = &types.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Content:     content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
			Author:      r.Author,
		}
	}

	return &types.SearchResponse{
		Query:    req.Query,
		Results:  results,
		Took:     time.Since(startTime).Milliseconds(),
		Provider: p.GetID(),
	}, nil
}
