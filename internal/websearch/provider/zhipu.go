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

// ZhipuProvider implements the Zhipu GLM search API
type ZhipuProvider struct {
	*BaseProvider
}

// NewZhipuProvider creates a new Zhipu provider
func NewZhipuProvider(config *types.ProviderConfig) (Provider, error) {
	return &ZhipuProvider{BaseProvider: NewBaseProvider(config)}, nil
}

type zhipuRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

type zhipuResponse struct {
	Data struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
			Snippet string `json:"snippet"`
		} `json:"results"`
	} `json:"data"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Search executes a search query using the Zhipu API.
// api_host is the full endpoint URL.
func (p *ZhipuProvider) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	startTime := time.Now()

	body := zhipuRequest{Query: req.Query, MaxResults: req.MaxResults}
	if body.MaxResults == 0 {
		body.MaxResults = 10
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out zhipuResponse
	err = p.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIHost, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+p.GetAPIKey())
		return httpReq, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &types.ProviderError{Provider: p.GetID(), Code: "API_ERROR", Message: out.Message}
	}

	results := make([]*types.SearchResult, len(out.Data.Results))
	for i, r := range out.Data.Results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		results[i] = &types.SearchResult{Title: r.Title, URL: r.URL, Content: content}
	}

	return &types.SearchResponse{
		Query:    req.Query,
		Results:  results,
		Took:     time.Since(startTime).Milliseconds(),
		Provider: p.GetID(),
	}, nil
}
