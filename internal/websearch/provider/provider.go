package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/pkg/retry"
	"github.com/lk2023060901/chatai-backend/internal/websearch/types"
)

// Provider defines the interface for search providers
type Provider interface {
	// Search executes a search query
	Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error)

	// GetID returns the provider ID
	GetID() types.ProviderID

	// GetName returns the provider name
	GetName() string
}

// BaseProvider provides common functionality for all providers
type BaseProvider struct {
	config     *types.ProviderConfig
	httpClient *http.Client
	retry      retry.Policy

	mu       sync.Mutex
	apiKeys  []string // Support multiple API keys for rotation
	keyIndex int
}

// NewBaseProvider creates a new base provider
func NewBaseProvider(config *types.ProviderConfig) *BaseProvider {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	var apiKeys []string
	for _, k := range strings.Split(config.APIKey, ",") {
		if k = strings.TrimSpace(k); k != "" {
			apiKeys = append(apiKeys, k)
		}
	}

	return &BaseProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: retry.Policy{
			MaxAttempts: maxRetries,
			Interval:    time.Second,
			Multiplier:  2,
			MaxInterval: 8 * time.Second,
		},
		apiKeys: apiKeys,
	}
}

// GetID returns the provider ID
func (b *BaseProvider) GetID() types.ProviderID {
	return b.config.ID
}

// GetName returns the provider name
func (b *BaseProvider) GetName() string {
	return b.config.Name
}

// SetRetrySleep replaces the retry sleep hook
func (b *BaseProvider) SetRetrySleep(sleep retry.SleepFunc) {
	b.retry = b.retry.WithSleep(sleep)
}

// GetAPIKey returns the current API key (with rotation support)
func (b *BaseProvider) GetAPIKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.apiKeys) == 0 {
		return ""
	}
	key := b.apiKeys[b.keyIndex]
	b.keyIndex = (b.keyIndex + 1) % len(b.apiKeys)
	return key
}

// setDefaultHeaders sets headers shared by every provider request
func setDefaultHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "chatai-backend/1.0")
}

// retryable 网络错误, 429 和 5xx 可以重试
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// DoJSON sends the request built by newReq and decodes a 200 JSON body into out.
// newReq is called once per attempt so request bodies can be replayed.
func (b *BaseProvider) DoJSON(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error), out any) error {
	var lastErr error
	err := b.retry.Do(ctx, func(ctx context.Context, _ int) (bool, error) {
		req, err := newReq(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to create request: %w", err)
		}
		setDefaultHeaders(req)

		resp, err := b.httpClient.Do(req)
		if err != nil {
			lastErr = &types.ProviderError{Provider: b.GetID(), Code: "REQUEST_FAILED", Message: "Failed to execute request", Err: err}
			return false, nil
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			perr := &types.ProviderError{Provider: b.GetID(), Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: string(body)}
			if retryable(resp.StatusCode) {
				lastErr = perr
				return false, nil
			}
			return false, perr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
		return true, nil
	})
	if err == retry.ErrExhausted && lastErr != nil {
		return lastErr
	}
	return err
}
