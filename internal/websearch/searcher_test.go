package websearch

import (
	"context"
	"errors"
	"testing"

	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	"github.com/lk2023060901/chatai-backend/internal/websearch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	results []*types.SearchResult
	err     error
	got     *types.SearchRequest
}

func (s *stubProvider) Search(_ context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &types.SearchResponse{Query: req.Query, Results: s.results, Provider: "stub"}, nil
}
func (s *stubProvider) GetID() types.ProviderID { return "stub" }
func (s *stubProvider) GetName() string         { return "stub" }

func TestSearcher(t *testing.T) {
	stub := &stubProvider{results: []*types.SearchResult{
		{Title: "A", URL: "https://a", Content: "alpha"},
		nil,
		{Title: "B", URL: "https://b", Content: "beta"},
		{Title: "C", URL: "https://c", Content: "gamma"},
	}}
	s := NewSearcherWithProvider(stub, logger.NewNop())

	hits, err := s.Search(context.Background(), "  go  ", 2)
	require.NoError(t, err)
	assert.Equal(t, "go", stub.got.Query)
	assert.Equal(t, 2, stub.got.MaxResults)
	assert.Equal(t, []tools.SearchHit{
		{Title: "A", URL: "https://a", Snippet: "alpha"},
		{Title: "B", URL: "https://b", Snippet: "beta"},
	}, hits)
}

func TestSearcherErrors(t *testing.T) {
	s := NewSearcherWithProvider(&stubProvider{}, logger.NewNop())
	_, err := s.Search(context.Background(), " ", 5)
	assert.ErrorIs(t, err, types.ErrEmptyQuery)

	boom := errors.New("boom")
	s = NewSearcherWithProvider(&stubProvider{err: boom}, logger.NewNop())
	_, err = s.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, boom)
}

func TestNewSearcherRejectsBadConfig(t *testing.T) {
	_, err := NewSearcher(&types.ProviderConfig{ID: types.ProviderTavily, Name: "t", APIHost: "h"}, nil)
	assert.ErrorIs(t, err, types.ErrMissingAPIKey)
}
