package detail

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/lattice-ip/priorart-engine/pkg/serpapi"
)

type mockSearchClient struct {
	mock.Mock
}

func (m *mockSearchClient) Search(ctx context.Context, req serpapi.SearchRequest) (*serpapi.SearchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*serpapi.SearchResponse), args.Error(1)
}

func (m *mockSearchClient) Details(ctx context.Context, req serpapi.DetailRequest) (*serpapi.DetailResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*serpapi.DetailResponse), args.Error(1)
}

var _ serpapi.Client = (*mockSearchClient)(nil)
