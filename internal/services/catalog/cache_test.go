package catalog

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Products(ctx context.Context, ref ClientRef) ([]Product, error) {
	args := m.Called(ctx, ref)
	products, _ := args.Get(0).([]Product)
	return products, args.Error(1)
}

func (m *MockSource) Product(ctx context.Context, ref ClientRef, code string) (*Product, error) {
	args := m.Called(ctx, ref, code)
	p, _ := args.Get(0).(*Product)
	return p, args.Error(1)
}

func newCache(t *testing.T, next Source) (*CachedSource, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCachedSource(next, rdb, time.Minute), mr
}

func TestCachedSourceServesSecondCallFromRedis(t *testing.T) {
	ctx := context.Background()
	ref := ClientRef{Code: "100"}
	src := new(MockSource)
	src.On("Products", mock.Anything, ref).Return([]Product{
		{Code: "P1", Label: "Filet de porc", Price: decimal.RequireFromString("8.50")},
		{Code: "P2", Label: "Lait entier", Price: decimal.RequireFromString("1.10")},
	}, nil).Once()

	cache, mr := newCache(t, src)

	first, err := cache.Products(ctx, ref)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, mr.Exists(CATALOG_CACHE_PREFIX+"100"))

	second, err := cache.Products(ctx, ref)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.True(t, second[0].Price.Equal(first[0].Price))

	p, err := cache.Product(ctx, ref, "P2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Lait entier", p.Label)

	missing, err := cache.Product(ctx, ref, "P9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	src.AssertExpectations(t)
}

func TestCachedSourceExpiryAndInvalidate(t *testing.T) {
	ctx := context.Background()
	ref := ClientRef{Code: "100"}
	src := new(MockSource)
	src.On("Products", mock.Anything, ref).Return([]Product{{Code: "P1"}}, nil).Times(3)

	cache, mr := newCache(t, src)

	_, err := cache.Products(ctx, ref)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = cache.Products(ctx, ref)
	require.NoError(t, err)

	cache.Invalidate(ctx, ref)
	_, err = cache.Products(ctx, ref)
	require.NoError(t, err)

	src.AssertExpectations(t)
}

func TestCachedSourceFallsThroughWhenRedisIsDown(t *testing.T) {
	ctx := context.Background()
	ref := ClientRef{Code: "100"}
	src := new(MockSource)
	src.On("Products", mock.Anything, ref).Return([]Product{{Code: "P1"}}, nil)

	cache, mr := newCache(t, src)
	mr.Close()

	products, err := cache.Products(ctx, ref)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestInvalidateLogsWhenRedisIsDown(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	cache, mr := newCache(t, new(MockSource))
	mr.Close()

	assert.NotPanics(t, func() { cache.Invalidate(context.Background(), ClientRef{Code: "100"}) })
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "failed to invalidate catalog cache")
	assert.Contains(t, buf.String(), `"client":"100"`)
}

func TestProductsOrEmptyDegrades(t *testing.T) {
	ctx := context.Background()
	ref := ClientRef{Code: "100"}
	src := new(MockSource)
	src.On("Products", mock.Anything, ref).Return(nil, errors.New("connection refused"))

	assert.Empty(t, ProductsOrEmpty(ctx, src, ref))
	assert.Empty(t, ProductsOrEmpty(ctx, src, ClientRef{}))
}

type stubDirectory struct {
	client *Client
	err    error
}

func (d stubDirectory) Client(context.Context, ClientRef) (*Client, error) { return d.client, d.err }
func (d stubDirectory) Search(context.Context, string, int) ([]Client, error) {
	return nil, nil
}
func (d stubDirectory) CountClients(context.Context) (int, error) { return 0, nil }

func TestClientName(t *testing.T) {
	ctx := context.Background()
	ref := ClientRef{Code: "100"}

	name, ok := ClientName(ctx, stubDirectory{client: &Client{Name: "Boucherie Martin"}}, ref)
	assert.True(t, ok)
	assert.Equal(t, "Boucherie Martin", name)

	_, ok = ClientName(ctx, stubDirectory{}, ref)
	assert.False(t, ok)

	_, ok = ClientName(ctx, stubDirectory{err: errors.New("timeout")}, ref)
	assert.False(t, ok)

	_, ok = ClientName(ctx, nil, ref)
	assert.False(t, ok)
}
