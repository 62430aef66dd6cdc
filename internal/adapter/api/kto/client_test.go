package kto

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api"
	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

type fakeCaller struct {
	mu        sync.Mutex
	params    []map[string]string
	endpoints []string
	respond   func(pageNo int) (*api.Response, error)
}

func (f *fakeCaller) Call(_ domain.Context, _ domain.Provider, endpoint string, params map[string]string, _ api.CallOptions) (*api.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make(map[string]string, len(params))
	for k, v := range params {
		cp[k] = v
	}
	f.params = append(f.params, cp)
	f.endpoints = append(f.endpoints, endpoint)
	page, _ := strconv.Atoi(params["pageNo"])
	return f.respond(page)
}

type metaStub struct {
	mu   sync.Mutex
	kto  []domain.KTORawMeta
	kma  []domain.KMARawMeta
	next int
}

func (m *metaStub) Store(_ domain.Context, _ domain.RawRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return fmt.Sprintf("raw-%d", m.next), nil
}

func (m *metaStub) StoreKTOMeta(_ domain.Context, meta domain.KTORawMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kto = append(m.kto, meta)
	return nil
}

func (m *metaStub) StoreKMAMeta(_ domain.Context, meta domain.KMARawMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kma = append(m.kma, meta)
	return nil
}

func (m *metaStub) PruneExpired(domain.Context, time.Time) (int64, error) { return 0, nil }

func pageOf(n, size, total int) *api.Response {
	remaining := total - (n-1)*size
	if remaining < 0 {
		remaining = 0
	}
	if remaining > size {
		remaining = size
	}
	items := make([]map[string]any, remaining)
	for i := range items {
		items[i] = map[string]any{"contentid": fmt.Sprintf("%d", (n-1)*size+i+1)}
	}
	return &api.Response{Items: items, TotalCount: total, PageNo: n, RawID: fmt.Sprintf("raw-%d", n)}
}

func TestPages_WalksWholeListing(t *testing.T) {
	caller := &fakeCaller{respond: func(n int) (*api.Response, error) { return pageOf(n, 2, 5), nil }}
	arch := &metaStub{}
	c := New(caller, arch, 2)

	it := c.Pages(context.Background(), ListQuery{
		ContentType: catalog.ContentTouristSpot,
		AreaCode:    1,
		SyncBatchID: "batch-1",
	})

	var pages []domain.RawPage
	for it.Next() {
		pages = append(pages, it.Page())
	}
	require.NoError(t, it.Err())
	require.Len(t, pages, 3)
	assert.Len(t, pages[0].Items, 2)
	assert.Len(t, pages[2].Items, 1)
	assert.Equal(t, "raw-1", pages[0].RawID)
	assert.Equal(t, 5, pages[0].TotalCount)
	assert.Equal(t, 12, pages[0].ContentTypeID)

	// The listing converged, so no fourth request went out.
	assert.Len(t, caller.params, 3)
	assert.Equal(t, EndpointAreaBased, caller.endpoints[0])

	require.Len(t, arch.kto, 3)
	assert.Equal(t, 1, arch.kto[0].PageNo)
	assert.Equal(t, 3, arch.kto[2].PageNo)
	assert.Equal(t, "batch-1", arch.kto[0].SyncBatchID)
	assert.Equal(t, "raw-2", arch.kto[1].RawID)
}

func TestPages_EmptyListing(t *testing.T) {
	caller := &fakeCaller{respond: func(n int) (*api.Response, error) {
		return &api.Response{TotalCount: 0, PageNo: n, RawID: "raw-1"}, nil
	}}
	c := New(caller, &metaStub{}, 100)

	it := c.Pages(context.Background(), ListQuery{ContentType: catalog.ContentShopping, AreaCode: 39})
	assert.False(t, it.Next())
	assert.NoError(t, it.Err())
	assert.Len(t, caller.params, 1)
}

func TestPages_StopsOnError(t *testing.T) {
	caller := &fakeCaller{respond: func(n int) (*api.Response, error) {
		if n == 2 {
			return nil, fmt.Errorf("boom: %w", domain.ErrTransient)
		}
		return pageOf(n, 2, 10), nil
	}}
	c := New(caller, &metaStub{}, 2)

	it := c.Pages(context.Background(), ListQuery{ContentType: catalog.ContentFestival, AreaCode: 6})
	require.True(t, it.Next())
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), domain.ErrTransient)
}

func TestPages_IncrementalUsesSyncEndpoint(t *testing.T) {
	caller := &fakeCaller{respond: func(n int) (*api.Response, error) { return pageOf(n, 100, 1), nil }}
	c := New(caller, &metaStub{}, 0)

	it := c.Pages(context.Background(), ListQuery{
		ContentType:   catalog.ContentRestaurant,
		AreaCode:      1,
		ModifiedSince: "20260820",
	})
	require.True(t, it.Next())
	assert.False(t, it.Next())
	require.NoError(t, it.Err())

	assert.Equal(t, EndpointAreaBasedSync, caller.endpoints[0])
	assert.Equal(t, "20260820", caller.params[0]["modifiedtime"])
	assert.Equal(t, "100", caller.params[0]["numOfRows"])
}
