// Package kto wraps the tourism provider's listing endpoints: area-based
// listings with transparent pagination and the modification-window variant
// incremental sync reads.
package kto

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/weatherflick/weather-flick-batch/internal/adapter/api"
	"github.com/weatherflick/weather-flick-batch/internal/catalog"
	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

const (
	// EndpointAreaBased lists entities of one content type in one area.
	EndpointAreaBased = "areaBasedList2"
	// EndpointAreaBasedSync lists entities changed within a modification
	// window; incremental sync reads it.
	EndpointAreaBasedSync = "areaBasedSyncList2"
	// EndpointAreaCodes lists the area code table; the cheapest call the
	// provider answers, used to probe sidelined keys.
	EndpointAreaCodes = "areaCode2"

	defaultPageSize = 100
	// maxPages stops a listing whose totalCount never converges.
	maxPages = 2000
)

// ProbeRequest returns a minimal valid request whose only purpose is to see
// whether a key is accepted again.
func ProbeRequest() (endpoint string, params map[string]string) {
	return EndpointAreaCodes, map[string]string{
		"numOfRows": "1",
		"pageNo":    "1",
	}
}

// Caller is the executor surface the client needs.
type Caller interface {
	Call(ctx domain.Context, provider domain.Provider, endpoint string, params map[string]string, opts api.CallOptions) (*api.Response, error)
}

// Client fetches tourism listings page by page.
type Client struct {
	caller   Caller
	archive  domain.RawArchive
	pageSize int
}

// New builds a client. pageSize <= 0 selects the provider default of 100.
func New(caller Caller, archive domain.RawArchive, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{caller: caller, archive: archive, pageSize: pageSize}
}

// ListQuery addresses one (content type, area) listing.
type ListQuery struct {
	ContentType catalog.ContentType
	AreaCode    int
	// ModifiedSince (YYYYMMDD) switches to the sync endpoint and restricts
	// the listing to entities modified on or after that day.
	ModifiedSince string
	// SyncBatchID threads the owning job run through the raw metadata rows.
	SyncBatchID string
}

// Pages returns an iterator over the listing's result pages. Every fetched
// page is archived with its request context before the next page is issued.
func (c *Client) Pages(ctx domain.Context, q ListQuery) *PageIterator {
	return &PageIterator{c: c, ctx: ctx, q: q, pageNo: 1}
}

// PageIterator walks a paged listing. Next reports whether a page is
// available; a false Next with a nil Err is a clean end of the listing.
type PageIterator struct {
	c      *Client
	ctx    domain.Context
	q      ListQuery
	pageNo int
	seen   int
	total  int
	page   domain.RawPage
	err    error
	done   bool
}

// Next fetches the next page.
func (it *PageIterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}

	endpoint := EndpointAreaBased
	params := map[string]string{
		"contentTypeId": strconv.Itoa(int(it.q.ContentType)),
		"areaCode":      strconv.Itoa(it.q.AreaCode),
		"numOfRows":     strconv.Itoa(it.c.pageSize),
		"pageNo":        strconv.Itoa(it.pageNo),
	}
	if it.q.ModifiedSince != "" {
		endpoint = EndpointAreaBasedSync
		params["modifiedtime"] = it.q.ModifiedSince
	}

	resp, err := it.c.caller.Call(it.ctx, domain.ProviderKTO, endpoint, params, api.CallOptions{StoreRaw: true})
	if err != nil {
		it.err = err
		return false
	}

	if it.c.archive != nil && resp.RawID != "" {
		// The raw row already exists; a failed annotation must not stop the
		// harvest.
		if err := it.c.archive.StoreKTOMeta(it.ctx, domain.KTORawMeta{
			RawID:         resp.RawID,
			ContentTypeID: int(it.q.ContentType),
			AreaCode:      it.q.AreaCode,
			PageNo:        it.pageNo,
			NumOfRows:     it.c.pageSize,
			SyncBatchID:   it.q.SyncBatchID,
		}); err != nil {
			slog.Warn("kto raw meta write failed",
				slog.String("raw_id", resp.RawID),
				slog.Int("page_no", it.pageNo),
				slog.Any("error", err))
		}
	}

	if len(resp.Items) == 0 {
		it.done = true
		return false
	}

	it.page = domain.RawPage{
		Provider:      domain.ProviderKTO,
		Endpoint:      endpoint,
		RawID:         resp.RawID,
		Items:         resp.Items,
		PageNo:        it.pageNo,
		TotalCount:    resp.TotalCount,
		FetchedAt:     time.Now(),
		ContentTypeID: int(it.q.ContentType),
		AreaCode:      it.q.AreaCode,
	}
	it.seen += len(resp.Items)
	it.total = resp.TotalCount
	it.pageNo++

	if (it.total > 0 && it.seen >= it.total) || it.pageNo > maxPages {
		it.done = true
	}
	return true
}

// Page returns the page fetched by the last true Next.
func (it *PageIterator) Page() domain.RawPage { return it.page }

// Err returns the error that stopped iteration, nil on a clean end.
func (it *PageIterator) Err() error { return it.err }
