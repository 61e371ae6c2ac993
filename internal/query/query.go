package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/admindash/model"
)

// DefaultPageSize is used when Options.InitialPageSize is not set.
const DefaultPageSize = 10

// ErrUnexpectedShape is returned when a list response is neither an array
// nor a page object.
var ErrUnexpectedShape = errors.New("query: unexpected response shape")

// Options configures a Query.
type Options struct {
	Endpoint        string
	QueryKey        string // defaults to Endpoint
	InitialPage     int
	InitialPageSize int
	InitialFilters  map[string]any
	InitialSort     Sort

	// PersistFilters stores applied filters in FilterStore under PersistKey,
	// or under PersistKey(Endpoint) when PersistKey is empty.
	PersistFilters bool
	PersistKey     string
	FilterStore    FilterStore

	DebounceMs int

	// IsPaginated sends page and size parameters. Array responses are wrapped
	// into a single page either way.
	IsPaginated bool

	UseCache  bool
	CacheTime time.Duration
	StaleTime time.Duration

	// MockData replaces the response when the fetch fails. It is meant for
	// local development.
	MockData any

	// OnUpdate receives the result of fetches started by debounced filter
	// changes.
	OnUpdate func(Result)
	Logger   *zap.Logger
}

// Result is the outcome of one fetch.
type Result struct {
	Page      model.Page
	Key       string
	Err       error
	Stale     bool
	Mock      bool
	Cached    bool
	FetchedAt time.Time
}

// IsError reports whether the fetch failed.
func (r Result) IsError() bool { return r.Err != nil }

// TotalItems is the total element count across all pages.
func (r Result) TotalItems() int { return r.Page.TotalElements }

// TotalPages is the page count.
func (r Result) TotalPages() int { return r.Page.TotalPages }

// Query holds the page, size, sort and filter state of one list view and
// fetches through the shared Client. Filter changes are debounced; page and
// size changes apply immediately. It is safe for concurrent use.
type Query struct {
	opts      Options
	backend   Backend
	client    *Client
	logger    *zap.Logger
	debouncer *Debouncer
	persistAs string

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	page     int
	pageSize int
	filters  map[string]any // latest input
	applied  map[string]any // filters the key is built from
	sort     Sort
	current  Result
	loading  bool
}

// New creates a Query. Persisted filters, when enabled and present, replace
// InitialFilters. Background work stops when ctx is done or Close is called.
func New(ctx context.Context, backend Backend, client *Client, opts Options) (*Query, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("query: endpoint is required")
	}
	if opts.QueryKey == "" {
		opts.QueryKey = opts.Endpoint
	}
	if opts.InitialPageSize <= 0 {
		opts.InitialPageSize = DefaultPageSize
	}
	if opts.InitialPage < 0 {
		opts.InitialPage = 0
	}
	if client == nil {
		client = NewClient()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Query{
		opts:      opts,
		backend:   backend,
		client:    client,
		logger:    logger.With(zap.String("query", opts.QueryKey)),
		debouncer: NewDebouncer(time.Duration(opts.DebounceMs) * time.Millisecond),
		page:      opts.InitialPage,
		pageSize:  opts.InitialPageSize,
		filters:   cloneFilters(opts.InitialFilters),
		sort:      opts.InitialSort,
	}
	if opts.PersistFilters && opts.FilterStore != nil {
		q.persistAs = opts.PersistKey
		if q.persistAs == "" {
			q.persistAs = PersistKey(opts.Endpoint)
		}
		saved, ok, err := opts.FilterStore.Load(ctx, q.persistAs)
		if err != nil {
			q.logger.Warn("loading persisted filters failed", zap.Error(err))
		} else if ok {
			q.filters = saved
		}
	}
	q.applied = cloneFilters(q.filters)
	q.ctx, q.cancel = context.WithCancel(ctx)
	return q, nil
}

// Key returns the cache key of the current parameters.
func (q *Query) Key() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.keyLocked()
}

func (q *Query) keyLocked() string {
	return Key(q.opts.QueryKey, q.page, q.pageSize, q.applied, q.sort)
}

// Page returns the zero-based page index.
func (q *Query) Page() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.page
}

// PageSize returns the page size.
func (q *Query) PageSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pageSize
}

// Filters returns the latest filters set, applied or still debouncing.
func (q *Query) Filters() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneFilters(q.filters)
}

// AppliedFilters returns the filters the current key is built from.
func (q *Query) AppliedFilters() map[string]any {
	q.mu.Lock()
	defer q.mu.Unlock()
	return cloneFilters(q.applied)
}

// Sort returns the current ordering.
func (q *Query) Sort() Sort {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sort
}

// Loading reports whether a fetch is in flight.
func (q *Query) Loading() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.loading
}

// Current returns the last result applied to this query's state.
func (q *Query) Current() Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// SetPage moves to page p. Negative pages are clamped to 0.
func (q *Query) SetPage(p int) {
	q.mu.Lock()
	q.page = max(p, 0)
	q.mu.Unlock()
}

// SetPageSize changes the page size and returns to the first page.
func (q *Query) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	q.pageSize = n
	q.page = 0
	q.mu.Unlock()
}

// SetSort changes the ordering and returns to the first page.
func (q *Query) SetSort(s Sort) {
	q.mu.Lock()
	q.sort = s
	q.page = 0
	q.mu.Unlock()
}

// SetFilters replaces the filters and returns to the first page. The new
// filters take effect after the debounce interval; only the last of several
// quick calls is applied and fetched.
func (q *Query) SetFilters(filters map[string]any) {
	q.mu.Lock()
	q.filters = cloneFilters(filters)
	q.page = 0
	q.mu.Unlock()
	q.debouncer.Trigger(q.commit)
}

// SetSearch sets the "search" filter, keeping the others.
func (q *Query) SetSearch(term string) {
	q.mu.Lock()
	next := cloneFilters(q.filters)
	q.mu.Unlock()
	next["search"] = term
	q.SetFilters(next)
}

// ResetFilters restores InitialFilters immediately, dropping any pending
// change and any persisted filters.
func (q *Query) ResetFilters() {
	q.debouncer.Cancel()
	q.mu.Lock()
	q.filters = cloneFilters(q.opts.InitialFilters)
	q.applied = cloneFilters(q.filters)
	q.page = 0
	q.mu.Unlock()
	if q.persistAs != "" {
		if err := q.opts.FilterStore.Delete(q.ctx, q.persistAs); err != nil {
			q.logger.Warn("clearing persisted filters failed", zap.Error(err))
		}
	}
}

// commit applies the latest filters, persists them and fetches.
func (q *Query) commit() {
	q.mu.Lock()
	q.applied = cloneFilters(q.filters)
	applied := cloneFilters(q.applied)
	q.mu.Unlock()

	if q.persistAs != "" {
		if err := q.opts.FilterStore.Save(q.ctx, q.persistAs, CleanFilters(applied)); err != nil {
			q.logger.Warn("persisting filters failed", zap.Error(err))
		}
	}

	res := q.Fetch(q.ctx)
	if q.opts.OnUpdate != nil {
		q.opts.OnUpdate(res)
	}
}

// Fetch loads the current parameters, through the cache when UseCache is
// set. A result whose key no longer matches the query's parameters when it
// arrives is returned but not applied to Current.
func (q *Query) Fetch(ctx context.Context) Result {
	q.mu.Lock()
	key := q.keyLocked()
	params := q.paramsLocked()
	page, size := q.page, q.pageSize
	q.loading = true
	q.mu.Unlock()

	res := q.load(ctx, key, params, page, size)

	q.mu.Lock()
	q.loading = false
	if q.keyLocked() == key {
		q.current = res
	} else {
		q.logger.Debug("discarding superseded result", zap.String("key", key))
	}
	q.mu.Unlock()
	return res
}

// Refresh marks the cached response stale and refetches. If the refetch
// fails the old data is kept.
func (q *Query) Refresh(ctx context.Context) Result {
	if q.opts.UseCache {
		q.client.Invalidate(q.Key())
	}
	return q.Fetch(ctx)
}

// ForceRefresh removes the cached response and refetches from scratch.
func (q *Query) ForceRefresh(ctx context.Context) Result {
	if q.opts.UseCache {
		q.client.Evict(q.Key())
	}
	return q.Fetch(ctx)
}

// Close cancels pending filter changes, aborts a running debounced fetch
// and waits for it to return.
func (q *Query) Close() {
	q.cancel()
	q.debouncer.Stop()
}

func (q *Query) load(ctx context.Context, key string, params url.Values, page, size int) Result {
	loadFn := func(ctx context.Context) (json.RawMessage, error) {
		return q.backend.Do(ctx, http.MethodGet, q.opts.Endpoint, params, nil)
	}

	var (
		resp Response
		err  error
	)
	if q.opts.UseCache {
		resp, err = q.client.Fetch(ctx, Request{
			Key:    key,
			Scope:  q.opts.QueryKey,
			Policy: Policy{StaleTime: q.opts.StaleTime, CacheTime: q.opts.CacheTime},
			Load:   loadFn,
		})
	} else {
		resp.Data, err = loadFn(ctx)
		resp.FetchedAt = time.Now()
	}

	var pg model.Page
	if err == nil {
		pg, err = DecodePage(resp.Data, page, size)
	}
	if err != nil {
		if q.opts.MockData != nil {
			q.logger.Warn("fetch failed, serving mock data", zap.Error(err))
			if mock, merr := mockPage(q.opts.MockData, page, size); merr == nil {
				return Result{Page: mock, Key: key, Mock: true, FetchedAt: time.Now()}
			}
		}
		return Result{Key: key, Err: err}
	}
	return Result{
		Page:      pg,
		Key:       key,
		Stale:     resp.Stale,
		Cached:    resp.Cached,
		FetchedAt: resp.FetchedAt,
	}
}

func (q *Query) paramsLocked() url.Values {
	params := url.Values{}
	if q.opts.IsPaginated {
		params.Set("page", fmt.Sprint(q.page))
		params.Set("size", fmt.Sprint(q.pageSize))
	}
	if q.sort.By != "" {
		order := q.sort.Order
		if order == "" {
			order = SortAsc
		}
		params.Set("sort", q.sort.By+","+order)
	}
	for k, v := range CleanFilters(q.applied) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				params.Add(k, fmt.Sprint(item))
			}
		case []string:
			for _, item := range t {
				params.Add(k, item)
			}
		default:
			params.Set(k, fmt.Sprint(t))
		}
	}
	return params
}

// DecodePage reads a list response. A bare array becomes a single page
// holding every element; null becomes an empty page.
func DecodePage(raw json.RawMessage, page, size int) (model.Page, error) {
	trimmed := bytes.TrimSpace(raw)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		return model.Page{Content: []any{}, Number: page, Size: size}, nil
	case trimmed[0] == '[':
		var items []any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return model.Page{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		return model.Page{
			Content:       items,
			TotalElements: len(items),
			TotalPages:    1,
			Number:        0,
			Size:          len(items),
		}, nil
	case trimmed[0] == '{':
		var pg model.Page
		if err := json.Unmarshal(trimmed, &pg); err != nil {
			return model.Page{}, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		if pg.Content == nil {
			pg.Content = []any{}
		}
		return pg, nil
	}
	return model.Page{}, ErrUnexpectedShape
}

func mockPage(mock any, page, size int) (model.Page, error) {
	if pg, ok := mock.(model.Page); ok {
		return pg, nil
	}
	raw, err := json.Marshal(mock)
	if err != nil {
		return model.Page{}, err
	}
	return DecodePage(raw, page, size)
}

func cloneFilters(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
