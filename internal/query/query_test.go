package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pitabwire/admindash/model"
)

// recordingBackend answers every call with body and records the params.
type recordingBackend struct {
	mu     sync.Mutex
	body   string
	err    error
	params []url.Values
	paths  []string
}

func (b *recordingBackend) Do(_ context.Context, _ string, path string, params url.Values, _ any) (json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.params = append(b.params, params)
	b.paths = append(b.paths, path)
	if b.err != nil {
		return nil, b.err
	}
	return json.RawMessage(b.body), nil
}

func (b *recordingBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.params)
}

func (b *recordingBackend) last() url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.params[len(b.params)-1]
}

const pageBody = `{"content":[{"id":"1"}],"totalElements":41,"totalPages":5,"number":0,"size":10}`

func newTestQuery(t *testing.T, b Backend, opts Options) *Query {
	t.Helper()
	if opts.Endpoint == "" {
		opts.Endpoint = "/api/users"
	}
	q, err := New(context.Background(), b, NewClient(), opts)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	return q
}

func TestQuery_fetchesPage(t *testing.T) {
	b := &recordingBackend{body: pageBody}
	q := newTestQuery(t, b, Options{IsPaginated: true, InitialPageSize: 10, InitialFilters: map[string]any{"role": "admin", "search": ""}})

	res := q.Fetch(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, 41, res.TotalItems())
	assert.Equal(t, 5, res.TotalPages())
	assert.Equal(t, res, q.Current())

	p := b.last()
	assert.Equal(t, "0", p.Get("page"))
	assert.Equal(t, "10", p.Get("size"))
	assert.Equal(t, "admin", p.Get("role"))
	assert.False(t, p.Has("search"), "empty filters are not sent")
}

func TestQuery_setFiltersResetsPage(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &recordingBackend{body: pageBody}
	q, err := New(context.Background(), b, NewClient(), Options{Endpoint: "/api/users", IsPaginated: true, DebounceMs: 20})
	require.NoError(t, err)
	defer q.Close()

	q.SetPage(3)
	before := q.Key()
	q.SetFilters(map[string]any{"search": "x"})

	assert.Equal(t, 0, q.Page())
	require.Eventually(t, func() bool { return b.calls() == 1 }, time.Second, 5*time.Millisecond)
	assert.NotEqual(t, before, q.Key())
	assert.Equal(t, "x", q.AppliedFilters()["search"])
	assert.Equal(t, "0", b.last().Get("page"))
}

func TestQuery_debouncesFilterBursts(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &recordingBackend{body: `[]`}
	var (
		mu      sync.Mutex
		updates []Result
	)
	q, err := New(context.Background(), b, NewClient(), Options{
		Endpoint:   "/api/users",
		DebounceMs: 300,
		OnUpdate: func(r Result) {
			mu.Lock()
			updates = append(updates, r)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer q.Close()

	q.SetFilters(map[string]any{"search": "a"})
	time.Sleep(50 * time.Millisecond)
	q.SetFilters(map[string]any{"search": "ab"})
	time.Sleep(50 * time.Millisecond)
	q.SetFilters(map[string]any{"search": "abc"})

	assert.Equal(t, 0, b.calls(), "nothing fires inside the debounce window")
	require.Eventually(t, func() bool { return b.calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(400 * time.Millisecond)

	assert.Equal(t, 1, b.calls())
	assert.Equal(t, "abc", b.last().Get("search"))
	mu.Lock()
	assert.Len(t, updates, 1)
	mu.Unlock()
}

func TestQuery_forceRefreshFetchesEveryTime(t *testing.T) {
	b := &recordingBackend{body: pageBody}
	q := newTestQuery(t, b, Options{UseCache: true, StaleTime: time.Hour})

	q.Fetch(context.Background())
	q.Fetch(context.Background())
	assert.Equal(t, 1, b.calls(), "second fetch is served from cache")

	q.ForceRefresh(context.Background())
	q.ForceRefresh(context.Background())
	assert.Equal(t, 3, b.calls())
	assert.Equal(t, b.params[1].Encode(), b.params[2].Encode())
}

func TestQuery_refreshKeepsDataWhenRefetchFails(t *testing.T) {
	b := &recordingBackend{body: pageBody}
	q := newTestQuery(t, b, Options{UseCache: true, StaleTime: time.Hour})
	require.NoError(t, q.Fetch(context.Background()).Err)

	b.mu.Lock()
	b.err = errors.New("down")
	b.mu.Unlock()

	res := q.Refresh(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Stale)
	assert.Equal(t, 41, res.TotalItems())

	res = q.ForceRefresh(context.Background())
	assert.True(t, res.IsError())
}

func TestQuery_wrapsArrayResponse(t *testing.T) {
	b := &recordingBackend{body: `[{"id":"1"},{"id":"2"},{"id":"3"}]`}
	q := newTestQuery(t, b, Options{})

	res := q.Fetch(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, model.Page{
		Content:       []any{map[string]any{"id": "1"}, map[string]any{"id": "2"}, map[string]any{"id": "3"}},
		TotalElements: 3,
		TotalPages:    1,
		Number:        0,
		Size:          3,
	}, res.Page)
	assert.False(t, b.last().Has("page"), "unpaginated queries send no page params")
}

func TestQuery_mockDataOnFailure(t *testing.T) {
	b := &recordingBackend{err: model.NewBackendUnavailableError()}
	q := newTestQuery(t, b, Options{MockData: []map[string]any{{"id": "m1"}}})

	res := q.Fetch(context.Background())
	require.NoError(t, res.Err)
	assert.True(t, res.Mock)
	assert.Equal(t, 1, res.TotalItems())

	q2 := newTestQuery(t, b, Options{})
	assert.True(t, q2.Fetch(context.Background()).IsError())
}

func TestQuery_persistsFilters(t *testing.T) {
	store := NewMemoryFilterStore()
	b := &recordingBackend{body: `[]`}
	opts := Options{Endpoint: "/api/users", PersistFilters: true, FilterStore: store, DebounceMs: 10}

	q := newTestQuery(t, b, opts)
	q.SetFilters(map[string]any{"role": "admin", "search": ""})
	require.Eventually(t, func() bool { return b.calls() == 1 }, time.Second, 5*time.Millisecond)

	saved, ok, err := store.Load(context.Background(), "filters--api-users")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"role": "admin"}, saved)

	reloaded := newTestQuery(t, b, opts)
	assert.Equal(t, "admin", reloaded.Filters()["role"])

	reloaded.ResetFilters()
	assert.Empty(t, reloaded.Filters())
	assert.Equal(t, 0, store.Len())
}

func TestQuery_setSearchKeepsOtherFilters(t *testing.T) {
	q := newTestQuery(t, &recordingBackend{body: `[]`}, Options{InitialFilters: map[string]any{"role": "admin"}})
	q.SetSearch("ada")
	assert.Equal(t, map[string]any{"role": "admin", "search": "ada"}, q.Filters())
}

func TestQuery_pageSizeAndSortResetPage(t *testing.T) {
	b := &recordingBackend{body: pageBody}
	q := newTestQuery(t, b, Options{IsPaginated: true})

	q.SetPage(4)
	q.SetPageSize(25)
	assert.Equal(t, 0, q.Page())
	assert.Equal(t, 25, q.PageSize())

	q.SetPage(2)
	q.SetSort(Sort{By: "name", Order: SortDesc})
	assert.Equal(t, 0, q.Page())

	q.Fetch(context.Background())
	assert.Equal(t, "name,desc", b.last().Get("sort"))
}

// slowBackend blocks until released so the query parameters can change
// while a fetch is in flight.
type slowBackend struct {
	started chan struct{}
	release chan struct{}
}

func (b *slowBackend) Do(context.Context, string, string, url.Values, any) (json.RawMessage, error) {
	b.started <- struct{}{}
	<-b.release
	return json.RawMessage(pageBody), nil
}

func TestQuery_discardsSupersededResult(t *testing.T) {
	b := &slowBackend{started: make(chan struct{}, 1), release: make(chan struct{})}
	q := newTestQuery(t, b, Options{IsPaginated: true})

	done := make(chan Result, 1)
	go func() { done <- q.Fetch(context.Background()) }()
	<-b.started
	q.SetPage(1)
	close(b.release)

	res := <-done
	require.NoError(t, res.Err)
	assert.Empty(t, q.Current().Key, "a result for an abandoned key must not become current")
}

func TestDecodePage_rejectsScalars(t *testing.T) {
	_, err := DecodePage(json.RawMessage(`42`), 0, 10)
	assert.ErrorIs(t, err, ErrUnexpectedShape)

	pg, err := DecodePage(json.RawMessage(`null`), 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, pg.Number)
	assert.Empty(t, pg.Content)
}

type blockingBackend struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingBackend) Do(ctx context.Context, _ string, _ string, _ url.Values, _ any) (json.RawMessage, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return json.RawMessage(`[]`), nil
	}
}

func TestQuery_closeAbortsRunningFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &blockingBackend{started: make(chan struct{})}
	q, err := New(context.Background(), b, NewClient(), Options{Endpoint: "/api/users", DebounceMs: 10})
	require.NoError(t, err)

	q.SetFilters(map[string]any{"search": "slow"})
	select {
	case <-b.started:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced fetch never started")
	}

	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close waited for the backend round-trip")
	}
}
