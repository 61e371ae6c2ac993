package serviceconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pitabwire/admindash/internal/query"
	"github.com/pitabwire/admindash/model"
)

// DefaultConfigEndpoint is the backend path serving the config list.
const DefaultConfigEndpoint = "/api/service-config"

// configPageSize is large enough to read every config in one page.
const configPageSize = 1000

// HTTPSource reads configs from the backend through the shared query cache.
// The endpoint may answer with a bare array or a page object.
type HTTPSource struct {
	backend  query.Backend
	client   *query.Client
	endpoint string
	policy   query.Policy
	drop     DropFunc
}

// NewHTTPSource creates a source for endpoint, or DefaultConfigEndpoint when
// empty.
func NewHTTPSource(backend query.Backend, client *query.Client, endpoint string, policy query.Policy) *HTTPSource {
	if endpoint == "" {
		endpoint = DefaultConfigEndpoint
	}
	if client == nil {
		client = query.NewClient()
	}
	return &HTTPSource{backend: backend, client: client, endpoint: endpoint, policy: policy}
}

// Key is the cache key of the config list.
func (s *HTTPSource) Key() string {
	return query.Key(s.endpoint, 0, configPageSize, nil, query.Sort{})
}

// Load fetches the config list.
func (s *HTTPSource) Load(ctx context.Context) ([]model.ServiceConfig, error) {
	params := url.Values{"page": {"0"}, "size": {strconv.Itoa(configPageSize)}}
	resp, err := s.client.Fetch(ctx, query.Request{
		Key:    s.Key(),
		Scope:  s.endpoint,
		Policy: s.policy,
		Load: func(ctx context.Context) (json.RawMessage, error) {
			return s.backend.Do(ctx, http.MethodGet, s.endpoint, params, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	pg, err := query.DecodePage(resp.Data, 0, configPageSize)
	if err != nil {
		return nil, err
	}

	// Content holds generic JSON values; round-trip each into a typed config
	// so one malformed entry only costs itself.
	cfgs := make([]model.ServiceConfig, 0, len(pg.Content))
	for i, item := range pg.Content {
		cfg, err := decodeJSONConfig(item)
		if err != nil {
			reportDrop(s.drop, fmt.Sprintf("%s[%d]", s.endpoint, i), err)
			continue
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// OnDrop sets the function receiving list entries that fail to decode.
func (s *HTTPSource) OnDrop(fn DropFunc) { s.drop = fn }

func decodeJSONConfig(item any) (model.ServiceConfig, error) {
	var cfg model.ServiceConfig
	raw, err := json.Marshal(item)
	if err != nil {
		return cfg, fmt.Errorf("re-encoding service config: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding service config: %w", err)
	}
	return cfg, nil
}

// Invalidate evicts the cached list so the next Load refetches.
func (s *HTTPSource) Invalidate() {
	s.client.Evict(s.Key())
}
