package serviceconfig

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/admindash/model"
)

// Status is the load state of a Store.
type Status int

// Store load states.
const (
	StatusEmpty Status = iota
	StatusLoading
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "error"
	default:
		return "empty"
	}
}

// RefreshFunc reloads the store from its source.
type RefreshFunc func(ctx context.Context) error

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store's logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithParseFailures counts configs dropped by the parser.
func WithParseFailures(c prometheus.Counter) StoreOption {
	return func(s *Store) { s.parseFailures = c }
}

// WithRefresh sets the function RefreshConfigs delegates to.
func WithRefresh(fn RefreshFunc) StoreOption {
	return func(s *Store) { s.refresh = fn }
}

// Store is the registry of service configs. Every mutation re-parses the
// full raw list; configs that fail to parse are logged and dropped. It is
// safe for concurrent use.
type Store struct {
	logger        *zap.Logger
	parseFailures prometheus.Counter

	mu      sync.RWMutex
	status  Status
	lastErr error
	raw     []model.ServiceConfig
	parsed  map[string]model.ParsedServiceConfig
	refresh RefreshFunc

	subMu  sync.Mutex
	nextID int
	subs   map[int]func()
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logger: zap.NewNop(),
		parsed: map[string]model.ParsedServiceConfig{},
		subs:   map[int]func(){},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRefresh replaces the refresh function. Loaders install themselves here.
func (s *Store) SetRefresh(fn RefreshFunc) {
	s.mu.Lock()
	s.refresh = fn
	s.mu.Unlock()
}

// Status returns the load state and the last load error, if any.
func (s *Store) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.lastErr
}

// SetLoading marks the store as loading.
func (s *Store) SetLoading() {
	s.mu.Lock()
	s.status = StatusLoading
	s.mu.Unlock()
}

// SetError records a load failure. Previously parsed configs are kept.
func (s *Store) SetError(err error) {
	s.mu.Lock()
	s.status = StatusFailed
	s.lastErr = err
	s.mu.Unlock()
	s.logger.Error("service config load failed", zap.Error(err))
	s.notify()
}

// SetServiceConfigs replaces the raw list. An empty list installs the
// built-in fallback set.
func (s *Store) SetServiceConfigs(configs []model.ServiceConfig) {
	if len(configs) == 0 {
		s.logger.Warn("no service configs supplied, using built-in set")
		configs = Fallback()
	}
	s.mu.Lock()
	s.raw = append([]model.ServiceConfig(nil), configs...)
	s.reparseLocked()
	s.status = StatusReady
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

// AddServiceConfig appends a config, replacing any config with the same code.
func (s *Store) AddServiceConfig(cfg model.ServiceConfig) {
	s.mu.Lock()
	replaced := false
	for i := range s.raw {
		if s.raw[i].Code == cfg.Code {
			s.raw[i] = cfg
			replaced = true
			break
		}
	}
	if !replaced {
		s.raw = append(s.raw, cfg)
	}
	s.reparseLocked()
	s.mu.Unlock()
	s.notify()
}

// UpdateServiceConfig replaces the config with the given code. The code
// itself cannot change.
func (s *Store) UpdateServiceConfig(code string, cfg model.ServiceConfig) error {
	s.mu.Lock()
	idx := s.indexLocked(code)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("service %q: %w", code, model.NewNotFoundError("service config not found"))
	}
	cfg.Code = code
	s.raw[idx] = cfg
	s.reparseLocked()
	s.mu.Unlock()
	s.notify()
	return nil
}

// RemoveServiceConfig deletes the config with the given code and reports
// whether it existed.
func (s *Store) RemoveServiceConfig(code string) bool {
	s.mu.Lock()
	idx := s.indexLocked(code)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.raw = append(s.raw[:idx], s.raw[idx+1:]...)
	s.reparseLocked()
	s.mu.Unlock()
	s.notify()
	return true
}

// GetServiceConfig returns the parsed config for code, enabled or not.
func (s *Store) GetServiceConfig(code string) (model.ParsedServiceConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parsed[code]
	return p, ok
}

// GetAllServiceConfigs returns the enabled configs sorted by display order.
func (s *Store) GetAllServiceConfigs() []model.ParsedServiceConfig {
	return s.list(true)
}

// List returns every parsed config, including disabled ones, sorted by
// display order.
func (s *Store) List() []model.ParsedServiceConfig {
	return s.list(false)
}

// Raw returns a copy of the raw config list as last supplied.
func (s *Store) Raw() []model.ServiceConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ServiceConfig(nil), s.raw...)
}

// RefreshConfigs asks the configured source to reload. Without a source it
// is a no-op.
func (s *Store) RefreshConfigs(ctx context.Context) error {
	s.mu.RLock()
	fn := s.refresh
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func()) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store) list(enabledOnly bool) []model.ParsedServiceConfig {
	s.mu.RLock()
	out := make([]model.ParsedServiceConfig, 0, len(s.parsed))
	for _, p := range s.parsed {
		if enabledOnly && !p.Enabled {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func (s *Store) indexLocked(code string) int {
	for i := range s.raw {
		if s.raw[i].Code == code {
			return i
		}
	}
	return -1
}

func (s *Store) reparseLocked() {
	parsed := make(map[string]model.ParsedServiceConfig, len(s.raw))
	for _, cfg := range s.raw {
		p, err := parseSafe(cfg)
		if err != nil {
			s.Reject(cfg.Code, err)
			continue
		}
		parsed[p.Code] = p
	}
	s.parsed = parsed
}

// Reject logs a config that was dropped before reaching the registry and
// counts it as a parse failure. Sources report undecodable entries here.
func (s *Store) Reject(origin string, err error) {
	s.logger.Error("dropping service config", zap.String("origin", origin), zap.Error(err))
	if s.parseFailures != nil {
		s.parseFailures.Inc()
	}
}

func parseSafe(cfg model.ServiceConfig) (p model.ParsedServiceConfig, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrInvalidConfig, cfg.Code, r)
		}
	}()
	return Parse(cfg)
}

// HealthCheck reports an error until configs have been loaded, and after a
// failed load.
func (s *Store) HealthCheck(context.Context) error {
	status, err := s.Status()
	switch status {
	case StatusReady:
		return nil
	case StatusFailed:
		return err
	default:
		return fmt.Errorf("service configs %s", status)
	}
}
