package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pitabwire/admindash/model"
)

// Mutations performs record reads and writes for one service using its
// derived operations. Writes invalidate every cached list and item of the
// service.
type Mutations struct {
	backend Backend
	client  *Client
	svc     model.ParsedServiceConfig
	policy  Policy
}

// NewMutations creates the record operations for svc.
func NewMutations(backend Backend, client *Client, svc model.ParsedServiceConfig, policy Policy) *Mutations {
	if client == nil {
		client = NewClient()
	}
	return &Mutations{backend: backend, client: client, svc: svc, policy: policy}
}

// QueryKey is the cache scope shared by the service's lists and items.
func (m *Mutations) QueryKey() string {
	return ListEndpoint(m.svc)
}

// ListEndpoint is the resolved list path of svc, used as its query key.
func ListEndpoint(svc model.ParsedServiceConfig) string {
	op, ok := svc.Operation(model.EndpointList)
	if !ok {
		return ""
	}
	return ResolveURL(svc.API.BaseURL, op.Path, nil)
}

// Get reads one record through the cache.
func (m *Mutations) Get(ctx context.Context, id string) (map[string]any, error) {
	op, err := m.operation(model.EndpointGet)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Fetch(ctx, Request{
		Key:    ItemKey(m.QueryKey(), id),
		Scope:  m.QueryKey(),
		Policy: m.policy,
		Load: func(ctx context.Context) (json.RawMessage, error) {
			return m.backend.Do(ctx, op.Method, m.path(op, id), nil, nil)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeRecord(resp.Data)
}

// Create posts a new record.
func (m *Mutations) Create(ctx context.Context, values map[string]any) (map[string]any, error) {
	return m.Invoke(ctx, model.EndpointCreate, "", values)
}

// Update replaces record id.
func (m *Mutations) Update(ctx context.Context, id string, values map[string]any) (map[string]any, error) {
	return m.Invoke(ctx, model.EndpointUpdate, id, values)
}

// Delete removes record id.
func (m *Mutations) Delete(ctx context.Context, id string) error {
	if _, err := m.Invoke(ctx, model.EndpointDelete, id, nil); err != nil {
		return err
	}
	m.client.Evict(ItemKey(m.QueryKey(), id))
	return nil
}

// Invoke runs any named operation of the service, including extras. The
// body is sent only for operations with a JSON body type. Any non-GET
// operation invalidates the service's cache scope.
func (m *Mutations) Invoke(ctx context.Context, name, id string, body map[string]any) (map[string]any, error) {
	op, err := m.operation(name)
	if err != nil {
		return nil, err
	}
	var payload any
	if op.BodyType == model.BodyJSON && body != nil {
		payload = body
	}
	raw, err := m.backend.Do(ctx, op.Method, m.path(op, id), nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", m.svc.Code, name, err)
	}
	if op.Method != http.MethodGet {
		m.client.InvalidateScope(m.QueryKey())
	}
	return decodeRecord(raw)
}

func (m *Mutations) operation(name string) (model.Operation, error) {
	op, ok := m.svc.Operation(name)
	if !ok {
		return model.Operation{}, model.NewNotFoundError(
			fmt.Sprintf("service %q has no %s operation", m.svc.Code, name),
		)
	}
	return op, nil
}

func (m *Mutations) path(op model.Operation, id string) string {
	return ResolveURL(m.svc.API.BaseURL, ExpandPath(op.Path, id), nil)
}

// decodeRecord reads an object response. Empty or null bodies yield nil.
func decodeRecord(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return out, nil
}
