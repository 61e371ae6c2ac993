package query

import (
	"encoding/json"
	"strings"
)

// Sort orders.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Sort is a list ordering. The zero value means backend default order.
type Sort struct {
	By    string `json:"sortBy,omitempty"`
	Order string `json:"sortOrder,omitempty"`
}

// Key builds the cache key for one parameter combination. Filters are
// normalized first, so {"a": ""} and {} share a key.
func Key(queryKey string, page, pageSize int, filters map[string]any, sort Sort) string {
	parts := []any{queryKey, page, pageSize, CleanFilters(filters)}
	if sort.By != "" {
		parts = append(parts, sort)
	}
	// encoding/json sorts map keys, so equal filter sets encode identically.
	b, err := json.Marshal(parts)
	if err != nil {
		return queryKey
	}
	return string(b)
}

// ItemKey is the cache key of a single record. Lists and items of the same
// queryKey share a scope so a mutation can invalidate both.
func ItemKey(queryKey, id string) string {
	b, _ := json.Marshal([]string{queryKey, "item", id})
	return string(b)
}

// CleanFilters drops nil values, empty strings and empty slices.
func CleanFilters(filters map[string]any) map[string]any {
	out := make(map[string]any, len(filters))
	for k, v := range filters {
		if !isBlank(v) {
			out[k] = v
		}
	}
	return out
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

// PersistKey is the storage key for persisted filters of an endpoint.
func PersistKey(endpoint string) string {
	return "filters-" + strings.ReplaceAll(endpoint, "/", "-")
}
