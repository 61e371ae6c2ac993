package serviceconfig

import (
	"fmt"
	"sort"

	"github.com/pitabwire/admindash/internal/openapi"
	"github.com/pitabwire/admindash/model"
)

// Mismatch is a derived operation absent from the service's OpenAPI
// document.
type Mismatch struct {
	Service   string
	Operation string
	Method    string
	Path      string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s.%s: %s %s not in OpenAPI document", m.Service, m.Operation, m.Method, m.Path)
}

// CheckOperations compares each config's operations with the index. Services
// without an indexed document are skipped. Mismatches are warnings; the
// configs stay usable.
func CheckOperations(configs []model.ParsedServiceConfig, idx *openapi.Index) []Mismatch {
	var out []Mismatch
	for _, cfg := range configs {
		if !idx.HasService(cfg.Code) {
			continue
		}
		names := make([]string, 0, len(cfg.Operations))
		for name := range cfg.Operations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			op := cfg.Operations[name]
			if _, ok := idx.Lookup(cfg.Code, op.Method, op.Path); !ok {
				out = append(out, Mismatch{Service: cfg.Code, Operation: name, Method: op.Method, Path: op.Path})
			}
		}
	}
	return out
}
