// Package openapi indexes the OpenAPI documents of resource backends so
// service configs can be checked against the operations they call.
package openapi

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource names the OpenAPI document of one service.
type SpecSource struct {
	ServiceCode string `yaml:"service_code"`
	SpecPath    string `yaml:"spec_path"`
}

// IndexedOperation is one method+path of a service's document.
type IndexedOperation struct {
	ServiceCode  string
	OperationID  string
	Method       string
	PathTemplate string
	Parameters   []*openapi3.Parameter
	RequestBody  *openapi3.RequestBody
	ServerURL    string
}

// ValidationError describes a request body that does not match the schema.
type ValidationError struct {
	Field   string
	Message string
}

// Index holds operations keyed by service code, method and normalized path.
type Index struct {
	operations map[string]IndexedOperation
	byService  map[string][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]IndexedOperation),
		byService:  make(map[string][]string),
	}
}

var pathParam = regexp.MustCompile(`\{[^}/]*\}`)

// NormalizePath strips the query string and trailing slash and blanks out
// parameter names, so /users/{id} and /users/{userId} compare equal.
func NormalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return pathParam.ReplaceAllString(path, "{}")
}

func operationKey(code, method, path string) string {
	return code + " " + strings.ToUpper(method) + " " + NormalizePath(path)
}

// Load reads and indexes every source.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceCode, src.SpecPath, err)
		}
		if err := idx.add(src.ServiceCode, doc); err != nil {
			return err
		}
	}
	return nil
}

// LoadData indexes a document held in memory.
func (idx *Index) LoadData(code string, data []byte) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", code, err)
	}
	return idx.add(code, doc)
}

func (idx *Index) add(code string, doc *openapi3.T) error {
	if err := doc.Validate(context.Background()); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", code, err)
	}

	var server string
	if len(doc.Servers) > 0 {
		server = doc.Servers[0].URL
	}

	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			params := make([]*openapi3.Parameter, 0, len(item.Parameters)+len(op.Parameters))
			for _, ref := range item.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}
			for _, ref := range op.Parameters {
				if ref.Value != nil {
					params = append(params, ref.Value)
				}
			}

			var body *openapi3.RequestBody
			if op.RequestBody != nil {
				body = op.RequestBody.Value
			}

			key := operationKey(code, method, path)
			idx.operations[key] = IndexedOperation{
				ServiceCode:  code,
				OperationID:  op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: path,
				Parameters:   params,
				RequestBody:  body,
				ServerURL:    server,
			}
			idx.byService[code] = append(idx.byService[code], key)
		}
	}
	return nil
}

// HasService reports whether a document was indexed for code.
func (idx *Index) HasService(code string) bool {
	return len(idx.byService[code]) > 0
}

// Services returns the indexed service codes, sorted.
func (idx *Index) Services() []string {
	out := make([]string, 0, len(idx.byService))
	for code := range idx.byService {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Lookup finds the operation matching method and path. path may carry a
// base URL, which is ignored.
func (idx *Index) Lookup(code, method, path string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationKey(code, method, stripOrigin(path))]
	return op, ok
}

// ValidateRequest checks that body carries the fields the operation's JSON
// schema requires. Unknown operations and operations without a JSON body
// pass.
func (idx *Index) ValidateRequest(code, method, path string, body map[string]any) []ValidationError {
	op, ok := idx.Lookup(code, method, path)
	if !ok || op.RequestBody == nil {
		return nil
	}
	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	var errs []ValidationError
	for _, name := range ct.Schema.Value.Required {
		if v, exists := body[name]; !exists || v == nil {
			errs = append(errs, ValidationError{Field: name, Message: name + " is required"})
		}
	}
	return errs
}

func stripOrigin(path string) string {
	for _, scheme := range []string{"http://", "https://"} {
		if rest, ok := strings.CutPrefix(path, scheme); ok {
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				return rest[i:]
			}
			return "/"
		}
	}
	return path
}
