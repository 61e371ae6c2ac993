// Package serviceconfig holds the registry of manageable resource types and
// the sources it is populated from.
package serviceconfig

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/pitabwire/admindash/internal/field"
	"github.com/pitabwire/admindash/model"
)

// ErrInvalidConfig marks a config that cannot be parsed.
var ErrInvalidConfig = errors.New("invalid service config")

var predicates *field.Predicates

func init() {
	p, err := field.NewPredicates()
	if err != nil {
		panic(err)
	}
	predicates = p
}

// Parse checks a raw config and derives its operations map.
func Parse(cfg model.ServiceConfig) (model.ParsedServiceConfig, error) {
	if strings.TrimSpace(cfg.Code) == "" {
		return model.ParsedServiceConfig{}, fmt.Errorf("%w: code is required", ErrInvalidConfig)
	}
	if err := checkFields(cfg.Fields); err != nil {
		return model.ParsedServiceConfig{}, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, cfg.Code, err)
	}
	return model.ParsedServiceConfig{
		ServiceConfig: cfg,
		Operations:    DeriveOperations(cfg.API.Endpoints),
	}, nil
}

func checkFields(fields []model.FieldDefinition) error {
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if f.Key == "" {
			return fmt.Errorf("fields[%d]: key is required", i)
		}
		if seen[f.Key] {
			return fmt.Errorf("fields[%d]: duplicate key %q", i, f.Key)
		}
		seen[f.Key] = true

		if !f.Type.Valid() {
			return fmt.Errorf("field %q: unknown type %q", f.Key, f.Type)
		}
		if f.Type == model.FieldSelect {
			if len(f.Options) == 0 {
				return fmt.Errorf("field %q: select requires options", f.Key)
			}
			if f.DefaultValue != nil && !f.HasOption(fmt.Sprint(f.DefaultValue)) {
				return fmt.Errorf("field %q: default %v is not an option", f.Key, f.DefaultValue)
			}
		}
		if v := f.Validation; v != nil {
			if v.Pattern != "" {
				if _, err := regexp.Compile(v.Pattern); err != nil {
					return fmt.Errorf("field %q: pattern: %v", f.Key, err)
				}
			}
			if v.Custom != "" {
				if _, err := predicates.Compile(v.Custom); err != nil {
					return fmt.Errorf("field %q: custom rule: %v", f.Key, err)
				}
			}
		}
	}
	return nil
}

// DeriveOperations translates named endpoint paths into operations. Blank
// endpoints are omitted.
func DeriveOperations(endpoints map[string]string) map[string]model.Operation {
	ops := make(map[string]model.Operation, len(endpoints))
	for name, path := range endpoints {
		if strings.TrimSpace(path) == "" {
			continue
		}
		method, body := operationShape(name)
		ops[name] = model.Operation{Method: method, Path: path, BodyType: body}
	}
	return ops
}

func operationShape(name string) (method, body string) {
	switch name {
	case model.EndpointList, model.EndpointGet:
		return http.MethodGet, model.BodyNone
	case model.EndpointCreate:
		return http.MethodPost, model.BodyJSON
	case model.EndpointUpdate:
		return http.MethodPut, model.BodyJSON
	case model.EndpointDelete:
		return http.MethodDelete, model.BodyNone
	}

	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "create"), strings.HasPrefix(n, "add"):
		return http.MethodPost, model.BodyJSON
	case strings.HasPrefix(n, "update"), strings.HasPrefix(n, "edit"):
		return http.MethodPut, model.BodyJSON
	case strings.HasPrefix(n, "patch"):
		return http.MethodPatch, model.BodyJSON
	case strings.HasPrefix(n, "delete"), strings.HasPrefix(n, "remove"):
		return http.MethodDelete, model.BodyNone
	default:
		return http.MethodGet, model.BodyNone
	}
}
