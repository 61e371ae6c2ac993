package model

// Standard endpoint names recognised in ServiceConfig.API.Endpoints.
const (
	EndpointList   = "list"
	EndpointGet    = "get"
	EndpointCreate = "create"
	EndpointUpdate = "update"
	EndpointDelete = "delete"
)

// Body types an Operation may carry.
const (
	BodyNone = "none"
	BodyJSON = "json"
)

// ServiceConfig describes one manageable resource type: its API, its field
// schema, and the capabilities the dashboard exposes for it.
type ServiceConfig struct {
	Code         string            `yaml:"code"          json:"code"`
	DisplayName  string            `yaml:"display_name"  json:"displayName"`
	Description  string            `yaml:"description"   json:"description,omitempty"`
	Icon         string            `yaml:"icon"          json:"icon,omitempty"`
	Category     string            `yaml:"category"      json:"category,omitempty"`
	DisplayOrder int               `yaml:"display_order" json:"displayOrder"`
	Enabled      bool              `yaml:"enabled"       json:"enabled"`
	API          APIConfig         `yaml:"api"           json:"api"`
	Fields       []FieldDefinition `yaml:"fields"        json:"fields"`
	Features     Features          `yaml:"features"      json:"features"`
}

// APIConfig holds a resource's base URL and its named endpoint path templates.
type APIConfig struct {
	BaseURL   string            `yaml:"base_url"  json:"baseUrl"`
	Endpoints map[string]string `yaml:"endpoints" json:"endpoints"`
}

// Features are the capability flags a resource enables in the dashboard.
type Features struct {
	Create      bool `yaml:"create"       json:"create"`
	Update      bool `yaml:"update"       json:"update"`
	Delete      bool `yaml:"delete"       json:"delete"`
	Search      bool `yaml:"search"       json:"search"`
	Filters     bool `yaml:"filters"      json:"filters"`
	Pagination  bool `yaml:"pagination"   json:"pagination"`
	BulkActions bool `yaml:"bulk_actions" json:"bulkActions"`
	Export      bool `yaml:"export"       json:"export"`
}

// Operation is a resolved call against a resource endpoint.
type Operation struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	BodyType string `json:"bodyType"`
}

// ParsedServiceConfig is a ServiceConfig with its endpoints translated into
// operations.
type ParsedServiceConfig struct {
	ServiceConfig
	Operations map[string]Operation `json:"operations"`
}

// Operation returns the named operation, if the config declares it.
func (p ParsedServiceConfig) Operation(name string) (Operation, bool) {
	op, ok := p.Operations[name]
	return op, ok
}
